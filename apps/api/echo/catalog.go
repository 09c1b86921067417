package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/divecert/core/catalog"
	"github.com/trezcool/divecert/core/evaluation"
)

type catalogApi struct {
	svc      catalog.Service
	evalSvc  evaluation.Service
	validate *validator.Validate
}

func registerCatalogAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc catalog.Service, evalSvc evaluation.Service, validate *validator.Validate) {
	api := catalogApi{svc: svc, evalSvc: evalSvc, validate: validate}

	sg := g.Group("/subjects", jwt)
	sg.GET("", api.querySubjects)
	sg.GET("/:id", api.retrieveSubject)

	g.POST("/scoring/preview", api.preview, jwt)
}

func (api *catalogApi) querySubjects(ctx echo.Context) error {
	subjects, err := api.svc.Subjects(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying subjects")
	}
	if subjects == nil {
		subjects = []catalog.Subject{}
	}
	return ctx.JSON(http.StatusOK, subjects)
}

func (api *catalogApi) retrieveSubject(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	subj, err := api.svc.GetSubject(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "finding subject")
	}
	return ctx.JSON(http.StatusOK, subj)
}

// preview scores a subject without recording an evaluation.
func (api *catalogApi) preview(ctx echo.Context) error {
	var data PreviewRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PreviewRequest")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	verdict, err := api.evalSvc.Preview(ctx.Request().Context(), data.SubjectID, data.Scores)
	if err != nil {
		return errors.Wrap(err, "previewing verdict")
	}
	return ctx.JSON(http.StatusOK, verdict)
}

type PreviewRequest struct {
	SubjectID int64                   `json:"subject_id" validate:"required"`
	Scores    []evaluation.ScoreInput `json:"scores" validate:"required,min=1,dive"`
}
