package echoapi

import (
	"bytes"
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/catalog"
	"github.com/trezcool/divecert/core/evaluation"
	"github.com/trezcool/divecert/core/user"
	"github.com/trezcool/divecert/services/export"
)

type (
	evaluationApiDeps struct {
		svc        evaluation.Service
		catalogSvc catalog.Service
		usrSvc     user.Service
		mailSvc    core.EmailService
		validate   *validator.Validate
	}

	evaluationApi struct {
		evaluationApiDeps
		auth *authenticator
	}
)

func registerEvaluationAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *authenticator, deps evaluationApiDeps) {
	api := evaluationApi{evaluationApiDeps: deps, auth: auth}

	eg := g.Group("/evaluations", jwt)
	eg.POST("", api.create, staffMiddleware)
	eg.GET("", api.query)
	eg.GET("/export", api.export, staffMiddleware)
	eg.POST("/export/email", api.emailExport, staffMiddleware)
	eg.GET("/:id", api.retrieve)
	eg.DELETE("/:id", api.destroy, adminMiddleware())

	xg := g.Group("/external-tests", jwt)
	xg.GET("", api.queryExternalTests, staffMiddleware)
	xg.GET("/:studentId", api.retrieveExternalTest)
	xg.PUT("/:studentId", api.upsertExternalTest, staffMiddleware)
}

func (api *evaluationApi) create(ctx echo.Context) error {
	var data evaluation.NewEvaluation
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEvaluation")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	// evaluations default to the requesting instructor
	if data.InstructorID == "" {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context claims")
		}
		if claims.IsInstructor {
			data.InstructorID = claims.Subject
		}
	}

	ev, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating evaluation")
	}
	return ctx.JSON(http.StatusCreated, ev)
}

// queryFilter binds the evaluation filter; students only see their own evaluations.
func (api *evaluationApi) queryFilter(ctx echo.Context) (*evaluation.QueryFilter, error) {
	q := newQueryParams(ctx)
	filter := &evaluation.QueryFilter{
		SubjectID:    q.Int64("subject_id"),
		StudentID:    q.String("student_id"),
		InstructorID: q.String("instructor_id"),
		Mode:         q.String("mode"),
		IsPassing:    q.Bool("is_passing"),
		From:         q.Time("from"),
		To:           q.Time("to"),
	}
	if err := q.Err(); err != nil {
		return nil, err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getting context claims")
	}
	if !claims.isStaff() {
		filter.StudentID = claims.Subject
	}
	return filter, nil
}

func (api *evaluationApi) query(ctx echo.Context) error {
	filter, err := api.queryFilter(ctx)
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	evals, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying evaluations")
	}
	if evals == nil {
		evals = []evaluation.Evaluation{}
	}
	return ctx.JSON(http.StatusOK, evals)
}

// report renders the filtered evaluations as an xlsx workbook.
func (api *evaluationApi) report(ctx echo.Context) (*bytes.Buffer, int, error) {
	filter, err := api.queryFilter(ctx)
	if err != nil {
		return nil, 0, err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	reqCtx := ctx.Request().Context()
	evals, err := api.svc.Query(reqCtx, filter, ordering.Orderings)
	if err != nil {
		return nil, 0, errors.Wrap(err, "querying evaluations")
	}

	subjects, err := api.catalogSvc.Subjects(reqCtx)
	if err != nil {
		return nil, 0, errors.Wrap(err, "querying subjects")
	}
	users, err := api.usrSvc.Query(reqCtx, nil, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "querying users")
	}
	names := export.Names{
		Users:    make(map[string]string, len(users)),
		Subjects: make(map[int64]string, len(subjects)),
	}
	for _, usr := range users {
		names.Users[usr.ID] = usr.Name
	}
	for _, subj := range subjects {
		names.Subjects[subj.ID] = subj.Name
	}

	var buf bytes.Buffer
	if err = export.WriteEvaluations(&buf, evals, names); err != nil {
		return nil, 0, errors.Wrap(err, "exporting evaluations")
	}
	return &buf, len(evals), nil
}

func reportFilename() string {
	return fmt.Sprintf("evaluations-%s.xlsx", time.Now().UTC().Format("20060102"))
}

func (api *evaluationApi) export(ctx echo.Context) error {
	buf, _, err := api.report(ctx)
	if err != nil {
		return err
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", reportFilename()))
	return ctx.Blob(http.StatusOK, export.ContentType, buf.Bytes())
}

// emailExport sends the report to the requesting user.
func (api *evaluationApi) emailExport(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if usr.Email == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "email", Error: "your account has no email address"})
	}

	buf, count, err := api.report(ctx)
	if err != nil {
		return err
	}

	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Evaluations report",
		TemplateName: "evaluations_export",
		TemplateData: map[string]interface{}{
			"Name":        usr.Name,
			"Count":       count,
			"GeneratedAt": time.Now().UTC().Format(time.RFC1123),
		},
	}
	if err = msg.Attach(buf, reportFilename(), export.ContentType); err != nil {
		return errors.Wrap(err, "attaching report")
	}
	api.mailSvc.SendMessages(msg)

	return ctx.JSON(http.StatusAccepted, SuccessResponse{Success: "The report will arrive in your inbox shortly."})
}

func (api *evaluationApi) retrieve(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	ev, err := api.svc.Get(ctx.Request().Context(), id)
	if err != nil {
		return errors.Wrap(err, "finding evaluation")
	}
	if !claims.isStaff() && ev.StudentID != claims.Subject {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, ev)
}

func (api *evaluationApi) destroy(ctx echo.Context) error {
	id, err := paramID(ctx, "id")
	if err != nil {
		return err
	}
	if _, err = api.svc.Get(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "finding evaluation")
	}
	if err = api.svc.Delete(ctx.Request().Context(), id); err != nil {
		return errors.Wrap(err, "deleting evaluation")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// External tests

func (api *evaluationApi) queryExternalTests(ctx echo.Context) error {
	tests, err := api.svc.QueryExternalTests(ctx.Request().Context(), newQueryParams(ctx).Strings("student_id")...)
	if err != nil {
		return errors.Wrap(err, "querying external tests")
	}
	if tests == nil {
		tests = []evaluation.ExternalTest{}
	}
	return ctx.JSON(http.StatusOK, tests)
}

func (api *evaluationApi) retrieveExternalTest(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	studentID := ctx.Param("studentId")
	if !claims.isStaff() && studentID != claims.Subject {
		return errHttpNotFound
	}

	et, err := api.svc.GetExternalTest(ctx.Request().Context(), studentID)
	if err != nil {
		return errors.Wrap(err, "finding external test")
	}
	return ctx.JSON(http.StatusOK, et)
}

func (api *evaluationApi) upsertExternalTest(ctx echo.Context) error {
	var data evaluation.ExternalScores
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ExternalScores")
	}

	et, err := api.svc.UpsertExternalTest(ctx.Request().Context(), ctx.Param("studentId"), data)
	if err != nil {
		return errors.Wrap(err, "saving external test")
	}
	return ctx.JSON(http.StatusOK, et)
}
