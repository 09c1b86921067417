package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/divecert/core/course"
)

type courseApi struct {
	svc      course.Service
	validate *validator.Validate
}

func registerCourseAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc course.Service, validate *validator.Validate) {
	api := courseApi{svc: svc, validate: validate}

	cg := g.Group("/courses", jwt)
	cg.POST("", api.create, adminMiddleware())
	cg.GET("", api.query)

	dg := cg.Group("/:id", api.objectMiddleware)
	dg.GET("", api.retrieve)
	dg.DELETE("", api.destroy, adminMiddleware())
	dg.POST("/enrollments", api.enroll, adminMiddleware())
	dg.GET("/enrollments", api.enrollments, staffMiddleware)
	dg.POST("/lessons", api.scheduleLesson, staffMiddleware)
	dg.GET("/lessons", api.lessons)
}

func (api *courseApi) create(ctx echo.Context) error {
	var data course.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	c, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *courseApi) query(ctx echo.Context) error {
	q := newQueryParams(ctx)
	filter := &course.QueryFilter{
		Search:    q.String("search"),
		StudentID: q.String("student_id"),
		Active:    q.Bool("active"),
	}
	if err := q.Err(); err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	courses, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) object(ctx echo.Context) (course.Course, error) {
	c, ok := ctx.Get("object").(course.Course)
	if !ok {
		return course.Course{}, errors.New("course object not found in echo.Context")
	}
	return c, nil
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	c, err := api.object(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *courseApi) destroy(ctx echo.Context) error {
	c, err := api.object(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), c.ID); err != nil {
		return errors.Wrap(err, "deleting course")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) enroll(ctx echo.Context) error {
	c, err := api.object(ctx)
	if err != nil {
		return err
	}
	var data course.NewEnrollment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEnrollment")
	}
	if err = api.validate.Struct(&data); err != nil {
		return err
	}

	e, err := api.svc.Enroll(ctx.Request().Context(), c.ID, data.StudentID)
	if err != nil {
		return errors.Wrap(err, "enrolling student")
	}
	return ctx.JSON(http.StatusCreated, e)
}

func (api *courseApi) enrollments(ctx echo.Context) error {
	c, err := api.object(ctx)
	if err != nil {
		return err
	}
	enrollments, err := api.svc.Enrollments(ctx.Request().Context(), c.ID)
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	if enrollments == nil {
		enrollments = []course.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrollments)
}

func (api *courseApi) scheduleLesson(ctx echo.Context) error {
	c, err := api.object(ctx)
	if err != nil {
		return err
	}
	var data course.NewLesson
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLesson")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	l, err := api.svc.ScheduleLesson(ctx.Request().Context(), c.ID, data)
	if err != nil {
		return errors.Wrap(err, "scheduling lesson")
	}
	return ctx.JSON(http.StatusCreated, l)
}

func (api *courseApi) lessons(ctx echo.Context) error {
	c, err := api.object(ctx)
	if err != nil {
		return err
	}
	lessons, err := api.svc.Lessons(ctx.Request().Context(), c.ID)
	if err != nil {
		return errors.Wrap(err, "querying lessons")
	}
	if lessons == nil {
		lessons = []course.Lesson{}
	}
	return ctx.JSON(http.StatusOK, lessons)
}

// objectMiddleware puts the course of the `:id` path param in the context.
func (api *courseApi) objectMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := paramID(ctx, "id")
		if err != nil {
			return err
		}
		c, err := api.svc.Get(ctx.Request().Context(), id)
		if err != nil {
			return errors.Wrap(err, "finding course")
		}
		ctx.Set("object", c)
		return next(ctx)
	}
}
