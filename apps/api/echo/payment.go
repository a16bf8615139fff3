package echoapi

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/course"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/core/user"
	"github.com/trezcool/enrolla/services/excel"
)

type paymentApi struct {
	svc             payment.Service
	registrationSvc registration.Service
	userSvc         user.Service
	courseSvc       course.Service
	validate        *validator.Validate
}

func registerPaymentAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := paymentApi{
		svc:             opts.PaymentSvc,
		registrationSvc: opts.RegistrationSvc,
		userSvc:         opts.UserSvc,
		courseSvc:       opts.CourseSvc,
		validate:        opts.Validate,
	}

	pg := g.Group("/payments", jwt, adminMiddleware())
	pg.GET("/deadlines", api.query)
	pg.GET("/deadlines/export", api.export)
	pg.GET("/overdue", api.overdue)
	pg.POST("/deadlines/:id/pay", api.pay)
}

// Handlers

func (api *paymentApi) query(ctx echo.Context) error {
	filter := new(payment.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []payment.Deadline{})
	}
	at, err := bindDate(ctx, "overdue_at", time.Time{})
	if err != nil {
		return err
	}
	filter.OverdueAt = at

	deadlines, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying deadlines")
	}
	if deadlines == nil {
		deadlines = []payment.Deadline{}
	}
	return ctx.JSON(http.StatusOK, deadlines)
}

func (api *paymentApi) export(ctx echo.Context) error {
	filter := new(payment.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return core.NewValidationError(errors.New("invalid filter"))
	}
	at, err := bindDate(ctx, "overdue_at", time.Time{})
	if err != nil {
		return err
	}
	filter.OverdueAt = at

	deadlines, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying deadlines")
	}
	rows, err := api.deadlineRows(ctx.Request().Context(), deadlines)
	if err != nil {
		return err
	}
	return sendXLSX(ctx, "deadlines", func(buf *bytes.Buffer) error {
		return excel.ExportDeadlines(buf, rows)
	})
}

// deadlineRows resolves the student and course of each deadline.
func (api *paymentApi) deadlineRows(ctx context.Context, deadlines []payment.Deadline) ([]excel.DeadlineRow, error) {
	type names struct{ student, course string }
	cache := make(map[string]names)

	rows := make([]excel.DeadlineRow, 0, len(deadlines))
	for _, d := range deadlines {
		n, ok := cache[d.RegistrationID]
		if !ok {
			reg, err := api.registrationSvc.GetByID(ctx, d.RegistrationID)
			if err != nil && errors.Cause(err) != registration.ErrNotFound {
				return nil, errors.Wrap(err, "finding registration by ID")
			}
			if err == nil {
				usr, err := api.userSvc.GetByID(ctx, reg.UserID)
				if err != nil && errors.Cause(err) != user.ErrNotFound {
					return nil, errors.Wrap(err, "finding user by ID")
				}
				crs, err := api.courseSvc.GetByID(ctx, reg.CourseID)
				if err != nil && errors.Cause(err) != course.ErrNotFound {
					return nil, errors.Wrap(err, "finding course by ID")
				}
				n = names{student: usr.Name, course: crs.Title}
			}
			cache[d.RegistrationID] = n
		}
		rows = append(rows, excel.DeadlineRow{Deadline: d, StudentName: n.student, CourseTitle: n.course})
	}
	return rows, nil
}

// overdue lists the unpaid deadlines due before the `at` day (today by default).
func (api *paymentApi) overdue(ctx echo.Context) error {
	at, err := bindDate(ctx, "at", core.NowFunc())
	if err != nil {
		return err
	}
	deadlines, err := api.svc.Overdue(ctx.Request().Context(), at)
	if err != nil {
		return errors.Wrap(err, "querying overdue deadlines")
	}
	if deadlines == nil {
		deadlines = []payment.Deadline{}
	}
	return ctx.JSON(http.StatusOK, deadlines)
}

func (api *paymentApi) pay(ctx echo.Context) error {
	d, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == payment.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding deadline by ID")
	}

	var data payment.Payment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Payment")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	d, err = api.svc.MarkPaid(ctx.Request().Context(), d, data)
	if err != nil {
		return errors.Wrap(err, "marking deadline paid")
	}
	return ctx.JSON(http.StatusOK, d)
}
