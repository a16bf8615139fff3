package echoapi

import (
	"bytes"
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/course"
	"github.com/trezcool/enrolla/core/partner"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/core/user"
	"github.com/trezcool/enrolla/services/excel"
)

type registrationApi struct {
	svc        registration.Service
	userSvc    user.Service
	courseSvc  course.Service
	partnerSvc partner.Service
	paymentSvc payment.Service
	validate   *validator.Validate
}

func registerRegistrationAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := registrationApi{
		svc:        opts.RegistrationSvc,
		userSvc:    opts.UserSvc,
		courseSvc:  opts.CourseSvc,
		partnerSvc: opts.PartnerSvc,
		paymentSvc: opts.PaymentSvc,
		validate:   opts.Validate,
	}

	rg := g.Group("/registrations", jwt)
	rg.POST("", api.create)
	rg.GET("", api.query)
	rg.GET("/export", api.export, adminMiddleware())

	dg := rg.Group("/:id", api.registrationMiddleware)
	dg.GET("", api.retrieve)
	dg.DELETE("", api.destroy, adminMiddleware())
	dg.PUT("/status", api.changeStatus, adminMiddleware())
	dg.POST("/cancel", api.cancel)
	dg.GET("/deadlines", api.deadlines)
}

// Handlers

// create registers the context user, or any user when done by an admin.
func (api *registrationApi) create(ctx echo.Context) error {
	var data registration.NewRegistration
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRegistration")
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() {
		if !ctxUsr.IsStudent() {
			return errHttpForbidden
		}
		data.UserID = ctxUsr.ID
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	reg, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating registration")
	}
	return ctx.JSON(http.StatusCreated, reg)
}

// scopedFilter binds the query filter and restricts it to what the context user may see:
// admins see everything, partners their company tree and anyone else their own registrations.
// ok is false when nothing can match.
func (api *registrationApi) scopedFilter(ctx echo.Context) (filter *registration.QueryFilter, ok bool, err error) {
	filter = new(registration.QueryFilter)
	if err = ctx.Bind(filter); err != nil {
		return nil, false, nil
	}
	if filter.CreatedFrom, filter.CreatedTo, err = bindDateRange(ctx, "created_from", "created_to"); err != nil {
		return nil, false, err
	}
	filter.Clean()

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return nil, false, errors.Wrap(err, "getting context user")
	}
	switch {
	case ctxUsr.IsAdmin():
	case ctxUsr.IsPartner() && ctxUsr.PartnerCompanyID.Valid:
		tree, err := companyTreeOf(ctx, api.partnerSvc, ctxUsr)
		if err != nil {
			return nil, false, err
		}
		if len(filter.PartnerCompanyIDs) > 0 {
			var allowed []string
			for _, id := range filter.PartnerCompanyIDs {
				if core.StringInSlice(id, tree) {
					allowed = append(allowed, id)
				}
			}
			if len(allowed) == 0 {
				return nil, false, nil
			}
			filter.PartnerCompanyIDs = allowed
		} else {
			filter.PartnerCompanyIDs = tree
		}
	default:
		filter.UserID = ctxUsr.ID
	}
	return filter, true, nil
}

func (api *registrationApi) query(ctx echo.Context) error {
	filter, ok, err := api.scopedFilter(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ctx.JSON(http.StatusOK, []registration.Registration{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	regs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying registrations")
	}
	if regs == nil {
		regs = []registration.Registration{}
	}
	return ctx.JSON(http.StatusOK, regs)
}

func (api *registrationApi) export(ctx echo.Context) error {
	filter, ok, err := api.scopedFilter(ctx)
	if err != nil {
		return err
	}
	var regs []registration.Registration
	if ok {
		ordering := new(Ordering)
		ordering.Bind(ctx)
		if regs, err = api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings); err != nil {
			return errors.Wrap(err, "querying registrations")
		}
	}

	rows, err := api.registrationRows(ctx.Request().Context(), regs)
	if err != nil {
		return err
	}
	return sendXLSX(ctx, "registrations", func(buf *bytes.Buffer) error {
		return excel.ExportRegistrations(buf, rows)
	})
}

// registrationRows resolves the names the registrations refer to; deleted objects are left blank.
func (api *registrationApi) registrationRows(ctx context.Context, regs []registration.Registration) ([]excel.RegistrationRow, error) {
	users := make(map[string]user.User)
	courses := make(map[string]course.Course)
	companies := make(map[string]string)

	rows := make([]excel.RegistrationRow, 0, len(regs))
	for _, reg := range regs {
		usr, ok := users[reg.UserID]
		if !ok {
			var err error
			if usr, err = api.userSvc.GetByID(ctx, reg.UserID); err != nil && errors.Cause(err) != user.ErrNotFound {
				return nil, errors.Wrap(err, "finding user by ID")
			}
			users[reg.UserID] = usr
		}
		crs, ok := courses[reg.CourseID]
		if !ok {
			var err error
			if crs, err = api.courseSvc.GetByID(ctx, reg.CourseID); err != nil && errors.Cause(err) != course.ErrNotFound {
				return nil, errors.Wrap(err, "finding course by ID")
			}
			courses[reg.CourseID] = crs
		}
		var companyName string
		if reg.PartnerCompanyID.Valid {
			if companyName, ok = companies[reg.PartnerCompanyID.String]; !ok {
				company, err := api.partnerSvc.GetCompany(ctx, reg.PartnerCompanyID.String)
				if err != nil && errors.Cause(err) != partner.ErrNotFound {
					return nil, errors.Wrap(err, "finding partner company by ID")
				}
				companyName = company.Name
				companies[reg.PartnerCompanyID.String] = companyName
			}
		}
		rows = append(rows, excel.RegistrationRow{
			Registration: reg,
			StudentName:  usr.Name,
			StudentEmail: usr.Email,
			CourseCode:   crs.Code,
			CourseTitle:  crs.Title,
			CompanyName:  companyName,
		})
	}
	return rows, nil
}

func (api *registrationApi) retrieve(ctx echo.Context) error {
	reg, ok := ctx.Get(contextObjectKey).(registration.Registration)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving registration from context")
	}
	return ctx.JSON(http.StatusOK, reg)
}

func (api *registrationApi) changeStatus(ctx echo.Context) error {
	reg, ok := ctx.Get(contextObjectKey).(registration.Registration)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving registration from context")
	}

	var data registration.StatusChange
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StatusChange")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reg, err = api.svc.ChangeStatus(ctx.Request().Context(), reg, data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "changing registration status")
	}
	return ctx.JSON(http.StatusOK, reg)
}

// cancel is for the student who registered.
func (api *registrationApi) cancel(ctx echo.Context) error {
	reg, ok := ctx.Get(contextObjectKey).(registration.Registration)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving registration from context")
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if reg.UserID != ctxUsr.ID {
		return errHttpForbidden
	}

	reg, err = api.svc.Cancel(ctx.Request().Context(), reg, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "cancelling registration")
	}
	return ctx.JSON(http.StatusOK, reg)
}

func (api *registrationApi) destroy(ctx echo.Context) error {
	reg, ok := ctx.Get(contextObjectKey).(registration.Registration)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving registration from context")
	}
	if err := api.svc.Delete(ctx.Request().Context(), reg); err != nil {
		return errors.Wrap(err, "deleting registration")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// deadlines is for the student who registered and admins.
func (api *registrationApi) deadlines(ctx echo.Context) error {
	reg, ok := ctx.Get(contextObjectKey).(registration.Registration)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving registration from context")
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if reg.UserID != ctxUsr.ID && !ctxUsr.IsAdmin() {
		return errHttpForbidden
	}

	deadlines, err := api.paymentSvc.Query(ctx.Request().Context(), &payment.QueryFilter{RegistrationID: reg.ID})
	if err != nil {
		return errors.Wrap(err, "querying deadlines")
	}
	if deadlines == nil {
		deadlines = []payment.Deadline{}
	}
	summary, err := api.paymentSvc.Summary(ctx.Request().Context(), reg.ID)
	if err != nil {
		return errors.Wrap(err, "summarizing deadlines")
	}
	return ctx.JSON(http.StatusOK, RegistrationDeadlines{Summary: summary, Deadlines: deadlines})
}

// registrationMiddleware puts the registration in context when the user is its owner,
// a partner of its company tree or an admin.
func (api *registrationApi) registrationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		ctxUsr, err := getContextUser(ctx, api.userSvc)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}

		reg, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == registration.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding registration by ID")
		}

		allowed := ctxUsr.IsAdmin() || reg.UserID == ctxUsr.ID
		if !allowed && reg.PartnerCompanyID.Valid {
			if allowed, err = canAccessCompany(ctx, api.partnerSvc, ctxUsr, reg.PartnerCompanyID.String); err != nil {
				return err
			}
		}
		if !allowed {
			return errHttpNotFound
		}
		ctx.Set(contextObjectKey, reg)
		return next(ctx)
	}
}

type RegistrationDeadlines struct {
	Summary   payment.Summary    `json:"summary"`
	Deadlines []payment.Deadline `json:"deadlines"`
}
