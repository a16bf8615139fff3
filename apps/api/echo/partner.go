package echoapi

import (
	"bytes"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/course"
	"github.com/trezcool/enrolla/core/partner"
	"github.com/trezcool/enrolla/core/user"
	"github.com/trezcool/enrolla/services/excel"
)

// companyTreeOf returns the ID of the partner's company followed by those of its sub-companies.
func companyTreeOf(ctx echo.Context, svc partner.Service, usr user.User) ([]string, error) {
	if !usr.IsPartner() || !usr.PartnerCompanyID.Valid {
		return nil, nil
	}
	ids, err := svc.TreeIDs(ctx.Request().Context(), usr.PartnerCompanyID.String)
	if err != nil {
		if errors.Cause(err) == partner.ErrNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, "finding partner company tree")
	}
	return ids, nil
}

// canAccessCompany reports whether usr is an admin or a partner of the tree companyID belongs to.
func canAccessCompany(ctx echo.Context, svc partner.Service, usr user.User, companyID string) (bool, error) {
	if usr.IsAdmin() {
		return true, nil
	}
	tree, err := companyTreeOf(ctx, svc, usr)
	if err != nil {
		return false, err
	}
	return core.StringInSlice(companyID, tree), nil
}

type partnerApi struct {
	svc       partner.Service
	userSvc   user.Service
	courseSvc course.Service
	validate  *validator.Validate
}

func registerPartnerAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := partnerApi{
		svc:       opts.PartnerSvc,
		userSvc:   opts.UserSvc,
		courseSvc: opts.CourseSvc,
		validate:  opts.Validate,
	}

	pg := g.Group("/partners", jwt)
	pg.GET("/companies", api.queryCompanies, adminMiddleware())
	pg.POST("/companies", api.createCompany, adminMiddleware())
	pg.GET("/tree", api.tree, adminMiddleware())

	// detail endpoints
	cg := pg.Group("/companies/:id", api.companyMiddleware)
	cg.GET("", api.retrieveCompany)
	cg.PUT("", api.updateCompany, adminMiddleware())
	cg.DELETE("", api.destroyCompany, adminMiddleware())
	cg.GET("/offers", api.queryOffers, adminMiddleware())
	cg.POST("/offers", api.createOffer, adminMiddleware())
	cg.GET("/stats", api.stats)
	cg.GET("/stats/export", api.exportStats)
	cg.GET("/commissions", api.commissions)

	og := pg.Group("/offers/:id", adminMiddleware(), api.offerMiddleware)
	og.PUT("", api.updateOffer)
	og.DELETE("", api.destroyOffer)
}

// Handlers

func (api *partnerApi) createCompany(ctx echo.Context) error {
	var data partner.NewCompany
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCompany")
	}
	if err := data.Validate(ctx.Request().Context(), api.validate, api.svc); err != nil {
		return err
	}

	company, err := api.svc.CreateCompany(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating partner company")
	}
	return ctx.JSON(http.StatusCreated, company)
}

func (api *partnerApi) queryCompanies(ctx echo.Context) error {
	filter := new(partner.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []partner.Company{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	companies, err := api.svc.QueryCompanies(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying partner companies")
	}
	if companies == nil {
		companies = []partner.Company{}
	}
	return ctx.JSON(http.StatusOK, companies)
}

func (api *partnerApi) tree(ctx echo.Context) error {
	roots, err := api.svc.Tree(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "building partner tree")
	}
	if roots == nil {
		roots = []*partner.CompanyNode{}
	}
	return ctx.JSON(http.StatusOK, roots)
}

func (api *partnerApi) retrieveCompany(ctx echo.Context) error {
	company, ok := ctx.Get(contextObjectKey).(partner.Company)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving partner company from context")
	}
	return ctx.JSON(http.StatusOK, company)
}

func (api *partnerApi) updateCompany(ctx echo.Context) error {
	company, ok := ctx.Get(contextObjectKey).(partner.Company)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving partner company from context")
	}

	var data partner.UpdateCompany
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCompany")
	}
	if err := data.Validate(ctx.Request().Context(), company, api.validate, api.svc); err != nil {
		return err
	}

	company, err := api.svc.UpdateCompany(ctx.Request().Context(), company, data)
	if err != nil {
		return errors.Wrap(err, "updating partner company")
	}
	return ctx.JSON(http.StatusOK, company)
}

func (api *partnerApi) destroyCompany(ctx echo.Context) error {
	company, ok := ctx.Get(contextObjectKey).(partner.Company)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving partner company from context")
	}
	if err := api.svc.DeleteCompany(ctx.Request().Context(), company.ID); err != nil {
		return errors.Wrap(err, "deleting partner company")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *partnerApi) queryOffers(ctx echo.Context) error {
	company, ok := ctx.Get(contextObjectKey).(partner.Company)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving partner company from context")
	}

	offers, err := api.svc.QueryOffers(ctx.Request().Context(), company.ID)
	if err != nil {
		return errors.Wrap(err, "querying offers")
	}
	if offers == nil {
		offers = []partner.Offer{}
	}
	return ctx.JSON(http.StatusOK, offers)
}

func (api *partnerApi) createOffer(ctx echo.Context) error {
	company, ok := ctx.Get(contextObjectKey).(partner.Company)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving partner company from context")
	}

	var data partner.NewOffer
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewOffer")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	if _, err := api.courseSvc.GetByID(ctx.Request().Context(), data.CourseID); err != nil {
		if errors.Cause(err) == course.ErrNotFound {
			return core.NewFieldError("course_id", course.ErrNotFound.Error())
		}
		return errors.Wrap(err, "finding course by ID")
	}

	offer, err := api.svc.CreateOffer(ctx.Request().Context(), company.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating offer")
	}
	return ctx.JSON(http.StatusCreated, offer)
}

func (api *partnerApi) updateOffer(ctx echo.Context) error {
	offer, ok := ctx.Get(contextObjectKey).(partner.Offer)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving offer from context")
	}

	var data partner.UpdateOffer
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateOffer")
	}
	if err := data.Validate(offer, api.validate); err != nil {
		return err
	}

	offer, err := api.svc.UpdateOffer(ctx.Request().Context(), offer, data)
	if err != nil {
		return errors.Wrap(err, "updating offer")
	}
	return ctx.JSON(http.StatusOK, offer)
}

func (api *partnerApi) destroyOffer(ctx echo.Context) error {
	offer, ok := ctx.Get(contextObjectKey).(partner.Offer)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving offer from context")
	}
	if err := api.svc.DeleteOffer(ctx.Request().Context(), offer.ID); err != nil {
		return errors.Wrap(err, "deleting offer")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *partnerApi) bindStats(ctx echo.Context) (partner.Company, partner.StatsFilter, error) {
	var filter partner.StatsFilter
	company, ok := ctx.Get(contextObjectKey).(partner.Company)
	if !ok {
		return company, filter, errors.Wrap(errObjNotFoundInCtx, "retrieving partner company from context")
	}
	if err := ctx.Bind(&filter); err != nil {
		return company, filter, core.NewValidationError(errors.New("invalid stats filter"))
	}
	var err error
	if filter.From, filter.To, err = bindDateRange(ctx, "from", "to"); err != nil {
		return company, filter, err
	}
	return company, filter, nil
}

func (api *partnerApi) stats(ctx echo.Context) error {
	company, filter, err := api.bindStats(ctx)
	if err != nil {
		return err
	}
	stats, err := api.svc.Stats(ctx.Request().Context(), company.ID, filter)
	if err != nil {
		return errors.Wrap(err, "computing partner stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *partnerApi) exportStats(ctx echo.Context) error {
	company, filter, err := api.bindStats(ctx)
	if err != nil {
		return err
	}
	stats, err := api.svc.Stats(ctx.Request().Context(), company.ID, filter)
	if err != nil {
		return errors.Wrap(err, "computing partner stats")
	}
	return sendXLSX(ctx, "partner-stats", func(buf *bytes.Buffer) error {
		return excel.ExportPartnerStats(buf, company, stats)
	})
}

func (api *partnerApi) commissions(ctx echo.Context) error {
	company, filter, err := api.bindStats(ctx)
	if err != nil {
		return err
	}
	lines, err := api.svc.Commissions(ctx.Request().Context(), company.ID, filter)
	if err != nil {
		return errors.Wrap(err, "computing commissions")
	}
	if lines == nil {
		lines = []partner.CommissionLine{}
	}
	return ctx.JSON(http.StatusOK, lines)
}

// companyMiddleware puts the company in context for admins and partners of its tree.
func (api *partnerApi) companyMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		ctxUsr, err := getContextUser(ctx, api.userSvc)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}

		company, err := api.svc.GetCompany(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == partner.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding partner company by ID")
		}
		allowed, err := canAccessCompany(ctx, api.svc, ctxUsr, company.ID)
		if err != nil {
			return err
		}
		if !allowed {
			return errHttpNotFound
		}
		ctx.Set(contextObjectKey, company)
		return next(ctx)
	}
}

func (api *partnerApi) offerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		offer, err := api.svc.GetOffer(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == partner.ErrOfferNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding offer by ID")
		}
		ctx.Set(contextObjectKey, offer)
		return next(ctx)
	}
}
