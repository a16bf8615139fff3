package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/document"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/core/user"
)

type documentApi struct {
	conf            *core.Config
	svc             document.Service
	userSvc         user.Service
	registrationSvc registration.Service
	validate        *validator.Validate
}

func registerDocumentAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := documentApi{
		conf:            opts.Conf,
		svc:             opts.DocumentSvc,
		userSvc:         opts.UserSvc,
		registrationSvc: opts.RegistrationSvc,
		validate:        opts.Validate,
	}
	// leaves room for the multipart envelope; the file size itself is validated with the document
	bodyLimit := middleware.BodyLimit(strconv.FormatInt(opts.Conf.MaxUploadSize>>10+1024, 10) + "K")

	dg := g.Group("/documents", jwt)
	dg.POST("", api.upload, bodyLimit)
	dg.GET("", api.query)

	og := dg.Group("/:id", api.documentMiddleware)
	og.GET("", api.retrieve)
	og.GET("/download", api.download)
	og.DELETE("", api.destroy)
	og.PUT("/review", api.review, adminMiddleware())
}

// Handlers

// upload reads a multipart form: `file`, `kind`, and optionally `registration_id` and `user_id` (admins only).
func (api *documentApi) upload(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	data := document.NewDocument{
		UserID: ctxUsr.ID,
		Kind:   core.CleanString(ctx.FormValue("kind"), true /* lower */),
	}
	if uid := core.CleanString(ctx.FormValue("user_id")); uid != "" && uid != ctxUsr.ID {
		if !ctxUsr.IsAdmin() {
			return errHttpForbidden
		}
		if _, err = api.userSvc.GetByID(ctx.Request().Context(), uid); err != nil {
			if errors.Cause(err) == user.ErrNotFound {
				return core.NewFieldError("user_id", user.ErrNotFound.Error())
			}
			return errors.Wrap(err, "finding user by ID")
		}
		data.UserID = uid
	}
	if regID := core.CleanString(ctx.FormValue("registration_id")); regID != "" {
		reg, err := api.registrationSvc.GetByID(ctx.Request().Context(), regID)
		if err != nil && errors.Cause(err) != registration.ErrNotFound {
			return errors.Wrap(err, "finding registration by ID")
		}
		if err != nil || reg.UserID != data.UserID {
			return core.NewFieldError("registration_id", registration.ErrNotFound.Error())
		}
		data.RegistrationID = null.StringFrom(reg.ID)
	}

	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewFieldError("file", "a file is required")
	}
	data.Filename = fh.Filename
	data.ContentType = fh.Header.Get(echo.HeaderContentType)
	data.Size = fh.Size
	if err = data.Validate(api.validate, api.conf.MaxUploadSize); err != nil {
		return err
	}

	file, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer file.Close()

	doc, err := api.svc.Upload(ctx.Request().Context(), data, file)
	if err != nil {
		return errors.Wrap(err, "uploading document")
	}
	return ctx.JSON(http.StatusCreated, doc)
}

// query lists the context user's documents; admins may list anyone's.
func (api *documentApi) query(ctx echo.Context) error {
	filter := new(document.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []document.Document{})
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() {
		filter.UserID = ctxUsr.ID
	}

	docs, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying documents")
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return ctx.JSON(http.StatusOK, docs)
}

func (api *documentApi) retrieve(ctx echo.Context) error {
	doc, ok := ctx.Get(contextObjectKey).(document.Document)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving document from context")
	}
	return ctx.JSON(http.StatusOK, doc)
}

func (api *documentApi) download(ctx echo.Context) error {
	doc, ok := ctx.Get(contextObjectKey).(document.Document)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving document from context")
	}

	url, err := api.svc.DownloadURL(ctx.Request().Context(), doc)
	if err != nil {
		if errors.Cause(err) == document.ErrNoFile {
			return echo.NewHTTPError(http.StatusNotFound, document.ErrNoFile.Error())
		}
		return errors.Wrap(err, "presigning download URL")
	}
	return ctx.JSON(http.StatusOK, DownloadResponse{URL: url})
}

func (api *documentApi) review(ctx echo.Context) error {
	doc, ok := ctx.Get(contextObjectKey).(document.Document)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving document from context")
	}

	var data document.Review
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Review")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	doc, err = api.svc.Review(ctx.Request().Context(), doc, data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "reviewing document")
	}
	return ctx.JSON(http.StatusOK, doc)
}

// destroy lets owners delete their documents until they are approved.
func (api *documentApi) destroy(ctx echo.Context) error {
	doc, ok := ctx.Get(contextObjectKey).(document.Document)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving document from context")
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !ctxUsr.IsAdmin() && doc.Status == document.StatusApproved {
		return errHttpForbidden
	}

	if err = api.svc.Delete(ctx.Request().Context(), doc); err != nil {
		return errors.Wrap(err, "deleting document")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// documentMiddleware puts the document in context for its owner and admins.
func (api *documentApi) documentMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		ctxUsr, err := getContextUser(ctx, api.userSvc)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}

		doc, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == document.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding document by ID")
		}
		if doc.UserID != ctxUsr.ID && !ctxUsr.IsAdmin() {
			return errHttpNotFound
		}
		ctx.Set(contextObjectKey, doc)
		return next(ctx)
	}
}

type DownloadResponse struct {
	URL string `json:"url"`
}
