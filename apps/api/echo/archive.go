package echoapi

import (
	"bytes"
	"net/http"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/archive"
	"github.com/trezcool/enrolla/services/excel"
)

var errNotASpreadsheet = "the file must be an xlsx spreadsheet"

type archiveApi struct {
	conf     *core.Config
	svc      archive.Service
	validate *validator.Validate
}

func registerArchiveAPI(g *echo.Group, jwt echo.MiddlewareFunc, opts *Options) {
	api := archiveApi{
		conf:     opts.Conf,
		svc:      opts.ArchiveSvc,
		validate: opts.Validate,
	}

	ag := g.Group("/archive", jwt, adminMiddleware())
	ag.POST("/import", api.importFile)
	ag.GET("", api.query)
	ag.GET("/export", api.export)
	ag.DELETE("", api.destroyMultiple)

	dg := ag.Group("/:id", api.recordMiddleware)
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
}

// Handlers

// importFile reads the `file` xlsx of a multipart form.
func (api *archiveApi) importFile(ctx echo.Context) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewFieldError("file", "a file is required")
	}
	if strings.ToLower(path.Ext(fh.Filename)) != ".xlsx" {
		return core.NewFieldError("file", errNotASpreadsheet)
	}
	if fh.Size > api.conf.MaxUploadSize {
		return core.NewFieldError("file", "file is too large")
	}

	file, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer file.Close()

	rows, err := excel.ReadArchiveRows(file)
	if err != nil {
		return core.NewFieldError("file", errNotASpreadsheet)
	}
	res, err := api.svc.Import(ctx.Request().Context(), rows)
	if err != nil {
		return errors.Wrap(err, "importing archive")
	}
	if res.Errors == nil {
		res.Errors = []archive.LineError{}
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *archiveApi) bindQuery(ctx echo.Context) (*archive.QueryFilter, []core.DBOrdering, error) {
	filter := new(archive.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return nil, nil, core.NewValidationError(errors.New("invalid filter"))
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)
	return filter, ordering.Orderings, nil
}

func (api *archiveApi) query(ctx echo.Context) error {
	filter, ordering, err := api.bindQuery(ctx)
	if err != nil {
		return ctx.JSON(http.StatusOK, []archive.Record{})
	}

	records, err := api.svc.Query(ctx.Request().Context(), filter, ordering)
	if err != nil {
		return errors.Wrap(err, "querying archive")
	}
	if records == nil {
		records = []archive.Record{}
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *archiveApi) export(ctx echo.Context) error {
	filter, ordering, err := api.bindQuery(ctx)
	if err != nil {
		return err
	}

	records, err := api.svc.Query(ctx.Request().Context(), filter, ordering)
	if err != nil {
		return errors.Wrap(err, "querying archive")
	}
	return sendXLSX(ctx, "archive", func(buf *bytes.Buffer) error {
		return excel.ExportArchive(buf, records)
	})
}

func (api *archiveApi) retrieve(ctx echo.Context) error {
	rec, ok := ctx.Get(contextObjectKey).(archive.Record)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving archive record from context")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *archiveApi) update(ctx echo.Context) error {
	rec, ok := ctx.Get(contextObjectKey).(archive.Record)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving archive record from context")
	}

	var data archive.UpdateRecord
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateRecord")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rec, err := api.svc.Update(ctx.Request().Context(), rec, data)
	if err != nil {
		return errors.Wrap(err, "updating archive record")
	}
	return ctx.JSON(http.StatusOK, rec)
}

func (api *archiveApi) destroy(ctx echo.Context) error {
	rec, ok := ctx.Get(contextObjectKey).(archive.Record)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving archive record from context")
	}
	if _, err := api.svc.Delete(ctx.Request().Context(), rec.ID); err != nil {
		return errors.Wrap(err, "deleting archive record")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *archiveApi) destroyMultiple(ctx echo.Context) error {
	var query DestroyMultipleRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if query.IDs == nil {
		return ctx.JSON(http.StatusOK, CountResponse{})
	}

	n, err := api.svc.Delete(ctx.Request().Context(), query.IDs...)
	if err != nil {
		return errors.Wrap(err, "deleting archive records")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: n})
}

func (api *archiveApi) recordMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		rec, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == archive.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding archive record by ID")
		}
		ctx.Set(contextObjectKey, rec)
		return next(ctx)
	}
}
