package echoapi

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/services/excel"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	data := ctx.QueryParams()
	if len(data) == 0 {
		return
	}
	val, ok := data[orderingParam]
	if !ok || len(val) == 0 || val[0] == "" {
		return
	}

	for _, field := range strings.Split(val[0], ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// bindDuration reads a duration query param such as `72h`; def when absent.
func bindDuration(ctx echo.Context, param string, def time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(ctx.QueryParam(param))
	if val == "" {
		return def, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return 0, core.NewFieldError(param, "must be a positive duration, e.g. 72h")
	}
	return d, nil
}

// bindDate reads a `2006-01-02` (or RFC 3339) query param; def when absent.
func bindDate(ctx echo.Context, param string, def time.Time) (time.Time, error) {
	t, _, err := parseDateParam(ctx, param, def)
	return t, err
}

func parseDateParam(ctx echo.Context, param string, def time.Time) (t time.Time, dateOnly bool, err error) {
	val := strings.TrimSpace(ctx.QueryParam(param))
	if val == "" {
		return def, false, nil
	}
	if t, err = time.Parse("2006-01-02", val); err == nil {
		return t.UTC(), true, nil
	}
	if t, err = time.Parse(time.RFC3339, val); err == nil {
		return t.UTC(), false, nil
	}
	return time.Time{}, false, core.NewFieldError(param, "must be a date, e.g. 2006-01-02")
}

// bindDateRange reads the date query params of a filter; echo only binds time.Time fields from bodies.
// A date-only upper bound includes the whole day.
func bindDateRange(ctx echo.Context, fromParam, toParam string) (from, to time.Time, err error) {
	if from, err = bindDate(ctx, fromParam, time.Time{}); err != nil {
		return
	}
	var dateOnly bool
	if to, dateOnly, err = parseDateParam(ctx, toParam, time.Time{}); err != nil {
		return
	}
	if dateOnly {
		to = endOfDay(to)
	}
	return
}

// endOfDay is the last microsecond of day, the precision of postgres timestamps.
func endOfDay(day time.Time) time.Time {
	return day.AddDate(0, 0, 1).Add(-time.Microsecond)
}

// sendXLSX buffers the workbook so that write errors still produce a proper error response.
func sendXLSX(ctx echo.Context, name string, write func(buf *bytes.Buffer) error) error {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		return errors.Wrap(err, "writing workbook")
	}
	filename := name + "-" + core.NowFunc().Format("20060102") + ".xlsx"
	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return ctx.Blob(http.StatusOK, excel.ContentType, buf.Bytes())
}

type (
	SuccessResponse struct {
		Success string `json:"success"`
	}

	CountResponse struct {
		Count int `json:"count"`
	}

	DestroyMultipleRequest struct {
		IDs []string `query:"id"`
	}
)
