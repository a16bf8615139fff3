package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware(t *testing.T) {
	c := NewCollector()
	e := echo.New()
	e.Use(c.Middleware())
	e.GET("/v1/courses/:id", func(ctx echo.Context) error { return ctx.NoContent(http.StatusOK) })
	e.GET("/v1/fail", func(ctx echo.Context) error { return echo.ErrForbidden })

	for _, path := range []string{"/v1/courses/1", "/v1/courses/2", "/v1/fail"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(c.requests.WithLabelValues("GET", "/v1/courses/:id", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.requests.WithLabelValues("GET", "/v1/fail", "403")))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.inFlight))

	rec := httptest.NewRecorder()
	Handler(NewRegistry(c)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "enrolla_http_requests_total"))
}
