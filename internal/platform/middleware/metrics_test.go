package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetrics_RecordsRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/tenant-context/forms/:entity", func(c echo.Context) error {
		if c.Param("entity") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "form missing not found")
		}
		return c.NoContent(http.StatusOK)
	})

	for _, entity := range []string{"patient", "appointment", "missing"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tenant-context/forms/"+entity, nil))
	}

	route := "/api/v1/tenant-context/forms/:entity"
	if got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, route, "200")); got != 2 {
		t.Errorf("expected 2 successful requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, route, "404")); got != 1 {
		t.Errorf("expected 1 not-found request, got %v", got)
	}
	if got := testutil.ToFloat64(m.statuses.WithLabelValues("4xx")); got != 1 {
		t.Errorf("expected 1 4xx response, got %v", got)
	}
	if n := testutil.CollectAndCount(m.duration); n != 1 {
		t.Errorf("expected one duration series, got %d", n)
	}
}

func TestStatusCategory(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 304: "3xx", 404: "4xx", 422: "4xx", 500: "5xx", 504: "5xx"}
	for status, want := range tests {
		if got := statusCategory(status); got != want {
			t.Errorf("statusCategory(%d) = %s, want %s", status, got, want)
		}
	}
}
