package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type sampleRequest struct {
	Symbol string  `json:"symbol" validate:"required"`
	Limit  int     `json:"limit" default:"50" validate:"gte=1,lte=500"`
	Score  float64 `json:"score" validate:"gte=-1,lte=1"`
}

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return SuccessResponse(c, "pong") })
	e.GET("/boom", func(c echo.Context) error { panic("boom") })
	e.GET("/missing", func(c echo.Context) error {
		return AppErrorResponse(c, NotFoundError("no such symbol"))
	})
}

func TestReadAndValidateRequestDefaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"symbol":"BTCUSDT"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	var r sampleRequest
	if errs := ReadAndValidateRequest(c, &r); errs != nil {
		t.Fatalf("unexpected errors %+v", errs)
	}
	if r.Limit != 50 {
		t.Fatalf("limit default not applied: %d", r.Limit)
	}
}

func TestReadAndValidateRequestErrors(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"score":3}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	errs, ok := ReadAndValidateRequest(c, &sampleRequest{}).([]ValidationError)
	if !ok || len(errs) != 2 {
		t.Fatalf("expected two validation errors, got %+v", errs)
	}
	codes := map[string]bool{}
	for _, e := range errs {
		codes[e.Code] = true
	}
	if !codes["ERR_REQUIRED"] || !codes["ERR_LTE"] {
		t.Fatalf("unexpected codes %v", codes)
	}
}

func TestServerRoutesAndRecovery(t *testing.T) {
	s := NewServer(nil, []Handler{pingHandler{}}, WithMetricsPath(""))

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	var body APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || body.Data != "pong" {
		t.Fatalf("got %d %+v", rec.Code, body)
	}

	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("panic status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("app error status = %d", rec.Code)
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	base := errors.New("db down")
	err := InternalError("query failed").WithError(base)
	if !errors.Is(err, base) {
		t.Fatalf("AppError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "db down") {
		t.Fatalf("message = %q", err.Error())
	}
}
