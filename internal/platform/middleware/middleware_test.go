package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/odontoflow/esign/internal/platform/auth"
)

func invoke(t *testing.T, mw echo.MiddlewareFunc, req *http.Request) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	return rec, handler(c)
}

func TestRequestID_Generated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec, err := invoke(t, RequestID(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Error("response should carry a generated request id")
	}
}

func TestRequestID_Propagated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "caller-id-1")
	rec, err := invoke(t, RequestID(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(HeaderRequestID) != "caller-id-1" {
		t.Error("caller-supplied request id should be preserved")
	}
}

func TestRecovery(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic("boom")
	})
	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from recovered panic, got %v", err)
	}
}

func TestRateLimit_Exhaustion(t *testing.T) {
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if _, err := invoke(t, mw, req); err != nil {
			t.Fatalf("request %d should pass: %v", i+1, err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec, err := invoke(t, mw, req)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 should carry Retry-After")
	}
}

func TestAudit_RecordsAPIAccess(t *testing.T) {
	var got *AuditEntry
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		got = &entry
		return nil
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/signatures", nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "user-7")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"dentist"})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "rid-1")

	handler := Audit(zerolog.Nop(), recorder)(func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got == nil {
		t.Fatal("audit entry not recorded")
	}
	if got.Surface != "signatures" || got.Action != "create" {
		t.Errorf("unexpected surface/action: %s/%s", got.Surface, got.Action)
	}
	if got.UserID != "user-7" || got.RequestID != "rid-1" {
		t.Errorf("identity not captured: %+v", got)
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	called := false
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		called = true
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if _, err := invoke(t, Audit(zerolog.Nop(), recorder), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("health checks should not be audited")
	}
}

func TestSecurityHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec, err := invoke(t, SecurityHeaders(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing frame options header")
	}
}
