package signature

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/odontoflow/esign/internal/platform/auth"
)

func doRequest(t *testing.T, h echo.HandlerFunc, method, target, body string, clinicID uuid.UUID) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	ctx := context.WithValue(req.Context(), auth.ClinicIDKey, clinicID.String())
	ctx = context.WithValue(ctx, auth.UserNameKey, "Dr. Nunes")
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, h(c)
}

func TestHandlerSign_Created(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	body := fmt.Sprintf(`{"record_type":"procedure","record_id":"%s","signer_type":"dentist","image_data":"data:image/png;base64,AAAA"}`, f.ref.ID)
	rec, err := doRequest(t, h.Sign, http.MethodPost, "/api/v1/signatures", body, f.clinicID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var got Signature
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.SignerName != "Dr. Nunes" {
		t.Errorf("signer name should default to the authenticated user, got %q", got.SignerName)
	}
	if got.ContentHash == "" {
		t.Error("response missing content hash")
	}
}

func TestHandlerSign_ErrorMapping(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	tests := []struct {
		name string
		body string
		code int
	}{
		{
			"bad record type",
			fmt.Sprintf(`{"record_type":"prescription","record_id":"%s","signer_type":"dentist","image_data":"x"}`, f.ref.ID),
			http.StatusBadRequest,
		},
		{
			"bad signer type",
			fmt.Sprintf(`{"record_type":"procedure","record_id":"%s","signer_type":"witness","image_data":"x"}`, f.ref.ID),
			http.StatusBadRequest,
		},
		{
			"missing image",
			fmt.Sprintf(`{"record_type":"procedure","record_id":"%s","signer_type":"dentist"}`, f.ref.ID),
			http.StatusBadRequest,
		},
		{
			"unknown record",
			fmt.Sprintf(`{"record_type":"exam","record_id":"%s","signer_type":"dentist","image_data":"x"}`, uuid.New()),
			http.StatusNotFound,
		},
		{
			"patient without verification",
			fmt.Sprintf(`{"record_type":"procedure","record_id":"%s","signer_type":"patient","image_data":"x"}`, f.ref.ID),
			http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := doRequest(t, h.Sign, http.MethodPost, "/api/v1/signatures", tt.body, f.clinicID)
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != tt.code {
				t.Fatalf("expected %d, got %v", tt.code, err)
			}
		})
	}
}

func TestHandlerSign_Duplicate409(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	body := fmt.Sprintf(`{"record_type":"procedure","record_id":"%s","signer_type":"dentist","image_data":"x"}`, f.ref.ID)

	if _, err := doRequest(t, h.Sign, http.MethodPost, "/api/v1/signatures", body, f.clinicID); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	_, err := doRequest(t, h.Sign, http.MethodPost, "/api/v1/signatures", body, f.clinicID)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %v", err)
	}
}

func TestHandlerListForRecord(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	body := fmt.Sprintf(`{"record_type":"procedure","record_id":"%s","signer_type":"dentist","image_data":"x"}`, f.ref.ID)
	if _, err := doRequest(t, h.Sign, http.MethodPost, "/api/v1/signatures", body, f.clinicID); err != nil {
		t.Fatalf("sign: %v", err)
	}

	target := fmt.Sprintf("/api/v1/signatures?record_type=procedure&record_id=%s", f.ref.ID)
	rec, err := doRequest(t, h.ListForRecord, http.MethodGet, target, "", f.clinicID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	var got RecordSignatures
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != StatusDentistOnly || len(got.Signatures) != 1 {
		t.Errorf("unexpected listing: status=%s n=%d", got.Status, len(got.Signatures))
	}
}

func TestHandlerGetForRecord(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	body := fmt.Sprintf(`{"record_type":"procedure","record_id":"%s","signer_type":"dentist","image_data":"x"}`, f.ref.ID)
	if _, err := doRequest(t, h.Sign, http.MethodPost, "/api/v1/signatures", body, f.clinicID); err != nil {
		t.Fatalf("sign: %v", err)
	}

	target := fmt.Sprintf("/api/v1/signatures/by-signer?record_type=procedure&record_id=%s&signer_type=dentist", f.ref.ID)
	rec, err := doRequest(t, h.GetForRecord, http.MethodGet, target, "", f.clinicID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	var got Signature
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.SignerType != SignerDentist || !got.ContentHashVerified {
		t.Errorf("unexpected signature: signer=%s verified=%v", got.SignerType, got.ContentHashVerified)
	}

	// The other signer type has not signed.
	target = fmt.Sprintf("/api/v1/signatures/by-signer?record_type=procedure&record_id=%s&signer_type=patient", f.ref.ID)
	_, err = doRequest(t, h.GetForRecord, http.MethodGet, target, "", f.clinicID)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for absent signature, got %v", err)
	}
}

func TestHandler_NoClinicScope(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/signatures?record_type=procedure&record_id="+f.ref.ID.String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ListForRecord(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without clinic scope, got %v", err)
	}
}
