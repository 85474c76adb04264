package otp

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/odontoflow/esign/internal/domain/record"
	"github.com/odontoflow/esign/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/otp", auth.RequireRole("admin", "dentist", "assistant"))
	g.POST("/send", h.Send)
	g.POST("/verify", h.Verify)
}

type sendRequest struct {
	PatientID  uuid.UUID `json:"patient_id"`
	RecordType string    `json:"record_type"`
	RecordID   uuid.UUID `json:"record_id"`
}

type sendResponse struct {
	ChallengeID  uuid.UUID `json:"challenge_id"`
	EmailMasked  string    `json:"email_masked"`
	IsMinor      bool      `json:"is_minor"`
	ExpiresAt    string    `json:"expires_at"`
	AttemptsLeft int       `json:"attempts_left"`
}

// Send issues a verification code for a patient and record. When the patient
// has no email the response is still 200 so the frontend can switch to the
// in-person bypass flow.
func (h *Handler) Send(c echo.Context) error {
	clinicID, err := auth.ClinicFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "clinic scope required")
	}

	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID == uuid.Nil || req.RecordID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id and record_id are required")
	}
	kind, err := record.ParseKind(req.RecordType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "record_type must be anamnesis, procedure or exam")
	}

	result, err := h.svc.Send(c.Request().Context(), clinicID, req.PatientID, record.Ref{Kind: kind, ID: req.RecordID})
	if err != nil {
		return mapError(err)
	}

	if result.NoEmail {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"error":    "no_email",
			"message":  result.Message,
			"is_minor": result.IsMinor,
		})
	}

	return c.JSON(http.StatusOK, sendResponse{
		ChallengeID:  result.Challenge.ID,
		EmailMasked:  result.EmailMasked,
		IsMinor:      result.IsMinor,
		ExpiresAt:    result.Challenge.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		AttemptsLeft: result.Challenge.AttemptsLeft,
	})
}

type verifyRequest struct {
	ChallengeID uuid.UUID `json:"challenge_id"`
	Code        string    `json:"code"`
}

// Verify checks a code. Wrong codes return 200 with verified=false so the
// frontend can show remaining attempts; dead challenges map to error statuses.
func (h *Handler) Verify(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ChallengeID == uuid.Nil || req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "challenge_id and code are required")
	}

	result, err := h.svc.Verify(c.Request().Context(), req.ChallengeID, req.Code)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, record.ErrInvalidKind):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record type")
	case errors.Is(err, record.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	case errors.Is(err, ErrChallengeNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "challenge not found")
	case errors.Is(err, ErrChallengeExpired):
		return echo.NewHTTPError(http.StatusGone, "challenge expired")
	case errors.Is(err, ErrChallengeConsumed):
		return echo.NewHTTPError(http.StatusConflict, "challenge already used")
	case errors.Is(err, ErrAttemptsExhausted):
		return echo.NewHTTPError(http.StatusTooManyRequests, "verification attempts exhausted")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "otp operation failed")
}
