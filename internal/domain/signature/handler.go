package signature

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
	g := api.Group("/signatures", auth.RequireRole("admin", "dentist", "assistant"))
	g.POST("", h.Sign)
	g.GET("", h.ListForRecord)
	g.GET("/by-signer", h.GetForRecord)
}

type signRequest struct {
	RecordType   string     `json:"record_type"`
	RecordID     uuid.UUID  `json:"record_id"`
	SignerType   string     `json:"signer_type"`
	SignerName   string     `json:"signer_name"`
	ImageData    string     `json:"image_data"`
	ChallengeID  *uuid.UUID `json:"challenge_id,omitempty"`
	OTPBypassed  bool       `json:"otp_bypassed"`
	BypassReason string     `json:"bypass_reason"`
}

// Sign applies one signature to a record.
func (h *Handler) Sign(c echo.Context) error {
	clinicID, err := auth.ClinicFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "clinic scope required")
	}

	var req signRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	kind, err := record.ParseKind(req.RecordType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "record_type must be anamnesis, procedure or exam")
	}
	signer, err := ParseSignerType(req.SignerType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "signer_type must be patient or dentist")
	}
	if req.RecordID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "record_id is required")
	}
	if req.ImageData == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "image_data is required")
	}
	if req.SignerName == "" {
		req.SignerName = auth.UserNameFromContext(c.Request().Context())
	}

	sig, err := h.svc.Sign(c.Request().Context(), clinicID, SignInput{
		Ref:          record.Ref{Kind: kind, ID: req.RecordID},
		SignerType:   signer,
		SignerName:   req.SignerName,
		ImageData:    req.ImageData,
		ChallengeID:  req.ChallengeID,
		OTPBypassed:  req.OTPBypassed,
		BypassReason: req.BypassReason,
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, sig)
}

// ListForRecord returns every signature on one record plus its signing status.
func (h *Handler) ListForRecord(c echo.Context) error {
	clinicID, err := auth.ClinicFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "clinic scope required")
	}

	kind, err := record.ParseKind(c.QueryParam("record_type"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "record_type must be anamnesis, procedure or exam")
	}
	recordID, err := uuid.Parse(c.QueryParam("record_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record_id")
	}

	result, err := h.svc.ListForRecord(c.Request().Context(), clinicID, record.Ref{Kind: kind, ID: recordID})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetForRecord returns one record's signature of a given signer type, if any.
func (h *Handler) GetForRecord(c echo.Context) error {
	clinicID, err := auth.ClinicFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "clinic scope required")
	}

	kind, err := record.ParseKind(c.QueryParam("record_type"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "record_type must be anamnesis, procedure or exam")
	}
	recordID, err := uuid.Parse(c.QueryParam("record_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record_id")
	}
	signer, err := ParseSignerType(c.QueryParam("signer_type"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "signer_type must be patient or dentist")
	}

	sig, err := h.svc.GetForRecord(c.Request().Context(), clinicID, record.Ref{Kind: kind, ID: recordID}, signer)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, sig)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, record.ErrInvalidKind):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record type")
	case errors.Is(err, ErrInvalidSigner):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid signer type")
	case errors.Is(err, record.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	case errors.Is(err, ErrSignatureNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "signature not found")
	case errors.Is(err, ErrDuplicateSignature):
		return echo.NewHTTPError(http.StatusConflict, "record already signed by this signer type")
	case errors.Is(err, ErrMissingVerification):
		return echo.NewHTTPError(http.StatusForbidden, "patient identity verification required")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "signature operation failed")
}
