package batch

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/odontoflow/esign/internal/domain/record"
	"github.com/odontoflow/esign/internal/platform/auth"
	"github.com/odontoflow/esign/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/batches", auth.RequireRole("admin", "dentist", "assistant"))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
}

type createRequest struct {
	Records []struct {
		RecordType string    `json:"record_type"`
		RecordID   uuid.UUID `json:"record_id"`
	} `json:"records"`
}

// Create opens a numbered signing batch over a set of records.
func (h *Handler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	clinicID, err := auth.ClinicFromContext(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "clinic scope required")
	}

	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	refs := make([]record.Ref, 0, len(req.Records))
	for _, r := range req.Records {
		kind, err := record.ParseKind(r.RecordType)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "record_type must be anamnesis, procedure or exam")
		}
		if r.RecordID == uuid.Nil {
			return echo.NewHTTPError(http.StatusBadRequest, "record_id is required")
		}
		refs = append(refs, record.Ref{Kind: kind, ID: r.RecordID})
	}

	b, err := h.svc.Create(ctx, clinicID, auth.UserNameFromContext(ctx), refs)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

// Get returns one batch with its members.
func (h *Handler) Get(c echo.Context) error {
	clinicID, err := auth.ClinicFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "clinic scope required")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid batch id")
	}

	b, err := h.svc.Get(c.Request().Context(), clinicID, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// List returns the clinic's batches, newest first.
func (h *Handler) List(c echo.Context) error {
	clinicID, err := auth.ClinicFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "clinic scope required")
	}

	pg := pagination.FromContext(c)
	batches, total, err := h.svc.List(c.Request().Context(), clinicID, pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(batches, total, pg.Limit, pg.Offset))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrEmptyBatch):
		return echo.NewHTTPError(http.StatusBadRequest, "batch must contain at least one record")
	case errors.Is(err, ErrBatchRecordNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "batch references a missing record")
	case errors.Is(err, ErrBatchNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "batch not found")
	case errors.Is(err, record.ErrInvalidKind):
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record type")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "batch operation failed")
}
