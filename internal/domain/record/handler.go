package record

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/odontoflow/esign/internal/platform/auth"
	"github.com/odontoflow/esign/pkg/pagination"
)

type Handler struct {
	finder UnsignedFinder
}

func NewHandler(finder UnsignedFinder) *Handler {
	return &Handler{finder: finder}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "dentist", "assistant"))
	g.GET("/records/unsigned", h.ListUnsigned)
}

// ListUnsigned returns records of every kind that still miss a patient or
// dentist signature, optionally scoped to one patient.
func (h *Handler) ListUnsigned(c echo.Context) error {
	clinicID, err := auth.ClinicFromContext(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "clinic scope required")
	}

	var patientID *uuid.UUID
	if raw := c.QueryParam("patient_id"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		patientID = &pid
	}

	pg := pagination.FromContext(c)
	items, total, err := h.finder.ListUnsigned(c.Request().Context(), clinicID, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "listing unsigned records failed")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
