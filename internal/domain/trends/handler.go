package trends

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/labportal/labportal/internal/domain/results"
	"github.com/labportal/labportal/internal/platform/auth"
)

// Builder produces trends for a patient. *Aggregator implements it.
type Builder interface {
	BuildTrends(ctx context.Context, patientID string) (*Trends, error)
}

type Handler struct {
	builder Builder
}

func NewHandler(builder Builder) *Handler {
	return &Handler{builder: builder}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("patient", "physician"), auth.RequirePatientAccess("id"))
	read.GET("/patients/:id/trends", h.GetTrends)
}

func (h *Handler) GetTrends(c echo.Context) error {
	patientID := strings.TrimSpace(c.Param("id"))
	if patientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient id is required")
	}
	t, err := h.builder.BuildTrends(c.Request().Context(), patientID)
	if err != nil {
		return trendError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func trendError(err error) error {
	if results.IsInvalidFilter(err) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var tfe *TrendFetchError
	if errors.As(err, &tfe) {
		if fe, ok := results.AsFetchError(tfe.Err); ok && fe.Status == http.StatusNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "patient or report not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
