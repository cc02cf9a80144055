package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sibudis-api/internal/dto"
	"github.com/noah-isme/sibudis-api/internal/middleware"
	"github.com/noah-isme/sibudis-api/internal/models"
	appErrors "github.com/noah-isme/sibudis-api/pkg/errors"
	"github.com/noah-isme/sibudis-api/pkg/response"
)

type dashboardService interface {
	Summary(ctx context.Context, principal models.Principal) (*dto.DashboardResponse, bool, error)
}

// DashboardHandler wires dashboard service to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Summary godoc
// @Summary Role-scoped dashboard
// @Description Totals, today's movement, recent entries and schedule progress
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Summary(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	summary, cacheHit, err := h.service.Summary(c.Request.Context(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, summary, nil, middleware.ResponseMeta(c))
}
