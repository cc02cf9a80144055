package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sibudis-api/internal/models"
	"github.com/noah-isme/sibudis-api/internal/service"
	"github.com/noah-isme/sibudis-api/pkg/response"
)

type savingsScheduleService interface {
	List(ctx context.Context, principal models.Principal) ([]models.ScheduleProgress, error)
	Create(ctx context.Context, principal models.Principal, req service.SavingsScheduleRequest) (*models.ScheduleProgress, error)
	Update(ctx context.Context, principal models.Principal, id string, req service.SavingsScheduleRequest) (*models.ScheduleProgress, error)
	Delete(ctx context.Context, principal models.Principal, id string) error
}

// SavingsScheduleHandler exposes class savings goals.
type SavingsScheduleHandler struct {
	service savingsScheduleService
}

// NewSavingsScheduleHandler constructs the handler.
func NewSavingsScheduleHandler(svc savingsScheduleService) *SavingsScheduleHandler {
	return &SavingsScheduleHandler{service: svc}
}

// List godoc
// @Summary Savings schedules with progress for the caller's classes
// @Tags SavingsSchedules
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /savings-schedules [get]
func (h *SavingsScheduleHandler) List(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	items, err := h.service.List(c.Request.Context(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Create godoc
// @Summary Create a savings schedule
// @Tags SavingsSchedules
// @Accept json
// @Produce json
// @Param payload body service.SavingsScheduleRequest true "Schedule"
// @Success 201 {object} response.Envelope
// @Router /savings-schedules [post]
func (h *SavingsScheduleHandler) Create(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req service.SavingsScheduleRequest
	if !bindJSON(c, &req, "invalid schedule payload") {
		return
	}
	item, err := h.service.Create(c.Request.Context(), principal, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// Update godoc
// @Summary Update a savings schedule
// @Tags SavingsSchedules
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param payload body service.SavingsScheduleRequest true "Schedule"
// @Success 200 {object} response.Envelope
// @Router /savings-schedules/{id} [put]
func (h *SavingsScheduleHandler) Update(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	var req service.SavingsScheduleRequest
	if !bindJSON(c, &req, "invalid schedule payload") {
		return
	}
	item, err := h.service.Update(c.Request.Context(), principal, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Delete godoc
// @Summary Delete a savings schedule
// @Tags SavingsSchedules
// @Param id path string true "Schedule ID"
// @Success 204
// @Router /savings-schedules/{id} [delete]
func (h *SavingsScheduleHandler) Delete(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), principal, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
