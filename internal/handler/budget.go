package handler

import (
	"errors"
	"net/http"

	"github.com/aman-churiwal/ai-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

type BudgetHandler struct {
	service *service.BudgetService
}

func NewBudgetHandler(service *service.BudgetService) *BudgetHandler {
	return &BudgetHandler{service: service}
}

// Handles GET /admin/projects/:project_id/budget
func (h *BudgetHandler) Status(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	status, err := h.service.CheckBudget(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *BudgetHandler) GetSettings(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	settings, err := h.service.GetSettings(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, settings)
}

// Handles PUT /admin/projects/:project_id/budget. Absent fields are left
// alone; an explicit null clears the amount.
func (h *BudgetHandler) Update(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	var update service.BudgetSettingsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		if errors.Is(err, service.ErrInvalidAmount) {
			badRequest(c, err.Error())
			return
		}
		badRequest(c, "Invalid request body")
		return
	}

	settings, err := h.service.UpdateSettings(c.Request.Context(), projectID, update)
	if err != nil {
		if errors.Is(err, service.ErrInvalidAmount) {
			badRequest(c, err.Error())
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, settings)
}
