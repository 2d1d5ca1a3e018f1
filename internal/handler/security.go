package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/aman-churiwal/ai-gateway/internal/repository"
	"github.com/aman-churiwal/ai-gateway/internal/security"
	"github.com/gin-gonic/gin"
)

type SecurityHandler struct {
	service *security.Service
}

func NewSecurityHandler(service *security.Service) *SecurityHandler {
	return &SecurityHandler{service: service}
}

func (h *SecurityHandler) GetSettings(c *gin.Context) {
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

func (h *SecurityHandler) UpdateSettings(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	var update security.SettingsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	settings, err := h.service.UpdateSettings(c.Request.Context(), projectID, update)
	if err != nil {
		if errors.Is(err, security.ErrInvalidThreshold) {
			badRequest(c, err.Error())
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, settings)
}

// Handles GET /admin/projects/:project_id/security/incidents
func (h *SecurityHandler) ListIncidents(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	filter := repository.IncidentFilter{Severity: c.Query("severity")}
	if reviewedStr := c.Query("reviewed"); reviewedStr != "" {
		reviewed, err := strconv.ParseBool(reviewedStr)
		if err != nil {
			badRequest(c, "reviewed must be true or false")
			return
		}
		filter.Reviewed = &reviewed
	}
	if l, err := strconv.Atoi(c.Query("limit")); err == nil {
		filter.Limit = l
	}
	if o, err := strconv.Atoi(c.Query("offset")); err == nil && o >= 0 {
		filter.Offset = o
	}

	incidents, err := h.service.ListIncidents(c.Request.Context(), projectID, filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// ReviewIncident marks an incident reviewed. The recorded detection is
// immutable, so the body may carry nothing but reviewed and notes.
func (h *SecurityHandler) ReviewIncident(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	for field := range body {
		if field != "reviewed" && field != "notes" {
			badRequest(c, security.ErrIncidentImmutable.Error())
			return
		}
	}

	var notes string
	if raw, ok := body["notes"]; ok {
		if err := json.Unmarshal(raw, &notes); err != nil {
			badRequest(c, "notes must be a string")
			return
		}
	}
	if raw, ok := body["reviewed"]; ok {
		var reviewed bool
		if err := json.Unmarshal(raw, &reviewed); err != nil || !reviewed {
			badRequest(c, "reviewed can only be set to true")
			return
		}
	}

	if err := h.service.ReviewIncident(c.Request.Context(), projectID, id, notes); err != nil {
		if errors.Is(err, security.ErrIncidentNotFound) {
			notFound(c, "Security incident not found")
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Incident marked as reviewed"})
}
