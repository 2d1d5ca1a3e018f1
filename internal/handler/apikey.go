package handler

import (
	"errors"
	"net/http"

	"github.com/aman-churiwal/ai-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

type APIKeyHandler struct {
	service *service.APIKeyService
}

func NewAPIKeyHandler(service *service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{service: service}
}

func (h *APIKeyHandler) Create(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	var req struct {
		Name               string `json:"name" binding:"required"`
		Environment        string `json:"environment"`
		Class              string `json:"class"`
		RateLimitPerMinute *int   `json:"rate_limit_per_minute"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.RateLimitPerMinute != nil && *req.RateLimitPerMinute <= 0 {
		badRequest(c, "rate_limit_per_minute must be positive")
		return
	}

	raw, key, err := h.service.Create(c.Request.Context(), service.CreateKeyInput{
		ProjectID:          projectID,
		Name:               req.Name,
		Environment:        req.Environment,
		Class:              req.Class,
		CreatedBy:          c.GetString("email"),
		RateLimitPerMinute: req.RateLimitPerMinute,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidKeyClass) {
			badRequest(c, err.Error())
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"key":     raw,
		"api_key": key,
		"message": "Save this key - it won't be shown again",
	})
}

func (h *APIKeyHandler) List(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	keys, err := h.service.List(c.Request.Context(), projectID, c.Query("include_revoked") == "true")
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, keys)
}

func (h *APIKeyHandler) Get(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	apiKey, err := h.service.Get(c.Request.Context(), projectID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if apiKey == nil {
		notFound(c, "API key not found")
		return
	}

	c.JSON(http.StatusOK, apiKey)
}

func (h *APIKeyHandler) Rename(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.service.Rename(c.Request.Context(), projectID, id, req.Name); err != nil {
		h.keyError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key updated successfully"})
}

// Revocation is soft: the row stays for attribution of past traffic.
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.service.Revoke(c.Request.Context(), projectID, id); err != nil {
		h.keyError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key revoked successfully"})
}

func (h *APIKeyHandler) keyError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrKeyNotFound) {
		notFound(c, "API key not found")
		return
	}
	respondError(c, err)
}
