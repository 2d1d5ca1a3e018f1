package handler

import (
	"errors"
	"net/http"

	"github.com/aman-churiwal/ai-gateway/internal/webhook"
	"github.com/gin-gonic/gin"
)

type WebhookHandler struct {
	service *webhook.Service
}

func NewWebhookHandler(service *webhook.Service) *WebhookHandler {
	return &WebhookHandler{service: service}
}

func (h *WebhookHandler) Create(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	var input webhook.CreateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	hook, secret, err := h.service.Create(c.Request.Context(), projectID, input)
	if err != nil {
		h.webhookError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": hook,
		"secret":  secret,
		"message": "Save this secret - it won't be shown again",
	})
}

func (h *WebhookHandler) List(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	hooks, err := h.service.List(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"webhooks":    hooks,
		"event_types": webhook.EventTypes,
	})
}

func (h *WebhookHandler) Get(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	hook, err := h.service.Get(c.Request.Context(), projectID, id)
	if err != nil {
		h.webhookError(c, err)
		return
	}

	c.JSON(http.StatusOK, hook)
}

func (h *WebhookHandler) Update(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var input webhook.UpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	hook, secret, err := h.service.Update(c.Request.Context(), projectID, id, input)
	if err != nil {
		h.webhookError(c, err)
		return
	}

	resp := gin.H{"webhook": hook}
	if secret != "" {
		resp["secret"] = secret
	}
	c.JSON(http.StatusOK, resp)
}

func (h *WebhookHandler) Delete(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), projectID, id); err != nil {
		h.webhookError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Webhook deleted successfully"})
}

// Handles POST /admin/projects/:project_id/webhooks/:id/test
func (h *WebhookHandler) Test(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	if err := h.service.Test(c.Request.Context(), projectID, id); err != nil {
		if errors.Is(err, webhook.ErrWebhookNotFound) {
			notFound(c, "Webhook not found")
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *WebhookHandler) webhookError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, webhook.ErrWebhookNotFound):
		notFound(c, "Webhook not found")
	case errors.Is(err, webhook.ErrInvalidURL), errors.Is(err, webhook.ErrInvalidEvents):
		badRequest(c, err.Error())
	default:
		respondError(c, err)
	}
}
