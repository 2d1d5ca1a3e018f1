package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/aman-churiwal/ai-gateway/internal/apperr"
	"github.com/aman-churiwal/ai-gateway/internal/middleware"
	"github.com/aman-churiwal/ai-gateway/internal/pipeline"
	"github.com/aman-churiwal/ai-gateway/internal/provider"
	"github.com/aman-churiwal/ai-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

type Executor interface {
	Execute(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error)
}

type ChatHandler struct {
	pipeline Executor
}

func NewChatHandler(p Executor) *ChatHandler {
	return &ChatHandler{pipeline: p}
}

type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature"`
	Provider    string             `json:"provider"`
}

// Handles POST /v1/chat/completions
func (h *ChatHandler) Complete(c *gin.Context) {
	var body chatRequest
	bindErr := c.ShouldBindJSON(&body)

	req := &pipeline.Request{
		RequestID:   c.GetString(middleware.RequestIDKey),
		Credential:  c.GetString(middleware.CredentialKey),
		Endpoint:    c.FullPath(),
		Method:      c.Request.Method,
		Header:      c.Request.Header,
		IPAddress:   c.ClientIP(),
		Provider:    body.Provider,
		Model:       body.Model,
		Messages:    body.Messages,
		MaxTokens:   body.MaxTokens,
		Temperature: body.Temperature,
	}
	if bindErr != nil {
		// An unreadable body still goes through the pipeline so the caller
		// is authenticated and the attempt is logged.
		req.Messages = nil
	}

	resp, err := h.pipeline.Execute(c.Request.Context(), req)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.KindRateLimitExceeded {
			setRateLimitHeadersFromDetails(c, appErr.Details)
		}
		respondError(c, err)
		return
	}

	if resp.RateLimit != nil {
		middleware.SetRateLimitHeaders(c, *resp.RateLimit)
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       resp.RequestID,
		"object":   "chat.completion",
		"model":    resp.Model,
		"provider": resp.Provider,
		"choices": []gin.H{{
			"index":         0,
			"message":       provider.Message{Role: "assistant", Content: resp.Content},
			"finish_reason": "stop",
		}},
		"usage":    resp.Usage,
		"cost_usd": resp.CostUSD,
		"fallback": resp.Fallback,
	})
}

func setRateLimitHeadersFromDetails(c *gin.Context, details map[string]interface{}) {
	limit, _ := details["limit"].(int)
	remaining, _ := details["remaining"].(int)
	reset, _ := details["reset"].(int64)
	middleware.SetRateLimitHeaders(c, ratelimit.Result{
		Allowed:   false,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   unixTime(reset),
	})
}
