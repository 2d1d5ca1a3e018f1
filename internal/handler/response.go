package handler

import (
	"errors"
	"net/http"

	"github.com/aman-churiwal/ai-gateway/internal/apperr"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func respondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		c.JSON(appErr.StatusCode(), apperr.Body(appErr))
		return
	}
	c.JSON(http.StatusInternalServerError, apperr.Body(err))
}

func badRequest(c *gin.Context, message string) {
	respondError(c, apperr.New(apperr.KindInvalidRequest, message))
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"kind": "not_found", "message": message}})
}

// uuidParam parses a path parameter, writing a 400 when it is malformed.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
