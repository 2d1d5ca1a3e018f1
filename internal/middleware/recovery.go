package middleware

import (
	"log/slog"
	"net/http"

	"github.com/aman-churiwal/ai-gateway/internal/apperr"
	"github.com/gin-gonic/gin"
)

func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					slog.String("request_id", c.GetString(RequestIDKey)),
					slog.String("path", c.Request.URL.Path),
					slog.Any("panic", err),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, apperr.Body(nil))
			}
		}()
		c.Next()
	}
}
