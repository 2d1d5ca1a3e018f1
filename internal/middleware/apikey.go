package middleware

import (
	"net/http"
	"strings"

	"github.com/aman-churiwal/ai-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

const CredentialKey = "credential"

// Credential returns the raw gateway key of a request. X-API-Key wins; a
// Bearer token is only taken when it looks like a gateway key, so provider
// or admin tokens are never mistaken for one.
func Credential(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}

	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	token = strings.TrimSpace(token)
	if !service.LooksLikeGatewayKey(token) {
		return ""
	}
	return token
}

// APIKeyExtractor stores the credential for the pipeline, which does the
// verification itself so that rejected requests are still logged.
func APIKeyExtractor() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(CredentialKey, Credential(c.Request))
		c.Next()
	}
}
