package handler

import (
	"net/http"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/ai-gateway/internal/healthcheck"
	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// Handles system-related endpoints
type SystemHandler struct {
	circuits *circuitbreaker.Registry
	checker  *healthcheck.Checker
	version  string
}

func NewSystemHandler(circuits *circuitbreaker.Registry, checker *healthcheck.Checker, version string) *SystemHandler {
	return &SystemHandler{
		circuits: circuits,
		checker:  checker,
		version:  version,
	}
}

// Health reports dependency probes and provider circuits. A degraded
// dependency still answers 200; only a fully unhealthy one answers 503.
func (h *SystemHandler) Health(c *gin.Context) {
	overall := h.checker.OverallHealth()

	statusCode := http.StatusOK
	if overall == healthcheck.Unhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":       overall,
		"service":      "ai-gateway",
		"version":      h.version,
		"timestamp":    time.Now().Unix(),
		"uptime":       time.Since(startTime).Seconds(),
		"dependencies": h.checker.Statuses(),
		"providers":    h.circuits.Summary(),
	})
}

// Returns the state of every provider circuit
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"circuits": h.circuits.States(),
		"summary":  h.circuits.Summary(),
	})
}

// Manually closes a provider circuit
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	name := c.Param("provider")

	if !h.circuits.Reset(name) {
		notFound(c, "Provider not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Circuit breaker reset successfully",
		"provider": name,
	})
}
