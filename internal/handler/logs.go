package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/gatewaylog"
	"github.com/aman-churiwal/ai-gateway/internal/repository"
	"github.com/gin-gonic/gin"
)

type LogsHandler struct {
	service *gatewaylog.StatsService
}

func NewLogsHandler(service *gatewaylog.StatsService) *LogsHandler {
	return &LogsHandler{service: service}
}

// Handles GET /admin/projects/:project_id/logs/stats
func (h *LogsHandler) Summary(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	from, to, err := parseTimeRange(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), projectID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Handles GET /admin/projects/:project_id/logs
func (h *LogsHandler) List(c *gin.Context) {
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	from, to, err := parseTimeRange(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	filter := repository.LogFilter{From: from, To: to, Limit: 100}
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			filter.Limit = l
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}
	if statusStr := c.Query("status"); statusStr != "" {
		if s, err := strconv.Atoi(statusStr); err == nil {
			filter.StatusCode = &s
		}
	}
	filter.ErrorsOnly = c.Query("errors") == "true"

	logs, err := h.service.List(c.Request.Context(), projectID, filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":   logs,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// Parses 'from' and 'to' query parameters as RFC3339 or unix seconds.
// Defaults to the last 24 hours.
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := parseTime(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}

	if toStr := c.Query("to"); toStr != "" {
		parsed, err := parseTime(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}

	return from, to, nil
}

func parseTime(s string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return parsed, nil
	}
	if timestamp, convErr := strconv.ParseInt(s, 10, 64); convErr == nil {
		return unixTime(timestamp), nil
	}
	return time.Time{}, err
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
