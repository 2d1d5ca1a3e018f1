package gatewaylog

import (
	"context"
	"log/slog"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/aman-churiwal/ai-gateway/internal/repository"
	"github.com/google/uuid"
)

type StatsStore interface {
	List(ctx context.Context, projectID uuid.UUID, filter repository.LogFilter) ([]models.GatewayLog, error)
	Count(ctx context.Context, projectID uuid.UUID, from, to time.Time) (int64, error)
	AverageLatency(ctx context.Context, projectID uuid.UUID, from, to time.Time) (float64, error)
	LatencyPercentile(ctx context.Context, projectID uuid.UUID, from, to time.Time, percentile float64) (int64, error)
	CountByStatusRange(ctx context.Context, projectID uuid.UUID, minStatus, maxStatus int, from, to time.Time) (int64, error)
	TopErrorCodes(ctx context.Context, projectID uuid.UUID, from, to time.Time, limit int) ([]repository.ErrorCodeCount, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// Summary of a project's traffic over a time range
type Summary struct {
	TotalRequests   int64                       `json:"total_requests"`
	AvgLatency      float64                     `json:"avg_latency_ms"`
	P50Latency      int64                       `json:"p50_latency_ms"`
	P95Latency      int64                       `json:"p95_latency_ms"`
	P99Latency      int64                       `json:"p99_latency_ms"`
	ErrorRate       float64                     `json:"error_rate"`
	SuccessRate     float64                     `json:"success_rate"`
	ClientErrorRate float64                     `json:"client_error_rate"`
	ServerErrorRate float64                     `json:"server_error_rate"`
	TopErrorCodes   []repository.ErrorCodeCount `json:"top_error_codes"`
}

type StatsService struct {
	repository StatsStore
	logger     *slog.Logger
}

func NewStatsService(repo StatsStore, logger *slog.Logger) *StatsService {
	return &StatsService{
		repository: repo,
		logger:     logger,
	}
}

func (s *StatsService) List(ctx context.Context, projectID uuid.UUID, filter repository.LogFilter) ([]models.GatewayLog, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repository.List(ctx, projectID, filter)
}

func (s *StatsService) Summary(ctx context.Context, projectID uuid.UUID, from, to time.Time) (*Summary, error) {
	summary := &Summary{TopErrorCodes: []repository.ErrorCodeCount{}}

	total, err := s.repository.Count(ctx, projectID, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalRequests = total

	if total == 0 {
		return summary, nil
	}

	avg, err := s.repository.AverageLatency(ctx, projectID, from, to)
	if err != nil {
		return nil, err
	}
	summary.AvgLatency = avg

	// Percentiles are best effort
	summary.P50Latency, _ = s.repository.LatencyPercentile(ctx, projectID, from, to, 0.50)
	summary.P95Latency, _ = s.repository.LatencyPercentile(ctx, projectID, from, to, 0.95)
	summary.P99Latency, _ = s.repository.LatencyPercentile(ctx, projectID, from, to, 0.99)

	clientErrors, err := s.repository.CountByStatusRange(ctx, projectID, 400, 499, from, to)
	if err != nil {
		return nil, err
	}
	serverErrors, err := s.repository.CountByStatusRange(ctx, projectID, 500, 599, from, to)
	if err != nil {
		return nil, err
	}

	summary.ErrorRate = float64(clientErrors+serverErrors) / float64(total) * 100
	summary.SuccessRate = 100 - summary.ErrorRate
	summary.ClientErrorRate = float64(clientErrors) / float64(total) * 100
	summary.ServerErrorRate = float64(serverErrors) / float64(total) * 100

	codes, err := s.repository.TopErrorCodes(ctx, projectID, from, to, 10)
	if err != nil {
		return nil, err
	}
	if codes != nil {
		summary.TopErrorCodes = codes
	}

	return summary, nil
}

// RunRetention deletes logs older than retention every interval until ctx
// is done.
func (s *StatsService) RunRetention(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.repository.DeleteOlderThan(ctx, time.Now().Add(-retention))
			if err != nil {
				s.logger.Error("failed to prune gateway logs", "error", err)
				continue
			}
			if deleted > 0 {
				s.logger.Info("pruned gateway logs", "deleted", deleted)
			}
		}
	}
}
