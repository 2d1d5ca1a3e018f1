package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/aman-churiwal/ai-gateway/internal/storage"
	"github.com/google/uuid"
)

type GatewayLogRepository struct {
	db *storage.Postgres
}

func NewGatewayLogRepository(db *storage.Postgres) *GatewayLogRepository {
	return &GatewayLogRepository{db: db}
}

// Inserts the full record
func (r *GatewayLogRepository) Create(ctx context.Context, log *models.GatewayLog) error {
	return r.db.DB.WithContext(ctx).Create(log).Error
}

// Inserts only the columns every schema version has
func (r *GatewayLogRepository) CreateMinimal(ctx context.Context, log *models.GatewayLog) error {
	return r.db.DB.WithContext(ctx).
		Select(models.GatewayLogMinimalColumns).
		Create(log).Error
}

type LogFilter struct {
	From       time.Time
	To         time.Time
	StatusCode *int
	ErrorsOnly bool
	Limit      int
	Offset     int
}

func (r *GatewayLogRepository) List(ctx context.Context, projectID uuid.UUID, filter LogFilter) ([]models.GatewayLog, error) {
	var logs []models.GatewayLog

	q := r.db.DB.WithContext(ctx).
		Where("project_id = ? AND created_at BETWEEN ? AND ?", projectID, filter.From, filter.To)

	if filter.StatusCode != nil {
		q = q.Where("status_code = ?", *filter.StatusCode)
	}
	if filter.ErrorsOnly {
		q = q.Where("status_code >= 400")
	}

	err := q.Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&logs).Error

	return logs, err
}

func (r *GatewayLogRepository) Count(ctx context.Context, projectID uuid.UUID, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.GatewayLog{}).
		Where("project_id = ? AND created_at BETWEEN ? AND ?", projectID, from, to).
		Count(&count).Error

	return count, err
}

func (r *GatewayLogRepository) AverageLatency(ctx context.Context, projectID uuid.UUID, from, to time.Time) (float64, error) {
	var avg float64

	err := r.db.DB.WithContext(ctx).
		Model(&models.GatewayLog{}).
		Select("COALESCE(AVG(latency_ms), 0)").
		Where("project_id = ? AND created_at BETWEEN ? AND ?", projectID, from, to).
		Scan(&avg).Error

	return avg, err
}

func (r *GatewayLogRepository) LatencyPercentile(ctx context.Context, projectID uuid.UUID, from, to time.Time, percentile float64) (int64, error) {
	var result float64
	query := `
		SELECT COALESCE(PERCENTILE_CONT(?) WITHIN GROUP (ORDER BY latency_ms), 0)
		FROM gateway_logs
		WHERE project_id = ? AND created_at BETWEEN ? AND ?
	`

	err := r.db.DB.WithContext(ctx).Raw(query, percentile, projectID, from, to).Scan(&result).Error
	return int64(result), err
}

// Count logs by status code range (e.g., 4xx, 5xx)
func (r *GatewayLogRepository) CountByStatusRange(ctx context.Context, projectID uuid.UUID, minStatus, maxStatus int, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.GatewayLog{}).
		Where("project_id = ? AND status_code BETWEEN ? AND ? AND created_at BETWEEN ? AND ?", projectID, minStatus, maxStatus, from, to).
		Count(&count).Error

	return count, err
}

type ErrorCodeCount struct {
	ErrorCode string `json:"error_code"`
	Count     int64  `json:"count"`
}

func (r *GatewayLogRepository) TopErrorCodes(ctx context.Context, projectID uuid.UUID, from, to time.Time, limit int) ([]ErrorCodeCount, error) {
	var results []ErrorCodeCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.GatewayLog{}).
		Select("error_code, COUNT(*) as count").
		Where("project_id = ? AND error_code <> '' AND created_at BETWEEN ? AND ?", projectID, from, to).
		Group("error_code").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

// Deletes logs older than the specified time
func (r *GatewayLogRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.GatewayLog{})

	return result.RowsAffected, result.Error
}
