package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/aman-churiwal/ai-gateway/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BudgetRepository struct {
	db *storage.Postgres
}

func NewBudgetRepository(db *storage.Postgres) *BudgetRepository {
	return &BudgetRepository{db: db}
}

func (r *BudgetRepository) GetSettings(ctx context.Context, projectID uuid.UUID) (*models.BudgetSettings, error) {
	var settings models.BudgetSettings
	err := r.db.DB.WithContext(ctx).
		Where("project_id = ?", projectID).
		First(&settings).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &settings, err
}

// Writes every column, including NULLs for cleared limits.
func (r *BudgetRepository) SaveSettings(ctx context.Context, settings *models.BudgetSettings) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"monthly_budget", "spend_cap", "enforce_spend_cap", "alerts_enabled", "updated_at"}),
		}).
		Create(settings).Error
}

// Sums ledger rows with from <= created_at < to.
func (r *BudgetRepository) SumSpend(ctx context.Context, projectID uuid.UUID, from, to time.Time) (float64, error) {
	var total float64
	err := r.db.DB.WithContext(ctx).
		Model(&models.SpendEntry{}).
		Select("COALESCE(SUM(cost_usd), 0)").
		Where("project_id = ? AND created_at >= ? AND created_at < ?", projectID, from, to).
		Scan(&total).Error

	return total, err
}

func (r *BudgetRepository) CreateSpend(ctx context.Context, entry *models.SpendEntry) error {
	return r.db.DB.WithContext(ctx).Create(entry).Error
}

// Returns true only for the call that first recorded the alert.
func (r *BudgetRepository) RecordAlert(ctx context.Context, projectID uuid.UUID, period string, threshold int) (bool, error) {
	alert := models.BudgetAlert{
		ProjectID: projectID,
		Period:    period,
		Threshold: threshold,
	}

	result := r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&alert)

	return result.RowsAffected > 0, result.Error
}
