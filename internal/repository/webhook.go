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

type WebhookRepository struct {
	db *storage.Postgres
}

func NewWebhookRepository(db *storage.Postgres) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Create(ctx context.Context, webhook *models.Webhook) error {
	return r.db.DB.WithContext(ctx).Create(webhook).Error
}

func (r *WebhookRepository) FindByID(ctx context.Context, projectID, id uuid.UUID) (*models.Webhook, error) {
	var webhook models.Webhook
	err := r.db.DB.WithContext(ctx).
		Where("id = ? AND project_id = ?", id, projectID).
		First(&webhook).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &webhook, err
}

func (r *WebhookRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Webhook, error) {
	var webhooks []models.Webhook
	err := r.db.DB.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Find(&webhooks).Error

	return webhooks, err
}

func (r *WebhookRepository) ListActive(ctx context.Context, projectID uuid.UUID) ([]models.Webhook, error) {
	var webhooks []models.Webhook
	err := r.db.DB.WithContext(ctx).
		Where("project_id = ? AND is_active = ?", projectID, true).
		Find(&webhooks).Error

	return webhooks, err
}

func (r *WebhookRepository) Update(ctx context.Context, projectID, id uuid.UUID, updates map[string]interface{}) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.Webhook{}).
		Where("id = ? AND project_id = ?", id, projectID).
		Updates(updates).Error
}

func (r *WebhookRepository) Delete(ctx context.Context, projectID, id uuid.UUID) error {
	return r.db.DB.WithContext(ctx).
		Where("id = ? AND project_id = ?", id, projectID).
		Delete(&models.Webhook{}).Error
}

func (r *WebhookRepository) MarkSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.Webhook{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"failure_count":     0,
			"last_triggered_at": at,
		}).Error
}

// Increments failure_count and returns the new value.
func (r *WebhookRepository) MarkFailure(ctx context.Context, id uuid.UUID) (int, error) {
	var webhook models.Webhook
	err := r.db.DB.WithContext(ctx).
		Model(&webhook).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "failure_count"}}}).
		Where("id = ?", id).
		Update("failure_count", gorm.Expr("failure_count + 1")).Error

	return webhook.FailureCount, err
}

func (r *WebhookRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	return r.db.DB.WithContext(ctx).
		Model(&models.Webhook{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}
