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

type SecurityRepository struct {
	db *storage.Postgres
}

func NewSecurityRepository(db *storage.Postgres) *SecurityRepository {
	return &SecurityRepository{db: db}
}

func (r *SecurityRepository) GetSettings(ctx context.Context, projectID uuid.UUID) (*models.SecuritySettings, error) {
	var settings models.SecuritySettings
	err := r.db.DB.WithContext(ctx).
		Where("project_id = ?", projectID).
		First(&settings).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &settings, err
}

func (r *SecurityRepository) SaveSettings(ctx context.Context, settings *models.SecuritySettings) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "project_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"safety_threshold", "input_threshold", "output_threshold", "jailbreak_threshold",
				"filter_pii", "filter_obfuscated_pii", "filter_jailbreak", "filter_harmful",
				"scan_output", "updated_at",
			}),
		}).
		Create(settings).Error
}

func (r *SecurityRepository) CreateIncident(ctx context.Context, incident *models.SecurityIncident) error {
	return r.db.DB.WithContext(ctx).Create(incident).Error
}

type IncidentFilter struct {
	Severity string
	Reviewed *bool
	Limit    int
	Offset   int
}

func (r *SecurityRepository) ListIncidents(ctx context.Context, projectID uuid.UUID, filter IncidentFilter) ([]models.SecurityIncident, error) {
	var incidents []models.SecurityIncident
	q := r.db.DB.WithContext(ctx).Where("project_id = ?", projectID)

	if filter.Severity != "" {
		q = q.Where("severity = ?", filter.Severity)
	}
	if filter.Reviewed != nil {
		q = q.Where("reviewed = ?", *filter.Reviewed)
	}

	err := q.Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&incidents).Error

	return incidents, err
}

// Only reviewer annotations are writable after creation.
func (r *SecurityRepository) ReviewIncident(ctx context.Context, projectID, id uuid.UUID, notes string) (bool, error) {
	result := r.db.DB.WithContext(ctx).
		Model(&models.SecurityIncident{}).
		Where("id = ? AND project_id = ?", id, projectID).
		Updates(map[string]interface{}{
			"reviewed":    true,
			"notes":       notes,
			"reviewed_at": time.Now().UTC(),
		})

	return result.RowsAffected > 0, result.Error
}
