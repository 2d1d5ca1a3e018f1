package repository

import (
	"context"

	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/aman-churiwal/ai-gateway/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProjectRepository struct {
	db *storage.Postgres
}

func NewProjectRepository(db *storage.Postgres) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	return r.db.DB.WithContext(ctx).Create(project).Error
}

func (r *ProjectRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var project models.Project
	err := r.db.DB.WithContext(ctx).
		Where("id = ?", id).
		First(&project).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}

	return &project, err
}

func (r *ProjectRepository) List(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	err := r.db.DB.WithContext(ctx).
		Order("created_at DESC").
		Find(&projects).Error

	return projects, err
}
