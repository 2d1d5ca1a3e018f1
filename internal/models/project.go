package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// A project is the billing and policy unit a credential belongs to.
type Project struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organization_id"`
	Name           string    `gorm:"not null" json:"name"`
	// DefaultProvider is used when a request does not name one.
	DefaultProvider string    `json:"default_provider"`
	CreatedAt       time.Time `json:"created_at"`
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (Project) TableName() string {
	return "projects"
}
