package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	EnvironmentProduction = "production"
	EnvironmentTest       = "test"

	KeyClassStandard = "standard"
	KeyClassAgent    = "agent"
)

type APIKey struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	ProjectID          uuid.UUID  `gorm:"type:uuid;index;not null" json:"project_id"`
	Project            *Project   `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	KeyHash            string     `gorm:"uniqueIndex;not null" json:"-"`
	KeyPrefix          string     `gorm:"not null" json:"key_prefix"`
	Name               string     `gorm:"not null" json:"name"`
	Environment        string     `gorm:"not null;default:'production'" json:"environment"`
	Class              string     `gorm:"not null;default:'standard'" json:"class"`
	RateLimitPerMinute *int       `json:"rate_limit_per_minute,omitempty"`
	CreatedBy          string     `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	RevokedAt          *time.Time `gorm:"index" json:"revoked_at,omitempty"`
}

func (a *APIKey) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (APIKey) TableName() string {
	return "api_keys"
}

func (a *APIKey) IsRevoked() bool {
	return a.RevokedAt != nil
}
