package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SecuritySettings struct {
	ProjectID       uuid.UUID `gorm:"type:uuid;primary_key" json:"project_id"`
	SafetyThreshold float64   `gorm:"not null;default:0.7" json:"safety_threshold"`

	// Granular overrides; nil means derive from SafetyThreshold.
	InputThreshold     *float64 `json:"input_threshold,omitempty"`
	OutputThreshold    *float64 `json:"output_threshold,omitempty"`
	JailbreakThreshold *float64 `json:"jailbreak_threshold,omitempty"`

	FilterPII           bool      `gorm:"not null;default:true" json:"filter_pii"`
	FilterObfuscatedPII bool      `gorm:"not null;default:true" json:"filter_obfuscated_pii"`
	FilterJailbreak     bool      `gorm:"not null;default:true" json:"filter_jailbreak"`
	FilterHarmful       bool      `gorm:"not null;default:true" json:"filter_harmful"`
	ScanOutput          bool      `gorm:"not null;default:true" json:"scan_output"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (SecuritySettings) TableName() string {
	return "security_settings"
}

// SecurityIncident is append-only; only Reviewed, Notes and ReviewedAt change.
type SecurityIncident struct {
	ID               uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	ProjectID        uuid.UUID      `gorm:"type:uuid;index;not null" json:"project_id"`
	APIKeyID         *uuid.UUID     `gorm:"type:uuid" json:"api_key_id,omitempty"`
	RequestID        string         `gorm:"index" json:"request_id"`
	IncidentType     string         `gorm:"not null" json:"incident_type"`
	Severity         string         `gorm:"index;not null" json:"severity"`
	Stage            string         `gorm:"not null" json:"stage"`
	RiskScore        float64        `json:"risk_score"`
	Confidence       float64        `json:"confidence"`
	PatternsDetected datatypes.JSON `gorm:"type:jsonb" json:"patterns_detected"`
	ContentPreview   string         `json:"content_preview"`
	Reviewed         bool           `gorm:"not null;default:false" json:"reviewed"`
	Notes            string         `json:"notes,omitempty"`
	ReviewedAt       *time.Time     `json:"reviewed_at,omitempty"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
}

func (s *SecurityIncident) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (SecurityIncident) TableName() string {
	return "security_incidents"
}
