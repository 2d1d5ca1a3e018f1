package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Webhook struct {
	ID              uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	ProjectID       uuid.UUID      `gorm:"type:uuid;index;not null" json:"project_id"`
	Name            string         `gorm:"not null" json:"name"`
	URL             string         `gorm:"not null" json:"url"`
	Secret          string         `gorm:"not null" json:"-"`
	Events          datatypes.JSON `gorm:"type:jsonb;not null" json:"events"`
	IsActive        bool           `gorm:"not null;default:true" json:"is_active"`
	FailureCount    int            `gorm:"not null;default:0" json:"failure_count"`
	LastTriggeredAt *time.Time     `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func (w *Webhook) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

func (Webhook) TableName() string {
	return "webhooks"
}

// EventList decodes the subscribed event types.
func (w *Webhook) EventList() []string {
	var events []string
	if len(w.Events) == 0 {
		return events
	}
	_ = json.Unmarshal(w.Events, &events)
	return events
}

// Subscribes reports whether the webhook wants eventType. "*" matches all.
func (w *Webhook) Subscribes(eventType string) bool {
	for _, e := range w.EventList() {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}
