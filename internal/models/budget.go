package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BudgetSettings struct {
	ProjectID       uuid.UUID `gorm:"type:uuid;primary_key" json:"project_id"`
	MonthlyBudget   *float64  `gorm:"type:numeric(12,2)" json:"monthly_budget"`
	SpendCap        *float64  `gorm:"type:numeric(12,2)" json:"spend_cap"`
	EnforceSpendCap bool      `gorm:"not null;default:false" json:"enforce_spend_cap"`
	AlertsEnabled   bool      `gorm:"not null;default:true" json:"alerts_enabled"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (BudgetSettings) TableName() string {
	return "project_budgets"
}

// SpendEntry is one row of the per-project spend ledger.
type SpendEntry struct {
	ID               uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	ProjectID        uuid.UUID  `gorm:"type:uuid;index:idx_spend_project_created;not null" json:"project_id"`
	APIKeyID         *uuid.UUID `gorm:"type:uuid" json:"api_key_id,omitempty"`
	RequestID        string     `gorm:"index" json:"request_id"`
	Provider         string     `json:"provider"`
	Model            string     `json:"model"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	CostUSD          float64    `gorm:"type:numeric(14,6);not null" json:"cost_usd"`
	CreatedAt        time.Time  `gorm:"index:idx_spend_project_created" json:"created_at"`
}

func (s *SpendEntry) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (SpendEntry) TableName() string {
	return "spend_ledger"
}

// BudgetAlert records that a usage threshold fired for a billing period.
type BudgetAlert struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_budget_alert_period;not null" json:"project_id"`
	Period    string    `gorm:"uniqueIndex:idx_budget_alert_period;not null" json:"period"`
	Threshold int       `gorm:"uniqueIndex:idx_budget_alert_period;not null" json:"threshold"`
	CreatedAt time.Time `json:"created_at"`
}

func (BudgetAlert) TableName() string {
	return "budget_alerts"
}
