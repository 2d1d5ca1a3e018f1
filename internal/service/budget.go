package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/google/uuid"
)

// Usage percentages that raise a budget alert, once per month each.
var AlertThresholds = []int{50, 80, 100}

var ErrInvalidAmount = errors.New("amount must be a non-negative number or null")

type BudgetStore interface {
	GetSettings(ctx context.Context, projectID uuid.UUID) (*models.BudgetSettings, error)
	SaveSettings(ctx context.Context, settings *models.BudgetSettings) error
	SumSpend(ctx context.Context, projectID uuid.UUID, from, to time.Time) (float64, error)
	CreateSpend(ctx context.Context, entry *models.SpendEntry) error
	RecordAlert(ctx context.Context, projectID uuid.UUID, period string, threshold int) (bool, error)
}

// NullableAmount tells apart an absent field, an explicit null and a number.
type NullableAmount struct {
	Set   bool
	Null  bool
	Value float64
}

func (a *NullableAmount) UnmarshalJSON(data []byte) error {
	a.Set = true
	data = bytes.TrimSpace(data)

	if bytes.Equal(data, []byte("null")) {
		a.Null = true
		a.Value = 0
		return nil
	}
	if len(data) == 0 || data[0] == '"' {
		return ErrInvalidAmount
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return ErrInvalidAmount
	}
	a.Null = false
	a.Value = v
	return a.Validate()
}

func (a NullableAmount) Validate() error {
	if !a.Set || a.Null {
		return nil
	}
	if math.IsNaN(a.Value) || math.IsInf(a.Value, 0) || a.Value < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Amount returns the pointer form stored in the database.
func (a NullableAmount) Amount() *float64 {
	if a.Null {
		return nil
	}
	v := a.Value
	return &v
}

type BudgetSettingsUpdate struct {
	MonthlyBudget   NullableAmount `json:"monthly_budget"`
	SpendCap        NullableAmount `json:"spend_cap"`
	EnforceSpendCap *bool          `json:"enforce_spend_cap"`
	AlertsEnabled   *bool          `json:"alerts_enabled"`
}

type BudgetStatus struct {
	ProjectID       uuid.UUID `json:"project_id"`
	CurrentSpend    float64   `json:"current_spend"`
	MonthlyBudget   *float64  `json:"monthly_budget"`
	SpendCap        *float64  `json:"spend_cap"`
	EnforceSpendCap bool      `json:"enforce_spend_cap"`
	PercentUsed     float64   `json:"percent_used"`
	IsCapReached    bool      `json:"is_cap_reached"`
	AlertsEnabled   bool      `json:"alerts_enabled"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
}

type BudgetService struct {
	repository BudgetStore
	now        func() time.Time
}

func NewBudgetService(repo BudgetStore) *BudgetService {
	return &BudgetService{
		repository: repo,
		now:        time.Now,
	}
}

// Current calendar month in UTC
func (s *BudgetService) period() (time.Time, time.Time) {
	now := s.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func (s *BudgetService) settings(ctx context.Context, projectID uuid.UUID) (*models.BudgetSettings, error) {
	settings, err := s.repository.GetSettings(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = &models.BudgetSettings{
			ProjectID:     projectID,
			AlertsEnabled: true,
		}
	}
	return settings, nil
}

// CheckBudget sums this month's ledger. The cap counts as reached when
// spend is at or above it, so the request that lands exactly on the cap is
// the last one admitted.
func (s *BudgetService) CheckBudget(ctx context.Context, projectID uuid.UUID) (*BudgetStatus, error) {
	settings, err := s.settings(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load budget settings: %w", err)
	}

	from, to := s.period()
	spend, err := s.repository.SumSpend(ctx, projectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to sum spend: %w", err)
	}
	spend = roundMicros(spend)

	status := &BudgetStatus{
		ProjectID:       projectID,
		CurrentSpend:    spend,
		MonthlyBudget:   settings.MonthlyBudget,
		SpendCap:        settings.SpendCap,
		EnforceSpendCap: settings.EnforceSpendCap,
		AlertsEnabled:   settings.AlertsEnabled,
		PeriodStart:     from,
		PeriodEnd:       to,
	}

	if settings.MonthlyBudget != nil && *settings.MonthlyBudget > 0 {
		status.PercentUsed = roundMicros(spend / *settings.MonthlyBudget * 100)
	}
	if settings.EnforceSpendCap && settings.SpendCap != nil {
		status.IsCapReached = spend >= *settings.SpendCap
	}

	return status, nil
}

func (s *BudgetService) GetSettings(ctx context.Context, projectID uuid.UUID) (*models.BudgetSettings, error) {
	return s.settings(ctx, projectID)
}

// UpdateSettings applies only the fields present in update.
func (s *BudgetService) UpdateSettings(ctx context.Context, projectID uuid.UUID, update BudgetSettingsUpdate) (*models.BudgetSettings, error) {
	if err := update.MonthlyBudget.Validate(); err != nil {
		return nil, fmt.Errorf("monthly_budget: %w", err)
	}
	if err := update.SpendCap.Validate(); err != nil {
		return nil, fmt.Errorf("spend_cap: %w", err)
	}

	settings, err := s.settings(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if update.MonthlyBudget.Set {
		settings.MonthlyBudget = update.MonthlyBudget.Amount()
	}
	if update.SpendCap.Set {
		settings.SpendCap = update.SpendCap.Amount()
	}
	if update.EnforceSpendCap != nil {
		settings.EnforceSpendCap = *update.EnforceSpendCap
	}
	if update.AlertsEnabled != nil {
		settings.AlertsEnabled = *update.AlertsEnabled
	}
	settings.UpdatedAt = s.now().UTC()

	if err := s.repository.SaveSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to save budget settings: %w", err)
	}
	return settings, nil
}

// RecordSpend appends a ledger row for a completed provider call.
func (s *BudgetService) RecordSpend(ctx context.Context, entry *models.SpendEntry) error {
	if entry.CostUSD < 0 || math.IsNaN(entry.CostUSD) || math.IsInf(entry.CostUSD, 0) {
		return ErrInvalidAmount
	}
	entry.CostUSD = roundMicros(entry.CostUSD)
	return s.repository.CreateSpend(ctx, entry)
}

// NewAlerts returns the thresholds crossed for the first time this period.
func (s *BudgetService) NewAlerts(ctx context.Context, status *BudgetStatus) ([]int, error) {
	if !status.AlertsEnabled || status.MonthlyBudget == nil {
		return nil, nil
	}

	period := status.PeriodStart.Format("2006-01")
	var fired []int
	for _, threshold := range AlertThresholds {
		if status.PercentUsed < float64(threshold) {
			break
		}
		inserted, err := s.repository.RecordAlert(ctx, status.ProjectID, period, threshold)
		if err != nil {
			return fired, err
		}
		if inserted {
			fired = append(fired, threshold)
		}
	}
	return fired, nil
}

func roundMicros(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
