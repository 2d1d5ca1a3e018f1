package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/aman-churiwal/ai-gateway/internal/repository"
	"github.com/google/uuid"
)

var (
	ErrInvalidThreshold  = errors.New("threshold must be between 0 and 1")
	ErrIncidentNotFound  = errors.New("security incident not found")
	ErrIncidentImmutable = errors.New("only reviewed and notes can be changed")
)

type Store interface {
	GetSettings(ctx context.Context, projectID uuid.UUID) (*models.SecuritySettings, error)
	SaveSettings(ctx context.Context, settings *models.SecuritySettings) error
	CreateIncident(ctx context.Context, incident *models.SecurityIncident) error
	ListIncidents(ctx context.Context, projectID uuid.UUID, filter repository.IncidentFilter) ([]models.SecurityIncident, error)
	ReviewIncident(ctx context.Context, projectID, id uuid.UUID, notes string) (bool, error)
}

type SettingsUpdate struct {
	SafetyThreshold     *float64 `json:"safety_threshold"`
	InputThreshold      *float64 `json:"input_threshold"`
	OutputThreshold     *float64 `json:"output_threshold"`
	JailbreakThreshold  *float64 `json:"jailbreak_threshold"`
	FilterPII           *bool    `json:"filter_pii"`
	FilterObfuscatedPII *bool    `json:"filter_obfuscated_pii"`
	FilterJailbreak     *bool    `json:"filter_jailbreak"`
	FilterHarmful       *bool    `json:"filter_harmful"`
	ScanOutput          *bool    `json:"scan_output"`

	// ClearOverrides drops granular thresholds so they derive again.
	ClearOverrides bool `json:"clear_overrides"`
}

type Service struct {
	store         Store
	defaultSafety float64
	logger        *slog.Logger
}

func NewService(store Store, defaultSafety float64, logger *slog.Logger) *Service {
	return &Service{
		store:         store,
		defaultSafety: defaultSafety,
		logger:        logger,
	}
}

func (s *Service) defaults(projectID uuid.UUID) *models.SecuritySettings {
	return &models.SecuritySettings{
		ProjectID:           projectID,
		SafetyThreshold:     s.defaultSafety,
		FilterPII:           true,
		FilterObfuscatedPII: true,
		FilterJailbreak:     true,
		FilterHarmful:       true,
		ScanOutput:          true,
	}
}

func (s *Service) GetSettings(ctx context.Context, projectID uuid.UUID) (*models.SecuritySettings, error) {
	settings, err := s.store.GetSettings(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return s.defaults(projectID), nil
	}
	return settings, nil
}

// ConfigFor resolves the policy for a request. A settings read failure
// falls back to the deployment defaults rather than rejecting traffic.
func (s *Service) ConfigFor(ctx context.Context, projectID uuid.UUID) Config {
	settings, err := s.store.GetSettings(ctx, projectID)
	if err != nil {
		s.logger.Warn("failed to load security settings, using defaults", "project_id", projectID, "error", err)
		return DefaultConfig(s.defaultSafety)
	}
	return ConfigFromSettings(settings, s.defaultSafety)
}

func (s *Service) UpdateSettings(ctx context.Context, projectID uuid.UUID, update SettingsUpdate) (*models.SecuritySettings, error) {
	for name, v := range map[string]*float64{
		"safety_threshold":    update.SafetyThreshold,
		"input_threshold":     update.InputThreshold,
		"output_threshold":    update.OutputThreshold,
		"jailbreak_threshold": update.JailbreakThreshold,
	} {
		if v != nil && !validThreshold(*v) {
			return nil, fmt.Errorf("%s: %w", name, ErrInvalidThreshold)
		}
	}

	settings, err := s.GetSettings(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if update.SafetyThreshold != nil {
		settings.SafetyThreshold = *update.SafetyThreshold
	}
	if update.ClearOverrides {
		settings.InputThreshold = nil
		settings.OutputThreshold = nil
		settings.JailbreakThreshold = nil
	}
	if update.InputThreshold != nil {
		settings.InputThreshold = update.InputThreshold
	}
	if update.OutputThreshold != nil {
		settings.OutputThreshold = update.OutputThreshold
	}
	if update.JailbreakThreshold != nil {
		settings.JailbreakThreshold = update.JailbreakThreshold
	}
	if update.FilterPII != nil {
		settings.FilterPII = *update.FilterPII
	}
	if update.FilterObfuscatedPII != nil {
		settings.FilterObfuscatedPII = *update.FilterObfuscatedPII
	}
	if update.FilterJailbreak != nil {
		settings.FilterJailbreak = *update.FilterJailbreak
	}
	if update.FilterHarmful != nil {
		settings.FilterHarmful = *update.FilterHarmful
	}
	if update.ScanOutput != nil {
		settings.ScanOutput = *update.ScanOutput
	}
	settings.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to save security settings: %w", err)
	}
	return settings, nil
}

func (s *Service) RecordIncident(ctx context.Context, incident *models.SecurityIncident) error {
	return s.store.CreateIncident(ctx, incident)
}

func (s *Service) ListIncidents(ctx context.Context, projectID uuid.UUID, filter repository.IncidentFilter) ([]models.SecurityIncident, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	return s.store.ListIncidents(ctx, projectID, filter)
}

func (s *Service) ReviewIncident(ctx context.Context, projectID, id uuid.UUID, notes string) error {
	ok, err := s.store.ReviewIncident(ctx, projectID, id, notes)
	if err != nil {
		return err
	}
	if !ok {
		return ErrIncidentNotFound
	}
	return nil
}

func validThreshold(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
