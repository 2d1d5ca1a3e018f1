package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

var (
	ErrWebhookNotFound = errors.New("webhook not found")
	ErrInvalidURL      = errors.New("url must be an absolute http or https URL")
	ErrInvalidEvents   = errors.New("events must name at least one known event type")
)

type Repository interface {
	Create(ctx context.Context, webhook *models.Webhook) error
	FindByID(ctx context.Context, projectID, id uuid.UUID) (*models.Webhook, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Webhook, error)
	Update(ctx context.Context, projectID, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, projectID, id uuid.UUID) error
}

type CreateInput struct {
	Name   string   `json:"name" binding:"required"`
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

type UpdateInput struct {
	Name     *string  `json:"name"`
	URL      *string  `json:"url"`
	Events   []string `json:"events"`
	IsActive *bool    `json:"is_active"`
	// RotateSecret issues a new signing secret.
	RotateSecret bool `json:"rotate_secret"`
}

type Service struct {
	repository Repository
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewService(repo Repository, dispatcher *Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		repository: repo,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Create returns the webhook with its secret; it is never shown again.
func (s *Service) Create(ctx context.Context, projectID uuid.UUID, input CreateInput) (*models.Webhook, string, error) {
	if err := validateURL(input.URL); err != nil {
		return nil, "", err
	}
	events, err := encodeEvents(input.Events)
	if err != nil {
		return nil, "", err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, "", err
	}

	hook := &models.Webhook{
		ProjectID: projectID,
		Name:      strings.TrimSpace(input.Name),
		URL:       input.URL,
		Secret:    secret,
		Events:    events,
		IsActive:  true,
	}
	if err := s.repository.Create(ctx, hook); err != nil {
		return nil, "", fmt.Errorf("failed to create webhook: %w", err)
	}

	s.logger.Info("webhook created", "project_id", projectID, "webhook_id", hook.ID)
	return hook, secret, nil
}

func (s *Service) Get(ctx context.Context, projectID, id uuid.UUID) (*models.Webhook, error) {
	hook, err := s.repository.FindByID(ctx, projectID, id)
	if err != nil {
		return nil, err
	}
	if hook == nil {
		return nil, ErrWebhookNotFound
	}
	return hook, nil
}

func (s *Service) List(ctx context.Context, projectID uuid.UUID) ([]models.Webhook, error) {
	return s.repository.ListByProject(ctx, projectID)
}

// Update applies the given fields. The new secret, when rotated, is returned.
func (s *Service) Update(ctx context.Context, projectID, id uuid.UUID, input UpdateInput) (*models.Webhook, string, error) {
	if _, err := s.Get(ctx, projectID, id); err != nil {
		return nil, "", err
	}

	updates := map[string]interface{}{}
	if input.Name != nil {
		updates["name"] = strings.TrimSpace(*input.Name)
	}
	if input.URL != nil {
		if err := validateURL(*input.URL); err != nil {
			return nil, "", err
		}
		updates["url"] = *input.URL
	}
	if input.Events != nil {
		events, err := encodeEvents(input.Events)
		if err != nil {
			return nil, "", err
		}
		updates["events"] = events
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
		if *input.IsActive {
			updates["failure_count"] = 0
		}
	}

	var secret string
	if input.RotateSecret {
		var err error
		if secret, err = GenerateSecret(); err != nil {
			return nil, "", err
		}
		updates["secret"] = secret
	}

	if len(updates) > 0 {
		if err := s.repository.Update(ctx, projectID, id, updates); err != nil {
			return nil, "", fmt.Errorf("failed to update webhook: %w", err)
		}
	}

	hook, err := s.Get(ctx, projectID, id)
	return hook, secret, err
}

func (s *Service) Delete(ctx context.Context, projectID, id uuid.UUID) error {
	if _, err := s.Get(ctx, projectID, id); err != nil {
		return err
	}
	return s.repository.Delete(ctx, projectID, id)
}

// Test sends a single signed test event to the webhook.
func (s *Service) Test(ctx context.Context, projectID, id uuid.UUID) error {
	hook, err := s.Get(ctx, projectID, id)
	if err != nil {
		return err
	}
	return s.dispatcher.SendTest(ctx, hook)
}

func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(b), nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidURL
	}
	return nil
}

func encodeEvents(events []string) (datatypes.JSON, error) {
	if len(events) == 0 {
		return nil, ErrInvalidEvents
	}
	seen := make(map[string]bool, len(events))
	cleaned := make([]string, 0, len(events))
	for _, e := range events {
		if !IsKnownEvent(e) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEvents, e)
		}
		if !seen[e] {
			seen[e] = true
			cleaned = append(cleaned, e)
		}
	}
	raw, err := json.Marshal(cleaned)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
