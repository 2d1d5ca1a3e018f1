package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/apperr"
	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/google/uuid"
)

// Credentials are <family><48 hex chars>.
const keyBodyLength = 48

type keyFamily struct {
	prefix      string
	environment string
	class       string
}

var keyFamilies = []keyFamily{
	{"gw_live_", models.EnvironmentProduction, models.KeyClassStandard},
	{"gw_test_", models.EnvironmentTest, models.KeyClassStandard},
	{"gwa_live_", models.EnvironmentProduction, models.KeyClassAgent},
	{"gwa_test_", models.EnvironmentTest, models.KeyClassAgent},
}

var (
	ErrKeyNotFound     = errors.New("api key not found")
	ErrInvalidKeyClass = errors.New("invalid key environment or class")
)

type APIKeyStore interface {
	Create(ctx context.Context, apiKey *models.APIKey) error
	FindByHash(ctx context.Context, hash string) (*models.APIKey, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	ListByProject(ctx context.Context, projectID uuid.UUID, includeRevoked bool) ([]models.APIKey, error)
	Rename(ctx context.Context, id uuid.UUID, name string) error
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdateLastUsed(ctx context.Context, id uuid.UUID) error
}

// KeyCache is satisfied by *storage.RedisClient.
type KeyCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Identity is the verified caller behind a credential.
type Identity struct {
	KeyID              uuid.UUID `json:"key_id"`
	ProjectID          uuid.UUID `json:"project_id"`
	TenantID           uuid.UUID `json:"tenant_id"`
	Environment        string    `json:"environment"`
	Class              string    `json:"class"`
	RateLimitPerMinute *int      `json:"rate_limit_per_minute,omitempty"`
	DefaultProvider    string    `json:"default_provider,omitempty"`
}

// cachedKey carries the digest, which models.APIKey never serializes.
type cachedKey struct {
	ID                 uuid.UUID  `json:"id"`
	ProjectID          uuid.UUID  `json:"project_id"`
	TenantID           uuid.UUID  `json:"tenant_id"`
	KeyHash            string     `json:"key_hash"`
	Environment        string     `json:"environment"`
	Class              string     `json:"class"`
	RateLimitPerMinute *int       `json:"rate_limit_per_minute,omitempty"`
	DefaultProvider    string     `json:"default_provider,omitempty"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
}

type APIKeyService struct {
	repository APIKeyStore
	cache      KeyCache
	pepper     []byte
	cacheTTL   time.Duration
	logger     *slog.Logger
}

func NewAPIKeyService(repo APIKeyStore, cache KeyCache, pepper string, cacheTTL time.Duration, logger *slog.Logger) *APIKeyService {
	return &APIKeyService{
		repository: repo,
		cache:      cache,
		pepper:     []byte(pepper),
		cacheTTL:   cacheTTL,
		logger:     logger,
	}
}

// ParseKeyFamily reports the environment and class encoded in raw's prefix.
func ParseKeyFamily(raw string) (environment, class string, ok bool) {
	for _, f := range keyFamilies {
		if !strings.HasPrefix(raw, f.prefix) {
			continue
		}
		body := raw[len(f.prefix):]
		if len(body) != keyBodyLength {
			return "", "", false
		}
		if _, err := hex.DecodeString(body); err != nil {
			return "", "", false
		}
		return f.environment, f.class, true
	}
	return "", "", false
}

// LooksLikeGatewayKey is used to decide whether a Bearer token is ours.
func LooksLikeGatewayKey(raw string) bool {
	_, _, ok := ParseKeyFamily(raw)
	return ok
}

func (s *APIKeyService) digest(raw string) string {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// ConstantTimeEqual compares two digests. Unequal lengths fail closed;
// equal lengths are always compared in full.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Verify resolves a raw credential to an Identity. It never writes.
func (s *APIKeyService) Verify(ctx context.Context, raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperr.New(apperr.KindAuthentication, "API key required")
	}
	if !LooksLikeGatewayKey(raw) {
		return nil, apperr.New(apperr.KindAuthentication, "Invalid API key")
	}

	keyHash := s.digest(raw)

	key, err := s.lookup(ctx, keyHash)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to verify API key", err)
	}
	if key == nil || !ConstantTimeEqual(key.KeyHash, keyHash) {
		return nil, apperr.New(apperr.KindAuthentication, "Invalid API key")
	}
	if key.RevokedAt != nil {
		return nil, apperr.New(apperr.KindAuthentication, "API key has been revoked")
	}

	return &Identity{
		KeyID:              key.ID,
		ProjectID:          key.ProjectID,
		TenantID:           key.TenantID,
		Environment:        key.Environment,
		Class:              key.Class,
		RateLimitPerMinute: key.RateLimitPerMinute,
		DefaultProvider:    key.DefaultProvider,
	}, nil
}

func (s *APIKeyService) lookup(ctx context.Context, keyHash string) (*cachedKey, error) {
	cacheKey := fmt.Sprintf("apikey:cache:%s", keyHash)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, cacheKey)
		if err == nil && cached != "" {
			var key cachedKey
			if err := json.Unmarshal([]byte(cached), &key); err == nil {
				return &key, nil
			}
		}
	}

	apiKey, err := s.repository.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, nil
	}

	key := &cachedKey{
		ID:                 apiKey.ID,
		ProjectID:          apiKey.ProjectID,
		KeyHash:            apiKey.KeyHash,
		Environment:        apiKey.Environment,
		Class:              apiKey.Class,
		RateLimitPerMinute: apiKey.RateLimitPerMinute,
		RevokedAt:          apiKey.RevokedAt,
	}
	if apiKey.Project != nil {
		key.TenantID = apiKey.Project.OrganizationID
		key.DefaultProvider = apiKey.Project.DefaultProvider
	}

	if s.cache != nil {
		if data, err := json.Marshal(key); err == nil {
			if err := s.cache.Set(ctx, cacheKey, data, s.cacheTTL); err != nil {
				s.logger.Debug("api key cache write failed", slog.Any("error", err))
			}
		}
	}

	return key, nil
}

type CreateKeyInput struct {
	ProjectID          uuid.UUID
	Name               string
	Environment        string
	Class              string
	CreatedBy          string
	RateLimitPerMinute *int
}

// Create returns the raw key. It is not retrievable afterwards.
func (s *APIKeyService) Create(ctx context.Context, in CreateKeyInput) (string, *models.APIKey, error) {
	if in.Environment == "" {
		in.Environment = models.EnvironmentProduction
	}
	if in.Class == "" {
		in.Class = models.KeyClassStandard
	}

	var prefix string
	for _, f := range keyFamilies {
		if f.environment == in.Environment && f.class == in.Class {
			prefix = f.prefix
			break
		}
	}
	if prefix == "" {
		return "", nil, ErrInvalidKeyClass
	}

	keyBytes := make([]byte, keyBodyLength/2)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	raw := prefix + hex.EncodeToString(keyBytes)

	apiKey := &models.APIKey{
		ProjectID:          in.ProjectID,
		KeyHash:            s.digest(raw),
		KeyPrefix:          raw[:len(prefix)+4] + "...",
		Name:               in.Name,
		Environment:        in.Environment,
		Class:              in.Class,
		CreatedBy:          in.CreatedBy,
		RateLimitPerMinute: in.RateLimitPerMinute,
	}

	if err := s.repository.Create(ctx, apiKey); err != nil {
		return "", nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return raw, apiKey, nil
}

func (s *APIKeyService) Get(ctx context.Context, projectID, id uuid.UUID) (*models.APIKey, error) {
	apiKey, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if apiKey == nil || apiKey.ProjectID != projectID {
		return nil, nil
	}
	return apiKey, nil
}

func (s *APIKeyService) List(ctx context.Context, projectID uuid.UUID, includeRevoked bool) ([]models.APIKey, error) {
	return s.repository.ListByProject(ctx, projectID, includeRevoked)
}

func (s *APIKeyService) Rename(ctx context.Context, projectID, id uuid.UUID, name string) error {
	apiKey, err := s.Get(ctx, projectID, id)
	if err != nil {
		return err
	}
	if apiKey == nil {
		return ErrKeyNotFound
	}
	return s.repository.Rename(ctx, id, name)
}

func (s *APIKeyService) Revoke(ctx context.Context, projectID, id uuid.UUID) error {
	apiKey, err := s.Get(ctx, projectID, id)
	if err != nil {
		return err
	}
	if apiKey == nil {
		return ErrKeyNotFound
	}

	if err := s.repository.Revoke(ctx, id, time.Now().UTC()); err != nil {
		return err
	}

	s.invalidateCache(ctx, apiKey.KeyHash)
	return nil
}

// TouchLastUsed records usage off the request path.
func (s *APIKeyService) TouchLastUsed(ctx context.Context, id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.repository.UpdateLastUsed(ctx, id); err != nil {
		s.logger.Warn("failed to update api key last_used_at",
			slog.String("key_id", id.String()),
			slog.Any("error", err),
		)
	}
}

func (s *APIKeyService) invalidateCache(ctx context.Context, keyHash string) {
	if s.cache == nil {
		return
	}
	cacheKey := fmt.Sprintf("apikey:cache:%s", keyHash)
	if err := s.cache.Del(ctx, cacheKey); err != nil {
		s.logger.Warn("failed to invalidate api key cache", slog.Any("error", err))
	}
}
