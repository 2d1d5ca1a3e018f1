package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/ai-gateway/internal/apperr"
	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/aman-churiwal/ai-gateway/internal/storage"
	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubKeyStore struct {
	mu       sync.Mutex
	keys     map[uuid.UUID]*models.APIKey
	projects map[uuid.UUID]*models.Project
	lookups  int
}

func newStubKeyStore() *stubKeyStore {
	return &stubKeyStore{
		keys:     make(map[uuid.UUID]*models.APIKey),
		projects: make(map[uuid.UUID]*models.Project),
	}
}

func (s *stubKeyStore) Create(_ context.Context, k *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	copied := *k
	s.keys[k.ID] = &copied
	return nil
}

func (s *stubKeyStore) FindByHash(_ context.Context, hash string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	for _, k := range s.keys {
		if k.KeyHash == hash {
			copied := *k
			copied.Project = s.projects[k.ProjectID]
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *stubKeyStore) FindByID(_ context.Context, id uuid.UUID) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		copied := *k
		return &copied, nil
	}
	return nil, nil
}

func (s *stubKeyStore) ListByProject(_ context.Context, projectID uuid.UUID, includeRevoked bool) ([]models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.APIKey
	for _, k := range s.keys {
		if k.ProjectID == projectID && (includeRevoked || k.RevokedAt == nil) {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (s *stubKeyStore) Rename(_ context.Context, id uuid.UUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id].Name = name
	return nil
}

func (s *stubKeyStore) Revoke(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id].RevokedAt = &at
	return nil
}

func (s *stubKeyStore) UpdateLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.keys[id].LastUsedAt = &now
	return nil
}

func newKeyService(t *testing.T, withCache bool) (*APIKeyService, *stubKeyStore) {
	t.Helper()
	store := newStubKeyStore()

	var cache KeyCache
	if withCache {
		mr := miniredis.RunT(t)
		client, err := storage.NewRedis(mr.Addr(), "", 0)
		if err != nil {
			t.Fatalf("NewRedis() error = %v", err)
		}
		t.Cleanup(func() { client.Close() })
		cache = client
	}

	return NewAPIKeyService(store, cache, "pepper", time.Minute, testLogger()), store
}

func TestCreateAndVerify(t *testing.T) {
	svc, store := newKeyService(t, false)
	ctx := context.Background()

	org := uuid.New()
	project := &models.Project{ID: uuid.New(), OrganizationID: org, DefaultProvider: "openai"}
	store.projects[project.ID] = project

	limit := 10
	raw, created, err := svc.Create(ctx, CreateKeyInput{
		ProjectID:          project.ID,
		Name:               "ci",
		Environment:        models.EnvironmentTest,
		Class:              models.KeyClassAgent,
		RateLimitPerMinute: &limit,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if !strings.HasPrefix(raw, "gwa_test_") || len(raw) != len("gwa_test_")+48 {
		t.Errorf("raw key = %q, unexpected format", raw)
	}
	if created.KeyPrefix != raw[:len("gwa_test_")+4]+"..." {
		t.Errorf("KeyPrefix = %q", created.KeyPrefix)
	}
	if strings.Contains(created.KeyHash, raw) || created.KeyHash == raw {
		t.Error("raw key must not be stored")
	}

	id, err := svc.Verify(ctx, raw)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.ProjectID != project.ID || id.TenantID != org || id.KeyID != created.ID {
		t.Errorf("identity = %+v", id)
	}
	if id.Environment != models.EnvironmentTest || id.Class != models.KeyClassAgent {
		t.Errorf("environment/class = %s/%s", id.Environment, id.Class)
	}
	if id.RateLimitPerMinute == nil || *id.RateLimitPerMinute != 10 {
		t.Errorf("RateLimitPerMinute = %v", id.RateLimitPerMinute)
	}
	if id.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q", id.DefaultProvider)
	}
}

func TestVerifyRejects(t *testing.T) {
	svc, _ := newKeyService(t, false)
	ctx := context.Background()

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"foreign bearer token", "eyJhbGciOiJIUzI1NiJ9.e30.signature"},
		{"unknown prefix", "sk_live_" + strings.Repeat("a", 48)},
		{"short body", "gw_live_abcd"},
		{"non hex body", "gw_live_" + strings.Repeat("z", 48)},
		{"unknown key", "gw_live_" + strings.Repeat("a", 48)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Verify(ctx, tt.raw)
			if !apperr.Is(err, apperr.KindAuthentication) {
				t.Errorf("Verify() error = %v, want authentication error", err)
			}
		})
	}
}

func TestRevokedKeyRejectedAfterCaching(t *testing.T) {
	svc, store := newKeyService(t, true)
	ctx := context.Background()
	projectID := uuid.New()

	raw, created, err := svc.Create(ctx, CreateKeyInput{ProjectID: projectID, Name: "prod"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := svc.Verify(ctx, raw); err != nil {
		t.Fatalf("first Verify() error = %v", err)
	}
	if _, err := svc.Verify(ctx, raw); err != nil {
		t.Fatalf("cached Verify() error = %v", err)
	}
	if store.lookups != 1 {
		t.Errorf("store lookups = %d, want 1 (second verify should hit cache)", store.lookups)
	}

	if err := svc.Revoke(ctx, projectID, created.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	_, err = svc.Verify(ctx, raw)
	if !apperr.Is(err, apperr.KindAuthentication) {
		t.Fatalf("Verify() after revoke error = %v, want authentication error", err)
	}
}

func TestRevokeOtherProject(t *testing.T) {
	svc, _ := newKeyService(t, false)
	ctx := context.Background()

	_, created, err := svc.Create(ctx, CreateKeyInput{ProjectID: uuid.New(), Name: "a"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := svc.Revoke(ctx, uuid.New(), created.ID); err != ErrKeyNotFound {
		t.Errorf("Revoke() error = %v, want ErrKeyNotFound", err)
	}
}

func TestCreateRejectsUnknownFamily(t *testing.T) {
	svc, _ := newKeyService(t, false)
	_, _, err := svc.Create(context.Background(), CreateKeyInput{ProjectID: uuid.New(), Environment: "staging"})
	if err != ErrInvalidKeyClass {
		t.Errorf("Create() error = %v, want ErrInvalidKeyClass", err)
	}
}

func TestConstantTimeEqual(t *testing.T) {
	digest := strings.Repeat("ab", 32)

	if !ConstantTimeEqual(digest, digest) {
		t.Error("equal digests should match")
	}
	if ConstantTimeEqual(digest, digest[:63]) {
		t.Error("length mismatch must fail closed")
	}
	if ConstantTimeEqual(digest, "") {
		t.Error("empty digest must not match")
	}
	firstByte := "0" + digest[1:]
	lastByte := digest[:63] + "0"
	if ConstantTimeEqual(digest, firstByte) || ConstantTimeEqual(digest, lastByte) {
		t.Error("mismatched digests should not match")
	}
}

func TestParseKeyFamily(t *testing.T) {
	body := strings.Repeat("0f", 24)
	tests := []struct {
		raw   string
		env   string
		class string
	}{
		{"gw_live_" + body, models.EnvironmentProduction, models.KeyClassStandard},
		{"gw_test_" + body, models.EnvironmentTest, models.KeyClassStandard},
		{"gwa_live_" + body, models.EnvironmentProduction, models.KeyClassAgent},
		{"gwa_test_" + body, models.EnvironmentTest, models.KeyClassAgent},
	}

	for _, tt := range tests {
		env, class, ok := ParseKeyFamily(tt.raw)
		if !ok || env != tt.env || class != tt.class {
			t.Errorf("ParseKeyFamily(%q) = %s, %s, %v", tt.raw[:10], env, class, ok)
		}
	}
}
