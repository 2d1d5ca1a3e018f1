package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/apperr"
	"github.com/aman-churiwal/ai-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/ai-gateway/internal/healthcheck"
	"github.com/aman-churiwal/ai-gateway/internal/middleware"
	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/aman-churiwal/ai-gateway/internal/pipeline"
	"github.com/aman-churiwal/ai-gateway/internal/provider"
	"github.com/aman-churiwal/ai-gateway/internal/ratelimit"
	"github.com/aman-churiwal/ai-gateway/internal/repository"
	"github.com/aman-churiwal/ai-gateway/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubExecutor struct {
	got  *pipeline.Request
	resp *pipeline.Response
	err  error
}

func (s *stubExecutor) Execute(_ context.Context, req *pipeline.Request) (*pipeline.Response, error) {
	s.got = req
	return s.resp, s.err
}

func chatRouter(exec Executor) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	v1 := r.Group("/v1", middleware.APIKeyExtractor())
	v1.POST("/chat/completions", NewChatHandler(exec).Complete)
	return r
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, w.Body.String())
	}
	return body
}

func TestChatCompleteSuccess(t *testing.T) {
	exec := &stubExecutor{resp: &pipeline.Response{
		RequestID: "req-1",
		Provider:  "anthropic",
		Model:     "claude-sonnet-4",
		Content:   "hello there",
		Usage:     provider.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		CostUSD:   0.0012,
		Fallback:  true,
		RateLimit: &ratelimit.Result{Allowed: true, Limit: 60, Remaining: 59, ResetAt: time.Unix(1700000060, 0)},
	}}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"max_tokens":64}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "gw_live_abc")
	w := httptest.NewRecorder()
	chatRouter(exec).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if exec.got.Credential != "gw_live_abc" || exec.got.Model != "gpt-4o" || exec.got.MaxTokens != 64 {
		t.Errorf("pipeline request = %+v", exec.got)
	}
	if exec.got.RequestID == "" || exec.got.Endpoint != "/v1/chat/completions" {
		t.Errorf("request id %q, endpoint %q", exec.got.RequestID, exec.got.Endpoint)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "59" {
		t.Errorf("X-RateLimit-Remaining = %q, want 59", got)
	}

	body := decode(t, w)
	if body["provider"] != "anthropic" || body["fallback"] != true || body["object"] != "chat.completion" {
		t.Errorf("body = %v", body)
	}
	choices := body["choices"].([]interface{})
	msg := choices[0].(map[string]interface{})["message"].(map[string]interface{})
	if msg["role"] != "assistant" || msg["content"] != "hello there" {
		t.Errorf("message = %v", msg)
	}
}

func TestChatCompleteRateLimited(t *testing.T) {
	reset := time.Now().Add(30 * time.Second).Unix()
	exec := &stubExecutor{err: apperr.New(apperr.KindRateLimitExceeded, "Rate limit exceeded").WithDetails(map[string]interface{}{
		"limit":     5,
		"remaining": 0,
		"reset":     reset,
	})}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	chatRouter(exec).ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "5" || w.Header().Get("Retry-After") == "" {
		t.Errorf("headers = %v", w.Header())
	}
	errBody := decode(t, w)["error"].(map[string]interface{})
	if errBody["kind"] != string(apperr.KindRateLimitExceeded) {
		t.Errorf("kind = %v", errBody["kind"])
	}
}

func TestChatCompleteUnreadableBody(t *testing.T) {
	exec := &stubExecutor{err: apperr.New(apperr.KindInvalidRequest, "messages must not be empty")}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{not json`))
	w := httptest.NewRecorder()
	chatRouter(exec).ServeHTTP(w, req)

	if exec.got == nil {
		t.Fatal("pipeline was not called for an unreadable body")
	}
	if exec.got.Messages != nil {
		t.Errorf("messages = %v, want nil", exec.got.Messages)
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestChatCompleteInternalErrorHidden(t *testing.T) {
	exec := &stubExecutor{err: errors.New("pq: connection reset")}

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	chatRouter(exec).ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "pq:") {
		t.Errorf("internal error leaked: %s", w.Body.String())
	}
}

func systemRouter(h *SystemHandler) *gin.Engine {
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/admin/circuits", h.CircuitBreakerStatus)
	r.POST("/admin/circuits/:provider/reset", h.ResetCircuitBreaker)
	return r
}

func TestResetCircuitBreaker(t *testing.T) {
	circuits := circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Hour})
	circuits.Register("openai")
	circuits.RecordFailure("openai")
	h := NewSystemHandler(circuits, healthcheck.NewChecker(healthcheck.Config{}, testLogger()), "test")
	r := systemRouter(h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/circuits/unknown/reset", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown provider status = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/circuits/openai/reset", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if snap, _ := circuits.Get("openai"); snap.State != circuitbreaker.StateClosed {
		t.Errorf("state = %v, want closed", snap.State)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/circuits", nil))
	summary := decode(t, w)["summary"].(map[string]interface{})
	if summary["healthy"] != float64(1) || summary["down"] != float64(0) {
		t.Errorf("summary = %v", summary)
	}
}

func TestHealth(t *testing.T) {
	circuits := circuitbreaker.NewRegistry(circuitbreaker.Config{})
	checker := healthcheck.NewChecker(healthcheck.Config{MaxFailures: 1}, testLogger())
	checker.Add("postgres", healthcheck.ProbeFunc(func(context.Context) error {
		return errors.New("connection refused")
	}))
	r := systemRouter(NewSystemHandler(circuits, checker, "test"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || decode(t, w)["status"] != "healthy" {
		t.Fatalf("before any check: status = %d, body = %s", w.Code, w.Body.String())
	}

	checker.CheckAll(context.Background())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if decode(t, w)["status"] != "unhealthy" {
		t.Errorf("body = %s", w.Body.String())
	}
}

type stubSecurityStore struct {
	reviewed int
}

func (s *stubSecurityStore) GetSettings(context.Context, uuid.UUID) (*models.SecuritySettings, error) {
	return nil, nil
}

func (s *stubSecurityStore) SaveSettings(context.Context, *models.SecuritySettings) error {
	return nil
}

func (s *stubSecurityStore) CreateIncident(context.Context, *models.SecurityIncident) error {
	return nil
}

func (s *stubSecurityStore) ListIncidents(context.Context, uuid.UUID, repository.IncidentFilter) ([]models.SecurityIncident, error) {
	return nil, nil
}

func (s *stubSecurityStore) ReviewIncident(context.Context, uuid.UUID, uuid.UUID, string) (bool, error) {
	s.reviewed++
	return s.reviewed == 1, nil
}

func TestReviewIncident(t *testing.T) {
	store := &stubSecurityStore{}
	h := NewSecurityHandler(security.NewService(store, 0.7, testLogger()))
	r := gin.New()
	r.PATCH("/projects/:project_id/security/incidents/:id", h.ReviewIncident)
	path := "/projects/" + uuid.NewString() + "/security/incidents/" + uuid.NewString()

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"detection is immutable", `{"reviewed":true,"severity":"low"}`, http.StatusBadRequest},
		{"cannot unreview", `{"reviewed":false}`, http.StatusBadRequest},
		{"reviewed with notes", `{"reviewed":true,"notes":"false positive"}`, http.StatusOK},
		{"missing incident", `{"reviewed":true}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, path, strings.NewReader(tt.body)))
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.status, w.Body.String())
			}
		})
	}

	if store.reviewed != 2 {
		t.Errorf("store called %d times, want 2", store.reviewed)
	}
}

type stubProjectStore struct {
	created []*models.Project
}

func (s *stubProjectStore) Create(_ context.Context, p *models.Project) error {
	p.ID = uuid.New()
	s.created = append(s.created, p)
	return nil
}

func (s *stubProjectStore) FindByID(_ context.Context, id uuid.UUID) (*models.Project, error) {
	for _, p := range s.created {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (s *stubProjectStore) List(context.Context) ([]models.Project, error) {
	out := make([]models.Project, len(s.created))
	for i, p := range s.created {
		out[i] = *p
	}
	return out, nil
}

func TestCreateProject(t *testing.T) {
	store := &stubProjectStore{}
	h := NewProjectHandler(store, []string{"anthropic", "openai"})
	userID := uuid.New()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", userID.String())
		c.Next()
	})
	r.POST("/projects", h.Create)
	r.GET("/projects/:project_id", h.Get)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/projects",
		strings.NewReader(`{"name":"demo","default_provider":"cohere"}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown provider status = %d, want 400", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/projects",
		strings.NewReader(`{"name":" demo ","default_provider":"openai"}`)))
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["organization_id"] != userID.String() || body["name"] != "demo" {
		t.Errorf("body = %v", body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/projects/"+uuid.NewString(), nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing project status = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/projects/not-a-uuid", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", w.Code)
	}
}

func TestParseTimeRange(t *testing.T) {
	r := gin.New()
	var from, to time.Time
	var parseErr error
	r.GET("/", func(c *gin.Context) {
		from, to, parseErr = parseTimeRange(c)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?from=1700000000&to=2023-11-15T00:00:00Z", nil))
	if parseErr != nil {
		t.Fatalf("parseTimeRange() error = %v", parseErr)
	}
	if !from.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("from = %v", from)
	}
	if to.Year() != 2023 || to.Month() != time.November || to.Day() != 15 {
		t.Errorf("to = %v", to)
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if d := to.Sub(from); d != 24*time.Hour {
		t.Errorf("default range = %v, want 24h", d)
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/?from=yesterday", nil))
	if parseErr == nil {
		t.Error("expected an error for an unparseable time")
	}
}
