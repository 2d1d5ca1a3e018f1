package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/aman-churiwal/ai-gateway/internal/ratelimit"
	"github.com/aman-churiwal/ai-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCredential(t *testing.T) {
	agentKey := "gwa_live_" + strings.Repeat("ab", 24)
	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"x-api-key", map[string]string{"X-API-Key": " gw_live_abc "}, "gw_live_abc"},
		{"x-api-key wins", map[string]string{"X-API-Key": "gw_test_a", "Authorization": "Bearer gw_live_b"}, "gw_test_a"},
		{"bearer gateway key", map[string]string{"Authorization": "Bearer " + agentKey}, agentKey},
		{"bearer malformed gateway key", map[string]string{"Authorization": "Bearer gw_live_short"}, ""},
		{"bearer foreign token", map[string]string{"Authorization": "Bearer sk-openai-123"}, ""},
		{"basic auth", map[string]string{"Authorization": "Basic gw_live_abc"}, ""},
		{"absent", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := Credential(req); got != tt.want {
				t.Errorf("Credential() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, err := uuid.Parse(w.Body.String()); err != nil {
		t.Errorf("generated id %q is not a uuid", w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "caller-id")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "caller-id" || w.Header().Get(RequestIDHeader) != "caller-id" {
		t.Errorf("caller id not kept: body=%q header=%q", w.Body.String(), w.Header().Get(RequestIDHeader))
	}
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery(testLogger()))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}

	var body map[string]map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["error"]["kind"] != "internal_error" {
		t.Errorf("body = %v", body)
	}
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://app.example.com"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Error("allowed origin not echoed")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin must not be allowed")
	}
}

type memoryUsers struct {
	users map[string]*models.User
}

func (m *memoryUsers) Create(_ context.Context, u *models.User) error {
	u.ID = uuid.New()
	m.users[u.Email] = u
	return nil
}

func (m *memoryUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	return m.users[email], nil
}

func (m *memoryUsers) FindById(_ context.Context, id string) (*models.User, error) {
	for _, u := range m.users {
		if u.ID.String() == id {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memoryUsers) Count(context.Context) (int64, error) {
	return int64(len(m.users)), nil
}

func TestRequireAuth(t *testing.T) {
	auth := service.NewAuthService(&memoryUsers{users: map[string]*models.User{}}, "secret", 1, false)
	ctx := context.Background()
	if err := auth.Register(ctx, "admin@example.com", "password123", "Admin"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	token, err := auth.Login(ctx, "admin@example.com", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	r := gin.New()
	r.Use(RequireAuth(auth))
	r.GET("/admin", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("email")) })

	tests := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Token " + token, http.StatusUnauthorized},
		{"Bearer not-a-jwt", http.StatusUnauthorized},
		{"Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tt.status {
			t.Errorf("Authorization %q: status = %d, want %d", tt.header, w.Code, tt.status)
		}
		if w.Code == http.StatusOK && w.Body.String() != "admin@example.com" {
			t.Errorf("email = %q", w.Body.String())
		}
	}
}

type countingLimiter struct {
	counts map[string]int
}

func (l *countingLimiter) Check(_ context.Context, key string, limit int) ratelimit.Result {
	l.counts[key]++
	n := l.counts[key]
	remaining := limit - n
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.Result{Allowed: n <= limit, Limit: limit, Remaining: remaining, ResetAt: time.Now().Add(time.Minute)}
}

func (l *countingLimiter) Window() time.Duration { return time.Minute }

func TestRateLimitByIP(t *testing.T) {
	limiter := &countingLimiter{counts: map[string]int{}}
	r := gin.New()
	r.POST("/login", RateLimitByIP(limiter, 2, "login"), func(c *gin.Context) { c.Status(http.StatusOK) })

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		r.ServeHTTP(last, httptest.NewRequest(http.MethodPost, "/login", nil))
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", last.Code)
	}
	if last.Header().Get("X-RateLimit-Limit") != "2" || last.Header().Get("Retry-After") == "" {
		t.Errorf("headers = %v", last.Header())
	}
}
