package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/ai-gateway/internal/apperr"
	"github.com/aman-churiwal/ai-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/ai-gateway/internal/gatewaylog"
	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/aman-churiwal/ai-gateway/internal/provider"
	"github.com/aman-churiwal/ai-gateway/internal/ratelimit"
	"github.com/aman-churiwal/ai-gateway/internal/security"
	"github.com/aman-churiwal/ai-gateway/internal/service"
	"github.com/aman-churiwal/ai-gateway/internal/storage"
	"github.com/aman-churiwal/ai-gateway/internal/webhook"
	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const validKey = "gw_live_valid"

type stubKeys struct {
	identity *service.Identity
	mu       sync.Mutex
	touched  int
}

func (s *stubKeys) Verify(_ context.Context, raw string) (*service.Identity, error) {
	if raw != validKey {
		return nil, apperr.New(apperr.KindAuthentication, "Invalid API key")
	}
	id := *s.identity
	return &id, nil
}

func (s *stubKeys) TouchLastUsed(context.Context, uuid.UUID) {
	s.mu.Lock()
	s.touched++
	s.mu.Unlock()
}

type stubLimiter struct {
	allow     bool
	lastKey   string
	lastLimit int
}

func (s *stubLimiter) Check(_ context.Context, key string, limit int) ratelimit.Result {
	s.lastKey = key
	s.lastLimit = limit
	remaining := limit - 1
	if !s.allow {
		remaining = 0
	}
	return ratelimit.Result{Allowed: s.allow, Limit: limit, Remaining: remaining, ResetAt: time.Unix(1700000000, 0)}
}

func (s *stubLimiter) Window() time.Duration { return time.Minute }

type stubBudgets struct {
	mu     sync.Mutex
	status *service.BudgetStatus
	err    error
	spend  []*models.SpendEntry
	alerts []int
}

func (s *stubBudgets) CheckBudget(_ context.Context, projectID uuid.UUID) (*service.BudgetStatus, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.status != nil {
		return s.status, nil
	}
	return &service.BudgetStatus{ProjectID: projectID}, nil
}

func (s *stubBudgets) RecordSpend(_ context.Context, e *models.SpendEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spend = append(s.spend, e)
	return nil
}

func (s *stubBudgets) NewAlerts(context.Context, *service.BudgetStatus) ([]int, error) {
	fired := s.alerts
	s.alerts = nil
	return fired, nil
}

type stubPolicy struct {
	cfg       security.Config
	mu        sync.Mutex
	incidents []*models.SecurityIncident
}

func (s *stubPolicy) ConfigFor(context.Context, uuid.UUID) security.Config { return s.cfg }

func (s *stubPolicy) RecordIncident(_ context.Context, i *models.SecurityIncident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = append(s.incidents, i)
	return nil
}

// scriptedClassifier flags any text containing a trigger word.
type scriptedClassifier struct{}

func (scriptedClassifier) Classify(_ context.Context, req security.ClassifyRequest) ([]security.Classification, error) {
	if strings.Contains(req.Text, "FORBIDDEN") {
		return []security.Classification{{Layer: security.LayerHarmful, RiskScore: 0.9, Confidence: 0.9, Patterns: []string{"forbidden"}}}, nil
	}
	return nil, nil
}

type stubProvider struct {
	name   string
	mu     sync.Mutex
	calls  int
	models []string
	fn     func(ctx context.Context) (*provider.Response, error)
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Complete(ctx context.Context, req provider.Request) (*provider.Response, error) {
	p.mu.Lock()
	p.calls++
	p.models = append(p.models, req.Model)
	p.mu.Unlock()
	if p.fn != nil {
		return p.fn(ctx)
	}
	return &provider.Response{
		Provider: p.name,
		Model:    req.Model,
		Content:  "hello from " + p.name,
		Usage:    provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		CostUSD:  0.001,
	}, nil
}

func failing(status int) func(context.Context) (*provider.Response, error) {
	return func(context.Context) (*provider.Response, error) {
		return nil, &provider.Error{Provider: "stub", StatusCode: status, Message: http.StatusText(status)}
	}
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []gatewaylog.Entry
}

func (l *recordingLogger) Log(_ context.Context, e gatewaylog.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []webhook.Event
}

func (n *recordingNotifier) Notify(e webhook.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		out = append(out, e.Type())
	}
	return out
}

func (n *recordingNotifier) has(eventType string) bool {
	for _, t := range n.types() {
		if t == eventType {
			return true
		}
	}
	return false
}

type fixture struct {
	keys      *stubKeys
	limiter   *stubLimiter
	budgets   *stubBudgets
	policy    *stubPolicy
	circuits  *circuitbreaker.Registry
	router    *provider.Registry
	primary   *stubProvider
	secondary *stubProvider
	logs      *recordingLogger
	events    *recordingNotifier
	opts      Options
	requests  RequestLogger
	// counter replaces the stub limiter when set.
	counter ratelimit.Limiter
}

func newFixture() *fixture {
	f := &fixture{
		keys: &stubKeys{identity: &service.Identity{
			KeyID:       uuid.New(),
			ProjectID:   uuid.New(),
			Environment: models.EnvironmentProduction,
			Class:       models.KeyClassStandard,
		}},
		limiter:   &stubLimiter{allow: true},
		budgets:   &stubBudgets{},
		policy:    &stubPolicy{cfg: security.DefaultConfig(security.DefaultSafetyThreshold)},
		circuits:  circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Hour}),
		router:    provider.NewRegistry(),
		primary:   &stubProvider{name: "openai"},
		secondary: &stubProvider{name: "anthropic"},
		logs:      &recordingLogger{},
		events:    &recordingNotifier{},
		opts:      Options{DefaultProvider: "openai", DefaultRateLimit: 60},
	}
	f.router.Register(f.primary, provider.Route{Fallbacks: []string{"anthropic"}})
	f.router.Register(f.secondary, provider.Route{Fallbacks: []string{}, DefaultModel: "claude-sonnet-4"})
	f.requests = f.logs
	return f
}

func (f *fixture) orchestrator() *Orchestrator {
	var limiter ratelimit.Limiter = f.limiter
	if f.counter != nil {
		limiter = f.counter
	}
	return NewOrchestrator(Dependencies{
		Keys:     f.keys,
		Limiter:  limiter,
		Budgets:  f.budgets,
		Scanner:  security.NewScanner(scriptedClassifier{}, time.Second, true, testLogger()),
		Policy:   f.policy,
		Router:   f.router,
		Circuits: f.circuits,
		Logger:   f.requests,
		Notifier: f.events,
	}, f.opts, testLogger())
}

func chatRequest(content string) *Request {
	return &Request{
		RequestID:  "req-1",
		Credential: validKey,
		Endpoint:   "/v1/chat/completions",
		Method:     http.MethodPost,
		Header:     http.Header{},
		Model:      "gpt-4o",
		Messages:   []provider.Message{{Role: "user", Content: content}},
	}
}

func (f *fixture) onlyLog(t *testing.T) gatewaylog.Entry {
	t.Helper()
	f.logs.mu.Lock()
	defer f.logs.mu.Unlock()
	if len(f.logs.entries) != 1 {
		t.Fatalf("gateway logs = %d, want exactly 1", len(f.logs.entries))
	}
	return f.logs.entries[0]
}

func TestExecuteSuccess(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	resp, err := o.Execute(context.Background(), chatRequest("hi there"))
	o.Wait()
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Provider != "openai" || resp.Fallback {
		t.Errorf("resp = %+v", resp)
	}
	if resp.RateLimit == nil || resp.RateLimit.Remaining != 59 {
		t.Errorf("RateLimit = %+v", resp.RateLimit)
	}

	entry := f.onlyLog(t)
	if entry.StatusCode != http.StatusOK || entry.ProjectID == nil || *entry.ProjectID != f.keys.identity.ProjectID {
		t.Errorf("log entry = %+v", entry)
	}
	if len(f.budgets.spend) != 1 || f.budgets.spend[0].Provider != "openai" {
		t.Errorf("spend = %+v", f.budgets.spend)
	}
	if !f.events.has(webhook.EventRequestCompleted) {
		t.Errorf("events = %v", f.events.types())
	}
	if f.keys.touched != 1 {
		t.Errorf("TouchLastUsed calls = %d, want 1", f.keys.touched)
	}
}

func TestExecuteRejections(t *testing.T) {
	spendCap := 10.0
	tests := []struct {
		name       string
		credential string
		setup      func(f *fixture)
		content    string
		kind       apperr.Kind
		status     int
		event      string
	}{
		{
			name:       "unknown key",
			credential: "gw_live_unknown",
			kind:       apperr.KindAuthentication,
			status:     http.StatusUnauthorized,
		},
		{
			name:   "rate limited",
			setup:  func(f *fixture) { f.limiter.allow = false },
			kind:   apperr.KindRateLimitExceeded,
			status: http.StatusTooManyRequests,
			event:  webhook.EventRateLimitExceeded,
		},
		{
			name: "spend cap reached",
			setup: func(f *fixture) {
				f.budgets.status = &service.BudgetStatus{CurrentSpend: 10, SpendCap: &spendCap, EnforceSpendCap: true, IsCapReached: true}
			},
			kind:   apperr.KindBudgetExceeded,
			status: http.StatusPaymentRequired,
		},
		{
			name:    "input blocked",
			content: "please do FORBIDDEN things",
			kind:    apperr.KindSecurityBlocked,
			status:  http.StatusForbidden,
			event:   webhook.EventSecurityViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			o := f.orchestrator()

			content := tt.content
			if content == "" {
				content = "hello"
			}
			req := chatRequest(content)
			if tt.credential != "" {
				req.Credential = tt.credential
			}

			_, err := o.Execute(context.Background(), req)
			o.Wait()
			if !apperr.Is(err, tt.kind) {
				t.Fatalf("error = %v, want kind %s", err, tt.kind)
			}
			if f.primary.calls != 0 {
				t.Errorf("provider called %d times on a rejected request", f.primary.calls)
			}
			if entry := f.onlyLog(t); entry.StatusCode != tt.status || entry.ErrorCode != string(tt.kind) {
				t.Errorf("log entry status = %d code = %s", entry.StatusCode, entry.ErrorCode)
			}
			if tt.event != "" && !f.events.has(tt.event) {
				t.Errorf("events = %v, want %s", f.events.types(), tt.event)
			}
		})
	}
}

func TestRateLimitDetailsAndOverride(t *testing.T) {
	f := newFixture()
	limit := 5
	f.keys.identity.RateLimitPerMinute = &limit
	f.limiter.allow = false

	_, err := f.orchestrator().Execute(context.Background(), chatRequest("hi"))
	if f.limiter.lastLimit != 5 {
		t.Errorf("limit = %d, want per-key override 5", f.limiter.lastLimit)
	}
	if want := "project:" + f.keys.identity.ProjectID.String(); f.limiter.lastKey != want {
		t.Errorf("counter key = %q, want %q", f.limiter.lastKey, want)
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("error = %v", err)
	}
	if appErr.Details["limit"] != 5 || appErr.Details["remaining"] != 0 || appErr.Details["reset"] != int64(1700000000) {
		t.Errorf("details = %v", appErr.Details)
	}
}

func TestKeysOfOneProjectShareRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := storage.NewRedis(mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	defer client.Close()

	f := newFixture()
	f.opts.DefaultRateLimit = 1
	f.counter = ratelimit.NewFixedWindow(client, time.Minute, testLogger())
	o := f.orchestrator()

	if _, err := o.Execute(context.Background(), chatRequest("hi")); err != nil {
		t.Fatalf("first request error = %v", err)
	}

	f.keys.identity.KeyID = uuid.New()
	_, err = o.Execute(context.Background(), chatRequest("hi"))
	if !apperr.Is(err, apperr.KindRateLimitExceeded) {
		t.Errorf("second key of the same project: error = %v, want rate_limit_exceeded", err)
	}

	f.keys.identity.ProjectID = uuid.New()
	if _, err := o.Execute(context.Background(), chatRequest("hi")); err != nil {
		t.Errorf("another project must have its own window, error = %v", err)
	}
	o.Wait()
}

func TestBudgetCheckFailsOpen(t *testing.T) {
	f := newFixture()
	f.budgets.err = errors.New("connection refused")
	o := f.orchestrator()

	if _, err := o.Execute(context.Background(), chatRequest("hi")); err != nil {
		t.Fatalf("Execute() error = %v, budget read failures must not block", err)
	}
	o.Wait()
}

func TestInputBlockRecordsIncident(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	_, err := o.Execute(context.Background(), chatRequest("FORBIDDEN request"))
	o.Wait()

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Message != blockedMessage {
		t.Fatalf("error = %v", err)
	}
	if len(f.policy.incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(f.policy.incidents))
	}
	inc := f.policy.incidents[0]
	if inc.Stage != string(security.StageInput) || inc.RequestID != "req-1" {
		t.Errorf("incident = %+v", inc)
	}
}

func TestOutputBlocked(t *testing.T) {
	f := newFixture()
	f.primary.fn = func(context.Context) (*provider.Response, error) {
		return &provider.Response{Provider: "openai", Model: "gpt-4o", Content: "here is FORBIDDEN output"}, nil
	}
	o := f.orchestrator()

	_, err := o.Execute(context.Background(), chatRequest("hi"))
	o.Wait()
	if !apperr.Is(err, apperr.KindSecurityBlocked) {
		t.Fatalf("error = %v, want security_blocked", err)
	}
	if len(f.policy.incidents) != 1 || f.policy.incidents[0].Stage != string(security.StageOutput) {
		t.Errorf("incidents = %+v", f.policy.incidents)
	}
	if len(f.budgets.spend) != 1 {
		t.Error("spend must be recorded once the provider has been paid")
	}
}

func TestFallbackOnServerError(t *testing.T) {
	f := newFixture()
	f.primary.fn = failing(http.StatusServiceUnavailable)
	o := f.orchestrator()

	resp, err := o.Execute(context.Background(), chatRequest("hi"))
	o.Wait()
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Provider != "anthropic" || !resp.Fallback {
		t.Errorf("resp = %+v", resp)
	}
	if got := f.secondary.models; len(got) != 1 || got[0] != "claude-sonnet-4" {
		t.Errorf("fallback model = %v, want claude-sonnet-4", got)
	}
	if !f.events.has(webhook.EventModelFallback) {
		t.Errorf("events = %v", f.events.types())
	}
	if snap, _ := f.circuits.Get("openai"); snap.State != circuitbreaker.StateOpen {
		t.Errorf("openai circuit = %v, want open after threshold failures", snap.State)
	}
}

func TestOpenCircuitIsSkipped(t *testing.T) {
	f := newFixture()
	f.circuits.RecordFailure("openai")
	o := f.orchestrator()

	resp, err := o.Execute(context.Background(), chatRequest("hi"))
	o.Wait()
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if f.primary.calls != 0 {
		t.Errorf("open circuit provider was called")
	}
	if resp.Provider != "anthropic" {
		t.Errorf("served by %s", resp.Provider)
	}
}

func TestClientErrorStopsChain(t *testing.T) {
	f := newFixture()
	f.primary.fn = failing(http.StatusBadRequest)
	o := f.orchestrator()

	_, err := o.Execute(context.Background(), chatRequest("hi"))
	o.Wait()
	if !apperr.Is(err, apperr.KindInvalidRequest) {
		t.Fatalf("error = %v, want invalid_request", err)
	}
	if f.secondary.calls != 0 {
		t.Error("a request the provider rejected must not be retried elsewhere")
	}
	if snap, _ := f.circuits.Get("openai"); snap.FailureCount != 0 {
		t.Errorf("client errors must not count against the circuit, got %d", snap.FailureCount)
	}
}

func halfOpenFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	f := newFixture()
	f.circuits = circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: 1,
		Timeout:          time.Minute,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		},
	})
	f.circuits.Register("openai")
	f.circuits.Register("anthropic")
	f.circuits.RecordFailure("openai")

	mu.Lock()
	now = now.Add(61 * time.Second)
	mu.Unlock()
	return f
}

func TestHalfOpenProbeRejectedByProviderCloses(t *testing.T) {
	f := halfOpenFixture(t)
	f.primary.fn = failing(http.StatusBadRequest)
	o := f.orchestrator()

	_, err := o.Execute(context.Background(), chatRequest("hi"))
	if !apperr.Is(err, apperr.KindInvalidRequest) {
		t.Fatalf("error = %v, want invalid_request", err)
	}
	if snap, _ := f.circuits.Get("openai"); snap.State != circuitbreaker.StateClosed {
		t.Fatalf("state = %s, want closed once the provider answered", snap.State)
	}

	f.primary.fn = nil
	resp, err := o.Execute(context.Background(), chatRequest("hi"))
	o.Wait()
	if err != nil || resp.Provider != "openai" {
		t.Errorf("resp = %+v, err = %v, want served by openai", resp, err)
	}
}

func TestHalfOpenProbeCanceledIsReleased(t *testing.T) {
	f := halfOpenFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.primary.fn = func(context.Context) (*provider.Response, error) {
		cancel()
		return nil, context.Canceled
	}
	o := f.orchestrator()

	_, err := o.Execute(ctx, chatRequest("hi"))
	if !apperr.Is(err, apperr.KindProviderUnavailable) {
		t.Fatalf("error = %v, want provider_unavailable", err)
	}
	if snap, _ := f.circuits.Get("openai"); snap.FailureCount != 1 {
		t.Errorf("failure count = %d, cancellation must not count", snap.FailureCount)
	}

	f.primary.fn = nil
	resp, err := o.Execute(context.Background(), chatRequest("hi"))
	o.Wait()
	if err != nil || resp.Provider != "openai" {
		t.Fatalf("resp = %+v, err = %v, want the next request to probe openai", resp, err)
	}
	if snap, _ := f.circuits.Get("openai"); snap.State != circuitbreaker.StateClosed {
		t.Errorf("state = %s, want closed", snap.State)
	}
}

func TestAllCircuitsOpen(t *testing.T) {
	f := newFixture()
	f.circuits.RecordFailure("openai")
	f.circuits.RecordFailure("anthropic")
	o := f.orchestrator()

	_, err := o.Execute(context.Background(), chatRequest("hi"))
	o.Wait()
	if !apperr.Is(err, apperr.KindProviderUnavailable) || !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("error = %v, want provider_unavailable caused by open circuits", err)
	}
	if f.primary.calls != 0 || f.secondary.calls != 0 {
		t.Error("no provider should be called while every circuit is open")
	}
}

func TestAllProvidersUnavailable(t *testing.T) {
	f := newFixture()
	f.primary.fn = failing(http.StatusBadGateway)
	f.secondary.fn = failing(http.StatusTooManyRequests)
	o := f.orchestrator()

	_, err := o.Execute(context.Background(), chatRequest("hi"))
	o.Wait()
	if !apperr.Is(err, apperr.KindProviderUnavailable) {
		t.Fatalf("error = %v, want provider_unavailable", err)
	}
	if entry := f.onlyLog(t); entry.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", entry.StatusCode)
	}
	if !f.events.has(webhook.EventRequestFailed) {
		t.Errorf("events = %v", f.events.types())
	}
}

func TestProviderTimeoutCountsAsFailure(t *testing.T) {
	f := newFixture()
	f.opts.ProviderTimeout = 20 * time.Millisecond
	f.primary.fn = func(ctx context.Context) (*provider.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	o := f.orchestrator()

	resp, err := o.Execute(context.Background(), chatRequest("hi"))
	o.Wait()
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.Provider != "anthropic" {
		t.Errorf("served by %s, want fallback", resp.Provider)
	}
	if snap, _ := f.circuits.Get("openai"); snap.FailureCount != 1 {
		t.Errorf("failure count = %d, want 1", snap.FailureCount)
	}
}

func TestUnknownProvider(t *testing.T) {
	f := newFixture()
	req := chatRequest("hi")
	req.Provider = "nope"

	_, err := f.orchestrator().Execute(context.Background(), req)
	if !apperr.Is(err, apperr.KindInvalidRequest) {
		t.Errorf("error = %v, want invalid_request", err)
	}
}

func TestEmptyMessages(t *testing.T) {
	f := newFixture()
	req := chatRequest("")
	req.Messages = nil

	_, err := f.orchestrator().Execute(context.Background(), req)
	if !apperr.Is(err, apperr.KindInvalidRequest) {
		t.Errorf("error = %v, want invalid_request", err)
	}
	f.onlyLog(t)
}

func TestBudgetAlertsEmitEvents(t *testing.T) {
	f := newFixture()
	budget := 1.0
	f.budgets.status = &service.BudgetStatus{CurrentSpend: 0.85, MonthlyBudget: &budget, PercentUsed: 85, AlertsEnabled: true}
	f.budgets.alerts = []int{50, 80}
	o := f.orchestrator()

	if _, err := o.Execute(context.Background(), chatRequest("hi")); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	o.Wait()

	count := 0
	for _, e := range f.events.types() {
		if e == webhook.EventBudgetThreshold {
			count++
		}
	}
	if count != 2 {
		t.Errorf("budget.threshold events = %d, want 2", count)
	}
}

type brokenStore struct{ panics bool }

func (s brokenStore) Create(context.Context, *models.GatewayLog) error {
	if s.panics {
		panic("driver bug")
	}
	return errors.New("relation gateway_logs does not exist")
}

func (s brokenStore) CreateMinimal(context.Context, *models.GatewayLog) error {
	return errors.New("still broken")
}

func TestLogFailureDoesNotAffectResponse(t *testing.T) {
	for _, panics := range []bool{false, true} {
		f := newFixture()
		degraded := 0
		logger := gatewaylog.NewLogger(brokenStore{panics: panics}, time.Second, testLogger())
		logger.OnDegraded = func(error) { degraded++ }
		f.requests = logger
		o := f.orchestrator()

		resp, err := o.Execute(context.Background(), chatRequest("hi"))
		o.Wait()
		if err != nil || resp.Content != "hello from openai" {
			t.Errorf("panics=%v: resp = %+v, err = %v", panics, resp, err)
		}
		if degraded != 1 {
			t.Errorf("degraded = %d, want 1", degraded)
		}
	}
}

func TestSplitConversation(t *testing.T) {
	text, history := splitConversation([]provider.Message{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	})
	if text != "second" || len(history) != 3 {
		t.Errorf("text = %q, history = %d", text, len(history))
	}

	text, history = splitConversation([]provider.Message{{Role: "system", Content: "only"}})
	if text != "only" || len(history) != 0 {
		t.Errorf("text = %q, history = %d", text, len(history))
	}
}
