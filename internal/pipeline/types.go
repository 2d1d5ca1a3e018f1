package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/gatewaylog"
	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/aman-churiwal/ai-gateway/internal/provider"
	"github.com/aman-churiwal/ai-gateway/internal/ratelimit"
	"github.com/aman-churiwal/ai-gateway/internal/security"
	"github.com/aman-churiwal/ai-gateway/internal/service"
	"github.com/aman-churiwal/ai-gateway/internal/webhook"
	"github.com/google/uuid"
)

// Request is one inbound chat completion as seen by the pipeline.
type Request struct {
	RequestID  string
	Credential string
	Endpoint   string
	Method     string
	Header     http.Header
	IPAddress  string

	// Provider overrides the project's default provider when set.
	Provider    string
	Model       string
	Messages    []provider.Message
	MaxTokens   int
	Temperature *float64
}

type Response struct {
	RequestID string            `json:"request_id"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	Content   string            `json:"content"`
	Usage     provider.Usage    `json:"usage"`
	CostUSD   float64           `json:"cost_usd"`
	Fallback  bool              `json:"fallback"`
	RateLimit *ratelimit.Result `json:"-"`
}

type KeyVerifier interface {
	Verify(ctx context.Context, raw string) (*service.Identity, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID)
}

type BudgetEnforcer interface {
	CheckBudget(ctx context.Context, projectID uuid.UUID) (*service.BudgetStatus, error)
	RecordSpend(ctx context.Context, entry *models.SpendEntry) error
	NewAlerts(ctx context.Context, status *service.BudgetStatus) ([]int, error)
}

type ContentScanner interface {
	ScanInput(ctx context.Context, text string, history []security.Message, cfg security.Config) (security.CheckResult, error)
	ScanOutput(ctx context.Context, text string, sc security.ScanContext, cfg security.Config) (security.CheckResult, error)
}

type SecurityPolicy interface {
	ConfigFor(ctx context.Context, projectID uuid.UUID) security.Config
	RecordIncident(ctx context.Context, incident *models.SecurityIncident) error
}

type Router interface {
	Get(name string) (provider.Provider, bool)
	Chain(primary string) []string
	ModelFor(provider, requested string, fallback bool) string
}

type Circuits interface {
	IsOpen(provider string) bool
	RecordSuccess(provider string)
	RecordFailure(provider string)
	ReleaseProbe(provider string)
}

type RequestLogger interface {
	Log(ctx context.Context, e gatewaylog.Entry)
}

type Notifier interface {
	Notify(event webhook.Event) error
}

type Options struct {
	DefaultProvider  string
	DefaultRateLimit int
	// ProviderTimeout bounds one provider attempt. Zero leaves it to the
	// provider's own client timeout.
	ProviderTimeout time.Duration
	PreviewLength   int
}
