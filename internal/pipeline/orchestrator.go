package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/apperr"
	"github.com/aman-churiwal/ai-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/ai-gateway/internal/gatewaylog"
	"github.com/aman-churiwal/ai-gateway/internal/metrics"
	"github.com/aman-churiwal/ai-gateway/internal/models"
	"github.com/aman-churiwal/ai-gateway/internal/provider"
	"github.com/aman-churiwal/ai-gateway/internal/ratelimit"
	"github.com/aman-churiwal/ai-gateway/internal/security"
	"github.com/aman-churiwal/ai-gateway/internal/service"
	"github.com/aman-churiwal/ai-gateway/internal/telemetry"
	"github.com/aman-churiwal/ai-gateway/internal/webhook"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const blockedMessage = "Request blocked by content policy"

// Orchestrator runs one request through every gate in a fixed order and
// always leaves exactly one gateway log behind.
type Orchestrator struct {
	keys     KeyVerifier
	limiter  ratelimit.Limiter
	budgets  BudgetEnforcer
	scanner  ContentScanner
	policy   SecurityPolicy
	router   Router
	circuits Circuits
	requests RequestLogger
	notifier Notifier
	metrics  *metrics.Metrics
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
	detached sync.WaitGroup
}

type Dependencies struct {
	Keys     KeyVerifier
	Limiter  ratelimit.Limiter
	Budgets  BudgetEnforcer
	Scanner  ContentScanner
	Policy   SecurityPolicy
	Router   Router
	Circuits Circuits
	Logger   RequestLogger
	Notifier Notifier
	Metrics  *metrics.Metrics
}

func NewOrchestrator(deps Dependencies, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.DefaultRateLimit <= 0 {
		opts.DefaultRateLimit = 60
	}
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = security.DefaultPreviewLength
	}
	return &Orchestrator{
		keys:     deps.Keys,
		limiter:  deps.Limiter,
		budgets:  deps.Budgets,
		scanner:  deps.Scanner,
		policy:   deps.Policy,
		router:   deps.Router,
		circuits: deps.Circuits,
		requests: deps.Logger,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// run carries what earlier stages learned to later ones and to the log.
type run struct {
	identity  *service.Identity
	limit     *ratelimit.Result
	input     security.CheckResult
	inputText string
	served    string
	primary   string
	model     string
	attempts  []string
	usage     provider.Usage
	costUSD   float64
}

// Execute runs the pipeline. Rejections are *apperr.Error values whose
// Kind is stable and machine readable.
func (o *Orchestrator) Execute(ctx context.Context, req *Request) (resp *Response, err error) {
	start := o.now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.execute",
		trace.WithAttributes(attribute.String("request_id", req.RequestID)))
	defer span.End()

	r := &run{}
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("pipeline panicked", "request_id", req.RequestID, "panic", p)
			resp, err = nil, apperr.New(apperr.KindInternal, "Internal Server Error")
		}
		if err != nil {
			span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		}
		o.finish(ctx, req, r, resp, err, start)
	}()

	if err := o.verify(ctx, req, r); err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "messages must not be empty")
	}
	if err := o.rateLimit(ctx, r); err != nil {
		return nil, err
	}
	if err := o.checkBudget(ctx, r); err != nil {
		return nil, err
	}

	cfg := o.policy.ConfigFor(ctx, r.identity.ProjectID)
	if err := o.scanInput(ctx, req, r, cfg); err != nil {
		return nil, err
	}

	out, err := o.dispatch(ctx, req, r)
	if err != nil {
		return nil, err
	}
	o.recordSpend(ctx, req, r)

	if err := o.scanOutput(ctx, req, r, out.Content, cfg); err != nil {
		return nil, err
	}

	return &Response{
		RequestID: req.RequestID,
		Provider:  out.Provider,
		Model:     out.Model,
		Content:   out.Content,
		Usage:     out.Usage,
		CostUSD:   out.CostUSD,
		Fallback:  r.served != r.primary,
		RateLimit: r.limit,
	}, nil
}

// Wait blocks until detached work started by Execute has finished.
func (o *Orchestrator) Wait() {
	o.detached.Wait()
}

func (o *Orchestrator) verify(ctx context.Context, req *Request, r *run) error {
	_, span := telemetry.Tracer().Start(ctx, "pipeline.verify")
	defer span.End()

	identity, err := o.keys.Verify(ctx, req.Credential)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			o.logger.Error("key verification failed", "request_id", req.RequestID, "error", err)
		}
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperr.Wrap(apperr.KindAuthentication, "Invalid API key", err)
	}
	r.identity = identity
	span.SetAttributes(attribute.String("project_id", identity.ProjectID.String()))
	return nil
}

func (o *Orchestrator) rateLimit(ctx context.Context, r *run) error {
	// Every key of a project draws from one window. A key's override sets
	// the cap that key sees against the shared count.
	limit := o.opts.DefaultRateLimit
	if r.identity.RateLimitPerMinute != nil && *r.identity.RateLimitPerMinute > 0 {
		limit = *r.identity.RateLimitPerMinute
	}

	result := o.limiter.Check(ctx, RateLimitKey(r.identity.ProjectID), limit)
	r.limit = &result
	if result.FailedOpen {
		o.metrics.RateLimitFailOpen()
	}
	if result.Allowed {
		return nil
	}

	o.notify(webhook.EventRateLimitExceeded, r.identity.ProjectID, map[string]interface{}{
		"api_key_id": r.identity.KeyID,
		"limit":      result.Limit,
		"reset_at":   result.ResetAt.UTC(),
	})

	return apperr.New(apperr.KindRateLimitExceeded, "Rate limit exceeded").WithDetails(map[string]interface{}{
		"limit":     result.Limit,
		"remaining": result.Remaining,
		"reset":     result.ResetAt.Unix(),
	})
}

// checkBudget lets the request through when spend cannot be read; the cap
// is honored again as soon as the ledger is reachable.
func (o *Orchestrator) checkBudget(ctx context.Context, r *run) error {
	status, err := o.budgets.CheckBudget(ctx, r.identity.ProjectID)
	if err != nil {
		o.logger.Warn("budget check failed, allowing request",
			"project_id", r.identity.ProjectID, "error", err)
		o.metrics.PersistenceDegraded("budget")
		return nil
	}
	if !status.IsCapReached {
		return nil
	}

	details := map[string]interface{}{"current_spend": status.CurrentSpend}
	if status.SpendCap != nil {
		details["spend_cap"] = *status.SpendCap
	}
	return apperr.New(apperr.KindBudgetExceeded, "Monthly spend cap reached").WithDetails(details)
}

func (o *Orchestrator) scanInput(ctx context.Context, req *Request, r *run, cfg security.Config) error {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.scan_input")
	defer span.End()

	text, history := splitConversation(req.Messages)
	r.inputText = text

	result, err := o.scanner.ScanInput(ctx, text, history, cfg)
	if err != nil {
		o.logger.Warn("input classifier failed",
			"request_id", req.RequestID, "failed_open", result.FailedOpen, "error", err)
	}
	r.input = result
	span.SetAttributes(attribute.Float64("risk_score", result.RiskScore))

	if !result.Blocked {
		return nil
	}
	o.incident(ctx, req, r, result, text)
	return apperr.New(apperr.KindSecurityBlocked, blockedMessage).WithDetails(map[string]interface{}{
		"stage": string(security.StageInput),
	})
}

// dispatch walks the provider chain. Open circuits and retryable failures
// move on to the next provider; a request the provider rejects stops here.
func (o *Orchestrator) dispatch(ctx context.Context, req *Request, r *run) (*provider.Response, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.provider")
	defer span.End()

	primary := req.Provider
	if primary == "" {
		primary = r.identity.DefaultProvider
	}
	if primary == "" {
		primary = o.opts.DefaultProvider
	}
	r.primary = primary

	if _, ok := o.router.Get(primary); !ok {
		return nil, apperr.New(apperr.KindInvalidRequest, "Unknown provider").WithDetails(map[string]interface{}{
			"provider": primary,
		})
	}

	var lastErr error
	for i, name := range o.router.Chain(primary) {
		if o.circuits.IsOpen(name) {
			r.attempts = append(r.attempts, name+":circuit_open")
			continue
		}
		p, _ := o.router.Get(name)
		model := o.router.ModelFor(name, req.Model, i > 0)

		out, err := o.attempt(ctx, p, provider.Request{
			Model:       model,
			Messages:    req.Messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
		if err == nil {
			o.circuits.RecordSuccess(name)
			r.attempts = append(r.attempts, name+":ok")
			r.served = name
			r.model = out.Model
			r.usage = out.Usage
			r.costUSD = out.CostUSD
			if name != primary {
				o.notify(webhook.EventModelFallback, r.identity.ProjectID, map[string]interface{}{
					"request_id":     req.RequestID,
					"from_provider":  primary,
					"to_provider":    name,
					"original_model": req.Model,
					"model":          out.Model,
					"attempts":       r.attempts,
				})
			}
			span.SetAttributes(attribute.String("provider", name))
			return out, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			// The caller went away; that says nothing about the provider.
			o.circuits.ReleaseProbe(name)
			r.attempts = append(r.attempts, name+":canceled")
			return nil, apperr.Wrap(apperr.KindProviderUnavailable, "Request canceled", ctx.Err())
		}
		if !provider.IsRetryable(err) {
			// The provider answered, so it is reachable.
			o.circuits.RecordSuccess(name)
			r.attempts = append(r.attempts, name+":rejected")
			details := map[string]interface{}{"provider": name}
			var perr *provider.Error
			if errors.As(err, &perr) {
				details["upstream_status"] = perr.StatusCode
			}
			return nil, apperr.Wrap(apperr.KindInvalidRequest, "Provider rejected the request", err).WithDetails(details)
		}

		o.circuits.RecordFailure(name)
		r.attempts = append(r.attempts, name+":failed")
		o.logger.Warn("provider attempt failed",
			"request_id", req.RequestID, "provider", name, "error", err)
	}

	if lastErr == nil {
		lastErr = circuitbreaker.ErrCircuitOpen
	}
	return nil, apperr.Wrap(apperr.KindProviderUnavailable, "All providers are unavailable", lastErr).WithDetails(map[string]interface{}{
		"attempted": r.attempts,
	})
}

func (o *Orchestrator) attempt(ctx context.Context, p provider.Provider, req provider.Request) (*provider.Response, error) {
	if o.opts.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.ProviderTimeout)
		defer cancel()
	}

	start := o.now()
	out, err := p.Complete(ctx, req)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	o.metrics.ProviderRequest(p.Name(), outcome, o.now().Sub(start))
	return out, err
}

// recordSpend writes the ledger row and raises any newly crossed budget
// alerts off the request path.
func (o *Orchestrator) recordSpend(ctx context.Context, req *Request, r *run) {
	o.metrics.Spend(r.served, r.costUSD)

	keyID := r.identity.KeyID
	entry := &models.SpendEntry{
		ProjectID:        r.identity.ProjectID,
		APIKeyID:         &keyID,
		RequestID:        req.RequestID,
		Provider:         r.served,
		Model:            r.model,
		PromptTokens:     r.usage.PromptTokens,
		CompletionTokens: r.usage.CompletionTokens,
		CostUSD:          r.costUSD,
	}
	projectID := r.identity.ProjectID

	o.background(ctx, func(ctx context.Context) {
		if err := o.budgets.RecordSpend(ctx, entry); err != nil {
			o.logger.Error("failed to record spend", "request_id", entry.RequestID, "error", err)
			o.metrics.PersistenceDegraded("spend")
			return
		}

		status, err := o.budgets.CheckBudget(ctx, projectID)
		if err != nil {
			return
		}
		fired, err := o.budgets.NewAlerts(ctx, status)
		if err != nil {
			o.logger.Warn("failed to record budget alert", "project_id", projectID, "error", err)
		}
		for _, threshold := range fired {
			data := map[string]interface{}{
				"threshold":     threshold,
				"current_spend": status.CurrentSpend,
				"percent_used":  status.PercentUsed,
			}
			if status.MonthlyBudget != nil {
				data["monthly_budget"] = *status.MonthlyBudget
			}
			o.notify(webhook.EventBudgetThreshold, projectID, data)
		}
	})
}

func (o *Orchestrator) scanOutput(ctx context.Context, req *Request, r *run, content string, cfg security.Config) error {
	if !cfg.EnableOutput {
		return nil
	}
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.scan_output")
	defer span.End()

	result, err := o.scanner.ScanOutput(ctx, content, security.ScanContext{
		InputText: r.inputText,
		Input:     r.input,
	}, cfg)
	if err != nil {
		o.logger.Warn("output classifier failed", "request_id", req.RequestID, "error", err)
	}
	if !result.Blocked {
		return nil
	}

	o.incident(ctx, req, r, result, content)
	return apperr.New(apperr.KindSecurityBlocked, blockedMessage).WithDetails(map[string]interface{}{
		"stage": string(security.StageOutput),
	})
}

func (o *Orchestrator) incident(ctx context.Context, req *Request, r *run, result security.CheckResult, content string) {
	keyID := r.identity.KeyID
	incident := security.NewIncident(r.identity.ProjectID, &keyID, req.RequestID, result, content, o.opts.PreviewLength)

	o.background(ctx, func(ctx context.Context) {
		if err := o.policy.RecordIncident(ctx, incident); err != nil {
			o.logger.Error("failed to record security incident", "request_id", req.RequestID, "error", err)
			o.metrics.PersistenceDegraded("security_incident")
		}
	})

	o.notify(webhook.EventSecurityViolation, r.identity.ProjectID, map[string]interface{}{
		"request_id": req.RequestID,
		"stage":      result.Stage,
		"layer":      result.Layer,
		"severity":   result.Severity,
		"risk_score": result.RiskScore,
		"patterns":   result.Patterns,
	})
}

// finish writes the gateway log and emits the terminal webhook event.
func (o *Orchestrator) finish(ctx context.Context, req *Request, r *run, resp *Response, err error, start time.Time) {
	status := http.StatusOK
	entry := gatewaylog.Entry{
		Start:     start,
		RequestID: req.RequestID,
		Endpoint:  req.Endpoint,
		Method:    req.Method,
		Header:    req.Header,
		IPAddress: req.IPAddress,
		Metadata: map[string]interface{}{
			"requested_model": req.Model,
		},
	}
	if r.identity != nil {
		projectID, keyID := r.identity.ProjectID, r.identity.KeyID
		entry.ProjectID = &projectID
		entry.APIKeyID = &keyID
		entry.Environment = r.identity.Environment
	}
	if r.served != "" {
		entry.Metadata["provider"] = r.served
		entry.Metadata["model"] = r.model
		entry.Metadata["prompt_tokens"] = r.usage.PromptTokens
		entry.Metadata["completion_tokens"] = r.usage.CompletionTokens
		entry.Metadata["cost_usd"] = r.costUSD
		entry.Metadata["fallback"] = r.served != r.primary
	}
	if len(r.attempts) > 0 {
		entry.Metadata["attempts"] = r.attempts
	}
	if r.input.RiskScore > 0 {
		entry.Metadata["input_risk_score"] = r.input.RiskScore
	}

	if err != nil {
		kind := apperr.KindOf(err)
		status = apperr.StatusCode(kind)
		entry.ErrorCode = string(kind)
		entry.ErrorMessage = clientMessage(err)
		o.metrics.Rejection(string(kind))
	}
	entry.StatusCode = status

	o.requests.Log(ctx, entry)

	if r.identity == nil {
		return
	}
	o.background(ctx, func(ctx context.Context) {
		o.keys.TouchLastUsed(ctx, r.identity.KeyID)
	})

	data := map[string]interface{}{
		"request_id":  req.RequestID,
		"status_code": status,
		"latency_ms":  o.now().Sub(start).Milliseconds(),
	}
	if resp != nil {
		data["provider"] = resp.Provider
		data["model"] = resp.Model
		data["total_tokens"] = resp.Usage.TotalTokens
		data["cost_usd"] = resp.CostUSD
		o.notify(webhook.EventRequestCompleted, r.identity.ProjectID, data)
		return
	}
	data["error_code"] = entry.ErrorCode
	o.notify(webhook.EventRequestFailed, r.identity.ProjectID, data)
}

func (o *Orchestrator) notify(eventType string, projectID uuid.UUID, data map[string]interface{}) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(webhook.NewEvent(eventType, projectID, data)); err != nil {
		o.logger.Debug("webhook event not queued", "event", eventType, "error", err)
	}
}

// background runs fn after the caller's context is gone, bounded so a
// stuck store cannot leak goroutines.
func (o *Orchestrator) background(ctx context.Context, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	o.detached.Add(1)
	go func() {
		defer o.detached.Done()
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				o.logger.Error("detached pipeline work panicked", "panic", p)
			}
		}()
		fn(ctx)
	}()
}

// splitConversation returns the latest user message and everything before it.
// RateLimitKey names the fixed-window counter shared by a project's keys.
func RateLimitKey(projectID uuid.UUID) string {
	return "project:" + projectID.String()
}

func splitConversation(messages []provider.Message) (string, []security.Message) {
	last := len(messages) - 1
	for i := last; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = i
			break
		}
	}

	history := make([]security.Message, 0, last)
	for _, m := range messages[:last] {
		history = append(history, security.Message{Role: m.Role, Content: m.Content})
	}
	return messages[last].Content, history
}

func clientMessage(err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return strings.TrimSpace(err.Error())
}
