package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aman-churiwal/ai-gateway/internal/loadbalancer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const chatCompletionsPath = "/v1/chat/completions"

// HTTPProvider speaks the OpenAI-compatible chat completions protocol to a
// set of interchangeable endpoints.
type HTTPProvider struct {
	name      string
	endpoints []string
	strategy  loadbalancer.Strategy
	apiKey    string
	pricing   Pricing
	client    *http.Client
	logger    *slog.Logger
}

type HTTPOptions struct {
	Name      string
	Endpoints []string
	Strategy  loadbalancer.Strategy
	APIKey    string
	Pricing   Pricing
	Timeout   time.Duration
}

func NewHTTPProvider(opts HTTPOptions, logger *slog.Logger) *HTTPProvider {
	if opts.Strategy == nil {
		opts.Strategy = loadbalancer.NewRoundRobin()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	endpoints := make([]string, len(opts.Endpoints))
	for i, e := range opts.Endpoints {
		endpoints[i] = strings.TrimRight(e, "/")
	}

	return &HTTPProvider{
		name:      opts.Name,
		endpoints: endpoints,
		strategy:  opts.Strategy,
		apiKey:    opts.APIKey,
		pricing:   opts.Pricing,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *HTTPProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	endpoint, release := loadbalancer.Begin(p.strategy, p.endpoints)
	defer release()
	if endpoint == "" {
		return nil, &Error{Provider: p.name, Message: "no endpoints configured", Err: fmt.Errorf("empty endpoint list")}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.logger.Warn("provider request failed", "provider", p.name, "endpoint", endpoint, "error", err)
		return nil, &Error{Provider: p.name, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &Error{Provider: p.name, Message: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResponse
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
			msg = e.Error.Message
		}
		return nil, &Error{Provider: p.name, StatusCode: resp.StatusCode, Message: msg}
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, &Error{Provider: p.name, StatusCode: http.StatusBadGateway, Message: "malformed response", Err: err}
	}
	if len(chat.Choices) == 0 {
		return nil, &Error{Provider: p.name, StatusCode: http.StatusBadGateway, Message: "response has no choices"}
	}

	model := chat.Model
	if model == "" {
		model = req.Model
	}
	if chat.Usage.TotalTokens == 0 {
		chat.Usage.TotalTokens = chat.Usage.PromptTokens + chat.Usage.CompletionTokens
	}

	return &Response{
		ID:       chat.ID,
		Provider: p.name,
		Model:    model,
		Content:  chat.Choices[0].Message.Content,
		Usage:    chat.Usage,
		CostUSD:  p.pricing.Cost(chat.Usage),
		Latency:  time.Since(start),
	}, nil
}
