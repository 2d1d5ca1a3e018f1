package provider

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/aman-churiwal/ai-gateway/internal/config"
	"github.com/aman-churiwal/ai-gateway/internal/loadbalancer"
)

// Default fallback order for well-known vendors when none is configured.
var defaultFallbacks = map[string][]string{
	"openai":     {"anthropic", "google", "groq", "mistral"},
	"anthropic":  {"openai", "google", "groq", "mistral"},
	"google":     {"openai", "anthropic", "groq", "mistral"},
	"xai":        {"openai", "anthropic", "groq", "google"},
	"deepseek":   {"openai", "anthropic", "groq", "google"},
	"mistral":    {"openai", "anthropic", "groq", "google"},
	"groq":       {"openai", "anthropic", "google", "mistral"},
	"together":   {"openai", "anthropic", "google"},
	"perplexity": {"openai", "anthropic", "google"},
}

// Equivalent models across vendors, keyed by the requested model.
var defaultModelMap = map[string]map[string]string{
	"gpt-5":             {"anthropic": "claude-opus-4", "google": "gemini-3-pro"},
	"gpt-4o":            {"anthropic": "claude-sonnet-4", "google": "gemini-2.5-flash"},
	"gpt-4o-mini":       {"anthropic": "claude-haiku-4.5", "google": "gemini-2.5-flash-lite"},
	"o1":                {"anthropic": "claude-sonnet-4", "google": "gemini-2.5-pro"},
	"claude-opus-4":     {"openai": "gpt-5", "google": "gemini-3-pro"},
	"claude-sonnet-4":   {"openai": "gpt-4o", "google": "gemini-2.5-flash"},
	"claude-sonnet-4.5": {"openai": "gpt-4o", "google": "gemini-2.5-flash"},
	"claude-haiku-4.5":  {"openai": "gpt-4o-mini", "google": "gemini-2.5-flash-lite"},
	"gemini-2.5-pro":    {"openai": "gpt-4o", "anthropic": "claude-sonnet-4"},
	"gemini-2.5-flash":  {"openai": "gpt-4o", "anthropic": "claude-sonnet-4"},
	"deepseek-chat":     {"openai": "gpt-4o", "anthropic": "claude-sonnet-4", "google": "gemini-2.5-flash"},
	"mistral-large-latest": {
		"openai": "gpt-4o", "anthropic": "claude-sonnet-4", "google": "gemini-2.5-flash",
	},
}

var defaultModels = map[string]string{
	"openai":    "gpt-4o",
	"anthropic": "claude-sonnet-4",
	"google":    "gemini-2.5-flash",
}

// Route is how a provider takes part in failover.
type Route struct {
	Fallbacks    []string
	DefaultModel string
	// ModelMap maps a requested model to this provider's equivalent.
	ModelMap map[string]string
}

type Registry struct {
	providers map[string]Provider
	routes    map[string]Route
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		routes:    make(map[string]Route),
	}
}

// FromConfig builds an HTTP provider for every configured entry.
func FromConfig(cfgs []config.ProviderConfig, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, c := range cfgs {
		strategy, err := loadbalancer.New(c.Strategy)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", c.Name, err)
		}

		p := NewHTTPProvider(HTTPOptions{
			Name:      c.Name,
			Endpoints: c.Targets,
			Strategy:  strategy,
			APIKey:    c.APIKey,
			Timeout:   c.Timeout,
			Pricing: Pricing{
				InputPer1K:  c.Pricing.InputPer1K,
				OutputPer1K: c.Pricing.OutputPer1K,
				MarkupPct:   c.Pricing.MarkupPct,
			},
		}, logger)

		r.Register(p, Route{
			Fallbacks:    c.Fallbacks,
			DefaultModel: c.DefaultModel,
			ModelMap:     c.ModelMap,
		})
		logger.Info("provider registered", "provider", c.Name, "targets", len(c.Targets), "strategy", strategy.Name())
	}
	return r, nil
}

func (r *Registry) Register(p Provider, route Route) {
	r.providers[p.Name()] = p
	r.routes[p.Name()] = route
}

func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Chain returns primary followed by its fallbacks, skipping duplicates and
// providers that are not registered.
func (r *Registry) Chain(primary string) []string {
	fallbacks := r.routes[primary].Fallbacks
	if fallbacks == nil {
		fallbacks = defaultFallbacks[primary]
	}

	seen := map[string]bool{}
	chain := make([]string, 0, len(fallbacks)+1)
	for _, name := range append([]string{primary}, fallbacks...) {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := r.providers[name]; ok {
			chain = append(chain, name)
		}
	}
	return chain
}

// ModelFor returns the model to request from provider. The primary always
// gets the requested model as is.
func (r *Registry) ModelFor(provider, requested string, fallback bool) string {
	route := r.routes[provider]
	if !fallback {
		if requested == "" {
			return route.DefaultModel
		}
		return requested
	}

	if m, ok := route.ModelMap[requested]; ok {
		return m
	}
	if m, ok := defaultModelMap[requested][provider]; ok {
		return m
	}
	if route.DefaultModel != "" {
		return route.DefaultModel
	}
	if m, ok := defaultModels[provider]; ok {
		return m
	}
	return requested
}
