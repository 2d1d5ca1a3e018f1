package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "GATEWAY_"

type Config struct {
	Server         ServerConfig         `koanf:"server"`
	Database       DatabaseConfig       `koanf:"database"`
	Redis          RedisConfig          `koanf:"redis"`
	Auth           AuthConfig           `koanf:"auth"`
	RateLimit      RateLimitConfig      `koanf:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
	Security       SecurityConfig       `koanf:"security"`
	Webhooks       WebhookConfig        `koanf:"webhooks"`
	Logging        LoggingConfig        `koanf:"logging"`
	Telemetry      TelemetryConfig      `koanf:"telemetry"`
	Providers      []ProviderConfig     `koanf:"providers"`
}

type ServerConfig struct {
	Port            string        `koanf:"port"`
	Environment     string        `koanf:"environment"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN         string `koanf:"dsn"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

type RedisConfig struct {
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

func (r RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

type AuthConfig struct {
	JWTSecret      string `koanf:"jwt_secret"`
	JWTExpiryHours int    `koanf:"jwt_expiry_hours"`
	// KeyPepper keys the one-way digest of gateway credentials.
	KeyPepper     string        `koanf:"key_pepper"`
	KeyCacheTTL   time.Duration `koanf:"key_cache_ttl"`
	AllowRegister bool          `koanf:"allow_register"`
}

type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	Timeout          time.Duration `koanf:"timeout"`
}

type SecurityConfig struct {
	DefaultSafetyThreshold float64       `koanf:"default_safety_threshold"`
	ClassifierTimeout      time.Duration `koanf:"classifier_timeout"`
	// InputFailOpen lets requests through unscanned when the classifier fails
	// on the input layer. Output is always fail-closed.
	InputFailOpen bool `koanf:"input_fail_open"`
	PreviewLength int  `koanf:"preview_length"`
}

type WebhookConfig struct {
	QueueSize            int           `koanf:"queue_size"`
	Workers              int           `koanf:"workers"`
	MaxAttempts          int           `koanf:"max_attempts"`
	Timeout              time.Duration `koanf:"timeout"`
	RetryBaseDelay       time.Duration `koanf:"retry_base_delay"`
	DisableAfterFailures int           `koanf:"disable_after_failures"`
}

type LoggingConfig struct {
	Level        string        `koanf:"level"`
	Format       string        `koanf:"format"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// Retention prunes gateway logs older than this; zero keeps them forever.
	Retention time.Duration `koanf:"retention"`
}

type TelemetryConfig struct {
	TracingEnabled bool   `koanf:"tracing_enabled"`
	ServiceName    string `koanf:"service_name"`
}

type ProviderConfig struct {
	Name     string        `koanf:"name"`
	Targets  []string      `koanf:"targets"`
	Strategy string        `koanf:"strategy"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
	// Fallbacks is tried in order when this provider is unavailable.
	Fallbacks []string      `koanf:"fallbacks"`
	Pricing   PricingConfig `koanf:"pricing"`
	// DefaultModel is used when serving as a fallback for a model with no
	// entry in ModelMap.
	DefaultModel string            `koanf:"default_model"`
	ModelMap     map[string]string `koanf:"model_map"`
}

// PricingConfig is expressed in USD per 1K tokens.
type PricingConfig struct {
	InputPer1K  float64 `koanf:"input_per_1k"`
	OutputPer1K float64 `koanf:"output_per_1k"`
	MarkupPct   float64 `koanf:"markup_pct"`
}

var defaults = map[string]interface{}{
	"server.port":                       "8080",
	"server.environment":                "development",
	"server.read_timeout":               "15s",
	"server.write_timeout":              "60s",
	"server.shutdown_timeout":           "10s",
	"database.auto_migrate":             true,
	"redis.host":                        "localhost",
	"redis.port":                        "6379",
	"auth.jwt_expiry_hours":             24,
	"auth.key_cache_ttl":                "5m",
	"rate_limit.requests":               60,
	"rate_limit.window":                 "60s",
	"circuit_breaker.failure_threshold": 5,
	"circuit_breaker.timeout":           "60s",
	"security.default_safety_threshold": 0.7,
	"security.classifier_timeout":       "3s",
	"security.input_fail_open":          true,
	"security.preview_length":           200,
	"webhooks.queue_size":               1000,
	"webhooks.workers":                  4,
	"webhooks.max_attempts":             3,
	"webhooks.timeout":                  "10s",
	"webhooks.retry_base_delay":         "500ms",
	"webhooks.disable_after_failures":   0,
	"logging.level":                     "info",
	"logging.format":                    "json",
	"logging.write_timeout":             "5s",
	"logging.retention":                 "720h",
	"telemetry.service_name":            "ai-gateway",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (if present), then GATEWAY_ environment variables.
// Nested keys use a double underscore: GATEWAY_RATE_LIMIT__REQUESTS.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = substituteEnvVars(cfg.Providers[i].APIKey)
	}
	cfg.Database.DSN = substituteEnvVars(cfg.Database.DSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("rate_limit.requests must be positive")
	}
	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("rate_limit.window must be at least 1s")
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	if s := c.Security.DefaultSafetyThreshold; s < 0 || s > 1 {
		return fmt.Errorf("security.default_safety_threshold must be between 0 and 1")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		if len(p.Targets) == 0 {
			return fmt.Errorf("provider %q has no targets", p.Name)
		}
	}

	return nil
}

// Provider returns the named provider config, or nil.
func (c *Config) Provider(name string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
