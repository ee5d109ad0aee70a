package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-phiguard/internal/guard"
	"github.com/miradorstack/mirador-phiguard/internal/models"
	"github.com/miradorstack/mirador-phiguard/internal/resilience"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "PHIGUARD_"

// Config captures every setting required to boot the middleware.
type Config struct {
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOG_"`
	PHI        PHIConfig        `yaml:"phi" envPrefix:"PHI_"`
	Breaker    BreakerConfig    `yaml:"breaker" envPrefix:"BREAKER_"`
	Retry      RetryConfig      `yaml:"retry" envPrefix:"RETRY_"`
	Facade     FacadeConfig     `yaml:"facade" envPrefix:"FACADE_"`
	Downstream DownstreamConfig `yaml:"downstream" envPrefix:"DOWNSTREAM_"`
	Audit      AuditConfig      `yaml:"audit" envPrefix:"AUDIT_"`
	Metrics    MetricsConfig    `yaml:"metrics" envPrefix:"METRICS_"`
	Tracing    TracingConfig    `yaml:"tracing" envPrefix:"TRACING_"`
}

// ServerConfig controls the gRPC and admin listeners.
type ServerConfig struct {
	Address         string        `yaml:"address" env:"ADDRESS" validate:"required"`
	AdminAddress    string        `yaml:"adminAddress" env:"ADMIN_ADDRESS" validate:"required"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" env:"GRACEFUL_TIMEOUT" validate:"gte=0"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json" env:"JSON"`
}

// PHIConfig controls detection.
type PHIConfig struct {
	Sensitivity string `yaml:"sensitivity" env:"SENSITIVITY" validate:"oneof=minimal moderate strict"`
	RulesPath   string `yaml:"rulesPath" env:"RULES_PATH"`
	WatchRules  bool   `yaml:"watchRules" env:"WATCH_RULES"`
}

// BreakerConfig mirrors resilience.BreakerConfig.
type BreakerConfig struct {
	FailureThreshold  int           `yaml:"failureThreshold" env:"FAILURE_THRESHOLD" validate:"gte=1"`
	RecoveryTimeout   time.Duration `yaml:"recoveryTimeout" env:"RECOVERY_TIMEOUT" validate:"gt=0"`
	SuccessThreshold  int           `yaml:"successThreshold" env:"SUCCESS_THRESHOLD" validate:"gte=1"`
	HalfOpenMaxProbes int           `yaml:"halfOpenMaxProbes" env:"HALF_OPEN_MAX_PROBES" validate:"gte=1"`
}

// RetryConfig mirrors resilience.RetryConfig.
type RetryConfig struct {
	MaxAttempts         int           `yaml:"maxAttempts" env:"MAX_ATTEMPTS" validate:"gte=1,lte=10"`
	BaseDelay           time.Duration `yaml:"baseDelay" env:"BASE_DELAY" validate:"gte=0"`
	MaxDelay            time.Duration `yaml:"maxDelay" env:"MAX_DELAY" validate:"gtefield=BaseDelay"`
	Multiplier          float64       `yaml:"multiplier" env:"MULTIPLIER" validate:"gte=1"`
	RateLimitMultiplier float64       `yaml:"rateLimitMultiplier" env:"RATE_LIMIT_MULTIPLIER" validate:"gtefield=Multiplier"`
	JitterMin           time.Duration `yaml:"jitterMin" env:"JITTER_MIN" validate:"gte=0"`
	JitterMax           time.Duration `yaml:"jitterMax" env:"JITTER_MAX" validate:"gtefield=JitterMin"`
	AttemptTimeout      time.Duration `yaml:"attemptTimeout" env:"ATTEMPT_TIMEOUT" validate:"gte=0"`
}

// FacadeConfig controls request-level limits.
type FacadeConfig struct {
	Dependency      string        `yaml:"dependency" env:"DEPENDENCY" validate:"required"`
	DefaultDeadline time.Duration `yaml:"defaultDeadline" env:"DEFAULT_DEADLINE" validate:"gte=0"`
	MaxInputBytes   int           `yaml:"maxInputBytes" env:"MAX_INPUT_BYTES" validate:"gte=1"`
}

// DownstreamConfig selects and configures the analysis client.
type DownstreamConfig struct {
	Provider     string        `yaml:"provider" env:"PROVIDER" validate:"oneof=openai http"`
	BaseURL      string        `yaml:"baseURL" env:"BASE_URL" validate:"required_if=Provider http"`
	Path         string        `yaml:"path" env:"PATH"`
	APIKey       string        `yaml:"apiKey" env:"API_KEY"`
	Model        string        `yaml:"model" env:"MODEL"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT" validate:"gte=0"`
	SystemPrompt string        `yaml:"systemPrompt" env:"SYSTEM_PROMPT"`
}

// AuditConfig selects where redaction events are kept.
type AuditConfig struct {
	Backend         string        `yaml:"backend" env:"BACKEND" validate:"oneof=memory redis"`
	RedisURL        string        `yaml:"redisURL" env:"REDIS_URL" validate:"required_if=Backend redis"`
	TTL             time.Duration `yaml:"ttl" env:"TTL" validate:"gte=0"`
	MaxCorrelations int           `yaml:"maxCorrelations" env:"MAX_CORRELATIONS" validate:"gte=0"`
}

// MetricsConfig controls the in-process recorder.
type MetricsConfig struct {
	TimerWindow int `yaml:"timerWindow" env:"TIMER_WINDOW" validate:"gte=1"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	Exporter    string `yaml:"exporter" env:"EXPORTER" validate:"oneof=stdout none"`
	ServiceName string `yaml:"serviceName" env:"SERVICE_NAME"`
}

// Load initialises Config from defaults, an optional YAML file, a local .env file and
// PHIGUARD_-prefixed environment variables, in that order, then validates the result.
func Load(path string) (*Config, error) {
	// .env is optional and only used for local development.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Sensitivity returns the parsed detection sensitivity.
func (c *Config) Sensitivity() models.Sensitivity {
	s, ok := models.ParseSensitivity(c.PHI.Sensitivity)
	if !ok {
		return models.SensitivityModerate
	}
	return s
}

// BreakerSettings converts the breaker section.
func (c *Config) BreakerSettings() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold:  c.Breaker.FailureThreshold,
		RecoveryTimeout:   c.Breaker.RecoveryTimeout,
		SuccessThreshold:  c.Breaker.SuccessThreshold,
		HalfOpenMaxProbes: c.Breaker.HalfOpenMaxProbes,
	}
}

// RetrySettings converts the retry section.
func (c *Config) RetrySettings() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:         c.Retry.MaxAttempts,
		BaseDelay:           c.Retry.BaseDelay,
		MaxDelay:            c.Retry.MaxDelay,
		Multiplier:          c.Retry.Multiplier,
		RateLimitMultiplier: c.Retry.RateLimitMultiplier,
		JitterMin:           c.Retry.JitterMin,
		JitterMax:           c.Retry.JitterMax,
		AttemptTimeout:      c.Retry.AttemptTimeout,
	}
}

// FacadeSettings converts the facade section.
func (c *Config) FacadeSettings() guard.Config {
	return guard.Config{
		Dependency:      c.Facade.Dependency,
		DefaultDeadline: c.Facade.DefaultDeadline,
		MaxInputBytes:   c.Facade.MaxInputBytes,
	}
}

func defaultConfig() Config {
	breaker := resilience.DefaultBreakerConfig()
	retry := resilience.DefaultRetryConfig()
	facade := guard.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			AdminAddress:    ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: true},
		PHI:     PHIConfig{Sensitivity: "moderate"},
		Breaker: BreakerConfig{
			FailureThreshold:  breaker.FailureThreshold,
			RecoveryTimeout:   breaker.RecoveryTimeout,
			SuccessThreshold:  breaker.SuccessThreshold,
			HalfOpenMaxProbes: breaker.HalfOpenMaxProbes,
		},
		Retry: RetryConfig{
			MaxAttempts:         retry.MaxAttempts,
			BaseDelay:           retry.BaseDelay,
			MaxDelay:            retry.MaxDelay,
			Multiplier:          retry.Multiplier,
			RateLimitMultiplier: retry.RateLimitMultiplier,
			JitterMin:           retry.JitterMin,
			JitterMax:           retry.JitterMax,
			AttemptTimeout:      retry.AttemptTimeout,
		},
		Facade: FacadeConfig{
			Dependency:      facade.Dependency,
			DefaultDeadline: facade.DefaultDeadline,
			MaxInputBytes:   facade.MaxInputBytes,
		},
		Downstream: DownstreamConfig{
			Provider: "openai",
			Path:     "/v1/analyze",
			Model:    "gpt-4o-mini",
			Timeout:  15 * time.Second,
		},
		Audit: AuditConfig{
			Backend:         "memory",
			TTL:             24 * time.Hour,
			MaxCorrelations: 10000,
		},
		Metrics: MetricsConfig{TimerWindow: 1024},
		Tracing: TracingConfig{Enabled: false, Exporter: "stdout", ServiceName: "mirador-phiguard"},
	}
}
