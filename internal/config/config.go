// Package config provides configuration loading using koanf.
// Precedence: IDENTITY_* environment variables, then compiled defaults.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/deliberation-platform/identity/internal/domain"
)

// EnvPrefix is stripped from every environment variable. A double
// underscore separates nesting levels: IDENTITY_AUTH__CODE_LIFETIME=5m
// sets auth.code_lifetime.
const EnvPrefix = "IDENTITY_"

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageDynamoDB = "dynamodb"
	StoragePostgres = "postgres"
)

// Pepper sources.
const (
	PepperSourceConfig = "config"
	PepperSourceAWS    = "aws"
)

// listKeys are comma-separated in the environment.
var listKeys = map[string]bool{
	"http.allowed_origins": true,
	"peppers.values":       true,
}

// Config holds all service configuration.
type Config struct {
	// Environment identifier: "local", "dev", "prod"
	Environment string `koanf:"environment"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	HTTP    HTTPConfig    `koanf:"http"`
	Auth    AuthConfig    `koanf:"auth"`
	Peppers PepperConfig  `koanf:"peppers"`
	Storage StorageConfig `koanf:"storage"`
	SMS     SMSConfig     `koanf:"sms"`

	DynamoDB DynamoDBConfig `koanf:"dynamodb"`
	Postgres PostgresConfig `koanf:"postgres"`
	Redis    RedisConfig    `koanf:"redis"`
	AWS      AWSConfig      `koanf:"aws"`

	OTEL OTELConfig `koanf:"otel"`
}

// HTTPConfig holds the public API listener settings.
type HTTPConfig struct {
	Port           int           `koanf:"port"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// AuthConfig holds one-time code and device token settings.
type AuthConfig struct {
	CodeLifetime      time.Duration `koanf:"code_lifetime"`
	ThrottleInterval  time.Duration `koanf:"throttle_interval"`
	MaxGuessAttempts  int           `koanf:"max_guess_attempts"`
	DoSend            bool          `koanf:"do_send"`
	UseTestCode       bool          `koanf:"use_test_code"`
	TestCode          string        `koanf:"test_code"`
	RateLimitPerIP    int           `koanf:"rate_limit_per_ip"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	DeviceTokenMaxAge time.Duration `koanf:"device_token_max_age"`
	// TokenAudience is the aud claim device tokens must carry.
	TokenAudience string `koanf:"token_audience"`
}

// PepperConfig selects where phone hashing peppers come from. With the
// config source, Values lists base64 peppers ordered by version.
type PepperConfig struct {
	Source             string   `koanf:"source"`
	Values             []string `koanf:"values"`
	LatestVersionParam string   `koanf:"latest_version_param"`
	SecretPrefix       string   `koanf:"secret_prefix"`
}

// StorageConfig selects the persistence driver.
type StorageConfig struct {
	Driver string `koanf:"driver"`
}

// SMSConfig holds code delivery settings.
type SMSConfig struct {
	SenderID string `koanf:"sender_id"`
}

// DynamoDBConfig holds DynamoDB configuration.
type DynamoDBConfig struct {
	Endpoint    string        `koanf:"endpoint"` // Empty for production (uses default AWS endpoint)
	Timeout     time.Duration `koanf:"timeout"`
	TablePrefix string        `koanf:"table_prefix"`
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	URL      domain.SecretString `koanf:"url"`
	MaxConns int32               `koanf:"max_conns"`
	Timeout  time.Duration       `koanf:"timeout"`
	Migrate  bool                `koanf:"migrate"`
}

// RedisConfig holds Redis configuration. An empty Addr disables the
// per-IP limiter and the device token replay guard.
type RedisConfig struct {
	Addr     string              `koanf:"addr"`
	Password domain.SecretString `koanf:"password"`
	DB       int                 `koanf:"db"`
	Timeout  time.Duration       `koanf:"timeout"`
}

// AWSConfig holds AWS SDK configuration.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"` // LocalStack endpoint for development
}

// OTELConfig holds OpenTelemetry configuration.
type OTELConfig struct {
	Endpoint    string  `koanf:"endpoint"` // Empty disables OTLP export
	ServiceName string  `koanf:"service_name"`
	SampleRatio float64 `koanf:"sample_ratio"` // Share of root traces kept, 0 to 1
}

// defaults returns a Config with compiled default values.
func defaults() *Config {
	return &Config{
		Environment: "local",
		LogLevel:    "info",
		LogFormat:   "json",

		HTTP: HTTPConfig{
			Port:           8080,
			RequestTimeout: domain.RequestTimeout,
		},
		Auth: AuthConfig{
			CodeLifetime:      domain.DefaultCodeLifetime,
			ThrottleInterval:  domain.DefaultThrottleInterval,
			MaxGuessAttempts:  domain.DefaultMaxGuessAttempts,
			TestCode:          "000000",
			RateLimitPerIP:    domain.CodeRequestRateLimitPerIP,
			RateLimitWindow:   domain.CodeRequestRateLimitWindow,
			DeviceTokenMaxAge: domain.DeviceTokenMaxAge,
			TokenAudience:     "identity",
		},
		Peppers: PepperConfig{
			Source:             PepperSourceConfig,
			LatestVersionParam: "/identity/pepper/latest-version",
			SecretPrefix:       "identity/pepper/",
		},
		Storage: StorageConfig{
			Driver: StorageMemory,
		},
		DynamoDB: DynamoDBConfig{
			Timeout: domain.DynamoDBTimeout,
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
			Timeout:  domain.PostgresTimeout,
			Migrate:  true,
		},
		Redis: RedisConfig{
			Timeout: domain.RedisTimeout,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		OTEL: OTELConfig{
			ServiceName: "identity",
			SampleRatio: 1,
		},
	}
}

// Load reads IDENTITY_* environment variables over the compiled defaults
// and validates the result. Inconsistent settings fail startup.
func Load(ctx context.Context) (*Config, error) {
	k := koanf.New(".")

	cfg := defaults()

	err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKeyValue), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envKeyValue maps IDENTITY_HTTP__ALLOWED_ORIGINS=a,b to
// ("http.allowed_origins", []string{"a", "b"}).
func envKeyValue(key, value string) (string, any) {
	k := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	k = strings.ReplaceAll(k, "__", ".")
	if listKeys[k] {
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return k, items
	}
	return k, value
}

// Validate checks value ranges, cross-field consistency and the keys
// required outside local development.
func (c *Config) Validate() error {
	switch c.Environment {
	case "local", "dev", "prod":
	default:
		return fmt.Errorf("environment %q: %w", c.Environment, domain.ErrInvalidConfiguration)
	}

	if c.Auth.UseTestCode && c.Auth.DoSend {
		return fmt.Errorf("auth.use_test_code and auth.do_send are mutually exclusive: %w", domain.ErrInvalidConfiguration)
	}
	if c.Auth.CodeLifetime <= 0 || c.Auth.ThrottleInterval <= 0 || c.Auth.MaxGuessAttempts <= 0 {
		return fmt.Errorf("auth.code_lifetime, auth.throttle_interval and auth.max_guess_attempts must be positive: %w", domain.ErrInvalidConfiguration)
	}
	if c.Auth.RateLimitPerIP <= 0 || c.Auth.RateLimitWindow <= 0 {
		return fmt.Errorf("auth.rate_limit_per_ip and auth.rate_limit_window must be positive: %w", domain.ErrInvalidConfiguration)
	}
	if c.Auth.TokenAudience == "" {
		return fmt.Errorf("auth.token_audience: %w", domain.ErrConfigRequired)
	}

	if c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1 {
		return fmt.Errorf("otel.sample_ratio %v outside [0, 1]: %w", c.OTEL.SampleRatio, domain.ErrInvalidConfiguration)
	}

	switch c.Storage.Driver {
	case StorageMemory, StorageDynamoDB:
	case StoragePostgres:
		if c.Postgres.URL.IsEmpty() {
			return fmt.Errorf("%w: postgres.url", domain.ErrConfigRequired)
		}
	default:
		return fmt.Errorf("storage.driver %q: %w", c.Storage.Driver, domain.ErrInvalidConfiguration)
	}

	switch c.Peppers.Source {
	case PepperSourceConfig:
		if len(c.Peppers.Values) == 0 {
			return fmt.Errorf("%w: peppers.values", domain.ErrConfigRequired)
		}
	case PepperSourceAWS:
		if c.Peppers.LatestVersionParam == "" || c.Peppers.SecretPrefix == "" {
			return fmt.Errorf("%w: peppers.latest_version_param, peppers.secret_prefix", domain.ErrConfigRequired)
		}
	default:
		return fmt.Errorf("peppers.source %q: %w", c.Peppers.Source, domain.ErrInvalidConfiguration)
	}

	if c.IsProd() {
		if c.Storage.Driver == StorageMemory {
			return fmt.Errorf("storage.driver memory is not allowed in prod: %w", domain.ErrInvalidConfiguration)
		}
		if c.Auth.UseTestCode {
			return fmt.Errorf("auth.use_test_code is not allowed in prod: %w", domain.ErrInvalidConfiguration)
		}
		if c.Redis.Addr == "" {
			return fmt.Errorf("%w: redis.addr", domain.ErrConfigRequired)
		}
	}

	return nil
}

// IsLocal returns true if running in local development environment.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// IsProd returns true if running in production environment.
func (c *Config) IsProd() bool {
	return c.Environment == "prod"
}
