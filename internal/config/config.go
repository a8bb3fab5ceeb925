// Package config loads service configuration from defaults, an optional YAML file and
// WASTEWATCH_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. Nested keys are separated by "__",
// e.g. WASTEWATCH_DATABASE__URL or WASTEWATCH_ESCALATION__REDIS__ADDR.
const EnvPrefix = "WASTEWATCH_"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Escalation queue backends.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Storage    StorageConfig    `koanf:"storage"`
	Log        LogConfig        `koanf:"log"`
	Auth       AuthConfig       `koanf:"auth"`
	CORS       CORSConfig       `koanf:"cors"`
	Vision     VisionConfig     `koanf:"vision"`
	Compliance ComplianceConfig `koanf:"compliance"`
	Retry      RetryConfig      `koanf:"retry"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Escalation EscalationConfig `koanf:"escalation"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required,numeric"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required,numeric,nefield=Port"`
	ReadTimeout       time.Duration `koanf:"read_timeout" validate:"gt=0"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"gt=0"`
	WriteTimeout      time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout       time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	MaxUploadBytes    int64         `koanf:"max_upload_bytes" validate:"gt=0"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"gte=1"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `koanf:"driver" validate:"oneof=memory postgres"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

// AuthConfig contains bearer token settings.
type AuthConfig struct {
	Enabled   bool          `koanf:"enabled"`
	SecretKey string        `koanf:"secret_key"`
	Issuer    string        `koanf:"issuer"`
	TokenTTL  time.Duration `koanf:"token_ttl" validate:"gt=0"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// VisionConfig contains detector and estimator settings.
type VisionConfig struct {
	ModelURL        string        `koanf:"model_url" validate:"omitempty,url"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	WasteConfidence float64       `koanf:"waste_confidence" validate:"gt=0,lte=1"`
	TruckConfidence float64       `koanf:"truck_confidence" validate:"gt=0,lte=1"`
	MaxVolumeM3     float64       `koanf:"max_volume_m3" validate:"gt=0"`
	MaxWeightTons   float64       `koanf:"max_weight_tons" validate:"gt=0"`
	LoadFactor      float64       `koanf:"load_factor" validate:"gt=0"`
	// SeverityRules replaces the built-in table when non-empty.
	SeverityRules []SeverityRuleConfig `koanf:"severity_rules" validate:"dive"`
}

// SeverityRuleConfig is one row of the severity table.
type SeverityRuleConfig struct {
	Severity  string   `koanf:"severity" validate:"oneof=low medium high"`
	FillAbove *float64 `koanf:"fill_above" validate:"omitempty,gte=0,lte=100"`
	Classes   []string `koanf:"classes"`
}

// ComplianceConfig contains prediction weights.
type ComplianceConfig struct {
	UsageWeight  float64 `koanf:"usage_weight" validate:"gte=0"`
	CreditWeight float64 `koanf:"credit_weight" validate:"gte=0"`
}

// RetryConfig controls retries of storage steps on transient failures.
type RetryConfig struct {
	MaxAttempts    int           `koanf:"max_attempts" validate:"gte=1"`
	InitialBackoff time.Duration `koanf:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `koanf:"max_backoff" validate:"gtefield=InitialBackoff"`
	Multiplier     float64       `koanf:"multiplier" validate:"gte=1"`
}

// RateLimitConfig limits detection and analysis requests per client.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int     `koanf:"burst" validate:"gte=1"`
}

// EscalationConfig contains escalation delivery settings.
type EscalationConfig struct {
	Enabled    bool             `koanf:"enabled"`
	Queue      string           `koanf:"queue" validate:"oneof=memory redis"`
	Redis      RedisConfig      `koanf:"redis"`
	Worker     WorkerConfig     `koanf:"worker"`
	Webhook    WebhookConfig    `koanf:"webhook"`
	Mattermost MattermostConfig `koanf:"mattermost"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
	Key      string `koanf:"key"`
}

// WorkerConfig contains escalation worker settings.
type WorkerConfig struct {
	NumWorkers        int           `koanf:"num_workers" validate:"gte=1"`
	PollInterval      time.Duration `koanf:"poll_interval" validate:"gt=0"`
	MaxAttempts       int           `koanf:"max_attempts" validate:"gte=1"`
	InitialBackoff    time.Duration `koanf:"initial_backoff" validate:"gt=0"`
	MaxBackoff        time.Duration `koanf:"max_backoff" validate:"gtefield=InitialBackoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier" validate:"gte=1"`
}

// WebhookConfig contains generic webhook settings.
type WebhookConfig struct {
	URL     string        `koanf:"url" validate:"omitempty,url"`
	Secret  string        `koanf:"secret"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// MattermostConfig contains Mattermost incoming webhook settings.
type MattermostConfig struct {
	WebhookURL string        `koanf:"webhook_url" validate:"omitempty,url"`
	Username   string        `koanf:"username"`
	IconURL    string        `koanf:"icon_url" validate:"omitempty,url"`
	Timeout    time.Duration `koanf:"timeout" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			MaxUploadBytes:    10 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  60 * time.Second,
			ConnectAttempts: 5,
			AutoMigrate:     true,
			MigrationsPath:  "file://migrations",
		},
		Storage: StorageConfig{Driver: DriverMemory},
		Log:     LogConfig{Level: "info", Format: "json"},
		Auth: AuthConfig{
			Issuer:   "wastewatch",
			TokenTTL: 24 * time.Hour,
		},
		Vision: VisionConfig{
			Timeout:         30 * time.Second,
			WasteConfidence: 0.25,
			TruckConfidence: 0.15,
			MaxVolumeM3:     20,
			MaxWeightTons:   12,
			LoadFactor:      1.5,
		},
		Compliance: ComplianceConfig{UsageWeight: 0.6, CreditWeight: 0.4},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 5, Burst: 10},
		Escalation: EscalationConfig{
			Queue: QueueMemory,
			Redis: RedisConfig{Addr: "localhost:6379", Key: "wastewatch:escalations"},
			Worker: WorkerConfig{
				NumWorkers:        2,
				PollInterval:      time.Second,
				MaxAttempts:       5,
				InitialBackoff:    time.Second,
				MaxBackoff:        5 * time.Minute,
				BackoffMultiplier: 2,
			},
			Webhook:    WebhookConfig{Timeout: 10 * time.Second},
			Mattermost: MattermostConfig{Username: "WasteWatch", Timeout: 10 * time.Second},
		},
	}
}

// Load reads configuration. An empty path skips the file layer; a missing file is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv loads configuration using the file named by WASTEWATCH_CONFIG, if set.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv(EnvPrefix + "CONFIG"))
}

// envKey maps WASTEWATCH_ESCALATION__REDIS__ADDR to escalation.redis.addr.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks field constraints and cross-section rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	if c.Storage.Driver == DriverPostgres && c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required for the postgres driver"))
	}
	if c.Auth.Enabled && c.Auth.SecretKey == "" {
		errs = append(errs, errors.New("auth.secret_key is required when auth is enabled"))
	}
	if c.Escalation.Enabled && c.Escalation.Queue == QueueRedis && c.Escalation.Redis.Addr == "" {
		errs = append(errs, errors.New("escalation.redis.addr is required for the redis queue"))
	}
	if c.Compliance.UsageWeight+c.Compliance.CreditWeight == 0 {
		errs = append(errs, errors.New("compliance weights must not both be zero"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
