// Package config loads the ecs-manage configuration file and service specs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/ecs-manage/internal/app"
	"github.com/example/ecs-manage/internal/core/rollout"
)

// Lock backends.
const (
	LockBackendSQLite = "sqlite"
	LockBackendRedis  = "redis"
)

// AWSConfig selects credentials and pacing for the ECS API.
type AWSConfig struct {
	Region            string  `yaml:"region"`
	Profile           string  `yaml:"profile"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// BackoffConfig is an exponential, capped, jittered backoff.
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial"`
	Factor  float64       `yaml:"factor"`
	Cap     time.Duration `yaml:"cap"`
	Jitter  float64       `yaml:"jitter"`
}

// RetryConfig bounds retries of transient platform errors.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Backoff  BackoffConfig `yaml:"backoff"`
}

// RolloutConfig controls health verification and rollback.
type RolloutConfig struct {
	Poll              BackoffConfig `yaml:"poll"`
	MinHealthySamples int           `yaml:"min_healthy_samples"`
	SustainWindow     time.Duration `yaml:"sustain_window"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	GracePeriod       time.Duration `yaml:"grace_period"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RollbackBudget    time.Duration `yaml:"rollback_budget"`
}

// ScalingConfig controls stepped scaling.
type ScalingConfig struct {
	StepTimeout time.Duration `yaml:"step_timeout"`
	Poll        BackoffConfig `yaml:"poll"`
}

// HistoryConfig locates the outcome ledger.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig addresses the shared lock store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LockConfig selects where per-service locks live.
type LockConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

// TelegramConfig enables chat notifications.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// NotifyConfig lists notification targets.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// PushgatewayConfig enables metrics publishing.
type PushgatewayConfig struct {
	URL string `yaml:"url"`
	Job string `yaml:"job"`
}

// MetricsConfig lists metrics targets.
type MetricsConfig struct {
	Pushgateway PushgatewayConfig `yaml:"pushgateway"`
}

// Config is the ecs-manage configuration.
type Config struct {
	AWS             AWSConfig     `yaml:"aws"`
	Timeout         time.Duration `yaml:"timeout"`
	Parallel        int           `yaml:"parallel"`
	RevisionHistory int           `yaml:"revision_history"`
	Retry           RetryConfig   `yaml:"retry"`
	Rollout         RolloutConfig `yaml:"rollout"`
	Scaling         ScalingConfig `yaml:"scaling"`
	History         HistoryConfig `yaml:"history"`
	Lock            LockConfig    `yaml:"lock"`
	Notify          NotifyConfig  `yaml:"notify"`
	Metrics         MetricsConfig `yaml:"metrics"`
	LogLevel        string        `yaml:"log_level"`
}

// DefaultPath returns ~/.ecs-manage/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".ecs-manage", "config.yaml"), nil
}

// LoadConfig reads the configuration file at path, applies defaults, and
// lets environment variables override file values. A missing file at the
// default location is not an error; a missing explicit path is.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.mergeEnvVars(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.AWS.RequestsPerSecond == 0 {
		c.AWS.RequestsPerSecond = 10
	}
	if c.Timeout == 0 {
		c.Timeout = app.DefaultTimeout
	}
	if c.Parallel == 0 {
		c.Parallel = 4
	}
	if c.RevisionHistory == 0 {
		c.RevisionHistory = 10
	}

	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = 8
	}
	c.Retry.Backoff.fill(BackoffConfig{Initial: 500 * time.Millisecond, Factor: 1.5, Cap: time.Minute, Jitter: 0.5})

	c.Rollout.Poll.fill(BackoffConfig{Initial: 5 * time.Second, Factor: 1.5, Cap: 30 * time.Second, Jitter: 0.1})
	def := rollout.DefaultVerifyPolicy()
	if c.Rollout.MinHealthySamples == 0 {
		c.Rollout.MinHealthySamples = def.MinHealthySamples
	}
	if c.Rollout.SustainWindow == 0 {
		c.Rollout.SustainWindow = def.SustainWindow
	}
	if c.Rollout.FailureThreshold == 0 {
		c.Rollout.FailureThreshold = def.FailureThreshold
	}
	if c.Rollout.MaxAttempts == 0 {
		c.Rollout.MaxAttempts = def.MaxAttempts
	}
	if c.Rollout.RollbackBudget == 0 {
		c.Rollout.RollbackBudget = app.DefaultRollbackBudget
	}

	if c.Scaling.StepTimeout == 0 {
		c.Scaling.StepTimeout = app.DefaultStepTimeout
	}
	c.Scaling.Poll.fill(c.Rollout.Poll)

	if c.Lock.Backend == "" {
		c.Lock.Backend = LockBackendSQLite
	}
	if c.Lock.Redis.Addr == "" {
		c.Lock.Redis.Addr = "localhost:6379"
	}
	if c.Metrics.Pushgateway.Job == "" {
		c.Metrics.Pushgateway.Job = "ecs-manage"
	}
}

func (b *BackoffConfig) fill(def BackoffConfig) {
	if b.Initial == 0 {
		b.Initial = def.Initial
	}
	if b.Factor == 0 {
		b.Factor = def.Factor
	}
	if b.Cap == 0 {
		b.Cap = def.Cap
	}
	if b.Jitter == 0 {
		b.Jitter = def.Jitter
	}
}

// mergeEnvVars applies ECS_MANAGE_* and the standard AWS variables.
func (c *Config) mergeEnvVars() error {
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.AWS.Region = v
	}
	if v := os.Getenv("AWS_PROFILE"); v != "" {
		c.AWS.Profile = v
	}
	if v := os.Getenv("ECS_MANAGE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ECS_MANAGE_TIMEOUT %q: %w", v, err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("ECS_MANAGE_HISTORY_PATH"); v != "" {
		c.History.Path = v
	}
	if v := os.Getenv("ECS_MANAGE_LOCK_BACKEND"); v != "" {
		c.Lock.Backend = v
	}
	if v := os.Getenv("ECS_MANAGE_REDIS_ADDR"); v != "" {
		c.Lock.Redis.Addr = v
	}
	if v := os.Getenv("ECS_MANAGE_TELEGRAM_TOKEN"); v != "" {
		c.Notify.Telegram.Token = v
	}
	if v := os.Getenv("ECS_MANAGE_TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ECS_MANAGE_TELEGRAM_CHAT_ID %q: %w", v, err)
		}
		c.Notify.Telegram.ChatID = id
	}
	if v := os.Getenv("ECS_MANAGE_PUSHGATEWAY_URL"); v != "" {
		c.Metrics.Pushgateway.URL = v
	}
	if v := os.Getenv("ECS_MANAGE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Lock.Backend {
	case LockBackendSQLite, LockBackendRedis:
	default:
		return fmt.Errorf("unknown lock backend %q (want %s or %s)", c.Lock.Backend, LockBackendSQLite, LockBackendRedis)
	}
	if c.Timeout < 0 || c.Rollout.RollbackBudget < 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Notify.Telegram.Token != "" && c.Notify.Telegram.ChatID == 0 {
		return fmt.Errorf("notify.telegram.chat_id is required when a token is set")
	}
	return nil
}

func (b BackoffConfig) engine() app.BackoffConfig {
	return app.BackoffConfig{Initial: b.Initial, Factor: b.Factor, Cap: b.Cap, Jitter: b.Jitter}
}

// Engine returns the reconciliation engine settings.
func (c *Config) Engine() app.EngineConfig {
	retry := app.RetryConfig{Attempts: c.Retry.Attempts, Backoff: c.Retry.Backoff.engine()}
	return app.EngineConfig{
		Timeout:         c.Timeout,
		LockTTL:         c.Lock.TTL,
		RevisionHistory: c.RevisionHistory,
		Retry:           retry,
		Rollout: app.RolloutConfig{
			Verify: rollout.VerifyPolicy{
				MinHealthySamples: c.Rollout.MinHealthySamples,
				SustainWindow:     c.Rollout.SustainWindow,
				FailureThreshold:  c.Rollout.FailureThreshold,
				GracePeriod:       c.Rollout.GracePeriod,
				MaxAttempts:       c.Rollout.MaxAttempts,
			},
			Poll:           c.Rollout.Poll.engine(),
			Retry:          retry,
			RollbackBudget: c.Rollout.RollbackBudget,
		},
		Scaling: app.ScalingConfig{
			StepTimeout: c.Scaling.StepTimeout,
			Poll:        c.Scaling.Poll.engine(),
			Retry:       retry,
		},
	}
}

// RetryPolicy returns the retry settings for inspection calls.
func (c *Config) RetryPolicy() app.RetryConfig {
	return app.RetryConfig{Attempts: c.Retry.Attempts, Backoff: c.Retry.Backoff.engine()}
}
