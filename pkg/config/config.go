// Package config provides the unified configuration system for Flowforge.
// It defines a single ConnectionConfig structure shared by all connectors
// (each connector validates only the subset it needs) plus the service-level
// configuration loaded at startup.
package config

import (
	"fmt"
	"time"
)

// ConnectionConfig is the superset connector configuration. SQL connectors
// use Host/Port/Database/Username/Password; API connectors use
// APIURL/AuthToken. Extra carries connector-specific settings such as the
// GraphQL endpoint path or a CRM page-size override.
type ConnectionConfig struct {
	// Type specifies the connector type (e.g. "postgres", "graphql", "crm")
	Type string `yaml:"type" json:"type"`

	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`

	APIURL    string `yaml:"api_url" json:"apiUrl"`
	AuthToken string `yaml:"auth_token" json:"authToken"`

	Extra map[string]string `yaml:"extra" json:"extraConfig,omitempty"`

	// Timeouts bound connector I/O; these are the only mechanism that
	// limits stage duration once a job is processing.
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Reliability settings for retries and rate limiting
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Limits bound how much data a single extract may pull
	Limits LimitConfig `yaml:"limits" json:"limits"`
}

// TimeoutConfig contains timeout-related settings
type TimeoutConfig struct {
	// Connect timeout for establishing connections
	Connect time.Duration `yaml:"connect" json:"connect"`
	// Request timeout for individual queries
	Request time.Duration `yaml:"request" json:"request"`
}

// ReliabilityConfig contains reliability and error handling settings
type ReliabilityConfig struct {
	// RetryAttempts sets maximum retry attempts for failed operations
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RetryMultiplier increases delay exponentially
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier"`
	// MaxRetryDelay caps the maximum retry delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// RateLimitPerSec limits outbound requests per second (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	// CircuitBreaker enables circuit breaker protection
	CircuitBreaker bool `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// LimitConfig bounds extract volume
type LimitConfig struct {
	// BatchSize controls how many rows a single extract pulls
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// MaxRows is the hard row-count safety ceiling for paginating
	// API connectors
	MaxRows int `yaml:"max_rows" json:"max_rows"`
	// PageSize controls API pagination
	PageSize int `yaml:"page_size" json:"page_size"`
}

// NewConnectionConfig creates a ConnectionConfig with production defaults
func NewConnectionConfig(connectorType string) *ConnectionConfig {
	return &ConnectionConfig{
		Type:  connectorType,
		Extra: make(map[string]string),
		Timeouts: TimeoutConfig{
			Connect: 10 * time.Second,
			Request: 30 * time.Second,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   60 * time.Second,
			RateLimitPerSec: 0,
			CircuitBreaker:  true,
		},
		Limits: LimitConfig{
			BatchSize: 10000,
			MaxRows:   100000,
			PageSize:  500,
		},
	}
}

// Validate checks shared invariants. Connector-specific required fields are
// checked by each connector's ValidateConfig.
func (c *ConnectionConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}
	if c.Limits.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.Limits.MaxRows <= 0 {
		return fmt.Errorf("max_rows must be positive")
	}
	if c.Reliability.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	if c.Reliability.RateLimitPerSec < 0 {
		return fmt.Errorf("rate_limit_per_sec cannot be negative")
	}
	return nil
}

// IsRateLimited returns true if rate limiting is enabled
func (r *ReliabilityConfig) IsRateLimited() bool {
	return r.RateLimitPerSec > 0
}

// ServiceConfig is the top-level configuration for the Flowforge service
type ServiceConfig struct {
	// Server settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	// Store settings
	Store StoreConfig `mapstructure:"store" yaml:"store"`
	// Worker settings
	Worker WorkerConfig `mapstructure:"worker" yaml:"worker"`
	// Alerting settings
	Alerting AlertingConfig `mapstructure:"alerting" yaml:"alerting"`
	// Logging settings
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// TriggerSecret, when set, is required as a bearer token on the
	// alert-evaluation trigger endpoint
	TriggerSecret string `mapstructure:"trigger_secret" yaml:"trigger_secret"`
}

// StoreConfig configures the internal datastore
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// WorkerConfig configures the pipeline worker pool
type WorkerConfig struct {
	// Concurrency is the worker pool size
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// PollInterval is how often idle workers poll the queue
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// MaxAttempts caps delivery attempts per job
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// RetentionCompleted bounds how many completed jobs are kept
	RetentionCompleted int `mapstructure:"retention_completed" yaml:"retention_completed"`
	// RetentionFailed bounds how many exhausted jobs are kept
	RetentionFailed int `mapstructure:"retention_failed" yaml:"retention_failed"`
}

// AlertingConfig configures the alert evaluator
type AlertingConfig struct {
	// Schedule is the cron expression driving periodic evaluation
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
	// SMTP settings for notification email
	SMTPAddr string `mapstructure:"smtp_addr" yaml:"smtp_addr"`
	SMTPFrom string `mapstructure:"smtp_from" yaml:"smtp_from"`
	// WebhookTimeout bounds webhook dispatch
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout" yaml:"webhook_timeout"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// DefaultServiceConfig returns production defaults
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Store: StoreConfig{
			Path: "flowforge.db",
		},
		Worker: WorkerConfig{
			Concurrency:        5,
			PollInterval:       time.Second,
			MaxAttempts:        3,
			RetentionCompleted: 100,
			RetentionFailed:    500,
		},
		Alerting: AlertingConfig{
			Schedule:       "@every 1m",
			WebhookTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Validate checks the service configuration
func (c *ServiceConfig) Validate() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be positive")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}
