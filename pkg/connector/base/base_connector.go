// Package base provides shared connector behavior: retry with backoff,
// config validation and structured logging. Concrete connectors embed
// BaseConnector and implement the protocol-specific pieces.
package base

import (
	"context"

	"go.uber.org/zap"

	"github.com/flowforge/flowforge/pkg/config"
	"github.com/flowforge/flowforge/pkg/connector/core"
	"github.com/flowforge/flowforge/pkg/logger"
)

// BaseConnector carries the state every connector needs
type BaseConnector struct {
	name   string
	cfg    *config.ConnectionConfig
	retry  *RetryPolicy
	logger *zap.Logger
}

// NewBaseConnector wires common connector state from the connection config
func NewBaseConnector(name string, cfg *config.ConnectionConfig) *BaseConnector {
	retry := DefaultRetryPolicy()
	if cfg.Reliability.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.Reliability.RetryAttempts
	}
	if cfg.Reliability.RetryDelay > 0 {
		retry.InitialDelay = cfg.Reliability.RetryDelay
	}
	if cfg.Reliability.RetryMultiplier > 0 {
		retry.Multiplier = cfg.Reliability.RetryMultiplier
	}
	if cfg.Reliability.MaxRetryDelay > 0 {
		retry.MaxDelay = cfg.Reliability.MaxRetryDelay
	}

	return &BaseConnector{
		name:   name,
		cfg:    cfg,
		retry:  retry,
		logger: logger.Get().With(zap.String("connector", name)),
	}
}

// Name returns the connector's source type name
func (b *BaseConnector) Name() string { return b.name }

// Config returns the connection config
func (b *BaseConnector) Config() *config.ConnectionConfig { return b.cfg }

// Logger returns the connector-scoped logger
func (b *BaseConnector) Logger() *zap.Logger { return b.logger }

// WithRetry executes fn under the connector's retry policy
func (b *BaseConnector) WithRetry(ctx context.Context, fn func() error) error {
	return b.retry.Execute(ctx, fn)
}

// ValidateConfig runs the shared config checks. Connectors extend the
// result with their own required fields.
func (b *BaseConnector) ValidateConfig() *core.ValidationResult {
	result := &core.ValidationResult{Valid: true}
	if err := b.cfg.Validate(); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
	}
	return result
}

// AddValidationError appends a problem to a validation result
func AddValidationError(result *core.ValidationResult, msg string) {
	result.Valid = false
	result.Errors = append(result.Errors, msg)
}
