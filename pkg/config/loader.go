package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadService loads the service configuration from an optional YAML file,
// with FLOWFORGE_* environment variables taking precedence
// (e.g. FLOWFORGE_SERVER_ADDR overrides server.addr).
func LoadService(path string) (*ServiceConfig, error) {
	v := viper.New()

	v.SetEnvPrefix("FLOWFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultServiceConfig()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults registers defaults so env-only overrides still resolve
func setDefaults(v *viper.Viper, cfg *ServiceConfig) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.trigger_secret", cfg.Server.TriggerSecret)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("worker.concurrency", cfg.Worker.Concurrency)
	v.SetDefault("worker.poll_interval", cfg.Worker.PollInterval)
	v.SetDefault("worker.max_attempts", cfg.Worker.MaxAttempts)
	v.SetDefault("worker.retention_completed", cfg.Worker.RetentionCompleted)
	v.SetDefault("worker.retention_failed", cfg.Worker.RetentionFailed)
	v.SetDefault("alerting.schedule", cfg.Alerting.Schedule)
	v.SetDefault("alerting.smtp_addr", cfg.Alerting.SMTPAddr)
	v.SetDefault("alerting.smtp_from", cfg.Alerting.SMTPFrom)
	v.SetDefault("alerting.webhook_timeout", cfg.Alerting.WebhookTimeout)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.encoding", cfg.Logging.Encoding)
	v.SetDefault("logging.development", cfg.Logging.Development)
}
