// Package config loads mission-control configuration from defaults,
// an optional config.yaml, and MISSIONCTL_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Agents   AgentsConfig   `mapstructure:"agents"`
}

type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"base_url"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
	UseUTC bool   `mapstructure:"use_utc"`
}

type GatewayConfig struct {
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	PatchTimeout time.Duration `mapstructure:"patch_timeout"`
	SyncDeadline time.Duration `mapstructure:"sync_deadline"`
}

type WebhookConfig struct {
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	DispatchThrottle time.Duration `mapstructure:"dispatch_throttle"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	ReconcileAfter   time.Duration `mapstructure:"reconcile_after"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"` // empty means in-memory bus
}

type AgentsConfig struct {
	LocalWorkspaceRoot string `mapstructure:"local_workspace_root"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration with precedence env > config.yaml > defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MISSIONCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/mission-control")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")

	v.SetDefault("database.path", "mission-control.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.use_utc", true)

	v.SetDefault("gateway.call_timeout", 20*time.Second)
	v.SetDefault("gateway.patch_timeout", 30*time.Second)
	v.SetDefault("gateway.sync_deadline", 10*time.Minute)

	v.SetDefault("webhook.queue_capacity", 256)
	v.SetDefault("webhook.dispatch_throttle", 2*time.Second)
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.reconcile_after", 10*time.Minute)

	v.SetDefault("nats.url", "")

	v.SetDefault("agents.local_workspace_root", "")
}

func validate(cfg *Config) error {
	var problems []string
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid server port: %d", cfg.Server.Port))
	}
	if cfg.Server.BaseURL == "" {
		problems = append(problems, "server.base_url is required")
	}
	if cfg.Database.Path == "" {
		problems = append(problems, "database.path is required")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("invalid logging format: %q", cfg.Logging.Format))
	}
	if cfg.Webhook.QueueCapacity <= 0 {
		problems = append(problems, "webhook.queue_capacity must be positive")
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		problems = append(problems, "webhook.max_attempts must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
