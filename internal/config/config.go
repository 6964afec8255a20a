// Package config loads service configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Engine   EngineConfig   `yaml:"engine" mapstructure:"engine"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Audit    AuditConfig    `yaml:"audit" mapstructure:"audit"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr        string   `yaml:"addr" mapstructure:"addr"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	PprofAddr   string   `yaml:"pprof_addr" mapstructure:"pprof_addr"`
}

// DatabaseConfig configures the record store connection.
type DatabaseConfig struct {
	// Driver selects the connector: sqlite or cloudsql.
	Driver                 string `yaml:"driver" mapstructure:"driver"`
	Path                   string `yaml:"path" mapstructure:"path"`
	InstanceConnectionName string `yaml:"instance_connection_name" mapstructure:"instance_connection_name"`
	User                   string `yaml:"user" mapstructure:"user"`
	Password               string `yaml:"password" mapstructure:"password"`
	Name                   string `yaml:"name" mapstructure:"name"`
}

// EngineConfig configures the external execution engine webhook.
type EngineConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	Token      string `yaml:"token" mapstructure:"token"`
	// IngestToken authenticates the engine's audit snapshot callbacks.
	IngestToken string `yaml:"ingest_token" mapstructure:"ingest_token"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
}

// RedisConfig configures the optional Redis notification transport. When
// disabled the in-process broker is used.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// AuditConfig configures audit lifecycle housekeeping.
type AuditConfig struct {
	// StaleAfter is how long a target may sit in Auditing before the
	// reaper fails it. Zero disables reaping.
	StaleAfter time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
	// ReapInterval is how often the reaper runs.
	ReapInterval time.Duration `yaml:"reap_interval" mapstructure:"reap_interval"`
}

// Load reads the configuration file (optional) and environment overrides.
// Environment variables use the AUDITCORE prefix with underscores, e.g.
// AUDITCORE_ENGINE_WEBHOOK_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AUDITCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.pprof_addr", "")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "audit-core.db")
	v.SetDefault("database.instance_connection_name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("engine.webhook_url", "")
	v.SetDefault("engine.token", "")
	v.SetDefault("engine.ingest_token", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("audit.stale_after", 30*time.Minute)
	v.SetDefault("audit.reap_interval", time.Minute)

	// Every key needs a default registered above; viper only consults the
	// environment for keys it already knows about.

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Engine.WebhookURL == "" {
		return nil, fmt.Errorf("engine.webhook_url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}
	return &cfg, nil
}
