package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zeebo/assert"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: ":9090"
  cors_origins:
    - https://app.example.com
engine:
  webhook_url: https://engine.example.com/hook
  token: engine-token
  ingest_token: ingest-token
auth:
  jwt_secret: unit-test-secret
audit:
  stale_after: 45m
`)

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.DeepEqual(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "https://engine.example.com/hook", cfg.Engine.WebhookURL)
	assert.Equal(t, "ingest-token", cfg.Engine.IngestToken)
	assert.Equal(t, 45*time.Minute, cfg.Audit.StaleAfter)

	// Defaults fill what the file leaves out.
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "audit-core.db", cfg.Database.Path)
	assert.Equal(t, time.Minute, cfg.Audit.ReapInterval)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("AUDITCORE_SERVER_ADDR", ":7070")
	path := writeConfigFile(t, `
engine:
  webhook_url: https://engine.example.com/hook
auth:
  jwt_secret: unit-test-secret
`)

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoadFromEnvironmentOnly(t *testing.T) {
	t.Setenv("AUDITCORE_ENGINE_WEBHOOK_URL", "https://engine.example.com/hook")
	t.Setenv("AUDITCORE_AUTH_JWT_SECRET", "unit-test-secret")
	t.Setenv("AUDITCORE_REDIS_ENABLED", "true")

	cfg, err := Load("")
	assert.NoError(t, err)
	assert.Equal(t, "https://engine.example.com/hook", cfg.Engine.WebhookURL)
	assert.Equal(t, "unit-test-secret", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{
			name: "missing webhook url",
			contents: `
auth:
  jwt_secret: unit-test-secret
`,
		},
		{
			name: "missing jwt secret",
			contents: `
engine:
  webhook_url: https://engine.example.com/hook
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, tt.contents))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
