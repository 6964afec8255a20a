package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRootCmd(t *testing.T) {
	rootCmd := newRootCmd()
	if rootCmd.Use != "audit-core" {
		t.Errorf("root command use = %q, want audit-core", rootCmd.Use)
	}

	subcommands := map[string]bool{}
	for _, sub := range rootCmd.Commands() {
		subcommands[sub.Name()] = true
	}
	for _, name := range []string{"serve", "config"} {
		if !subcommands[name] {
			t.Errorf("root command is missing the %s subcommand", name)
		}
	}
}

func TestConfigCommandRedactsSecrets(t *testing.T) {
	t.Setenv("AUDITCORE_ENGINE_WEBHOOK_URL", "https://engine.example.com/hook")
	t.Setenv("AUDITCORE_ENGINE_TOKEN", "super-secret-token")
	t.Setenv("AUDITCORE_AUTH_JWT_SECRET", "super-secret-jwt")

	configCmd := newConfigCmd()
	var out bytes.Buffer
	configCmd.SetOut(&out)
	configCmd.SetArgs(nil)
	if err := configCmd.Execute(); err != nil {
		t.Fatalf("config command error = %v", err)
	}

	rendered := out.String()
	if strings.Contains(rendered, "super-secret") {
		t.Errorf("config output leaked a secret:\n%s", rendered)
	}
	if !strings.Contains(rendered, "<redacted>") {
		t.Errorf("config output missing redaction markers:\n%s", rendered)
	}
	if !strings.Contains(rendered, "https://engine.example.com/hook") {
		t.Errorf("config output missing webhook url:\n%s", rendered)
	}
}

func TestConfigCommandRequiresWebhookURL(t *testing.T) {
	configCmd := newConfigCmd()
	configCmd.SetOut(new(bytes.Buffer))
	configCmd.SetErr(new(bytes.Buffer))
	if err := configCmd.Execute(); err == nil {
		t.Error("config command succeeded without a webhook url")
	}
}
