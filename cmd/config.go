package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/redfoxsec/audit-core/internal/config"
)

// newConfigCmd creates the config command, which prints the effective
// configuration after defaults, file, and environment are merged.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE:  runConfig,
	}
	configCmd.PersistentFlags().StringP("config", "c", "", "Path to the YAML config file")
	return configCmd
}

func runConfig(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load() //nolint:errcheck

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("%w: config: %w", errFlagRetrieval, err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	// Secrets never reach stdout.
	cfg.Auth.JWTSecret = redacted(cfg.Auth.JWTSecret)
	cfg.Engine.Token = redacted(cfg.Engine.Token)
	cfg.Engine.IngestToken = redacted(cfg.Engine.IngestToken)
	cfg.Database.Password = redacted(cfg.Database.Password)
	cfg.Redis.Password = redacted(cfg.Redis.Password)

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	cmd.Print(string(out))
	return nil
}

func redacted(secret string) string {
	if secret == "" {
		return ""
	}
	return "<redacted>"
}
