package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/medconsult/pkg/consult/config"
)

const Version = "0.1.0"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "medconsult",
	Short: "medconsult - conversational medical consultation service",
	Long: `medconsult interviews a patient about their symptoms, drafts a summary
for the patient to review, and produces advice once the summary is confirmed.`,
	Version:      Version,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "medconsult.yaml",
		"Path to the YAML configuration file. A missing file falls back to defaults and MEDCONSULT_* environment variables.")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log.level from the configuration (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		if err := validateLogLevel(logLevel); err != nil {
			return nil, err
		}
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// validateLogLevel checks a --log-level value.
func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", level)
}
