package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/qor5/web/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect plaid configuration",
	Long: `Inspect the configuration resolved from .plaid.yml, PLAID_ environment
variables and flags.

Examples:
  plaid config show                      # Show current configuration
  plaid config show --format json
  plaid config validate --file prod.yml  # Validate a specific file`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var (
	configFile   string
	configFormat string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configValidateCmd)

	configShowCmd.Flags().StringVarP(&configFormat, "format", "f", "yaml", "Output format (yaml, json)")
	configValidateCmd.Flags().StringVar(&configFile, "file", "", "configuration file to validate (default .plaid.yml)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch configFormat {
	case "yaml", "yml":
		fmt.Fprintln(out, "# Resolved from all sources (file, env vars, defaults)")
		return yaml.NewEncoder(out).Encode(cfg)
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", configFormat)
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	targetFile := configFile
	if targetFile == "" {
		targetFile = ".plaid.yml"
	}
	if _, err := os.Stat(targetFile); os.IsNotExist(err) {
		return fmt.Errorf("configuration file %s does not exist", targetFile)
	}

	v := viper.New()
	v.SetConfigFile(targetFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}
	if _, err := config.LoadFrom(v); err != nil {
		return fmt.Errorf("%s: %w", targetFile, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", targetFile)
	return nil
}
