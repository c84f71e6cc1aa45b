// Package cmd provides the plaid command-line client.
//
// Configuration is read with the following precedence:
//  1. Command-line flags (--config, --base-url, ...)
//  2. PLAID_CONFIG_FILE environment variable, a custom config file path
//  3. Individual environment variables (PLAID_CLIENT_BASE_URL, ...)
//  4. The .plaid.yml file in the current directory
//
// Every command shares one page session: the history, title and cookies of
// the last command are stored in SQLite and resumed by the next one, so
// "plaid back" works across invocations.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "plaid",
	Short: "A headless client for plaid web applications",
	Long: `plaid drives a plaid server without a browser. It sends the same
event requests a page would, applies the responses to a headless view and
keeps the page history between invocations.

Quick Start:
  plaid open http://localhost:9000/users   Load a page
  plaid event save --field name=felix      Fire an event handler
  plaid back                               Traverse history
  plaid history                            Show the session history
  plaid listen                             Apply server-pushed responses`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .plaid.yml, can also use PLAID_CONFIG_FILE env var)")
	flags.String("base-url", "", "address of the plaid application")
	flags.StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("log-file", "", "also append JSON logs to this file")
	flags.String("session", "", "name of the stored page session")
	flags.Bool("no-session", false, "do not resume or store the page session")

	_ = viper.BindPFlag("client.base_url", flags.Lookup("base-url"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("log.file", flags.Lookup("log-file"))
	_ = viper.BindPFlag("session.name", flags.Lookup("session"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("PLAID_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".plaid")
	}

	viper.SetEnvPrefix("PLAID")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
