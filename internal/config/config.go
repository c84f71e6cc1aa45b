// Package config provides configuration management for the plaid client
// runtime using Viper for loading from files, environment variables, and
// command-line flags.
//
// The configuration system supports YAML files, environment variable overrides
// with the PLAID_ prefix, and validation. It covers the HTTP client used to
// reach the plaid server, dispatch timings (debounce, script timeout), query
// serialization defaults, session persistence, the server-push channel, and
// logging.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/logging"
	"github.com/spf13/viper"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultDebounce      = 800 * time.Millisecond
	DefaultScriptTimeout = 5 * time.Second
	DefaultWatchDebounce = 300 * time.Millisecond
	DefaultSessionPath   = ".plaid/session.db"
	DefaultSessionName   = "default"
	DefaultUserAgent     = "plaid-go"
)

type Config struct {
	Client   ClientConfig   `mapstructure:"client" yaml:"client"`
	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
	Query    QueryConfig    `mapstructure:"query" yaml:"query"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Push     PushConfig     `mapstructure:"push" yaml:"push"`
	Watch    WatchConfig    `mapstructure:"watch" yaml:"watch"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type ClientConfig struct {
	BaseURL   string            `mapstructure:"base_url" yaml:"base_url"`
	Timeout   time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	UserAgent string            `mapstructure:"user_agent" yaml:"user_agent"`
	Headers   map[string]string `mapstructure:"headers" yaml:"headers"`
}

type DispatchConfig struct {
	Debounce      time.Duration `mapstructure:"debounce" yaml:"debounce"`
	ScriptTimeout time.Duration `mapstructure:"script_timeout" yaml:"script_timeout"`
}

type QueryConfig struct {
	// Encode controls percent-encoding of serialized query values.
	Encode bool `mapstructure:"encode" yaml:"encode"`
}

type SessionConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	Name    string `mapstructure:"name" yaml:"name"`
}

type PushConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
}

type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// File, when set, receives a JSON copy of every record.
	File string `mapstructure:"file" yaml:"file"`
}

// Load reads the global viper state into a validated Config.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads v into a validated Config.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// viper leaves bools at false when unset, so defaults need IsSet checks
	if !v.IsSet("query.encode") {
		config.Query.Encode = true
	}
	if !v.IsSet("session.enabled") {
		config.Session.Enabled = true
	}

	if config.Client.Timeout == 0 {
		config.Client.Timeout = DefaultTimeout
	}
	if config.Client.UserAgent == "" {
		config.Client.UserAgent = DefaultUserAgent
	}
	if config.Client.Headers == nil {
		config.Client.Headers = make(map[string]string)
	}

	if config.Dispatch.Debounce == 0 {
		config.Dispatch.Debounce = DefaultDebounce
	}
	if config.Dispatch.ScriptTimeout == 0 {
		config.Dispatch.ScriptTimeout = DefaultScriptTimeout
	}

	if config.Session.Path == "" {
		config.Session.Path = DefaultSessionPath
	}
	if config.Session.Name == "" {
		config.Session.Name = DefaultSessionName
	}

	if config.Push.ReconnectDelay == 0 {
		config.Push.ReconnectDelay = 2 * time.Second
	}
	if config.Watch.Debounce == 0 {
		config.Watch.Debounce = DefaultWatchDebounce
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoggerConfig maps the log section onto a logging configuration.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.Log.Level)
	lc.Format = c.Log.Format
	return lc
}

func validateConfig(config *Config) error {
	var vec errors.ValidationErrorCollection

	if config.Client.BaseURL != "" {
		if err := validateAbsoluteURL(config.Client.BaseURL, "http", "https"); err != nil {
			vec.AddField("client.base_url", config.Client.BaseURL, err.Error())
		}
	}
	if config.Client.Timeout < 0 {
		vec.AddField("client.timeout", config.Client.Timeout, "must not be negative")
	}
	for name := range config.Client.Headers {
		if name == "" || strings.ContainsAny(name, " \t\r\n:") {
			vec.AddField("client.headers", name, "invalid header name")
		}
	}

	if config.Dispatch.Debounce < 0 {
		vec.AddField("dispatch.debounce", config.Dispatch.Debounce, "must not be negative")
	}
	if config.Dispatch.ScriptTimeout < 0 {
		vec.AddField("dispatch.script_timeout", config.Dispatch.ScriptTimeout, "must not be negative")
	}

	if err := validatePath(config.Session.Path); err != nil {
		vec.AddField("session.path", config.Session.Path, err.Error())
	}

	if config.Push.URL != "" {
		if err := validateAbsoluteURL(config.Push.URL, "ws", "wss", "http", "https"); err != nil {
			vec.AddField("push.url", config.Push.URL, err.Error())
		}
	}

	switch strings.ToLower(config.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		vec.AddField("log.level", config.Log.Level, "unknown log level")
	}
	switch config.Log.Format {
	case "text", "json":
	default:
		vec.AddField("log.format", config.Log.Format, "format must be text or json")
	}
	if config.Log.File != "" {
		if err := validatePath(config.Log.File); err != nil {
			vec.AddField("log.file", config.Log.File, err.Error())
		}
	}

	if vec.HasErrors() {
		return vec.ToPlaidError()
	}
	return nil
}

func validateAbsoluteURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("url must be absolute")
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
