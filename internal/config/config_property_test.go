//go:build property
// +build property

package config

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestConfigurationProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("http base urls with a host validate", prop.ForAll(
		func(host string, port int) bool {
			cfg := &Config{
				Client:  ClientConfig{BaseURL: fmt.Sprintf("http://%s:%d", host, port), Timeout: time.Second},
				Session: SessionConfig{Path: DefaultSessionPath},
				Log:     LogConfig{Level: "info", Format: "text"},
			}
			return validateConfig(cfg) == nil
		},
		gen.RegexMatch(`^[a-z][a-z0-9-]{0,20}$`),
		gen.IntRange(1, 65535),
	))

	properties.Property("paths containing traversal are rejected", prop.ForAll(
		func(segment string) bool {
			path := "../" + segment
			return validatePath(path) != nil
		},
		gen.RegexMatch(`^[a-z]{1,10}$`),
	))

	properties.Property("path validation is deterministic", prop.ForAll(
		func(path string) bool {
			first := validatePath(path) == nil
			second := validatePath(path) == nil
			return first == second
		},
		gen.AnyString(),
	))

	properties.Property("negative durations never validate", prop.ForAll(
		func(ms int64) bool {
			cfg := &Config{
				Dispatch: DispatchConfig{Debounce: -time.Duration(ms) * time.Millisecond},
				Session:  SessionConfig{Path: DefaultSessionPath},
				Log:      LogConfig{Level: "info", Format: "text"},
			}
			err := validateConfig(cfg)
			return err != nil && strings.Contains(err.Error(), "dispatch.debounce")
		},
		gen.Int64Range(1, 100000),
	))

	properties.TestingRun(t)
}
