package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// StandardFlags provides consistent flag definitions across commands
type StandardFlags struct {
	// Output flags
	Format string
	Quiet  bool

	// Event flags
	Fields     []string
	FieldFiles []string
	Queries    []string
	MergeQuery bool
	PushState  bool
	Method     string
}

// AddStandardFlags adds standard flags to a command
func AddStandardFlags(cmd *cobra.Command, flagTypes ...string) *StandardFlags {
	flags := &StandardFlags{}

	for _, flagType := range flagTypes {
		switch flagType {
		case "page":
			addPageFlags(cmd, flags)
		case "event":
			addEventFlags(cmd, flags)
		}
	}

	return flags
}

func addPageFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVarP(&flags.Format, "output", "o", "html", "Output format (html|text|json)")
	cmd.Flags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Do not print the page")
	AddFlagValidation(cmd, "output", func(format string) error {
		return ValidateFormat(format, []string{"html", "text", "json"})
	})
}

func addEventFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringArrayVarP(&flags.Fields, "field", "f", nil, "Form field as name=value (repeatable)")
	cmd.Flags().StringArrayVar(&flags.FieldFiles, "field-file", nil, "File field as name=path (repeatable)")
	cmd.Flags().StringArrayVar(&flags.Queries, "query", nil, "Query parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&flags.MergeQuery, "merge-query", false, "Merge --query into the current query string")
	cmd.Flags().BoolVar(&flags.PushState, "push", false, "Push the resulting address onto the history")
	cmd.Flags().StringVar(&flags.Method, "method", "POST", "HTTP method of the event request")
}

// ValidateFlags validates flag combinations and values
func (f *StandardFlags) ValidateFlags() error {
	for _, kv := range append(append([]string{}, f.Fields...), f.FieldFiles...) {
		if _, _, err := SplitPair(kv); err != nil {
			return err
		}
	}
	for _, kv := range f.Queries {
		if _, _, err := SplitPair(kv); err != nil {
			return err
		}
	}
	if f.MergeQuery && len(f.Queries) == 0 {
		return fmt.Errorf("--merge-query needs at least one --query")
	}
	switch strings.ToUpper(f.Method) {
	case "", "GET", "POST", "PUT", "PATCH", "DELETE":
	default:
		return fmt.Errorf("unsupported method: %s", f.Method)
	}
	return nil
}

// SplitPair splits name=value. The name must not be empty; the value may.
func SplitPair(kv string) (string, string, error) {
	name, value, ok := strings.Cut(kv, "=")
	if !ok || name == "" {
		return "", "", fmt.Errorf("expected name=value, got %q", kv)
	}
	return name, value, nil
}

// DefaultFormat picks table output on a terminal and fallback otherwise.
func DefaultFormat(fallback string) string {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return "table"
	}
	return fallback
}

// ValidateFormat reports an unknown output format.
func ValidateFormat(format string, valid []string) error {
	for _, v := range valid {
		if strings.EqualFold(format, v) {
			return nil
		}
	}
	return fmt.Errorf("invalid format %s, must be one of: %s", format, strings.Join(valid, ", "))
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	originalSet := flag.Value.Set

	flag.Value = &validatingValue{
		Value:       flag.Value,
		validator:   validator,
		originalSet: originalSet,
	}
}

type validatingValue struct {
	pflag.Value
	validator   func(string) error
	originalSet func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.originalSet(val)
}
