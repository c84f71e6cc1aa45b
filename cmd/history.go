package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/qor5/web/internal/config"
	"github.com/qor5/web/internal/session"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"h"},
	Short:   "Show the stored page history",
	Long: `Show the history of the stored page session. The current entry is marked
with "*". Output defaults to a table on a terminal and JSON otherwise.

Examples:
  plaid history
  plaid history -f yaml
  plaid history --session checkout -f json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyFormat string

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "", "Output format (table, json, yaml)")
	AddFlagValidation(historyCmd, "format", func(format string) error {
		return ValidateFormat(format, []string{"table", "json", "yaml"})
	})
}

// historyEntry is one row of the history listing.
type historyEntry struct {
	Position int    `json:"position" yaml:"position"`
	Current  bool   `json:"current" yaml:"current"`
	URL      string `json:"url" yaml:"url"`
	Title    string `json:"title,omitempty" yaml:"title,omitempty"`
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	State    any    `json:"state,omitempty" yaml:"state,omitempty"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := session.Open(ctx, cfg.Session.Path, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, found, err := store.Load(ctx, cfg.Session.Name)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !found {
		fmt.Fprintf(out, "No session named %q.\n", sessionName(cfg))
		return nil
	}

	entries := historyEntries(snap)
	format := historyFormat
	if format == "" {
		format = DefaultFormat("json")
	}
	return outputHistory(out, format, entries)
}

func historyEntries(snap *session.Snapshot) []historyEntry {
	entries := make([]historyEntry, len(snap.Records))
	for i, rec := range snap.Records {
		entries[i] = historyEntry{
			Position: i,
			Current:  i == snap.Index,
			URL:      rec.URL,
			Title:    rec.Title,
			ID:       rec.ID,
			State:    rec.State,
		}
	}
	return entries
}

func outputHistory(w io.Writer, format string, entries []historyEntry) error {
	switch strings.ToLower(format) {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entries)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return encoder.Encode(entries)
	case "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "\tPOS\tURL\tTITLE")
		for _, e := range entries {
			mark := ""
			if e.Current {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", mark, e.Position, e.URL, e.Title)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func sessionName(cfg *config.Config) string {
	if cfg.Session.Name == "" {
		return config.DefaultSessionName
	}
	return cfg.Session.Name
}
