package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qor5/web/internal/form"
	"github.com/qor5/web/internal/plaid"
)

var eventCmd = &cobra.Command{
	Use:     "event EVENT_ID",
	Aliases: []string{"e"},
	Short:   "Fire an event handler on the current page",
	Long: `Send an event request for EVENT_ID from the current page and apply the
response, the way a button wired to plaid().eventFunc(EVENT_ID).go() would.

Examples:
  plaid event save --field name=felix --field age=3
  plaid event upload --field-file avatar=./me.png
  plaid event search --query q=go --merge-query --push
  plaid event delete --method DELETE -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runEvent,
}

var eventFlags *StandardFlags

func init() {
	rootCmd.AddCommand(eventCmd)

	eventFlags = AddStandardFlags(eventCmd, "page", "event")
}

func runEvent(cmd *cobra.Command, args []string) error {
	if err := eventFlags.ValidateFlags(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	ctx := commandContext(cmd)

	p, err := openPage(cmd, "")
	if err != nil {
		return err
	}
	defer p.Close(ctx)

	b, err := applyEventFlags(p.plaid().EventFunc(args[0]), eventFlags)
	if err != nil {
		return err
	}
	r, err := b.Go(ctx)
	if err != nil {
		return err
	}
	if eventFlags.Quiet {
		return nil
	}
	return p.print(eventFlags.Format, r)
}

// applyEventFlags adds the fields, files and query of flags to b.
// Repeated names become lists.
func applyEventFlags(b *plaid.Builder, flags *StandardFlags) (*plaid.Builder, error) {
	if flags.Method != "" {
		b = b.Method(strings.ToUpper(flags.Method))
	}

	fields, order, err := groupPairs(flags.Fields)
	if err != nil {
		return nil, err
	}
	for _, name := range order {
		if vs := fields[name]; len(vs) == 1 {
			b = b.FieldValue(name, vs[0])
		} else {
			b = b.FieldValue(name, vs)
		}
	}

	files, order, err := groupPairs(flags.FieldFiles)
	if err != nil {
		return nil, err
	}
	for _, name := range order {
		var opened []*form.File
		for _, path := range files[name] {
			f, err := form.OpenFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read field file %s: %w", path, err)
			}
			opened = append(opened, f)
		}
		if len(opened) == 1 {
			b = b.FieldValue(name, opened[0])
		} else {
			b = b.FieldValue(name, opened)
		}
	}

	queries, order, err := groupPairs(flags.Queries)
	if err != nil {
		return nil, err
	}
	for _, key := range order {
		if vs := queries[key]; len(vs) == 1 {
			b = b.Query(key, vs[0])
		} else {
			b = b.Query(key, vs)
		}
	}
	if flags.MergeQuery {
		b = b.MergeQuery(true)
	}
	if flags.PushState {
		b = b.PushState(true)
	}
	return b, nil
}

func groupPairs(pairs []string) (map[string][]string, []string, error) {
	grouped := make(map[string][]string)
	var order []string
	for _, kv := range pairs {
		name, value, err := SplitPair(kv)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := grouped[name]; !ok {
			order = append(order, name)
		}
		grouped[name] = append(grouped[name], value)
	}
	return grouped, order, nil
}
