package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qor5/web/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch [EVENT_ID]",
	Aliases: []string{"w"},
	Short:   "Re-fire an event whenever watched files change",
	Long: `Watch files and re-send EVENT_ID (or reload the page without one) after
every burst of changes. Files passed with --field-file are watched and
re-read on each dispatch, so editing them re-submits the form.

Examples:
  plaid watch import --field-file data=./orders.csv
  plaid watch --path ./fixtures --ext .json
  plaid watch preview --field-file body=./draft.md -o text`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var (
	watchFlags *StandardFlags
	watchPaths []string
	watchExts  []string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchFlags = AddStandardFlags(watchCmd, "page", "event")
	watchCmd.Flags().StringArrayVar(&watchPaths, "path", nil, "directory to watch recursively (repeatable)")
	watchCmd.Flags().StringSliceVar(&watchExts, "ext", nil, "only react to files with these extensions")
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := watchFlags.ValidateFlags(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openPage(cmd, "")
	if err != nil {
		return err
	}
	defer p.Close(context.Background())

	fileWatcher, err := watcher.NewFileWatcher(p.cfg.Watch.Debounce, p.logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fileWatcher.Stop()

	fileWatcher.AddFilter(watcher.NoGitFilter)
	fileWatcher.AddFilter(watcher.NoTempFilter)
	if len(watchExts) > 0 {
		fileWatcher.AddFilter(watcher.ExtFilter(watchExts...))
	}

	dispatch := func(ctx context.Context) error {
		b := p.plaid()
		if len(args) == 1 {
			b = b.EventFunc(args[0])
		} else {
			b = b.Reload()
		}
		b, err := applyEventFlags(b, watchFlags)
		if err != nil {
			return err
		}
		r, err := b.Go(ctx)
		if err != nil {
			return err
		}
		if watchFlags.Quiet {
			return nil
		}
		return p.print(watchFlags.Format, r)
	}

	fileWatcher.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		for _, e := range events {
			p.logger.Info(ctx, "File changed", "path", e.Path, "type", e.Type.String())
		}
		if err := dispatch(ctx); err != nil {
			p.logger.Error(ctx, err, "Dispatch after change failed")
		}
		return nil
	})

	files, _, err := groupPairs(watchFlags.FieldFiles)
	if err != nil {
		return err
	}
	watching := 0
	for _, paths := range files {
		for _, path := range paths {
			if err := fileWatcher.AddFile(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
			watching++
		}
	}
	for _, path := range watchPaths {
		if err := fileWatcher.AddRecursive(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		watching++
	}
	if watching == 0 {
		return fmt.Errorf("nothing to watch: pass --field-file or --path")
	}

	if err := dispatch(ctx); err != nil {
		return err
	}
	if err := fileWatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}

	<-ctx.Done()
	return nil
}
