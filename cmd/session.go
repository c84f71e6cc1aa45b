package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qor5/web/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored page sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete NAME...",
	Short: "Forget stored sessions, including their cookies",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSessionDelete,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionDeleteCmd)
}

func openStore(cmd *cobra.Command) (*session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return session.Open(commandContext(cmd), cfg.Session.Path, nil)
}

func runSessionList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	names, err := store.Names(commandContext(cmd))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "No sessions stored.")
		return nil
	}
	for _, n := range names {
		fmt.Fprintln(out, n)
	}
	return nil
}

func runSessionDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, name := range args {
		if err := store.Delete(commandContext(cmd), name); err != nil {
			return err
		}
	}
	return nil
}
