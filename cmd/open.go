package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:     "open [URL]",
	Aliases: []string{"o"},
	Short:   "Load a page",
	Long: `Load URL into a fresh page history and print the rendered body. Without
URL the configured client.base_url is opened. Cookies from the stored
session are kept.

Examples:
  plaid open http://localhost:9000/users
  plaid open http://localhost:9000/users -o text`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOpen,
}

var openFlags *StandardFlags

func init() {
	rootCmd.AddCommand(openCmd)

	openFlags = AddStandardFlags(openCmd, "page")
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	href := ""
	if len(args) == 1 {
		href = args[0]
	}
	if href == "" {
		cfgHref, err := configuredBaseURL()
		if err != nil {
			return err
		}
		href = cfgHref
	}

	p, err := openPage(cmd, href)
	if err != nil {
		return err
	}
	defer p.Close(ctx)

	r, err := p.plaid().Reload().Go(ctx)
	if err != nil {
		return err
	}
	if openFlags.Quiet {
		return nil
	}
	return p.print(openFlags.Format, r)
}

var reloadCmd = &cobra.Command{
	Use:     "reload",
	Aliases: []string{"r"},
	Short:   "Reload the current page",
	Args:    cobra.NoArgs,
	RunE:    runReload,
}

var backCmd = &cobra.Command{
	Use:   "back",
	Short: "Go back one history entry and reload it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTraverse(cmd, -1)
	},
}

var forwardCmd = &cobra.Command{
	Use:   "forward",
	Short: "Go forward one history entry and reload it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTraverse(cmd, 1)
	},
}

var navFlags *StandardFlags

func init() {
	rootCmd.AddCommand(reloadCmd, backCmd, forwardCmd)

	navFlags = &StandardFlags{}
	for _, c := range []*cobra.Command{reloadCmd, backCmd, forwardCmd} {
		addPageFlags(c, navFlags)
	}
}

func runReload(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	p, err := openPage(cmd, "")
	if err != nil {
		return err
	}
	defer p.Close(ctx)

	r, err := p.plaid().Reload().Go(ctx)
	if err != nil {
		return err
	}
	if navFlags.Quiet {
		return nil
	}
	return p.print(navFlags.Format, r)
}

// runTraverse moves delta entries through the stored history. The popstate
// handler reloads the page the traversal lands on.
func runTraverse(cmd *cobra.Command, delta int) error {
	ctx := commandContext(cmd)

	p, err := openPage(cmd, "")
	if err != nil {
		return err
	}
	defer p.Close(ctx)

	native := p.rt.Window().History()
	target := native.Index() + delta
	if target < 0 || target >= native.Length() {
		return fmt.Errorf("no history entry to go to (at %d of %d)", native.Index()+1, native.Length())
	}
	native.Go(delta)

	if navFlags.Quiet {
		return nil
	}
	return p.print(navFlags.Format, nil)
}

// configuredBaseURL reads client.base_url without opening a page.
func configuredBaseURL() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Client.BaseURL == "" {
		return "", fmt.Errorf("no URL given and client.base_url is not set")
	}
	return cfg.Client.BaseURL, nil
}
