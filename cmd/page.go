package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qor5/web/internal/config"
	"github.com/qor5/web/internal/logging"
	"github.com/qor5/web/internal/plaid"
	"github.com/qor5/web/internal/query"
	"github.com/qor5/web/internal/script"
	"github.com/qor5/web/internal/session"
	"github.com/qor5/web/internal/transport"
	"github.com/qor5/web/internal/version"
	"github.com/qor5/web/internal/view"
)

// page is one command's runtime, resumed from and saved to the session
// store.
type page struct {
	cfg    *config.Config
	logger logging.Logger
	rt     *plaid.Runtime
	app    *view.App
	store  *session.Store
	out    io.Writer

	logCloser io.Closer
}

// openPage builds a runtime for href. An empty href resumes the stored
// session, falling back to client.base_url. A non-empty href starts a new
// history but keeps the stored cookies.
func openPage(cmd *cobra.Command, href string) (*page, error) {
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := logging.OpenLogger(cfg.LoggerConfig(), cfg.Log.File)
	if err != nil {
		return nil, err
	}

	p := &page{cfg: cfg, logger: logger, out: cmd.OutOrStdout(), logCloser: logCloser}

	var snap *session.Snapshot
	noSession, _ := cmd.Flags().GetBool("no-session")
	if cfg.Session.Enabled && !noSession {
		p.store, err = session.Open(ctx, cfg.Session.Path, logger)
		if err != nil {
			p.release()
			return nil, err
		}
		snap, _, err = p.store.Load(ctx, cfg.Session.Name)
		if err != nil {
			p.release()
			return nil, err
		}
	}

	base := href
	if base == "" && snap != nil {
		base = snap.Href
	}
	if base == "" {
		base = cfg.Client.BaseURL
	}
	if base == "" {
		p.release()
		return nil, fmt.Errorf("no page is open: pass a URL or set client.base_url")
	}

	userAgent := cfg.Client.UserAgent
	if userAgent == config.DefaultUserAgent {
		userAgent = version.UserAgent()
	}
	client, err := transport.NewClient(transport.Options{
		Logger:    logger,
		Timeout:   cfg.Client.Timeout,
		UserAgent: userAgent,
		Headers:   cfg.Client.Headers,
	})
	if err != nil {
		p.release()
		return nil, err
	}

	p.rt, err = plaid.New(plaid.Options{
		BaseURL:         base,
		Client:          client,
		Runner:          script.NewGoja(cfg.Dispatch.ScriptTimeout, logger),
		Logger:          logger,
		FollowRedirects: true,
	})
	if err != nil {
		p.release()
		return nil, err
	}
	p.app = view.New(p.rt, view.Options{Logger: logger, Debounce: cfg.Dispatch.Debounce})

	if snap != nil {
		if href == "" {
			err = session.Restore(p.rt, snap)
		} else {
			err = session.RestoreCookies(p.rt, snap)
		}
		if err != nil {
			p.Close(ctx)
			return nil, err
		}
	}
	return p, nil
}

// plaid starts an action carrying the configured query encoding.
func (p *page) plaid() *plaid.Builder {
	encode := p.cfg.Query.Encode
	return p.rt.Plaid().StringifyOptions(query.StringifyOptions{Encode: &encode})
}

// Close stores the session and releases the runtime.
func (p *page) Close(ctx context.Context) {
	if p.store != nil && p.rt != nil {
		snap, err := session.Capture(p.cfg.Session.Name, p.rt)
		if err == nil {
			err = p.store.Save(ctx, snap)
		}
		if err != nil {
			p.logger.Warn(ctx, err, "Failed to store session", "name", p.cfg.Session.Name)
		}
	}
	if p.app != nil {
		p.app.Close()
	}
	if p.rt != nil {
		p.rt.Close()
	}
	p.release()
}

// release closes the session store and the log file.
func (p *page) release() {
	if p.store != nil {
		_ = p.store.Close()
		p.store = nil
	}
	if p.logCloser != nil {
		_ = p.logCloser.Close()
		p.logCloser = nil
	}
}

// print writes the result of a command in format.
func (p *page) print(format string, r *plaid.EventResponse) error {
	switch strings.ToLower(format) {
	case "", "html":
		if title := p.rt.Window().Title(); title != "" {
			fmt.Fprintf(p.out, "<!-- %s -->\n", title)
		}
		fmt.Fprintln(p.out, p.app.HTML())
		return nil
	case "text":
		fmt.Fprintln(p.out, p.app.InnerText())
		return nil
	case "json":
		encoder := json.NewEncoder(p.out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(struct {
			Href     string               `json:"href"`
			Title    string               `json:"title,omitempty"`
			Response *plaid.EventResponse `json:"response,omitempty"`
		}{p.rt.Window().Href(), p.rt.Window().Title(), r})
	default:
		return fmt.Errorf("unsupported format: %s (supported: html, text, json)", format)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
