package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qor5/web/internal/logging"
	"github.com/qor5/web/internal/middleware"
	"github.com/qor5/web/internal/plaid"
	"github.com/qor5/web/internal/push"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Apply event responses pushed by the server",
	Long: `Connect to the server-push websocket and apply every pushed event
response to the current page, printing the page after each one. The
connection is re-established with backoff until interrupted.

Examples:
  plaid listen --url ws://localhost:9000/__plaid/push
  plaid listen --reload -o text`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

var (
	listenFlags  *StandardFlags
	listenURL    string
	listenReload bool
)

func init() {
	rootCmd.AddCommand(listenCmd)

	listenFlags = AddStandardFlags(listenCmd, "page")
	listenCmd.Flags().StringVar(&listenURL, "url", "", "push endpoint (default push.url)")
	listenCmd.Flags().BoolVar(&listenReload, "reload", false, "reload the page before listening")
}

func runListen(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openPage(cmd, "")
	if err != nil {
		return err
	}
	defer p.Close(context.Background())

	url := listenURL
	if url == "" {
		url = p.cfg.Push.URL
	}
	if url == "" {
		return fmt.Errorf("no push endpoint: pass --url or set push.url")
	}

	if listenReload {
		if _, err := p.plaid().Reload().Go(ctx); err != nil {
			return err
		}
	}

	listener := push.NewListener(p.rt, push.ListenerOptions{
		URL:            url,
		Jar:            p.rt.Client().Jar(),
		ReconnectDelay: p.cfg.Push.ReconnectDelay,
		Logger:         p.logger,
		OnApplied: func(msg push.Message, err error) {
			if err != nil || listenFlags.Quiet {
				return
			}
			if perr := p.print(listenFlags.Format, msg.Response); perr != nil {
				p.logger.Warn(ctx, perr, "Failed to print page")
			}
		},
	})

	p.logger.Info(ctx, "Listening for pushed responses", "url", url)
	if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a push hub that fans event responses out to listeners",
	Long: `Serve a push hub. Listeners connect to /push over websocket; every
event response POSTed as JSON to /publish is sent to all of them.

Examples:
  plaid relay --addr :7070
  curl -d '{"runScript":"vars.n = 1"}' localhost:7070/publish`,
	Args: cobra.NoArgs,
	RunE: runRelay,
}

var (
	relayAddr    string
	relayOrigins []string
)

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVar(&relayAddr, "addr", "localhost:7070", "address to listen on")
	relayCmd.Flags().StringSliceVar(&relayOrigins, "origin", nil, "allowed websocket origin patterns")
}

func runRelay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, logCloser, err := logging.OpenLogger(cfg.LoggerConfig(), cfg.Log.File)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	hub := push.NewHub(push.HubOptions{OriginPatterns: relayOrigins, Logger: logger})
	server := &http.Server{
		Addr:              relayAddr,
		Handler:           relayHandler(hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "Push relay listening", "addr", relayAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = hub.Shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = hub.Shutdown(shutdownCtx)
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// relayHandler serves the hub at /push and accepts responses at /publish.
func relayHandler(hub *push.Hub, logger logging.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/push", hub)
	mux.Handle("/publish", middleware.NewChain(middleware.AllowMethods(http.MethodPost)).Apply(publishHandler(hub)))
	return middleware.NewChain(middleware.Logging(logger), middleware.Recover(logger)).Apply(mux)
}

func publishHandler(hub *push.Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := plaid.DecodeResponse(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !hub.Publish(resp) {
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"clients": hub.Clients()})
	})
}
