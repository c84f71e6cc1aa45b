package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/logging"
)

// Reconnect backoff bounds.
const (
	DefaultReconnectDelay    = 500 * time.Millisecond
	DefaultMaxReconnectDelay = 30 * time.Second
)

// ListenerOptions configure a Listener.
type ListenerOptions struct {
	URL string
	// Jar supplies the session cookies sent with the handshake.
	Jar               http.CookieJar
	Header            http.Header
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	Logger            logging.Logger
	// OnApplied is called after each pushed response is applied.
	OnApplied func(Message, error)
}

// Listener receives pushed responses and applies them.
type Listener struct {
	app    Applier
	opts   ListenerOptions
	client *http.Client
	logger logging.Logger
}

func NewListener(app Applier, opts ListenerOptions) *Listener {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	return &Listener{
		app:    app,
		opts:   opts,
		client: &http.Client{Jar: opts.Jar},
		logger: logger.WithComponent("push_listener").With("url", opts.URL),
	}
}

// Run listens until ctx is done, reconnecting with exponential backoff
// after the connection drops.
func (l *Listener) Run(ctx context.Context) error {
	delay := l.opts.ReconnectDelay
	for {
		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = l.opts.ReconnectDelay
		}
		l.logger.Warn(ctx, err, "Push connection lost, reconnecting", "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > l.opts.MaxReconnectDelay {
			delay = l.opts.MaxReconnectDelay
		}
	}
}

// listen holds one connection open and reports whether the handshake
// succeeded.
func (l *Listener) listen(ctx context.Context) (bool, error) {
	conn, _, err := websocket.Dial(ctx, l.opts.URL, &websocket.DialOptions{
		HTTPClient: l.client,
		HTTPHeader: l.opts.Header,
	})
	if err != nil {
		return false, errors.NewNetworkError(errors.ErrCodeRequestFailed, "push handshake failed", err)
	}
	defer conn.CloseNow()
	l.logger.Info(ctx, "Push connection established")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, errors.NewNetworkError(errors.ErrCodeRequestFailed, "push read failed", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			l.logger.Warn(ctx, errors.NewDecodeError("decode push message", err), "Ignoring push frame")
			continue
		}
		if msg.Type != MessageTypeResponse || msg.Response == nil {
			l.logger.Debug(ctx, "Ignoring push message", "type", msg.Type)
			continue
		}

		_, err = l.app.Apply(ctx, msg.Response)
		if err != nil {
			l.logger.Warn(ctx, err, "Applying pushed response failed")
		}
		if l.opts.OnApplied != nil {
			l.opts.OnApplied(msg, err)
		}
	}
}
