// Package push carries server-initiated event responses over a websocket:
// a Hub on the server side broadcasts them and a Listener on the client
// side applies them to a runtime.
package push

import (
	"context"
	"time"

	"github.com/qor5/web/internal/plaid"
)

// MessageTypeResponse marks a message carrying an event response.
const MessageTypeResponse = "response"

// Message is one frame on the push channel.
type Message struct {
	Type      string               `json:"type"`
	Response  *plaid.EventResponse `json:"response,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Applier applies a pushed response. *plaid.Runtime implements it.
type Applier interface {
	Apply(ctx context.Context, r *plaid.EventResponse) (*plaid.EventResponse, error)
}
