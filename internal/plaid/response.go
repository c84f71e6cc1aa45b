package plaid

import (
	"encoding/json"

	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/query"
)

// PortalUpdate carries a new body for one named portal.
type PortalUpdate struct {
	Name string `json:"name,omitempty"`
	Body string `json:"body,omitempty"`
}

// EventResponse is the server's reply to one dispatch.
type EventResponse struct {
	PageTitle string `json:"pageTitle,omitempty"`
	Body      string `json:"body,omitempty"`
	Reload    bool   `json:"reload,omitempty"`
	// PushState asks for a second, history-writing reload. An empty object
	// still counts; only null or an absent key does not.
	PushState     *query.LocationSpec `json:"pushState"`
	RedirectURL   string              `json:"redirectURL,omitempty"`
	ReloadPortals []string            `json:"reloadPortals,omitempty"`
	UpdatePortals []*PortalUpdate     `json:"updatePortals,omitempty"`
	Data          any                 `json:"data,omitempty"`
	RunScript     string              `json:"runScript,omitempty"`
}

// DecodeResponse parses a JSON event response.
func DecodeResponse(data []byte) (*EventResponse, error) {
	var r EventResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.NewDecodeError("decode event response", err)
	}
	return &r, nil
}
