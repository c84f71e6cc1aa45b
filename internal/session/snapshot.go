package session

import (
	"net/http"
	"net/url"
	"time"

	"github.com/qor5/web/internal/history"
	"github.com/qor5/web/internal/plaid"
)

// Capture records rt's history, title and the cookies its client would
// send to every address in the history.
func Capture(name string, rt *plaid.Runtime) (Snapshot, error) {
	records := rt.History().Records()
	snap := Snapshot{
		Name:    name,
		Href:    rt.Window().Href(),
		Title:   rt.Window().Title(),
		Index:   rt.History().CurrentIndex(),
		Records: records,
		SavedAt: time.Now().UTC(),
	}

	seen := make(map[string]bool)
	origins := make([]string, 0, len(records)+1)
	for _, u := range append([]string{snap.Href}, recordURLs(records)...) {
		o := origin(rt.Window().Resolve(u))
		if o == "" || seen[o] {
			continue
		}
		seen[o] = true
		origins = append(origins, o)
	}

	for _, o := range origins {
		cookies, err := rt.Client().Cookies(o)
		if err != nil {
			return Snapshot{}, storeError("read cookies", err)
		}
		for _, c := range cookies {
			snap.Cookies = append(snap.Cookies, Cookie{URL: o, Name: c.Name, Value: c.Value})
		}
	}
	return snap, nil
}

// Restore loads snap into rt. The window moves to the snapshot's current
// record without a navigation.
func Restore(rt *plaid.Runtime, snap *Snapshot) error {
	if len(snap.Records) > 0 {
		if err := rt.History().Restore(snap.Records, snap.Index); err != nil {
			return err
		}
	}
	if snap.Title != "" {
		rt.Window().SetTitle(snap.Title)
	}
	return RestoreCookies(rt, snap)
}

// RestoreCookies loads only the cookies of snap into rt's client.
func RestoreCookies(rt *plaid.Runtime, snap *Snapshot) error {
	byURL := make(map[string][]*http.Cookie)
	var order []string
	for _, c := range snap.Cookies {
		if _, ok := byURL[c.URL]; !ok {
			order = append(order, c.URL)
		}
		byURL[c.URL] = append(byURL[c.URL], &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	for _, u := range order {
		if err := rt.Client().SetCookies(u, byURL[u]); err != nil {
			return storeError("restore cookies", err)
		}
	}
	return nil
}

func recordURLs(records []history.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.URL
	}
	return out
}

// origin reduces an absolute address to scheme and host, the scope
// persisted cookies are restored under.
func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}
