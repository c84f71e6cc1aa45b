package plaid

import (
	"context"
	"io"
	"net/http"

	"github.com/qor5/web/internal/browser"
	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/form"
	"github.com/qor5/web/internal/logging"
	"github.com/qor5/web/internal/query"
)

// UnknownErrorMessage is the alert shown when an action fails for any
// reason other than being offline.
const UnknownErrorMessage = "Unknown Error"

type redirectDepthKey struct{}

// dispatch sends the action described by b and applies the response.
// Failures are logged and, unless offline, alerted before being returned.
func (rt *Runtime) dispatch(ctx context.Context, b *Builder) (*EventResponse, error) {
	gen := rt.gen.Add(1)
	snap := b.resolve()
	logger := rt.logger.With("event", snap.in.EventID)
	perf := logging.StartOperation(logger, "dispatch")

	rt.writeHistory(ctx, snap)

	var body io.Reader
	var contentType string
	if snap.method == http.MethodPost {
		var err error
		body, contentType, err = snap.form.Body()
		if err != nil {
			err = errors.NewInternalError(errors.ErrCodeInternalError, "encode form", err)
			perf.EndWithError(ctx, err)
			return nil, rt.fail(ctx, err)
		}
		logger.Debug(ctx, "form fields", "fields", formFields(snap.form))
	}

	rt.window.Dispatch(browser.EventFetchStart, snap.result.FetchURL)
	defer rt.window.Dispatch(browser.EventFetchEnd, snap.result.FetchURL)

	req := &FetchRequest{
		URL:         snap.result.FetchURL,
		Method:      snap.method,
		Body:        body,
		ContentType: contentType,
	}
	if snap.in.BeforeFetch != nil {
		snap.in.BeforeFetch(req)
	}

	res, err := rt.client.Do(ctx, req.Method, query.EscapeURL(rt.window.Resolve(req.URL)), req.Body, req.ContentType)
	if err != nil {
		perf.EndWithError(ctx, err)
		return nil, rt.fail(ctx, err)
	}

	if res.Redirected {
		perf.End(ctx, "redirected", res.URL)
		r, err := rt.navigate(ctx, res.URL)
		if r == nil {
			r = &EventResponse{}
		}
		return r, err
	}
	if !res.OK() {
		err := errors.ErrBadStatus(req.URL, res.StatusCode)
		perf.EndWithError(ctx, err)
		return nil, rt.fail(ctx, err)
	}

	r, err := DecodeResponse(res.Body)
	if err != nil {
		perf.EndWithError(ctx, err)
		return nil, rt.fail(ctx, err)
	}
	perf.End(ctx, "status", res.StatusCode)

	return rt.apply(ctx, gen, b, snap, r)
}

// formFields renders the submitted entries for the debug log, with
// sensitive values redacted.
func formFields(d *form.Data) []string {
	entries := d.Entries()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		value := e.Value
		if e.File != nil {
			value = "file:" + e.File.Name
		}
		out = append(out, e.Name+"="+logging.SanitizeForLog(e.Name, value))
	}
	return out
}

// writeHistory records the action's address. An address equal to the
// current one replaces the current entry.
func (rt *Runtime) writeHistory(ctx context.Context, s *snapshot) {
	if s.in.Popstate || !s.pushState {
		return
	}
	state := s.result.State.Clone()
	if s.result.HistoryURL == rt.window.PathAndQuery() {
		if err := rt.history.Replace(state, "", s.result.HistoryURL); err != nil {
			rt.logger.Warn(ctx, err, "replace history entry failed")
		}
		return
	}
	rt.history.Push(state, "", s.result.HistoryURL)
}

// Apply applies a response that did not come from a dispatch, such as one
// pushed by the server.
func (rt *Runtime) Apply(ctx context.Context, r *EventResponse) (*EventResponse, error) {
	if r == nil {
		return nil, nil
	}
	return rt.apply(ctx, rt.gen.Add(1), rt.Plaid(), nil, r)
}

func (rt *Runtime) apply(ctx context.Context, gen uint64, b *Builder, snap *snapshot, r *EventResponse) (*EventResponse, error) {
	if r.RunScript != "" {
		if err := rt.runner.Run(ctx, r.RunScript, b, b.env(snap)); err != nil {
			return r, rt.fail(ctx, err)
		}
	}

	if r.PageTitle != "" {
		rt.window.SetTitle(r.PageTitle)
	}

	if r.RedirectURL != "" {
		_, err := rt.navigate(ctx, r.RedirectURL)
		return r, err
	}

	for _, name := range r.ReloadPortals {
		h, ok := rt.portals.Get(name)
		if !ok {
			rt.logger.Debug(ctx, "reload of unknown portal skipped", "portal", name)
			continue
		}
		if err := h.Reload(ctx); err != nil {
			rt.logger.Warn(ctx, err, "portal reload failed", "portal", name)
		}
	}

	for _, pu := range r.UpdatePortals {
		if pu == nil {
			continue
		}
		h, ok := rt.portals.Get(pu.Name)
		if !ok {
			rt.logger.Debug(ctx, "update of unknown portal skipped", "portal", pu.Name)
			continue
		}
		h.UpdateTemplate(pu.Body)
	}

	if r.PushState != nil {
		return rt.Plaid().
			UpdateRootTemplate(b.in.UpdateRoot).
			Reload().
			PushState(true).
			Location(r.PushState).
			Go(ctx)
	}

	if b.in.LoadPortalBody && r.Body != "" {
		return r, nil
	}

	if r.Body != "" {
		rt.replaceRoot(gen, b.in.UpdateRoot, r.Body)
	}
	return r, nil
}

// navigate moves the window to target the way a full page load would. With
// FollowRedirects the new page is loaded too.
func (rt *Runtime) navigate(ctx context.Context, target string) (*EventResponse, error) {
	rt.window.Replace(target)
	if !rt.followRedirects {
		return nil, nil
	}

	depth, _ := ctx.Value(redirectDepthKey{}).(int)
	if depth >= rt.maxRedirects {
		return nil, rt.fail(ctx, errors.NewTransportError(errors.ErrCodeRequestFailed, "too many redirects", nil).
			WithContext("url", target))
	}
	return rt.Plaid().Reload().Go(context.WithValue(ctx, redirectDepthKey{}, depth+1))
}

func (rt *Runtime) fail(ctx context.Context, err error) error {
	rt.errs.Handle(ctx, err)
	return err
}
