package query

import (
	"net/url"
	"regexp"
	"strings"
)

var absoluteURL = regexp.MustCompile(`^[a-zA-Z][a-zA-Z\d+\-.]*:`)

// EventParam carries the event id on every fetch URL.
const EventParam = "__execute_event__"

// PushedState is the state object written to history alongside a URL.
type PushedState struct {
	Query Query  `json:"query"`
	URL   string `json:"url"`
}

// Location converts the pushed state back into a spec that reproduces it.
func (s *PushedState) Location() *LocationSpec {
	if s == nil {
		return nil
	}
	loc := &LocationSpec{URL: s.URL, Query: make(map[string]QueryValue, len(s.Query))}
	for k, v := range s.Query {
		if v.Array {
			loc.Query[k] = Array(v.Items...)
		} else {
			loc.Query[k] = Scalar(v.First())
		}
	}
	return loc
}

// Clone returns a deep copy.
func (s *PushedState) Clone() *PushedState {
	if s == nil {
		return nil
	}
	return &PushedState{Query: s.Query.Clone(), URL: s.URL}
}

// Result is everything derived from one location spec.
type Result struct {
	// FetchURL is the request target, including the event parameter.
	FetchURL string
	// HistoryURL is the address to push, keeping the base fragment.
	HistoryURL string
	// State is the history state for HistoryURL.
	State *PushedState
}

// URLParts splits a URL into path, parsed query, and fragment.
type URLParts struct {
	Path     string
	Query    Query
	Fragment string
	// HasFragment distinguishes "a#" from "a".
	HasFragment bool
}

// ParseURL splits raw at the first "#" and then the first "?".
func ParseURL(raw string) URLParts {
	var p URLParts
	rest := raw
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		p.Fragment = rest[i+1:]
		p.HasFragment = true
		rest = rest[:i]
	}
	path, q, _ := strings.Cut(rest, "?")
	p.Path = path
	p.Query = Parse(q)
	return p
}

// Build derives the fetch URL, history URL and pushed state for eventID.
// baseURL is the address used when loc carries no URL of its own. loc is
// never modified.
func Build(eventID, baseURL string, loc *LocationSpec) Result {
	if loc == nil {
		loc = &LocationSpec{}
	}
	opts := StringifyOptions{}
	if loc.StringifyOptions != nil {
		opts = *loc.StringifyOptions
	}

	src := baseURL
	if loc.URL != "" {
		src = loc.URL
	}
	orig := ParseURL(src)

	declared := loc.Query
	if loc.StringQuery != "" {
		merged := make(map[string]QueryValue)
		for k, v := range Parse(loc.StringQuery) {
			merged[k], _ = ValueFrom(v)
		}
		for k, v := range loc.Query {
			merged[k] = v
		}
		declared = merged
	}

	result := make(Query)
	if loc.MergeQuery {
		for k, v := range orig.Query {
			if !isCleared(k, loc.ClearMergeQueryKeys) {
				result[k] = v.clone()
			}
		}
		if declared == nil {
			declared = map[string]QueryValue{}
		}
	}

	if declared != nil {
		for k, qv := range declared {
			cur, present := result[k]
			if next, ok := qv.apply(cur, present); ok {
				result[k] = next
			} else {
				delete(result, k)
			}
		}
	} else {
		for k, v := range orig.Query {
			result[k] = v.clone()
		}
	}

	historyURL := orig.Path
	if s := Stringify(result, opts); s != "" {
		historyURL += "?" + s
	}
	if orig.HasFragment {
		historyURL += "#" + orig.Fragment
	}

	request := result.Clone()
	request[EventParam] = S(eventID)

	return Result{
		FetchURL:   orig.Path + "?" + Stringify(request, opts),
		HistoryURL: historyURL,
		State:      &PushedState{Query: result, URL: historyURL},
	}
}

// isCleared compares only the leading segment of key, before any "." or
// "[".
func isCleared(key string, clear []string) bool {
	if len(clear) == 0 {
		return false
	}
	head := key
	if i := strings.IndexAny(head, ".["); i >= 0 {
		head = head[:i]
	}
	for _, c := range clear {
		if c == head {
			return true
		}
	}
	return false
}

// PathAndQuery reduces an absolute URL to its path and query, the form the
// runtime compares history URLs in. Relative references are returned as
// given, fragment included.
func PathAndQuery(href string) string {
	if !absoluteURL.MatchString(href) {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
