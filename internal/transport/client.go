// Package transport is the HTTP side of the runtime: a cookie-keeping
// client, a request interceptor with per-request ids, and the progress bar
// driven by page reloads.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/qor5/web/internal/errors"
	"github.com/qor5/web/internal/logging"
)

// DefaultTimeout bounds a whole request including redirects.
const DefaultTimeout = 30 * time.Second

// Options configure a Client.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
	// Jar overrides the default public-suffix aware cookie jar.
	Jar http.CookieJar
	// Transport is the innermost round tripper; http.DefaultTransport when
	// nil.
	Transport http.RoundTripper
	Logger    logging.Logger
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// URL is the final address after redirects.
	URL string
	// Redirected reports whether the server redirected the request.
	Redirected bool
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Client sends runtime requests.
type Client struct {
	http        *http.Client
	interceptor *Interceptor
	userAgent   string
	headers     map[string]string
	logger      logging.Logger
}

// NewClient builds a client with a cookie jar and an interceptor in front of
// the transport.
func NewClient(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("transport")

	jar := opts.Jar
	if jar == nil {
		var err error
		jar, err = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, errors.NewInternalError(errors.ErrCodeInternalError, "create cookie jar", err)
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	next := opts.Transport
	if next == nil {
		next = http.DefaultTransport
	}

	interceptor := NewInterceptor(next, logger)
	return &Client{
		http: &http.Client{
			Transport: interceptor,
			Jar:       jar,
			Timeout:   timeout,
		},
		interceptor: interceptor,
		userAgent:   opts.UserAgent,
		headers:     opts.Headers,
		logger:      logger,
	}, nil
}

func (c *Client) Interceptor() *Interceptor { return c.interceptor }

func (c *Client) Jar() http.CookieJar { return c.http.Jar }

// Do sends one request and reads the whole body. Transport failures come
// back as network errors; offline conditions carry ErrCodeOffline so
// callers can drop them silently.
func (c *Client) Do(ctx context.Context, method, rawURL string, body io.Reader, contentType string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errors.NewTransportError(errors.ErrCodeRequestFailed, "build request", err).
			WithContext("url", rawURL)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		code := errors.ErrCodeRequestFailed
		if errors.IsIgnorable(err) {
			code = errors.ErrCodeOffline
		}
		return nil, errors.NewNetworkError(code, fmt.Sprintf("%s %s", method, rawURL), err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, errors.NewNetworkError(errors.ErrCodeRequestFailed, "read response body", err).
			WithContext("url", rawURL)
	}

	final := resp.Request.URL.String()
	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       buf.Bytes(),
		URL:        final,
		Redirected: final != req.URL.String(),
	}
	c.logger.Debug(ctx, "Request completed",
		"method", method,
		"url", rawURL,
		"status", resp.StatusCode,
		"redirected", out.Redirected,
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// Cookies returns the cookies the jar would send to rawURL.
func (c *Client) Cookies(rawURL string) ([]*http.Cookie, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return c.http.Jar.Cookies(u), nil
}

// SetCookies stores cookies for rawURL.
func (c *Client) SetCookies(rawURL string, cookies []*http.Cookie) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	c.http.Jar.SetCookies(u, cookies)
	return nil
}
