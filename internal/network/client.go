// Package network talks to the backend asset-inventory service on behalf of
// the cache. Only transport failures are errors here: any HTTP status the
// backend returns, including 4xx and 5xx, is a successful fetch.
package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tphakala/offlinecache/internal/cachestore"
	"github.com/tphakala/offlinecache/internal/errors"
	"github.com/tphakala/offlinecache/internal/logger"
)

// maxRequestBody caps how much of a page's request body is buffered.
const maxRequestBody = 10 << 20

// Fetcher performs one network round trip.
type Fetcher interface {
	Fetch(ctx context.Context, out *Outgoing) (*cachestore.Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, out *Outgoing) (*cachestore.Response, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, out *Outgoing) (*cachestore.Response, error) {
	return f(ctx, out)
}

// Outgoing is a buffered request ready to be sent (and re-sent) upstream.
type Outgoing struct {
	Method string
	// URL is a path with optional query ("/x?y=1") resolved against the
	// backend base URL, or an absolute URL fetched as-is.
	URL    string
	Header http.Header
	Body   []byte
}

// Get builds a bodiless GET for target.
func Get(target string) *Outgoing {
	return &Outgoing{Method: http.MethodGet, URL: target, Header: make(http.Header)}
}

// FromRequest buffers r into an Outgoing. The request body is consumed.
func FromRequest(r *http.Request) (*Outgoing, error) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			return nil, errors.New(fmt.Errorf("failed to read request body: %w", err)).
				Component("network").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	target := r.URL.RequestURI()
	if r.URL.IsAbs() {
		target = r.URL.String()
	}
	return &Outgoing{
		Method: r.Method,
		URL:    target,
		Header: r.Header.Clone(),
		Body:   body,
	}, nil
}

// Path returns the URL path of the outgoing request.
func (o *Outgoing) Path() string {
	u, err := url.Parse(o.URL)
	if err != nil {
		return o.URL
	}
	return u.Path
}

// Client sends Outgoing requests to the backend.
type Client struct {
	base *url.URL
	http *http.Client
	log  logger.Logger
}

// Options configures NewClient.
type Options struct {
	BaseURL string
	// Timeout bounds a whole round trip. Zero means no timeout.
	Timeout time.Duration
	// Transport overrides http.DefaultTransport (tests use httpmock).
	Transport http.RoundTripper
}

// NewClient creates a backend client.
func NewClient(opts Options, log logger.Logger) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("invalid backend base URL %q", opts.BaseURL).
			Component("network").
			Category(errors.CategoryConfiguration).
			Build()
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		base: base,
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			// Redirects are returned to the page untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: log.Module("network"),
	}, nil
}

// Resolve maps an Outgoing URL onto the backend.
func (c *Client) Resolve(target string) (*url.URL, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if ref.IsAbs() {
		return ref, nil
	}
	u := *c.base
	u.Path = strings.TrimSuffix(c.base.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	u.RawPath = ""
	u.RawQuery = ref.RawQuery
	u.Fragment = ""
	return &u, nil
}

// hopHeaders are stripped before forwarding.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Proxy-Connection", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Fetch implements Fetcher. Cookies and Authorization headers from the page
// are forwarded unchanged.
func (c *Client) Fetch(ctx context.Context, out *Outgoing) (*cachestore.Response, error) {
	target, err := c.Resolve(out.URL)
	if err != nil {
		return nil, errors.New(err).
			Component("network").
			Category(errors.CategoryValidation).
			Context("url", out.URL).
			Build()
	}

	req, err := http.NewRequestWithContext(ctx, out.Method, target.String(), bytes.NewReader(out.Body))
	if err != nil {
		return nil, errors.New(err).
			Component("network").
			Category(errors.CategoryValidation).
			Context("url", target.String()).
			Build()
	}
	if len(out.Body) == 0 {
		req.Body = http.NoBody
		req.ContentLength = 0
	}
	for k, vv := range out.Header {
		req.Header[k] = append([]string(nil), vv...)
	}
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	req.Header.Del("Accept-Encoding") // let the transport negotiate and decode

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("backend fetch failed",
			logger.String("method", out.Method),
			logger.String("url", target.String()),
			logger.Error(err))
		return nil, &FailureError{URL: target.String(), Err: err}
	}

	stored, err := cachestore.FromHTTP(resp)
	if err != nil {
		return nil, &FailureError{URL: target.String(), Err: err}
	}
	c.log.Debug("backend fetch",
		logger.String("method", out.Method),
		logger.String("url", target.String()),
		logger.Int("status", stored.Status),
		logger.Duration("elapsed", time.Since(start)))
	return stored, nil
}

// FailureError marks a fetch that never produced a response.
type FailureError struct {
	URL string
	Err error
}

func (e *FailureError) Error() string {
	return "network failure fetching " + e.URL + ": " + e.Err.Error()
}

func (e *FailureError) Unwrap() error { return e.Err }

// IsFailure reports whether err is a network failure.
func IsFailure(err error) bool {
	var fe *FailureError
	return errors.As(err, &fe)
}
