package cachestore

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Descriptor identifies a cached request. Storage always uses GET, so two
// requests that differ only in method share one entry.
type Descriptor struct {
	Method string
	URL    string
}

// NewDescriptor builds a GET descriptor for a path ("/x?a=1") or an absolute
// URL. Query parameters are sorted so equivalent URLs share a key.
func NewDescriptor(rawURL string) Descriptor {
	return Descriptor{Method: http.MethodGet, URL: normalizeURL(rawURL)}
}

// DescriptorFor builds the storage descriptor for an incoming request.
// Origin-form requests use path and query; absolute-form requests keep the
// scheme and host.
func DescriptorFor(r *http.Request) Descriptor {
	u := r.URL
	if u.IsAbs() {
		return NewDescriptor(u.String())
	}
	return NewDescriptor(u.RequestURI())
}

// Key is the backend key for the descriptor.
func (d Descriptor) Key() string {
	return d.Method + " " + d.URL
}

func (d Descriptor) String() string { return d.Key() }

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	if u.Path == "" && u.IsAbs() {
		u.Path = "/"
	}
	if u.IsAbs() {
		return u.String()
	}
	return u.RequestURI()
}

// Response is a stored response snapshot. Values handed out by a Partition
// are copies; mutating them does not change the cache.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// NewResponse builds a synthetic response with a content type.
func NewResponse(status int, contentType string, body []byte) *Response {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &Response{Status: status, Header: h, Body: body, StoredAt: time.Now()}
}

// FromHTTP reads the whole body of resp and closes it.
func FromHTTP(resp *http.Response) (*Response, error) {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: time.Now(),
	}, nil
}

// Clone returns a deep copy.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.Body = bytes.Clone(r.Body)
	return &out
}

// hopHeaders are connection-specific and never replayed from the cache.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Send writes the response to w.
func (r *Response) Send(w http.ResponseWriter) error {
	dst := w.Header()
	for _, k := range slices.Sorted(maps.Keys(r.Header)) {
		if slices.Contains(hopHeaders, http.CanonicalHeaderKey(k)) {
			continue
		}
		dst[k] = slices.Clone(r.Header[k])
	}
	dst.Set("Content-Length", strconv.Itoa(len(r.Body)))
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, err := w.Write(r.Body)
	return err
}

// ContentType returns the media type without parameters.
func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(strings.ToLower(ct))
}
