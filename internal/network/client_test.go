package network

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = "http://backend.test"

func newTestClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	c, err := NewClient(Options{BaseURL: testBase, Transport: transport}, nil)
	require.NoError(t, err)
	return c, transport
}

func TestClient_FetchForwardsCookiesAndBody(t *testing.T) {
	c, transport := newTestClient(t)

	transport.RegisterResponder(http.MethodPost, testBase+"/registrar_qr/",
		func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			assert.Equal(t, `{"codigo":"A1"}`, string(body))
			assert.Equal(t, "sessionid=abc", req.Header.Get("Cookie"))
			assert.Empty(t, req.Header.Get("Connection"))
			return httpmock.NewStringResponse(http.StatusCreated, `{"success":true}`), nil
		})

	req := httptest.NewRequest(http.MethodPost, "/registrar_qr/", strings.NewReader(`{"codigo":"A1"}`))
	req.Header.Set("Cookie", "sessionid=abc")
	req.Header.Set("Connection", "keep-alive")
	out, err := FromRequest(req)
	require.NoError(t, err)

	resp, err := c.Fetch(t.Context(), out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.JSONEq(t, `{"success":true}`, string(resp.Body))

	// The buffered body can be sent again.
	_, err = c.Fetch(t.Context(), out)
	require.NoError(t, err)
	assert.Equal(t, 2, transport.GetTotalCallCount())
}

func TestClient_ErrorStatusIsNotFailure(t *testing.T) {
	c, transport := newTestClient(t)
	transport.RegisterResponder(http.MethodGet, testBase+"/verificar_sesion/",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"authenticated":false}`))

	resp, err := c.Fetch(t.Context(), Get("/verificar_sesion/"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
}

func TestClient_TransportErrorIsFailure(t *testing.T) {
	c, transport := newTestClient(t)
	transport.RegisterResponder(http.MethodGet, testBase+"/down",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := c.Fetch(t.Context(), Get("/down"))
	require.Error(t, err)
	assert.True(t, IsFailure(err))

	// No responder at all behaves like no connectivity.
	_, err = c.Fetch(t.Context(), Get("/unregistered"))
	assert.True(t, IsFailure(err))
}

func TestClient_AbsoluteURLFetchedAsIs(t *testing.T) {
	c, transport := newTestClient(t)
	const cdn = "https://cdn.example.com/lib@1.2.3/lib.min.js"
	transport.RegisterResponder(http.MethodGet, cdn, httpmock.NewStringResponder(http.StatusOK, "lib"))

	resp, err := c.Fetch(t.Context(), Get(cdn))
	require.NoError(t, err)
	assert.Equal(t, "lib", string(resp.Body))
}

func TestClient_Resolve(t *testing.T) {
	t.Parallel()

	c, err := NewClient(Options{BaseURL: "http://backend.test/app/"}, nil)
	require.NoError(t, err)

	tests := []struct {
		in   string
		want string
	}{
		{"/", "http://backend.test/app/"},
		{"/obtener_activos_escaneados/", "http://backend.test/app/obtener_activos_escaneados/"},
		{"/x?a=1", "http://backend.test/app/x?a=1"},
		{"https://other.test/y", "https://other.test/y"},
	}
	for _, tt := range tests {
		u, err := c.Resolve(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, u.String(), "Resolve(%q)", tt.in)
	}
}

func TestClient_RedirectsNotFollowed(t *testing.T) {
	c, transport := newTestClient(t)
	transport.RegisterResponder(http.MethodGet, testBase+"/",
		func(*http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusFound, "")
			resp.Header.Set("Location", "/login.html")
			return resp, nil
		})

	resp, err := c.Fetch(t.Context(), Get("/"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.Status)
	assert.Equal(t, "/login.html", resp.Header.Get("Location"))
}

func TestNewClient_InvalidBase(t *testing.T) {
	t.Parallel()
	_, err := NewClient(Options{BaseURL: "backend"}, nil)
	assert.Error(t, err)
}

func TestOutgoing_Path(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/a/", Get("/a/?x=1").Path())
	assert.Equal(t, "/lib.js", Get("https://cdn.test/lib.js").Path())
}
