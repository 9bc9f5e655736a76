package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/offlinecache/internal/conf"
	"github.com/tphakala/offlinecache/internal/errors"
	"github.com/tphakala/offlinecache/internal/lifecycle"
	"github.com/tphakala/offlinecache/internal/observability/metrics"
)

type fakeWorker struct {
	installs   atomic.Int32
	activates  atomic.Int32
	failStatus bool
}

func (w *fakeWorker) Install(context.Context) (*lifecycle.InstallReport, error) {
	w.installs.Add(1)
	return &lifecycle.InstallReport{Version: "v1", Cached: []string{"/"}, Seeded: true}, nil
}

func (w *fakeWorker) Activate(context.Context) (*lifecycle.ActivateReport, error) {
	w.activates.Add(1)
	return &lifecycle.ActivateReport{Version: "v1", Deleted: []string{"static-v0"}}, nil
}

func (w *fakeWorker) Status(context.Context) (*lifecycle.Status, error) {
	if w.failStatus {
		return nil, errors.NewStd("store closed")
	}
	return &lifecycle.Status{
		Version: "v1",
		State:   lifecycle.StateActivated,
		Partitions: []lifecycle.PartitionStatus{
			{Name: "static-v1", Entries: 3, Current: true},
		},
	}, nil
}

func newTestServer(t *testing.T, worker *fakeWorker, m *metrics.Metrics) (*Server, *atomic.Int32) {
	t.Helper()
	var proxied atomic.Int32
	proxy := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Add(1)
		w.Header().Set("X-Proxied", r.URL.Path)
		w.WriteHeader(http.StatusTeapot)
	})
	s, err := NewServer(conf.NewDefaultSettings(), Deps{Proxy: proxy, Worker: worker, Metrics: m})
	require.NoError(t, err)
	return s, &proxied
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, http.NoBody)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer_RequiresDeps(t *testing.T) {
	t.Parallel()
	_, err := NewServer(conf.NewDefaultSettings(), Deps{})
	assert.Error(t, err)
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	s, proxied := newTestServer(t, &fakeWorker{}, nil)

	rec := serve(s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Zero(t, proxied.Load())
}

func TestServer_ProxiesUnreservedPaths(t *testing.T) {
	t.Parallel()
	s, proxied := newTestServer(t, &fakeWorker{}, nil)

	for _, target := range []string{"/", "/static/js/app.js", conf.DefaultListingPath} {
		rec := serve(s, http.MethodGet, target)
		assert.Equal(t, http.StatusTeapot, rec.Code, target)
		assert.Equal(t, target, rec.Header().Get("X-Proxied"))
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID), "request id is attached")
	}

	rec := serve(s, http.MethodPost, "/registrar_qr/")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, int32(4), proxied.Load())
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	m.RecordRequest(conf.RouteStatic, conf.StrategyCacheFirst, metrics.OutcomeCacheHit)
	s, proxied := newTestServer(t, &fakeWorker{}, m)

	rec := serve(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cache_hit")
	assert.Zero(t, proxied.Load())
}

func TestServer_MetricsDisabledIsProxied(t *testing.T) {
	t.Parallel()
	s, proxied := newTestServer(t, &fakeWorker{}, nil)

	rec := serve(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, int32(1), proxied.Load())
}

func TestAdmin_Status(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &fakeWorker{}, nil)

	rec := serve(s, http.MethodGet, AdminPrefix+"/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var st lifecycle.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, lifecycle.StateActivated, st.State)
	require.Len(t, st.Partitions, 1)
	assert.Equal(t, 3, st.Partitions[0].Entries)
}

func TestAdmin_StatusError(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &fakeWorker{failStatus: true}, nil)

	rec := serve(s, http.MethodGet, AdminPrefix+"/status")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"status failed"}`, rec.Body.String())
}

func TestAdmin_InstallAndActivate(t *testing.T) {
	t.Parallel()
	worker := &fakeWorker{}
	s, proxied := newTestServer(t, worker, nil)

	rec := serve(s, http.MethodPost, AdminPrefix+"/install")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"seeded":true`)

	rec = serve(s, http.MethodPost, AdminPrefix+"/activate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "static-v0")

	assert.Equal(t, int32(1), worker.installs.Load())
	assert.Equal(t, int32(1), worker.activates.Load())
	assert.Zero(t, proxied.Load())
}

func TestAdmin_UnknownPathIsNotProxied(t *testing.T) {
	t.Parallel()
	s, proxied := newTestServer(t, &fakeWorker{}, nil)

	rec := serve(s, http.MethodGet, AdminPrefix+"/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, proxied.Load())
}

func TestAdmin_RateLimited(t *testing.T) {
	t.Parallel()
	worker := &fakeWorker{}
	s, _ := newTestServer(t, worker, nil)

	var limited bool
	for range adminRateBurst + 2 {
		if serve(s, http.MethodPost, AdminPrefix+"/activate").Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "burst beyond the limit is rejected")
	assert.LessOrEqual(t, worker.activates.Load(), int32(adminRateBurst+1))
}
