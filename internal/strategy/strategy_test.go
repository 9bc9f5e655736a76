package strategy

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/offlinecache/internal/cachestore"
	"github.com/tphakala/offlinecache/internal/conf"
	"github.com/tphakala/offlinecache/internal/network"
	"github.com/tphakala/offlinecache/internal/observability/metrics"
)

const backend = "http://backend.test"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	store     *cachestore.Manager
	transport *httpmock.MockTransport
	base      *Base
	static    *cachestore.Partition
	api       *cachestore.Partition
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := t.Context()
	store := cachestore.NewManager(cachestore.NewMemoryBackend(), nil)
	static, err := store.Open(ctx, "static-v1")
	require.NoError(t, err)
	api, err := store.Open(ctx, "api-v1")
	require.NoError(t, err)

	transport := httpmock.NewMockTransport()
	client, err := network.NewClient(network.Options{BaseURL: backend, Transport: transport}, nil)
	require.NoError(t, err)

	return &fixture{
		store:     store,
		transport: transport,
		static:    static,
		api:       api,
		base: &Base{
			Fetcher: client,
			Root:    static,
			RootKey: cachestore.NewDescriptor("/"),
			Metrics: metrics.New(),
		},
	}
}

func (f *fixture) exchange(p *cachestore.Partition, path string) *Exchange {
	return &Exchange{
		Route:      conf.RouteDynamic,
		Descriptor: cachestore.NewDescriptor(path),
		Request:    network.Get(path),
		Partition:  p,
	}
}

func (f *fixture) seed(t *testing.T, p *cachestore.Partition, path, body string) {
	t.Helper()
	require.NoError(t, p.Put(t.Context(), cachestore.NewDescriptor(path),
		cachestore.NewResponse(http.StatusOK, "text/plain", []byte(body))))
}

func (f *fixture) cached(t *testing.T, p *cachestore.Partition, path string) (string, bool) {
	t.Helper()
	resp, ok, err := p.Match(t.Context(), cachestore.NewDescriptor(path))
	require.NoError(t, err)
	if !ok {
		return "", false
	}
	return string(resp.Body), true
}

func TestCacheFirst_HitNeverTouchesNetwork(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.static, "/static/js/app.js", "console.log(1)")

	res := NewCacheFirst(f.base).Serve(t.Context(), f.exchange(f.static, "/static/js/app.js"))

	assert.Equal(t, metrics.OutcomeCacheHit, res.Outcome)
	assert.Equal(t, "console.log(1)", string(res.Response.Body))
	assert.Zero(t, f.transport.GetTotalCallCount())
}

func TestCacheFirst_MissStoresNetworkResponse(t *testing.T) {
	f := newFixture(t)
	f.transport.RegisterResponder(http.MethodGet, backend+"/static/css/styles.css",
		httpmock.NewStringResponder(http.StatusOK, "body{}"))

	res := NewCacheFirst(f.base).Serve(t.Context(), f.exchange(f.static, "/static/css/styles.css"))

	assert.Equal(t, metrics.OutcomeNetwork, res.Outcome)
	body, ok := f.cached(t, f.static, "/static/css/styles.css")
	require.True(t, ok)
	assert.Equal(t, "body{}", body)
}

func TestCacheFirst_ErrorStatusIsStillStored(t *testing.T) {
	f := newFixture(t)
	f.transport.RegisterResponder(http.MethodGet, backend+"/static/missing.js",
		httpmock.NewStringResponder(http.StatusNotFound, "nope"))

	res := NewCacheFirst(f.base).Serve(t.Context(), f.exchange(f.static, "/static/missing.js"))

	assert.Equal(t, http.StatusNotFound, res.Response.Status)
	_, ok := f.cached(t, f.static, "/static/missing.js")
	assert.True(t, ok)
}

func TestCacheFirst_MissOfflineAnswersOffline(t *testing.T) {
	f := newFixture(t)

	res := NewCacheFirst(f.base).Serve(t.Context(), f.exchange(f.static, "/static/js/app.js"))

	assert.Equal(t, metrics.OutcomeOfflineText, res.Outcome)
	assert.Equal(t, http.StatusOK, res.Response.Status)
	assert.Equal(t, "Offline", string(res.Response.Body))
	_, ok := f.cached(t, f.static, "/static/js/app.js")
	assert.False(t, ok)
}

func TestNetworkFirst_FallbackChain(t *testing.T) {
	tests := []struct {
		name        string
		cached      bool
		precached   bool
		root        bool
		wantOutcome string
		wantBody    string
	}{
		{"cached entry", true, true, true, metrics.OutcomeCacheFallback, "cached page"},
		{"pre-cached copy", false, true, true, metrics.OutcomePrecachedFallback, "installed page"},
		{"root document", false, false, true, metrics.OutcomeRootFallback, "root"},
		{"offline page", false, false, false, metrics.OutcomeOfflinePage, "Reintentar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.cached {
				f.seed(t, f.api, "/panel/", "cached page")
			}
			if tt.precached {
				f.seed(t, f.static, "/panel/", "installed page")
			}
			if tt.root {
				f.seed(t, f.static, "/", "root")
			}

			res := NewNetworkFirst(f.base).Serve(t.Context(), f.exchange(f.api, "/panel/"))

			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, http.StatusOK, res.Response.Status)
			assert.Contains(t, string(res.Response.Body), tt.wantBody)
		})
	}
}

func TestNetworkFirst_SuccessOverwritesCache(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.api, "/panel/", "old")
	f.transport.RegisterResponder(http.MethodGet, backend+"/panel/",
		httpmock.NewStringResponder(http.StatusOK, "new"))

	res := NewNetworkFirst(f.base).Serve(t.Context(), f.exchange(f.api, "/panel/"))

	assert.Equal(t, "new", string(res.Response.Body))
	body, _ := f.cached(t, f.api, "/panel/")
	assert.Equal(t, "new", body)
}

func TestSWR_HitReturnsCachedAndRefreshesForNextRequest(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.api, "/panel/", "stale")
	f.transport.RegisterResponder(http.MethodGet, backend+"/panel/",
		httpmock.NewStringResponder(http.StatusOK, "fresh"))

	swr := NewStaleWhileRevalidate(f.base, SWROptions{})
	res := swr.Serve(t.Context(), f.exchange(f.api, "/panel/"))

	assert.Equal(t, metrics.OutcomeCacheHit, res.Outcome)
	assert.Equal(t, "stale", string(res.Response.Body))

	swr.Wait()
	body, _ := f.cached(t, f.api, "/panel/")
	assert.Equal(t, "fresh", body)

	res = swr.Serve(t.Context(), f.exchange(f.api, "/panel/"))
	assert.Equal(t, "fresh", string(res.Response.Body))
	swr.Wait()
}

func TestSWR_HitIsUnchangedWhenRefreshFails(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.api, "/panel/", "stale")

	swr := NewStaleWhileRevalidate(f.base, SWROptions{})
	res := swr.Serve(t.Context(), f.exchange(f.api, "/panel/"))
	swr.Wait()

	assert.Equal(t, "stale", string(res.Response.Body))
	body, ok := f.cached(t, f.api, "/panel/")
	require.True(t, ok, "a failed refresh never evicts by default")
	assert.Equal(t, "stale", body)
}

func TestSWR_EvictsAfterConsecutiveFailures(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.api, "/panel/", "stale")

	swr := NewStaleWhileRevalidate(f.base, SWROptions{EvictAfter: 2})

	swr.Serve(t.Context(), f.exchange(f.api, "/panel/"))
	swr.Wait()
	_, ok := f.cached(t, f.api, "/panel/")
	require.True(t, ok, "one failure is below the threshold")

	swr.Serve(t.Context(), f.exchange(f.api, "/panel/"))
	swr.Wait()
	_, ok = f.cached(t, f.api, "/panel/")
	assert.False(t, ok)
}

func TestSWR_SuccessResetsFailureStreak(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.api, "/panel/", "stale")
	swr := NewStaleWhileRevalidate(f.base, SWROptions{EvictAfter: 2})
	ex := f.exchange(f.api, "/panel/")

	swr.Serve(t.Context(), ex)
	swr.Wait()

	f.transport.RegisterResponder(http.MethodGet, backend+"/panel/",
		httpmock.NewStringResponder(http.StatusOK, "fresh"))
	swr.Serve(t.Context(), ex)
	swr.Wait()

	f.transport.Reset()
	swr.Serve(t.Context(), ex)
	swr.Wait()

	body, ok := f.cached(t, f.api, "/panel/")
	require.True(t, ok)
	assert.Equal(t, "fresh", body)
}

func TestSWR_MissFallbacks(t *testing.T) {
	f := newFixture(t)
	swr := NewStaleWhileRevalidate(f.base, SWROptions{})

	res := swr.Serve(t.Context(), f.exchange(f.api, "/panel/"))
	assert.Equal(t, metrics.OutcomeOfflinePage, res.Outcome)
	assert.Contains(t, res.Response.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(res.Response.Body), "location.reload()")

	f.seed(t, f.static, "/", "root")
	res = swr.Serve(t.Context(), f.exchange(f.api, "/panel/"))
	assert.Equal(t, metrics.OutcomeRootFallback, res.Outcome)
	assert.Equal(t, "root", string(res.Response.Body))

	f.transport.RegisterResponder(http.MethodGet, backend+"/panel/",
		httpmock.NewStringResponder(http.StatusOK, "live"))
	res = swr.Serve(t.Context(), f.exchange(f.api, "/panel/"))
	assert.Equal(t, metrics.OutcomeNetwork, res.Outcome)
	body, ok := f.cached(t, f.api, "/panel/")
	require.True(t, ok)
	assert.Equal(t, "live", body)
}

func TestSWR_MissServesPrecachedCopyBeforeRoot(t *testing.T) {
	f := newFixture(t)
	f.seed(t, f.static, "/", "<html>index</html>")
	f.seed(t, f.static, "/login.html", "<html>login</html>")
	f.seed(t, f.static, "/manifest.json", `{"name":"app"}`)
	swr := NewStaleWhileRevalidate(f.base, SWROptions{})

	res := swr.Serve(t.Context(), f.exchange(f.api, "/login.html"))
	assert.Equal(t, metrics.OutcomePrecachedFallback, res.Outcome)
	assert.Equal(t, "<html>login</html>", string(res.Response.Body))

	res = swr.Serve(t.Context(), f.exchange(f.api, "/manifest.json"))
	assert.Equal(t, metrics.OutcomePrecachedFallback, res.Outcome)
	assert.JSONEq(t, `{"name":"app"}`, string(res.Response.Body))

	res = swr.Serve(t.Context(), f.exchange(f.api, "/panel/"))
	assert.Equal(t, metrics.OutcomeRootFallback, res.Outcome, "pages never installed still get the root document")
}

func TestCacheFirst_MissServesPrecachedCopy(t *testing.T) {
	f := newFixture(t)
	images, err := f.store.Open(t.Context(), "images-v1")
	require.NoError(t, err)
	f.seed(t, f.static, "/favicon.png", "png")

	res := NewCacheFirst(f.base).Serve(t.Context(), f.exchange(images, "/favicon.png"))
	assert.Equal(t, metrics.OutcomePrecachedFallback, res.Outcome)
	assert.Equal(t, "png", string(res.Response.Body))
}

func TestBase_CustomPersist(t *testing.T) {
	f := newFixture(t)
	f.transport.RegisterResponder(http.MethodGet, backend+"/x",
		httpmock.NewStringResponder(http.StatusOK, "x"))

	var persisted []string
	f.base.Persist = func(_ context.Context, ex *Exchange, _ *cachestore.Response) error {
		persisted = append(persisted, ex.Descriptor.Key())
		return nil
	}

	NewCacheFirst(f.base).Serve(t.Context(), f.exchange(f.api, "/x"))

	assert.Equal(t, []string{"GET /x"}, persisted)
	_, ok := f.cached(t, f.api, "/x")
	assert.False(t, ok)
}

func TestPolicy(t *testing.T) {
	f := newFixture(t)

	p, err := NewPolicy(conf.DefaultPolicy(), f.base, SWROptions{})
	require.NoError(t, err)
	assert.Equal(t, conf.StrategyCacheFirst, p.For(conf.RouteStatic).Name())
	assert.Equal(t, conf.StrategyCacheFirst, p.For(conf.RouteImage).Name())
	assert.Equal(t, conf.StrategyStaleWhileRevalidate, p.For(conf.RouteDynamic).Name())
	assert.Equal(t, conf.StrategyStaleWhileRevalidate, p.For("unknown").Name())

	p, err = NewPolicy(conf.NetworkFirstPolicy(), f.base, SWROptions{})
	require.NoError(t, err)
	assert.Equal(t, conf.StrategyNetworkFirst, p.For(conf.RouteDynamic).Name())

	_, err = NewPolicy(map[string]string{conf.RouteDynamic: "cache-only"}, f.base, SWROptions{})
	assert.Error(t, err)
}

func TestFailureTracker(t *testing.T) {
	tr := NewFailureTracker()
	now := time.Now()

	assert.Equal(t, 1, tr.Failure("a", now))
	assert.Equal(t, 2, tr.Failure("a", now.Add(time.Second)))
	assert.Equal(t, 1, tr.Failure("b", now))

	tr.Success("a")
	assert.Zero(t, tr.Count("a"))

	tr.Failure("c", now)
	assert.Equal(t, 1, tr.Failure("c", now.Add(maxFailureAge+time.Minute)), "old streaks restart")
}
