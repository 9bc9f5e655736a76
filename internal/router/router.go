// Package router classifies every intercepted request and dispatches it to
// the read strategy configured for its route, or to the offline mutation
// handler for non-GET requests.
package router

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/tphakala/offlinecache/internal/cachestore"
	"github.com/tphakala/offlinecache/internal/conf"
	"github.com/tphakala/offlinecache/internal/events"
	"github.com/tphakala/offlinecache/internal/logger"
	"github.com/tphakala/offlinecache/internal/mutation"
	"github.com/tphakala/offlinecache/internal/network"
	"github.com/tphakala/offlinecache/internal/observability/metrics"
	"github.com/tphakala/offlinecache/internal/snapshot"
	"github.com/tphakala/offlinecache/internal/strategy"
)

// Deps are the collaborators of a Router.
type Deps struct {
	Store     *cachestore.Manager
	Fetcher   network.Fetcher
	Snapshot  *snapshot.Synchronizer
	Mutations *mutation.Handler
	Metrics   *metrics.Metrics
	Events    events.Publisher
	Log       logger.Logger
}

// Router is the request interceptor. Until SetActive(true) it forwards every
// request to the network without caching.
type Router struct {
	classifier *classifier
	partitions map[string]*cachestore.Partition
	policy     *strategy.Policy
	fetcher    network.Fetcher
	snapshot   *snapshot.Synchronizer
	mutations  *mutation.Handler
	metrics    *metrics.Metrics
	log        logger.Logger

	active atomic.Bool
}

// Outcome describes how a request was answered.
type Outcome struct {
	Route    string
	Strategy string
	Result   string
}

// New builds a router for settings.
func New(settings *conf.Settings, deps Deps) (*Router, error) {
	log := deps.Log
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Module("router")

	static := deps.Store.Partition(settings.StaticPartition())
	r := &Router{
		classifier: newClassifier(settings),
		partitions: map[string]*cachestore.Partition{
			conf.RouteStatic:  static,
			conf.RouteImage:   deps.Store.Partition(settings.ImagesPartition()),
			conf.RouteDynamic: deps.Store.Partition(settings.APIPartition()),
		},
		fetcher:   deps.Fetcher,
		snapshot:  deps.Snapshot,
		mutations: deps.Mutations,
		metrics:   deps.Metrics,
		log:       log,
	}

	policy, err := strategy.NewPolicy(settings.Policy, &strategy.Base{
		Fetcher: deps.Fetcher,
		Persist: r.persist,
		Root:    static,
		RootKey: cachestore.NewDescriptor(settings.Cache.RootDocument),
		Metrics: deps.Metrics,
		Log:     log,
	}, strategy.SWROptions{
		EvictAfter: settings.Revalidate.EvictAfterFailures,
		Events:     deps.Events,
	})
	if err != nil {
		return nil, err
	}
	r.policy = policy
	return r, nil
}

// SetActive starts or stops interception.
func (r *Router) SetActive(active bool) {
	r.active.Store(active)
	r.metrics.SetActive(active)
}

// Active reports whether requests are intercepted.
func (r *Router) Active() bool { return r.active.Load() }

// Wait blocks until background refreshes have finished.
func (r *Router) Wait() { r.policy.Wait() }

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	resp, _ := r.Handle(req.Context(), req)
	if err := resp.Send(w); err != nil {
		r.log.Debug("failed to write response", logger.Error(err))
	}
}

// Handle answers req. The returned response is never nil.
func (r *Router) Handle(ctx context.Context, req *http.Request) (*cachestore.Response, Outcome) {
	out, err := network.FromRequest(req)
	if err != nil {
		r.log.Warn("failed to read request", logger.String("path", req.URL.Path), logger.Error(err))
		return badRequest(), Outcome{Route: RouteBypass, Result: "bad_request"}
	}

	desc := cachestore.DescriptorFor(req)
	route := r.classifier.classify(req, desc)
	if !r.Active() && route != RouteBypass {
		route = RouteBypass
	}

	var resp *cachestore.Response
	var outcome Outcome
	switch route {
	case RouteBypass:
		resp, outcome = r.passthrough(ctx, out)
	case RouteMutation:
		resp = r.mutations.Serve(ctx, out)
		outcome = Outcome{Route: RouteMutation, Strategy: "network", Result: metrics.OutcomeNetwork}
		if resp.Header.Get(mutation.OfflineHeader) != "" {
			outcome.Result = metrics.OutcomeLocalAnswer
		}
	default:
		s := r.policy.For(route)
		res := s.Serve(ctx, &strategy.Exchange{
			Route:      route,
			Descriptor: desc,
			Request:    out,
			Partition:  r.partitions[route],
		})
		resp = res.Response
		outcome = Outcome{Route: route, Strategy: s.Name(), Result: res.Outcome}
	}

	r.metrics.RecordRequest(outcome.Route, outcome.Strategy, outcome.Result)
	return resp, outcome
}

// passthrough forwards without caching. A network failure is answered with a
// 502 since there is nothing cached to fall back on.
func (r *Router) passthrough(ctx context.Context, out *network.Outgoing) (*cachestore.Response, Outcome) {
	outcome := Outcome{Route: RouteBypass, Strategy: "network", Result: metrics.OutcomePassthrough}
	resp, err := r.fetcher.Fetch(ctx, out)
	if err != nil {
		return cachestore.NewResponse(http.StatusBadGateway, "text/plain; charset=utf-8",
			[]byte("upstream unavailable")), outcome
	}
	return resp, outcome
}

// persist stores a successful network response. The listing endpoint is
// written through the snapshot synchronizer so the snapshot has one writer;
// only 2xx JSON listings replace it.
func (r *Router) persist(ctx context.Context, ex *strategy.Exchange, resp *cachestore.Response) error {
	if r.snapshot != nil && ex.Partition.Name() == r.snapshot.Partition() && r.snapshot.Owns(ex.Descriptor) {
		if resp.Status/100 != 2 {
			return nil
		}
		if err := r.snapshot.SaveBody(ctx, resp.Body); err != nil {
			r.log.Debug("listing response is not a JSON inventory, not stored", logger.Error(err))
		}
		return nil
	}
	return ex.Partition.Put(ctx, ex.Descriptor, resp)
}

func badRequest() *cachestore.Response {
	return cachestore.NewResponse(http.StatusBadRequest, "text/plain; charset=utf-8", []byte("bad request"))
}
