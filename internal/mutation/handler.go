// Package mutation answers non-GET requests. They go to the network first;
// when the network is unreachable a local handler synthesizes an answer from
// the cached inventory snapshot.
package mutation

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/offlinecache/internal/cachestore"
	"github.com/tphakala/offlinecache/internal/logger"
	"github.com/tphakala/offlinecache/internal/network"
	"github.com/tphakala/offlinecache/internal/observability/metrics"
	"github.com/tphakala/offlinecache/internal/snapshot"
)

// Backend endpoints with a local answer.
const (
	PathListAssets     = "/obtener_activos_escaneados/"
	PathRegisterQR     = "/registrar_qr/"
	PathDeleteAsset    = "/eliminar_activo/"
	PathDeleteAll      = "/eliminar_todos_activos/"
	PathVerifySession  = "/verificar_sesion/"
	OfflineHeader      = "X-Offline-Response"
	UnavailableMessage = "Operación no disponible sin conexión"
)

// handlerUnavailable labels generic answers in metrics.
const handlerUnavailable = "unavailable"

// Payload is a JSON object answered to the page.
type Payload map[string]any

// localFunc answers one endpoint from local state.
type localFunc func(ctx context.Context, out *network.Outgoing) (Payload, error)

// Config names the endpoints and the session cookie.
type Config struct {
	// ListingPath is where successful live responses refresh the snapshot.
	ListingPath   string
	SessionCookie string
}

// Handler answers non-GET requests.
type Handler struct {
	fetcher  network.Fetcher
	snapshot *snapshot.Synchronizer
	cfg      Config
	locals   map[string]localFunc
	metrics  *metrics.Metrics
	log      logger.Logger

	now   func() time.Time
	newID func() string
}

// New creates a handler.
func New(fetcher network.Fetcher, snap *snapshot.Synchronizer, cfg Config, m *metrics.Metrics, log logger.Logger) *Handler {
	if cfg.ListingPath == "" {
		cfg.ListingPath = PathListAssets
	}
	if log == nil {
		log = logger.NewNop()
	}
	h := &Handler{
		fetcher:  fetcher,
		snapshot: snap,
		cfg:      cfg,
		metrics:  m,
		log:      log.Module("mutation"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	h.locals = map[string]localFunc{
		cfg.ListingPath:   h.listAssets,
		PathRegisterQR:    h.registerQR,
		PathDeleteAsset:   h.deleteAsset,
		PathDeleteAll:     h.deleteAll,
		PathVerifySession: h.verifySession,
	}
	return h
}

// Serve forwards out to the network and falls back to a local answer. It
// always returns a response.
func (h *Handler) Serve(ctx context.Context, out *network.Outgoing) *cachestore.Response {
	resp, err := h.fetcher.Fetch(ctx, out)
	if err == nil {
		if out.Path() == h.cfg.ListingPath && resp.Status/100 == 2 {
			h.syncSnapshot(ctx, resp)
		}
		return resp
	}

	h.log.Debug("network unavailable, answering locally",
		logger.String("method", out.Method),
		logger.String("path", out.Path()),
		logger.Error(err))
	return h.answer(ctx, out)
}

func (h *Handler) syncSnapshot(ctx context.Context, resp *cachestore.Response) {
	if err := h.snapshot.SaveBody(ctx, resp.Body); err != nil {
		h.log.Warn("listing response not stored as snapshot", logger.Error(err))
	}
}

// answer runs the local handler for out and turns whatever it produces into
// a 200 JSON response. A missing handler, an error, a nil payload or a panic
// all become the generic unavailable payload.
func (h *Handler) answer(ctx context.Context, out *network.Outgoing) (resp *cachestore.Response) {
	name := handlerUnavailable
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("offline handler panicked",
				logger.String("path", out.Path()),
				logger.Any("panic", r))
			name = handlerUnavailable
			resp = jsonResponse(unavailable())
		}
		h.metrics.RecordOfflineAnswer(name)
	}()

	local, ok := h.locals[out.Path()]
	if !ok {
		return jsonResponse(unavailable())
	}

	payload, err := local(ctx, out)
	if err != nil {
		h.log.Warn("offline handler failed", logger.String("path", out.Path()), logger.Error(err))
		return jsonResponse(unavailable())
	}
	if payload == nil {
		return jsonResponse(unavailable())
	}
	name = out.Path()
	return jsonResponse(payload)
}

func unavailable() Payload {
	return Payload{"success": false, "message": UnavailableMessage}
}

func jsonResponse(p Payload) *cachestore.Response {
	body, err := json.Marshal(p)
	if err != nil {
		body, _ = json.Marshal(unavailable())
	}
	resp := cachestore.NewResponse(http.StatusOK, "application/json", body)
	resp.Header.Set(OfflineHeader, "1")
	return resp
}
