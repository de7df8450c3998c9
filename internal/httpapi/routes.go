// Package httpapi exposes the routing and relay surface over HTTP.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stream-router/internal/metrics"
	"stream-router/internal/middleware"
	"stream-router/internal/relay"
)

type Config struct {
	ThresholdBytes  int64
	CeilingBytes    int64
	DedicatedURL    string
	HlsFetchTimeout time.Duration
}

type Handlers struct {
	reg     *relay.Registry
	httpc   *http.Client
	cfg     Config
	started time.Time
}

func New(reg *relay.Registry, httpc *http.Client, cfg Config) *Handlers {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Handlers{reg: reg, httpc: httpc, cfg: cfg, started: time.Now()}
}

// Router wires every route. gatherer feeds /metrics; pass the registry the
// app registered its collectors on.
func (h *Handlers) Router(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover)
	r.Use(middleware.CORS)
	r.Use(countRequests)

	r.Post("/stream", h.handleStream)
	r.Get("/stream", h.handleStream)

	r.Route("/relay", func(r chi.Router) {
		r.Post("/add", h.handleRelayAdd)
		r.Get("/stats", h.handleRelayStats)
		r.Delete("/sessions/{infoHash}", h.handleRelayDrop)
		r.Get("/stream/{infoHash}/{fileIndex}", h.handleRelayStream)
		r.Head("/stream/{infoHash}/{fileIndex}", h.handleRelayStream)
		r.Get("/download/{infoHash}/{fileIndex}", h.handleRelayDownload)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
	})
}
