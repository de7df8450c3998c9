package metrics

import "github.com/prometheus/client_golang/prometheus"

const Namespace = "relay"

var (
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "active_sessions",
		Help:      "Torrent sessions currently held by the registry.",
	})
	ActiveRangeStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "active_range_streams",
		Help:      "Byte-range responses currently being written.",
	})
	SessionAddsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "session_adds_total",
		Help:      "Successful torrent session creations.",
	})
	RoutingDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "routing_decisions_total",
		Help:      "Stream routing decisions by venue.",
	}, []string{"venue"})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	SessionDownloadedBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "session_downloaded_bytes",
		Help:      "Payload bytes read from peers, per session.",
	}, []string{"infohash"})
	SessionPeers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "session_peers",
		Help:      "Active peers, per session.",
	}, []string{"infohash"})
	SessionDownloadRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "session_download_rate_bytes",
		Help:      "Approximate download rate in bytes per second, per session.",
	}, []string{"infohash"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		ActiveSessions,
		ActiveRangeStreams,
		SessionAddsTotal,
		RoutingDecisionsTotal,
		HTTPRequestsTotal,
		SessionDownloadedBytes,
		SessionPeers,
		SessionDownloadRate,
	)
}

// ForgetSession drops the per-session series once a session is destroyed so
// stale infohash labels don't linger in scrapes.
func ForgetSession(infoHash string) {
	SessionDownloadedBytes.DeleteLabelValues(infoHash)
	SessionPeers.DeleteLabelValues(infoHash)
	SessionDownloadRate.DeleteLabelValues(infoHash)
}
