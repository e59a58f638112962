package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the daemon's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ChatsLoaded        *prometheus.CounterVec
	PageFetches        *prometheus.CounterVec
	EnrichmentFailures prometheus.Counter
	MessagesIngested   *prometheus.CounterVec
	OutboxSent         *prometheus.CounterVec
	WebsocketClients   prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChatsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poku",
			Name:      "chats_loaded_total",
			Help:      "Chats returned by the aggregator, by load kind.",
		}, []string{"kind"}),
		PageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poku",
			Name:      "stream_page_fetches_total",
			Help:      "Message pages fetched, by direction.",
		}, []string{"direction"}),
		EnrichmentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "poku",
			Name:      "enrichment_failures_total",
			Help:      "Chat metadata lookups that failed and were skipped.",
		}),
		MessagesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poku",
			Name:      "messages_ingested_total",
			Help:      "Messages written to the local mirror, by origin.",
		}, []string{"origin"}),
		OutboxSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poku",
			Name:      "outbox_messages_total",
			Help:      "Outbox deliveries, by result.",
		}, []string{"result"}),
		WebsocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "poku",
			Name:      "websocket_clients",
			Help:      "Connected websocket clients.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ChatsLoaded,
			m.PageFetches,
			m.EnrichmentFailures,
			m.MessagesIngested,
			m.OutboxSent,
			m.WebsocketClients,
		)
	}
	return m
}

func (m *Metrics) ChatLoaded(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ChatsLoaded.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) PageFetched(direction string) {
	if m == nil {
		return
	}
	m.PageFetches.WithLabelValues(direction).Inc()
}

func (m *Metrics) EnrichmentFailed() {
	if m == nil {
		return
	}
	m.EnrichmentFailures.Inc()
}

func (m *Metrics) Ingested(origin string) {
	if m == nil {
		return
	}
	m.MessagesIngested.WithLabelValues(origin).Inc()
}

func (m *Metrics) Sent(result string) {
	if m == nil {
		return
	}
	m.OutboxSent.WithLabelValues(result).Inc()
}

func (m *Metrics) ClientConnected(delta int) {
	if m == nil {
		return
	}
	m.WebsocketClients.Add(float64(delta))
}
