package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"logs-distributor/queue"
	"logs-distributor/registry"
)

// Prometheus exposes distributor-internal counters and gauges at
// GET /metrics. Grounded on Pranshu258-OpenPrequal's src/metrics.go
// (CounterVec/GaugeVec registered against a dedicated prometheus.Registry,
// served via promhttp.Handler), generalized from replica-selection
// counters to the distributor's packet/queue/weight metrics.
type Prometheus struct {
	registry  *prometheus.Registry
	received  prometheus.Counter
	forwarded *prometheus.GaugeVec
	queueSize prometheus.GaugeFunc
	weight    *prometheus.GaugeVec
	healthy   *prometheus.GaugeVec
}

// NewPrometheus registers the distributor's metric family set against its
// own registry, sidestepping the global default registry so tests can
// construct more than one instance without a "duplicate metrics
// collector registration" panic.
func NewPrometheus(q *queue.Queue) *Prometheus {
	r := prometheus.NewRegistry()

	p := &Prometheus{
		registry: r,
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packets_received_total",
			Help: "Total packets accepted at the ingress endpoint.",
		}),
		forwarded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "packets_forwarded_total",
			Help: "Total packets successfully forwarded, by analyzer.",
		}, []string{"analyzer_id"}),
		weight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "analyzer_effective_weight",
			Help: "Current smooth-WRR effective weight, by analyzer.",
		}, []string{"analyzer_id"}),
		healthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "analyzer_healthy",
			Help: "1 if the analyzer is currently marked healthy, else 0.",
		}, []string{"analyzer_id"}),
	}
	p.queueSize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "queue_size",
		Help: "Current depth of the ingress queue.",
	}, func() float64 { return float64(q.Len()) })

	r.MustRegister(p.received, p.forwarded, p.weight, p.healthy, p.queueSize)
	return p
}

// Handler returns the promhttp handler bound to this instance's registry.
func (p *Prometheus) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// IncReceived increments the received-packet counter.
func (p *Prometheus) IncReceived() {
	p.received.Inc()
}

// SyncRegistry refreshes the weight/healthy/forwarded gauges from a
// registry snapshot. Called on scrape rather than on every mutation,
// since Prometheus gauges tolerate a little staleness and the registry
// already tracks TxPackets per analyzer under its own lock.
func (p *Prometheus) SyncRegistry(reg *registry.Registry) {
	for _, a := range reg.ListSnapshot() {
		p.weight.WithLabelValues(a.ID).Set(a.EffectiveWeight)
		p.forwarded.WithLabelValues(a.ID).Set(float64(a.TxPackets))
		healthy := 0.0
		if a.Healthy {
			healthy = 1.0
		}
		p.healthy.WithLabelValues(a.ID).Set(healthy)
	}
}

func (h *Handler) prometheusMetrics(c *gin.Context) {
	h.promux.SyncRegistry(h.reg)
	h.promux.Handler()(c)
}
