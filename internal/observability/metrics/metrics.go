package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConciergeMetrics exposes counters/histograms for the Messenger bridge.
type ConciergeMetrics struct {
	inboundTotal    *prometheus.CounterVec
	turnTotal       *prometheus.CounterVec
	outboundTotal   *prometheus.CounterVec
	aiLatency       *prometheus.HistogramVec
	permissionCache *prometheus.CounterVec
	followUpTotal   *prometheus.CounterVec
}

func NewConciergeMetrics(reg prometheus.Registerer) *ConciergeMetrics {
	m := &ConciergeMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "inbound",
			Name:      "events_total",
			Help:      "Inbound Messenger events by outcome",
		}, []string{"outcome"}),
		turnTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Consolidated turns by outcome",
		}, []string{"outcome"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "messenger",
			Name:      "outbound_total",
			Help:      "Outbound Send API calls",
		}, []string{"kind", "status"}),
		aiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "assistant",
			Name:      "completion_latency_seconds",
			Help:      "Latency of language model completions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		permissionCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "permission",
			Name:      "cache_lookups_total",
			Help:      "Permission cache lookups by result",
		}, []string{"result"}),
		followUpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "followup",
			Name:      "sent_total",
			Help:      "Inactivity follow-ups by status",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.turnTotal, m.outboundTotal, m.aiLatency, m.permissionCache, m.followUpTotal)
	return m
}

func (m *ConciergeMetrics) ObserveInbound(outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(outcome).Inc()
}

func (m *ConciergeMetrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.turnTotal.WithLabelValues(outcome).Inc()
}

func (m *ConciergeMetrics) ObserveOutbound(kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.outboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *ConciergeMetrics) ObserveCompletion(operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.aiLatency.WithLabelValues(operation, status).Observe(seconds)
}

// ObservePermissionLookup records a cache hit or miss.
func (m *ConciergeMetrics) ObservePermissionLookup(hit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if hit {
		label = "hit"
	}
	m.permissionCache.WithLabelValues(label).Inc()
}

func (m *ConciergeMetrics) ObserveFollowUp(status string) {
	if m == nil {
		return
	}
	m.followUpTotal.WithLabelValues(status).Inc()
}
