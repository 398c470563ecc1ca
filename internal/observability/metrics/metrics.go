package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "concierge"

// MessagingMetrics exposes counters/histograms for messaging flows.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound messages accepted by the webhook",
		}, []string{"message_type", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "outbound_total",
			Help:      "Total outbound paragraph sends",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook acknowledgement",
			Buckets:   prometheus.DefBuckets,
		}, []string{"message_type"}),
	}
	register(reg, m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(messageType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(messageType, status).Inc()
}

func (m *MessagingMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(messageType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(messageType).Observe(seconds)
}

// SessionMetrics tracks the durable session store and its failover.
type SessionMetrics struct {
	opsTotal       *prometheus.CounterVec
	writeConflicts prometheus.Counter
	degraded       prometheus.Gauge
}

func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Session store operations by backend and outcome",
		}, []string{"backend", "op", "status"}),
		writeConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "write_conflicts_total",
			Help:      "Saves that overwrote a revision written by a concurrent request",
		}),
		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "degraded",
			Help:      "1 while the store routes to the in-memory backend",
		}),
	}
	register(reg, m.opsTotal, m.writeConflicts, m.degraded)
	return m
}

func (m *SessionMetrics) ObserveOp(backend, op, status string) {
	if m == nil {
		return
	}
	m.opsTotal.WithLabelValues(backend, op, status).Inc()
}

func (m *SessionMetrics) IncWriteConflict() {
	if m == nil {
		return
	}
	m.writeConflicts.Inc()
}

func (m *SessionMetrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.degraded.Set(1)
		return
	}
	m.degraded.Set(0)
}

// RateLimitMetrics counts limiter decisions.
type RateLimitMetrics struct {
	decisions *prometheus.CounterVec
}

func NewRateLimitMetrics(reg prometheus.Registerer) *RateLimitMetrics {
	m := &RateLimitMetrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limiter decisions by backend",
		}, []string{"backend", "result"}),
	}
	register(reg, m.decisions)
	return m
}

func (m *RateLimitMetrics) ObserveDecision(backend string, limited bool) {
	if m == nil {
		return
	}
	result := "admitted"
	if limited {
		result = "limited"
	}
	m.decisions.WithLabelValues(backend, result).Inc()
}

// LLMMetrics tracks gateway calls.
type LLMMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
}

func NewLLMMetrics(reg prometheus.Registerer) *LLMMetrics {
	m := &LLMMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "LLM gateway calls by operation and outcome",
		}, []string{"op", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM gateway latency including retries",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"op"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by operation",
		}, []string{"op"}),
	}
	register(reg, m.requests, m.latency, m.tokens)
	return m
}

func (m *LLMMetrics) Observe(op, status string, seconds float64, tokens int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op, status).Inc()
	m.latency.WithLabelValues(op).Observe(seconds)
	if tokens > 0 {
		m.tokens.WithLabelValues(op).Add(float64(tokens))
	}
}

// DialogueMetrics counts processed turns by resulting stage and outcome.
type DialogueMetrics struct {
	turns *prometheus.CounterVec
}

func NewDialogueMetrics(reg prometheus.Registerer) *DialogueMetrics {
	m := &DialogueMetrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialogue",
			Name:      "turns_total",
			Help:      "Processed inbound turns",
		}, []string{"stage", "outcome"}),
	}
	register(reg, m.turns)
	return m
}

func (m *DialogueMetrics) ObserveTurn(stage, outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(stage, outcome).Inc()
}

func register(reg prometheus.Registerer, cs ...prometheus.Collector) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(cs...)
}
