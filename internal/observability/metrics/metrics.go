package metrics

import "github.com/prometheus/client_golang/prometheus"

// BotMetrics exposes counters/histograms for the WhatsApp booking flow.
type BotMetrics struct {
	inboundTotal     *prometheus.CounterVec
	flushTotal       prometheus.Counter
	bookingsTotal    *prometheus.CounterVec
	escalationsTotal *prometheus.CounterVec
	llmLatency       *prometheus.HistogramVec
}

func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	m := &BotMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agendabot",
			Subsystem: "messaging",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound Twilio webhooks",
		}, []string{"status"}),
		flushTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agendabot",
			Subsystem: "buffer",
			Name:      "flush_total",
			Help:      "Total debounced turns handed to the orchestrator",
		}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agendabot",
			Subsystem: "booking",
			Name:      "appointments_total",
			Help:      "Total booking attempts by outcome",
		}, []string{"outcome"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agendabot",
			Subsystem: "conversation",
			Name:      "escalations_total",
			Help:      "Total conversations escalated to a human",
		}, []string{"source"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agendabot",
			Subsystem: "conversation",
			Name:      "llm_latency_seconds",
			Help:      "Latency of LLM classification calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.flushTotal, m.bookingsTotal, m.escalationsTotal, m.llmLatency)
	return m
}

func (m *BotMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *BotMetrics) ObserveFlush() {
	if m == nil {
		return
	}
	m.flushTotal.Inc()
}

func (m *BotMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *BotMetrics) ObserveEscalation(source string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(source).Inc()
}

func (m *BotMetrics) ObserveLLMLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(provider).Observe(seconds)
}
