package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for extraction and delivery flows.
type SchedulingMetrics struct {
	extractOutcomes  *prometheus.CounterVec
	extractDuration  *prometheus.HistogramVec
	extractCounts    *prometheus.CounterVec
	dispatched       *prometheus.CounterVec
	channelEvents    *prometheus.CounterVec
	inboundRejected  *prometheus.CounterVec
	alerts           *prometheus.CounterVec
	integrationSaves *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		extractOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedule_notify",
			Subsystem: "extract",
			Name:      "evaluations_total",
			Help:      "Strategy evaluations by rule and outcome",
		}, []string{"rule", "outcome"}),
		extractDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "schedule_notify",
			Subsystem: "extract",
			Name:      "run_duration_seconds",
			Help:      "Duration of extraction runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"rule", "state"}),
		extractCounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedule_notify",
			Subsystem: "extract",
			Name:      "appointments_total",
			Help:      "Appointments extracted, processed and sent",
		}, []string{"stage"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedule_notify",
			Subsystem: "delivery",
			Name:      "dispatched_total",
			Help:      "Messages handed to a channel",
		}, []string{"channel", "status"}),
		channelEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedule_notify",
			Subsystem: "delivery",
			Name:      "channel_events_total",
			Help:      "Channel events applied to the delivery state machine",
		}, []string{"type", "status"}),
		inboundRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedule_notify",
			Subsystem: "inbound",
			Name:      "rejected_total",
			Help:      "Inbound active-schedule requests rejected by reason",
		}, []string{"reason"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedule_notify",
			Name:      "alerts_total",
			Help:      "Unexpected errors captured by source",
		}, []string{"source"}),
		integrationSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schedule_notify",
			Subsystem: "delivery",
			Name:      "integration_saves_total",
			Help:      "Confirm/cancel pushes to the scheduling integration",
		}, []string{"action", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.extractOutcomes, m.extractDuration, m.extractCounts, m.dispatched,
		m.channelEvents, m.inboundRejected, m.alerts, m.integrationSaves)
	return m
}

func (m *SchedulingMetrics) ObserveEvaluation(rule, outcome string) {
	if m == nil {
		return
	}
	m.extractOutcomes.WithLabelValues(rule, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveRun(rule, state string, seconds float64, extracted, processed, sent int) {
	if m == nil {
		return
	}
	m.extractDuration.WithLabelValues(rule, state).Observe(seconds)
	m.extractCounts.WithLabelValues("extracted").Add(float64(extracted))
	m.extractCounts.WithLabelValues("processed").Add(float64(processed))
	m.extractCounts.WithLabelValues("sent").Add(float64(sent))
}

func (m *SchedulingMetrics) ObserveDispatch(channel, status string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(channel, status).Inc()
}

func (m *SchedulingMetrics) ObserveChannelEvent(eventType, status string) {
	if m == nil {
		return
	}
	m.channelEvents.WithLabelValues(eventType, status).Inc()
}

func (m *SchedulingMetrics) ObserveInboundRejected(reason string) {
	if m == nil {
		return
	}
	m.inboundRejected.WithLabelValues(reason).Inc()
}

func (m *SchedulingMetrics) ObserveAlert(source string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(source).Inc()
}

func (m *SchedulingMetrics) ObserveIntegrationSave(action, status string) {
	if m == nil {
		return
	}
	m.integrationSaves.WithLabelValues(action, status).Inc()
}
