// internal/services/metrics.go
package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the workflow counters. A nil *Metrics records nothing.
type Metrics struct {
	approvalDecisions      *prometheus.CounterVec
	assignments            *prometheus.CounterVec
	procurementTransitions *prometheus.CounterVec
	outboxDeliveries       *prometheus.CounterVec
	outboxBacklog          prometheus.Gauge
}

// NewMetrics creates the workflow counters and registers them with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	approvalDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "licensedesk_approval_decisions_total",
		Help: "Counts approval decisions by outcome.",
	}, []string{"decision"})

	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "licensedesk_assignments_total",
		Help: "Counts license assignments by mode.",
	}, []string{"mode"})

	procurementTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "licensedesk_procurement_transitions_total",
		Help: "Counts procurement lifecycle transitions.",
	}, []string{"transition"})

	outboxDeliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "licensedesk_outbox_deliveries_total",
		Help: "Counts outbox event deliveries by kind and result.",
	}, []string{"kind", "result"})

	outboxBacklog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "licensedesk_outbox_backlog",
		Help: "Number of undelivered outbox events seen by the last dispatch.",
	})

	if registerer != nil {
		registerer.MustRegister(
			approvalDecisions,
			assignments,
			procurementTransitions,
			outboxDeliveries,
			outboxBacklog,
		)
	}

	return &Metrics{
		approvalDecisions:      approvalDecisions,
		assignments:            assignments,
		procurementTransitions: procurementTransitions,
		outboxDeliveries:       outboxDeliveries,
		outboxBacklog:          outboxBacklog,
	}
}

func (m *Metrics) ApprovalDecision(decision string) {
	if m == nil {
		return
	}
	m.approvalDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) Assignment(mode string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(mode).Inc()
}

func (m *Metrics) ProcurementTransition(transition string) {
	if m == nil {
		return
	}
	m.procurementTransitions.WithLabelValues(transition).Inc()
}

func (m *Metrics) OutboxDelivery(kind, result string) {
	if m == nil {
		return
	}
	m.outboxDeliveries.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) SetOutboxBacklog(n int) {
	if m == nil {
		return
	}
	m.outboxBacklog.Set(float64(n))
}
