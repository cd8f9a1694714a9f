package qchain

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "qchain"

// Metrics holds the Prometheus collectors of the core. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	sessionTransitions *prometheus.CounterVec
	degradedReads      *prometheus.CounterVec
	confirmations      *prometheus.CounterVec
	mints              *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_transitions_total",
			Help:      "Wallet session state transitions by target state.",
		}, []string{"state"}),
		degradedReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "degraded_reads_total",
			Help:      "Read queries that failed and were reported as zero or empty.",
		}, []string{"family", "query"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "confirmations_total",
			Help:      "Transaction confirmation waits by result.",
		}, []string{"family", "result"}),
		mints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mints_total",
			Help:      "Mint attempts by final stage.",
		}, []string{"family", "stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.sessionTransitions, m.degradedReads, m.confirmations, m.mints)
	}
	return m
}

func (m *Metrics) recordTransition(state SessionState) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) recordDegradedRead(family ChainFamily, query string) {
	if m == nil {
		return
	}
	m.degradedReads.WithLabelValues(string(family), query).Inc()
}

func (m *Metrics) recordConfirmation(family ChainFamily, result string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(string(family), result).Inc()
}

// recordMint counts a finished attempt. stage is StageCompleted on success
// or the stage the attempt failed at.
func (m *Metrics) recordMint(family ChainFamily, stage MintStage) {
	if m == nil {
		return
	}
	m.mints.WithLabelValues(string(family), string(stage)).Inc()
}
