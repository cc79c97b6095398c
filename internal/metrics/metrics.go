// Package metrics exposes relayer counters and gauges. A nil *Relayer is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for relay attempts.
const (
	OutcomeSkipped   = "skipped"
	OutcomePending   = "pending"
	OutcomeSubmitted = "submitted"
	OutcomeFinalized = "finalized"
	OutcomeError     = "error"
)

type Relayer struct {
	attempts       *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	finalized      *prometheus.CounterVec
	oracleErrors   prometheus.Counter
	stuck          *prometheus.CounterVec
	pending        *prometheus.GaugeVec
	processed      prometheus.Gauge
	scannedBlock   prometheus.Gauge
	cycleErrors    prometheus.Counter
	cycleSeconds   prometheus.Histogram
	receiptSeconds prometheus.Histogram
}

func New(reg prometheus.Registerer) *Relayer {
	f := promauto.With(reg)
	return &Relayer{
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "withdraw_relayer_attempts_total",
			Help: "Relay attempts by asset kind and outcome.",
		}, []string{"kind", "outcome"}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "withdraw_relayer_l1_submissions_total",
			Help: "relayMessageWithProof transactions broadcast to L1.",
		}, []string{"kind"}),
		finalized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "withdraw_relayer_finalized_total",
			Help: "Withdrawals moved to processed, by how finality was observed.",
		}, []string{"kind", "via"}),
		oracleErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "withdraw_relayer_oracle_errors_total",
			Help: "Proof oracle failures other than not-ready.",
		}),
		stuck: f.NewCounterVec(prometheus.CounterOpts{
			Name: "withdraw_relayer_stuck_alerts_total",
			Help: "Escalations for withdrawals pending past the alert thresholds.",
		}, []string{"kind"}),
		pending: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "withdraw_relayer_pending",
			Help: "Ids currently in a pending set.",
		}, []string{"kind"}),
		processed: f.NewGauge(prometheus.GaugeOpts{
			Name: "withdraw_relayer_processed",
			Help: "Ids in the processed set.",
		}),
		scannedBlock: f.NewGauge(prometheus.GaugeOpts{
			Name: "withdraw_relayer_l2_scanned_block",
			Help: "Highest L2 block scanned for withdraw events.",
		}),
		cycleErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "withdraw_relayer_cycle_errors_total",
			Help: "Poll cycles that ended with an error.",
		}),
		cycleSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "withdraw_relayer_cycle_seconds",
			Help:    "Wall time of one poll cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		receiptSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "withdraw_relayer_receipt_wait_seconds",
			Help:    "Time from broadcast to receipt.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

func (m *Relayer) Attempt(kind, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(kind, outcome).Inc()
}

func (m *Relayer) Submitted(kind string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(kind).Inc()
}

// Finalized records a withdrawal reaching processed. via is "receipt", "already_relayed" or "onchain_check".
func (m *Relayer) Finalized(kind, via string) {
	if m == nil {
		return
	}
	m.finalized.WithLabelValues(kind, via).Inc()
}

func (m *Relayer) OracleError() {
	if m == nil {
		return
	}
	m.oracleErrors.Inc()
}

func (m *Relayer) Stuck(kind string) {
	if m == nil {
		return
	}
	m.stuck.WithLabelValues(kind).Inc()
}

func (m *Relayer) SetSetSizes(processed int, pendingByKind map[string]int) {
	if m == nil {
		return
	}
	m.processed.Set(float64(processed))
	for kind, n := range pendingByKind {
		m.pending.WithLabelValues(kind).Set(float64(n))
	}
}

func (m *Relayer) ScannedBlock(n uint64) {
	if m == nil {
		return
	}
	m.scannedBlock.Set(float64(n))
}

func (m *Relayer) Cycle(seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.cycleSeconds.Observe(seconds)
	if failed {
		m.cycleErrors.Inc()
	}
}

func (m *Relayer) ReceiptWait(seconds float64) {
	if m == nil {
		return
	}
	m.receiptSeconds.Observe(seconds)
}
