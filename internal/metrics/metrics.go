// Package metrics exports registry, payout and transport counters to
// Prometheus. A Metrics value owns its own prometheus.Registry so several
// can coexist in one process (tests, multiple servers).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crossword"

type Metrics struct {
	reg *prometheus.Registry

	createAttempts  *prometheus.CounterVec
	solveAttempts   *prometheus.CounterVec
	unsolved        prometheus.Gauge
	opDuration      *prometheus.HistogramVec
	payouts         *prometheus.CounterVec
	requests        *prometheus.CounterVec
	auditQueueDepth prometheus.GaugeFunc
}

// New registers every collector. queueDepth, when non-nil, is sampled at
// scrape time for the audit index backlog.
func New(queueDepth func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		reg: reg,
		createAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "create_attempts_total",
			Help:      "Puzzle creation attempts by result",
		}, []string{"result"}),
		solveAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "solve_attempts_total",
			Help:      "Solution submissions by result",
		}, []string{"result"}),
		unsolved: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "unsolved_puzzles",
			Help:      "Puzzles currently open for solving",
		}),
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "op_duration_seconds",
			Help:      "Time spent inside the registry loop per operation",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
		payouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reward",
			Name:      "payouts_total",
			Help:      "Payout outcomes (paid, retried, failed, dropped)",
		}, []string{"result"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Dispatched API operations by transport, op and error code",
		}, []string{"transport", "op", "code"}),
	}
	if queueDepth != nil {
		m.auditQueueDepth = f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "queue_depth",
			Help:      "Pending writes in the audit index queue",
		}, queueDepth)
	}
	return m
}

func (m *Metrics) CreateAttempt(result string) { m.createAttempts.WithLabelValues(result).Inc() }
func (m *Metrics) SolveAttempt(result string)  { m.solveAttempts.WithLabelValues(result).Inc() }
func (m *Metrics) UnsolvedPuzzles(n int)       { m.unsolved.Set(float64(n)) }

func (m *Metrics) OpDuration(op string, d time.Duration) {
	m.opDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Payout implements reward.Observer.
func (m *Metrics) Payout(result string) { m.payouts.WithLabelValues(result).Inc() }

// Request implements dispatch.Observer.
func (m *Metrics) Request(transport, op, code string) {
	if code == "" {
		code = "ok"
	}
	m.requests.WithLabelValues(transport, op, code).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
