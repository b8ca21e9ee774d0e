package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram
	generated   prometheus.Counter
	deliveries  *prometheus.CounterVec
	armedOwners prometheus.Gauge
}

func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "followup_runs_total",
				Help:      "Run cycles executed per owner, by result",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "followup_run_duration_seconds",
				Help:      "Duration of run cycles",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30},
			},
		),
		generated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "followup_generated_total",
				Help:      "Follow-ups generated by run cycles",
			},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "followup_deliveries_total",
				Help:      "Per channel delivery attempts, by result",
			},
			[]string{"channel", "status"},
		),
		armedOwners: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "followup_armed_owners",
				Help:      "Owners with an armed timer",
			},
		),
	}

	reg.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.generated,
		m.deliveries,
		m.armedOwners,
	)

	return m
}

func (m *Metrics) RecordRun(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) AddGenerated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.generated.Add(float64(n))
}

func (m *Metrics) RecordDelivery(channel string, ok bool) {
	if m == nil {
		return
	}
	status := StatusOK
	if !ok {
		status = StatusError
	}
	m.deliveries.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) SetArmed(n int) {
	if m == nil {
		return
	}
	m.armedOwners.Set(float64(n))
}
