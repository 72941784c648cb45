package cart

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	Operations    *prometheus.CounterVec
	Purged        prometheus.Counter
	SweepFailures prometheus.Counter
	SweepDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cart_operations_total",
				Help: "Cart service operations by outcome",
			},
			[]string{"op", "result"},
		),
		Purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_sweeper_purged_total",
			Help: "Abandoned carts removed by the sweeper",
		}),
		SweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_sweeper_failures_total",
			Help: "Sweeper purge attempts that failed and were left for the next tick",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cart_sweep_duration_seconds",
			Help:    "Duration of one sweeper tick",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.Operations, m.Purged, m.SweepFailures, m.SweepDuration)
	return m
}

func (m *Metrics) observeOp(op string, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, resultLabel(err)).Inc()
}

func (m *Metrics) observeSweep(start time.Time, purged, failed int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(time.Since(start).Seconds())
	m.Purged.Add(float64(purged))
	m.SweepFailures.Add(float64(failed))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrLineNotFound):
		return "not_found"
	case errors.Is(err, ErrComboUnavailable):
		return "combo_unavailable"
	case errors.Is(err, ErrInvalidItem):
		return "invalid"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
