package hpo

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated after every trial.
type Metrics struct {
	// trials counts recorded trials by study and final state.
	trials *prometheus.CounterVec

	// duration observes the wall time of every recorded trial.
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. Registering
// twice on the same registerer reuses the collectors already there.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hpo_trials_total",
			Help: "Total number of recorded trials per study and state",
		}, []string{"study", "state"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hpo_trial_duration_seconds",
			Help:    "Wall time of recorded trials per study",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"study"}),
	}

	if err := reg.Register(m.trials); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}

		m.trials = are.ExistingCollector.(*prometheus.CounterVec)
	}

	if err := reg.Register(m.duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}

		m.duration = are.ExistingCollector.(*prometheus.HistogramVec)
	}

	return m, nil
}

// observe records t. A nil Metrics records nothing.
func (m *Metrics) observe(study string, t Trial) {
	if m == nil {
		return
	}

	m.trials.WithLabelValues(study, string(t.State)).Inc()
	m.duration.WithLabelValues(study).Observe(t.Duration.Seconds())
}
