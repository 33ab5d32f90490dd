package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what channels do, labelled by category and binding.
type Metrics struct {
	broadcasts *prometheus.CounterVec
	applied    *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	pulls      *prometheus.CounterVec
}

// NewMetrics builds the channel counters and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statemesh",
			Name:      "broadcasts_total",
			Help:      "Full state broadcasts sent after a local mutation.",
		}, []string{"category", "binding"}),
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statemesh",
			Name:      "updates_applied_total",
			Help:      "Mutations applied, by origin.",
		}, []string{"category", "binding", "origin"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statemesh",
			Name:      "updates_rejected_total",
			Help:      "Inbound payloads rejected because they do not match the state shape.",
		}, []string{"category", "binding"}),
		pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statemesh",
			Name:      "pulls_total",
			Help:      "Bootstrap pull attempts, by result.",
		}, []string{"category", "binding", "result"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.broadcasts, m.applied, m.rejected, m.pulls} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

var defaultMetrics, _ = NewMetrics(nil)
