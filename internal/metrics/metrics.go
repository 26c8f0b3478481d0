// Package metrics exposes the interface the core calls into on every
// container state transition. The exporter itself (JSON-log or Prometheus)
// is an external collaborator: this package defines the call shape and a
// no-op default, not a running exporter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the interface the core's Runtime calls on every lifecycle
// transition. PrometheusRecorder below backs it with a
// prometheus.CounterVec.
type Recorder interface {
	// Transition records a status change for id, from -> to. from is ""
	// at create time, before any prior status exists.
	Transition(id, from, to string)
}

// NoOp is the default Recorder; it satisfies the interface without
// wiring any real exporter.
type NoOp struct{}

func (NoOp) Transition(string, string, string) {}

// PrometheusRecorder adapts a prometheus.CounterVec into a Recorder. The
// exporter itself (an HTTP handler registered on some external mux) is out
// of scope here; only the collector this core feeds is.
type PrometheusRecorder struct {
	Transitions *prometheus.CounterVec
}

// NewPrometheusRecorder builds a Recorder backed by a CounterVec labeled by
// container id, source status, and destination status. Callers are
// responsible for registering Transitions with a prometheus.Registerer;
// this package does not register global state.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ocirun",
			Name:      "container_state_transitions_total",
			Help:      "Count of container lifecycle state transitions by backend dispatch.",
		}, []string{"id", "from", "to"}),
	}
}

func (p *PrometheusRecorder) Transition(id, from, to string) {
	p.Transitions.WithLabelValues(id, from, to).Inc()
}
