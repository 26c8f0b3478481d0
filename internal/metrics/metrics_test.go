package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNoOpTransitionDoesNotPanic(t *testing.T) {
	var r Recorder = NoOp{}
	r.Transition("c1", "", "creating")
}

func TestPrometheusRecorderIncrementsCounter(t *testing.T) {
	rec := NewPrometheusRecorder()
	rec.Transition("c1", "creating", "created")
	rec.Transition("c1", "creating", "created")

	got := testutil.ToFloat64(rec.Transitions.WithLabelValues("c1", "creating", "created"))
	require.Equal(t, float64(2), got)
}
