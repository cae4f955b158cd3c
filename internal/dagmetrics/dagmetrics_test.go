package dagmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/katalvlaran/dagflow/internal/dagmetrics"
)

func TestRecorderRegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := dagmetrics.NewRecorder(reg)
	require.NoError(t, err)

	r.ObserveBatch("PreparedTransformerNode", 0.01)
	r.ObserveError("PreparedTransformerNode")

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *dagmetrics.Recorder
	require.NotPanics(t, func() {
		r.ObserveBatch("x", 1.0)
		r.ObserveError("x")
	})
}
