package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DeletesRequested.Inc()
	m.Failures.WithLabelValues("commit").Inc()
	m.ObserveUndo(true)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "spese_deletes_requested_total")
	assert.Contains(t, names, "spese_undo_failures_total")
	assert.Contains(t, names, "spese_undos_total")
}

func TestNew_NilRegisterer(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil).DeletesFinalized.Inc()
	})
	// Unregistered collectors allow a second set on the same process.
	assert.NotPanics(t, func() { New(nil) })
}

func TestObserveUndo(t *testing.T) {
	m := New(nil)

	m.ObserveUndo(true)
	m.ObserveUndo(false)
	m.ObserveUndo(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Undos.WithLabelValues(ResultRestored)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Undos.WithLabelValues(ResultTooLate)))
}
