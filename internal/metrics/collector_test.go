package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.FetchCall("general", "leased", 0.01)
	c.Leased("general", 3, 1)
	c.Released(2)
	c.MaintenanceRun("purge_stale_leases", errors.New("x"))
	c.PoolSize("active_leases", 7)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.fetchCalls.WithLabelValues("general", "leased")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.leasedTotal.WithLabelValues("general")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.raceLosses))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.releasedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.maintenanceRun.WithLabelValues("purge_stale_leases", "error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.snapshot.WithLabelValues("active_leases")))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.FetchCall("general", "empty", 0)
	c.Leased("general", 1, 0)
	c.Released(1)
	c.Recycled()
	c.MaintenanceRun("x", nil)
	c.PoolSize("x", 1)
}
