package maintenance

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"crm-platform/internal/leads"
	"crm-platform/internal/metrics"
	"crm-platform/internal/quota"
	"crm-platform/internal/reporting"
	"crm-platform/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 10, 2, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func newScheduler(t *testing.T, rdb redis.Scripter) (*Scheduler, *store.Memory, *prometheus.Registry) {
	t.Helper()
	mem := store.NewMemory().WithClock(clock)
	stats := reporting.NewService(mem, quota.NewLedger(time.UTC)).WithClock(clock)
	reg := prometheus.NewRegistry()
	s := NewScheduler(mem, stats, metrics.NewCollector(reg), rdb, nil, Options{Interval: time.Hour, Now: clock})
	return s, mem, reg
}

func TestRunNow_ResetExpiredPins(t *testing.T) {
	s, mem, _ := newScheduler(t, nil)
	lapsed := now.Add(-time.Hour)
	live := now.Add(time.Hour)
	a := mem.AddLead(leads.Lead{FullName: "lapsed", ResponseCategoryID: leads.Int64(1), HeldBy: "E1", ReactivationDeadline: &lapsed})
	b := mem.AddLead(leads.Lead{FullName: "live", ResponseCategoryID: leads.Int64(1), HeldBy: "E1", ReactivationDeadline: &live})

	n, err := s.RunNow(context.Background(), JobResetExpiredPins)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := mem.Lead(a.ID)
	assert.Empty(t, got.HeldBy)
	assert.Nil(t, got.ReactivationDeadline)
	got, _ = mem.Lead(b.ID)
	assert.Equal(t, "E1", got.HeldBy)
}

func TestRunNow_PurgeStaleLeases(t *testing.T) {
	s, mem, _ := newScheduler(t, nil)
	ctx := context.Background()
	old := mem.AddLead(leads.Lead{FullName: "old"})
	recent := mem.AddLead(leads.Lead{FullName: "recent"})
	err := mem.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		at := now.Add(-40 * 24 * time.Hour)
		if _, _, err := tx.ClaimLease(ctx, old, leads.NewGrant(leads.TrackGeneral, "E1", at, time.Hour, time.Hour)); err != nil {
			return err
		}
		_, _, err := tx.ClaimLease(ctx, recent, leads.NewGrant(leads.TrackGeneral, "E1", now.Add(-2*time.Hour), time.Hour, time.Hour))
		return err
	})
	require.NoError(t, err)

	n, err := s.RunNow(ctx, JobPurgeStaleLeases)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := mem.LeaseFor(old.ID)
	assert.False(t, ok)
	_, ok = mem.LeaseFor(recent.ID)
	assert.True(t, ok)
}

func TestRunNow_DailyStatsSetsGauges(t *testing.T) {
	s, mem, reg := newScheduler(t, nil)
	mem.AddLead(leads.Lead{FullName: "a"})
	mem.AddLead(leads.Lead{FullName: "b"})

	_, err := s.RunNow(context.Background(), JobDailyStats)
	require.NoError(t, err)

	want := `
# HELP leads_pool_size Lead pool sizes from the last daily_stats run
# TYPE leads_pool_size gauge
leads_pool_size{bucket="lapsed_pins"} 0
leads_pool_size{bucket="leased"} 0
leads_pool_size{bucket="recycled_pinned"} 0
leads_pool_size{bucket="unassigned"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want), "leads_pool_size"))
}

func TestRunNow_UnknownJob(t *testing.T) {
	s, _, _ := newScheduler(t, nil)
	_, err := s.RunNow(context.Background(), "vacuum")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

// lockedScripter answers every script with 0, i.e. the lock is held elsewhere.
type lockedScripter struct {
	redis.Scripter
	calls atomic.Int32
}

func (l *lockedScripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	l.calls.Add(1)
	return redis.NewCmdResult(int64(0), nil)
}

func TestRunNow_SkipsWhenLockHeldElsewhere(t *testing.T) {
	rdb := &lockedScripter{}
	s, mem, _ := newScheduler(t, rdb)
	lapsed := now.Add(-time.Hour)
	l := mem.AddLead(leads.Lead{FullName: "lapsed", HeldBy: "E1", ReactivationDeadline: &lapsed})

	_, err := s.RunNow(context.Background(), JobResetExpiredPins)
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.EqualValues(t, 1, rdb.calls.Load())

	got, _ := mem.Lead(l.ID)
	assert.Equal(t, "E1", got.HeldBy, "job body did not run")
}

func TestStartStopIdempotent(t *testing.T) {
	s, mem, _ := newScheduler(t, nil)
	lapsed := now.Add(-time.Hour)
	l := mem.AddLead(leads.Lead{FullName: "lapsed", HeldBy: "E1", ReactivationDeadline: &lapsed})

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	require.Eventually(t, func() bool {
		got, _ := mem.Lead(l.ID)
		return got.HeldBy == ""
	}, time.Second, 10*time.Millisecond, "first tick runs immediately")

	st := s.Status()
	assert.True(t, st.Running)
	require.Len(t, st.Jobs, 3)

	s.Stop()
	s.Stop()
	assert.False(t, s.Status().Running)
}

func TestPausedTickSkipsJobs(t *testing.T) {
	s, _, _ := newScheduler(t, nil)
	s.Pause()
	s.tick(context.Background())
	for _, j := range s.Status().Jobs {
		assert.Zero(t, j.Runs, j.Name)
	}
	assert.True(t, s.Status().Paused)

	s.Resume()
	s.tick(context.Background())
	for _, j := range s.Status().Jobs {
		assert.Equal(t, 1, j.Runs, j.Name)
	}

	// not due again within the interval
	s.tick(context.Background())
	for _, j := range s.Status().Jobs {
		assert.Equal(t, 1, j.Runs, j.Name)
	}
}

type failingStore struct{}

func (failingStore) ResetLapsedPins(context.Context, time.Time) (int, error) {
	return 0, errors.New("db down")
}
func (failingStore) PurgeLeases(context.Context, time.Time) (int, error) { return 0, nil }

func TestFailureRecordedInStatus(t *testing.T) {
	s := NewScheduler(failingStore{}, nil, nil, nil, nil, Options{Now: clock})
	_, err := s.RunNow(context.Background(), JobResetExpiredPins)
	require.Error(t, err)

	for _, j := range s.Status().Jobs {
		if j.Name == JobResetExpiredPins {
			assert.Equal(t, "db down", j.LastErr)
			assert.Equal(t, 1, j.Runs)
		}
	}
}
