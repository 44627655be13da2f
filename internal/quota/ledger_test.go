package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-platform/internal/fetchconfig"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTx struct {
	daily     map[time.Time]int
	active    int
	lockErr   error
	lockedFor []time.Time
}

func (s *stubTx) LockAgentDay(_ context.Context, _ string, day time.Time) (int, error) {
	if s.lockErr != nil {
		return 0, s.lockErr
	}
	s.lockedFor = append(s.lockedFor, day)
	return s.daily[day], nil
}

func (s *stubTx) CountActiveLeases(context.Context, string, time.Time) (int, error) {
	return s.active, nil
}

func (s *stubTx) IncrementDailyCalls(_ context.Context, _ string, day time.Time) (int, error) {
	s.daily[day]++
	return s.daily[day], nil
}

var limits = fetchconfig.QuotaConfig{PerRequestLimit: 5, DailyCallLimit: 2, OutstandingLimit: 3, TTLHours: 1, ReactivationWindowDays: 30}

func TestCheck_PassesUnderBothLimits(t *testing.T) {
	l := NewLedger(time.UTC)
	tx := &stubTx{daily: map[time.Time]int{}, active: 1}
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	u, err := l.Check(context.Background(), tx, "E1", limits, now)
	require.NoError(t, err)
	assert.Equal(t, NotBlocked, u.Blocked)
	assert.Equal(t, 2, u.Capacity())
	assert.Equal(t, 2, u.DailyRemaining())
}

func TestCheck_OutstandingReportedWhenBlocked(t *testing.T) {
	l := NewLedger(time.UTC)
	tx := &stubTx{daily: map[time.Time]int{}, active: 3}

	u, err := l.Check(context.Background(), tx, "E1", limits, time.Now())
	require.NoError(t, err)
	assert.Equal(t, BlockedOutstanding, u.Blocked)
	assert.Equal(t, 3, u.Outstanding)
	assert.Equal(t, 0, u.Capacity())
}

func TestCheck_DailyLimit(t *testing.T) {
	l := NewLedger(time.UTC)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	tx := &stubTx{daily: map[time.Time]int{l.Day(now): 2}}

	u, err := l.Check(context.Background(), tx, "E1", limits, now)
	require.NoError(t, err)
	assert.Equal(t, BlockedDaily, u.Blocked)
	assert.Equal(t, 0, u.DailyRemaining())
}

func TestRecord_IncrementsOncePerCall(t *testing.T) {
	l := NewLedger(time.UTC)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	tx := &stubTx{daily: map[time.Time]int{}}
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		u, err := l.Check(ctx, tx, "E1", fetchconfig.QuotaConfig{DailyCallLimit: 10, OutstandingLimit: 10}, now)
		require.NoError(t, err)
		u, err = l.Record(ctx, tx, "E1", now, u)
		require.NoError(t, err)
		assert.Equal(t, i, u.DailyUsed)
	}
}

func TestDay_UsesLedgerZone(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	l := NewLedger(ist)

	// 20:00 UTC on Apr 1 is already Apr 2 in IST.
	got := l.Day(time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC), got)
}

func TestCheck_PropagatesStorageErrors(t *testing.T) {
	l := NewLedger(nil)
	tx := &stubTx{lockErr: errors.New("boom")}
	_, err := l.Check(context.Background(), tx, "E1", limits, time.Now())
	require.Error(t, err)
}
