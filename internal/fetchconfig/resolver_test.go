package fetchconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaults = QuotaConfig{PerRequestLimit: 100, DailyCallLimit: 50, OutstandingLimit: 10, TTLHours: 24, ReactivationWindowDays: 30}

func i64(v int64) *int64 { return &v }

func cfg(n int) QuotaConfig {
	return QuotaConfig{PerRequestLimit: n, DailyCallLimit: n, OutstandingLimit: n, TTLHours: n, ReactivationWindowDays: n}
}

func TestResolve_FirstTierWinsWithoutMerge(t *testing.T) {
	repo := NewMemoryRepo(
		Row{Key: Key{RoleID: "BA", BranchID: i64(7)}, QuotaConfig: cfg(1)},
		Row{Key: Key{RoleID: "BA"}, QuotaConfig: QuotaConfig{PerRequestLimit: 2, DailyCallLimit: 99, OutstandingLimit: 99, TTLHours: 99, ReactivationWindowDays: 99}},
		Row{Key: Key{BranchID: i64(7)}, QuotaConfig: cfg(3)},
	)
	r := NewResolver(repo, defaults)

	got, err := r.Resolve(context.Background(), "BA", i64(7))
	require.NoError(t, err)
	assert.Equal(t, SourceRoleBranch, got.Source)
	assert.Equal(t, cfg(1), got.QuotaConfig)
}

func TestResolve_Tiers(t *testing.T) {
	repo := NewMemoryRepo(
		Row{Key: Key{RoleID: "BA"}, QuotaConfig: cfg(2)},
		Row{Key: Key{BranchID: i64(7)}, QuotaConfig: cfg(3)},
	)
	r := NewResolver(repo, defaults)
	ctx := context.Background()

	cases := []struct {
		name   string
		role   string
		branch *int64
		want   QuotaConfig
		source Source
	}{
		{"role global beats branch global", "BA", i64(7), cfg(2), SourceRoleGlobal},
		{"branch global for other role", "TL", i64(7), cfg(3), SourceBranchGlobal},
		{"default when nothing matches", "TL", i64(8), defaults, SourceDefault},
		{"branchless agent uses role row", "BA", nil, cfg(2), SourceRoleGlobal},
		{"no role no branch", "", nil, defaults, SourceDefault},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tc.role, tc.branch)
			require.NoError(t, err)
			assert.Equal(t, tc.source, got.Source)
			assert.Equal(t, tc.want, got.QuotaConfig)
		})
	}
}

func TestResolve_EmptyTableFallsBackToDefault(t *testing.T) {
	got, err := NewResolver(NewMemoryRepo(), defaults).Resolve(context.Background(), "BA", i64(1))
	require.NoError(t, err)
	assert.Equal(t, Resolved{QuotaConfig: defaults, Source: SourceDefault}, got)
}

type failingLookup struct{}

func (failingLookup) Lookup(context.Context, Key) (Row, bool, error) {
	return Row{}, false, errors.New("connection reset")
}

func TestResolve_StorageFailureIsAnError(t *testing.T) {
	_, err := NewResolver(failingLookup{}, defaults).Resolve(context.Background(), "BA", nil)
	require.Error(t, err)
}
