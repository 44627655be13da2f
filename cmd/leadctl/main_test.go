package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigFile(t *testing.T) {
	rows, err := parseConfigFile(strings.NewReader(`
configs:
  - role_id: BA
    branch_id: 7
    per_request_limit: 20
    daily_call_limit: 5
    outstanding_limit: 40
    ttl_hours: 24
    reactivation_window_days: 7
  - role_id: TL
    per_request_limit: 10
    daily_call_limit: 3
    outstanding_limit: 20
    ttl_hours: 48
    reactivation_window_days: 14
`))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "BA|7", rows[0].CacheKey())
	assert.Equal(t, 20, rows[0].PerRequestLimit)
	assert.Equal(t, 7, rows[0].ReactivationWindowDays)
	assert.Equal(t, "TL|*", rows[1].CacheKey())
	assert.Nil(t, rows[1].BranchID)
	assert.Equal(t, 48, rows[1].TTLHours)
}

func TestParseConfigFile_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"no configs":    "configs: []\n",
		"unknown field": "configs:\n  - role_id: BA\n    ttl: 3\n",
		"duplicate key": "configs:\n  - role_id: BA\n  - role_id: BA\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseConfigFile(strings.NewReader(body))
			assert.Error(t, err)
		})
	}
}

func TestStatsRequest(t *testing.T) {
	req, err := statsRequest("", "")
	require.NoError(t, err)
	assert.True(t, req.Range.From.IsZero())

	req, err = statsRequest("2026-03-01", "2026-03-07")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), req.Range.From)
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), req.Range.To)

	_, err = statsRequest("2026-03-01", "")
	assert.Error(t, err)
}

func TestMigrateDryRunListsEmbeddedFiles(t *testing.T) {
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"migrate", "--dry-run"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "0001_lead_engine.sql")
}
