package reporting

import (
	"time"

	"crm-platform/internal/store"
)

// TimeRange is a half-open range of calendar days [From, To).
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// LeadStatsRequest selects the days covered by the per-agent call table.
// A zero range means today only.
type LeadStatsRequest struct {
	Range TimeRange `json:"range"`
}

type LeadStats struct {
	GeneratedAt time.Time `json:"generated_at"`
	Day         string    `json:"day"`

	store.Snapshot

	Range      TimeRange          `json:"range"`
	Agents     []store.AgentCalls `json:"agents"`
	TotalCalls int                `json:"total_calls"`
	// AgentsActive counts distinct agents with at least one call in range.
	AgentsActive         int     `json:"agents_active"`
	AverageCallsPerAgent float64 `json:"average_calls_per_agent"`
}
