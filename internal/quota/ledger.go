// Package quota enforces the per-agent outstanding-lease and daily-call limits.
package quota

import (
	"context"
	"fmt"
	"time"

	"crm-platform/internal/fetchconfig"
)

// BlockReason explains why a fetch was refused. Blocking is an expected
// outcome, reported as data.
type BlockReason string

const (
	NotBlocked         BlockReason = ""
	BlockedOutstanding BlockReason = "outstanding_limit"
	BlockedDaily       BlockReason = "daily_limit"
)

// Tx is the slice of the allocation transaction the ledger needs.
type Tx interface {
	// LockAgentDay creates the agent's counter row for day if missing, locks
	// it until the transaction ends and returns its call count. Concurrent
	// fetches by the same agent serialize here.
	LockAgentDay(ctx context.Context, agentID string, day time.Time) (int, error)
	CountActiveLeases(ctx context.Context, agentID string, now time.Time) (int, error)
	IncrementDailyCalls(ctx context.Context, agentID string, day time.Time) (int, error)
}

// Usage is the ledger's view of one agent at one instant.
type Usage struct {
	Outstanding      int         `json:"current_outstanding"`
	OutstandingLimit int         `json:"outstanding_limit"`
	DailyUsed        int         `json:"daily_calls_used"`
	DailyLimit       int         `json:"daily_call_limit"`
	Blocked          BlockReason `json:"blocked_reason,omitempty"`
}

// Capacity is how many more leases the agent may hold.
func (u Usage) Capacity() int {
	if n := u.OutstandingLimit - u.Outstanding; n > 0 {
		return n
	}
	return 0
}

func (u Usage) DailyRemaining() int {
	if n := u.DailyLimit - u.DailyUsed; n > 0 {
		return n
	}
	return 0
}

// Ledger evaluates and records quota usage. Calendar days are cut in loc.
type Ledger struct {
	loc *time.Location
}

func NewLedger(loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{loc: loc}
}

// Day returns the calendar date of now in the ledger's zone, as midnight UTC.
func (l *Ledger) Day(now time.Time) time.Time {
	y, m, d := now.In(l.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Check runs the outstanding check, then the daily check. Both counts are
// always filled in. Must run inside the transaction that will allocate.
func (l *Ledger) Check(ctx context.Context, tx Tx, agentID string, cfg fetchconfig.QuotaConfig, now time.Time) (Usage, error) {
	u := Usage{OutstandingLimit: cfg.OutstandingLimit, DailyLimit: cfg.DailyCallLimit}

	used, err := tx.LockAgentDay(ctx, agentID, l.Day(now))
	if err != nil {
		return Usage{}, fmt.Errorf("lock daily counter: %w", err)
	}
	u.DailyUsed = used

	active, err := tx.CountActiveLeases(ctx, agentID, now)
	if err != nil {
		return Usage{}, fmt.Errorf("count active leases: %w", err)
	}
	u.Outstanding = active

	switch {
	case u.Outstanding >= u.OutstandingLimit:
		u.Blocked = BlockedOutstanding
	case u.DailyUsed >= u.DailyLimit:
		u.Blocked = BlockedDaily
	}
	return u, nil
}

// Record counts one authorized fetch call against today's counter. It must be
// called in the same transaction as the lease writes, whatever the number of
// leases created.
func (l *Ledger) Record(ctx context.Context, tx Tx, agentID string, now time.Time, u Usage) (Usage, error) {
	n, err := tx.IncrementDailyCalls(ctx, agentID, l.Day(now))
	if err != nil {
		return Usage{}, fmt.Errorf("increment daily counter: %w", err)
	}
	u.DailyUsed = n
	return u, nil
}
