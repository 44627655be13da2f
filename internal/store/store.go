// Package store persists leads, leases and daily call counters.
//
// Postgres is the production implementation; Memory mirrors its semantics in
// process for tests.
package store

import (
	"context"
	"errors"
	"time"

	"crm-platform/internal/leads"
	"crm-platform/internal/leasing"
	"crm-platform/internal/quota"
)

var (
	// ErrLeadNotFound: the lead does not exist.
	ErrLeadNotFound = errors.New("lead not found")
	// ErrBusy: a row needed by the operation is locked by another transaction.
	ErrBusy = errors.New("lead is being modified by another request")
	// ErrConflict: a uniqueness constraint rejected the write.
	ErrConflict = errors.New("conflicting write")
	// ErrRetryable: the transaction was aborted by the database and may be retried.
	ErrRetryable = errors.New("transaction aborted, retry")
)

// Holding is an active lease together with its lead.
type Holding struct {
	Lease leads.Lease
	Lead  leads.Lead
}

// RecycledStats summarizes the recycled pool as seen by one agent.
type RecycledStats struct {
	Available        int `json:"total_available"`
	PinnedToMe       int `json:"my_assigned"`
	DeadlineWithin3d int `json:"deadline_approaching"`
}

// Tx is everything the assignment engine does inside one transaction.
type Tx interface {
	quota.Tx
	leasing.Tx

	// ListActiveLeases returns the agent's unexpired leases, newest first.
	ListActiveLeases(ctx context.Context, agentID string, now time.Time) ([]Holding, error)

	// LockOwnedLeases returns those of ids that are unexpired and held by
	// agentID, locked for the rest of the transaction.
	LockOwnedLeases(ctx context.Context, agentID string, ids []string, now time.Time) ([]leads.Lease, error)

	// DeleteLeases removes leases and clears their lead mirrors. A recycled
	// pin on the lead is left alone.
	DeleteLeases(ctx context.Context, leases []leads.Lease, now time.Time) error

	// LockLead locks one lead row without waiting; ErrBusy if it is held.
	LockLead(ctx context.Context, leadID int64) (leads.Lead, error)

	// SupersedeLease replaces whatever lease the lead has with a lease per g
	// and writes the lead's lifecycle fields from lead.
	SupersedeLease(ctx context.Context, lead leads.Lead, g leads.Grant) (leads.Lease, error)

	// ListPinned returns the live leads whose reactivation pin holds them for
	// agentID at now, earliest deadline first. The pin outlives the lease.
	ListPinned(ctx context.Context, agentID string, now time.Time) ([]leads.Lead, error)

	RecycledStats(ctx context.Context, agentID string, branchID *int64, now time.Time) (RecycledStats, error)
}

// Store runs units of work. fn's error rolls the transaction back.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Snapshot is the engine-wide picture used by reports and maintenance.
type Snapshot struct {
	UnassignedEligible int `json:"unassigned_eligible"`
	ActiveLeases       int `json:"active_leases"`
	RecycledPinned     int `json:"recycled_pinned"`
	LapsedPins         int `json:"lapsed_pins"`
	FetchCallsToday    int `json:"fetch_calls_today"`
}

// AgentCalls is one agent's fetch-call count on one day.
type AgentCalls struct {
	AgentID   string    `json:"agent_id"`
	Day       time.Time `json:"day"`
	CallCount int       `json:"call_count"`
}
