// Package leasing selects eligible leads and writes leases for them.
package leasing

import (
	"context"
	"fmt"
	"time"

	"crm-platform/internal/fetchconfig"
	"crm-platform/internal/leads"
	"crm-platform/pkg/logger"
)

// Tx is the slice of the allocation transaction the allocator needs.
type Tx interface {
	// LockCandidates returns up to f.Limit eligible leads in creation order,
	// row-locked for the rest of the transaction. Rows locked by another
	// transaction are skipped, never waited on.
	LockCandidates(ctx context.Context, f leads.CandidateFilter) ([]leads.Lead, error)

	// ClaimLease drops a stale lease row for lead (if any), inserts a lease
	// for g.AgentID and mirrors g onto the lead. ok is false when another
	// unexpired lease exists for the lead; nothing is written in that case.
	ClaimLease(ctx context.Context, lead leads.Lead, g leads.Grant) (lease leads.Lease, ok bool, err error)
}

// Reason explains an empty allocation.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonNoCapacity    Reason = "no_capacity"
	ReasonNoneAvailable Reason = "none_available"
)

// Request is one allocation on behalf of one agent.
type Request struct {
	Agent       leads.Agent
	Track       leads.Track
	Config      fetchconfig.QuotaConfig
	Outstanding int
	Now         time.Time
}

// Item is a lead as it stands after being leased.
type Item struct {
	Lead  leads.Lead
	Lease leads.Lease
}

type Result struct {
	Items []Item
	// Wanted is min(per_request_limit, remaining capacity).
	Wanted int
	// Lost counts candidates another transaction leased first.
	Lost   int
	Reason Reason
}

type Allocator struct{}

func NewAllocator() *Allocator { return &Allocator{} }

// Allocate leases up to min(per_request_limit, remaining capacity) leads.
// Fewer than that is success. Losing a race for an item drops the item.
func (a *Allocator) Allocate(ctx context.Context, tx Tx, req Request) (Result, error) {
	remaining := req.Config.OutstandingLimit - req.Outstanding
	if remaining <= 0 {
		return Result{Reason: ReasonNoCapacity}, nil
	}
	n := min(req.Config.PerRequestLimit, remaining)
	res := Result{Wanted: n}

	track := req.Track
	if track == "" {
		track = leads.TrackGeneral
	}
	candidates, err := tx.LockCandidates(ctx, leads.CandidateFilter{
		Track:    track,
		BranchID: req.Agent.BranchID,
		Now:      req.Now,
		Limit:    n,
	})
	if err != nil {
		return Result{}, fmt.Errorf("lock candidates: %w", err)
	}

	for _, c := range candidates {
		if len(res.Items) == n {
			break
		}
		g := leads.NewGrant(track, req.Agent.ID, req.Now, req.Config.TTL(), req.Config.ReactivationWindow())
		lease, ok, err := tx.ClaimLease(ctx, c, g)
		if err != nil {
			return Result{}, fmt.Errorf("claim lead %d: %w", c.ID, err)
		}
		if !ok {
			res.Lost++
			logger.From(ctx).Debug("lead lost to concurrent lease", "lead_id", c.ID, "agent_id", req.Agent.ID)
			continue
		}
		res.Items = append(res.Items, Item{Lead: c.Apply(g), Lease: lease})
	}

	if len(res.Items) == 0 {
		res.Reason = ReasonNoneAvailable
	}
	return res, nil
}
