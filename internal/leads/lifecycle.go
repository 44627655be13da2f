package leads

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNotEligible is returned when a transition targets a converted or deleted lead.
var ErrNotEligible = errors.New("lead is converted or deleted")

// State is derived, never stored: it is a pure function of the lead row, its
// lease row (if any) and the current time.
type State string

const (
	StateUnassigned State = "UNASSIGNED"
	StateLeased     State = "LEASED"
	StateRecycled   State = "RECYCLED"
	StateConverted  State = "CONVERTED"
	StateDeleted    State = "DELETED"
)

// Terminal reports whether the lead can never be allocated again.
func (l Lead) Terminal() bool { return l.IsDeleted || l.IsConverted }

// LeaseActive reports whether lease still holds its lead at now.
// An expired lease row is logically free even though it still exists.
func LeaseActive(lease *Lease, now time.Time) bool {
	return lease != nil && now.Before(lease.ExpiresAt)
}

// PinActive reports whether the recycled-track pin still holds the lead.
// The deadline itself is inclusive; the pin lapses once now is after it.
func PinActive(l Lead, now time.Time) bool {
	return l.ReactivationDeadline != nil && !now.After(*l.ReactivationDeadline)
}

// StateOf evaluates the lifecycle state of l at now.
func StateOf(l Lead, lease *Lease, now time.Time) State {
	switch {
	case l.IsDeleted:
		return StateDeleted
	case l.IsConverted:
		return StateConverted
	case PinActive(l, now):
		return StateRecycled
	case LeaseActive(lease, now):
		return StateLeased
	default:
		return StateUnassigned
	}
}

// Eligible reports whether an allocation scan described by f may lease l.
// Stores that filter in SQL must agree with this predicate.
func Eligible(l Lead, lease *Lease, f CandidateFilter) bool {
	if StateOf(l, lease, f.Now) != StateUnassigned {
		return false
	}
	if f.BranchID != nil && (l.BranchID == nil || *l.BranchID != *f.BranchID) {
		return false
	}
	if f.Track == TrackRecycled && l.ResponseCategoryID == nil {
		return false
	}
	return true
}

// NewGrant builds the lease grant for an allocation on track. Recycled-track
// grants re-arm the reactivation pin for the new holder; general grants clear
// any lapsed pin.
func NewGrant(track Track, agentID string, now time.Time, ttl, reactivationWindow time.Duration) Grant {
	g := Grant{
		AgentID:   agentID,
		LeasedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if track == TrackRecycled {
		deadline := now.Add(reactivationWindow)
		g.ReactivationDeadline = &deadline
	}
	return g
}

// Apply mirrors g onto the lead row.
func (l Lead) Apply(g Grant) Lead {
	exp := g.ExpiresAt
	l.HeldBy = g.AgentID
	l.LeaseExpiresAt = &exp
	l.ReactivationDeadline = g.ReactivationDeadline
	return l
}

// Recycle moves l onto the recycled track for agentID: the response category
// is recorded, the lead is pinned to the agent until now+reactivationWindow,
// and the returned grant supersedes whatever lease existed before.
func Recycle(l Lead, agentID string, categoryID int64, now time.Time, ttl, reactivationWindow time.Duration) (Lead, Grant, error) {
	if l.Terminal() {
		return l, Grant{}, ErrNotEligible
	}
	changed := now
	g := NewGrant(TrackRecycled, agentID, now, ttl, reactivationWindow)

	l.ResponseCategoryID = Int64(categoryID)
	l.IsRecycled = true
	l.ResponseChangedAt = &changed
	return l.Apply(g), g, nil
}

// DaysRemaining is the number of whole days left on the reactivation pin,
// floored at zero.
func DaysRemaining(l Lead, now time.Time) int {
	if l.ReactivationDeadline == nil {
		return 0
	}
	d := l.ReactivationDeadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// HoursRemaining is the lease time left at now, rounded to one decimal.
func HoursRemaining(lease Lease, now time.Time) float64 {
	d := lease.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return math.Round(d.Hours()*10) / 10
}

// Humanize renders a remaining duration as "5h 12m" / "12m" / "expired".
func Humanize(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
