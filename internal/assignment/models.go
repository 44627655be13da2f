package assignment

import (
	"time"

	"crm-platform/internal/fetchconfig"
	"crm-platform/internal/leads"
	"crm-platform/internal/quota"
	"crm-platform/internal/store"
)

// LeadView is the subset of a lead returned to agents.
type LeadView struct {
	ID                 int64     `json:"id"`
	FullName           string    `json:"full_name"`
	Email              string    `json:"email,omitempty"`
	Mobile             string    `json:"mobile,omitempty"`
	City               string    `json:"city,omitempty"`
	Occupation         string    `json:"occupation,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	BranchID           *int64    `json:"branch_id,omitempty"`
	SourceID           *int64    `json:"lead_source_id,omitempty"`
	ResponseCategoryID *int64    `json:"lead_response_id,omitempty"`

	LeaseID   string     `json:"lease_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Recycled track only.
	ReactivationDeadline *time.Time `json:"reactivation_deadline,omitempty"`
	DaysRemaining        *int       `json:"days_remaining,omitempty"`
}

func viewOf(l leads.Lead) LeadView {
	return LeadView{
		ID:                 l.ID,
		FullName:           l.FullName,
		Email:              l.Email,
		Mobile:             l.Mobile,
		City:               l.City,
		Occupation:         l.Occupation,
		CreatedAt:          l.CreatedAt,
		BranchID:           l.BranchID,
		SourceID:           l.SourceID,
		ResponseCategoryID: l.ResponseCategoryID,
	}
}

func leasedView(l leads.Lead, lease leads.Lease, track leads.Track, now time.Time) LeadView {
	v := viewOf(l)
	exp := lease.ExpiresAt
	v.LeaseID = lease.ID
	v.ExpiresAt = &exp
	if track == leads.TrackRecycled {
		days := leads.DaysRemaining(l, now)
		v.ReactivationDeadline = l.ReactivationDeadline
		v.DaysRemaining = &days
	}
	return v
}

// FetchResult is returned for every fetch, including blocked and empty ones.
type FetchResult struct {
	Leads               []LeadView           `json:"leads"`
	Message             string               `json:"message"`
	FetchedCount        int                  `json:"fetched_count"`
	CurrentOutstanding  int                  `json:"current_outstanding"`
	DailyCallsUsed      int                  `json:"daily_calls_used"`
	DailyCallsRemaining int                  `json:"daily_calls_remaining"`
	BlockedReason       quota.BlockReason    `json:"blocked_reason,omitempty"`
	Limits              fetchconfig.Resolved `json:"limits"`
}

// Blocked reports whether a quota check refused the call.
func (r FetchResult) Blocked() bool { return r.BlockedReason != quota.NotBlocked }

// HoldingView is one active lease in ListMine.
type HoldingView struct {
	LeaseID        string    `json:"lease_id"`
	LeadID         int64     `json:"lead_id"`
	Lead           LeadView  `json:"lead"`
	LeasedAt       time.Time `json:"leased_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	HoursRemaining float64   `json:"hours_remaining"`
	Remaining      string    `json:"remaining"`
}

type MineResult struct {
	Leases           []HoldingView      `json:"leases"`
	Total            int                `json:"total"`
	OutstandingLimit int                `json:"outstanding_limit"`
	TTLHours         int                `json:"ttl_hours"`
	CanFetchNew      bool               `json:"can_fetch_new"`
	Source           fetchconfig.Source `json:"source"`
}

// PinnedView is a recycled lead held for the agent by its reactivation pin.
// ExpiresAt is set only while the agent's lease on it is still active.
type PinnedView struct {
	LeadView
	ResponseChangedAt *time.Time `json:"response_changed_at,omitempty"`
}

type PinnedResult struct {
	Leads []PinnedView `json:"leads"`
	Count int          `json:"count"`
}

// RecycleResult describes a completed response change.
type RecycleResult struct {
	Lead                 LeadView  `json:"lead"`
	LeaseID              string    `json:"lease_id"`
	ReactivationDeadline time.Time `json:"reactivation_deadline"`
	DaysRemaining        int       `json:"days_remaining"`
}

// RecycledStats is store.RecycledStats as returned to agents.
type RecycledStats = store.RecycledStats
