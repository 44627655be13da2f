package leads

import "time"

// Lead is a unit of work handed out to agents. Only the fields the
// assignment engine reads or writes are modelled here.
type Lead struct {
	ID         int64     `json:"id"`
	FullName   string    `json:"full_name"`
	Email      string    `json:"email,omitempty"`
	Mobile     string    `json:"mobile,omitempty"`
	City       string    `json:"city,omitempty"`
	Occupation string    `json:"occupation,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	BranchID           *int64 `json:"branch_id,omitempty"`
	SourceID           *int64 `json:"lead_source_id,omitempty"`
	ResponseCategoryID *int64 `json:"lead_response_id,omitempty"`

	IsRecycled  bool `json:"is_recycled"`
	IsConverted bool `json:"is_converted"`
	IsDeleted   bool `json:"-"`

	// HeldBy and LeaseExpiresAt mirror the active lease for cheap filtering.
	HeldBy               string     `json:"held_by,omitempty"`
	LeaseExpiresAt       *time.Time `json:"-"`
	ReactivationDeadline *time.Time `json:"reactivation_deadline,omitempty"`
	ResponseChangedAt    *time.Time `json:"response_changed_at,omitempty"`
}

// Lease is one agent's time-bounded hold on one lead. ExpiresAt is fixed when
// the lease is written (leased_at + ttl of the leasing agent's config), so
// every reader agrees on expiry without re-resolving config.
type Lease struct {
	ID        string    `json:"lease_id"`
	LeadID    int64     `json:"lead_id"`
	AgentID   string    `json:"agent_id"`
	LeasedAt  time.Time `json:"leased_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Agent is the identity the engine allocates for.
type Agent struct {
	ID       string
	Name     string
	RoleID   string
	BranchID *int64
}

// Label renders the agent for story log lines.
func (a Agent) Label() string {
	if a.Name == "" || a.Name == a.ID {
		return a.ID
	}
	return a.Name + " (" + a.ID + ")"
}

// Track selects which candidate pool an allocation scans.
type Track string

const (
	TrackGeneral  Track = "general"
	TrackRecycled Track = "recycled"
)

// CandidateFilter describes one allocation scan.
type CandidateFilter struct {
	Track Track
	// BranchID nil means unscoped (all branches).
	BranchID *int64
	Now      time.Time
	Limit    int
}

// Grant is what a lease claim writes onto the lead row alongside the lease.
type Grant struct {
	AgentID   string
	LeasedAt  time.Time
	ExpiresAt time.Time
	// ReactivationDeadline is set for recycled-track grants and cleared otherwise.
	ReactivationDeadline *time.Time
}

// ResponseChange is the input of the recycled-track transition.
type ResponseChange struct {
	LeadID             int64
	ResponseCategoryID int64
}

func Int64(v int64) *int64 { return &v }
