package audit

import "time"

// Event is an immutable story-log entry. Lead events render in the lead's
// timeline; admin events have no lead.
//
// Events are never updated or deleted. Writers treat logging as best-effort:
// a failed append must not fail the operation it describes.
type Event struct {
	ID     string    `json:"id" db:"id"`
	LeadID int64     `json:"lead_id,omitempty" db:"lead_id"`
	Type   EventType `json:"type" db:"type"`

	ActorID   string `json:"actor_id" db:"actor_id"`
	ActorRole string `json:"actor_role,omitempty" db:"actor_role"`

	// Message is the human-readable line shown in the lead story.
	Message  string `json:"message" db:"message"`
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventLeadFetched  EventType = "lead_fetched"
	EventLeadReleased EventType = "lead_released"
	EventLeadRecycled EventType = "lead_recycled"
	EventAdminAction  EventType = "admin_action"
)

func (t EventType) needsLead() bool {
	return t == EventLeadFetched || t == EventLeadReleased || t == EventLeadRecycled
}
