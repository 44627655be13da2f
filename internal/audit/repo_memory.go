package audit

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory append-only repository for tests and leadctl dry runs.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	// Err, when set, is returned by Append instead of storing the event.
	Err error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ForLead returns the story of one lead in append order.
func (r *MemoryRepo) ForLead(leadID int64) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.LeadID == leadID {
			out = append(out, e)
		}
	}
	return out
}
