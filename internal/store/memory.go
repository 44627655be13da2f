package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"crm-platform/internal/leads"

	"github.com/google/uuid"
)

// Memory is an in-process Store. One transaction runs at a time and a
// failed transaction restores the state it started from, so callers observe
// the same atomicity as with Postgres.
type Memory struct {
	mu    sync.Mutex
	state memState
	now   func() time.Time
}

type dayKey struct {
	agentID string
	day     time.Time
}

type memState struct {
	nextLeadID int64
	leads      map[int64]leads.Lead
	leases     map[int64]leads.Lease // by lead id; mirrors UNIQUE (lead_id)
	daily      map[dayKey]int
}

func (s memState) clone() memState {
	out := memState{
		nextLeadID: s.nextLeadID,
		leads:      make(map[int64]leads.Lead, len(s.leads)),
		leases:     make(map[int64]leads.Lease, len(s.leases)),
		daily:      make(map[dayKey]int, len(s.daily)),
	}
	for k, v := range s.leads {
		out.leads[k] = v
	}
	for k, v := range s.leases {
		out.leases[k] = v
	}
	for k, v := range s.daily {
		out.daily[k] = v
	}
	return out
}

func NewMemory() *Memory {
	return &Memory{
		state: memState{
			leads:  map[int64]leads.Lead{},
			leases: map[int64]leads.Lease{},
			daily:  map[dayKey]int{},
		},
		now: time.Now,
	}
}

// WithClock sets the clock used to stamp CreatedAt on added leads.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// AddLead inserts a lead, assigning an id when l.ID is zero and a creation
// time when CreatedAt is zero.
func (m *Memory) AddLead(l leads.Lead) leads.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == 0 {
		m.state.nextLeadID++
		l.ID = m.state.nextLeadID
	} else if l.ID > m.state.nextLeadID {
		m.state.nextLeadID = l.ID
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = m.now()
	}
	m.state.leads[l.ID] = l
	return l
}

// UpdateLead overwrites a stored lead (e.g. to mark it converted).
func (m *Memory) UpdateLead(l leads.Lead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.leads[l.ID] = l
}

func (m *Memory) Lead(id int64) (leads.Lead, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.state.leads[id]
	return l, ok
}

// LeaseFor returns the lease row stored for a lead, active or not.
func (m *Memory) LeaseFor(leadID int64) (leads.Lease, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.state.leases[leadID]
	return l, ok
}

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.state.clone()
	defer func() {
		if p := recover(); p != nil {
			m.state = snap
			panic(p)
		}
		if err != nil {
			m.state = snap
		}
	}()
	return fn(ctx, &memTx{s: &m.state})
}

type memTx struct {
	s *memState
}

func (t *memTx) LockAgentDay(_ context.Context, agentID string, day time.Time) (int, error) {
	k := dayKey{agentID, day}
	if _, ok := t.s.daily[k]; !ok {
		t.s.daily[k] = 0
	}
	return t.s.daily[k], nil
}

func (t *memTx) CountActiveLeases(_ context.Context, agentID string, now time.Time) (int, error) {
	n := 0
	for _, l := range t.s.leases {
		if l.AgentID == agentID && leads.LeaseActive(&l, now) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) IncrementDailyCalls(_ context.Context, agentID string, day time.Time) (int, error) {
	k := dayKey{agentID, day}
	t.s.daily[k]++
	return t.s.daily[k], nil
}

func (t *memTx) lease(leadID int64) *leads.Lease {
	if l, ok := t.s.leases[leadID]; ok {
		return &l
	}
	return nil
}

func (t *memTx) LockCandidates(_ context.Context, f leads.CandidateFilter) ([]leads.Lead, error) {
	var out []leads.Lead
	for _, l := range t.s.leads {
		if leads.Eligible(l, t.lease(l.ID), f) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *memTx) ClaimLease(_ context.Context, lead leads.Lead, g leads.Grant) (leads.Lease, bool, error) {
	if existing := t.lease(lead.ID); existing != nil {
		if leads.LeaseActive(existing, g.LeasedAt) {
			return leads.Lease{}, false, nil
		}
		delete(t.s.leases, lead.ID)
	}
	lease := leads.Lease{ID: uuid.NewString(), LeadID: lead.ID, AgentID: g.AgentID, LeasedAt: g.LeasedAt, ExpiresAt: g.ExpiresAt}
	t.s.leases[lead.ID] = lease
	if stored, ok := t.s.leads[lead.ID]; ok {
		t.s.leads[lead.ID] = stored.Apply(g)
	}
	return lease, true, nil
}

func (t *memTx) ListActiveLeases(_ context.Context, agentID string, now time.Time) ([]Holding, error) {
	var out []Holding
	for _, l := range t.s.leases {
		if l.AgentID == agentID && leads.LeaseActive(&l, now) {
			out = append(out, Holding{Lease: l, Lead: t.s.leads[l.LeadID]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Lease.LeasedAt.Equal(out[j].Lease.LeasedAt) {
			return out[i].Lease.LeasedAt.After(out[j].Lease.LeasedAt)
		}
		return out[i].Lease.LeadID < out[j].Lease.LeadID
	})
	return out, nil
}

func (t *memTx) LockOwnedLeases(_ context.Context, agentID string, ids []string, now time.Time) ([]leads.Lease, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []leads.Lease
	for _, l := range t.s.leases {
		if want[l.ID] && l.AgentID == agentID && leads.LeaseActive(&l, now) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *memTx) DeleteLeases(_ context.Context, leases []leads.Lease, now time.Time) error {
	for _, l := range leases {
		if cur, ok := t.s.leases[l.LeadID]; ok && cur.ID == l.ID {
			delete(t.s.leases, l.LeadID)
		}
		lead, ok := t.s.leads[l.LeadID]
		if !ok || lead.HeldBy != l.AgentID {
			continue
		}
		if !leads.PinActive(lead, now) {
			lead.HeldBy = ""
		}
		lead.LeaseExpiresAt = nil
		t.s.leads[l.LeadID] = lead
	}
	return nil
}

func (t *memTx) LockLead(_ context.Context, leadID int64) (leads.Lead, error) {
	l, ok := t.s.leads[leadID]
	if !ok {
		return leads.Lead{}, ErrLeadNotFound
	}
	return l, nil
}

func (t *memTx) SupersedeLease(_ context.Context, lead leads.Lead, g leads.Grant) (leads.Lease, error) {
	lease := leads.Lease{ID: uuid.NewString(), LeadID: lead.ID, AgentID: g.AgentID, LeasedAt: g.LeasedAt, ExpiresAt: g.ExpiresAt}
	t.s.leases[lead.ID] = lease
	t.s.leads[lead.ID] = lead.Apply(g)
	return lease, nil
}

func (t *memTx) ListPinned(_ context.Context, agentID string, now time.Time) ([]leads.Lead, error) {
	var out []leads.Lead
	for _, l := range t.s.leads {
		if !l.Terminal() && l.HeldBy == agentID && leads.PinActive(l, now) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReactivationDeadline.Equal(*out[j].ReactivationDeadline) {
			return out[i].ReactivationDeadline.Before(*out[j].ReactivationDeadline)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) RecycledStats(_ context.Context, agentID string, branchID *int64, now time.Time) (RecycledStats, error) {
	var s RecycledStats
	soon := now.Add(72 * time.Hour)
	for _, l := range t.s.leads {
		if l.Terminal() || l.ResponseCategoryID == nil {
			continue
		}
		if branchID != nil && (l.BranchID == nil || *l.BranchID != *branchID) {
			continue
		}
		pinned := leads.PinActive(l, now)
		if !pinned && !leads.LeaseActive(t.lease(l.ID), now) {
			s.Available++
		}
		if pinned && l.HeldBy == agentID {
			s.PinnedToMe++
			if l.ReactivationDeadline.Before(soon) {
				s.DeadlineWithin3d++
			}
		}
	}
	return s, nil
}

func (m *Memory) ResetLapsedPins(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{s: &m.state}
	n := 0
	for id, l := range m.state.leads {
		if l.ReactivationDeadline == nil || !l.ReactivationDeadline.Before(now) {
			continue
		}
		if leads.LeaseActive(tx.lease(id), now) {
			continue
		}
		l.HeldBy = ""
		l.LeaseExpiresAt = nil
		l.ReactivationDeadline = nil
		m.state.leads[id] = l
		n++
	}
	return n, nil
}

func (m *Memory) PurgeLeases(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, l := range m.state.leases {
		if l.ExpiresAt.Before(cutoff) {
			delete(m.state.leases, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Snapshot(_ context.Context, now, day time.Time) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{s: &m.state}
	var s Snapshot
	for id, l := range m.state.leads {
		if l.Terminal() {
			continue
		}
		pinned := leads.PinActive(l, now)
		switch {
		case pinned:
			s.RecycledPinned++
		case l.ReactivationDeadline != nil:
			s.LapsedPins++
		}
		if !pinned && !leads.LeaseActive(tx.lease(id), now) {
			s.UnassignedEligible++
		}
	}
	for _, l := range m.state.leases {
		if leads.LeaseActive(&l, now) {
			s.ActiveLeases++
		}
	}
	for k, n := range m.state.daily {
		if k.day.Equal(day) {
			s.FetchCallsToday += n
		}
	}
	return s, nil
}

func (m *Memory) AgentCalls(_ context.Context, from, to time.Time) ([]AgentCalls, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AgentCalls
	for k, n := range m.state.daily {
		if n > 0 && !k.day.Before(from) && k.day.Before(to) {
			out = append(out, AgentCalls{AgentID: k.agentID, Day: k.day, CallCount: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		if out[i].CallCount != out[j].CallCount {
			return out[i].CallCount > out[j].CallCount
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}
