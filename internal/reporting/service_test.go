package reporting

import (
	"context"
	"testing"
	"time"

	"crm-platform/internal/leads"
	"crm-platform/internal/quota"
	"crm-platform/internal/store"
)

var now = time.Date(2026, 6, 3, 15, 0, 0, 0, time.UTC)

func day(d int) time.Time { return time.Date(2026, 6, d, 0, 0, 0, 0, time.UTC) }

func seed(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	ctx := context.Background()
	m.AddLead(leads.Lead{FullName: "free", CreatedAt: now.Add(-time.Hour)})
	held := m.AddLead(leads.Lead{FullName: "held", CreatedAt: now.Add(-time.Hour)})
	deadline := now.Add(48 * time.Hour)
	m.AddLead(leads.Lead{FullName: "pinned", ResponseCategoryID: leads.Int64(1), IsRecycled: true, HeldBy: "E9", ReactivationDeadline: &deadline})
	m.AddLead(leads.Lead{FullName: "gone", IsDeleted: true})

	calls := []struct {
		agent string
		at    time.Time
		n     int
	}{
		{"E1", now, 2},
		{"E2", now, 1},
		{"E1", now.AddDate(0, 0, -1), 3},
		{"E3", now.AddDate(0, 0, -5), 1},
	}
	err := m.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		lead, _ := m.Lead(held.ID)
		if _, _, err := tx.ClaimLease(ctx, lead, leads.NewGrant(leads.TrackGeneral, "E1", now, time.Hour, time.Hour)); err != nil {
			return err
		}
		for _, c := range calls {
			for i := 0; i < c.n; i++ {
				if _, err := tx.IncrementDailyCalls(ctx, c.agent, day(c.at.Day())); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return m
}

func newService(t *testing.T) *Service {
	return NewService(seed(t), quota.NewLedger(time.UTC)).WithClock(func() time.Time { return now })
}

func TestLeadStats_DefaultsToToday(t *testing.T) {
	out, err := newService(t).LeadStats(context.Background(), LeadStatsRequest{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.Day != "2026-06-03" {
		t.Fatalf("expected day 2026-06-03, got %s", out.Day)
	}
	if out.UnassignedEligible != 1 || out.ActiveLeases != 1 || out.RecycledPinned != 1 {
		t.Fatalf("unexpected snapshot: %+v", out.Snapshot)
	}
	if out.FetchCallsToday != 3 {
		t.Fatalf("expected 3 calls today, got %d", out.FetchCallsToday)
	}
	if out.TotalCalls != 3 || out.AgentsActive != 2 || out.AverageCallsPerAgent != 1.5 {
		t.Fatalf("unexpected agent totals: %+v", out)
	}
	if out.Agents[0].AgentID != "E1" {
		t.Fatalf("expected busiest agent first, got %s", out.Agents[0].AgentID)
	}
}

func TestLeadStats_Range(t *testing.T) {
	svc := newService(t)
	out, err := svc.LeadStats(context.Background(), LeadStatsRequest{Range: TimeRange{From: day(2), To: day(4)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 6 || out.AgentsActive != 2 {
		t.Fatalf("expected 6 calls by 2 agents, got %d by %d", out.TotalCalls, out.AgentsActive)
	}
}

func TestLeadStats_InvalidRange(t *testing.T) {
	svc := newService(t)
	cases := []TimeRange{
		{From: day(4), To: day(2)},
		{From: day(2)},
		{From: day(1), To: day(1).AddDate(0, 0, MaxRangeDays+1)},
	}
	for _, r := range cases {
		if _, err := svc.LeadStats(context.Background(), LeadStatsRequest{Range: r}); err != ErrInvalidRequest {
			t.Fatalf("range %v: expected ErrInvalidRequest, got %v", r, err)
		}
	}
}
