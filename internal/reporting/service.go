package reporting

import (
	"context"
	"errors"
	"math"
	"time"

	"crm-platform/internal/quota"
	"crm-platform/internal/store"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// MaxRangeDays bounds the per-agent call table.
const MaxRangeDays = 31

// Repository reads engine-wide aggregates. store.Postgres and store.Memory
// both satisfy it.
type Repository interface {
	Snapshot(ctx context.Context, now, day time.Time) (store.Snapshot, error)
	AgentCalls(ctx context.Context, from, to time.Time) ([]store.AgentCalls, error)
}

type Service struct {
	repo   Repository
	ledger *quota.Ledger
	now    func() time.Time
}

func NewService(repo Repository, ledger *quota.Ledger) *Service {
	return &Service{repo: repo, ledger: ledger, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) LeadStats(ctx context.Context, req LeadStatsRequest) (LeadStats, error) {
	if s.repo == nil {
		return LeadStats{}, errors.New("reporting: repository not configured")
	}
	now := s.now()
	today := s.ledger.Day(now)

	r := req.Range
	if r.From.IsZero() && r.To.IsZero() {
		r = TimeRange{From: today, To: today.AddDate(0, 0, 1)}
	}
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return LeadStats{}, ErrInvalidRequest
	}
	if r.To.Sub(r.From) > MaxRangeDays*24*time.Hour {
		return LeadStats{}, ErrInvalidRequest
	}

	snap, err := s.repo.Snapshot(ctx, now, today)
	if err != nil {
		return LeadStats{}, err
	}
	rows, err := s.repo.AgentCalls(ctx, r.From, r.To)
	if err != nil {
		return LeadStats{}, err
	}

	out := LeadStats{
		GeneratedAt: now,
		Day:         today.Format(time.DateOnly),
		Snapshot:    snap,
		Range:       r,
		Agents:      rows,
	}
	if out.Agents == nil {
		out.Agents = []store.AgentCalls{}
	}
	seen := map[string]bool{}
	for _, c := range rows {
		out.TotalCalls += c.CallCount
		seen[c.AgentID] = true
	}
	out.AgentsActive = len(seen)
	if out.AgentsActive > 0 {
		avg := float64(out.TotalCalls) / float64(out.AgentsActive)
		out.AverageCallsPerAgent = math.Round(avg*100) / 100
	}
	return out, nil
}
