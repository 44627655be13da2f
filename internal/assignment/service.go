// Package assignment is the agent-facing surface of the lead engine: fetch,
// fetch recycled, list, release and response change.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-platform/internal/audit"
	"crm-platform/internal/fetchconfig"
	"crm-platform/internal/leads"
	"crm-platform/internal/leasing"
	"crm-platform/internal/metrics"
	"crm-platform/internal/notify"
	"crm-platform/internal/quota"
	"crm-platform/internal/store"
	"crm-platform/pkg/logger"
)

var (
	// ErrLeaseNotFound covers missing, expired and foreign leases alike.
	ErrLeaseNotFound   = errors.New("lease not found or not owned")
	ErrEmptyLeaseIDs   = errors.New("lease_ids must not be empty")
	ErrFetchInProgress = errors.New("another fetch is already in progress for this agent")
	ErrLeadNotFound    = errors.New("lead not found")
	ErrLeadBusy        = errors.New("lead is being updated by another request, retry")
	ErrNotEligible     = leads.ErrNotEligible
	ErrInvalidAgent    = errors.New("agent identity is required")
	// ErrUnavailable wraps storage failures; the whole operation was rolled back.
	ErrUnavailable = errors.New("lead store unavailable, retry")
)

// ConfigSource resolves the quota config for an agent.
type ConfigSource interface {
	Resolve(ctx context.Context, roleID string, branchID *int64) (fetchconfig.Resolved, error)
}

// Deps wires a Service. Store, Config and Ledger are required.
type Deps struct {
	Store     store.Store
	Config    ConfigSource
	Ledger    *quota.Ledger
	Allocator *leasing.Allocator
	Audit     *audit.Service
	Notifier  notify.Dispatcher
	Metrics   *metrics.Collector
	Guard     Guard
	Now       func() time.Time
}

type Service struct {
	store     store.Store
	config    ConfigSource
	ledger    *quota.Ledger
	allocator *leasing.Allocator
	audit     *audit.Service
	notifier  notify.Dispatcher
	metrics   *metrics.Collector
	guard     Guard
	now       func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		store:     d.Store,
		config:    d.Config,
		ledger:    d.Ledger,
		allocator: d.Allocator,
		audit:     d.Audit,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		guard:     d.Guard,
		now:       d.Now,
	}
	if s.allocator == nil {
		s.allocator = leasing.NewAllocator()
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.guard == nil {
		s.guard = noGuard{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Fetch leases general-pool leads to agent within its quotas.
func (s *Service) Fetch(ctx context.Context, agent leads.Agent) (FetchResult, error) {
	return s.fetch(ctx, agent, leads.TrackGeneral)
}

// FetchRecycled leases leads from the recycled pool. Each leased lead is
// pinned to agent for the configured reactivation window.
func (s *Service) FetchRecycled(ctx context.Context, agent leads.Agent) (FetchResult, error) {
	return s.fetch(ctx, agent, leads.TrackRecycled)
}

func (s *Service) fetch(ctx context.Context, agent leads.Agent, track leads.Track) (FetchResult, error) {
	if agent.ID == "" {
		return FetchResult{}, ErrInvalidAgent
	}
	start := time.Now()
	log := logger.From(ctx).With("agent_id", agent.ID, "track", string(track))

	cfg, err := s.config.Resolve(ctx, agent.RoleID, agent.BranchID)
	if err != nil {
		s.metrics.FetchCall(string(track), "error", time.Since(start).Seconds())
		return FetchResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var (
		res   FetchResult
		alloc leasing.Result
		now   time.Time
	)
	err = s.guard.Do(ctx, agent.ID, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			now = s.now()
			res = FetchResult{Leads: []LeadView{}, Limits: cfg}

			usage, err := s.ledger.Check(ctx, tx, agent.ID, cfg.QuotaConfig, now)
			if err != nil {
				return err
			}
			if usage.Blocked != quota.NotBlocked {
				res.fill(usage)
				res.Message = blockedMessage(usage)
				return nil
			}

			alloc, err = s.allocator.Allocate(ctx, tx, leasing.Request{
				Agent:       agent,
				Track:       track,
				Config:      cfg.QuotaConfig,
				Outstanding: usage.Outstanding,
				Now:         now,
			})
			if err != nil {
				return err
			}

			// counted whether or not anything was leased
			usage, err = s.ledger.Record(ctx, tx, agent.ID, now, usage)
			if err != nil {
				return err
			}
			usage.Outstanding += len(alloc.Items)
			res.fill(usage)

			for _, it := range alloc.Items {
				res.Leads = append(res.Leads, leasedView(it.Lead, it.Lease, track, now))
			}
			res.FetchedCount = len(res.Leads)
			res.Message = fetchedMessage(track, res.FetchedCount)
			return nil
		})
	})
	if err != nil {
		s.metrics.FetchCall(string(track), "error", time.Since(start).Seconds())
		return FetchResult{}, s.storageErr(ctx, "fetch", err)
	}

	s.metrics.FetchCall(string(track), fetchOutcome(res), time.Since(start).Seconds())
	s.metrics.Leased(string(track), res.FetchedCount, alloc.Lost)

	if res.Blocked() {
		log.Info("fetch blocked", "reason", string(res.BlockedReason),
			"outstanding", res.CurrentOutstanding, "daily_used", res.DailyCallsUsed)
		return res, nil
	}
	log.Info("fetch completed", "fetched", res.FetchedCount, "wanted", alloc.Wanted,
		"lost", alloc.Lost, "config_source", string(cfg.Source))

	for _, it := range alloc.Items {
		s.story(ctx, func() error {
			return s.audit.LeadFetched(ctx, it.Lead.ID, agent.ID, agent.Label(), track == leads.TrackRecycled)
		})
	}
	return res, nil
}

func (r *FetchResult) fill(u quota.Usage) {
	r.CurrentOutstanding = u.Outstanding
	r.DailyCallsUsed = u.DailyUsed
	r.DailyCallsRemaining = u.DailyRemaining()
	r.BlockedReason = u.Blocked
}

func blockedMessage(u quota.Usage) string {
	if u.Blocked == quota.BlockedOutstanding {
		return fmt.Sprintf("You have %d active leases (limit: %d).", u.Outstanding, u.OutstandingLimit)
	}
	return fmt.Sprintf("Daily fetch limit of %d reached.", u.DailyLimit)
}

func fetchedMessage(track leads.Track, n int) string {
	pool := "leads"
	if track == leads.TrackRecycled {
		pool = "recycled leads"
	}
	if n == 0 {
		return fmt.Sprintf("No %s available at this time", pool)
	}
	return fmt.Sprintf("Successfully fetched %d %s", n, pool)
}

func fetchOutcome(r FetchResult) string {
	switch {
	case r.BlockedReason == quota.BlockedOutstanding:
		return "blocked_outstanding"
	case r.BlockedReason == quota.BlockedDaily:
		return "blocked_daily"
	case r.FetchedCount == 0:
		return "empty"
	default:
		return "leased"
	}
}

// ListMine returns the agent's unexpired leases.
func (s *Service) ListMine(ctx context.Context, agent leads.Agent) (MineResult, error) {
	if agent.ID == "" {
		return MineResult{}, ErrInvalidAgent
	}
	cfg, err := s.config.Resolve(ctx, agent.RoleID, agent.BranchID)
	if err != nil {
		return MineResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var held []store.Holding
	now := s.now()
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		held, err = tx.ListActiveLeases(ctx, agent.ID, now)
		return err
	})
	if err != nil {
		return MineResult{}, s.storageErr(ctx, "list leases", err)
	}

	out := MineResult{
		Leases:           make([]HoldingView, 0, len(held)),
		Total:            len(held),
		OutstandingLimit: cfg.OutstandingLimit,
		TTLHours:         cfg.TTLHours,
		CanFetchNew:      len(held) < cfg.OutstandingLimit,
		Source:           cfg.Source,
	}
	for _, h := range held {
		out.Leases = append(out.Leases, HoldingView{
			LeaseID:        h.Lease.ID,
			LeadID:         h.Lease.LeadID,
			Lead:           viewOf(h.Lead),
			LeasedAt:       h.Lease.LeasedAt,
			ExpiresAt:      h.Lease.ExpiresAt,
			HoursRemaining: leads.HoursRemaining(h.Lease, now),
			Remaining:      leads.Humanize(h.Lease.ExpiresAt.Sub(now)),
		})
	}
	return out, nil
}

// Release frees one lease held by agent. Leases that are missing, expired
// or held by someone else all report ErrLeaseNotFound.
func (s *Service) Release(ctx context.Context, agent leads.Agent, leaseID string) error {
	_, err := s.release(ctx, agent, []string{leaseID})
	return err
}

// ReleaseMany frees every listed lease, or none: if any id is not an active
// lease of agent the call fails with ErrLeaseNotFound and nothing changes.
func (s *Service) ReleaseMany(ctx context.Context, agent leads.Agent, leaseIDs []string) (int, error) {
	return s.release(ctx, agent, leaseIDs)
}

func (s *Service) release(ctx context.Context, agent leads.Agent, leaseIDs []string) (int, error) {
	if agent.ID == "" {
		return 0, ErrInvalidAgent
	}
	ids := dedupe(leaseIDs)
	if len(ids) == 0 {
		return 0, ErrEmptyLeaseIDs
	}

	var released []leads.Lease
	now := s.now()
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		owned, err := tx.LockOwnedLeases(ctx, agent.ID, ids, now)
		if err != nil {
			return err
		}
		if len(owned) != len(ids) {
			return ErrLeaseNotFound
		}
		if err := tx.DeleteLeases(ctx, owned, now); err != nil {
			return err
		}
		released = owned
		return nil
	})
	if errors.Is(err, ErrLeaseNotFound) {
		return 0, err
	}
	if err != nil {
		return 0, s.storageErr(ctx, "release", err)
	}

	s.metrics.Released(len(released))
	logger.From(ctx).Info("leases released", "agent_id", agent.ID, "count", len(released))
	for _, l := range released {
		s.story(ctx, func() error {
			return s.audit.LeadReleased(ctx, l.LeadID, agent.ID, agent.Label())
		})
	}
	return len(released), nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ChangeResponse records a response category on a lead, which moves it onto
// the recycled track pinned to agent. Any existing lease is superseded.
func (s *Service) ChangeResponse(ctx context.Context, agent leads.Agent, change leads.ResponseChange) (RecycleResult, error) {
	if agent.ID == "" {
		return RecycleResult{}, ErrInvalidAgent
	}
	cfg, err := s.config.Resolve(ctx, agent.RoleID, agent.BranchID)
	if err != nil {
		return RecycleResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var (
		out     RecycleResult
		updated leads.Lead
	)
	now := s.now()
	err = s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		lead, err := tx.LockLead(ctx, change.LeadID)
		if err != nil {
			return err
		}
		if agent.BranchID != nil && (lead.BranchID == nil || *lead.BranchID != *agent.BranchID) {
			return store.ErrLeadNotFound
		}

		var g leads.Grant
		updated, g, err = leads.Recycle(lead, agent.ID, change.ResponseCategoryID, now, cfg.TTL(), cfg.ReactivationWindow())
		if err != nil {
			return err
		}
		lease, err := tx.SupersedeLease(ctx, updated, g)
		if err != nil {
			return err
		}
		out = RecycleResult{
			Lead:                 leasedView(updated, lease, leads.TrackRecycled, now),
			LeaseID:              lease.ID,
			ReactivationDeadline: *g.ReactivationDeadline,
			DaysRemaining:        leads.DaysRemaining(updated, now),
		}
		return nil
	})
	switch {
	case errors.Is(err, store.ErrLeadNotFound):
		return RecycleResult{}, ErrLeadNotFound
	case errors.Is(err, store.ErrBusy):
		return RecycleResult{}, ErrLeadBusy
	case errors.Is(err, leads.ErrNotEligible):
		return RecycleResult{}, ErrNotEligible
	case err != nil:
		return RecycleResult{}, s.storageErr(ctx, "change response", err)
	}

	s.metrics.Recycled()
	logger.From(ctx).Info("lead recycled", "agent_id", agent.ID, "lead_id", change.LeadID,
		"deadline", out.ReactivationDeadline)
	s.story(ctx, func() error {
		return s.audit.LeadRecycled(ctx, change.LeadID, agent.ID, agent.Label(), change.ResponseCategoryID, out.ReactivationDeadline)
	})
	s.remind(ctx, agent, updated, out.ReactivationDeadline)
	return out, nil
}

// ListMyRecycled returns the leads pinned to agent. A pin outlives the lease
// that came with it, so these are listed even after ListMine drops them.
func (s *Service) ListMyRecycled(ctx context.Context, agent leads.Agent) (PinnedResult, error) {
	if agent.ID == "" {
		return PinnedResult{}, ErrInvalidAgent
	}
	var pinned []leads.Lead
	now := s.now()
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		pinned, err = tx.ListPinned(ctx, agent.ID, now)
		return err
	})
	if err != nil {
		return PinnedResult{}, s.storageErr(ctx, "list pinned", err)
	}

	out := PinnedResult{Leads: make([]PinnedView, 0, len(pinned)), Count: len(pinned)}
	for _, l := range pinned {
		days := leads.DaysRemaining(l, now)
		v := PinnedView{LeadView: viewOf(l), ResponseChangedAt: l.ResponseChangedAt}
		v.ReactivationDeadline = l.ReactivationDeadline
		v.DaysRemaining = &days
		if l.LeaseExpiresAt != nil && now.Before(*l.LeaseExpiresAt) {
			v.ExpiresAt = l.LeaseExpiresAt
		}
		out.Leads = append(out.Leads, v)
	}
	return out, nil
}

// RecycledStats summarizes the recycled pool for agent's branch scope.
func (s *Service) RecycledStats(ctx context.Context, agent leads.Agent) (RecycledStats, error) {
	if agent.ID == "" {
		return RecycledStats{}, ErrInvalidAgent
	}
	var out RecycledStats
	now := s.now()
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.RecycledStats(ctx, agent.ID, agent.BranchID, now)
		return err
	})
	if err != nil {
		return RecycledStats{}, s.storageErr(ctx, "recycled stats", err)
	}
	return out, nil
}

// remind sends the recycle notification now and schedules a reminder one day
// before the deadline. Failures are logged only.
func (s *Service) remind(ctx context.Context, agent leads.Agent, lead leads.Lead, deadline time.Time) {
	log := logger.From(ctx)
	n := notify.Notification{
		AgentID: agent.ID,
		LeadID:  lead.ID,
		Kind:    notify.KindLeadRecycled,
		Message: fmt.Sprintf("Lead %s is pinned to you until %s", lead.FullName, deadline.Format("2006-01-02")),
		At:      s.now(),
	}
	if err := s.notifier.Immediate(ctx, n); err != nil {
		log.Warn("notification failed", "lead_id", lead.ID, "err", err)
	}

	at := deadline.Add(-24 * time.Hour)
	if !at.After(s.now()) {
		return
	}
	n.Kind = notify.KindDeadlineReminder
	n.Message = fmt.Sprintf("Lead %s returns to the pool on %s", lead.FullName, deadline.Format("2006-01-02"))
	if err := s.notifier.Schedule(ctx, n, at); err != nil {
		log.Warn("reminder scheduling failed", "lead_id", lead.ID, "err", err)
	}
}

// story appends to the lead story log; failure never fails the caller.
func (s *Service) story(ctx context.Context, fn func() error) {
	if s.audit == nil {
		return
	}
	if err := fn(); err != nil {
		logger.From(ctx).Warn("story log append failed", "err", err)
	}
}

func (s *Service) storageErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, ErrFetchInProgress) {
		return err
	}
	if errors.Is(err, store.ErrBusy) && op == "fetch" {
		return ErrFetchInProgress
	}
	logger.From(ctx).Error(op+" failed", "err", err)
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
