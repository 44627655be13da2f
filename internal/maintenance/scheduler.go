// Package maintenance runs periodic housekeeping over the lead store. Nothing
// in the assignment path depends on it having run: expiry and pin lapses are
// evaluated at read time, the jobs only tidy rows and refresh gauges.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"crm-platform/internal/metrics"
	"crm-platform/internal/reporting"
	"crm-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const (
	JobResetExpiredPins = "reset_expired_pins"
	JobPurgeStaleLeases = "purge_stale_leases"
	JobDailyStats       = "daily_stats"
)

// StaleLeaseAge is how long an expired lease row is kept before purge.
const StaleLeaseAge = 30 * 24 * time.Hour

var (
	ErrUnknownJob = errors.New("unknown maintenance job")
	// ErrJobRunning: another replica holds the job's lock.
	ErrJobRunning = errors.New("maintenance job already running elsewhere")
)

// Store is the subset of the lead store the jobs write to.
type Store interface {
	ResetLapsedPins(ctx context.Context, now time.Time) (int, error)
	PurgeLeases(ctx context.Context, cutoff time.Time) (int, error)
}

type Options struct {
	Interval time.Duration
	// LockTTL bounds how long a crashed replica can hold a job lock.
	LockTTL time.Duration
	Now     func() time.Time
}

type job struct {
	name  string
	every time.Duration
	run   func(ctx context.Context, now time.Time) (int, error)
}

// JobStatus reports the last outcome of one job.
type JobStatus struct {
	Name     string    `json:"name"`
	Every    string    `json:"every"`
	LastRun  time.Time `json:"last_run"`
	Affected int       `json:"affected"`
	LastErr  string    `json:"last_error,omitempty"`
	Runs     int       `json:"runs"`
}

type Status struct {
	Running  bool        `json:"running"`
	Paused   bool        `json:"paused"`
	Interval string      `json:"interval"`
	Jobs     []JobStatus `json:"jobs"`
}

type Scheduler struct {
	store   Store
	stats   *reporting.Service
	metrics *metrics.Collector
	rdb     redis.Scripter
	log     *slog.Logger
	opts    Options

	jobs []job

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	paused  bool
	results map[string]JobStatus
}

// NewScheduler builds a scheduler. rdb may be nil, in which case jobs run
// without the cross-replica lock.
func NewScheduler(st Store, stats *reporting.Service, m *metrics.Collector, rdb redis.Scripter, log *slog.Logger, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		store:   st,
		stats:   stats,
		metrics: m,
		rdb:     rdb,
		log:     log.With("component", "maintenance"),
		opts:    opts,
		results: map[string]JobStatus{},
	}
	s.jobs = []job{
		{name: JobResetExpiredPins, every: opts.Interval, run: s.resetExpiredPins},
		{name: JobPurgeStaleLeases, every: 24 * time.Hour, run: s.purgeStaleLeases},
		{name: JobDailyStats, every: 24 * time.Hour, run: s.dailyStats},
	}
	return s
}

// Jobs lists the job names in run order.
func (s *Scheduler) Jobs() []string {
	out := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.name)
	}
	return out
}

// Start launches the loop. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.log.Debug("scheduler already running")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.log.Info("scheduler started", "interval", s.opts.Interval)
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Status{
		Running:  s.cancel != nil,
		Paused:   s.paused,
		Interval: s.opts.Interval.String(),
	}
	for _, j := range s.jobs {
		st, ok := s.results[j.name]
		if !ok {
			st = JobStatus{Name: j.name}
		}
		st.Every = j.every.String()
		out.Jobs = append(out.Jobs, st)
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if paused {
		return
	}
	now := s.opts.Now()
	for _, j := range s.jobs {
		if !s.due(j, now) {
			continue
		}
		if _, err := s.runJob(ctx, j); err != nil && !errors.Is(err, ErrJobRunning) {
			s.log.Error("maintenance job failed", "job", j.name, "err", err)
		}
	}
}

func (s *Scheduler) due(j job, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.results[j.name].LastRun
	return last.IsZero() || !now.Before(last.Add(j.every))
}

// RunNow runs one job immediately, whether or not the loop is running or
// paused. It returns the number of rows the job touched.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	for _, j := range s.jobs {
		if j.name == name {
			return s.runJob(ctx, j)
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownJob, name)
}

func (s *Scheduler) runJob(ctx context.Context, j job) (int, error) {
	var n int
	run := func(ctx context.Context) error {
		var err error
		n, err = j.run(ctx, s.opts.Now())
		return err
	}

	var err error
	if s.rdb == nil {
		err = run(ctx)
	} else {
		err = utils.WithConcurrencyCap(ctx, s.rdb, "leads:maintenance:"+j.name, 1, s.opts.LockTTL, run)
		if errors.Is(err, utils.ErrSlotTaken) {
			s.log.Debug("maintenance job locked by another replica", "job", j.name)
			return 0, ErrJobRunning
		}
	}

	s.metrics.MaintenanceRun(j.name, err)
	st := JobStatus{Name: j.name, LastRun: s.opts.Now(), Affected: n}
	if err != nil {
		st.LastErr = err.Error()
	} else {
		s.log.Info("maintenance job done", "job", j.name, "affected", n)
	}

	s.mu.Lock()
	st.Runs = s.results[j.name].Runs + 1
	s.results[j.name] = st
	s.mu.Unlock()
	return n, err
}

func (s *Scheduler) resetExpiredPins(ctx context.Context, now time.Time) (int, error) {
	return s.store.ResetLapsedPins(ctx, now)
}

func (s *Scheduler) purgeStaleLeases(ctx context.Context, now time.Time) (int, error) {
	return s.store.PurgeLeases(ctx, now.Add(-StaleLeaseAge))
}

func (s *Scheduler) dailyStats(ctx context.Context, _ time.Time) (int, error) {
	if s.stats == nil {
		return 0, nil
	}
	out, err := s.stats.LeadStats(ctx, reporting.LeadStatsRequest{})
	if err != nil {
		return 0, err
	}
	s.metrics.PoolSize("unassigned", out.UnassignedEligible)
	s.metrics.PoolSize("leased", out.ActiveLeases)
	s.metrics.PoolSize("recycled_pinned", out.RecycledPinned)
	s.metrics.PoolSize("lapsed_pins", out.LapsedPins)
	s.log.Info("daily lead stats",
		"day", out.Day,
		"unassigned", out.UnassignedEligible,
		"active_leases", out.ActiveLeases,
		"recycled_pinned", out.RecycledPinned,
		"lapsed_pins", out.LapsedPins,
		"fetch_calls", out.FetchCallsToday,
		"agents_active", out.AgentsActive,
	)
	return out.FetchCallsToday, nil
}
