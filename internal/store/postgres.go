package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crm-platform/internal/leads"
	"crm-platform/pkg/utils"

	"github.com/google/uuid"
)

// Postgres implements Store over database/sql (pgx stdlib driver).
//
// Tables are created by migrations/0001_lead_engine.sql. The lease table's
// UNIQUE (lead_id) is the last-resort guard against double leasing; row
// locks taken with SKIP LOCKED / NOWAIT keep callers from ever waiting on
// each other.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := utils.WithTx(ctx, p.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
	return mapPgErr(err)
}

func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	switch utils.PgCode(err) {
	case utils.PgUniqueViolation:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case utils.PgLockNotAvailable:
		return fmt.Errorf("%w: %v", ErrBusy, err)
	case utils.PgSerializationFailure, utils.PgDeadlockDetected:
		return fmt.Errorf("%w: %v", ErrRetryable, err)
	default:
		return err
	}
}

type pgTx struct {
	tx *sql.Tx
}

const leadColumns = `l.id, l.full_name, COALESCE(l.email, ''), COALESCE(l.mobile, ''), COALESCE(l.city, ''),
       COALESCE(l.occupation, ''), l.created_at, l.branch_id, l.lead_source_id, l.lead_response_id,
       l.is_recycled, l.is_converted, l.is_deleted, COALESCE(l.held_by, ''), l.lease_expires_at,
       l.reactivation_deadline, l.response_changed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(s rowScanner, extra ...any) (leads.Lead, error) {
	var (
		l                          leads.Lead
		branch, source, response   sql.NullInt64
		leaseExp, deadline, change sql.NullTime
	)
	dest := []any{
		&l.ID, &l.FullName, &l.Email, &l.Mobile, &l.City,
		&l.Occupation, &l.CreatedAt, &branch, &source, &response,
		&l.IsRecycled, &l.IsConverted, &l.IsDeleted, &l.HeldBy, &leaseExp,
		&deadline, &change,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return leads.Lead{}, err
	}
	l.BranchID = nullInt(branch)
	l.SourceID = nullInt(source)
	l.ResponseCategoryID = nullInt(response)
	l.LeaseExpiresAt = nullTime(leaseExp)
	l.ReactivationDeadline = nullTime(deadline)
	l.ResponseChangedAt = nullTime(change)
	return l, nil
}

// dateArg renders a calendar day for a ::date parameter, independent of the
// session time zone.
func dateArg(day time.Time) string { return day.Format(time.DateOnly) }

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func (t *pgTx) LockAgentDay(ctx context.Context, agentID string, day time.Time) (int, error) {
	const ensure = `
INSERT INTO lead_fetch_history (agent_id, day, call_count)
VALUES ($1, $2::date, 0)
ON CONFLICT (agent_id, day) DO NOTHING`
	if _, err := t.tx.ExecContext(ctx, ensure, agentID, dateArg(day)); err != nil {
		return 0, err
	}

	const q = `
SELECT call_count
FROM lead_fetch_history
WHERE agent_id = $1 AND day = $2::date
FOR UPDATE NOWAIT`
	var n int
	if err := t.tx.QueryRowContext(ctx, q, agentID, dateArg(day)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *pgTx) CountActiveLeases(ctx context.Context, agentID string, now time.Time) (int, error) {
	const q = `SELECT count(*) FROM lead_leases WHERE agent_id = $1 AND expires_at > $2`
	var n int
	err := t.tx.QueryRowContext(ctx, q, agentID, now).Scan(&n)
	return n, err
}

func (t *pgTx) IncrementDailyCalls(ctx context.Context, agentID string, day time.Time) (int, error) {
	const q = `
INSERT INTO lead_fetch_history (agent_id, day, call_count)
VALUES ($1, $2::date, 1)
ON CONFLICT (agent_id, day) DO UPDATE
SET call_count = lead_fetch_history.call_count + 1,
    updated_at = now()
RETURNING call_count`
	var n int
	err := t.tx.QueryRowContext(ctx, q, agentID, dateArg(day)).Scan(&n)
	return n, err
}

func (t *pgTx) LockCandidates(ctx context.Context, f leads.CandidateFilter) ([]leads.Lead, error) {
	const q = `
SELECT ` + leadColumns + `
FROM crm_leads l
WHERE l.is_deleted = false
  AND l.is_converted = false
  AND ($2::bigint IS NULL OR l.branch_id = $2::bigint)
  AND (l.reactivation_deadline IS NULL OR l.reactivation_deadline < $1)
  AND ($3::boolean = false OR l.lead_response_id IS NOT NULL)
  AND NOT EXISTS (
    SELECT 1 FROM lead_leases a
    WHERE a.lead_id = l.id AND a.expires_at > $1
  )
ORDER BY l.created_at ASC, l.id ASC
LIMIT $4
FOR UPDATE OF l SKIP LOCKED`

	var branch any
	if f.BranchID != nil {
		branch = *f.BranchID
	}
	rows, err := t.tx.QueryContext(ctx, q, f.Now, branch, f.Track == leads.TrackRecycled, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]leads.Lead, 0, f.Limit)
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) ClaimLease(ctx context.Context, lead leads.Lead, g leads.Grant) (leads.Lease, bool, error) {
	const dropStale = `DELETE FROM lead_leases WHERE lead_id = $1 AND expires_at <= $2`
	if _, err := t.tx.ExecContext(ctx, dropStale, lead.ID, g.LeasedAt); err != nil {
		return leads.Lease{}, false, err
	}

	lease := leads.Lease{ID: uuid.NewString(), LeadID: lead.ID, AgentID: g.AgentID, LeasedAt: g.LeasedAt, ExpiresAt: g.ExpiresAt}
	const insert = `
INSERT INTO lead_leases (id, lead_id, agent_id, leased_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (lead_id) DO NOTHING`
	res, err := t.tx.ExecContext(ctx, insert, lease.ID, lease.LeadID, lease.AgentID, lease.LeasedAt, lease.ExpiresAt)
	if err != nil {
		return leads.Lease{}, false, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return leads.Lease{}, false, err
	}

	if err := t.mirror(ctx, lead.ID, g); err != nil {
		return leads.Lease{}, false, err
	}
	return lease, true, nil
}

func (t *pgTx) mirror(ctx context.Context, leadID int64, g leads.Grant) error {
	const q = `
UPDATE crm_leads
SET held_by = $2, lease_expires_at = $3, reactivation_deadline = $4
WHERE id = $1`
	_, err := t.tx.ExecContext(ctx, q, leadID, g.AgentID, g.ExpiresAt, g.ReactivationDeadline)
	return err
}

func (t *pgTx) ListActiveLeases(ctx context.Context, agentID string, now time.Time) ([]Holding, error) {
	const q = `
SELECT ` + leadColumns + `, a.id, a.lead_id, a.agent_id, a.leased_at, a.expires_at
FROM lead_leases a
JOIN crm_leads l ON l.id = a.lead_id
WHERE a.agent_id = $1 AND a.expires_at > $2
ORDER BY a.leased_at DESC, a.lead_id ASC`
	rows, err := t.tx.QueryContext(ctx, q, agentID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Holding
	for rows.Next() {
		var h Holding
		l, err := scanLead(rows, &h.Lease.ID, &h.Lease.LeadID, &h.Lease.AgentID, &h.Lease.LeasedAt, &h.Lease.ExpiresAt)
		if err != nil {
			return nil, err
		}
		h.Lead = l
		out = append(out, h)
	}
	return out, rows.Err()
}

func (t *pgTx) LockOwnedLeases(ctx context.Context, agentID string, ids []string, now time.Time) ([]leads.Lease, error) {
	const q = `
SELECT id, lead_id, agent_id, leased_at, expires_at
FROM lead_leases
WHERE id = ANY($1::text[]::uuid[]) AND agent_id = $2 AND expires_at > $3
FOR UPDATE`
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		// a malformed id would fail the uuid cast for the whole batch
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}
	rows, err := t.tx.QueryContext(ctx, q, valid, agentID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leads.Lease
	for rows.Next() {
		var l leads.Lease
		if err := rows.Scan(&l.ID, &l.LeadID, &l.AgentID, &l.LeasedAt, &l.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteLeases(ctx context.Context, leases []leads.Lease, now time.Time) error {
	if len(leases) == 0 {
		return nil
	}
	ids := make([]string, len(leases))
	for i, l := range leases {
		ids[i] = l.ID
	}

	const del = `DELETE FROM lead_leases WHERE id = ANY($1::text[]::uuid[])`
	if _, err := t.tx.ExecContext(ctx, del, ids); err != nil {
		return err
	}

	const clear = `
UPDATE crm_leads
SET held_by = CASE WHEN reactivation_deadline >= $3 THEN held_by ELSE NULL END,
    lease_expires_at = NULL
WHERE id = $1 AND held_by = $2`
	for _, l := range leases {
		if _, err := t.tx.ExecContext(ctx, clear, l.LeadID, l.AgentID, now); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) LockLead(ctx context.Context, leadID int64) (leads.Lead, error) {
	const q = `SELECT ` + leadColumns + ` FROM crm_leads l WHERE l.id = $1 FOR UPDATE NOWAIT`
	l, err := scanLead(t.tx.QueryRowContext(ctx, q, leadID))
	if errors.Is(err, sql.ErrNoRows) {
		return leads.Lead{}, ErrLeadNotFound
	}
	if err != nil {
		return leads.Lead{}, mapPgErr(err)
	}
	return l, nil
}

func (t *pgTx) SupersedeLease(ctx context.Context, lead leads.Lead, g leads.Grant) (leads.Lease, error) {
	const drop = `DELETE FROM lead_leases WHERE lead_id = $1`
	if _, err := t.tx.ExecContext(ctx, drop, lead.ID); err != nil {
		return leads.Lease{}, err
	}

	lease := leads.Lease{ID: uuid.NewString(), LeadID: lead.ID, AgentID: g.AgentID, LeasedAt: g.LeasedAt, ExpiresAt: g.ExpiresAt}
	const insert = `
INSERT INTO lead_leases (id, lead_id, agent_id, leased_at, expires_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := t.tx.ExecContext(ctx, insert, lease.ID, lease.LeadID, lease.AgentID, lease.LeasedAt, lease.ExpiresAt); err != nil {
		return leads.Lease{}, err
	}

	const update = `
UPDATE crm_leads
SET lead_response_id = $2, is_recycled = $3, response_changed_at = $4,
    held_by = $5, lease_expires_at = $6, reactivation_deadline = $7
WHERE id = $1`
	_, err := t.tx.ExecContext(ctx, update, lead.ID, lead.ResponseCategoryID, lead.IsRecycled,
		lead.ResponseChangedAt, g.AgentID, g.ExpiresAt, g.ReactivationDeadline)
	if err != nil {
		return leads.Lease{}, err
	}
	return lease, nil
}

func (t *pgTx) ListPinned(ctx context.Context, agentID string, now time.Time) ([]leads.Lead, error) {
	const q = `
SELECT ` + leadColumns + `
FROM crm_leads l
WHERE l.held_by = $1
  AND l.reactivation_deadline >= $2
  AND l.is_deleted = false
  AND l.is_converted = false
ORDER BY l.reactivation_deadline ASC, l.id ASC`
	rows, err := t.tx.QueryContext(ctx, q, agentID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leads.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) RecycledStats(ctx context.Context, agentID string, branchID *int64, now time.Time) (RecycledStats, error) {
	const q = `
SELECT
  count(*) FILTER (WHERE a.id IS NULL AND (l.reactivation_deadline IS NULL OR l.reactivation_deadline < $2)),
  count(*) FILTER (WHERE l.held_by = $1 AND l.reactivation_deadline >= $2),
  count(*) FILTER (WHERE l.held_by = $1 AND l.reactivation_deadline >= $2 AND l.reactivation_deadline < $2 + interval '3 days')
FROM crm_leads l
LEFT JOIN lead_leases a ON a.lead_id = l.id AND a.expires_at > $2
WHERE l.is_deleted = false
  AND l.is_converted = false
  AND l.lead_response_id IS NOT NULL
  AND ($3::bigint IS NULL OR l.branch_id = $3::bigint)`
	var branch any
	if branchID != nil {
		branch = *branchID
	}
	var s RecycledStats
	err := t.tx.QueryRowContext(ctx, q, agentID, now, branch).Scan(&s.Available, &s.PinnedToMe, &s.DeadlineWithin3d)
	return s, err
}

// ResetLapsedPins clears the holder and deadline of recycled leads whose
// pin has lapsed and that no active lease holds. Rows locked by in-flight
// fetches are skipped and picked up next run.
func (p *Postgres) ResetLapsedPins(ctx context.Context, now time.Time) (int, error) {
	const q = `
WITH lapsed AS (
  SELECT l.id
  FROM crm_leads l
  WHERE l.reactivation_deadline < $1
    AND NOT EXISTS (
      SELECT 1 FROM lead_leases a WHERE a.lead_id = l.id AND a.expires_at > $1
    )
  FOR UPDATE OF l SKIP LOCKED
)
UPDATE crm_leads l
SET held_by = NULL, lease_expires_at = NULL, reactivation_deadline = NULL
FROM lapsed
WHERE l.id = lapsed.id`
	res, err := p.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, mapPgErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PurgeLeases deletes lease rows that expired before cutoff.
func (p *Postgres) PurgeLeases(ctx context.Context, cutoff time.Time) (int, error) {
	const q = `DELETE FROM lead_leases WHERE expires_at < $1`
	res, err := p.db.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, mapPgErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (p *Postgres) Snapshot(ctx context.Context, now, day time.Time) (Snapshot, error) {
	const q = `
SELECT
  count(*) FILTER (WHERE a.id IS NULL AND (l.reactivation_deadline IS NULL OR l.reactivation_deadline < $1)),
  (SELECT count(*) FROM lead_leases WHERE expires_at > $1),
  count(*) FILTER (WHERE l.reactivation_deadline >= $1),
  count(*) FILTER (WHERE l.reactivation_deadline < $1),
  (SELECT COALESCE(sum(call_count), 0) FROM lead_fetch_history WHERE day = $2::date)
FROM crm_leads l
LEFT JOIN lead_leases a ON a.lead_id = l.id AND a.expires_at > $1
WHERE l.is_deleted = false AND l.is_converted = false`
	var s Snapshot
	err := p.db.QueryRowContext(ctx, q, now, dateArg(day)).Scan(
		&s.UnassignedEligible, &s.ActiveLeases, &s.RecycledPinned, &s.LapsedPins, &s.FetchCallsToday)
	return s, mapPgErr(err)
}

func (p *Postgres) AgentCalls(ctx context.Context, from, to time.Time) ([]AgentCalls, error) {
	const q = `
SELECT agent_id, day, call_count
FROM lead_fetch_history
WHERE day >= $1::date AND day < $2::date AND call_count > 0
ORDER BY day ASC, call_count DESC, agent_id ASC`
	rows, err := p.db.QueryContext(ctx, q, dateArg(from), dateArg(to))
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	var out []AgentCalls
	for rows.Next() {
		var c AgentCalls
		if err := rows.Scan(&c.AgentID, &c.Day, &c.CallCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
