package fetchconfig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crm-platform/pkg/utils"
)

// Repository is the persistence contract for administered config rows.
type Repository interface {
	Lookup
	List(ctx context.Context) ([]Row, error)
	Get(ctx context.Context, id int64) (Row, error)
	Create(ctx context.Context, row Row) (Row, error)
	Update(ctx context.Context, row Row) (Row, error)
	Delete(ctx context.Context, id int64) (Row, error)
}

// PostgresRepo stores rows in lead_fetch_configs. A unique index on
// (COALESCE(role_id, ''), COALESCE(branch_id, 0)) keeps one row per key.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const rowColumns = `id, role_id, branch_id, per_request_limit, daily_call_limit, outstanding_limit,
       ttl_hours, reactivation_window_days, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (Row, error) {
	var (
		row    Row
		role   sql.NullString
		branch sql.NullInt64
	)
	err := s.Scan(&row.ID, &role, &branch,
		&row.PerRequestLimit, &row.DailyCallLimit, &row.OutstandingLimit,
		&row.TTLHours, &row.ReactivationWindowDays, &row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return Row{}, err
	}
	row.RoleID = role.String
	if branch.Valid {
		b := branch.Int64
		row.BranchID = &b
	}
	return row, nil
}

func keyArgs(k Key) (any, any) {
	var role, branch any
	if k.RoleID != "" {
		role = k.RoleID
	}
	if k.BranchID != nil {
		branch = *k.BranchID
	}
	return role, branch
}

func (r *PostgresRepo) Lookup(ctx context.Context, k Key) (Row, bool, error) {
	const q = `
SELECT ` + rowColumns + `
FROM lead_fetch_configs
WHERE role_id IS NOT DISTINCT FROM $1::text
  AND branch_id IS NOT DISTINCT FROM $2::bigint`
	role, branch := keyArgs(k)
	row, err := scanRow(r.db.QueryRowContext(ctx, q, role, branch))
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, err
	}
	return row, true, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Row, error) {
	const q = `
SELECT ` + rowColumns + `
FROM lead_fetch_configs
ORDER BY role_id NULLS LAST, branch_id NULLS LAST, id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id int64) (Row, error) {
	const q = `SELECT ` + rowColumns + ` FROM lead_fetch_configs WHERE id = $1`
	row, err := scanRow(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	return row, err
}

func (r *PostgresRepo) Create(ctx context.Context, in Row) (Row, error) {
	const q = `
INSERT INTO lead_fetch_configs (role_id, branch_id, per_request_limit, daily_call_limit,
                                outstanding_limit, ttl_hours, reactivation_window_days)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + rowColumns
	role, branch := keyArgs(in.Key)
	row, err := scanRow(r.db.QueryRowContext(ctx, q, role, branch,
		in.PerRequestLimit, in.DailyCallLimit, in.OutstandingLimit, in.TTLHours, in.ReactivationWindowDays))
	return row, mapWriteErr(err)
}

func (r *PostgresRepo) Update(ctx context.Context, in Row) (Row, error) {
	const q = `
UPDATE lead_fetch_configs
SET role_id = $2, branch_id = $3, per_request_limit = $4, daily_call_limit = $5,
    outstanding_limit = $6, ttl_hours = $7, reactivation_window_days = $8, updated_at = now()
WHERE id = $1
RETURNING ` + rowColumns
	role, branch := keyArgs(in.Key)
	row, err := scanRow(r.db.QueryRowContext(ctx, q, in.ID, role, branch,
		in.PerRequestLimit, in.DailyCallLimit, in.OutstandingLimit, in.TTLHours, in.ReactivationWindowDays))
	return row, mapWriteErr(err)
}

func (r *PostgresRepo) Delete(ctx context.Context, id int64) (Row, error) {
	const q = `DELETE FROM lead_fetch_configs WHERE id = $1 RETURNING ` + rowColumns
	row, err := scanRow(r.db.QueryRowContext(ctx, q, id))
	return row, mapWriteErr(err)
}

func mapWriteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case utils.PgCode(err) == utils.PgUniqueViolation:
		return ErrDuplicate
	default:
		return fmt.Errorf("fetch config write: %w", err)
	}
}
