package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to lead_stories. The table has no UPDATE/DELETE grants
// for the application role.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO lead_stories (id, lead_id, type, actor_id, actor_role, message, metadata, created_at)
VALUES ($1, NULLIF($2, 0), $3, $4, NULLIF($5, ''), $6, NULLIF($7, '')::jsonb, $8)`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.LeadID, string(e.Type), e.ActorID, e.ActorRole, e.Message, e.Metadata, e.CreatedAt)
	return err
}
