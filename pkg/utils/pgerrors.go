package utils

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the services branch on.
const (
	PgUniqueViolation      = "23505"
	PgForeignKeyViolation  = "23503"
	PgLockNotAvailable     = "55P03"
	PgSerializationFailure = "40001"
	PgDeadlockDetected     = "40P01"
)

// PgCode returns the SQLSTATE carried by err, or "" when err is not a Postgres error.
func PgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsPgRetryable reports errors a caller may retry as-is.
func IsPgRetryable(err error) bool {
	switch PgCode(err) {
	case PgSerializationFailure, PgDeadlockDetected, PgLockNotAvailable:
		return true
	default:
		return false
	}
}
