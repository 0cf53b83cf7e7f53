// Package model holds the Postgres-backed persistence layer: schema-shaped
// structs and goctl-style model types (NewXModel(conn) XModel) wrapping
// github.com/zeromicro/go-zero/core/stores/sqlx, plus the raw
// SELECT ... FOR UPDATE helpers the trade engine uses to acquire its fixed
// lock order (user -> market bundle -> position).
package model

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrNotFound mirrors goctl-generated models' sentinel for a missing row.
var ErrNotFound = errors.New("model: row not found")

// ErrDuplicate is returned when an insert violates a unique constraint,
// i.e. a concurrent get-or-create raced us.
var ErrDuplicate = errors.New("model: duplicate row")

const uniqueViolationCode = "23505"

// isUniqueViolation classifies a Postgres unique-constraint violation via
// the error code of either driver's error type (pgconn.PgError for the pgx
// driver the service connects with, pq.Error for lib/pq), used by
// idempotent get-or-create inserts to fall back to a read on a lost race.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolationCode
	}
	return false
}
