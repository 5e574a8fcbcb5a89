package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// IsConflict reports whether err is the exclusion-constraint violation raised
// when an insert or reschedule would overlap an active appointment. The
// constraint is the authority for conflict-freedom under concurrent writers;
// the in-process check is only the fast path.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
