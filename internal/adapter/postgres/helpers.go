package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Strob0t/devsync/internal/domain"
)

// scannable is satisfied by pgx.Row and pgx.CollectableRow.
type scannable interface {
	Scan(dest ...any) error
}

// nullable returns nil for the zero value so the column is written as NULL.
// Types with an IsZero method, such as time.Time, use it.
func nullable[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	if z, ok := any(v).(interface{ IsZero() bool }); ok && z.IsZero() {
		return nil
	}
	return &v
}

// nonNil turns a nil slice into an empty one so it encodes as [].
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// noRows wraps err for what, translating pgx.ErrNoRows into domain.ErrNotFound.
func noRows(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// affectedOne checks the result of a keyed UPDATE or DELETE. Zero affected
// rows means the key does not exist.
func affectedOne(tag pgconn.CommandTag, err error, what string) error {
	switch {
	case err != nil:
		return fmt.Errorf("%s: %w", what, err)
	case tag.RowsAffected() == 0:
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	default:
		return nil
	}
}

// uniqueViolation reports whether err is a unique_violation and names the
// violated constraint.
func uniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// conflictOr wraps err for what as domain.ErrConflict when it is a unique
// violation, and as a plain error otherwise.
func conflictOr(err error, what string) error {
	if c, ok := uniqueViolation(err); ok {
		return fmt.Errorf("%s: duplicate key (%s): %w", what, c, domain.ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}
