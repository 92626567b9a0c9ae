package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a lookup or update matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on unique violations (e.g. a reused protocolo).
	ErrConflict = errors.New("already exists")
)

// mapError converts pgx errors into package errors, keeping the original
// message for everything it does not recognise.
func mapError(err error, entity, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, key, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s %s: %w", entity, key, ErrConflict)
	}
	return fmt.Errorf("%s %s: %w", entity, key, err)
}
