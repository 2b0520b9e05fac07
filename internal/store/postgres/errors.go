package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfeidau/genjobs/internal/store"
)

// mapPostgresError translates pgx and server errors into store sentinels
// where one applies and annotates the rest by error class.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrJobNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.InvalidTextRepresentation:
		// malformed uuid in a job id lookup
		return fmt.Errorf("%w: %s", store.ErrJobNotFound, pgErr.Message)

	case pgerrcode.CheckViolation:
		if pgErr.ConstraintName == "gen_jobs_result_xor_error" {
			return fmt.Errorf("job cannot hold both result and error: %w", err)
		}
		return fmt.Errorf("check constraint violation: %s: %w", pgErr.ConstraintName, err)

	case pgerrcode.NotNullViolation:
		return fmt.Errorf("%w: %s is required", store.ErrInvalidKey, pgErr.ColumnName)

	case pgerrcode.UniqueViolation:
		return fmt.Errorf("unique constraint violation: %s: %w", pgErr.ConstraintName, err)

	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("transaction conflict (retryable): %w", err)
	}

	switch {
	case pgerrcode.IsConnectionException(pgErr.Code):
		return fmt.Errorf("database connection error: %w", err)
	case pgerrcode.IsOperatorIntervention(pgErr.Code):
		// admin shutdown, crash shutdown, query canceled
		return fmt.Errorf("database unavailable: %w", err)
	case pgerrcode.IsInsufficientResources(pgErr.Code):
		return fmt.Errorf("database resource limit: %w", err)
	default:
		return fmt.Errorf("postgres error [%s]: %s (detail: %s, hint: %s): %w",
			pgErr.Code, pgErr.Message, pgErr.Detail, pgErr.Hint, err)
	}
}
