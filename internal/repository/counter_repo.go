package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/andy/tallybook/internal/db"
	"github.com/andy/tallybook/internal/domain"
)

// CounterRepo is a SQLite implementation of CounterRepository
type CounterRepo struct {
	db *db.DB
}

// NewCounterRepo creates a new CounterRepo
func NewCounterRepo(database *db.DB) *CounterRepo {
	return &CounterRepo{db: database}
}

// Provision inserts the counter row for a line unless it already exists.
// An existing row keeps its prefix and next value.
func (r *CounterRepo) Provision(ctx context.Context, line domain.Line, prefix string) (bool, error) {
	if !line.IsValid() {
		return false, fmt.Errorf("invalid numbering line %q", line)
	}
	if prefix == "" {
		return false, errors.New("numbering prefix is required")
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO numbering_counters (line, prefix, next_value)
		VALUES (?, ?, 1)
		ON CONFLICT(line) DO NOTHING
	`, string(line), prefix)
	if err != nil {
		return false, fmt.Errorf("failed to provision counter: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// Issue increments the line's counter and returns the pre-increment value
func (r *CounterRepo) Issue(ctx context.Context, line domain.Line) (string, int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	prefix, value, err := issueTx(ctx, tx, line)
	if err != nil {
		return "", 0, err
	}

	if err := tx.Commit(); err != nil {
		return "", 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return prefix, value, nil
}

// issueTx performs the increment-then-read inside an open transaction. The
// UPDATE takes the write lock first, so no other writer can observe the row
// between the increment and the read.
func issueTx(ctx context.Context, q querier, line domain.Line) (string, int64, error) {
	result, err := q.ExecContext(ctx,
		"UPDATE numbering_counters SET next_value = next_value + 1 WHERE line = ?",
		string(line),
	)
	if err != nil {
		return "", 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return "", 0, &domain.ConfigurationError{Line: line}
	}

	var prefix string
	var value int64
	err = q.QueryRowContext(ctx,
		"SELECT prefix, next_value - 1 FROM numbering_counters WHERE line = ?",
		string(line),
	).Scan(&prefix, &value)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read counter: %w", err)
	}

	return prefix, value, nil
}

// Get retrieves the counter for a line
func (r *CounterRepo) Get(ctx context.Context, line domain.Line) (*domain.NumberingCounter, error) {
	c := &domain.NumberingCounter{}
	var lineStr string

	err := r.db.QueryRowContext(ctx,
		"SELECT line, prefix, next_value FROM numbering_counters WHERE line = ?",
		string(line),
	).Scan(&lineStr, &c.Prefix, &c.NextValue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.ConfigurationError{Line: line}
		}
		return nil, fmt.Errorf("failed to get counter: %w", err)
	}

	c.Line = domain.Line(lineStr)
	return c, nil
}

// List retrieves all provisioned counters
func (r *CounterRepo) List(ctx context.Context) ([]*domain.NumberingCounter, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT line, prefix, next_value FROM numbering_counters ORDER BY line",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}
	defer rows.Close()

	counters := make([]*domain.NumberingCounter, 0, len(domain.Lines))
	for rows.Next() {
		c := &domain.NumberingCounter{}
		var line string
		if err := rows.Scan(&line, &c.Prefix, &c.NextValue); err != nil {
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		c.Line = domain.Line(line)
		counters = append(counters, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counters: %w", err)
	}

	return counters, nil
}
