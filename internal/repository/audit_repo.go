package repository

import (
	"context"
	"fmt"

	"github.com/andy/tallybook/internal/db"
	"github.com/andy/tallybook/internal/domain"
)

// NumberChangeRepo reads the number change trail written by InvoiceRepo.Renumber
type NumberChangeRepo struct {
	db *db.DB
}

// NewNumberChangeRepo creates a new NumberChangeRepo
func NewNumberChangeRepo(database *db.DB) *NumberChangeRepo {
	return &NumberChangeRepo{db: database}
}

const numberChangeColumns = "id, invoice_id, old_number, new_number, reason, status_at_change, actor, changed_at"

// ListByInvoice returns the number changes of an invoice, oldest first
func (r *NumberChangeRepo) ListByInvoice(ctx context.Context, invoiceID int64) ([]*domain.NumberChangeRecord, error) {
	return r.query(ctx,
		"SELECT "+numberChangeColumns+" FROM number_changes WHERE invoice_id = ? ORDER BY changed_at, id",
		invoiceID,
	)
}

// List returns the most recent number changes across all invoices.
// A non-positive limit returns everything.
func (r *NumberChangeRepo) List(ctx context.Context, limit int) ([]*domain.NumberChangeRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.query(ctx,
		"SELECT "+numberChangeColumns+" FROM number_changes ORDER BY changed_at DESC, id DESC LIMIT ?",
		limit,
	)
}

func (r *NumberChangeRepo) query(ctx context.Context, query string, args ...any) ([]*domain.NumberChangeRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list number changes: %w", err)
	}
	defer rows.Close()

	records := make([]*domain.NumberChangeRecord, 0)
	for rows.Next() {
		rec := &domain.NumberChangeRecord{}
		var status, changedAt string

		err := rows.Scan(
			&rec.ID,
			&rec.InvoiceID,
			&rec.OldNumber,
			&rec.NewNumber,
			&rec.Reason,
			&status,
			&rec.Actor,
			&changedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan number change: %w", err)
		}

		rec.StatusAtChange = domain.Status(status)
		if rec.ChangedAt, err = parseTime(changedAt); err != nil {
			return nil, fmt.Errorf("failed to parse changed_at: %w", err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating number changes: %w", err)
	}

	return records, nil
}

// AuditRepo is a SQLite implementation of AuditRepository
type AuditRepo struct {
	db *db.DB
}

// NewAuditRepo creates a new AuditRepo
func NewAuditRepo(database *db.DB) *AuditRepo {
	return &AuditRepo{db: database}
}

// Append writes an audit entry
func (r *AuditRepo) Append(ctx context.Context, entry *domain.AuditEntry) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (action, line, detail, actor, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		entry.Action,
		string(entry.Line),
		entry.Detail,
		entry.Actor,
		formatTime(entry.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// List returns the most recent audit entries, optionally filtered by action
func (r *AuditRepo) List(ctx context.Context, action string, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, line, detail, actor, recorded_at
		FROM audit_log
		WHERE ? = '' OR action = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, action, action, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.AuditEntry, 0)
	for rows.Next() {
		e := &domain.AuditEntry{}
		var line, recordedAt string

		if err := rows.Scan(&e.ID, &e.Action, &line, &e.Detail, &e.Actor, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		e.Line = domain.Line(line)
		if e.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("failed to parse recorded_at: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}
