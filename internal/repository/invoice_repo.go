package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/andy/tallybook/internal/db"
	"github.com/andy/tallybook/internal/domain"
)

// maxIssueAttempts bounds how many counter values CreateNumbered will burn
// past numbers that are already held by manually renumbered invoices
const maxIssueAttempts = 100

const invoiceColumns = `
	id, invoice_number, client_id, issue_date, due_date, notes,
	status, registration_status,
	subtotal, discount_amount, tax_rate, tax_amount, total, amount_paid,
	sent_at, paid_at, submitted_at, created_at, updated_at
`

// InvoiceRepo is a SQLite implementation of InvoiceRepository
type InvoiceRepo struct {
	db *db.DB
}

// NewInvoiceRepo creates a new InvoiceRepo
func NewInvoiceRepo(database *db.DB) *InvoiceRepo {
	return &InvoiceRepo{db: database}
}

// CreateNumbered issues the next number of line and inserts the invoice and
// its line items. The counter increment rolls back with the insert, so a
// failed creation leaves no gap.
func (r *InvoiceRepo) CreateNumbered(ctx context.Context, invoice *domain.Invoice, line domain.Line) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	number, err := nextFreeNumber(ctx, tx, line)
	if err != nil {
		return err
	}
	invoice.Number = number

	if err := invoice.Validate(); err != nil {
		return fmt.Errorf("invalid invoice: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO invoices (
			invoice_number, client_id, issue_date, due_date, notes,
			status, registration_status,
			subtotal, discount_amount, tax_rate, tax_amount, total, amount_paid,
			sent_at, paid_at, submitted_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		invoice.Number,
		invoice.ClientID,
		formatTime(invoice.IssueDate),
		nullableTime(invoice.DueDate),
		invoice.Notes,
		string(invoice.Status),
		string(invoice.Registration),
		invoice.Subtotal.String(),
		invoice.DiscountAmount.String(),
		invoice.TaxRate.String(),
		invoice.TaxAmount.String(),
		invoice.Total.String(),
		invoice.AmountPaid.String(),
		nullableTime(invoice.SentAt),
		nullableTime(invoice.PaidAt),
		nullableTime(invoice.SubmittedAt),
		formatTime(invoice.CreatedAt),
		formatTime(invoice.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateNumber, invoice.Number)
		}
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get invoice ID: %w", err)
	}

	for _, item := range invoice.LineItems {
		if err := insertLineItem(ctx, tx, id, item); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	invoice.ID = id
	return nil
}

// nextFreeNumber issues counter values until one is not held by any invoice
func nextFreeNumber(ctx context.Context, q querier, line domain.Line) (string, error) {
	for range maxIssueAttempts {
		prefix, value, err := issueTx(ctx, q, line)
		if err != nil {
			return "", err
		}

		number := domain.FormatNumber(prefix, value)
		taken, err := numberExists(ctx, q, number, 0)
		if err != nil {
			return "", err
		}
		if !taken {
			return number, nil
		}
	}
	return "", fmt.Errorf("no free number on line %s after %d attempts", line, maxIssueAttempts)
}

func insertLineItem(ctx context.Context, q querier, invoiceID int64, item *domain.InvoiceLineItem) error {
	result, err := q.ExecContext(ctx, `
		INSERT INTO invoice_line_items (invoice_id, description, quantity, unit_price, amount)
		VALUES (?, ?, ?, ?, ?)
	`,
		invoiceID,
		item.Description,
		item.Quantity.String(),
		item.UnitPrice.String(),
		item.Amount.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to add line item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get line item ID: %w", err)
	}

	item.ID = id
	item.InvoiceID = invoiceID
	return nil
}

// GetByID retrieves an invoice by ID
func (r *InvoiceRepo) GetByID(ctx context.Context, id int64) (*domain.Invoice, error) {
	return getInvoice(ctx, r.db, "id = ?", id)
}

// GetByNumber retrieves an invoice by invoice number
func (r *InvoiceRepo) GetByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	return getInvoice(ctx, r.db, "invoice_number = ?", number)
}

func getInvoice(ctx context.Context, q querier, where string, arg any) (*domain.Invoice, error) {
	row := q.QueryRowContext(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE "+where, arg)

	invoice, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("invoice %v: %w", arg, domain.ErrNotFound)
		}
		return nil, err
	}
	return invoice, nil
}

// List retrieves invoices with optional filters
func (r *InvoiceRepo) List(ctx context.Context, filter InvoiceFilter) ([]*domain.Invoice, error) {
	query := "SELECT " + invoiceColumns + " FROM invoices WHERE 1=1"
	args := make([]any, 0)

	if filter.ClientID != nil {
		query += " AND client_id = ?"
		args = append(args, *filter.ClientID)
	}

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}

	if filter.Prefix != "" {
		// length() counts characters like substr(); len() would count bytes
		query += " AND substr(invoice_number, 1, length(?)) = ?"
		p := filter.Prefix + "-"
		args = append(args, p, p)
	}

	query += " ORDER BY created_at, id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]*domain.Invoice, 0)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, invoice)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoices: %w", err)
	}

	return invoices, nil
}

// GetLineItems retrieves all line items for an invoice
func (r *InvoiceRepo) GetLineItems(ctx context.Context, invoiceID int64) ([]*domain.InvoiceLineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, invoice_id, description, quantity, unit_price, amount
		FROM invoice_line_items
		WHERE invoice_id = ?
		ORDER BY id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get line items: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.InvoiceLineItem, 0)
	for rows.Next() {
		item := &domain.InvoiceLineItem{}
		var quantity, unitPrice, amount string

		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Description, &quantity, &unitPrice, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}

		if item.Quantity, err = parseDecimal(quantity, "quantity"); err != nil {
			return nil, err
		}
		if item.UnitPrice, err = parseDecimal(unitPrice, "unit_price"); err != nil {
			return nil, err
		}
		if item.Amount, err = parseDecimal(amount, "amount"); err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating line items: %w", err)
	}

	return items, nil
}

// NumberExists reports whether an invoice other than excludeID holds number
func (r *InvoiceRepo) NumberExists(ctx context.Context, number string, excludeID int64) (bool, error) {
	return numberExists(ctx, r.db, number, excludeID)
}

func numberExists(ctx context.Context, q querier, number string, excludeID int64) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM invoices WHERE invoice_number = ? AND id != ?)",
		number, excludeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check invoice number: %w", err)
	}
	return exists, nil
}

// Mutate loads an invoice, applies fn and writes back its lifecycle fields
func (r *InvoiceRepo) Mutate(ctx context.Context, id int64, fn func(*domain.Invoice) error) (*domain.Invoice, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	invoice, err := getInvoice(ctx, tx, "id = ?", id)
	if err != nil {
		return nil, err
	}

	if err := fn(invoice); err != nil {
		return nil, err
	}

	if err := updateLifecycle(ctx, tx, invoice); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return invoice, nil
}

// updateLifecycle persists the fields that change after creation. The
// number is deliberately absent; only Renumber writes it.
func updateLifecycle(ctx context.Context, q querier, invoice *domain.Invoice) error {
	result, err := q.ExecContext(ctx, `
		UPDATE invoices
		SET status = ?, registration_status = ?, amount_paid = ?, notes = ?, due_date = ?,
		    sent_at = ?, paid_at = ?, submitted_at = ?, updated_at = ?
		WHERE id = ?
	`,
		string(invoice.Status),
		string(invoice.Registration),
		invoice.AmountPaid.String(),
		invoice.Notes,
		nullableTime(invoice.DueDate),
		nullableTime(invoice.SentAt),
		nullableTime(invoice.PaidAt),
		nullableTime(invoice.SubmittedAt),
		formatTime(invoice.UpdatedAt),
		invoice.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("invoice %d: %w", invoice.ID, domain.ErrNotFound)
	}

	return nil
}

// Renumber changes an invoice's number and appends the audit record. The
// invoice is reloaded inside the transaction so the tier decision reflects
// committed state, not whatever the caller read earlier.
func (r *InvoiceRepo) Renumber(ctx context.Context, req domain.RenumberRequest) (*domain.Invoice, *domain.NumberChangeRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	invoice, err := getInvoice(ctx, tx, "id = ?", req.InvoiceID)
	if err != nil {
		return nil, nil, err
	}

	if err := domain.CheckRenumber(invoice, req); err != nil {
		return nil, nil, err
	}

	taken, err := numberExists(ctx, tx, req.NewNumber, invoice.ID)
	if err != nil {
		return nil, nil, err
	}
	if taken {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrDuplicateNumber, req.NewNumber)
	}

	record := domain.NewNumberChangeRecord(invoice, req.NewNumber, req.Reason, req.Actor)
	now := record.ChangedAt

	result, err := tx.ExecContext(ctx,
		"UPDATE invoices SET invoice_number = ?, updated_at = ? WHERE id = ? AND invoice_number = ?",
		req.NewNumber, formatTime(now), invoice.ID, invoice.Number,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrDuplicateNumber, req.NewNumber)
		}
		return nil, nil, fmt.Errorf("failed to renumber invoice: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil, fmt.Errorf("invoice %d changed concurrently: %w", invoice.ID, domain.ErrNotFound)
	}

	result, err = tx.ExecContext(ctx, `
		INSERT INTO number_changes (invoice_id, old_number, new_number, reason, status_at_change, actor, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		record.InvoiceID,
		record.OldNumber,
		record.NewNumber,
		record.Reason,
		string(record.StatusAtChange),
		record.Actor,
		formatTime(record.ChangedAt),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record number change: %w", err)
	}
	if record.ID, err = result.LastInsertId(); err != nil {
		return nil, nil, fmt.Errorf("failed to get number change ID: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	invoice.Number = req.NewNumber
	invoice.UpdatedAt = now
	return invoice, record, nil
}

// scanInvoice reads one row selected with invoiceColumns
func scanInvoice(s rowScanner) (*domain.Invoice, error) {
	invoice := &domain.Invoice{}
	var issueDate, status, registration, createdAt, updatedAt string
	var subtotal, discount, taxRate, taxAmount, total, amountPaid string
	var dueDate, sentAt, paidAt, submittedAt sql.NullString

	err := s.Scan(
		&invoice.ID,
		&invoice.Number,
		&invoice.ClientID,
		&issueDate,
		&dueDate,
		&invoice.Notes,
		&status,
		&registration,
		&subtotal,
		&discount,
		&taxRate,
		&taxAmount,
		&total,
		&amountPaid,
		&sentAt,
		&paidAt,
		&submittedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan invoice: %w", err)
	}

	invoice.Status = domain.Status(status)
	invoice.Registration = domain.RegistrationStatus(registration)

	for _, f := range []struct {
		dst   *time.Time
		src   string
		field string
	}{
		{&invoice.IssueDate, issueDate, "issue_date"},
		{&invoice.CreatedAt, createdAt, "created_at"},
		{&invoice.UpdatedAt, updatedAt, "updated_at"},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", f.field, err)
		}
	}

	if invoice.DueDate, err = parseNullTime(dueDate, "due_date"); err != nil {
		return nil, err
	}
	if invoice.SentAt, err = parseNullTime(sentAt, "sent_at"); err != nil {
		return nil, err
	}
	if invoice.PaidAt, err = parseNullTime(paidAt, "paid_at"); err != nil {
		return nil, err
	}
	if invoice.SubmittedAt, err = parseNullTime(submittedAt, "submitted_at"); err != nil {
		return nil, err
	}

	if invoice.Subtotal, err = parseDecimal(subtotal, "subtotal"); err != nil {
		return nil, err
	}
	if invoice.DiscountAmount, err = parseDecimal(discount, "discount_amount"); err != nil {
		return nil, err
	}
	if invoice.TaxRate, err = parseDecimal(taxRate, "tax_rate"); err != nil {
		return nil, err
	}
	if invoice.TaxAmount, err = parseDecimal(taxAmount, "tax_amount"); err != nil {
		return nil, err
	}
	if invoice.Total, err = parseDecimal(total, "total"); err != nil {
		return nil, err
	}
	if invoice.AmountPaid, err = parseDecimal(amountPaid, "amount_paid"); err != nil {
		return nil, err
	}

	return invoice, nil
}
