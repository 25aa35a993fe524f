package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/andy/tallybook/internal/db"
	"github.com/andy/tallybook/internal/domain"
)

// PaymentRepo is a SQLite implementation of PaymentRepository
type PaymentRepo struct {
	db *db.DB
}

// NewPaymentRepo creates a new PaymentRepo
func NewPaymentRepo(database *db.DB) *PaymentRepo {
	return &PaymentRepo{db: database}
}

// Apply records a payment and reconciles the invoice against the full set
// of its payments in one transaction
func (r *PaymentRepo) Apply(ctx context.Context, payment *domain.Payment, policy domain.Policy) (*domain.Invoice, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	invoice, err := getInvoice(ctx, tx, "id = ?", payment.InvoiceID)
	if err != nil {
		return nil, err
	}

	existing, err := listPayments(ctx, tx, invoice.ID)
	if err != nil {
		return nil, err
	}

	if err := domain.CheckPayment(invoice, payment, domain.SumPayments(existing), policy); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO payments (invoice_id, amount, payment_date, method, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		payment.InvoiceID,
		payment.Amount.String(),
		formatTime(payment.Date),
		string(payment.Method),
		payment.Reference,
		formatTime(payment.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get payment ID: %w", err)
	}
	payment.ID = id

	if err := reconcileTx(ctx, tx, invoice); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return invoice, nil
}

// Reverse deletes a payment and reconciles the invoice
func (r *PaymentRepo) Reverse(ctx context.Context, invoiceID, paymentID int64) (*domain.Invoice, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	invoice, err := getInvoice(ctx, tx, "id = ?", invoiceID)
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		"DELETE FROM payments WHERE id = ? AND invoice_id = ?",
		paymentID, invoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete payment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("payment %d on invoice %d: %w", paymentID, invoiceID, domain.ErrNotFound)
	}

	if err := reconcileTx(ctx, tx, invoice); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return invoice, nil
}

// reconcileTx re-reads the whole payment set and writes the derived state
func reconcileTx(ctx context.Context, q querier, invoice *domain.Invoice) error {
	payments, err := listPayments(ctx, q, invoice.ID)
	if err != nil {
		return err
	}

	domain.Reconcile(invoice, payments, time.Now())
	return updateLifecycle(ctx, q, invoice)
}

// ListByInvoice retrieves the payments of an invoice, oldest first
func (r *PaymentRepo) ListByInvoice(ctx context.Context, invoiceID int64) ([]*domain.Payment, error) {
	return listPayments(ctx, r.db, invoiceID)
}

func listPayments(ctx context.Context, q querier, invoiceID int64) ([]*domain.Payment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, invoice_id, amount, payment_date, method, reference, created_at
		FROM payments
		WHERE invoice_id = ?
		ORDER BY payment_date, id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]*domain.Payment, 0)
	for rows.Next() {
		p := &domain.Payment{}
		var amount, date, method, createdAt string

		if err := rows.Scan(&p.ID, &p.InvoiceID, &amount, &date, &method, &p.Reference, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}

		if p.Amount, err = parseDecimal(amount, "amount"); err != nil {
			return nil, err
		}
		if p.Date, err = parseTime(date); err != nil {
			return nil, fmt.Errorf("failed to parse payment_date: %w", err)
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		p.Method = domain.PaymentMethod(method)

		payments = append(payments, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}

	return payments, nil
}
