package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCard         PaymentMethod = "card"
	MethodCheque       PaymentMethod = "cheque"
	MethodOther        PaymentMethod = "other"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodCard, MethodCheque, MethodOther:
		return true
	}
	return false
}

type Payment struct {
	ID        int64
	InvoiceID int64
	Amount    decimal.Decimal
	Date      time.Time
	Method    PaymentMethod
	Reference string
	CreatedAt time.Time
}

// NewPayment creates a payment against an invoice
func NewPayment(invoiceID int64, amount decimal.Decimal, date time.Time, method PaymentMethod, reference string) *Payment {
	if method == "" {
		method = MethodBankTransfer
	}
	return &Payment{
		InvoiceID: invoiceID,
		Amount:    amount,
		Date:      date,
		Method:    method,
		Reference: strings.TrimSpace(reference),
		CreatedAt: time.Now(),
	}
}

// Validate returns an error if the payment is invalid
func (p *Payment) Validate() error {
	if p.InvoiceID <= 0 {
		return errors.New("invoice ID is required")
	}
	if !p.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if p.Date.IsZero() {
		return errors.New("payment date is required")
	}
	if !p.Method.IsValid() {
		return errors.New("invalid payment method")
	}
	return nil
}

// AcceptsPayments reports whether payments may be recorded against inv
func AcceptsPayments(inv *Invoice) bool {
	switch inv.Status {
	case StatusDraft, StatusCancelled, StatusWrittenOff:
		return false
	}
	return true
}

// CheckPayment validates a new payment against the invoice it targets.
// paidSoFar is the current sum of the invoice's payments.
func CheckPayment(inv *Invoice, p *Payment, paidSoFar decimal.Decimal, policy Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if !AcceptsPayments(inv) {
		return ErrPaymentNotAccepted
	}
	if !policy.AllowOverpayment && paidSoFar.Add(p.Amount).GreaterThan(inv.Total) {
		return ErrOverpayment
	}
	return nil
}

// SumPayments adds up payment amounts
func SumPayments(payments []*Payment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	return sum
}

// Reconcile re-derives AmountPaid and the payment-driven status of inv from
// the complete set of its payments. It never increments: the result depends
// only on the set, so concurrent writers converge on the same state.
func Reconcile(inv *Invoice, payments []*Payment, now time.Time) {
	inv.AmountPaid = SumPayments(payments)
	inv.UpdatedAt = now
	if !AcceptsPayments(inv) {
		// closed invoices keep their status; only the balance follows the set
		return
	}

	switch {
	case inv.AmountPaid.IsPositive() && inv.AmountPaid.GreaterThanOrEqual(inv.Total):
		if inv.Status != StatusPaid || inv.PaidAt == nil {
			inv.PaidAt = &now
		}
		inv.Status = StatusPaid
	case inv.AmountPaid.IsPositive():
		inv.Status = StatusPartiallyPaid
		inv.PaidAt = nil
	case inv.Status == StatusPaid || inv.Status == StatusPartiallyPaid:
		// every payment was reversed; fall back to the open state the due
		// date implies
		inv.Status = StatusSent
		if inv.DueDate != nil && now.After(*inv.DueDate) {
			inv.Status = StatusOverdue
		}
		inv.PaidAt = nil
	}
}
