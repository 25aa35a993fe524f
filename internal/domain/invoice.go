package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft         Status = "draft"
	StatusSent          Status = "sent"
	StatusViewed        Status = "viewed"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusOverdue       Status = "overdue"
	StatusCancelled     Status = "cancelled"
	StatusWrittenOff    Status = "written_off"
)

// Statuses lists every lifecycle status
var Statuses = []Status{
	StatusDraft, StatusSent, StatusViewed, StatusPartiallyPaid,
	StatusPaid, StatusOverdue, StatusCancelled, StatusWrittenOff,
}

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal returns true for statuses with no outgoing transitions
func (s Status) IsTerminal() bool {
	return s.IsValid() && len(transitions[s]) == 0
}

// ParseStatus converts user input into a Status
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", errors.New("unknown invoice status: " + s)
	}
	return st, nil
}

// RegistrationStatus tracks submission of the invoice to an external tax authority
type RegistrationStatus string

const (
	RegistrationNotSubmitted RegistrationStatus = "not_submitted"
	RegistrationSubmitted    RegistrationStatus = "submitted"
	RegistrationRejected     RegistrationStatus = "rejected"
)

func (r RegistrationStatus) IsValid() bool {
	switch r {
	case RegistrationNotSubmitted, RegistrationSubmitted, RegistrationRejected:
		return true
	}
	return false
}

type Invoice struct {
	ID           int64
	Number       string
	ClientID     int64
	IssueDate    time.Time
	DueDate      *time.Time
	Notes        string
	Status       Status
	Registration RegistrationStatus

	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	TaxRate        decimal.Decimal // fraction, 0.19 = 19%
	TaxAmount      decimal.Decimal
	Total          decimal.Decimal
	AmountPaid     decimal.Decimal

	SentAt      *time.Time
	PaidAt      *time.Time
	SubmittedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Related data (populated by repository)
	LineItems []*InvoiceLineItem
	Client    *Client
}

type InvoiceLineItem struct {
	ID          int64
	InvoiceID   int64
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
}

// NewLineItem builds a line item and computes its amount
func NewLineItem(description string, quantity, unitPrice decimal.Decimal) *InvoiceLineItem {
	return &InvoiceLineItem{
		Description: strings.TrimSpace(description),
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Amount:      quantity.Mul(unitPrice).Round(2),
	}
}

// NewInvoice creates a new invoice without a number. The number is assigned
// by the sequence ledger when the invoice is persisted.
func NewInvoice(clientID int64, issueDate time.Time, status Status) *Invoice {
	now := time.Now()
	return &Invoice{
		ClientID:     clientID,
		IssueDate:    issueDate,
		Status:       status,
		Registration: RegistrationNotSubmitted,
		CreatedAt:    now,
		UpdatedAt:    now,
		LineItems:    make([]*InvoiceLineItem, 0),
	}
}

// CalculateTotals recalculates subtotal, tax and total from line items.
// Tax applies to the discounted subtotal; amounts are rounded to cents.
func (i *Invoice) CalculateTotals() {
	i.Subtotal = decimal.Zero
	for _, item := range i.LineItems {
		i.Subtotal = i.Subtotal.Add(item.Amount)
	}
	taxable := i.Subtotal.Sub(i.DiscountAmount)
	i.TaxAmount = taxable.Mul(i.TaxRate).Round(2)
	i.Total = taxable.Add(i.TaxAmount).Round(2)
	i.UpdatedAt = time.Now()
}

// Balance is the amount still owed; negative when overpaid
func (i *Invoice) Balance() decimal.Decimal {
	return i.Total.Sub(i.AmountPaid)
}

// IsSubmitted reports whether the invoice is registered with the tax authority
func (i *Invoice) IsSubmitted() bool {
	return i.Registration == RegistrationSubmitted
}

// Validate returns an error if the invoice is invalid
func (i *Invoice) Validate() error {
	if strings.TrimSpace(i.Number) == "" {
		return errors.New("invoice number is required")
	}
	if i.ClientID <= 0 {
		return errors.New("client ID is required")
	}
	if i.IssueDate.IsZero() {
		return errors.New("issue date is required")
	}
	if i.DueDate != nil && i.DueDate.Before(i.IssueDate) {
		return errors.New("due date must not be before issue date")
	}
	if !i.Status.IsValid() {
		return errors.New("invalid invoice status")
	}
	if !i.Registration.IsValid() {
		return errors.New("invalid registration status")
	}
	if i.TaxRate.IsNegative() || i.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("tax rate must be between 0 and 1")
	}
	if i.DiscountAmount.IsNegative() {
		return errors.New("discount cannot be negative")
	}
	if i.DiscountAmount.GreaterThan(i.Subtotal) {
		return errors.New("discount cannot exceed subtotal")
	}
	for _, item := range i.LineItems {
		if item.Description == "" {
			return errors.New("line item description is required")
		}
		if !item.Quantity.IsPositive() {
			return errors.New("line item quantity must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return errors.New("line item unit price cannot be negative")
		}
	}
	return nil
}
