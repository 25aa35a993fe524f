package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. All of them are recoverable and user-facing; storage
// failures are not part of this taxonomy.
var (
	ErrNotFound            = errors.New("not found")
	ErrConfiguration       = errors.New("numbering counter not provisioned")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrLocked              = errors.New("invoice number is locked")
	ErrDuplicateNumber     = errors.New("invoice number already in use")
	ErrNoOpChange          = errors.New("new invoice number equals the current number")
	ErrInvalidAmount       = errors.New("payment amount must be positive")
	ErrOverpayment         = errors.New("payment exceeds the outstanding balance")
	ErrInsufficientPayment = errors.New("invoice cannot be marked paid before it is fully paid")
	ErrPaymentNotAccepted  = errors.New("invoice does not accept payments in its current status")
	ErrDeletionBlocked     = errors.New("invoice cannot be deleted")
	ErrRegistrationFinal   = errors.New("invoice registration is final once submitted")
	ErrResequenceBusy      = errors.New("a resequence of this numbering line is already running")
	ErrStatusChanged       = errors.New("invoice status changed")
)

// ConfigurationError reports a numbering line without a provisioned counter
type ConfigurationError struct {
	Line Line
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v: line %q (run `tallybook numbering provision`)", ErrConfiguration, e.Line)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// InvalidTransitionError reports a lifecycle move that is not in the table
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// LockedError carries the compliance explanation for a locked number
type LockedError struct {
	InvoiceID int64
	Message   string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrLocked, e.Message)
}

func (e *LockedError) Unwrap() error {
	return ErrLocked
}

// StatusChangedError reports an invoice that left the status a change was
// planned against
type StatusChangedError struct {
	InvoiceID int64
	Want      Status
	Got       Status
}

func (e *StatusChangedError) Error() string {
	return fmt.Sprintf("%v: invoice %d is %s, expected %s", ErrStatusChanged, e.InvoiceID, e.Got, e.Want)
}

func (e *StatusChangedError) Unwrap() error {
	return ErrStatusChanged
}

// DeletionBlockedError explains why an invoice cannot be deleted
type DeletionBlockedError struct {
	InvoiceID int64
	Reason    string
}

func (e *DeletionBlockedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrDeletionBlocked, e.Reason)
}

func (e *DeletionBlockedError) Unwrap() error {
	return ErrDeletionBlocked
}

// IsUserError returns true for recoverable errors caused by the request
// rather than by the infrastructure.
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrConfiguration, ErrInvalidTransition, ErrLocked,
		ErrDuplicateNumber, ErrNoOpChange, ErrInvalidAmount, ErrOverpayment,
		ErrInsufficientPayment, ErrPaymentNotAccepted, ErrDeletionBlocked,
		ErrRegistrationFinal, ErrResequenceBusy, ErrStatusChanged,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
