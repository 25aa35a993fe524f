package repository

import (
	"context"

	"github.com/andy/tallybook/internal/domain"
)

// ClientRepository manages client persistence
type ClientRepository interface {
	Create(ctx context.Context, client *domain.Client) error
	GetByID(ctx context.Context, id int64) (*domain.Client, error)
	GetByName(ctx context.Context, name string) (*domain.Client, error)
	List(ctx context.Context, includeArchived bool) ([]*domain.Client, error)
	Update(ctx context.Context, client *domain.Client) error
	Archive(ctx context.Context, id int64) error
}

// CounterRepository is the sequence ledger: one counter row per numbering line
type CounterRepository interface {
	// Provision creates the counter for line if it does not exist yet.
	// It reports whether a row was created.
	Provision(ctx context.Context, line domain.Line, prefix string) (bool, error)
	// Issue atomically increments the counter and returns the value it held
	Issue(ctx context.Context, line domain.Line) (prefix string, value int64, err error)
	Get(ctx context.Context, line domain.Line) (*domain.NumberingCounter, error)
	List(ctx context.Context) ([]*domain.NumberingCounter, error)
}

// InvoiceFilter narrows List results; zero values mean "any"
type InvoiceFilter struct {
	ClientID *int64
	Status   *domain.Status
	Prefix   string
}

// InvoiceRepository manages invoice persistence
type InvoiceRepository interface {
	// CreateNumbered issues a number from line's counter and inserts the
	// invoice with its line items in one unit of work
	CreateNumbered(ctx context.Context, invoice *domain.Invoice, line domain.Line) error
	GetByID(ctx context.Context, id int64) (*domain.Invoice, error)
	GetByNumber(ctx context.Context, number string) (*domain.Invoice, error)
	// List returns invoices ordered by creation time, oldest first
	List(ctx context.Context, filter InvoiceFilter) ([]*domain.Invoice, error)
	GetLineItems(ctx context.Context, invoiceID int64) ([]*domain.InvoiceLineItem, error)
	// NumberExists reports whether an invoice other than excludeID holds number
	NumberExists(ctx context.Context, number string, excludeID int64) (bool, error)
	// Mutate loads the invoice, applies fn and persists lifecycle fields, all
	// in one unit of work. Nothing is written when fn fails.
	Mutate(ctx context.Context, id int64, fn func(*domain.Invoice) error) (*domain.Invoice, error)
	// Renumber re-checks the edit tier, uniqueness and no-op rules, writes the
	// new number and appends a NumberChangeRecord in one unit of work
	Renumber(ctx context.Context, req domain.RenumberRequest) (*domain.Invoice, *domain.NumberChangeRecord, error)
}

// PaymentRepository records payments and re-derives the owning invoice's balance
type PaymentRepository interface {
	Apply(ctx context.Context, payment *domain.Payment, policy domain.Policy) (*domain.Invoice, error)
	Reverse(ctx context.Context, invoiceID, paymentID int64) (*domain.Invoice, error)
	ListByInvoice(ctx context.Context, invoiceID int64) ([]*domain.Payment, error)
}

// NumberChangeRepository reads the number-change audit trail. Records are
// written only by InvoiceRepository.Renumber; there is no update or delete.
type NumberChangeRepository interface {
	ListByInvoice(ctx context.Context, invoiceID int64) ([]*domain.NumberChangeRecord, error)
	List(ctx context.Context, limit int) ([]*domain.NumberChangeRecord, error)
}

// AuditRepository is the append-only administrative log
type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	List(ctx context.Context, action string, limit int) ([]*domain.AuditEntry, error)
}
