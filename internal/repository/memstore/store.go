// Package memstore is an in-process implementation of the repository
// contracts. Every unit of work runs under one mutex, matching the
// serialisation the SQLite store gets from its single connection.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andy/tallybook/internal/domain"
	"github.com/andy/tallybook/internal/repository"
)

type Store struct {
	mu sync.Mutex

	clients  map[int64]*domain.Client
	counters map[domain.Line]*domain.NumberingCounter
	invoices map[int64]*domain.Invoice
	payments map[int64]*domain.Payment
	changes  []*domain.NumberChangeRecord
	audit    []*domain.AuditEntry

	nextID int64
}

func New() *Store {
	return &Store{
		clients:  make(map[int64]*domain.Client),
		counters: make(map[domain.Line]*domain.NumberingCounter),
		invoices: make(map[int64]*domain.Invoice),
		payments: make(map[int64]*domain.Payment),
		changes:  make([]*domain.NumberChangeRecord, 0),
		audit:    make([]*domain.AuditEntry, 0),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Load copies counters and invoices into s, keeping their ids. It lets a
// resequence run against a scratch copy of another store.
func (s *Store) Load(counters []*domain.NumberingCounter, invoices []*domain.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range counters {
		cp := *c
		s.counters[c.Line] = &cp
	}
	for _, inv := range invoices {
		s.invoices[inv.ID] = cloneInvoice(inv)
		if inv.ID > s.nextID {
			s.nextID = inv.ID
		}
		for _, item := range inv.LineItems {
			if item.ID > s.nextID {
				s.nextID = item.ID
			}
		}
	}
}

// Clients returns the client repository view
func (s *Store) Clients() repository.ClientRepository { return clientView{s} }

// Counters returns the sequence ledger view
func (s *Store) Counters() repository.CounterRepository { return counterView{s} }

// Invoices returns the invoice repository view
func (s *Store) Invoices() repository.InvoiceRepository { return invoiceView{s} }

// Payments returns the payment repository view
func (s *Store) Payments() repository.PaymentRepository { return paymentView{s} }

// NumberChanges returns the number change trail view
func (s *Store) NumberChanges() repository.NumberChangeRepository { return changeView{s} }

// Audit returns the administrative log view
func (s *Store) Audit() repository.AuditRepository { return auditView{s} }

// Clients

type clientView struct{ s *Store }

func (v clientView) Create(_ context.Context, c *domain.Client) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid client: %w", err)
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	for _, existing := range v.s.clients {
		if existing.Name == c.Name {
			return fmt.Errorf("client %q already exists", c.Name)
		}
	}
	c.ID = v.s.id()
	cp := *c
	v.s.clients[c.ID] = &cp
	return nil
}

func (v clientView) GetByID(_ context.Context, id int64) (*domain.Client, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	c, ok := v.s.clients[id]
	if !ok {
		return nil, fmt.Errorf("client %d: %w", id, domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (v clientView) GetByName(_ context.Context, name string) (*domain.Client, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	for _, c := range v.s.clients {
		if c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("client %q: %w", name, domain.ErrNotFound)
}

func (v clientView) List(_ context.Context, includeArchived bool) ([]*domain.Client, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	out := make([]*domain.Client, 0, len(v.s.clients))
	for _, c := range v.s.clients {
		if c.IsArchived && !includeArchived {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v clientView) Update(_ context.Context, c *domain.Client) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid client: %w", err)
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, ok := v.s.clients[c.ID]; !ok {
		return fmt.Errorf("client %d: %w", c.ID, domain.ErrNotFound)
	}
	c.UpdatedAt = time.Now()
	cp := *c
	v.s.clients[c.ID] = &cp
	return nil
}

func (v clientView) Archive(_ context.Context, id int64) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	c, ok := v.s.clients[id]
	if !ok {
		return fmt.Errorf("client %d: %w", id, domain.ErrNotFound)
	}
	c.IsArchived = true
	c.UpdatedAt = time.Now()
	return nil
}

// Counters

type counterView struct{ s *Store }

func (v counterView) Provision(_ context.Context, line domain.Line, prefix string) (bool, error) {
	if !line.IsValid() {
		return false, fmt.Errorf("invalid numbering line %q", line)
	}
	if prefix == "" {
		return false, fmt.Errorf("numbering prefix is required")
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, ok := v.s.counters[line]; ok {
		return false, nil
	}
	v.s.counters[line] = &domain.NumberingCounter{Line: line, Prefix: prefix, NextValue: 1}
	return true, nil
}

func (v counterView) Issue(_ context.Context, line domain.Line) (string, int64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.s.issueLocked(line)
}

func (s *Store) issueLocked(line domain.Line) (string, int64, error) {
	c, ok := s.counters[line]
	if !ok {
		return "", 0, &domain.ConfigurationError{Line: line}
	}
	value := c.NextValue
	c.NextValue++
	return c.Prefix, value, nil
}

func (v counterView) Get(_ context.Context, line domain.Line) (*domain.NumberingCounter, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	c, ok := v.s.counters[line]
	if !ok {
		return nil, &domain.ConfigurationError{Line: line}
	}
	cp := *c
	return &cp, nil
}

func (v counterView) List(_ context.Context) ([]*domain.NumberingCounter, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	out := make([]*domain.NumberingCounter, 0, len(v.s.counters))
	for _, c := range v.s.counters {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out, nil
}

// Invoices

type invoiceView struct{ s *Store }

const maxIssueAttempts = 100

func (v invoiceView) CreateNumbered(_ context.Context, inv *domain.Invoice, line domain.Line) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	// snapshot the counter so a failed creation does not consume a value
	counter, ok := v.s.counters[line]
	if !ok {
		return &domain.ConfigurationError{Line: line}
	}
	before := counter.NextValue

	number := ""
	for range maxIssueAttempts {
		prefix, value, err := v.s.issueLocked(line)
		if err != nil {
			return err
		}
		candidate := domain.FormatNumber(prefix, value)
		if !v.s.numberHeldLocked(candidate, 0) {
			number = candidate
			break
		}
	}
	if number == "" {
		counter.NextValue = before
		return fmt.Errorf("no free number on line %s after %d attempts", line, maxIssueAttempts)
	}

	inv.Number = number
	if err := inv.Validate(); err != nil {
		counter.NextValue = before
		return fmt.Errorf("invalid invoice: %w", err)
	}

	inv.ID = v.s.id()
	for _, item := range inv.LineItems {
		item.ID = v.s.id()
		item.InvoiceID = inv.ID
	}
	v.s.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (s *Store) numberHeldLocked(number string, excludeID int64) bool {
	for _, inv := range s.invoices {
		if inv.Number == number && inv.ID != excludeID {
			return true
		}
	}
	return false
}

func (v invoiceView) GetByID(_ context.Context, id int64) (*domain.Invoice, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	inv, ok := v.s.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %d: %w", id, domain.ErrNotFound)
	}
	return cloneInvoice(inv), nil
}

func (v invoiceView) GetByNumber(_ context.Context, number string) (*domain.Invoice, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	for _, inv := range v.s.invoices {
		if inv.Number == number {
			return cloneInvoice(inv), nil
		}
	}
	return nil, fmt.Errorf("invoice %s: %w", number, domain.ErrNotFound)
}

func (v invoiceView) List(_ context.Context, filter repository.InvoiceFilter) ([]*domain.Invoice, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	out := make([]*domain.Invoice, 0, len(v.s.invoices))
	for _, inv := range v.s.invoices {
		if filter.ClientID != nil && inv.ClientID != *filter.ClientID {
			continue
		}
		if filter.Status != nil && inv.Status != *filter.Status {
			continue
		}
		if filter.Prefix != "" && !strings.HasPrefix(inv.Number, filter.Prefix+"-") {
			continue
		}
		out = append(out, cloneInvoice(inv))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v invoiceView) GetLineItems(_ context.Context, invoiceID int64) ([]*domain.InvoiceLineItem, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	inv, ok := v.s.invoices[invoiceID]
	if !ok {
		return []*domain.InvoiceLineItem{}, nil
	}
	return cloneInvoice(inv).LineItems, nil
}

func (v invoiceView) NumberExists(_ context.Context, number string, excludeID int64) (bool, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.s.numberHeldLocked(number, excludeID), nil
}

func (v invoiceView) Mutate(_ context.Context, id int64, fn func(*domain.Invoice) error) (*domain.Invoice, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	stored, ok := v.s.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %d: %w", id, domain.ErrNotFound)
	}

	working := cloneInvoice(stored)
	if err := fn(working); err != nil {
		return nil, err
	}
	// only Renumber may change the number
	working.Number = stored.Number

	v.s.invoices[id] = cloneInvoice(working)
	return working, nil
}

func (v invoiceView) Renumber(_ context.Context, req domain.RenumberRequest) (*domain.Invoice, *domain.NumberChangeRecord, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	stored, ok := v.s.invoices[req.InvoiceID]
	if !ok {
		return nil, nil, fmt.Errorf("invoice %d: %w", req.InvoiceID, domain.ErrNotFound)
	}

	if err := domain.CheckRenumber(stored, req); err != nil {
		return nil, nil, err
	}
	if v.s.numberHeldLocked(req.NewNumber, stored.ID) {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrDuplicateNumber, req.NewNumber)
	}

	record := domain.NewNumberChangeRecord(stored, req.NewNumber, req.Reason, req.Actor)
	record.ID = v.s.id()
	v.s.changes = append(v.s.changes, record)

	stored.Number = req.NewNumber
	stored.UpdatedAt = record.ChangedAt

	cp := *record
	return cloneInvoice(stored), &cp, nil
}

// Payments

type paymentView struct{ s *Store }

func (v paymentView) Apply(_ context.Context, p *domain.Payment, policy domain.Policy) (*domain.Invoice, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	stored, ok := v.s.invoices[p.InvoiceID]
	if !ok {
		return nil, fmt.Errorf("invoice %d: %w", p.InvoiceID, domain.ErrNotFound)
	}

	existing := v.s.paymentsOfLocked(stored.ID)
	if err := domain.CheckPayment(stored, p, domain.SumPayments(existing), policy); err != nil {
		return nil, err
	}

	p.ID = v.s.id()
	cp := *p
	v.s.payments[p.ID] = &cp

	domain.Reconcile(stored, v.s.paymentsOfLocked(stored.ID), time.Now())
	return cloneInvoice(stored), nil
}

func (v paymentView) Reverse(_ context.Context, invoiceID, paymentID int64) (*domain.Invoice, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	stored, ok := v.s.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("invoice %d: %w", invoiceID, domain.ErrNotFound)
	}
	p, ok := v.s.payments[paymentID]
	if !ok || p.InvoiceID != invoiceID {
		return nil, fmt.Errorf("payment %d on invoice %d: %w", paymentID, invoiceID, domain.ErrNotFound)
	}
	delete(v.s.payments, paymentID)

	domain.Reconcile(stored, v.s.paymentsOfLocked(stored.ID), time.Now())
	return cloneInvoice(stored), nil
}

func (v paymentView) ListByInvoice(_ context.Context, invoiceID int64) ([]*domain.Payment, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	list := v.s.paymentsOfLocked(invoiceID)
	out := make([]*domain.Payment, 0, len(list))
	for _, p := range list {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) paymentsOfLocked(invoiceID int64) []*domain.Payment {
	out := make([]*domain.Payment, 0)
	for _, p := range s.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Number changes

type changeView struct{ s *Store }

func (v changeView) ListByInvoice(_ context.Context, invoiceID int64) ([]*domain.NumberChangeRecord, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	out := make([]*domain.NumberChangeRecord, 0)
	for _, rec := range v.s.changes {
		if rec.InvoiceID == invoiceID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (v changeView) List(_ context.Context, limit int) ([]*domain.NumberChangeRecord, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	out := make([]*domain.NumberChangeRecord, 0, len(v.s.changes))
	for i := len(v.s.changes) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		cp := *v.s.changes[i]
		out = append(out, &cp)
	}
	return out, nil
}

// Audit log

type auditView struct{ s *Store }

func (v auditView) Append(_ context.Context, e *domain.AuditEntry) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	e.ID = v.s.id()
	cp := *e
	v.s.audit = append(v.s.audit, &cp)
	return nil
}

func (v auditView) List(_ context.Context, action string, limit int) ([]*domain.AuditEntry, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	out := make([]*domain.AuditEntry, 0)
	for i := len(v.s.audit) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		e := v.s.audit[i]
		if action != "" && e.Action != action {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func cloneInvoice(inv *domain.Invoice) *domain.Invoice {
	cp := *inv
	cp.LineItems = make([]*domain.InvoiceLineItem, 0, len(inv.LineItems))
	for _, item := range inv.LineItems {
		ic := *item
		cp.LineItems = append(cp.LineItems, &ic)
	}
	cp.Client = nil
	return &cp
}
