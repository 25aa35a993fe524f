package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/andy/tallybook/internal/domain"
	"github.com/andy/tallybook/internal/repository"
)

// LineItemInput is one billed line supplied by the creation workflow
type LineItemInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// CreateInvoiceInput carries everything needed to create a numbered invoice
type CreateInvoiceInput struct {
	ClientID  int64
	IssueDate time.Time
	DueDate   *time.Time // nil derives it from the client's payment term
	Notes     string
	TaxRate   decimal.Decimal
	Discount  decimal.Decimal
	LineItems []LineItemInput

	// Numbering line selectors
	IsTaxable  bool
	IsWriteOff bool
}

// InvoiceService manages invoice creation, lifecycle and number changes
type InvoiceService interface {
	// Create issues a number from the selected line and stores the invoice
	Create(ctx context.Context, in CreateInvoiceInput) (*domain.Invoice, error)

	// Get retrieves an invoice with its line items and client
	Get(ctx context.Context, id int64) (*domain.Invoice, error)

	// GetByNumber retrieves an invoice by its current number
	GetByNumber(ctx context.Context, number string) (*domain.Invoice, error)

	// List lists invoices with optional filters
	List(ctx context.Context, filter repository.InvoiceFilter) ([]*domain.Invoice, error)

	// Transition applies a manual status change
	Transition(ctx context.Context, id int64, to domain.Status) (*domain.Invoice, error)

	// RecordView marks a sent invoice as viewed; other statuses are untouched
	RecordView(ctx context.Context, id int64) (*domain.Invoice, bool, error)

	// CheckOverdue moves open invoices past their due date to overdue
	CheckOverdue(ctx context.Context, asOf time.Time) ([]*domain.Invoice, error)

	// EditStatus resolves the edit tier of an invoice number
	EditStatus(ctx context.Context, id int64) (domain.EditStatus, error)

	// Renumber changes an invoice number subject to its edit tier
	Renumber(ctx context.Context, req domain.RenumberRequest) (*domain.Invoice, *domain.NumberChangeRecord, error)

	// History lists the number changes of an invoice
	History(ctx context.Context, id int64) ([]*domain.NumberChangeRecord, error)

	// SetRegistration records the tax authority registration state
	SetRegistration(ctx context.Context, id int64, status domain.RegistrationStatus, actor string) (*domain.Invoice, error)

	// CheckDeletable returns nil when the invoice may be deleted
	CheckDeletable(ctx context.Context, id int64) error
}

type invoiceService struct {
	invoiceRepo repository.InvoiceRepository
	clientRepo  repository.ClientRepository
	paymentRepo repository.PaymentRepository
	changeRepo  repository.NumberChangeRepository
	auditRepo   repository.AuditRepository
	policy      domain.Policy
	prefixes    map[domain.Line]string
	log         zerolog.Logger
	now         func() time.Time
}

// NewInvoiceService creates a new invoice service
func NewInvoiceService(
	invoiceRepo repository.InvoiceRepository,
	clientRepo repository.ClientRepository,
	paymentRepo repository.PaymentRepository,
	changeRepo repository.NumberChangeRepository,
	auditRepo repository.AuditRepository,
	policy domain.Policy,
	prefixes map[domain.Line]string,
	log zerolog.Logger,
) InvoiceService {
	return &invoiceService{
		invoiceRepo: invoiceRepo,
		clientRepo:  clientRepo,
		paymentRepo: paymentRepo,
		changeRepo:  changeRepo,
		auditRepo:   auditRepo,
		policy:      policy,
		prefixes:    prefixes,
		log:         log,
		now:         time.Now,
	}
}

func (s *invoiceService) Create(ctx context.Context, in CreateInvoiceInput) (*domain.Invoice, error) {
	client, err := s.clientRepo.GetByID(ctx, in.ClientID)
	if err != nil {
		return nil, err
	}
	if client.IsArchived {
		return nil, fmt.Errorf("client %q is archived", client.Name)
	}
	if len(in.LineItems) == 0 {
		return nil, errors.New("invoice needs at least one line item")
	}

	line := domain.LineFor(in.IsTaxable, in.IsWriteOff)

	issueDate := in.IssueDate
	if issueDate.IsZero() {
		issueDate = s.now()
	}

	// write-off invoices are born written off; everything else starts as a draft
	invoice := domain.NewInvoice(client.ID, issueDate, line.EligibleStatus())
	invoice.Notes = strings.TrimSpace(in.Notes)
	invoice.DueDate = in.DueDate
	if invoice.DueDate == nil {
		invoice.DueDate = client.DueDateFor(issueDate)
	}
	invoice.DiscountAmount = in.Discount
	if line == domain.LineTaxable {
		invoice.TaxRate = in.TaxRate
	}
	for _, li := range in.LineItems {
		invoice.LineItems = append(invoice.LineItems, domain.NewLineItem(li.Description, li.Quantity, li.UnitPrice))
	}
	invoice.CalculateTotals()

	if err := s.invoiceRepo.CreateNumbered(ctx, invoice, line); err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			s.log.Error().Err(err).Str("line", line.String()).Msg("invoice creation refused")
		}
		return nil, err
	}
	invoice.Client = client

	s.log.Info().
		Int64("invoice_id", invoice.ID).
		Str("number", invoice.Number).
		Str("line", line.String()).
		Str("total", invoice.Total.StringFixed(2)).
		Msg("invoice created")

	return invoice, nil
}

func (s *invoiceService) Get(ctx context.Context, id int64) (*domain.Invoice, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, invoice)
}

func (s *invoiceService) GetByNumber(ctx context.Context, number string) (*domain.Invoice, error) {
	invoice, err := s.invoiceRepo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, invoice)
}

func (s *invoiceService) hydrate(ctx context.Context, invoice *domain.Invoice) (*domain.Invoice, error) {
	items, err := s.invoiceRepo.GetLineItems(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	invoice.LineItems = items

	client, err := s.clientRepo.GetByID(ctx, invoice.ClientID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	invoice.Client = client
	return invoice, nil
}

func (s *invoiceService) List(ctx context.Context, filter repository.InvoiceFilter) ([]*domain.Invoice, error) {
	return s.invoiceRepo.List(ctx, filter)
}

func (s *invoiceService) Transition(ctx context.Context, id int64, to domain.Status) (*domain.Invoice, error) {
	var from domain.Status
	invoice, err := s.invoiceRepo.Mutate(ctx, id, func(inv *domain.Invoice) error {
		from = inv.Status
		return domain.Transition(inv, to, s.now(), s.policy)
	})
	if err != nil {
		if domain.IsUserError(err) {
			s.log.Warn().Err(err).Int64("invoice_id", id).Msg("transition refused")
		}
		return nil, err
	}

	s.log.Info().
		Int64("invoice_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("invoice status changed")
	return invoice, nil
}

func (s *invoiceService) RecordView(ctx context.Context, id int64) (*domain.Invoice, bool, error) {
	changed := false
	invoice, err := s.invoiceRepo.Mutate(ctx, id, func(inv *domain.Invoice) error {
		changed = domain.MarkViewed(inv, s.now())
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return invoice, changed, nil
}

func (s *invoiceService) CheckOverdue(ctx context.Context, asOf time.Time) ([]*domain.Invoice, error) {
	invoices, err := s.invoiceRepo.List(ctx, repository.InvoiceFilter{})
	if err != nil {
		return nil, err
	}

	moved := make([]*domain.Invoice, 0)
	for _, inv := range invoices {
		if !domain.IsOverdue(inv, asOf) {
			continue
		}

		updated, err := s.invoiceRepo.Mutate(ctx, inv.ID, func(cur *domain.Invoice) error {
			// re-check against committed state
			if !domain.IsOverdue(cur, asOf) {
				return errNotOverdue
			}
			return domain.Transition(cur, domain.StatusOverdue, s.now(), s.policy)
		})
		if errors.Is(err, errNotOverdue) {
			continue
		}
		if err != nil {
			return moved, err
		}
		moved = append(moved, updated)
	}

	if len(moved) > 0 {
		s.log.Info().Int("count", len(moved)).Msg("invoices marked overdue")
	}
	return moved, nil
}

var errNotOverdue = errors.New("invoice is no longer overdue")

func (s *invoiceService) EditStatus(ctx context.Context, id int64) (domain.EditStatus, error) {
	invoice, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return domain.EditStatus{}, err
	}
	return domain.ResolveEditTier(invoice), nil
}

func (s *invoiceService) Renumber(ctx context.Context, req domain.RenumberRequest) (*domain.Invoice, *domain.NumberChangeRecord, error) {
	req.NewNumber = strings.TrimSpace(req.NewNumber)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.NewNumber == "" {
		return nil, nil, errors.New("new invoice number is required")
	}
	if req.Reason == "" {
		return nil, nil, errors.New("a reason is required to change an invoice number")
	}
	if req.Actor == "" {
		req.Actor = "unknown"
	}
	// only the resequencer may waive the write-off lock
	req.AllowWrittenOff = false

	invoice, record, err := s.invoiceRepo.Renumber(ctx, req)
	if err != nil {
		if domain.IsUserError(err) {
			s.log.Warn().Err(err).Int64("invoice_id", req.InvoiceID).Msg("renumber refused")
		}
		return nil, nil, err
	}

	s.log.Info().
		Int64("invoice_id", invoice.ID).
		Str("old", record.OldNumber).
		Str("new", record.NewNumber).
		Str("actor", record.Actor).
		Msg("invoice renumbered")
	return invoice, record, nil
}

func (s *invoiceService) History(ctx context.Context, id int64) ([]*domain.NumberChangeRecord, error) {
	if _, err := s.invoiceRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.changeRepo.ListByInvoice(ctx, id)
}

func (s *invoiceService) SetRegistration(ctx context.Context, id int64, status domain.RegistrationStatus, actor string) (*domain.Invoice, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("invalid registration status %q", status)
	}

	var previous domain.RegistrationStatus
	invoice, err := s.invoiceRepo.Mutate(ctx, id, func(inv *domain.Invoice) error {
		previous = inv.Registration
		if inv.IsSubmitted() && status != domain.RegistrationSubmitted {
			return domain.ErrRegistrationFinal
		}
		now := s.now()
		if status == domain.RegistrationSubmitted && !inv.IsSubmitted() {
			inv.SubmittedAt = &now
		}
		inv.Registration = status
		inv.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previous != status {
		line, _ := domain.LineOf(invoice.Number, s.prefixes)
		detail := fmt.Sprintf("%s: %s -> %s", invoice.Number, previous, status)
		if err := s.auditRepo.Append(ctx, domain.NewAuditEntry(domain.AuditRegistration, line, detail, actor)); err != nil {
			return nil, err
		}
		s.log.Info().Int64("invoice_id", id).Str("registration", string(status)).Msg("registration updated")
	}

	return invoice, nil
}

func (s *invoiceService) CheckDeletable(ctx context.Context, id int64) error {
	invoice, err := s.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if es := domain.ResolveEditTier(invoice); es.Tier == domain.TierLocked {
		return &domain.DeletionBlockedError{InvoiceID: id, Reason: es.Message}
	}
	if invoice.Status != domain.StatusDraft && invoice.Status != domain.StatusCancelled {
		return &domain.DeletionBlockedError{
			InvoiceID: id,
			Reason:    fmt.Sprintf("invoice is %s; only draft or cancelled invoices can be deleted", invoice.Status),
		}
	}

	payments, err := s.paymentRepo.ListByInvoice(ctx, id)
	if err != nil {
		return err
	}
	if len(payments) > 0 {
		return &domain.DeletionBlockedError{
			InvoiceID: id,
			Reason:    fmt.Sprintf("invoice has %d recorded payment(s)", len(payments)),
		}
	}

	return nil
}
