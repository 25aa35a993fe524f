package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/andy/tallybook/internal/domain"
	"github.com/andy/tallybook/internal/repository"
)

// PaymentService records payments and keeps invoice balances reconciled
type PaymentService interface {
	// Apply records a payment and returns the reconciled invoice
	Apply(ctx context.Context, invoiceID int64, amount decimal.Decimal, date time.Time, method domain.PaymentMethod, reference string) (*domain.Invoice, *domain.Payment, error)

	// Reverse deletes a payment and returns the reconciled invoice
	Reverse(ctx context.Context, invoiceID, paymentID int64) (*domain.Invoice, error)

	// List returns the payments of an invoice
	List(ctx context.Context, invoiceID int64) ([]*domain.Payment, error)
}

type paymentService struct {
	paymentRepo repository.PaymentRepository
	policy      domain.Policy
	log         zerolog.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(paymentRepo repository.PaymentRepository, policy domain.Policy, log zerolog.Logger) PaymentService {
	return &paymentService{
		paymentRepo: paymentRepo,
		policy:      policy,
		log:         log,
	}
}

func (s *paymentService) Apply(
	ctx context.Context,
	invoiceID int64,
	amount decimal.Decimal,
	date time.Time,
	method domain.PaymentMethod,
	reference string,
) (*domain.Invoice, *domain.Payment, error) {
	if date.IsZero() {
		date = time.Now()
	}
	payment := domain.NewPayment(invoiceID, amount, date, method, reference)

	invoice, err := s.paymentRepo.Apply(ctx, payment, s.policy)
	if err != nil {
		if domain.IsUserError(err) {
			s.log.Warn().Err(err).Int64("invoice_id", invoiceID).Str("amount", amount.String()).Msg("payment refused")
		}
		return nil, nil, err
	}

	s.log.Info().
		Int64("invoice_id", invoiceID).
		Int64("payment_id", payment.ID).
		Str("amount", amount.StringFixed(2)).
		Str("status", string(invoice.Status)).
		Msg("payment recorded")
	return invoice, payment, nil
}

func (s *paymentService) Reverse(ctx context.Context, invoiceID, paymentID int64) (*domain.Invoice, error) {
	invoice, err := s.paymentRepo.Reverse(ctx, invoiceID, paymentID)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("invoice_id", invoiceID).
		Int64("payment_id", paymentID).
		Str("status", string(invoice.Status)).
		Msg("payment reversed")
	return invoice, nil
}

func (s *paymentService) List(ctx context.Context, invoiceID int64) ([]*domain.Payment, error) {
	return s.paymentRepo.ListByInvoice(ctx, invoiceID)
}
