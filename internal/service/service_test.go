package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/andy/tallybook/internal/domain"
	"github.com/andy/tallybook/internal/lock"
	"github.com/andy/tallybook/internal/repository/memstore"
)

var testPrefixes = map[domain.Line]string{
	domain.LineTaxable:  "INV",
	domain.LineExempt:   "EX",
	domain.LineWriteOff: "WO",
}

type harness struct {
	store     *memstore.Store
	locker    *lock.Local
	invoices  InvoiceService
	numbering NumberingService
	payments  PaymentService
	reports   ReportService
	client    *domain.Client
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithPolicy(t, domain.DefaultPolicy())
}

func newHarnessWithPolicy(t *testing.T, policy domain.Policy) *harness {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	locker := lock.NewLocal()
	log := zerolog.Nop()

	h := &harness{
		store:  store,
		locker: locker,
		invoices: NewInvoiceService(
			store.Invoices(), store.Clients(), store.Payments(),
			store.NumberChanges(), store.Audit(), policy, testPrefixes, log,
		),
		numbering: NewNumberingService(store.Counters(), store.Invoices(), store.Audit(), locker, testPrefixes, log),
		payments:  NewPaymentService(store.Payments(), policy, log),
		reports:   NewReportService(store.Invoices(), store.NumberChanges(), testPrefixes),
	}

	created, err := h.numbering.Provision(ctx, "test")
	require.NoError(t, err)
	require.Len(t, created, 3)

	h.client = domain.NewClient("Acme", "", 30)
	require.NoError(t, store.Clients().Create(ctx, h.client))
	return h
}

func (h *harness) create(t *testing.T, taxable, writeOff bool, unitPrice string) *domain.Invoice {
	t.Helper()
	inv, err := h.invoices.Create(context.Background(), CreateInvoiceInput{
		ClientID:   h.client.ID,
		IssueDate:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		IsTaxable:  taxable,
		IsWriteOff: writeOff,
		LineItems: []LineItemInput{
			{Description: "Consulting", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString(unitPrice)},
		},
	})
	require.NoError(t, err)
	return inv
}

// numbered creates a taxable draft and moves it to number
func (h *harness) numbered(t *testing.T, number string) *domain.Invoice {
	t.Helper()
	inv := h.create(t, true, false, "100.00")
	if inv.Number == number {
		return inv
	}
	out, _, err := h.invoices.Renumber(context.Background(), domain.RenumberRequest{
		InvoiceID: inv.ID, NewNumber: number, Reason: "setup", Actor: "test",
	})
	require.NoError(t, err)
	return out
}

func (h *harness) transition(t *testing.T, id int64, to ...domain.Status) *domain.Invoice {
	t.Helper()
	var inv *domain.Invoice
	var err error
	for _, s := range to {
		inv, err = h.invoices.Transition(context.Background(), id, s)
		require.NoError(t, err)
	}
	return inv
}
