package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andy/tallybook/internal/domain"
	"github.com/andy/tallybook/internal/repository"
	"github.com/andy/tallybook/internal/repository/memstore"
)

// failingInvoiceRepo fails every unit of work with a storage error
type failingInvoiceRepo struct {
	repository.InvoiceRepository
	err error
}

func (m *failingInvoiceRepo) GetByID(ctx context.Context, id int64) (*domain.Invoice, error) {
	return nil, m.err
}
func (m *failingInvoiceRepo) Mutate(ctx context.Context, id int64, fn func(*domain.Invoice) error) (*domain.Invoice, error) {
	return nil, m.err
}
func (m *failingInvoiceRepo) Renumber(ctx context.Context, req domain.RenumberRequest) (*domain.Invoice, *domain.NumberChangeRecord, error) {
	return nil, nil, m.err
}

func TestCreate_NumberingLines(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv, err := h.invoices.Create(ctx, CreateInvoiceInput{
		ClientID:  h.client.ID,
		IssueDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		TaxRate:   decimal.RequireFromString("0.19"),
		Discount:  decimal.RequireFromString("10"),
		IsTaxable: true,
		LineItems: []LineItemInput{
			{Description: "Design", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("50")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "INV-0001", inv.Number)
	assert.Equal(t, domain.StatusDraft, inv.Status)
	assert.True(t, decimal.RequireFromString("17.10").Equal(inv.TaxAmount), "tax %s", inv.TaxAmount)
	assert.True(t, decimal.RequireFromString("107.10").Equal(inv.Total), "total %s", inv.Total)
	require.NotNil(t, inv.DueDate)
	assert.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), *inv.DueDate)

	second := h.create(t, true, false, "10")
	assert.Equal(t, "INV-0002", second.Number)

	exempt, err := h.invoices.Create(ctx, CreateInvoiceInput{
		ClientID: h.client.ID,
		TaxRate:  decimal.RequireFromString("0.19"),
		LineItems: []LineItemInput{
			{Description: "Training", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("80")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "EX-0001", exempt.Number)
	assert.True(t, exempt.TaxAmount.IsZero())

	wo := h.create(t, true, true, "25")
	assert.Equal(t, "WO-0001", wo.Number)
	assert.Equal(t, domain.StatusWrittenOff, wo.Status)
}

func TestCreate_Refusals(t *testing.T) {
	ctx := context.Background()

	t.Run("unprovisioned line", func(t *testing.T) {
		store := memstore.New()
		client := domain.NewClient("Solo", "", 0)
		require.NoError(t, store.Clients().Create(ctx, client))

		svc := NewInvoiceService(store.Invoices(), store.Clients(), store.Payments(),
			store.NumberChanges(), store.Audit(), domain.DefaultPolicy(), testPrefixes, zerolog.Nop())

		_, err := svc.Create(ctx, CreateInvoiceInput{
			ClientID:  client.ID,
			IsTaxable: true,
			LineItems: []LineItemInput{{Description: "x", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1)}},
		})
		var cfgErr *domain.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, domain.LineTaxable, cfgErr.Line)
	})

	t.Run("archived client", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Clients().Archive(ctx, h.client.ID))

		_, err := h.invoices.Create(ctx, CreateInvoiceInput{
			ClientID:  h.client.ID,
			LineItems: []LineItemInput{{Description: "x", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1)}},
		})
		assert.Error(t, err)
	})

	t.Run("failed creation does not consume a number", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.invoices.Create(ctx, CreateInvoiceInput{
			ClientID:  h.client.ID,
			IsTaxable: true,
			Discount:  decimal.NewFromInt(500),
			LineItems: []LineItemInput{{Description: "x", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(1)}},
		})
		require.Error(t, err)

		inv := h.create(t, true, false, "1")
		assert.Equal(t, "INV-0001", inv.Number)
	})
}

func TestTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inv := h.create(t, true, false, "100")

	_, err := h.invoices.Transition(ctx, inv.ID, domain.StatusPaid)
	var trErr *domain.InvalidTransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, domain.StatusDraft, trErr.From)

	got, err := h.invoices.Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, got.Status, "failed transition leaves the invoice unchanged")
	assert.Len(t, got.LineItems, 1)
	require.NotNil(t, got.Client)
	assert.Equal(t, "Acme", got.Client.Name)

	sent := h.transition(t, inv.ID, domain.StatusSent)
	require.NotNil(t, sent.SentAt)

	paid := h.transition(t, inv.ID, domain.StatusPaid)
	require.NotNil(t, paid.PaidAt)
	assert.True(t, paid.Status.IsTerminal())
}

func TestTransition_StrictManualPaid(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.AllowManualPaidWithoutBalance = false
	h := newHarnessWithPolicy(t, policy)

	inv := h.create(t, true, false, "100")
	h.transition(t, inv.ID, domain.StatusSent)

	_, err := h.invoices.Transition(context.Background(), inv.ID, domain.StatusPaid)
	assert.ErrorIs(t, err, domain.ErrInsufficientPayment)
}

func TestRecordView(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inv := h.create(t, true, false, "100")

	_, changed, err := h.invoices.RecordView(ctx, inv.ID)
	require.NoError(t, err)
	assert.False(t, changed, "drafts are not viewable")

	h.transition(t, inv.ID, domain.StatusSent)
	viewed, changed, err := h.invoices.RecordView(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.StatusViewed, viewed.Status)

	_, changed, err = h.invoices.RecordView(ctx, inv.ID)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCheckOverdue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft := h.create(t, true, false, "100")
	sent := h.create(t, true, false, "100")
	h.transition(t, sent.ID, domain.StatusSent)

	// due 2026-03-31
	moved, err := h.invoices.CheckOverdue(ctx, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, moved)

	moved, err = h.invoices.CheckOverdue(ctx, time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, sent.ID, moved[0].ID)
	assert.Equal(t, domain.StatusOverdue, moved[0].Status)

	got, err := h.invoices.Get(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, got.Status)
}

func TestEditStatusAndRenumber(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("free draft", func(t *testing.T) {
		inv := h.create(t, true, false, "100")
		es, err := h.invoices.EditStatus(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TierFree, es.Tier)
		assert.Equal(t, domain.MsgFree, es.Message)
	})

	t.Run("warning once sent, change is audited", func(t *testing.T) {
		inv := h.create(t, true, false, "100")
		h.transition(t, inv.ID, domain.StatusSent)

		es, err := h.invoices.EditStatus(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TierWarning, es.Tier)

		out, rec, err := h.invoices.Renumber(ctx, domain.RenumberRequest{
			InvoiceID: inv.ID, NewNumber: " INV-0100 ", Reason: "client PO format", Actor: "alice",
		})
		require.NoError(t, err)
		assert.Equal(t, "INV-0100", out.Number)
		assert.Equal(t, domain.StatusSent, rec.StatusAtChange)

		history, err := h.invoices.History(ctx, inv.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, inv.Number, history[0].OldNumber)
		assert.Equal(t, "alice", history[0].Actor)
	})

	t.Run("submitted draft is locked", func(t *testing.T) {
		inv := h.create(t, true, false, "100")
		_, err := h.invoices.SetRegistration(ctx, inv.ID, domain.RegistrationSubmitted, "tax-bridge")
		require.NoError(t, err)

		es, err := h.invoices.EditStatus(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TierLocked, es.Tier)
		assert.Equal(t, domain.MsgLockedSubmitted, es.Message)

		_, _, err = h.invoices.Renumber(ctx, domain.RenumberRequest{
			InvoiceID: inv.ID, NewNumber: "INV-0999", Reason: "fix", Actor: "alice",
		})
		var locked *domain.LockedError
		require.ErrorAs(t, err, &locked)
		assert.Equal(t, domain.MsgLockedSubmitted, locked.Message)

		history, err := h.invoices.History(ctx, inv.ID)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("written off is locked for manual renumber", func(t *testing.T) {
		wo := h.create(t, true, true, "10")
		_, _, err := h.invoices.Renumber(ctx, domain.RenumberRequest{
			InvoiceID: wo.ID, NewNumber: "WO-0042", Reason: "fix", Actor: "alice", AllowWrittenOff: true,
		})
		var locked *domain.LockedError
		require.ErrorAs(t, err, &locked)
		assert.Equal(t, domain.MsgLockedWrittenOff, locked.Message)
	})

	t.Run("input validation", func(t *testing.T) {
		inv := h.create(t, true, false, "100")
		_, _, err := h.invoices.Renumber(ctx, domain.RenumberRequest{InvoiceID: inv.ID, NewNumber: "INV-0500"})
		assert.Error(t, err, "reason is required")

		_, _, err = h.invoices.Renumber(ctx, domain.RenumberRequest{InvoiceID: inv.ID, NewNumber: inv.Number, Reason: "same"})
		assert.ErrorIs(t, err, domain.ErrNoOpChange)
	})
}

func TestSetRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inv := h.create(t, true, false, "100")

	rejected, err := h.invoices.SetRegistration(ctx, inv.ID, domain.RegistrationRejected, "bridge")
	require.NoError(t, err)
	assert.Nil(t, rejected.SubmittedAt)

	submitted, err := h.invoices.SetRegistration(ctx, inv.ID, domain.RegistrationSubmitted, "bridge")
	require.NoError(t, err)
	require.NotNil(t, submitted.SubmittedAt)

	_, err = h.invoices.SetRegistration(ctx, inv.ID, domain.RegistrationNotSubmitted, "bridge")
	assert.ErrorIs(t, err, domain.ErrRegistrationFinal)

	entries, err := h.store.Audit().List(ctx, domain.AuditRegistration, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.LineTaxable, entries[0].Line)
}

func TestCheckDeletable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft := h.create(t, true, false, "100")
	assert.NoError(t, h.invoices.CheckDeletable(ctx, draft.ID))

	sent := h.create(t, true, false, "100")
	h.transition(t, sent.ID, domain.StatusSent)
	assert.ErrorIs(t, h.invoices.CheckDeletable(ctx, sent.ID), domain.ErrDeletionBlocked)

	paidThenCancelled := h.create(t, true, false, "100")
	h.transition(t, paidThenCancelled.ID, domain.StatusSent)
	_, _, err := h.payments.Apply(ctx, paidThenCancelled.ID, decimal.NewFromInt(10), time.Now(), domain.MethodCash, "")
	require.NoError(t, err)
	h.transition(t, paidThenCancelled.ID, domain.StatusCancelled)
	var blocked *domain.DeletionBlockedError
	require.ErrorAs(t, h.invoices.CheckDeletable(ctx, paidThenCancelled.ID), &blocked)
	assert.Contains(t, blocked.Reason, "payment")

	submitted := h.create(t, true, false, "100")
	_, err = h.invoices.SetRegistration(ctx, submitted.ID, domain.RegistrationSubmitted, "bridge")
	require.NoError(t, err)
	require.ErrorAs(t, h.invoices.CheckDeletable(ctx, submitted.ID), &blocked)
	assert.Equal(t, domain.MsgLockedSubmitted, blocked.Reason)
}

func TestStorageFailuresPropagate(t *testing.T) {
	boom := errors.New("connection reset")
	store := memstore.New()
	svc := NewInvoiceService(&failingInvoiceRepo{err: boom}, store.Clients(), store.Payments(),
		store.NumberChanges(), store.Audit(), domain.DefaultPolicy(), testPrefixes, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.Transition(ctx, 1, domain.StatusSent)
	assert.ErrorIs(t, err, boom)
	assert.False(t, domain.IsUserError(err))

	_, _, err = svc.Renumber(ctx, domain.RenumberRequest{InvoiceID: 1, NewNumber: "INV-0002", Reason: "r"})
	assert.ErrorIs(t, err, boom)

	_, err = svc.EditStatus(ctx, 1)
	assert.ErrorIs(t, err, boom)
}
