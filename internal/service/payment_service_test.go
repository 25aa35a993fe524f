package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andy/tallybook/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestApply_OrderIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	a := h.create(t, false, false, "100")
	b := h.create(t, false, false, "100")
	h.transition(t, a.ID, domain.StatusSent)
	h.transition(t, b.ID, domain.StatusSent)

	for _, amt := range []string{"30", "40"} {
		_, _, err := h.payments.Apply(ctx, a.ID, dec(amt), day, domain.MethodCash, "")
		require.NoError(t, err)
	}
	for _, amt := range []string{"40", "30"} {
		_, _, err := h.payments.Apply(ctx, b.ID, dec(amt), day, domain.MethodCash, "")
		require.NoError(t, err)
	}

	for _, id := range []int64{a.ID, b.ID} {
		inv, err := h.invoices.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPartiallyPaid, inv.Status)
		assert.True(t, inv.AmountPaid.Equal(dec("70")), "got %s", inv.AmountPaid)
		assert.Nil(t, inv.PaidAt)
	}

	inv, payment, err := h.payments.Apply(ctx, a.ID, dec("30"), day, domain.MethodCard, " ref-9 ")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, inv.Status)
	assert.NotNil(t, inv.PaidAt)
	assert.True(t, inv.Balance().IsZero())
	assert.Equal(t, "ref-9", payment.Reference)

	list, err := h.payments.List(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestApply_Refusals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	draft := h.create(t, false, false, "100")
	_, _, err := h.payments.Apply(ctx, draft.ID, dec("10"), time.Time{}, "", "")
	assert.ErrorIs(t, err, domain.ErrPaymentNotAccepted)

	wo := h.create(t, true, true, "100")
	_, _, err = h.payments.Apply(ctx, wo.ID, dec("10"), time.Time{}, "", "")
	assert.ErrorIs(t, err, domain.ErrPaymentNotAccepted)

	sent := h.create(t, false, false, "100")
	h.transition(t, sent.ID, domain.StatusSent)
	_, _, err = h.payments.Apply(ctx, sent.ID, dec("-5"), time.Time{}, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, _, err = h.payments.Apply(ctx, 9999, dec("5"), time.Time{}, "", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := h.payments.List(ctx, sent.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestApply_Overpayment(t *testing.T) {
	ctx := context.Background()

	t.Run("accepted by default", func(t *testing.T) {
		h := newHarness(t)
		inv := h.create(t, false, false, "100")
		h.transition(t, inv.ID, domain.StatusSent)

		out, _, err := h.payments.Apply(ctx, inv.ID, dec("120"), time.Time{}, "", "")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPaid, out.Status)
		assert.True(t, out.Balance().Equal(dec("-20")))
	})

	t.Run("refused when strict", func(t *testing.T) {
		h := newHarnessWithPolicy(t, domain.Policy{})
		inv := h.create(t, false, false, "100")
		h.transition(t, inv.ID, domain.StatusSent)

		_, _, err := h.payments.Apply(ctx, inv.ID, dec("60"), time.Time{}, "", "")
		require.NoError(t, err)
		_, _, err = h.payments.Apply(ctx, inv.ID, dec("40.01"), time.Time{}, "", "")
		assert.ErrorIs(t, err, domain.ErrOverpayment)

		_, _, err = h.payments.Apply(ctx, inv.ID, dec("40"), time.Time{}, "", "")
		assert.NoError(t, err)
	})
}

func TestReverse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := h.create(t, false, false, "100")
	h.transition(t, inv.ID, domain.StatusSent)

	_, first, err := h.payments.Apply(ctx, inv.ID, dec("60"), time.Time{}, "", "")
	require.NoError(t, err)
	_, second, err := h.payments.Apply(ctx, inv.ID, dec("40"), time.Time{}, "", "")
	require.NoError(t, err)

	out, err := h.payments.Reverse(ctx, inv.ID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyPaid, out.Status)
	assert.True(t, out.AmountPaid.Equal(dec("60")))

	// the harness invoice fell due on 2026-03-31
	out, err = h.payments.Reverse(ctx, inv.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOverdue, out.Status)
	assert.True(t, out.AmountPaid.IsZero())
	assert.Nil(t, out.PaidAt)

	_, err = h.payments.Reverse(ctx, inv.ID, first.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReverse_ClosedInvoiceKeepsStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := h.create(t, false, false, "100")
	h.transition(t, inv.ID, domain.StatusSent)
	_, p, err := h.payments.Apply(ctx, inv.ID, dec("25"), time.Time{}, "", "")
	require.NoError(t, err)
	h.transition(t, inv.ID, domain.StatusCancelled)

	out, err := h.payments.Reverse(ctx, inv.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, out.Status)
	assert.True(t, out.AmountPaid.IsZero())
}
