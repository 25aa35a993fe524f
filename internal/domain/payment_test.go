package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payments(amounts ...string) []*Payment {
	out := make([]*Payment, 0, len(amounts))
	for i, a := range amounts {
		p := NewPayment(7, decimal.RequireFromString(a), time.Now(), MethodCash, "")
		p.ID = int64(i + 1)
		out = append(out, p)
	}
	return out
}

func TestReconcile_OrderIndependent(t *testing.T) {
	now := time.Now()

	for _, order := range [][]string{{"30", "40"}, {"40", "30"}} {
		inv := newTestInvoice(StatusSent)
		Reconcile(inv, payments(order...), now)
		assert.True(t, decimal.RequireFromString("70.00").Equal(inv.AmountPaid), "order %v", order)
		assert.Equal(t, StatusPartiallyPaid, inv.Status)
		assert.Nil(t, inv.PaidAt)
	}

	for _, order := range [][]string{{"30", "40", "30"}, {"30", "30", "40"}, {"40", "30", "30"}} {
		inv := newTestInvoice(StatusSent)
		Reconcile(inv, payments(order...), now)
		assert.True(t, decimal.RequireFromString("100.00").Equal(inv.AmountPaid), "order %v", order)
		assert.Equal(t, StatusPaid, inv.Status)
		require.NotNil(t, inv.PaidAt)
	}
}

func TestReconcile_Overpayment(t *testing.T) {
	inv := newTestInvoice(StatusOverdue)
	Reconcile(inv, payments("150.00"), time.Now())
	assert.Equal(t, StatusPaid, inv.Status)
	assert.True(t, inv.Balance().Equal(decimal.RequireFromString("-50")))
}

func TestReconcile_AllReversed(t *testing.T) {
	inv := newTestInvoice(StatusSent)
	Reconcile(inv, payments("100"), time.Now())
	require.Equal(t, StatusPaid, inv.Status)

	Reconcile(inv, nil, time.Now())
	assert.Equal(t, StatusSent, inv.Status)
	assert.True(t, inv.AmountPaid.IsZero())
	assert.Nil(t, inv.PaidAt)
}

func TestReconcile_AllReversedPastDue(t *testing.T) {
	inv := newTestInvoice(StatusSent)
	due := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	inv.DueDate = &due

	Reconcile(inv, payments("40"), due.AddDate(0, 0, -1))
	require.Equal(t, StatusPartiallyPaid, inv.Status)

	Reconcile(inv, nil, due)
	assert.Equal(t, StatusSent, inv.Status, "due today is not late")

	Reconcile(inv, payments("40"), due)
	Reconcile(inv, nil, due.AddDate(0, 0, 1))
	assert.Equal(t, StatusOverdue, inv.Status)
	assert.True(t, inv.AmountPaid.IsZero())
	assert.Nil(t, inv.PaidAt)
}

func TestReconcile_NoPaymentsLeavesStatus(t *testing.T) {
	inv := newTestInvoice(StatusOverdue)
	Reconcile(inv, nil, time.Now())
	assert.Equal(t, StatusOverdue, inv.Status)
}

func TestReconcile_KeepsFirstPaidTimestamp(t *testing.T) {
	inv := newTestInvoice(StatusSent)
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	Reconcile(inv, payments("100"), first)

	Reconcile(inv, payments("100", "5"), first.Add(24*time.Hour))
	require.NotNil(t, inv.PaidAt)
	assert.Equal(t, first, *inv.PaidAt)
}

func TestCheckPayment(t *testing.T) {
	policy := DefaultPolicy()

	inv := newTestInvoice(StatusSent)
	p := NewPayment(inv.ID, decimal.RequireFromString("500"), time.Now(), "", "")
	assert.Equal(t, MethodBankTransfer, p.Method)
	assert.NoError(t, CheckPayment(inv, p, decimal.Zero, policy), "overpayment accepted by default")

	strict := policy
	strict.AllowOverpayment = false
	assert.ErrorIs(t, CheckPayment(inv, p, decimal.Zero, strict), ErrOverpayment)

	exact := NewPayment(inv.ID, decimal.RequireFromString("60"), time.Now(), MethodCard, "")
	assert.NoError(t, CheckPayment(inv, exact, decimal.RequireFromString("40"), strict))

	zero := NewPayment(inv.ID, decimal.Zero, time.Now(), MethodCash, "")
	assert.ErrorIs(t, CheckPayment(inv, zero, decimal.Zero, policy), ErrInvalidAmount)

	for _, s := range []Status{StatusDraft, StatusCancelled, StatusWrittenOff} {
		closed := newTestInvoice(s)
		assert.ErrorIs(t, CheckPayment(closed, exact, decimal.Zero, policy), ErrPaymentNotAccepted, "status %s", s)
	}
}

func TestReconcile_ClosedInvoiceKeepsStatus(t *testing.T) {
	inv := newTestInvoice(StatusCancelled)
	Reconcile(inv, payments("30", "20"), time.Now())
	assert.Equal(t, StatusCancelled, inv.Status)
	assert.True(t, inv.AmountPaid.Equal(decimal.RequireFromString("50")))
}
