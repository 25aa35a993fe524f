package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInvoice(status Status) *Invoice {
	inv := NewInvoice(1, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), status)
	inv.ID = 7
	inv.Number = "INV-0007"
	inv.Total = decimal.RequireFromString("100.00")
	return inv
}

func TestTransitionTable(t *testing.T) {
	want := map[Status][]Status{
		StatusDraft:         {StatusCancelled, StatusSent},
		StatusSent:          {StatusCancelled, StatusOverdue, StatusPaid, StatusPartiallyPaid},
		StatusViewed:        {StatusCancelled, StatusOverdue, StatusPaid, StatusPartiallyPaid},
		StatusPartiallyPaid: {StatusCancelled, StatusOverdue, StatusPaid},
		StatusOverdue:       {StatusCancelled, StatusPaid, StatusPartiallyPaid},
		StatusCancelled:     {StatusDraft},
		StatusPaid:          {},
		StatusWrittenOff:    {},
	}

	for _, s := range Statuses {
		assert.Equal(t, want[s], AllowedTransitions(s), "from %s", s)
	}
	assert.True(t, StatusPaid.IsTerminal())
	assert.True(t, StatusWrittenOff.IsTerminal())
	assert.False(t, StatusCancelled.IsTerminal())
}

func TestTransitionClosure(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	for _, from := range Statuses {
		for _, to := range Statuses {
			inv := newTestInvoice(from)
			err := Transition(inv, to, now, DefaultPolicy())

			if !CanTransition(from, to) {
				var ite *InvalidTransitionError
				require.ErrorAs(t, err, &ite, "%s -> %s", from, to)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				assert.Equal(t, from, inv.Status, "invoice must be unchanged")
				assert.Nil(t, inv.SentAt)
				assert.Nil(t, inv.PaidAt)
				continue
			}

			require.NoError(t, err, "%s -> %s", from, to)
			assert.Equal(t, to, inv.Status)
			switch to {
			case StatusSent:
				require.NotNil(t, inv.SentAt)
				assert.Equal(t, now, *inv.SentAt)
			case StatusPaid:
				require.NotNil(t, inv.PaidAt)
				assert.Equal(t, now, *inv.PaidAt)
			}
		}
	}
}

func TestTransition_SelfLoopsRejected(t *testing.T) {
	for _, s := range Statuses {
		assert.False(t, CanTransition(s, s), "%s -> %s", s, s)
	}
}

func TestTransition_ManualPaidPolicy(t *testing.T) {
	now := time.Now()

	inv := newTestInvoice(StatusSent)
	require.NoError(t, Transition(inv, StatusPaid, now, DefaultPolicy()))
	assert.True(t, inv.AmountPaid.IsZero(), "default policy allows paid without balance")

	strict := DefaultPolicy()
	strict.AllowManualPaidWithoutBalance = false

	inv = newTestInvoice(StatusSent)
	err := Transition(inv, StatusPaid, now, strict)
	assert.ErrorIs(t, err, ErrInsufficientPayment)
	assert.Equal(t, StatusSent, inv.Status)

	inv.AmountPaid = decimal.RequireFromString("100")
	assert.NoError(t, Transition(inv, StatusPaid, now, strict))
}

func TestMarkViewed(t *testing.T) {
	inv := newTestInvoice(StatusSent)
	assert.True(t, MarkViewed(inv, time.Now()))
	assert.Equal(t, StatusViewed, inv.Status)

	for _, s := range []Status{StatusDraft, StatusViewed, StatusPaid, StatusOverdue} {
		inv := newTestInvoice(s)
		assert.False(t, MarkViewed(inv, time.Now()))
		assert.Equal(t, s, inv.Status)
	}
}

func TestIsOverdue(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	inv := newTestInvoice(StatusSent)
	inv.DueDate = &due

	assert.False(t, IsOverdue(inv, due))
	assert.True(t, IsOverdue(inv, due.Add(time.Hour)))

	inv.Status = StatusPaid
	assert.False(t, IsOverdue(inv, due.Add(time.Hour)))

	inv.Status = StatusSent
	inv.DueDate = nil
	assert.False(t, IsOverdue(inv, due.Add(time.Hour)))
}
