package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andy/tallybook/internal/domain"
	"github.com/andy/tallybook/internal/repository"
)

func draft(t *testing.T, s *Store) *domain.Invoice {
	t.Helper()
	c := domain.NewClient("Acme", "", 30)
	if existing, err := s.Clients().GetByName(context.Background(), "Acme"); err == nil {
		c = existing
	} else {
		require.NoError(t, s.Clients().Create(context.Background(), c))
	}
	inv := domain.NewInvoice(c.ID, time.Now(), domain.StatusDraft)
	inv.LineItems = append(inv.LineItems, domain.NewLineItem("Work", decimal.NewFromInt(1), decimal.NewFromInt(10)))
	inv.CalculateTotals()
	return inv
}

func TestIssue_Concurrent(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Counters().Provision(ctx, domain.LineTaxable, "INV")
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				_, v, err := s.Counters().Issue(ctx, domain.LineTaxable)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, seen[v], "value %d issued twice", v)
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 200)

	c, err := s.Counters().Get(ctx, domain.LineTaxable)
	require.NoError(t, err)
	assert.Equal(t, int64(201), c.NextValue)
}

func TestCreateNumbered_FailureKeepsCounter(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Counters().Provision(ctx, domain.LineTaxable, "INV")
	require.NoError(t, err)

	bad := draft(t, s)
	bad.DiscountAmount = decimal.NewFromInt(1000)
	bad.CalculateTotals()
	require.Error(t, s.Invoices().CreateNumbered(ctx, bad, domain.LineTaxable))

	good := draft(t, s)
	require.NoError(t, s.Invoices().CreateNumbered(ctx, good, domain.LineTaxable))
	assert.Equal(t, "INV-0001", good.Number)

	err = s.Invoices().CreateNumbered(ctx, draft(t, s), domain.LineExempt)
	var cfg *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfg)
}

func TestMutate_CannotChangeNumber(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Counters().Provision(ctx, domain.LineTaxable, "INV")
	require.NoError(t, err)

	inv := draft(t, s)
	require.NoError(t, s.Invoices().CreateNumbered(ctx, inv, domain.LineTaxable))

	out, err := s.Invoices().Mutate(ctx, inv.ID, func(i *domain.Invoice) error {
		i.Number = "INV-9999"
		i.Notes = "edited"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "INV-0001", out.Number)
	assert.Equal(t, "edited", out.Notes)

	changes, err := s.NumberChanges().ListByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestRenumber_ConcurrentSameNumberHasOneWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Counters().Provision(ctx, domain.LineTaxable, "INV")
	require.NoError(t, err)

	a, b := draft(t, s), draft(t, s)
	require.NoError(t, s.Invoices().CreateNumbered(ctx, a, domain.LineTaxable))
	require.NoError(t, s.Invoices().CreateNumbered(ctx, b, domain.LineTaxable))

	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []int64{a.ID, b.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, errs[i] = s.Invoices().Renumber(ctx, domain.RenumberRequest{
				InvoiceID: id, NewNumber: "INV-0099", Reason: "race", Actor: "test",
			})
		}()
	}
	close(start)
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case assert.ErrorIs(t, err, domain.ErrDuplicateNumber):
			lost++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	changes, err := s.NumberChanges().List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestRenumber_RequireStatus(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Counters().Provision(ctx, domain.LineTaxable, "INV")
	require.NoError(t, err)

	inv := draft(t, s)
	require.NoError(t, s.Invoices().CreateNumbered(ctx, inv, domain.LineTaxable))
	_, err = s.Invoices().Mutate(ctx, inv.ID, func(i *domain.Invoice) error {
		i.Status = domain.StatusSent
		return nil
	})
	require.NoError(t, err)

	_, _, err = s.Invoices().Renumber(ctx, domain.RenumberRequest{
		InvoiceID: inv.ID, NewNumber: "INV-0005", Reason: "x", Actor: "test", RequireStatus: domain.StatusDraft,
	})
	assert.ErrorIs(t, err, domain.ErrStatusChanged)

	got, err := s.Invoices().GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-0001", got.Number)
}

func TestLoad_CopiesCountersAndInvoices(t *testing.T) {
	src := New()
	ctx := context.Background()
	_, err := src.Counters().Provision(ctx, domain.LineTaxable, "INV")
	require.NoError(t, err)

	first := draft(t, src)
	require.NoError(t, src.Invoices().CreateNumbered(ctx, first, domain.LineTaxable))
	second := draft(t, src)
	require.NoError(t, src.Invoices().CreateNumbered(ctx, second, domain.LineTaxable))

	counters, err := src.Counters().List(ctx)
	require.NoError(t, err)
	invoices, err := src.Invoices().List(ctx, repository.InvoiceFilter{})
	require.NoError(t, err)

	dst := New()
	dst.Load(counters, invoices)

	got, err := dst.Invoices().GetByNumber(ctx, "INV-0002")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, _, err = dst.Invoices().Renumber(ctx, domain.RenumberRequest{
		InvoiceID: first.ID, NewNumber: "INV-0007", Reason: "copy", Actor: "test",
	})
	require.NoError(t, err)

	// the source is untouched and new ids do not collide
	orig, err := src.Invoices().GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-0001", orig.Number)

	third := draft(t, dst)
	require.NoError(t, dst.Invoices().CreateNumbered(ctx, third, domain.LineTaxable))
	assert.Equal(t, "INV-0003", third.Number)
	assert.Greater(t, third.ID, second.ID)
}
