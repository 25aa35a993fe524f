package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andy/tallybook/internal/db"
	"github.com/andy/tallybook/internal/domain"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "tallybook.db"), "test-key")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, database.RunMigrations())
	return database
}

type fixture struct {
	db       *db.DB
	clients  *ClientRepo
	counters *CounterRepo
	invoices *InvoiceRepo
	payments *PaymentRepo
	changes  *NumberChangeRepo
	audit    *AuditRepo
	client   *domain.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithPrefixes(t, map[domain.Line]string{
		domain.LineTaxable:  "INV",
		domain.LineExempt:   "EX",
		domain.LineWriteOff: "WO",
	})
}

func newFixtureWithPrefixes(t *testing.T, prefixes map[domain.Line]string) *fixture {
	t.Helper()
	database := openTestDB(t)
	f := &fixture{
		db:       database,
		clients:  NewClientRepo(database),
		counters: NewCounterRepo(database),
		invoices: NewInvoiceRepo(database),
		payments: NewPaymentRepo(database),
		changes:  NewNumberChangeRepo(database),
		audit:    NewAuditRepo(database),
	}

	ctx := context.Background()
	for line, prefix := range prefixes {
		_, err := f.counters.Provision(ctx, line, prefix)
		require.NoError(t, err)
	}

	f.client = domain.NewClient("Acme", "billing@acme.test", 30)
	require.NoError(t, f.clients.Create(ctx, f.client))
	return f
}

func (f *fixture) createInvoice(t *testing.T, line domain.Line, total string) *domain.Invoice {
	t.Helper()
	inv := domain.NewInvoice(f.client.ID, time.Now(), line.EligibleStatus())
	inv.LineItems = append(inv.LineItems, domain.NewLineItem("Consulting", decimal.NewFromInt(1), decimal.RequireFromString(total)))
	inv.CalculateTotals()
	require.NoError(t, f.invoices.CreateNumbered(context.Background(), inv, line))
	return inv
}

func TestCounterRepo_IssueSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		prefix, value, err := f.counters.Issue(ctx, domain.LineTaxable)
		require.NoError(t, err)
		assert.Equal(t, "INV", prefix)
		assert.Equal(t, want, value)
	}

	// lines are independent
	_, value, err := f.counters.Issue(ctx, domain.LineExempt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)
}

func TestCounterRepo_ProvisionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.counters.Issue(ctx, domain.LineTaxable)
	require.NoError(t, err)

	created, err := f.counters.Provision(ctx, domain.LineTaxable, "OTHER")
	require.NoError(t, err)
	assert.False(t, created)

	c, err := f.counters.Get(ctx, domain.LineTaxable)
	require.NoError(t, err)
	assert.Equal(t, "INV", c.Prefix)
	assert.Equal(t, int64(2), c.NextValue)

	all, err := f.counters.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCounterRepo_ConcurrentIssueIsUnique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers, perWorker = 8, 25

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				_, v, err := f.counters.Issue(ctx, domain.LineTaxable)
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				if seen[v] {
					mu.Unlock()
					errs <- fmt.Errorf("value %d issued twice", v)
					return
				}
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, seen, workers*perWorker)
	for v := int64(1); v <= workers*perWorker; v++ {
		assert.True(t, seen[v], "value %d missing", v)
	}
}

func TestCounterRepo_UnprovisionedLine(t *testing.T) {
	database := openTestDB(t)
	repo := NewCounterRepo(database)

	_, _, err := repo.Issue(context.Background(), domain.LineTaxable)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, domain.LineTaxable, cfgErr.Line)
}

func TestCounterRepo_IssueWithMock(t *testing.T) {
	t.Run("zero rows is a configuration error", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE numbering_counters").
			WithArgs("exempt").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		repo := NewCounterRepo(&db.DB{DB: mockDB})
		_, _, err = repo.Issue(context.Background(), domain.LineExempt)
		assert.ErrorIs(t, err, domain.ErrConfiguration)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage failure propagates", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		boom := errors.New("disk I/O error")
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE numbering_counters").WillReturnError(boom)
		mock.ExpectRollback()

		repo := NewCounterRepo(&db.DB{DB: mockDB})
		_, _, err = repo.Issue(context.Background(), domain.LineTaxable)
		assert.ErrorIs(t, err, boom)
		assert.False(t, domain.IsUserError(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reads pre-increment value", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE numbering_counters").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT prefix, next_value - 1").
			WillReturnRows(sqlmock.NewRows([]string{"prefix", "value"}).AddRow("INV", 42))
		mock.ExpectCommit()

		repo := NewCounterRepo(&db.DB{DB: mockDB})
		prefix, value, err := repo.Issue(context.Background(), domain.LineTaxable)
		require.NoError(t, err)
		assert.Equal(t, "INV", prefix)
		assert.Equal(t, int64(42), value)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestInvoiceRepo_CreateNumbered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.createInvoice(t, domain.LineTaxable, "100.00")
	second := f.createInvoice(t, domain.LineTaxable, "50.00")
	wo := f.createInvoice(t, domain.LineWriteOff, "10.00")

	assert.Equal(t, "INV-0001", first.Number)
	assert.Equal(t, "INV-0002", second.Number)
	assert.Equal(t, "WO-0001", wo.Number)
	assert.Equal(t, domain.StatusWrittenOff, wo.Status)

	got, err := f.invoices.GetByNumber(ctx, "INV-0001")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, decimal.RequireFromString("100").Equal(got.Total))
	assert.Equal(t, domain.RegistrationNotSubmitted, got.Registration)

	items, err := f.invoices.GetLineItems(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Consulting", items[0].Description)

	list, err := f.invoices.List(ctx, InvoiceFilter{Prefix: "INV"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)

	_, err = f.invoices.GetByID(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInvoiceRepo_ListNonASCIIPrefix(t *testing.T) {
	f := newFixtureWithPrefixes(t, map[domain.Line]string{
		domain.LineTaxable:  "FÄ",
		domain.LineExempt:   "RÉ",
		domain.LineWriteOff: "WO",
	})
	ctx := context.Background()

	exempt := f.createInvoice(t, domain.LineExempt, "40.00")
	f.createInvoice(t, domain.LineTaxable, "10.00")
	assert.Equal(t, "RÉ-0001", exempt.Number)

	list, err := f.invoices.List(ctx, InvoiceFilter{Prefix: "RÉ"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, exempt.ID, list[0].ID)

	list, err = f.invoices.List(ctx, InvoiceFilter{Prefix: "R"})
	require.NoError(t, err)
	assert.Empty(t, list, "R must not match RÉ-")
}

func TestInvoiceRepo_ConcurrentRenumberHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.createInvoice(t, domain.LineTaxable, "100.00")
	b := f.createInvoice(t, domain.LineTaxable, "100.00")

	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []int64{a.ID, b.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, errs[i] = f.invoices.Renumber(ctx, domain.RenumberRequest{
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
		case errors.Is(err, domain.ErrDuplicateNumber):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	changes, err := f.changes.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "INV-0099", changes[0].NewNumber)
}

func TestInvoiceRepo_RenumberRequireStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := f.createInvoice(t, domain.LineTaxable, "100.00")
	_, err := f.invoices.Mutate(ctx, inv.ID, func(i *domain.Invoice) error {
		i.Status = domain.StatusSent
		return nil
	})
	require.NoError(t, err)

	_, _, err = f.invoices.Renumber(ctx, domain.RenumberRequest{
		InvoiceID: inv.ID, NewNumber: "INV-0005", Reason: "x", Actor: "test", RequireStatus: domain.StatusDraft,
	})
	var changed *domain.StatusChangedError
	require.ErrorAs(t, err, &changed)
	assert.Equal(t, domain.StatusSent, changed.Got)

	got, err := f.invoices.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-0001", got.Number)

	history, err := f.changes.ListByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestInvoiceRepo_CreateSkipsHeldNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := f.createInvoice(t, domain.LineTaxable, "100.00")
	_, _, err := f.invoices.Renumber(ctx, domain.RenumberRequest{
		InvoiceID: inv.ID, NewNumber: "INV-0002", Reason: "typo", Actor: "test",
	})
	require.NoError(t, err)

	next := f.createInvoice(t, domain.LineTaxable, "20.00")
	assert.Equal(t, "INV-0003", next.Number)
}

func TestInvoiceRepo_Renumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.createInvoice(t, domain.LineTaxable, "100.00")
	b := f.createInvoice(t, domain.LineTaxable, "100.00")

	t.Run("duplicate", func(t *testing.T) {
		_, _, err := f.invoices.Renumber(ctx, domain.RenumberRequest{InvoiceID: a.ID, NewNumber: b.Number, Reason: "x", Actor: "t"})
		assert.ErrorIs(t, err, domain.ErrDuplicateNumber)
	})

	t.Run("no-op", func(t *testing.T) {
		_, _, err := f.invoices.Renumber(ctx, domain.RenumberRequest{InvoiceID: a.ID, NewNumber: a.Number, Reason: "x", Actor: "t"})
		assert.ErrorIs(t, err, domain.ErrNoOpChange)
	})

	t.Run("submitted is locked", func(t *testing.T) {
		_, err := f.invoices.Mutate(ctx, b.ID, func(inv *domain.Invoice) error {
			inv.Registration = domain.RegistrationSubmitted
			return nil
		})
		require.NoError(t, err)

		_, _, err = f.invoices.Renumber(ctx, domain.RenumberRequest{InvoiceID: b.ID, NewNumber: "INV-0100", Reason: "x", Actor: "t"})
		var locked *domain.LockedError
		require.ErrorAs(t, err, &locked)
		assert.Equal(t, domain.MsgLockedSubmitted, locked.Message)

		history, err := f.changes.ListByInvoice(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("records history", func(t *testing.T) {
		inv, rec, err := f.invoices.Renumber(ctx, domain.RenumberRequest{InvoiceID: a.ID, NewNumber: "INV-0050", Reason: "typo", Actor: "alice"})
		require.NoError(t, err)
		assert.Equal(t, "INV-0050", inv.Number)
		assert.Equal(t, "INV-0001", rec.OldNumber)
		assert.Equal(t, domain.StatusDraft, rec.StatusAtChange)

		history, err := f.changes.ListByInvoice(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "alice", history[0].Actor)
		assert.Equal(t, "typo", history[0].Reason)
	})
}

func TestNumberChanges_AppendOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := f.createInvoice(t, domain.LineTaxable, "10.00")
	_, _, err := f.invoices.Renumber(ctx, domain.RenumberRequest{InvoiceID: inv.ID, NewNumber: "INV-0009", Reason: "r", Actor: "a"})
	require.NoError(t, err)

	_, err = f.db.ExecContext(ctx, "UPDATE number_changes SET reason = 'tampered'")
	assert.Error(t, err)
	_, err = f.db.ExecContext(ctx, "DELETE FROM number_changes")
	assert.Error(t, err)

	require.NoError(t, f.audit.Append(ctx, domain.NewAuditEntry(domain.AuditProvision, domain.LineTaxable, "prefix INV", "a")))
	_, err = f.db.ExecContext(ctx, "DELETE FROM audit_log")
	assert.Error(t, err)

	entries, err := f.audit.List(ctx, domain.AuditProvision, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestInvoiceRepo_MutateRollsBackOnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := f.createInvoice(t, domain.LineTaxable, "10.00")
	boom := errors.New("refused")
	_, err := f.invoices.Mutate(ctx, inv.ID, func(i *domain.Invoice) error {
		i.Status = domain.StatusSent
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := f.invoices.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, got.Status)
}

func TestPaymentRepo_ApplyAndReverse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	policy := domain.DefaultPolicy()

	inv := f.createInvoice(t, domain.LineTaxable, "100.00")

	_, err := f.payments.Apply(ctx, domain.NewPayment(inv.ID, decimal.NewFromInt(30), time.Now(), domain.MethodCash, ""), policy)
	assert.ErrorIs(t, err, domain.ErrPaymentNotAccepted, "draft invoices do not take payments")

	_, err = f.invoices.Mutate(ctx, inv.ID, func(i *domain.Invoice) error {
		return domain.Transition(i, domain.StatusSent, time.Now(), policy)
	})
	require.NoError(t, err)

	got, err := f.payments.Apply(ctx, domain.NewPayment(inv.ID, decimal.NewFromInt(30), time.Now(), domain.MethodCash, ""), policy)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyPaid, got.Status)

	last := domain.NewPayment(inv.ID, decimal.NewFromInt(70), time.Now(), domain.MethodCard, "R-1")
	got, err = f.payments.Apply(ctx, last, policy)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, got.Status)
	assert.True(t, decimal.NewFromInt(100).Equal(got.AmountPaid))
	require.NotNil(t, got.PaidAt)

	got, err = f.payments.Reverse(ctx, inv.ID, last.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyPaid, got.Status)
	assert.Nil(t, got.PaidAt)

	stored, err := f.invoices.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(30).Equal(stored.AmountPaid))

	list, err := f.payments.ListByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.payments.Reverse(ctx, inv.ID, last.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClientRepo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.clients.GetByName(ctx, "Acme")
	require.NoError(t, err)
	assert.Equal(t, 30, got.PaymentTermDays)

	require.NoError(t, f.clients.Archive(ctx, got.ID))

	active, err := f.clients.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := f.clients.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsArchived)

	_, err = f.clients.GetByID(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
