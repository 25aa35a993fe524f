package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/andy/tallybook/internal/domain"
	"github.com/andy/tallybook/internal/lock"
	"github.com/andy/tallybook/internal/repository"
	"github.com/andy/tallybook/internal/repository/memstore"
)

// ResequenceReason is recorded on every number change made by Resequence
const ResequenceReason = "Bulk resequence"

// planActor signs the throwaway records of a planned resequence
const planActor = "dry-run"

// ResequenceChange is one invoice actually renumbered by a resequence run
type ResequenceChange struct {
	InvoiceID int64
	OldNumber string
	NewNumber string
}

// ResequenceSkip is an eligible invoice the run left alone
type ResequenceSkip struct {
	InvoiceID int64
	Number    string
	Reason    string
}

// ResequenceResult describes a resequence run. On failure it holds the
// changes applied before the error.
type ResequenceResult struct {
	Line    domain.Line
	Prefix  string
	Start   int64
	Changes []ResequenceChange
	Skipped []ResequenceSkip
}

// NumberingService owns the sequence ledger and the resequencer
type NumberingService interface {
	// Issue returns the next formatted number of a line
	Issue(ctx context.Context, line domain.Line) (string, error)

	// Provision creates missing counters for every configured line and
	// returns the lines it created
	Provision(ctx context.Context, actor string) ([]domain.Line, error)

	// ListCounters returns every provisioned counter
	ListCounters(ctx context.Context) ([]*domain.NumberingCounter, error)

	// Prefixes returns the configured prefix of every line
	Prefixes() map[domain.Line]string

	// Resequence renumbers the eligible invoices of a line to consecutive
	// numbers starting at start
	Resequence(ctx context.Context, line domain.Line, start int64, actor string) (*ResequenceResult, error)

	// PlanResequence runs Resequence against an in-memory copy of the
	// counters and invoices and reports what it would change. Nothing is
	// written.
	PlanResequence(ctx context.Context, line domain.Line, start int64) (*ResequenceResult, error)
}

type numberingService struct {
	counterRepo repository.CounterRepository
	invoiceRepo repository.InvoiceRepository
	auditRepo   repository.AuditRepository
	locker      lock.Locker
	prefixes    map[domain.Line]string
	log         zerolog.Logger
}

// NewNumberingService creates a new numbering service
func NewNumberingService(
	counterRepo repository.CounterRepository,
	invoiceRepo repository.InvoiceRepository,
	auditRepo repository.AuditRepository,
	locker lock.Locker,
	prefixes map[domain.Line]string,
	log zerolog.Logger,
) NumberingService {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &numberingService{
		counterRepo: counterRepo,
		invoiceRepo: invoiceRepo,
		auditRepo:   auditRepo,
		locker:      locker,
		prefixes:    prefixes,
		log:         log,
	}
}

func (s *numberingService) Issue(ctx context.Context, line domain.Line) (string, error) {
	prefix, value, err := s.counterRepo.Issue(ctx, line)
	if err != nil {
		return "", err
	}
	return domain.FormatNumber(prefix, value), nil
}

func (s *numberingService) Provision(ctx context.Context, actor string) ([]domain.Line, error) {
	created := make([]domain.Line, 0, len(domain.Lines))
	for _, line := range domain.Lines {
		prefix, ok := s.prefixes[line]
		if !ok || prefix == "" {
			continue
		}

		ok, err := s.counterRepo.Provision(ctx, line, prefix)
		if err != nil {
			return created, err
		}
		if !ok {
			continue
		}

		created = append(created, line)
		s.log.Info().Str("line", line.String()).Str("prefix", prefix).Msg("provisioned numbering counter")

		entry := domain.NewAuditEntry(domain.AuditProvision, line, "prefix "+prefix, actor)
		if err := s.auditRepo.Append(ctx, entry); err != nil {
			return created, err
		}
	}
	return created, nil
}

func (s *numberingService) ListCounters(ctx context.Context) ([]*domain.NumberingCounter, error) {
	return s.counterRepo.List(ctx)
}

func (s *numberingService) Prefixes() map[domain.Line]string {
	out := make(map[domain.Line]string, len(s.prefixes))
	for line, prefix := range s.prefixes {
		out[line] = prefix
	}
	return out
}

func (s *numberingService) Resequence(ctx context.Context, line domain.Line, start int64, actor string) (*ResequenceResult, error) {
	if !line.IsValid() {
		return nil, fmt.Errorf("unknown numbering line %q", line)
	}
	if start < 1 {
		start = 1
	}

	// the counter row doubles as the source of truth for the prefix
	counter, err := s.counterRepo.Get(ctx, line)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, lock.ResequenceKey(line))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.log.Error().Err(err).Str("line", line.String()).Msg("failed to release resequence lock")
		}
	}()

	result := &ResequenceResult{
		Line:    line,
		Prefix:  counter.Prefix,
		Start:   start,
		Changes: make([]ResequenceChange, 0),
		Skipped: make([]ResequenceSkip, 0),
	}

	eligible, err := s.eligible(ctx, line, counter.Prefix)
	if err != nil {
		return result, err
	}

	runErr := s.walk(ctx, result, eligible, actor)

	if len(result.Changes) > 0 {
		detail := fmt.Sprintf("resequenced %d invoice(s) from %s, skipped %d",
			len(result.Changes), domain.FormatNumber(counter.Prefix, start), len(result.Skipped))
		if runErr != nil {
			detail += " (incomplete: " + runErr.Error() + ")"
		}
		entry := domain.NewAuditEntry(domain.AuditResequence, line, detail, actor)
		if err := s.auditRepo.Append(context.WithoutCancel(ctx), entry); err != nil {
			return result, errors.Join(runErr, err)
		}
	}

	logEvent := s.log.Info()
	if runErr != nil {
		logEvent = s.log.Error().Err(runErr)
	}
	logEvent.
		Str("line", line.String()).
		Int("changed", len(result.Changes)).
		Int("skipped", len(result.Skipped)).
		Msg("resequence finished")

	return result, runErr
}

func (s *numberingService) PlanResequence(ctx context.Context, line domain.Line, start int64) (*ResequenceResult, error) {
	counters, err := s.counterRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	invoices, err := s.invoiceRepo.List(ctx, repository.InvoiceFilter{})
	if err != nil {
		return nil, err
	}

	scratch := memstore.New()
	scratch.Load(counters, invoices)

	rehearsal := &numberingService{
		counterRepo: scratch.Counters(),
		invoiceRepo: scratch.Invoices(),
		auditRepo:   scratch.Audit(),
		locker:      lock.NewLocal(),
		prefixes:    s.prefixes,
		log:         zerolog.Nop(),
	}
	return rehearsal.Resequence(ctx, line, start, planActor)
}

// eligible lists the invoices a resequence of line may touch, oldest first
func (s *numberingService) eligible(ctx context.Context, line domain.Line, prefix string) ([]*domain.Invoice, error) {
	status := line.EligibleStatus()
	invoices, err := s.invoiceRepo.List(ctx, repository.InvoiceFilter{Status: &status, Prefix: prefix})
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if _, ok := domain.ParseNumber(prefix, inv.Number); ok {
			out = append(out, inv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// walk assigns candidates start, start+1, ... in order. A candidate held by
// another invoice is skipped for the current invoice only.
func (s *numberingService) walk(ctx context.Context, result *ResequenceResult, eligible []*domain.Invoice, actor string) error {
	candidate := result.Start

	for _, inv := range eligible {
		if err := ctx.Err(); err != nil {
			return err
		}

		if inv.IsSubmitted() {
			result.Skipped = append(result.Skipped, ResequenceSkip{
				InvoiceID: inv.ID,
				Number:    inv.Number,
				Reason:    domain.MsgLockedSubmitted,
			})
			continue
		}

	candidates:
		for {
			want := domain.FormatNumber(result.Prefix, candidate)
			if inv.Number == want {
				candidate++
				break
			}

			taken, err := s.invoiceRepo.NumberExists(ctx, want, inv.ID)
			if err != nil {
				return err
			}
			if taken {
				candidate++
				continue
			}

			_, record, err := s.invoiceRepo.Renumber(ctx, domain.RenumberRequest{
				InvoiceID:       inv.ID,
				NewNumber:       want,
				Reason:          ResequenceReason,
				Actor:           actor,
				AllowWrittenOff: result.Line == domain.LineWriteOff,
				RequireStatus:   result.Line.EligibleStatus(),
			})
			switch {
			case err == nil:
				result.Changes = append(result.Changes, ResequenceChange{
					InvoiceID: inv.ID,
					OldNumber: record.OldNumber,
					NewNumber: record.NewNumber,
				})
				candidate++
				break candidates
			case errors.Is(err, domain.ErrDuplicateNumber):
				// taken between the check and the write
				candidate++
			case domain.IsUserError(err):
				result.Skipped = append(result.Skipped, ResequenceSkip{
					InvoiceID: inv.ID,
					Number:    inv.Number,
					Reason:    err.Error(),
				})
				break candidates
			default:
				return err
			}
		}
	}

	return nil
}
