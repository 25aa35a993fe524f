package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/andy/tallybook/internal/domain"
	"github.com/andy/tallybook/internal/repository"
)

// GapReport is the sequence audit of one numbering line
type GapReport struct {
	Line           domain.Line
	Prefix         string
	HighestNumber  int64
	TotalIssued    int
	MissingNumbers []string
	// Duplicates lists numbers whose sequence value is held by more than one
	// invoice (e.g. INV-0007 and INV-007)
	Duplicates []string
	// CancelledNumbers are present but belong to cancelled invoices; they
	// are informational and not gaps
	CancelledNumbers []string
}

// HasGaps reports whether any number in [1, HighestNumber] is missing
func (r *GapReport) HasGaps() bool {
	return len(r.MissingNumbers) > 0
}

// ComplianceReport aggregates the audit state of every numbering line
type ComplianceReport struct {
	GeneratedAt    time.Time
	Lines          []*GapReport
	LockedInvoices int
	OpenInvoices   int
	Outstanding    decimal.Decimal
	RecentChanges  []*domain.NumberChangeRecord
}

// ReportService provides sequence audits and financial aggregations
type ReportService interface {
	// DetectGaps audits the issued numbers of one line
	DetectGaps(ctx context.Context, line domain.Line) (*GapReport, error)

	// ComplianceReport audits every line and summarises open balances
	ComplianceReport(ctx context.Context) (*ComplianceReport, error)

	// Financial summaries
	GetOutstandingTotal(ctx context.Context) (decimal.Decimal, error)
	GetRevenueByMonth(ctx context.Context, year int) (map[time.Month]decimal.Decimal, error)
}

// recentChangesLimit bounds the number change excerpt of a compliance report
const recentChangesLimit = 20

type reportService struct {
	invoiceRepo repository.InvoiceRepository
	changeRepo  repository.NumberChangeRepository
	prefixes    map[domain.Line]string
}

// NewReportService creates a new report service
func NewReportService(
	invoiceRepo repository.InvoiceRepository,
	changeRepo repository.NumberChangeRepository,
	prefixes map[domain.Line]string,
) ReportService {
	return &reportService{
		invoiceRepo: invoiceRepo,
		changeRepo:  changeRepo,
		prefixes:    prefixes,
	}
}

func (s *reportService) DetectGaps(ctx context.Context, line domain.Line) (*GapReport, error) {
	prefix, ok := s.prefixes[line]
	if !ok || prefix == "" {
		return nil, &domain.ConfigurationError{Line: line}
	}

	invoices, err := s.invoiceRepo.List(ctx, repository.InvoiceFilter{Prefix: prefix})
	if err != nil {
		return nil, err
	}

	return buildGapReport(line, prefix, invoices, s.prefixes), nil
}

// buildGapReport is the pure part of DetectGaps
func buildGapReport(line domain.Line, prefix string, invoices []*domain.Invoice, prefixes map[domain.Line]string) *GapReport {
	report := &GapReport{
		Line:             line,
		Prefix:           prefix,
		MissingNumbers:   make([]string, 0),
		Duplicates:       make([]string, 0),
		CancelledNumbers: make([]string, 0),
	}

	holders := make(map[int64]int)
	for _, inv := range invoices {
		n, ok := domain.ParseNumber(prefix, inv.Number)
		if !ok {
			continue
		}
		// a longer prefix configured for another line owns this number
		if owner, ok := domain.LineOf(inv.Number, prefixes); ok && owner != line {
			continue
		}

		report.TotalIssued++
		holders[n]++
		if n > report.HighestNumber {
			report.HighestNumber = n
		}
		if inv.Status == domain.StatusCancelled {
			report.CancelledNumbers = append(report.CancelledNumbers, inv.Number)
		}
	}

	for n := int64(1); n <= report.HighestNumber; n++ {
		count, present := holders[n]
		if !present {
			report.MissingNumbers = append(report.MissingNumbers, domain.FormatNumber(prefix, n))
			continue
		}
		if count > 1 {
			report.Duplicates = append(report.Duplicates, domain.FormatNumber(prefix, n))
		}
	}

	sort.Strings(report.CancelledNumbers)
	return report
}

func (s *reportService) ComplianceReport(ctx context.Context) (*ComplianceReport, error) {
	report := &ComplianceReport{
		GeneratedAt: time.Now(),
		Lines:       make([]*GapReport, 0, len(domain.Lines)),
	}

	all, err := s.invoiceRepo.List(ctx, repository.InvoiceFilter{})
	if err != nil {
		return nil, err
	}

	for _, line := range domain.Lines {
		prefix, ok := s.prefixes[line]
		if !ok || prefix == "" {
			continue
		}
		report.Lines = append(report.Lines, buildGapReport(line, prefix, all, s.prefixes))
	}

	for _, inv := range all {
		if domain.ResolveEditTier(inv).Tier == domain.TierLocked {
			report.LockedInvoices++
		}
		if isOpen(inv.Status) {
			report.OpenInvoices++
		}
	}

	report.Outstanding, err = s.GetOutstandingTotal(ctx)
	if err != nil {
		return nil, err
	}

	report.RecentChanges, err = s.changeRepo.List(ctx, recentChangesLimit)
	if err != nil {
		return nil, err
	}

	return report, nil
}

// isOpen reports whether an invoice still expects money
func isOpen(s domain.Status) bool {
	switch s {
	case domain.StatusSent, domain.StatusViewed, domain.StatusPartiallyPaid, domain.StatusOverdue:
		return true
	}
	return false
}

func (s *reportService) GetOutstandingTotal(ctx context.Context) (decimal.Decimal, error) {
	invoices, err := s.invoiceRepo.List(ctx, repository.InvoiceFilter{})
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, invoice := range invoices {
		if isOpen(invoice.Status) {
			total = total.Add(invoice.Balance())
		}
	}

	return total, nil
}

func (s *reportService) GetRevenueByMonth(ctx context.Context, year int) (map[time.Month]decimal.Decimal, error) {
	paidStatus := domain.StatusPaid
	invoices, err := s.invoiceRepo.List(ctx, repository.InvoiceFilter{Status: &paidStatus})
	if err != nil {
		return nil, err
	}

	revenue := make(map[time.Month]decimal.Decimal)

	// Initialize all months to 0
	for m := time.January; m <= time.December; m++ {
		revenue[m] = decimal.Zero
	}

	for _, invoice := range invoices {
		// Use paid date if available, otherwise use updated date
		paymentDate := invoice.UpdatedAt
		if invoice.PaidAt != nil {
			paymentDate = *invoice.PaidAt
		}

		// Only include invoices paid in the requested year
		if paymentDate.Year() == year {
			month := paymentDate.Month()
			revenue[month] = revenue[month].Add(invoice.Total)
		}
	}

	return revenue, nil
}
