package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/andy/tallybook/internal/domain"
)

const dateLayout = "2006-01-02"

// actor returns the --actor flag, falling back to the configured actor
func actor(cmd *cobra.Command) string {
	if a, _ := cmd.Flags().GetString("actor"); strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return appInstance.Config.Actor
}

// resolveClientID accepts a numeric ID or an exact client name
func resolveClientID(ctx context.Context, idOrName string) (int64, error) {
	if id, err := strconv.ParseInt(idOrName, 10, 64); err == nil {
		if _, err := appInstance.ClientRepo.GetByID(ctx, id); err != nil {
			return 0, err
		}
		return id, nil
	}

	client, err := appInstance.ClientRepo.GetByName(ctx, idOrName)
	if err != nil {
		return 0, err
	}
	return client.ID, nil
}

// resolveInvoice accepts a numeric ID or an invoice number
func resolveInvoice(ctx context.Context, idOrNumber string) (*domain.Invoice, error) {
	if id, err := strconv.ParseInt(idOrNumber, 10, 64); err == nil {
		return appInstance.InvoiceService.Get(ctx, id)
	}
	return appInstance.InvoiceService.GetByNumber(ctx, strings.TrimSpace(idOrNumber))
}

func resolveInvoiceID(ctx context.Context, idOrNumber string) (int64, error) {
	invoice, err := resolveInvoice(ctx, idOrNumber)
	if err != nil {
		return 0, err
	}
	return invoice.ID, nil
}

// parseDate parses YYYY-MM-DD, 'today' or 'yesterday'
func parseDate(s string) (time.Time, error) {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	default:
		t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.Local)
		if err != nil {
			return time.Time{}, fmt.Errorf("expected format: YYYY-MM-DD, 'today', or 'yesterday'")
		}
		return t, nil
	}
}

// parseLineItem parses "description:quantity:unit_price"
func parseLineItem(s string) (description string, quantity, unitPrice decimal.Decimal, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return "", decimal.Zero, decimal.Zero, fmt.Errorf("line item %q: expected description:quantity:unit_price", s)
	}
	description = strings.TrimSpace(parts[0])
	if description == "" {
		return "", decimal.Zero, decimal.Zero, fmt.Errorf("line item %q: description is required", s)
	}
	quantity, err = decimal.NewFromString(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", decimal.Zero, decimal.Zero, fmt.Errorf("line item %q: invalid quantity: %w", s, err)
	}
	unitPrice, err = decimal.NewFromString(strings.TrimSpace(parts[2]))
	if err != nil {
		return "", decimal.Zero, decimal.Zero, fmt.Errorf("line item %q: invalid unit price: %w", s, err)
	}
	return description, quantity, unitPrice, nil
}

// parseRate accepts a fraction ("0.19") or a percentage ("19%")
func parseRate(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	if pct, ok := strings.CutSuffix(s, "%"); ok {
		d, err := decimal.NewFromString(strings.TrimSpace(pct))
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid tax rate %q", s)
		}
		return d.Div(decimal.NewFromInt(100)), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid tax rate %q", s)
	}
	return d, nil
}

func formatMoney(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(dateLayout)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// parseAuditAction accepts an empty filter or one of the logged actions
func parseAuditAction(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", domain.AuditProvision, domain.AuditResequence, domain.AuditRegistration:
		return s, nil
	}
	return "", fmt.Errorf("unknown audit action %q (expected provision, resequence or registration)", s)
}

func formatAuditEntry(e *domain.AuditEntry) string {
	line := e.Line.String()
	if line == "" {
		line = "-"
	}
	return fmt.Sprintf("%-16s %-13s %-10s %-12s %s",
		e.RecordedAt.Local().Format("2006-01-02 15:04"), e.Action, line, truncate(e.Actor, 12), e.Detail)
}

// explain prints the compliance message carried by a locked error before
// returning it
func explain(err error) error {
	var locked *domain.LockedError
	if errors.As(err, &locked) {
		fmt.Println("✗ " + locked.Message)
	}
	return err
}
