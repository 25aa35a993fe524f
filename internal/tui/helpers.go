package tui

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/andy/tallybook/internal/domain"
)

// formatMoney formats money as "$X,XXX.XX" with comma separators
func formatMoney(amount decimal.Decimal) string {
	negative := amount.IsNegative()
	s := amount.Abs().StringFixed(2)

	// Split at decimal point
	dotPos := len(s) - 3
	intPart := s[:dotPos]
	decPart := s[dotPos:]

	// Add commas to integer part
	result := make([]byte, 0, len(intPart)+len(intPart)/3)
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}

	prefix := "$"
	if negative {
		prefix = "-$"
	}
	return prefix + string(result) + decPart
}

// truncateStr truncates a string to the specified length with ellipsis
func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// joinNumbers lists numbers on one line, eliding after max
func joinNumbers(numbers []string, max int) string {
	if len(numbers) <= max {
		return strings.Join(numbers, ", ")
	}
	return strings.Join(numbers[:max], ", ") + ", ..."
}

// renderTier colours an edit tier label
func renderTier(tier domain.EditTier) string {
	switch tier {
	case domain.TierFree:
		return tierFreeStyle.Render(string(tier))
	case domain.TierWarning:
		return tierWarningStyle.Render(string(tier))
	default:
		return tierLockedStyle.Render(string(tier))
	}
}
