package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Line identifies one of the independent invoice numbering sequences
type Line string

const (
	LineTaxable  Line = "taxable"
	LineExempt   Line = "exempt"
	LineWriteOff Line = "write_off"
)

// Lines lists every numbering line in display order
var Lines = []Line{LineTaxable, LineExempt, LineWriteOff}

// IsValid reports whether l is a known numbering line
func (l Line) IsValid() bool {
	switch l {
	case LineTaxable, LineExempt, LineWriteOff:
		return true
	}
	return false
}

func (l Line) String() string {
	return string(l)
}

// ParseLine converts user input into a Line
func ParseLine(s string) (Line, error) {
	l := Line(strings.ToLower(strings.TrimSpace(s)))
	if l == "writeoff" || l == "write-off" {
		l = LineWriteOff
	}
	if !l.IsValid() {
		return "", fmt.Errorf("unknown numbering line %q (want taxable, exempt or write_off)", s)
	}
	return l, nil
}

// LineFor selects the numbering line for a new invoice
func LineFor(isTaxable, isWriteOff bool) Line {
	if isWriteOff {
		return LineWriteOff
	}
	if isTaxable {
		return LineTaxable
	}
	return LineExempt
}

// EligibleStatus is the status an invoice must have to be resequenced on this line
func (l Line) EligibleStatus() Status {
	if l == LineWriteOff {
		return StatusWrittenOff
	}
	return StatusDraft
}

// NumberingCounter is the persisted next-value state of one line
type NumberingCounter struct {
	Line      Line
	Prefix    string
	NextValue int64
}

// numberWidth is the zero-padding applied to the sequence part
const numberWidth = 4

// FormatNumber renders a sequence value as PREFIX-0001
func FormatNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s-%0*d", prefix, numberWidth, n)
}

// ParseNumber extracts the sequence value from a formatted number.
// The second return value is false when number does not carry prefix or
// the remainder is not purely numeric.
func ParseNumber(prefix, number string) (int64, bool) {
	rest, ok := strings.CutPrefix(number, prefix+"-")
	if !ok || rest == "" {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// LineOf derives the numbering line of an invoice number from the configured
// prefixes. The longest matching prefix wins so that overlapping prefixes
// (INV and INV-X) resolve deterministically.
func LineOf(number string, prefixes map[Line]string) (Line, bool) {
	var (
		best    Line
		bestLen = -1
	)
	for line, prefix := range prefixes {
		if _, ok := ParseNumber(prefix, number); ok && len(prefix) > bestLen {
			best, bestLen = line, len(prefix)
		}
	}
	return best, bestLen >= 0
}
