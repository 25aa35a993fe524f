package domain

import "time"

// NumberChangeRecord is one append-only entry of the invoice number audit trail
type NumberChangeRecord struct {
	ID             int64
	InvoiceID      int64
	OldNumber      string
	NewNumber      string
	Reason         string
	StatusAtChange Status
	Actor          string
	ChangedAt      time.Time
}

// NewNumberChangeRecord captures a number change on inv
func NewNumberChangeRecord(inv *Invoice, newNumber, reason, actor string) *NumberChangeRecord {
	return &NumberChangeRecord{
		InvoiceID:      inv.ID,
		OldNumber:      inv.Number,
		NewNumber:      newNumber,
		Reason:         reason,
		StatusAtChange: inv.Status,
		Actor:          actor,
		ChangedAt:      time.Now(),
	}
}

// Audit actions recorded in the administrative log
const (
	AuditResequence   = "resequence"
	AuditRegistration = "registration"
	AuditProvision    = "provision"
)

// AuditEntry is an append-only administrative log entry
type AuditEntry struct {
	ID         int64
	Action     string
	Line       Line
	Detail     string
	Actor      string
	RecordedAt time.Time
}

func NewAuditEntry(action string, line Line, detail, actor string) *AuditEntry {
	return &AuditEntry{
		Action:     action,
		Line:       line,
		Detail:     detail,
		Actor:      actor,
		RecordedAt: time.Now(),
	}
}
