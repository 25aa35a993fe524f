package domain

// EditTier classifies whether an invoice number may be changed
type EditTier string

const (
	TierFree    EditTier = "free"
	TierWarning EditTier = "warning"
	TierLocked  EditTier = "locked"
)

// Compliance messages shown to the user. The wording is part of the
// compliance UX and must not be paraphrased.
const (
	MsgLockedSubmitted = "This invoice has been registered with the tax authority. " +
		"Its number can no longer be changed. To correct it, issue a credit note that reverses this invoice."
	MsgLockedWrittenOff = "This invoice has been written off. " +
		"Its number can no longer be changed. To correct it, issue a reversal invoice."
	MsgWarningIssued = "This invoice has already been sent or processed. " +
		"Changing its number is allowed but will be recorded in the audit trail and may confuse the recipient."
	MsgFree = "This invoice is a draft and has not been submitted. Its number can be changed freely."
)

// EditStatus is the result of resolving an invoice's edit tier
type EditStatus struct {
	Tier    EditTier
	Message string
}

// ResolveEditTier computes the edit tier of an invoice number
func ResolveEditTier(inv *Invoice) EditStatus {
	switch {
	case inv.IsSubmitted():
		return EditStatus{Tier: TierLocked, Message: MsgLockedSubmitted}
	case inv.Status == StatusWrittenOff:
		return EditStatus{Tier: TierLocked, Message: MsgLockedWrittenOff}
	case inv.Status != StatusDraft:
		return EditStatus{Tier: TierWarning, Message: MsgWarningIssued}
	default:
		return EditStatus{Tier: TierFree, Message: MsgFree}
	}
}

// RenumberRequest describes a number change
type RenumberRequest struct {
	InvoiceID int64
	NewNumber string
	Reason    string
	Actor     string

	// AllowWrittenOff waives the write-off lock. Only bulk resequencing of
	// the write-off line sets it; the submission lock is never waived.
	AllowWrittenOff bool

	// RequireStatus, when set, refuses the change unless the invoice still
	// has this status inside the unit of work
	RequireStatus Status
}

// CheckRenumber applies the tier and no-op rules to a freshly loaded
// invoice. Uniqueness is checked by the store inside the same unit of work.
func CheckRenumber(inv *Invoice, req RenumberRequest) error {
	es := ResolveEditTier(inv)
	if es.Tier == TierLocked {
		waived := req.AllowWrittenOff && !inv.IsSubmitted() && inv.Status == StatusWrittenOff
		if !waived {
			return &LockedError{InvoiceID: inv.ID, Message: es.Message}
		}
	}
	if req.RequireStatus != "" && inv.Status != req.RequireStatus {
		return &StatusChangedError{InvoiceID: inv.ID, Want: req.RequireStatus, Got: inv.Status}
	}
	if req.NewNumber == inv.Number {
		return ErrNoOpChange
	}
	return nil
}
