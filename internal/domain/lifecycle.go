package domain

import (
	"sort"
	"time"
)

type statusSet map[Status]struct{}

func setOf(statuses ...Status) statusSet {
	s := make(statusSet, len(statuses))
	for _, st := range statuses {
		s[st] = struct{}{}
	}
	return s
}

// transitions is the manual lifecycle table: source -> allowed destinations.
// Every status has an entry; an empty set marks a terminal status.
var transitions = map[Status]statusSet{
	StatusDraft:         setOf(StatusSent, StatusCancelled),
	StatusSent:          setOf(StatusPaid, StatusPartiallyPaid, StatusOverdue, StatusCancelled),
	StatusViewed:        setOf(StatusPaid, StatusPartiallyPaid, StatusOverdue, StatusCancelled),
	StatusPartiallyPaid: setOf(StatusPaid, StatusOverdue, StatusCancelled),
	StatusOverdue:       setOf(StatusPaid, StatusPartiallyPaid, StatusCancelled),
	StatusCancelled:     setOf(StatusDraft),
	StatusPaid:          setOf(),
	StatusWrittenOff:    setOf(),
}

// Policy holds the configurable business rules of the lifecycle.
// The zero value is NOT the default; use DefaultPolicy.
type Policy struct {
	// AllowManualPaidWithoutBalance lets a user mark an invoice paid even
	// when AmountPaid < Total.
	AllowManualPaidWithoutBalance bool
	// AllowOverpayment accepts payments that push AmountPaid above Total.
	AllowOverpayment bool
}

// DefaultPolicy accepts both a manual paid override and overpayment
func DefaultPolicy() Policy {
	return Policy{
		AllowManualPaidWithoutBalance: true,
		AllowOverpayment:              true,
	}
}

// CanTransition reports whether from -> to is in the lifecycle table
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// AllowedTransitions returns the destinations reachable from s, sorted
func AllowedTransitions(s Status) []Status {
	out := make([]Status, 0, len(transitions[s]))
	for st := range transitions[s] {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Transition applies a manual status change to inv. On failure inv is left
// untouched.
func Transition(inv *Invoice, to Status, now time.Time, policy Policy) error {
	if !CanTransition(inv.Status, to) {
		return &InvalidTransitionError{From: inv.Status, To: to}
	}
	if to == StatusPaid && !policy.AllowManualPaidWithoutBalance && inv.AmountPaid.LessThan(inv.Total) {
		return ErrInsufficientPayment
	}

	inv.Status = to
	switch to {
	case StatusSent:
		inv.SentAt = &now
	case StatusPaid:
		inv.PaidAt = &now
	}
	inv.UpdatedAt = now
	return nil
}

// MarkViewed records that a sent invoice was opened by the recipient.
// It reports whether the status changed; other statuses are left alone.
func MarkViewed(inv *Invoice, now time.Time) bool {
	if inv.Status != StatusSent {
		return false
	}
	inv.Status = StatusViewed
	inv.UpdatedAt = now
	return true
}

// IsOverdue reports whether an open invoice has passed its due date
func IsOverdue(inv *Invoice, asOf time.Time) bool {
	if inv.DueDate == nil || !asOf.After(*inv.DueDate) {
		return false
	}
	return CanTransition(inv.Status, StatusOverdue)
}
