// Package statemachine is the single canonical table of legal assessment
// status transitions. Every status check in the engine goes through here so
// the rules are never duplicated.
package statemachine

import "taxledger/internal/domain"

type transition struct {
	status domain.Status
	event  domain.EventType
}

// sameStatus marks events that are legal but keep the current status; the
// engine recomputes the financial status afterwards where relevant (a PAYMENT
// lands on PARTIALLY_PAID or PAID depending on the remaining balance).
const sameStatus = domain.Status("")

var table = map[transition]domain.Status{
	// UPDATE is legal everywhere except the terminal PAID and CANCELLED.
	{domain.StatusPending, domain.EventUpdate}:       sameStatus,
	{domain.StatusOpen, domain.EventUpdate}:          sameStatus,
	{domain.StatusPartiallyPaid, domain.EventUpdate}: sameStatus,
	{domain.StatusOverdue, domain.EventUpdate}:       sameStatus,
	{domain.StatusDisputed, domain.EventUpdate}:      sameStatus,

	// Interest accrues only once an assessment is past PENDING.
	{domain.StatusOpen, domain.EventInterestCalculated}:          sameStatus,
	{domain.StatusPartiallyPaid, domain.EventInterestCalculated}: sameStatus,
	{domain.StatusOverdue, domain.EventInterestCalculated}:       sameStatus,

	{domain.StatusOpen, domain.EventPenaltyApplied}:          sameStatus,
	{domain.StatusPartiallyPaid, domain.EventPenaltyApplied}: sameStatus,
	{domain.StatusOverdue, domain.EventPenaltyApplied}:       sameStatus,

	// A payment's resulting status (PARTIALLY_PAID or PAID) is financial, so
	// the table only answers admissibility.
	{domain.StatusPending, domain.EventPayment}:       sameStatus,
	{domain.StatusOpen, domain.EventPayment}:          sameStatus,
	{domain.StatusPartiallyPaid, domain.EventPayment}: sameStatus,
	{domain.StatusOverdue, domain.EventPayment}:       sameStatus,

	{domain.StatusPending, domain.EventApprove}:  domain.StatusOpen,
	{domain.StatusDisputed, domain.EventApprove}: domain.StatusOpen, // dispute resolved

	{domain.StatusPending, domain.EventReject}:  domain.StatusCancelled,
	{domain.StatusDisputed, domain.EventReject}: domain.StatusCancelled,

	{domain.StatusPending, domain.EventCancel}:       domain.StatusCancelled,
	{domain.StatusOpen, domain.EventCancel}:          domain.StatusCancelled,
	{domain.StatusPartiallyPaid, domain.EventCancel}: domain.StatusCancelled,
	{domain.StatusOverdue, domain.EventCancel}:       domain.StatusCancelled,
	{domain.StatusDisputed, domain.EventCancel}:      domain.StatusCancelled,
}

// Allowed reports whether event is admissible in status and, when the event
// itself fixes the next status, what that status is. next == status means the
// event does not change the status by itself.
func Allowed(status domain.Status, event domain.EventType) (bool, domain.Status) {
	next, ok := table[transition{status, event}]
	if !ok {
		return false, status
	}
	if next == sameStatus {
		return true, status
	}
	return true, next
}

// Check wraps Allowed into the typed error the engine surfaces.
func Check(status domain.Status, event domain.EventType) (domain.Status, error) {
	ok, next := Allowed(status, event)
	if !ok {
		return status, &domain.InvalidStateTransitionError{Status: status, Event: event}
	}
	return next, nil
}
