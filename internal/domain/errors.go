package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors callers branch on with errors.Is.
var (
	// ErrConcurrentAppend means another append for the same assessment won the
	// race between the caller's read of the latest entry and its append.
	// Callers must reload state, recompute and retry; the engine never retries
	// on its own.
	ErrConcurrentAppend = errors.New("concurrent append conflict")

	ErrAssessmentNotFound = errors.New("assessment not found")
	ErrAssessmentExists   = errors.New("assessment already exists")

	// ErrWriteHalted means a prior integrity violation was detected for this
	// assessment and writes are refused until the ledger is investigated.
	ErrWriteHalted = errors.New("writes halted: ledger integrity violation")
)

// ValidationError reports malformed command input. Recoverable by the caller
// correcting the input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// InvalidStateTransitionError reports a command that is not legal for the
// assessment's current status.
type InvalidStateTransitionError struct {
	Status Status
	Event  EventType
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("event %s not allowed in status %s", e.Event, e.Status)
}

// InvalidAmountError reports a non-positive amount.
type InvalidAmountError struct {
	Amount int64
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %d: must be positive", e.Amount)
}

// PaymentExceedsBalanceError reports a payment larger than the remaining
// balance at application time. Overpayments are never silently clamped.
type PaymentExceedsBalanceError struct {
	Amount    int64
	Remaining int64
}

func (e *PaymentExceedsBalanceError) Error() string {
	return fmt.Sprintf("payment %d exceeds remaining balance %d", e.Amount, e.Remaining)
}

// IntegrityViolationError reports a hash-chain verification failure. Fatal for
// the assessment's trust; surfaced loudly, never auto-corrected.
type IntegrityViolationError struct {
	AssessmentID string
	BrokenAt     int // index into the entry sequence where the chain breaks
}

func (e *IntegrityViolationError) Error() string {
	return fmt.Sprintf("ledger integrity violation for %s: chain broken at index %d", e.AssessmentID, e.BrokenAt)
}
