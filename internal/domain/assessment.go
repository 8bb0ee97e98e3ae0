package domain

import "time"

// Status is the lifecycle state of an assessment.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusOpen          Status = "OPEN"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusOverdue       Status = "OVERDUE"
	StatusDisputed      Status = "DISPUTED"
	StatusCancelled     Status = "CANCELLED"
)

// Assessment is the derived state of one tax obligation. It is always
// recomputed by folding the assessment's ledger entries; it is never the
// source of truth on its own.
//
// All money fields are integer minor units (e.g. cents).
type Assessment struct {
	AssessmentID string
	TaxpayerID   string

	TaxType  string
	Period   string
	Year     int
	Currency string

	PrincipalAmount int64
	Penalties       int64
	Interest        int64
	TotalPaid       int64

	Status Status

	DueDate   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy string
}

// TotalDue is principal plus penalties plus interest.
func (a *Assessment) TotalDue() int64 {
	return a.PrincipalAmount + a.Penalties + a.Interest
}

// RemainingBalance is total due minus total paid, floored at zero.
func (a *Assessment) RemainingBalance() int64 {
	rem := a.TotalDue() - a.TotalPaid
	if rem < 0 {
		return 0
	}
	return rem
}
