package domain

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of state change a ledger entry records.
type EventType string

const (
	EventCreate             EventType = "CREATE"
	EventUpdate             EventType = "UPDATE"
	EventInterestCalculated EventType = "INTEREST_CALCULATED"
	EventPenaltyApplied     EventType = "PENALTY_APPLIED"
	EventPayment            EventType = "PAYMENT"
	EventApprove            EventType = "APPROVE"
	EventReject             EventType = "REJECT"
	EventCancel             EventType = "CANCEL"
)

// ChangeAction classifies a single field difference in an audit diff.
type ChangeAction string

const (
	ChangeModified ChangeAction = "MODIFIED"
	ChangeAdded    ChangeAction = "ADDED"
	ChangeRemoved  ChangeAction = "REMOVED"
)

// FieldChange is one field-level before/after difference.
type FieldChange struct {
	Field    string       `json:"field"`
	Action   ChangeAction `json:"action"`
	OldValue any          `json:"old_value"`
	NewValue any          `json:"new_value"`
}

// GenesisHash is the previous-hash sentinel of the first entry in a chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// LedgerEntry is one immutable, hash-linked record of a state-changing event
// on an assessment. Entries are write-once: created by the reconciliation
// engine at append time and never mutated or deleted afterwards.
type LedgerEntry struct {
	AssessmentID string
	Sequence     int64 // monotonic per assessment, starting at 1

	EventType EventType
	Timestamp time.Time
	ActorID   string
	ActorRole string

	Payload json.RawMessage
	Changes []FieldChange

	PreviousHash string
	CurrentHash  string
}

// Event payloads. Each mutating command records its inputs so the fold can
// rebuild the derived state from the ledger alone.

type CreatePayload struct {
	TaxpayerID      string    `json:"taxpayer_id"`
	TaxType         string    `json:"tax_type"`
	Period          string    `json:"period"`
	Year            int       `json:"year"`
	Currency        string    `json:"currency"`
	PrincipalAmount int64     `json:"principal_amount"`
	DueDate         time.Time `json:"due_date"`
}

type UpdatePayload struct {
	Fields map[string]any `json:"fields"`
}

type InterestPayload struct {
	AsOfDate    string `json:"as_of_date"` // YYYY-MM-DD
	DaysOverdue int    `json:"days_overdue"`
	Rate        string `json:"rate"`
	Basis       string `json:"basis"`
	Amount      int64  `json:"amount"`
}

type PenaltyPayload struct {
	PenaltyType string `json:"penalty_type"`
	Rate        string `json:"rate"`
	BaseAmount  int64  `json:"base_amount"`
	Amount      int64  `json:"amount"`
}

type PaymentPayload struct {
	ReceiptID       string    `json:"receipt_id"`
	Amount          int64     `json:"amount"`
	Method          string    `json:"method"`
	ReceivedBy      string    `json:"received_by"`
	PaymentDate     time.Time `json:"payment_date"`
	ReferenceNumber string    `json:"reference_number,omitempty"`
}

type CancelPayload struct {
	Reason string `json:"reason,omitempty"`
}
