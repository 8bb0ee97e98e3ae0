package service

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"taxledger/internal/domain"
)

// fold replays a full ledger into the derived assessment state. It is pure
// and deterministic: the same entries always produce the same state, which is
// what makes the ledger the single source of truth. It also returns the
// as-of date of the latest interest accrual for the per-day idempotence
// check.
func (e *Engine) fold(entries []domain.LedgerEntry) (*domain.Assessment, string, error) {
	if len(entries) == 0 {
		return nil, "", errNoEntries
	}
	if entries[0].EventType != domain.EventCreate {
		return nil, "", fmt.Errorf("ledger for %s does not start with CREATE", entries[0].AssessmentID)
	}

	var (
		state            domain.Assessment
		lastInterestDate string
	)

	for i := range entries {
		entry := &entries[i]

		switch entry.EventType {
		case domain.EventCreate:
			var p domain.CreatePayload
			if err := json.Unmarshal(entry.Payload, &p); err != nil {
				return nil, "", foldErr(entry, err)
			}
			state = domain.Assessment{
				AssessmentID:    entry.AssessmentID,
				TaxpayerID:      p.TaxpayerID,
				TaxType:         p.TaxType,
				Period:          p.Period,
				Year:            p.Year,
				Currency:        p.Currency,
				PrincipalAmount: p.PrincipalAmount,
				Status:          domain.StatusPending,
				DueDate:         p.DueDate,
				CreatedAt:       entry.Timestamp,
				CreatedBy:       entry.ActorID,
			}

		case domain.EventUpdate:
			var p domain.UpdatePayload
			if err := json.Unmarshal(entry.Payload, &p); err != nil {
				return nil, "", foldErr(entry, err)
			}
			for key, value := range p.Fields {
				if err := applyUpdateField(&state, key, value); err != nil {
					return nil, "", foldErr(entry, err)
				}
			}

		case domain.EventInterestCalculated:
			var p domain.InterestPayload
			if err := json.Unmarshal(entry.Payload, &p); err != nil {
				return nil, "", foldErr(entry, err)
			}
			state.Interest += p.Amount
			lastInterestDate = p.AsOfDate

		case domain.EventPenaltyApplied:
			var p domain.PenaltyPayload
			if err := json.Unmarshal(entry.Payload, &p); err != nil {
				return nil, "", foldErr(entry, err)
			}
			state.Penalties += p.Amount

		case domain.EventPayment:
			var p domain.PaymentPayload
			if err := json.Unmarshal(entry.Payload, &p); err != nil {
				return nil, "", foldErr(entry, err)
			}
			state.TotalPaid += p.Amount
			if state.RemainingBalance() == 0 {
				state.Status = domain.StatusPaid
			} else {
				state.Status = domain.StatusPartiallyPaid
			}

		case domain.EventApprove:
			state.Status = domain.StatusOpen

		case domain.EventReject, domain.EventCancel:
			state.Status = domain.StatusCancelled

		default:
			return nil, "", foldErr(entry, fmt.Errorf("unknown event type %s", entry.EventType))
		}

		state.UpdatedAt = entry.Timestamp
	}

	return &state, lastInterestDate, nil
}

func foldErr(entry *domain.LedgerEntry, err error) error {
	return fmt.Errorf("fold %s at sequence %d (%s): %w", entry.AssessmentID, entry.Sequence, entry.EventType, err)
}

// applyUpdateField applies one whitelisted field update. Values arrive either
// from the transport layer or from replaying a stored UPDATE payload, so both
// native ints and JSON float64 values are accepted for numeric fields.
// Zeroing penalties or interest post hoc is a legal update here: it is
// recorded in the ledger, not erased from it; who may do so is the
// authorization layer's concern.
func applyUpdateField(a *domain.Assessment, key string, value any) error {
	switch key {
	case "tax_type":
		s, ok := value.(string)
		if !ok || s == "" {
			return &domain.ValidationError{Field: key, Message: "must be a non-empty string"}
		}
		a.TaxType = s

	case "period":
		s, ok := value.(string)
		if !ok {
			return &domain.ValidationError{Field: key, Message: "must be a string"}
		}
		a.Period = s

	case "currency":
		s, ok := value.(string)
		if !ok || s == "" {
			return &domain.ValidationError{Field: key, Message: "must be a non-empty string"}
		}
		a.Currency = s

	case "year":
		n, err := asMoney(value)
		if err != nil || n <= 0 {
			return &domain.ValidationError{Field: key, Message: "must be a positive integer"}
		}
		a.Year = int(n)

	case "principal_amount":
		n, err := asMoney(value)
		if err != nil || n <= 0 {
			return &domain.ValidationError{Field: key, Message: "must be a positive integer amount in minor units"}
		}
		a.PrincipalAmount = n

	case "penalties":
		n, err := asMoney(value)
		if err != nil || n < 0 {
			return &domain.ValidationError{Field: key, Message: "must be a non-negative integer amount in minor units"}
		}
		a.Penalties = n

	case "interest":
		n, err := asMoney(value)
		if err != nil || n < 0 {
			return &domain.ValidationError{Field: key, Message: "must be a non-negative integer amount in minor units"}
		}
		a.Interest = n

	case "due_date":
		s, ok := value.(string)
		if !ok {
			return &domain.ValidationError{Field: key, Message: "must be a date string"}
		}
		t, err := parseDate(s)
		if err != nil {
			return &domain.ValidationError{Field: key, Message: "must be YYYY-MM-DD or RFC3339"}
		}
		a.DueDate = t

	case "status":
		s, ok := value.(string)
		if !ok || domain.Status(s) != domain.StatusDisputed {
			return &domain.ValidationError{Field: key, Message: "only DISPUTED may be set via update"}
		}
		switch a.Status {
		case domain.StatusPending, domain.StatusOpen, domain.StatusPartiallyPaid, domain.StatusOverdue:
			a.Status = domain.StatusDisputed
		default:
			return &domain.InvalidStateTransitionError{Status: a.Status, Event: domain.EventUpdate}
		}

	default:
		return &domain.ValidationError{Field: key, Message: "unknown or immutable field"}
	}
	return nil
}

// asMoney accepts int64/int and integral float64 (the shape JSON decoding
// produces); anything fractional is rejected rather than rounded.
func asMoney(value any) (int64, error) {
	switch n := value.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	}
	return 0, fmt.Errorf("not a number: %T", value)
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
