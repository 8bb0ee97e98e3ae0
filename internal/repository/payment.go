package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"taxledger/internal/domain"
)

// PaymentsFilter narrows the payment listing used by exports. Payments are
// not their own table; they are read out of PAYMENT ledger entries, so the
// ledger stays the single source of truth.
type PaymentsFilter struct {
	AssessmentID    *string
	Method          *string
	PaymentDateFrom *time.Time
	PaymentDateTo   *time.Time
}

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func buildPaymentsWhere(f PaymentsFilter, startIndex int, base []string, args []any) (string, []any) {
	where := append([]string{}, base...)
	i := startIndex

	if f.AssessmentID != nil && *f.AssessmentID != "" {
		where = append(where, "e.assessment_id = $"+strconv.Itoa(i))
		args = append(args, *f.AssessmentID)
		i++
	}

	if f.Method != nil && *f.Method != "" {
		where = append(where, "e.payload->>'method' = $"+strconv.Itoa(i))
		args = append(args, *f.Method)
		i++
	}

	if f.PaymentDateFrom != nil {
		where = append(where, "(e.payload->>'payment_date')::timestamptz >= $"+strconv.Itoa(i))
		args = append(args, *f.PaymentDateFrom)
		i++
	}
	if f.PaymentDateTo != nil {
		where = append(where, "(e.payload->>'payment_date')::timestamptz <= $"+strconv.Itoa(i))
		args = append(args, *f.PaymentDateTo)
		i++
	}

	return strings.Join(where, " AND "), args
}

func (r *PaymentRepository) List(ctx context.Context, f PaymentsFilter) ([]domain.Payment, error) {
	baseQuery := `
		SELECT e.assessment_id, e.sequence, e.payload
		FROM ledger_entries e
	`

	baseWhere := []string{"e.event_type = 'PAYMENT'"}
	args := []any{}

	whereClause, args := buildPaymentsWhere(f, 1, baseWhere, args)
	query := baseQuery + " WHERE " + whereClause + " ORDER BY e.assessment_id, e.sequence"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Payment
	for rows.Next() {
		var (
			assessmentID string
			sequence     int64
			rawPayload   []byte
		)
		if err := rows.Scan(&assessmentID, &sequence, &rawPayload); err != nil {
			return nil, err
		}

		var payload domain.PaymentPayload
		if err := json.Unmarshal(rawPayload, &payload); err != nil {
			return nil, err
		}

		result = append(result, domain.Payment{
			ReceiptID:       payload.ReceiptID,
			AssessmentID:    assessmentID,
			Sequence:        sequence,
			Amount:          payload.Amount,
			Method:          domain.PaymentMethod(payload.Method),
			ReceivedBy:      payload.ReceivedBy,
			PaymentDate:     payload.PaymentDate,
			ReferenceNumber: payload.ReferenceNumber,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PaymentRepository) HasMoreThan(ctx context.Context, limit int64, f PaymentsFilter) (bool, error) {
	base := `SELECT COUNT(*) > $1 FROM ledger_entries e`

	baseWhere := []string{"e.event_type = 'PAYMENT'"}
	args := []any{limit}

	whereClause, args := buildPaymentsWhere(f, 2, baseWhere, args)
	query := base + " WHERE " + whereClause

	var tooMany bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&tooMany); err != nil {
		return false, err
	}
	return tooMany, nil
}
