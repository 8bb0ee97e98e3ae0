package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"taxledger/internal/domain"
	"taxledger/internal/fincalc"
	"taxledger/internal/service"
	"taxledger/internal/transport/auth"

	"github.com/go-chi/chi/v5"
)

type assessmentDTO struct {
	AssessmentID     string `json:"assessment_id"`
	TaxpayerID       string `json:"taxpayer_id"`
	TaxType          string `json:"tax_type"`
	Period           string `json:"period"`
	Year             int    `json:"year"`
	Currency         string `json:"currency"`
	PrincipalAmount  int64  `json:"principal_amount"`
	Penalties        int64  `json:"penalties"`
	Interest         int64  `json:"interest"`
	TotalPaid        int64  `json:"total_paid"`
	TotalDue         int64  `json:"total_due"`
	RemainingBalance int64  `json:"remaining_balance"`
	Status           string `json:"status"`
	DueDate          string `json:"due_date"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
	CreatedBy        string `json:"created_by"`
}

func toAssessmentDTO(a *domain.Assessment) assessmentDTO {
	return assessmentDTO{
		AssessmentID:     a.AssessmentID,
		TaxpayerID:       a.TaxpayerID,
		TaxType:          a.TaxType,
		Period:           a.Period,
		Year:             a.Year,
		Currency:         a.Currency,
		PrincipalAmount:  a.PrincipalAmount,
		Penalties:        a.Penalties,
		Interest:         a.Interest,
		TotalPaid:        a.TotalPaid,
		TotalDue:         a.TotalDue(),
		RemainingBalance: a.RemainingBalance(),
		Status:           string(a.Status),
		DueDate:          a.DueDate.UTC().Format(time.RFC3339),
		CreatedAt:        a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        a.UpdatedAt.UTC().Format(time.RFC3339),
		CreatedBy:        a.CreatedBy,
	}
}

type entryDTO struct {
	AssessmentID string               `json:"assessment_id"`
	Sequence     int64                `json:"sequence"`
	EventType    string               `json:"event_type"`
	Timestamp    string               `json:"timestamp"`
	ActorID      string               `json:"actor_id"`
	ActorRole    string               `json:"actor_role"`
	Payload      json.RawMessage      `json:"payload"`
	Changes      []domain.FieldChange `json:"changes,omitempty"`
	PreviousHash string               `json:"previous_hash"`
	CurrentHash  string               `json:"current_hash"`
}

func toEntryDTO(e *domain.LedgerEntry) entryDTO {
	return entryDTO{
		AssessmentID: e.AssessmentID,
		Sequence:     e.Sequence,
		EventType:    string(e.EventType),
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		ActorID:      e.ActorID,
		ActorRole:    e.ActorRole,
		Payload:      e.Payload,
		Changes:      e.Changes,
		PreviousHash: e.PreviousHash,
		CurrentHash:  e.CurrentHash,
	}
}

type paymentDTO struct {
	ReceiptID       string `json:"receipt_id"`
	AssessmentID    string `json:"assessment_id"`
	Sequence        int64  `json:"sequence"`
	Amount          int64  `json:"amount"`
	Method          string `json:"method"`
	ReceivedBy      string `json:"received_by"`
	PaymentDate     string `json:"payment_date"`
	ReferenceNumber string `json:"reference_number,omitempty"`
}

func toPaymentDTO(p *domain.Payment) paymentDTO {
	return paymentDTO{
		ReceiptID:       p.ReceiptID,
		AssessmentID:    p.AssessmentID,
		Sequence:        p.Sequence,
		Amount:          p.Amount,
		Method:          string(p.Method),
		ReceivedBy:      p.ReceivedBy,
		PaymentDate:     p.PaymentDate.UTC().Format(time.RFC3339),
		ReferenceNumber: p.ReferenceNumber,
	}
}

func stateAndEntry(state *domain.Assessment, entry *domain.LedgerEntry) map[string]interface{} {
	return map[string]interface{}{
		"assessment": toAssessmentDTO(state),
		"entry":      toEntryDTO(entry),
	}
}

func requestActor(r *http.Request) (service.Actor, bool) {
	actorID, err := auth.GetActorID(r.Context())
	if err != nil {
		return service.Actor{}, false
	}
	return service.Actor{ID: actorID, Role: auth.GetActorRole(r.Context())}, true
}

type createAssessmentRequest struct {
	AssessmentID    string `json:"assessment_id"`
	TaxpayerID      string `json:"taxpayer_id"`
	TaxType         string `json:"tax_type"`
	Period          string `json:"period"`
	Year            int    `json:"year"`
	Currency        string `json:"currency"`
	PrincipalAmount int64  `json:"principal_amount"`
	DueDate         string `json:"due_date"` // YYYY-MM-DD or RFC3339
}

func (h *Handler) createAssessment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(r)
	if !ok {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	var req createAssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	dueDate, err := parseDateParam(req.DueDate)
	if err != nil {
		ErrorBadRequest(w, "due_date must be YYYY-MM-DD or RFC3339")
		return
	}

	state, entry, err := h.engine.Create(r.Context(), service.CreateCommand{
		AssessmentID:    req.AssessmentID,
		TaxpayerID:      req.TaxpayerID,
		TaxType:         req.TaxType,
		Period:          req.Period,
		Year:            req.Year,
		Currency:        req.Currency,
		PrincipalAmount: req.PrincipalAmount,
		DueDate:         dueDate,
	}, actor)
	if err != nil {
		EngineError(w, err)
		return
	}

	SuccessCreated(w, "assessment created", stateAndEntry(state, entry))
}

func (h *Handler) getAssessment(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.GetState(r.Context(), chi.URLParam(r, "assessment_id"))
	if err != nil {
		EngineError(w, err)
		return
	}
	Success(w, "", toAssessmentDTO(state))
}

func (h *Handler) updateAssessment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(r)
	if !ok {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	state, entry, err := h.engine.Update(r.Context(), chi.URLParam(r, "assessment_id"), fields, actor)
	if err != nil {
		EngineError(w, err)
		return
	}
	Success(w, "assessment updated", stateAndEntry(state, entry))
}

type applyInterestRequest struct {
	AsOfDate string `json:"as_of_date"` // YYYY-MM-DD; defaults to today
}

func (h *Handler) applyInterest(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(r)
	if !ok {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	var req applyInterestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	// Zero asOf lets the engine fill in "today" from its own clock.
	var asOf time.Time
	if req.AsOfDate != "" {
		parsed, err := time.Parse("2006-01-02", req.AsOfDate)
		if err != nil {
			ErrorBadRequest(w, "as_of_date must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}

	state, entry, err := h.engine.ApplyInterest(r.Context(), chi.URLParam(r, "assessment_id"), asOf, actor)
	if err != nil {
		EngineError(w, err)
		return
	}

	data := map[string]interface{}{"assessment": toAssessmentDTO(state)}
	if entry != nil {
		data["entry"] = toEntryDTO(entry)
	}
	Success(w, "interest applied", data)
}

type applyPenaltyRequest struct {
	PenaltyType string `json:"penalty_type"`
}

func (h *Handler) applyPenalty(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(r)
	if !ok {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	var req applyPenaltyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	state, entry, err := h.engine.ApplyPenalty(r.Context(), chi.URLParam(r, "assessment_id"), fincalc.PenaltyType(req.PenaltyType), actor)
	if err != nil {
		EngineError(w, err)
		return
	}
	Success(w, "penalty applied", stateAndEntry(state, entry))
}

type recordPaymentRequest struct {
	Amount          int64  `json:"amount"`
	Method          string `json:"method"`
	ReferenceNumber string `json:"reference_number"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(r)
	if !ok {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	var req recordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	state, entry, payment, err := h.engine.RecordPayment(r.Context(), chi.URLParam(r, "assessment_id"), service.PaymentCommand{
		Amount:          req.Amount,
		Method:          domain.PaymentMethod(req.Method),
		ReferenceNumber: req.ReferenceNumber,
	}, actor)
	if err != nil {
		EngineError(w, err)
		return
	}

	SuccessCreated(w, "payment recorded", map[string]interface{}{
		"assessment": toAssessmentDTO(state),
		"entry":      toEntryDTO(entry),
		"payment":    toPaymentDTO(payment),
	})
}

func (h *Handler) listAssessmentPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.engine.ListPayments(r.Context(), chi.URLParam(r, "assessment_id"))
	if err != nil {
		EngineError(w, err)
		return
	}

	out := make([]paymentDTO, 0, len(payments))
	for i := range payments {
		out = append(out, toPaymentDTO(&payments[i]))
	}
	Success(w, "", out)
}

func (h *Handler) approveAssessment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(r)
	if !ok {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	state, entry, err := h.engine.Approve(r.Context(), chi.URLParam(r, "assessment_id"), actor)
	if err != nil {
		EngineError(w, err)
		return
	}
	Success(w, "assessment approved", stateAndEntry(state, entry))
}

func (h *Handler) rejectAssessment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(r)
	if !ok {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	state, entry, err := h.engine.Reject(r.Context(), chi.URLParam(r, "assessment_id"), actor)
	if err != nil {
		EngineError(w, err)
		return
	}
	Success(w, "assessment rejected", stateAndEntry(state, entry))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelAssessment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(r)
	if !ok {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		ErrorBadRequest(w, "invalid JSON")
		return
	}

	state, entry, err := h.engine.Cancel(r.Context(), chi.URLParam(r, "assessment_id"), req.Reason, actor)
	if err != nil {
		EngineError(w, err)
		return
	}
	Success(w, "assessment cancelled", stateAndEntry(state, entry))
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.GetHistory(r.Context(), chi.URLParam(r, "assessment_id"))
	if err != nil {
		EngineError(w, err)
		return
	}

	out := make([]entryDTO, 0, len(entries))
	for i := range entries {
		out = append(out, toEntryDTO(&entries[i]))
	}
	Success(w, "", out)
}

func (h *Handler) verifyAssessment(w http.ResponseWriter, r *http.Request) {
	assessmentID := chi.URLParam(r, "assessment_id")
	if err := h.engine.VerifyIntegrity(r.Context(), assessmentID); err != nil {
		var iv *domain.IntegrityViolationError
		if errors.As(err, &iv) {
			Success(w, "", map[string]interface{}{
				"assessment_id": assessmentID,
				"valid":         false,
				"broken_at":     iv.BrokenAt,
			})
			return
		}
		EngineError(w, err)
		return
	}

	Success(w, "", map[string]interface{}{
		"assessment_id": assessmentID,
		"valid":         true,
	})
}

func parseDateParam(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
