package rest

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"taxledger/internal/repository"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) listExports(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(r)
	if !ok {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	exports, err := h.exports.GetExports(r.Context(), actor.ID)
	if err != nil {
		log.Printf("[HTTP] listExports error: %v", err)
		ErrorInternal(w, "failed to get exports")
		return
	}

	Success(w, "", exports)
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(r)
	if !ok {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	exportIDParam := chi.URLParam(r, "export_id")
	if exportIDParam == "" {
		ErrorBadRequest(w, "export_id is required")
		return
	}
	exportID := "exports:" + exportIDParam

	export, err := h.exports.GetExport(r.Context(), exportID, actor.ID)
	if err != nil {
		log.Printf("[HTTP] getExport error: %v", err)
		ErrorNotFound(w, "export not found")
		return
	}

	Success(w, "", export)
}

type ledgerExportRequest struct {
	AssessmentID string   `json:"assessment_id"`
	Fields       []string `json:"fields"`
}

func (h *Handler) exportLedger(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(r)
	if !ok {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	var req ledgerExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorBadRequest(w, "invalid JSON")
		return
	}
	if req.AssessmentID == "" {
		ErrorBadRequest(w, "assessment_id is required")
		return
	}

	exportID, err := h.exports.StartLedgerExport(r.Context(), req.AssessmentID, req.Fields, actor)
	if err != nil {
		EngineError(w, err)
		return
	}

	SuccessAccepted(w, "export queued", map[string]interface{}{"export_id": exportID})
}

func (h *Handler) exportPayments(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestActor(r)
	if !ok {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	req, err := ValidatePaymentsExportRequest(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	exportID, err := h.exports.StartPaymentsExport(r.Context(), req.Fields, req.ToRepositoryFilter(), actor)
	if err != nil {
		log.Printf("[HTTP] startPaymentsExport error: %v", err)
		ErrorInternal(w, "failed to start export")
		return
	}

	SuccessAccepted(w, "export queued", map[string]interface{}{"export_id": exportID})
}

type PaymentsExportRequest struct {
	Fields          []string
	AssessmentID    *string
	Method          *string
	PaymentDateFrom *string
	PaymentDateTo   *string
}

type rawPaymentsExportRequest struct {
	Fields          []string    `json:"fields"`
	AssessmentID    interface{} `json:"assessment_id"`
	Method          interface{} `json:"method"`
	PaymentDateFrom interface{} `json:"payment_date_from"`
	PaymentDateTo   interface{} `json:"payment_date_to"`
}

// ValidatePaymentsExportRequest parses and validates JSON input for the
// payments export. Date filters are YYYY-MM-DD.
func ValidatePaymentsExportRequest(r *http.Request) (*PaymentsExportRequest, error) {
	var raw rawPaymentsExportRequest
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil && err != io.EOF {
		return nil, &ValidationError{Field: "body", Message: "invalid JSON"}
	}

	assessmentID, err := toStringPtr(raw.AssessmentID)
	if err != nil {
		return nil, &ValidationError{Field: "assessment_id", Message: "assessment_id must be string or empty"}
	}

	method, err := toStringPtr(raw.Method)
	if err != nil {
		return nil, &ValidationError{Field: "method", Message: "method must be string or empty"}
	}

	from, err := toDateStringPtr(raw.PaymentDateFrom)
	if err != nil {
		return nil, &ValidationError{Field: "payment_date_from", Message: "must be YYYY-MM-DD or empty"}
	}
	to, err := toDateStringPtr(raw.PaymentDateTo)
	if err != nil {
		return nil, &ValidationError{Field: "payment_date_to", Message: "must be YYYY-MM-DD or empty"}
	}

	return &PaymentsExportRequest{
		Fields:          raw.Fields,
		AssessmentID:    assessmentID,
		Method:          method,
		PaymentDateFrom: from,
		PaymentDateTo:   to,
	}, nil
}

func (r *PaymentsExportRequest) ToRepositoryFilter() repository.PaymentsFilter {
	f := repository.PaymentsFilter{
		AssessmentID: r.AssessmentID,
		Method:       r.Method,
	}
	if r.PaymentDateFrom != nil {
		if t, err := parseDateParam(*r.PaymentDateFrom); err == nil {
			f.PaymentDateFrom = &t
		}
	}
	if r.PaymentDateTo != nil {
		if t, err := parseDateParam(*r.PaymentDateTo); err == nil {
			f.PaymentDateTo = &t
		}
	}
	return f
}
