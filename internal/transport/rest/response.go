package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"taxledger/internal/domain"
)

type APIResponse struct {
	ErrorCode int         `json:"error_code"`
	Status    string      `json:"status"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
}

func Response(w http.ResponseWriter, message string, data interface{}, errorCode int, status string, httpStatus int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	response := APIResponse{
		ErrorCode: errorCode,
		Status:    status,
		Message:   message,
		Data:      data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("[HTTP] write response error: %v", err)
	}
}

func Success(w http.ResponseWriter, message string, data interface{}) {
	Response(w, message, data, 0, "success", http.StatusOK)
}

func SuccessCreated(w http.ResponseWriter, message string, data interface{}) {
	Response(w, message, data, 0, "success", http.StatusCreated)
}

func SuccessAccepted(w http.ResponseWriter, message string, data interface{}) {
	Response(w, message, data, 0, "success", http.StatusAccepted)
}

func Error(w http.ResponseWriter, message string, errorCode int, httpStatus int) {
	Response(w, message, nil, errorCode, "error", httpStatus)
}

func ErrorBadRequest(w http.ResponseWriter, message string) {
	Error(w, message, 400, http.StatusBadRequest)
}

func ErrorUnauthorized(w http.ResponseWriter, message string) {
	Error(w, message, 401, http.StatusUnauthorized)
}

func ErrorNotFound(w http.ResponseWriter, message string) {
	Error(w, message, 404, http.StatusNotFound)
}

func ErrorConflict(w http.ResponseWriter, message string) {
	Error(w, message, 409, http.StatusConflict)
}

func ErrorInternal(w http.ResponseWriter, message string) {
	Error(w, message, 500, http.StatusInternalServerError)
}

// EngineError maps engine errors onto the HTTP surface. Validation problems
// are the caller's fault, state conflicts are 409 so callers reload and retry,
// and an integrity violation is a loud 500 because the ledger itself is
// suspect.
func EngineError(w http.ResponseWriter, err error) {
	var (
		vErr  *domain.ValidationError
		aErr  *domain.InvalidAmountError
		tErr  *domain.InvalidStateTransitionError
		pErr  *domain.PaymentExceedsBalanceError
		ivErr *domain.IntegrityViolationError
	)

	switch {
	case errors.As(err, &vErr), errors.As(err, &aErr):
		ErrorBadRequest(w, err.Error())
	case errors.Is(err, domain.ErrAssessmentNotFound):
		ErrorNotFound(w, "assessment not found")
	case errors.Is(err, domain.ErrAssessmentExists),
		errors.Is(err, domain.ErrConcurrentAppend),
		errors.Is(err, domain.ErrWriteHalted),
		errors.As(err, &tErr),
		errors.As(err, &pErr):
		ErrorConflict(w, err.Error())
	case errors.As(err, &ivErr):
		log.Printf("[HTTP] LEDGER INTEGRITY VIOLATION: %v", err)
		ErrorInternal(w, err.Error())
	default:
		log.Printf("[HTTP] internal error: %v", err)
		ErrorInternal(w, "internal error")
	}
}
