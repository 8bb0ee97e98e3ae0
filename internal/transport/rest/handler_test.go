package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taxledger/internal/fincalc"
	"taxledger/internal/repository"
	"taxledger/internal/service"
	"taxledger/internal/transport/auth"

	"github.com/shopspring/decimal"
)

// testAuth seeds the context the way the token middleware does, without a
// database.
func testAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), "officer-1", "tax_officer")))
	})
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := repository.NewMemoryLedgerStore()
	engine := service.NewEngine(store, nil, nil, service.EngineConfig{
		InterestRate:  decimal.RequireFromString("0.001"),
		InterestBasis: fincalc.BasisDaily,
		PenaltyRate:   decimal.RequireFromString("0.05"),
	})

	handler := NewHandler(engine, nil)
	srv := httptest.NewServer(handler.InitRouterWithAuth(testAuth))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, APIResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var api APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, api
}

func createTestAssessment(t *testing.T, srv *httptest.Server) string {
	t.Helper()

	resp, api := doJSON(t, http.MethodPost, srv.URL+"/assessments", map[string]any{
		"assessment_id":    "ASM-1",
		"taxpayer_id":      "TIN-1001",
		"tax_type":         "VAT",
		"period":           "2025-Q4",
		"year":             2025,
		"principal_amount": 1_000_000,
		"due_date":         time.Now().UTC().AddDate(0, 1, 0).Format("2006-01-02"),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, message %q", resp.StatusCode, api.Message)
	}
	return "ASM-1"
}

func TestHandler_CreateAndGet(t *testing.T) {
	srv := newTestServer(t)
	id := createTestAssessment(t, srv)

	resp, api := doJSON(t, http.MethodGet, srv.URL+"/assessments/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}

	data := api.Data.(map[string]interface{})
	if data["status"] != "PENDING" {
		t.Errorf("status = %v, want PENDING", data["status"])
	}
	if data["remaining_balance"].(float64) != 1_000_000 {
		t.Errorf("remaining = %v", data["remaining_balance"])
	}
}

func TestHandler_ApplyInterestDefaultsToEngineClock(t *testing.T) {
	store := repository.NewMemoryLedgerStore()
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	engine := service.NewEngine(store, nil, nil, service.EngineConfig{
		InterestRate:  decimal.RequireFromString("0.001"),
		InterestBasis: fincalc.BasisDaily,
		PenaltyRate:   decimal.RequireFromString("0.05"),
		Now:           func() time.Time { return now },
	})
	srv := httptest.NewServer(NewHandler(engine, nil).InitRouterWithAuth(testAuth))
	t.Cleanup(srv.Close)

	resp, api := doJSON(t, http.MethodPost, srv.URL+"/assessments", map[string]any{
		"assessment_id":    "ASM-CLK",
		"taxpayer_id":      "TIN-1001",
		"tax_type":         "VAT",
		"year":             2026,
		"principal_amount": 1_000_000,
		"due_date":         "2026-01-31",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, message %q", resp.StatusCode, api.Message)
	}
	if resp, api = doJSON(t, http.MethodPost, srv.URL+"/assessments/ASM-CLK/approve", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d, message %q", resp.StatusCode, api.Message)
	}

	// No as_of_date in the request: "today" must come from the engine clock,
	// 10 days past due, not from the wall clock.
	resp, api = doJSON(t, http.MethodPost, srv.URL+"/assessments/ASM-CLK/interest", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("interest status = %d, message %q", resp.StatusCode, api.Message)
	}
	data := api.Data.(map[string]interface{})
	assessment := data["assessment"].(map[string]interface{})
	if assessment["interest"].(float64) != 10_000 {
		t.Errorf("interest = %v, want 10000 from the engine clock", assessment["interest"])
	}
}

func TestHandler_CreateValidationIs400(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/assessments", map[string]any{
		"taxpayer_id": "TIN-1001",
		"due_date":    "2026-06-30",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandler_DuplicateCreateIs409(t *testing.T) {
	srv := newTestServer(t)
	createTestAssessment(t, srv)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/assessments", map[string]any{
		"assessment_id":    "ASM-1",
		"taxpayer_id":      "TIN-1001",
		"tax_type":         "VAT",
		"year":             2025,
		"principal_amount": 500,
		"due_date":         "2026-06-30",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestHandler_PaymentFlow(t *testing.T) {
	srv := newTestServer(t)
	id := createTestAssessment(t, srv)

	resp, api := doJSON(t, http.MethodPost, srv.URL+"/assessments/"+id+"/payments", map[string]any{
		"amount": 400_000,
		"method": "MOBILE_MONEY",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("payment status = %d, message %q", resp.StatusCode, api.Message)
	}

	data := api.Data.(map[string]interface{})
	assessment := data["assessment"].(map[string]interface{})
	if assessment["status"] != "PARTIALLY_PAID" {
		t.Errorf("status = %v, want PARTIALLY_PAID", assessment["status"])
	}
	payment := data["payment"].(map[string]interface{})
	if payment["receipt_id"] == "" {
		t.Error("receipt_id missing")
	}

	// overpayment is a conflict, not a server error
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/assessments/"+id+"/payments", map[string]any{
		"amount": 10_000_000,
		"method": "CASH",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("overpayment status = %d, want 409", resp.StatusCode)
	}

	// zero amount is the caller's fault
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/assessments/"+id+"/payments", map[string]any{
		"amount": 0,
		"method": "CASH",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zero amount status = %d, want 400", resp.StatusCode)
	}
}

func TestHandler_HistoryAndVerify(t *testing.T) {
	srv := newTestServer(t)
	id := createTestAssessment(t, srv)

	doJSON(t, http.MethodPost, srv.URL+"/assessments/"+id+"/approve", nil)

	resp, api := doJSON(t, http.MethodGet, srv.URL+"/assessments/"+id+"/history", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	entries := api.Data.([]interface{})
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	resp, api = doJSON(t, http.MethodGet, srv.URL+"/assessments/"+id+"/verify", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d", resp.StatusCode)
	}
	data := api.Data.(map[string]interface{})
	if data["valid"] != true {
		t.Errorf("valid = %v, want true", data["valid"])
	}
}

func TestHandler_UnknownAssessmentIs404(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/assessments/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHandler_CancelThenPaymentIs409(t *testing.T) {
	srv := newTestServer(t)
	id := createTestAssessment(t, srv)

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/assessments/"+id, map[string]any{"reason": "filed in error"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/assessments/"+id+"/payments", map[string]any{
		"amount": 100,
		"method": "CASH",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("payment on cancelled status = %d, want 409", resp.StatusCode)
	}
}
