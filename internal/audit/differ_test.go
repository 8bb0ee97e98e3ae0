package audit

import (
	"sort"
	"testing"
	"time"

	"taxledger/internal/domain"
)

func TestDiffClassifiesActions(t *testing.T) {
	before := Snapshot{
		"principal_amount": int64(100_000),
		"status":           "PENDING",
		"old_only":         "x",
	}
	after := Snapshot{
		"principal_amount": int64(150_000),
		"status":           "PENDING",
		"new_only":         "y",
	}

	changes := Diff(before, after)
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d: %+v", len(changes), changes)
	}

	byField := map[string]domain.FieldChange{}
	for _, c := range changes {
		byField[c.Field] = c
	}

	if c := byField["principal_amount"]; c.Action != domain.ChangeModified {
		t.Fatalf("principal_amount: expected MODIFIED, got %s", c.Action)
	}
	if c := byField["old_only"]; c.Action != domain.ChangeRemoved || c.OldValue != "x" {
		t.Fatalf("old_only: expected REMOVED with old value, got %+v", c)
	}
	if c := byField["new_only"]; c.Action != domain.ChangeAdded || c.NewValue != "y" {
		t.Fatalf("new_only: expected ADDED with new value, got %+v", c)
	}
}

func TestDiffOmitsUnchanged(t *testing.T) {
	s := Snapshot{"a": int64(1), "b": "same"}
	if changes := Diff(s, Snapshot{"a": int64(1), "b": "same"}); len(changes) != 0 {
		t.Fatalf("expected no changes, got %+v", changes)
	}
}

func TestDiffOrderIsLexicographic(t *testing.T) {
	before := Snapshot{"zeta": 1, "alpha": 1, "mid": 1}
	after := Snapshot{"zeta": 2, "alpha": 2, "mid": 2}

	changes := Diff(before, after)
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	if !sort.SliceIsSorted(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field }) {
		t.Fatalf("changes not in field order: %+v", changes)
	}
}

func TestDiffComparesIntegersAcrossTypes(t *testing.T) {
	// an int and an int64 of the same value are not a change
	changes := Diff(Snapshot{"year": 2025}, Snapshot{"year": int64(2025)})
	if len(changes) != 0 {
		t.Fatalf("expected no changes across int widths, got %+v", changes)
	}
}

func TestAssessmentSnapshotRoundTrip(t *testing.T) {
	due := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	a := &domain.Assessment{
		AssessmentID:    "A-1",
		TaxpayerID:      "T-9",
		TaxType:         "VAT",
		Period:          "2025-Q1",
		Year:            2025,
		Currency:        "UGX",
		PrincipalAmount: 1_000_000,
		Status:          domain.StatusPending,
		DueDate:         due,
	}

	snap := AssessmentSnapshot(a)
	if snap["principal_amount"] != int64(1_000_000) {
		t.Fatalf("unexpected principal in snapshot: %v", snap["principal_amount"])
	}
	if snap["due_date"] != "2025-01-01T00:00:00Z" {
		t.Fatalf("unexpected due date: %v", snap["due_date"])
	}

	b := *a
	b.PrincipalAmount = 2_000_000
	b.Status = domain.StatusOpen

	changes := Diff(snap, AssessmentSnapshot(&b))
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %+v", changes)
	}
	if changes[0].Field != "principal_amount" || changes[1].Field != "status" {
		t.Fatalf("unexpected order: %+v", changes)
	}
}

func TestAssessmentSnapshotNil(t *testing.T) {
	if snap := AssessmentSnapshot(nil); len(snap) != 0 {
		t.Fatalf("expected empty snapshot for nil, got %v", snap)
	}
}
