// Package audit computes field-level differences between assessment snapshots
// for the ledger's change records and human-readable audit display.
package audit

import (
	"encoding/json"
	"sort"
	"time"

	"taxledger/internal/domain"
)

// Snapshot is a flat field view of an assessment, keyed by canonical field
// name. Money values are int64 minor units so numeric comparison never goes
// through floating point.
type Snapshot map[string]any

// AssessmentSnapshot flattens an assessment into its canonical field schema.
func AssessmentSnapshot(a *domain.Assessment) Snapshot {
	if a == nil {
		return Snapshot{}
	}
	return Snapshot{
		"assessment_id":    a.AssessmentID,
		"taxpayer_id":      a.TaxpayerID,
		"tax_type":         a.TaxType,
		"period":           a.Period,
		"year":             a.Year,
		"currency":         a.Currency,
		"principal_amount": a.PrincipalAmount,
		"penalties":        a.Penalties,
		"interest":         a.Interest,
		"total_paid":       a.TotalPaid,
		"status":           string(a.Status),
		"due_date":         a.DueDate.UTC().Format(time.RFC3339),
	}
}

// Diff classifies every field in the union of both snapshots as ADDED,
// REMOVED or MODIFIED, omitting unchanged fields. The result is ordered
// lexicographically by field name so diffs are stable for display and tests.
func Diff(before, after Snapshot) []domain.FieldChange {
	fields := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		fields[k] = struct{}{}
	}
	for k := range after {
		fields[k] = struct{}{}
	}

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	var changes []domain.FieldChange
	for _, name := range names {
		oldVal, hadOld := before[name]
		newVal, hasNew := after[name]

		switch {
		case !hadOld && hasNew:
			changes = append(changes, domain.FieldChange{
				Field: name, Action: domain.ChangeAdded, NewValue: newVal,
			})
		case hadOld && !hasNew:
			changes = append(changes, domain.FieldChange{
				Field: name, Action: domain.ChangeRemoved, OldValue: oldVal,
			})
		case !equal(oldVal, newVal):
			changes = append(changes, domain.FieldChange{
				Field: name, Action: domain.ChangeModified, OldValue: oldVal, NewValue: newVal,
			})
		}
	}
	return changes
}

// equal compares two snapshot values. Integers of different Go types compare
// by value; everything else falls back to canonical JSON, which gives deep
// equality for maps and slices.
func equal(a, b any) bool {
	if ai, ok := asInt64(a); ok {
		if bi, ok2 := asInt64(b); ok2 {
			return ai == bi
		}
		return false
	}
	if a == b {
		return true
	}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}
