package fincalc

import (
	"testing"

	"github.com/shopspring/decimal"
)

func rate(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestInterestDailyBasis(t *testing.T) {
	// 1,000,000 at 0.1% per day for 30 days = 30,000
	got := Interest(1_000_000, rate("0.001"), 30, BasisDaily)
	if got != 30_000 {
		t.Fatalf("expected 30000, got %d", got)
	}
}

func TestInterestAnnualBases(t *testing.T) {
	tests := []struct {
		name      string
		principal int64
		rate      string
		days      int
		basis     Basis
		want      int64
	}{
		// 100,000 * 0.12 * 30/365 = 986.30 -> 986
		{"actual/365", 100_000, "0.12", 30, BasisActual365, 986},
		// 100,000 * 0.12 * 30/360 = 1000
		{"actual/360", 100_000, "0.12", 30, BasisActual360, 1000},
		// 100,000 * 0.10 * 365/365 = 10,000
		{"full year 365", 100_000, "0.10", 365, BasisActual365, 10_000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Interest(tc.principal, rate(tc.rate), tc.days, tc.basis)
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestInterestRoundsHalfUp(t *testing.T) {
	// 101 * 0.005 * 1 = 0.505 -> 1
	got := Interest(101, rate("0.005"), 1, BasisDaily)
	if got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	// 100 * 0.005 * 1 = 0.5 -> 1 (half rounds up)
	got = Interest(100, rate("0.005"), 1, BasisDaily)
	if got != 1 {
		t.Fatalf("expected 1 for the half case, got %d", got)
	}
	// 99 * 0.005 * 1 = 0.495 -> 0
	got = Interest(99, rate("0.005"), 1, BasisDaily)
	if got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestInterestZeroWhenNotOverdue(t *testing.T) {
	for _, days := range []int{0, -1, -30} {
		if got := Interest(1_000_000, rate("0.001"), days, BasisDaily); got != 0 {
			t.Fatalf("daysOverdue=%d: expected 0, got %d", days, got)
		}
	}
}

func TestInterestNeverNegative(t *testing.T) {
	if got := Interest(-500, rate("0.001"), 10, BasisDaily); got != 0 {
		t.Fatalf("negative principal: expected 0, got %d", got)
	}
	if got := Interest(500, rate("-0.001"), 10, BasisDaily); got != 0 {
		t.Fatalf("negative rate: expected 0, got %d", got)
	}
}

func TestInterestDeterministic(t *testing.T) {
	a := Interest(123_456_789, rate("0.0375"), 47, BasisActual365)
	b := Interest(123_456_789, rate("0.0375"), 47, BasisActual365)
	if a != b {
		t.Fatalf("interest not deterministic: %d vs %d", a, b)
	}
}

func TestCompoundInterest(t *testing.T) {
	// 100,000 * ((1.001)^2 - 1) = 200.10 -> 200
	got := CompoundInterest(100_000, rate("0.001"), 2, BasisDaily)
	if got != 200 {
		t.Fatalf("expected 200, got %d", got)
	}
	// compound >= simple for the same inputs
	simple := Interest(1_000_000, rate("0.001"), 30, BasisDaily)
	compound := CompoundInterest(1_000_000, rate("0.001"), 30, BasisDaily)
	if compound < simple {
		t.Fatalf("compound %d below simple %d", compound, simple)
	}
	if got := CompoundInterest(1_000_000, rate("0.001"), 0, BasisDaily); got != 0 {
		t.Fatalf("expected 0 when not overdue, got %d", got)
	}
}

func TestPenaltyFlat(t *testing.T) {
	// 500,000 * 5% = 25,000; same formula for both flat types, the caller
	// picks the base.
	if got := Penalty(500_000, rate("0.05"), PenaltyFlatPrincipal); got != 25_000 {
		t.Fatalf("expected 25000, got %d", got)
	}
	if got := Penalty(530_000, rate("0.05"), PenaltyFlatTotal); got != 26_500 {
		t.Fatalf("expected 26500, got %d", got)
	}
}

func TestPenaltyTiered(t *testing.T) {
	// below the band: plain rate
	if got := Penalty(800_000, rate("0.05"), PenaltyTiered); got != 40_000 {
		t.Fatalf("expected 40000, got %d", got)
	}
	// above the band: 1,000,000*5% + 500,000*10% = 100,000
	if got := Penalty(1_500_000, rate("0.05"), PenaltyTiered); got != 100_000 {
		t.Fatalf("expected 100000, got %d", got)
	}
}

func TestPenaltyGuards(t *testing.T) {
	if got := Penalty(0, rate("0.05"), PenaltyFlatPrincipal); got != 0 {
		t.Fatalf("zero base: expected 0, got %d", got)
	}
	if got := Penalty(-100, rate("0.05"), PenaltyFlatPrincipal); got != 0 {
		t.Fatalf("negative base: expected 0, got %d", got)
	}
	if got := Penalty(100, rate("0"), PenaltyFlatPrincipal); got != 0 {
		t.Fatalf("zero rate: expected 0, got %d", got)
	}
}
