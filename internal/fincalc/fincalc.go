// Package fincalc holds the pure financial arithmetic of the ledger: interest
// accrual and penalty computation. Amounts are integer minor units; rates are
// decimals so intermediate math never touches floating point. Every function
// is referentially transparent, which the deterministic ledger replay relies
// on.
package fincalc

import "github.com/shopspring/decimal"

// Basis is the day-count convention for interest accrual.
type Basis string

const (
	// BasisActual365 treats the rate as annual over a 365-day year.
	BasisActual365 Basis = "ACTUAL_365"
	// BasisActual360 treats the rate as annual over a 360-day year.
	BasisActual360 Basis = "ACTUAL_360"
	// BasisDaily treats the rate as already per-day.
	BasisDaily Basis = "DAILY"
)

// ValidBasis reports whether b is a known day-count basis.
func ValidBasis(b Basis) bool {
	switch b {
	case BasisActual365, BasisActual360, BasisDaily:
		return true
	}
	return false
}

// PenaltyType selects the penalty formula and which base it applies to.
type PenaltyType string

const (
	// PenaltyFlatPrincipal applies the rate to the principal only.
	PenaltyFlatPrincipal PenaltyType = "FLAT_PRINCIPAL"
	// PenaltyFlatTotal applies the rate to principal plus accrued interest.
	PenaltyFlatTotal PenaltyType = "FLAT_TOTAL"
	// PenaltyTiered applies the rate to the first band of the base and twice
	// the rate to the remainder above it.
	PenaltyTiered PenaltyType = "TIERED"
)

// ValidPenaltyType reports whether t is a known penalty type.
func ValidPenaltyType(t PenaltyType) bool {
	switch t {
	case PenaltyFlatPrincipal, PenaltyFlatTotal, PenaltyTiered:
		return true
	}
	return false
}

// tieredBand is the upper bound of the first penalty band in minor units.
var tieredBand = decimal.NewFromInt(1_000_000)

func dayFraction(rate decimal.Decimal, basis Basis) decimal.Decimal {
	switch basis {
	case BasisActual365:
		return rate.Div(decimal.NewFromInt(365))
	case BasisActual360:
		return rate.Div(decimal.NewFromInt(360))
	default:
		return rate
	}
}

// round converts to minor units with round-half-up.
// decimal.Round rounds half away from zero, which for the non-negative
// amounts produced here is round-half-up.
func round(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// Interest computes simple interest on principal for daysOverdue days.
// Returns zero when daysOverdue <= 0 or any input would make the result
// negative.
func Interest(principal int64, rate decimal.Decimal, daysOverdue int, basis Basis) int64 {
	if daysOverdue <= 0 || principal <= 0 || rate.Sign() <= 0 {
		return 0
	}
	p := decimal.NewFromInt(principal)
	amt := p.Mul(dayFraction(rate, basis)).Mul(decimal.NewFromInt(int64(daysOverdue)))
	if amt.Sign() < 0 {
		return 0
	}
	return round(amt)
}

// CompoundInterest compounds daily: principal * ((1+r)^days - 1) with r the
// per-day rate under the given basis. Zero when daysOverdue <= 0.
func CompoundInterest(principal int64, rate decimal.Decimal, daysOverdue int, basis Basis) int64 {
	if daysOverdue <= 0 || principal <= 0 || rate.Sign() <= 0 {
		return 0
	}
	daily := dayFraction(rate, basis)
	factor := decimal.NewFromInt(1).Add(daily).Pow(decimal.NewFromInt(int64(daysOverdue)))
	amt := decimal.NewFromInt(principal).Mul(factor.Sub(decimal.NewFromInt(1)))
	if amt.Sign() < 0 {
		return 0
	}
	return round(amt)
}

// Penalty computes a penalty on base. For the flat types the caller has
// already chosen the base (principal vs principal+interest); the formula is
// base*rate. The tiered type charges rate on the first band and double rate
// above it. Never negative.
func Penalty(base int64, rate decimal.Decimal, typ PenaltyType) int64 {
	if base <= 0 || rate.Sign() <= 0 {
		return 0
	}
	b := decimal.NewFromInt(base)

	switch typ {
	case PenaltyTiered:
		if b.LessThanOrEqual(tieredBand) {
			return round(b.Mul(rate))
		}
		lower := tieredBand.Mul(rate)
		upper := b.Sub(tieredBand).Mul(rate).Mul(decimal.NewFromInt(2))
		return round(lower.Add(upper))
	default:
		return round(b.Mul(rate))
	}
}
