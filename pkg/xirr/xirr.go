// Package xirr solves for the annualised internal rate of return of an
// irregularly dated series of cash flows.
//
// Time is measured on a 360-day year, the same basis used for interest and
// cost of capital elsewhere in the module.
package xirr

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	DefaultGuess  = 0.10
	MaxIterations = 100
	Tolerance     = 1e-7
	daysInYear    = 360.0
)

// ErrUnavailable is matched by every solver failure. Callers should treat it
// as "no IRR for this input", not as a fatal error.
var ErrUnavailable = errors.New("irr unavailable")

var (
	ErrTooFewFlows        = fmt.Errorf("%w: need at least two cash flows", ErrUnavailable)
	ErrNoSignChange       = fmt.Errorf("%w: cash flows must contain both inflows and outflows", ErrUnavailable)
	ErrSingularDerivative = fmt.Errorf("%w: derivative too close to zero", ErrUnavailable)
	ErrNonFinite          = fmt.Errorf("%w: iterate is not finite", ErrUnavailable)
	ErrNoConvergence      = fmt.Errorf("%w: did not converge", ErrUnavailable)
)

// CashFlow is a signed, dated amount. Outflows are negative.
type CashFlow struct {
	Amount float64   `json:"amount"`
	Date   time.Time `json:"date"`
}

// Compute runs Solve with DefaultGuess.
func Compute(flows []CashFlow) (float64, error) {
	return Solve(flows, DefaultGuess)
}

// Rate returns the IRR as a percentage, or nil when it cannot be solved.
func Rate(flows []CashFlow) *float64 {
	r, err := Compute(flows)
	if err != nil {
		return nil
	}
	return &r
}

// Solve finds r such that NPV(r) = Σ amount_i·(1+r)^(−t_i) is zero using
// Newton-Raphson, starting from guess. The result is a percentage.
func Solve(flows []CashFlow, guess float64) (float64, error) {
	if len(flows) < 2 {
		return 0, ErrTooFewFlows
	}

	var hasPositive, hasNegative bool
	for _, f := range flows {
		if f.Amount > 0 {
			hasPositive = true
		}
		if f.Amount < 0 {
			hasNegative = true
		}
	}
	if !hasPositive || !hasNegative {
		return 0, ErrNoSignChange
	}

	sorted := make([]CashFlow, len(flows))
	copy(sorted, flows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	start := sorted[0].Date
	years := make([]float64, len(sorted))
	for i, f := range sorted {
		years[i] = f.Date.Sub(start).Hours() / 24 / daysInYear
	}

	rate := guess
	for iter := 0; iter < MaxIterations; iter++ {
		npv, dNpv := npvAndDeriv(rate, sorted, years)

		if math.Abs(npv) < Tolerance {
			return rate * 100, nil
		}
		if math.Abs(dNpv) < Tolerance {
			return 0, ErrSingularDerivative
		}

		next := rate - npv/dNpv
		if math.IsNaN(next) || math.IsInf(next, 0) {
			return 0, ErrNonFinite
		}
		rate = next
	}

	return 0, ErrNoConvergence
}

// npvAndDeriv returns NPV(r) and dNPV/dr.
//
//	NPV   = Σ a_i / (1+r)^t_i
//	NPV'  = Σ −t_i · a_i / (1+r)^(t_i+1)
func npvAndDeriv(rate float64, flows []CashFlow, years []float64) (float64, float64) {
	var npv, deriv float64
	for i, f := range flows {
		factor := math.Pow(1+rate, years[i])
		npv += f.Amount / factor
		deriv += -years[i] * f.Amount / (factor * (1 + rate))
	}
	return npv, deriv
}
