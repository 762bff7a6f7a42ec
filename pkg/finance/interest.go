// Package finance holds the day-count, cost, schedule and per-loan return
// formulas shared by the fund analytics.
//
// Every interest-like quantity uses flat simple interest on a 360-day year.
package finance

import (
	"math"
	"time"

	"github.com/mcclellann/fundLoan/pkg/models"
)

const DaysInYear = 360

// Interest is flat simple interest: principal × rate% × days / 360.
func Interest(principal, annualRate float64, days int) float64 {
	return (principal * (annualRate / 100) * float64(days)) / DaysInYear
}

// AllocatedCostOfCapital is the fund's blended cost charged to a loan for
// the days its principal is out.
func AllocatedCostOfCapital(principal, fundRate float64, days int) float64 {
	return (principal * (fundRate / 100) * float64(days)) / DaysInYear
}

// VariableCosts sums the percentage-of-principal cost items.
func VariableCosts(principal float64, costs []models.CostItem) float64 {
	totalPercentage := 0.0
	for _, c := range costs {
		totalPercentage += c.Percentage
	}
	return principal * (totalPercentage / 100)
}

// BreakEven is what a loan must bring back before it makes any profit.
func BreakEven(principal, fundRate float64, days int, costs []models.CostItem) float64 {
	return principal + AllocatedCostOfCapital(principal, fundRate, days) + VariableCosts(principal, costs)
}

// NetYield is a single loan's deal profit. Processing fees are not part of it.
func NetYield(principal, interestRate, fundRate float64, days int, costs []models.CostItem) float64 {
	return Interest(principal, interestRate, days) -
		AllocatedCostOfCapital(principal, fundRate, days) -
		VariableCosts(principal, costs)
}

// ProcessingFee is the upfront fee, tracked as standalone revenue.
func ProcessingFee(principal, feeRate float64) float64 {
	return principal * (feeRate / 100)
}

// GlobalCost is the fund's carrying cost on everything raised.
type GlobalCost struct {
	Annual  float64 `json:"annual"`
	Monthly float64 `json:"monthly"`
	Weekly  float64 `json:"weekly"`
	Daily   float64 `json:"daily"`
}

func FundGlobalCost(totalRaised, fundRate float64) GlobalCost {
	annual := totalRaised * (fundRate / 100)
	daily := annual / DaysInYear
	return GlobalCost{
		Annual:  annual,
		Monthly: annual / 12,
		Weekly:  daily * 7,
		Daily:   daily,
	}
}

// DaysBetween returns the calendar days from start to end, fractional if the
// times are not aligned to midnight.
func DaysBetween(start, end time.Time) float64 {
	return end.Sub(start).Hours() / 24
}

// Today is the current UTC date at midnight.
func Today() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

// RoundCents rounds to two decimal places.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
