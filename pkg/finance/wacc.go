package finance

import "github.com/mcclellann/fundLoan/pkg/models"

// BlendedRate is the capital-weighted average of the existing and incoming
// cost of capital.
func BlendedRate(existingCapital, existingRate, newCapital, newRate float64) float64 {
	total := existingCapital + newCapital
	if total == 0 {
		return existingRate
	}
	return (existingCapital*existingRate + newCapital*newRate) / total
}

// RaiseCapital returns a copy of fund with amount added at rate.
func RaiseCapital(fund models.Fund, amount, rate float64) models.Fund {
	fund.CostOfCapitalRate = BlendedRate(fund.TotalRaised, fund.CostOfCapitalRate, amount, rate)
	fund.TotalRaised += amount
	return fund
}
