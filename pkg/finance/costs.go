package finance

import "github.com/mcclellann/fundLoan/pkg/models"

// LoanCosts is the cost side of a single loan, always on its original
// principal over the full duration.
type LoanCosts struct {
	AllocatedCostOfCapital float64 `json:"allocated_cost_of_capital"`
	VariableCosts          float64 `json:"variable_costs"`
	BreakEven              float64 `json:"break_even"`
	ProcessingFee          float64 `json:"processing_fee"`
}

// AllocateCosts charges the fund's blended rate and the loan's variable cost
// items against its principal.
func AllocateCosts(loan *models.Loan, fundRate float64) LoanCosts {
	coc := AllocatedCostOfCapital(loan.Principal, fundRate, loan.DurationDays)
	vc := VariableCosts(loan.Principal, loan.VariableCosts)
	return LoanCosts{
		AllocatedCostOfCapital: coc,
		VariableCosts:          vc,
		BreakEven:              loan.Principal + coc + vc,
		ProcessingFee:          ProcessingFee(loan.Principal, loan.FeeRate()),
	}
}
