package finance

import (
	"time"

	"github.com/mcclellann/fundLoan/pkg/models"
	"github.com/mcclellann/fundLoan/pkg/xirr"
)

// LoanIRR is the gross annualised return of a single loan: principal out on
// the start date, principal plus flat interest back on the schedule. The
// processing fee is excluded. Nil means the rate could not be solved.
func LoanIRR(loan *models.Loan) *float64 {
	flows := []xirr.CashFlow{{Amount: -loan.Principal, Date: loan.StartDate}}
	flows = append(flows, repaymentFlows(loan, 0)...)
	return xirr.Rate(flows)
}

// LoanNetIRR is the return after costs: variable costs are paid out with the
// principal, and every repayment gives up its share of the allocated cost of
// capital.
func LoanNetIRR(loan *models.Loan, fundRate float64) *float64 {
	coc := AllocatedCostOfCapital(loan.Principal, fundRate, loan.DurationDays)
	vc := VariableCosts(loan.Principal, loan.VariableCosts)

	flows := []xirr.CashFlow{{Amount: -(loan.Principal + vc), Date: loan.StartDate}}
	flows = append(flows, repaymentFlows(loan, coc)...)
	return xirr.Rate(flows)
}

// repaymentFlows regenerates flat repayment amounts for the loan, using the
// stored installment dates when a monthly loan has them. deduction is spread
// evenly over the repayments.
func repaymentFlows(loan *models.Loan, deduction float64) []xirr.CashFlow {
	totalInterest := Interest(loan.Principal, loan.InterestRate, loan.DurationDays)

	var dates []time.Time
	if loan.RepaymentType == models.RepaymentMonthly && len(loan.Installments) > 0 {
		for _, inst := range loan.Installments {
			dates = append(dates, inst.DueDate)
		}
	} else {
		for _, inst := range GenerateSchedule(loan.Principal, loan.InterestRate, loan.StartDate, loan.DurationDays, loan.RepaymentType) {
			dates = append(dates, inst.DueDate)
		}
	}

	n := float64(len(dates))
	per := loan.Principal/n + totalInterest/n - deduction/n

	flows := make([]xirr.CashFlow, len(dates))
	for i, d := range dates {
		flows[i] = xirr.CashFlow{Amount: per, Date: d}
	}
	return flows
}
