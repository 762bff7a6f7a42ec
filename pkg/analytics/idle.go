package analytics

import (
	"sort"
	"time"

	"github.com/mcclellann/fundLoan/pkg/finance"
	"github.com/mcclellann/fundLoan/pkg/models"
)

type capitalEvent struct {
	date  time.Time
	delta float64
}

// capitalEvents lists every movement of deployable capital: principal plus
// upfront variable costs going out at loan start, and coming back on the
// repayment dates. A defaulted loan only returns what its monthly schedule
// had already repaid by asOf.
func capitalEvents(loans []models.Loan, asOf time.Time) []capitalEvent {
	var events []capitalEvent
	for i := range loans {
		loan := &loans[i]
		outlay := loan.Principal + finance.VariableCosts(loan.Principal, loan.VariableCosts)
		events = append(events, capitalEvent{date: loan.StartDate, delta: -outlay})

		defaulted := loan.Status == models.LoanStatusDefaulted
		if loan.RepaymentType == models.RepaymentMonthly && len(loan.Installments) > 0 {
			n := float64(len(loan.Installments))
			for _, inst := range loan.Installments {
				if defaulted && inst.DueDate.After(asOf) {
					continue
				}
				events = append(events, capitalEvent{date: inst.DueDate, delta: outlay / n})
			}
			continue
		}
		if defaulted {
			continue
		}
		events = append(events, capitalEvent{date: loan.Maturity(), delta: outlay})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].date.Before(events[j].date)
	})
	return events
}

// accumulatedUndeployedCost is the cost of capital paid on money that sat
// idle between fund inception and asOf.
func accumulatedUndeployedCost(fund models.Fund, loans []models.Loan, asOf time.Time) float64 {
	dailyRate := fund.CostOfCapitalRate / 100 / finance.DaysInYear
	available := fund.TotalRaised
	cursor := fund.CreatedAt
	total := 0.0

	accrueTo := func(t time.Time) {
		if !t.After(cursor) {
			return
		}
		if available > 0 {
			total += available * dailyRate * finance.DaysBetween(cursor, t)
		}
		cursor = t
	}

	for _, e := range capitalEvents(loans, asOf) {
		if e.date.After(asOf) {
			break
		}
		accrueTo(e.date)
		available += e.delta
	}
	accrueTo(asOf)

	return total
}
