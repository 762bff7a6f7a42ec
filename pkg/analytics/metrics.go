// Package analytics derives fund-level reporting from a fund and its loans:
// capital usage, income and yield, valuation, portfolio returns, and the
// forward cash-flow forecast.
//
// Every function is a pure computation over the records it is given. "Today"
// is taken once per call so a single report is internally consistent.
package analytics

import (
	"time"

	"github.com/mcclellann/fundLoan/pkg/finance"
	"github.com/mcclellann/fundLoan/pkg/models"
	"github.com/mcclellann/fundLoan/pkg/xirr"
)

type FundMetrics struct {
	TotalRaised                 float64            `json:"total_raised"`
	DeployedCapital             float64            `json:"deployed_capital"`
	AvailableCapital            float64            `json:"available_capital"`
	TotalUpfrontCostsDeployed   float64            `json:"total_upfront_costs_deployed"`
	RecoveredPrincipal          float64            `json:"recovered_principal"`
	NPLVolume                   float64            `json:"npl_volume"`
	NPLPrincipalLoss            float64            `json:"npl_principal_loss"`
	NPLRatio                    float64            `json:"npl_ratio"`
	ProjectedIncome             float64            `json:"projected_income"`
	TotalProcessingFees         float64            `json:"total_processing_fees"`
	TotalExpenses               float64            `json:"total_expenses"`
	TotalAllocatedCostOfCapital float64            `json:"total_allocated_cost_of_capital"`
	TotalVariableCosts          float64            `json:"total_variable_costs"`
	NetYield                    float64            `json:"net_yield"`
	NAV                         float64            `json:"nav"`
	AUM                         float64            `json:"aum"`
	AccumulatedUndeployedCost   float64            `json:"accumulated_undeployed_cost"`
	PortfolioIRR                *float64           `json:"portfolio_irr"`
	ProjectedPortfolioIRR       *float64           `json:"projected_portfolio_irr"`
	GlobalCost                  finance.GlobalCost `json:"global_cost"`
}

// ledger accumulates the per-loan figures that the fund metrics are derived
// from. Cost and income attribution always uses original principal.
type ledger struct {
	grossDeployed          float64 // principal of active and defaulted loans
	recoveredPrincipal     float64 // principal back through installments already due
	upfrontVariableCosts   float64 // variable costs of active and defaulted loans
	recoveredVariableCosts float64

	interestIncome   float64 // on the non-defaulted part of principal
	processingFees   float64
	allocatedCost    float64 // every loan
	variableCost     float64 // every loan
	performingCost   float64 // allocated cost of loans not defaulted
	nplVolume        float64 // principal + interest of defaulted loans
	nplPrincipalLoss float64
}

func (l *ledger) add(loan *models.Loan, fundRate float64, asOf time.Time) {
	costs := finance.AllocateCosts(loan, fundRate)
	activePrincipal := loan.Principal - loan.Defaulted()

	l.interestIncome += finance.Interest(activePrincipal, loan.InterestRate, loan.DurationDays)
	l.allocatedCost += costs.AllocatedCostOfCapital
	l.variableCost += costs.VariableCosts

	if loan.Status == models.LoanStatusDefaulted {
		l.nplVolume += loan.Principal + finance.Interest(loan.Principal, loan.InterestRate, loan.DurationDays)
		l.nplPrincipalLoss += loan.Principal
	} else {
		l.performingCost += costs.AllocatedCostOfCapital
		l.processingFees += costs.ProcessingFee
	}

	if !loan.Deployed() {
		return
	}
	l.grossDeployed += loan.Principal
	l.upfrontVariableCosts += costs.VariableCosts

	// Bullet loans give nothing back until they are closed. A default keeps
	// whatever the monthly schedule had already returned.
	if loan.RepaymentType != models.RepaymentMonthly || len(loan.Installments) == 0 {
		return
	}
	n := float64(len(loan.Installments))
	for _, inst := range loan.Installments {
		if !inst.DueDate.After(asOf) {
			l.recoveredPrincipal += loan.Principal / n
			l.recoveredVariableCosts += costs.VariableCosts / n
		}
	}
}

// ComputeFundMetrics reports on fund as of today.
func ComputeFundMetrics(fund models.Fund, loans []models.Loan) FundMetrics {
	return ComputeFundMetricsAt(fund, loans, finance.Today())
}

// ComputeFundMetricsAt reports on fund as of asOf. Loans belonging to other
// funds are ignored.
func ComputeFundMetricsAt(fund models.Fund, loans []models.Loan, asOf time.Time) FundMetrics {
	fundLoans := loansOf(fund, loans)

	var l ledger
	for i := range fundLoans {
		l.add(&fundLoans[i], fund.CostOfCapitalRate, asOf)
	}

	deployed := l.grossDeployed - l.recoveredPrincipal
	unrecoveredCosts := l.upfrontVariableCosts - l.recoveredVariableCosts
	expenses := l.allocatedCost + l.variableCost
	netYield := l.interestIncome - expenses - l.nplPrincipalLoss

	nplRatio := 0.0
	if fund.TotalRaised > 0 {
		nplRatio = l.nplPrincipalLoss / fund.TotalRaised * 100
	}

	return FundMetrics{
		TotalRaised:                 fund.TotalRaised,
		DeployedCapital:             deployed,
		AvailableCapital:            fund.TotalRaised - deployed - unrecoveredCosts,
		TotalUpfrontCostsDeployed:   unrecoveredCosts,
		RecoveredPrincipal:          l.recoveredPrincipal,
		NPLVolume:                   l.nplVolume,
		NPLPrincipalLoss:            l.nplPrincipalLoss,
		NPLRatio:                    nplRatio,
		ProjectedIncome:             l.interestIncome,
		TotalProcessingFees:         l.processingFees,
		TotalExpenses:               expenses,
		TotalAllocatedCostOfCapital: l.performingCost,
		TotalVariableCosts:          l.variableCost,
		NetYield:                    netYield,
		NAV:                         fund.TotalRaised + l.performingCost - l.nplPrincipalLoss,
		AUM:                         fund.TotalRaised + l.performingCost + netYield,
		AccumulatedUndeployedCost:   accumulatedUndeployedCost(fund, fundLoans, asOf),
		PortfolioIRR:                xirr.Rate(portfolioFlows(fundLoans, false)),
		ProjectedPortfolioIRR:       xirr.Rate(portfolioFlows(fundLoans, true)),
		GlobalCost:                  finance.FundGlobalCost(fund.TotalRaised, fund.CostOfCapitalRate),
	}
}

// portfolioFlows lays every loan's principal out on its start date and its
// scheduled repayments back in. Unless projected is set, defaulted loans
// bring nothing back.
func portfolioFlows(loans []models.Loan, projected bool) []xirr.CashFlow {
	var flows []xirr.CashFlow
	for i := range loans {
		loan := &loans[i]
		flows = append(flows, xirr.CashFlow{Amount: -loan.Principal, Date: loan.StartDate})

		if !projected && loan.Status == models.LoanStatusDefaulted {
			continue
		}
		if len(loan.Installments) == 0 {
			flows = append(flows, xirr.CashFlow{
				Amount: finance.ExpectedRepayment(loan.Principal, loan.InterestRate, loan.DurationDays),
				Date:   loan.Maturity(),
			})
			continue
		}
		for _, inst := range loan.Installments {
			flows = append(flows, xirr.CashFlow{Amount: inst.Amount, Date: inst.DueDate})
		}
	}
	return flows
}

func loansOf(fund models.Fund, loans []models.Loan) []models.Loan {
	out := make([]models.Loan, 0, len(loans))
	for _, l := range loans {
		if l.FundID == fund.ID {
			out = append(out, l)
		}
	}
	return out
}
