package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fundLoan/pkg/finance"
	"github.com/mcclellann/fundLoan/pkg/models"
)

const DefaultForecastMonths = 12

type EventType string

const EventRepayment EventType = "REPAYMENT"

// Event is one expected repayment and how its cash is split. Only the
// principal and cost recoveries replenish deployable capital; Yield is
// profit.
type Event struct {
	Date                 time.Time `json:"date"`
	Amount               float64   `json:"amount"`
	Type                 EventType `json:"type"`
	LoanID               uuid.UUID `json:"loan_id"`
	BorrowerName         string    `json:"borrower_name"`
	InstallmentNumber    int       `json:"installment_number,omitempty"`
	TotalInstallments    int       `json:"total_installments,omitempty"`
	Description          string    `json:"description"`
	PrincipalPortion     float64   `json:"principal_portion"`
	VariableCostRecovery float64   `json:"variable_cost_recovery"`
	CoCRecovery          float64   `json:"coc_recovery"`
	Yield                float64   `json:"yield"`
}

// Replenishment is the part of the event that becomes deployable again.
func (e Event) Replenishment() float64 {
	return e.PrincipalPortion + e.VariableCostRecovery + e.CoCRecovery
}

type Projection struct {
	Date                time.Time `json:"date"`
	ExpectedRepayments  float64   `json:"expected_repayments"`
	CumulativeAvailable float64   `json:"cumulative_available"`
	Events              []Event   `json:"events"`
}

type Summary struct {
	Next30Days      float64   `json:"next_30_days"`
	Next90Days      float64   `json:"next_90_days"`
	PeakAvailable   float64   `json:"peak_available"`
	PeakDate        time.Time `json:"peak_date"`
	LowestAvailable float64   `json:"lowest_available"`
	LowestDate      time.Time `json:"lowest_date"`
}

type Forecast struct {
	Projections []Projection `json:"projections"`
	Summary     Summary      `json:"summary"`
}

// waterfall is a loan's whole-life split between break-even components and
// yield.
type waterfall struct {
	repayment      float64 // principal + interest + processing fee
	breakEven      float64
	yield          float64
	principalShare float64
	varCostShare   float64
	cocShare       float64
}

func loanWaterfall(loan *models.Loan, fundRate float64) waterfall {
	costs := finance.AllocateCosts(loan, fundRate)
	repayment := loan.Principal + finance.Interest(loan.Principal, loan.InterestRate, loan.DurationDays) + costs.ProcessingFee
	return waterfall{
		repayment:      repayment,
		breakEven:      costs.BreakEven,
		yield:          math.Max(0, repayment-costs.BreakEven),
		principalShare: loan.Principal / costs.BreakEven,
		varCostShare:   costs.VariableCosts / costs.BreakEven,
		cocShare:       costs.AllocatedCostOfCapital / costs.BreakEven,
	}
}

// split allocates amount, of which yield is profit and the rest is spread
// over the break-even components.
func (w waterfall) split(e *Event, amount, yield float64) {
	recoverable := amount - yield
	e.Amount = amount
	e.Yield = yield
	e.PrincipalPortion = recoverable * w.principalShare
	e.VariableCostRecovery = recoverable * w.varCostShare
	e.CoCRecovery = recoverable * w.cocShare
}

// RepaymentEvents lists the repayments still due on or after asOf from
// active loans of fund, in date order. A loan's whole yield is attributed to
// its final installment.
func RepaymentEvents(fund models.Fund, loans []models.Loan, asOf time.Time) []Event {
	var events []Event
	fundLoans := loansOf(fund, loans)
	for i := range fundLoans {
		loan := &fundLoans[i]
		if loan.Status != models.LoanStatusActive {
			continue
		}
		w := loanWaterfall(loan, fund.CostOfCapitalRate)

		if len(loan.Installments) == 0 {
			maturity := loan.Maturity()
			if maturity.Before(asOf) {
				continue
			}
			e := Event{
				Date:         maturity,
				Type:         EventRepayment,
				LoanID:       loan.ID,
				BorrowerName: loan.BorrowerName,
				Description:  fmt.Sprintf("%s - Bullet Repayment", loan.BorrowerName),
			}
			w.split(&e, w.repayment, w.yield)
			events = append(events, e)
			continue
		}

		total := len(loan.Installments)
		for idx, inst := range loan.Installments {
			if inst.DueDate.Before(asOf) {
				continue
			}
			yield := 0.0
			if idx == total-1 {
				yield = w.yield
			}
			e := Event{
				Date:              inst.DueDate,
				Type:              EventRepayment,
				LoanID:            loan.ID,
				BorrowerName:      loan.BorrowerName,
				InstallmentNumber: idx + 1,
				TotalInstallments: total,
				Description:       fmt.Sprintf("%s - Installment %d/%d", loan.BorrowerName, idx+1, total),
			}
			w.split(&e, inst.Amount, yield)
			events = append(events, e)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.Before(events[j].Date)
	})
	return events
}

// ComputeCashFlowForecast projects available capital over the next months.
func ComputeCashFlowForecast(fund models.Fund, loans []models.Loan, months int) Forecast {
	return ComputeCashFlowForecastAt(fund, loans, months, finance.Today())
}

// ComputeCashFlowForecastAt walks the repayments due within months of asOf,
// adding each date's recoveries to the available balance. months <= 0 uses
// DefaultForecastMonths.
func ComputeCashFlowForecastAt(fund models.Fund, loans []models.Loan, months int, asOf time.Time) Forecast {
	if months <= 0 {
		months = DefaultForecastMonths
	}
	today := dateOf(asOf)
	horizon := today.AddDate(0, months, 0)
	fundLoans := loansOf(fund, loans)

	running := fund.TotalRaised
	for i := range fundLoans {
		loan := &fundLoans[i]
		if loan.Deployed() {
			running -= loan.Principal + finance.VariableCosts(loan.Principal, loan.VariableCosts)
		}
	}
	initial := running

	projections := []Projection{{Date: today, CumulativeAvailable: initial, Events: []Event{}}}
	for _, e := range RepaymentEvents(fund, fundLoans, today) {
		if e.Date.After(horizon) {
			break
		}
		day := dateOf(e.Date)
		last := &projections[len(projections)-1]
		// Repayments due today land on the opening projection.
		if !last.Date.Equal(day) {
			projections = append(projections, Projection{Date: day, CumulativeAvailable: running})
			last = &projections[len(projections)-1]
		}
		running += e.Replenishment()
		last.ExpectedRepayments += e.Amount
		last.CumulativeAvailable = running
		last.Events = append(last.Events, e)
	}

	return Forecast{
		Projections: projections,
		Summary:     summarize(projections, today, initial),
	}
}

func summarize(projections []Projection, today time.Time, initial float64) Summary {
	in30 := today.AddDate(0, 0, 30)
	in90 := today.AddDate(0, 0, 90)

	s := Summary{
		PeakAvailable:   initial,
		PeakDate:        today,
		LowestAvailable: initial,
		LowestDate:      today,
	}
	for _, p := range projections {
		if !p.Date.After(in30) {
			s.Next30Days += p.ExpectedRepayments
		}
		if !p.Date.After(in90) {
			s.Next90Days += p.ExpectedRepayments
		}
		if p.CumulativeAvailable > s.PeakAvailable {
			s.PeakAvailable = p.CumulativeAvailable
			s.PeakDate = p.Date
		}
		if p.CumulativeAvailable < s.LowestAvailable {
			s.LowestAvailable = p.CumulativeAvailable
			s.LowestDate = p.Date
		}
	}
	return s
}

func dateOf(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
