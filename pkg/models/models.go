package models

import (
	"time"

	"github.com/google/uuid"
)

type LoanStatus string

const (
	LoanStatusActive    LoanStatus = "ACTIVE"
	LoanStatusClosed    LoanStatus = "CLOSED"
	LoanStatusDefaulted LoanStatus = "DEFAULTED"
)

type RepaymentType string

const (
	RepaymentBullet  RepaymentType = "BULLET"
	RepaymentMonthly RepaymentType = "MONTHLY"
)

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPaid    InstallmentStatus = "PAID"
	InstallmentOverdue InstallmentStatus = "OVERDUE"
)

// CostItem is a named fee charged as a percentage of principal (e.g. insurance).
type CostItem struct {
	Name       string  `json:"name"`
	Percentage float64 `json:"percentage"` // 0-100
}

type Installment struct {
	ID                 uuid.UUID         `json:"id"`
	DueDate            time.Time         `json:"due_date"`
	Amount             float64           `json:"amount"`
	PrincipalComponent float64           `json:"principal_component"`
	InterestComponent  float64           `json:"interest_component"`
	Status             InstallmentStatus `json:"status"`
}

type Loan struct {
	ID                uuid.UUID     `json:"id"`
	FundID            uuid.UUID     `json:"fund_id"`
	BorrowerName      string        `json:"borrower_name"`
	Principal         float64       `json:"principal"`
	InterestRate      float64       `json:"interest_rate"`                 // % per annum
	ProcessingFeeRate *float64      `json:"processing_fee_rate,omitempty"` // % of principal, collected upfront
	StartDate         time.Time     `json:"start_date"`
	DurationDays      int           `json:"duration_days"`
	RepaymentType     RepaymentType `json:"repayment_type"`
	VariableCosts     []CostItem    `json:"variable_costs"`
	Installments      []Installment `json:"installments"`
	Status            LoanStatus    `json:"status"`
	DefaultedAmount   *float64      `json:"defaulted_amount,omitempty"` // principal marked non-performing
	CreatedAt         time.Time     `json:"created_at"`
}

// FeeRate returns the processing fee rate, 0 when unset.
func (l *Loan) FeeRate() float64 {
	if l.ProcessingFeeRate == nil {
		return 0
	}
	return *l.ProcessingFeeRate
}

// Defaulted returns the principal marked as non-performing, 0 when unset.
func (l *Loan) Defaulted() float64 {
	if l.DefaultedAmount == nil {
		return 0
	}
	return *l.DefaultedAmount
}

// Maturity is the start date moved forward by the loan's duration.
func (l *Loan) Maturity() time.Time {
	return l.StartDate.AddDate(0, 0, l.DurationDays)
}

// Deployed reports whether the loan's principal is still out of the fund.
func (l *Loan) Deployed() bool {
	return l.Status == LoanStatusActive || l.Status == LoanStatusDefaulted
}

type Fund struct {
	ID                uuid.UUID `json:"id"`
	UserID            string    `json:"user_id"` // opaque owner reference
	Name              string    `json:"name"`
	TotalRaised       float64   `json:"total_raised"`
	CostOfCapitalRate float64   `json:"cost_of_capital_rate"` // blended % per annum
	CreatedAt         time.Time `json:"created_at"`
}

// Float returns a pointer to v, for the optional loan fields.
func Float(v float64) *float64 {
	return &v
}
