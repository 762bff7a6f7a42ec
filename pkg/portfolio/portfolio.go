package portfolio

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fundLoan/pkg/analytics"
	"github.com/mcclellann/fundLoan/pkg/finance"
	"github.com/mcclellann/fundLoan/pkg/models"
	"github.com/mcclellann/fundLoan/pkg/store"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidFund   = errors.New("invalid fund")
	ErrInvalidLoan   = errors.New("invalid loan")
	ErrLoanNotActive = errors.New("loan is not active")
)

// Portfolio handles the business rules for funds and their loans and feeds
// stored records into the analytics.
type Portfolio struct {
	storage store.Storage
	now     func() time.Time
}

// NewPortfolio creates a new Portfolio with a given Storage implementation.
func NewPortfolio(s store.Storage) *Portfolio {
	return &Portfolio{
		storage: s,
		now:     finance.Today,
	}
}

// LoanRequest carries the terms of a new loan. A non-empty Installments
// replaces the generated schedule and must add up to the loan terms.
type LoanRequest struct {
	FundID            uuid.UUID            `json:"fund_id"`
	BorrowerName      string               `json:"borrower_name"`
	Principal         float64              `json:"principal"`
	InterestRate      float64              `json:"interest_rate"`
	ProcessingFeeRate *float64             `json:"processing_fee_rate,omitempty"`
	StartDate         time.Time            `json:"start_date"`
	DurationDays      int                  `json:"duration_days"`
	RepaymentType     models.RepaymentType `json:"repayment_type"`
	VariableCosts     []models.CostItem    `json:"variable_costs"`
	Installments      []models.Installment `json:"installments,omitempty"`
}

// LoanReturns is the per-loan economics report.
type LoanReturns struct {
	LoanID    uuid.UUID         `json:"loan_id"`
	Costs     finance.LoanCosts `json:"costs"`
	Interest  float64           `json:"interest"`
	NetYield  float64           `json:"net_yield"`
	GrossIRR  *float64          `json:"gross_irr"`
	NetIRR    *float64          `json:"net_irr"`
	FundRate  float64           `json:"fund_rate"`
	Repayment float64           `json:"expected_repayment"`
}

// CreateFund opens a fund with its first capital raise.
func (p *Portfolio) CreateFund(userID, name string, totalRaised, costOfCapitalRate float64) (*models.Fund, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidFund)
	}
	if totalRaised <= 0 {
		return nil, fmt.Errorf("%w: total raised must be positive", ErrInvalidFund)
	}
	if costOfCapitalRate < 0 {
		return nil, fmt.Errorf("%w: cost of capital rate must not be negative", ErrInvalidFund)
	}

	fund := &models.Fund{
		ID:                uuid.New(),
		UserID:            userID,
		Name:              strings.TrimSpace(name),
		TotalRaised:       totalRaised,
		CostOfCapitalRate: costOfCapitalRate,
		CreatedAt:         p.now(),
	}
	if err := p.storage.CreateFund(fund); err != nil {
		return nil, fmt.Errorf("failed to store fund: %w", err)
	}

	log.WithFields(log.Fields{
		"fund_id": fund.ID,
		"raised":  totalRaised,
		"rate":    costOfCapitalRate,
	}).Info("Fund created")
	return fund, nil
}

// RaiseCapital adds amount to the fund at rate and re-blends its cost of capital.
func (p *Portfolio) RaiseCapital(fundID uuid.UUID, amount, rate float64) (*models.Fund, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: raise amount must be positive", ErrInvalidFund)
	}
	if rate < 0 {
		return nil, fmt.Errorf("%w: rate must not be negative", ErrInvalidFund)
	}

	fund, err := p.storage.GetFund(fundID)
	if err != nil {
		return nil, err
	}
	previousRate := fund.CostOfCapitalRate
	merged := finance.RaiseCapital(*fund, amount, rate)
	if err := p.storage.UpdateFund(&merged); err != nil {
		return nil, fmt.Errorf("failed to update fund: %w", err)
	}

	log.WithFields(log.Fields{
		"fund_id":       fundID,
		"amount":        amount,
		"rate":          rate,
		"previous_rate": previousRate,
		"blended_rate":  merged.CostOfCapitalRate,
	}).Info("Capital raised")
	return &merged, nil
}

// GetFund retrieves a fund by its ID.
func (p *Portfolio) GetFund(id uuid.UUID) (*models.Fund, error) {
	return p.storage.GetFund(id)
}

// ListFunds retrieves all funds.
func (p *Portfolio) ListFunds() ([]*models.Fund, error) {
	return p.storage.ListFunds()
}

func validateTerms(req *LoanRequest) error {
	switch {
	case strings.TrimSpace(req.BorrowerName) == "":
		return fmt.Errorf("%w: borrower name is required", ErrInvalidLoan)
	case req.Principal <= 0:
		return fmt.Errorf("%w: principal must be positive", ErrInvalidLoan)
	case req.InterestRate < 0:
		return fmt.Errorf("%w: interest rate must not be negative", ErrInvalidLoan)
	case req.DurationDays <= 0:
		return fmt.Errorf("%w: duration must be at least one day", ErrInvalidLoan)
	case req.StartDate.IsZero():
		return fmt.Errorf("%w: start date is required", ErrInvalidLoan)
	case req.ProcessingFeeRate != nil && *req.ProcessingFeeRate < 0:
		return fmt.Errorf("%w: processing fee rate must not be negative", ErrInvalidLoan)
	}
	if req.RepaymentType != models.RepaymentBullet && req.RepaymentType != models.RepaymentMonthly {
		return fmt.Errorf("%w: unknown repayment type %q", ErrInvalidLoan, req.RepaymentType)
	}
	for _, c := range req.VariableCosts {
		if c.Percentage < 0 || c.Percentage > 100 {
			return fmt.Errorf("%w: variable cost %q must be between 0 and 100 percent", ErrInvalidLoan, c.Name)
		}
	}
	return nil
}

// PreviewSchedule returns the schedule a loan with these terms would get.
// count > 0 splits the repayment into that many cent-rounded installments
// instead of the standard schedule.
func (p *Portfolio) PreviewSchedule(req LoanRequest, count int) ([]models.Installment, error) {
	if err := validateTerms(&req); err != nil {
		return nil, err
	}
	if count > 0 {
		return finance.SplitSchedule(req.Principal, req.InterestRate, req.StartDate, req.DurationDays, count), nil
	}
	return finance.GenerateSchedule(req.Principal, req.InterestRate, req.StartDate, req.DurationDays, req.RepaymentType), nil
}

// CreateLoan books a new active loan against a fund.
func (p *Portfolio) CreateLoan(req LoanRequest) (*models.Loan, error) {
	if err := validateTerms(&req); err != nil {
		return nil, err
	}
	if _, err := p.storage.GetFund(req.FundID); err != nil {
		return nil, err
	}

	installments := req.Installments
	if len(installments) > 0 {
		if err := finance.ValidateSchedule(installments, req.Principal, req.InterestRate, req.DurationDays); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidLoan, err)
		}
		installments = make([]models.Installment, len(req.Installments))
		for i, inst := range req.Installments {
			if inst.ID == uuid.Nil {
				inst.ID = uuid.New()
			}
			inst.Status = models.InstallmentPending
			installments[i] = inst
		}
	} else {
		installments = finance.GenerateSchedule(req.Principal, req.InterestRate, req.StartDate, req.DurationDays, req.RepaymentType)
	}

	loan := &models.Loan{
		ID:                uuid.New(),
		FundID:            req.FundID,
		BorrowerName:      strings.TrimSpace(req.BorrowerName),
		Principal:         req.Principal,
		InterestRate:      req.InterestRate,
		ProcessingFeeRate: req.ProcessingFeeRate,
		StartDate:         req.StartDate,
		DurationDays:      req.DurationDays,
		RepaymentType:     req.RepaymentType,
		VariableCosts:     req.VariableCosts,
		Installments:      installments,
		Status:            models.LoanStatusActive,
		CreatedAt:         p.now(),
	}
	if err := p.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	log.WithFields(log.Fields{
		"loan_id":      loan.ID,
		"fund_id":      loan.FundID,
		"principal":    loan.Principal,
		"installments": len(loan.Installments),
	}).Info("Loan created")
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (p *Portfolio) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return p.storage.GetLoan(id)
}

// ListLoans retrieves every loan of a fund.
func (p *Portfolio) ListLoans(fundID uuid.UUID) ([]*models.Loan, error) {
	if _, err := p.storage.GetFund(fundID); err != nil {
		return nil, err
	}
	return p.storage.ListLoansByFund(fundID)
}

func (p *Portfolio) activeLoan(id uuid.UUID) (*models.Loan, error) {
	loan, err := p.storage.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, fmt.Errorf("%w: loan %s is %s", ErrLoanNotActive, id, loan.Status)
	}
	return loan, nil
}

// MarkDefaulted moves an active loan to non-performing. amount is the
// principal written off; nil writes off the whole principal.
func (p *Portfolio) MarkDefaulted(id uuid.UUID, amount *float64) (*models.Loan, error) {
	loan, err := p.activeLoan(id)
	if err != nil {
		return nil, err
	}
	if amount != nil && (*amount <= 0 || *amount > loan.Principal) {
		return nil, fmt.Errorf("%w: defaulted amount must be positive and at most the principal", ErrInvalidLoan)
	}

	if amount == nil {
		amount = models.Float(loan.Principal)
	}
	loan.Status = models.LoanStatusDefaulted
	loan.DefaultedAmount = amount
	if err := p.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}

	log.WithFields(log.Fields{
		"loan_id":   id,
		"principal": loan.Principal,
		"defaulted": loan.Defaulted(),
	}).Warn("Loan marked as defaulted")
	return loan, nil
}

// CloseLoan marks an active loan as fully repaid.
func (p *Portfolio) CloseLoan(id uuid.UUID) (*models.Loan, error) {
	loan, err := p.activeLoan(id)
	if err != nil {
		return nil, err
	}

	loan.Status = models.LoanStatusClosed
	for i := range loan.Installments {
		loan.Installments[i].Status = models.InstallmentPaid
	}
	if err := p.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to update loan: %w", err)
	}

	log.WithFields(log.Fields{"loan_id": id}).Info("Loan closed")
	return loan, nil
}

// DeleteLoan deletes a loan.
func (p *Portfolio) DeleteLoan(id uuid.UUID) error {
	if err := p.storage.DeleteLoan(id); err != nil {
		return err
	}
	log.WithFields(log.Fields{"loan_id": id}).Info("Loan deleted")
	return nil
}

// RecordInstallmentPayment marks one installment as paid. The loan closes
// once every installment is paid.
func (p *Portfolio) RecordInstallmentPayment(loanID, installmentID uuid.UUID) (*models.Loan, error) {
	loan, err := p.activeLoan(loanID)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, inst := range loan.Installments {
		if inst.ID == installmentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("installment %s of loan %s: %w", installmentID, loanID, store.ErrNotFound)
	}
	if loan.Installments[idx].Status == models.InstallmentPaid {
		return loan, nil
	}

	if err := p.storage.UpdateInstallmentStatus(installmentID, models.InstallmentPaid); err != nil {
		return nil, fmt.Errorf("failed to update installment: %w", err)
	}
	loan.Installments[idx].Status = models.InstallmentPaid

	allPaid := true
	for _, inst := range loan.Installments {
		if inst.Status != models.InstallmentPaid {
			allPaid = false
			break
		}
	}
	if allPaid {
		loan.Status = models.LoanStatusClosed
		if err := p.storage.UpdateLoan(loan); err != nil {
			return nil, fmt.Errorf("failed to close repaid loan: %w", err)
		}
	}

	log.WithFields(log.Fields{
		"loan_id":        loanID,
		"installment_id": installmentID,
		"amount":         loan.Installments[idx].Amount,
		"closed":         allPaid,
	}).Info("Installment paid")
	return loan, nil
}

// SweepOverdueInstallments marks pending installments of active loans that
// fell due before today as overdue, and returns how many were marked.
// Failures on a single installment are logged and skipped.
func (p *Portfolio) SweepOverdueInstallments() (int, error) {
	loans, err := p.storage.ListActiveLoans()
	if err != nil {
		return 0, fmt.Errorf("failed to get active loans for overdue sweep: %w", err)
	}

	today := p.now()
	marked := 0
	for _, loan := range loans {
		for i := range loan.Installments {
			inst := &loan.Installments[i]
			if inst.Status != models.InstallmentPending || !inst.DueDate.Before(today) {
				continue
			}
			if err := p.storage.UpdateInstallmentStatus(inst.ID, models.InstallmentOverdue); err != nil {
				log.WithFields(log.Fields{
					"loan_id":        loan.ID,
					"installment_id": inst.ID,
				}).WithError(err).Error("Error marking installment overdue")
				continue
			}
			inst.Status = models.InstallmentOverdue
			marked++
		}
	}

	log.WithFields(log.Fields{"loans": len(loans), "marked": marked}).Info("Overdue sweep finished")
	return marked, nil
}

func (p *Portfolio) fundWithLoans(fundID uuid.UUID) (*models.Fund, []models.Loan, error) {
	fund, err := p.storage.GetFund(fundID)
	if err != nil {
		return nil, nil, err
	}
	stored, err := p.storage.ListLoansByFund(fundID)
	if err != nil {
		return nil, nil, err
	}
	loans := make([]models.Loan, len(stored))
	for i, l := range stored {
		loans[i] = *l
	}
	return fund, loans, nil
}

// FundMetrics reports on a fund as of today.
func (p *Portfolio) FundMetrics(fundID uuid.UUID) (*analytics.FundMetrics, error) {
	fund, loans, err := p.fundWithLoans(fundID)
	if err != nil {
		return nil, err
	}
	m := analytics.ComputeFundMetricsAt(*fund, loans, p.now())
	return &m, nil
}

// Forecast projects a fund's available capital over the next months.
func (p *Portfolio) Forecast(fundID uuid.UUID, months int) (*analytics.Forecast, error) {
	fund, loans, err := p.fundWithLoans(fundID)
	if err != nil {
		return nil, err
	}
	f := analytics.ComputeCashFlowForecastAt(*fund, loans, months, p.now())
	return &f, nil
}

// LoanReturns reports a loan's costs, yield and returns at its fund's current rate.
func (p *Portfolio) LoanReturns(loanID uuid.UUID) (*LoanReturns, error) {
	loan, err := p.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	fund, err := p.storage.GetFund(loan.FundID)
	if err != nil {
		return nil, err
	}

	rate := fund.CostOfCapitalRate
	return &LoanReturns{
		LoanID:    loan.ID,
		Costs:     finance.AllocateCosts(loan, rate),
		Interest:  finance.Interest(loan.Principal, loan.InterestRate, loan.DurationDays),
		NetYield:  finance.NetYield(loan.Principal, loan.InterestRate, rate, loan.DurationDays, loan.VariableCosts),
		GrossIRR:  finance.LoanIRR(loan),
		NetIRR:    finance.LoanNetIRR(loan, rate),
		FundRate:  rate,
		Repayment: finance.ExpectedRepayment(loan.Principal, loan.InterestRate, loan.DurationDays),
	}, nil
}
