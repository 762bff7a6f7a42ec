package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fundLoan/pkg/finance"
	"github.com/mcclellann/fundLoan/pkg/models"
	"github.com/mcclellann/fundLoan/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockStore is a simple in-memory implementation of the Storage interface for testing.
type MockStore struct {
	funds     map[uuid.UUID]*models.Fund
	loans     map[uuid.UUID]*models.Loan
	failInsts map[uuid.UUID]bool
}

func NewMockStore() *MockStore {
	return &MockStore{
		funds:     make(map[uuid.UUID]*models.Fund),
		loans:     make(map[uuid.UUID]*models.Loan),
		failInsts: make(map[uuid.UUID]bool),
	}
}

func (m *MockStore) CreateFund(fund *models.Fund) error {
	f := *fund
	m.funds[fund.ID] = &f
	return nil
}

func (m *MockStore) GetFund(id uuid.UUID) (*models.Fund, error) {
	fund, ok := m.funds[id]
	if !ok {
		return nil, fmt.Errorf("fund %s: %w", id, store.ErrNotFound)
	}
	f := *fund
	return &f, nil
}

func (m *MockStore) UpdateFund(fund *models.Fund) error {
	if _, ok := m.funds[fund.ID]; !ok {
		return store.ErrNotFound
	}
	f := *fund
	m.funds[fund.ID] = &f
	return nil
}

func (m *MockStore) ListFunds() ([]*models.Fund, error) {
	funds := []*models.Fund{}
	for _, f := range m.funds {
		c := *f
		funds = append(funds, &c)
	}
	return funds, nil
}

func copyLoan(loan *models.Loan) *models.Loan {
	l := *loan
	l.Installments = append([]models.Installment(nil), loan.Installments...)
	l.VariableCosts = append([]models.CostItem(nil), loan.VariableCosts...)
	return &l
}

func (m *MockStore) CreateLoan(loan *models.Loan) error {
	m.loans[loan.ID] = copyLoan(loan)
	return nil
}

func (m *MockStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan %s: %w", id, store.ErrNotFound)
	}
	return copyLoan(loan), nil
}

func (m *MockStore) UpdateLoan(loan *models.Loan) error {
	if _, ok := m.loans[loan.ID]; !ok {
		return store.ErrNotFound
	}
	m.loans[loan.ID] = copyLoan(loan)
	return nil
}

func (m *MockStore) DeleteLoan(id uuid.UUID) error {
	if _, ok := m.loans[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.loans, id)
	return nil
}

func (m *MockStore) list(keep func(*models.Loan) bool) []*models.Loan {
	loans := []*models.Loan{}
	for _, l := range m.loans {
		if keep(l) {
			loans = append(loans, copyLoan(l))
		}
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].StartDate.Before(loans[j].StartDate) })
	return loans
}

func (m *MockStore) ListLoansByFund(fundID uuid.UUID) ([]*models.Loan, error) {
	return m.list(func(l *models.Loan) bool { return l.FundID == fundID }), nil
}

func (m *MockStore) ListActiveLoans() ([]*models.Loan, error) {
	return m.list(func(l *models.Loan) bool { return l.Status == models.LoanStatusActive }), nil
}

func (m *MockStore) UpdateInstallmentStatus(id uuid.UUID, status models.InstallmentStatus) error {
	if m.failInsts[id] {
		return errors.New("disk full")
	}
	for _, l := range m.loans {
		for i := range l.Installments {
			if l.Installments[i].ID == id {
				l.Installments[i].Status = status
				return nil
			}
		}
	}
	return store.ErrNotFound
}

func (m *MockStore) Close() error {
	return nil
}

var today = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestPortfolio() (*Portfolio, *MockStore) {
	s := NewMockStore()
	p := NewPortfolio(s)
	p.now = func() time.Time { return today }
	return p, s
}

func bulletRequest(fundID uuid.UUID) LoanRequest {
	return LoanRequest{
		FundID:        fundID,
		BorrowerName:  "Acme",
		Principal:     50000,
		InterestRate:  20,
		StartDate:     today.AddDate(0, 0, -10),
		DurationDays:  90,
		RepaymentType: models.RepaymentBullet,
	}
}

func TestCreateFund(t *testing.T) {
	p, s := newTestPortfolio()

	fund, err := p.CreateFund("user_1", "  Fund I ", 100000, 10)
	require.NoError(t, err)
	assert.Equal(t, "Fund I", fund.Name)
	assert.Equal(t, today, fund.CreatedAt)
	assert.Contains(t, s.funds, fund.ID)

	_, err = p.CreateFund("user_1", "", 100000, 10)
	assert.ErrorIs(t, err, ErrInvalidFund)
	_, err = p.CreateFund("user_1", "Fund", -1, 10)
	assert.ErrorIs(t, err, ErrInvalidFund)
	_, err = p.CreateFund("user_1", "Fund", 0, 10)
	assert.ErrorIs(t, err, ErrInvalidFund)
	_, err = p.CreateFund("user_1", "Fund", 100, -1)
	assert.ErrorIs(t, err, ErrInvalidFund)
}

func TestRaiseCapital(t *testing.T) {
	p, _ := newTestPortfolio()
	fund, err := p.CreateFund("user_1", "Fund I", 100000, 10)
	require.NoError(t, err)

	raised, err := p.RaiseCapital(fund.ID, 100000, 6)
	require.NoError(t, err)
	assert.Equal(t, 200000.0, raised.TotalRaised)
	assert.InDelta(t, 8.0, raised.CostOfCapitalRate, 1e-12)

	stored, err := p.GetFund(fund.ID)
	require.NoError(t, err)
	assert.Equal(t, *raised, *stored)

	_, err = p.RaiseCapital(fund.ID, 0, 6)
	assert.ErrorIs(t, err, ErrInvalidFund)
	_, err = p.RaiseCapital(fund.ID, 1000, -0.5)
	assert.ErrorIs(t, err, ErrInvalidFund)
	_, err = p.RaiseCapital(uuid.New(), 1000, 5)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateLoan_GeneratesSchedule(t *testing.T) {
	p, s := newTestPortfolio()
	fund, err := p.CreateFund("user_1", "Fund I", 100000, 10)
	require.NoError(t, err)

	req := bulletRequest(fund.ID)
	req.RepaymentType = models.RepaymentMonthly
	loan, err := p.CreateLoan(req)
	require.NoError(t, err)

	assert.Equal(t, models.LoanStatusActive, loan.Status)
	require.Len(t, loan.Installments, 3)
	assert.InDelta(t, 52500.0, finance.ScheduleTotal(loan.Installments), 1e-9)
	assert.Contains(t, s.loans, loan.ID)
}

func TestCreateLoan_CustomSchedule(t *testing.T) {
	p, _ := newTestPortfolio()
	fund, err := p.CreateFund("user_1", "Fund I", 100000, 10)
	require.NoError(t, err)

	req := bulletRequest(fund.ID)
	req.Installments = []models.Installment{
		{DueDate: req.StartDate.AddDate(0, 0, 45), Amount: 20000, Status: models.InstallmentPaid},
		{DueDate: req.StartDate.AddDate(0, 0, 90), Amount: 32500.04},
	}
	loan, err := p.CreateLoan(req)
	require.NoError(t, err)
	require.Len(t, loan.Installments, 2)
	for _, inst := range loan.Installments {
		assert.NotEqual(t, uuid.Nil, inst.ID)
		assert.Equal(t, models.InstallmentPending, inst.Status)
	}

	req.Installments[1].Amount = 32500.06
	_, err = p.CreateLoan(req)
	assert.ErrorIs(t, err, ErrInvalidLoan)
	assert.ErrorIs(t, err, finance.ErrScheduleMismatch)
}

func TestCreateLoan_Validation(t *testing.T) {
	p, _ := newTestPortfolio()
	fund, err := p.CreateFund("user_1", "Fund I", 100000, 10)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*LoanRequest)
	}{
		{"no borrower", func(r *LoanRequest) { r.BorrowerName = " " }},
		{"zero principal", func(r *LoanRequest) { r.Principal = 0 }},
		{"negative rate", func(r *LoanRequest) { r.InterestRate = -1 }},
		{"zero duration", func(r *LoanRequest) { r.DurationDays = 0 }},
		{"no start date", func(r *LoanRequest) { r.StartDate = time.Time{} }},
		{"negative fee", func(r *LoanRequest) { r.ProcessingFeeRate = models.Float(-2) }},
		{"unknown repayment", func(r *LoanRequest) { r.RepaymentType = "WEEKLY" }},
		{"cost over 100%", func(r *LoanRequest) { r.VariableCosts = []models.CostItem{{Name: "x", Percentage: 101}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := bulletRequest(fund.ID)
			tt.mutate(&req)
			_, err := p.CreateLoan(req)
			assert.ErrorIs(t, err, ErrInvalidLoan)
		})
	}

	_, err = p.CreateLoan(bulletRequest(uuid.New()))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMarkDefaulted(t *testing.T) {
	p, _ := newTestPortfolio()
	fund, err := p.CreateFund("user_1", "Fund I", 100000, 10)
	require.NoError(t, err)
	loan, err := p.CreateLoan(bulletRequest(fund.ID))
	require.NoError(t, err)

	_, err = p.MarkDefaulted(loan.ID, models.Float(60000))
	assert.ErrorIs(t, err, ErrInvalidLoan)
	_, err = p.MarkDefaulted(loan.ID, models.Float(0))
	assert.ErrorIs(t, err, ErrInvalidLoan)

	defaulted, err := p.MarkDefaulted(loan.ID, models.Float(20000))
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusDefaulted, defaulted.Status)
	assert.Equal(t, 20000.0, defaulted.Defaulted())

	_, err = p.MarkDefaulted(loan.ID, nil)
	assert.ErrorIs(t, err, ErrLoanNotActive)
}

func TestMarkDefaulted_WithoutAmountWritesOffPrincipal(t *testing.T) {
	p, s := newTestPortfolio()
	fund, err := p.CreateFund("user_1", "Fund I", 100000, 10)
	require.NoError(t, err)
	loan, err := p.CreateLoan(bulletRequest(fund.ID))
	require.NoError(t, err)

	defaulted, err := p.MarkDefaulted(loan.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, defaulted.DefaultedAmount)
	assert.Equal(t, 50000.0, *defaulted.DefaultedAmount)
	require.NotNil(t, s.loans[loan.ID].DefaultedAmount)
	assert.Equal(t, 50000.0, *s.loans[loan.ID].DefaultedAmount)

	m, err := p.FundMetrics(fund.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.ProjectedIncome)
	assert.Equal(t, 50000.0, m.NPLPrincipalLoss)
}

func TestRecordInstallmentPayment(t *testing.T) {
	p, s := newTestPortfolio()
	fund, err := p.CreateFund("user_1", "Fund I", 100000, 10)
	require.NoError(t, err)
	req := bulletRequest(fund.ID)
	req.RepaymentType = models.RepaymentMonthly
	req.DurationDays = 60
	loan, err := p.CreateLoan(req)
	require.NoError(t, err)
	require.Len(t, loan.Installments, 2)

	updated, err := p.RecordInstallmentPayment(loan.ID, loan.Installments[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusActive, updated.Status)
	assert.Equal(t, models.InstallmentPaid, s.loans[loan.ID].Installments[0].Status)

	_, err = p.RecordInstallmentPayment(loan.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	updated, err = p.RecordInstallmentPayment(loan.ID, loan.Installments[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusClosed, updated.Status)

	_, err = p.RecordInstallmentPayment(loan.ID, loan.Installments[1].ID)
	assert.ErrorIs(t, err, ErrLoanNotActive)
}

func TestCloseAndDeleteLoan(t *testing.T) {
	p, _ := newTestPortfolio()
	fund, err := p.CreateFund("user_1", "Fund I", 100000, 10)
	require.NoError(t, err)
	loan, err := p.CreateLoan(bulletRequest(fund.ID))
	require.NoError(t, err)

	closed, err := p.CloseLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusClosed, closed.Status)
	assert.Equal(t, models.InstallmentPaid, closed.Installments[0].Status)

	_, err = p.CloseLoan(loan.ID)
	assert.ErrorIs(t, err, ErrLoanNotActive)

	require.NoError(t, p.DeleteLoan(loan.ID))
	_, err = p.GetLoan(loan.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSweepOverdueInstallments(t *testing.T) {
	p, s := newTestPortfolio()
	fund, err := p.CreateFund("user_1", "Fund I", 500000, 10)
	require.NoError(t, err)

	req := bulletRequest(fund.ID)
	req.RepaymentType = models.RepaymentMonthly
	req.StartDate = today.AddDate(0, 0, -75)
	monthly, err := p.CreateLoan(req)
	require.NoError(t, err)

	// Due exactly today is not overdue yet.
	req.StartDate = today.AddDate(0, 0, -90)
	req.RepaymentType = models.RepaymentBullet
	dueToday, err := p.CreateLoan(req)
	require.NoError(t, err)

	req.StartDate = today.AddDate(0, 0, -200)
	defaulted, err := p.CreateLoan(req)
	require.NoError(t, err)
	_, err = p.MarkDefaulted(defaulted.ID, nil)
	require.NoError(t, err)

	_, err = p.RecordInstallmentPayment(monthly.ID, monthly.Installments[0].ID)
	require.NoError(t, err)

	marked, err := p.SweepOverdueInstallments()
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	insts := s.loans[monthly.ID].Installments
	assert.Equal(t, models.InstallmentPaid, insts[0].Status)
	assert.Equal(t, models.InstallmentOverdue, insts[1].Status)
	assert.Equal(t, models.InstallmentPending, insts[2].Status)
	assert.Equal(t, models.InstallmentPending, s.loans[dueToday.ID].Installments[0].Status)
	assert.Equal(t, models.InstallmentPending, s.loans[defaulted.ID].Installments[0].Status)

	again, err := p.SweepOverdueInstallments()
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}

func TestSweepOverdueInstallments_ContinuesPastFailures(t *testing.T) {
	p, s := newTestPortfolio()
	fund, err := p.CreateFund("user_1", "Fund I", 500000, 10)
	require.NoError(t, err)

	req := bulletRequest(fund.ID)
	req.RepaymentType = models.RepaymentMonthly
	req.StartDate = today.AddDate(0, 0, -100)
	loan, err := p.CreateLoan(req)
	require.NoError(t, err)
	s.failInsts[loan.Installments[0].ID] = true

	marked, err := p.SweepOverdueInstallments()
	require.NoError(t, err)
	assert.Equal(t, 2, marked)
}

func TestFundMetricsAndForecast(t *testing.T) {
	p, _ := newTestPortfolio()
	fund, err := p.CreateFund("user_1", "Fund I", 100000, 10)
	require.NoError(t, err)
	_, err = p.CreateLoan(bulletRequest(fund.ID))
	require.NoError(t, err)

	m, err := p.FundMetrics(fund.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1250.0, m.NetYield, 1e-9)
	assert.Equal(t, 50000.0, m.AvailableCapital)

	f, err := p.Forecast(fund.ID, 12)
	require.NoError(t, err)
	require.Len(t, f.Projections, 2)
	assert.InDelta(t, 52500.0, f.Projections[1].ExpectedRepayments, 1e-9)
	assert.Equal(t, today.AddDate(0, 0, 80), f.Projections[1].Date)

	_, err = p.FundMetrics(uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoanReturns(t *testing.T) {
	p, _ := newTestPortfolio()
	fund, err := p.CreateFund("user_1", "Fund I", 100000, 10)
	require.NoError(t, err)
	req := bulletRequest(fund.ID)
	req.VariableCosts = []models.CostItem{{Name: "insurance", Percentage: 1}}
	loan, err := p.CreateLoan(req)
	require.NoError(t, err)

	r, err := p.LoanReturns(loan.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2500.0, r.Interest, 1e-9)
	assert.InDelta(t, 1250.0, r.Costs.AllocatedCostOfCapital, 1e-9)
	assert.InDelta(t, 500.0, r.Costs.VariableCosts, 1e-9)
	assert.InDelta(t, 51750.0, r.Costs.BreakEven, 1e-9)
	assert.InDelta(t, 750.0, r.NetYield, 1e-9)
	assert.InDelta(t, 52500.0, r.Repayment, 1e-9)
	require.NotNil(t, r.GrossIRR)
	require.NotNil(t, r.NetIRR)
	assert.Less(t, *r.NetIRR, *r.GrossIRR)
}
