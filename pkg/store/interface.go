package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/fundLoan/pkg/models"
)

// ErrNotFound is returned when a fund, loan or installment does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines the interface for database operations related to funds and loans.
// Loans are always returned with their installments and variable costs.
type Storage interface {
	CreateFund(fund *models.Fund) error
	GetFund(id uuid.UUID) (*models.Fund, error)
	UpdateFund(fund *models.Fund) error
	ListFunds() ([]*models.Fund, error)

	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	DeleteLoan(id uuid.UUID) error
	ListLoansByFund(fundID uuid.UUID) ([]*models.Loan, error)
	ListActiveLoans() ([]*models.Loan, error)

	UpdateInstallmentStatus(id uuid.UUID, status models.InstallmentStatus) error

	Close() error
}
