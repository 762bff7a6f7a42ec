package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/fundLoan/pkg/models"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	for _, pragma := range []string{"PRAGMA foreign_keys = ON;", "PRAGMA journal_mode = WAL;"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run %q: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.WithFields(log.Fields{"dsn": dataSourceName}).Info("Database connection established and schema initialized")
	return s, nil
}

// initSchema creates the tables if they don't already exist and adds columns
// introduced after the first release.
// Money and rates are TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS funds (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		total_raised TEXT NOT NULL,
		cost_of_capital_rate TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		fund_id TEXT NOT NULL,
		borrower_name TEXT NOT NULL,
		principal TEXT NOT NULL,
		interest_rate TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		duration_days INTEGER NOT NULL,
		repayment_type TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(fund_id) REFERENCES funds(id)
	);
	CREATE INDEX IF NOT EXISTS idx_loans_fund ON loans(fund_id);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		due_date DATETIME NOT NULL,
		amount TEXT NOT NULL,
		principal_component TEXT NOT NULL,
		interest_component TEXT NOT NULL,
		status TEXT NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS variable_costs (
		loan_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		percentage TEXT NOT NULL,
		PRIMARY KEY(loan_id, seq),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	columns := []string{
		"processing_fee_rate TEXT",
		"defaulted_amount TEXT",
	}
	for _, col := range columns {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE loans ADD COLUMN %s", col))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

func decText(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func nullDecText(v *float64) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: decText(*v), Valid: true}
}

func parseDec(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

func parseNullDec(s sql.NullString) (*float64, error) {
	if !s.Valid {
		return nil, nil
	}
	v, err := parseDec(s.String)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// CreateFund inserts a new fund.
func (s *SQLiteStore) CreateFund(fund *models.Fund) error {
	_, err := s.db.Exec(
		`INSERT INTO funds (id, user_id, name, total_raised, cost_of_capital_rate, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		fund.ID.String(), fund.UserID, fund.Name, decText(fund.TotalRaised), decText(fund.CostOfCapitalRate), fund.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create fund: %w", err)
	}
	return nil
}

const fundColumns = `id, user_id, name, total_raised, cost_of_capital_rate, created_at`

func scanFund(row scanner) (*models.Fund, error) {
	var fund models.Fund
	var id, raised, rate string
	if err := row.Scan(&id, &fund.UserID, &fund.Name, &raised, &rate, &fund.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if fund.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid fund id %q: %w", id, err)
	}
	if fund.TotalRaised, err = parseDec(raised); err != nil {
		return nil, err
	}
	if fund.CostOfCapitalRate, err = parseDec(rate); err != nil {
		return nil, err
	}
	return &fund, nil
}

// GetFund retrieves a fund by its ID.
func (s *SQLiteStore) GetFund(id uuid.UUID) (*models.Fund, error) {
	fund, err := scanFund(s.db.QueryRow(`SELECT `+fundColumns+` FROM funds WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("fund %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get fund: %w", err)
	}
	return fund, nil
}

// UpdateFund updates an existing fund.
func (s *SQLiteStore) UpdateFund(fund *models.Fund) error {
	result, err := s.db.Exec(
		`UPDATE funds SET user_id = ?, name = ?, total_raised = ?, cost_of_capital_rate = ? WHERE id = ?`,
		fund.UserID, fund.Name, decText(fund.TotalRaised), decText(fund.CostOfCapitalRate), fund.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update fund: %w", err)
	}
	return expectRow(result, "fund", fund.ID)
}

// ListFunds retrieves all funds, oldest first.
func (s *SQLiteStore) ListFunds() ([]*models.Fund, error) {
	rows, err := s.db.Query(`SELECT ` + fundColumns + ` FROM funds ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list funds: %w", err)
	}
	defer rows.Close()

	var funds []*models.Fund
	for rows.Next() {
		fund, err := scanFund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fund row: %w", err)
		}
		funds = append(funds, fund)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return funds, nil
}

// CreateLoan inserts a loan with its installments and variable costs in one transaction.
func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO loans (id, fund_id, borrower_name, principal, interest_rate, processing_fee_rate, start_date, duration_days, repayment_type, status, defaulted_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.FundID.String(), loan.BorrowerName, decText(loan.Principal), decText(loan.InterestRate),
		nullDecText(loan.ProcessingFeeRate), loan.StartDate, loan.DurationDays, string(loan.RepaymentType),
		string(loan.Status), nullDecText(loan.DefaultedAmount), loan.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	if err := insertChildren(tx, loan); err != nil {
		return err
	}
	return tx.Commit()
}

func insertChildren(tx *sql.Tx, loan *models.Loan) error {
	for i, inst := range loan.Installments {
		_, err := tx.Exec(
			`INSERT INTO installments (id, loan_id, seq, due_date, amount, principal_component, interest_component, status) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.ID.String(), loan.ID.String(), i, inst.DueDate, decText(inst.Amount),
			decText(inst.PrincipalComponent), decText(inst.InterestComponent), string(inst.Status),
		)
		if err != nil {
			return fmt.Errorf("failed to store installment %d: %w", i+1, err)
		}
	}
	for i, c := range loan.VariableCosts {
		_, err := tx.Exec(
			`INSERT INTO variable_costs (loan_id, seq, name, percentage) VALUES (?, ?, ?, ?)`,
			loan.ID.String(), i, c.Name, decText(c.Percentage),
		)
		if err != nil {
			return fmt.Errorf("failed to store variable cost %q: %w", c.Name, err)
		}
	}
	return nil
}

func deleteChildren(tx *sql.Tx, loanID uuid.UUID) error {
	if _, err := tx.Exec(`DELETE FROM installments WHERE loan_id = ?`, loanID.String()); err != nil {
		return fmt.Errorf("failed to delete installments: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM variable_costs WHERE loan_id = ?`, loanID.String()); err != nil {
		return fmt.Errorf("failed to delete variable costs: %w", err)
	}
	return nil
}

const loanColumns = `id, fund_id, borrower_name, principal, interest_rate, processing_fee_rate, start_date, duration_days, repayment_type, status, defaulted_amount, created_at`

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var id, fundID, principal, rate, repayment, status string
	var feeRate, defaulted sql.NullString
	if err := row.Scan(&id, &fundID, &loan.BorrowerName, &principal, &rate, &feeRate, &loan.StartDate,
		&loan.DurationDays, &repayment, &status, &defaulted, &loan.CreatedAt); err != nil {
		return nil, err
	}

	var err error
	if loan.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid loan id %q: %w", id, err)
	}
	if loan.FundID, err = uuid.Parse(fundID); err != nil {
		return nil, fmt.Errorf("invalid fund id %q: %w", fundID, err)
	}
	if loan.Principal, err = parseDec(principal); err != nil {
		return nil, err
	}
	if loan.InterestRate, err = parseDec(rate); err != nil {
		return nil, err
	}
	if loan.ProcessingFeeRate, err = parseNullDec(feeRate); err != nil {
		return nil, err
	}
	if loan.DefaultedAmount, err = parseNullDec(defaulted); err != nil {
		return nil, err
	}
	loan.RepaymentType = models.RepaymentType(repayment)
	loan.Status = models.LoanStatus(status)
	return &loan, nil
}

// loadChildren fills in the installments and variable costs of loan.
func (s *SQLiteStore) loadChildren(loan *models.Loan) error {
	rows, err := s.db.Query(
		`SELECT id, due_date, amount, principal_component, interest_component, status FROM installments WHERE loan_id = ? ORDER BY seq ASC`,
		loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to get installments for loan %s: %w", loan.ID, err)
	}
	defer rows.Close()

	loan.Installments = nil
	for rows.Next() {
		var inst models.Installment
		var id, amount, principal, interest, status string
		if err := rows.Scan(&id, &inst.DueDate, &amount, &principal, &interest, &status); err != nil {
			return fmt.Errorf("failed to scan installment row: %w", err)
		}
		if inst.ID, err = uuid.Parse(id); err != nil {
			return fmt.Errorf("invalid installment id %q: %w", id, err)
		}
		if inst.Amount, err = parseDec(amount); err != nil {
			return err
		}
		if inst.PrincipalComponent, err = parseDec(principal); err != nil {
			return err
		}
		if inst.InterestComponent, err = parseDec(interest); err != nil {
			return err
		}
		inst.Status = models.InstallmentStatus(status)
		loan.Installments = append(loan.Installments, inst)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error during rows iteration for installments: %w", err)
	}

	costRows, err := s.db.Query(`SELECT name, percentage FROM variable_costs WHERE loan_id = ? ORDER BY seq ASC`, loan.ID.String())
	if err != nil {
		return fmt.Errorf("failed to get variable costs for loan %s: %w", loan.ID, err)
	}
	defer costRows.Close()

	loan.VariableCosts = nil
	for costRows.Next() {
		var c models.CostItem
		var pct string
		if err := costRows.Scan(&c.Name, &pct); err != nil {
			return fmt.Errorf("failed to scan variable cost row: %w", err)
		}
		if c.Percentage, err = parseDec(pct); err != nil {
			return err
		}
		loan.VariableCosts = append(loan.VariableCosts, c)
	}
	return costRows.Err()
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	loan, err := scanLoan(s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loan %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	if err := s.loadChildren(loan); err != nil {
		return nil, err
	}
	return loan, nil
}

// UpdateLoan updates a loan and replaces its installments and variable costs.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE loans SET fund_id = ?, borrower_name = ?, principal = ?, interest_rate = ?, processing_fee_rate = ?, start_date = ?, duration_days = ?, repayment_type = ?, status = ?, defaulted_amount = ? WHERE id = ?`,
		loan.FundID.String(), loan.BorrowerName, decText(loan.Principal), decText(loan.InterestRate),
		nullDecText(loan.ProcessingFeeRate), loan.StartDate, loan.DurationDays, string(loan.RepaymentType),
		string(loan.Status), nullDecText(loan.DefaultedAmount), loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if err := expectRow(result, "loan", loan.ID); err != nil {
		return err
	}
	if err := deleteChildren(tx, loan.ID); err != nil {
		return err
	}
	if err := insertChildren(tx, loan); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteLoan removes a loan and its children within a transaction.
func (s *SQLiteStore) DeleteLoan(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteChildren(tx, id); err != nil {
		return err
	}
	result, err := tx.Exec(`DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	if err := expectRow(result, "loan", id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListLoansByFund retrieves every loan of a fund, in start date order.
func (s *SQLiteStore) ListLoansByFund(fundID uuid.UUID) ([]*models.Loan, error) {
	return s.queryLoans(`SELECT `+loanColumns+` FROM loans WHERE fund_id = ? ORDER BY start_date ASC, created_at ASC`, fundID.String())
}

// ListActiveLoans retrieves all active loans across funds.
func (s *SQLiteStore) ListActiveLoans() ([]*models.Loan, error) {
	return s.queryLoans(`SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY start_date ASC`, string(models.LoanStatusActive))
}

func (s *SQLiteStore) queryLoans(query string, args ...any) ([]*models.Loan, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	rows.Close()

	for _, loan := range loans {
		if err := s.loadChildren(loan); err != nil {
			return nil, err
		}
	}
	return loans, nil
}

// UpdateInstallmentStatus sets the status of a single installment.
func (s *SQLiteStore) UpdateInstallmentStatus(id uuid.UUID, status models.InstallmentStatus) error {
	result, err := s.db.Exec(`UPDATE installments SET status = ? WHERE id = ?`, string(status), id.String())
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	return expectRow(result, "installment", id)
}

func expectRow(result sql.Result, kind string, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Storage = (*SQLiteStore)(nil)
