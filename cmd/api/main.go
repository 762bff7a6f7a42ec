package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/fundLoan/pkg/config"
	"github.com/mcclellann/fundLoan/pkg/models"
	"github.com/mcclellann/fundLoan/pkg/portfolio"
	"github.com/mcclellann/fundLoan/pkg/store"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// Server holds the portfolio instance.
type Server struct {
	portfolio      *portfolio.Portfolio
	storage        store.Storage // Keep a reference to the storage to close it
	forecastMonths int
}

func NewServer(s store.Storage, forecastMonths int) *Server {
	return &Server{
		portfolio:      portfolio.NewPortfolio(s),
		storage:        s,
		forecastMonths: forecastMonths,
	}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/funds", s.listFundsHandler).Methods("GET")
	router.HandleFunc("/funds", s.createFundHandler).Methods("POST")
	router.HandleFunc("/funds/{id}", s.getFundHandler).Methods("GET")
	router.HandleFunc("/funds/{id}/raise-capital", s.raiseCapitalHandler).Methods("POST")
	router.HandleFunc("/funds/{id}/metrics", s.fundMetricsHandler).Methods("GET")
	router.HandleFunc("/funds/{id}/forecast", s.forecastHandler).Methods("GET")
	router.HandleFunc("/funds/{id}/loans", s.listFundLoansHandler).Methods("GET")

	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/default", s.defaultLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/close", s.closeLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/installments/{installmentID}/pay", s.payInstallmentHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/returns", s.loanReturnsHandler).Methods("GET")

	router.HandleFunc("/schedules/preview", s.previewScheduleHandler).Methods("POST")

	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Error encoding response")
	}
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, portfolio.ErrInvalidFund), errors.Is(err, portfolio.ErrInvalidLoan):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, portfolio.ErrLoanNotActive):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).WithError(err).Error("Request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		http.Error(w, "Invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) listFundsHandler(w http.ResponseWriter, r *http.Request) {
	funds, err := s.portfolio.ListFunds()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if funds == nil {
		funds = []*models.Fund{}
	}
	writeJSON(w, http.StatusOK, funds)
}

func (s *Server) createFundHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID            string          `json:"user_id"`
		Name              string          `json:"name"`
		TotalRaised       decimal.Decimal `json:"total_raised"`
		CostOfCapitalRate decimal.Decimal `json:"cost_of_capital_rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fund, err := s.portfolio.CreateFund(req.UserID, req.Name, req.TotalRaised.InexactFloat64(), req.CostOfCapitalRate.InexactFloat64())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fund)
}

func (s *Server) getFundHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	fund, err := s.portfolio.GetFund(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fund)
}

func (s *Server) raiseCapitalHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Rate   decimal.Decimal `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fund, err := s.portfolio.RaiseCapital(id, req.Amount.InexactFloat64(), req.Rate.InexactFloat64())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fund)
}

func (s *Server) fundMetricsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	metrics, err := s.portfolio.FundMetrics(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) forecastHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	months := s.forecastMonths
	if v := r.URL.Query().Get("months"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			http.Error(w, "months must be a positive integer", http.StatusBadRequest)
			return
		}
		months = parsed
	}

	forecast, err := s.portfolio.Forecast(id, months)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forecast)
}

func (s *Server) listFundLoansHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	loans, err := s.portfolio.ListLoans(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

type installmentRequest struct {
	DueDate string          `json:"due_date"`
	Amount  decimal.Decimal `json:"amount"`
}

type loanRequest struct {
	FundID            uuid.UUID            `json:"fund_id"`
	BorrowerName      string               `json:"borrower_name"`
	Principal         decimal.Decimal      `json:"principal"`
	InterestRate      decimal.Decimal      `json:"interest_rate"`
	ProcessingFeeRate *decimal.Decimal     `json:"processing_fee_rate"`
	StartDate         string               `json:"start_date"`
	DurationDays      int                  `json:"duration_days"`
	RepaymentType     models.RepaymentType `json:"repayment_type"`
	VariableCosts     []models.CostItem    `json:"variable_costs"`
	Installments      []installmentRequest `json:"installments"`
	Count             int                  `json:"count"` // preview only
}

// toPortfolio converts the wire format. Dates are calendar days in UTC.
func (req *loanRequest) toPortfolio() (portfolio.LoanRequest, error) {
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return portfolio.LoanRequest{}, errors.New("start_date must be YYYY-MM-DD")
	}

	out := portfolio.LoanRequest{
		FundID:        req.FundID,
		BorrowerName:  req.BorrowerName,
		Principal:     req.Principal.InexactFloat64(),
		InterestRate:  req.InterestRate.InexactFloat64(),
		StartDate:     start,
		DurationDays:  req.DurationDays,
		RepaymentType: req.RepaymentType,
		VariableCosts: req.VariableCosts,
	}
	if req.ProcessingFeeRate != nil {
		out.ProcessingFeeRate = models.Float(req.ProcessingFeeRate.InexactFloat64())
	}
	for _, inst := range req.Installments {
		due, err := time.Parse(dateLayout, inst.DueDate)
		if err != nil {
			return portfolio.LoanRequest{}, errors.New("installment due_date must be YYYY-MM-DD")
		}
		out.Installments = append(out.Installments, models.Installment{
			DueDate: due,
			Amount:  inst.Amount.InexactFloat64(),
		})
	}
	return out, nil
}

func decodeLoanRequest(w http.ResponseWriter, r *http.Request) (*loanRequest, portfolio.LoanRequest, bool) {
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, portfolio.LoanRequest{}, false
	}
	converted, err := req.toPortfolio()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, portfolio.LoanRequest{}, false
	}
	return &req, converted, true
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	_, req, ok := decodeLoanRequest(w, r)
	if !ok {
		return
	}
	loan, err := s.portfolio.CreateLoan(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) previewScheduleHandler(w http.ResponseWriter, r *http.Request) {
	raw, req, ok := decodeLoanRequest(w, r)
	if !ok {
		return
	}
	schedule, err := s.portfolio.PreviewSchedule(req, raw.Count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	loan, err := s.portfolio.GetLoan(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := s.portfolio.DeleteLoan(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) defaultLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		DefaultedAmount *decimal.Decimal `json:"defaulted_amount"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	var amount *float64
	if req.DefaultedAmount != nil {
		amount = models.Float(req.DefaultedAmount.InexactFloat64())
	}
	loan, err := s.portfolio.MarkDefaulted(id, amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) closeLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	loan, err := s.portfolio.CloseLoan(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) payInstallmentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	installmentID, ok := pathID(w, r, "installmentID")
	if !ok {
		return
	}
	loan, err := s.portfolio.RecordInstallmentPayment(loanID, installmentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) loanReturnsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	returns, err := s.portfolio.LoanReturns(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, returns)
}

// runSweeps marks overdue installments on every tick until stop is closed.
func (s *Server) runSweeps(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			log.Info("Running overdue installment sweep...")
			if _, err := s.portfolio.SweepOverdueInstallments(); err != nil {
				log.WithError(err).Error("Overdue sweep failed")
			}
		}
	}
}

func main() {
	cfg := config.Get()
	cfg.ConfigureLogging()

	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize SQLite store")
	}
	defer sqliteStore.Close()

	server := NewServer(sqliteStore, cfg.ForecastMonths)

	stop := make(chan struct{})
	defer close(stop)
	go server.runSweeps(cfg.SweepInterval, stop)

	log.WithFields(log.Fields{
		"addr":        cfg.Addr,
		"environment": cfg.Environment,
	}).Info("Server starting")
	if err := http.ListenAndServe(cfg.Addr, server.routes()); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}
