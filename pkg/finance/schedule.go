package finance

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/fundLoan/pkg/models"
)

// ScheduleTolerance is how far a schedule's total may drift from the
// term-based repayment before it is rejected.
const ScheduleTolerance = 0.05

const daysPerInstallment = 30

var (
	ErrEmptySchedule    = errors.New("schedule has no installments")
	ErrScheduleMismatch = errors.New("scheduled repayment does not match loan terms")
)

// ExpectedRepayment is principal plus flat interest. The processing fee is
// collected upfront and never scheduled.
func ExpectedRepayment(principal, annualRate float64, durationDays int) float64 {
	return principal + Interest(principal, annualRate, durationDays)
}

// InstallmentCount is 1 for bullet loans and one per whole 30-day month
// (at least one) for monthly loans.
func InstallmentCount(durationDays int, repayment models.RepaymentType) int {
	if repayment == models.RepaymentBullet {
		return 1
	}
	return max(1, durationDays/daysPerInstallment)
}

// GenerateSchedule builds the installments for a loan. Monthly loans use
// flat interest: total interest over the full term split evenly, with an
// installment every 30 days.
func GenerateSchedule(principal, annualRate float64, startDate time.Time, durationDays int, repayment models.RepaymentType) []models.Installment {
	totalInterest := Interest(principal, annualRate, durationDays)

	if repayment == models.RepaymentBullet {
		return []models.Installment{{
			ID:                 uuid.New(),
			DueDate:            startDate.AddDate(0, 0, durationDays),
			Amount:             principal + totalInterest,
			PrincipalComponent: principal,
			InterestComponent:  totalInterest,
			Status:             models.InstallmentPending,
		}}
	}

	months := InstallmentCount(durationDays, repayment)
	principalPer := principal / float64(months)
	interestPer := totalInterest / float64(months)

	schedule := make([]models.Installment, 0, months)
	for i := 1; i <= months; i++ {
		schedule = append(schedule, models.Installment{
			ID:                 uuid.New(),
			DueDate:            startDate.AddDate(0, 0, i*daysPerInstallment),
			Amount:             principalPer + interestPer,
			PrincipalComponent: principalPer,
			InterestComponent:  interestPer,
			Status:             models.InstallmentPending,
		})
	}
	return schedule
}

// ScheduleTotal sums the installment amounts.
func ScheduleTotal(installments []models.Installment) float64 {
	total := 0.0
	for _, inst := range installments {
		total += inst.Amount
	}
	return total
}

// ValidateSchedule checks a hand-edited schedule against the loan terms.
func ValidateSchedule(installments []models.Installment, principal, annualRate float64, durationDays int) error {
	if len(installments) == 0 {
		return ErrEmptySchedule
	}
	expected := ExpectedRepayment(principal, annualRate, durationDays)
	total := ScheduleTotal(installments)
	if diff := total - expected; math.Abs(diff) > ScheduleTolerance {
		return fmt.Errorf("%w: scheduled %.2f, expected %.2f (difference %.2f)", ErrScheduleMismatch, total, expected, diff)
	}
	return nil
}

// SplitSchedule spreads the expected repayment over count installments at
// evenly spaced dates. Amounts are rounded to cents and the rounding residue
// is carried by the last installment.
func SplitSchedule(principal, annualRate float64, startDate time.Time, durationDays, count int) []models.Installment {
	if count < 1 {
		count = 1
	}
	expected := ExpectedRepayment(principal, annualRate, durationDays)
	amountPer := RoundCents(expected / float64(count))
	principalPer := principal / float64(count)
	spacing := float64(durationDays) / float64(count)

	schedule := make([]models.Installment, count)
	sum := 0.0
	for i := range schedule {
		schedule[i] = models.Installment{
			ID:                 uuid.New(),
			DueDate:            startDate.AddDate(0, 0, int(math.Round(spacing*float64(i+1)))),
			Amount:             amountPer,
			PrincipalComponent: principalPer,
			Status:             models.InstallmentPending,
		}
		sum += amountPer
	}

	schedule[count-1].Amount += expected - sum
	for i := range schedule {
		schedule[i].InterestComponent = schedule[i].Amount - schedule[i].PrincipalComponent
	}
	return schedule
}
