package calculator

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credbook/lms/pkg/models"
)

var cent = decimal.New(1, -2) // 0.01 currency units

// CalculateHomeLoan produces the schedule for a loan disbursed in tranches:
// a cumulative disbursement ledger, interest-only pre-EMI rows for every
// month between a tranche and the next, and a regular amortization tail
// starting at the full-disbursement date. Loans without phases fall through
// to Calculate.
func CalculateHomeLoan(terms models.Terms) *models.Schedule {
	if !terms.HasPhases() {
		return Calculate(terms)
	}

	phases := make([]models.DisbursementPhase, len(terms.DisbursementPhases))
	copy(phases, terms.DisbursementPhases)
	sort.SliceStable(phases, func(i, j int) bool {
		return phases[i].DisbursementDate.Before(phases[j].DisbursementDate)
	})

	out := &models.Schedule{}
	fullDate := fullDisbursementDate(phases)
	generatePreEMI(terms, phases, fullDate, out)

	tail := Calculate(tailTerms(terms, fullDate))
	out.InitialEMI = tail.InitialEMI

	offset := len(out.PreEMIPayments)
	for _, row := range tail.Rows {
		row.MonthNumber += offset
		out.Rows = append(out.Rows, row)
	}

	out.FinalizeTotals()
	return out
}

// generatePreEMI emits the disbursement ledger and one interest-only row per
// calendar month of each tranche's life. Pre-EMI rows share the global month
// counter with the regular schedule that follows and never touch principal.
func generatePreEMI(terms models.Terms, phases []models.DisbursementPhase, fullDate time.Time, out *models.Schedule) {
	cumulative := decimal.Zero
	for _, ph := range phases {
		cumulative = cumulative.Add(ph.Amount)
		out.Disbursements = append(out.Disbursements, models.DisbursementEntry{
			DisbursementDate:    ph.DisbursementDate,
			Amount:              ph.Amount,
			CumulativeDisbursed: cumulative,
			Description:         ph.Description,
		})
	}

	guard := newPeriodGuard(maxPeriods)
	disbursed := decimal.Zero

	for i, ph := range phases {
		disbursed = disbursed.Add(ph.Amount)

		next := fullDate
		if i < len(phases)-1 {
			next = phases[i+1].DisbursementDate
		}

		// Pre-EMI starts in the disbursement month itself.
		for k := 0; ; k++ {
			date := addMonths(ph.DisbursementDate, k)
			if !date.Before(next) || !disbursed.GreaterThan(cent) || !guard.Next() {
				break
			}

			amount := preEMIInterest(disbursed, terms.AnnualRate, date, terms.Compounding)
			out.PreEMIPayments = append(out.PreEMIPayments, models.PreEMIPayment{
				PaymentDate:      date,
				InterestAmount:   amount,
				DisbursedBalance: disbursed,
				CurrentRate:      terms.AnnualRate,
				DaysInPeriod:     daysInMonth(date),
			})
			out.Rows = append(out.Rows, models.PaymentRow{
				MonthNumber:      guard.Count(),
				EMI:              amount,
				PrincipalPaid:    decimal.Zero,
				InterestPaid:     amount,
				RemainingBalance: disbursed,
				CurrentRate:      terms.AnnualRate,
				PaymentDate:      date,
				PaymentType:      models.PaymentPreEMI,
			})
		}
		if guard.Exhausted() {
			break
		}
	}
}

// preEMIInterest computes one month's interest on the cumulative disbursed
// balance under the loan's compounding mode.
func preEMIInterest(disbursed, annualRate decimal.Decimal, date time.Time, compounding models.Compounding) decimal.Decimal {
	if compounding == models.CompoundingMonthly {
		return disbursed.Mul(MonthlyRate(annualRate)).Round(accrualScale)
	}
	interest, _ := accrueDaily(disbursed, annualRate, date)
	return interest
}

// tailTerms builds the synthetic input for the post-disbursement schedule:
// same loan, no phases, starting at the full-disbursement date. The issue
// date is cleared so no broken-period interest is generated for the tail.
func tailTerms(terms models.Terms, start time.Time) models.Terms {
	t := terms
	t.DisbursementPhases = nil
	t.StartDate = start
	t.IssueDate = time.Time{}
	return t
}

// fullDisbursementDate is one month past the final tranche's date, on the
// same day of month. Regular EMIs begin here.
func fullDisbursementDate(phases []models.DisbursementPhase) time.Time {
	last := phases[len(phases)-1].DisbursementDate
	for _, ph := range phases {
		if ph.DisbursementDate.After(last) {
			last = ph.DisbursementDate
		}
	}
	return addMonths(last, 1)
}

// ValidatePhases checks the disbursement-phase invariants the simulator
// itself does not enforce: amounts must sum to the principal (0.01
// tolerance) and dates must be non-decreasing. Running the calculator on
// input that fails validation is allowed and produces a numerically
// well-defined but semantically wrong schedule.
func ValidatePhases(terms models.Terms) error {
	if !terms.HasPhases() {
		return fmt.Errorf("loan has no disbursement phases")
	}

	total := decimal.Zero
	for _, ph := range terms.DisbursementPhases {
		total = total.Add(ph.Amount)
	}
	if total.Sub(terms.Principal).Abs().GreaterThan(cent) {
		return fmt.Errorf("total disbursement %s does not match principal %s", total, terms.Principal)
	}

	for i := 1; i < len(terms.DisbursementPhases); i++ {
		if terms.DisbursementPhases[i].DisbursementDate.Before(terms.DisbursementPhases[i-1].DisbursementDate) {
			return fmt.Errorf("disbursement dates must be in chronological order")
		}
	}
	return nil
}
