package calculator

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credbook/lms/pkg/models"
)

// ErrNoPriorSchedule is returned when a hybrid schedule is requested without
// the prior rows it must preserve. Splicing without history is meaningless,
// so this is a hard precondition failure rather than a degraded result.
var ErrNoPriorSchedule = errors.New("no prior schedule rows to stitch")

// Restitch builds a hybrid schedule for a modified loan: rows of the prior
// schedule dated on or before cutoff are preserved as realized history, and
// the remainder is freshly simulated under terms, seeded with the last
// preserved row's balance and the leftover tenure.
//
// terms carries the loan's modified parameters with Months set to the
// original total tenure; the residual tenure is derived here. Disbursement
// phases still in the future relative to cutoff carry into the new tail.
// Zero-EMI rows (artifacts of full moratorium or capitalization periods) are
// excluded from both the preserved count and the spliced output.
func Restitch(prior []models.PaymentRow, cutoff time.Time, terms models.Terms) (*models.Schedule, error) {
	if len(prior) == 0 {
		return nil, ErrNoPriorSchedule
	}

	out := &models.Schedule{}
	lastBalance := terms.Principal
	month := 1

	for _, row := range prior {
		if row.PaymentDate.After(cutoff) {
			break
		}
		lastBalance = row.RemainingBalance
		if row.EMI.LessThanOrEqual(cent) {
			continue
		}
		row.MonthNumber = month
		row.PaymentType = models.PaymentPaid
		out.Rows = append(out.Rows, row)
		month++
	}

	preserved := len(out.Rows)
	residualMonths := terms.Months - preserved
	if residualMonths > 0 && lastBalance.GreaterThan(cent) {
		tail := simulateResidual(terms, cutoff, lastBalance, residualMonths)
		out.InitialEMI = tail.InitialEMI
		out.Disbursements = tail.Disbursements
		out.PreEMIPayments = tail.PreEMIPayments

		for _, row := range tail.Rows {
			if row.EMI.LessThanOrEqual(cent) {
				continue
			}
			row.MonthNumber = month
			row.PaymentType = models.PaymentFuture
			out.Rows = append(out.Rows, row)
			month++
			// Stop as soon as the loan is paid off, even if that leaves the
			// tail shorter than the residual tenure.
			if row.RemainingBalance.LessThanOrEqual(cent) {
				break
			}
		}
	}

	out.FinalizeTotals()
	return out, nil
}

// simulateResidual runs the calculator on the unrealized remainder of a
// modified loan, starting on the first day of the month after cutoff.
func simulateResidual(terms models.Terms, cutoff time.Time, balance decimal.Decimal, months int) *models.Schedule {
	t := terms
	t.Principal = balance
	t.Months = months
	t.StartDate = time.Date(cutoff.Year(), cutoff.Month()+1, 1, 0, 0, 0, 0, cutoff.Location())
	t.IssueDate = time.Time{}

	t.DisbursementPhases = nil
	for _, ph := range terms.DisbursementPhases {
		if ph.DisbursementDate.After(cutoff) {
			t.DisbursementPhases = append(t.DisbursementPhases, ph)
		}
	}

	if t.HasPhases() {
		return CalculateHomeLoan(t)
	}
	return Calculate(t)
}
