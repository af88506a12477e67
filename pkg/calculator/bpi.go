package calculator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/credbook/lms/pkg/models"
)

// bpiFoldDays is the cutoff below which broken-period interest is folded
// into the first EMI instead of being charged separately.
const bpiFoldDays = 15

var daysPerYear = decimal.NewFromInt(365)

// BrokenPeriod computes simple daily interest on the full principal for the
// gap between loan issue and the first EMI date. It returns nil when either
// date is missing or the gap is zero or negative.
func BrokenPeriod(terms models.Terms) *models.BrokenPeriodInterest {
	if terms.IssueDate.IsZero() || terms.StartDate.IsZero() {
		return nil
	}

	days := int(terms.StartDate.Sub(terms.IssueDate).Hours() / 24)
	if days <= 0 {
		return nil
	}

	dailyRate := terms.AnnualRate.Div(daysPerYear).Div(hundred)
	amount := terms.Principal.Mul(dailyRate).Mul(decimal.NewFromInt(int64(days)))

	foldIn := days < bpiFoldDays
	placement := "Charged as separate EMI in issue month"
	if foldIn {
		placement = "Added to first EMI"
	}

	return &models.BrokenPeriodInterest{
		IssueDate:       terms.IssueDate,
		EMIStartDate:    terms.StartDate,
		Days:            days,
		InterestAmount:  amount,
		AddedToFirstEMI: foldIn,
		Description: fmt.Sprintf("BPI for %d days from %s to %s. %s",
			days, terms.IssueDate.Format("2006-01-02"), terms.StartDate.Format("2006-01-02"), placement),
	}
}

// applyBPI attaches the broken-period record to the schedule and, for short
// gaps, folds the interest into a rebuilt first row before totals are
// finalized. The first row is replaced wholesale rather than patched field
// by field.
func applyBPI(terms models.Terms, out *models.Schedule) {
	bpi := BrokenPeriod(terms)
	if bpi == nil {
		return
	}
	out.BPI = bpi

	if bpi.AddedToFirstEMI && len(out.Rows) > 0 {
		first := out.Rows[0]
		out.Rows[0] = models.PaymentRow{
			MonthNumber:      first.MonthNumber,
			EMI:              first.EMI.Add(bpi.InterestAmount),
			PrincipalPaid:    first.PrincipalPaid,
			InterestPaid:     first.InterestPaid.Add(bpi.InterestAmount),
			RemainingBalance: first.RemainingBalance,
			CurrentRate:      first.CurrentRate,
			PaymentDate:      first.PaymentDate,
			PaymentType:      models.PaymentNormalWithBPI,
		}
	}
}
