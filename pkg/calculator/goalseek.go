package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/credbook/lms/pkg/models"
)

// maxBisectIterations bounds the EMI search. Bisection over a 40% bracket
// with a 0.01 tolerance converges in well under this many halvings for any
// realistic principal; the cap only matters for pathological inputs.
const maxBisectIterations = 100

var (
	bracketLow  = decimal.NewFromFloat(0.8)
	bracketHigh = decimal.NewFromFloat(1.2)
	seekTol     = decimal.New(1, -2) // 0.01 currency units
	two         = decimal.NewFromInt(2)
)

// GoalSeekEMI finds the flat monthly installment that drains the balance to
// approximately zero under daily compounding, where no closed form exists.
// The search bisects around the monthly-compounding estimate; each step
// re-simulates the full tenure with the candidate EMI.
func GoalSeekEMI(terms models.Terms) decimal.Decimal {
	estimate := AnnuityEMI(terms.Principal, MonthlyRate(terms.AnnualRate), terms.Months)

	low := estimate.Mul(bracketLow)
	high := estimate.Mul(bracketHigh)

	for i := 0; high.Sub(low).GreaterThan(seekTol) && i < maxBisectIterations; i++ {
		mid := low.Add(high).Div(two)
		if finalBalance(terms, mid).IsPositive() {
			low = mid // EMI too small, balance left over
		} else {
			high = mid
		}
	}
	return low.Add(high).Div(two)
}

// finalBalance runs the tenure forward with the candidate EMI and returns the
// terminal balance. It applies the same daily accrual and moratorium rules as
// the simulator so the sought EMI stays consistent with the schedule it will
// be used to generate.
func finalBalance(terms models.Terms, emi decimal.Decimal) decimal.Decimal {
	balance := terms.Principal
	date := terms.StartDate

	for month := 1; month <= terms.Months; month++ {
		interest, accrued := accrueDaily(balance, terms.AnnualRate, date)
		balance = accrued

		if mtype, partial, ok := terms.MoratoriumFor(month); ok {
			switch mtype {
			case models.MoratoriumFull:
				// Interest stays capitalized.
			case models.MoratoriumInterestOnly:
				balance = balance.Sub(interest)
			case models.MoratoriumPartial:
				balance = balance.Sub(partial)
			}
		} else {
			balance = balance.Sub(emi)
		}
		date = addMonths(date, 1)
	}
	return balance
}
