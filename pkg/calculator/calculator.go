package calculator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/credbook/lms/pkg/models"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// accrualScale bounds the precision of per-period interest. Without it the
// exact decimal coefficients grow without limit over thousands of day-by-day
// compounding steps.
const accrualScale = 8

// Calculate produces the full repayment schedule for a loan without
// disbursement phases. It never rejects its input: malformed terms yield a
// numerically well-defined schedule, and validation is a separate, explicit
// step (ValidatePhases).
func Calculate(terms models.Terms) *models.Schedule {
	out := &models.Schedule{}

	if terms.Compounding == models.CompoundingMonthly {
		emi := AnnuityEMI(terms.Principal, MonthlyRate(terms.AnnualRate), terms.Months)
		out.InitialEMI = emi
		simulateMonthly(terms, out, emi)
	} else {
		emi := GoalSeekEMI(terms)
		out.InitialEMI = emi
		simulateDaily(terms, out, emi)
	}

	applyBPI(terms, out)
	out.FinalizeTotals()
	return out
}

// MonthlyRate converts a percent annual rate to a monthly decimal rate.
func MonthlyRate(annualRate decimal.Decimal) decimal.Decimal {
	return annualRate.Div(decimal.NewFromInt(12)).Div(hundred)
}

// AnnuityEMI is the closed-form fixed installment for monthly compounding:
// P*r*(1+r)^n / ((1+r)^n - 1). A zero rate degenerates to an even split.
func AnnuityEMI(principal decimal.Decimal, monthlyRate decimal.Decimal, months int) decimal.Decimal {
	if months <= 0 {
		return decimal.Zero
	}
	if monthlyRate.IsZero() {
		return principal.Div(decimal.NewFromInt(int64(months)))
	}
	compound := one.Add(monthlyRate).Pow(decimal.NewFromInt(int64(months)))
	return principal.Mul(monthlyRate).Mul(compound).Div(compound.Sub(one))
}

// simulateMonthly generates the schedule under monthly compounding. Interest
// for the period capitalizes into the balance before the installment is
// subtracted, so a normal period reduces the balance by exactly the principal
// component. The loop runs until the balance is extinguished, which can carry
// past the nominal tenure when a moratorium has capitalized interest.
func simulateMonthly(terms models.Terms, out *models.Schedule, emi decimal.Decimal) {
	balance := terms.Principal
	date := terms.StartDate
	rate := MonthlyRate(terms.AnnualRate)
	guard := newPeriodGuard(maxPeriods)

	for month := 1; balance.GreaterThanOrEqual(one) && guard.Next(); month++ {
		interest := balance.Mul(rate).Round(accrualScale)
		balance = balance.Add(interest)

		row, next := settlePeriod(terms, month, date, balance, interest, emi, models.PaymentNormal)
		balance = next
		out.Rows = append(out.Rows, row)
		date = addMonths(date, 1)
	}
	out.ActualTenure = guard.Count()
}

// simulateDaily generates the schedule under daily compounding by looping
// over the days of each calendar month. Under the EMI-constant floating
// strategy a residual balance after the nominal tenure keeps generating
// EXTENDED rows until it clears.
func simulateDaily(terms models.Terms, out *models.Schedule, emi decimal.Decimal) {
	balance := terms.Principal
	date := terms.StartDate
	guard := newPeriodGuard(maxPeriods)

	for month := 1; month <= terms.Months && balance.GreaterThanOrEqual(one) && guard.Next(); month++ {
		interest, accrued := accrueDaily(balance, terms.AnnualRate, date)
		row, next := settlePeriod(terms, month, date, accrued, interest, emi, models.PaymentNormal)
		balance = next
		out.Rows = append(out.Rows, row)
		date = addMonths(date, 1)
	}

	if terms.Strategy == models.StrategyEMIConstant {
		for balance.GreaterThan(cent) && guard.Next() {
			interest, accrued := accrueDaily(balance, terms.AnnualRate, date)
			row, next := settlePeriod(terms, 0, date, accrued, interest, emi, models.PaymentExtended)
			row.MonthNumber = guard.Count()
			balance = next
			out.Rows = append(out.Rows, row)
			date = addMonths(date, 1)
		}
	}
	out.ActualTenure = guard.Count()
}

// accrueDaily compounds the balance day by day through the calendar month of
// date, using the exact year length for the daily rate. It returns the
// month's accrued interest and the interest-capitalized balance.
func accrueDaily(balance decimal.Decimal, annualRate decimal.Decimal, date time.Time) (decimal.Decimal, decimal.Decimal) {
	days := daysInMonth(date)
	if days > 31 {
		days = 31
	}
	dailyRate := annualRate.Div(decimal.NewFromInt(int64(yearLength(date)))).Div(hundred)

	interest := decimal.Zero
	for d := 0; d < days; d++ {
		dayInterest := balance.Mul(dailyRate).Round(accrualScale)
		interest = interest.Add(dayInterest)
		balance = balance.Add(dayInterest)
	}
	return interest, balance
}

// settlePeriod applies the month's payment policy to an interest-capitalized
// balance. It returns the completed row and the balance carried into the
// next period. normalType distinguishes regular rows from EXTENDED ones.
func settlePeriod(terms models.Terms, month int, date time.Time, balance, interest, emi decimal.Decimal, normalType models.PaymentType) (models.PaymentRow, decimal.Decimal) {
	row := models.PaymentRow{
		MonthNumber: month,
		CurrentRate: terms.AnnualRate,
		PaymentDate: date,
	}

	mtype, partial, inMoratorium := models.MoratoriumType(""), decimal.Zero, false
	if month > 0 && normalType == models.PaymentNormal {
		mtype, partial, inMoratorium = terms.MoratoriumFor(month)
	}

	if inMoratorium {
		switch mtype {
		case models.MoratoriumFull:
			// No cash flow: the accrued interest stays capitalized.
			row.PaymentType = models.PaymentMoratoriumFull
			row.EMI = decimal.Zero
			row.PrincipalPaid = decimal.Zero
			row.InterestPaid = decimal.Zero
		case models.MoratoriumInterestOnly:
			row.PaymentType = models.PaymentMoratoriumInterest
			row.EMI = interest
			row.PrincipalPaid = decimal.Zero
			row.InterestPaid = interest
			balance = balance.Sub(interest)
		case models.MoratoriumPartial:
			row.PaymentType = models.PaymentMoratoriumPartial
			row.EMI = partial
			row.InterestPaid = interest
			row.PrincipalPaid = decimal.Max(decimal.Zero, partial.Sub(interest))
			// The balance can grow here when the partial payment does not
			// cover the month's interest.
			balance = balance.Sub(partial)
		}
	} else {
		row.PaymentType = normalType
		row.EMI = emi
		row.InterestPaid = interest
		row.PrincipalPaid = emi.Sub(interest)
		balance = balance.Sub(emi)
		if balance.LessThan(one) {
			// Floating-point dust guard: snap the tail to exactly zero.
			balance = decimal.Zero
		}
	}

	row.RemainingBalance = balance
	return row, balance
}

// addMonths advances a date by whole calendar months, clamping the day of
// month to the target month's length (Jan 31 + 1 month = Feb 28/29).
func addMonths(t time.Time, months int) time.Time {
	firstOfTarget := time.Date(t.Year(), t.Month()+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	day := t.Day()
	if last := daysInMonth(firstOfTarget); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, 0, 0, 0, 0, t.Location())
}

// daysInMonth returns the length of the calendar month containing t.
func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// yearLength returns 365 or 366 depending on whether t falls in a leap year.
func yearLength(t time.Time) int {
	if time.Date(t.Year(), 12, 31, 0, 0, 0, 0, t.Location()).YearDay() == 366 {
		return 366
	}
	return 365
}
