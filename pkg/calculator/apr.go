package calculator

import (
	"github.com/shopspring/decimal"

	"github.com/credbook/lms/pkg/models"
)

// aprCeiling guards against nonsense inputs blowing the APR past any
// plausible value; above it the nominal rate is reported instead.
var aprCeiling = decimal.NewFromFloat(9999.9999)

// APR computes the effective annual percentage rate from a finished
// schedule and the loan's fee list:
//
//	((total fees + total interest) / principal / months) * 100 + nominal rate
//
// One-time charges count once; recurring charges are multiplied by the
// tenure in months.
func APR(terms models.Terms, schedule *models.Schedule, charges []models.Charge) decimal.Decimal {
	nominal := terms.AnnualRate.Round(4)
	if terms.Principal.LessThanOrEqual(decimal.Zero) || terms.Months <= 0 {
		return nominal
	}

	months := decimal.NewFromInt(int64(terms.Months))
	fees := decimal.Zero
	for _, c := range charges {
		if c.Recurring {
			fees = fees.Add(c.Amount.Mul(months))
		} else {
			fees = fees.Add(c.Amount)
		}
	}

	feeAndInterest := fees.Add(schedule.TotalInterestPaid).
		Div(terms.Principal).
		Div(months).
		Mul(hundred)
	apr := feeAndInterest.Add(terms.AnnualRate).Round(4)

	if apr.GreaterThan(aprCeiling) {
		return nominal
	}
	return apr
}
