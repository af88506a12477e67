package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Compounding selects how interest accrues between EMI dates.
type Compounding string

const (
	CompoundingMonthly Compounding = "MONTHLY"
	CompoundingDaily   Compounding = "DAILY"
)

// MoratoriumType describes what the borrower pays during a moratorium month.
type MoratoriumType string

const (
	MoratoriumFull         MoratoriumType = "FULL"          // nothing paid, interest capitalized
	MoratoriumInterestOnly MoratoriumType = "INTEREST_ONLY" // interest paid, principal untouched
	MoratoriumPartial      MoratoriumType = "PARTIAL"       // flat partial payment
)

// FloatingStrategy governs behavior when a daily-compounding loan's nominal
// tenure runs out before the balance clears.
type FloatingStrategy string

const (
	StrategyEMIConstant    FloatingStrategy = "EMI_CONSTANT"
	StrategyTenureConstant FloatingStrategy = "TENURE_CONSTANT"
)

// RateType marks whether a loan's rate tracks a benchmark.
type RateType string

const (
	RateFixed    RateType = "FIXED"
	RateFloating RateType = "FLOATING"
)

// PaymentType tags each schedule row with how it was produced.
type PaymentType string

const (
	PaymentNormal             PaymentType = "NORMAL"
	PaymentNormalWithBPI      PaymentType = "NORMAL_WITH_BPI"
	PaymentPreEMI             PaymentType = "PRE_EMI"
	PaymentMoratoriumFull     PaymentType = "MORATORIUM_FULL"
	PaymentMoratoriumInterest PaymentType = "MORATORIUM_INTEREST"
	PaymentMoratoriumPartial  PaymentType = "MORATORIUM_PARTIAL"
	PaymentExtended           PaymentType = "EXTENDED"
	PaymentPaid               PaymentType = "PAID"   // preserved history in a hybrid schedule
	PaymentFuture             PaymentType = "FUTURE" // recalculated tail in a hybrid schedule
)

// MoratoriumPeriod is an explicit month range (1-based, inclusive) overriding
// the simple moratorium fields on Terms.
type MoratoriumPeriod struct {
	StartMonth int             `json:"start_month"`
	EndMonth   int             `json:"end_month"`
	Type       MoratoriumType  `json:"type"`
	PartialEMI decimal.Decimal `json:"partial_payment_emi"`
}

// Covers reports whether the given 1-based month falls inside the period.
func (p MoratoriumPeriod) Covers(month int) bool {
	return month >= p.StartMonth && month <= p.EndMonth
}

// DisbursementPhase is one tranche of a phased (home-loan style) disbursement.
type DisbursementPhase struct {
	DisbursementDate time.Time       `json:"disbursement_date"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description"`
}

// Terms is the immutable per-computation input to the calculator. Callers
// build one per invocation; the calculator never mutates it.
type Terms struct {
	Principal          decimal.Decimal     `json:"principal"`
	AnnualRate         decimal.Decimal     `json:"annual_rate"` // percent, e.g. 8.5
	Months             int                 `json:"months"`
	Compounding        Compounding         `json:"compounding"`
	MoratoriumMonths   int                 `json:"moratorium_months"`
	MoratoriumType     MoratoriumType      `json:"moratorium_type"`
	PartialPaymentEMI  decimal.Decimal     `json:"partial_payment_emi"`
	MoratoriumPeriods  []MoratoriumPeriod  `json:"moratorium_periods,omitempty"`
	Strategy           FloatingStrategy    `json:"floating_strategy"`
	StartDate          time.Time           `json:"start_date"`      // first EMI date
	IssueDate          time.Time           `json:"loan_issue_date"` // disbursal date; zero value skips BPI
	DisbursementPhases []DisbursementPhase `json:"disbursement_phases,omitempty"`
}

// MoratoriumFor resolves the moratorium policy for a 1-based month. The
// explicit period list wins (first match) over the simple month count.
func (t Terms) MoratoriumFor(month int) (MoratoriumType, decimal.Decimal, bool) {
	for _, p := range t.MoratoriumPeriods {
		if p.Covers(month) {
			return p.Type, p.PartialEMI, true
		}
	}
	if month <= t.MoratoriumMonths {
		return t.MoratoriumType, t.PartialPaymentEMI, true
	}
	return "", decimal.Zero, false
}

// HasPhases reports whether the loan disburses in tranches.
func (t Terms) HasPhases() bool {
	return len(t.DisbursementPhases) > 0
}

// PaymentRow is one period of a repayment schedule.
type PaymentRow struct {
	MonthNumber      int             `json:"month_number"`
	EMI              decimal.Decimal `json:"emi"`
	PrincipalPaid    decimal.Decimal `json:"principal_paid"`
	InterestPaid     decimal.Decimal `json:"interest_paid"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	CurrentRate      decimal.Decimal `json:"current_rate"`
	PaymentDate      time.Time       `json:"payment_date"`
	PaymentType      PaymentType     `json:"payment_type"`
}

// DisbursementEntry is one line of the cumulative disbursement ledger.
type DisbursementEntry struct {
	DisbursementDate    time.Time       `json:"disbursement_date"`
	Amount              decimal.Decimal `json:"amount"`
	CumulativeDisbursed decimal.Decimal `json:"cumulative_disbursed"`
	Description         string          `json:"description"`
}

// PreEMIPayment is an interest-only payment made between a tranche's
// disbursement and the start of regular EMIs. It never reduces principal.
type PreEMIPayment struct {
	PaymentDate      time.Time       `json:"payment_date"`
	InterestAmount   decimal.Decimal `json:"interest_amount"`
	DisbursedBalance decimal.Decimal `json:"disbursed_balance"`
	CurrentRate      decimal.Decimal `json:"current_rate"`
	DaysInPeriod     int             `json:"days_in_period"`
}

// BrokenPeriodInterest covers the gap between loan issue and the first EMI.
type BrokenPeriodInterest struct {
	IssueDate       time.Time       `json:"loan_issue_date"`
	EMIStartDate    time.Time       `json:"emi_start_date"`
	Days            int             `json:"days"`
	InterestAmount  decimal.Decimal `json:"interest_amount"`
	AddedToFirstEMI bool            `json:"added_to_first_emi"`
	Description     string          `json:"description"`
}

// Schedule is the calculator's output: one freshly built value per call,
// never shared between computations.
type Schedule struct {
	InitialEMI        decimal.Decimal       `json:"initial_emi"`
	Rows              []PaymentRow          `json:"payment_schedule"`
	Disbursements     []DisbursementEntry   `json:"disbursement_schedule,omitempty"`
	PreEMIPayments    []PreEMIPayment       `json:"pre_emi_payments,omitempty"`
	BPI               *BrokenPeriodInterest `json:"broken_period_interest,omitempty"`
	TotalInterestPaid decimal.Decimal       `json:"total_interest_paid"`
	TotalAmountPaid   decimal.Decimal       `json:"total_amount_paid"`
	ActualTenure      int                   `json:"actual_tenure"`
}

// FinalizeTotals recomputes the derived totals by summing the row sequence.
// Totals are never maintained incrementally, so they cannot desync from rows.
// Pre-EMI periods appear in Rows, so they are counted exactly once.
func (s *Schedule) FinalizeTotals() {
	interest := decimal.Zero
	amount := decimal.Zero
	for _, row := range s.Rows {
		interest = interest.Add(row.InterestPaid)
		amount = amount.Add(row.EMI)
	}
	s.TotalInterestPaid = interest
	s.TotalAmountPaid = amount
	s.ActualTenure = len(s.Rows)
}

// Loan status values.
const (
	LoanActive = "active"
	LoanClosed = "closed"
)

// Loan is the persisted loan master record.
type Loan struct {
	ID                 uuid.UUID           `json:"id"`
	CustomerKey        string              `json:"customer_key"` // link to external customer system
	Principal          decimal.Decimal     `json:"principal"`
	AnnualRate         decimal.Decimal     `json:"annual_rate"` // current effective rate, percent
	Months             int                 `json:"months"`
	Compounding        Compounding         `json:"compounding"`
	MoratoriumMonths   int                 `json:"moratorium_months"`
	MoratoriumType     MoratoriumType      `json:"moratorium_type"`
	PartialPaymentEMI  decimal.Decimal     `json:"partial_payment_emi"`
	Strategy           FloatingStrategy    `json:"floating_strategy"`
	RateType           RateType            `json:"rate_type"`
	BenchmarkName      string              `json:"benchmark_name,omitempty"`
	Spread             decimal.Decimal     `json:"spread"`
	StartDate          time.Time           `json:"start_date"`
	IssueDate          time.Time           `json:"loan_issue_date"`
	DisbursementPhases []DisbursementPhase `json:"disbursement_phases,omitempty"`
	Status             string              `json:"status"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// Terms builds a calculation input from the loan master's current state.
func (l *Loan) Terms() Terms {
	return Terms{
		Principal:          l.Principal,
		AnnualRate:         l.AnnualRate,
		Months:             l.Months,
		Compounding:        l.Compounding,
		MoratoriumMonths:   l.MoratoriumMonths,
		MoratoriumType:     l.MoratoriumType,
		PartialPaymentEMI:  l.PartialPaymentEMI,
		Strategy:           l.Strategy,
		StartDate:          l.StartDate,
		IssueDate:          l.IssueDate,
		DisbursementPhases: l.DisbursementPhases,
	}
}

// Snapshot is one version of a loan's repayment schedule. Snapshots form an
// append-only log per loan; rows are stored separately, keyed by snapshot.
type Snapshot struct {
	ID               uuid.UUID       `json:"id"`
	LoanID           uuid.UUID       `json:"loan_id"`
	Version          int             `json:"version"`
	SnapshotDate     time.Time       `json:"snapshot_date"`
	PrincipalBalance decimal.Decimal `json:"principal_balance"`
	MonthsRemaining  int             `json:"months_remaining"`
	AnnualRate       decimal.Decimal `json:"annual_rate"`
	APR              decimal.Decimal `json:"apr"`
	Memo             string          `json:"memo"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Benchmark is one observation of a named benchmark rate.
type Benchmark struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"benchmark_name"`
	Rate          decimal.Decimal `json:"benchmark_rate"` // percent
	BenchmarkDate time.Time       `json:"benchmark_date"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Charge is a fee attached to a loan, consumed by the APR formula.
type Charge struct {
	ChargeType string          `json:"charge_type"`
	PayableTo  string          `json:"payable_to"`
	Amount     decimal.Decimal `json:"amount"`
	Recurring  bool            `json:"is_recurring"`
}
