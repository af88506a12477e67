package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credbook/lms/pkg/calculator"
	"github.com/credbook/lms/pkg/models"
	"github.com/credbook/lms/pkg/store"
)

var (
	// ErrFixedRateLoan is returned when a benchmark-driven operation is
	// attempted on a loan that does not float.
	ErrFixedRateLoan = errors.New("loan is not floating rate")
)

// Ledger handles the business logic for loans, schedules, and rate resets.
// Every schedule it produces is persisted as a new snapshot version; existing
// snapshots are never rewritten.
type Ledger struct {
	storage store.Storage
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage) *Ledger {
	return &Ledger{storage: s}
}

// ScheduleView pairs a snapshot with its schedule rows for presentation.
type ScheduleView struct {
	Snapshot *models.Snapshot    `json:"snapshot"`
	Rows     []models.PaymentRow `json:"payment_schedule"`
}

// Modification carries the changed terms for a loan restructure. The cutoff
// date splits realized history from the recalculated future.
type Modification struct {
	NewRate    decimal.Decimal `json:"new_annual_rate"`
	CutoffDate time.Time       `json:"cutoff_date"`
	Memo       string          `json:"memo"`
}

// CreateLoan books a new loan: it validates phased disbursements, resolves
// the effective rate for floating loans, runs the full simulation, and
// persists the loan together with snapshot version 1 of its schedule.
func (l *Ledger) CreateLoan(loan *models.Loan, charges []models.Charge) (*models.Schedule, error) {
	loan.ID = uuid.New()
	loan.Status = models.LoanActive
	loan.CreatedAt = time.Now()
	loan.UpdatedAt = time.Now()

	if loan.RateType == models.RateFloating && loan.BenchmarkName != "" {
		bench, err := l.storage.LatestBenchmark(loan.BenchmarkName)
		if err == nil {
			loan.AnnualRate = bench.Rate.Add(loan.Spread)
		}
		// No benchmark observation yet: the requested rate stands until the
		// first publication reprices the loan.
	}

	terms := loan.Terms()
	if terms.HasPhases() {
		if err := calculator.ValidatePhases(terms); err != nil {
			return nil, fmt.Errorf("invalid disbursement phases: %w", err)
		}
	}

	schedule := calculator.CalculateHomeLoan(terms)
	apr := calculator.APR(terms, schedule, charges)

	if err := l.storage.CreateLoan(loan, charges); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	snapshot := &models.Snapshot{
		ID:               uuid.New(),
		LoanID:           loan.ID,
		Version:          1,
		SnapshotDate:     time.Now(),
		PrincipalBalance: loan.Principal,
		MonthsRemaining:  loan.Months,
		AnnualRate:       loan.AnnualRate,
		APR:              apr,
		Memo:             "initial schedule",
		CreatedAt:        time.Now(),
	}
	if err := l.storage.CreateSnapshot(snapshot, schedule.Rows); err != nil {
		return nil, fmt.Errorf("failed to store initial snapshot: %w", err)
	}

	return schedule, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(id)
}

// GetAllLoans retrieves all loans.
func (l *Ledger) GetAllLoans() ([]*models.Loan, error) {
	return l.storage.GetAllLoans()
}

// GetSchedule retrieves the current (highest-version) schedule for a loan.
func (l *Ledger) GetSchedule(loanID uuid.UUID) (*ScheduleView, error) {
	snapshot, err := l.storage.LatestSnapshot(loanID)
	if err != nil {
		return nil, err
	}
	rows, err := l.storage.SnapshotRows(snapshot.ID)
	if err != nil {
		return nil, err
	}
	return &ScheduleView{Snapshot: snapshot, Rows: rows}, nil
}

// GetScheduleHistory retrieves every snapshot version of a loan, oldest first.
func (l *Ledger) GetScheduleHistory(loanID uuid.UUID) ([]*models.Snapshot, error) {
	return l.storage.SnapshotsForLoan(loanID)
}

// CombinedSchedule presents realized history together with the current
// terms: rows of the previous snapshot version dated strictly before the
// latest snapshot's first due date, followed by the latest snapshot's rows.
// With a single version it is identical to GetSchedule.
func (l *Ledger) CombinedSchedule(loanID uuid.UUID) (*ScheduleView, error) {
	snaps, err := l.storage.SnapshotsForLoan(loanID)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("snapshot not found")
	}

	latest := snaps[len(snaps)-1]
	rows, err := l.storage.SnapshotRows(latest.ID)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 1 {
		return &ScheduleView{Snapshot: latest, Rows: rows}, nil
	}

	previous := snaps[len(snaps)-2]
	prior, err := l.storage.SnapshotRows(previous.ID)
	if err != nil {
		return nil, err
	}

	// The latest snapshot's first due date is the cutover between realized
	// history and the new terms.
	firstDue := latest.SnapshotDate
	if len(rows) > 0 {
		firstDue = rows[0].PaymentDate
	}

	var combined []models.PaymentRow
	for _, row := range prior {
		if !row.PaymentDate.Before(firstDue) {
			break
		}
		row.PaymentType = models.PaymentPaid
		combined = append(combined, row)
	}
	combined = append(combined, rows...)

	return &ScheduleView{Snapshot: latest, Rows: combined}, nil
}

// ModifyLoan restructures a loan at a cutoff date: schedule rows on or before
// the cutoff are preserved as realized history, and the remainder is
// recalculated under the new rate. The hybrid schedule is stored as the next
// snapshot version.
func (l *Ledger) ModifyLoan(loanID uuid.UUID, mod Modification) (*models.Schedule, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}

	latest, err := l.storage.LatestSnapshot(loanID)
	if err != nil {
		return nil, calculator.ErrNoPriorSchedule
	}
	prior, err := l.storage.SnapshotRows(latest.ID)
	if err != nil {
		return nil, err
	}

	loan.AnnualRate = mod.NewRate
	terms := loan.Terms()

	schedule, err := calculator.Restitch(prior, mod.CutoffDate, terms)
	if err != nil {
		return nil, err
	}

	charges, err := l.storage.ChargesForLoan(loanID)
	if err != nil {
		return nil, err
	}
	apr := calculator.APR(terms, schedule, charges)

	memo := mod.Memo
	if memo == "" {
		memo = fmt.Sprintf("modified at %s: rate %s%%", mod.CutoffDate.Format("2006-01-02"), mod.NewRate)
	}

	if err := l.appendSnapshot(loan, schedule, apr, memo, loan.Principal); err != nil {
		return nil, err
	}

	loan.UpdatedAt = time.Now()
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to update loan after modification: %w", err)
	}
	return schedule, nil
}

// AddBenchmark records a benchmark rate observation and immediately reprices
// every active floating loan tied to it.
func (l *Ledger) AddBenchmark(name string, rate decimal.Decimal, date time.Time) (*models.Benchmark, error) {
	bench := &models.Benchmark{
		ID:            uuid.New(),
		Name:          name,
		Rate:          rate,
		BenchmarkDate: date,
		CreatedAt:     time.Now(),
	}
	if err := l.storage.AddBenchmark(bench); err != nil {
		return nil, err
	}

	l.ProcessRateResets(name)
	return bench, nil
}

// BenchmarkHistory retrieves all observations of a named benchmark.
func (l *Ledger) BenchmarkHistory(name string) ([]*models.Benchmark, error) {
	return l.storage.BenchmarkHistory(name)
}

// LatestBenchmark retrieves the most recent observation of a named benchmark.
func (l *Ledger) LatestBenchmark(name string) (*models.Benchmark, error) {
	return l.storage.LatestBenchmark(name)
}

// ProcessRateResets reprices every active floating loan tied to the named
// benchmark against its latest observation. Per-loan failures are logged and
// skipped so one bad loan cannot stall the sweep.
func (l *Ledger) ProcessRateResets(benchmarkName string) {
	bench, err := l.storage.LatestBenchmark(benchmarkName)
	if err != nil {
		fmt.Printf("Error getting latest benchmark %s for rate reset: %v\n", benchmarkName, err)
		return
	}

	loans, err := l.storage.GetActiveFloatingLoans(benchmarkName)
	if err != nil {
		fmt.Printf("Error getting floating loans for benchmark %s: %v\n", benchmarkName, err)
		return
	}

	for _, loan := range loans {
		if err := l.applyBenchmark(loan, bench); err != nil {
			fmt.Printf("Error applying benchmark %s to loan %s: %v\n", benchmarkName, loan.ID, err)
		}
	}
}

// SweepRateResets reprices all active floating loans against the latest
// observation of their benchmarks. Driven by the periodic reset ticker.
func (l *Ledger) SweepRateResets() {
	loans, err := l.storage.GetAllLoans()
	if err != nil {
		fmt.Printf("Error getting loans for rate reset sweep: %v\n", err)
		return
	}

	seen := make(map[string]bool)
	for _, loan := range loans {
		if loan.Status != models.LoanActive || loan.RateType != models.RateFloating || loan.BenchmarkName == "" {
			continue
		}
		if seen[loan.BenchmarkName] {
			continue
		}
		seen[loan.BenchmarkName] = true
		l.ProcessRateResets(loan.BenchmarkName)
	}
}

// applyBenchmark reprices one floating loan: the new effective rate is the
// benchmark plus the loan's spread, and the unrealized remainder of the loan
// is freshly re-simulated from the latest snapshot's balance and residual
// tenure. This is a forward-looking repricing, not a history-preserving
// stitch, so the resulting snapshot contains only future rows.
func (l *Ledger) applyBenchmark(loan *models.Loan, bench *models.Benchmark) error {
	if loan.RateType != models.RateFloating {
		return ErrFixedRateLoan
	}

	newRate := bench.Rate.Add(loan.Spread)
	if newRate.Equal(loan.AnnualRate) {
		return nil
	}

	latest, err := l.storage.LatestSnapshot(loan.ID)
	if err != nil {
		return err
	}

	loan.AnnualRate = newRate
	terms := loan.Terms()
	terms.Principal = latest.PrincipalBalance
	terms.Months = latest.MonthsRemaining
	terms.DisbursementPhases = nil
	terms.IssueDate = time.Time{}
	now := time.Now()
	terms.StartDate = time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)

	schedule := calculator.Calculate(terms)
	apr := calculator.APR(terms, schedule, nil)

	memo := fmt.Sprintf("rate reset: %s at %s%% (spread %s%%)", bench.Name, bench.Rate, loan.Spread)
	if err := l.appendSnapshot(loan, schedule, apr, memo, latest.PrincipalBalance); err != nil {
		return err
	}

	loan.UpdatedAt = time.Now()
	if err := l.storage.UpdateLoan(loan); err != nil {
		return fmt.Errorf("failed to update loan after rate reset: %w", err)
	}

	fmt.Printf("Repriced loan %s to %s%% on benchmark %s\n", loan.ID, newRate, bench.Name)
	return nil
}

// appendSnapshot stores a schedule as the loan's next snapshot version,
// recording the unrealized balance and tenure it represents.
func (l *Ledger) appendSnapshot(loan *models.Loan, schedule *models.Schedule, apr decimal.Decimal, memo string, opening decimal.Decimal) error {
	version, err := l.storage.MaxSnapshotVersion(loan.ID)
	if err != nil {
		return err
	}

	balance := opening
	monthsRemaining := 0
	for _, row := range schedule.Rows {
		switch row.PaymentType {
		case models.PaymentPaid:
			balance = row.RemainingBalance
		case models.PaymentPreEMI:
			// Interest-only months before full disbursement are not part of
			// the amortizing tenure a later re-simulation starts from.
		default:
			monthsRemaining++
		}
	}

	snapshot := &models.Snapshot{
		ID:               uuid.New(),
		LoanID:           loan.ID,
		Version:          version + 1,
		SnapshotDate:     time.Now(),
		PrincipalBalance: balance,
		MonthsRemaining:  monthsRemaining,
		AnnualRate:       loan.AnnualRate,
		APR:              apr,
		Memo:             memo,
		CreatedAt:        time.Now(),
	}
	if err := l.storage.CreateSnapshot(snapshot, schedule.Rows); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}
