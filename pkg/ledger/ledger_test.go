package ledger

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credbook/lms/pkg/calculator"
	"github.com/credbook/lms/pkg/models"
)

// MockStore is a simple in-memory implementation of the Storage interface for testing.
type MockStore struct {
	loans      map[uuid.UUID]*models.Loan
	charges    map[uuid.UUID][]models.Charge
	snapshots  []*models.Snapshot
	rows       map[uuid.UUID][]models.PaymentRow
	benchmarks []*models.Benchmark
}

func NewMockStore() *MockStore {
	return &MockStore{
		loans:   make(map[uuid.UUID]*models.Loan),
		charges: make(map[uuid.UUID][]models.Charge),
		rows:    make(map[uuid.UUID][]models.PaymentRow),
	}
}

func (m *MockStore) CreateLoan(loan *models.Loan, charges []models.Charge) error {
	m.loans[loan.ID] = loan
	m.charges[loan.ID] = charges
	return nil
}

func (m *MockStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, fmt.Errorf("loan not found")
	}
	return loan, nil
}

func (m *MockStore) UpdateLoan(loan *models.Loan) error {
	m.loans[loan.ID] = loan
	return nil
}

func (m *MockStore) GetAllLoans() ([]*models.Loan, error) {
	loans := []*models.Loan{}
	for _, l := range m.loans {
		loans = append(loans, l)
	}
	return loans, nil
}

func (m *MockStore) GetActiveFloatingLoans(benchmarkName string) ([]*models.Loan, error) {
	loans := []*models.Loan{}
	for _, l := range m.loans {
		if l.Status == models.LoanActive && l.RateType == models.RateFloating && l.BenchmarkName == benchmarkName {
			loans = append(loans, l)
		}
	}
	return loans, nil
}

func (m *MockStore) ChargesForLoan(loanID uuid.UUID) ([]models.Charge, error) {
	return m.charges[loanID], nil
}

func (m *MockStore) CreateSnapshot(snapshot *models.Snapshot, rows []models.PaymentRow) error {
	m.snapshots = append(m.snapshots, snapshot)
	m.rows[snapshot.ID] = rows
	return nil
}

func (m *MockStore) LatestSnapshot(loanID uuid.UUID) (*models.Snapshot, error) {
	var latest *models.Snapshot
	for _, s := range m.snapshots {
		if s.LoanID == loanID && (latest == nil || s.Version > latest.Version) {
			latest = s
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("snapshot not found")
	}
	return latest, nil
}

func (m *MockStore) SnapshotsForLoan(loanID uuid.UUID) ([]*models.Snapshot, error) {
	snaps := []*models.Snapshot{}
	for _, s := range m.snapshots {
		if s.LoanID == loanID {
			snaps = append(snaps, s)
		}
	}
	return snaps, nil
}

func (m *MockStore) SnapshotRows(snapshotID uuid.UUID) ([]models.PaymentRow, error) {
	return m.rows[snapshotID], nil
}

func (m *MockStore) MaxSnapshotVersion(loanID uuid.UUID) (int, error) {
	max := 0
	for _, s := range m.snapshots {
		if s.LoanID == loanID && s.Version > max {
			max = s.Version
		}
	}
	return max, nil
}

func (m *MockStore) AddBenchmark(b *models.Benchmark) error {
	m.benchmarks = append(m.benchmarks, b)
	return nil
}

func (m *MockStore) LatestBenchmark(name string) (*models.Benchmark, error) {
	var latest *models.Benchmark
	for _, b := range m.benchmarks {
		if b.Name == name && (latest == nil || b.BenchmarkDate.After(latest.BenchmarkDate)) {
			latest = b
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("benchmark not found")
	}
	return latest, nil
}

func (m *MockStore) BenchmarkHistory(name string) ([]*models.Benchmark, error) {
	out := []*models.Benchmark{}
	for _, b := range m.benchmarks {
		if b.Name == name {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MockStore) Close() error {
	return nil
}

func testLoan() *models.Loan {
	return &models.Loan{
		CustomerKey: "cust123",
		Principal:   decimal.NewFromInt(100_000),
		AnnualRate:  decimal.NewFromInt(12),
		Months:      12,
		Compounding: models.CompoundingMonthly,
		RateType:    models.RateFixed,
		StartDate:   time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateLoan(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store)

	schedule, err := l.CreateLoan(testLoan(), nil)
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	if len(schedule.Rows) != 12 {
		t.Errorf("Expected 12 schedule rows, got %d", len(schedule.Rows))
	}

	if len(store.snapshots) != 1 {
		t.Fatalf("Expected 1 snapshot, got %d", len(store.snapshots))
	}
	snap := store.snapshots[0]
	if snap.Version != 1 {
		t.Errorf("Expected snapshot version 1, got %d", snap.Version)
	}
	if !snap.PrincipalBalance.Equal(decimal.NewFromInt(100_000)) {
		t.Errorf("Expected snapshot balance 100000, got %s", snap.PrincipalBalance)
	}
	if len(store.rows[snap.ID]) != 12 {
		t.Errorf("Expected 12 persisted rows, got %d", len(store.rows[snap.ID]))
	}
	if !snap.APR.GreaterThan(decimal.NewFromInt(12)) {
		t.Errorf("Expected APR above nominal rate, got %s", snap.APR)
	}
}

func TestCreateLoan_FloatingResolvesBenchmarkRate(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store)

	store.AddBenchmark(&models.Benchmark{
		ID:            uuid.New(),
		Name:          "REPO",
		Rate:          decimal.NewFromFloat(6.5),
		BenchmarkDate: time.Now(),
	})

	loan := testLoan()
	loan.RateType = models.RateFloating
	loan.BenchmarkName = "REPO"
	loan.Spread = decimal.NewFromFloat(2.5)

	_, err := l.CreateLoan(loan, nil)
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	expected := decimal.NewFromInt(9)
	if !loan.AnnualRate.Equal(expected) {
		t.Errorf("Expected effective rate %s (benchmark + spread), got %s", expected, loan.AnnualRate)
	}
}

func TestGetSchedule(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store)

	loan := testLoan()
	if _, err := l.CreateLoan(loan, nil); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	view, err := l.GetSchedule(loan.ID)
	if err != nil {
		t.Fatalf("Failed to get schedule: %v", err)
	}
	if view.Snapshot.Version != 1 {
		t.Errorf("Expected version 1, got %d", view.Snapshot.Version)
	}
	if len(view.Rows) != 12 {
		t.Errorf("Expected 12 rows, got %d", len(view.Rows))
	}
}

func TestModifyLoan(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store)

	loan := testLoan()
	if _, err := l.CreateLoan(loan, nil); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	schedule, err := l.ModifyLoan(loan.ID, Modification{
		NewRate:    decimal.NewFromInt(15),
		CutoffDate: time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Failed to modify loan: %v", err)
	}

	if len(store.snapshots) != 2 {
		t.Fatalf("Expected 2 snapshots after modification, got %d", len(store.snapshots))
	}
	latest, _ := store.LatestSnapshot(loan.ID)
	if latest.Version != 2 {
		t.Errorf("Expected snapshot version 2, got %d", latest.Version)
	}
	if !latest.AnnualRate.Equal(decimal.NewFromInt(15)) {
		t.Errorf("Expected snapshot rate 15, got %s", latest.AnnualRate)
	}

	// Six payments fall on or before June 20; the rest are recalculated.
	paid, future := 0, 0
	for _, row := range schedule.Rows {
		switch row.PaymentType {
		case models.PaymentPaid:
			paid++
		case models.PaymentFuture:
			future++
		}
	}
	if paid != 6 {
		t.Errorf("Expected 6 preserved rows, got %d", paid)
	}
	if future != 6 {
		t.Errorf("Expected 6 recalculated rows, got %d", future)
	}

	if !loan.AnnualRate.Equal(decimal.NewFromInt(15)) {
		t.Errorf("Expected loan rate updated to 15, got %s", loan.AnnualRate)
	}
}

func TestModifyLoan_NoPriorSchedule(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store)

	// Loan exists but has no snapshot history.
	loan := testLoan()
	loan.ID = uuid.New()
	store.loans[loan.ID] = loan

	_, err := l.ModifyLoan(loan.ID, Modification{
		NewRate:    decimal.NewFromInt(15),
		CutoffDate: time.Now(),
	})
	if err != calculator.ErrNoPriorSchedule {
		t.Errorf("Expected ErrNoPriorSchedule, got %v", err)
	}
}

func TestAddBenchmark_RepricesFloatingLoans(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store)

	floating := testLoan()
	floating.RateType = models.RateFloating
	floating.BenchmarkName = "REPO"
	floating.Spread = decimal.NewFromInt(3)
	if _, err := l.CreateLoan(floating, nil); err != nil {
		t.Fatalf("Failed to create floating loan: %v", err)
	}

	fixed := testLoan()
	if _, err := l.CreateLoan(fixed, nil); err != nil {
		t.Fatalf("Failed to create fixed loan: %v", err)
	}

	if _, err := l.AddBenchmark("REPO", decimal.NewFromFloat(7.5), time.Now()); err != nil {
		t.Fatalf("Failed to add benchmark: %v", err)
	}

	expected := decimal.NewFromFloat(10.5)
	if !floating.AnnualRate.Equal(expected) {
		t.Errorf("Expected floating loan repriced to %s, got %s", expected, floating.AnnualRate)
	}
	if !fixed.AnnualRate.Equal(decimal.NewFromInt(12)) {
		t.Errorf("Fixed loan should keep its rate, got %s", fixed.AnnualRate)
	}

	latest, err := store.LatestSnapshot(floating.ID)
	if err != nil {
		t.Fatalf("Failed to get latest snapshot: %v", err)
	}
	if latest.Version != 2 {
		t.Errorf("Expected reset snapshot version 2, got %d", latest.Version)
	}
	if !strings.HasPrefix(latest.Memo, "rate reset") {
		t.Errorf("Expected rate reset memo, got %q", latest.Memo)
	}
}

func TestCombinedSchedule_SingleVersion(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store)

	loan := testLoan()
	if _, err := l.CreateLoan(loan, nil); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	view, err := l.CombinedSchedule(loan.ID)
	if err != nil {
		t.Fatalf("Failed to get combined schedule: %v", err)
	}
	if view.Snapshot.Version != 1 {
		t.Errorf("Expected version 1, got %d", view.Snapshot.Version)
	}
	if len(view.Rows) != 12 {
		t.Errorf("Expected 12 rows for a single version, got %d", len(view.Rows))
	}
}

func TestCombinedSchedule_AfterRateReset(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store)

	loan := testLoan()
	loan.RateType = models.RateFloating
	loan.BenchmarkName = "REPO"
	loan.Spread = decimal.NewFromInt(3)
	if _, err := l.CreateLoan(loan, nil); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	if _, err := l.AddBenchmark("REPO", decimal.NewFromFloat(7.5), time.Now()); err != nil {
		t.Fatalf("Failed to add benchmark: %v", err)
	}

	view, err := l.CombinedSchedule(loan.ID)
	if err != nil {
		t.Fatalf("Failed to get combined schedule: %v", err)
	}
	if view.Snapshot.Version != 2 {
		t.Errorf("Expected latest version 2, got %d", view.Snapshot.Version)
	}

	// The reset snapshot holds only future rows, so the combined view
	// prepends all twelve realized rows from version 1.
	if len(view.Rows) != 24 {
		t.Fatalf("Expected 12 historical + 12 repriced rows, got %d", len(view.Rows))
	}
	for i := 0; i < 12; i++ {
		if view.Rows[i].PaymentType != models.PaymentPaid {
			t.Errorf("Expected historical row %d tagged PAID, got %s", i+1, view.Rows[i].PaymentType)
		}
	}
	cutover := view.Rows[12]
	if cutover.PaymentType == models.PaymentPaid {
		t.Error("Expected repriced rows after the historical prefix")
	}
	if !cutover.PaymentDate.After(view.Rows[11].PaymentDate) {
		t.Error("Expected repriced rows dated after the realized history")
	}
}

func TestCombinedSchedule_NoSnapshots(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store)

	if _, err := l.CombinedSchedule(uuid.New()); err == nil {
		t.Error("Expected error for loan without snapshots")
	}
}

func TestAppendSnapshot_ExcludesPreEMIFromTenure(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store)

	loan := testLoan()
	loan.ID = uuid.New()
	store.loans[loan.ID] = loan

	schedule := &models.Schedule{Rows: []models.PaymentRow{
		{MonthNumber: 1, PaymentType: models.PaymentPaid, RemainingBalance: decimal.NewFromInt(90_000)},
		{MonthNumber: 2, PaymentType: models.PaymentPreEMI, RemainingBalance: decimal.NewFromInt(90_000)},
		{MonthNumber: 3, PaymentType: models.PaymentFuture, RemainingBalance: decimal.NewFromInt(45_000)},
		{MonthNumber: 4, PaymentType: models.PaymentFuture, RemainingBalance: decimal.Zero},
	}}

	if err := l.appendSnapshot(loan, schedule, decimal.Zero, "test", loan.Principal); err != nil {
		t.Fatalf("Failed to append snapshot: %v", err)
	}

	snap := store.snapshots[0]
	if snap.MonthsRemaining != 2 {
		t.Errorf("Expected 2 amortizing months remaining, got %d", snap.MonthsRemaining)
	}
	if !snap.PrincipalBalance.Equal(decimal.NewFromInt(90_000)) {
		t.Errorf("Expected balance from last realized row, got %s", snap.PrincipalBalance)
	}
}

func TestAddBenchmark_NoOpWhenRateUnchanged(t *testing.T) {
	store := NewMockStore()
	l := NewLedger(store)

	loan := testLoan()
	loan.RateType = models.RateFloating
	loan.BenchmarkName = "REPO"
	loan.Spread = decimal.NewFromInt(3)

	store.AddBenchmark(&models.Benchmark{
		ID:            uuid.New(),
		Name:          "REPO",
		Rate:          decimal.NewFromInt(9),
		BenchmarkDate: time.Now().Add(-time.Hour),
	})

	if _, err := l.CreateLoan(loan, nil); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}
	// Effective rate is already 9 + 3 = 12.

	if _, err := l.AddBenchmark("REPO", decimal.NewFromInt(9), time.Now()); err != nil {
		t.Fatalf("Failed to add benchmark: %v", err)
	}

	if len(store.snapshots) != 1 {
		t.Errorf("Unchanged rate should not append a snapshot, got %d", len(store.snapshots))
	}
}
