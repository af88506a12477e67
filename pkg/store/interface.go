package store

import (
	"github.com/google/uuid"

	"github.com/credbook/lms/pkg/models"
)

// Storage defines the interface for persisting loans and their versioned
// repayment snapshots.
type Storage interface {
	CreateLoan(loan *models.Loan, charges []models.Charge) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	GetAllLoans() ([]*models.Loan, error)
	GetActiveFloatingLoans(benchmarkName string) ([]*models.Loan, error)
	ChargesForLoan(loanID uuid.UUID) ([]models.Charge, error)

	// Snapshots are an append-only, versioned log per loan.
	CreateSnapshot(snapshot *models.Snapshot, rows []models.PaymentRow) error
	LatestSnapshot(loanID uuid.UUID) (*models.Snapshot, error)
	SnapshotsForLoan(loanID uuid.UUID) ([]*models.Snapshot, error)
	SnapshotRows(snapshotID uuid.UUID) ([]models.PaymentRow, error)
	MaxSnapshotVersion(loanID uuid.UUID) (int, error)

	AddBenchmark(b *models.Benchmark) error
	LatestBenchmark(name string) (*models.Benchmark, error)
	BenchmarkHistory(name string) ([]*models.Benchmark, error)

	Close() error
}
