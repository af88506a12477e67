package store

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/credbook/lms/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Println("Database connection established and schema initialized.")
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_key TEXT NOT NULL,
		principal TEXT NOT NULL,
		annual_rate TEXT NOT NULL,
		months INTEGER NOT NULL,
		compounding TEXT NOT NULL,
		moratorium_months INTEGER NOT NULL DEFAULT 0,
		moratorium_type TEXT NOT NULL DEFAULT 'FULL',
		partial_payment_emi TEXT NOT NULL DEFAULT '0',
		floating_strategy TEXT NOT NULL DEFAULT 'TENURE_CONSTANT',
		rate_type TEXT NOT NULL DEFAULT 'FIXED',
		benchmark_name TEXT NOT NULL DEFAULT '',
		spread TEXT NOT NULL DEFAULT '0',
		start_date DATETIME NOT NULL,
		issue_date DATETIME,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loan_phases (
		loan_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		disbursement_date DATETIME NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (loan_id, position),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS loan_charges (
		loan_id TEXT NOT NULL,
		charge_type TEXT NOT NULL,
		payable_to TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		is_recurring INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		snapshot_date DATETIME NOT NULL,
		principal_balance TEXT NOT NULL,
		months_remaining INTEGER NOT NULL,
		annual_rate TEXT NOT NULL,
		apr TEXT NOT NULL DEFAULT '0',
		memo TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		UNIQUE (loan_id, version),
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE TABLE IF NOT EXISTS snapshot_rows (
		snapshot_id TEXT NOT NULL,
		month_number INTEGER NOT NULL,
		emi TEXT NOT NULL,
		principal_paid TEXT NOT NULL,
		interest_paid TEXT NOT NULL,
		remaining_balance TEXT NOT NULL,
		current_rate TEXT NOT NULL,
		payment_date DATETIME NOT NULL,
		payment_type TEXT NOT NULL,
		PRIMARY KEY (snapshot_id, month_number),
		FOREIGN KEY(snapshot_id) REFERENCES snapshots(id)
	);
	CREATE TABLE IF NOT EXISTS benchmarks (
		id TEXT PRIMARY KEY,
		benchmark_name TEXT NOT NULL,
		benchmark_rate TEXT NOT NULL,
		benchmark_date DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_loan ON snapshots(loan_id, version);
	CREATE INDEX IF NOT EXISTS idx_benchmarks_name ON benchmarks(benchmark_name, benchmark_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateLoan inserts a new loan, its disbursement phases, and its charges
// within a single transaction.
func (s *SQLiteStore) CreateLoan(loan *models.Loan, charges []models.Charge) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO loans (id, customer_key, principal, annual_rate, months, compounding, moratorium_months, moratorium_type, partial_payment_emi, floating_strategy, rate_type, benchmark_name, spread, start_date, issue_date, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CustomerKey, loan.Principal, loan.AnnualRate, loan.Months, string(loan.Compounding), loan.MoratoriumMonths, string(loan.MoratoriumType), loan.PartialPaymentEMI, string(loan.Strategy), string(loan.RateType), loan.BenchmarkName, loan.Spread, loan.StartDate, loan.IssueDate, loan.Status, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}

	for i, ph := range loan.DisbursementPhases {
		_, err = tx.Exec(
			`INSERT INTO loan_phases (loan_id, position, disbursement_date, amount, description) VALUES (?, ?, ?, ?, ?)`,
			loan.ID.String(), i, ph.DisbursementDate, ph.Amount, ph.Description,
		)
		if err != nil {
			return fmt.Errorf("failed to create disbursement phase: %w", err)
		}
	}

	for _, c := range charges {
		_, err = tx.Exec(
			`INSERT INTO loan_charges (loan_id, charge_type, payable_to, amount, is_recurring) VALUES (?, ?, ?, ?, ?)`,
			loan.ID.String(), c.ChargeType, c.PayableTo, c.Amount, c.Recurring,
		)
		if err != nil {
			return fmt.Errorf("failed to create loan charge: %w", err)
		}
	}

	return tx.Commit()
}

// GetLoan retrieves a loan by its ID, including its disbursement phases.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(
		`SELECT id, customer_key, principal, annual_rate, months, compounding, moratorium_months, moratorium_type, partial_payment_emi, floating_strategy, rate_type, benchmark_name, spread, start_date, issue_date, status, created_at, updated_at
		FROM loans WHERE id = ?`, id.String())

	loan, err := scanLoan(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("loan not found")
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}

	if loan.DisbursementPhases, err = s.loadPhases(loan.ID); err != nil {
		return nil, err
	}
	return loan, nil
}

// UpdateLoan updates an existing loan's mutable fields. Disbursement phases
// and charges are immutable after creation and are not touched here.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	result, err := s.db.Exec(
		`UPDATE loans SET customer_key = ?, principal = ?, annual_rate = ?, months = ?, compounding = ?, moratorium_months = ?, moratorium_type = ?, partial_payment_emi = ?, floating_strategy = ?, rate_type = ?, benchmark_name = ?, spread = ?, start_date = ?, issue_date = ?, status = ?, updated_at = ? WHERE id = ?`,
		loan.CustomerKey, loan.Principal, loan.AnnualRate, loan.Months, string(loan.Compounding), loan.MoratoriumMonths, string(loan.MoratoriumType), loan.PartialPaymentEMI, string(loan.Strategy), string(loan.RateType), loan.BenchmarkName, loan.Spread, loan.StartDate, loan.IssueDate, loan.Status, loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("loan not found")
	}
	return nil
}

// GetAllLoans retrieves all loans. Phases are not loaded for list views.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	rows, err := s.db.Query(
		`SELECT id, customer_key, principal, annual_rate, months, compounding, moratorium_months, moratorium_type, partial_payment_emi, floating_strategy, rate_type, benchmark_name, spread, start_date, issue_date, status, created_at, updated_at FROM loans`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// GetActiveFloatingLoans retrieves the active floating-rate loans tied to the
// named benchmark. These are the loans a benchmark publication reprices.
func (s *SQLiteStore) GetActiveFloatingLoans(benchmarkName string) ([]*models.Loan, error) {
	rows, err := s.db.Query(
		`SELECT id, customer_key, principal, annual_rate, months, compounding, moratorium_months, moratorium_type, partial_payment_emi, floating_strategy, rate_type, benchmark_name, spread, start_date, issue_date, status, created_at, updated_at
		FROM loans WHERE status = 'active' AND rate_type = 'FLOATING' AND benchmark_name = ?`, benchmarkName)
	if err != nil {
		return nil, fmt.Errorf("failed to get floating loans for %s: %w", benchmarkName, err)
	}
	defer rows.Close()

	loans, err := scanLoans(rows)
	if err != nil {
		return nil, err
	}
	for _, loan := range loans {
		if loan.DisbursementPhases, err = s.loadPhases(loan.ID); err != nil {
			return nil, err
		}
	}
	return loans, nil
}

// ChargesForLoan retrieves the fee list attached to a loan.
func (s *SQLiteStore) ChargesForLoan(loanID uuid.UUID) ([]models.Charge, error) {
	rows, err := s.db.Query(
		`SELECT charge_type, payable_to, amount, is_recurring FROM loan_charges WHERE loan_id = ?`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get charges for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var charges []models.Charge
	for rows.Next() {
		var c models.Charge
		if err := rows.Scan(&c.ChargeType, &c.PayableTo, &c.Amount, &c.Recurring); err != nil {
			return nil, fmt.Errorf("failed to scan charge row: %w", err)
		}
		charges = append(charges, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan charges: %w", err)
	}
	return charges, nil
}

func (s *SQLiteStore) loadPhases(loanID uuid.UUID) ([]models.DisbursementPhase, error) {
	rows, err := s.db.Query(
		`SELECT disbursement_date, amount, description FROM loan_phases WHERE loan_id = ? ORDER BY position ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get phases for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var phases []models.DisbursementPhase
	for rows.Next() {
		var ph models.DisbursementPhase
		if err := rows.Scan(&ph.DisbursementDate, &ph.Amount, &ph.Description); err != nil {
			return nil, fmt.Errorf("failed to scan phase row: %w", err)
		}
		phases = append(phases, ph)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan phases: %w", err)
	}
	return phases, nil
}

// scanner abstracts *sql.Row and *sql.Rows for the shared loan scan.
type scanner interface {
	Scan(dest ...any) error
}

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr string
	var issueDate sql.NullTime
	err := row.Scan(&idStr, &loan.CustomerKey, &loan.Principal, &loan.AnnualRate, &loan.Months, &loan.Compounding, &loan.MoratoriumMonths, &loan.MoratoriumType, &loan.PartialPaymentEMI, &loan.Strategy, &loan.RateType, &loan.BenchmarkName, &loan.Spread, &loan.StartDate, &issueDate, &loan.Status, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(idStr)
	if issueDate.Valid {
		loan.IssueDate = issueDate.Time
	}
	return &loan, nil
}

func scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// CreateSnapshot inserts a snapshot and its schedule rows within a single
// transaction. Snapshots are append-only; there is no update path.
func (s *SQLiteStore) CreateSnapshot(snapshot *models.Snapshot, rows []models.PaymentRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO snapshots (id, loan_id, version, snapshot_date, principal_balance, months_remaining, annual_rate, apr, memo, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snapshot.ID.String(), snapshot.LoanID.String(), snapshot.Version, snapshot.SnapshotDate, snapshot.PrincipalBalance, snapshot.MonthsRemaining, snapshot.AnnualRate, snapshot.APR, snapshot.Memo, snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO snapshot_rows (snapshot_id, month_number, emi, principal_paid, interest_paid, remaining_balance, current_rate, payment_date, payment_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		_, err = stmt.Exec(snapshot.ID.String(), row.MonthNumber, row.EMI, row.PrincipalPaid, row.InterestPaid, row.RemainingBalance, row.CurrentRate, row.PaymentDate, string(row.PaymentType))
		if err != nil {
			return fmt.Errorf("failed to insert snapshot row %d: %w", row.MonthNumber, err)
		}
	}

	return tx.Commit()
}

// LatestSnapshot retrieves the highest-version snapshot for a loan.
func (s *SQLiteStore) LatestSnapshot(loanID uuid.UUID) (*models.Snapshot, error) {
	row := s.db.QueryRow(
		`SELECT id, loan_id, version, snapshot_date, principal_balance, months_remaining, annual_rate, apr, memo, created_at
		FROM snapshots WHERE loan_id = ? ORDER BY version DESC LIMIT 1`, loanID.String())

	snap, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("snapshot not found")
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return snap, nil
}

// SnapshotsForLoan retrieves a loan's full snapshot history, oldest first.
func (s *SQLiteStore) SnapshotsForLoan(loanID uuid.UUID) ([]*models.Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT id, loan_id, version, snapshot_date, principal_balance, months_remaining, annual_rate, apr, memo, created_at
		FROM snapshots WHERE loan_id = ? ORDER BY version ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshots for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var snaps []*models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for snapshots: %w", err)
	}
	return snaps, nil
}

// SnapshotRows retrieves the schedule rows of one snapshot, in month order.
func (s *SQLiteStore) SnapshotRows(snapshotID uuid.UUID) ([]models.PaymentRow, error) {
	rows, err := s.db.Query(
		`SELECT month_number, emi, principal_paid, interest_paid, remaining_balance, current_rate, payment_date, payment_type
		FROM snapshot_rows WHERE snapshot_id = ? ORDER BY month_number ASC`, snapshotID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get rows for snapshot %s: %w", snapshotID, err)
	}
	defer rows.Close()

	var schedule []models.PaymentRow
	for rows.Next() {
		var r models.PaymentRow
		if err := rows.Scan(&r.MonthNumber, &r.EMI, &r.PrincipalPaid, &r.InterestPaid, &r.RemainingBalance, &r.CurrentRate, &r.PaymentDate, &r.PaymentType); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		schedule = append(schedule, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for snapshot rows: %w", err)
	}
	return schedule, nil
}

// MaxSnapshotVersion returns the highest snapshot version recorded for a
// loan, or 0 when it has none.
func (s *SQLiteStore) MaxSnapshotVersion(loanID uuid.UUID) (int, error) {
	var version int
	err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM snapshots WHERE loan_id = ?`, loanID.String()).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get max snapshot version: %w", err)
	}
	return version, nil
}

func scanSnapshot(row scanner) (*models.Snapshot, error) {
	var snap models.Snapshot
	var idStr, loanIDStr string
	err := row.Scan(&idStr, &loanIDStr, &snap.Version, &snap.SnapshotDate, &snap.PrincipalBalance, &snap.MonthsRemaining, &snap.AnnualRate, &snap.APR, &snap.Memo, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}
	snap.ID = uuid.MustParse(idStr)
	snap.LoanID = uuid.MustParse(loanIDStr)
	return &snap, nil
}

// AddBenchmark inserts a benchmark rate observation.
func (s *SQLiteStore) AddBenchmark(b *models.Benchmark) error {
	_, err := s.db.Exec(
		`INSERT INTO benchmarks (id, benchmark_name, benchmark_rate, benchmark_date, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID.String(), b.Name, b.Rate, b.BenchmarkDate, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add benchmark: %w", err)
	}
	return nil
}

// LatestBenchmark retrieves the most recent observation of a named benchmark.
func (s *SQLiteStore) LatestBenchmark(name string) (*models.Benchmark, error) {
	row := s.db.QueryRow(
		`SELECT id, benchmark_name, benchmark_rate, benchmark_date, created_at
		FROM benchmarks WHERE benchmark_name = ? ORDER BY benchmark_date DESC, created_at DESC LIMIT 1`, name)

	b, err := scanBenchmark(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("benchmark not found")
		}
		return nil, fmt.Errorf("failed to get latest benchmark: %w", err)
	}
	return b, nil
}

// BenchmarkHistory retrieves all observations of a named benchmark, oldest
// first.
func (s *SQLiteStore) BenchmarkHistory(name string) ([]*models.Benchmark, error) {
	rows, err := s.db.Query(
		`SELECT id, benchmark_name, benchmark_rate, benchmark_date, created_at
		FROM benchmarks WHERE benchmark_name = ? ORDER BY benchmark_date ASC`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get benchmark history for %s: %w", name, err)
	}
	defer rows.Close()

	var out []*models.Benchmark
	for rows.Next() {
		b, err := scanBenchmark(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan benchmark row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for benchmarks: %w", err)
	}
	return out, nil
}

func scanBenchmark(row scanner) (*models.Benchmark, error) {
	var b models.Benchmark
	var idStr string
	err := row.Scan(&idStr, &b.Name, &b.Rate, &b.BenchmarkDate, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.ID = uuid.MustParse(idStr)
	return &b, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
