package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/credbook/lms/pkg/calculator"
	"github.com/credbook/lms/pkg/ledger"
	"github.com/credbook/lms/pkg/models"
	"github.com/credbook/lms/pkg/store"
)

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
}

func NewServer(s store.Storage) *Server {
	return &Server{
		ledger:  ledger.NewLedger(s),
		storage: s,
	}
}

// simulateHandler runs a stateless schedule calculation: nothing is
// persisted, the full schedule is returned to the caller.
func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		models.Terms
		Charges []models.Charge `json:"charges"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Principal.LessThanOrEqual(decimal.Zero) || req.Months <= 0 {
		http.Error(w, "principal and months must be positive", http.StatusBadRequest)
		return
	}
	if req.Terms.HasPhases() {
		if err := calculator.ValidatePhases(req.Terms); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	schedule := calculator.CalculateHomeLoan(req.Terms)
	apr := calculator.APR(req.Terms, schedule, req.Charges)

	resp := struct {
		*models.Schedule
		APR decimal.Decimal `json:"apr"`
	}{schedule, apr}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		models.Loan
		Charges []models.Charge `json:"charges"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Principal.LessThanOrEqual(decimal.Zero) || req.Months <= 0 {
		http.Error(w, "principal and months must be positive", http.StatusBadRequest)
		return
	}

	schedule, err := s.ledger.CreateLoan(&req.Loan, req.Charges)
	if err != nil {
		log.Printf("Error creating loan: %v\n", err)
		http.Error(w, fmt.Sprintf("Failed to create loan: %v", err), http.StatusInternalServerError)
		return
	}

	resp := struct {
		Loan     *models.Loan     `json:"loan"`
		Schedule *models.Schedule `json:"schedule"`
	}{&req.Loan, schedule}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := parseLoanID(w, r)
	if !ok {
		return
	}

	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		if err.Error() == "loan not found" {
			http.Error(w, "Loan not found", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.GetAllLoans()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loans)
}

func (s *Server) getScheduleHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := parseLoanID(w, r)
	if !ok {
		return
	}

	view, err := s.ledger.GetSchedule(loanID)
	if err != nil {
		if err.Error() == "snapshot not found" {
			http.Error(w, "Schedule not found", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func (s *Server) combinedScheduleHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := parseLoanID(w, r)
	if !ok {
		return
	}

	view, err := s.ledger.CombinedSchedule(loanID)
	if err != nil {
		if err.Error() == "snapshot not found" {
			http.Error(w, "Schedule not found", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

func (s *Server) listSnapshotsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := parseLoanID(w, r)
	if !ok {
		return
	}

	snaps, err := s.ledger.GetScheduleHistory(loanID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snaps)
}

func (s *Server) modifyLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := parseLoanID(w, r)
	if !ok {
		return
	}

	var mod ledger.Modification
	if err := json.NewDecoder(r.Body).Decode(&mod); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if mod.CutoffDate.IsZero() {
		http.Error(w, "cutoff_date is required", http.StatusBadRequest)
		return
	}

	schedule, err := s.ledger.ModifyLoan(loanID, mod)
	if err != nil {
		switch {
		case err == calculator.ErrNoPriorSchedule:
			http.Error(w, err.Error(), http.StatusConflict)
		case err.Error() == "loan not found":
			http.Error(w, "Loan not found", http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(schedule)
}

func (s *Server) addBenchmarkHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string          `json:"benchmark_name"`
		Rate decimal.Decimal `json:"benchmark_rate"`
		Date time.Time       `json:"benchmark_date"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "benchmark_name is required", http.StatusBadRequest)
		return
	}
	if req.Date.IsZero() {
		req.Date = time.Now()
	}

	bench, err := s.ledger.AddBenchmark(req.Name, req.Rate, req.Date)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(bench)
}

func (s *Server) latestBenchmarkHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	bench, err := s.ledger.LatestBenchmark(name)
	if err != nil {
		if err.Error() == "benchmark not found" {
			http.Error(w, "Benchmark not found", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bench)
}

func (s *Server) benchmarkHistoryHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	history, err := s.ledger.BenchmarkHistory(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

func parseLoanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	loanID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid loan ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return loanID, true
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/simulate", s.simulateHandler).Methods("POST")
	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/schedule", s.getScheduleHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/schedule/combined", s.combinedScheduleHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/snapshots", s.listSnapshotsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/modify", s.modifyLoanHandler).Methods("POST")
	router.HandleFunc("/benchmarks", s.addBenchmarkHandler).Methods("POST")
	router.HandleFunc("/benchmarks/{name}", s.benchmarkHistoryHandler).Methods("GET")
	router.HandleFunc("/benchmarks/{name}/latest", s.latestBenchmarkHandler).Methods("GET")

	return router
}

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize SQLite store: %v", err)
	}
	defer sqliteStore.Close()

	server := NewServer(sqliteStore)
	router := server.routes()

	// Periodic rate-reset sweep for floating loans
	go func() {
		ticker := time.NewTicker(cfg.ResetInterval)
		defer ticker.Stop()

		for range ticker.C {
			log.Println("Running rate reset sweep...")
			server.ledger.SweepRateResets()
			log.Println("Rate reset sweep complete.")
		}
	}()

	log.Printf("Server starting on %s", cfg.ListenAddr)
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, router))
}
