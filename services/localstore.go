package services

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RunMetricsRecord is the per-run summary archived locally
type RunMetricsRecord struct {
	RunLabel          string    `json:"run_label"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	DurationSeconds   float64   `json:"duration_seconds"`
	TotalStocks       int       `json:"total_stocks"`
	SuccessfulStocks  int       `json:"successful_stocks"`
	FailedStocks      int       `json:"failed_stocks"`
	TotalContracts    int       `json:"total_contracts"`
	ContractsPerStock float64   `json:"contracts_per_stock"`
}

// LocalStore is a SQLite file beside the process holding operational
// state that must survive restarts independently of PostgreSQL:
// source health counters and the run metrics archive.
type LocalStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewLocalStore opens (creating if needed) the local store at path
func NewLocalStore(path string) (*LocalStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping local store: %w", err)
	}

	store := &LocalStore{db: db}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("Local store initialized at %s", path)
	return store, nil
}

// Close closes the underlying database
func (s *LocalStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *LocalStore) createTables() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	healthTable := `
		CREATE TABLE IF NOT EXISTS source_health (
			name TEXT PRIMARY KEY,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			cooldown_until TIMESTAMP,
			last_success TIMESTAMP,
			last_failure TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`
	if _, err := s.db.Exec(healthTable); err != nil {
		return fmt.Errorf("failed to create source_health table: %w", err)
	}

	metricsTable := `
		CREATE TABLE IF NOT EXISTS run_metrics (
			run_label TEXT PRIMARY KEY,
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP NOT NULL,
			duration_seconds REAL NOT NULL,
			total_stocks INTEGER NOT NULL,
			successful_stocks INTEGER NOT NULL,
			failed_stocks INTEGER NOT NULL,
			total_contracts INTEGER NOT NULL,
			contracts_per_stock REAL NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`
	if _, err := s.db.Exec(metricsTable); err != nil {
		return fmt.Errorf("failed to create run_metrics table: %w", err)
	}

	return nil
}

// SaveSourceHealth upserts the health row for one source
func (s *LocalStore) SaveSourceHealth(state SourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT OR REPLACE INTO source_health
		(name, consecutive_failures, cooldown_until, last_success, last_failure, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`

	_, err := s.db.Exec(query,
		state.Name,
		state.ConsecutiveFailures,
		nullableTime(state.CooldownUntil),
		nullableTime(state.LastSuccess),
		nullableTime(state.LastFailure),
	)
	if err != nil {
		return fmt.Errorf("failed to save source health: %w", err)
	}
	return nil
}

// LoadSourceHealth reads all persisted health rows
func (s *LocalStore) LoadSourceHealth() ([]SourceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT name, consecutive_failures, cooldown_until, last_success, last_failure
		FROM source_health`)
	if err != nil {
		return nil, fmt.Errorf("failed to query source health: %w", err)
	}
	defer rows.Close()

	var states []SourceState
	for rows.Next() {
		var state SourceState
		var cooldown, success, failure sql.NullTime
		if err := rows.Scan(&state.Name, &state.ConsecutiveFailures, &cooldown, &success, &failure); err != nil {
			return nil, fmt.Errorf("failed to scan source health row: %w", err)
		}
		if cooldown.Valid {
			t := cooldown.Time
			state.CooldownUntil = &t
		}
		if success.Valid {
			t := success.Time
			state.LastSuccess = &t
		}
		if failure.Valid {
			t := failure.Time
			state.LastFailure = &t
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// ArchiveRunMetrics stores the summary of a finished run
func (s *LocalStore) ArchiveRunMetrics(record RunMetricsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT OR REPLACE INTO run_metrics
		(run_label, start_time, end_time, duration_seconds, total_stocks,
		 successful_stocks, failed_stocks, total_contracts, contracts_per_stock)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		record.RunLabel,
		record.StartTime,
		record.EndTime,
		record.DurationSeconds,
		record.TotalStocks,
		record.SuccessfulStocks,
		record.FailedStocks,
		record.TotalContracts,
		record.ContractsPerStock,
	)
	if err != nil {
		return fmt.Errorf("failed to archive run metrics: %w", err)
	}
	return nil
}

// ListRunMetrics returns archived run summaries, newest first
func (s *LocalStore) ListRunMetrics(limit int) ([]RunMetricsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT run_label, start_time, end_time, duration_seconds, total_stocks,
		       successful_stocks, failed_stocks, total_contracts, contracts_per_stock
		FROM run_metrics
		ORDER BY start_time DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run metrics: %w", err)
	}
	defer rows.Close()

	var records []RunMetricsRecord
	for rows.Next() {
		var record RunMetricsRecord
		if err := rows.Scan(
			&record.RunLabel,
			&record.StartTime,
			&record.EndTime,
			&record.DurationSeconds,
			&record.TotalStocks,
			&record.SuccessfulStocks,
			&record.FailedStocks,
			&record.TotalContracts,
			&record.ContractsPerStock,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run metrics row: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// PruneRunMetrics deletes archived summaries older than the cutoff
func (s *LocalStore) PruneRunMetrics(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM run_metrics WHERE start_time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune run metrics: %w", err)
	}
	return result.RowsAffected()
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
