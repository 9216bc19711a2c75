// Package store provides SQLite-backed persistence for setup history and
// decision records.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/switchboard/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store provides access to the switchboard SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS setups (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		agent TEXT NOT NULL,
		scope TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		analysis TEXT,
		selected TEXT NOT NULL,
		snapshot_id TEXT,
		success INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS worker_usage (
		setup_id TEXT NOT NULL,
		worker TEXT NOT NULL,
		confidence REAL NOT NULL,
		healthy INTEGER NOT NULL,
		startup_ms INTEGER NOT NULL,
		FOREIGN KEY (setup_id) REFERENCES setups(id)
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		setup_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_setups_fingerprint ON setups(fingerprint, success);
	CREATE INDEX IF NOT EXISTS idx_setups_created_at ON setups(created_at);
	CREATE INDEX IF NOT EXISTS idx_worker_usage_worker ON worker_usage(worker);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Setup Operations ---

// RecordSetup stores a finished pipeline run and its per-worker outcomes in
// one transaction. An empty ID is filled in.
func (s *Store) RecordSetup(ctx context.Context, setup *models.Setup, analysis string, usage []models.WorkerUsage) error {
	if setup.ID == "" {
		setup.ID = uuid.New().String()
	}
	if setup.CreatedAt.IsZero() {
		setup.CreatedAt = time.Now().UTC()
	}
	selected, err := json.Marshal(nonNil(setup.Selected))
	if err != nil {
		return fmt.Errorf("encode selected: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var completedAt sql.NullTime
	if setup.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *setup.CompletedAt, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO setups (id, task, agent, scope, fingerprint, analysis, selected, snapshot_id, success, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		setup.ID, setup.TaskDescription, setup.Agent, setup.Scope, setup.Fingerprint, analysis,
		string(selected), setup.SnapshotID, setup.Success, setup.CreatedAt, completedAt,
	)
	if err != nil {
		return fmt.Errorf("insert setup: %w", err)
	}

	for _, u := range usage {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO worker_usage (setup_id, worker, confidence, healthy, startup_ms) VALUES (?, ?, ?, ?, ?)`,
			setup.ID, u.Worker, u.Confidence, u.Healthy, u.StartupMs,
		)
		if err != nil {
			return fmt.Errorf("insert worker usage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetSetup retrieves a setup by ID.
func (s *Store) GetSetup(ctx context.Context, id string) (*models.Setup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task, agent, scope, fingerprint, selected, snapshot_id, success, created_at, completed_at
		 FROM setups WHERE id = ?`, id)
	setup, err := scanSetup(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return setup, err
}

// ListSetups returns the most recent setups, newest first.
func (s *Store) ListSetups(ctx context.Context, limit int) ([]models.Setup, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, agent, scope, fingerprint, selected, snapshot_id, success, created_at, completed_at
		 FROM setups ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query setups: %w", err)
	}
	defer rows.Close()

	var setups []models.Setup
	for rows.Next() {
		setup, err := scanSetup(rows)
		if err != nil {
			return nil, err
		}
		setups = append(setups, *setup)
	}
	return setups, rows.Err()
}

// SuccessfulSelections returns the selected worker lists of the most recent
// successful setups with the given fingerprint.
func (s *Store) SuccessfulSelections(ctx context.Context, fingerprint string, limit int) ([][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT selected FROM setups WHERE fingerprint = ? AND success = 1 ORDER BY created_at DESC LIMIT ?`,
		fingerprint, limit)
	if err != nil {
		return nil, fmt.Errorf("query selections: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan selection: %w", err)
		}
		var names []string
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			return nil, fmt.Errorf("decode selection: %w", err)
		}
		out = append(out, names)
	}
	return out, rows.Err()
}

// WorkerStats aggregates usage per worker, most used first.
func (s *Store) WorkerStats(ctx context.Context) ([]models.WorkerStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT worker, COUNT(*), SUM(healthy), AVG(startup_ms)
		 FROM worker_usage GROUP BY worker ORDER BY COUNT(*) DESC, worker ASC`)
	if err != nil {
		return nil, fmt.Errorf("query worker stats: %w", err)
	}
	defer rows.Close()

	var stats []models.WorkerStats
	for rows.Next() {
		var st models.WorkerStats
		if err := rows.Scan(&st.Worker, &st.Uses, &st.HealthyRuns, &st.AvgStartupMs); err != nil {
			return nil, fmt.Errorf("scan worker stats: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSetup(row rowScanner) (*models.Setup, error) {
	var (
		setup       models.Setup
		selected    string
		snapshotID  sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(&setup.ID, &setup.TaskDescription, &setup.Agent, &setup.Scope, &setup.Fingerprint,
		&selected, &snapshotID, &setup.Success, &setup.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan setup: %w", err)
	}
	if err := json.Unmarshal([]byte(selected), &setup.Selected); err != nil {
		return nil, fmt.Errorf("decode selected: %w", err)
	}
	setup.SnapshotID = snapshotID.String
	if completedAt.Valid {
		t := completedAt.Time
		setup.CompletedAt = &t
	}
	return &setup, nil
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(action, inputsHash, outcome, setupID, details string) (*models.PDREntry, error) {
	now := time.Now().UTC()
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		SetupID:    setupID,
		Details:    details,
		Timestamp:  now,
	}

	_, err := s.db.Exec(
		`INSERT INTO pdr (id, action, inputs_hash, outcome, setup_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.SetupID, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns the most recent decision records, newest first.
func (s *Store) ListPDR(ctx context.Context, limit int) ([]models.PDREntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, inputs_hash, outcome, setup_id, details, timestamp FROM pdr ORDER BY timestamp DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var setupID, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &setupID, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.SetupID = setupID.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
