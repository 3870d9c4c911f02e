// Package runstore keeps a history of pipeline runs in SQLite, so operators
// can see past outcomes after the per-run status files are gone.
package runstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses recorded in the history.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one historical pipeline run.
type Run struct {
	ID           string
	ManifestPath string
	BuildGraph   bool
	RunServer    bool
	EngineMajor  int
	Status       string
	Message      string
	PctProgress  float64
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun records the start of a run. The ID is the run's nonce.
func (s *Store) CreateRun(run *Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, manifest_path, build_graph, run_server, engine_major, status, message, pct_progress, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.ManifestPath,
		run.BuildGraph,
		run.RunServer,
		run.EngineMajor,
		run.Status,
		run.Message,
		run.PctProgress,
		run.StartedAt,
	)
	return err
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(id, status, message string, pct float64) error {
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, message = ?, pct_progress = ?, finished_at = ? WHERE id = ?
	`, status, message, pct, time.Now(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// UpdateProgress records an in-flight progress snapshot.
func (s *Store) UpdateProgress(id, message string, pct float64) error {
	_, err := s.db.Exec(`
		UPDATE runs SET message = ?, pct_progress = ? WHERE id = ?
	`, message, pct, id)
	return err
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, manifest_path, build_graph, run_server, engine_major, status, message, pct_progress, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row.Scan)
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	Status string
	Limit  int
}

// ListRuns returns runs matching the given options, most recent first.
func (s *Store) ListRuns(opts ListOptions) ([]*Run, error) {
	query := `SELECT id, manifest_path, build_graph, run_server, engine_major, status, message, pct_progress, started_at, finished_at FROM runs WHERE 1=1`
	var args []interface{}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}

	query += " ORDER BY started_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func scanRun(scan func(...interface{}) error) (*Run, error) {
	var run Run
	var message sql.NullString
	var started, finished sql.NullTime

	err := scan(&run.ID, &run.ManifestPath, &run.BuildGraph, &run.RunServer, &run.EngineMajor, &run.Status, &message, &run.PctProgress, &started, &finished)
	if err != nil {
		return nil, err
	}

	if message.Valid {
		run.Message = message.String
	}
	if started.Valid {
		run.StartedAt = started.Time
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}

	return &run, nil
}
