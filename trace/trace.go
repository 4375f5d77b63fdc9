// Package trace persists simulation runs and their per-step filter output in SQLite.
package trace

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marco-hrlic/go-localize/sim"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	params_json TEXT,
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS steps (
	run_id       TEXT NOT NULL REFERENCES runs(run_id),
	step         INTEGER NOT NULL,
	truth_x      REAL, truth_y REAL, truth_yaw REAL, truth_v REAL,
	dr_x         REAL, dr_y REAL, dr_yaw REAL, dr_v REAL,
	est_x        REAL, est_y REAL, est_yaw REAL, est_v REAL,
	cov_trace    REAL,
	neff         REAL,
	resampled    INTEGER NOT NULL,
	observations INTEGER NOT NULL,
	PRIMARY KEY (run_id, step)
);
`

// Store is a SQLite store of simulation runs
type Store struct {
	db *sql.DB
}

// Open opens a SQLite database at path, creates its schema and returns the store.
// Use ":memory:" for a transient store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database: %w", err)
	}

	// a single connection keeps in-memory databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create trace schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the store
func (s *Store) Close() error {
	return s.db.Close()
}

// Run is a recorded simulation run. It implements sim.Recorder.
type Run struct {
	ID        string
	CreatedAt int64
	store     *Store
}

// NewRun inserts a new run described by params and returns it.
// params is stored as JSON and may be nil.
func (s *Store) NewRun(params interface{}) (*Run, error) {
	var paramsStr interface{}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode run params: %w", err)
		}
		paramsStr = string(data)
	}

	run := &Run{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UnixNano(),
		store:     s,
	}

	if _, err := s.db.Exec(`INSERT INTO runs (run_id, params_json, created_at) VALUES (?, ?, ?)`,
		run.ID, paramsStr, run.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	return run, nil
}

// Record persists a simulation step of the run
func (r *Run) Record(step sim.Step) error {
	return r.store.Record(r.ID, step)
}

// Record persists a simulation step of run runID
func (s *Store) Record(runID string, step sim.Step) error {
	truth, err := vec4(step.Truth)
	if err != nil {
		return fmt.Errorf("invalid truth: %w", err)
	}
	dr, err := vec4(step.DeadReckoning)
	if err != nil {
		return fmt.Errorf("invalid dead reckoning: %w", err)
	}
	est, err := vec4(step.Estimate)
	if err != nil {
		return fmt.Errorf("invalid estimate: %w", err)
	}

	resampled := 0
	if step.Resampled {
		resampled = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO steps (
			run_id, step,
			truth_x, truth_y, truth_yaw, truth_v,
			dr_x, dr_y, dr_yaw, dr_v,
			est_x, est_y, est_yaw, est_v,
			cov_trace, neff, resampled, observations
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, step.Index,
		truth[0], truth[1], truth[2], truth[3],
		dr[0], dr[1], dr[2], dr[3],
		est[0], est[1], est[2], est[3],
		step.CovTrace, step.Neff, resampled, step.Observations,
	)
	if err != nil {
		return fmt.Errorf("failed to insert step %d: %w", step.Index, err)
	}

	return nil
}

func vec4(v []float64) ([]float64, error) {
	if len(v) != 4 {
		return nil, fmt.Errorf("expected 4 components, got %d", len(v))
	}
	return v, nil
}

// Steps returns all recorded steps of run runID ordered by step index
func (s *Store) Steps(runID string) ([]sim.Step, error) {
	rows, err := s.db.Query(`
		SELECT step,
			truth_x, truth_y, truth_yaw, truth_v,
			dr_x, dr_y, dr_yaw, dr_v,
			est_x, est_y, est_yaw, est_v,
			cov_trace, neff, resampled, observations
		FROM steps WHERE run_id = ? ORDER BY step ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []sim.Step
	for rows.Next() {
		st := sim.Step{
			Truth:         make([]float64, 4),
			DeadReckoning: make([]float64, 4),
			Estimate:      make([]float64, 4),
		}
		var resampled int
		if err := rows.Scan(&st.Index,
			&st.Truth[0], &st.Truth[1], &st.Truth[2], &st.Truth[3],
			&st.DeadReckoning[0], &st.DeadReckoning[1], &st.DeadReckoning[2], &st.DeadReckoning[3],
			&st.Estimate[0], &st.Estimate[1], &st.Estimate[2], &st.Estimate[3],
			&st.CovTrace, &st.Neff, &resampled, &st.Observations,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		st.Resampled = resampled != 0
		steps = append(steps, st)
	}

	return steps, rows.Err()
}

// Runs returns ids of all recorded runs, oldest first
func (s *Store) Runs() ([]string, error) {
	rows, err := s.db.Query(`SELECT run_id FROM runs ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Params returns the JSON params run runID was created with
func (s *Store) Params(runID string) (json.RawMessage, error) {
	var params sql.NullString
	err := s.db.QueryRow(`SELECT params_json FROM runs WHERE run_id = ?`, runID).Scan(&params)
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", runID, err)
	}

	if !params.Valid {
		return nil, nil
	}

	return json.RawMessage(params.String), nil
}
