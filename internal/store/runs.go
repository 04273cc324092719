package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("store: run not found")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Run is one simulation run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Seed       uint64
	Version    string
	ConfigJSON string
}

// Snapshot is the population summary at one save point.
type Snapshot struct {
	ID          int64
	RunID       string
	Time        float64
	Cells       int
	Active      int
	Live        int
	Apoptotic   int
	Necrotic    int
	Lymphocytes int
	Divisions   int // since the previous snapshot
	Removals    int // since the previous snapshot
	WallSeconds float64
}

// SubstrateStat is one substrate's field summary at a snapshot.
type SubstrateStat struct {
	Substrate string
	Total     float64
	Min       float64
	Max       float64
	Mean      float64
	StdDev    float64
}

// Agent is one cell at a snapshot.
type Agent struct {
	ID     uint64
	Type   int
	Phase  string
	X      float64
	Y      float64
	Z      float64
	Radius float64
	Active bool
}

// CreateRun inserts a new run in the running state and returns its ID.
func (db *DB) CreateRun(ctx context.Context, seed uint64, version, configJSON string) (string, error) {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, status, seed, version, config_json) VALUES (?, ?, ?, ?, ?)`,
		id, StatusRunning, int64(seed), version, configJSON)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun records the final status of a run.
func (db *DB) FinishRun(ctx context.Context, runID, status string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = CURRENT_TIMESTAMP WHERE run_id = ?`,
		status, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun returns one run.
func (db *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := db.QueryRowContext(ctx, `
		SELECT run_id, started_at, finished_at, status, seed, COALESCE(version, ''), COALESCE(config_json, '')
		FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// ListRuns returns all runs, newest first.
func (db *DB) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, status, seed, COALESCE(version, ''), COALESCE(config_json, '')
		FROM runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r        Run
		finished sql.NullTime
		seed     int64
	)
	if err := s.Scan(&r.ID, &r.StartedAt, &finished, &r.Status, &seed, &r.Version, &r.ConfigJSON); err != nil {
		return nil, err
	}
	r.Seed = uint64(seed)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

// RecordSnapshot stores a snapshot with its substrate stats and agents in
// one transaction and returns the snapshot ID.
func (db *DB) RecordSnapshot(ctx context.Context, s Snapshot, stats []SubstrateStat, agents []Agent) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (run_id, sim_time, cells, active, live, apoptotic, necrotic, lymphocytes, divisions, removals, wall_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Time, s.Cells, s.Active, s.Live, s.Apoptotic, s.Necrotic, s.Lymphocytes, s.Divisions, s.Removals, s.WallSeconds)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	statStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO substrate_stats (snapshot_id, substrate, total, min_density, max_density, mean_density, std_density)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer statStmt.Close()
	for _, st := range stats {
		if _, err := statStmt.ExecContext(ctx, id, st.Substrate, st.Total, st.Min, st.Max, st.Mean, st.StdDev); err != nil {
			return 0, fmt.Errorf("insert substrate stats %q: %w", st.Substrate, err)
		}
	}

	agentStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO agents (snapshot_id, agent_id, cell_type, phase, x, y, z, radius, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer agentStmt.Close()
	for _, a := range agents {
		if _, err := agentStmt.ExecContext(ctx, id, int64(a.ID), a.Type, a.Phase, a.X, a.Y, a.Z, a.Radius, a.Active); err != nil {
			return 0, fmt.Errorf("insert agent %d: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// Snapshots returns the snapshots of a run in time order.
func (db *DB) Snapshots(ctx context.Context, runID string) ([]Snapshot, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT snapshot_id, run_id, sim_time, cells, active, live, apoptotic, necrotic, lymphocytes, divisions, removals, wall_seconds
		FROM snapshots WHERE run_id = ? ORDER BY sim_time`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.RunID, &s.Time, &s.Cells, &s.Active, &s.Live, &s.Apoptotic,
			&s.Necrotic, &s.Lymphocytes, &s.Divisions, &s.Removals, &s.WallSeconds); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SubstrateStats returns the field summaries stored with a snapshot,
// ordered by substrate name.
func (db *DB) SubstrateStats(ctx context.Context, snapshotID int64) ([]SubstrateStat, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT substrate, total, min_density, max_density, mean_density, std_density
		FROM substrate_stats WHERE snapshot_id = ? ORDER BY substrate`, snapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubstrateStat
	for rows.Next() {
		var s SubstrateStat
		if err := rows.Scan(&s.Substrate, &s.Total, &s.Min, &s.Max, &s.Mean, &s.StdDev); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Agents returns the cells stored with a snapshot ordered by ID.
func (db *DB) Agents(ctx context.Context, snapshotID int64) ([]Agent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT agent_id, cell_type, phase, x, y, z, radius, active
		FROM agents WHERE snapshot_id = ? ORDER BY agent_id`, snapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var (
			a  Agent
			id int64
		)
		if err := rows.Scan(&id, &a.Type, &a.Phase, &a.X, &a.Y, &a.Z, &a.Radius, &a.Active); err != nil {
			return nil, err
		}
		a.ID = uint64(id)
		out = append(out, a)
	}
	return out, rows.Err()
}
