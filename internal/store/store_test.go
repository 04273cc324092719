package store

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/oncosim/internal/monitoring"
)

func init() { monitoring.SetLogger(nil) }

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrations(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='runs'`).Scan(&n))
	assert.Zero(t, n)
}

func TestRunLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	id, err := db.CreateRun(ctx, 42, "dev", `{"seed":42}`)
	require.NoError(t, err)
	assert.Len(t, id, 36)

	run, err := db.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, uint64(42), run.Seed)
	assert.Equal(t, `{"seed":42}`, run.ConfigJSON)
	assert.Nil(t, run.FinishedAt)

	require.NoError(t, db.FinishRun(ctx, id, StatusCompleted))
	run, err = db.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.NotNil(t, run.FinishedAt)

	assert.ErrorIs(t, db.FinishRun(ctx, "missing", StatusFailed), ErrRunNotFound)
	_, err = db.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	other, err := db.CreateRun(ctx, 1, "dev", "")
	require.NoError(t, err)
	runs, err := db.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, other, runs[0].ID)
}

func TestRecordSnapshot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	runID, err := db.CreateRun(ctx, 0, "dev", "")
	require.NoError(t, err)

	stats := []SubstrateStat{
		{Substrate: "oxygen", Total: 100, Min: 1, Max: 38, Mean: 20, StdDev: 3},
		{Substrate: "immunostimulatory factor", Total: 1, Max: 0.5, Mean: 0.01, StdDev: 0.02},
	}
	agents := []Agent{
		{ID: 2, Type: 0, Phase: "live", X: 1, Y: 2, Z: 3, Radius: 8, Active: true},
		{ID: 1, Type: 1, Phase: "necrotic", X: -1, Y: -2, Z: -3, Radius: 6},
	}
	for i, tm := range []float64{720, 0} {
		snap := Snapshot{RunID: runID, Time: tm, Cells: 2, Active: 1, Live: 1, Necrotic: 1, Divisions: i}
		_, err := db.RecordSnapshot(ctx, snap, stats, agents)
		require.NoError(t, err)
	}

	snaps, err := db.Snapshots(ctx, runID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 0.0, snaps[0].Time)
	assert.Equal(t, 720.0, snaps[1].Time)
	assert.Equal(t, 1, snaps[0].Divisions)

	gotStats, err := db.SubstrateStats(ctx, snaps[1].ID)
	require.NoError(t, err)
	sortStats := cmpopts.SortSlices(func(a, b SubstrateStat) bool { return a.Substrate < b.Substrate })
	if diff := cmp.Diff(stats, gotStats, sortStats); diff != "" {
		t.Errorf("substrate stats mismatch (-want +got):\n%s", diff)
	}

	gotAgents, err := db.Agents(ctx, snaps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, []Agent{agents[1], agents[0]}, gotAgents)
}

func TestRecordSnapshotUnknownRun(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.RecordSnapshot(context.Background(), Snapshot{RunID: "nope"}, nil, nil)
	assert.Error(t, err, "foreign key should reject unknown runs")
}

func TestAttachAdminRoutes(t *testing.T) {
	db := setupTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	// Debug routes may refuse non-local callers, but must be registered.
	for _, endpoint := range []string{"/debug/backup", "/debug/tailsql/"} {
		t.Run(endpoint, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, endpoint, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			assert.NotEqual(t, http.StatusNotFound, w.Code)
		})
	}
}

func TestServeBackup(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.CreateRun(context.Background(), 3, "dev", "")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	db.serveBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "backup-")
	require.Greater(t, w.Body.Len(), 16)
	assert.Equal(t, "SQLite format 3\x00", w.Body.String()[:16])
}
