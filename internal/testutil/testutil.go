// Package testutil provides shared test helpers and fixtures.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/banshee-data/oncosim/internal/geom"
	"github.com/banshee-data/oncosim/internal/monitoring"
	"github.com/banshee-data/oncosim/internal/store"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertVecNear checks each component of got against want within tol.
func AssertVecNear(t testing.TB, got, want geom.Vec, tol float64) {
	t.Helper()
	d := geom.Vec{X: got.X - want.X, Y: got.Y - want.Y, Z: got.Z - want.Z}
	if abs(d.X) > tol || abs(d.Y) > tol || abs(d.Z) > tol {
		t.Errorf("vector = %v, want %v (tol %g)", got, want, tol)
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// NewTempDB opens a migrated results database in a test temp dir and
// closes it when the test ends.
func NewTempDB(t testing.TB) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "oncosim.db"))
	if err != nil {
		t.Fatalf("open temp db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// MuteLogs silences monitoring output for the rest of the test.
func MuteLogs(t testing.TB) {
	t.Helper()
	old := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(old) })
}
