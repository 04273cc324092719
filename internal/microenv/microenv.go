// Package microenv holds the continuous microenvironment: one density
// vector per voxel (one entry per registered substrate) advanced by a
// locally-one-dimensional implicit diffusion-decay solver, with Dirichlet
// source nodes and lazily computed gradients.
package microenv

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/oncosim/internal/geom"
	"github.com/banshee-data/oncosim/internal/grid"
	"github.com/banshee-data/oncosim/internal/monitoring"
	"github.com/banshee-data/oncosim/internal/parallel"
)

var (
	// ErrStaleCoefficients is returned by Advance when the cached solver
	// coefficients no longer match the time step, grid or substrate set.
	// Call Invalidate before changing dt.
	ErrStaleCoefficients = errors.New("microenv: stale solver coefficients")
	// ErrUnknownSubstrate is returned for an out-of-range substrate index
	// or unknown name.
	ErrUnknownSubstrate = errors.New("microenv: unknown substrate")
	// ErrVectorLength is returned when a per-substrate vector does not
	// have one entry per registered substrate.
	ErrVectorLength = errors.New("microenv: vector length does not match substrate count")
	// ErrVoxelRange is returned for a voxel index outside the grid.
	ErrVoxelRange = errors.New("microenv: voxel index out of range")
	// ErrInvalidSubstrate is returned when registering a substrate with a
	// blank or duplicate name or negative coefficients.
	ErrInvalidSubstrate = errors.New("microenv: invalid substrate")
	// ErrPeriodicFace is returned when Dirichlet faces are requested on a
	// periodic axis, which has no boundary.
	ErrPeriodicFace = errors.New("microenv: dirichlet face on periodic axis")
)

// Microenvironment owns the density field of every substrate on a grid.
//
// Densities are stored voxel-major: substrate s of voxel n lives at
// n*S+s where S is the substrate count. Every per-voxel vector (density,
// Dirichlet value, Dirichlet activation, gradient) uses that layout and is
// resized together when a substrate is added or the grid changes.
type Microenvironment struct {
	grid *grid.Grid
	pool *parallel.Pool

	substrates []Substrate
	density    []float64

	// Dirichlet state. nodes lists the flagged voxels in ascending order.
	dirichletValue  []float64
	dirichletActive []bool
	defaultActive   []bool
	nodes           []int

	// gradMu serialises lazy gradient fills; ComputeAllGradients holds it
	// for the whole parallel pass.
	gradMu    sync.Mutex
	gradient  []geom.Vec
	gradReady []bool

	solver *SolverState
}

// New creates an empty microenvironment on g. A nil pool runs serially.
func New(g *grid.Grid, pool *parallel.Pool) *Microenvironment {
	if pool == nil {
		pool = parallel.Serial
	}
	m := &Microenvironment{grid: g, pool: pool}
	m.gradReady = make([]bool, g.Len())
	return m
}

// Grid returns the underlying grid.
func (m *Microenvironment) Grid() *grid.Grid { return m.grid }

// VoxelVolume returns the volume of one voxel.
func (m *Microenvironment) VoxelVolume() float64 { return m.grid.VoxelVolume() }

// NumSubstrates returns the number of registered substrates.
func (m *Microenvironment) NumSubstrates() int { return len(m.substrates) }

// NearestVoxel maps a position to its voxel on this grid.
func (m *Microenvironment) NearestVoxel(p geom.Vec) int { return m.grid.NearestVoxel(p) }

// Densities returns the density vector of voxel n. The returned slice
// aliases the field: writes through it change the stored densities.
func (m *Microenvironment) Densities(n int) []float64 {
	s := len(m.substrates)
	return m.density[n*s : (n+1)*s : (n+1)*s]
}

// Density returns substrate s at voxel n.
func (m *Microenvironment) Density(n, s int) float64 {
	return m.density[n*len(m.substrates)+s]
}

// SetDensity overwrites substrate s at voxel n.
func (m *Microenvironment) SetDensity(n, s int, v float64) {
	m.density[n*len(m.substrates)+s] = v
}

// Fill sets substrate s to v in every voxel.
func (m *Microenvironment) Fill(s int, v float64) error {
	if err := m.checkSubstrate(s); err != nil {
		return err
	}
	stride := len(m.substrates)
	for i := s; i < len(m.density); i += stride {
		m.density[i] = v
	}
	m.invalidateGradients()
	return nil
}

// ResizeGrid rebuilds the grid with new bounds and spacing and resets
// every dependent structure: densities return to their initial
// conditions, Dirichlet nodes are dropped and the solver cache is
// invalidated. On error nothing changes.
func (m *Microenvironment) ResizeGrid(b grid.Bounds, spacing geom.Vec) error {
	next, err := grid.NewWithSpacing(b, spacing, m.grid.Periodicity())
	if err != nil {
		return fmt.Errorf("resize microenvironment grid: %w", err)
	}
	n := next.Len()
	s := len(m.substrates)
	density := make([]float64, n*s)
	for v := 0; v < n; v++ {
		for i, sub := range m.substrates {
			density[v*s+i] = sub.InitialCondition
		}
	}

	*m.grid = *next
	m.density = density
	m.dirichletValue = make([]float64, n*s)
	m.dirichletActive = make([]bool, n*s)
	m.nodes = nil
	m.gradient = make([]geom.Vec, n*s)
	m.gradReady = make([]bool, n)
	m.Invalidate()

	nx, ny, nz := next.Dims()
	monitoring.Logf("microenvironment resized to %dx%dx%d voxels", nx, ny, nz)
	return nil
}

func (m *Microenvironment) checkSubstrate(s int) error {
	if s < 0 || s >= len(m.substrates) {
		return fmt.Errorf("%w: index %d (have %d)", ErrUnknownSubstrate, s, len(m.substrates))
	}
	return nil
}

func (m *Microenvironment) checkVoxel(n int) error {
	if !m.grid.Valid(n) {
		return fmt.Errorf("%w: %d (have %d)", ErrVoxelRange, n, m.grid.Len())
	}
	return nil
}

// LogSummary writes the substrate table and grid geometry to the
// diagnostic logger.
func (m *Microenvironment) LogSummary() {
	nx, ny, nz := m.grid.Dims()
	sp := m.grid.Spacing()
	monitoring.Logf("microenvironment: %dx%dx%d voxels, spacing %gx%gx%g, periodic=%s",
		nx, ny, nz, sp.X, sp.Y, sp.Z, m.grid.Periodicity())
	for i, sub := range m.substrates {
		monitoring.Logf("  substrate %d %q (%s): D=%g decay=%g length scale=%g dirichlet=%v",
			i, sub.Name, sub.Units, sub.DiffusionCoefficient, sub.DecayRate,
			sub.LengthScale(), m.defaultActive[i])
	}
}
