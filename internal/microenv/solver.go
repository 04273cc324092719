package microenv

import (
	"fmt"
	"math"

	"github.com/banshee-data/oncosim/internal/geom"
	"github.com/banshee-data/oncosim/internal/grid"
	"github.com/banshee-data/oncosim/internal/monitoring"
)

// SolverState caches the forward-elimination coefficients of the
// tridiagonal systems solved along each axis. The coefficients depend on
// dt, the grid spacing and dimensions, the periodic flags and each
// substrate's diffusion coefficient and decay rate, never on densities.
type SolverState struct {
	dt       float64
	spacing  geom.Vec
	dims     [3]int
	periodic grid.Periodicity
	params   [][2]float64 // {D, decay} per substrate

	// lines[axis][substrate]
	lines [3][]lineSystem
}

// DT returns the time step the coefficients were built for.
func (st *SolverState) DT() float64 { return st.dt }

// lineSystem is a factored tridiagonal matrix with a constant
// off-diagonal. Zero-flux lines use the plain Thomas factorisation;
// periodic lines of three or more voxels add a Sherman-Morrison
// correction for the two corner entries.
type lineSystem struct {
	off   float64
	denom []float64
	cp    []float64

	cyclic bool
	corner float64   // value of A[0][n-1] and A[n-1][0]
	gamma  float64   // -diag[0]
	z      []float64 // solution of T z = u, u = (gamma, 0, ..., 0, corner)
	zDen   float64   // 1 + z[0] + corner*z[n-1]/gamma
}

// newLineSystem builds the implicit diffusion-decay system for one axis
// of length n with c1 = D*dt/h^2 and c2 = decay*dt/3.
func newLineSystem(n int, c1, c2 float64, periodic bool) lineSystem {
	diag := make([]float64, n)
	switch {
	case n == 1:
		// No neighbours: only the decay third remains.
		diag[0] = 1 + c2
		return factor(diag, 0)
	case periodic && n == 2:
		// Both neighbours of each voxel are the other voxel.
		diag[0], diag[1] = 1+2*c1+c2, 1+2*c1+c2
		return factor(diag, -2*c1)
	case periodic:
		for i := range diag {
			diag[i] = 1 + 2*c1 + c2
		}
		return factorCyclic(diag, -c1, -c1)
	default:
		for i := range diag {
			diag[i] = 1 + 2*c1 + c2
		}
		// Zero flux through the domain ends.
		diag[0] = 1 + c1 + c2
		diag[n-1] = 1 + c1 + c2
		return factor(diag, -c1)
	}
}

func factor(diag []float64, off float64) lineSystem {
	n := len(diag)
	ls := lineSystem{off: off, denom: make([]float64, n), cp: make([]float64, n)}
	ls.denom[0] = diag[0]
	ls.cp[0] = off / ls.denom[0]
	for i := 1; i < n; i++ {
		ls.denom[i] = diag[i] - off*ls.cp[i-1]
		ls.cp[i] = off / ls.denom[i]
	}
	return ls
}

func factorCyclic(diag []float64, off, corner float64) lineSystem {
	n := len(diag)
	gamma := -diag[0]
	mod := append([]float64(nil), diag...)
	mod[0] = diag[0] - gamma
	mod[n-1] = diag[n-1] - corner*corner/gamma

	ls := factor(mod, off)
	ls.cyclic = true
	ls.corner = corner
	ls.gamma = gamma

	ls.z = make([]float64, n)
	ls.z[0] = gamma
	ls.z[n-1] = corner
	ls.solveThomas(ls.z, 0, 1)
	ls.zDen = 1 + ls.z[0] + corner*ls.z[n-1]/gamma
	return ls
}

// solve overwrites x[start + i*stride] for i in [0, n) with the solution
// of A y = x.
func (ls *lineSystem) solve(x []float64, start, stride int) {
	ls.solveThomas(x, start, stride)
	if !ls.cyclic {
		return
	}
	n := len(ls.denom)
	last := start + (n-1)*stride
	fact := (x[start] + ls.corner*x[last]/ls.gamma) / ls.zDen
	for i, idx := 0, start; i < n; i, idx = i+1, idx+stride {
		x[idx] -= fact * ls.z[i]
	}
}

func (ls *lineSystem) solveThomas(x []float64, start, stride int) {
	n := len(ls.denom)
	x[start] /= ls.denom[0]
	prev := start
	for i := 1; i < n; i++ {
		idx := prev + stride
		x[idx] = (x[idx] - ls.off*x[prev]) / ls.denom[i]
		prev = idx
	}
	for i := n - 2; i >= 0; i-- {
		idx := prev - stride
		x[idx] -= ls.cp[i] * x[prev]
		prev = idx
	}
}

// Invalidate drops the cached solver coefficients. The next Advance
// rebuilds them for its dt.
func (m *Microenvironment) Invalidate() {
	m.solver = nil
}

// Solver returns the cached solver state, or nil before the first Advance
// or after Invalidate.
func (m *Microenvironment) Solver() *SolverState { return m.solver }

func (m *Microenvironment) buildSolver(dt float64) *SolverState {
	st := &SolverState{
		dt:       dt,
		spacing:  m.grid.Spacing(),
		periodic: m.grid.Periodicity(),
		params:   make([][2]float64, len(m.substrates)),
	}
	nx, ny, nz := m.grid.Dims()
	st.dims = [3]int{nx, ny, nz}
	for s, sub := range m.substrates {
		st.params[s] = [2]float64{sub.DiffusionCoefficient, sub.DecayRate}
	}
	for axis := 0; axis < 3; axis++ {
		h := geom.Component(st.spacing, axis)
		st.lines[axis] = make([]lineSystem, len(m.substrates))
		for s, sub := range m.substrates {
			c1 := sub.DiffusionCoefficient * dt / (h * h)
			c2 := sub.DecayRate * dt / 3
			st.lines[axis][s] = newLineSystem(st.dims[axis], c1, c2, st.periodic.Axis(axis))
		}
	}
	monitoring.Debugf("solver coefficients built: dt=%g substrates=%d", dt, len(m.substrates))
	return st
}

// mismatch reports why the cached state cannot be used, or "" if it can.
func (st *SolverState) mismatch(m *Microenvironment, dt float64) string {
	if st.dt != dt {
		return fmt.Sprintf("dt changed from %g to %g", st.dt, dt)
	}
	nx, ny, nz := m.grid.Dims()
	if st.dims != [3]int{nx, ny, nz} || st.spacing != m.grid.Spacing() || st.periodic != m.grid.Periodicity() {
		return "grid changed"
	}
	if len(st.params) != len(m.substrates) {
		return "substrate set changed"
	}
	for s, sub := range m.substrates {
		if st.params[s] != [2]float64{sub.DiffusionCoefficient, sub.DecayRate} {
			return fmt.Sprintf("substrate %q coefficients changed", sub.Name)
		}
	}
	return ""
}

// Advance moves every substrate forward by dt: Dirichlet values are
// imposed, then an implicit x sweep, y sweep and z sweep run in turn, each
// followed by Dirichlet re-imposition. Each sweep carries one third of
// the decay. Gradients are invalidated.
//
// The first call caches the coefficients for dt. Calling Advance with a
// different dt, or after the grid or substrate coefficients changed
// outside this type's API, returns ErrStaleCoefficients without touching
// the field; Invalidate first to change dt.
func (m *Microenvironment) Advance(dt float64) error {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return fmt.Errorf("advance: dt must be positive, got %g", dt)
	}
	if len(m.substrates) == 0 {
		return nil
	}
	if m.solver == nil {
		m.solver = m.buildSolver(dt)
	} else if why := m.solver.mismatch(m, dt); why != "" {
		return fmt.Errorf("%w: %s", ErrStaleCoefficients, why)
	}

	m.ApplyDirichlet()
	for axis := 0; axis < 3; axis++ {
		m.sweep(axis)
		m.ApplyDirichlet()
	}
	m.invalidateGradients()
	return nil
}

// sweep solves every grid line along axis for every substrate. Lines are
// disjoint so they run in parallel.
func (m *Microenvironment) sweep(axis int) {
	nx, ny, nz := m.grid.Dims()
	S := len(m.substrates)
	systems := m.solver.lines[axis]

	var lines, stride int
	var base func(l int) int
	switch axis {
	case 0:
		lines, stride = ny*nz, 1
		base = func(l int) int { return l * nx }
	case 1:
		lines, stride = nx*nz, nx
		base = func(l int) int {
			k, i := l/nx, l%nx
			return k*nx*ny + i
		}
	default:
		lines, stride = nx*ny, nx*ny
		base = func(l int) int { return l }
	}

	m.pool.For(lines, func(lo, hi int) {
		for l := lo; l < hi; l++ {
			start := base(l) * S
			for s := 0; s < S; s++ {
				systems[s].solve(m.density, start+s, stride*S)
			}
		}
	})
}
