package microenv

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/oncosim/internal/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

// denseSystem builds the full matrix newLineSystem factorises.
func denseSystem(n int, c1, c2 float64, periodic bool) [][]float64 {
	a := make([][]float64, n)
	for i := range a {
		a[i] = make([]float64, n)
		a[i][i] = 1 + c2
	}
	link := func(i, j int) {
		a[i][i] += c1
		a[i][j] -= c1
	}
	for i := 0; i < n; i++ {
		for _, d := range []int{-1, 1} {
			j := i + d
			if periodic {
				j = (j + n) % n
			} else if j < 0 || j >= n {
				continue
			}
			if j == i {
				continue
			}
			link(i, j)
		}
	}
	return a
}

func gaussSolve(a [][]float64, b []float64) []float64 {
	n := len(b)
	m := make([][]float64, n)
	for i := range a {
		m[i] = append(append([]float64(nil), a[i]...), b[i])
	}
	for c := 0; c < n; c++ {
		p := c
		for r := c + 1; r < n; r++ {
			if math.Abs(m[r][c]) > math.Abs(m[p][c]) {
				p = r
			}
		}
		m[c], m[p] = m[p], m[c]
		for r := c + 1; r < n; r++ {
			f := m[r][c] / m[c][c]
			for k := c; k <= n; k++ {
				m[r][k] -= f * m[c][k]
			}
		}
	}
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		s := m[i][n]
		for k := i + 1; k < n; k++ {
			s -= m[i][k] * x[k]
		}
		x[i] = s / m[i][i]
	}
	return x
}

func TestLineSystem_MatchesDenseSolve(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 9))
	for _, periodic := range []bool{false, true} {
		for _, n := range []int{1, 2, 3, 4, 9} {
			t.Run(fmt.Sprintf("periodic=%v/n=%d", periodic, n), func(t *testing.T) {
				c1, c2 := 2.5, 0.01
				ls := newLineSystem(n, c1, c2, periodic)
				rhs := make([]float64, n)
				for i := range rhs {
					rhs[i] = rng.Float64() * 10
				}
				want := gaussSolve(denseSystem(n, c1, c2, periodic), rhs)

				// Solve strided inside a larger buffer to exercise the indexing.
				const stride, offset = 3, 1
				buf := make([]float64, offset+n*stride)
				for i, v := range rhs {
					buf[offset+i*stride] = v
				}
				ls.solve(buf, offset, stride)
				for i := range want {
					assert.InDelta(t, want[i], buf[offset+i*stride], 1e-10, "element %d", i)
				}
			})
		}
	}
}

func TestAdvance_SingleVoxelDecay(t *testing.T) {
	sub := Substrate{Name: "s", DiffusionCoefficient: 1000, DecayRate: 0.1, InitialCondition: 10}
	m := newEnv(t, 1, 1, 1, 20, grid.Periodicity{}, sub)
	const dt, steps = 0.01, 100
	for i := 0; i < steps; i++ {
		require.NoError(t, m.Advance(dt))
	}
	want := 10 * math.Exp(-sub.DecayRate*dt*steps)
	assert.InDelta(t, want, m.Density(0, 0), want*1e-4)
}

func TestAdvance_DecayIndependentOfActiveAxes(t *testing.T) {
	sub := Substrate{Name: "s", DiffusionCoefficient: 500, DecayRate: 0.3, InitialCondition: 7}
	shapes := [][3]int{{1, 1, 1}, {5, 1, 1}, {5, 4, 1}, {5, 4, 3}}
	var results []float64
	for _, sh := range shapes {
		m := newEnv(t, sh[0], sh[1], sh[2], 10, grid.Periodicity{}, sub)
		for i := 0; i < 50; i++ {
			require.NoError(t, m.Advance(0.05))
		}
		col := m.Column(0, nil)
		assert.InDelta(t, floats.Min(col), floats.Max(col), 1e-10, "uniform field stays uniform for %v", sh)
		results = append(results, col[0])
	}
	for _, r := range results[1:] {
		assert.InDelta(t, results[0], r, 1e-10)
	}
	assert.InDelta(t, 7*math.Exp(-0.3*2.5), results[0], 2e-2)
}

func TestAdvance_ConservesMassWithoutDecay(t *testing.T) {
	for _, p := range []grid.Periodicity{{}, {X: true}, {X: true, Y: true, Z: true}} {
		t.Run(p.String(), func(t *testing.T) {
			sub := Substrate{Name: "tracer", DiffusionCoefficient: 800}
			m := newEnv(t, 6, 5, 4, 10, p, sub)
			rng := rand.New(rand.NewPCG(11, 12))
			for n := 0; n < m.Grid().Len(); n++ {
				m.SetDensity(n, 0, rng.Float64()*100)
			}
			before := floats.Sum(m.Column(0, nil))
			for i := 0; i < 20; i++ {
				require.NoError(t, m.Advance(0.1))
			}
			after := m.Column(0, nil)
			assert.InDelta(t, before, floats.Sum(after), before*1e-10)
			assert.Less(t, floats.Max(after)-floats.Min(after), 100.0)
		})
	}
}

func TestAdvance_PeriodicSpreadsAcrossWrap(t *testing.T) {
	sub := Substrate{Name: "tracer", DiffusionCoefficient: 100}
	m := newEnv(t, 8, 1, 1, 10, grid.Periodicity{X: true}, sub)
	m.SetDensity(0, 0, 100)
	require.NoError(t, m.Advance(0.1))
	g := m.Grid()
	left := m.Density(g.Linear(7, 0, 0), 0)
	right := m.Density(g.Linear(1, 0, 0), 0)
	assert.Greater(t, left, 0.0)
	assert.InDelta(t, right, left, 1e-9)
}

func TestAdvance_StaleCoefficients(t *testing.T) {
	m := newEnv(t, 3, 3, 3, 10, grid.Periodicity{}, oxygen)
	require.NoError(t, m.Advance(0.01))
	require.NotNil(t, m.Solver())
	assert.Equal(t, 0.01, m.Solver().DT())

	before := m.Column(0, nil)
	err := m.Advance(0.02)
	assert.ErrorIs(t, err, ErrStaleCoefficients)
	assert.Equal(t, before, m.Column(0, nil), "field untouched on error")

	m.Invalidate()
	require.NoError(t, m.Advance(0.02))
	assert.Equal(t, 0.02, m.Solver().DT())

	t.Run("grid changed behind the solver", func(t *testing.T) {
		g := m.Grid()
		g.BuildExtendedAdjacency(grid.Periodicity{X: true})
		assert.ErrorIs(t, m.Advance(0.02), ErrStaleCoefficients)
		g.BuildExtendedAdjacency(grid.Periodicity{})
		assert.NoError(t, m.Advance(0.02))
	})

	t.Run("adding a substrate invalidates", func(t *testing.T) {
		_, err := m.AddSubstrate(Substrate{Name: "ifn", DiffusionCoefficient: 1000, DecayRate: 0.016})
		require.NoError(t, err)
		assert.Nil(t, m.Solver())
		assert.NoError(t, m.Advance(0.05))
	})

	assert.Error(t, m.Advance(0))
	assert.Error(t, m.Advance(math.NaN()))
}

func TestAdvance_NoSubstratesIsNoop(t *testing.T) {
	m := newEnv(t, 2, 2, 2, 10, grid.Periodicity{})
	assert.NoError(t, m.Advance(0.01))
	assert.Nil(t, m.Solver())
}

func TestAdvance_BoundaryFedCubeApproachesDirichletValue(t *testing.T) {
	if testing.Short() {
		t.Skip("long-running convergence scenario")
	}
	sub := Substrate{Name: "oxygen", DiffusionCoefficient: 1e5, DecayRate: 0.1}
	m := newEnv(t, 10, 10, 10, 20, grid.Periodicity{}, sub)
	require.NoError(t, m.SetFaceDirichlet(0, grid.AllFaces, 38))

	center := m.Grid().Linear(5, 5, 5)
	prev := m.Density(center, 0)
	require.Equal(t, 0.0, prev)
	for step := 0; step < 5000; step++ {
		require.NoError(t, m.Advance(0.01))
		c := m.Density(center, 0)
		require.GreaterOrEqual(t, c, prev-1e-9, "center must rise monotonically (step %d)", step)
		prev = c
		if step%500 == 0 {
			col := m.Column(0, nil)
			require.GreaterOrEqual(t, floats.Min(col), -1e-9)
			require.LessOrEqual(t, floats.Max(col), 38+1e-9)
		}
	}
	col := m.Column(0, nil)
	assert.GreaterOrEqual(t, floats.Min(col), -1e-9)
	assert.LessOrEqual(t, floats.Max(col), 38+1e-9)
	assert.Greater(t, prev, 0.9*38)
	assert.LessOrEqual(t, prev, 38.0)
}
