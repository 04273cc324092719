package cells

import (
	"math/rand/v2"
	"testing"

	"github.com/banshee-data/oncosim/internal/geom"
	"github.com/banshee-data/oncosim/internal/grid"
	"github.com/banshee-data/oncosim/internal/parallel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var noPeriod = geom.Vec{X: 1e9, Y: 1e9, Z: 1e9}

func TestPairVelocity_Symmetric(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	for i := 0; i < 100; i++ {
		a := NewCell(rng.IntN(2), geom.Vec{X: rng.Float64() * 20, Y: rng.Float64() * 20, Z: rng.Float64() * 20}, 5+rng.Float64()*5)
		b := NewCell(rng.IntN(2), geom.Vec{X: rng.Float64() * 20, Y: rng.Float64() * 20, Z: rng.Float64() * 20}, 5+rng.Float64()*5)
		b.Mechanics.RepulsionOther = 3
		ab, okAB := pairVelocity(a, b, noPeriod)
		ba, okBA := pairVelocity(b, a, noPeriod)
		require.Equal(t, okAB, okBA)
		assert.InDelta(t, ab.X, -ba.X, 1e-12)
		assert.InDelta(t, ab.Y, -ba.Y, 1e-12)
		assert.InDelta(t, ab.Z, -ba.Z, 1e-12)
	}
}

func TestPairVelocity_OverlappingCellsRepel(t *testing.T) {
	a := NewCell(0, geom.Vec{X: 0}, 8)
	b := NewCell(0, geom.Vec{X: 10}, 8)
	dv, ok := pairVelocity(a, b, noPeriod)
	require.True(t, ok)
	// rep = (1-10/16)^2 * 10, adh = (1-10/20)^2 * 0.4
	want := (0.140625*10 - 0.25*0.4) / 10 * -10
	assert.InDelta(t, want, dv.X, 1e-12)
	assert.Less(t, dv.X, 0.0, "a is pushed away from b")
	assert.Zero(t, dv.Y)
}

func TestPairVelocity_AdhesionOnlyAttracts(t *testing.T) {
	a := NewCell(0, geom.Vec{X: 0}, 8)
	b := NewCell(0, geom.Vec{X: 18}, 8)
	dv, ok := pairVelocity(a, b, noPeriod)
	require.True(t, ok)
	assert.Greater(t, dv.X, 0.0)

	_, ok = pairVelocity(a, NewCell(0, geom.Vec{X: 25}, 8), noPeriod)
	assert.False(t, ok, "beyond the adhesion range")
}

func TestPairVelocity_TypeSelectsCoefficients(t *testing.T) {
	a := NewCell(0, geom.Vec{}, 8)
	b := NewCell(1, geom.Vec{X: 10}, 8)
	a.Mechanics.RepulsionOther, b.Mechanics.RepulsionOther = 0, 0
	a.Mechanics.AdhesionOther, b.Mechanics.AdhesionOther = 0, 0
	_, ok := pairVelocity(a, b, noPeriod)
	assert.False(t, ok)

	b.Type = 0
	_, ok = pairVelocity(a, b, noPeriod)
	assert.True(t, ok)
}

func TestPairVelocity_CoincidentCellsDoNotBlowUp(t *testing.T) {
	a := NewCell(0, geom.Vec{X: 1, Y: 1, Z: 1}, 8)
	b := NewCell(0, geom.Vec{X: 1, Y: 1, Z: 1}, 8)
	dv, _ := pairVelocity(a, b, noPeriod)
	assert.False(t, r3.Norm(dv) != r3.Norm(dv), "NaN velocity")
	assert.Zero(t, r3.Norm(dv))
}

func TestMechanics_TwoCellsSeparate(t *testing.T) {
	c, _ := newTestContainer(t, grid.Periodicity{}, nil, nil)
	a := NewCell(0, geom.Vec{X: 45, Y: 50, Z: 50}, 8)
	b := NewCell(0, geom.Vec{X: 55, Y: 50, Z: 50}, 8)
	require.NoError(t, c.Register(a))
	require.NoError(t, c.Register(b))

	pairs := c.updateMechanics()
	assert.Equal(t, 1, pairs)
	rel := r3.Sub(b.Velocity(), a.Velocity())
	assert.Greater(t, rel.X, 0.0, "b moves away from a")
	assert.InDelta(t, a.Velocity().X, -b.Velocity().X, 1e-12)
}

func TestMechanics_VoxelSizeCoversInteractionRange(t *testing.T) {
	t.Run("too fine a grid is rejected", func(t *testing.T) {
		c, _ := newTestContainerSpacing(t, grid.Periodicity{}, nil, nil, 5)
		a := NewCell(0, geom.Vec{X: 44, Y: 50, Z: 50}, 8)
		err := c.Register(a)
		require.ErrorIs(t, err, ErrVoxelTooSmall)
		assert.Equal(t, 0, c.Len())
		assert.False(t, a.Registered())
	})

	t.Run("pair across adjacent voxels is found", func(t *testing.T) {
		c, _ := newTestContainerSpacing(t, grid.Periodicity{}, nil, nil, 20)
		a := NewCell(0, geom.Vec{X: 38, Y: 50, Z: 50}, 8)
		b := NewCell(0, geom.Vec{X: 50, Y: 50, Z: 50}, 8)
		require.NoError(t, c.Register(a))
		require.NoError(t, c.Register(b))
		require.NotEqual(t, a.Voxel(), b.Voxel())
		assert.Equal(t, 1, c.updateMechanics())
	})

	t.Run("single voxel axes do not constrain", func(t *testing.T) {
		b := grid.Bounds{Max: geom.Vec{X: 10, Y: 10, Z: 10}}
		g, err := grid.NewWithNodes(b, 1, 1, 1, grid.Periodicity{})
		require.NoError(t, err)
		c := NewContainer(g, nil, nil, nil)
		require.NoError(t, c.Register(NewCell(0, geom.Vec{X: 2, Y: 5, Z: 5}, 8)))
		require.NoError(t, c.Register(NewCell(0, geom.Vec{X: 8, Y: 5, Z: 5}, 8)))
		assert.Equal(t, 1, c.updateMechanics())
	})
}

func TestMechanics_InteractsAcrossPeriodicBoundary(t *testing.T) {
	c, _ := newTestContainer(t, grid.Periodicity{X: true}, nil, nil)
	a := NewCell(0, geom.Vec{X: 2, Y: 50, Z: 50}, 8)
	b := NewCell(0, geom.Vec{X: 96, Y: 50, Z: 50}, 8)
	require.NoError(t, c.Register(a))
	require.NoError(t, c.Register(b))

	require.Equal(t, 1, c.updateMechanics())
	assert.Greater(t, a.Velocity().X, 0.0)
	assert.Less(t, b.Velocity().X, 0.0)
}

func randomCells(rng *rand.Rand, n int, rmin, rmax float64) []*Cell {
	out := make([]*Cell, n)
	for i := range out {
		p := geom.Vec{X: rng.Float64() * 100, Y: rng.Float64() * 100, Z: rng.Float64() * 100}
		out[i] = NewCell(rng.IntN(2), p, rmin+rng.Float64()*(rmax-rmin))
	}
	return out
}

func TestMechanics_MatchesBruteForce(t *testing.T) {
	for _, p := range []grid.Periodicity{{}, {X: true, Z: true}} {
		t.Run(p.String(), func(t *testing.T) {
			c, _ := newTestContainerSpacing(t, p, parallel.New(4), nil, 10)
			rng := rand.New(rand.NewPCG(21, 22))
			cells := randomCells(rng, 3000, 2, 4)
			for _, cell := range cells {
				require.NoError(t, c.Register(cell))
			}
			c.updateMechanics()

			// Max interaction distance is 1.25*(4+4) = 10, the mechanics
			// voxel size, so every interacting pair is in adjacent voxels.
			period := noPeriod
			if p.X {
				period.X = 100
			}
			if p.Z {
				period.Z = 100
			}
			want := make([]geom.Vec, len(cells))
			for i := range cells {
				for j := i + 1; j < len(cells); j++ {
					dv, ok := pairVelocity(cells[i], cells[j], period)
					if !ok {
						continue
					}
					want[i] = r3.Add(want[i], dv)
					want[j] = r3.Sub(want[j], dv)
				}
			}
			for i, cell := range cells {
				got := cell.Velocity()
				assert.InDelta(t, want[i].X, got.X, 1e-9, "cell %d", i)
				assert.InDelta(t, want[i].Y, got.Y, 1e-9, "cell %d", i)
				assert.InDelta(t, want[i].Z, got.Z, 1e-9, "cell %d", i)
			}
		})
	}
}

func TestMechanics_ParallelMatchesSerial(t *testing.T) {
	build := func(pool *parallel.Pool) []*Cell {
		c, _ := newTestContainerSpacing(t, grid.Periodicity{Y: true}, pool, nil, 10)
		rng := rand.New(rand.NewPCG(8, 9))
		cells := randomCells(rng, 2000, 2, 4)
		for _, cell := range cells {
			require.NoError(t, c.Register(cell))
		}
		c.updateMechanics()
		c.updateMechanics()
		return cells
	}
	serial := build(parallel.Serial)
	par := build(parallel.New(8))
	for i := range serial {
		assert.InDelta(t, serial[i].Velocity().X, par[i].Velocity().X, 1e-9)
		assert.InDelta(t, serial[i].Velocity().Y, par[i].Velocity().Y, 1e-9)
		assert.InDelta(t, serial[i].Velocity().Z, par[i].Velocity().Z, 1e-9)
	}
}

func TestMechanics_InactiveCellsExcluded(t *testing.T) {
	c, _ := newTestContainer(t, grid.Periodicity{}, nil, nil)
	a := NewCell(0, geom.Vec{X: 1, Y: 50, Z: 50}, 8)
	out := NewCell(0, geom.Vec{X: -3, Y: 50, Z: 50}, 8)
	require.NoError(t, c.Register(a))
	require.NoError(t, c.Register(out))
	assert.Equal(t, 0, c.updateMechanics())
	assert.Equal(t, geom.Vec{}, a.Velocity())
}

func TestIntegratePositions_AdamsBashforth(t *testing.T) {
	c, _ := newTestContainer(t, grid.Periodicity{}, nil, nil)
	cell := NewCell(0, geom.Vec{X: 50, Y: 50, Z: 50}, 8)
	require.NoError(t, c.Register(cell))

	cell.AddVelocity(geom.Vec{X: 2})
	c.integratePositions(0.1)
	assert.InDelta(t, 50+1.5*0.1*2, cell.Position.X, 1e-12)
	assert.Equal(t, geom.Vec{X: 2}, cell.PreviousVelocity())
	assert.Equal(t, geom.Vec{}, cell.Velocity())

	cell.AddVelocity(geom.Vec{X: 4})
	c.integratePositions(0.1)
	assert.InDelta(t, 50.3+0.1*(1.5*4-0.5*2), cell.Position.X, 1e-12)
}

func TestIntegratePositions_WrapsAndDeactivates(t *testing.T) {
	c, _ := newTestContainer(t, grid.Periodicity{X: true}, nil, nil)
	wrap := NewCell(0, geom.Vec{X: 99, Y: 50, Z: 50}, 8)
	leave := NewCell(0, geom.Vec{X: 50, Y: 99, Z: 50}, 8)
	require.NoError(t, c.Register(wrap))
	require.NoError(t, c.Register(leave))

	wrap.AddVelocity(geom.Vec{X: 20})
	leave.AddVelocity(geom.Vec{Y: 20})
	c.integratePositions(0.1)

	assert.InDelta(t, 2.0, wrap.Position.X, 1e-9)
	assert.True(t, wrap.Active())
	assert.Equal(t, c.Grid().NearestVoxel(wrap.Position), wrap.Voxel())

	assert.False(t, leave.Active())
	assert.Equal(t, -1, leave.Voxel())
	assert.Equal(t, 2, c.Len(), "never removed implicitly")
}
