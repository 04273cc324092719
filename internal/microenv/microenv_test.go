package microenv

import (
	"errors"
	"testing"

	"github.com/banshee-data/oncosim/internal/geom"
	"github.com/banshee-data/oncosim/internal/grid"
	"github.com/banshee-data/oncosim/internal/monitoring"
	"github.com/banshee-data/oncosim/internal/parallel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	monitoring.SetLogger(nil)
}

var oxygen = Substrate{Name: "oxygen", Units: "mmHg", DiffusionCoefficient: 1e5, DecayRate: 0.1, InitialCondition: 38}

func newEnv(t *testing.T, nx, ny, nz int, h float64, p grid.Periodicity, subs ...Substrate) *Microenvironment {
	t.Helper()
	b := grid.Bounds{Max: geom.Vec{X: float64(nx) * h, Y: float64(ny) * h, Z: float64(nz) * h}}
	g, err := grid.NewWithNodes(b, nx, ny, nz, p)
	require.NoError(t, err)
	m := New(g, parallel.New(4))
	for _, s := range subs {
		_, err := m.AddSubstrate(s)
		require.NoError(t, err)
	}
	return m
}

func TestAddSubstrate(t *testing.T) {
	m := newEnv(t, 3, 3, 3, 10, grid.Periodicity{})

	idx, err := m.AddSubstrate(oxygen)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	m.SetDensity(4, 0, 12.5)
	require.NoError(t, m.AddDirichletNode(7, []float64{20}))

	idx, err = m.AddSubstrate(Substrate{Name: "ifn", DiffusionCoefficient: 1000, DecayRate: 0.016, InitialCondition: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 2, m.NumSubstrates())

	for n := 0; n < m.Grid().Len(); n++ {
		require.Len(t, m.Densities(n), 2)
		assert.Equal(t, 1.0, m.Density(n, 1))
	}
	assert.Equal(t, 12.5, m.Density(4, 0), "existing densities survive")
	v, active := m.DirichletValue(7, 0)
	assert.Equal(t, 20.0, v)
	assert.True(t, active, "default activation is on")
	_, active = m.DirichletValue(7, 1)
	assert.False(t, active, "nodes that predate a substrate leave it free")

	t.Run("rejects duplicates atomically", func(t *testing.T) {
		_, err := m.AddSubstrate(Substrate{Name: "oxygen"})
		assert.ErrorIs(t, err, ErrInvalidSubstrate)
		assert.Equal(t, 2, m.NumSubstrates())
		assert.Len(t, m.Densities(0), 2)
	})
	t.Run("rejects negative coefficients", func(t *testing.T) {
		_, err := m.AddSubstrate(Substrate{Name: "bad", DecayRate: -1})
		assert.ErrorIs(t, err, ErrInvalidSubstrate)
	})

	i, err := m.FindSubstrate("ifn")
	require.NoError(t, err)
	assert.Equal(t, 1, i)
	_, err = m.FindSubstrate("glucose")
	assert.ErrorIs(t, err, ErrUnknownSubstrate)
}

func TestDensitiesAliasField(t *testing.T) {
	m := newEnv(t, 2, 2, 2, 10, grid.Periodicity{}, oxygen)
	d := m.Densities(3)
	d[0] = 99
	assert.Equal(t, 99.0, m.Density(3, 0))
	assert.Equal(t, 1, cap(d), "view must not expose the next voxel")
}

func TestResizeGrid(t *testing.T) {
	m := newEnv(t, 4, 4, 4, 10, grid.Periodicity{}, oxygen)
	require.NoError(t, m.SetFaceDirichlet(0, grid.AllFaces, 38))
	require.NoError(t, m.Advance(0.01))
	require.NotNil(t, m.Solver())

	b := grid.Bounds{Max: geom.Vec{X: 40, Y: 40, Z: 40}}
	require.NoError(t, m.ResizeGrid(b, geom.Vec{X: 20, Y: 20, Z: 20}))
	assert.Equal(t, 8, m.Grid().Len())
	assert.Nil(t, m.Solver())
	assert.Empty(t, m.DirichletNodes())
	for n := 0; n < 8; n++ {
		assert.Equal(t, []float64{38}, m.Densities(n))
		assert.False(t, m.Grid().IsDirichlet(n))
	}
	require.NoError(t, m.Advance(0.01))

	err := m.ResizeGrid(b, geom.Vec{X: 0, Y: 20, Z: 20})
	assert.True(t, errors.Is(err, grid.ErrInvalidSpacing))
	assert.Equal(t, 8, m.Grid().Len())
	assert.NotNil(t, m.Solver(), "failed resize keeps the cache")
}

func TestFill(t *testing.T) {
	m := newEnv(t, 3, 1, 1, 10, grid.Periodicity{}, oxygen, Substrate{Name: "x"})
	require.NoError(t, m.Fill(1, 5))
	for n := 0; n < 3; n++ {
		assert.Equal(t, []float64{38, 5}, m.Densities(n))
	}
	assert.ErrorIs(t, m.Fill(2, 1), ErrUnknownSubstrate)
}

func TestStats(t *testing.T) {
	m := newEnv(t, 2, 2, 1, 10, grid.Periodicity{}, Substrate{Name: "a"})
	for n, v := range []float64{1, 2, 3, 6} {
		m.SetDensity(n, 0, v)
	}
	fs, err := m.Stats(0)
	require.NoError(t, err)
	assert.Equal(t, "a", fs.Substrate)
	assert.InDelta(t, 12*1000.0, fs.Total, 1e-9)
	assert.Equal(t, 1.0, fs.Min)
	assert.Equal(t, 6.0, fs.Max)
	assert.InDelta(t, 3.0, fs.Mean, 1e-12)
	assert.Greater(t, fs.StdDev, 0.0)

	_, err = m.Stats(3)
	assert.ErrorIs(t, err, ErrUnknownSubstrate)
	assert.Len(t, m.AllStats(), 1)
}

func TestSubstrateLengthScale(t *testing.T) {
	assert.InDelta(t, 1000.0, oxygen.LengthScale(), 1e-9)
	assert.True(t, Substrate{Name: "inert", DiffusionCoefficient: 1}.LengthScale() > 1e300)
}
