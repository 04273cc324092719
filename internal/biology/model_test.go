package biology

import (
	"math"
	"testing"

	"github.com/banshee-data/oncosim/internal/cells"
	"github.com/banshee-data/oncosim/internal/config"
	"github.com/banshee-data/oncosim/internal/geom"
	"github.com/banshee-data/oncosim/internal/grid"
	"github.com/banshee-data/oncosim/internal/microenv"
	"github.com/banshee-data/oncosim/internal/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func init() { monitoring.SetLogger(nil) }

// testWorld is a 200^3 box with oxygen and the immune signal on a 20-unit
// grid, and a container on a 40-unit grid.
func testWorld(t *testing.T, rates config.BiologyRates, oxygen float64) (*Model, *cells.Container, *microenv.Microenvironment) {
	t.Helper()
	b := grid.Bounds{Max: geom.Vec{X: 200, Y: 200, Z: 200}}
	eg, err := grid.NewWithSpacing(b, geom.Vec{X: 20, Y: 20, Z: 20}, grid.Periodicity{})
	require.NoError(t, err)
	env := microenv.New(eg, nil)
	o2, err := env.AddSubstrate(microenv.Substrate{Name: "oxygen", DiffusionCoefficient: 1e5, DecayRate: 0.1, InitialCondition: oxygen})
	require.NoError(t, err)
	sig, err := env.AddSubstrate(microenv.Substrate{Name: "immunostimulatory factor", DiffusionCoefficient: 1000, DecayRate: 0.016})
	require.NoError(t, err)

	m := New(Params{
		Rates:       rates,
		Oxygen:      o2,
		Signal:      sig,
		Substrates:  2,
		CellRadius:  8,
		ImmuneSpeed: 4,
		KillRate:    1e6,
	}, 7)

	mg, err := grid.NewWithSpacing(b, geom.Vec{X: 40, Y: 40, Z: 40}, grid.Periodicity{})
	require.NoError(t, err)
	return m, cells.NewContainer(mg, env, m, nil), env
}

func centre() geom.Vec { return geom.Vec{X: 100, Y: 100, Z: 100} }

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "live", Live.String())
	assert.Equal(t, "apoptotic", Apoptotic.String())
	assert.Equal(t, "necrotic", Necrotic.String())
	assert.Equal(t, "unknown", Phase(9).String())
}

func TestNewTumorCellSecretion(t *testing.T) {
	rates := config.DefaultBiologyRates()
	m, _, _ := testWorld(t, rates, 38)
	c := m.NewTumorCell(centre())

	s := c.Secretion()
	assert.Equal(t, []float64{rates.OxygenUptake, 0}, s.ConsumptionRates)
	assert.Equal(t, []float64{0, rates.SignalSecretion}, s.SecretionRates)
	assert.Equal(t, []float64{0, rates.SignalSaturation}, s.SaturationDensities)
	assert.GreaterOrEqual(t, StateOf(c).Oncoprotein, 0.0)

	l := m.NewLymphocyte(centre())
	assert.Equal(t, Lymphocyte, l.Type)
	assert.Zero(t, l.Mechanics.AdhesionSelf)
	assert.Equal(t, []float64{0, 0}, l.Secretion().SecretionRates)
}

func TestProliferationAtSaturation(t *testing.T) {
	rates := config.DefaultBiologyRates()
	rates.ProliferationRate = 1e6
	rates.ApoptosisRate = 0
	m, c, env := testWorld(t, rates, 38)

	mother := m.NewTumorCell(centre())
	require.NoError(t, c.Register(mother))
	v0 := mother.Volume()

	fate := m.Advance(env, mother, 0, 6)
	require.Len(t, fate.Daughters, 1)
	assert.False(t, fate.Remove)

	d := fate.Daughters[0]
	assert.InDelta(t, v0/2, d.Volume(), 1e-9)
	assert.NotSame(t, StateOf(mother), StateOf(d))
	assert.Equal(t, 1, m.Divisions)
}

func TestNoProliferationOutsideDomain(t *testing.T) {
	rates := config.DefaultBiologyRates()
	rates.ProliferationRate = 1e6
	rates.ApoptosisRate = 0
	m, c, env := testWorld(t, rates, 38)

	cell := m.NewTumorCell(geom.Vec{X: -50, Y: 100, Z: 100})
	require.NoError(t, c.Register(cell))
	require.False(t, cell.Active())

	fate := m.Advance(env, cell, 0, 6)
	assert.Empty(t, fate.Daughters)
	assert.Equal(t, Live, StateOf(cell).Phase)
}

func TestHypoxiaNecrosis(t *testing.T) {
	rates := config.DefaultBiologyRates()
	rates.NecrosisRate = 1e6
	rates.ApoptosisRate = 0
	rates.NecroticDuration = 12
	m, c, env := testWorld(t, rates, 1)

	cell := m.NewTumorCell(centre())
	require.NoError(t, c.Register(cell))

	fate := m.Advance(env, cell, 0, 6)
	assert.Empty(t, fate.Daughters)
	assert.Equal(t, Necrotic, StateOf(cell).Phase)
	assert.Equal(t, []float64{0.1 * rates.OxygenUptake, 0}, cell.Secretion().ConsumptionRates)
	assert.Equal(t, []float64{0, 0}, cell.Secretion().SecretionRates)
	assert.Equal(t, 1, m.Necroses)

	assert.False(t, m.Advance(env, cell, 6, 6).Remove)
	assert.True(t, m.Advance(env, cell, 12, 6).Remove)
}

func TestApoptosisRemoval(t *testing.T) {
	rates := config.DefaultBiologyRates()
	rates.ApoptosisRate = 1e6
	rates.ApoptoticDuration = 6
	m, c, env := testWorld(t, rates, 38)

	cell := m.NewTumorCell(centre())
	require.NoError(t, c.Register(cell))

	live := cell.Secretion()
	require.NotZero(t, live.ConsumptionRates[0])
	require.NotZero(t, live.SecretionRates[1])

	m.Advance(env, cell, 0, 6)
	assert.Equal(t, Apoptotic, StateOf(cell).Phase)
	dead := cell.Secretion()
	assert.InDelta(t, 0.1*live.ConsumptionRates[0], dead.ConsumptionRates[0], 1e-15)
	assert.Equal(t, []float64{0, 0}, dead.SecretionRates)
	assert.Equal(t, []float64{0, 0}, dead.NetExportRates)
	assert.True(t, m.Advance(env, cell, 6, 6).Remove)
}

func TestGrowthTowardsTargetVolume(t *testing.T) {
	rates := config.DefaultBiologyRates()
	rates.ProliferationRate = 0
	rates.ApoptosisRate = 0
	m, c, env := testWorld(t, rates, 38)

	cell := m.NewTumorCell(centre())
	require.NoError(t, c.Register(cell))
	target := cell.Volume()
	cell.SetVolume(target / 2)

	prev := cell.Volume()
	for i := 0; i < 50; i++ {
		m.Advance(env, cell, float64(i)*60, 60)
		assert.GreaterOrEqual(t, cell.Volume(), prev)
		assert.LessOrEqual(t, cell.Volume(), target)
		prev = cell.Volume()
	}
	assert.Greater(t, prev, 0.9*target)
}

func TestLymphocyteChemotaxis(t *testing.T) {
	m, c, env := testWorld(t, config.DefaultBiologyRates(), 38)

	// Signal increasing along +y.
	g := env.Grid()
	for n := 0; n < g.Len(); n++ {
		env.SetDensity(n, 1, g.Center(n).Y)
	}

	l := m.NewLymphocyte(centre())
	require.NoError(t, c.Register(l))
	m.Move(env, l, nil, 0.1)

	v := l.Velocity()
	assert.InDelta(t, 4, r3.Norm(v), 1e-9)
	assert.InDelta(t, 4, v.Y, 1e-9)
}

func TestLymphocyteRandomWalkWithoutSignal(t *testing.T) {
	m, c, env := testWorld(t, config.DefaultBiologyRates(), 38)
	l := m.NewLymphocyte(centre())
	require.NoError(t, c.Register(l))

	m.Move(env, l, nil, 0.1)
	assert.InDelta(t, 4, r3.Norm(l.Velocity()), 1e-9)
}

func TestLymphocyteEngagesAndKills(t *testing.T) {
	rates := config.DefaultBiologyRates()
	rates.ApoptosisRate = 0
	m, c, env := testWorld(t, rates, 38)

	tumor := m.NewTumorCell(centre())
	require.NoError(t, c.Register(tumor))
	StateOf(tumor).Oncoprotein = 1
	l := m.NewLymphocyte(r3.Add(centre(), geom.Vec{X: 12}))
	require.NoError(t, c.Register(l))

	m.Move(env, l, c.Neighbours(l), 0.1)
	assert.Same(t, tumor, StateOf(l).Target)
	assert.Equal(t, geom.Vec{}, l.Velocity(), "engaged lymphocytes stop")

	m.Advance(env, l, 0, 6)
	assert.Equal(t, Apoptotic, StateOf(tumor).Phase)
	assert.Nil(t, StateOf(l).Target)
	assert.Equal(t, 1, m.ImmuneKills)

	// A dead target is not engaged again.
	m.Move(env, l, c.Neighbours(l), 0.1)
	assert.Nil(t, StateOf(l).Target)
}

func TestStateOfAttachesDefault(t *testing.T) {
	c := cells.NewCell(TumorCell, geom.Vec{}, 5)
	st := StateOf(c)
	require.NotNil(t, st)
	assert.Same(t, st, StateOf(c))
	assert.Equal(t, Live, st.Phase)
}

func TestChance(t *testing.T) {
	assert.Zero(t, chance(0, 10))
	assert.InDelta(t, 1-math.Exp(-0.5), chance(0.1, 5), 1e-15)
}

func TestSphereLattice(t *testing.T) {
	assert.Empty(t, SphereLattice(geom.Vec{}, 0, 8))

	const R, r = 60.0, 8.0
	c := centre()
	pts := SphereLattice(c, R, r)

	expected := (4.0 / 3.0 * math.Pi * R * R * R) / (6 * r * r * r)
	assert.InDelta(t, expected, float64(len(pts)), 0.35*expected)

	for i, p := range pts {
		assert.Less(t, geom.Distance(p, c), R)
		for _, q := range pts[i+1:] {
			require.GreaterOrEqual(t, geom.Distance(p, q), 1.7*r)
		}
	}
}

func TestUniformPoints(t *testing.T) {
	m := New(Params{CellRadius: 5, Oxygen: -1, Signal: -1}, 1)
	lo, hi := geom.Vec{X: -1, Y: 2, Z: 3}, geom.Vec{X: 1, Y: 4, Z: 9}
	pts := m.UniformPoints(200, lo, hi)
	require.Len(t, pts, 200)
	for _, p := range pts {
		assert.True(t, p.X >= lo.X && p.X < hi.X)
		assert.True(t, p.Y >= lo.Y && p.Y < hi.Y)
		assert.True(t, p.Z >= lo.Z && p.Z < hi.Z)
	}
}
