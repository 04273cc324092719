// Package biology is a small oxygen-driven tumor model with chemotactic
// lymphocytes. It plugs into the cell container through cells.Biology and
// cells.Mover and exists to drive full runs from the command line.
package biology

import (
	"math"
	"math/rand/v2"

	"github.com/banshee-data/oncosim/internal/cells"
	"github.com/banshee-data/oncosim/internal/config"
	"github.com/banshee-data/oncosim/internal/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// Cell types.
const (
	TumorCell  = 0
	Lymphocyte = 1
)

// Phase is a cell's life stage.
type Phase int

const (
	Live Phase = iota
	Apoptotic
	Necrotic
)

func (p Phase) String() string {
	switch p {
	case Live:
		return "live"
	case Apoptotic:
		return "apoptotic"
	case Necrotic:
		return "necrotic"
	}
	return "unknown"
}

// volumeRelaxation is the rate at which a live cell grows back towards
// its target volume after division.
const volumeRelaxation = 0.13 / 60.0

// deadUptakeFraction is the share of its uptake a dying cell keeps.
const deadUptakeFraction = 0.1

// State is the per-cell data the model keeps in cells.Cell.State.
type State struct {
	Phase     Phase
	PhaseTime float64 // time spent in the current phase

	// Oncoprotein expression scales how easily lymphocytes kill the cell.
	Oncoprotein float64

	// Target is the tumor cell a lymphocyte is engaged with, if any.
	Target *cells.Cell
}

// Params configures a Model.
type Params struct {
	Rates        config.BiologyRates
	Oxygen       int // substrate index, -1 if absent
	Signal       int // immunostimulatory factor index, -1 if absent
	Substrates   int
	CellRadius   float64
	ImmuneSpeed  float64
	KillRate     float64
	OncoMean     float64
	OncoStdDev   float64
	targetVolume float64
}

// Model implements cells.Biology and cells.Mover. The container calls it
// sequentially so the RNG needs no locking.
type Model struct {
	p   Params
	rng *rand.Rand

	// Phase transitions in the current run.
	Divisions   int
	Apoptoses   int
	Necroses    int
	ImmuneKills int
}

var _ cells.Biology = (*Model)(nil)
var _ cells.Mover = (*Model)(nil)

// New returns a model seeded for reproducible runs.
func New(p Params, seed uint64) *Model {
	if p.OncoMean == 0 && p.OncoStdDev == 0 {
		p.OncoMean, p.OncoStdDev = 1.0, 0.25
	}
	p.targetVolume = cells.SphereVolume(p.CellRadius)
	return &Model{
		p:   p,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Rand exposes the model RNG for seeding helpers so a run draws from a
// single stream.
func (m *Model) Rand() *rand.Rand { return m.rng }

// NewTumorCell returns an unregistered live tumor cell with the oxygen
// uptake and signal secretion rates set.
func (m *Model) NewTumorCell(pos geom.Vec) *cells.Cell {
	c := cells.NewCell(TumorCell, pos, m.p.CellRadius)
	c.State = &State{Oncoprotein: m.oncoprotein()}
	c.SetSecretion(m.tumorSecretion())
	return c
}

// NewLymphocyte returns an unregistered lymphocyte. Lymphocytes do not
// adhere and exchange nothing with the microenvironment.
func (m *Model) NewLymphocyte(pos geom.Vec) *cells.Cell {
	c := cells.NewCell(Lymphocyte, pos, m.p.CellRadius)
	c.Mechanics.AdhesionSelf = 0
	c.Mechanics.AdhesionOther = 0
	c.State = &State{}
	c.SetSecretion(cells.NewSecretion(m.p.Substrates))
	return c
}

func (m *Model) oncoprotein() float64 {
	return max(0, m.p.OncoMean+m.p.OncoStdDev*m.rng.NormFloat64())
}

func (m *Model) tumorSecretion() cells.Secretion {
	s := cells.NewSecretion(m.p.Substrates)
	if m.p.Oxygen >= 0 {
		s.ConsumptionRates[m.p.Oxygen] = m.p.Rates.OxygenUptake
	}
	if m.p.Signal >= 0 {
		s.SecretionRates[m.p.Signal] = m.p.Rates.SignalSecretion
		s.SaturationDensities[m.p.Signal] = m.p.Rates.SignalSaturation
	}
	return s
}

// StateOf returns the model state of c, attaching a fresh one if the cell
// was created elsewhere.
func StateOf(c *cells.Cell) *State {
	st, ok := c.State.(*State)
	if !ok || st == nil {
		st = &State{Oncoprotein: 1}
		c.State = st
	}
	return st
}

// chance converts a rate into the probability of at least one event in dt.
func chance(rate, dt float64) float64 {
	return 1 - math.Exp(-rate*dt)
}

// Advance runs one biology step for c.
func (m *Model) Advance(env cells.Environment, c *cells.Cell, t, dt float64) cells.Fate {
	st := StateOf(c)
	st.PhaseTime += dt

	switch st.Phase {
	case Apoptotic:
		if st.PhaseTime >= m.p.Rates.ApoptoticDuration {
			return cells.Fate{Remove: true}
		}
		return cells.Fate{}
	case Necrotic:
		if st.PhaseTime >= m.p.Rates.NecroticDuration {
			return cells.Fate{Remove: true}
		}
		return cells.Fate{}
	}

	if c.Type == Lymphocyte {
		m.attack(st, dt)
		return cells.Fate{}
	}
	return m.advanceTumor(env, c, st, dt)
}

func (m *Model) advanceTumor(env cells.Environment, c *cells.Cell, st *State, dt float64) cells.Fate {
	r := m.p.Rates
	if c.Volume() < m.p.targetVolume {
		v := c.Volume() + (m.p.targetVolume-c.Volume())*chance(volumeRelaxation, dt)
		c.SetVolume(v)
	}

	if m.rng.Float64() < chance(r.ApoptosisRate, dt) {
		m.kill(c, st, Apoptotic)
		m.Apoptoses++
		return cells.Fate{}
	}

	// Cells outside the domain have no oxygen reading and neither
	// proliferate nor starve.
	if !c.Active() || m.p.Oxygen < 0 {
		return cells.Fate{}
	}
	o2 := env.Densities(c.EnvVoxel())[m.p.Oxygen]

	if o2 < r.NecrosisThreshold {
		if m.rng.Float64() < chance(r.NecrosisRate, dt) {
			m.kill(c, st, Necrotic)
			m.Necroses++
		}
		return cells.Fate{}
	}

	scale := min(1, (o2-r.NecrosisThreshold)/(r.OxygenSaturation-r.NecrosisThreshold))
	if m.rng.Float64() >= chance(r.ProliferationRate*scale, dt) {
		return cells.Fate{}
	}
	d := cells.Split(c, geom.RandomUnit(m.rng))
	d.State = &State{Oncoprotein: st.Oncoprotein}
	st.PhaseTime = 0
	m.Divisions++
	return cells.Fate{Daughters: []*cells.Cell{d}}
}

// kill moves c into a death phase. The cell stops secreting and keeps a
// tenth of its uptake.
func (m *Model) kill(c *cells.Cell, st *State, p Phase) {
	st.Phase = p
	st.PhaseTime = 0
	st.Target = nil

	prev := c.Secretion()
	s := cells.NewSecretion(m.p.Substrates)
	for i := range s.ConsumptionRates {
		if i < len(prev.ConsumptionRates) {
			s.ConsumptionRates[i] = deadUptakeFraction * prev.ConsumptionRates[i]
		}
	}
	c.SetSecretion(s)
}

// attack gives an engaged lymphocyte one chance to trigger apoptosis in
// its target, then releases it.
func (m *Model) attack(st *State, dt float64) {
	target := st.Target
	st.Target = nil
	if target == nil || !target.Registered() {
		return
	}
	ts := StateOf(target)
	if ts.Phase != Live {
		return
	}
	if m.rng.Float64() < chance(m.p.KillRate*ts.Oncoprotein, dt) {
		m.kill(target, ts, Apoptotic)
		m.ImmuneKills++
	}
}

// Move steers lymphocytes up the immunostimulatory factor gradient. A
// lymphocyte touching a live tumor cell stops and engages it instead.
// Tumor cells are passive.
func (m *Model) Move(env cells.Environment, c *cells.Cell, neighbours []*cells.Cell, dt float64) {
	if c.Type != Lymphocyte {
		return
	}
	st := StateOf(c)
	if st.Phase != Live {
		return
	}
	for _, n := range neighbours {
		if n.Type != TumorCell || StateOf(n).Phase != Live {
			continue
		}
		if geom.Distance(c.Position, n.Position) <= c.Radius+n.Radius {
			st.Target = n
			return
		}
	}
	st.Target = nil

	var dir geom.Vec
	if m.p.Signal >= 0 {
		dir = env.Gradient(c.EnvVoxel(), m.p.Signal)
	}
	if r3.Norm(dir) > 0 {
		dir = r3.Unit(dir)
	} else {
		dir = geom.RandomUnit(m.rng)
	}
	c.AddVelocity(r3.Scale(m.p.ImmuneSpeed, dir))
}
