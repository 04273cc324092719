// Package cells indexes cell agents on a voxel grid and advances them:
// secretion and uptake against the microenvironment, pairwise
// repulsion/adhesion between neighbouring cells, position integration and
// the hand-off to the biology layer for division and death.
package cells

import (
	"math"
	"slices"

	"github.com/banshee-data/oncosim/internal/geom"
)

// Mechanics holds a cell's pairwise interaction coefficients. The "self"
// coefficients apply against cells of the same Type, the "other" ones
// against cells of a different Type.
type Mechanics struct {
	RepulsionSelf       float64
	RepulsionOther      float64
	AdhesionSelf        float64
	AdhesionOther       float64
	MaxInteractionRatio float64 // adhesion range as a multiple of the radius
}

// DefaultMechanics returns the coefficients used for tumor cells.
func DefaultMechanics() Mechanics {
	return Mechanics{
		RepulsionSelf:       10,
		RepulsionOther:      10,
		AdhesionSelf:        0.4,
		AdhesionOther:       0.4,
		MaxInteractionRatio: 1.25,
	}
}

// Secretion holds per-substrate exchange rates with the microenvironment.
// Every slice has one entry per substrate; missing entries count as zero.
type Secretion struct {
	SecretionRates      []float64
	ConsumptionRates    []float64
	SaturationDensities []float64
	NetExportRates      []float64
}

// NewSecretion returns zeroed rates for n substrates.
func NewSecretion(n int) Secretion {
	return Secretion{
		SecretionRates:      make([]float64, n),
		ConsumptionRates:    make([]float64, n),
		SaturationDensities: make([]float64, n),
		NetExportRates:      make([]float64, n),
	}
}

func (s Secretion) clone() Secretion {
	return Secretion{
		SecretionRates:      slices.Clone(s.SecretionRates),
		ConsumptionRates:    slices.Clone(s.ConsumptionRates),
		SaturationDensities: slices.Clone(s.SaturationDensities),
		NetExportRates:      slices.Clone(s.NetExportRates),
	}
}

// Cell is one agent. Position, Type, Radius, Mechanics and State belong to
// the biology layer; the container owns the kinematic and indexing state.
type Cell struct {
	ID        uint64
	Type      int
	Position  geom.Vec
	Radius    float64
	Mechanics Mechanics

	// State is opaque biology data (cycle phase, timers, ...). The
	// container copies the reference on Split and otherwise ignores it.
	State any

	volume    float64
	secretion Secretion

	velocity     geom.Vec
	prevVelocity geom.Vec

	active   bool
	voxel    int // mechanics voxel, -1 when inactive or unregistered
	envVoxel int // microenvironment voxel, -1 when inactive or unregistered
	index    int // position in Container.cells, -1 when unregistered
	slot     int // position in Container.voxels[voxel]

	exchange      exchange
	exchangeDirty bool
}

// NewCell returns an unregistered cell with default mechanics and a
// volume matching a sphere of the given radius.
func NewCell(typ int, pos geom.Vec, radius float64) *Cell {
	return &Cell{
		Type:          typ,
		Position:      pos,
		Radius:        radius,
		Mechanics:     DefaultMechanics(),
		volume:        SphereVolume(radius),
		voxel:         -1,
		envVoxel:      -1,
		index:         -1,
		exchangeDirty: true,
	}
}

// SphereVolume returns 4/3*pi*r^3.
func SphereVolume(r float64) float64 { return 4.0 / 3.0 * math.Pi * r * r * r }

// SphereRadius inverts SphereVolume.
func SphereRadius(v float64) float64 { return math.Cbrt(3 * v / (4 * math.Pi)) }

// MinVoxelSize is the narrowest mechanics voxel that keeps every
// interacting pair of cells with radius up to r in neighbouring voxels.
func MinVoxelSize(m Mechanics, r float64) float64 { return 2 * m.MaxInteractionRatio * r }

// Volume returns the cell volume used for secretion scaling.
func (c *Cell) Volume() float64 { return c.volume }

// SetVolume changes the volume and the radius with it.
func (c *Cell) SetVolume(v float64) {
	c.volume = v
	c.Radius = SphereRadius(v)
	c.exchangeDirty = true
}

// Secretion returns the current exchange rates. The slices are shared;
// call SetSecretion after changing them.
func (c *Cell) Secretion() Secretion { return c.secretion }

// SetSecretion replaces the exchange rates. The cached update
// coefficients are rebuilt on the next secretion pass.
func (c *Cell) SetSecretion(s Secretion) {
	c.secretion = s
	c.exchangeDirty = true
}

// Active reports whether the cell is inside the domain and takes part in
// mechanics and secretion.
func (c *Cell) Active() bool { return c.active }

// Voxel returns the mechanics-grid voxel, or -1 when inactive.
func (c *Cell) Voxel() int { return c.voxel }

// EnvVoxel returns the microenvironment voxel, or -1 when inactive.
func (c *Cell) EnvVoxel() int { return c.envVoxel }

// Registered reports whether the cell belongs to a container.
func (c *Cell) Registered() bool { return c.index >= 0 }

// Velocity returns the velocity accumulated in the current mechanics pass.
func (c *Cell) Velocity() geom.Vec { return c.velocity }

// PreviousVelocity returns the velocity used in the last integration.
func (c *Cell) PreviousVelocity() geom.Vec { return c.prevVelocity }

// AddVelocity adds v to the current velocity. Intended for motility.
func (c *Cell) AddVelocity(v geom.Vec) {
	c.velocity = geom.Axpy(1, v, c.velocity)
}
