package cells

import (
	"fmt"
	"math"

	"github.com/banshee-data/oncosim/internal/monitoring"
)

// cadenceTolerance is the fraction of a cadence interval by which a
// phase may fire early, absorbing floating point drift in t.
const cadenceTolerance = 1e-3

// Timesteps are the three time scales of a step.
type Timesteps struct {
	Diffusion float64
	Mechanics float64
	Biology   float64
}

// Validate checks that every step is positive and the cadences nest.
func (ts Timesteps) Validate() error {
	for _, v := range []struct {
		name string
		dt   float64
	}{{"diffusion", ts.Diffusion}, {"mechanics", ts.Mechanics}, {"biology", ts.Biology}} {
		if !(v.dt > 0) || math.IsInf(v.dt, 0) {
			return fmt.Errorf("%s time step must be positive, got %g", v.name, v.dt)
		}
	}
	if ts.Mechanics < ts.Diffusion {
		return fmt.Errorf("mechanics time step %g is shorter than diffusion time step %g", ts.Mechanics, ts.Diffusion)
	}
	return nil
}

// StepStats reports what one Step did.
type StepStats struct {
	Mechanics bool // a mechanics pass ran
	Biology   bool // a biology pass ran
	Pairs     int  // interacting pairs evaluated
	Active    int
	Inactive  int
	Divisions int
	Removals  int
}

func due(t, last, interval float64) bool {
	return t-last >= interval*(1-cadenceTolerance)
}

// MechanicsDue reports whether Step at time t will run a mechanics pass.
// Callers use it to refresh gradients before motility reads them.
func (c *Container) MechanicsDue(t float64, dt Timesteps) bool {
	return due(t, c.lastMechanics, dt.Mechanics)
}

// Step runs one diffusion-length step of the container at time t:
//
//  1. every active cell exchanges substrates with its voxel over dt.Diffusion;
//  2. when dt.Mechanics has elapsed since the last pass, pairwise forces
//     and motility are accumulated, positions integrated and cells rebinned;
//  3. when dt.Biology has elapsed, the biology layer advances every cell,
//     daughters are registered and dead cells removed.
//
// The phases run strictly in that order.
func (c *Container) Step(t float64, dt Timesteps) (StepStats, error) {
	var st StepStats
	if err := dt.Validate(); err != nil {
		return st, err
	}

	c.secreteAndConsume(dt.Diffusion)

	if due(t, c.lastMechanics, dt.Mechanics) {
		st.Mechanics = true
		st.Pairs = c.updateMechanics()
		c.applyMotility(dt.Mechanics)
		c.integratePositions(dt.Mechanics)
		c.lastMechanics = t
	}

	if due(t, c.lastBiology, dt.Biology) {
		st.Biology = true
		div, rem, err := c.advanceBiology(t, dt.Biology)
		if err != nil {
			return st, err
		}
		st.Divisions, st.Removals = div, rem
		c.lastBiology = t
	}

	st.Active = c.ActiveCount()
	st.Inactive = len(c.cells) - st.Active
	if st.Inactive > 0 {
		monitoring.Debugf("t=%g: %d of %d cells outside the domain", t, st.Inactive, len(c.cells))
	}
	return st, nil
}

// advanceBiology calls the biology layer for every cell registered at the
// start of the pass, then registers daughters and removes dead cells.
func (c *Container) advanceBiology(t, dt float64) (divisions, removals int, err error) {
	if c.biology == nil {
		return 0, 0, nil
	}
	var born, dead []*Cell
	n := len(c.cells)
	for i := 0; i < n; i++ {
		cell := c.cells[i]
		fate := c.biology.Advance(c.env, cell, t, dt)
		if fate.Remove {
			dead = append(dead, cell)
		}
		born = append(born, fate.Daughters...)
	}

	// Biology may have moved or resized mothers.
	c.rebinAll()

	for _, d := range born {
		if err := c.Register(d); err != nil {
			return divisions, removals, fmt.Errorf("register daughter: %w", err)
		}
		divisions++
	}
	for _, d := range dead {
		if err := c.Remove(d); err != nil {
			return divisions, removals, fmt.Errorf("remove cell: %w", err)
		}
		removals++
	}
	return divisions, removals, nil
}
