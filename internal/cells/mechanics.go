package cells

import (
	"math"

	"github.com/banshee-data/oncosim/internal/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// minDistance floors the separation of coincident cells.
	minDistance = 1e-5
	// minForce is the net force magnitude below which a pair is skipped.
	minForce = 1e-16
)

// pairVelocity returns the velocity contribution of the interaction
// between a and b as seen by a; b receives the negation. ok is false when
// the cells are out of range of each other.
func pairVelocity(a, b *Cell, period geom.Vec) (dv geom.Vec, ok bool) {
	d := geom.WrapDisplacement(r3.Sub(a.Position, b.Position), period)
	dist := math.Max(r3.Norm(d), minDistance)

	same := a.Type == b.Type
	repA, repB := a.Mechanics.RepulsionOther, b.Mechanics.RepulsionOther
	adhA, adhB := a.Mechanics.AdhesionOther, b.Mechanics.AdhesionOther
	if same {
		repA, repB = a.Mechanics.RepulsionSelf, b.Mechanics.RepulsionSelf
		adhA, adhB = a.Mechanics.AdhesionSelf, b.Mechanics.AdhesionSelf
	}

	var force float64
	if r := a.Radius + b.Radius; dist < r {
		x := 1 - dist/r
		force += x * x * math.Sqrt(repA*repB)
	}
	if s := a.Mechanics.MaxInteractionRatio*a.Radius + b.Mechanics.MaxInteractionRatio*b.Radius; dist < s {
		x := 1 - dist/s
		force -= x * x * math.Sqrt(adhA*adhB)
	}
	if math.Abs(force) < minForce {
		return geom.Vec{}, false
	}
	return r3.Scale(force/dist, d), true
}

// updateMechanics accumulates pairwise velocities for every active cell.
// Each worker writes into its own buffer indexed by cell position, so the
// two-sided update of a pair never races; buffers are summed afterwards
// in worker order. Every unordered pair is evaluated once: pairs within a
// voxel by index, pairs across voxels through ForwardNeighbors.
func (c *Container) updateMechanics() int {
	workers := c.pool.Workers()
	n := len(c.cells)
	c.ensureBuffers(workers, n)
	pairs := make([]int, workers)

	c.pool.ForWorker(len(c.voxels), func(w, lo, hi int) {
		buf := c.buffers[w]
		count := 0
		apply := func(a, b *Cell) {
			if a.ID == b.ID {
				return
			}
			dv, ok := pairVelocity(a, b, c.period)
			if !ok {
				return
			}
			buf[a.index] = r3.Add(buf[a.index], dv)
			buf[b.index] = r3.Sub(buf[b.index], dv)
			count++
		}
		for v := lo; v < hi; v++ {
			local := c.voxels[v]
			if len(local) == 0 {
				continue
			}
			for i := 0; i < len(local); i++ {
				for j := i + 1; j < len(local); j++ {
					apply(local[i], local[j])
				}
			}
			for _, nv := range c.grid.ForwardNeighbors(v) {
				for _, b := range c.voxels[nv] {
					for _, a := range local {
						apply(a, b)
					}
				}
			}
		}
		pairs[w] += count
	})

	c.pool.For(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			sum := c.cells[i].velocity
			for w := range c.buffers {
				sum = r3.Add(sum, c.buffers[w][i])
				c.buffers[w][i] = geom.Vec{}
			}
			c.cells[i].velocity = sum
		}
	})

	total := 0
	for _, p := range pairs {
		total += p
	}
	return total
}

func (c *Container) ensureBuffers(workers, n int) {
	if len(c.buffers) != workers {
		c.buffers = make([][]geom.Vec, workers)
	}
	for w := range c.buffers {
		if cap(c.buffers[w]) < n {
			c.buffers[w] = make([]geom.Vec, n, n+n/4)
		}
		c.buffers[w] = c.buffers[w][:n]
	}
}

// applyMotility hands every active cell to the biology Mover, if any.
func (c *Container) applyMotility(dt float64) {
	mover, ok := c.biology.(Mover)
	if !ok {
		return
	}
	for _, cell := range c.cells {
		if cell.active {
			mover.Move(c.env, cell, c.Neighbours(cell), dt)
		}
	}
}

// integratePositions advances active cells with the two-step
// Adams-Bashforth rule and clears the accumulated velocity, then rebinds
// every cell.
func (c *Container) integratePositions(dt float64) {
	a, b := 1.5*dt, -0.5*dt
	c.pool.For(len(c.cells), func(lo, hi int) {
		for _, cell := range c.cells[lo:hi] {
			if !cell.active {
				continue
			}
			cell.Position = geom.Axpy(a, cell.velocity, cell.Position)
			cell.Position = geom.Axpy(b, cell.prevVelocity, cell.Position)
			cell.prevVelocity = cell.velocity
			cell.velocity = geom.Vec{}
		}
	})
	c.rebinAll()
}
