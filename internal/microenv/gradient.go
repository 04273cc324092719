package microenv

import (
	"github.com/banshee-data/oncosim/internal/geom"
)

// Gradient returns the spatial gradient of substrate s at voxel n. The
// gradients of all substrates at n are computed on first access after
// each Advance and cached until the next one.
func (m *Microenvironment) Gradient(n, s int) geom.Vec {
	S := len(m.substrates)
	m.gradMu.Lock()
	defer m.gradMu.Unlock()
	if !m.gradReady[n] {
		m.computeGradient(n)
		m.gradReady[n] = true
	}
	return m.gradient[n*S+s]
}

// Gradients returns the gradient of every substrate at voxel n.
func (m *Microenvironment) Gradients(n int) []geom.Vec {
	S := len(m.substrates)
	out := make([]geom.Vec, S)
	for s := range out {
		out[s] = m.Gradient(n, s)
	}
	return out
}

// ComputeAllGradients fills the gradient cache for every voxel in
// parallel.
func (m *Microenvironment) ComputeAllGradients() {
	m.gradMu.Lock()
	defer m.gradMu.Unlock()
	ready := m.gradReady
	m.pool.For(m.grid.Len(), func(lo, hi int) {
		for n := lo; n < hi; n++ {
			if !ready[n] {
				m.computeGradient(n)
				ready[n] = true
			}
		}
	})
}

func (m *Microenvironment) invalidateGradients() {
	m.gradMu.Lock()
	clear(m.gradReady)
	m.gradMu.Unlock()
}

// computeGradient uses central differences along each axis, one-sided
// differences at the ends of bounded axes and wrapped central differences
// along periodic axes. A single-voxel axis contributes zero.
func (m *Microenvironment) computeGradient(n int) {
	S := len(m.substrates)
	g := m.grid
	i, j, k := g.Cartesian(n)
	c := [3]int{i, j, k}
	spacing := g.Spacing()
	periodic := g.Periodicity()

	var lo, hi [3]int
	var scale [3]float64
	for axis := 0; axis < 3; axis++ {
		size := g.AxisLen(axis)
		h := geom.Component(spacing, axis)
		lo[axis], hi[axis] = -1, -1
		if size < 2 {
			continue
		}
		a, b := c[axis]-1, c[axis]+1
		if periodic.Axis(axis) {
			a, b = (a+size)%size, b%size
		}
		at := func(v int) int {
			cc := c
			cc[axis] = v
			return g.Linear(cc[0], cc[1], cc[2])
		}
		switch {
		case a >= 0 && b < size:
			lo[axis], hi[axis] = at(a), at(b)
			scale[axis] = 1 / (2 * h)
		case b < size:
			lo[axis], hi[axis] = n, at(b)
			scale[axis] = 1 / h
		default:
			lo[axis], hi[axis] = at(a), n
			scale[axis] = 1 / h
		}
	}

	for s := 0; s < S; s++ {
		var v geom.Vec
		for axis := 0; axis < 3; axis++ {
			if lo[axis] < 0 {
				continue
			}
			d := (m.density[hi[axis]*S+s] - m.density[lo[axis]*S+s]) * scale[axis]
			v = geom.WithComponent(v, axis, d)
		}
		m.gradient[n*S+s] = v
	}
}
