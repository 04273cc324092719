package microenv

import (
	"fmt"
	"slices"

	"github.com/banshee-data/oncosim/internal/geom"
	"github.com/banshee-data/oncosim/internal/grid"
)

// Dirichlet nodes hold some substrates at fixed values. They are applied
// as an overwrite before and after every directional sweep, so changing
// them never requires rebuilding solver coefficients.

// AddDirichletNode flags voxel n as a fixed-value node with one value per
// substrate. Activation for each substrate starts from the substrate's
// default (see SetSubstrateDirichlet). Re-adding an existing node
// replaces its values.
func (m *Microenvironment) AddDirichletNode(n int, values []float64) error {
	if err := m.checkVoxel(n); err != nil {
		return err
	}
	S := len(m.substrates)
	if len(values) != S {
		return fmt.Errorf("%w: got %d values for %d substrates", ErrVectorLength, len(values), S)
	}
	copy(m.dirichletValue[n*S:(n+1)*S], values)
	if !m.grid.IsDirichlet(n) {
		copy(m.dirichletActive[n*S:(n+1)*S], m.defaultActive)
		m.grid.SetDirichlet(n, true)
		m.insertNode(n)
	}
	return nil
}

// UpdateDirichletNode changes one substrate's fixed value at voxel n,
// flagging the voxel as a Dirichlet node and activating that substrate
// there if needed.
func (m *Microenvironment) UpdateDirichletNode(n, s int, value float64) error {
	if err := m.checkVoxel(n); err != nil {
		return err
	}
	if err := m.checkSubstrate(s); err != nil {
		return err
	}
	S := len(m.substrates)
	if !m.grid.IsDirichlet(n) {
		m.grid.SetDirichlet(n, true)
		m.insertNode(n)
	}
	m.dirichletValue[n*S+s] = value
	m.dirichletActive[n*S+s] = true
	return nil
}

// SetDirichletActivation enables or disables the fixed value of substrate
// s at voxel n. The voxel must already be a Dirichlet node.
func (m *Microenvironment) SetDirichletActivation(s, n int, enabled bool) error {
	if err := m.checkVoxel(n); err != nil {
		return err
	}
	if err := m.checkSubstrate(s); err != nil {
		return err
	}
	if !m.grid.IsDirichlet(n) {
		return fmt.Errorf("voxel %d is not a dirichlet node", n)
	}
	m.dirichletActive[n*len(m.substrates)+s] = enabled
	return nil
}

// SetSubstrateDirichlet sets the default activation of substrate s for
// future nodes and applies it to every existing node.
func (m *Microenvironment) SetSubstrateDirichlet(s int, enabled bool) error {
	if err := m.checkSubstrate(s); err != nil {
		return err
	}
	m.defaultActive[s] = enabled
	S := len(m.substrates)
	for _, n := range m.nodes {
		m.dirichletActive[n*S+s] = enabled
	}
	return nil
}

// RemoveDirichletNode clears the fixed-value flag of voxel n.
func (m *Microenvironment) RemoveDirichletNode(n int) error {
	if err := m.checkVoxel(n); err != nil {
		return err
	}
	if !m.grid.IsDirichlet(n) {
		return nil
	}
	m.grid.SetDirichlet(n, false)
	S := len(m.substrates)
	clear(m.dirichletActive[n*S : (n+1)*S])
	if idx, ok := slices.BinarySearch(m.nodes, n); ok {
		m.nodes = slices.Delete(m.nodes, idx, idx+1)
	}
	return nil
}

// DirichletNodes returns the flagged voxels in ascending order.
func (m *Microenvironment) DirichletNodes() []int {
	return append([]int(nil), m.nodes...)
}

// DirichletValue returns the stored fixed value and activation of
// substrate s at voxel n.
func (m *Microenvironment) DirichletValue(n, s int) (float64, bool) {
	i := n*len(m.substrates) + s
	return m.dirichletValue[i], m.dirichletActive[i] && m.grid.IsDirichlet(n)
}

// SetFaceDirichlet holds substrate s at value on every voxel of the given
// domain faces.
func (m *Microenvironment) SetFaceDirichlet(s int, faces grid.Face, value float64) error {
	if err := m.checkSubstrate(s); err != nil {
		return err
	}
	axes := faces.Axes()
	for axis := 0; axis < 3; axis++ {
		if axes[axis] && m.grid.Periodicity().Axis(axis) {
			return fmt.Errorf("%w: %s", ErrPeriodicFace, faces)
		}
	}
	for _, n := range m.grid.FaceVoxels(faces) {
		if err := m.UpdateDirichletNode(n, s, value); err != nil {
			return err
		}
	}
	return nil
}

// AddDirichletLine turns every voxel crossed by the segment from a to b
// into a Dirichlet node with the given values, modelling a vessel that
// supplies the tissue. It returns the number of voxels touched.
func (m *Microenvironment) AddDirichletLine(a, b geom.Vec, values []float64) (int, error) {
	if len(values) != len(m.substrates) {
		return 0, fmt.Errorf("%w: got %d values for %d substrates", ErrVectorLength, len(values), len(m.substrates))
	}
	path := m.grid.TraverseSegment(a, b)
	S := len(m.substrates)
	for _, n := range path {
		if err := m.AddDirichletNode(n, values); err != nil {
			return 0, err
		}
		// A vessel supplies all of its substrates regardless of the
		// substrate defaults.
		for s := 0; s < S; s++ {
			m.dirichletActive[n*S+s] = true
		}
	}
	return len(path), nil
}

// ApplyDirichlet overwrites the density of every active substrate at
// every Dirichlet node with its fixed value.
func (m *Microenvironment) ApplyDirichlet() {
	S := len(m.substrates)
	nodes := m.nodes
	m.pool.For(len(nodes), func(lo, hi int) {
		for _, n := range nodes[lo:hi] {
			base := n * S
			for s := 0; s < S; s++ {
				if m.dirichletActive[base+s] {
					m.density[base+s] = m.dirichletValue[base+s]
				}
			}
		}
	})
}

func (m *Microenvironment) insertNode(n int) {
	idx, found := slices.BinarySearch(m.nodes, n)
	if !found {
		m.nodes = slices.Insert(m.nodes, idx, n)
	}
}
