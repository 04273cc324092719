package config

import (
	"fmt"
	"math"

	"github.com/banshee-data/oncosim/internal/geom"
	"github.com/banshee-data/oncosim/internal/grid"
	"github.com/banshee-data/oncosim/internal/microenv"
	"github.com/banshee-data/oncosim/internal/monitoring"
	"github.com/banshee-data/oncosim/internal/parallel"
)

// BuildGrid constructs the diffusion grid.
func (c *SimulationConfig) BuildGrid() (*grid.Grid, error) {
	b := c.DomainBounds()
	p := c.GetPeriodicity()
	if c.Domain != nil && c.Domain.Nodes != nil {
		n := *c.Domain.Nodes
		return grid.NewWithNodes(b, n[0], n[1], n[2], p)
	}
	d := c.GetVoxelSize()
	return grid.NewWithSpacing(b, geom.Vec{X: d[0], Y: d[1], Z: d[2]}, p)
}

// BuildMechanicsGrid constructs the cell binning grid. It covers exactly
// the box of the diffusion grid, so both share one period, and its voxels
// are never narrower than mechanics_voxel_size.
func (c *SimulationConfig) BuildMechanicsGrid(env *grid.Grid) (*grid.Grid, error) {
	d := c.GetMechanicsVoxelSize()
	size := env.Bounds().Size()
	var n [3]int
	for axis := 0; axis < 3; axis++ {
		n[axis] = max(1, int(math.Floor(geom.Component(size, axis)/d)))
	}
	return grid.NewWithNodes(env.Bounds(), n[0], n[1], n[2], env.Periodicity())
}

// BuildMicroenvironment constructs the diffusion grid, registers every
// substrate and installs the face and vessel Dirichlet nodes.
func (c *SimulationConfig) BuildMicroenvironment(pool *parallel.Pool) (*microenv.Microenvironment, error) {
	g, err := c.BuildGrid()
	if err != nil {
		return nil, fmt.Errorf("building grid: %w", err)
	}
	m := microenv.New(g, pool)

	subs := c.GetSubstrates()
	for _, sc := range subs {
		s, err := m.AddSubstrate(microenv.Substrate{
			Name:                 sc.Name,
			Units:                sc.Units,
			DiffusionCoefficient: sc.DiffusionCoefficient,
			DecayRate:            sc.DecayRate,
			InitialCondition:     sc.InitialCondition,
		})
		if err != nil {
			return nil, err
		}
		if sc.DirichletEnabled {
			continue
		}
		if err := m.SetSubstrateDirichlet(s, false); err != nil {
			return nil, err
		}
	}
	if err := c.InstallDirichlet(m); err != nil {
		return nil, err
	}
	return m, nil
}

// InstallDirichlet adds the configured face and vessel Dirichlet nodes to
// m. BuildMicroenvironment calls it once; call it again after a
// ResizeGrid, which drops every node.
func (c *SimulationConfig) InstallDirichlet(m *microenv.Microenvironment) error {
	subs := c.GetSubstrates()
	for s, sc := range subs {
		faces, err := sc.Faces()
		if err != nil {
			return fmt.Errorf("substrate %q: %w", sc.Name, err)
		}
		if faces == 0 {
			continue
		}
		if err := m.SetFaceDirichlet(s, faces, sc.DirichletValue); err != nil {
			return err
		}
	}

	for i, v := range c.Vessels {
		values := make([]float64, len(subs))
		for s, sc := range subs {
			values[s] = sc.DirichletValue
			if x, ok := v.Values[sc.Name]; ok {
				values[s] = x
			}
		}
		a := geom.Vec{X: v.From[0], Y: v.From[1], Z: v.From[2]}
		b := geom.Vec{X: v.To[0], Y: v.To[1], Z: v.To[2]}
		n, err := m.AddDirichletLine(a, b, values)
		if err != nil {
			return fmt.Errorf("vessel %d: %w", i, err)
		}
		monitoring.Logf("vessel %d: %d dirichlet voxels", i, n)
	}
	return nil
}
