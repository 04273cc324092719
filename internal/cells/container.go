package cells

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/oncosim/internal/geom"
	"github.com/banshee-data/oncosim/internal/grid"
	"github.com/banshee-data/oncosim/internal/parallel"
)

var (
	// ErrAlreadyRegistered is returned when registering a cell twice.
	ErrAlreadyRegistered = errors.New("cells: cell already registered")
	// ErrNotRegistered is returned when removing a cell the container
	// does not hold.
	ErrNotRegistered = errors.New("cells: cell not registered")
	// ErrVoxelTooSmall is returned when a cell's interaction range is
	// wider than a mechanics voxel, so some of its pairs would be missed.
	ErrVoxelTooSmall = errors.New("cells: mechanics voxel narrower than interaction range")
)

// Environment is the view of the microenvironment the container and the
// biology layer work against.
type Environment interface {
	// Densities returns the live density vector of a voxel; writes go
	// straight into the field.
	Densities(voxel int) []float64
	Gradient(voxel, substrate int) geom.Vec
	NearestVoxel(p geom.Vec) int
	NumSubstrates() int
	VoxelVolume() float64
}

// Fate is what the biology layer decides for a cell in one biology step.
type Fate struct {
	// Remove asks the container to drop the cell.
	Remove bool
	// Daughters are new cells to register after the biology pass.
	Daughters []*Cell
}

// Biology advances the internal state of cells. It is called
// sequentially, once per cell, at the biology cadence.
type Biology interface {
	Advance(env Environment, c *Cell, t, dt float64) Fate
}

// Mover is an optional Biology capability for active motility. Move runs
// once per mechanics pass for every active cell, after pairwise forces
// have been accumulated and before positions are integrated.
type Mover interface {
	Move(env Environment, c *Cell, neighbours []*Cell, dt float64)
}

// Container indexes cells by voxel of its own mechanics grid. The grid is
// usually coarser than the microenvironment grid.
type Container struct {
	grid    *grid.Grid
	period  geom.Vec
	env     Environment
	biology Biology
	pool    *parallel.Pool

	cells    []*Cell
	voxels   [][]*Cell
	nextID   uint64
	minWidth float64

	lastMechanics float64
	lastBiology   float64

	// Per-worker velocity accumulators for the mechanics pass.
	buffers [][]geom.Vec

	// Scratch for grouping cells by microenvironment voxel.
	groupStart []int
	groupCells []*Cell
	groupVoxel []int
}

// NewContainer creates an empty container. A nil pool runs serially and a
// nil biology leaves cells unchanged at the biology cadence.
func NewContainer(g *grid.Grid, env Environment, bio Biology, pool *parallel.Pool) *Container {
	if pool == nil {
		pool = parallel.Serial
	}
	return &Container{
		grid:     g,
		period:   g.Period(),
		env:      env,
		biology:  bio,
		pool:     pool,
		voxels:   make([][]*Cell, g.Len()),
		nextID:   1,
		minWidth: minVoxelWidth(g),
	}
}

// minVoxelWidth is the narrowest spacing over axes with more than one
// voxel. A single-voxel axis puts every cell in the same layer.
func minVoxelWidth(g *grid.Grid) float64 {
	w := math.Inf(1)
	for axis := 0; axis < 3; axis++ {
		if g.AxisLen(axis) > 1 {
			w = math.Min(w, geom.Component(g.Spacing(), axis))
		}
	}
	return w
}

// Grid returns the mechanics grid.
func (c *Container) Grid() *grid.Grid { return c.grid }

// Environment returns the microenvironment the container exchanges with.
func (c *Container) Environment() Environment { return c.env }

// Len returns the number of registered cells, active or not.
func (c *Container) Len() int { return len(c.cells) }

// Cells returns the registered cells. The slice is owned by the container
// and is reordered by Remove.
func (c *Container) Cells() []*Cell { return c.cells }

// CellsInVoxel returns the active cells of mechanics voxel v.
func (c *Container) CellsInVoxel(v int) []*Cell { return c.voxels[v] }

// NextID reserves a fresh cell ID.
func (c *Container) NextID() uint64 {
	id := c.nextID
	c.nextID++
	return id
}

// SetClock sets the time the mechanics and biology cadences count from.
func (c *Container) SetClock(t float64) {
	c.lastMechanics = t
	c.lastBiology = t
}

// Register adds a cell, assigning an ID if it has none, and binds it to
// its voxel. A cell outside the domain on a non-periodic axis is kept but
// marked inactive with voxel -1. A cell whose interaction range exceeds
// the mechanics voxel width is rejected with ErrVoxelTooSmall.
func (c *Container) Register(cell *Cell) error {
	if cell.index >= 0 {
		return fmt.Errorf("%w: id %d", ErrAlreadyRegistered, cell.ID)
	}
	if need := MinVoxelSize(cell.Mechanics, cell.Radius); need > c.minWidth {
		return fmt.Errorf("%w: radius %g needs %g, voxels are %g wide", ErrVoxelTooSmall, cell.Radius, need, c.minWidth)
	}
	if cell.ID == 0 {
		cell.ID = c.NextID()
	} else if cell.ID >= c.nextID {
		c.nextID = cell.ID + 1
	}
	cell.index = len(c.cells)
	cell.voxel, cell.envVoxel, cell.active = -1, -1, false
	c.cells = append(c.cells, cell)
	c.bind(cell)
	return nil
}

// Remove drops a cell. The last cell of the global list takes its place.
func (c *Container) Remove(cell *Cell) error {
	i := cell.index
	if i < 0 || i >= len(c.cells) || c.cells[i] != cell {
		return fmt.Errorf("%w: id %d", ErrNotRegistered, cell.ID)
	}
	c.unbind(cell)
	last := len(c.cells) - 1
	if i != last {
		moved := c.cells[last]
		c.cells[i] = moved
		moved.index = i
	}
	c.cells[last] = nil
	c.cells = c.cells[:last]
	cell.index = -1
	return nil
}

// Move sets a cell's position and rebinds it immediately.
func (c *Container) Move(cell *Cell, p geom.Vec) {
	cell.Position = p
	c.rebin(cell)
}

// Neighbours returns the active cells sharing the cell's voxel or lying in
// its Moore neighbourhood, excluding the cell itself.
func (c *Container) Neighbours(cell *Cell) []*Cell {
	if !cell.active {
		return nil
	}
	var out []*Cell
	for _, o := range c.voxels[cell.voxel] {
		if o != cell {
			out = append(out, o)
		}
	}
	for _, v := range c.grid.ExtendedNeighbors(cell.voxel) {
		out = append(out, c.voxels[v]...)
	}
	return out
}

// bind wraps the position along periodic axes and files the cell under
// its voxel, or marks it inactive when it left a bounded axis.
func (c *Container) bind(cell *Cell) {
	cell.Position = c.grid.Wrap(cell.Position)
	if !c.grid.Contains(cell.Position) {
		cell.active = false
		cell.voxel = -1
		cell.envVoxel = -1
		return
	}
	cell.active = true
	cell.voxel = c.grid.NearestVoxel(cell.Position)
	if c.env != nil {
		cell.envVoxel = c.env.NearestVoxel(cell.Position)
	}
	list := c.voxels[cell.voxel]
	cell.slot = len(list)
	c.voxels[cell.voxel] = append(list, cell)
}

// unbind takes the cell out of its voxel list with a swap-remove.
func (c *Container) unbind(cell *Cell) {
	if cell.voxel < 0 {
		return
	}
	list := c.voxels[cell.voxel]
	last := len(list) - 1
	if cell.slot != last {
		moved := list[last]
		list[cell.slot] = moved
		moved.slot = cell.slot
	}
	list[last] = nil
	c.voxels[cell.voxel] = list[:last]
	cell.voxel = -1
	cell.envVoxel = -1
	cell.active = false
}

// rebin refreshes the voxel binding after the position changed.
func (c *Container) rebin(cell *Cell) {
	p := c.grid.Wrap(cell.Position)
	if cell.active && c.grid.Contains(p) {
		cell.Position = p
		v := c.grid.NearestVoxel(p)
		if c.env != nil {
			cell.envVoxel = c.env.NearestVoxel(p)
		}
		if v == cell.voxel {
			return
		}
	}
	c.unbind(cell)
	c.bind(cell)
}

// rebinAll refreshes every binding. Inactive cells that moved back into
// the domain become active again.
func (c *Container) rebinAll() {
	for _, cell := range c.cells {
		c.rebin(cell)
	}
}

// RebindEnvironment recomputes every active cell's microenvironment voxel.
// Call it whenever the environment grid is rebuilt; stale indices would
// address voxels that no longer exist.
func (c *Container) RebindEnvironment() {
	if c.env == nil {
		return
	}
	for _, cell := range c.cells {
		if cell.active {
			cell.envVoxel = c.env.NearestVoxel(cell.Position)
		}
	}
}

// ActiveCount returns the number of active cells.
func (c *Container) ActiveCount() int {
	n := 0
	for _, cell := range c.cells {
		if cell.active {
			n++
		}
	}
	return n
}
