// Package grid partitions a rectangular domain into a regular array of
// voxels and answers the spatial queries the solver and the cell
// container need: position to voxel, voxel to (i,j,k), face neighbours
// and the 26-voxel Moore neighbourhood with optional periodic wrap.
//
// Voxels are stored row-major with x varying fastest, so the linear index
// of (i,j,k) is (k*ny+j)*nx+i.
package grid

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/oncosim/internal/geom"
)

var (
	// ErrInvalidSpacing is returned for zero, negative or non-finite spacing.
	ErrInvalidSpacing = errors.New("grid: invalid voxel spacing")
	// ErrInvalidBounds is returned when min >= max on any axis.
	ErrInvalidBounds = errors.New("grid: invalid domain bounds")
)

// Bounds is an axis-aligned box.
type Bounds struct {
	Min geom.Vec
	Max geom.Vec
}

// Size returns Max - Min per axis.
func (b Bounds) Size() geom.Vec {
	return geom.Vec{X: b.Max.X - b.Min.X, Y: b.Max.Y - b.Min.Y, Z: b.Max.Z - b.Min.Z}
}

func (b Bounds) validate() error {
	for axis := 0; axis < 3; axis++ {
		lo, hi := geom.Component(b.Min, axis), geom.Component(b.Max, axis)
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) || lo >= hi {
			return fmt.Errorf("%w: axis %d min=%g max=%g", ErrInvalidBounds, axis, lo, hi)
		}
	}
	return nil
}

// Periodicity selects which axes wrap around.
type Periodicity struct {
	X, Y, Z bool
}

// Axis reports whether the given axis (0=x, 1=y, 2=z) is periodic.
func (p Periodicity) Axis(axis int) bool {
	switch axis {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}

// Any reports whether at least one axis is periodic.
func (p Periodicity) Any() bool { return p.X || p.Y || p.Z }

func (p Periodicity) String() string {
	b := func(v bool) byte {
		if v {
			return 'P'
		}
		return '-'
	}
	return string([]byte{b(p.X), b(p.Y), b(p.Z)})
}

// Voxel is a single control volume. Only the Dirichlet flag changes after
// the grid is built.
type Voxel struct {
	Index     int
	Center    geom.Vec
	Volume    float64
	Dirichlet bool
}

// Grid is a Cartesian voxel mesh.
type Grid struct {
	bounds   Bounds
	spacing  geom.Vec
	dims     [3]int
	periodic Periodicity

	voxels   []Voxel
	face     [][]int
	extended [][]int
	forward  [][]int
}

// NewWithSpacing builds a grid over b with the requested voxel edge
// lengths. The node count per axis is ceil((max-min)/d) and Max is moved
// to Min + count*d so that every voxel has exactly the requested size.
func NewWithSpacing(b Bounds, spacing geom.Vec, p Periodicity) (*Grid, error) {
	g := &Grid{}
	if err := g.rebuild(b, spacing, [3]int{}, p); err != nil {
		return nil, err
	}
	return g, nil
}

// NewWithNodes builds a grid with nx*ny*nz voxels spanning b exactly.
func NewWithNodes(b Bounds, nx, ny, nz int, p Periodicity) (*Grid, error) {
	if nx < 1 || ny < 1 || nz < 1 {
		return nil, fmt.Errorf("%w: node counts %dx%dx%d", ErrInvalidSpacing, nx, ny, nz)
	}
	g := &Grid{}
	if err := g.rebuild(b, geom.Vec{}, [3]int{nx, ny, nz}, p); err != nil {
		return nil, err
	}
	return g, nil
}

// Resize rebuilds the grid in place from new bounds and spacing. Either
// every derived structure is rebuilt or, on error, the grid is unchanged.
// Dirichlet flags are cleared.
func (g *Grid) Resize(b Bounds, spacing geom.Vec) error {
	return g.rebuild(b, spacing, [3]int{}, g.periodic)
}

// rebuild computes a complete new state and only then swaps it in. When
// nodes is non-zero it takes precedence over spacing.
func (g *Grid) rebuild(b Bounds, spacing geom.Vec, nodes [3]int, p Periodicity) error {
	if err := b.validate(); err != nil {
		return err
	}

	var next Grid
	next.periodic = p
	next.bounds = b
	for axis := 0; axis < 3; axis++ {
		lo, hi := geom.Component(b.Min, axis), geom.Component(b.Max, axis)
		var d float64
		var n int
		if nodes[axis] > 0 {
			n = nodes[axis]
			d = (hi - lo) / float64(n)
		} else {
			d = geom.Component(spacing, axis)
			if !(d > 0) || math.IsInf(d, 0) {
				return fmt.Errorf("%w: axis %d spacing=%g", ErrInvalidSpacing, axis, d)
			}
			n = int(math.Ceil(1e-16 + (hi-lo)/d))
			if n < 1 {
				n = 1
			}
			next.bounds.Max = geom.WithComponent(next.bounds.Max, axis, lo+float64(n)*d)
		}
		next.dims[axis] = n
		next.spacing = geom.WithComponent(next.spacing, axis, d)
	}

	nx, ny, nz := next.dims[0], next.dims[1], next.dims[2]
	vol := next.spacing.X * next.spacing.Y * next.spacing.Z
	next.voxels = make([]Voxel, nx*ny*nz)
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				n := next.Linear(i, j, k)
				next.voxels[n] = Voxel{
					Index: n,
					Center: geom.Vec{
						X: b.Min.X + (float64(i)+0.5)*next.spacing.X,
						Y: b.Min.Y + (float64(j)+0.5)*next.spacing.Y,
						Z: b.Min.Z + (float64(k)+0.5)*next.spacing.Z,
					},
					Volume: vol,
				}
			}
		}
	}
	next.buildFaceAdjacency()
	next.buildExtendedAdjacency()

	*g = next
	return nil
}

// Dims returns the voxel counts per axis.
func (g *Grid) Dims() (nx, ny, nz int) { return g.dims[0], g.dims[1], g.dims[2] }

// AxisLen returns the voxel count along one axis.
func (g *Grid) AxisLen(axis int) int { return g.dims[axis] }

// Len returns the total number of voxels.
func (g *Grid) Len() int { return len(g.voxels) }

// Spacing returns the voxel edge lengths.
func (g *Grid) Spacing() geom.Vec { return g.spacing }

// Bounds returns the domain box actually covered by the voxels.
func (g *Grid) Bounds() Bounds { return g.bounds }

// Period returns the domain length per axis, used for minimum-image
// displacement correction.
func (g *Grid) Period() geom.Vec { return g.bounds.Size() }

// Periodicity returns the wrap flags the extended adjacency was built with.
func (g *Grid) Periodicity() Periodicity { return g.periodic }

// VoxelVolume returns the (uniform) voxel volume.
func (g *Grid) VoxelVolume() float64 {
	return g.spacing.X * g.spacing.Y * g.spacing.Z
}

// Voxel returns a copy of voxel n.
func (g *Grid) Voxel(n int) Voxel { return g.voxels[n] }

// Center returns the center of voxel n.
func (g *Grid) Center(n int) geom.Vec { return g.voxels[n].Center }

// Valid reports whether n is a voxel index of this grid.
func (g *Grid) Valid(n int) bool { return n >= 0 && n < len(g.voxels) }

// SetDirichlet flags or unflags voxel n as a fixed-value node.
func (g *Grid) SetDirichlet(n int, on bool) { g.voxels[n].Dirichlet = on }

// IsDirichlet reports the fixed-value flag of voxel n.
func (g *Grid) IsDirichlet(n int) bool { return g.voxels[n].Dirichlet }

// Linear maps (i,j,k) to the voxel index.
func (g *Grid) Linear(i, j, k int) int {
	return (k*g.dims[1]+j)*g.dims[0] + i
}

// Cartesian maps a voxel index back to (i,j,k).
func (g *Grid) Cartesian(n int) (i, j, k int) {
	nx, ny := g.dims[0], g.dims[1]
	k = n / (nx * ny)
	j = (n - k*nx*ny) / nx
	i = n - nx*(j+ny*k)
	return i, j, k
}

// NearestCartesian returns the (i,j,k) of the voxel containing p, clamping
// each axis to the grid.
func (g *Grid) NearestCartesian(p geom.Vec) (i, j, k int) {
	var c [3]int
	for axis := 0; axis < 3; axis++ {
		f := (geom.Component(p, axis) - geom.Component(g.bounds.Min, axis)) / geom.Component(g.spacing, axis)
		idx := 0
		if f > 0 {
			if f >= float64(g.dims[axis]) {
				idx = g.dims[axis] - 1
			} else {
				idx = int(math.Floor(f))
			}
		}
		c[axis] = idx
	}
	return c[0], c[1], c[2]
}

// NearestVoxel returns the index of the voxel containing p. Positions
// outside the domain map to the nearest boundary voxel; the result is
// always a valid index.
func (g *Grid) NearestVoxel(p geom.Vec) int {
	i, j, k := g.NearestCartesian(p)
	return g.Linear(i, j, k)
}

// Contains reports whether p lies inside the domain on every
// non-periodic axis. Periodic axes never disqualify a position.
func (g *Grid) Contains(p geom.Vec) bool {
	for axis := 0; axis < 3; axis++ {
		if g.periodic.Axis(axis) {
			continue
		}
		c := geom.Component(p, axis)
		if math.IsNaN(c) || c < geom.Component(g.bounds.Min, axis) || c > geom.Component(g.bounds.Max, axis) {
			return false
		}
	}
	return true
}

// Wrap folds p back into the domain along every periodic axis.
func (g *Grid) Wrap(p geom.Vec) geom.Vec {
	for axis := 0; axis < 3; axis++ {
		if !g.periodic.Axis(axis) {
			continue
		}
		c := geom.WrapCoordinate(geom.Component(p, axis), geom.Component(g.bounds.Min, axis), geom.Component(g.bounds.Max, axis))
		p = geom.WithComponent(p, axis, c)
	}
	return p
}

// Clamp projects p onto the closed domain box.
func (g *Grid) Clamp(p geom.Vec) geom.Vec {
	for axis := 0; axis < 3; axis++ {
		lo, hi := geom.Component(g.bounds.Min, axis), geom.Component(g.bounds.Max, axis)
		c := math.Min(math.Max(geom.Component(p, axis), lo), hi)
		p = geom.WithComponent(p, axis, c)
	}
	return p
}
