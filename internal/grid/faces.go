package grid

import (
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/oncosim/internal/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// Face is a bit set of domain boundary faces.
type Face uint8

const (
	XMin Face = 1 << iota
	XMax
	YMin
	YMax
	ZMin
	ZMax

	AllFaces = XMin | XMax | YMin | YMax | ZMin | ZMax
)

var faceNames = []struct {
	f    Face
	name string
}{
	{XMin, "xmin"}, {XMax, "xmax"},
	{YMin, "ymin"}, {YMax, "ymax"},
	{ZMin, "zmin"}, {ZMax, "zmax"},
}

// ParseFace accepts a face name ("xmin", ..., "zmax") or "all".
func ParseFace(s string) (Face, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "all" {
		return AllFaces, nil
	}
	for _, fn := range faceNames {
		if fn.name == s {
			return fn.f, nil
		}
	}
	return 0, fmt.Errorf("unknown face %q", s)
}

func (f Face) String() string {
	if f == AllFaces {
		return "all"
	}
	var parts []string
	for _, fn := range faceNames {
		if f&fn.f != 0 {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Axes returns, per axis, whether either face of that axis is set.
func (f Face) Axes() [3]bool {
	return [3]bool{f&(XMin|XMax) != 0, f&(YMin|YMax) != 0, f&(ZMin|ZMax) != 0}
}

// FaceVoxels returns the voxels lying on any of the requested faces, in
// ascending order and without duplicates.
func (g *Grid) FaceVoxels(f Face) []int {
	var out []int
	nx, ny, nz := g.Dims()
	for n := range g.voxels {
		i, j, k := g.Cartesian(n)
		on := (f&XMin != 0 && i == 0) || (f&XMax != 0 && i == nx-1) ||
			(f&YMin != 0 && j == 0) || (f&YMax != 0 && j == ny-1) ||
			(f&ZMin != 0 && k == 0) || (f&ZMax != 0 && k == nz-1)
		if on {
			out = append(out, n)
		}
	}
	return out
}

// TraverseSegment lists, in order, the voxels crossed by the segment from
// a to b using a 3D DDA walk. Both end points are first clamped into the
// domain.
func (g *Grid) TraverseSegment(a, b geom.Vec) []int {
	a, b = g.Clamp(a), g.Clamp(b)
	i, j, k := g.NearestCartesian(a)
	ei, ej, ek := g.NearestCartesian(b)
	cell := [3]int{i, j, k}
	end := [3]int{ei, ej, ek}

	out := []int{g.Linear(i, j, k)}
	dir := r3.Sub(b, a)
	if r3.Norm(dir) == 0 {
		return out
	}

	var step [3]int
	var tMax, tDelta [3]float64
	for axis := 0; axis < 3; axis++ {
		d := geom.Component(dir, axis)
		h := geom.Component(g.spacing, axis)
		lo := geom.Component(g.bounds.Min, axis)
		p := geom.Component(a, axis)
		switch {
		case d > 0:
			step[axis] = 1
			tMax[axis] = (lo + float64(cell[axis]+1)*h - p) / d
			tDelta[axis] = h / d
		case d < 0:
			step[axis] = -1
			tMax[axis] = (lo + float64(cell[axis])*h - p) / d
			tDelta[axis] = -h / d
		default:
			tMax[axis] = math.Inf(1)
			tDelta[axis] = math.Inf(1)
		}
	}

	// The walk can take at most one step per crossed plane.
	limit := g.dims[0] + g.dims[1] + g.dims[2]
	for cell != end && limit > 0 {
		limit--
		axis := 0
		if tMax[1] < tMax[axis] {
			axis = 1
		}
		if tMax[2] < tMax[axis] {
			axis = 2
		}
		if tMax[axis] > 1 {
			break
		}
		cell[axis] += step[axis]
		if cell[axis] < 0 || cell[axis] >= g.dims[axis] {
			break
		}
		tMax[axis] += tDelta[axis]
		out = append(out, g.Linear(cell[0], cell[1], cell[2]))
	}
	return out
}
