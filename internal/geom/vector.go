// Package geom holds the 3D vector primitives shared by the grid, the
// microenvironment and the cell container.
//
// Positions, velocities and gradients are plain gonum r3 vectors so the
// rest of the code can use the r3 free functions directly.
package geom

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vec is a point or displacement in simulation space.
type Vec = r3.Vec

// Zero is the origin.
var Zero = Vec{}

// Axpy returns y + a*x.
func Axpy(a float64, x, y Vec) Vec {
	return Vec{X: y.X + a*x.X, Y: y.Y + a*x.Y, Z: y.Z + a*x.Z}
}

// Distance returns |p - q|.
func Distance(p, q Vec) float64 {
	return r3.Norm(r3.Sub(p, q))
}

// Component returns the axis-th coordinate (0=x, 1=y, 2=z).
func Component(v Vec, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// WithComponent returns v with its axis-th coordinate replaced by c.
func WithComponent(v Vec, axis int, c float64) Vec {
	switch axis {
	case 0:
		v.X = c
	case 1:
		v.Y = c
	default:
		v.Z = c
	}
	return v
}

// WrapDisplacement reduces each component of d into [-period/2, period/2]
// (minimum image). A non-positive period leaves that component unchanged.
func WrapDisplacement(d, period Vec) Vec {
	return Vec{
		X: wrap1(d.X, period.X),
		Y: wrap1(d.Y, period.Y),
		Z: wrap1(d.Z, period.Z),
	}
}

func wrap1(d, p float64) float64 {
	if p <= 0 {
		return d
	}
	return d - p*math.Round(d/p)
}

// WrapCoordinate folds x into [lo, hi) treating the interval as periodic.
func WrapCoordinate(x, lo, hi float64) float64 {
	l := hi - lo
	if l <= 0 {
		return x
	}
	if x >= lo && x < hi {
		return x
	}
	m := math.Mod(x-lo, l)
	if m < 0 {
		m += l
	}
	// Mod can land exactly on l after the sign correction.
	if m >= l {
		m = 0
	}
	return lo + m
}

// RandomUnit returns a uniformly distributed direction on the unit sphere.
func RandomUnit(rng *rand.Rand) Vec {
	for {
		v := Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		if n := r3.Norm(v); n > 1e-12 {
			return r3.Scale(1/n, v)
		}
	}
}
