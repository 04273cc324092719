package biology

import (
	"math"

	"github.com/banshee-data/oncosim/internal/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// SphereLattice returns cell centres packed hexagonally inside a sphere of
// the given radius around centre.
func SphereLattice(centre geom.Vec, radius, cellRadius float64) []geom.Vec {
	if radius <= 0 || cellRadius <= 0 {
		return nil
	}
	var out []geom.Vec
	zStep := cellRadius * math.Sqrt(3)
	yStep := cellRadius * math.Sqrt(3)
	xStep := 2 * cellRadius

	zc := 0
	for z := -radius; z < radius; z += zStep {
		zc++
		xc := 0
		for x := -radius; x < radius; x += xStep {
			xc++
			for y := -radius; y < radius; y += yStep {
				p := geom.Vec{
					X: x + float64(zc%2)*0.5*cellRadius,
					Y: y + float64(xc%2)*cellRadius,
					Z: z,
				}
				if r3.Norm(p) < radius {
					out = append(out, r3.Add(centre, p))
				}
			}
		}
	}
	return out
}

// UniformPoints draws n points uniformly in the box [lo, hi).
func (m *Model) UniformPoints(n int, lo, hi geom.Vec) []geom.Vec {
	out := make([]geom.Vec, n)
	span := r3.Sub(hi, lo)
	for i := range out {
		out[i] = geom.Vec{
			X: lo.X + span.X*m.rng.Float64(),
			Y: lo.Y + span.Y*m.rng.Float64(),
			Z: lo.Z + span.Z*m.rng.Float64(),
		}
	}
	return out
}
