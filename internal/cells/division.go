package cells

import (
	"github.com/banshee-data/oncosim/internal/geom"
	"gonum.org/v1/gonum/spatial/r3"
)

// divisionOffset places mother and daughter so that two spheres of half
// the volume touch at the old centre.
const divisionOffset = 0.206299474

// Split divides mother along dir (need not be normalised). The mother
// keeps half the volume and moves back along dir; the returned daughter
// has the other half, moves forward, and copies mechanics, secretion
// rates and type. The daughter is unregistered with ID 0; the biology
// layer should give it its own State before returning it in a Fate.
func Split(mother *Cell, dir geom.Vec) *Cell {
	if r3.Norm(dir) > 0 {
		dir = r3.Unit(dir)
	} else {
		dir = geom.Vec{X: 1}
	}
	offset := divisionOffset * mother.Radius

	daughter := NewCell(mother.Type, geom.Axpy(offset, dir, mother.Position), mother.Radius)
	daughter.Mechanics = mother.Mechanics
	daughter.State = mother.State
	daughter.SetSecretion(mother.secretion.clone())

	mother.Position = geom.Axpy(-offset, dir, mother.Position)
	half := mother.volume / 2
	mother.SetVolume(half)
	daughter.SetVolume(half)
	return daughter
}
