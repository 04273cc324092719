package microenv

import (
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/oncosim/internal/geom"
)

// Substrate describes one diffusing chemical field.
type Substrate struct {
	Name                 string
	Units                string
	DiffusionCoefficient float64 // length^2 / time
	DecayRate            float64 // 1 / time
	InitialCondition     float64 // density copied into every voxel on registration
}

// LengthScale returns sqrt(D/decay), the distance over which a point
// source decays by 1/e. It is +Inf for a non-decaying substrate.
func (s Substrate) LengthScale() float64 {
	if s.DecayRate <= 0 {
		return math.Inf(1)
	}
	return math.Sqrt(s.DiffusionCoefficient / s.DecayRate)
}

func (s Substrate) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidSubstrate)
	}
	if s.DiffusionCoefficient < 0 || math.IsNaN(s.DiffusionCoefficient) {
		return fmt.Errorf("%w: %q diffusion coefficient must be non-negative, got %g", ErrInvalidSubstrate, s.Name, s.DiffusionCoefficient)
	}
	if s.DecayRate < 0 || math.IsNaN(s.DecayRate) {
		return fmt.Errorf("%w: %q decay rate must be non-negative, got %g", ErrInvalidSubstrate, s.Name, s.DecayRate)
	}
	return nil
}

// Substrates returns a copy of the registry in index order.
func (m *Microenvironment) Substrates() []Substrate {
	return append([]Substrate(nil), m.substrates...)
}

// Substrate returns the definition at index s.
func (m *Microenvironment) Substrate(s int) (Substrate, error) {
	if err := m.checkSubstrate(s); err != nil {
		return Substrate{}, err
	}
	return m.substrates[s], nil
}

// FindSubstrate returns the index of the substrate with the given name.
func (m *Microenvironment) FindSubstrate(name string) (int, error) {
	for i, s := range m.substrates {
		if s.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownSubstrate, name)
}

// AddSubstrate registers a new substrate and returns its index. Every
// per-voxel vector grows by one entry in a single swap, so no caller can
// observe vectors of differing lengths. The new substrate starts at its
// initial condition everywhere with Dirichlet activation off, and the
// solver cache is invalidated.
func (m *Microenvironment) AddSubstrate(sub Substrate) (int, error) {
	if err := sub.validate(); err != nil {
		return -1, err
	}
	for _, s := range m.substrates {
		if s.Name == sub.Name {
			return -1, fmt.Errorf("%w: duplicate name %q", ErrInvalidSubstrate, sub.Name)
		}
	}

	old := len(m.substrates)
	next := old + 1
	voxels := m.grid.Len()

	density := make([]float64, voxels*next)
	value := make([]float64, voxels*next)
	active := make([]bool, voxels*next)
	for n := 0; n < voxels; n++ {
		copy(density[n*next:n*next+old], m.density[n*old:(n+1)*old])
		copy(value[n*next:n*next+old], m.dirichletValue[n*old:(n+1)*old])
		copy(active[n*next:n*next+old], m.dirichletActive[n*old:(n+1)*old])
		density[n*next+old] = sub.InitialCondition
	}

	m.substrates = append(m.substrates, sub)
	m.density = density
	m.dirichletValue = value
	m.dirichletActive = active
	m.defaultActive = append(m.defaultActive, true)
	m.gradient = make([]geom.Vec, voxels*next)
	m.gradReady = make([]bool, voxels)
	m.Invalidate()
	return old, nil
}
