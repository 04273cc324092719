package config

import (
	"github.com/banshee-data/oncosim/internal/geom"
	"github.com/banshee-data/oncosim/internal/grid"
)

// Get* accessors return the configured value or the built-in default.

// GetDomainMin returns the lower domain corner.
func (c *SimulationConfig) GetDomainMin() [3]float64 {
	if c.Domain == nil || c.Domain.Min == nil {
		return [3]float64{-500, -500, -500} // default
	}
	return *c.Domain.Min
}

// GetDomainMax returns the upper domain corner.
func (c *SimulationConfig) GetDomainMax() [3]float64 {
	if c.Domain == nil || c.Domain.Max == nil {
		return [3]float64{500, 500, 500} // default
	}
	return *c.Domain.Max
}

// GetVoxelSize returns the diffusion voxel edge lengths.
func (c *SimulationConfig) GetVoxelSize() [3]float64 {
	if c.Domain == nil || c.Domain.VoxelSize == nil {
		return [3]float64{20, 20, 20} // default
	}
	return *c.Domain.VoxelSize
}

// GetPeriodicity returns the per-axis wrap flags.
func (c *SimulationConfig) GetPeriodicity() grid.Periodicity {
	if c.Domain == nil || c.Domain.Periodic == nil {
		return grid.Periodicity{}
	}
	p := *c.Domain.Periodic
	return grid.Periodicity{X: p[0], Y: p[1], Z: p[2]}
}

func (c *SimulationConfig) GetMechanicsVoxelSize() float64 {
	if c.MechanicsVoxelSize == nil {
		return 30.0 // default
	}
	return *c.MechanicsVoxelSize
}

func (c *SimulationConfig) GetDtDiffusion() float64 {
	if c.DtDiffusion == nil {
		return 0.01 // default
	}
	return *c.DtDiffusion
}

func (c *SimulationConfig) GetDtMechanics() float64 {
	if c.DtMechanics == nil {
		return 0.1 // default
	}
	return *c.DtMechanics
}

func (c *SimulationConfig) GetDtBiology() float64 {
	if c.DtBiology == nil {
		return 6.0 // default
	}
	return *c.DtBiology
}

func (c *SimulationConfig) GetMaxTime() float64 {
	if c.MaxTime == nil {
		return 7200.0 // default
	}
	return *c.MaxTime
}

func (c *SimulationConfig) GetSaveInterval() float64 {
	if c.SaveInterval == nil {
		return 720.0 // default
	}
	return *c.SaveInterval
}

func (c *SimulationConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0 // default: GOMAXPROCS
	}
	return *c.Workers
}

func (c *SimulationConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 0 // default
	}
	return *c.Seed
}

// GetSubstrates returns the configured substrates, or oxygen and the
// immunostimulatory factor when none are listed.
func (c *SimulationConfig) GetSubstrates() []SubstrateConfig {
	if len(c.Substrates) == 0 {
		return DefaultSubstrates()
	}
	return c.Substrates
}

func (c *SimulationConfig) GetTumorRadius() float64 {
	if c.Tumor == nil || c.Tumor.Radius == nil {
		return 60.0 // default
	}
	return *c.Tumor.Radius
}

func (c *SimulationConfig) GetCellRadius() float64 {
	if c.Tumor == nil || c.Tumor.CellRadius == nil {
		return 8.412710547954228 // default: 2494 cubic micron cell
	}
	return *c.Tumor.CellRadius
}

func (c *SimulationConfig) GetImmuneCount() int {
	if c.Immune == nil || c.Immune.Count == nil {
		return 0 // default
	}
	return *c.Immune.Count
}

func (c *SimulationConfig) GetImmuneSpeed() float64 {
	if c.Immune == nil || c.Immune.Speed == nil {
		return 4.0 // default
	}
	return *c.Immune.Speed
}

func (c *SimulationConfig) GetKillRate() float64 {
	if c.Immune == nil || c.Immune.KillRate == nil {
		return 0.06667 // default
	}
	return *c.Immune.KillRate
}

// BiologyRates is BiologyConfig with every default resolved.
type BiologyRates struct {
	ProliferationRate float64
	ApoptosisRate     float64
	NecrosisRate      float64
	NecrosisThreshold float64
	OxygenSaturation  float64
	OxygenUptake      float64
	SignalSecretion   float64
	SignalSaturation  float64
	ApoptoticDuration float64
	NecroticDuration  float64
}

// DefaultBiologyRates returns the reference tumor model rates.
func DefaultBiologyRates() BiologyRates {
	return BiologyRates{
		ProliferationRate: 0.00072,
		ApoptosisRate:     5.31667e-05,
		NecrosisRate:      0.00277778,
		NecrosisThreshold: 5.0,
		OxygenSaturation:  38.0,
		OxygenUptake:      10.0,
		SignalSecretion:   10.0,
		SignalSaturation:  1.0,
		ApoptoticDuration: 516.0,
		NecroticDuration:  86400.0,
	}
}

// GetBiology resolves the biology block against DefaultBiologyRates.
func (c *SimulationConfig) GetBiology() BiologyRates {
	r := DefaultBiologyRates()
	b := c.Biology
	if b == nil {
		return r
	}
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&r.ProliferationRate, b.ProliferationRate)
	set(&r.ApoptosisRate, b.ApoptosisRate)
	set(&r.NecrosisRate, b.NecrosisRate)
	set(&r.NecrosisThreshold, b.NecrosisThreshold)
	set(&r.OxygenSaturation, b.OxygenSaturation)
	set(&r.OxygenUptake, b.OxygenUptake)
	set(&r.SignalSecretion, b.SignalSecretion)
	set(&r.SignalSaturation, b.SignalSaturation)
	set(&r.ApoptoticDuration, b.ApoptoticDuration)
	set(&r.NecroticDuration, b.NecroticDuration)
	return r
}

// DomainBounds returns the configured box as grid bounds.
func (c *SimulationConfig) DomainBounds() grid.Bounds {
	lo, hi := c.GetDomainMin(), c.GetDomainMax()
	return grid.Bounds{
		Min: geom.Vec{X: lo[0], Y: lo[1], Z: lo[2]},
		Max: geom.Vec{X: hi[0], Y: hi[1], Z: hi[2]},
	}
}
