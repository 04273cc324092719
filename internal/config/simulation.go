package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/oncosim/internal/cells"
	"github.com/banshee-data/oncosim/internal/grid"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical simulation defaults file.
const DefaultConfigPath = "config/simulation.defaults.json"

// ErrPeriodicDirichlet is returned when a substrate holds Dirichlet values
// on a face of a periodic axis. A periodic axis has no boundary face, so
// the combination has no meaning.
var ErrPeriodicDirichlet = errors.New("dirichlet face on periodic axis")

// SimulationConfig is the root run configuration. Every field is optional;
// the Get* accessors fall back to the built-in defaults so partial files
// are safe.
type SimulationConfig struct {
	Domain *DomainConfig `json:"domain,omitempty"`

	// Mechanics voxel edge length. The mechanics grid shares the domain
	// bounds and periodicity with the diffusion grid.
	MechanicsVoxelSize *float64 `json:"mechanics_voxel_size,omitempty"`

	DtDiffusion  *float64 `json:"dt_diffusion,omitempty"`
	DtMechanics  *float64 `json:"dt_mechanics,omitempty"`
	DtBiology    *float64 `json:"dt_biology,omitempty"`
	MaxTime      *float64 `json:"max_time,omitempty"`
	SaveInterval *float64 `json:"save_interval,omitempty"`

	Workers *int    `json:"workers,omitempty"` // 0 = GOMAXPROCS
	Seed    *uint64 `json:"seed,omitempty"`

	Substrates []SubstrateConfig `json:"substrates,omitempty"`
	Vessels    []VesselConfig    `json:"vessels,omitempty"`

	Tumor   *TumorConfig   `json:"tumor,omitempty"`
	Immune  *ImmuneConfig  `json:"immune,omitempty"`
	Biology *BiologyConfig `json:"biology,omitempty"`
}

// DomainConfig describes the simulated box and its diffusion grid. Either
// VoxelSize or Nodes selects the resolution; Nodes wins when both are set.
type DomainConfig struct {
	Min       *[3]float64 `json:"min,omitempty"`
	Max       *[3]float64 `json:"max,omitempty"`
	VoxelSize *[3]float64 `json:"voxel_size,omitempty"`
	Nodes     *[3]int     `json:"nodes,omitempty"`
	Periodic  *[3]bool    `json:"periodic,omitempty"`
}

// SubstrateConfig is one diffusing field.
type SubstrateConfig struct {
	Name                 string   `json:"name"`
	Units                string   `json:"units,omitempty"`
	DiffusionCoefficient float64  `json:"diffusion_coefficient"`
	DecayRate            float64  `json:"decay_rate"`
	InitialCondition     float64  `json:"initial_condition"`
	DirichletValue       float64  `json:"dirichlet_value"`
	DirichletEnabled     bool     `json:"dirichlet_enabled"`
	DirichletFaces       []string `json:"dirichlet_faces,omitempty"` // "xmin".."zmax" or "all"
}

// VesselConfig is a straight vessel segment supplying fixed densities.
// Substrates missing from Values are held at their dirichlet_value.
type VesselConfig struct {
	From   [3]float64         `json:"from"`
	To     [3]float64         `json:"to"`
	Values map[string]float64 `json:"values,omitempty"`
}

// TumorConfig seeds a spherical tumor at the domain centre.
type TumorConfig struct {
	Radius     *float64 `json:"radius,omitempty"`
	CellRadius *float64 `json:"cell_radius,omitempty"`
}

// ImmuneConfig seeds lymphocytes uniformly at random in the domain.
type ImmuneConfig struct {
	Count    *int     `json:"count,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
	KillRate *float64 `json:"kill_rate,omitempty"` // per unit time at unit oncoprotein
}

// BiologyConfig holds the reference tumor model rates (per unit time).
type BiologyConfig struct {
	ProliferationRate *float64 `json:"proliferation_rate,omitempty"`
	ApoptosisRate     *float64 `json:"apoptosis_rate,omitempty"`
	NecrosisRate      *float64 `json:"necrosis_rate,omitempty"`
	NecrosisThreshold *float64 `json:"necrosis_threshold,omitempty"`
	OxygenSaturation  *float64 `json:"oxygen_saturation,omitempty"`
	OxygenUptake      *float64 `json:"oxygen_uptake,omitempty"`
	SignalSecretion   *float64 `json:"signal_secretion,omitempty"`
	SignalSaturation  *float64 `json:"signal_saturation,omitempty"`
	ApoptoticDuration *float64 `json:"apoptotic_duration,omitempty"`
	NecroticDuration  *float64 `json:"necrotic_duration,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptySimulationConfig returns a config with every field unset.
func EmptySimulationConfig() *SimulationConfig {
	return &SimulationConfig{}
}

// DefaultSubstrates is the oxygen plus immunostimulatory factor setup.
func DefaultSubstrates() []SubstrateConfig {
	return []SubstrateConfig{
		{
			Name: "oxygen", Units: "mmHg",
			DiffusionCoefficient: 1e5, DecayRate: 0.1,
			InitialCondition: 38, DirichletValue: 38, DirichletEnabled: true,
			DirichletFaces: []string{"all"},
		},
		{
			Name: "immunostimulatory factor", Units: "dimensionless",
			DiffusionCoefficient: 1000, DecayRate: 0.016,
		},
	}
}

// DefaultSimulationConfig returns a fully populated config with the
// built-in defaults.
func DefaultSimulationConfig() *SimulationConfig {
	c := EmptySimulationConfig()
	c.Domain = &DomainConfig{
		Min:       &[3]float64{-500, -500, -500},
		Max:       &[3]float64{500, 500, 500},
		VoxelSize: &[3]float64{20, 20, 20},
		Periodic:  &[3]bool{},
	}
	c.MechanicsVoxelSize = ptrFloat64(c.GetMechanicsVoxelSize())
	c.DtDiffusion = ptrFloat64(c.GetDtDiffusion())
	c.DtMechanics = ptrFloat64(c.GetDtMechanics())
	c.DtBiology = ptrFloat64(c.GetDtBiology())
	c.MaxTime = ptrFloat64(c.GetMaxTime())
	c.SaveInterval = ptrFloat64(c.GetSaveInterval())
	c.Workers = ptrInt(0)
	c.Seed = ptrUint64(0)
	c.Substrates = DefaultSubstrates()
	c.Tumor = &TumorConfig{Radius: ptrFloat64(60), CellRadius: ptrFloat64(8.412710547954228)}
	c.Immune = &ImmuneConfig{Count: ptrInt(0), Speed: ptrFloat64(4), KillRate: ptrFloat64(c.GetKillRate())}
	r := DefaultBiologyRates()
	c.Biology = &BiologyConfig{
		ProliferationRate: ptrFloat64(r.ProliferationRate),
		ApoptosisRate:     ptrFloat64(r.ApoptosisRate),
		NecrosisRate:      ptrFloat64(r.NecrosisRate),
		NecrosisThreshold: ptrFloat64(r.NecrosisThreshold),
		OxygenSaturation:  ptrFloat64(r.OxygenSaturation),
		OxygenUptake:      ptrFloat64(r.OxygenUptake),
		SignalSecretion:   ptrFloat64(r.SignalSecretion),
		SignalSaturation:  ptrFloat64(r.SignalSaturation),
		ApoptoticDuration: ptrFloat64(r.ApoptoticDuration),
		NecroticDuration:  ptrFloat64(r.NecroticDuration),
	}
	return c
}

// LoadSimulationConfig loads a SimulationConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults.
func LoadSimulationConfig(path string) (*SimulationConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if ext != ".json" {
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	cfg := EmptySimulationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share the
// json tags and the unknown-field behaviour of encoding/json.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current
// directory or one of its parents. Panics if the file cannot be loaded,
// intended for test setup.
func MustLoadDefaultConfig() *SimulationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadSimulationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the configuration. It is run once at load time; the
// simulation never re-validates mid-run.
func (c *SimulationConfig) Validate() error {
	min, max := c.GetDomainMin(), c.GetDomainMax()
	for axis := 0; axis < 3; axis++ {
		if !(min[axis] < max[axis]) {
			return fmt.Errorf("domain min must be below max on axis %d, got [%g, %g]", axis, min[axis], max[axis])
		}
	}
	if c.Domain != nil && c.Domain.Nodes != nil {
		for axis, n := range c.Domain.Nodes {
			if n < 1 {
				return fmt.Errorf("domain nodes must be positive, got %d on axis %d", n, axis)
			}
		}
	} else {
		for axis, d := range c.GetVoxelSize() {
			if !(d > 0) || math.IsInf(d, 0) {
				return fmt.Errorf("voxel_size must be positive, got %f on axis %d", d, axis)
			}
		}
	}

	if d := c.GetMechanicsVoxelSize(); !(d > 0) {
		return fmt.Errorf("mechanics_voxel_size must be positive, got %f", d)
	}
	for _, v := range []struct {
		name string
		val  float64
	}{
		{"dt_diffusion", c.GetDtDiffusion()},
		{"dt_mechanics", c.GetDtMechanics()},
		{"dt_biology", c.GetDtBiology()},
		{"max_time", c.GetMaxTime()},
		{"save_interval", c.GetSaveInterval()},
	} {
		if !(v.val > 0) || math.IsInf(v.val, 0) {
			return fmt.Errorf("%s must be positive, got %f", v.name, v.val)
		}
	}
	if c.GetDtMechanics() < c.GetDtDiffusion() {
		return fmt.Errorf("dt_mechanics (%g) must not be shorter than dt_diffusion (%g)", c.GetDtMechanics(), c.GetDtDiffusion())
	}
	if c.GetDtBiology() < c.GetDtMechanics() {
		return fmt.Errorf("dt_biology (%g) must not be shorter than dt_mechanics (%g)", c.GetDtBiology(), c.GetDtMechanics())
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}

	periodic := c.GetPeriodicity()
	seen := make(map[string]bool)
	for i, s := range c.GetSubstrates() {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("substrate %d: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("substrate %q defined twice", s.Name)
		}
		seen[s.Name] = true
		if s.DiffusionCoefficient < 0 || s.DecayRate < 0 {
			return fmt.Errorf("substrate %q: diffusion_coefficient and decay_rate must be non-negative", s.Name)
		}
		faces, err := s.Faces()
		if err != nil {
			return fmt.Errorf("substrate %q: %w", s.Name, err)
		}
		for axis, on := range faces.Axes() {
			if on && periodic.Axis(axis) {
				return fmt.Errorf("substrate %q: %w (axis %d)", s.Name, ErrPeriodicDirichlet, axis)
			}
		}
	}
	for i, v := range c.Vessels {
		for name := range v.Values {
			if !seen[name] {
				return fmt.Errorf("vessel %d: unknown substrate %q", i, name)
			}
		}
	}

	if r := c.GetTumorRadius(); r < 0 {
		return fmt.Errorf("tumor radius must be non-negative, got %f", r)
	}
	if r := c.GetCellRadius(); !(r > 0) {
		return fmt.Errorf("tumor cell_radius must be positive, got %f", r)
	}
	if need := cells.MinVoxelSize(cells.DefaultMechanics(), c.GetCellRadius()); c.GetMechanicsVoxelSize() < need {
		return fmt.Errorf("mechanics_voxel_size (%g) must be at least %g for cell_radius %g", c.GetMechanicsVoxelSize(), need, c.GetCellRadius())
	}
	if n := c.GetImmuneCount(); n < 0 {
		return fmt.Errorf("immune count must be non-negative, got %d", n)
	}
	if v := c.GetImmuneSpeed(); v < 0 {
		return fmt.Errorf("immune speed must be non-negative, got %f", v)
	}
	if k := c.GetKillRate(); k < 0 {
		return fmt.Errorf("immune kill_rate must be non-negative, got %f", k)
	}
	return c.validateBiology()
}

func (c *SimulationConfig) validateBiology() error {
	b := c.GetBiology()
	for name, v := range map[string]float64{
		"proliferation_rate": b.ProliferationRate,
		"apoptosis_rate":     b.ApoptosisRate,
		"necrosis_rate":      b.NecrosisRate,
		"necrosis_threshold": b.NecrosisThreshold,
		"oxygen_uptake":      b.OxygenUptake,
		"signal_secretion":   b.SignalSecretion,
		"signal_saturation":  b.SignalSaturation,
	} {
		if v < 0 {
			return fmt.Errorf("biology %s must be non-negative, got %f", name, v)
		}
	}
	if !(b.OxygenSaturation > b.NecrosisThreshold) {
		return fmt.Errorf("biology oxygen_saturation (%g) must exceed necrosis_threshold (%g)", b.OxygenSaturation, b.NecrosisThreshold)
	}
	if !(b.ApoptoticDuration > 0) || !(b.NecroticDuration > 0) {
		return fmt.Errorf("biology apoptotic_duration and necrotic_duration must be positive")
	}
	return nil
}

// Faces parses DirichletFaces. An enabled substrate with no faces listed
// uses every face.
func (s SubstrateConfig) Faces() (grid.Face, error) {
	if !s.DirichletEnabled {
		return 0, nil
	}
	if len(s.DirichletFaces) == 0 {
		return grid.AllFaces, nil
	}
	var f grid.Face
	for _, name := range s.DirichletFaces {
		face, err := grid.ParseFace(name)
		if err != nil {
			return 0, err
		}
		f |= face
	}
	return f, nil
}
