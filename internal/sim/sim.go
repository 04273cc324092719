// Package sim drives a full run: it builds the microenvironment and the
// cell container from a SimulationConfig, seeds the tumor and immune
// cells, steps everything on the diffusion clock and records snapshots.
package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/oncosim/internal/biology"
	"github.com/banshee-data/oncosim/internal/cells"
	"github.com/banshee-data/oncosim/internal/config"
	"github.com/banshee-data/oncosim/internal/fsutil"
	"github.com/banshee-data/oncosim/internal/geom"
	"github.com/banshee-data/oncosim/internal/microenv"
	"github.com/banshee-data/oncosim/internal/monitoring"
	"github.com/banshee-data/oncosim/internal/parallel"
	"github.com/banshee-data/oncosim/internal/report"
	"github.com/banshee-data/oncosim/internal/store"
	"github.com/banshee-data/oncosim/internal/timeutil"
	"github.com/banshee-data/oncosim/internal/units"
	"github.com/banshee-data/oncosim/internal/version"
	"gonum.org/v1/gonum/spatial/r3"
)

// Substrate names the reference biology looks up.
const (
	OxygenName = "oxygen"
	SignalName = "immunostimulatory factor"
)

// saveTolerance lets a save fire slightly early to absorb drift in t.
const saveTolerance = 1e-3

// Options configures a Simulation. Only Config is required.
type Options struct {
	Config *config.SimulationConfig

	// DB receives run metadata and snapshots when set.
	DB *store.DB

	// OutputDir receives plots and slice pages when non-empty.
	OutputDir string
	FS        fsutil.FileSystem

	Clock         timeutil.Clock
	ProgressEvery time.Duration // wall time between progress lines
}

// Summary describes a finished (or interrupted) run.
type Summary struct {
	RunID       string
	Time        float64
	Steps       int
	Snapshots   int
	Cells       int
	Live        int
	Apoptotic   int
	Necrotic    int
	Lymphocytes int
	Divisions   int
	Removals    int
	Wall        time.Duration
}

// Simulation owns every component of one run.
type Simulation struct {
	cfg   *config.SimulationConfig
	opts  Options
	steps cells.Timesteps

	pool      *parallel.Pool
	env       *microenv.Microenvironment
	container *cells.Container
	model     *biology.Model
	oxygen    int
	signal    int

	t         float64
	nsteps    int
	lastSave  float64
	snapshots int

	// Since the previous snapshot, and over the whole run.
	divisions, removals           int
	totalDivisions, totalRemovals int

	series *report.TimeSeries
	runID  string
}

// New builds a simulation and seeds its cells.
func New(opts Options) (*Simulation, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("sim: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 10 * time.Second
	}

	s := &Simulation{
		cfg:  cfg,
		opts: opts,
		steps: cells.Timesteps{
			Diffusion: cfg.GetDtDiffusion(),
			Mechanics: cfg.GetDtMechanics(),
			Biology:   cfg.GetDtBiology(),
		},
		pool:   parallel.New(cfg.GetWorkers()),
		series: report.NewTimeSeries(),
	}

	env, err := cfg.BuildMicroenvironment(s.pool)
	if err != nil {
		return nil, err
	}
	s.env = env
	s.oxygen = substrateIndex(env, OxygenName)
	s.signal = substrateIndex(env, SignalName)

	mech, err := cfg.BuildMechanicsGrid(env.Grid())
	if err != nil {
		return nil, fmt.Errorf("building mechanics grid: %w", err)
	}

	s.model = biology.New(biology.Params{
		Rates:       cfg.GetBiology(),
		Oxygen:      s.oxygen,
		Signal:      s.signal,
		Substrates:  env.NumSubstrates(),
		CellRadius:  cfg.GetCellRadius(),
		ImmuneSpeed: cfg.GetImmuneSpeed(),
		KillRate:    cfg.GetKillRate(),
	}, cfg.GetSeed())
	s.container = cells.NewContainer(mech, env, s.model, s.pool)

	if err := s.seed(); err != nil {
		return nil, err
	}
	env.LogSummary()
	monitoring.Logf("seeded %d cells (%d workers, mechanics grid %dx%dx%d)",
		s.container.Len(), s.pool.Workers(), mech.AxisLen(0), mech.AxisLen(1), mech.AxisLen(2))
	return s, nil
}

func substrateIndex(env *microenv.Microenvironment, name string) int {
	i, err := env.FindSubstrate(name)
	if err != nil {
		monitoring.Logf("substrate %q not configured; dependent biology disabled", name)
		return -1
	}
	return i
}

// seed places a tumor sphere at the domain centre and scatters
// lymphocytes uniformly over the domain.
func (s *Simulation) seed() error {
	b := s.env.Grid().Bounds()
	for _, p := range biology.SphereLattice(s.centre(), s.cfg.GetTumorRadius(), s.cfg.GetCellRadius()) {
		if err := s.container.Register(s.model.NewTumorCell(p)); err != nil {
			return err
		}
	}
	for _, p := range s.model.UniformPoints(s.cfg.GetImmuneCount(), b.Min, b.Max) {
		if err := s.container.Register(s.model.NewLymphocyte(p)); err != nil {
			return err
		}
	}
	return nil
}

// Time returns the current simulation time.
func (s *Simulation) Time() float64 { return s.t }

// Environment returns the microenvironment.
func (s *Simulation) Environment() *microenv.Microenvironment { return s.env }

// Container returns the cell container.
func (s *Simulation) Container() *cells.Container { return s.container }

// Model returns the biology model.
func (s *Simulation) Model() *biology.Model { return s.model }

// ResizeDiffusionGrid rebuilds the diffusion grid over the same box with a
// new voxel spacing. Densities restart from their initial conditions, the
// configured Dirichlet nodes are reinstalled and every cell is rebound to
// the new voxels. The mechanics grid is left alone.
func (s *Simulation) ResizeDiffusionGrid(spacing geom.Vec) error {
	if err := s.env.ResizeGrid(s.env.Grid().Bounds(), spacing); err != nil {
		return err
	}
	if err := s.cfg.InstallDirichlet(s.env); err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	s.container.RebindEnvironment()
	return nil
}

// Step advances the run by one diffusion step.
func (s *Simulation) Step() (cells.StepStats, error) {
	begin := s.opts.Clock.Now()
	if err := s.env.Advance(s.steps.Diffusion); err != nil {
		return cells.StepStats{}, fmt.Errorf("t=%g: diffusion: %w", s.t, err)
	}
	s.t += s.steps.Diffusion
	s.nsteps++

	if s.signal >= 0 && s.container.MechanicsDue(s.t, s.steps) {
		s.env.ComputeAllGradients()
	}
	st, err := s.container.Step(s.t, s.steps)
	if err != nil {
		return st, fmt.Errorf("t=%g: cells: %w", s.t, err)
	}
	s.divisions += st.Divisions
	s.removals += st.Removals
	s.totalDivisions += st.Divisions
	s.totalRemovals += st.Removals

	stepsTotal.Inc()
	stepDuration.Observe(s.opts.Clock.Since(begin).Seconds())
	cellEventsTotal.WithLabelValues("division").Add(float64(st.Divisions))
	cellEventsTotal.WithLabelValues("removal").Add(float64(st.Removals))
	simTimeMinutes.Set(s.t)
	return st, nil
}

// Run steps until max_time, saving every save_interval. It checks ctx
// between steps; on cancellation the run is closed as cancelled with the
// partial results written out and ctx.Err() returned. Database writes are
// never interrupted so the run record stays consistent.
func (s *Simulation) Run(ctx context.Context) (Summary, error) {
	start := s.opts.Clock.Now()
	dbctx := context.WithoutCancel(ctx)
	if err := s.beginRun(dbctx); err != nil {
		return Summary{}, err
	}
	if err := s.save(dbctx, start); err != nil {
		return s.finish(dbctx, start, store.StatusFailed, err)
	}

	maxTime := s.cfg.GetMaxTime()
	interval := s.cfg.GetSaveInterval()
	lastLog := start
	for s.t < maxTime-s.steps.Diffusion/2 {
		if err := ctx.Err(); err != nil {
			return s.finish(dbctx, start, store.StatusCancelled, err)
		}
		if _, err := s.Step(); err != nil {
			return s.finish(dbctx, start, store.StatusFailed, err)
		}
		if s.t-s.lastSave >= interval*(1-saveTolerance) {
			if err := s.save(dbctx, start); err != nil {
				return s.finish(dbctx, start, store.StatusFailed, err)
			}
		}
		if s.opts.Clock.Since(lastLog) >= s.opts.ProgressEvery {
			lastLog = s.opts.Clock.Now()
			monitoring.Logf("t=%s/%s: %d cells (%d active)", units.FormatMinutes(s.t), units.FormatMinutes(maxTime), s.container.Len(), s.container.ActiveCount())
		}
	}
	if s.lastSave != s.t {
		if err := s.save(dbctx, start); err != nil {
			return s.finish(dbctx, start, store.StatusFailed, err)
		}
	}
	return s.finish(dbctx, start, store.StatusCompleted, nil)
}

func (s *Simulation) beginRun(ctx context.Context) error {
	if s.opts.DB == nil {
		return nil
	}
	cfgJSON, err := json.Marshal(s.cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	id, err := s.opts.DB.CreateRun(ctx, s.cfg.GetSeed(), version.Version, string(cfgJSON))
	if err != nil {
		return err
	}
	s.runID = id
	monitoring.Logf("run %s started", id)
	return nil
}

// finish writes the final plots, closes the run record and builds the
// summary. runErr is returned unchanged unless closing fails too.
func (s *Simulation) finish(ctx context.Context, start time.Time, status string, runErr error) (Summary, error) {
	errs := []error{runErr}
	if s.opts.OutputDir != "" && s.series.Len() > 0 {
		errs = append(errs, s.writePlots())
	}
	if s.opts.DB != nil && s.runID != "" {
		errs = append(errs, s.opts.DB.FinishRun(ctx, s.runID, status))
	}

	c := s.census()
	sum := Summary{
		RunID:       s.runID,
		Time:        s.t,
		Steps:       s.nsteps,
		Snapshots:   s.snapshots,
		Cells:       s.container.Len(),
		Live:        c.Live,
		Apoptotic:   c.Apoptotic,
		Necrotic:    c.Necrotic,
		Lymphocytes: c.Lymphocytes,
		Divisions:   s.totalDivisions,
		Removals:    s.totalRemovals,
		Wall:        s.opts.Clock.Since(start),
	}
	monitoring.Logf("run %s %s at t=%s after %d steps: %d cells, %d divisions, %d removals",
		s.runID, status, units.FormatMinutes(s.t), s.nsteps, sum.Cells, sum.Divisions, sum.Removals)
	return sum, errors.Join(errs...)
}

// centre returns the middle of the domain.
func (s *Simulation) centre() geom.Vec {
	b := s.env.Grid().Bounds()
	return r3.Scale(0.5, r3.Add(b.Min, b.Max))
}
