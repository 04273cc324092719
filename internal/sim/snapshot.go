package sim

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/banshee-data/oncosim/internal/biology"
	"github.com/banshee-data/oncosim/internal/report"
	"github.com/banshee-data/oncosim/internal/security"
	"github.com/banshee-data/oncosim/internal/store"
)

// census counts cells by phase. Lymphocytes are counted apart from the
// tumor phases.
type census struct {
	Live, Apoptotic, Necrotic, Lymphocytes int
}

func (s *Simulation) census() census {
	var c census
	for _, cell := range s.container.Cells() {
		if cell.Type == biology.Lymphocyte {
			c.Lymphocytes++
			continue
		}
		switch biology.StateOf(cell).Phase {
		case biology.Live:
			c.Live++
		case biology.Apoptotic:
			c.Apoptotic++
		case biology.Necrotic:
			c.Necrotic++
		}
	}
	return c
}

func label(typ int, p biology.Phase) string {
	if typ == biology.Lymphocyte {
		return "lymphocyte"
	}
	return "tumor/" + p.String()
}

// save records the current state in the time series, the database and
// the output directory.
func (s *Simulation) save(ctx context.Context, start time.Time) error {
	c := s.census()
	c.observe()
	stats := s.env.AllStats()

	values := map[string]float64{
		"live":        float64(c.Live),
		"apoptotic":   float64(c.Apoptotic),
		"necrotic":    float64(c.Necrotic),
		"lymphocytes": float64(c.Lymphocytes),
	}
	for _, st := range stats {
		values[st.Substrate+" mean"] = st.Mean
	}
	s.series.Record(s.t, values)

	if s.opts.DB != nil && s.runID != "" {
		snap := store.Snapshot{
			RunID:       s.runID,
			Time:        s.t,
			Cells:       s.container.Len(),
			Active:      s.container.ActiveCount(),
			Live:        c.Live,
			Apoptotic:   c.Apoptotic,
			Necrotic:    c.Necrotic,
			Lymphocytes: c.Lymphocytes,
			Divisions:   s.divisions,
			Removals:    s.removals,
			WallSeconds: s.opts.Clock.Since(start).Seconds(),
		}
		rows := make([]store.SubstrateStat, len(stats))
		for i, st := range stats {
			rows[i] = store.SubstrateStat{
				Substrate: st.Substrate,
				Total:     st.Total,
				Min:       st.Min,
				Max:       st.Max,
				Mean:      st.Mean,
				StdDev:    st.StdDev,
			}
		}
		agents := make([]store.Agent, 0, s.container.Len())
		for _, cell := range s.container.Cells() {
			agents = append(agents, store.Agent{
				ID:     cell.ID,
				Type:   cell.Type,
				Phase:  biology.StateOf(cell).Phase.String(),
				X:      cell.Position.X,
				Y:      cell.Position.Y,
				Z:      cell.Position.Z,
				Radius: cell.Radius,
				Active: cell.Active(),
			})
		}
		if _, err := s.opts.DB.RecordSnapshot(ctx, snap, rows, agents); err != nil {
			return fmt.Errorf("t=%g: record snapshot: %w", s.t, err)
		}
	}

	if s.opts.OutputDir != "" {
		if err := s.writeSlices(); err != nil {
			return err
		}
	}

	s.lastSave = s.t
	s.snapshots++
	s.divisions, s.removals = 0, 0
	return nil
}

// writeSlices renders the mid-height layer of every substrate with the
// cells that intersect it.
func (s *Simulation) writeSlices() error {
	z := s.centre().Z
	var markers []report.Marker
	for _, cell := range s.container.Cells() {
		if !cell.Active() || math.Abs(cell.Position.Z-z) > cell.Radius {
			continue
		}
		markers = append(markers, report.Marker{
			X:      cell.Position.X,
			Y:      cell.Position.Y,
			Radius: cell.Radius,
			Label:  label(cell.Type, biology.StateOf(cell).Phase),
		})
	}
	for i := 0; i < s.env.NumSubstrates(); i++ {
		slice, err := report.SliceAt(s.env, i, z)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("%s_%04d.html", security.SanitizeFilename(slice.Substrate), s.snapshots)
		path, err := security.JoinWithin(s.opts.OutputDir, filepath.Join("slices", name))
		if err != nil {
			return err
		}
		if err := report.WriteSliceHTML(s.opts.FS, path, slice, markers); err != nil {
			return fmt.Errorf("t=%g: write slice: %w", s.t, err)
		}
	}
	return nil
}

// writePlots renders the population and substrate time series.
func (s *Simulation) writePlots() error {
	dir := s.opts.OutputDir
	if err := s.series.WritePNG(s.opts.FS, filepath.Join(dir, "population.png"),
		"Population", "Cells", "live", "apoptotic", "necrotic", "lymphocytes"); err != nil {
		return err
	}
	var means []string
	for _, sub := range s.env.Substrates() {
		means = append(means, sub.Name+" mean")
	}
	return s.series.WritePNG(s.opts.FS, filepath.Join(dir, "substrates.png"), "Substrates", "Mean density", means...)
}
