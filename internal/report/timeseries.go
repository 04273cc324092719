// Package report renders run output: PNG time series of population and
// substrate summaries, and HTML views of substrate slices with the cells
// lying in them.
package report

import (
	"fmt"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/oncosim/internal/fsutil"
)

// TimeSeries collects named values against simulation time. Record may be
// called from the run loop while another goroutine renders.
type TimeSeries struct {
	mu      sync.Mutex
	names   []string
	index   map[string]int
	times   []float64
	columns [][]float64
}

// NewTimeSeries returns an empty collector.
func NewTimeSeries() *TimeSeries {
	return &TimeSeries{index: make(map[string]int)}
}

// Record appends one sample. Series first seen now are back-filled with
// NaN so every column stays aligned with the time axis.
func (ts *TimeSeries) Record(t float64, values map[string]float64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	for name := range values {
		if _, ok := ts.index[name]; ok {
			continue
		}
		ts.index[name] = len(ts.names)
		ts.names = append(ts.names, name)
		col := make([]float64, len(ts.times))
		for i := range col {
			col[i] = nan
		}
		ts.columns = append(ts.columns, col)
	}
	ts.times = append(ts.times, t)
	for i, name := range ts.names {
		v, ok := values[name]
		if !ok {
			v = nan
		}
		ts.columns[i] = append(ts.columns[i], v)
	}
}

// Len returns the number of samples.
func (ts *TimeSeries) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.times)
}

// Names returns the series names in first-seen order.
func (ts *TimeSeries) Names() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.names...)
}

// Series returns a copy of one series as plot points, skipping missing
// samples.
func (ts *TimeSeries) Series(name string) plotter.XYs {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	i, ok := ts.index[name]
	if !ok {
		return nil
	}
	pts := make(plotter.XYs, 0, len(ts.times))
	for k, t := range ts.times {
		if v := ts.columns[i][k]; v == v {
			pts = append(pts, plotter.XY{X: t, Y: v})
		}
	}
	return pts
}

// WritePNG plots the given series on one chart and writes it to path. An
// empty names list plots every series.
func (ts *TimeSeries) WritePNG(fsys fsutil.FileSystem, path, title, yLabel string, names ...string) error {
	if len(names) == 0 {
		names = ts.Names()
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (min)"
	p.Y.Label.Text = yLabel
	p.Legend.Top = true
	p.Legend.Left = true
	p.Add(plotter.NewGrid())

	for i, name := range names {
		pts := ts.Series(name)
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("failed to create line for %s: %w", name, err)
		}
		line.Width = vg.Points(1)
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(name, line)
	}

	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	f, err := fsys.Create(path)
	if err != nil {
		return err
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
