package report

import (
	"bytes"
	"fmt"
	"math"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/oncosim/internal/fsutil"
	"github.com/banshee-data/oncosim/internal/microenv"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

var nan = math.NaN()

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// Slice is one z-layer of a substrate field.
type Slice struct {
	Substrate string
	Units     string
	Z         float64
	X, Y, V   []float64
}

// Marker is a cell drawn over a slice.
type Marker struct {
	X, Y   float64
	Radius float64
	Label  string
}

// SliceAt extracts the voxel layer of substrate s nearest to height z.
func SliceAt(m *microenv.Microenvironment, s int, z float64) (Slice, error) {
	sub, err := m.Substrate(s)
	if err != nil {
		return Slice{}, err
	}
	g := m.Grid()
	nx, ny, _ := g.Dims()
	c := g.Center(0)
	c.Z = z
	_, _, k := g.NearestCartesian(c)

	out := Slice{
		Substrate: sub.Name,
		Units:     sub.Units,
		Z:         g.Center(g.Linear(0, 0, k)).Z,
		X:         make([]float64, 0, nx*ny),
		Y:         make([]float64, 0, nx*ny),
		V:         make([]float64, 0, nx*ny),
	}
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			n := g.Linear(i, j, k)
			p := g.Center(n)
			out.X = append(out.X, p.X)
			out.Y = append(out.Y, p.Y)
			out.V = append(out.V, m.Density(n, s))
		}
	}
	return out, nil
}

// Range returns the smallest and largest density in the slice.
func (s Slice) Range() (lo, hi float64) {
	if len(s.V) == 0 {
		return 0, 0
	}
	return floats.Min(s.V), floats.Max(s.V)
}

// WriteSliceHTML renders the slice as a colour-mapped grid followed by a
// chart of the cells in the layer, and writes the page to path.
func WriteSliceHTML(fsys fsutil.FileSystem, path string, s Slice, markers []Marker) error {
	lo, hi := s.Range()
	if hi <= lo {
		hi = lo + 1
	}

	data := make([]opts.ScatterData, len(s.V))
	for i := range s.V {
		data[i] = opts.ScatterData{Value: []interface{}{s.X[i], s.Y[i], s.V[i]}}
	}
	field := charts.NewScatter()
	field.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Substrate slice", Width: "900px", Height: "900px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: s.Substrate, Subtitle: fmt.Sprintf("z=%g units=%s range=[%.4g, %.4g]", s.Z, s.Units, lo, hi)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	field.AddSeries(s.Substrate, data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))

	page := components.NewPage()
	page.AddCharts(field)

	if len(markers) > 0 {
		byLabel := make(map[string][]opts.ScatterData)
		var order []string
		for _, mk := range markers {
			if _, ok := byLabel[mk.Label]; !ok {
				order = append(order, mk.Label)
			}
			byLabel[mk.Label] = append(byLabel[mk.Label], opts.ScatterData{Value: []interface{}{mk.X, mk.Y, mk.Radius}})
		}
		cellsChart := charts.NewScatter()
		cellsChart.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "900px", AssetsHost: echartsAssetsHost}),
			charts.WithTitleOpts(opts.Title{Title: "Cells", Subtitle: fmt.Sprintf("z=%g count=%d", s.Z, len(markers))}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: "X", NameLocation: "middle", NameGap: 25}),
			charts.WithYAxisOpts(opts.YAxis{Name: "Y", NameLocation: "middle", NameGap: 30}),
		)
		for _, label := range order {
			cellsChart.AddSeries(label, byLabel[label], charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
		}
		page.AddCharts(cellsChart)
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("failed to render slice: %w", err)
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fsys.WriteFile(path, buf.Bytes(), 0o644)
}
