package microenv

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FieldStats summarises one substrate over the whole grid.
type FieldStats struct {
	Substrate string
	Total     float64 // integral of density over the domain
	Min       float64
	Max       float64
	Mean      float64
	StdDev    float64
}

// Column copies substrate s of every voxel into dst (grown as needed) and
// returns it.
func (m *Microenvironment) Column(s int, dst []float64) []float64 {
	n := m.grid.Len()
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	S := len(m.substrates)
	for v := 0; v < n; v++ {
		dst[v] = m.density[v*S+s]
	}
	return dst
}

// Stats computes FieldStats for substrate s.
func (m *Microenvironment) Stats(s int) (FieldStats, error) {
	if err := m.checkSubstrate(s); err != nil {
		return FieldStats{}, err
	}
	col := m.Column(s, nil)
	mean, std := stat.MeanStdDev(col, nil)
	if len(col) < 2 {
		std = 0
	}
	return FieldStats{
		Substrate: m.substrates[s].Name,
		Total:     floats.Sum(col) * m.grid.VoxelVolume(),
		Min:       floats.Min(col),
		Max:       floats.Max(col),
		Mean:      mean,
		StdDev:    std,
	}, nil
}

// AllStats returns FieldStats for every substrate in index order.
func (m *Microenvironment) AllStats() []FieldStats {
	out := make([]FieldStats, 0, len(m.substrates))
	for s := range m.substrates {
		fs, _ := m.Stats(s)
		out = append(out, fs)
	}
	return out
}
