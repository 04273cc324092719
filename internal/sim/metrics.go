package sim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide run metrics, served on /metrics by the CLI.
var (
	stepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oncosim_steps_total",
		Help: "Diffusion steps taken",
	})

	stepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oncosim_step_duration_seconds",
		Help:    "Wall time per diffusion step including any mechanics or biology pass",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	// Labels: "division", "removal"
	cellEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oncosim_cell_events_total",
		Help: "Cell divisions and removals",
	}, []string{"event"})

	simTimeMinutes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oncosim_sim_time_minutes",
		Help: "Simulated time of the current run",
	})

	// Labels: "live", "apoptotic", "necrotic", "lymphocyte"
	populationCells = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "oncosim_population_cells",
		Help: "Cells by phase at the last snapshot",
	}, []string{"phase"})
)

func (c census) observe() {
	populationCells.WithLabelValues("live").Set(float64(c.Live))
	populationCells.WithLabelValues("apoptotic").Set(float64(c.Apoptotic))
	populationCells.WithLabelValues("necrotic").Set(float64(c.Necrotic))
	populationCells.WithLabelValues("lymphocyte").Set(float64(c.Lymphocytes))
}
