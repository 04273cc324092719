// Package units holds the simulation's unit conventions. Lengths are in
// microns and times in minutes throughout.
package units

import (
	"fmt"
	"math"
)

// Unit labels used in configs, plots and the results database.
const (
	Micron        = "micron"
	Minute        = "min"
	PerMinute     = "1/min"
	Diffusion     = "micron^2/min"
	MMHg          = "mmHg"
	Dimensionless = "dimensionless"
)

// Minutes per larger unit.
const (
	MinutesPerHour = 60
	MinutesPerDay  = 24 * MinutesPerHour
)

// FormatMinutes renders a simulated time like "2d 03h 15.5m". Negative and
// non-finite inputs are printed as plain numbers.
func FormatMinutes(t float64) string {
	if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Sprintf("%gm", t)
	}
	days := math.Floor(t / MinutesPerDay)
	rest := t - days*MinutesPerDay
	hours := math.Floor(rest / MinutesPerHour)
	mins := rest - hours*MinutesPerHour
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %02dh %sm", int(days), int(hours), trim(mins))
	case hours > 0:
		return fmt.Sprintf("%dh %sm", int(hours), trim(mins))
	default:
		return trim(mins) + "m"
	}
}

func trim(m float64) string {
	return fmt.Sprintf("%.4g", m)
}

// Days converts minutes to days.
func Days(minutes float64) float64 { return minutes / MinutesPerDay }
