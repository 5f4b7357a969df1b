// Package grid drives the per-cell cross-calibration over the output
// prediction grid.
package grid

import (
	"math"

	"crosscal/internal/models"
	"crosscal/pkg/binning"
	"crosscal/pkg/robust"
)

// Axis returns N = int(|max-min|/d)+1 evenly spaced nodes from min to max
// inclusive
func Axis(min, max, d float64) []float64 {
	if d <= 0 || math.IsNaN(d) {
		return []float64{min}
	}
	n := int(math.Abs(max-min)/d) + 1
	if n == 1 {
		return []float64{min}
	}
	out := make([]float64, n)
	step := (max - min) / float64(n-1)
	for i := range out {
		out[i] = min + float64(i)*step
	}
	out[n-1] = max
	return out
}

// MakeGrid builds the prediction cells over the bounding box in row-major
// order. Every cell footprint is dx by dy around its node.
func MakeGrid(xmin, xmax, ymin, ymax, dx, dy float64) []models.Cell {
	xs := Axis(xmin, xmax, dx)
	ys := Axis(ymin, ymax, dy)
	cells := make([]models.Cell, 0, len(xs)*len(ys))
	for _, y := range ys {
		for _, x := range xs {
			cells = append(cells, models.Cell{
				Index: len(cells),
				X:     x,
				Y:     y,
				HalfX: 0.5 * dx,
				HalfY: 0.5 * dy,
			})
		}
	}
	return cells
}

// Radii returns the candidate search radii from min to max. A single radius
// is returned when they are equal or steps < 2.
func Radii(min, max float64, steps int) []float64 {
	if steps < 2 || max <= min {
		return []float64{math.Max(min, max)}
	}
	out := make([]float64, steps)
	d := (max - min) / float64(steps-1)
	for i := range out {
		out[i] = min + float64(i)*d
	}
	out[steps-1] = max
	return out
}

// Coverage summarizes the temporal and mission coverage of a neighborhood
type Coverage struct {
	// Count is the number of observations with a value
	Count int

	// Span is the time range covered, max - min
	Span float64

	// Missions is the number of distinct missions
	Missions int

	// Sampling is the fraction of populated one-month bins over the range
	Sampling float64
}

// Gate holds the coverage thresholds a neighborhood must pass
type Gate struct {
	MinObs      int
	MinSpan     float64
	MinMissions int
	MinSampling float64
}

// Pass reports whether the coverage satisfies every threshold
func (g Gate) Pass(c Coverage) bool {
	return c.Count > g.MinObs &&
		c.Span > g.MinSpan &&
		c.Missions >= g.MinMissions &&
		c.Sampling > g.MinSampling
}

// Measure computes the coverage of the samples with a present value
func Measure(t []float64, v []models.Opt, m []int) Coverage {
	var ts []float64
	var ms []int
	for i := range t {
		if v[i].Valid {
			ts = append(ts, t[i])
			ms = append(ms, m[i])
		}
	}
	if len(ts) == 0 {
		return Coverage{}
	}

	lo, hi := ts[0], ts[0]
	for _, x := range ts {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}

	c := Coverage{
		Count:    len(ts),
		Span:     hi - lo,
		Missions: len(binning.Missions(ms)),
	}

	// Bin time vector
	b := binning.Fixed(ts, robust.Wrap(ts), lo, hi, binning.Month)
	if b.Len() > 0 {
		c.Sampling = float64(b.Populated()) / float64(b.Len())
	}
	return c
}
