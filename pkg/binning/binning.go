// Package binning turns irregular point observations into regularized
// time series. It offers fixed-width binning, overlapping-window binning with
// an optional exponential time kernel, and the per-mission assembly that
// propagates measurement and binning errors into each step.
package binning

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/interp"

	"crosscal/internal/models"
	"crosscal/pkg/robust"
)

// Month is one month expressed in decimal years
const Month = 1.0 / 12

// ErrTooFewBins is returned by Resample when fewer than two bins carry data
var ErrTooFewBins = errors.New("binning: fewer than two populated bins to resample")

// Bins holds the output of a binning pass, one entry per bin
type Bins struct {
	// Center is the time at the middle of each bin
	Center []float64

	// Value is the median (or weighted mean) of the bin contents
	Value []models.Opt

	// Spread is the robust standard deviation of the bin contents
	Spread []models.Opt

	// Count is the number of present values in the bin
	Count []int

	// Sum is the sum of the bin contents
	Sum []models.Opt
}

// Len returns the number of bins
func (b Bins) Len() int { return len(b.Center) }

// Populated returns the number of bins that carry a value
func (b Bins) Populated() int { return robust.CountValid(b.Value) }

func newBins(n int) Bins {
	return Bins{
		Center: make([]float64, n),
		Value:  make([]models.Opt, n),
		Spread: make([]models.Opt, n),
		Count:  make([]int, n),
		Sum:    make([]models.Opt, n),
	}
}

// stepCount mirrors a half-open [start, stop) range with the given step
func stepCount(start, stop, step float64) int {
	if step <= 0 || !(stop > start) {
		return 0
	}
	return int(math.Ceil((stop-start)/step - 1e-9))
}

// Fixed partitions [min, max] into equal, non-overlapping bins of width dx.
// Bin edges are inclusive on both sides, so a sample on a shared edge is
// counted in both neighbours.
func Fixed(t []float64, v []models.Opt, min, max, dx float64) Bins {
	n := stepCount(min, max, dx)
	b := newBins(n)

	// Group sample values by bin
	contents := make([][]models.Opt, n)
	for i := range t {
		if n == 0 {
			break
		}
		// Candidate bins: the one containing t and its lower neighbour when
		// t sits exactly on an edge
		k := int(math.Floor((t[i] - min) / dx))
		for _, j := range []int{k - 1, k} {
			if j < 0 || j >= n {
				continue
			}
			lo := min + float64(j)*dx
			hi := lo + dx
			if j == n-1 {
				hi = math.Max(hi, max)
			}
			if t[i] >= lo && t[i] <= hi {
				contents[j] = append(contents[j], v[i])
			}
		}
	}

	for j := 0; j < n; j++ {
		b.Center[j] = min + (float64(j)+0.5)*dx
		summarize(&b, j, contents[j], nil)
	}
	return b
}

// WindowOptions configures an overlapping-window binning pass
type WindowOptions struct {
	// Start and Stop bound the steps as a half-open range [Start, Stop)
	Start, Stop float64

	// Step is the spacing between consecutive bins
	Step float64

	// Window is the width of each bin; Window >= Step makes bins overlap
	Window float64

	// Median selects the median as the bin value instead of the mean
	Median bool

	// Decay enables exponential time-kernel weighting of the mean,
	// w = exp(-dt/Decay) with dt the signed offset from the bin center,
	// when positive. Samples early in the window weigh more.
	Decay float64
}

// Overlapping bins the series over [Start, Stop) with bins of width Window
// placed every Step. Exactly one entry is produced per step; steps without
// data keep their center time and a missing value.
func Overlapping(t []float64, v []models.Opt, opt WindowOptions) Bins {
	n := stepCount(opt.Start, opt.Stop, opt.Step)
	b := newBins(n)

	for j := 0; j < n; j++ {
		t1 := opt.Start + float64(j)*opt.Step
		t2 := t1 + opt.Window
		center := 0.5 * (t1 + t2)
		b.Center[j] = center

		var contents []models.Opt
		var weights []float64
		for i := range t {
			if t[i] < t1 || t[i] > t2 {
				continue
			}
			contents = append(contents, v[i])
			if opt.Decay > 0 {
				weights = append(weights, math.Exp(-(t[i]-center)/opt.Decay))
			} else {
				weights = append(weights, 1)
			}
		}

		if opt.Median {
			weights = nil
		}
		summarize(&b, j, contents, weights)
	}
	return b
}

// summarize fills bin j from its contents. With weights == nil the bin value
// is the median, otherwise the weighted mean.
func summarize(b *Bins, j int, contents []models.Opt, weights []float64) {
	var vals []float64
	var sw, swy float64
	for i, c := range contents {
		if !c.Valid {
			continue
		}
		vals = append(vals, c.Value)
		if weights != nil {
			sw += weights[i]
			swy += weights[i] * c.Value
		}
	}
	b.Count[j] = len(vals)
	if len(vals) == 0 {
		return
	}

	if weights == nil {
		b.Value[j] = models.Some(robust.Median(vals))
	} else if sw > 0 {
		b.Value[j] = models.Some(swy / sw)
	}
	b.Spread[j] = models.Some(robust.MadStd(vals))
	sum := 0.0
	for _, x := range vals {
		sum += x
	}
	b.Sum[j] = models.Some(sum)
}

// Resample interpolates the populated bins back onto the sample times using
// piecewise-linear interpolation, clamped to the end values outside the
// populated range.
func Resample(b Bins, t []float64) ([]models.Opt, error) {
	xs := make([]float64, 0, b.Len())
	ys := make([]float64, 0, b.Len())
	for j := range b.Center {
		if b.Value[j].Valid {
			xs = append(xs, b.Center[j])
			ys = append(ys, b.Value[j].Value)
		}
	}
	if len(xs) < 2 {
		return nil, ErrTooFewBins
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, err
	}

	out := make([]models.Opt, len(t))
	for i, ti := range t {
		out[i] = models.Some(pl.Predict(ti))
	}
	return out, nil
}
