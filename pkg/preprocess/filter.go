// Package preprocess holds the per-neighborhood editing stages that run
// before fitting (the running-window outlier filter and the seasonal
// amplitude normalization) and the batch-level ingest edits applied once
// after loading.
//
// Every stage is a pure transform: it reads its inputs and returns new
// value vectors.
package preprocess

import (
	"math"

	"crosscal/internal/models"
	"crosscal/pkg/binning"
	"crosscal/pkg/robust"
)

// RunningFilter rejects observations that depart from a running median of
// their own mission. For each mission the series is smoothed with an
// overlapping-window median (one-month step, window wide), resampled onto
// the observation times and compared with the observations; values whose
// residual exceeds alpha robust standard deviations become missing. When the
// smooth cannot be resampled the mission median is used instead.
func RunningFilter(t []float64, v []models.Opt, m []int, alpha, window float64) []models.Opt {
	out := make([]models.Opt, len(v))
	copy(out, v)

	for _, id := range binning.Missions(m) {
		// Get indexes of missions
		var idx []int
		for i := range m {
			if m[i] == id {
				idx = append(idx, i)
			}
		}
		tm := make([]float64, len(idx))
		vm := make([]models.Opt, len(idx))
		for k, i := range idx {
			tm[k] = t[i]
			vm[k] = v[i]
		}

		// Smooth time series for the mission
		lo, hi := robust.MinMax(tm)
		bins := binning.Overlapping(tm, vm, binning.WindowOptions{
			Start:  lo,
			Stop:   hi,
			Step:   binning.Month,
			Window: window,
			Median: true,
		})

		residual := make([]models.Opt, len(idx))
		smooth, err := binning.Resample(bins, tm)
		if err != nil {
			// Use median instead
			med := robust.MedianOpt(vm)
			for k := range vm {
				residual[k] = vm[k].Sub(med)
			}
		} else {
			for k := range vm {
				residual[k] = vm[k].Sub(smooth[k])
			}
		}

		// Identify outliers
		s := robust.MadStd(robust.Valid(residual))
		for k, i := range idx {
			if r, ok := residual[k].Get(); ok && math.Abs(r) > alpha*s {
				out[i] = models.None()
			}
		}
	}
	return out
}

// IterativeFilter clips values to [-limit, limit] (when limit > 0) and then
// repeatedly rejects values further than alpha robust standard deviations
// from the median while each pass still reduces the robust std by more than
// tol percent.
func IterativeFilter(v []models.Opt, limit, tol, alpha float64) []models.Opt {
	const maxPasses = 100

	out := make([]models.Opt, len(v))
	for i, x := range v {
		if limit > 0 && x.Valid && math.Abs(x.Value) > limit {
			continue
		}
		out[i] = x
	}
	if alpha <= 0 {
		return out
	}

	for pass := 0; pass < maxPasses; pass++ {
		before := robust.MadStd(robust.Valid(out))
		med := robust.MedianOpt(out)
		if !med.Valid || before == 0 {
			break
		}

		var keep []float64
		outlier := make([]bool, len(out))
		for i, x := range out {
			if !x.Valid {
				continue
			}
			if math.Abs(x.Value-med.Value) > alpha*before {
				outlier[i] = true
			} else {
				keep = append(keep, x.Value)
			}
		}

		// Determine rms reduction
		after := robust.MadStd(keep)
		tau := math.Inf(1)
		if after > 0 {
			tau = 100 * (before - after) / after
		}
		if tau <= tol && pass > 0 {
			break
		}
		for i := range out {
			if outlier[i] {
				out[i] = models.None()
			}
		}
		if tau <= tol {
			break
		}
	}
	return out
}
