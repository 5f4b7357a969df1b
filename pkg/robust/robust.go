// Package robust provides the missing-aware summary statistics shared by the
// filtering, binning, fitting and calibration stages.
package robust

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"crosscal/internal/models"
)

// MADScale converts a median absolute deviation into a consistent estimate
// of the standard deviation of a Gaussian core distribution
const MADScale = 1.4826

// Median calculates the median of a slice of float64 values.
// It returns NaN for an empty slice.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}

	// Sort a copy so the caller's slice is left untouched
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// MadStd returns the MAD-based robust standard deviation,
// 1.4826 * median(|x - median(x)|). Empty input yields zero.
func MadStd(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Median(values)
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - m)
	}
	return MADScale * Median(dev)
}

// Valid returns the present values of an optional vector
func Valid(values []models.Opt) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v.Valid {
			out = append(out, v.Value)
		}
	}
	return out
}

// CountValid returns the number of present values
func CountValid(values []models.Opt) int {
	n := 0
	for _, v := range values {
		if v.Valid {
			n++
		}
	}
	return n
}

// MedianOpt is the median over present values; missing when none are present
func MedianOpt(values []models.Opt) models.Opt {
	v := Valid(values)
	if len(v) == 0 {
		return models.None()
	}
	return models.Some(Median(v))
}

// MadStdOpt is MadStd over present values; missing when none are present
func MadStdOpt(values []models.Opt) models.Opt {
	v := Valid(values)
	if len(v) == 0 {
		return models.None()
	}
	return models.Some(MadStd(v))
}

// MeanOpt is the arithmetic mean over present values
func MeanOpt(values []models.Opt) models.Opt {
	v := Valid(values)
	if len(v) == 0 {
		return models.None()
	}
	return models.Some(stat.Mean(v, nil))
}

// StdOpt is the population standard deviation over present values
func StdOpt(values []models.Opt) models.Opt {
	v := Valid(values)
	if len(v) == 0 {
		return models.None()
	}
	_, std := stat.PopMeanStdDev(v, nil)
	return models.Some(std)
}

// SumOpt is the sum over present values; missing when none are present
func SumOpt(values []models.Opt) models.Opt {
	v := Valid(values)
	if len(v) == 0 {
		return models.None()
	}
	return models.Some(floats.Sum(v))
}

// MinMax returns the extent of a non-empty slice
func MinMax(values []float64) (lo, hi float64) {
	return floats.Min(values), floats.Max(values)
}

// Wrap converts a plain vector into an optional one, treating
// non-finite entries as missing
func Wrap(values []float64) []models.Opt {
	out := make([]models.Opt, len(values))
	for i, v := range values {
		out[i] = models.Some(v)
	}
	return out
}
