// Package regression builds the joint trend, seasonal and mission-offset
// design matrix and solves it with iterative outlier rejection.
package regression

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"crosscal/pkg/binning"
)

// BaseColumns is the number of fixed regressors preceding the mission
// indicator block: const, t, 0.5*t^2, cos 2pi t, sin 2pi t, cos 4pi t, sin 4pi t
const BaseColumns = 7

// Design is the regression matrix of one neighborhood
type Design struct {
	// Matrix has one row per sample and BaseColumns+len(Missions) columns
	Matrix *mat.Dense

	// Missions lists the mission of each indicator column, ascending
	Missions []int

	// Columns holds the matrix column of each entry in Missions
	Columns []int

	// Center is the time subtracted before building the regressors
	Center float64

	rows int
}

// Center returns the time the regressors are referenced to: ref when given,
// otherwise the mean of t
func Center(t []float64, ref *float64) float64 {
	if ref != nil {
		return *ref
	}
	if len(t) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range t {
		sum += v
	}
	return sum / float64(len(t))
}

// NewDesign builds the design matrix for sample times t and missions m.
// Times are shifted by center so that the trend and acceleration columns
// are decorrelated from the intercept.
func NewDesign(t []float64, m []int, center float64) *Design {
	missions := binning.Missions(m)
	cols := make([]int, len(missions))
	index := make(map[int]int, len(missions))
	for i, id := range missions {
		cols[i] = BaseColumns + i
		index[id] = BaseColumns + i
	}

	n := len(t)
	p := BaseColumns + len(missions)
	A := mat.NewDense(max(n, 1), p, nil)
	for i := 0; i < n; i++ {
		dt := t[i] - center
		A.Set(i, 0, 1)
		A.Set(i, 1, dt)
		A.Set(i, 2, 0.5*dt*dt)
		A.Set(i, 3, math.Cos(2*math.Pi*dt))
		A.Set(i, 4, math.Sin(2*math.Pi*dt))
		A.Set(i, 5, math.Cos(4*math.Pi*dt))
		A.Set(i, 6, math.Sin(4*math.Pi*dt))
		A.Set(i, index[m[i]], 1)
	}

	return &Design{
		Matrix:   A,
		Missions: missions,
		Columns:  cols,
		Center:   center,
		rows:     n,
	}
}

// Rows returns the number of samples in the design
func (d *Design) Rows() int { return d.rows }

// Unknowns returns the number of coefficients to solve for
func (d *Design) Unknowns() int {
	_, c := d.Matrix.Dims()
	return c
}

// Offsets returns the indicator-weighted sum of the mission coefficients
// for every row, i.e. each sample's model-implied mission bias
func (d *Design) Offsets(coef []float64) []float64 {
	n := d.Rows()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		for _, c := range d.Columns {
			out[i] += d.Matrix.At(i, c) * coef[c]
		}
	}
	return out
}

// MissionOffset returns the solved offset of one mission, and false when the
// mission has no indicator column
func (d *Design) MissionOffset(coef []float64, mission int) (float64, bool) {
	for i, id := range d.Missions {
		if id == mission {
			return coef[d.Columns[i]], true
		}
	}
	return 0, false
}
