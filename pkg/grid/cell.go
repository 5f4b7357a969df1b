package grid

import (
	"math"

	"crosscal/internal/models"
	"crosscal/pkg/binning"
	"crosscal/pkg/crosscal"
	"crosscal/pkg/preprocess"
	"crosscal/pkg/regression"
	"crosscal/pkg/robust"
)

// Cell statuses reported to the Recorder
const (
	StatusOK             = "ok"
	StatusCoverage       = "coverage"
	StatusSparseSeries   = "sparse_series"
	StatusEmptyFootprint = "empty_footprint"
	StatusNonFinite      = "non_finite"
)

// CellResult is the solution of one grid cell
type CellResult struct {
	Cell models.Cell

	// Lon and Lat are the geographic coordinates of the cell center
	Lon, Lat float64

	// Radius is the search radius whose neighborhood passed the gate
	Radius float64

	// Coverage of the neighborhood
	Coverage Coverage

	// Neighborhood holds the batch positions used for fitting
	Neighborhood []int

	// PointLon, PointLat and Distance describe the neighborhood points
	PointLon, PointLat, Distance []float64

	// Footprint holds the batch positions inside the cell footprint and
	// PointCorrection their total calibration
	Footprint       []int
	PointCorrection []float64

	// Series is the footprint series per mission with the mission totals
	// removed
	Series []models.MissionSeries

	// Fit, Residual and Total are the Stage A, Stage B and combined
	// corrections of every fit sample
	Fit, Residual, Total []float64

	// Totals is the mean total correction per mission
	Totals map[int]float64

	// Flag counts the overlap rules that produced a non-zero offset
	Flag int

	// Ledger is the Stage B ledger; nil when Stage B is disabled
	Ledger *crosscal.Ledger

	// RMS is the robust residual scale of the fit
	RMS float64

	// Rate and Acceleration are the solved trend terms
	Rate, Acceleration float64
}

// Dims returns the shape of the output series as [missions, steps]
func (c *CellResult) Dims() [2]int {
	if len(c.Series) == 0 {
		return [2]int{0, 0}
	}
	return [2]int{len(c.Series), c.Series[0].Len()}
}

// processCell runs the pipeline for one cell. A nil result comes with the
// reason the cell was skipped.
func (d *Driver) processCell(cell models.Cell, c *columns) (*CellResult, string) {
	p := d.params

	// Meet data constraints
	var idx []int
	var cov Coverage
	var radius float64
	passed := false
	for _, r := range p.Radii {
		idx = c.index.Radius(cell.X, cell.Y, r)
		if len(idx) == 0 {
			continue
		}
		cov = Measure(pick(c.t, idx), pick(c.v, idx), pick(c.m, idx))
		radius = r
		if p.Gate.Pass(cov) {
			passed = true
			break
		}
	}
	if !passed {
		return nil, StatusCoverage
	}

	x, y, t := pick(c.x, idx), pick(c.y, idx), pick(c.t, idx)
	v, e, m := pick(c.v, idx), pick(c.e, idx), pick(c.m, idx)

	// Filter data from outliers
	v = preprocess.RunningFilter(t, v, m, p.FilterAlpha, p.FilterWindow)

	// Normalize the seasonal signal
	if d.harmonics != nil {
		v = preprocess.Subtract(v, preprocess.SeasonalCorrection(x, y, t, m, d.harmonics))
	}

	// Times series binning of each mission
	series := binning.MissionSeries(t, v, m, e, p.Fit)
	tb, vb, _, mb := binning.Flatten(series)
	if robust.CountValid(vb) < p.Gate.MinObs {
		d.logger.Debugw("cell skipped", "cell", cell.Index, "reason", StatusSparseSeries)
		return nil, StatusSparseSeries
	}

	// Least-squares adjustment
	design := regression.NewDesign(tb, mb, regression.Center(tb, p.RefTime))
	fit, err := regression.Solve(design.Matrix, vb, p.Solver)
	if err != nil {
		reason, _ := regression.ReasonOf(err)
		d.logger.Debugw("cell skipped", "cell", cell.Index, "reason", reason.String(), "error", err)
		return nil, "fit_" + reason.String()
	}
	if math.IsNaN(fit.RMS) || math.IsInf(fit.RMS, 0) {
		return nil, StatusNonFinite
	}
	residual := fit.Residuals(design.Matrix, vb)

	// Bias correction from model fit
	stageA := crosscal.StageA(design, fit.Coefficients)

	// Apply residual cross-calibration
	stageB := make([]float64, len(tb))
	var ledger *crosscal.Ledger
	flag := 0
	if d.calibrator != nil {
		stageB, ledger = d.calibrator.Calibrate(tb, residual, mb)
		flag = ledger.Applied
		for _, r := range ledger.Results {
			d.recorder.Overlap(r.Rule.Name, r.Outcome.String())
		}
	}

	total := make([]float64, len(tb))
	for i := range total {
		total[i] = stageA[i] + stageB[i]
	}
	totals := crosscal.MissionTotals(mb, total)

	// Keep only data within grid cell
	var fp []int
	for k := range idx {
		if cell.Contains(x[k], y[k]) {
			fp = append(fp, k)
		}
	}
	if len(fp) == 0 {
		return nil, StatusEmptyFootprint
	}
	footprint := make([]int, len(fp))
	pointCorr := make([]float64, len(fp))
	for j, k := range fp {
		footprint[j] = idx[k]
		pointCorr[j] = totals[m[k]]
	}

	// Times series binning of the footprint, calibrated per mission
	out := binning.MissionSeries(pick(t, fp), pick(v, fp), pick(m, fp), pick(e, fp), p.Out)
	for s := range out {
		corr, ok := totals[out[s].Mission]
		if !ok {
			continue
		}
		for j := range out[s].Value {
			out[s].Value[j] = out[s].Value[j].Sub(models.Some(corr))
		}
	}

	res := &CellResult{
		Cell:            cell,
		Radius:          radius,
		Coverage:        cov,
		Neighborhood:    idx,
		PointLon:        pick(c.lon, idx),
		PointLat:        pick(c.lat, idx),
		Distance:        make([]float64, len(idx)),
		Footprint:       footprint,
		PointCorrection: pointCorr,
		Series:          out,
		Fit:             stageA,
		Residual:        stageB,
		Total:           total,
		Totals:          totals,
		Flag:            flag,
		Ledger:          ledger,
		RMS:             fit.RMS,
		Rate:            fit.Coefficients[1],
		Acceleration:    fit.Coefficients[2],
	}
	res.Lon, res.Lat = d.inverse(cell.X, cell.Y)
	for k := range idx {
		res.Distance[k] = math.Hypot(x[k]-cell.X, y[k]-cell.Y)
	}

	d.logger.Debugw("cell solved",
		"cell", cell.Index,
		"radius", radius,
		"observations", len(idx),
		"footprint", len(footprint),
		"rate", res.Rate,
		"acceleration", res.Acceleration,
		"rms", res.RMS,
		"flag", flag)
	return res, StatusOK
}

// pick gathers v at the given positions
func pick[T any](v []T, idx []int) []T {
	out := make([]T, len(idx))
	for k, i := range idx {
		out[k] = v[i]
	}
	return out
}
