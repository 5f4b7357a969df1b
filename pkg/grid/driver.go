package grid

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crosscal/internal/log"
	"crosscal/internal/models"
	"crosscal/pkg/binning"
	"crosscal/pkg/crosscal"
	"crosscal/pkg/preprocess"
	"crosscal/pkg/regression"
	"crosscal/pkg/spatial"
)

// ErrNoObservations is returned when a batch holds nothing to grid
var ErrNoObservations = errors.New("grid: no observations")

// Params holds the per-cell processing parameters.
// These parameters control the grid layout, the neighborhood search and
// every stage of the cell pipeline.
type Params struct {
	// DX and DY are the grid resolution in projected metres
	DX, DY float64

	// BBox optionally fixes the grid extent as [xmin, xmax, ymin, ymax];
	// when nil the batch bounding box is used
	BBox []float64

	// Radii are the search radii tried in order, in metres
	Radii []float64

	// Gate holds the coverage thresholds
	Gate Gate

	// Solver configures the robust least-squares fit
	Solver regression.Options

	// FilterAlpha and FilterWindow configure the running outlier filter
	FilterAlpha  float64
	FilterWindow float64

	// Fit bins the neighborhood into the series the model is fitted to
	Fit binning.MissionOptions

	// Out bins the cell footprint into the output series
	Out binning.MissionOptions

	// RefTime optionally references the trend model to a fixed epoch
	RefTime *float64

	// Workers bounds the number of cells processed concurrently
	Workers int
}

// Recorder receives per-cell and per-overlap outcomes
type Recorder interface {
	CellDone(status string)
	Overlap(rule, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) CellDone(string)        {}
func (nopRecorder) Overlap(string, string) {}

// ProgressCallback is called after every cell with the number of cells
// finished and the total
type ProgressCallback func(done, total int)

// Inverse maps projected coordinates back to longitude and latitude
type Inverse func(x, y float64) (lon, lat float64)

// Driver runs the cell pipeline over a batch
type Driver struct {
	params     *Params
	harmonics  preprocess.Harmonics
	calibrator *crosscal.Calibrator
	inverse    Inverse
	recorder   Recorder
	progress   ProgressCallback
	logger     *zap.SugaredLogger
}

// Option configures a Driver
type Option func(*Driver)

// WithHarmonics enables seasonal normalization against the given rasters
func WithHarmonics(h preprocess.Harmonics) Option {
	return func(d *Driver) { d.harmonics = h }
}

// WithCalibrator enables the residual (Stage B) cross-calibration
func WithCalibrator(c *crosscal.Calibrator) Option {
	return func(d *Driver) { d.calibrator = c }
}

// WithInverse sets the inverse projection used for cell centers
func WithInverse(f Inverse) Option {
	return func(d *Driver) { d.inverse = f }
}

// WithRecorder sets the outcome recorder
func WithRecorder(r Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

// WithProgress sets the progress callback
func WithProgress(p ProgressCallback) Option {
	return func(d *Driver) { d.progress = p }
}

// WithLogger sets the logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Driver) { d.logger = l }
}

// NewDriver creates a new driver instance with the provided parameters
func NewDriver(params *Params, opts ...Option) *Driver {
	d := &Driver{
		params:   params,
		recorder: nopRecorder{},
		inverse:  func(x, y float64) (float64, float64) { return x, y },
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = log.OrNop(d.logger)
	return d
}

// Result is the outcome of processing one batch
type Result struct {
	// Cells holds the processed cells in grid order
	Cells []*CellResult

	// Correction is the total calibration of every observation; points
	// outside every processed footprint get zero
	Correction []float64

	// Total is the number of grid cells visited
	Total int

	// Skipped counts the skipped cells by reason
	Skipped map[string]int
}

// columns is the column-major view of a batch shared read-only by all cells
type columns struct {
	x, y, t  []float64
	lon, lat []float64
	v, e     []models.Opt
	m        []int
	index    *spatial.Index
}

func newColumns(obs []models.Observation) *columns {
	n := len(obs)
	c := &columns{
		x: make([]float64, n), y: make([]float64, n), t: make([]float64, n),
		lon: make([]float64, n), lat: make([]float64, n),
		v: make([]models.Opt, n), e: make([]models.Opt, n),
		m: make([]int, n),
	}
	for i, o := range obs {
		c.x[i], c.y[i], c.t[i] = o.X, o.Y, o.Time
		c.lon[i], c.lat[i] = o.Lon, o.Lat
		c.v[i], c.e[i], c.m[i] = o.Value, o.Error, o.Mission
	}
	return c
}

// Process runs the complete grid pipeline over the observations
func (d *Driver) Process(ctx context.Context, obs []models.Observation) (*Result, error) {
	if len(obs) == 0 {
		return nil, ErrNoObservations
	}
	p := d.params

	// Step 1: Build the neighborhood index
	d.logger.Debugw("building the k-d tree", "observations", len(obs))
	cols := newColumns(obs)
	cols.index = spatial.NewIndex(cols.x, cols.y)

	// Step 2: Construct the prediction grid
	xmin, xmax, ymin, ymax, err := d.extent(cols)
	if err != nil {
		return nil, err
	}
	cells := MakeGrid(xmin, xmax, ymin, ymax, p.DX, p.DY)
	d.logger.Infow("grid constructed", "cells", len(cells),
		"xmin", xmin, "xmax", xmax, "ymin", ymin, "ymax", ymax)

	// Step 3: Process cells in parallel; each writes only its own slot
	results := make([]*CellResult, len(cells))
	status := make([]string, len(cells))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.Workers, 1))
	for i := range cells {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], status[i] = d.processCell(cells[i], cols)
			d.recorder.CellDone(status[i])
			if d.progress != nil {
				d.progress(int(done.Add(1)), len(cells))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("grid processing interrupted: %w", err)
	}

	// Step 4: Assemble outputs in grid order
	res := &Result{
		Correction: make([]float64, len(obs)),
		Total:      len(cells),
		Skipped:    make(map[string]int),
	}
	for i, cr := range results {
		if cr == nil {
			res.Skipped[status[i]]++
			continue
		}
		res.Cells = append(res.Cells, cr)
		for k, idx := range cr.Footprint {
			res.Correction[idx] = cr.PointCorrection[k]
		}
	}
	d.logger.Infow("grid processed",
		"cells", len(cells), "solved", len(res.Cells), "skipped", len(cells)-len(res.Cells))
	return res, nil
}

// extent returns the grid bounding box
func (d *Driver) extent(c *columns) (xmin, xmax, ymin, ymax float64, err error) {
	if b := d.params.BBox; b != nil {
		if len(b) != 4 {
			return 0, 0, 0, 0, fmt.Errorf("grid: bbox needs 4 values, got %d", len(b))
		}
		return b[0], b[1], b[2], b[3], nil
	}
	xmin, ymin = math.Inf(1), math.Inf(1)
	xmax, ymax = math.Inf(-1), math.Inf(-1)
	for i := range c.x {
		// Unprojected points have no position
		if !spatial.Finite(c.x[i], c.y[i]) {
			continue
		}
		xmin, xmax = min(xmin, c.x[i]), max(xmax, c.x[i])
		ymin, ymax = min(ymin, c.y[i]), max(ymax, c.y[i])
	}
	if xmin > xmax {
		return 0, 0, 0, 0, ErrNoObservations
	}
	return xmin, xmax, ymin, ymax, nil
}
