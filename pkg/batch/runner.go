// Package batch processes input files end to end: load, ingest edits,
// projection, the grid driver and the output writers. Files run on a
// bounded worker group and a failing file never stops its siblings.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosuri/uiprogress"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crosscal/internal/log"
	"crosscal/internal/models"
	"crosscal/pkg/archive"
	"crosscal/pkg/config"
	"crosscal/pkg/crosscal"
	"crosscal/pkg/grid"
	"crosscal/pkg/metrics"
	"crosscal/pkg/preprocess"
	"crosscal/pkg/projection"
	"crosscal/pkg/raster"
)

// Report summarizes one processed file
type Report struct {
	File         string
	Output       string
	Observations int
	Cells        int
	Solved       int
	Skipped      map[string]int
	Duration     time.Duration
	Err          error
}

// Runner holds everything shared by the batches of one run
type Runner struct {
	cfg       *config.Config
	harmonics *raster.Harmonics
	proj      projection.Projection
	metrics   *metrics.Metrics
	logger    *zap.SugaredLogger
	runID     string
	progress  *uiprogress.Progress
}

// Option configures a Runner
type Option func(*Runner)

// WithMetrics records run telemetry
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithHarmonics sets the seasonal rasters, overriding the configured file
func WithHarmonics(h *raster.Harmonics) Option {
	return func(r *Runner) { r.harmonics = h }
}

// WithLogger sets the logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithProgressBars shows one progress bar per batch
func WithProgressBars() Option {
	return func(r *Runner) { r.progress = uiprogress.New() }
}

// New creates a runner. The seasonal rasters are loaded once here.
func New(cfg *config.Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	proj, err := projection.FromEPSG(cfg.Projection.EPSG)
	if err != nil {
		return nil, err
	}

	r := &Runner{cfg: cfg, proj: proj, runID: uuid.New().String()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.OrNop(r.logger).With("run_id", r.runID)

	if r.harmonics == nil && cfg.Processing.Raster != "" {
		h, err := archive.ReadRasterFile(cfg.Processing.Raster)
		if err != nil {
			return nil, err
		}
		r.harmonics = h
		r.logger.Infow("seasonal rasters loaded", "file", cfg.Processing.Raster, "missions", h.Missions())
	}
	return r, nil
}

// RunID identifies the run in logs
func (r *Runner) RunID() string { return r.runID }

// Run processes every file and returns one report per file in input order.
// The error joins every batch failure.
func (r *Runner) Run(ctx context.Context, files []string) ([]Report, error) {
	reports := make([]Report, len(files))

	if r.progress != nil {
		r.progress.Start()
		defer r.progress.Stop()
	}

	var g errgroup.Group
	g.SetLimit(r.cfg.Processing.Jobs)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			reports[i] = r.Process(ctx, f)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, rep := range reports {
		if rep.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rep.File, rep.Err))
		}
	}

	if r.metrics != nil && r.cfg.Metrics.Textfile != "" {
		if err := r.metrics.WriteTextfile(r.cfg.Metrics.Textfile); err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

// Process runs one file through the pipeline. Failures are reported, not
// returned, so the caller can continue with other files.
func (r *Runner) Process(ctx context.Context, path string) Report {
	start := time.Now()
	rep := Report{File: path}
	blog := r.logger.With("batch", filepath.Base(path))

	rep.Err = r.process(ctx, path, &rep, blog)
	rep.Duration = time.Since(start)
	if r.metrics != nil {
		r.metrics.BatchDone(rep.Err, rep.Duration)
	}

	if rep.Err != nil {
		blog.Errorw("batch failed", "error", rep.Err)
	} else {
		blog.Infow("batch done",
			"output", rep.Output,
			"observations", rep.Observations,
			"cells", rep.Cells,
			"solved", rep.Solved,
			"skipped", rep.Skipped,
			"elapsed", rep.Duration.String())
	}
	return rep
}

func (r *Runner) process(ctx context.Context, path string, rep *Report, blog *zap.SugaredLogger) error {
	cfg := r.cfg

	// Step 1: Load the observation table
	table, err := archive.ReadFile(path, archive.Fields(cfg.Fields))
	if err != nil {
		return err
	}
	rep.Observations = table.Batch.Len()
	if r.metrics != nil {
		r.metrics.Loaded(rep.Observations)
	}
	blog.Infow("batch loaded", "observations", rep.Observations)

	// Step 2: Apply the ingest edits
	obs := preprocess.Ingest(table.Batch.Observations, cfg.IngestOptions())

	// Step 3: Project into the grid coordinates
	if rejected := r.project(obs); rejected > 0 {
		blog.Warnw("observations outside the projection", "rejected", rejected)
	}

	// Step 4: Run the grid driver
	res, err := r.driver(blog, filepath.Base(path)).Process(ctx, obs)
	if err != nil {
		return err
	}
	rep.Cells = res.Total
	rep.Solved = len(res.Cells)
	rep.Skipped = res.Skipped

	// Step 5: Write the output
	if cfg.Output.Dir != "" {
		if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
			return fmt.Errorf("error creating output directory: %w", err)
		}
	}
	if cfg.Output.Series {
		rep.Output = r.outputPath(path, ".bin")
		return archive.WriteBundlesFile(rep.Output, res.Cells)
	}
	values := make([]models.Opt, len(obs))
	for i := range obs {
		values[i] = obs[i].Value
	}
	rep.Output = r.outputPath(path, "_cal.csv")
	return archive.WritePointsFile(rep.Output, table, values, res.Correction, cfg.Output.Apply)
}

// project fills the projected coordinates. Points that cannot be projected
// lose their value and get NaN coordinates, which keeps them out of the
// grid extent and the neighborhood index.
func (r *Runner) project(obs []models.Observation) int {
	rejected := 0
	for i := range obs {
		x, y, err := r.proj.Forward(obs[i].Lon, obs[i].Lat)
		if err != nil {
			obs[i].Value = models.None()
			obs[i].X, obs[i].Y = math.NaN(), math.NaN()
			rejected++
			continue
		}
		obs[i].X, obs[i].Y = x, y
	}
	return rejected
}

func (r *Runner) driver(blog *zap.SugaredLogger, name string) *grid.Driver {
	opts := []grid.Option{
		grid.WithLogger(blog),
		grid.WithInverse(func(x, y float64) (float64, float64) {
			lon, lat, err := r.proj.Inverse(x, y)
			if err != nil {
				return math.NaN(), math.NaN()
			}
			return lon, lat
		}),
	}
	if r.harmonics != nil {
		opts = append(opts, grid.WithHarmonics(r.harmonics))
	}
	if r.cfg.CrossCal.Enabled {
		opts = append(opts, grid.WithCalibrator(
			crosscal.NewCalibrator(r.cfg.CrossCal.Rules, r.cfg.Groups(), blog)))
	}
	if r.metrics != nil {
		opts = append(opts, grid.WithRecorder(r.metrics))
	}
	if r.progress != nil {
		opts = append(opts, grid.WithProgress(r.progressBar(name)))
	}
	return grid.NewDriver(r.cfg.GridParams(), opts...)
}

// progressBar returns a callback that lazily adds a bar once the number of
// cells is known
func (r *Runner) progressBar(name string) grid.ProgressCallback {
	var once sync.Once
	var bar *uiprogress.Bar
	return func(done, total int) {
		once.Do(func() {
			bar = r.progress.AddBar(total).AppendCompleted().PrependElapsed()
			bar.PrependFunc(func(b *uiprogress.Bar) string {
				return name
			})
		})
		_ = bar.Set(done)
	}
}

// outputPath places the output next to the input, or in the configured
// directory
func (r *Runner) outputPath(path, suffix string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + suffix
	dir := r.cfg.Output.Dir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	return filepath.Join(dir, base)
}
