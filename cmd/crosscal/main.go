package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"crosscal/internal/log"
	"crosscal/pkg/batch"
	"crosscal/pkg/config"
	"crosscal/pkg/metrics"
)

// runOptions holds the flags of the run command; a flag only overrides the
// configuration file when it is set explicitly
type runOptions struct {
	configPath string
	quiet      bool

	dx, dy      float64
	rmin, rmax  float64
	radiusSteps int
	minObs      int
	minSpan     float64
	minMissions int
	refTime     float64
	slopeLimit  float64
	epsg        int
	jobs        int
	workers     int
	step        float64
	crosscal    bool
	apply       bool
	series      bool
	raster      string
	outDir      string
	debug       bool
	textfile    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "crosscal",
		Short: "Adaptive least-squares cross-calibration of multi-mission altimetry",
		Long: "crosscal removes inter-satellite biases from multi-mission surface-height-change\n" +
			"observations, producing a self-consistent, bias-corrected height-anomaly field.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(), newInitConfigCommand())
	return root
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [flags] FILE...",
		Short: "Cross-calibrate one or more observation files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	bindRunFlags(cmd, opts)
	return cmd
}

func bindRunFlags(cmd *cobra.Command, opts *runOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "crosscal.yaml", "configuration file")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "disable progress bars")
	f.Float64Var(&opts.dx, "dx", 1, "grid resolution in x (km)")
	f.Float64Var(&opts.dy, "dy", 1, "grid resolution in y (km)")
	f.Float64Var(&opts.rmin, "rmin", 5, "minimum search radius (km)")
	f.Float64Var(&opts.rmax, "rmax", 5, "maximum search radius (km)")
	f.IntVar(&opts.radiusSteps, "radius-steps", 1, "number of search radii tried")
	f.IntVarP(&opts.minObs, "min-obs", "z", 100, "minimum observations to compute a solution")
	f.Float64Var(&opts.minSpan, "min-span", 0, "discard estimate if data span is not above this (yr)")
	f.IntVarP(&opts.minMissions, "min-missions", "k", 1, "minimum number of missions in a solution")
	f.Float64VarP(&opts.refTime, "ref-time", "t", 0, "time to reference the solution to (yr)")
	f.Float64VarP(&opts.slopeLimit, "slope-lim", "l", 9999, "surface slope limit for pulse-limited missions")
	f.IntVarP(&opts.epsg, "epsg", "j", 3031, "projection EPSG code (AnIS=3031, GrIS=3413)")
	f.IntVarP(&opts.jobs, "jobs", "n", 1, "number of files processed in parallel")
	f.IntVar(&opts.workers, "cell-workers", 0, "number of cells processed in parallel per file")
	f.Float64VarP(&opts.step, "step", "s", 1, "time step of the binned series (months)")
	f.BoolVarP(&opts.crosscal, "residual-crosscal", "b", false, "apply residual cross-calibration")
	f.BoolVarP(&opts.apply, "apply", "a", false, "apply cross-calibration to the value column")
	f.BoolVarP(&opts.series, "series", "o", false, "save per-cell time series instead of the point cloud")
	f.StringVar(&opts.raster, "raster", "", "seasonal amplitude raster file (msgpack)")
	f.StringVar(&opts.outDir, "out-dir", "", "output directory (default: next to the input)")
	f.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	f.StringVar(&opts.textfile, "metrics-textfile", "", "write run metrics to this file")
}

func newInitConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [PATH]",
		Short: "Write a configuration file with the default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "crosscal.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", path)
			return nil
		},
	}
}

func run(cmd *cobra.Command, opts *runOptions, files []string) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, opts, cfg)

	if err := log.Init(cfg.Log.Debug); err != nil {
		return err
	}
	defer log.Sync()

	m, err := metrics.New()
	if err != nil {
		return err
	}

	runnerOpts := []batch.Option{
		batch.WithLogger(log.GetSugaredLogger()),
		batch.WithMetrics(m),
	}
	if !opts.quiet {
		runnerOpts = append(runnerOpts, batch.WithProgressBars())
	}
	runner, err := batch.New(cfg, runnerOpts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("starting run",
		"run_id", runner.RunID(),
		"files", len(files),
		"jobs", cfg.Processing.Jobs,
		"epsg", cfg.Projection.EPSG,
		"residual_crosscal", cfg.CrossCal.Enabled)

	startTime := time.Now()
	reports, err := runner.Run(ctx, files)

	failed := 0
	for _, rep := range reports {
		if rep.Err != nil {
			failed++
		}
	}
	log.Infow("run finished",
		"files", len(reports),
		"failed", failed,
		"elapsed", time.Since(startTime).String())
	return err
}

// applyFlags copies explicitly set flags over the loaded configuration
func applyFlags(cmd *cobra.Command, opts *runOptions, cfg *config.Config) {
	set := cmd.Flags().Changed

	if set("dx") {
		cfg.Grid.DX = opts.dx
	}
	if set("dy") {
		cfg.Grid.DY = opts.dy
	}
	if set("rmin") {
		cfg.Search.MinRadius = opts.rmin
	}
	if set("rmax") {
		cfg.Search.MaxRadius = opts.rmax
	}
	if set("radius-steps") {
		cfg.Search.RadiusSteps = opts.radiusSteps
	}
	if set("min-obs") {
		cfg.Coverage.MinObs = opts.minObs
	}
	if set("min-span") {
		cfg.Coverage.MinSpan = opts.minSpan
	}
	if set("min-missions") {
		cfg.Coverage.MinMissions = opts.minMissions
	}
	if set("ref-time") {
		t := opts.refTime
		cfg.Output.RefTime = &t
	}
	if set("slope-lim") {
		cfg.Filter.SlopeLimit = opts.slopeLimit
	}
	if set("epsg") {
		cfg.Projection.EPSG = opts.epsg
	}
	if set("jobs") {
		cfg.Processing.Jobs = opts.jobs
	}
	if set("cell-workers") {
		cfg.Processing.CellWorkers = opts.workers
	}
	if set("step") {
		cfg.Series.Step = opts.step
	}
	if set("residual-crosscal") {
		cfg.CrossCal.Enabled = opts.crosscal
	}
	if set("apply") {
		cfg.Output.Apply = opts.apply
	}
	if set("series") {
		cfg.Output.Series = opts.series
	}
	if set("raster") {
		cfg.Processing.Raster = opts.raster
	}
	if set("out-dir") {
		cfg.Output.Dir = opts.outDir
	}
	if set("debug") {
		cfg.Log.Debug = opts.debug
	}
	if set("metrics-textfile") {
		cfg.Metrics.Textfile = opts.textfile
	}
}
