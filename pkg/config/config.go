// Package config provides configuration loading and management for crosscal.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"crosscal/internal/models"
	"crosscal/pkg/binning"
	"crosscal/pkg/crosscal"
	"crosscal/pkg/grid"
	"crosscal/pkg/preprocess"
	"crosscal/pkg/regression"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Prediction grid
	Grid struct {
		// DX and DY are the grid resolution in kilometres
		DX float64 `yaml:"dx"`
		DY float64 `yaml:"dy"`

		// BBox optionally fixes the extent as [xmin, xmax, ymin, ymax] in metres
		BBox []float64 `yaml:"bbox,omitempty"`
	} `yaml:"grid"`

	// Neighborhood search
	Search struct {
		// MinRadius and MaxRadius bound the search radius in kilometres
		MinRadius float64 `yaml:"minRadius"`
		MaxRadius float64 `yaml:"maxRadius"`

		// RadiusSteps is the number of radii tried between the bounds
		RadiusSteps int `yaml:"radiusSteps"`
	} `yaml:"search"`

	// Coverage gate
	Coverage struct {
		MinObs      int     `yaml:"minObs"`
		MinSpan     float64 `yaml:"minSpan"`
		MinMissions int     `yaml:"minMissions"`
		MinSampling float64 `yaml:"minSampling"`
	} `yaml:"coverage"`

	// Robust solver
	Solver struct {
		Iterations        int     `yaml:"iterations"`
		NSigma            float64 `yaml:"nSigma"`
		Threshold         float64 `yaml:"threshold"`
		StrictConvergence bool    `yaml:"strictConvergence"`
	} `yaml:"solver"`

	// Outlier editing
	Filter struct {
		// Alpha and Window configure the running-window filter
		Alpha  float64 `yaml:"alpha"`
		Window float64 `yaml:"window"`

		// SlopeLimit rejects pulse-limited missions over steep terrain
		SlopeLimit float64 `yaml:"slopeLimit"`

		// BackscatterExempt lists missions whose missing backscatter is zero
		BackscatterExempt []int `yaml:"backscatterExempt"`

		// ValueLimit, IterTol and IterAlpha configure the global filter
		ValueLimit float64 `yaml:"valueLimit"`
		IterTol    float64 `yaml:"iterTol"`
		IterAlpha  float64 `yaml:"iterAlpha"`
	} `yaml:"filter"`

	// Time-series binning
	Series struct {
		Start float64 `yaml:"start"`
		Stop  float64 `yaml:"stop"`

		// Step is the series step in months
		Step float64 `yaml:"step"`

		FitWindow float64 `yaml:"fitWindow"`
		FitDecay  float64 `yaml:"fitDecay"`
		OutWindow float64 `yaml:"outWindow"`

		// MissionWindows overrides the window of missions with sparse
		// sampling in both binning passes
		MissionWindows map[int]float64 `yaml:"missionWindows"`
	} `yaml:"series"`

	// Residual cross-calibration
	CrossCal struct {
		Enabled bool `yaml:"enabled"`

		// Strictness is the interval factor a of the default rules
		Strictness float64 `yaml:"strictness"`

		// Groups maps mission ids to sensor-era groups
		Groups map[int]int `yaml:"groups"`

		// Rules are the overlap epochs in calendar order
		Rules []models.OverlapRule `yaml:"rules"`
	} `yaml:"crosscal"`

	// Output parameters
	Output struct {
		// Apply subtracts the calibration from the value column
		Apply bool `yaml:"apply"`

		// Series writes per-cell bundles instead of the point cloud
		Series bool `yaml:"series"`

		// RefTime references the trend model to a fixed epoch
		RefTime *float64 `yaml:"refTime,omitempty"`

		// Dir is the output directory; empty writes next to the input
		Dir string `yaml:"dir"`
	} `yaml:"output"`

	Projection struct {
		EPSG int `yaml:"epsg"`
	} `yaml:"projection"`

	// Input column names
	Fields struct {
		Lon         string `yaml:"lon"`
		Lat         string `yaml:"lat"`
		Time        string `yaml:"time"`
		Value       string `yaml:"value"`
		Error       string `yaml:"error"`
		Mission     string `yaml:"mission"`
		Backscatter string `yaml:"backscatter"`
		Slope       string `yaml:"slope"`
	} `yaml:"fields"`

	// Processing parameters
	Processing struct {
		// Jobs is the number of files processed concurrently
		Jobs int `yaml:"jobs"`

		// CellWorkers is the number of cells processed concurrently per file
		CellWorkers int `yaml:"cellWorkers"`

		// Raster is the seasonal amplitude raster file; empty disables
		// seasonal normalization
		Raster string `yaml:"raster"`
	} `yaml:"processing"`

	Log struct {
		Debug bool `yaml:"debug"`
	} `yaml:"log"`

	Metrics struct {
		// Textfile is written in the node-exporter textfile format when set
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Grid.DX = 1
	cfg.Grid.DY = 1

	cfg.Search.MinRadius = 5
	cfg.Search.MaxRadius = 5
	cfg.Search.RadiusSteps = 1

	cfg.Coverage.MinObs = 100
	cfg.Coverage.MinSpan = 0
	cfg.Coverage.MinMissions = 1
	cfg.Coverage.MinSampling = 0.70

	defaults := regression.DefaultOptions()
	cfg.Solver.Iterations = defaults.Iterations
	cfg.Solver.NSigma = defaults.NSigma
	cfg.Solver.Threshold = defaults.Threshold

	cfg.Filter.Alpha = 10
	cfg.Filter.Window = 3.0 / 12
	cfg.Filter.SlopeLimit = 9999
	cfg.Filter.BackscatterExempt = []int{8}

	cfg.Series.Start = 1992
	cfg.Series.Stop = 2019
	cfg.Series.Step = 1
	cfg.Series.FitWindow = 6.0 / 12
	cfg.Series.FitDecay = 3.0 / 12
	cfg.Series.OutWindow = 1.0 / 12
	cfg.Series.MissionWindows = map[int]float64{8: 6.0 / 12}

	cfg.CrossCal.Enabled = false
	cfg.CrossCal.Strictness = 0
	cfg.CrossCal.Groups = crosscal.DefaultGroups()
	cfg.CrossCal.Rules = crosscal.DefaultRules(0)

	cfg.Projection.EPSG = 3031

	cfg.Fields.Lon = "lon"
	cfg.Fields.Lat = "lat"
	cfg.Fields.Time = "t_year"
	cfg.Fields.Value = "h_res"
	cfg.Fields.Error = "m_rms"
	cfg.Fields.Mission = "m_id"
	cfg.Fields.Backscatter = "h_bs"
	cfg.Fields.Slope = "slope"

	cfg.Processing.Jobs = 1
	cfg.Processing.CellWorkers = runtime.NumCPU() // Use all available cores by default

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// A rules or groups table in the file replaces the default one
	cfg.CrossCal.Rules = nil
	cfg.CrossCal.Groups = nil

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if cfg.CrossCal.Rules == nil {
		cfg.CrossCal.Rules = crosscal.DefaultRules(cfg.CrossCal.Strictness)
	}
	if cfg.CrossCal.Groups == nil {
		cfg.CrossCal.Groups = crosscal.DefaultGroups()
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Grid.DX <= 0 || c.Grid.DY <= 0:
		return fmt.Errorf("%w: grid resolution must be positive", ErrInvalid)
	case c.Grid.BBox != nil && len(c.Grid.BBox) != 4:
		return fmt.Errorf("%w: bbox needs 4 values, got %d", ErrInvalid, len(c.Grid.BBox))
	case c.Search.MinRadius <= 0 || c.Search.MaxRadius < c.Search.MinRadius:
		return fmt.Errorf("%w: search radii must satisfy 0 < min <= max", ErrInvalid)
	case c.Coverage.MinSampling < 0 || c.Coverage.MinSampling > 1:
		return fmt.Errorf("%w: minSampling must lie in [0, 1]", ErrInvalid)
	case c.Solver.Iterations < 0:
		return fmt.Errorf("%w: solver iterations must not be negative", ErrInvalid)
	case !(c.Solver.NSigma > 0) || !(c.Solver.Threshold > 0):
		return fmt.Errorf("%w: solver nSigma and threshold must be positive", ErrInvalid)
	case c.Series.Step <= 0 || c.Series.Stop <= c.Series.Start:
		return fmt.Errorf("%w: series axis must have a positive step and stop > start", ErrInvalid)
	case c.Series.FitWindow <= 0 || c.Series.OutWindow <= 0 || c.Filter.Window <= 0:
		return fmt.Errorf("%w: binning windows must be positive", ErrInvalid)
	case c.Processing.Jobs < 1 || c.Processing.CellWorkers < 1:
		return fmt.Errorf("%w: jobs and cellWorkers must be at least 1", ErrInvalid)
	case c.Fields.Lon == "" || c.Fields.Lat == "" || c.Fields.Time == "" ||
		c.Fields.Value == "" || c.Fields.Mission == "":
		return fmt.Errorf("%w: lon, lat, time, value and mission fields are required", ErrInvalid)
	}

	for i, r := range c.CrossCal.Rules {
		if r.End < r.Start {
			return fmt.Errorf("%w: rule %d (%s) window ends before it starts", ErrInvalid, i, r.Name)
		}
		if i > 0 && r.Start < c.CrossCal.Rules[i-1].Start {
			return fmt.Errorf("%w: rule %d (%s) is out of calendar order", ErrInvalid, i, r.Name)
		}
	}
	return nil
}

// Step returns the series step in decimal years
func (c *Config) Step() float64 { return c.Series.Step / 12 }

// GridParams builds the driver parameters
func (c *Config) GridParams() *grid.Params {
	step := c.Step()
	return &grid.Params{
		DX:    c.Grid.DX * 1e3,
		DY:    c.Grid.DY * 1e3,
		BBox:  c.Grid.BBox,
		Radii: grid.Radii(c.Search.MinRadius*1e3, c.Search.MaxRadius*1e3, c.Search.RadiusSteps),
		Gate: grid.Gate{
			MinObs:      c.Coverage.MinObs,
			MinSpan:     c.Coverage.MinSpan,
			MinMissions: c.Coverage.MinMissions,
			MinSampling: c.Coverage.MinSampling,
		},
		Solver: regression.Options{
			Iterations:        c.Solver.Iterations,
			NSigma:            c.Solver.NSigma,
			Threshold:         c.Solver.Threshold,
			StrictConvergence: c.Solver.StrictConvergence,
		},
		FilterAlpha:  c.Filter.Alpha,
		FilterWindow: c.Filter.Window,
		Fit: binning.MissionOptions{
			Start: c.Series.Start, Stop: c.Series.Stop, Step: step,
			Window: c.Series.FitWindow, Decay: c.Series.FitDecay,
			MaskWindow: binning.Month, Windows: c.Series.MissionWindows,
		},
		Out: binning.MissionOptions{
			Start: c.Series.Start, Stop: c.Series.Stop, Step: step,
			Window: c.Series.OutWindow, MaskWindow: binning.Month,
			Windows: c.Series.MissionWindows,
		},
		RefTime: c.Output.RefTime,
		Workers: c.Processing.CellWorkers,
	}
}

// IngestOptions builds the batch-level edit options
func (c *Config) IngestOptions() preprocess.IngestOptions {
	return preprocess.IngestOptions{
		SlopeLimit:        c.Filter.SlopeLimit,
		BackscatterExempt: c.Filter.BackscatterExempt,
		ValueLimit:        c.Filter.ValueLimit,
		IterTol:           c.Filter.IterTol,
		IterAlpha:         c.Filter.IterAlpha,
	}
}

// Groups returns the mission to group table
func (c *Config) Groups() crosscal.Groups {
	return crosscal.Groups(c.CrossCal.Groups)
}
