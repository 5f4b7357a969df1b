package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"crosscal/pkg/binning"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Coverage.MinObs != 100 {
		t.Errorf("Expected minObs 100, got %d", cfg.Coverage.MinObs)
	}
	if cfg.Coverage.MinSampling != 0.70 {
		t.Errorf("Expected minSampling 0.70, got %v", cfg.Coverage.MinSampling)
	}
	if cfg.Projection.EPSG != 3031 {
		t.Errorf("Expected EPSG 3031, got %d", cfg.Projection.EPSG)
	}
	if len(cfg.CrossCal.Rules) != 3 {
		t.Errorf("Expected 3 default rules, got %d", len(cfg.CrossCal.Rules))
	}
	if cfg.Processing.CellWorkers < 1 {
		t.Errorf("Expected at least one cell worker, got %d", cfg.Processing.CellWorkers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected the defaults to validate, got %v", err)
	}
}

func TestGridParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Search.MinRadius = 2
	cfg.Search.MaxRadius = 6
	cfg.Search.RadiusSteps = 3

	p := cfg.GridParams()
	if p.DX != 1000 || p.DY != 1000 {
		t.Errorf("Expected 1000 m resolution, got %v x %v", p.DX, p.DY)
	}
	if len(p.Radii) != 3 || p.Radii[0] != 2000 || p.Radii[2] != 6000 {
		t.Errorf("Expected radii [2000 4000 6000], got %v", p.Radii)
	}
	if p.Fit.Step != binning.Month || p.Out.Step != binning.Month {
		t.Errorf("Expected a monthly series step, got %v and %v", p.Fit.Step, p.Out.Step)
	}
	if p.Fit.Windows[8] != 0.5 {
		t.Errorf("Expected a 6 month window for mission 8, got %v", p.Fit.Windows[8])
	}
	if p.Workers != cfg.Processing.CellWorkers {
		t.Errorf("Expected %d workers, got %d", cfg.Processing.CellWorkers, p.Workers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Coverage.MinObs != 100 {
		t.Errorf("Expected defaults for a missing file")
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "crosscal.yaml")

	cfg := DefaultConfig()
	cfg.Grid.DX = 2.5
	cfg.CrossCal.Enabled = true
	ref := 2010.0
	cfg.Output.RefTime = &ref
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Grid.DX != 2.5 || !loaded.CrossCal.Enabled {
		t.Errorf("Expected saved values, got dx=%v enabled=%v", loaded.Grid.DX, loaded.CrossCal.Enabled)
	}
	if loaded.Output.RefTime == nil || *loaded.Output.RefTime != ref {
		t.Errorf("Expected refTime %v, got %v", ref, loaded.Output.RefTime)
	}
	if len(loaded.CrossCal.Rules) != 3 || loaded.CrossCal.Rules[1].Name != "ers2-envisat" {
		t.Errorf("Expected the default rules to round trip, got %+v", loaded.CrossCal.Rules)
	}
	if loaded.Groups()[5] != 1 {
		t.Errorf("Expected mission 5 in group 1, got %d", loaded.Groups()[5])
	}
}

func TestLoadReplacesRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crosscal.yaml")
	data := `
crosscal:
  enabled: true
  strictness: 2
  rules:
    - name: only
      later: 1
      earlier: 0
      start: 2000
      end: 2001
      minBins: 3
      maxOffset: 5
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.CrossCal.Rules) != 1 || cfg.CrossCal.Rules[0].Name != "only" {
		t.Errorf("Expected the file's rule table to replace the defaults, got %+v", cfg.CrossCal.Rules)
	}
	if len(cfg.CrossCal.Groups) == 0 {
		t.Errorf("Expected default groups when the file has none")
	}
	if cfg.Coverage.MinObs != 100 {
		t.Errorf("Expected unset values to keep their defaults")
	}
}

func TestLoadStrictnessDefaultsRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crosscal.yaml")
	if err := os.WriteFile(path, []byte("crosscal:\n  strictness: 1.5\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.CrossCal.Rules[0].Strictness != 0 || cfg.CrossCal.Rules[2].Strictness != 1.5 {
		t.Errorf("Expected default rules built with strictness 1.5, got %+v", cfg.CrossCal.Rules)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crosscal.yaml")
	if err := os.WriteFile(path, []byte("grid: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Errorf("Expected a parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"resolution": func(c *Config) { c.Grid.DX = 0 },
		"bbox":       func(c *Config) { c.Grid.BBox = []float64{0, 1} },
		"radii":      func(c *Config) { c.Search.MaxRadius = 1; c.Search.MinRadius = 2 },
		"series":     func(c *Config) { c.Series.Stop = c.Series.Start },
		"window":     func(c *Config) { c.Series.FitWindow = 0 },
		"jobs":       func(c *Config) { c.Processing.Jobs = 0 },
		"sampling":   func(c *Config) { c.Coverage.MinSampling = 1.5 },
		"nsigma":     func(c *Config) { c.Solver.NSigma = 0 },
		"threshold":  func(c *Config) { c.Solver.Threshold = -1 },
		"fields":     func(c *Config) { c.Fields.Mission = "" },
		"rule window": func(c *Config) {
			c.CrossCal.Rules[0].End = c.CrossCal.Rules[0].Start - 1
		},
		"rule order": func(c *Config) {
			c.CrossCal.Rules[0], c.CrossCal.Rules[1] = c.CrossCal.Rules[1], c.CrossCal.Rules[0]
		},
	}
	for name, mod := range cases {
		cfg := DefaultConfig()
		mod(cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}
