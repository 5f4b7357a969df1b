package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"crosscal/pkg/config"
)

func TestApplyFlags(t *testing.T) {
	opts := &runOptions{}
	cmd := &cobra.Command{Use: "run"}
	bindRunFlags(cmd, opts)

	if err := cmd.ParseFlags([]string{"--dx", "2.5", "-z", "40", "-t", "2010", "-b", "--epsg", "3413"}); err != nil {
		t.Fatalf("ParseFlags failed: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Search.MaxRadius = 8
	applyFlags(cmd, opts, cfg)

	if cfg.Grid.DX != 2.5 || cfg.Grid.DY != 1 {
		t.Errorf("Expected dx 2.5 and the default dy, got %v and %v", cfg.Grid.DX, cfg.Grid.DY)
	}
	if cfg.Coverage.MinObs != 40 {
		t.Errorf("Expected minObs 40, got %d", cfg.Coverage.MinObs)
	}
	if cfg.Output.RefTime == nil || *cfg.Output.RefTime != 2010 {
		t.Errorf("Expected refTime 2010, got %v", cfg.Output.RefTime)
	}
	if !cfg.CrossCal.Enabled || cfg.Projection.EPSG != 3413 {
		t.Errorf("Expected residual cross-calibration on EPSG:3413")
	}
	if cfg.Search.MaxRadius != 8 {
		t.Errorf("Expected an unset flag to keep the configured value, got %v", cfg.Search.MaxRadius)
	}
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crosscal.yaml")

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"init-config", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("init-config failed: %v", err)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Coverage.MinObs != 100 {
		t.Errorf("Expected the default configuration, got minObs %d", cfg.Coverage.MinObs)
	}
}

func TestRunRequiresFiles(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"run"})
	if err := root.Execute(); err == nil {
		t.Errorf("Expected an error without input files")
	}
}
