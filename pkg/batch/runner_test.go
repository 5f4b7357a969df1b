package batch

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"crosscal/pkg/archive"
	"crosscal/pkg/config"
	"crosscal/pkg/metrics"
	"crosscal/pkg/projection"
)

const centerY = 1.5e6

// writeHandover writes a two-mission table around one grid node on the
// Antarctic polar stereographic grid
func writeHandover(t *testing.T, path string) {
	t.Helper()
	proj, err := projection.FromEPSG(3031)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(21))

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	fmt.Fprintln(f, "lon,lat,t_year,h_res,m_rms,m_id")

	add := func(mission int, start, stop, bias float64) {
		for ti := start; ti < stop; ti += 1.0 / 120 {
			x := (rng.Float64() - 0.5) * 900
			y := centerY + (rng.Float64()-0.5)*900
			lon, lat, err := proj.Inverse(x, y)
			if err != nil {
				t.Fatal(err)
			}
			h := 0.1*(ti-1993) + bias + 0.1*(rng.Float64()-0.5)
			fmt.Fprintf(f, "%s,%s,%s,%s,0.05,%d\n",
				strconv.FormatFloat(lon, 'g', -1, 64),
				strconv.FormatFloat(lat, 'g', -1, 64),
				strconv.FormatFloat(ti, 'g', -1, 64),
				strconv.FormatFloat(h, 'g', -1, 64),
				mission)
		}
	}
	add(6, 1993, 1996.9, 0)
	add(5, 1995, 2000, 0.8)
}

func testConfig(dir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Grid.BBox = []float64{0, 0, centerY, centerY}
	cfg.Search.MinRadius = 2
	cfg.Search.MaxRadius = 2
	cfg.Coverage.MinObs = 50
	cfg.Series.Start = 1993
	cfg.Series.Stop = 2000
	cfg.CrossCal.Enabled = true
	cfg.Processing.Jobs = 2
	cfg.Processing.CellWorkers = 2
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Metrics.Textfile = filepath.Join(dir, "crosscal.prom")
	return cfg
}

func TestRunPoints(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping batch run in short mode")
	}

	dir := t.TempDir()
	input := filepath.Join(dir, "tile.csv")
	writeHandover(t, input)

	m, err := metrics.New()
	if err != nil {
		t.Fatal(err)
	}
	r, err := New(testConfig(dir), WithMetrics(m))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if r.RunID() == "" {
		t.Errorf("Expected a run id")
	}

	missing := filepath.Join(dir, "absent.csv")
	reports, err := r.Run(context.Background(), []string{input, missing})
	if err == nil {
		t.Errorf("Expected the missing file to be reported")
	}
	if len(reports) != 2 {
		t.Fatalf("Expected 2 reports, got %d", len(reports))
	}
	if reports[0].Err != nil {
		t.Fatalf("Expected the first batch to succeed, got %v", reports[0].Err)
	}
	if reports[1].Err == nil {
		t.Errorf("Expected the second batch to fail")
	}

	rep := reports[0]
	if rep.Cells != 1 || rep.Solved != 1 {
		t.Errorf("Expected 1 solved cell, got %d of %d (skipped %v)", rep.Solved, rep.Cells, rep.Skipped)
	}
	if want := filepath.Join(dir, "out", "tile_cal.csv"); rep.Output != want {
		t.Errorf("Expected output %s, got %s", want, rep.Output)
	}

	out, err := os.Open(rep.Output)
	if err != nil {
		t.Fatalf("Expected the output file: %v", err)
	}
	defer out.Close()
	rows, err := csv.NewReader(out).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows)-1 != rep.Observations {
		t.Errorf("Expected %d output rows, got %d", rep.Observations, len(rows)-1)
	}

	// Mean h_cal per mission carries the handover bias
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, row := range rows[1:] {
		v, err := strconv.ParseFloat(row[6], 64)
		if err != nil {
			t.Fatalf("Malformed h_cal %q", row[6])
		}
		sums[row[5]] += v
		counts[row[5]]++
	}
	delta := sums["5"]/float64(counts["5"]) - sums["6"]/float64(counts["6"])
	if math.Abs(delta-0.8) > 0.05 {
		t.Errorf("Expected a handover bias of 0.8, got %v", delta)
	}

	if _, err := os.Stat(filepath.Join(dir, "crosscal.prom")); err != nil {
		t.Errorf("Expected the metrics textfile: %v", err)
	}
}

func TestRunSeries(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping batch run in short mode")
	}

	dir := t.TempDir()
	input := filepath.Join(dir, "tile.csv")
	writeHandover(t, input)

	cfg := testConfig(dir)
	cfg.Output.Series = true
	cfg.Metrics.Textfile = ""
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rep := r.Process(context.Background(), input)
	if rep.Err != nil {
		t.Fatalf("Process failed: %v", rep.Err)
	}
	f, err := os.Open(rep.Output)
	if err != nil {
		t.Fatalf("Expected the bundle file: %v", err)
	}
	defer f.Close()

	bundles, err := archive.ReadBundles(f)
	if err != nil {
		t.Fatalf("ReadBundles failed: %v", err)
	}
	if len(bundles) != 1 {
		t.Fatalf("Expected 1 bundle, got %d", len(bundles))
	}
	if bundles[0].Dims[0] != 2 {
		t.Errorf("Expected 2 missions in the bundle, got %v", bundles[0].Dims)
	}
	if math.Abs(bundles[0].Lat0+76.3) > 0.5 {
		t.Errorf("Expected the cell center near 76.3S, got %v", bundles[0].Lat0)
	}
}

func TestProcessSkipsUnprojectedPoints(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "zone.csv")

	var b strings.Builder
	b.WriteString("lon,lat,t_year,h_res,m_rms,m_id\n")
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "%v,52,%v,0.1,0.05,5\n", 15+0.001*float64(i), 1995+0.1*float64(i))
	}
	// Outside zone 33, and a point without a position
	b.WriteString("22,52,1996,0.1,0.05,5\n")
	b.WriteString("NaN,52,1996,0.1,0.05,5\n")
	if err := os.WriteFile(input, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Projection.EPSG = 32633
	cfg.Grid.DX = 50
	cfg.Grid.DY = 50
	cfg.Output.Dir = filepath.Join(dir, "out")
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rep := r.Process(context.Background(), input)
	if rep.Err != nil {
		t.Fatalf("Process failed: %v", rep.Err)
	}
	if rep.Observations != 22 {
		t.Errorf("Expected 22 observations, got %d", rep.Observations)
	}
	if rep.Cells != 1 {
		t.Errorf("Expected a single cell around the projected points, got %d", rep.Cells)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Projection.EPSG = 3857
	if _, err := New(cfg); err == nil {
		t.Errorf("Expected an unsupported projection to be rejected")
	}

	cfg = config.DefaultConfig()
	cfg.Processing.Raster = filepath.Join(t.TempDir(), "absent.bin")
	if _, err := New(cfg); err == nil {
		t.Errorf("Expected a missing raster file to be rejected")
	}
}
