package binning

import (
	"math"
	"sort"

	"crosscal/internal/models"
	"crosscal/pkg/robust"
)

const (
	// errorFloor is the bin spread below which the mission error is used
	errorFloor = 0.01

	// effectiveSampleFactor deflates the naive bin count for serial
	// correlation: n_eff = n * (1/12) / (2 * 3/12), a two-month
	// decorrelation assumption on monthly sampling
	effectiveSampleFactor = Month / (2 * (3.0 / 12))
)

// MissionOptions configures the per-mission monthly assembly
type MissionOptions struct {
	// Start, Stop and Step define the common time axis [Start, Stop)
	Start, Stop, Step float64

	// Window is the smoothing window of the overlapping pass
	Window float64

	// Decay is the optional exponential kernel decay of the smoothing pass
	Decay float64

	// MaskWindow is the strict window used only as a presence mask
	MaskWindow float64

	// Windows overrides the smoothing window of individual missions
	Windows map[int]float64
}

// Missions returns the sorted distinct mission ids
func Missions(m []int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, id := range m {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// MissionSeries bins every mission of a neighborhood onto the common axis.
//
// Each step carries a smoothed value, a count and an error that combines in
// quadrature the mission single-measurement error (mean formal error / sqrt 2)
// and the binning standard error deflated by the effective sample size. Steps
// where the strict mask has no data are blanked so no value is extrapolated
// across a genuine gap.
func MissionSeries(t []float64, v []models.Opt, m []int, e []models.Opt, opt MissionOptions) []models.MissionSeries {
	missions := Missions(m)
	out := make([]models.MissionSeries, 0, len(missions))

	for _, id := range missions {
		// Get mission subset
		var tm []float64
		var vm, em []models.Opt
		for i := range t {
			if m[i] == id {
				tm = append(tm, t[i])
				vm = append(vm, v[i])
				em = append(em, e[i])
			}
		}

		// Mission specific single-measurement error
		mRMS := robust.MeanOpt(em).Scale(1 / math.Sqrt2)

		window := opt.Window
		if w, ok := opt.Windows[id]; ok {
			window = w
		}
		smooth := Overlapping(tm, vm, WindowOptions{
			Start: opt.Start, Stop: opt.Stop, Step: opt.Step,
			Window: window, Decay: opt.Decay,
		})
		mask := Overlapping(tm, vm, WindowOptions{
			Start: opt.Start, Stop: opt.Stop, Step: opt.Step,
			Window: opt.MaskWindow, Median: true,
		})

		n := smooth.Len()
		series := models.MissionSeries{
			Mission: id,
			Time:    smooth.Center,
			Value:   make([]models.Opt, n),
			Error:   make([]models.Opt, n),
			Count:   make([]int, n),
		}

		// Remove interpolated values and floor the spread
		binErr := make([]models.Opt, n)
		for j := 0; j < n; j++ {
			if !mask.Value[j].Valid {
				continue
			}
			series.Value[j] = smooth.Value[j]
			series.Count[j] = smooth.Count[j]
			binErr[j] = smooth.Spread[j]
			if binErr[j].Valid && binErr[j].Value < errorFloor {
				binErr[j] = mRMS
			}
		}

		nEff := 1.0
		if nDat := robust.CountValid(series.Value); nDat > 0 {
			nEff = float64(nDat) * effectiveSampleFactor
		}

		for j := 0; j < n; j++ {
			if series.Count[j] < 1 {
				series.Value[j] = models.None()
				continue
			}
			random := binErr[j].Scale(1 / math.Sqrt(nEff))
			systematic := mRMS
			if !random.Valid {
				systematic = models.None()
			}
			series.Error[j] = systematic.Mul(systematic).Add(random.Mul(random))
			if series.Error[j].Valid {
				series.Error[j] = models.Some(math.Sqrt(series.Error[j].Value))
			}
		}

		out = append(out, series)
	}
	return out
}

// Flatten concatenates mission series into parallel sample vectors in
// mission order, the layout consumed by the regression stage
func Flatten(series []models.MissionSeries) (t []float64, v []models.Opt, e []models.Opt, m []int) {
	for _, s := range series {
		t = append(t, s.Time...)
		v = append(v, s.Value...)
		e = append(e, s.Error...)
		for range s.Time {
			m = append(m, s.Mission)
		}
	}
	return t, v, e, m
}
