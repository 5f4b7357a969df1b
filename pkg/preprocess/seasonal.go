package preprocess

import (
	"math"

	"crosscal/internal/models"
	"crosscal/pkg/binning"
)

// ReferenceClass is the first mission id subject to seasonal rescaling;
// missions below it define the reference seasonal signal
const ReferenceClass = 3

// Harmonics provides annual-harmonic amplitudes at arbitrary locations
type Harmonics interface {
	Reference(x, y float64) (cos, sin models.Opt)
	Mission(id int, x, y float64) (cos, sin models.Opt)
}

// SeasonalCorrection returns, for every observation, the seasonal signal to
// subtract so that each mission's annual amplitude matches the reference
// amplitude at the location.
//
// Missions below ReferenceClass get zero. A mission whose amplitude is
// below the reference amplitude also gets zero: a weaker signal is never
// amplified.
func SeasonalCorrection(x, y, t []float64, m []int, h Harmonics) []float64 {
	out := make([]float64, len(t))
	if h == nil {
		return out
	}

	for _, id := range binning.Missions(m) {
		// Don't correct reference
		if id < ReferenceClass {
			continue
		}

		var idx []int
		var xs, ys float64
		for i := range m {
			if m[i] == id {
				idx = append(idx, i)
				xs += x[i]
				ys += y[i]
			}
		}
		xs /= float64(len(idx))
		ys /= float64(len(idx))

		f := AmplitudeRatio(h, id, xs, ys)
		if f == 0 {
			continue
		}
		c, s := h.Mission(id, xs, ys)
		for _, i := range idx {
			model := c.Value*math.Cos(2*math.Pi*t[i]) + s.Value*math.Sin(2*math.Pi*t[i])
			out[i] = f * model
		}
	}
	return out
}

// AmplitudeRatio returns the scale 1 - a_ref/a_mission applied to a
// mission's harmonic model at (x, y), or zero when the correction must be
// skipped: amplitudes unavailable, zero mission amplitude, or a mission
// amplitude below the reference.
func AmplitudeRatio(h Harmonics, id int, x, y float64) float64 {
	rc, rs := h.Reference(x, y)
	mc, ms := h.Mission(id, x, y)
	if !rc.Valid || !rs.Valid || !mc.Valid || !ms.Valid {
		return 0
	}

	aRef := math.Hypot(rc.Value, rs.Value)
	aMis := math.Hypot(mc.Value, ms.Value)
	if aMis == 0 || aMis < aRef {
		return 0
	}
	return 1 - aRef/aMis
}

// Subtract returns v - c elementwise, leaving missing values missing
func Subtract(v []models.Opt, c []float64) []models.Opt {
	out := make([]models.Opt, len(v))
	for i := range v {
		out[i] = v[i].Sub(models.Some(c[i]))
	}
	return out
}
