package preprocess

import (
	"crosscal/internal/models"
)

// IngestOptions controls the batch-level edits applied after loading
type IngestOptions struct {
	// SlopeLimit rejects pulse-limited missions (id > 1) on steeper terrain
	SlopeLimit float64

	// BackscatterExempt lists missions whose missing backscatter correction
	// is taken as zero instead of rejecting the value
	BackscatterExempt []int

	// ValueLimit clips |value| when positive
	ValueLimit float64

	// IterTol and IterAlpha configure the iterative global outlier filter;
	// it is disabled when IterAlpha is zero
	IterTol   float64
	IterAlpha float64
}

// Ingest applies the backscatter correction, the surface-slope edit and the
// optional iterative outlier filter, returning a new observation slice.
func Ingest(obs []models.Observation, opt IngestOptions) []models.Observation {
	exempt := make(map[int]bool, len(opt.BackscatterExempt))
	for _, id := range opt.BackscatterExempt {
		exempt[id] = true
	}

	out := make([]models.Observation, len(obs))
	copy(out, obs)

	// Apply scattering correction, rejecting values without one
	for i := range out {
		bs := out[i].Backscatter
		if !bs.Valid && exempt[out[i].Mission] {
			bs = models.Some(0)
		}
		out[i].Value = out[i].Value.Sub(bs)
	}

	// Edit on surface slope only when every slope is known
	allKnown := len(out) > 0
	for i := range out {
		if !out[i].Slope.Valid {
			allKnown = false
			break
		}
	}
	if allKnown {
		for i := range out {
			if out[i].Slope.Value > opt.SlopeLimit && out[i].Mission > 1 {
				out[i].Value = models.None()
			}
		}
	}

	if opt.ValueLimit > 0 || opt.IterAlpha > 0 {
		values := make([]models.Opt, len(out))
		for i := range out {
			values[i] = out[i].Value
		}
		values = IterativeFilter(values, opt.ValueLimit, opt.IterTol, opt.IterAlpha)
		for i := range out {
			out[i].Value = values[i]
		}
	}
	return out
}
