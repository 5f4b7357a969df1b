// Package crosscal chains inter-mission bias estimates across the
// satellite handover epochs.
//
// Stage A takes the mission offsets solved jointly with the trend model.
// Stage B re-examines the post-fit residuals inside each overlap window and
// estimates the remaining offset between the two sensor-era groups that
// observed it, accumulating the offsets in rule order so that every group is
// referenced back to the earliest one.
package crosscal

import (
	"math"

	"go.uber.org/zap"

	"crosscal/internal/log"
	"crosscal/internal/models"
	"crosscal/pkg/binning"
	"crosscal/pkg/regression"
	"crosscal/pkg/robust"
)

// Groups maps a mission id to its sensor-era group
type Groups map[int]int

// DefaultGroups returns the historical mission grouping: ERS-1 ocean/ice and
// Geosat; ERS-2 ocean/ice; Envisat and ICESat; CryoSat-2 LRM and SIN.
func DefaultGroups() Groups {
	return Groups{
		6: 0, 7: 0, 8: 0,
		4: 1, 5: 1,
		3: 2, 0: 2,
		1: 3, 2: 3,
	}
}

// Of returns the group of a mission
func (g Groups) Of(mission int) (int, bool) {
	k, ok := g[mission]
	return k, ok
}

// DefaultRules returns the three historical overlap epochs in calendar
// order. The first rule is never subject to the interval test; the later
// ones use strictness a.
func DefaultRules(a float64) []models.OverlapRule {
	return []models.OverlapRule{
		{
			Name: "ers1-ers2", Later: 1, Earlier: 0,
			Start: 1995 + 5.0/12 - .5, End: 1996 + 5.0/12 + .5,
			MinBins: 1, MaxOffset: 10,
		},
		{
			Name: "ers2-envisat", Later: 2, Earlier: 1,
			Start: 2002 + 10.0/12 - .5, End: 2003 + 6.0/12 + .5,
			Strictness: a, MinBins: 1, MaxOffset: 10,
		},
		{
			Name: "envisat-cryosat2", Later: 3, Earlier: 2,
			Start: 2010 + 6.0/12 - .5, End: 2010 + 10.0/12 + .5,
			Strictness: a, MinBins: 1, MaxOffset: 10,
		},
	}
}

// StageA returns each sample's bias implied by the solved mission
// coefficients
func StageA(d *regression.Design, coef []float64) []float64 {
	return d.Offsets(coef)
}

// Outcome records how a rule's offset was resolved
type Outcome int

const (
	// Applied means the offset passed every gate
	Applied Outcome = iota

	// Undefined means no paired bins existed in the window
	Undefined

	// TooFewBins means a group had MinBins populated bins or fewer
	TooFewBins

	// Indistinct means the groups' value intervals overlapped
	Indistinct

	// TooLarge means the offset exceeded MaxOffset
	TooLarge
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Undefined:
		return "undefined"
	case TooFewBins:
		return "too_few_bins"
	case Indistinct:
		return "indistinct"
	case TooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// RuleResult is the per-rule entry of the ledger
type RuleResult struct {
	Rule models.OverlapRule

	// Offset is the later-minus-earlier offset, zero when gated
	Offset float64

	// Estimate is the raw offset before gating; missing when undefined
	Estimate models.Opt

	Outcome Outcome

	// LaterBins and EarlierBins count the populated monthly bins
	LaterBins, EarlierBins int
}

// Ledger accumulates the offsets in rule order
type Ledger struct {
	// Reference is the running sum of the applied offsets
	Reference float64

	// Corrections holds the absolute correction of each resolved group
	Corrections map[int]float64

	// Results holds one entry per rule, in order
	Results []RuleResult

	// Applied counts rules whose offset was non-zero
	Applied int
}

// Correction returns the absolute correction of a group; groups that no
// rule resolves are the reference and get zero
func (l *Ledger) Correction(group int) float64 {
	return l.Corrections[group]
}

// Calibrator runs Stage B over a fixed rule table
type Calibrator struct {
	rules  []models.OverlapRule
	groups Groups
	logger *zap.SugaredLogger
}

// NewCalibrator creates a calibrator. Rules are applied in the given order.
func NewCalibrator(rules []models.OverlapRule, groups Groups, logger *zap.SugaredLogger) *Calibrator {
	r := make([]models.OverlapRule, len(rules))
	copy(r, rules)
	return &Calibrator{rules: r, groups: groups, logger: log.OrNop(logger)}
}

// Rules returns the rule table
func (c *Calibrator) Rules() []models.OverlapRule { return c.rules }

// Calibrate estimates the residual offsets for samples at times t with
// post-fit residuals r and missions m. It returns the per-sample correction
// to subtract and the ledger of the run.
func (c *Calibrator) Calibrate(t []float64, r []models.Opt, m []int) ([]float64, *Ledger) {
	group := make([]int, len(m))
	for i, id := range m {
		if k, ok := c.groups.Of(id); ok {
			group[i] = k
		} else {
			group[i] = -1
		}
	}

	ledger := &Ledger{Corrections: make(map[int]float64)}
	for _, rule := range c.rules {
		res := c.offset(rule, t, r, group)

		// Later group inherits the running reference
		ledger.Reference += res.Offset
		ledger.Corrections[rule.Later] = ledger.Reference
		if res.Offset != 0 {
			ledger.Applied++
		}
		ledger.Results = append(ledger.Results, res)

		c.logger.Debugw("overlap resolved",
			"rule", rule.Name,
			"outcome", res.Outcome.String(),
			"offset", res.Offset,
			"reference", ledger.Reference,
			"later_bins", res.LaterBins,
			"earlier_bins", res.EarlierBins)
	}

	out := make([]float64, len(t))
	for i := range out {
		if corr, ok := ledger.Corrections[group[i]]; ok {
			out[i] = corr
		}
	}
	return out, ledger
}

// offset estimates and gates one rule's offset
func (c *Calibrator) offset(rule models.OverlapRule, t []float64, r []models.Opt, group []int) RuleResult {
	res := RuleResult{Rule: rule, Outcome: Undefined}

	var tl, te []float64
	var vl, ve []models.Opt
	for i := range t {
		if !rule.InWindow(t[i]) {
			continue
		}
		switch group[i] {
		case rule.Later:
			tl = append(tl, t[i])
			vl = append(vl, r[i])
		case rule.Earlier:
			te = append(te, t[i])
			ve = append(ve, r[i])
		}
	}
	if len(tl) == 0 || len(te) == 0 {
		return res
	}

	// Common monthly grid over the overlap
	lo := floatsMin(tl) - binning.Month
	hi := floatsMax(te) + binning.Month
	bl := binning.Fixed(tl, vl, lo, hi, binning.Month)
	be := binning.Fixed(te, ve, lo, hi, binning.Month)
	res.LaterBins = bl.Populated()
	res.EarlierBins = be.Populated()

	diffs := make([]models.Opt, bl.Len())
	for j := range diffs {
		diffs[j] = bl.Value[j].Sub(be.Value[j])
	}
	diff := robust.MedianOpt(diffs)
	res.Estimate = diff

	switch {
	case !diff.Valid:
		res.Outcome = Undefined
	case res.LaterBins <= rule.MinBins || res.EarlierBins <= rule.MinBins:
		res.Outcome = TooFewBins
	case rule.Strictness > 0 && intervalsOverlap(bl.Value, be.Value, rule.Strictness):
		res.Outcome = Indistinct
	case math.Abs(diff.Value) > rule.MaxOffset:
		res.Outcome = TooLarge
	default:
		res.Outcome = Applied
		res.Offset = diff.Value
	}
	return res
}

// intervalsOverlap tests whether mean +/- a*std of the two bin series
// intersect
func intervalsOverlap(b0, b1 []models.Opt, a float64) bool {
	m0, s0 := robust.MeanOpt(b0), robust.StdOpt(b0)
	m1, s1 := robust.MeanOpt(b1), robust.StdOpt(b1)
	if !m0.Valid || !m1.Valid {
		return false
	}
	lo0, hi0 := m0.Value-a*s0.Value, m0.Value+a*s0.Value
	lo1, hi1 := m1.Value-a*s1.Value, m1.Value+a*s1.Value
	return hi0 > lo1 && lo0 < hi1
}

// MissionTotals returns the mean total correction of each mission over its
// samples, keyed by mission id
func MissionTotals(m []int, total []float64) map[int]float64 {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i, id := range m {
		sums[id] += total[i]
		counts[id]++
	}
	out := make(map[int]float64, len(sums))
	for id, s := range sums {
		out[id] = s / float64(counts[id])
	}
	return out
}

func floatsMin(v []float64) float64 {
	lo, _ := robust.MinMax(v)
	return lo
}

func floatsMax(v []float64) float64 {
	_, hi := robust.MinMax(v)
	return hi
}
