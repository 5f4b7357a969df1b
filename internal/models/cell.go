package models

// Cell represents one node of the output prediction grid
type Cell struct {
	// Index is the row-major position of the node in the grid
	Index int

	// X, Y are the node center coordinates
	X, Y float64

	// HalfX, HalfY are the half-widths of the cell footprint
	HalfX, HalfY float64
}

// Contains reports whether a point falls inside the cell footprint.
// The footprint is half-open so adjacent cells never share a point.
func (c Cell) Contains(x, y float64) bool {
	return x >= c.X-c.HalfX && x < c.X+c.HalfX &&
		y >= c.Y-c.HalfY && y < c.Y+c.HalfY
}

// OverlapRule describes one satellite handover: the window in which two
// sensor-era groups both observed, and the gates applied to the offset
// estimated inside it
type OverlapRule struct {
	// Name labels the rule in logs, e.g. "ers1-ers2"
	Name string `yaml:"name"`

	// Later is the group whose bias is resolved by this rule
	Later int `yaml:"later"`

	// Earlier is the group the later one is referenced to
	Earlier int `yaml:"earlier"`

	// Start and End bound the overlap window in decimal years (inclusive)
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`

	// Strictness is the interval half-width factor a; zero disables the
	// interval-overlap test
	Strictness float64 `yaml:"strictness"`

	// MinBins is the populated-bin count a group must exceed
	MinBins int `yaml:"minBins"`

	// MaxOffset is the magnitude above which an offset is rejected
	MaxOffset float64 `yaml:"maxOffset"`
}

// InWindow reports whether t falls inside the rule window
func (r OverlapRule) InWindow(t float64) bool {
	return t >= r.Start && t <= r.End
}

// MissionSeries is a regularized per-mission time series
type MissionSeries struct {
	// Mission is the mission id this series belongs to
	Mission int

	// Time holds the bin centers; always defined, even for empty bins
	Time []float64

	// Value holds the binned value per step
	Value []Opt

	// Error holds the combined (systematic, random, model) error per step
	Error []Opt

	// Count holds the number of observations contributing to each step
	Count []int
}

// Len returns the number of steps in the series
func (s *MissionSeries) Len() int { return len(s.Time) }
