package models

import (
	"math"
)

// Opt is a numeric value that may be missing.
//
// Arithmetic between two Opt values yields a missing result whenever either
// operand is missing, so missingness flows through every derived quantity
// without relying on NaN semantics.
type Opt struct {
	// Value holds the number; it is meaningless when Valid is false
	Value float64

	// Valid reports whether Value is present
	Valid bool
}

// Some wraps a finite number. Non-finite inputs are treated as missing.
func Some(v float64) Opt {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Opt{}
	}
	return Opt{Value: v, Valid: true}
}

// None returns a missing value.
func None() Opt { return Opt{} }

// Get returns the value and whether it is present.
func (o Opt) Get() (float64, bool) { return o.Value, o.Valid }

// Or returns the value, or def when missing.
func (o Opt) Or(def float64) float64 {
	if !o.Valid {
		return def
	}
	return o.Value
}

// Float returns the value, or NaN when missing. Only used at
// serialization boundaries.
func (o Opt) Float() float64 { return o.Or(math.NaN()) }

func (o Opt) Add(p Opt) Opt {
	if !o.Valid || !p.Valid {
		return Opt{}
	}
	return Some(o.Value + p.Value)
}

func (o Opt) Sub(p Opt) Opt {
	if !o.Valid || !p.Valid {
		return Opt{}
	}
	return Some(o.Value - p.Value)
}

func (o Opt) Mul(p Opt) Opt {
	if !o.Valid || !p.Valid {
		return Opt{}
	}
	return Some(o.Value * p.Value)
}

// Div divides o by p. A zero divisor yields a missing value.
func (o Opt) Div(p Opt) Opt {
	if !o.Valid || !p.Valid || p.Value == 0 {
		return Opt{}
	}
	return Some(o.Value / p.Value)
}

// Scale multiplies a present value by f.
func (o Opt) Scale(f float64) Opt {
	if !o.Valid {
		return Opt{}
	}
	return Some(o.Value * f)
}

// Observation represents a single height-change measurement from one mission
type Observation struct {
	// X and Y are the projected coordinates in metres
	X, Y float64

	// Lon and Lat are the geographic coordinates in degrees
	Lon, Lat float64

	// Time is the acquisition time in decimal years
	Time float64

	// Value is the height-change observation. Ingest edits may reject it.
	Value Opt

	// Error is the formal error estimate of the measurement
	Error Opt

	// Mission enumerates the satellite/sensor configuration
	Mission int

	// Backscatter is the optional scattering correction (defaults to zero)
	Backscatter Opt

	// Slope is the surface-slope estimate; missing means unknown
	Slope Opt
}

// Batch is the set of observations loaded from one input file
type Batch struct {
	// Name identifies the batch in logs and outputs, usually the file path
	Name string

	// Observations are immutable once the batch is loaded
	Observations []Observation
}

// Len returns the number of observations in the batch
func (b *Batch) Len() int { return len(b.Observations) }

// Values returns a copy of the observation values
func (b *Batch) Values() []Opt {
	out := make([]Opt, len(b.Observations))
	for i, o := range b.Observations {
		out[i] = o.Value
	}
	return out
}
