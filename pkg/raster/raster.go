// Package raster holds the precomputed seasonal-harmonic coefficient rasters
// and samples them with bilinear interpolation. Rasters are read-only once
// built and safe for concurrent use.
package raster

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"crosscal/internal/models"
	"crosscal/pkg/robust"
)

// ReferenceMissions is the number of leading mission fields whose per-pixel
// median forms the reference seasonal field
const ReferenceMissions = 3

// ErrShape is returned when the raster axes and fields disagree
var ErrShape = errors.New("raster: field shape does not match axes")

// Harmonics is a stack of per-mission annual-harmonic amplitude fields
type Harmonics struct {
	x, y     []float64
	cos, sin []*mat.Dense

	refCos, refSin *mat.Dense
}

// New builds a raster stack from its axes and per-mission fields laid out as
// [mission][row][column]. Rows follow y and columns follow x; either axis may
// be descending and is reordered to ascending. NaN marks no data.
func New(x, y []float64, cos, sin [][][]float64) (*Harmonics, error) {
	if len(x) < 2 || len(y) < 2 {
		return nil, fmt.Errorf("%w: need at least 2x2 nodes, got %dx%d", ErrShape, len(x), len(y))
	}
	if len(cos) != len(sin) || len(cos) == 0 {
		return nil, fmt.Errorf("%w: %d cosine and %d sine fields", ErrShape, len(cos), len(sin))
	}

	flipX := x[0] > x[len(x)-1]
	flipY := y[0] > y[len(y)-1]
	h := &Harmonics{
		x: ascending(x, flipX),
		y: ascending(y, flipY),
	}
	if !sort.Float64sAreSorted(h.x) || !sort.Float64sAreSorted(h.y) {
		return nil, fmt.Errorf("%w: axes must be monotonic", ErrShape)
	}

	for m := range cos {
		c, err := toDense(cos[m], len(x), len(y), flipX, flipY)
		if err != nil {
			return nil, fmt.Errorf("cosine field %d: %w", m, err)
		}
		s, err := toDense(sin[m], len(x), len(y), flipX, flipY)
		if err != nil {
			return nil, fmt.Errorf("sine field %d: %w", m, err)
		}
		h.cos = append(h.cos, c)
		h.sin = append(h.sin, s)
	}

	h.refCos = medianField(h.cos)
	h.refSin = medianField(h.sin)
	return h, nil
}

func ascending(v []float64, flip bool) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		if flip {
			out[i] = v[len(v)-1-i]
		} else {
			out[i] = v[i]
		}
	}
	return out
}

func toDense(field [][]float64, nx, ny int, flipX, flipY bool) (*mat.Dense, error) {
	if len(field) != ny {
		return nil, fmt.Errorf("%w: %d rows for %d y nodes", ErrShape, len(field), ny)
	}
	d := mat.NewDense(ny, nx, nil)
	for r := 0; r < ny; r++ {
		if len(field[r]) != nx {
			return nil, fmt.Errorf("%w: row %d has %d columns for %d x nodes", ErrShape, r, len(field[r]), nx)
		}
		rr := r
		if flipY {
			rr = ny - 1 - r
		}
		for c := 0; c < nx; c++ {
			cc := c
			if flipX {
				cc = nx - 1 - c
			}
			d.Set(rr, cc, field[r][c])
		}
	}
	return d, nil
}

// medianField collapses the leading reference fields with a NaN-ignoring
// per-pixel median
func medianField(fields []*mat.Dense) *mat.Dense {
	n := min(ReferenceMissions, len(fields))
	ny, nx := fields[0].Dims()
	out := mat.NewDense(ny, nx, nil)
	vals := make([]float64, 0, n)
	for r := 0; r < ny; r++ {
		for c := 0; c < nx; c++ {
			vals = vals[:0]
			for m := 0; m < n; m++ {
				if v := fields[m].At(r, c); !math.IsNaN(v) {
					vals = append(vals, v)
				}
			}
			if len(vals) == 0 {
				out.Set(r, c, math.NaN())
			} else {
				out.Set(r, c, robust.Median(vals))
			}
		}
	}
	return out
}

// Missions returns the number of mission fields in the stack
func (h *Harmonics) Missions() int { return len(h.cos) }

// Reference samples the reference cosine and sine amplitudes at (x, y)
func (h *Harmonics) Reference(x, y float64) (cos, sin models.Opt) {
	return h.bilinear(h.refCos, x, y), h.bilinear(h.refSin, x, y)
}

// Mission samples one mission's cosine and sine amplitudes at (x, y).
// Missions without a field yield missing values.
func (h *Harmonics) Mission(id int, x, y float64) (cos, sin models.Opt) {
	if id < 0 || id >= len(h.cos) {
		return models.None(), models.None()
	}
	return h.bilinear(h.cos[id], x, y), h.bilinear(h.sin[id], x, y)
}

// bilinear interpolates field at (x, y). Points outside the grid or next to
// a no-data node are missing.
func (h *Harmonics) bilinear(field *mat.Dense, x, y float64) models.Opt {
	i, fx, ok := locate(h.x, x)
	if !ok {
		return models.None()
	}
	j, fy, ok := locate(h.y, y)
	if !ok {
		return models.None()
	}

	v00 := field.At(j, i)
	v01 := field.At(j, i+1)
	v10 := field.At(j+1, i)
	v11 := field.At(j+1, i+1)

	v := (1-fy)*((1-fx)*v00+fx*v01) + fy*((1-fx)*v10+fx*v11)
	return models.Some(v)
}

// locate returns the lower node index of the interval holding v and the
// fractional position inside it
func locate(axis []float64, v float64) (int, float64, bool) {
	n := len(axis)
	if v < axis[0] || v > axis[n-1] {
		return 0, 0, false
	}
	i := sort.SearchFloat64s(axis, v) - 1
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}
	span := axis[i+1] - axis[i]
	if span == 0 {
		return i, 0, true
	}
	return i, (v - axis[i]) / span, true
}
