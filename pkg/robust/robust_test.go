package robust

import (
	"math"
	"testing"

	"crosscal/internal/models"
)

func TestMedian(t *testing.T) {
	cases := []struct {
		in   []float64
		want float64
	}{
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 2.5},
		{[]float64{7}, 7},
	}
	for _, c := range cases {
		if got := Median(c.in); got != c.want {
			t.Errorf("Median(%v): expected %v, got %v", c.in, c.want, got)
		}
	}

	if !math.IsNaN(Median(nil)) {
		t.Errorf("Expected NaN for empty input")
	}

	in := []float64{3, 1, 2}
	Median(in)
	if in[0] != 3 || in[1] != 1 {
		t.Errorf("Median modified its input: %v", in)
	}
}

func TestMadStd(t *testing.T) {
	got := MadStd([]float64{1, 2, 3, 4, 100})
	if math.Abs(got-MADScale) > 1e-12 {
		t.Errorf("Expected %v, got %v", MADScale, got)
	}
	if got := MadStd([]float64{5, 5, 5}); got != 0 {
		t.Errorf("Expected 0 for constant input, got %v", got)
	}
	if got := MadStd([]float64{5}); got != 0 {
		t.Errorf("Expected 0 for a single value, got %v", got)
	}
	if got := MadStd(nil); got != 0 {
		t.Errorf("Expected 0 for empty input, got %v", got)
	}
}

func TestOptionalStatistics(t *testing.T) {
	v := []models.Opt{models.Some(1), models.None(), models.Some(3), models.None()}

	if n := CountValid(v); n != 2 {
		t.Errorf("Expected 2 valid values, got %d", n)
	}
	if m := MedianOpt(v); !m.Valid || m.Value != 2 {
		t.Errorf("Expected median 2, got %+v", m)
	}
	if m := MeanOpt(v); !m.Valid || m.Value != 2 {
		t.Errorf("Expected mean 2, got %+v", m)
	}
	if s := StdOpt(v); !s.Valid || math.Abs(s.Value-1) > 1e-12 {
		t.Errorf("Expected population std 1, got %+v", s)
	}
	if s := SumOpt(v); !s.Valid || s.Value != 4 {
		t.Errorf("Expected sum 4, got %+v", s)
	}

	empty := []models.Opt{models.None(), models.None()}
	for name, o := range map[string]models.Opt{
		"median": MedianOpt(empty),
		"madstd": MadStdOpt(empty),
		"mean":   MeanOpt(empty),
		"std":    StdOpt(empty),
		"sum":    SumOpt(empty),
	} {
		if o.Valid {
			t.Errorf("Expected missing %s for all-missing input, got %v", name, o.Value)
		}
	}
}

func TestWrap(t *testing.T) {
	w := Wrap([]float64{1, math.NaN(), math.Inf(1)})
	if !w[0].Valid || w[1].Valid || w[2].Valid {
		t.Errorf("Expected only the finite entry to be present, got %+v", w)
	}
}

func TestMinMax(t *testing.T) {
	lo, hi := MinMax([]float64{3, -2, 8, 0})
	if lo != -2 || hi != 8 {
		t.Errorf("Expected (-2, 8), got (%v, %v)", lo, hi)
	}
}
