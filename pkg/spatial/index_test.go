package spatial

import (
	"math"
	"math/rand"
	"testing"
)

func TestRadiusMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n := 500
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = rng.Float64() * 10000
		y[i] = rng.Float64() * 10000
	}

	ix := NewIndex(x, y)
	if ix.Len() != n {
		t.Fatalf("Expected %d points, got %d", n, ix.Len())
	}

	for q := 0; q < 20; q++ {
		qx, qy := rng.Float64()*10000, rng.Float64()*10000
		r := 500 + rng.Float64()*1500

		var want []int
		for i := range x {
			dx, dy := x[i]-qx, y[i]-qy
			if dx*dx+dy*dy <= r*r {
				want = append(want, i)
			}
		}

		got := ix.Radius(qx, qy, r)
		if len(got) != len(want) {
			t.Fatalf("Query %d: expected %d points, got %d", q, len(want), len(got))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("Query %d: expected index %d at %d, got %d", q, want[i], i, got[i])
			}
		}
	}
}

func TestRadiusEmpty(t *testing.T) {
	ix := NewIndex(nil, nil)
	if got := ix.Radius(0, 0, 100); len(got) != 0 {
		t.Errorf("Expected no points from an empty index, got %v", got)
	}

	ix = NewIndex([]float64{0, 10}, []float64{0, 0})
	if got := ix.Radius(100, 100, 1); len(got) != 0 {
		t.Errorf("Expected no points far from the data, got %v", got)
	}
	if got := ix.Radius(0, 0, -1); got != nil {
		t.Errorf("Expected nil for a negative radius, got %v", got)
	}
	if got := ix.Radius(0, 0, 10.5); len(got) != 2 {
		t.Errorf("Expected both points within the radius, got %v", got)
	}
}

func TestIndexSkipsNonFinite(t *testing.T) {
	x := []float64{0, math.NaN(), 3, math.Inf(1)}
	y := []float64{0, 0, 0, 0}
	ix := NewIndex(x, y)
	if ix.Len() != 2 {
		t.Errorf("Expected 2 indexed points, got %d", ix.Len())
	}
	got := ix.Radius(0, 0, 5)
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("Expected positions [0 2], got %v", got)
	}
}
