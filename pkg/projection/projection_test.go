package projection

import (
	"errors"
	"math"
	"testing"
)

func roundTrip(t *testing.T, code int, lon, lat, tol float64) {
	t.Helper()
	p, err := FromEPSG(code)
	if err != nil {
		t.Fatalf("FromEPSG(%d) failed: %v", code, err)
	}
	if p.EPSG() != code {
		t.Errorf("Expected EPSG %d, got %d", code, p.EPSG())
	}

	x, y, err := p.Forward(lon, lat)
	if err != nil {
		t.Fatalf("EPSG:%d forward failed: %v", code, err)
	}
	lon2, lat2, err := p.Inverse(x, y)
	if err != nil {
		t.Fatalf("EPSG:%d inverse failed: %v", code, err)
	}
	if math.Abs(lon2-lon) > tol || math.Abs(lat2-lat) > tol {
		t.Errorf("EPSG:%d: expected (%v, %v), got (%v, %v)", code, lon, lat, lon2, lat2)
	}
}

func TestRoundTrip(t *testing.T) {
	roundTrip(t, 3031, 45, -75, 1e-6)
	roundTrip(t, 3031, -120, -62, 1e-6)
	roundTrip(t, 3413, -40, 72, 1e-6)
	roundTrip(t, 3413, 170, 81, 1e-6)
	roundTrip(t, 32633, 15, 52, 1e-5)
	roundTrip(t, 32721, -57, -20, 1e-5)
	roundTrip(t, 4326, 12.5, -33, 1e-9)
}

func TestStandardParallel(t *testing.T) {
	p, _ := FromEPSG(3031)

	// Unit scale at 71S: the radius equals the parallel's circumference
	// radius on the ellipsoid
	x, y, err := p.Forward(0, -71)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if math.Abs(x) > 1e-3 || math.Abs(y-2082760.1085) > 0.5 {
		t.Errorf("Expected (0, 2082760.1085), got (%v, %v)", x, y)
	}

	x, y, err = p.Forward(90, -71)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if math.Abs(x-2082760.1085) > 0.5 || math.Abs(y) > 1e-3 {
		t.Errorf("Expected (2082760.1085, 0) at 90E, got (%v, %v)", x, y)
	}
}

func TestPole(t *testing.T) {
	p, _ := FromEPSG(3031)
	x, y, err := p.Forward(123, -90)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if math.Abs(x) > 1e-6 || math.Abs(y) > 1e-6 {
		t.Errorf("Expected the pole at the origin, got (%v, %v)", x, y)
	}
	_, lat, err := p.Inverse(0, 0)
	if err != nil || math.Abs(lat+90) > 1e-6 {
		t.Errorf("Expected -90 at the origin, got %v (%v)", lat, err)
	}

	if _, _, err := p.Forward(0, 90); err == nil {
		t.Errorf("Expected the opposite pole to be rejected")
	}
	if _, _, err := p.Forward(0, -91); err == nil {
		t.Errorf("Expected an out-of-range latitude to be rejected")
	}
}

func TestUTMZoneMismatch(t *testing.T) {
	p, _ := FromEPSG(32633)
	if _, _, err := p.Forward(3, 52); err == nil {
		t.Errorf("Expected a point outside zone 33 to be rejected")
	}
}

func TestRejectsNonFinite(t *testing.T) {
	for _, code := range []int{3031, 3413, 4326, 32633} {
		p, err := FromEPSG(code)
		if err != nil {
			t.Fatalf("FromEPSG(%d) failed: %v", code, err)
		}
		if _, _, err := p.Forward(math.NaN(), 52); err == nil {
			t.Errorf("EPSG:%d: expected a NaN longitude to be rejected", code)
		}
		if _, _, err := p.Forward(15, math.Inf(1)); err == nil {
			t.Errorf("EPSG:%d: expected an infinite latitude to be rejected", code)
		}
		if _, _, err := p.Inverse(math.NaN(), 0); err == nil {
			t.Errorf("EPSG:%d: expected a NaN coordinate to be rejected", code)
		}
	}
}

func TestNorthGridOrientation(t *testing.T) {
	p, _ := FromEPSG(3413)

	// The central meridian runs down the y axis towards the pole
	x, y, err := p.Forward(-45, 75)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if math.Abs(x) > 1e-3 || y >= 0 {
		t.Errorf("Expected a point on the negative y axis, got (%v, %v)", x, y)
	}
}

func TestUnsupported(t *testing.T) {
	for _, code := range []int{0, 3857, 32600, 32661} {
		if _, err := FromEPSG(code); !errors.Is(err, ErrUnsupported) {
			t.Errorf("EPSG:%d: expected ErrUnsupported, got %v", code, err)
		}
	}
}
