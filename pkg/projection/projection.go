// Package projection converts between geographic coordinates and the
// projected grids the calibration runs on: the WGS84 polar stereographic
// grids (EPSG:3031, EPSG:3413), UTM zones (EPSG:326NN, EPSG:327NN) and
// plain longitude/latitude (EPSG:4326).
package projection

import (
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom/proj"
	UTM "github.com/im7mortal/UTM"
)

// ErrUnsupported is returned for EPSG codes without a projection
var ErrUnsupported = errors.New("projection: unsupported EPSG code")

// Projection maps longitude/latitude in degrees to projected metres and back
type Projection interface {
	EPSG() int
	Forward(lon, lat float64) (x, y float64, err error)
	Inverse(x, y float64) (lon, lat float64, err error)
}

const geographicDef = "+proj=longlat +datum=WGS84 +no_defs"

// proj4 definitions of the supported non-UTM grids; pole is the latitude
// of the projection centre, zero for unprojected coordinates
var definitions = map[int]struct {
	def  string
	pole float64
}{
	4326: {geographicDef, 0},
	3031: {"+proj=stere +lat_0=-90 +lat_ts=-71 +lon_0=0 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs", -90},
	3413: {"+proj=stere +lat_0=90 +lat_ts=70 +lon_0=-45 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs", 90},
}

// FromEPSG returns the projection for an EPSG code
func FromEPSG(code int) (Projection, error) {
	switch {
	case code > 32600 && code <= 32660:
		return utmZone{code: code, zone: code - 32600, northern: true}, nil
	case code > 32700 && code <= 32760:
		return utmZone{code: code, zone: code - 32700, northern: false}, nil
	}
	d, ok := definitions[code]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupported, code)
	}
	return newSRProjection(code, d.def, d.pole)
}

// srProjection runs a proj4 spatial reference against WGS84 longitude/latitude
type srProjection struct {
	code     int
	pole     float64
	fwd, inv proj.Transformer
}

func newSRProjection(code int, def string, pole float64) (*srProjection, error) {
	geo, err := proj.Parse(geographicDef)
	if err != nil {
		return nil, fmt.Errorf("projection: parsing geographic reference: %w", err)
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("projection: parsing EPSG:%d: %w", code, err)
	}
	fwd, err := geo.NewTransform(sr)
	if err != nil {
		return nil, fmt.Errorf("projection: EPSG:%d forward transform: %w", code, err)
	}
	inv, err := sr.NewTransform(geo)
	if err != nil {
		return nil, fmt.Errorf("projection: EPSG:%d inverse transform: %w", code, err)
	}
	return &srProjection{code: code, pole: pole, fwd: fwd, inv: inv}, nil
}

func (p *srProjection) EPSG() int { return p.code }

// Forward projects longitude/latitude in degrees. The pole opposite the
// projection centre has no image.
func (p *srProjection) Forward(lon, lat float64) (float64, float64, error) {
	if !finite(lon) || !finite(lat) || lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("projection: point (%v, %v) out of range", lon, lat)
	}
	if p.pole != 0 && math.Abs(lat+p.pole) < 1e-9 {
		return 0, 0, fmt.Errorf("projection: latitude %v is the opposite pole", lat)
	}
	x, y, err := p.fwd(lon, lat)
	if err != nil {
		return 0, 0, fmt.Errorf("projection: EPSG:%d: %w", p.code, err)
	}
	if !finite(x) || !finite(y) {
		return 0, 0, fmt.Errorf("projection: point (%v, %v) cannot be projected", lon, lat)
	}
	return x, y, nil
}

// Inverse returns longitude/latitude in degrees for projected coordinates
func (p *srProjection) Inverse(x, y float64) (float64, float64, error) {
	if !finite(x) || !finite(y) {
		return 0, 0, fmt.Errorf("projection: coordinate (%v, %v) is not finite", x, y)
	}
	lon, lat, err := p.inv(x, y)
	if err != nil {
		return 0, 0, fmt.Errorf("projection: EPSG:%d: %w", p.code, err)
	}
	return lon, lat, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// utmZone is a fixed UTM zone; points whose natural zone differs are
// rejected
type utmZone struct {
	code     int
	zone     int
	northern bool
}

func (u utmZone) EPSG() int { return u.code }

func (u utmZone) Forward(lon, lat float64) (float64, float64, error) {
	if !finite(lon) || !finite(lat) {
		return 0, 0, fmt.Errorf("projection: point (%v, %v) out of range", lon, lat)
	}
	e, n, zone, _, err := UTM.FromLatLon(lat, lon, u.northern)
	if err != nil {
		return 0, 0, fmt.Errorf("projection: %w", err)
	}
	if zone != u.zone {
		return 0, 0, fmt.Errorf("projection: point (%v, %v) lies in zone %d, not %d", lon, lat, zone, u.zone)
	}
	return e, n, nil
}

func (u utmZone) Inverse(x, y float64) (float64, float64, error) {
	if !finite(x) || !finite(y) {
		return 0, 0, fmt.Errorf("projection: coordinate (%v, %v) is not finite", x, y)
	}
	lat, lon, err := UTM.ToLatLon(x, y, u.zone, "", u.northern)
	if err != nil {
		return 0, 0, fmt.Errorf("projection: %w", err)
	}
	return lon, lat, nil
}
