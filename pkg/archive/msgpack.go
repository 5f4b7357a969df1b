package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"crosscal/pkg/grid"
	"crosscal/pkg/raster"
)

// rasterFile is the on-disk layout of the seasonal amplitude rasters
type rasterFile struct {
	X   []float64     `msgpack:"x"`
	Y   []float64     `msgpack:"y"`
	Cos [][][]float64 `msgpack:"cos"`
	Sin [][][]float64 `msgpack:"sin"`
}

// ReadRaster decodes a seasonal amplitude raster stack
func ReadRaster(r io.Reader) (*raster.Harmonics, error) {
	var rf rasterFile
	if err := msgpack.NewDecoder(r).Decode(&rf); err != nil {
		return nil, fmt.Errorf("error decoding raster: %w", err)
	}
	return raster.New(rf.X, rf.Y, rf.Cos, rf.Sin)
}

// ReadRasterFile loads a seasonal amplitude raster stack from path
func ReadRasterFile(path string) (*raster.Harmonics, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening raster file: %w", err)
	}
	defer f.Close()

	h, err := ReadRaster(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// WriteRaster encodes a raster stack in the layout ReadRaster expects
func WriteRaster(w io.Writer, x, y []float64, cos, sin [][][]float64) error {
	return msgpack.NewEncoder(w).Encode(rasterFile{X: x, Y: y, Cos: cos, Sin: sin})
}

// Overlap is the bundle record of one Stage B rule
type Overlap struct {
	Rule    string  `msgpack:"rule"`
	Outcome string  `msgpack:"outcome"`
	Offset  float64 `msgpack:"offset"`
}

// Bundle is the per-cell series output. Series fields are flattened
// mission-major with shape Dims.
type Bundle struct {
	Lon0     float64   `msgpack:"lon0"`
	Lat0     float64   `msgpack:"lat0"`
	Lon      []float64 `msgpack:"lon"`
	Lat      []float64 `msgpack:"lat"`
	Distance []float64 `msgpack:"dxy0"`

	Time    []float64 `msgpack:"t_year"`
	Value   []float64 `msgpack:"dh_ts"`
	Error   []float64 `msgpack:"de_ts"`
	Count   []int     `msgpack:"n_ts"`
	Mission []int     `msgpack:"m_idx"`
	Dims    [2]int    `msgpack:"m_dim"`

	Total    []float64 `msgpack:"h_cal_tot"`
	Fit      []float64 `msgpack:"h_cal_fit"`
	Residual []float64 `msgpack:"h_cal_res"`
	Flag     int       `msgpack:"h_cal_flg"`
	RMS      float64   `msgpack:"rms_fit"`

	Rate         float64   `msgpack:"rate"`
	Acceleration float64   `msgpack:"acceleration"`
	Overlaps     []Overlap `msgpack:"overlaps,omitempty"`
}

// NewBundle flattens a cell result. Missing series values are written as NaN.
func NewBundle(c *grid.CellResult) Bundle {
	b := Bundle{
		Lon0:         c.Lon,
		Lat0:         c.Lat,
		Lon:          c.PointLon,
		Lat:          c.PointLat,
		Distance:     c.Distance,
		Dims:         c.Dims(),
		Total:        c.Total,
		Fit:          c.Fit,
		Residual:     c.Residual,
		Flag:         c.Flag,
		RMS:          c.RMS,
		Rate:         c.Rate,
		Acceleration: c.Acceleration,
	}
	for _, s := range c.Series {
		for j := range s.Time {
			b.Time = append(b.Time, s.Time[j])
			b.Value = append(b.Value, s.Value[j].Float())
			b.Error = append(b.Error, s.Error[j].Float())
			b.Count = append(b.Count, s.Count[j])
			b.Mission = append(b.Mission, s.Mission)
		}
	}
	if c.Ledger != nil {
		for _, r := range c.Ledger.Results {
			b.Overlaps = append(b.Overlaps, Overlap{
				Rule:    r.Rule.Name,
				Outcome: r.Outcome.String(),
				Offset:  r.Offset,
			})
		}
	}
	return b
}

// WriteBundles streams one msgpack value per cell
func WriteBundles(w io.Writer, cells []*grid.CellResult) error {
	bw := bufio.NewWriter(w)
	enc := msgpack.NewEncoder(bw)
	for _, c := range cells {
		if err := enc.Encode(NewBundle(c)); err != nil {
			return fmt.Errorf("error encoding cell %d: %w", c.Cell.Index, err)
		}
	}
	return bw.Flush()
}

// WriteBundlesFile writes the bundle stream to path
func WriteBundlesFile(path string, cells []*grid.CellResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	if err := WriteBundles(f, cells); err != nil {
		f.Close()
		return fmt.Errorf("error writing output file: %w", err)
	}
	return f.Close()
}

// ReadBundles decodes a bundle stream until EOF
func ReadBundles(r io.Reader) ([]Bundle, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	var out []Bundle
	for {
		var b Bundle
		err := dec.Decode(&b)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("error decoding bundle %d: %w", len(out), err)
		}
		out = append(out, b)
	}
}
