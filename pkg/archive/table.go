// Package archive reads and writes the files the calibration exchanges with
// the rest of the processing chain: the observation tables, the seasonal
// amplitude rasters and the calibrated outputs.
package archive

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"crosscal/internal/models"
)

var (
	// ErrEmptyInput is returned for a table without observations
	ErrEmptyInput = errors.New("archive: input holds no observations")

	// ErrMissingColumn is returned when a required column is absent
	ErrMissingColumn = errors.New("archive: required column missing")
)

// Fields names the input columns
type Fields struct {
	Lon         string `yaml:"lon"`
	Lat         string `yaml:"lat"`
	Time        string `yaml:"time"`
	Value       string `yaml:"value"`
	Error       string `yaml:"error"`
	Mission     string `yaml:"mission"`
	Backscatter string `yaml:"backscatter"`
	Slope       string `yaml:"slope"`
}

// Table is a loaded observation table. The raw records are kept so the
// output can carry every input column.
type Table struct {
	Header  []string
	Records [][]string
	Fields  Fields
	Batch   models.Batch
}

// ReadFile loads an observation table from a CSV file
func ReadFile(path string, fields Fields) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening input file: %w", err)
	}
	defer f.Close()

	t, err := Read(f, fields)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.Batch.Name = path
	return t, nil
}

// Read parses a CSV observation table with a header row
func Read(r io.Reader, fields Fields) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	required := func(name string) (int, error) {
		i, ok := col[name]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
		return i, nil
	}
	optional := func(name string) int {
		if i, ok := col[name]; ok && name != "" {
			return i
		}
		return -1
	}

	iLon, err := required(fields.Lon)
	if err != nil {
		return nil, err
	}
	iLat, err := required(fields.Lat)
	if err != nil {
		return nil, err
	}
	iTime, err := required(fields.Time)
	if err != nil {
		return nil, err
	}
	iValue, err := required(fields.Value)
	if err != nil {
		return nil, err
	}
	iMission, err := required(fields.Mission)
	if err != nil {
		return nil, err
	}
	iError := optional(fields.Error)
	iBackscatter := optional(fields.Backscatter)
	iSlope := optional(fields.Slope)

	t := &Table{Header: header, Fields: fields}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading line %d: %w", line, err)
		}

		lon, err1 := parseFloat(rec[iLon])
		lat, err2 := parseFloat(rec[iLat])
		tm, err3 := parseFloat(rec[iTime])
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		mission, err := parseMission(rec[iMission])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		obs := models.Observation{
			Lon:         lon,
			Lat:         lat,
			Time:        tm,
			Value:       parseOpt(rec[iValue]),
			Mission:     mission,
			Backscatter: models.Some(0),
		}
		if iError >= 0 {
			obs.Error = parseOpt(rec[iError])
		}
		if iBackscatter >= 0 {
			obs.Backscatter = parseOpt(rec[iBackscatter])
		}
		if iSlope >= 0 {
			obs.Slope = parseOpt(rec[iSlope])
		}

		t.Records = append(t.Records, rec)
		t.Batch.Observations = append(t.Batch.Observations, obs)
	}

	if len(t.Records) == 0 {
		return nil, ErrEmptyInput
	}
	return t, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("malformed number %q", s)
	}
	return v, nil
}

// parseOpt treats empty cells and NaN as missing
func parseOpt(s string) models.Opt {
	s = strings.TrimSpace(s)
	if s == "" {
		return models.None()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return models.None()
	}
	return models.Some(v)
}

func parseMission(s string) (int, error) {
	v, err := parseFloat(s)
	if err != nil {
		return 0, err
	}
	if v < 0 || v != math.Trunc(v) {
		return 0, fmt.Errorf("mission id %q is not a non-negative integer", s)
	}
	return int(v), nil
}

// WritePoints writes the table with an h_cal column appended. When apply is
// set the value column is replaced by values - h_cal.
func WritePoints(w io.Writer, t *Table, values []models.Opt, hcal []float64, apply bool) error {
	if len(hcal) != len(t.Records) || len(values) != len(t.Records) {
		return fmt.Errorf("archive: %d corrections for %d records", len(hcal), len(t.Records))
	}
	iValue := -1
	for i, h := range t.Header {
		if h == t.Fields.Value {
			iValue = i
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string{}, t.Header...), "h_cal")); err != nil {
		return err
	}
	for i, rec := range t.Records {
		row := append([]string{}, rec...)
		if apply && iValue >= 0 {
			row[iValue] = formatOpt(values[i].Sub(models.Some(hcal[i])))
		}
		row = append(row, strconv.FormatFloat(hcal[i], 'g', -1, 64))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePointsFile writes the point output to path
func WritePointsFile(path string, t *Table, values []models.Opt, hcal []float64, apply bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	if err := WritePoints(f, t, values, hcal, apply); err != nil {
		f.Close()
		return fmt.Errorf("error writing output file: %w", err)
	}
	return f.Close()
}

func formatOpt(o models.Opt) string {
	if !o.Valid {
		return "NaN"
	}
	return strconv.FormatFloat(o.Value, 'g', -1, 64)
}
