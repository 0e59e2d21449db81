// Package export renders fit results as flat tables in CSV or Parquet.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	parquet "github.com/parquet-go/parquet-go"

	"github.com/copyleftdev/ARDI/internal/spectral"
	"github.com/copyleftdev/ARDI/internal/spectral/fit"
)

// Table names one of the tables derivable from a fit result.
type Table string

const (
	// Subtracted is the input with the fitted baseline removed.
	Subtracted Table = "subtracted"
	// Fitted is the fitted composite curve.
	Fitted Table = "fit"
	// Components holds every peak curve and the baseline.
	Components Table = "components"
	// Params is the per-peak metrics table plus R².
	Params Table = "params"
)

// Format is an output encoding.
type Format string

const (
	CSV     Format = "csv"
	Parquet Format = "parquet"
)

// ParseTable resolves a table name.
func ParseTable(s string) (Table, error) {
	switch t := Table(strings.ToLower(strings.TrimSpace(s))); t {
	case Subtracted, Fitted, Components, Params:
		return t, nil
	}
	return "", spectral.InputErrorf("unknown export table %q", s).WithField("table").WithComponent("export")
}

// ParseFormat resolves a format name. The empty string means CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", CSV:
		return CSV, nil
	case Parquet:
		return f, nil
	}
	return "", spectral.InputErrorf("unknown export format %q", s).WithField("format").WithComponent("export")
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == Parquet {
		return "application/vnd.apache.parquet"
	}
	return "text/csv"
}

// FileName returns the download name for a table.
func FileName(t Table, f Format) string {
	return fmt.Sprintf("%s.%s", t, f)
}

// Write encodes table t of r as f.
func Write(w io.Writer, t Table, f Format, r *fit.Result) error {
	if f == Parquet {
		return WriteParquet(w, t, r)
	}
	return WriteCSV(w, t, r)
}

type xyRow struct {
	X float64 `parquet:"x"`
	Y float64 `parquet:"y"`
}

type componentRow struct {
	Name string  `parquet:"name"`
	X    float64 `parquet:"x"`
	Y    float64 `parquet:"y"`
}

type paramRow struct {
	Peak      int64   `parquet:"peak"`
	Shape     string  `parquet:"shape"`
	Center    float64 `parquet:"center"`
	Amplitude float64 `parquet:"amplitude"`
	Sigma     float64 `parquet:"sigma"`
	FWHM      float64 `parquet:"fwhm"`
	Height    float64 `parquet:"height"`
	RSquare   float64 `parquet:"r_square"`
}

var paramHeader = []string{"peak", "shape", "center", "amplitude", "sigma", "fwhm", "height"}

func xyRows(t Table, r *fit.Result) ([]xyRow, error) {
	s := r.Output
	if t == Subtracted {
		var err error
		if s, err = r.Subtracted(); err != nil {
			return nil, err
		}
	}
	x, y := s.X(), s.Y()
	rows := make([]xyRow, len(x))
	for i := range x {
		rows[i] = xyRow{X: x[i], Y: y[i]}
	}
	return rows, nil
}

func paramRows(r *fit.Result) []paramRow {
	rows := make([]paramRow, len(r.Peaks))
	for i, p := range r.Peaks {
		rows[i] = paramRow{
			Peak:      int64(p.Index),
			Shape:     p.Shape.String(),
			Center:    p.Center,
			Amplitude: p.Amplitude,
			Sigma:     p.Sigma,
			FWHM:      p.FWHM,
			Height:    p.Height,
			RSquare:   r.RSquared,
		}
	}
	return rows
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSV writes table t of r as CSV with a header row.
func WriteCSV(w io.Writer, t Table, r *fit.Result) error {
	cw := csv.NewWriter(w)
	switch t {
	case Subtracted, Fitted:
		rows, err := xyRows(t, r)
		if err != nil {
			return err
		}
		if err := cw.Write([]string{"x", "y"}); err != nil {
			return err
		}
		for _, row := range rows {
			if err := cw.Write([]string{formatFloat(row.X), formatFloat(row.Y)}); err != nil {
				return err
			}
		}
	case Components:
		header := []string{"x"}
		for _, c := range r.Components {
			header = append(header, c.Name)
		}
		if err := cw.Write(header); err != nil {
			return err
		}
		x := r.Input.X()
		for i := range x {
			rec := []string{formatFloat(x[i])}
			for _, c := range r.Components {
				rec = append(rec, formatFloat(c.Y[i]))
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	case Params:
		if err := cw.Write(paramHeader); err != nil {
			return err
		}
		for _, p := range paramRows(r) {
			rec := []string{
				strconv.FormatInt(p.Peak, 10), p.Shape,
				formatFloat(p.Center), formatFloat(p.Amplitude), formatFloat(p.Sigma),
				formatFloat(p.FWHM), formatFloat(p.Height),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
		if err := cw.Write([]string{"R-Square", formatFloat(r.RSquared)}); err != nil {
			return err
		}
	default:
		return unknownTable(t)
	}
	cw.Flush()
	return cw.Error()
}

// WriteParquet writes table t of r as a Snappy-compressed Parquet file.
// Components are written in long form, one row per (name, x).
func WriteParquet(w io.Writer, t Table, r *fit.Result) error {
	var buf bytes.Buffer
	var err error
	switch t {
	case Subtracted, Fitted:
		var rows []xyRow
		if rows, err = xyRows(t, r); err == nil {
			err = writeRows(&buf, rows)
		}
	case Components:
		x := r.Input.X()
		rows := make([]componentRow, 0, len(x)*len(r.Components))
		for _, c := range r.Components {
			for i := range x {
				rows = append(rows, componentRow{Name: c.Name, X: x[i], Y: c.Y[i]})
			}
		}
		err = writeRows(&buf, rows)
	case Params:
		err = writeRows(&buf, paramRows(r))
	default:
		return unknownTable(t)
	}
	if err != nil {
		return fmt.Errorf("encode %s parquet: %w", t, err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}

func writeRows[T any](buf *bytes.Buffer, rows []T) error {
	pw := parquet.NewGenericWriter[T](buf, parquet.Compression(&parquet.Snappy))
	if _, err := pw.Write(rows); err != nil {
		_ = pw.Close()
		return err
	}
	return pw.Close()
}

func unknownTable(t Table) error {
	return spectral.InputErrorf("unknown export table %q", string(t)).WithField("table").WithComponent("export")
}
