package fit

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/copyleftdev/ARDI/internal/spectral"
	"github.com/copyleftdev/ARDI/internal/spectral/shapes"
)

// Override is one row of the per-peak parameter table. Every field is
// required; the row replaces the defaults for its peak entirely.
type Override struct {
	Center            float64      `json:"center"`
	Amplitude         float64      `json:"amplitude"`
	Width             float64      `json:"width"`
	Shape             shapes.Shape `json:"shape"`
	CenterMin         float64      `json:"center_min"`
	CenterMax         float64      `json:"center_max"`
	AmplitudeMinScale float64      `json:"amplitude_min_scale"`
	AmplitudeMaxScale float64      `json:"amplitude_max_scale"`
	WidthMinScale     float64      `json:"width_min_scale"`
	WidthMaxScale     float64      `json:"width_max_scale"`
}

var overrideFields = []string{
	"center", "amplitude", "width", "shape",
	"center_min", "center_max",
	"amplitude_min_scale", "amplitude_max_scale",
	"width_min_scale", "width_max_scale",
}

// PeakRequest expands the row into an initial guess with bounds. Center
// bounds are offsets around the center; amplitude and width bounds are
// scale factors of the initial values.
func (o Override) PeakRequest() PeakRequest {
	wb := [2]float64{o.Width * o.WidthMinScale, o.Width * o.WidthMaxScale}
	row := o
	return PeakRequest{
		Center:          o.Center,
		Amplitude:       o.Amplitude,
		Width:           o.Width,
		Shape:           o.Shape,
		CenterBounds:    [2]float64{o.Center - o.CenterMin, o.Center + o.CenterMax},
		AmplitudeBounds: [2]float64{o.Amplitude * o.AmplitudeMinScale, o.Amplitude * o.AmplitudeMaxScale},
		WidthBounds:     wb,
		Extras:          o.Shape.Extras(o.Width, wb),
		Override:        &row,
	}
}

// DecodeOverrides decodes a raw override table. Numbers may be JSON
// numbers or numeric strings. The first missing or malformed field is
// reported with its row index.
func DecodeOverrides(rows []json.RawMessage) ([]Override, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]Override, len(rows))
	for i, raw := range rows {
		o, err := decodeOverride(i, raw)
		if err != nil {
			return nil, err
		}
		out[i] = o
	}
	return out, nil
}

// UnmarshalJSON implements json.Unmarshaler with the same field rules as
// DecodeOverrides.
func (o *Override) UnmarshalJSON(b []byte) error {
	v, err := decodeOverride(spectral.NoPeak, b)
	if err != nil {
		return err
	}
	*o = v
	return nil
}

func decodeOverride(peak int, raw json.RawMessage) (Override, error) {
	fail := func(field, format string, args ...interface{}) error {
		return spectral.OverrideErrorf(peak, field, format, args...).
			WithOperation("DecodeOverrides").WithComponent("fit")
	}

	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return Override{}, fail("", "row is not a JSON object")
	}

	nums := make(map[string]float64, len(overrideFields))
	var shape shapes.Shape
	for _, name := range overrideFields {
		v, ok := fields[name]
		if !ok || string(v) == "null" {
			return Override{}, fail(name, "missing field")
		}
		if name == "shape" {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return Override{}, fail(name, "shape must be a string")
			}
			parsed, err := shapes.ParseShape(s)
			if err != nil {
				return Override{}, fail(name, "unknown shape %q", s)
			}
			shape = parsed
			continue
		}
		f, err := numericField(v)
		if err != nil {
			return Override{}, fail(name, "value %s is not numeric", strings.TrimSpace(string(v)))
		}
		nums[name] = f
	}

	return Override{
		Center:            nums["center"],
		Amplitude:         nums["amplitude"],
		Width:             nums["width"],
		Shape:             shape,
		CenterMin:         nums["center_min"],
		CenterMax:         nums["center_max"],
		AmplitudeMinScale: nums["amplitude_min_scale"],
		AmplitudeMaxScale: nums["amplitude_max_scale"],
		WidthMinScale:     nums["width_min_scale"],
		WidthMaxScale:     nums["width_max_scale"],
	}, nil
}

// numericField accepts a JSON number or a string holding one.
func numericField(v json.RawMessage) (float64, error) {
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return finite(n.Float64())
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, err
	}
	return finite(strconv.ParseFloat(strings.TrimSpace(s), 64))
}

func finite(f float64, err error) (float64, error) {
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, strconv.ErrRange
	}
	return f, nil
}
