// Package spectral holds the data model shared by the deconvolution
// pipeline: spectra, detected peak sets, warnings and the error taxonomy.
package spectral

import (
	"encoding/json"
	"math"
)

// Spectrum is an immutable pair of equal-length samples with x strictly
// increasing. Stages that transform a spectrum return a new value.
type Spectrum struct {
	x []float64
	y []float64
}

// NewSpectrum validates and copies x and y.
func NewSpectrum(x, y []float64) (Spectrum, error) {
	if err := ValidateXY(x, y); err != nil {
		return Spectrum{}, err
	}
	return Spectrum{
		x: append([]float64(nil), x...),
		y: append([]float64(nil), y...),
	}, nil
}

// ValidateXY checks the spectrum invariants without copying.
func ValidateXY(x, y []float64) error {
	const op = "ValidateXY"
	if len(x) == 0 || len(y) == 0 {
		return InputErrorf("spectrum must not be empty").WithOperation(op).WithComponent("spectrum")
	}
	if len(x) != len(y) {
		return InputErrorf("length mismatch: x has %d samples but y has %d", len(x), len(y)).
			WithOperation(op).WithComponent("spectrum")
	}
	for i := range x {
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) {
			return InputErrorf("non-finite value at index %d", i).WithField("x").WithOperation(op).WithComponent("spectrum")
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return InputErrorf("non-finite value at index %d", i).WithField("y").WithOperation(op).WithComponent("spectrum")
		}
		if i > 0 && x[i] <= x[i-1] {
			return InputErrorf("x must be strictly increasing (index %d: %v <= %v)", i, x[i], x[i-1]).
				WithField("x").WithOperation(op).WithComponent("spectrum")
		}
	}
	return nil
}

// Len returns the number of samples.
func (s Spectrum) Len() int { return len(s.x) }

// X returns a copy of the independent variable.
func (s Spectrum) X() []float64 { return append([]float64(nil), s.x...) }

// Y returns a copy of the dependent variable.
func (s Spectrum) Y() []float64 { return append([]float64(nil), s.y...) }

// At returns sample i.
func (s Spectrum) At(i int) (float64, float64) { return s.x[i], s.y[i] }

// WithY returns a new spectrum over the same x.
func (s Spectrum) WithY(y []float64) (Spectrum, error) {
	return NewSpectrum(s.x, y)
}

// Subtract returns a new spectrum with curve removed from y.
func (s Spectrum) Subtract(curve []float64) (Spectrum, error) {
	if len(curve) != len(s.y) {
		return Spectrum{}, InputErrorf("length mismatch: spectrum has %d samples but curve has %d", len(s.y), len(curve)).
			WithOperation("Subtract").WithComponent("spectrum")
	}
	y := make([]float64, len(s.y))
	for i := range y {
		y[i] = s.y[i] - curve[i]
	}
	return Spectrum{x: append([]float64(nil), s.x...), y: y}, nil
}

type spectrumJSON struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// MarshalJSON encodes the spectrum as {"x": [...], "y": [...]}.
func (s Spectrum) MarshalJSON() ([]byte, error) {
	return json.Marshal(spectrumJSON{X: s.x, Y: s.y})
}

// UnmarshalJSON decodes and validates {"x": [...], "y": [...]}.
func (s *Spectrum) UnmarshalJSON(data []byte) error {
	var raw spectrumJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := NewSpectrum(raw.X, raw.Y)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
