// Package fit builds deconvolution requests from detected peaks and runs
// the composite peak-plus-baseline least-squares fit.
package fit

import (
	"math"

	"github.com/copyleftdev/ARDI/internal/spectral"
	"github.com/copyleftdev/ARDI/internal/spectral/shapes"
)

// Defaults applied when no override table is supplied.
const (
	DefaultAmplitude       = 1.0
	DefaultWidth           = 4.0
	DefaultCenterHalfRange = 5.0
	DefaultShape           = shapes.PseudoVoigt

	DefaultTolerance      = 1e-15
	DefaultMaxEvaluations = 200000
)

var (
	DefaultAmplitudeBounds = [2]float64{0, 1000}
	DefaultWidthBounds     = [2]float64{0.2, 40}
)

// BaselineParams configure the baseline term co-fitted with the peaks.
type BaselineParams struct {
	Lambda       float64    `json:"lambda"`
	P            float64    `json:"p"`
	Iterations   int        `json:"iterations"`
	LambdaBounds [2]float64 `json:"lambda_bounds"`
	PBounds      [2]float64 `json:"p_bounds"`
	// Vary lets the optimizer adjust log10(Lambda) and P within bounds.
	Vary bool `json:"vary"`
}

// DefaultBaselineParams returns the baseline triple attached to every
// request unless the caller replaces it.
func DefaultBaselineParams() BaselineParams {
	return BaselineParams{
		Lambda:       1e7,
		P:            0.005,
		Iterations:   5,
		LambdaBounds: [2]float64{1e4, 5e9},
		PBounds:      [2]float64{1e-4, 0.1},
	}
}

// Enabled reports whether the baseline term takes part in the model.
func (b BaselineParams) Enabled() bool { return b.Iterations > 0 }

// Validate checks the baseline parameters against their bounds.
func (b BaselineParams) Validate() error {
	if b.Iterations < 0 {
		return requestError("baseline.iterations", "iterations must be >= 0, got %d", b.Iterations)
	}
	if !b.Enabled() {
		return nil
	}
	if !(b.LambdaBounds[0] > 0) || !ordered(b.LambdaBounds) {
		return requestError("baseline.lambda_bounds", "invalid bounds %v", b.LambdaBounds)
	}
	if !(b.PBounds[0] > 0) || !(b.PBounds[1] < 1) || !ordered(b.PBounds) {
		return requestError("baseline.p_bounds", "invalid bounds %v", b.PBounds)
	}
	if !within(b.Lambda, b.LambdaBounds) {
		return requestError("baseline.lambda", "%v outside %v", b.Lambda, b.LambdaBounds)
	}
	if !within(b.P, b.PBounds) {
		return requestError("baseline.p", "%v outside %v", b.P, b.PBounds)
	}
	return nil
}

// PeakRequest is the initial guess and bounds for one peak.
type PeakRequest struct {
	Center          float64        `json:"center"`
	Amplitude       float64        `json:"amplitude"`
	Width           float64        `json:"width"`
	Shape           shapes.Shape   `json:"shape"`
	CenterBounds    [2]float64     `json:"center_bounds"`
	AmplitudeBounds [2]float64     `json:"amplitude_bounds"`
	WidthBounds     [2]float64     `json:"width_bounds"`
	Extras          []shapes.Param `json:"extras,omitempty"`
	// Override is the table row this peak was built from, if any.
	Override *Override `json:"override,omitempty"`
}

// Params returns the peak's initial native parameters.
func (p PeakRequest) Params() shapes.Params {
	sp := shapes.Params{Center: p.Center, Amplitude: p.Amplitude, Width: p.Width}
	for _, e := range p.Extras {
		sp.Extras = append(sp.Extras, e.Value)
	}
	return sp
}

// Request is everything the orchestrator needs to run one fit.
type Request struct {
	Peaks          []PeakRequest  `json:"peaks"`
	Baseline       BaselineParams `json:"baseline"`
	Tolerance      float64        `json:"tolerance"`
	MaxEvaluations int            `json:"max_evaluations"`
}

// Validate checks bounds ordering, initial values and global settings.
func (r *Request) Validate() error {
	if !(r.Tolerance > 0) || math.IsInf(r.Tolerance, 0) {
		return requestError("tolerance", "tolerance must be positive and finite, got %v", r.Tolerance)
	}
	if r.MaxEvaluations < 1 {
		return requestError("max_evaluations", "max evaluations must be >= 1, got %d", r.MaxEvaluations)
	}
	for i, p := range r.Peaks {
		if !p.Shape.Valid() {
			return requestError("shape", "invalid shape %v", p.Shape).WithPeak(i)
		}
		if len(p.Extras) != p.Shape.NumExtras() {
			return requestError("extras", "%s takes %d extra parameters, got %d",
				p.Shape, p.Shape.NumExtras(), len(p.Extras)).WithPeak(i)
		}
		checks := []struct {
			field  string
			value  float64
			bounds [2]float64
		}{
			{"center", p.Center, p.CenterBounds},
			{"amplitude", p.Amplitude, p.AmplitudeBounds},
			{"width", p.Width, p.WidthBounds},
		}
		for _, e := range p.Extras {
			checks = append(checks, struct {
				field  string
				value  float64
				bounds [2]float64
			}{e.Name, e.Value, e.Bounds})
		}
		for _, c := range checks {
			if !ordered(c.bounds) {
				return requestError(c.field, "bounds %v are not ordered", c.bounds).WithPeak(i)
			}
			if !within(c.value, c.bounds) {
				return requestError(c.field, "initial value %v outside bounds %v", c.value, c.bounds).WithPeak(i)
			}
		}
		if !(p.WidthBounds[0] > 0) {
			return requestError("width", "width lower bound must be positive, got %v", p.WidthBounds[0]).WithPeak(i)
		}
	}
	return r.Baseline.Validate()
}

// Builder turns a peak set into a Request.
type Builder struct {
	Amplitude       float64
	Width           float64
	CenterHalfRange float64
	Shape           shapes.Shape
	AmplitudeBounds [2]float64
	WidthBounds     [2]float64
	Baseline        BaselineParams
	Tolerance       float64
	MaxEvaluations  int
}

// NewBuilder returns a builder with the default policy.
func NewBuilder() *Builder {
	return &Builder{
		Amplitude:       DefaultAmplitude,
		Width:           DefaultWidth,
		CenterHalfRange: DefaultCenterHalfRange,
		Shape:           DefaultShape,
		AmplitudeBounds: DefaultAmplitudeBounds,
		WidthBounds:     DefaultWidthBounds,
		Baseline:        DefaultBaselineParams(),
		Tolerance:       DefaultTolerance,
		MaxEvaluations:  DefaultMaxEvaluations,
	}
}

// Build is shorthand for NewBuilder().Build(peaks, overrides).
func Build(peaks spectral.PeakSet, overrides []Override) (*Request, error) {
	return NewBuilder().Build(peaks, overrides)
}

// Build creates a request for peaks. With an empty override table every
// peak gets the builder defaults. Otherwise the table must have one row
// per peak and each row is used verbatim; detected positions are ignored.
func (b *Builder) Build(peaks spectral.PeakSet, overrides []Override) (*Request, error) {
	if err := peaks.Validate(); err != nil {
		return nil, err
	}
	if len(overrides) > 0 && len(overrides) != peaks.Len() {
		return nil, spectral.OverrideErrorf(spectral.NoPeak, "count",
			"override table has %d rows for %d peaks", len(overrides), peaks.Len()).
			WithOperation("Build").WithComponent("fit")
	}

	req := &Request{
		Peaks:          make([]PeakRequest, peaks.Len()),
		Baseline:       b.Baseline,
		Tolerance:      b.Tolerance,
		MaxEvaluations: b.MaxEvaluations,
	}
	for i, center := range peaks.Centers {
		if len(overrides) > 0 {
			req.Peaks[i] = overrides[i].PeakRequest()
			continue
		}
		req.Peaks[i] = PeakRequest{
			Center:          center,
			Amplitude:       b.Amplitude,
			Width:           b.Width,
			Shape:           b.Shape,
			CenterBounds:    [2]float64{center - b.CenterHalfRange, center + b.CenterHalfRange},
			AmplitudeBounds: b.AmplitudeBounds,
			WidthBounds:     b.WidthBounds,
			Extras:          b.Shape.Extras(b.Width, b.WidthBounds),
		}
	}
	return req, nil
}

func requestError(field, format string, args ...interface{}) *spectral.Error {
	return spectral.InputErrorf(format, args...).WithField(field).
		WithOperation("Request.Validate").WithComponent("fit")
}

func ordered(b [2]float64) bool {
	return !math.IsNaN(b[0]) && !math.IsNaN(b[1]) && b[0] <= b[1]
}

func within(v float64, b [2]float64) bool {
	return v >= b[0] && v <= b[1]
}
