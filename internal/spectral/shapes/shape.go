// Package shapes defines the closed set of peak profiles used for
// deconvolution. Every shape maps (center, amplitude, width) plus optional
// shape-specific parameters to a curve, an FWHM and a peak height.
//
// Definitions follow the lmfit conventions: amplitude is the integrated
// area for the normalized profiles and width is the profile's sigma.
package shapes

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/ARDI/internal/spectral"
)

// Shape is a peak profile.
type Shape int

const (
	Gaussian Shape = iota + 1
	Lorentzian
	PseudoVoigt
	Voigt
	Pearson4
	Pearson7
	DampedHarmonicOscillator
	StudentsT
	Moffat
	SplitLorentzian
)

// tiny guards divisions by widths that an optimizer may drive to zero.
const tiny = 1.0e-15

var shapeNames = map[Shape]string{
	Gaussian:                 "Gaussian",
	Lorentzian:               "Lorentzian",
	PseudoVoigt:              "PseudoVoigt",
	Voigt:                    "Voigt",
	Pearson4:                 "Pearson4",
	Pearson7:                 "Pearson7",
	DampedHarmonicOscillator: "DampedHarmonicOscillator",
	StudentsT:                "StudentsT",
	Moffat:                   "Moffat",
	SplitLorentzian:          "SplitLorentzian",
}

// All returns every shape in menu order.
func All() []Shape {
	return []Shape{
		PseudoVoigt, Gaussian, Voigt, Lorentzian, Pearson4, Pearson7,
		DampedHarmonicOscillator, StudentsT, Moffat, SplitLorentzian,
	}
}

// String returns the shape's canonical name.
func (s Shape) String() string {
	if name, ok := shapeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Shape(%d)", int(s))
}

// Valid reports whether s is one of the defined shapes.
func (s Shape) Valid() bool {
	_, ok := shapeNames[s]
	return ok
}

// ParseShape resolves a shape name. Matching is case-insensitive.
func ParseShape(name string) (Shape, error) {
	trimmed := strings.TrimSpace(name)
	for s, n := range shapeNames {
		if strings.EqualFold(n, trimmed) {
			return s, nil
		}
	}
	return 0, spectral.InputErrorf("unknown peak shape %q", name).WithField("shape").WithComponent("shapes")
}

// MarshalText implements encoding.TextMarshaler.
func (s Shape) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid shape %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Shape) UnmarshalText(text []byte) error {
	v, err := ParseShape(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Params are the native parameters of one peak.
type Params struct {
	Center    float64
	Amplitude float64
	Width     float64
	// Extras are the shape-specific parameters, in Extras() order.
	Extras []float64
}

// Param is a named shape-specific parameter with its default and bounds.
type Param struct {
	Name   string     `json:"name"`
	Value  float64    `json:"value"`
	Bounds [2]float64 `json:"bounds"`
}

// Extras returns the default shape-specific parameters for a peak of the
// given width and width bounds.
func (s Shape) Extras(width float64, widthBounds [2]float64) []Param {
	switch s {
	case PseudoVoigt:
		return []Param{{Name: "fraction", Value: 0.5, Bounds: [2]float64{0, 1}}}
	case Pearson4:
		return []Param{
			{Name: "expon", Value: 1.5, Bounds: [2]float64{0.5 + 1e-6, 1000}},
			{Name: "skew", Value: 0, Bounds: [2]float64{-1000, 1000}},
		}
	case Pearson7:
		return []Param{{Name: "expon", Value: 1.5, Bounds: [2]float64{0.5 + 1e-6, 100}}}
	case Moffat:
		return []Param{{Name: "beta", Value: 1, Bounds: [2]float64{0.01, 100}}}
	case SplitLorentzian:
		return []Param{{Name: "sigma_r", Value: width, Bounds: widthBounds}}
	default:
		return nil
	}
}

// NumExtras returns the number of shape-specific parameters.
func (s Shape) NumExtras() int {
	return len(s.Extras(1, [2]float64{0, 1}))
}

// ClosedForm reports whether FWHM and Height have analytic expressions.
func (s Shape) ClosedForm() bool {
	return s != Pearson4 && s != DampedHarmonicOscillator
}

// Eval returns the profile value at x.
func (s Shape) Eval(x float64, p Params) float64 {
	c, a := p.Center, p.Amplitude
	sigma := math.Max(tiny, p.Width)

	switch s {
	case Gaussian:
		return a * distuv.Normal{Mu: c, Sigma: sigma}.Prob(x)
	case Lorentzian:
		return lorentzian(x, c, a, sigma)
	case PseudoVoigt:
		f := extra(p, 0, 0.5)
		sg := sigma / math.Sqrt(2*math.Ln2)
		return (1-f)*a*distuv.Normal{Mu: c, Sigma: sg}.Prob(x) + f*lorentzian(x, c, a, sigma)
	case Voigt:
		return a * voigtProfile(x-c, sigma, sigma)
	case Pearson4:
		return pearson4(x, c, a, sigma, extra(p, 0, 1.5), extra(p, 1, 0))
	case Pearson7:
		m := math.Max(0.5+tiny, extra(p, 0, 1.5))
		u := (x - c) / sigma
		return pearson7Height(a, sigma, m) * math.Pow(1+u*u, -m)
	case DampedHarmonicOscillator:
		ss := sigma * sigma
		return a * sigma / math.Pi * (1/((x-c)*(x-c)+ss) - 1/((x+c)*(x+c)+ss))
	case StudentsT:
		return a * distuv.StudentsT{Mu: c, Sigma: 1, Nu: sigma}.Prob(x)
	case Moffat:
		beta := extra(p, 0, 1)
		u := (x - c) / sigma
		return a * math.Pow(u*u+1, -beta)
	case SplitLorentzian:
		r := math.Max(tiny, extra(p, 0, sigma))
		side := sigma
		if x >= c {
			side = r
		}
		d := x - c
		return 2 * a / (math.Pi * (sigma + r)) * side * side / (side*side + d*d)
	default:
		return 0
	}
}

// Curve evaluates the profile at every x.
func (s Shape) Curve(x []float64, p Params) []float64 {
	out := make([]float64, len(x))
	s.AddTo(out, x, p)
	return out
}

// AddTo accumulates the profile into dst.
func (s Shape) AddTo(dst, x []float64, p Params) {
	for i, xi := range x {
		dst[i] += s.Eval(xi, p)
	}
}

// FWHM returns the full width at half maximum.
func (s Shape) FWHM(p Params) float64 {
	sigma := math.Max(tiny, p.Width)
	switch s {
	case Gaussian:
		return 2 * math.Sqrt(2*math.Ln2) * sigma
	case Lorentzian, PseudoVoigt:
		return 2 * sigma
	case Voigt:
		gamma := sigma
		return 1.0692*gamma + math.Sqrt(0.8664*gamma*gamma+5.545083*sigma*sigma)
	case Pearson7:
		m := math.Max(0.5+tiny, extra(p, 0, 1.5))
		return 2 * sigma * math.Sqrt(math.Pow(2, 1/m)-1)
	case StudentsT:
		nu := sigma
		return 2 * math.Sqrt(nu*(math.Pow(2, 2/(nu+1))-1))
	case Moffat:
		beta := math.Max(tiny, extra(p, 0, 1))
		return 2 * sigma * math.Sqrt(math.Pow(2, 1/beta)-1)
	case SplitLorentzian:
		return sigma + math.Max(tiny, extra(p, 0, sigma))
	default:
		_, fwhm := measure(func(x float64) float64 { return s.Eval(x, p) }, p.Center, sigma)
		return fwhm
	}
}

// Height returns the maximum of the profile.
func (s Shape) Height(p Params) float64 {
	a := p.Amplitude
	sigma := math.Max(tiny, p.Width)
	switch s {
	case Gaussian:
		return a / (sigma * math.Sqrt(2*math.Pi))
	case Lorentzian:
		return a / (math.Pi * sigma)
	case PseudoVoigt:
		f := extra(p, 0, 0.5)
		sg := sigma / math.Sqrt(2*math.Ln2)
		return (1-f)*a/(sg*math.Sqrt(2*math.Pi)) + f*a/(math.Pi*sigma)
	case Voigt:
		return a * voigtProfile(0, sigma, sigma)
	case Pearson7:
		return pearson7Height(a, sigma, math.Max(0.5+tiny, extra(p, 0, 1.5)))
	case StudentsT:
		return a * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: sigma}.Prob(0)
	case Moffat:
		return a
	case SplitLorentzian:
		r := math.Max(tiny, extra(p, 0, sigma))
		return 2 * a / (math.Pi * (sigma + r))
	default:
		h, _ := measure(func(x float64) float64 { return s.Eval(x, p) }, p.Center, sigma)
		return h
	}
}

func extra(p Params, i int, def float64) float64 {
	if i < len(p.Extras) {
		return p.Extras[i]
	}
	return def
}

func lorentzian(x, c, a, sigma float64) float64 {
	d := x - c
	return a / math.Pi * sigma / (d*d + sigma*sigma)
}

func pearson7Height(a, sigma, m float64) float64 {
	lg1, _ := math.Lgamma(m)
	lg2, _ := math.Lgamma(m - 0.5)
	return a * math.Exp(lg1-lg2) / (math.Sqrt(math.Pi) * sigma)
}

func pearson4(x, c, a, sigma, m, nu float64) float64 {
	m = math.Max(0.5+tiny, m)
	u := (x - c) / sigma
	lgm, _ := math.Lgamma(m)
	logPrefactor := 2 * (real(lgammaComplex(complex(m, nu/2))) - lgm)
	lgA, _ := math.Lgamma(m - 0.5)
	lgB, _ := math.Lgamma(0.5)
	logBeta := lgA + lgB - lgm
	return a * math.Pow(1+u*u, -m) * math.Exp(-nu*math.Atan(u)+logPrefactor-logBeta) / sigma
}
