package shapes

import (
	"encoding/json"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/ARDI/internal/spectral"
)

func defaults(s Shape, c, a, w float64) Params {
	p := Params{Center: c, Amplitude: a, Width: w}
	for _, e := range s.Extras(w, [2]float64{0.2, 40}) {
		p.Extras = append(p.Extras, e.Value)
	}
	return p
}

func TestParseShape(t *testing.T) {
	tests := []struct {
		in   string
		want Shape
	}{
		{"PseudoVoigt", PseudoVoigt},
		{"gaussian", Gaussian},
		{" LORENTZIAN ", Lorentzian},
		{"DampedHarmonicOscillator", DampedHarmonicOscillator},
		{"studentst", StudentsT},
	}
	for _, tt := range tests {
		got, err := ParseShape(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseShape("Triangle")
	require.Error(t, err)
	assert.True(t, spectral.IsKind(err, spectral.KindInput))
}

func TestShapeTextRoundTrip(t *testing.T) {
	for _, s := range All() {
		b, err := json.Marshal(s)
		require.NoError(t, err)
		var got Shape
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, s, got)
	}
	assert.Len(t, All(), 10)

	var s Shape
	assert.Error(t, json.Unmarshal([]byte(`"Blob"`), &s))
	_, err := json.Marshal(Shape(0))
	assert.Error(t, err)
}

func TestExtrasDefaults(t *testing.T) {
	pv := PseudoVoigt.Extras(4, [2]float64{0.2, 40})
	require.Len(t, pv, 1)
	assert.Equal(t, Param{Name: "fraction", Value: 0.5, Bounds: [2]float64{0, 1}}, pv[0])

	p4 := Pearson4.Extras(4, [2]float64{0.2, 40})
	require.Len(t, p4, 2)
	assert.Equal(t, "expon", p4[0].Name)
	assert.Equal(t, "skew", p4[1].Name)

	sl := SplitLorentzian.Extras(3, [2]float64{1, 9})
	require.Len(t, sl, 1)
	assert.Equal(t, 3.0, sl[0].Value)
	assert.Equal(t, [2]float64{1, 9}, sl[0].Bounds)

	assert.Zero(t, Gaussian.NumExtras())
	assert.Equal(t, 1, Moffat.NumExtras())
}

func TestHeightAndFWHMMatchCurve(t *testing.T) {
	tests := []struct {
		shape Shape
		width float64
		tol   float64
	}{
		{Gaussian, 3, 1e-6},
		{Lorentzian, 2, 1e-6},
		{PseudoVoigt, 4, 1e-6},
		{Voigt, 2.5, 2e-3},
		{Pearson7, 3, 1e-6},
		{Moffat, 2, 1e-6},
		{SplitLorentzian, 2, 1e-6},
		{StudentsT, 3, 1e-6},
	}
	for _, tt := range tests {
		t.Run(tt.shape.String(), func(t *testing.T) {
			p := defaults(tt.shape, 50, 7, tt.width)
			if tt.shape == SplitLorentzian {
				p.Extras[0] = 5
			}
			h, fwhm := measure(func(x float64) float64 { return tt.shape.Eval(x, p) }, p.Center, tt.width)
			assert.InEpsilon(t, h, tt.shape.Height(p), tt.tol)
			assert.InEpsilon(t, fwhm, tt.shape.FWHM(p), tt.tol)
		})
	}
}

func TestNormalizedShapesIntegrateToAmplitude(t *testing.T) {
	for _, s := range []Shape{Gaussian, PseudoVoigt, Voigt, Pearson4, Pearson7, StudentsT} {
		p := defaults(s, 0, 3, 1)
		if s == Pearson4 {
			p.Extras[1] = 2
		}
		const h = 0.01
		area := 0.0
		for x := -2000.0; x <= 2000; x += h {
			area += s.Eval(x, p) * h
		}
		assert.InEpsilon(t, 3, area, 5e-3, s.String())
	}
}

func TestPearson4WithoutSkewIsPearson7(t *testing.T) {
	p4 := Params{Center: 10, Amplitude: 2, Width: 1.5, Extras: []float64{2.2, 0}}
	p7 := Params{Center: 10, Amplitude: 2, Width: 1.5, Extras: []float64{2.2}}
	for _, x := range []float64{4, 9, 10, 11.3, 20} {
		assert.InEpsilon(t, Pearson7.Eval(x, p7), Pearson4.Eval(x, p4), 1e-10)
	}
	assert.False(t, Pearson4.ClosedForm())
	assert.InEpsilon(t, Pearson7.Height(p7), Pearson4.Height(p4), 1e-6)
	assert.InEpsilon(t, Pearson7.FWHM(p7), Pearson4.FWHM(p4), 1e-6)
}

func TestDampedOscillatorFarFromOrigin(t *testing.T) {
	p := Params{Center: 500, Amplitude: 4, Width: 2}
	assert.InEpsilon(t, 4.0, DampedHarmonicOscillator.FWHM(p), 1e-3)
	assert.InEpsilon(t, Lorentzian.Height(p), DampedHarmonicOscillator.Height(p), 1e-3)
}

func TestCurveAndAddTo(t *testing.T) {
	x := []float64{0, 1, 2, 3}
	p := Params{Center: 1.5, Amplitude: 1, Width: 1}
	c := Gaussian.Curve(x, p)
	require.Len(t, c, 4)
	assert.InDelta(t, c[1], c[2], 1e-15)

	dst := []float64{1, 1, 1, 1}
	Gaussian.AddTo(dst, x, p)
	for i := range dst {
		assert.InDelta(t, 1+c[i], dst[i], 1e-15)
	}
}

func TestZeroWidthIsFinite(t *testing.T) {
	for _, s := range All() {
		p := defaults(s, 10, 1, 0)
		v := s.Eval(10.5, p)
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), s.String())
	}
}

func TestFaddeeva(t *testing.T) {
	tests := []struct {
		z    complex128
		want complex128
	}{
		{0, 1},
		{1i, 0.4275835762},
		{1 + 1i, 0.3047442052 + 0.2082189382i},
		{20 + 0.5i, 0.0007051 + 0.0281854i},
		{3 + 0.01i, 0.0009 + 0.2012i},
	}
	for _, tt := range tests {
		got := faddeeva(tt.z)
		assert.InDelta(t, 0, cmplx.Abs(got-tt.want), 1e-3, "w(%v) = %v", tt.z, got)
	}
}

func TestLgammaComplex(t *testing.T) {
	for _, x := range []float64{0.5, 1, 2.5, 7, 30} {
		want, _ := math.Lgamma(x)
		assert.InDelta(t, want, real(lgammaComplex(complex(x, 0))), 1e-10, "x=%v", x)
	}
	// |Γ(1/2 + iy)|² = π / cosh(πy)
	y := 1.3
	want := 0.5 * math.Log(math.Pi/math.Cosh(math.Pi*y))
	assert.InDelta(t, want, real(lgammaComplex(complex(0.5, y))), 1e-10)
}
