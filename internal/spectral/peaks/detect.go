// Package peaks locates candidate peaks in a 1-D signal.
package peaks

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/ARDI/internal/spectral"
)

// Detector finds local maxima of a normalized signal.
type Detector struct {
	// Lookahead is the half-width (in samples) of the neighbourhood a
	// peak must dominate. It is also the minimum peak separation.
	Lookahead int
	// Delta is the minimum prominence, as a fraction of max |y|.
	Delta float64
}

// NewDetector creates a detector with the given parameters.
func NewDetector(lookahead int, delta float64) *Detector {
	return &Detector{Lookahead: lookahead, Delta: delta}
}

// Validate checks the detection parameters.
func (d *Detector) Validate() error {
	if d.Lookahead < 1 {
		return spectral.InputErrorf("lookahead must be >= 1, got %d", d.Lookahead).
			WithField("lookahead").WithOperation("Detector.Validate").WithComponent("peaks")
	}
	if !(d.Delta >= 0) || math.IsInf(d.Delta, 0) {
		return spectral.InputErrorf("delta must be a finite value >= 0, got %v", d.Delta).
			WithField("delta").WithOperation("Detector.Validate").WithComponent("peaks")
	}
	return nil
}

// Detect is shorthand for NewDetector(lookahead, delta).Detect(x, y).
func Detect(x, y []float64, lookahead int, delta float64) (spectral.PeakSet, error) {
	return NewDetector(lookahead, delta).Detect(x, y)
}

// Detect returns the peaks of y located on x.
//
// Sample i is a peak when every sample up to Lookahead positions to its
// left is strictly lower, none up to Lookahead positions to its right is
// higher, and its prominence over the higher of the two adjacent valleys
// is at least Delta. Amplitudes are reported normalized by max |y|.
func (d *Detector) Detect(x, y []float64) (spectral.PeakSet, error) {
	if err := d.Validate(); err != nil {
		return spectral.PeakSet{}, err
	}
	if err := spectral.ValidateXY(x, y); err != nil {
		return spectral.PeakSet{}, err
	}

	set := spectral.PeakSet{
		Centers:    []float64{},
		Amplitudes: []float64{},
		Indices:    []int{},
		Lookahead:  d.Lookahead,
		Delta:      d.Delta,
	}

	scale := math.Max(math.Abs(floats.Max(y)), math.Abs(floats.Min(y)))
	set.Scale = scale
	n := len(y)
	if scale == 0 || n < 2*d.Lookahead+1 {
		set.Warnings = append(set.Warnings, spectral.Warnf(spectral.WarnNoPeaks, "%s", noPeaksReason(scale)))
		return set, nil
	}

	norm := make([]float64, n)
	floats.ScaleTo(norm, 1/scale, y)

	for i := d.Lookahead; i < n-d.Lookahead; i++ {
		if !d.dominates(norm, i) {
			continue
		}
		if prominence(norm, i) < d.Delta {
			continue
		}
		set.Centers = append(set.Centers, x[i])
		set.Amplitudes = append(set.Amplitudes, norm[i])
		set.Indices = append(set.Indices, i)
	}

	if set.Empty() {
		set.Warnings = append(set.Warnings, spectral.Warnf(spectral.WarnNoPeaks,
			"no local maximum with prominence >= %v", d.Delta))
	}
	return set, nil
}

// dominates reports whether norm[i] is the leftmost maximum of its window.
func (d *Detector) dominates(norm []float64, i int) bool {
	v := norm[i]
	for j := i - d.Lookahead; j < i; j++ {
		if norm[j] >= v {
			return false
		}
	}
	for j := i + 1; j <= i+d.Lookahead; j++ {
		if norm[j] > v {
			return false
		}
	}
	return true
}

// prominence is the height of norm[i] over the higher of the lowest points
// between it and the nearest strictly higher sample on either side.
func prominence(norm []float64, i int) float64 {
	v := norm[i]

	leftMin := v
	for j := i - 1; j >= 0 && norm[j] <= v; j-- {
		if norm[j] < leftMin {
			leftMin = norm[j]
		}
	}

	rightMin := v
	for j := i + 1; j < len(norm) && norm[j] <= v; j++ {
		if norm[j] < rightMin {
			rightMin = norm[j]
		}
	}

	return v - math.Max(leftMin, rightMin)
}

func noPeaksReason(scale float64) string {
	if scale == 0 {
		return "signal is identically zero"
	}
	return "signal has fewer than 2*lookahead+1 samples"
}
