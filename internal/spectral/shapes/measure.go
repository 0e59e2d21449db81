package shapes

import "math"

const (
	measureSpan    = 50
	measureSamples = 4001
	bisectSteps    = 80
)

// measure locates the maximum of f on center ± measureSpan*scale and the
// two half-maximum crossings around it. A crossing that falls outside the
// search interval is clamped to the interval edge.
func measure(f func(float64) float64, center, scale float64) (height, fwhm float64) {
	lo := center - measureSpan*scale
	step := 2 * measureSpan * scale / (measureSamples - 1)
	at := func(i int) float64 { return lo + float64(i)*step }

	best, bestV := 0, math.Inf(-1)
	for i := 0; i < measureSamples; i++ {
		if v := f(at(i)); v > bestV {
			best, bestV = i, v
		}
	}

	// golden-section refinement between the neighbouring samples
	a := at(max(best-1, 0))
	b := at(min(best+1, measureSamples-1))
	const phi = 0.6180339887498949
	for k := 0; k < bisectSteps && b-a > 1e-12*math.Max(1, math.Abs(a)); k++ {
		c := b - phi*(b-a)
		d := a + phi*(b-a)
		if f(c) > f(d) {
			b = d
		} else {
			a = c
		}
	}
	peakX := (a + b) / 2
	height = math.Max(bestV, f(peakX))
	if height <= 0 || math.IsNaN(height) {
		return 0, 0
	}
	half := height / 2

	left := lo
	for i := best; i > 0; i-- {
		if f(at(i-1)) < half {
			left = bisect(f, at(i-1), math.Min(at(i), peakX), half)
			break
		}
	}
	right := at(measureSamples - 1)
	for i := best; i < measureSamples-1; i++ {
		if f(at(i+1)) < half {
			right = bisect(f, math.Max(at(i), peakX), at(i+1), half)
			break
		}
	}
	return height, right - left
}

// bisect finds where f crosses level between a and b.
func bisect(f func(float64) float64, a, b, level float64) float64 {
	fa := f(a) - level
	for k := 0; k < bisectSteps; k++ {
		m := (a + b) / 2
		fm := f(m) - level
		if (fm < 0) == (fa < 0) {
			a, fa = m, fm
		} else {
			b = m
		}
	}
	return (a + b) / 2
}
