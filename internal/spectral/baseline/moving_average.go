package baseline

import (
	"github.com/copyleftdev/ARDI/internal/spectral"
)

// MovingAverage smooths y with a centered box filter of the given width.
// Samples beyond either end repeat the edge value. For even windows the
// box covers one more sample on the left, matching numpy's "same" mode.
func MovingAverage(y []float64, window int) ([]float64, error) {
	if window < 1 {
		return nil, spectral.InputErrorf("window must be >= 1, got %d", window).
			WithField("window").WithOperation("MovingAverage").WithComponent("baseline")
	}
	if err := validateSignal(y); err != nil {
		return nil, err
	}

	n := len(y)
	left := window / 2
	right := window - left - 1
	out := make([]float64, n)
	for i := range out {
		sum := 0.0
		for j := i - left; j <= i+right; j++ {
			sum += y[clamp(j, 0, n-1)]
		}
		out[i] = sum / float64(window)
	}
	return out, nil
}

func clamp(i, lo, hi int) int {
	if i < lo {
		return lo
	}
	if i > hi {
		return hi
	}
	return i
}
