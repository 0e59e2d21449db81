package spectral

// PeakSet is the output of peak detection. Index position is peak identity.
type PeakSet struct {
	// Centers are the x positions of the peaks.
	Centers []float64 `json:"centers"`
	// Amplitudes are the normalized y values at the peaks.
	Amplitudes []float64 `json:"amplitudes"`
	// Indices are the sample indices of the peaks, when known.
	Indices []int `json:"indices,omitempty"`
	// Lookahead and Delta are the detection parameters used.
	Lookahead int     `json:"lookahead"`
	Delta     float64 `json:"delta"`
	// Scale is the normalization constant (max |y|); multiply
	// Amplitudes by it to recover absolute intensities.
	Scale    float64   `json:"scale"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// Len returns the number of peaks.
func (p PeakSet) Len() int { return len(p.Centers) }

// Empty reports whether no peaks were found.
func (p PeakSet) Empty() bool { return len(p.Centers) == 0 }

// AbsoluteAmplitudes returns Amplitudes multiplied by Scale.
func (p PeakSet) AbsoluteAmplitudes() []float64 {
	out := make([]float64, len(p.Amplitudes))
	for i, a := range p.Amplitudes {
		out[i] = a * p.Scale
	}
	return out
}

// Validate checks that centers and amplitudes pair up.
func (p PeakSet) Validate() error {
	if len(p.Centers) != len(p.Amplitudes) {
		return InputErrorf("peak set has %d centers but %d amplitudes", len(p.Centers), len(p.Amplitudes)).
			WithComponent("peaks").WithOperation("Validate")
	}
	return nil
}

// PeakSetFromPositions builds a peak set from hand-edited positions.
// Every amplitude is 1.
func PeakSetFromPositions(centers []float64) PeakSet {
	ampl := make([]float64, len(centers))
	for i := range ampl {
		ampl[i] = 1
	}
	return PeakSet{
		Centers:    append([]float64(nil), centers...),
		Amplitudes: ampl,
		Scale:      1,
	}
}
