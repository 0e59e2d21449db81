// Package baseline removes slowly varying background from a spectrum.
package baseline

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/ARDI/internal/spectral"
)

// DefaultMaxIterations caps the reweighting loop of the standalone estimator.
const DefaultMaxIterations = 10

// ALSEstimator fits an asymmetric least-squares baseline.
//
// Each iteration solves (W + Lambda·DᵀD) z = W y, where D is the second
// difference operator, then reweights: points above z get weight P and
// points on or below get 1-P. Iteration stops when the weights no longer
// change or MaxIterations is reached.
type ALSEstimator struct {
	// Lambda is the roughness penalty weight (> 0).
	Lambda float64
	// P is the asymmetry (0 < P < 1).
	P float64
	// MaxIterations caps the reweighting loop (>= 1).
	MaxIterations int
}

// Baseline is the estimated background.
type Baseline struct {
	Y          []float64          `json:"y"`
	Iterations int                `json:"iterations"`
	Converged  bool               `json:"converged"`
	Warnings   []spectral.Warning `json:"warnings,omitempty"`
}

// NewALSEstimator returns an estimator with the default iteration cap.
func NewALSEstimator(lambda, p float64) *ALSEstimator {
	return &ALSEstimator{Lambda: lambda, P: p, MaxIterations: DefaultMaxIterations}
}

// Validate checks the estimator parameters.
func (e *ALSEstimator) Validate() error {
	const op = "ALSEstimator.Validate"
	if !(e.Lambda > 0) || math.IsInf(e.Lambda, 0) {
		return spectral.InputErrorf("lambda must be positive and finite, got %v", e.Lambda).
			WithField("lambda").WithOperation(op).WithComponent("baseline")
	}
	if !(e.P > 0 && e.P < 1) {
		return spectral.InputErrorf("p must be in (0, 1), got %v", e.P).
			WithField("p").WithOperation(op).WithComponent("baseline")
	}
	if e.MaxIterations < 1 {
		return spectral.InputErrorf("max iterations must be >= 1, got %d", e.MaxIterations).
			WithField("max_iterations").WithOperation(op).WithComponent("baseline")
	}
	return nil
}

// Estimate returns the baseline of y. It never fails on non-convergence:
// the last iterate is returned with Converged false and a warning.
func (e *ALSEstimator) Estimate(y []float64) (Baseline, error) {
	if err := e.Validate(); err != nil {
		return Baseline{}, err
	}
	if err := validateSignal(y); err != nil {
		return Baseline{}, err
	}

	n := len(y)
	if n < 3 {
		return Baseline{Y: append([]float64(nil), y...), Converged: true}, nil
	}

	penalty := secondDifferencePenalty(n, e.Lambda)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}

	z := mat.NewVecDense(n, nil)
	wy := mat.NewVecDense(n, nil)
	a := mat.NewSymBandDense(n, 2, nil)
	var chol mat.BandCholesky

	out := Baseline{}
	for it := 1; it <= e.MaxIterations; it++ {
		for i := 0; i < n; i++ {
			a.SetSymBand(i, i, penalty[0][i]+w[i])
			if i+1 < n {
				a.SetSymBand(i, i+1, penalty[1][i])
			}
			if i+2 < n {
				a.SetSymBand(i, i+2, penalty[2][i])
			}
			wy.SetVec(i, w[i]*y[i])
		}
		if ok := chol.Factorize(a); !ok {
			return Baseline{}, spectral.InputErrorf("penalized system is not positive definite").
				WithOperation("ALSEstimator.Estimate").WithComponent("baseline")
		}
		if err := chol.SolveVecTo(z, wy); err != nil {
			return Baseline{}, spectral.WrapError(err, spectral.KindInput, "solving penalized system").
				WithOperation("ALSEstimator.Estimate").WithComponent("baseline")
		}

		changed := false
		for i := 0; i < n; i++ {
			nw := 1 - e.P
			if y[i] > z.AtVec(i) {
				nw = e.P
			}
			if nw != w[i] {
				changed = true
				w[i] = nw
			}
		}
		out.Iterations = it
		if !changed {
			out.Converged = true
			break
		}
	}

	out.Y = make([]float64, n)
	for i := range out.Y {
		out.Y[i] = z.AtVec(i)
	}
	if !out.Converged {
		out.Warnings = append(out.Warnings, spectral.Warnf(spectral.WarnBaselineNotConverged,
			"ALS weights still changing after %d iterations", out.Iterations))
	}
	return out, nil
}

// ALS is shorthand for NewALSEstimator(lambda, p).Estimate(y) returning only the curve.
func ALS(y []float64, lambda, p float64) ([]float64, error) {
	b, err := NewALSEstimator(lambda, p).Estimate(y)
	if err != nil {
		return nil, err
	}
	return b.Y, nil
}

// secondDifferencePenalty returns the main, first and second upper
// diagonals of lambda·DᵀD for an n-point second difference operator.
func secondDifferencePenalty(n int, lambda float64) [3][]float64 {
	var band [3][]float64
	for k := range band {
		band[k] = make([]float64, n)
	}
	coef := [3]float64{1, -2, 1}
	for row := 0; row+2 < n; row++ {
		for a := 0; a < 3; a++ {
			for b := a; b < 3; b++ {
				band[b-a][row+a] += lambda * coef[a] * coef[b]
			}
		}
	}
	return band
}

func validateSignal(y []float64) error {
	if len(y) == 0 {
		return spectral.InputErrorf("signal must not be empty").WithField("y").WithComponent("baseline")
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return spectral.InputErrorf("non-finite value at index %d", i).WithField("y").WithComponent("baseline")
		}
	}
	return nil
}
