// Package lm implements bounded nonlinear least squares.
package lm

import (
	"context"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/ARDI/internal/spectral"
)

// Status describes why a solve stopped.
type Status string

const (
	StatusFTol           Status = "ftol"
	StatusXTol           Status = "xtol"
	StatusGTol           Status = "gtol"
	StatusExact          Status = "exact"
	StatusStalled        Status = "stalled"
	StatusMaxEvaluations Status = "max_evaluations"
	StatusCancelled      Status = "cancelled"
)

// Converged reports whether the status is a successful termination.
func (s Status) Converged() bool {
	switch s {
	case StatusFTol, StatusXTol, StatusGTol, StatusExact, StatusStalled:
		return true
	default:
		return false
	}
}

// Problem is a least-squares problem: minimise ½‖Observed − Model(θ)‖².
type Problem struct {
	// Model writes the model prediction for params into dst.
	Model    func(dst, params []float64)
	Observed []float64
	Initial  []float64
	// Bounds holds [lower, upper] per parameter. Nil means unbounded.
	Bounds [][2]float64
}

// Settings control termination.
type Settings struct {
	FTol           float64
	XTol           float64
	GTol           float64
	MaxEvaluations int
}

// DefaultSettings returns MINPACK-like tolerances.
func DefaultSettings() Settings {
	return Settings{FTol: 1e-10, XTol: 1e-10, GTol: 1e-10, MaxEvaluations: 10000}
}

// Result is the outcome of a solve.
type Result struct {
	Params      []float64
	Residual    []float64
	Cost        float64
	Evaluations int
	Iterations  int
	Status      Status
	Converged   bool
	// Covariance is nil when it cannot be estimated.
	Covariance *mat.SymDense
	Stderr     []float64
}

// Solver minimises a least-squares problem.
type Solver interface {
	Solve(ctx context.Context, p Problem, s Settings) (*Result, error)
}

// LevenbergMarquardt is a bounded Levenberg–Marquardt solver with
// Marquardt diagonal scaling and Nielsen damping updates.
type LevenbergMarquardt struct {
	logger *zap.Logger
}

// Option configures a LevenbergMarquardt solver.
type Option func(*LevenbergMarquardt)

// WithLogger sets the solver's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *LevenbergMarquardt) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a solver.
func New(opts ...Option) *LevenbergMarquardt {
	s := &LevenbergMarquardt{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("lm")
	return s
}

const (
	initialDamping = 1e-3
	minDamping     = 1e-20
	maxDamping     = 1e32
	jacobianStep   = 6e-6
)

var eps = math.Nextafter(1, 2) - 1

func validate(p Problem, s Settings) error {
	fail := func(field, format string, args ...interface{}) error {
		return spectral.InputErrorf(format, args...).WithField(field).
			WithOperation("Solve").WithComponent("lm")
	}
	if p.Model == nil {
		return fail("model", "model function is required")
	}
	if len(p.Observed) == 0 {
		return fail("observed", "no observations")
	}
	if len(p.Initial) == 0 {
		return fail("initial", "no parameters")
	}
	if p.Bounds != nil && len(p.Bounds) != len(p.Initial) {
		return fail("bounds", "%d bounds for %d parameters", len(p.Bounds), len(p.Initial))
	}
	for j, b := range p.Bounds {
		if math.IsNaN(b[0]) || math.IsNaN(b[1]) || b[0] > b[1] {
			return fail("bounds", "parameter %d: invalid bounds [%v, %v]", j, b[0], b[1])
		}
	}
	for j, v := range p.Initial {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fail("initial", "parameter %d is not finite", j)
		}
	}
	if s.MaxEvaluations < 1 {
		return fail("max_evaluations", "max evaluations must be >= 1, got %d", s.MaxEvaluations)
	}
	tols := []struct {
		name string
		v    float64
	}{{"ftol", s.FTol}, {"xtol", s.XTol}, {"gtol", s.GTol}}
	for _, tol := range tols {
		if !(tol.v >= 0) || math.IsInf(tol.v, 0) {
			return fail(tol.name, "tolerance must be a finite value >= 0, got %v", tol.v)
		}
	}
	return nil
}

// state is the per-call working set. Nothing outlives a Solve call.
type state struct {
	p     Problem
	n, m  int
	evals int
	pred  []float64
}

func (st *state) clip(theta []float64) {
	if st.p.Bounds == nil {
		return
	}
	for j := range theta {
		theta[j] = math.Min(math.Max(theta[j], st.p.Bounds[j][0]), st.p.Bounds[j][1])
	}
}

// residual writes observed − model(theta) into r and returns the cost.
func (st *state) residual(r, theta []float64) float64 {
	st.evals++
	st.p.Model(st.pred, theta)
	cost := 0.0
	for i, o := range st.p.Observed {
		r[i] = o - st.pred[i]
		cost += r[i] * r[i]
	}
	cost /= 2
	if math.IsNaN(cost) {
		return math.Inf(1)
	}
	return cost
}

// jacobian fills J = ∂model/∂θ by central differences in parameter units
// scaled to each parameter's magnitude.
func (st *state) jacobian(J *mat.Dense, theta []float64) {
	scale := make([]float64, st.m)
	u := make([]float64, st.m)
	for j, v := range theta {
		scale[j] = math.Max(math.Abs(v), 1)
		u[j] = v / scale[j]
	}
	buf := make([]float64, st.m)
	f := func(y, x []float64) {
		st.evals++
		for j := range x {
			buf[j] = x[j] * scale[j]
		}
		st.p.Model(y, buf)
	}
	fd.Jacobian(J, f, u, &fd.JacobianSettings{Formula: fd.Central, Step: jacobianStep})
	for j := 0; j < st.m; j++ {
		for i := 0; i < st.n; i++ {
			J.Set(i, j, J.At(i, j)/scale[j])
		}
	}
}

// Solve runs the optimizer. Errors are returned only for invalid problems;
// non-convergence is reported through Result.Status.
func (s *LevenbergMarquardt) Solve(ctx context.Context, p Problem, settings Settings) (*Result, error) {
	if err := validate(p, settings); err != nil {
		return nil, err
	}
	settings.FTol = math.Max(settings.FTol, eps)
	settings.XTol = math.Max(settings.XTol, eps)
	settings.GTol = math.Max(settings.GTol, eps)

	st := &state{p: p, n: len(p.Observed), m: len(p.Initial)}
	st.pred = make([]float64, st.n)
	n, m := st.n, st.m

	theta := append([]float64(nil), p.Initial...)
	st.clip(theta)
	r := make([]float64, n)
	cost := st.residual(r, theta)
	if math.IsInf(cost, 0) {
		return nil, spectral.NewError(spectral.KindInput, "model is not finite at the initial parameters").
			WithOperation("Solve").WithComponent("lm")
	}

	J := mat.NewDense(n, m, nil)
	jFresh := false
	diag := make([]float64, m)
	mu, nu := initialDamping, 2.0
	iterations := 0
	var status Status

	trial := make([]float64, m)
	rTrial := make([]float64, n)
	jd := make([]float64, n)

outer:
	for {
		if cost == 0 {
			status = StatusExact
			break
		}
		if ctx.Err() != nil {
			status = StatusCancelled
			break
		}
		if st.evals+2*m > settings.MaxEvaluations {
			status = StatusMaxEvaluations
			break
		}
		st.jacobian(J, theta)
		jFresh = true

		var jtj mat.SymDense
		jtj.SymOuterK(1, J.T())
		jtr := mat.NewVecDense(m, nil)
		jtr.MulVec(J.T(), mat.NewVecDense(n, r))

		free := freeSet(st, theta, jtr)
		rnorm := math.Sqrt(2 * cost)
		if gradientCosine(J, jtr, free, rnorm) <= settings.GTol {
			status = StatusGTol
			break
		}

		for j := 0; j < m; j++ {
			diag[j] = math.Max(diag[j], jtj.At(j, j))
		}

		for {
			if ctx.Err() != nil {
				status = StatusCancelled
				break outer
			}
			step, ok := dampedStep(&jtj, jtr, diag, free, mu)
			if !ok {
				var stalled bool
				if mu, nu, stalled = growDamping(mu, nu); stalled {
					status = StatusStalled
					break outer
				}
				continue
			}

			copy(trial, theta)
			for k, j := range free {
				trial[j] += step[k]
			}
			st.clip(trial)
			delta := make([]float64, m)
			floats.SubTo(delta, trial, theta)
			if floats.Norm(delta, 2) <= settings.XTol*(settings.XTol+floats.Norm(theta, 2)) {
				status = StatusXTol
				break outer
			}

			// predicted cost from the linear model r − Jδ
			for i := 0; i < n; i++ {
				jd[i] = floats.Dot(J.RawRowView(i), delta)
			}
			predCost := 0.0
			for i := range r {
				d := r[i] - jd[i]
				predCost += d * d
			}
			predicted := cost - predCost/2

			if st.evals+1 > settings.MaxEvaluations {
				status = StatusMaxEvaluations
				break outer
			}
			costTrial := st.residual(rTrial, trial)
			actual := cost - costTrial

			if predicted > 0 && actual > 0 {
				rho := actual / predicted
				prev := cost
				copy(theta, trial)
				copy(r, rTrial)
				cost = costTrial
				jFresh = false
				mu, nu = shrinkDamping(mu, rho), 2
				iterations++
				if actual/prev <= settings.FTol && predicted/prev <= settings.FTol {
					status = StatusFTol
					break outer
				}
				break
			}

			if predicted <= eps*cost && math.Abs(actual) <= eps*cost {
				status = StatusStalled
				break outer
			}
			var stalled bool
			if mu, nu, stalled = growDamping(mu, nu); stalled {
				status = StatusStalled
				break outer
			}
		}
	}

	res := &Result{
		Params:      theta,
		Residual:    r,
		Cost:        cost,
		Evaluations: st.evals,
		Iterations:  iterations,
		Status:      status,
		Converged:   status.Converged(),
	}
	if !jFresh && st.evals+2*m <= settings.MaxEvaluations {
		st.jacobian(J, theta)
		res.Evaluations = st.evals
	}
	res.Covariance, res.Stderr = covariance(J, cost, n, m)

	s.logger.Debug("least squares finished",
		zap.String("status", string(status)),
		zap.Int("evaluations", res.Evaluations),
		zap.Int("iterations", iterations),
		zap.Float64("cost", cost))
	return res, nil
}

// shrinkDamping applies Nielsen's update after an accepted step with gain
// ratio rho. The result never drops below minDamping.
func shrinkDamping(mu, rho float64) float64 {
	return math.Max(mu*math.Max(1.0/3, 1-math.Pow(2*rho-1, 3)), minDamping)
}

// growDamping raises the damping after a rejected step. It reports true
// once the damping exceeds maxDamping or is no longer a number.
func growDamping(mu, nu float64) (float64, float64, bool) {
	mu = math.Max(mu, minDamping) * nu
	return mu, nu * 2, !(mu <= maxDamping)
}

// freeSet returns the parameters not pinned at a bound with the descent
// direction pointing outside.
func freeSet(st *state, theta []float64, jtr *mat.VecDense) []int {
	free := make([]int, 0, st.m)
	for j := range theta {
		if st.p.Bounds != nil {
			lo, hi := st.p.Bounds[j][0], st.p.Bounds[j][1]
			g := jtr.AtVec(j)
			if lo == hi || (theta[j] <= lo && g < 0) || (theta[j] >= hi && g > 0) {
				continue
			}
		}
		free = append(free, j)
	}
	return free
}

// gradientCosine is the largest cosine between the residual and a free
// Jacobian column.
func gradientCosine(J *mat.Dense, jtr *mat.VecDense, free []int, rnorm float64) float64 {
	if rnorm == 0 {
		return 0
	}
	worst := 0.0
	for _, j := range free {
		cnorm := mat.Norm(J.ColView(j), 2)
		if cnorm == 0 {
			continue
		}
		worst = math.Max(worst, math.Abs(jtr.AtVec(j))/(cnorm*rnorm))
	}
	return worst
}

// dampedStep solves (JᵀJ + μD)δ = Jᵀr restricted to the free parameters.
func dampedStep(jtj *mat.SymDense, jtr *mat.VecDense, diag []float64, free []int, mu float64) ([]float64, bool) {
	k := len(free)
	if k == 0 {
		return nil, true
	}
	a := mat.NewSymDense(k, nil)
	b := mat.NewVecDense(k, nil)
	for p, i := range free {
		b.SetVec(p, jtr.AtVec(i))
		for q := p; q < k; q++ {
			a.SetSym(p, q, jtj.At(i, free[q]))
		}
		a.SetSym(p, p, jtj.At(i, i)+mu*math.Max(diag[i], eps))
	}
	var chol mat.Cholesky
	if !chol.Factorize(a) {
		return nil, false
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, b); err != nil {
		return nil, false
	}
	return x.RawVector().Data, true
}

func covariance(J *mat.Dense, cost float64, n, m int) (*mat.SymDense, []float64) {
	if n <= m {
		return nil, nil
	}
	var jtj mat.SymDense
	jtj.SymOuterK(1, J.T())
	var chol mat.Cholesky
	if !chol.Factorize(&jtj) {
		return nil, nil
	}
	cov := mat.NewSymDense(m, nil)
	if err := chol.InverseTo(cov); err != nil {
		return nil, nil
	}
	cov.ScaleSym(2*cost/float64(n-m), cov)
	stderr := make([]float64, m)
	for j := range stderr {
		v := cov.At(j, j)
		if v < 0 || math.IsNaN(v) {
			return nil, nil
		}
		stderr[j] = math.Sqrt(v)
	}
	return cov, stderr
}
