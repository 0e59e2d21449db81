package fit

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/ARDI/internal/spectral"
	"github.com/copyleftdev/ARDI/internal/spectral/baseline"
	"github.com/copyleftdev/ARDI/internal/spectral/lm"
	"github.com/copyleftdev/ARDI/internal/spectral/shapes"
)

// DefaultMaxPeaks bounds the number of peaks in one request.
const DefaultMaxPeaks = 256

// StatusNothingToFit is reported when the request has no free parameters.
const StatusNothingToFit lm.Status = "nothing_to_fit"

// Fitter runs composite fits. It holds configuration only and is safe for
// concurrent use when its solver is.
type Fitter struct {
	solver   lm.Solver
	logger   *zap.Logger
	maxPeaks int
}

// Option configures a Fitter.
type Option func(*Fitter)

// WithSolver replaces the least-squares solver.
func WithSolver(s lm.Solver) Option {
	return func(f *Fitter) {
		if s != nil {
			f.solver = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fitter) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithMaxPeaks sets the peak count limit.
func WithMaxPeaks(n int) Option {
	return func(f *Fitter) {
		if n > 0 {
			f.maxPeaks = n
		}
	}
}

// NewFitter creates a fitter using the bounded Levenberg–Marquardt solver.
func NewFitter(opts ...Option) *Fitter {
	f := &Fitter{logger: zap.NewNop(), maxPeaks: DefaultMaxPeaks}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("fit")
	if f.solver == nil {
		f.solver = lm.New(lm.WithLogger(f.logger))
	}
	return f
}

// layout maps request fields to positions in the parameter vector.
type layout struct {
	offsets  []int
	baseline int // index of log10(lambda); -1 when the baseline is fixed
	size     int
}

func newLayout(req *Request) layout {
	l := layout{offsets: make([]int, len(req.Peaks)), baseline: -1}
	for i, p := range req.Peaks {
		l.offsets[i] = l.size
		l.size += 3 + len(p.Extras)
	}
	if req.Baseline.Enabled() && req.Baseline.Vary {
		l.baseline = l.size
		l.size += 2
	}
	return l
}

func (l layout) initial(req *Request) (theta []float64, bounds [][2]float64) {
	theta = make([]float64, 0, l.size)
	bounds = make([][2]float64, 0, l.size)
	for _, p := range req.Peaks {
		theta = append(theta, p.Center, p.Amplitude, p.Width)
		bounds = append(bounds, p.CenterBounds, p.AmplitudeBounds, p.WidthBounds)
		for _, e := range p.Extras {
			theta = append(theta, e.Value)
			bounds = append(bounds, e.Bounds)
		}
	}
	if l.baseline >= 0 {
		b := req.Baseline
		theta = append(theta, math.Log10(b.Lambda), b.P)
		bounds = append(bounds,
			[2]float64{math.Log10(b.LambdaBounds[0]), math.Log10(b.LambdaBounds[1])},
			b.PBounds)
	}
	return theta, bounds
}

func (l layout) peak(req *Request, theta []float64, i int) shapes.Params {
	o := l.offsets[i]
	n := len(req.Peaks[i].Extras)
	return shapes.Params{
		Center:    theta[o],
		Amplitude: theta[o+1],
		Width:     theta[o+2],
		Extras:    theta[o+3 : o+3+n],
	}
}

func (l layout) baselineParams(req *Request, theta []float64) BaselineParams {
	b := req.Baseline
	if l.baseline >= 0 {
		b.Lambda = math.Pow(10, theta[l.baseline])
		b.P = theta[l.baseline+1]
	}
	return b
}

// composite evaluates peaks and baseline for one parameter vector.
type composite struct {
	req    *Request
	layout layout
	x, y   []float64
}

// peaks writes the sum of peak curves into dst.
func (c composite) peaks(dst, theta []float64) {
	for i := range dst {
		dst[i] = 0
	}
	for i, p := range c.req.Peaks {
		p.Shape.AddTo(dst, c.x, c.layout.peak(c.req, theta, i))
	}
}

// baseline estimates the baseline under y minus the peak sum.
func (c composite) baseline(peakSum, theta []float64) (baseline.Baseline, error) {
	b := c.layout.baselineParams(c.req, theta)
	rest := make([]float64, len(c.y))
	for i := range rest {
		rest[i] = c.y[i] - peakSum[i]
	}
	est := &baseline.ALSEstimator{Lambda: b.Lambda, P: b.P, MaxIterations: b.Iterations}
	return est.Estimate(rest)
}

func (c composite) model(dst, theta []float64) {
	c.peaks(dst, theta)
	if !c.req.Baseline.Enabled() {
		return
	}
	bl, err := c.baseline(dst, theta)
	if err != nil {
		for i := range dst {
			dst[i] = math.NaN()
		}
		return
	}
	for i := range dst {
		dst[i] += bl.Y[i]
	}
}

// Fit fits req to s. Invalid input is returned as an error; a fit that
// stops without converging still returns a Result, whose Err method
// reports the failure.
func (f *Fitter) Fit(ctx context.Context, s spectral.Spectrum, req *Request) (*Result, error) {
	if s.Len() == 0 {
		return nil, spectral.InputErrorf("spectrum must not be empty").WithOperation("Fit").WithComponent("fit")
	}
	if req == nil {
		return nil, spectral.InputErrorf("request is required").WithOperation("Fit").WithComponent("fit")
	}
	if len(req.Peaks) > f.maxPeaks {
		return nil, spectral.InputErrorf("%d peaks exceeds the limit of %d", len(req.Peaks), f.maxPeaks).
			WithField("peaks").WithOperation("Fit").WithComponent("fit")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	l := newLayout(req)
	c := composite{req: req, layout: l, x: s.X(), y: s.Y()}
	theta, bounds := l.initial(req)

	f.logger.Info("fit started",
		zap.Int("peaks", len(req.Peaks)),
		zap.Int("parameters", l.size),
		zap.Int("samples", s.Len()),
		zap.Bool("baseline", req.Baseline.Enabled()))

	sol := &lm.Result{Params: theta, Status: StatusNothingToFit, Converged: true}
	if l.size > 0 {
		var err error
		sol, err = f.solver.Solve(ctx, lm.Problem{
			Model:    c.model,
			Observed: c.y,
			Initial:  theta,
			Bounds:   bounds,
		}, lm.Settings{
			FTol:           req.Tolerance,
			XTol:           req.Tolerance,
			GTol:           req.Tolerance,
			MaxEvaluations: req.MaxEvaluations,
		})
		if err != nil {
			return nil, spectral.WrapError(err, spectral.KindInput, "solver rejected the problem").
				WithOperation("Fit").WithComponent("fit")
		}
	}

	res, err := assemble(s, c, sol)
	if err != nil {
		return nil, err
	}

	f.logger.Info("fit finished",
		zap.String("status", string(res.Status)),
		zap.Bool("converged", res.Converged),
		zap.Int("evaluations", res.Evaluations),
		zap.Float64("r_squared", res.RSquared),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// Fit is shorthand for NewFitter().Fit.
func Fit(ctx context.Context, s spectral.Spectrum, req *Request) (*Result, error) {
	return NewFitter().Fit(ctx, s, req)
}
