package fit

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/ARDI/internal/spectral"
	"github.com/copyleftdev/ARDI/internal/spectral/lm"
	"github.com/copyleftdev/ARDI/internal/spectral/shapes"
)

// BaselineComponent names the baseline curve in Result.Components.
const BaselineComponent = "baseline"

// Component is one named curve of the fitted model.
type Component struct {
	Name string    `json:"name"`
	Y    []float64 `json:"y"`
}

// PeakMetrics are the fitted parameters of one peak and the quantities
// derived from them. Standard errors are zero when the covariance could
// not be estimated.
type PeakMetrics struct {
	Index           int            `json:"index"`
	Shape           shapes.Shape   `json:"shape"`
	Center          float64        `json:"center"`
	Amplitude       float64        `json:"amplitude"`
	Sigma           float64        `json:"sigma"`
	FWHM            float64        `json:"fwhm"`
	Height          float64        `json:"height"`
	Extras          []shapes.Param `json:"extras,omitempty"`
	CenterStderr    float64        `json:"center_stderr"`
	AmplitudeStderr float64        `json:"amplitude_stderr"`
	WidthStderr     float64        `json:"width_stderr"`
}

// Result is the outcome of a fit. It is a read-only value.
type Result struct {
	Input      spectral.Spectrum `json:"input"`
	Output     spectral.Spectrum `json:"output"`
	Components []Component       `json:"components"`
	Baseline   []float64         `json:"baseline"`
	Peaks      []PeakMetrics     `json:"peaks"`
	RSquared   float64           `json:"r_squared"`

	Converged      bool           `json:"converged"`
	Status         lm.Status      `json:"status"`
	Evaluations    int            `json:"evaluations"`
	Iterations     int            `json:"iterations"`
	Cost           float64        `json:"cost"`
	FittedBaseline BaselineParams `json:"fitted_baseline"`

	Warnings []spectral.Warning `json:"warnings,omitempty"`
}

// Err returns a ConvergenceFailure when the fit did not converge.
func (r *Result) Err() error {
	if r.Converged {
		return nil
	}
	return spectral.NewErrorf(spectral.KindConvergence,
		"optimizer stopped with status %s after %d evaluations", r.Status, r.Evaluations).
		WithOperation("Fit").WithComponent("fit")
}

// Residuals returns y − fitted.
func (r *Result) Residuals() []float64 {
	y, fitted := r.Input.Y(), r.Output.Y()
	out := make([]float64, len(y))
	for i := range y {
		out[i] = y[i] - fitted[i]
	}
	return out
}

// Subtracted returns the input with the fitted baseline removed.
func (r *Result) Subtracted() (spectral.Spectrum, error) {
	return r.Input.Subtract(r.Baseline)
}

// Component returns the named curve.
func (r *Result) Component(name string) ([]float64, bool) {
	for _, c := range r.Components {
		if c.Name == name {
			return c.Y, true
		}
	}
	return nil, false
}

// PeakComponent returns the component name of peak i.
func PeakComponent(i int) string {
	return fmt.Sprintf("peak_%d", i)
}

func assemble(s spectral.Spectrum, c composite, sol *lm.Result) (*Result, error) {
	theta := sol.Params
	n := s.Len()
	req, l := c.req, c.layout

	res := &Result{
		Input:          s,
		Baseline:       make([]float64, n),
		Peaks:          make([]PeakMetrics, len(req.Peaks)),
		Converged:      sol.Converged,
		Status:         sol.Status,
		Evaluations:    sol.Evaluations,
		Iterations:     sol.Iterations,
		Cost:           sol.Cost,
		FittedBaseline: l.baselineParams(req, theta),
	}

	fitted := make([]float64, n)
	for i, p := range req.Peaks {
		params := l.peak(req, theta, i)
		curve := p.Shape.Curve(c.x, params)
		for k := range fitted {
			fitted[k] += curve[k]
		}
		res.Components = append(res.Components, Component{Name: PeakComponent(i), Y: curve})
		res.Peaks[i] = metrics(i, p, params, sol.Stderr, l.offsets[i])
	}

	if req.Baseline.Enabled() {
		bl, err := c.baseline(fitted, theta)
		if err != nil {
			return nil, err
		}
		res.Baseline = bl.Y
		res.Warnings = append(res.Warnings, bl.Warnings...)
		for k := range fitted {
			fitted[k] += bl.Y[k]
		}
		res.Components = append(res.Components, Component{Name: BaselineComponent, Y: bl.Y})
	}

	out, err := s.WithY(fitted)
	if err != nil {
		return nil, spectral.WrapError(err, spectral.KindConvergence, "fitted curve is not finite").
			WithOperation("Fit").WithComponent("fit")
	}
	res.Output = out
	res.RSquared = rSquared(fitted, c.y)

	if !res.Converged {
		res.Warnings = append(res.Warnings, spectral.Warnf(spectral.WarnFitNotConverged,
			"optimizer stopped with status %s", res.Status))
	}
	return res, nil
}

func metrics(i int, p PeakRequest, params shapes.Params, stderr []float64, offset int) PeakMetrics {
	m := PeakMetrics{
		Index:     i,
		Shape:     p.Shape,
		Center:    params.Center,
		Amplitude: params.Amplitude,
		Sigma:     params.Width,
		FWHM:      p.Shape.FWHM(params),
		Height:    p.Shape.Height(params),
	}
	for k, e := range p.Extras {
		m.Extras = append(m.Extras, shapes.Param{Name: e.Name, Value: params.Extras[k], Bounds: e.Bounds})
	}
	if len(stderr) > offset+2 {
		m.CenterStderr = stderr[offset]
		m.AmplitudeStderr = stderr[offset+1]
		m.WidthStderr = stderr[offset+2]
	}
	return m
}

// rSquared is the coefficient of determination. A constant observation
// gives 1 for an exact fit and 0 otherwise.
func rSquared(fitted, observed []float64) float64 {
	mean := stat.Mean(observed, nil)
	var ssTot, ssRes float64
	for i, o := range observed {
		ssTot += (o - mean) * (o - mean)
		ssRes += (o - fitted[i]) * (o - fitted[i])
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return stat.RSquaredFrom(fitted, observed, nil)
}
