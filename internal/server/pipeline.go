package server

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/copyleftdev/ARDI/internal/spectral"
	"github.com/copyleftdev/ARDI/internal/spectral/baseline"
	"github.com/copyleftdev/ARDI/internal/spectral/fit"
	"github.com/copyleftdev/ARDI/internal/spectral/peaks"
)

// DetectRequest is the body of a peak detection call. Missing parameters
// fall back to the configured defaults.
type DetectRequest struct {
	X         []float64 `json:"x"`
	Y         []float64 `json:"y"`
	Lookahead *int      `json:"lookahead,omitempty"`
	Delta     *float64  `json:"delta,omitempty"`
}

// DetectResponse is a peak set plus its editable position list.
type DetectResponse struct {
	spectral.PeakSet
	Positions string `json:"positions"`
}

// SmoothRequest is the body of a smoothing call.
type SmoothRequest struct {
	Y             []float64 `json:"y"`
	Method        string    `json:"method,omitempty"`
	Window        *int      `json:"window,omitempty"`
	Lambda        *float64  `json:"lambda,omitempty"`
	P             *float64  `json:"p,omitempty"`
	MaxIterations *int      `json:"max_iterations,omitempty"`
}

// Smoothing methods.
const (
	MethodALS           = "als"
	MethodMovingAverage = "moving_average"
)

// FitRequest is the body of a fit or export call. Peaks are taken from
// the first of Peaks, Positions or the override centers that is given;
// without any of them they are detected. Baseline fields that are left
// out keep their defaults.
type FitRequest struct {
	X              []float64         `json:"x"`
	Y              []float64         `json:"y"`
	Peaks          []float64         `json:"peaks,omitempty"`
	Positions      string            `json:"positions,omitempty"`
	Amplitudes     []float64         `json:"amplitudes,omitempty"`
	Lookahead      *int              `json:"lookahead,omitempty"`
	Delta          *float64          `json:"delta,omitempty"`
	Overrides      []json.RawMessage `json:"overrides,omitempty"`
	Tolerance      *float64          `json:"tolerance,omitempty"`
	MaxEvaluations *int              `json:"max_evaluations,omitempty"`
	Baseline       json.RawMessage   `json:"baseline,omitempty"`
}

// FitResponse is a fit result plus the position list it was built from.
type FitResponse struct {
	*fit.Result
	Positions string `json:"positions"`
}

func (s *Server) detect(req *DetectRequest) (*DetectResponse, error) {
	lookahead, delta := s.cfg.Detection.Lookahead, s.cfg.Detection.Delta
	if req.Lookahead != nil {
		lookahead = *req.Lookahead
	}
	if req.Delta != nil {
		delta = *req.Delta
	}

	set, err := peaks.Detect(req.X, req.Y, lookahead, delta)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveDetect(set.Len())
	return &DetectResponse{PeakSet: set, Positions: peaks.FormatPositions(set.Centers)}, nil
}

func (s *Server) smooth(req *SmoothRequest) (*baseline.Baseline, error) {
	switch strings.ToLower(req.Method) {
	case MethodMovingAverage:
		window := s.cfg.Smoothing.Window
		if req.Window != nil {
			window = *req.Window
		}
		y, err := baseline.MovingAverage(req.Y, window)
		if err != nil {
			return nil, err
		}
		return &baseline.Baseline{Y: y, Iterations: 1, Converged: true}, nil
	case "", MethodALS:
		est := &baseline.ALSEstimator{
			Lambda:        s.cfg.Smoothing.Lambda,
			P:             s.cfg.Smoothing.P,
			MaxIterations: s.cfg.Smoothing.MaxIterations,
		}
		if req.Lambda != nil {
			est.Lambda = *req.Lambda
		}
		if req.P != nil {
			est.P = *req.P
		}
		if req.MaxIterations != nil {
			est.MaxIterations = *req.MaxIterations
		}
		bl, err := est.Estimate(req.Y)
		if err != nil {
			return nil, err
		}
		return &bl, nil
	default:
		return nil, spectral.InputErrorf("unknown smoothing method %q", req.Method).
			WithField("method").WithOperation("smooth").WithComponent("server")
	}
}

// peakSet resolves the peaks a fit is built for.
func (s *Server) peakSet(req *FitRequest, overrides []fit.Override) (spectral.PeakSet, error) {
	var set spectral.PeakSet
	switch {
	case len(req.Peaks) > 0:
		set = spectral.PeakSetFromPositions(req.Peaks)
	case strings.TrimSpace(req.Positions) != "":
		set = spectral.PeakSetFromPositions(peaks.ParsePositions(req.Positions))
	case len(overrides) > 0:
		centers := make([]float64, len(overrides))
		for i, o := range overrides {
			centers[i] = o.Center
		}
		set = spectral.PeakSetFromPositions(centers)
	default:
		detected, err := s.detect(&DetectRequest{X: req.X, Y: req.Y, Lookahead: req.Lookahead, Delta: req.Delta})
		if err != nil {
			return spectral.PeakSet{}, err
		}
		return detected.PeakSet, nil
	}

	if len(req.Amplitudes) > 0 {
		if len(req.Amplitudes) != set.Len() {
			return spectral.PeakSet{}, spectral.InputErrorf("%d amplitudes for %d peaks", len(req.Amplitudes), set.Len()).
				WithField("amplitudes").WithOperation("peakSet").WithComponent("server")
		}
		set.Amplitudes = append([]float64(nil), req.Amplitudes...)
	}
	return set, nil
}

func (s *Server) fit(ctx context.Context, req *FitRequest) (*FitResponse, error) {
	spec, err := spectral.NewSpectrum(req.X, req.Y)
	if err != nil {
		return nil, err
	}
	overrides, err := fit.DecodeOverrides(req.Overrides)
	if err != nil {
		return nil, err
	}
	set, err := s.peakSet(req, overrides)
	if err != nil {
		return nil, err
	}

	b := fit.NewBuilder()
	b.Tolerance = s.cfg.Fit.Tolerance
	b.MaxEvaluations = s.cfg.Fit.MaxEvaluations
	if req.Tolerance != nil {
		b.Tolerance = *req.Tolerance
	}
	if req.MaxEvaluations != nil {
		b.MaxEvaluations = *req.MaxEvaluations
	}
	if len(req.Baseline) > 0 {
		bp := fit.DefaultBaselineParams()
		if err := json.Unmarshal(req.Baseline, &bp); err != nil {
			return nil, spectral.WrapError(err, spectral.KindInput, "invalid baseline parameters").
				WithField("baseline").WithOperation("fit").WithComponent("server")
		}
		b.Baseline = bp
	}

	fr, err := b.Build(set, overrides)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := s.fitter.Fit(ctx, spec, fr)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveFit(string(res.Status), res.Evaluations, time.Since(start))
	if len(set.Warnings) > 0 {
		res.Warnings = append(append([]spectral.Warning(nil), set.Warnings...), res.Warnings...)
	}
	if !res.Converged {
		s.logger.Warn("Fit did not converge", map[string]interface{}{
			"status":      string(res.Status),
			"evaluations": res.Evaluations,
		})
	}
	return &FitResponse{Result: res, Positions: peaks.FormatPositions(set.Centers)}, nil
}
