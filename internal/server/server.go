// Package server exposes the deconvolution pipeline over HTTP and
// JSON-RPC 2.0. Every request is independent; the server keeps no state
// between calls.
package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/copyleftdev/ARDI/internal/config"
	apperrors "github.com/copyleftdev/ARDI/internal/errors"
	"github.com/copyleftdev/ARDI/internal/export"
	"github.com/copyleftdev/ARDI/internal/logging"
	"github.com/copyleftdev/ARDI/internal/metrics"
	"github.com/copyleftdev/ARDI/internal/spectral"
	"github.com/copyleftdev/ARDI/internal/spectral/fit"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server implements the HTTP and JSON-RPC surface of the service.
type Server struct {
	cfg     *config.Config
	logger  Logger
	fitter  *fit.Fitter
	metrics *metrics.Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithFitter sets the fitter used for fit and export calls.
func WithFitter(f *fit.Fitter) Option {
	return func(s *Server) {
		if f != nil {
			s.fitter = f
		}
	}
}

// WithMetrics records pipeline metrics in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates a new server instance with the given config and logger
// The logger parameter accepts any type that implements the Logger interface
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		fitter: fit.NewFitter(fit.WithMaxPeaks(cfg.Fit.MaxPeaks)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes mounts the API, the JSON-RPC endpoint, the health check
// and, when metrics are configured, the metrics endpoint.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/peaks", s.handlePeaks)
		r.Post("/smooth", s.handleSmooth)
		r.Post("/fit", s.handleFit)
		r.Post("/export/{table}", s.handleExport)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		r.Handle(s.cfg.Metrics.Path, s.metrics.Handler())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	logging.FromContext(r.Context()).Debug("Health check")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// decode reads a JSON body of at most the configured size into dst.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, s.cfg.HTTP.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if apperrors.As(err, &tooLarge) {
			return err
		}
		return spectral.WrapError(err, spectral.KindInput, "malformed request body").
			WithOperation("decode").WithComponent("server")
	}
	return nil
}

func (s *Server) handlePeaks(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	resp, err := s.detect(&req)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSmooth(w http.ResponseWriter, r *http.Request) {
	var req SmoothRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	resp, err := s.smooth(&req)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	resp, err := s.fit(r.Context(), &req)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, resp)
}

// handleExport fits the body and streams one result table as a file.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	table, err := export.ParseTable(chi.URLParam(r, "table"))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	var req FitRequest
	if err := s.decode(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	resp, err := s.fit(r.Context(), &req)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, table, format, resp.Result); err != nil {
		s.respondWithError(w, r, apperrors.Wrap(err, "export failed").
			WithOperation("export").WithComponent("server"))
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(table, format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// errorBody is the JSON shape of a failed REST call.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Peak  *int   `json:"peak,omitempty"`
	Field string `json:"field,omitempty"`
}

func newErrorBody(err error) errorBody {
	body := errorBody{Error: err.Error(), Kind: apperrors.KindName(err)}
	if e, ok := spectral.AsError(err); ok {
		body.Field = e.Field
		if e.Peak != spectral.NoPeak {
			peak := e.Peak
			body.Peak = &peak
		}
	}
	return body
}

// respondWithError maps err to a status code and writes it as JSON.
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	body := newErrorBody(err)
	s.metrics.ObserveError(body.Kind)

	fields := map[string]interface{}{
		"status": status,
		"kind":   body.Kind,
		"error":  err.Error(),
		"path":   r.URL.Path,
	}
	if status >= http.StatusInternalServerError {
		var traced *apperrors.Error
		if apperrors.As(err, &traced) {
			fields["stack"] = traced.StackTrace()
		}
		s.logger.Error("Request failed", fields)
	} else {
		s.logger.Debug("Request rejected", fields)
	}
	s.respondWithJSON(w, status, body)
}

func (s *Server) respondWithJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
