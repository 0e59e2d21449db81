package server

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/ARDI/internal/config"
	apperrors "github.com/copyleftdev/ARDI/internal/errors"
	"github.com/copyleftdev/ARDI/internal/logging"
	"github.com/copyleftdev/ARDI/internal/metrics"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{Environment: "test"}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.RequestTimeout = 30 * time.Second
	cfg.HTTP.MaxBodyBytes = 1 << 20

	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"

	cfg.Detection.Lookahead = 1
	cfg.Detection.Delta = 0.5
	cfg.Smoothing.Window = 4
	cfg.Smoothing.Lambda = 1e5
	cfg.Smoothing.P = 0.01
	cfg.Smoothing.MaxIterations = 10
	cfg.Fit.Tolerance = 1e-10
	cfg.Fit.MaxEvaluations = 20000
	cfg.Fit.MaxPeaks = 16
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	require.NoError(t, cfg.Validate())
	return cfg
}

// testRouter returns a router with the server mounted and the server's log.
func testRouter(t *testing.T, cfg *config.Config, opts ...Option) (chi.Router, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := logging.New(logging.DebugLevel, &logs)

	srv := NewServer(cfg, logger, opts...)
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return r, &logs
}

func twoGaussians() (x, y []float64) {
	x = make([]float64, 201)
	y = make([]float64, len(x))
	for i := range x {
		x[i] = float64(i)
		for _, g := range []struct{ c, h float64 }{{100, 10}, {150, 5}} {
			d := x[i] - g.c
			y[i] += g.h * math.Exp(-d*d/(2*9))
		}
	}
	return x, y
}

func post(t *testing.T, r http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out), rr.Body.String())
	return out
}

func TestRegisterRoutes(t *testing.T) {
	r, _ := testRouter(t, testConfig(t), WithMetrics(metrics.New()))

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/peaks", true},
		{"POST", "/api/v1/smooth", true},
		{"POST", "/api/v1/fit", true},
		{"POST", "/api/v1/export/params", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", true},
		{"GET", "/metrics", true},
		{"GET", "/api/v1/status/123", false},
		{"GET", "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			if tt.shouldExist {
				assert.NotEqual(t, http.StatusNotFound, rr.Code)
			} else {
				assert.Equal(t, http.StatusNotFound, rr.Code)
			}
		})
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	r, _ := testRouter(t, cfg, WithMetrics(metrics.New()))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthz(t *testing.T) {
	r, _ := testRouter(t, testConfig(t))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestHandlePeaks(t *testing.T) {
	m := metrics.New()
	r, _ := testRouter(t, testConfig(t), WithMetrics(m))
	x, y := twoGaussians()

	lookahead, delta := 2, 0.1
	rr := post(t, r, "/api/v1/peaks", DetectRequest{X: x, Y: y, Lookahead: &lookahead, Delta: &delta})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	assert.Equal(t, "100,150", body["positions"])
	assert.Equal(t, []interface{}{100.0, 150.0}, body["centers"])
	assert.Equal(t, 10.0, body["scale"])

	// configured delta 0.5 drops the half-height peak
	rr = post(t, r, "/api/v1/peaks", DetectRequest{X: x, Y: y})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "100", decodeBody(t, rr)["positions"])

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), "ardi_peaks_detected_count 2")
}

func TestHandlePeaksInvalid(t *testing.T) {
	m := metrics.New()
	r, _ := testRouter(t, testConfig(t), WithMetrics(m))
	x, y := twoGaussians()

	zero := 0
	rr := post(t, r, "/api/v1/peaks", DetectRequest{X: x, Y: y, Lookahead: &zero})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "InputError", body["kind"])
	assert.Equal(t, "lookahead", body["field"])
	assert.NotContains(t, body, "peak")

	rr = post(t, r, "/api/v1/peaks", `{"x": [1, 2], "y": [1]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = post(t, r, "/api/v1/peaks", `{"x": [1, 2`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "InputError", decodeBody(t, rr)["kind"])

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `ardi_request_errors_total{kind="InputError"} 3`)
}

func TestBodyTooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.MaxBodyBytes = 16
	r, _ := testRouter(t, cfg)
	x, y := twoGaussians()

	rr := post(t, r, "/api/v1/peaks", DetectRequest{X: x, Y: y})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, "RequestTooLarge", decodeBody(t, rr)["kind"])
}

func TestHandleSmooth(t *testing.T) {
	r, _ := testRouter(t, testConfig(t))
	y := []float64{1, 5, 2, 8, 3}

	window := 1
	rr := post(t, r, "/api/v1/smooth", SmoothRequest{Y: y, Method: MethodMovingAverage, Window: &window})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	assert.Equal(t, []interface{}{1.0, 5.0, 2.0, 8.0, 3.0}, body["y"])
	assert.Equal(t, true, body["converged"])

	_, signal := twoGaussians()
	rr = post(t, r, "/api/v1/smooth", SmoothRequest{Y: signal})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body = decodeBody(t, rr)
	assert.Len(t, body["y"], len(signal))
	assert.Greater(t, body["iterations"], 0.0)

	rr = post(t, r, "/api/v1/smooth", SmoothRequest{Y: y, Method: "spline"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "method", decodeBody(t, rr)["field"])

	p := 1.5
	rr = post(t, r, "/api/v1/smooth", SmoothRequest{Y: y, P: &p})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "p", decodeBody(t, rr)["field"])
}

// noBaseline is a request body fragment that disables the baseline term.
var noBaseline = map[string]interface{}{"iterations": 0}

func TestHandleFit(t *testing.T) {
	m := metrics.New()
	r, _ := testRouter(t, testConfig(t), WithMetrics(m))
	x, y := twoGaussians()

	rr := post(t, r, "/api/v1/fit", map[string]interface{}{
		"x": x, "y": y, "positions": "100,150", "baseline": noBaseline,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	assert.Equal(t, "100,150", body["positions"])
	assert.Equal(t, true, body["converged"])
	assert.Greater(t, body["r_squared"], 0.999)

	peaks, ok := body["peaks"].([]interface{})
	require.True(t, ok)
	require.Len(t, peaks, 2)
	first := peaks[0].(map[string]interface{})
	assert.Equal(t, "PseudoVoigt", first["shape"])
	assert.InDelta(t, 100, first["center"], 0.5)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), "ardi_fit_evaluations_count 1")
}

func TestHandleFitPeakSources(t *testing.T) {
	r, _ := testRouter(t, testConfig(t))
	x, y := twoGaussians()

	tests := []struct {
		name      string
		body      map[string]interface{}
		positions string
	}{
		{"explicit peaks", map[string]interface{}{"peaks": []float64{100, 150}}, "100,150"},
		{"detected", map[string]interface{}{"lookahead": 2, "delta": 0.1}, "100,150"},
		{"override centers", map[string]interface{}{"overrides": []map[string]interface{}{{
			"center": 100, "amplitude": 1, "width": 4, "shape": "Gaussian",
			"center_min": 5, "center_max": 5,
			"amplitude_min_scale": 0, "amplitude_max_scale": 1000,
			"width_min_scale": 0.1, "width_max_scale": 10,
		}}}, "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.body["x"], tt.body["y"], tt.body["baseline"] = x, y, noBaseline
			rr := post(t, r, "/api/v1/fit", tt.body)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			assert.Equal(t, tt.positions, decodeBody(t, rr)["positions"])
		})
	}
}

func TestHandleFitRejected(t *testing.T) {
	r, _ := testRouter(t, testConfig(t))
	x, y := twoGaussians()

	tests := []struct {
		name   string
		body   map[string]interface{}
		status int
		kind   string
		field  string
	}{
		{
			name:   "override missing field",
			body:   map[string]interface{}{"overrides": []map[string]interface{}{{"center": 100}}},
			status: http.StatusUnprocessableEntity,
			kind:   "OverrideValidationError",
			field:  "amplitude",
		},
		{
			name: "override count mismatch",
			body: map[string]interface{}{"positions": "100,150", "overrides": []map[string]interface{}{{
				"center": 100, "amplitude": 1, "width": 4, "shape": "Gaussian",
				"center_min": 5, "center_max": 5,
				"amplitude_min_scale": 0, "amplitude_max_scale": 1000,
				"width_min_scale": 0.1, "width_max_scale": 10,
			}}},
			status: http.StatusUnprocessableEntity,
			kind:   "OverrideValidationError",
			field:  "count",
		},
		{
			name:   "amplitude count mismatch",
			body:   map[string]interface{}{"positions": "100,150", "amplitudes": []float64{1}},
			status: http.StatusBadRequest,
			kind:   "InputError",
			field:  "amplitudes",
		},
		{
			name:   "bad tolerance",
			body:   map[string]interface{}{"positions": "100", "tolerance": -1},
			status: http.StatusBadRequest,
			kind:   "InputError",
			field:  "tolerance",
		},
		{
			name:   "too many peaks",
			body:   map[string]interface{}{"positions": "1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,16,17"},
			status: http.StatusBadRequest,
			kind:   "InputError",
			field:  "peaks",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.body["x"], tt.body["y"], tt.body["baseline"] = x, y, noBaseline
			rr := post(t, r, "/api/v1/fit", tt.body)
			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			body := decodeBody(t, rr)
			assert.Equal(t, tt.kind, body["kind"])
			assert.Equal(t, tt.field, body["field"])
		})
	}
}

func TestHandleExport(t *testing.T) {
	r, _ := testRouter(t, testConfig(t))
	x, y := twoGaussians()
	body := map[string]interface{}{"x": x, "y": y, "positions": "100,150", "baseline": noBaseline}

	rr := post(t, r, "/api/v1/export/params", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), `filename="params.csv"`)
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "peak,shape,center,amplitude,sigma,fwhm,height", lines[0])
	assert.True(t, strings.HasPrefix(lines[3], "R-Square,"))

	rr = post(t, r, "/api/v1/export/components?format=parquet", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/vnd.apache.parquet", rr.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rr.Body.Bytes(), []byte("PAR1")))

	rr = post(t, r, "/api/v1/export/residuals", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "table", decodeBody(t, rr)["field"])

	rr = post(t, r, "/api/v1/export/fit?format=xlsx", body)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "format", decodeBody(t, rr)["field"])
}

func TestJSONRPC(t *testing.T) {
	r, _ := testRouter(t, testConfig(t))
	x, y := twoGaussians()

	detect, err := json.Marshal(map[string]interface{}{"x": x, "y": y, "lookahead": 2, "delta": 0.1})
	require.NoError(t, err)

	tests := []struct {
		name      string
		body      string
		errorCode float64
		id        interface{}
	}{
		{"parse error", `{"jsonrpc": "2.0",`, -32700, nil},
		{"wrong version", `{"jsonrpc": "1.0", "id": 1, "method": "spectrum.detect"}`, -32600, 1.0},
		{"missing method", `{"jsonrpc": "2.0", "id": 1}`, -32600, 1.0},
		{"unknown method", `{"jsonrpc": "2.0", "id": "a", "method": "spectrum.calibrate"}`, -32601, "a"},
		{"missing params", `{"jsonrpc": "2.0", "id": 2, "method": "spectrum.detect"}`, -32602, 2.0},
		{"bad params", `{"jsonrpc": "2.0", "id": 3, "method": "spectrum.smooth", "params": {"y": [1, 2], "method": "spline"}}`, -32602, 3.0},
		{"object params", `{"jsonrpc": "2.0", "id": 4, "method": "spectrum.detect", "params": ` + string(detect) + `}`, 0, 4.0},
		{"array params", `{"jsonrpc": "2.0", "id": 5, "method": "spectrum.detect", "params": [` + string(detect) + `]}`, 0, 5.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := post(t, r, "/rpc", tt.body)
			assert.Equal(t, http.StatusOK, rr.Code, "JSON-RPC errors are reported in the body")

			response := decodeBody(t, rr)
			assert.Equal(t, "2.0", response["jsonrpc"])
			assert.Equal(t, tt.id, response["id"])

			if tt.errorCode == 0 {
				result, ok := response["result"].(map[string]interface{})
				require.True(t, ok, "response should contain a result")
				assert.Equal(t, "100,150", result["positions"])
				return
			}
			errObj, ok := response["error"].(map[string]interface{})
			require.True(t, ok, "response should contain error object")
			assert.Equal(t, tt.errorCode, errObj["code"])
		})
	}
}

func TestJSONRPCFit(t *testing.T) {
	r, _ := testRouter(t, testConfig(t))
	x, y := twoGaussians()

	params, err := json.Marshal(map[string]interface{}{
		"x": x, "y": y, "positions": "100,150", "baseline": noBaseline,
	})
	require.NoError(t, err)

	rr := post(t, r, "/rpc", `{"jsonrpc": "2.0", "id": 9, "method": "spectrum.fit", "params": `+string(params)+`}`)
	require.Equal(t, http.StatusOK, rr.Code)
	response := decodeBody(t, rr)
	result, ok := response["result"].(map[string]interface{})
	require.True(t, ok, "%v", response["error"])
	assert.Equal(t, true, result["converged"])
	assert.Len(t, result["peaks"], 2)

	rr = post(t, r, "/rpc", `{"jsonrpc": "2.0", "id": 10, "method": "spectrum.fit", "params": {"x": [1, 2, 3], "y": [1, 2, 1], "overrides": [{"center": "abc"}]}}`)
	response = decodeBody(t, rr)
	errObj := response["error"].(map[string]interface{})
	assert.Equal(t, -32602.0, errObj["code"])
	data := errObj["data"].(map[string]interface{})
	assert.Equal(t, "OverrideValidationError", data["kind"])
	assert.Equal(t, 0.0, data["peak"])
}

func TestRespondWithError(t *testing.T) {
	var logs bytes.Buffer
	srv := NewServer(testConfig(t), logging.New(logging.DebugLevel, &logs))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/export/fit", nil)
	srv.respondWithError(rr, req, apperrors.Wrap(apperrors.New("disk full"), "export failed"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "InternalError", body["kind"])
	assert.Equal(t, "export failed", body["error"])

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(logs.Bytes()), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "Request failed", entry["message"])
	assert.NotEmpty(t, entry["stack"])
}

func TestHandleFitPartialBaseline(t *testing.T) {
	r, _ := testRouter(t, testConfig(t))
	x, y := twoGaussians()
	for i := range y {
		y[i] += 0.02 * x[i]
	}

	rr := post(t, r, "/api/v1/fit", map[string]interface{}{
		"x": x, "y": y, "positions": "100,150", "max_evaluations": 2000,
		"baseline": map[string]interface{}{"lambda": 1e6},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	fitted, ok := body["fitted_baseline"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 1e6, fitted["lambda"])
	assert.Equal(t, 5.0, fitted["iterations"], "omitted fields keep their defaults")
	assert.Equal(t, 0.005, fitted["p"])
	assert.Equal(t, []interface{}{1e4, 5e9}, fitted["lambda_bounds"])

	components, ok := body["components"].([]interface{})
	require.True(t, ok)
	require.Len(t, components, 3)
	assert.Equal(t, "baseline", components[2].(map[string]interface{})["name"])

	rr = post(t, r, "/api/v1/fit", map[string]interface{}{
		"x": x, "y": y, "positions": "100", "baseline": "stiff",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "baseline", decodeBody(t, rr)["field"])

	rr = post(t, r, "/api/v1/fit", map[string]interface{}{
		"x": x, "y": y, "positions": "100", "baseline": map[string]interface{}{"lambda": 1e3},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "baseline.lambda", decodeBody(t, rr)["field"])
}

func TestHandleFitDetectsNoPeaks(t *testing.T) {
	r, _ := testRouter(t, testConfig(t))
	x := []float64{0, 1, 2, 3, 4, 5}
	y := []float64{2, 2, 2, 2, 2, 2}

	rr := post(t, r, "/api/v1/fit", map[string]interface{}{"x": x, "y": y})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	assert.Equal(t, "", body["positions"])
	assert.Equal(t, "nothing_to_fit", body["status"])

	warnings, ok := body["warnings"].([]interface{})
	require.True(t, ok, "detector warnings reach the fit response")
	codes := make([]interface{}, len(warnings))
	for i, w := range warnings {
		codes[i] = w.(map[string]interface{})["code"]
	}
	assert.Contains(t, codes, "no_peaks")
}
