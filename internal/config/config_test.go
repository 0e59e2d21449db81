package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 120*time.Second, cfg.HTTP.WriteTimeout)
	assert.Equal(t, 90*time.Second, cfg.HTTP.RequestTimeout)
	assert.Equal(t, int64(32<<20), cfg.HTTP.MaxBodyBytes)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 1, cfg.Detection.Lookahead)
	assert.Equal(t, 0.5, cfg.Detection.Delta)
	assert.Equal(t, 4, cfg.Smoothing.Window)
	assert.Equal(t, 1e5, cfg.Smoothing.Lambda)
	assert.Equal(t, 0.01, cfg.Smoothing.P)
	assert.Equal(t, 10, cfg.Smoothing.MaxIterations)
	assert.Equal(t, 1e-15, cfg.Fit.Tolerance)
	assert.Equal(t, 200000, cfg.Fit.MaxEvaluations)
	assert.Equal(t, 256, cfg.Fit.MaxPeaks)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("DETECT_DELTA", "0.1")
	t.Setenv("FIT_MAX_EVALUATIONS", "5000")
	t.Setenv("METRICS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 0.1, cfg.Detection.Delta)
	assert.Equal(t, 5000, cfg.Fit.MaxEvaluations)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"HTTP_PORT", "0"},
		{"DETECT_LOOKAHEAD", "0"},
		{"DETECT_DELTA", "-0.5"},
		{"ALS_P", "1"},
		{"ALS_LAMBDA", "0"},
		{"FIT_TOLERANCE", "0"},
		{"FIT_MAX_EVALUATIONS", "0"},
		{"SMOOTH_WINDOW", "0"},
		{"HTTP_PORT", "not-a-number"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("ARDI_TEST_INT", "42")
	t.Setenv("ARDI_TEST_BOOL", "true")

	assert.Equal(t, "fallback", GetEnv("ARDI_TEST_MISSING", "fallback"))
	assert.Equal(t, 42, GetEnvAsInt("ARDI_TEST_INT", 1))
	assert.Equal(t, 7, GetEnvAsInt("ARDI_TEST_MISSING", 7))
	assert.True(t, GetEnvAsBool("ARDI_TEST_BOOL", false))
}
