package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"90s"`
		MaxBodyBytes    int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"33554432"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	// Detection defaults applied when a request omits them.
	Detection struct {
		Lookahead int     `env:"DETECT_LOOKAHEAD" envDefault:"1"`
		Delta     float64 `env:"DETECT_DELTA" envDefault:"0.5"`
	}
	Smoothing struct {
		Window        int     `env:"SMOOTH_WINDOW" envDefault:"4"`
		Lambda        float64 `env:"ALS_LAMBDA" envDefault:"1e5"`
		P             float64 `env:"ALS_P" envDefault:"0.01"`
		MaxIterations int     `env:"ALS_MAX_ITER" envDefault:"10"`
	}
	Fit struct {
		Tolerance      float64 `env:"FIT_TOLERANCE" envDefault:"1e-15"`
		MaxEvaluations int     `env:"FIT_MAX_EVALUATIONS" envDefault:"200000"`
		MaxPeaks       int     `env:"FIT_MAX_PEAKS" envDefault:"256"`
	}
	Metrics struct {
		Enabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
		Path    string `env:"METRICS_PATH" envDefault:"/metrics"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.HTTP.Port <= 0 || c.HTTP.Port > 65535:
		return fmt.Errorf("config: HTTP_PORT must be in 1..65535, got %d", c.HTTP.Port)
	case c.HTTP.MaxBodyBytes <= 0:
		return fmt.Errorf("config: HTTP_MAX_BODY_BYTES must be positive, got %d", c.HTTP.MaxBodyBytes)
	case c.Detection.Lookahead < 1:
		return fmt.Errorf("config: DETECT_LOOKAHEAD must be >= 1, got %d", c.Detection.Lookahead)
	case !(c.Detection.Delta >= 0):
		return fmt.Errorf("config: DETECT_DELTA must be >= 0, got %v", c.Detection.Delta)
	case c.Smoothing.Window < 1:
		return fmt.Errorf("config: SMOOTH_WINDOW must be >= 1, got %d", c.Smoothing.Window)
	case !(c.Smoothing.Lambda > 0):
		return fmt.Errorf("config: ALS_LAMBDA must be positive, got %v", c.Smoothing.Lambda)
	case !(c.Smoothing.P > 0 && c.Smoothing.P < 1):
		return fmt.Errorf("config: ALS_P must be in (0, 1), got %v", c.Smoothing.P)
	case c.Smoothing.MaxIterations < 1:
		return fmt.Errorf("config: ALS_MAX_ITER must be >= 1, got %d", c.Smoothing.MaxIterations)
	case !(c.Fit.Tolerance > 0):
		return fmt.Errorf("config: FIT_TOLERANCE must be positive, got %v", c.Fit.Tolerance)
	case c.Fit.MaxEvaluations < 1:
		return fmt.Errorf("config: FIT_MAX_EVALUATIONS must be >= 1, got %d", c.Fit.MaxEvaluations)
	case c.Fit.MaxPeaks < 1:
		return fmt.Errorf("config: FIT_MAX_PEAKS must be >= 1, got %d", c.Fit.MaxPeaks)
	}
	return nil
}

// GetEnv returns the value of the environment variable or the default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt returns the value of the environment variable as int or the default value
func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := GetEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// GetEnvAsBool returns the value of the environment variable as bool or the default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	valueStr := GetEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
