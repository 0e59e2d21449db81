package spectral

import "fmt"

// WarningCode identifies a non-fatal pipeline condition.
type WarningCode string

const (
	WarnNoPeaks              WarningCode = "no_peaks"
	WarnBaselineNotConverged WarningCode = "baseline_not_converged"
	WarnFitNotConverged      WarningCode = "fit_not_converged"
)

// Warning is a caller-visible flag attached to a usable result.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// Warnf builds a warning with a formatted message.
func Warnf(code WarningCode, format string, args ...interface{}) Warning {
	return Warning{Code: code, Message: fmt.Sprintf(format, args...)}
}

// HasWarning reports whether ws contains code.
func HasWarning(ws []Warning, code WarningCode) bool {
	for _, w := range ws {
		if w.Code == code {
			return true
		}
	}
	return false
}
