package peaks

import (
	"math"
	"strconv"
	"strings"
)

// FormatPositions renders centers as an editable comma-separated list of
// rounded integers, e.g. "100,150". Halves round to even.
func FormatPositions(centers []float64) string {
	parts := make([]string, len(centers))
	for i, c := range centers {
		parts[i] = strconv.FormatFloat(math.RoundToEven(c), 'f', 0, 64)
	}
	return strings.Join(parts, ",")
}

// ParsePositions reads a comma-separated list of non-negative integers.
// Tokens that are not plain digit strings after trimming are skipped.
func ParsePositions(s string) []float64 {
	var out []float64
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" || strings.TrimLeft(tok, "0123456789") != "" {
			continue
		}
		v, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, float64(v))
	}
	return out
}
