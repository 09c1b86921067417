package core

import (
	"math"
	"strings"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// Round2 rounds x to 2 decimal places, half away from zero (scale by 100, round, divide by 100).
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
