package utils

import (
	"fmt"
	"math"
)

// ConvertBytesToHumanReadable converts a byte count into a human-readable
// string (e.g. "1.5 MB").
func ConvertBytesToHumanReadable(n int64) string {
	if n == 0 {
		return "0 B"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	exp := int64(math.Log(float64(n)) / math.Log(unit))
	pre := "KMGTPE"[exp-1]
	return fmt.Sprintf("%.1f %cB", float64(n)/math.Pow(unit, float64(exp)), pre)
}

// FormatDuration renders seconds as a short human string, e.g. "1h 3m".
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		return "unknown"
	}
	if seconds < 60 {
		return fmt.Sprintf("%.0fs", seconds)
	}
	if seconds < 3600 {
		m := math.Floor(seconds / 60)
		s := seconds - m*60
		return fmt.Sprintf("%.0fm %.0fs", m, s)
	}
	h := math.Floor(seconds / 3600)
	m := math.Floor((seconds - h*3600) / 60)
	return fmt.Sprintf("%.0fh %.0fm", h, m)
}
