package cli

import "fmt"

// FormatDuration formats milliseconds to human readable string
func FormatDuration(ms int) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	secs := float64(ms) / 1000
	if secs < 60 {
		return fmt.Sprintf("%.1fs", secs)
	}
	mins := int(secs / 60)
	secs = secs - float64(mins*60)
	return fmt.Sprintf("%dm%.1fs", mins, secs)
}

// FormatRate formats token throughput as tokens per second
func FormatRate(tokens, ms int) string {
	if ms <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.1f tok/s", float64(tokens)*1000/float64(ms))
}
