package progress

import (
	"fmt"
	"math"
)

// FormatDuration renders a duration in seconds for display: whole seconds
// under a minute, "Xm Ys" above.
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(math.Round(seconds))
	if total < 60 {
		return fmt.Sprintf("%ds", total)
	}
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}

// FormatSpeed renders a throughput for display. Rates at or above 1000
// units/s collapse to one decimal with a k suffix.
func FormatSpeed(unitsPerSecond float64) string {
	if unitsPerSecond < 0 {
		unitsPerSecond = 0
	}
	if unitsPerSecond >= 1000 {
		return fmt.Sprintf("%.1fk units/s", unitsPerSecond/1000)
	}
	return fmt.Sprintf("%d units/s", int64(math.Round(unitsPerSecond)))
}
