package utils

import (
	"fmt"
	"math"
)

// ConvertBytesToHumanReadable converts a given number of bytes into a human-readable format (e.g., KB, MB, GB).
func ConvertBytesToHumanReadable(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}

	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	exp := int64(math.Log(float64(bytes)) / math.Log(unit))
	pre := "KMGTPE"[exp-1]
	return fmt.Sprintf("%.1f %cB", float64(bytes)/math.Pow(unit, float64(exp)), pre)
}

// speedUnits is deliberately just B/KB/MB/GB: task speed strings never need
// to describe a TB/s transfer, and a fixed 4-unit set is what the smoothed
// progress display requires.
var speedUnits = [...]string{"B", "KB", "MB", "GB"}

// FormatSpeed renders a bytes-per-second rate as e.g. "1.3 MB/s", choosing
// the largest unit whose scaled value is >= 1 (falling back to B/s for
// anything under 1024 B/s, including zero or negative rates).
func FormatSpeed(bytesPerSec float64) string {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}

	value := bytesPerSec
	unit := 0
	for value >= 1024 && unit < len(speedUnits)-1 {
		value /= 1024
		unit++
	}

	return fmt.Sprintf("%.1f %s/s", value, speedUnits[unit])
}
