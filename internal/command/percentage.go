package command

import "math"

// Dim bounds in percent. Devices do not dim below minDimPercent.
const (
	minDimPercent = 10
	maxPercent    = 100
)

// Percentage converts a unit fraction to a switch percentage: rounded,
// clamped to [0,100], with values in (0,10) raised to the hardware floor
// of 10. Exactly 10 is left as is.
func Percentage(fraction float64) int {
	if math.IsNaN(fraction) {
		return 0
	}
	pct := int(math.Round(math.Max(0, math.Min(1, fraction)) * maxPercent))
	if pct > 0 && pct < minDimPercent {
		return minDimPercent
	}
	return pct
}
