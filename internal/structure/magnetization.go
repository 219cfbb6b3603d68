package structure

import "math"

// magnetizationThreshold measures the accepted deviation from an integer
// total magnetization. The fixed-occupation run requires an integer value.
const magnetizationThreshold = 0.4

// PinTotalMagnetization rounds the raw total magnetization to its nearest
// integer and reports whether the raw value was close enough to it. A false
// return is a numeric-policy violation, not an external-tool failure.
func PinTotalMagnetization(raw float64) (pinned int, ok bool) {
	rounded := math.Round(raw)
	return int(rounded), math.Abs(raw-rounded) < magnetizationThreshold
}
