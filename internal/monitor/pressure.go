package monitor

// Pressure classifies host load severity. Overall pressure is the more
// severe of the CPU and memory classifications.
type Pressure int

const (
	PressureNormal Pressure = iota
	PressureElevated
	PressureHigh
	PressureCritical
)

var pressureNames = [...]string{"NORMAL", "ELEVATED", "HIGH", "CRITICAL"}

func (p Pressure) String() string {
	if p < 0 || int(p) >= len(pressureNames) {
		return "UNKNOWN"
	}
	return pressureNames[p]
}

// Multiplier maps pressure to the admission throttle factor.
func (p Pressure) Multiplier() float64 {
	switch p {
	case PressureElevated:
		return 0.5
	case PressureHigh:
		return 0.25
	case PressureCritical:
		return 0.0
	default:
		return 1.0
	}
}

// classify buckets a percentage against three ascending thresholds.
func classify(value, elevated, high, critical float64) Pressure {
	switch {
	case value >= critical:
		return PressureCritical
	case value >= high:
		return PressureHigh
	case value >= elevated:
		return PressureElevated
	default:
		return PressureNormal
	}
}

func maxPressure(a, b Pressure) Pressure {
	if b > a {
		return b
	}
	return a
}
