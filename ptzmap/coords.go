// Package ptzmap translates direction based PTZ requests into ONVIF PTZ requests, mapping
// normalized values onto the step ranges reported by firmware that does not use the generic
// [-1, 1] spaces.
package ptzmap

import "math"

// normalizedTolerance widens [-1, 1] so float noise from callers still counts as normalized.
const normalizedTolerance = 1.001

// Range is one axis of the limits a profile reports. Nil bounds are unknown, not zero.
type Range struct {
	Min *float64
	Max *float64
}

// NewRange is a convenience for a fully known range.
func NewRange(lo, hi float64) Range {
	return Range{Min: &lo, Max: &hi}
}

// Known is true when both bounds were reported.
func (r Range) Known() bool {
	return r.Min != nil && r.Max != nil
}

// Limits are the per axis ranges of a profile's PTZ configuration.
type Limits struct {
	Pan  Range
	Tilt Range
	Zoom Range
}

// WideStepRange is true when any axis has a non-negative minimum and a maximum of at least 10.
// Generic spaces stay within [-1, 1], so such a range is raw motor steps.
func (l Limits) WideStepRange() bool {
	for _, r := range []Range{l.Pan, l.Tilt, l.Zoom} {
		if r.Known() && *r.Min >= 0 && *r.Max >= 10 {
			return true
		}
	}
	return false
}

// IsNormalized reports whether v is in the generic [-1, 1] space.
func IsNormalized(v float64) bool {
	return v >= -normalizedTolerance && v <= normalizedTolerance
}

// MaxStep is the largest single relative move an axis allows.
func MaxStep(r Range) (float64, bool) {
	if !r.Known() {
		return 0, false
	}
	lo, hi := *r.Min, *r.Max
	return math.Max(math.Abs(lo), math.Max(math.Abs(hi), math.Abs(hi-lo))), true
}

// Clamp limits v to whichever bounds of r are known.
func Clamp(v float64, r Range) float64 {
	if r.Min != nil && v < *r.Min {
		v = *r.Min
	}
	if r.Max != nil && v > *r.Max {
		v = *r.Max
	}
	return v
}

// MapRelative converts a relative move value to steps. Normalized values are scaled by the axis'
// max step, other values are taken as steps. A nonzero value never maps to zero steps. An axis
// without known limits passes v through.
func MapRelative(v float64, r Range) float64 {
	maxStep, ok := MaxStep(r)
	if !ok {
		return v
	}
	var steps float64
	if IsNormalized(v) {
		steps = math.Round(v * maxStep)
	} else {
		steps = math.Round(v)
	}
	if steps == 0 && v != 0 {
		steps = math.Copysign(1, v)
	}
	return math.Max(-maxStep, math.Min(maxStep, steps))
}

// MapAbsolute converts an absolute position to steps within r. Normalized values are spread
// linearly over the range: [0, 1] when the range starts at or above zero, [-1, 1] otherwise.
// Other values are rounded and clamped. An axis without known limits passes v through.
func MapAbsolute(v float64, r Range) float64 {
	if !r.Known() {
		return v
	}
	lo, hi := *r.Min, *r.Max
	var steps float64
	if IsNormalized(v) {
		var unit float64
		if lo >= 0 {
			unit = math.Max(0, math.Min(1, v))
		} else {
			unit = (math.Max(-1, math.Min(1, v)) + 1) / 2
		}
		steps = math.Round(lo + unit*(hi-lo))
	} else {
		steps = math.Round(v)
	}
	return Clamp(steps, r)
}

// zoomUnsupported is true when the device reports a zoom range whose maximum is zero.
func zoomUnsupported(l *Limits) bool {
	return l != nil && l.Zoom.Max != nil && *l.Zoom.Max == 0
}
