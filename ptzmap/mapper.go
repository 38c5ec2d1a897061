package ptzmap

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"go.viam.com/rdk/logging"

	"github.com/viam-modules/thinginoonvif/onvif/device"
	"github.com/viam-modules/thinginoonvif/onvif/ptz"
	"github.com/viam-modules/thinginoonvif/onvif/xsd"
)

// Mode is the kind of move.
type Mode string

// Move modes, named after the ONVIF operation they issue.
const (
	Continuous Mode = "ContinuousMove"
	Relative   Mode = "RelativeMove"
	Absolute   Mode = "AbsoluteMove"
	GotoPreset Mode = "GotoPreset"
	Stop       Mode = "Stop"
)

// ParseMode accepts the operation name or its short lowercase form ("relative", "stop", ...).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "continuousmove", "continuous":
		return Continuous, nil
	case "relativemove", "relative", "":
		return Relative, nil
	case "absolutemove", "absolute":
		return Absolute, nil
	case "gotopreset", "preset":
		return GotoPreset, nil
	case "stop":
		return Stop, nil
	default:
		return "", fmt.Errorf("unknown move mode %q", s)
	}
}

// Directions.
const (
	Left    = "LEFT"
	Right   = "RIGHT"
	Up      = "UP"
	Down    = "DOWN"
	ZoomIn  = "ZOOM_IN"
	ZoomOut = "ZOOM_OUT"
)

var (
	panFactor  = map[string]float64{Right: 1, Left: -1}
	tiltFactor = map[string]float64{Up: 1, Down: -1}
	zoomFactor = map[string]float64{ZoomIn: 1, ZoomOut: -1}
)

// Mapping modes reported by LastMapping.
const (
	MappingGeneric        = "generic"
	MappingDeviceRelative = "device_relative"
	MappingDeviceAbsolute = "device_absolute"
	MappingDeviceAbsSteps = "device_absolute_steps"
)

// Support is what a profile's PTZ configuration advertises.
type Support struct {
	Continuous bool
	Relative   bool
	Absolute   bool
}

// Target is everything the mapper needs to know about the profile being moved.
type Target struct {
	ProfileToken string
	// Support is nil when the profile carries no PTZ configuration.
	Support *Support
	// Presets is nil when the preset list is unknown.
	Presets []string
	// Limits is nil when the profile reported no limits.
	Limits *Limits
	// DeviceMode enables mapping normalized values onto step ranges.
	DeviceMode bool
	// Tolerant turns unsupported sub-mode and unknown preset rejections into warnings.
	Tolerant bool
}

func (t Target) stepMapping() bool {
	return t.DeviceMode && t.Limits != nil
}

// Request is a uniform move request. Empty direction strings leave that axis out.
type Request struct {
	Mode     Mode
	Pan      string
	Tilt     string
	Zoom     string
	Distance float64
	Speed    *float64
	// Duration is how long a continuous move runs before it is stopped.
	Duration time.Duration
	Preset   string
}

// Validate checks the direction strings.
func (r Request) Validate() error {
	if _, ok := panFactor[r.Pan]; r.Pan != "" && !ok {
		return fmt.Errorf("pan must be %s or %s, got %q", Left, Right, r.Pan)
	}
	if _, ok := tiltFactor[r.Tilt]; r.Tilt != "" && !ok {
		return fmt.Errorf("tilt must be %s or %s, got %q", Up, Down, r.Tilt)
	}
	if _, ok := zoomFactor[r.Zoom]; r.Zoom != "" && !ok {
		return fmt.Errorf("zoom must be %s or %s, got %q", ZoomIn, ZoomOut, r.Zoom)
	}
	return nil
}

// StepsRequest is an absolute move in raw device steps.
type StepsRequest struct {
	Pan   float64
	Tilt  float64
	Zoom  *float64
	Speed *float64
}

// Outcome says what happened to a request. Device faults never surface as errors.
type Outcome string

// Outcomes.
const (
	Sent     Outcome = "sent"
	Rejected Outcome = "rejected"
	Absorbed Outcome = "absorbed"
)

// Caller sends one PTZ request to the device.
type Caller interface {
	CallPTZ(ctx context.Context, label string, req interface{}) error
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, label string, req interface{}) error

// CallPTZ calls f.
func (f CallerFunc) CallPTZ(ctx context.Context, label string, req interface{}) error {
	return f(ctx, label, req)
}

// Mapper translates and sends move requests.
type Mapper struct {
	caller Caller
	logger logging.Logger
	sleep  func(time.Duration)

	mu          sync.Mutex
	lastMapping string
}

// NewMapper returns a Mapper sending through caller.
func NewMapper(caller Caller, logger logging.Logger) *Mapper {
	return &Mapper{caller: caller, logger: logger, sleep: time.Sleep}
}

// LastMapping is the coordinate mapping used by the most recent relative or absolute move.
func (m *Mapper) LastMapping() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMapping
}

func (m *Mapper) setMapping(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastMapping = s
}

// Perform sends r. It only returns an error for a malformed request; device failures are
// logged and reported through the Outcome. A continuous move blocks for r.Duration and is
// always followed by a stop, even when ctx is cancelled during the wait.
func (m *Mapper) Perform(ctx context.Context, t Target, r Request) (Outcome, error) {
	mode, err := ParseMode(string(r.Mode))
	if err != nil {
		return Rejected, err
	}
	r.Mode = mode
	if err := r.Validate(); err != nil {
		return Rejected, err
	}
	if !m.supported(t, r.Mode) {
		return Rejected, nil
	}

	switch r.Mode {
	case Continuous:
		move, stop := BuildContinuous(t, r)
		if err := m.caller.CallPTZ(ctx, string(Continuous), move); err != nil {
			return m.absorb(err), nil
		}
		m.sleep(r.Duration)
		if err := m.caller.CallPTZ(context.WithoutCancel(ctx), string(Stop), stop); err != nil {
			return m.absorb(err), nil
		}
		return Sent, nil
	case Relative:
		req, mapping := BuildRelative(t, r)
		m.setMapping(mapping)
		return m.send(ctx, Relative, req), nil
	case Absolute:
		req, mapping := BuildAbsolute(t, r)
		m.setMapping(mapping)
		return m.send(ctx, Absolute, req), nil
	case GotoPreset:
		if t.Presets != nil && !slices.Contains(t.Presets, r.Preset) {
			if !t.Tolerant {
				m.logger.Warnf("PTZ preset %q does not exist. Available presets: %s", r.Preset, strings.Join(t.Presets, ", "))
				return Rejected, nil
			}
			m.logger.Debugf("PTZ preset %q not in reported list; attempting in tolerant PTZ mode", r.Preset)
		}
		req := ptz.GotoPreset{ProfileToken: xsd.ReferenceToken(t.ProfileToken), PresetToken: xsd.ReferenceToken(r.Preset)}
		if r.Speed != nil {
			req.Speed = xsd.UniformSpeed(*r.Speed)
		}
		return m.send(ctx, GotoPreset, req), nil
	case Stop:
		return m.send(ctx, Stop, ptz.Stop{ProfileToken: xsd.ReferenceToken(t.ProfileToken)}), nil
	}
	return Rejected, fmt.Errorf("unknown move mode %q", r.Mode)
}

// AbsoluteSteps sends an absolute move whose values are already device steps. They are
// rounded and clamped to the known limits.
func (m *Mapper) AbsoluteSteps(ctx context.Context, t Target, r StepsRequest) Outcome {
	if !m.supported(t, Absolute) {
		return Rejected
	}
	m.setMapping(MappingDeviceAbsSteps)
	return m.send(ctx, Absolute, BuildAbsoluteSteps(t, r))
}

func (m *Mapper) supported(t Target, mode Mode) bool {
	if t.Support == nil {
		return true
	}
	var ok bool
	switch mode {
	case Continuous:
		ok = t.Support.Continuous
	case Relative:
		ok = t.Support.Relative
	case Absolute:
		ok = t.Support.Absolute
	default:
		return true
	}
	if ok {
		return true
	}
	if !t.Tolerant {
		m.logger.Warnf("%s not supported by profile %s", mode, t.ProfileToken)
		return false
	}
	m.logger.Debugf("%s not advertised by profile %s; attempting in tolerant PTZ mode", mode, t.ProfileToken)
	return true
}

func (m *Mapper) send(ctx context.Context, mode Mode, req interface{}) Outcome {
	if err := m.caller.CallPTZ(ctx, string(mode), req); err != nil {
		return m.absorb(err)
	}
	return Sent
}

func (m *Mapper) absorb(err error) Outcome {
	switch {
	case device.IsInvalidPosition(err):
		m.logger.Debugf("PTZ request rejected with Invalid position: %v", err)
	case device.IsBadRequest(err):
		m.logger.Warnf("device doesn't support PTZ: %v", err)
	default:
		m.logger.Errorf("error trying to perform PTZ action: %v", err)
	}
	return Absorbed
}

// BuildContinuous returns the move and the stop that ends it.
func BuildContinuous(t Target, r Request) (ptz.ContinuousMove, ptz.Stop) {
	token := xsd.ReferenceToken(t.ProfileToken)
	move := ptz.ContinuousMove{ProfileToken: token}
	if r.Pan != "" || r.Tilt != "" {
		move.Velocity.PanTilt = &xsd.Vector2D{
			X: r.Distance * panFactor[r.Pan],
			Y: r.Distance * tiltFactor[r.Tilt],
		}
	}
	if r.Zoom != "" {
		move.Velocity.Zoom = &xsd.Vector1D{X: r.Distance * zoomFactor[r.Zoom]}
	}
	panTilt := true
	zoom := r.Zoom != ""
	return move, ptz.Stop{ProfileToken: token, PanTilt: &panTilt, Zoom: &zoom}
}

// BuildRelative returns the RelativeMove for r and the mapping it used.
func BuildRelative(t Target, r Request) (ptz.RelativeMove, string) {
	pan := r.Distance * panFactor[r.Pan]
	tilt := r.Distance * tiltFactor[r.Tilt]
	zoomVal := r.Distance * zoomFactor[r.Zoom]
	withZoom := r.Zoom != ""
	mapping := MappingGeneric

	if t.stepMapping() {
		mapping = MappingDeviceRelative
		if r.Pan != "" {
			pan = MapRelative(pan, t.Limits.Pan)
		} else {
			pan = 0
		}
		if r.Tilt != "" {
			tilt = MapRelative(tilt, t.Limits.Tilt)
		} else {
			tilt = 0
		}
		if withZoom && zoomUnsupported(t.Limits) {
			withZoom = false
		}
	}

	req := ptz.RelativeMove{
		ProfileToken: xsd.ReferenceToken(t.ProfileToken),
		Translation:  xsd.PTZVector{PanTilt: &xsd.Vector2D{X: pan, Y: tilt}},
	}
	if withZoom {
		req.Translation.Zoom = &xsd.Vector1D{X: zoomVal}
	}
	if r.Speed != nil {
		req.Speed = xsd.UniformSpeed(*r.Speed)
	}
	return req, mapping
}

// BuildAbsolute returns the AbsoluteMove for r and the mapping it used.
func BuildAbsolute(t Target, r Request) (ptz.AbsoluteMove, string) {
	pan := r.Distance * panFactor[r.Pan]
	tilt := r.Distance * tiltFactor[r.Tilt]
	zoomVal := r.Distance * zoomFactor[r.Zoom]
	withZoom := r.Zoom != ""
	mapping := MappingGeneric

	if t.stepMapping() {
		mapping = MappingDeviceAbsolute
		pan = MapAbsolute(pan, t.Limits.Pan)
		tilt = MapAbsolute(tilt, t.Limits.Tilt)
		if withZoom && zoomUnsupported(t.Limits) {
			withZoom = false
		}
	}

	req := ptz.AbsoluteMove{
		ProfileToken: xsd.ReferenceToken(t.ProfileToken),
		Position:     xsd.PTZVector{PanTilt: &xsd.Vector2D{X: pan, Y: tilt}},
	}
	if withZoom {
		req.Position.Zoom = &xsd.Vector1D{X: zoomVal}
	}
	if r.Speed != nil {
		req.Speed = xsd.UniformSpeed(*r.Speed)
	}
	return req, mapping
}

// BuildAbsoluteSteps returns the AbsoluteMove for raw step values.
func BuildAbsoluteSteps(t Target, r StepsRequest) ptz.AbsoluteMove {
	var limits Limits
	if t.Limits != nil {
		limits = *t.Limits
	}
	req := ptz.AbsoluteMove{
		ProfileToken: xsd.ReferenceToken(t.ProfileToken),
		Position: xsd.PTZVector{PanTilt: &xsd.Vector2D{
			X: Clamp(math.Round(r.Pan), limits.Pan),
			Y: Clamp(math.Round(r.Tilt), limits.Tilt),
		}},
	}
	if r.Zoom != nil && !zoomUnsupported(t.Limits) {
		req.Position.Zoom = &xsd.Vector1D{X: Clamp(math.Round(*r.Zoom), limits.Zoom)}
	}
	if r.Speed != nil {
		req.Speed = xsd.UniformSpeed(*r.Speed)
	}
	return req
}
