// Package xsd holds the handful of ONVIF schema (tt:) types shared by the
// request types of the device, media and ptz services.
package xsd

// ReferenceToken is an ONVIF token referencing a profile, preset, relay or source.
type ReferenceToken string

// Space URIs for the generic PTZ coordinate spaces.
const (
	AbsolutePanTiltPositionGenericSpace    = "http://www.onvif.org/ver10/tptz/PanTiltSpaces/PositionGenericSpace"
	AbsoluteZoomPositionGenericSpace       = "http://www.onvif.org/ver10/tptz/ZoomSpaces/PositionGenericSpace"
	RelativePanTiltTranslationGenericSpace = "http://www.onvif.org/ver10/tptz/PanTiltSpaces/TranslationGenericSpace"
	RelativeZoomTranslationGenericSpace    = "http://www.onvif.org/ver10/tptz/ZoomSpaces/TranslationGenericSpace"
	ContinuousPanTiltVelocityGenericSpace  = "http://www.onvif.org/ver10/tptz/PanTiltSpaces/VelocityGenericSpace"
	ContinuousZoomVelocityGenericSpace     = "http://www.onvif.org/ver10/tptz/ZoomSpaces/VelocityGenericSpace"
)

// Vector2D is a pan/tilt pair.
type Vector2D struct {
	X     float64 `xml:"x,attr"`
	Y     float64 `xml:"y,attr"`
	Space string  `xml:"space,attr,omitempty"`
}

// Vector1D is a zoom value.
type Vector1D struct {
	X     float64 `xml:"x,attr"`
	Space string  `xml:"space,attr,omitempty"`
}

// PTZVector is a position or translation. Nil members are omitted from the request.
type PTZVector struct {
	PanTilt *Vector2D `xml:"tt:PanTilt,omitempty"`
	Zoom    *Vector1D `xml:"tt:Zoom,omitempty"`
}

// PTZSpeed is a velocity or speed. Nil members are omitted from the request.
type PTZSpeed struct {
	PanTilt *Vector2D `xml:"tt:PanTilt,omitempty"`
	Zoom    *Vector1D `xml:"tt:Zoom,omitempty"`
}

// UniformSpeed broadcasts one speed value to pan, tilt and zoom.
func UniformSpeed(speed float64) *PTZSpeed {
	return &PTZSpeed{
		PanTilt: &Vector2D{X: speed, Y: speed},
		Zoom:    &Vector1D{X: speed},
	}
}

// Transport is the stream transport of a StreamSetup.
type Transport struct {
	Protocol string `xml:"tt:Protocol"`
}

// StreamSetup describes the requested stream for GetStreamUri.
type StreamSetup struct {
	Stream    string    `xml:"tt:Stream"`
	Transport Transport `xml:"tt:Transport"`
}

// Date is an ONVIF calendar date.
type Date struct {
	Year  int `xml:"tt:Year"`
	Month int `xml:"tt:Month"`
	Day   int `xml:"tt:Day"`
}

// Time is an ONVIF time of day.
type Time struct {
	Hour   int `xml:"tt:Hour"`
	Minute int `xml:"tt:Minute"`
	Second int `xml:"tt:Second"`
}

// DateTime is an ONVIF date and time.
type DateTime struct {
	Date Date `xml:"tt:Date"`
	Time Time `xml:"tt:Time"`
}

// TimeZone is a POSIX timezone string.
type TimeZone struct {
	TZ string `xml:"tt:TZ"`
}
