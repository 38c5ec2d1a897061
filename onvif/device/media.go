package device

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/viam-modules/thinginoonvif/onvif/xsd"
)

const (
	streamTypeRTPUnicast = "RTP-Unicast"
	streamSetupProtocol  = "RTSP"
)

// GetProfiles is a request to the GetProfiles onvif endpoint.
type GetProfiles struct {
	XMLName string `xml:"trt:GetProfiles"`
}

// GetStreamURI is a request to the GetStreamURI onvif endpoint.
type GetStreamURI struct {
	XMLName      string             `xml:"trt:GetStreamUri"`
	StreamSetup  xsd.StreamSetup    `xml:"trt:StreamSetup"`
	ProfileToken xsd.ReferenceToken `xml:"trt:ProfileToken"`
}

// GetMediaServiceCapabilities is a request for the media service capabilities.
type GetMediaServiceCapabilities struct {
	XMLName string `xml:"trt:GetServiceCapabilities"`
}

// AxisRange is one axis of a PTZ limits block. Nil bounds were not reported.
type AxisRange struct {
	Min *float64
	Max *float64
}

// PTZConfiguration is the part of a profile's PTZ configuration the client uses.
type PTZConfiguration struct {
	Token               string
	ContinuousVelocity  bool
	RelativeTranslation bool
	AbsolutePosition    bool
	Pan                 AxisRange
	Tilt                AxisRange
	Zoom                AxisRange
}

// MediaProfile is a decoded media profile.
type MediaProfile struct {
	Token            string
	Name             string
	Encoding         string
	Width            int
	Height           int
	VideoSourceToken string
	// PTZ is nil when the profile carries no PTZConfiguration.
	PTZ *PTZConfiguration
}

// GetProfiles returns the device's profiles in reported order.
// Decoding is done element by element so one malformed profile does not hide the others.
func (dev *Device) GetProfiles(ctx context.Context) ([]MediaProfile, error) {
	b, err := dev.CallMethod(ctx, ServiceMedia, GetProfiles{})
	if err != nil {
		return nil, fmt.Errorf("failed to get media profiles: %w", err)
	}
	dev.logger.Debugf("GetProfiles response body: %s", b)
	return ParseProfiles(b)
}

// ParseProfiles decodes a GetProfilesResponse envelope.
func ParseProfiles(data []byte) ([]MediaProfile, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to decode media profiles response: %w", err)
	}
	resp := doc.FindElement("./Envelope/Body/GetProfilesResponse")
	if resp == nil {
		return nil, errors.New("GetProfilesResponse missing from envelope")
	}

	var profiles []MediaProfile
	for _, el := range resp.SelectElements("Profiles") {
		p := MediaProfile{
			Token: el.SelectAttrValue("token", ""),
			Name:  childText(el, "Name"),
		}
		if vec := el.SelectElement("VideoEncoderConfiguration"); vec != nil {
			p.Encoding = childText(vec, "Encoding")
			if res := vec.SelectElement("Resolution"); res != nil {
				p.Width, _ = strconv.Atoi(childText(res, "Width"))
				p.Height, _ = strconv.Atoi(childText(res, "Height"))
			}
		}
		if vsc := el.SelectElement("VideoSourceConfiguration"); vsc != nil {
			p.VideoSourceToken = childText(vsc, "SourceToken")
		}
		if pc := el.SelectElement("PTZConfiguration"); pc != nil {
			p.PTZ = parsePTZConfiguration(pc)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func parsePTZConfiguration(el *etree.Element) *PTZConfiguration {
	cfg := &PTZConfiguration{
		Token:               el.SelectAttrValue("token", ""),
		ContinuousVelocity:  el.SelectElement("DefaultContinuousPanTiltVelocitySpace") != nil,
		RelativeTranslation: el.SelectElement("DefaultRelativePanTiltTranslationSpace") != nil,
		// the schema really spells it "Pant"
		AbsolutePosition: el.SelectElement("DefaultAbsolutePantTiltPositionSpace") != nil ||
			el.SelectElement("DefaultAbsolutePanTiltPositionSpace") != nil,
	}
	if ptl := el.SelectElement("PanTiltLimits"); ptl != nil {
		rng := rangeOf(ptl)
		cfg.Pan = axisRange(rng, "X")
		cfg.Tilt = axisRange(rng, "Y")
	}
	if zl := el.SelectElement("ZoomLimits"); zl != nil {
		cfg.Zoom = axisRange(rangeOf(zl), "X")
	}
	return cfg
}

// rangeOf returns the nested Range element, or the limits element itself when the device
// flattened it.
func rangeOf(limits *etree.Element) *etree.Element {
	if r := limits.SelectElement("Range"); r != nil {
		return r
	}
	return limits
}

func axisRange(rng *etree.Element, axis string) AxisRange {
	el := rng.SelectElement(axis + "Range")
	if el == nil {
		el = rng.SelectElement(axis)
	}
	if el == nil {
		return AxisRange{}
	}
	return AxisRange{Min: parseFloat(childText(el, "Min")), Max: parseFloat(childText(el, "Max"))}
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

type getStreamURIResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		GetStreamURIResponse struct {
			MediaURI struct {
				URI string `xml:"Uri"`
			} `xml:"MediaUri"`
		} `xml:"GetStreamUriResponse"`
	} `xml:"Body"`
}

// GetStreamURI returns a device's RTSP stream URI for a given profile token.
func (dev *Device) GetStreamURI(ctx context.Context, token xsd.ReferenceToken) (*url.URL, error) {
	body, err := dev.CallMethod(ctx, ServiceMedia, GetStreamURI{
		StreamSetup: xsd.StreamSetup{
			Stream:    streamTypeRTPUnicast,
			Transport: xsd.Transport{Protocol: streamSetupProtocol},
		},
		ProfileToken: token,
	})
	if err != nil {
		return nil, err
	}

	var streamURI getStreamURIResponse
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&streamURI); err != nil {
		return nil, fmt.Errorf("failed to get RTSP URL for token %s: %w", token, err)
	}
	uriStr := strings.TrimSpace(streamURI.Body.GetStreamURIResponse.MediaURI.URI)
	if uriStr == "" {
		return nil, fmt.Errorf("got empty stream uri for token %s", token)
	}
	uri, err := url.Parse(uriStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URI %s: %w", uriStr, err)
	}
	return uri, nil
}

// GetMediaSnapshotSupport reports the SnapshotUri flag of the media service capabilities.
func (dev *Device) GetMediaSnapshotSupport(ctx context.Context) (bool, error) {
	body, err := dev.CallMethod(ctx, ServiceMedia, GetMediaServiceCapabilities{})
	if err != nil {
		return false, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return false, fmt.Errorf("failed to parse media capabilities: %w", err)
	}
	caps := doc.FindElement("./Envelope/Body/GetServiceCapabilitiesResponse/Capabilities")
	if caps == nil {
		return false, nil
	}
	return strings.EqualFold(caps.SelectAttrValue("SnapshotUri", ""), "true"), nil
}
