// Package ptz provides PTZ (Pan-Tilt-Zoom) ONVIF request and response types.
package ptz

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/viam-modules/thinginoonvif/onvif/xsd"
)

// --- PTZ Request Types ---

// Stop is a request to stop PTZ movement. Nil flags let the device stop every axis.
type Stop struct {
	XMLName      string             `xml:"tptz:Stop"`
	ProfileToken xsd.ReferenceToken `xml:"tptz:ProfileToken"`
	PanTilt      *bool              `xml:"tptz:PanTilt,omitempty"`
	Zoom         *bool              `xml:"tptz:Zoom,omitempty"`
}

// ContinuousMove is a request for continuous PTZ movement.
type ContinuousMove struct {
	XMLName      string             `xml:"tptz:ContinuousMove"`
	ProfileToken xsd.ReferenceToken `xml:"tptz:ProfileToken"`
	Velocity     xsd.PTZSpeed       `xml:"tptz:Velocity"`
	Timeout      string             `xml:"tptz:Timeout,omitempty"`
}

// RelativeMove is a request for relative PTZ movement.
type RelativeMove struct {
	XMLName      string             `xml:"tptz:RelativeMove"`
	ProfileToken xsd.ReferenceToken `xml:"tptz:ProfileToken"`
	Translation  xsd.PTZVector      `xml:"tptz:Translation"`
	Speed        *xsd.PTZSpeed      `xml:"tptz:Speed,omitempty"`
}

// AbsoluteMove is a request for absolute PTZ movement.
type AbsoluteMove struct {
	XMLName      string             `xml:"tptz:AbsoluteMove"`
	ProfileToken xsd.ReferenceToken `xml:"tptz:ProfileToken"`
	Position     xsd.PTZVector      `xml:"tptz:Position"`
	Speed        *xsd.PTZSpeed      `xml:"tptz:Speed,omitempty"`
}

// GetServiceCapabilities is a request to get PTZ service capabilities.
type GetServiceCapabilities struct {
	XMLName string `xml:"tptz:GetServiceCapabilities"`
}

// GetPresets is a request for the presets of a profile.
type GetPresets struct {
	XMLName      string             `xml:"tptz:GetPresets"`
	ProfileToken xsd.ReferenceToken `xml:"tptz:ProfileToken"`
}

// GotoPreset is a request to move to a stored preset.
type GotoPreset struct {
	XMLName      string             `xml:"tptz:GotoPreset"`
	ProfileToken xsd.ReferenceToken `xml:"tptz:ProfileToken"`
	PresetToken  xsd.ReferenceToken `xml:"tptz:PresetToken"`
	Speed        *xsd.PTZSpeed      `xml:"tptz:Speed,omitempty"`
}

// SetPreset is a request to store the current position as a preset.
type SetPreset struct {
	XMLName      string             `xml:"tptz:SetPreset"`
	ProfileToken xsd.ReferenceToken `xml:"tptz:ProfileToken"`
	PresetName   string             `xml:"tptz:PresetName,omitempty"`
	PresetToken  xsd.ReferenceToken `xml:"tptz:PresetToken,omitempty"`
}

// RemovePreset is a request to delete a preset.
type RemovePreset struct {
	XMLName      string             `xml:"tptz:RemovePreset"`
	ProfileToken xsd.ReferenceToken `xml:"tptz:ProfileToken"`
	PresetToken  xsd.ReferenceToken `xml:"tptz:PresetToken"`
}

// GotoHomePosition is a request to move to the home position.
type GotoHomePosition struct {
	XMLName      string             `xml:"tptz:GotoHomePosition"`
	ProfileToken xsd.ReferenceToken `xml:"tptz:ProfileToken"`
	Speed        *xsd.PTZSpeed      `xml:"tptz:Speed,omitempty"`
}

// SetHomePosition is a request to store the current position as home.
type SetHomePosition struct {
	XMLName      string             `xml:"tptz:SetHomePosition"`
	ProfileToken xsd.ReferenceToken `xml:"tptz:ProfileToken"`
}

// SendAuxiliaryCommand is a request to run a device specific auxiliary command such as a wiper.
type SendAuxiliaryCommand struct {
	XMLName       string             `xml:"tptz:SendAuxiliaryCommand"`
	ProfileToken  xsd.ReferenceToken `xml:"tptz:ProfileToken"`
	AuxiliaryData string             `xml:"tptz:AuxiliaryData"`
}

// --- PTZ Response Types ---

// Preset is one entry of a GetPresets response.
type Preset struct {
	Token string
	Name  string
}

// ParsePresets decodes a GetPresetsResponse envelope. Entries without a token are skipped.
func ParsePresets(data []byte) ([]Preset, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse GetPresets response: %w", err)
	}
	resp := doc.FindElement("./Envelope/Body/GetPresetsResponse")
	if resp == nil {
		return nil, fmt.Errorf("GetPresetsResponse missing from envelope")
	}
	presets := []Preset{}
	for _, el := range resp.SelectElements("Preset") {
		token := strings.TrimSpace(el.SelectAttrValue("token", ""))
		if token == "" {
			continue
		}
		p := Preset{Token: token}
		if name := el.SelectElement("Name"); name != nil {
			p.Name = strings.TrimSpace(name.Text())
		}
		presets = append(presets, p)
	}
	return presets, nil
}

// ParseSetPresetToken returns the token from a SetPresetResponse, empty when the device did not send one.
func ParseSetPresetToken(data []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return ""
	}
	if el := doc.FindElement("./Envelope/Body/SetPresetResponse/PresetToken"); el != nil {
		return strings.TrimSpace(el.Text())
	}
	return ""
}
