package device

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/beevik/etree"

	"github.com/viam-modules/thinginoonvif/onvif/xsd"
)

// GetImagingServiceCapabilities is a request for the imaging service capabilities.
type GetImagingServiceCapabilities struct {
	XMLName string `xml:"timg:GetServiceCapabilities"`
}

// imagingSettingsOrder is the element order of tt:ImagingSettings20. Devices validating against
// the schema reject out of order children.
var imagingSettingsOrder = []string{
	"BacklightCompensation",
	"Brightness",
	"ColorSaturation",
	"Contrast",
	"Exposure",
	"Focus",
	"IrCutFilter",
	"Sharpness",
	"WideDynamicRange",
	"WhiteBalance",
	"Extension",
}

// GetImagingServiceCapabilities probes the imaging service. Only the error matters.
func (dev *Device) GetImagingServiceCapabilities(ctx context.Context) error {
	_, err := dev.CallMethod(ctx, ServiceImaging, GetImagingServiceCapabilities{})
	return err
}

// SetImagingSettings applies a partial ImagingSettings20 document to a video source.
// settings is keyed by ONVIF element name, e.g. {"IrCutFilter": "OFF"} or
// {"Focus": {"AutoFocusMode": "AUTO"}}.
func (dev *Device) SetImagingSettings(ctx context.Context, source xsd.ReferenceToken, settings map[string]interface{}) error {
	req, err := BuildSetImagingSettings(source, settings)
	if err != nil {
		return err
	}
	if _, err := dev.CallMethod(ctx, ServiceImaging, req); err != nil {
		return fmt.Errorf("failed to set imaging settings: %w", err)
	}
	return nil
}

// BuildSetImagingSettings renders the SetImagingSettings request element.
func BuildSetImagingSettings(source xsd.ReferenceToken, settings map[string]interface{}) (*etree.Element, error) {
	if source == "" {
		return nil, fmt.Errorf("video source token is required")
	}
	if len(settings) == 0 {
		return nil, fmt.Errorf("no imaging settings given")
	}
	req := etree.NewElement("timg:SetImagingSettings")
	req.CreateElement("timg:VideoSourceToken").SetText(string(source))
	is := req.CreateElement("timg:ImagingSettings")
	for _, key := range orderedKeys(settings, imagingSettingsOrder) {
		if err := appendSetting(is, key, settings[key]); err != nil {
			return nil, err
		}
	}
	req.CreateElement("timg:ForcePersistence").SetText("true")
	return req, nil
}

func appendSetting(parent *etree.Element, key string, value interface{}) error {
	el := parent.CreateElement("tt:" + key)
	switch v := value.(type) {
	case map[string]interface{}:
		for _, k := range orderedKeys(v, nil) {
			if err := appendSetting(el, k, v[k]); err != nil {
				return err
			}
		}
	case string:
		el.SetText(v)
	case bool:
		el.SetText(fmt.Sprintf("%t", v))
	case float64, float32, int, int64:
		el.SetText(fmt.Sprintf("%v", v))
	default:
		return fmt.Errorf("unsupported imaging setting %s of type %T", key, value)
	}
	return nil
}

// orderedKeys returns keys listed in order first, in that order, then the rest sorted.
func orderedKeys(m map[string]interface{}, order []string) []string {
	keys := make([]string, 0, len(m))
	for _, k := range order {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range m {
		if !slices.Contains(order, k) {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
