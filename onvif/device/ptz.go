package device

import (
	"context"
	"fmt"

	"github.com/viam-modules/thinginoonvif/onvif/ptz"
	"github.com/viam-modules/thinginoonvif/onvif/xsd"
)

// CallPTZ sends a PTZ request and discards the response body.
func (dev *Device) CallPTZ(ctx context.Context, method interface{}) error {
	_, err := dev.CallMethod(ctx, ServicePTZ, method)
	return err
}

// GetPTZServiceCapabilities calls GetServiceCapabilities on the ptz service. It is used as a
// liveness probe, so only the error matters.
func (dev *Device) GetPTZServiceCapabilities(ctx context.Context) error {
	return dev.CallPTZ(ctx, ptz.GetServiceCapabilities{})
}

// GetPresets returns the presets stored for a profile.
func (dev *Device) GetPresets(ctx context.Context, profile xsd.ReferenceToken) ([]ptz.Preset, error) {
	b, err := dev.CallMethod(ctx, ServicePTZ, ptz.GetPresets{ProfileToken: profile})
	if err != nil {
		return nil, fmt.Errorf("failed to get presets for %s: %w", profile, err)
	}
	return ptz.ParsePresets(b)
}

// SetPreset stores the current position. The returned token is empty when the device did not
// echo one back.
func (dev *Device) SetPreset(ctx context.Context, req ptz.SetPreset) (string, error) {
	b, err := dev.CallMethod(ctx, ServicePTZ, req)
	if err != nil {
		return "", err
	}
	return ptz.ParseSetPresetToken(b), nil
}
