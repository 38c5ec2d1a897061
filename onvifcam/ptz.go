package onvifcam

import (
	"context"
	"slices"

	"github.com/pkg/errors"

	"github.com/viam-modules/thinginoonvif/onvif/device"
	"github.com/viam-modules/thinginoonvif/onvif/ptz"
	"github.com/viam-modules/thinginoonvif/onvif/xsd"
	"github.com/viam-modules/thinginoonvif/ptzmap"
	"github.com/viam-modules/thinginoonvif/state"
)

// callPTZ is the mapper's route to the device.
func (c *Camera) callPTZ(ctx context.Context, label string, req interface{}) error {
	return c.session.Call(ctx, label, func(ctx context.Context, dev *device.Device) error {
		return dev.CallPTZ(ctx, req)
	})
}

// ptzProfile returns the profile to move, or ErrPTZUnsupported when the camera has no PTZ.
func (c *Camera) ptzProfile(token string) (Profile, ptzmap.Target, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, err := c.profileLocked(token)
	if err != nil {
		return Profile{}, ptzmap.Target{}, err
	}
	if !c.caps.PTZ {
		c.logger.Warn("PTZ actions are not supported on this device")
		return Profile{}, ptzmap.Target{}, ErrPTZUnsupported
	}
	t := ptzmap.Target{
		ProfileToken: p.Token,
		Limits:       p.Limits,
		DeviceMode:   c.deviceMode,
		Tolerant:     c.tolerant,
	}
	if p.PTZ != nil {
		t.Support = &ptzmap.Support{Continuous: p.PTZ.Continuous, Relative: p.PTZ.Relative, Absolute: p.PTZ.Absolute}
		t.Presets = p.PTZ.Presets
	}
	return p, t, nil
}

// PerformPTZ sends one move request to a profile. Errors are only returned for unknown
// profiles, a camera without PTZ and malformed requests; device failures are logged and
// reported through the outcome. A continuous move without a duration runs for the
// configured default and blocks until its stop has been sent.
func (c *Camera) PerformPTZ(ctx context.Context, profile string, r ptzmap.Request) (ptzmap.Outcome, error) {
	_, t, err := c.ptzProfile(profile)
	if err != nil {
		return ptzmap.Rejected, err
	}
	if r.Duration <= 0 {
		r.Duration = c.opts.ContinuousDuration
	}
	c.logger.Debugf("PTZ %s on profile %s (pan=%s tilt=%s zoom=%s distance=%v preset=%s)",
		r.Mode, t.ProfileToken, r.Pan, r.Tilt, r.Zoom, r.Distance, r.Preset)
	outcome, err := c.mapper.Perform(ctx, t, r)
	if err != nil {
		return outcome, errors.Wrap(ErrInvalidArgument, err.Error())
	}
	return outcome, nil
}

// AbsoluteSteps moves to raw step positions, clamped to the profile's limits.
func (c *Camera) AbsoluteSteps(ctx context.Context, profile string, r ptzmap.StepsRequest) (ptzmap.Outcome, error) {
	_, t, err := c.ptzProfile(profile)
	if err != nil {
		return ptzmap.Rejected, err
	}
	return c.mapper.AbsoluteSteps(ctx, t, r), nil
}

// MappingMode is the coordinate mapping of the last relative or absolute move.
func (c *Camera) MappingMode() string {
	return c.mapper.LastMapping()
}

// MoveStored runs a relative move with the distance and speed stored for the profile.
func (c *Camera) MoveStored(ctx context.Context, profile, pan, tilt, zoom string) (ptzmap.Outcome, error) {
	p, _, err := c.ptzProfile(profile)
	if err != nil {
		return ptzmap.Rejected, err
	}
	e := c.state.Get(p.Token)
	return c.PerformPTZ(ctx, p.Token, ptzmap.Request{
		Mode:     ptzmap.Relative,
		Pan:      pan,
		Tilt:     tilt,
		Zoom:     zoom,
		Distance: e.RelativeDistance,
		Speed:    e.RelativeSpeed,
	})
}

// AbsoluteStored moves to the step position and speed stored for the profile.
func (c *Camera) AbsoluteStored(ctx context.Context, profile string) (ptzmap.Outcome, error) {
	p, _, err := c.ptzProfile(profile)
	if err != nil {
		return ptzmap.Rejected, err
	}
	e := c.state.Get(p.Token)
	return c.AbsoluteSteps(ctx, p.Token, ptzmap.StepsRequest{
		Pan:   e.AbsolutePan,
		Tilt:  e.AbsoluteTilt,
		Speed: e.AbsoluteSpeed,
	})
}

// GotoSelectedPreset moves to the preset selected in the state cache. It does nothing when
// no preset is selected.
func (c *Camera) GotoSelectedPreset(ctx context.Context, profile string) (ptzmap.Outcome, error) {
	p, _, err := c.ptzProfile(profile)
	if err != nil {
		return ptzmap.Rejected, err
	}
	selected := c.state.Get(p.Token).SelectedPreset
	if selected == "" {
		return ptzmap.Rejected, nil
	}
	return c.PerformPTZ(ctx, p.Token, ptzmap.Request{Mode: ptzmap.GotoPreset, Preset: selected})
}

// GotoHome moves the profile to its home position.
func (c *Camera) GotoHome(ctx context.Context, profile string, speed *float64) error {
	p, _, err := c.ptzProfile(profile)
	if err != nil {
		return err
	}
	req := ptz.GotoHomePosition{ProfileToken: xsd.ReferenceToken(p.Token)}
	if speed != nil {
		req.Speed = xsd.UniformSpeed(*speed)
	}
	if err := c.callPTZ(ctx, "GotoHomePosition", req); err != nil {
		c.logger.Errorf("error trying to go to home position: %v", err)
		return err
	}
	return nil
}

// SetHome stores the current position of the profile as home.
func (c *Camera) SetHome(ctx context.Context, profile string) error {
	p, _, err := c.ptzProfile(profile)
	if err != nil {
		return err
	}
	if err := c.callPTZ(ctx, "SetHomePosition", ptz.SetHomePosition{ProfileToken: xsd.ReferenceToken(p.Token)}); err != nil {
		c.logger.Errorf("error trying to set home position: %v", err)
		return err
	}
	return nil
}

// SendAuxiliary sends a PTZ auxiliary command such as a wiper or light toggle.
func (c *Camera) SendAuxiliary(ctx context.Context, profile, data string) error {
	if data == "" {
		return errors.Wrap(ErrInvalidArgument, "auxiliary data is required")
	}
	p, _, err := c.ptzProfile(profile)
	if err != nil {
		return err
	}
	req := ptz.SendAuxiliaryCommand{ProfileToken: xsd.ReferenceToken(p.Token), AuxiliaryData: data}
	if err := c.callPTZ(ctx, "SendAuxiliaryCommand", req); err != nil {
		c.logger.Errorf("error trying to send auxiliary command %q: %v", data, err)
		return err
	}
	return nil
}

// SetPreset stores the current position. preset is an existing token to overwrite, or empty
// for a new preset. It returns the token the camera assigned, or the requested one when the
// camera did not answer with a token. The preset list is refreshed afterwards.
func (c *Camera) SetPreset(ctx context.Context, profile, preset, name string) (string, error) {
	if preset == "" && name == "" {
		return "", errors.Wrap(ErrInvalidArgument, "a preset token or name is required")
	}
	p, _, err := c.ptzProfile(profile)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = preset
	}
	req := ptz.SetPreset{
		ProfileToken: xsd.ReferenceToken(p.Token),
		PresetToken:  xsd.ReferenceToken(preset),
		PresetName:   name,
	}
	token, err := device.CallResult(ctx, c.session, "SetPreset", func(ctx context.Context, dev *device.Device) (string, error) {
		return dev.SetPreset(ctx, req)
	})
	if err != nil {
		c.logger.Errorf("error trying to set PTZ preset %q: %v", name, err)
		return "", err
	}
	if token == "" {
		token = preset
	}
	if token == "" {
		token = name
	}

	c.RefreshPresets(ctx, p.Token)
	c.updatePTZ(p.Token, func(cfg *PTZConfig) {
		if cfg.Presets != nil && !slices.Contains(cfg.Presets, token) {
			cfg.Presets = append(cfg.Presets, token)
		}
		if cfg.PresetNames == nil {
			cfg.PresetNames = map[string]string{}
		}
		if _, ok := cfg.PresetNames[token]; !ok {
			cfg.PresetNames[token] = name
		}
	})
	return token, nil
}

// RemovePreset deletes a preset and refreshes the preset list.
func (c *Camera) RemovePreset(ctx context.Context, profile, preset string) error {
	if preset == "" {
		return errors.Wrap(ErrInvalidArgument, "a preset token is required")
	}
	p, _, err := c.ptzProfile(profile)
	if err != nil {
		return err
	}
	req := ptz.RemovePreset{ProfileToken: xsd.ReferenceToken(p.Token), PresetToken: xsd.ReferenceToken(preset)}
	if err := c.callPTZ(ctx, "RemovePreset", req); err != nil {
		c.logger.Errorf("error trying to remove PTZ preset %q: %v", preset, err)
		return err
	}

	c.RefreshPresets(ctx, p.Token)
	c.updatePTZ(p.Token, func(cfg *PTZConfig) {
		cfg.Presets = slices.DeleteFunc(cfg.Presets, func(t string) bool { return t == preset })
		delete(cfg.PresetNames, preset)
	})
	c.state.Update(p.Token, func(e *state.Entry) {
		if e.SelectedPreset == preset {
			e.SelectedPreset = ""
		}
	})
	return nil
}

// RefreshPresets reloads the preset list of a profile. A failed refresh marks the list unknown.
func (c *Camera) RefreshPresets(ctx context.Context, profile string) []string {
	p, _, err := c.ptzProfile(profile)
	if err != nil {
		return nil
	}
	presets, names, err := c.fetchPresets(ctx, p.Token)
	if err != nil {
		c.logger.Debugf("failed to refresh presets for profile %s: %v", p.Token, err)
	}
	c.updatePTZ(p.Token, func(cfg *PTZConfig) {
		cfg.Presets = presets
		cfg.PresetNames = names
	})
	return presets
}

// fetchPresets returns the preset tokens and their names. Tokens are nil on failure.
func (c *Camera) fetchPresets(ctx context.Context, profile string) ([]string, map[string]string, error) {
	presets, err := device.CallResult(ctx, c.session, "GetPresets", func(ctx context.Context, dev *device.Device) ([]ptz.Preset, error) {
		return dev.GetPresets(ctx, xsd.ReferenceToken(profile))
	})
	if err != nil {
		return nil, nil, err
	}
	tokens := make([]string, 0, len(presets))
	names := make(map[string]string, len(presets))
	for _, preset := range presets {
		tokens = append(tokens, preset.Token)
		names[preset.Token] = preset.Name
	}
	c.logger.Debugf("PTZ presets for profile %s: %v", profile, tokens)
	return tokens, names, nil
}

// updatePTZ edits a profile's PTZ configuration under the write lock, creating a permissive
// one when the profile had none.
func (c *Camera) updatePTZ(profile string, fn func(*PTZConfig)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.profiles {
		if c.profiles[i].Token != profile {
			continue
		}
		if c.profiles[i].PTZ == nil {
			c.profiles[i].PTZ = &PTZConfig{Continuous: true, Relative: true, Absolute: true}
		}
		fn(c.profiles[i].PTZ)
		return
	}
}

// PresetName is the display name of a preset, the token itself when the camera gave no name.
func (c *Camera) PresetName(profile, token string) string {
	p, err := c.Profile(profile)
	if err != nil || p.PTZ == nil {
		return token
	}
	if name := p.PTZ.PresetNames[token]; name != "" {
		return name
	}
	return token
}
