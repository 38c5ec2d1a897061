package onvifcam

import (
	"context"
	"net/url"

	"github.com/pkg/errors"

	"github.com/viam-modules/thinginoonvif/extras"
	"github.com/viam-modules/thinginoonvif/onvif/device"
	"github.com/viam-modules/thinginoonvif/onvif/xsd"
)

// StreamURI returns the RTSP address of a profile.
func (c *Camera) StreamURI(ctx context.Context, profile string) (*url.URL, error) {
	p, err := c.Profile(profile)
	if err != nil {
		return nil, err
	}
	return device.CallResult(ctx, c.session, "GetStreamUri", func(ctx context.Context, dev *device.Device) (*url.URL, error) {
		return dev.GetStreamURI(ctx, xsd.ReferenceToken(p.Token))
	})
}

// SetImagingSettings applies an ImagingSettings tree, such as {"Brightness": 60} or
// {"IrCutFilter": "AUTO"}, to the video source of a profile.
func (c *Camera) SetImagingSettings(ctx context.Context, profile string, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return errors.Wrap(ErrInvalidArgument, "imaging settings are required")
	}
	p, err := c.Profile(profile)
	if err != nil {
		return err
	}
	if !c.Capabilities().Imaging {
		c.logger.Warn("imaging is not supported on this device")
		return ErrImagingUnsupported
	}
	if p.VideoSourceToken == "" {
		return errors.Errorf("profile %s has no video source", p.Token)
	}
	if _, err := device.BuildSetImagingSettings(xsd.ReferenceToken(p.VideoSourceToken), settings); err != nil {
		return errors.Wrap(ErrInvalidArgument, err.Error())
	}
	err = c.session.Call(ctx, "SetImagingSettings", func(ctx context.Context, dev *device.Device) error {
		return dev.SetImagingSettings(ctx, xsd.ReferenceToken(p.VideoSourceToken), settings)
	})
	if err != nil {
		c.logger.Errorf("error trying to set imaging settings: %v", err)
	}
	return err
}

// Diagnostics is a snapshot of everything resolved about the camera. URLs carry no credentials.
type Diagnostics struct {
	Info          DeviceInfo        `json:"info"`
	Capabilities  Capabilities      `json:"capabilities"`
	PTZ           PTZDiagnostics    `json:"ptz"`
	Extras        ExtrasDiagnostics `json:"extras"`
	Profiles      []Profile         `json:"profiles"`
	Services      map[string]string `json:"services"`
	MaxResolution int               `json:"max_resolution"`
}

// PTZDiagnostics describes how PTZ was resolved and how it has behaved.
type PTZDiagnostics struct {
	Reported     bool   `json:"reported"`
	Available    bool   `json:"service_endpoint"`
	RuntimeProbe bool   `json:"runtime_probe"`
	Tolerant     bool   `json:"tolerant_mode"`
	DeviceMode   bool   `json:"thingino_mode"`
	MappingMode  string `json:"mapping_mode"`
	RetryCount   int64  `json:"retry_count"`
	ResetCount   int64  `json:"reset_count"`
}

// ExtrasDiagnostics lists the published controls by name.
type ExtrasDiagnostics struct {
	Enabled      bool     `json:"enabled"`
	Source       string   `json:"source"`
	Endpoint     string   `json:"endpoint"`
	ExecEndpoint string   `json:"exec_endpoint"`
	Aux          []string `json:"aux"`
	Toggles      []string `json:"aux_toggles"`
	Relays       []string `json:"relays"`
}

// Diagnostics returns the current diagnostics.
func (c *Camera) Diagnostics() Diagnostics {
	services := map[string]string{}
	if dev, err := c.session.Device(); err == nil {
		for name, addr := range dev.Endpoints() {
			services[name] = extras.RedactURL(addr)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	d := Diagnostics{
		Info:         c.info,
		Capabilities: c.caps,
		PTZ: PTZDiagnostics{
			Reported:     c.ptzReported,
			Available:    c.ptzAvailable,
			RuntimeProbe: c.ptzRuntime,
			Tolerant:     c.tolerant,
			DeviceMode:   c.deviceMode,
			MappingMode:  c.mapper.LastMapping(),
			RetryCount:   c.session.RetryCount(),
			ResetCount:   c.session.ResetCount(),
		},
		Extras: ExtrasDiagnostics{
			Enabled:  c.opts.ExtrasEnabled,
			Source:   c.extras.Source,
			Endpoint: extras.RedactURL(c.extras.Endpoint),
			Aux:      []string{},
			Toggles:  []string{},
			Relays:   []string{},
		},
		Services:      services,
		MaxResolution: c.maxResolution,
	}
	if c.opts.ExecEndpoint != "" {
		d.Extras.ExecEndpoint = extras.RedactURL(c.http.URL(c.opts.ExecEndpoint))
	}
	for _, a := range c.extras.Aux {
		d.Extras.Aux = append(d.Extras.Aux, a.Name)
	}
	for _, tg := range c.extras.Toggles {
		d.Extras.Toggles = append(d.Extras.Toggles, tg.Name)
	}
	for _, r := range c.extras.Relays {
		d.Extras.Relays = append(d.Extras.Relays, r.Name)
	}
	for _, p := range c.profiles {
		d.Profiles = append(d.Profiles, p.clone())
	}
	return d
}
