package onvifcam

import (
	"context"
	"errors"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/viam-modules/thinginoonvif/onvif/device"
	"github.com/viam-modules/thinginoonvif/onvif/gosoap"
	"github.com/viam-modules/thinginoonvif/onvif/xsd"
	"github.com/viam-modules/thinginoonvif/ptzmap"
)

// Service namespaces and the paths Thingino serves them on when GetCapabilities leaves them out.
const (
	ptzNamespace      = "http://www.onvif.org/ver20/ptz/wsdl"
	imagingNamespace  = "http://www.onvif.org/ver20/imaging/wsdl"
	deviceIONamespace = "http://www.onvif.org/ver10/deviceIO/wsdl"

	ptzServicePath      = "/onvif/ptz_service"
	imagingServicePath  = "/onvif/imaging_service"
	deviceIOServicePath = "/onvif/deviceio_service"

	encodingH264 = "H264"
)

// deviceModeHints are manufacturer or model substrings of firmware that reports PTZ limits in steps.
var deviceModeHints = []string{"thingino", "ingenic", "t31", "sc2336"}

// resolver holds the state of one setup pass.
type resolver struct {
	cam *Camera

	services        map[string]string
	servicesFetched bool

	ptzReported  bool
	ptzAvailable bool
}

func (r *resolver) capabilities(ctx context.Context) Capabilities {
	c := r.cam
	var caps Capabilities

	snapshot, err := device.CallResult(ctx, c.session, "GetServiceCapabilities", func(ctx context.Context, dev *device.Device) (bool, error) {
		return dev.GetMediaSnapshotSupport(ctx)
	})
	if err != nil {
		c.logger.Debugf("media service capabilities unavailable: %v", err)
	}
	caps.Snapshot = snapshot

	dev, err := c.session.Device()
	if err != nil {
		return caps
	}
	r.ptzReported = dev.Reported(device.ServicePTZ)
	r.ptzAvailable = r.resolveService(ctx, device.ServicePTZ, ptzNamespace, ptzServicePath,
		func(ctx context.Context, dev *device.Device) error { return dev.GetPTZServiceCapabilities(ctx) })
	caps.PTZ = r.ptzReported || r.ptzAvailable

	caps.Imaging = r.resolveService(ctx, device.ServiceImaging, imagingNamespace, imagingServicePath,
		func(ctx context.Context, dev *device.Device) error { return dev.GetImagingServiceCapabilities(ctx) })

	if c.opts.ExtrasEnabled {
		r.resolveEndpoint(ctx, device.ServiceDeviceIO, deviceIONamespace, deviceIOServicePath)
	}

	caps.Events = dev.Reported(device.ServiceEvents) || dev.PullPointSupport()
	return caps
}

// resolveEndpoint makes sure the device has an address for a service: the reported one, else
// the one GetServices lists, else the well known Thingino path.
func (r *resolver) resolveEndpoint(ctx context.Context, name, namespace, path string) {
	dev, err := r.cam.session.Device()
	if err != nil || dev.GetEndpoint(name) != "" {
		return
	}
	if addr := r.service(ctx, namespace); addr != "" {
		r.cam.logger.Debugf("%s service found through GetServices: %s", name, addr)
		dev.SetEndpoint(name, addr)
		return
	}
	xaddr := dev.GetXaddr()
	xaddr.Path = path
	r.cam.logger.Debugf("%s service not reported, trying %s", name, xaddr)
	dev.SetEndpoint(name, xaddr.String())
}

// resolveService resolves a service address and checks that something answers there. A SOAP
// fault still proves the service exists.
func (r *resolver) resolveService(
	ctx context.Context,
	name, namespace, path string,
	probe func(context.Context, *device.Device) error,
) bool {
	r.resolveEndpoint(ctx, name, namespace, path)
	err := r.cam.session.Call(ctx, name+" GetServiceCapabilities", probe)
	if err == nil {
		return true
	}
	var fault *gosoap.Fault
	if errors.As(err, &fault) {
		r.cam.logger.Debugf("%s service answered with a fault, treating it as available: %v", name, err)
		return true
	}
	r.cam.logger.Debugf("%s service unavailable: %v", name, err)
	return false
}

func (r *resolver) service(ctx context.Context, namespace string) string {
	if !r.servicesFetched {
		r.servicesFetched = true
		services, err := device.CallResult(ctx, r.cam.session, "GetServices", func(ctx context.Context, dev *device.Device) (map[string]string, error) {
			return dev.GetServices(ctx)
		})
		if err != nil {
			r.cam.logger.Debugf("GetServices failed: %v", err)
		}
		r.services = services
	}
	return r.services[namespace]
}

// profiles returns the H264 profiles. A profile without a PTZ configuration on a PTZ capable
// camera gets one with every move mode enabled.
func (r *resolver) profiles(ctx context.Context, ptzCapable bool) ([]Profile, error) {
	c := r.cam
	all, err := device.CallResult(ctx, c.session, "GetProfiles", func(ctx context.Context, dev *device.Device) ([]device.MediaProfile, error) {
		return dev.GetProfiles(ctx)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to get media profiles")
	}
	if len(all) == 0 {
		return nil, ErrNoProfiles
	}

	var profiles []Profile
	for i, mp := range all {
		if mp.Encoding != encodingH264 {
			continue
		}
		p := Profile{
			Index:            i,
			Token:            mp.Token,
			Name:             mp.Name,
			Encoding:         mp.Encoding,
			Width:            mp.Width,
			Height:           mp.Height,
			VideoSourceToken: mp.VideoSourceToken,
		}
		if ptzCapable {
			if mp.PTZ != nil {
				p.PTZ = &PTZConfig{
					Continuous: mp.PTZ.ContinuousVelocity,
					Relative:   mp.PTZ.RelativeTranslation,
					Absolute:   mp.PTZ.AbsolutePosition,
				}
				p.Limits = limitsOf(mp.PTZ)
			} else {
				c.logger.Debugf("PTZ configuration missing for profile %s; enabling tolerant PTZ controls", p.Token)
				p.PTZ = &PTZConfig{Continuous: true, Relative: true, Absolute: true}
			}
			presets, names, err := c.fetchPresets(ctx, p.Token)
			if err != nil {
				c.logger.Debugf("could not fetch PTZ presets for profile %s: %v", p.Token, err)
			}
			p.PTZ.Presets = presets
			p.PTZ.PresetNames = names
		}
		profiles = append(profiles, p)
	}
	if len(profiles) == 0 {
		return nil, ErrNoH264Profile
	}
	return profiles, nil
}

// limitsOf converts the reported ranges. It is nil when no bound at all was reported.
func limitsOf(cfg *device.PTZConfiguration) *ptzmap.Limits {
	limits := &ptzmap.Limits{
		Pan:  ptzmap.Range{Min: cfg.Pan.Min, Max: cfg.Pan.Max},
		Tilt: ptzmap.Range{Min: cfg.Tilt.Min, Max: cfg.Tilt.Max},
		Zoom: ptzmap.Range{Min: cfg.Zoom.Min, Max: cfg.Zoom.Max},
	}
	for _, r := range []ptzmap.Range{limits.Pan, limits.Tilt, limits.Zoom} {
		if r.Min != nil || r.Max != nil {
			return limits
		}
	}
	return nil
}

// probePTZ confirms at runtime that PTZ calls are answered.
func (r *resolver) probePTZ(ctx context.Context, profiles []Profile) bool {
	if !r.ptzAvailable {
		return false
	}
	c := r.cam
	if err := c.session.Call(ctx, "GetServiceCapabilities", func(ctx context.Context, dev *device.Device) error {
		return dev.GetPTZServiceCapabilities(ctx)
	}); err == nil {
		return true
	}
	for _, p := range profiles {
		token := xsd.ReferenceToken(p.Token)
		if err := c.session.Call(ctx, "GetPresets", func(ctx context.Context, dev *device.Device) error {
			_, err := dev.GetPresets(ctx, token)
			return err
		}); err == nil {
			return true
		}
	}
	return false
}

// inferDeviceMode decides whether PTZ values are device steps rather than generic spaces.
func inferDeviceMode(info DeviceInfo, extrasFound bool, profiles []Profile) bool {
	hint := strings.ToLower(info.Manufacturer + " " + info.Model)
	for _, h := range deviceModeHints {
		if strings.Contains(hint, h) {
			return true
		}
	}
	if extrasFound {
		return true
	}
	for _, p := range profiles {
		if p.Limits != nil && p.Limits.WideStepRange() {
			return true
		}
	}
	return false
}
