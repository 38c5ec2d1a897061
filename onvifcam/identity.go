package onvifcam

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/viam-modules/thinginoonvif/onvif/device"
)

// clockSkewLimit is how far the camera clock may drift before it is corrected or reported.
const clockSkewLimit = 5 * time.Second

// deviceInfo reads the identity. Unreadable device information is tolerated; a camera
// with neither MAC nor serial number cannot be told apart from others and is rejected.
func (c *Camera) deviceInfo(ctx context.Context) (DeviceInfo, error) {
	var info DeviceInfo
	resp, err := device.CallResult(ctx, c.session, "GetDeviceInformation", func(ctx context.Context, dev *device.Device) (device.GetDeviceInformationResponse, error) {
		return dev.GetDeviceInformation(ctx)
	})
	if err != nil {
		c.logger.Warnf("failed to fetch device information: %v", err)
	} else {
		info = DeviceInfo{
			Manufacturer:    resp.Manufacturer,
			Model:           resp.Model,
			FirmwareVersion: resp.FirmwareVersion,
			SerialNumber:    resp.SerialNumber,
			HardwareID:      resp.HardwareID,
		}
	}

	ifaces, err := device.CallResult(ctx, c.session, "GetNetworkInterfaces", func(ctx context.Context, dev *device.Device) ([]device.NetworkInterface, error) {
		return dev.GetNetworkInterfaces(ctx)
	})
	switch {
	case err == nil:
		// the last enabled interface wins
		for _, iface := range ifaces {
			if iface.Enabled && iface.HwAddress != "" {
				info.MAC = iface.HwAddress
			}
		}
	case device.IsNotImplemented(err):
		c.logger.Debugf("couldn't get network interfaces: %v", err)
	default:
		return info, errors.Wrap(err, "failed to get network interfaces")
	}

	if info.MAC == "" && info.SerialNumber == "" {
		return info, ErrNoIdentity
	}
	return info, nil
}

// checkDateAndTime compares the camera clock with ours. A manually set clock that drifted is
// corrected, anything else is only reported.
func (c *Camera) checkDateAndTime(ctx context.Context) {
	dt, err := device.CallResult(ctx, c.session, "GetSystemDateAndTime", func(ctx context.Context, dev *device.Device) (device.SystemDateAndTime, error) {
		return dev.GetSystemDateAndTime(ctx)
	})
	if err != nil {
		c.logger.Warnf("couldn't get device date/time: %v", err)
		return
	}
	camTime, ok := cameraTime(dt)
	if !ok {
		c.logger.Warn("could not retrieve date/time on this camera")
		return
	}

	system := c.now().UTC()
	skew := camTime.Sub(system)
	c.logger.Debugf("device date/time: %s | system date/time: %s", camTime, system)
	if skew.Abs() < clockSkewLimit {
		return
	}
	if dt.DateTimeType != "Manual" {
		c.logTimeOutOfSync(camTime, system)
		return
	}
	if err := c.setDateAndTime(ctx, dt.TimeZone); err != nil {
		c.logger.Warnf("could not sync date/time on this camera: %v", err)
		c.logTimeOutOfSync(camTime, system)
	}
}

func (c *Camera) logTimeOutOfSync(camTime, system time.Time) {
	c.logger.Warnf("the date/time on the camera (UTC) is '%s', which is different from the system '%s', "+
		"this could lead to authentication issues", camTime, system)
}

// cameraTime prefers the UTC clock. The local clock is read in the camera's zone when Go knows it.
func cameraTime(dt device.SystemDateAndTime) (time.Time, bool) {
	if dt.UTC != nil {
		return *dt.UTC, true
	}
	if dt.Local == nil {
		return time.Time{}, false
	}
	loc := time.Local
	if dt.TimeZone != "" {
		if l, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = l
		}
	}
	l := *dt.Local
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), 0, loc).UTC(), true
}

// SyncTime sets the camera clock to ours.
func (c *Camera) SyncTime(ctx context.Context) error {
	dt, err := device.CallResult(ctx, c.session, "GetSystemDateAndTime", func(ctx context.Context, dev *device.Device) (device.SystemDateAndTime, error) {
		return dev.GetSystemDateAndTime(ctx)
	})
	if err != nil {
		c.logger.Debugf("couldn't read device time zone before sync: %v", err)
	}
	return c.setDateAndTime(ctx, dt.TimeZone)
}

// setDateAndTime tries our zone, then the camera's zone, then no zone, since some firmware
// rejects zones it does not know.
func (c *Camera) setDateAndTime(ctx context.Context, deviceZone string) error {
	now := c.now()
	systemZone, _ := now.Zone()
	zones := []string{systemZone}
	if deviceZone != "" && deviceZone != systemZone {
		zones = append(zones, deviceZone)
	}
	zones = append(zones, "")

	var err error
	for _, zone := range zones {
		c.logger.Debugf("SetSystemDateAndTime with time zone %q", zone)
		err = c.session.Call(ctx, "SetSystemDateAndTime", func(ctx context.Context, dev *device.Device) error {
			return dev.SetSystemDateAndTime(ctx, now, now.IsDST(), zone)
		})
		if err == nil {
			return nil
		}
		c.logger.Debugf("SetSystemDateAndTime with time zone %q failed: %v", zone, err)
	}
	return err
}

// Reboot restarts the camera.
func (c *Camera) Reboot(ctx context.Context) error {
	return c.session.Call(ctx, "SystemReboot", func(ctx context.Context, dev *device.Device) error {
		return dev.SystemReboot(ctx)
	})
}
