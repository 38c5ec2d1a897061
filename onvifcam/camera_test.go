package onvifcam

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

func TestNew(t *testing.T) {
	t.Run("thingino camera", func(t *testing.T) {
		f := newFakeCamera(t, nil)
		cam := f.connect(t, f.options(t))

		info := cam.Info()
		test.That(t, info.Manufacturer, test.ShouldEqual, "Thingino")
		test.That(t, info.SerialNumber, test.ShouldEqual, "SN0001")
		test.That(t, info.MAC, test.ShouldEqual, "00:11:22:33:44:55")

		caps := cam.Capabilities()
		test.That(t, caps.Snapshot, test.ShouldBeTrue)
		test.That(t, caps.PTZ, test.ShouldBeTrue)
		test.That(t, caps.Imaging, test.ShouldBeFalse)

		profiles := cam.Profiles()
		test.That(t, len(profiles), test.ShouldEqual, 2)
		test.That(t, profiles[0].Token, test.ShouldEqual, "Profile_000")
		test.That(t, profiles[0].Index, test.ShouldEqual, 0)
		test.That(t, profiles[0].VideoSourceToken, test.ShouldEqual, "VideoSource_0")
		test.That(t, profiles[1].Token, test.ShouldEqual, "Profile_002")
		test.That(t, profiles[1].Index, test.ShouldEqual, 2)
		test.That(t, cam.MaxResolution(), test.ShouldEqual, 1920)

		main := profiles[0]
		test.That(t, main.PTZ, test.ShouldNotBeNil)
		test.That(t, main.PTZ.Continuous, test.ShouldBeTrue)
		test.That(t, main.PTZ.Relative, test.ShouldBeTrue)
		test.That(t, main.PTZ.Absolute, test.ShouldBeTrue)
		test.That(t, main.PTZ.Presets, test.ShouldResemble, []string{"1", "2"})
		test.That(t, main.Limits, test.ShouldNotBeNil)
		test.That(t, *main.Limits.Pan.Max, test.ShouldEqual, 2600.0)

		// a profile without a PTZ configuration gets every mode
		sub := profiles[1]
		test.That(t, sub.PTZ, test.ShouldNotBeNil)
		test.That(t, sub.PTZ.Continuous, test.ShouldBeTrue)
		test.That(t, sub.Limits, test.ShouldBeNil)

		test.That(t, cam.DeviceMode(), test.ShouldBeTrue)
		test.That(t, cam.PresetName("", "1"), test.ShouldEqual, "Door")
		test.That(t, cam.PresetName("", "9"), test.ShouldEqual, "9")
	})

	t.Run("tolerant mode when ptz is not reported", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) { f.reportPTZ = false })
		cam := f.connect(t, f.options(t))
		test.That(t, cam.Capabilities().PTZ, test.ShouldBeTrue)
		d := cam.Diagnostics()
		test.That(t, d.PTZ.Reported, test.ShouldBeFalse)
		test.That(t, d.PTZ.Available, test.ShouldBeTrue)
		test.That(t, d.PTZ.Tolerant, test.ShouldBeTrue)
		test.That(t, d.PTZ.RuntimeProbe, test.ShouldBeTrue)
		test.That(t, f.count("GetServices"), test.ShouldEqual, 1)
	})

	t.Run("no ptz", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) {
			f.reportPTZ = false
			f.servePTZ = false
		})
		cam := f.connect(t, f.options(t))
		test.That(t, cam.Capabilities().PTZ, test.ShouldBeFalse)
		for _, p := range cam.Profiles() {
			test.That(t, p.PTZ, test.ShouldBeNil)
		}
		test.That(t, f.count("GetPresets"), test.ShouldEqual, 0)

		_, err := cam.PerformPTZ(context.Background(), "", ptzRelativeRight())
		test.That(t, errors.Is(err, ErrPTZUnsupported), test.ShouldBeTrue)
	})

	t.Run("identity from serial only", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) { f.mac = "" })
		cam := f.connect(t, f.options(t))
		test.That(t, cam.Info().MAC, test.ShouldEqual, "")
		test.That(t, cam.Info().SerialNumber, test.ShouldEqual, "SN0001")
	})

	t.Run("no identity", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) {
			f.mac = ""
			f.serial = ""
		})
		_, err := New(context.Background(), f.options(t), logging.NewTestLogger(t))
		test.That(t, errors.Is(err, ErrNoIdentity), test.ShouldBeTrue)
	})

	t.Run("no profiles", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) { f.profiles = `<trt:GetProfilesResponse/>` })
		_, err := New(context.Background(), f.options(t), logging.NewTestLogger(t))
		test.That(t, errors.Is(err, ErrNoProfiles), test.ShouldBeTrue)
	})

	t.Run("no h264 profile", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) {
			f.profiles = `<trt:GetProfilesResponse>
				<trt:Profiles token="jpeg">
					<tt:VideoEncoderConfiguration><tt:Encoding>JPEG</tt:Encoding></tt:VideoEncoderConfiguration>
				</trt:Profiles>
			</trt:GetProfilesResponse>`
		})
		_, err := New(context.Background(), f.options(t), logging.NewTestLogger(t))
		test.That(t, errors.Is(err, ErrNoH264Profile), test.ShouldBeTrue)
	})

	t.Run("unreachable camera", func(t *testing.T) {
		f := newFakeCamera(t, nil)
		opts := f.options(t)
		f.srv.Close()
		opts.CallTimeout = 200 * time.Millisecond
		_, err := New(context.Background(), opts, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("host required", func(t *testing.T) {
		_, err := New(context.Background(), Options{}, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("presets unavailable", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) { f.failPresets = true })
		cam := f.connect(t, f.options(t))
		p, err := cam.Profile("")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, p.PTZ.Presets, test.ShouldBeNil)
	})
}

func TestDeviceMode(t *testing.T) {
	t.Run("generic camera", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) {
			f.manufacturer = "Acme"
			f.model = "IPC-100"
			f.profiles = genericProfiles
		})
		cam := f.connect(t, f.options(t))
		test.That(t, cam.DeviceMode(), test.ShouldBeFalse)
	})

	t.Run("wide step range", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) {
			f.manufacturer = "Acme"
			f.model = "IPC-100"
		})
		cam := f.connect(t, f.options(t))
		test.That(t, cam.DeviceMode(), test.ShouldBeTrue)
	})

	t.Run("extras document", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) {
			f.manufacturer = "Acme"
			f.model = "IPC-100"
			f.profiles = genericProfiles
			f.extrasDoc = extrasDoc
		})
		opts := f.options(t)
		opts.ExtrasEnabled = true
		cam := f.connect(t, opts)
		test.That(t, cam.DeviceMode(), test.ShouldBeTrue)
	})

	t.Run("inferDeviceMode", func(t *testing.T) {
		test.That(t, inferDeviceMode(DeviceInfo{Model: "T31 board"}, false, nil), test.ShouldBeTrue)
		test.That(t, inferDeviceMode(DeviceInfo{Manufacturer: "Acme"}, false, nil), test.ShouldBeFalse)
		test.That(t, inferDeviceMode(DeviceInfo{Manufacturer: "Acme"}, true, nil), test.ShouldBeTrue)
	})
}

func TestDateAndTime(t *testing.T) {
	t.Run("manual clock is corrected", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) {
			f.dateTimeType = "Manual"
			f.clockOffset = -time.Hour
		})
		f.connect(t, f.options(t))
		test.That(t, f.count("SetSystemDateAndTime"), test.ShouldEqual, 1)
		test.That(t, f.body("SetSystemDateAndTime"), test.ShouldContainSubstring, "Manual")
	})

	t.Run("ntp clock is only reported", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) { f.clockOffset = time.Hour })
		f.connect(t, f.options(t))
		test.That(t, f.count("SetSystemDateAndTime"), test.ShouldEqual, 0)
	})

	t.Run("clock in sync", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) { f.dateTimeType = "Manual" })
		cam := f.connect(t, f.options(t))
		test.That(t, f.count("SetSystemDateAndTime"), test.ShouldEqual, 0)

		test.That(t, cam.SyncTime(context.Background()), test.ShouldBeNil)
		test.That(t, f.count("SetSystemDateAndTime"), test.ShouldEqual, 1)
	})

	t.Run("rejected zone falls back to the camera zone", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) {
			f.dateTimeType = "Manual"
			f.rejectZones = map[string]bool{"CET": true}
		})
		cam := f.connect(t, f.options(t))
		cam.now = func() time.Time { return time.Now().In(time.FixedZone("CET", 3600)) }

		test.That(t, cam.SyncTime(context.Background()), test.ShouldBeNil)
		test.That(t, f.count("SetSystemDateAndTime"), test.ShouldEqual, 2)
		body := f.body("SetSystemDateAndTime")
		test.That(t, body, test.ShouldContainSubstring, "TZ>UTC<")
		test.That(t, body, test.ShouldNotContainSubstring, "CET")
	})

	t.Run("every zone rejected falls back to none", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) {
			f.dateTimeType = "Manual"
			f.rejectZones = map[string]bool{"CET": true, "UTC": true}
		})
		cam := f.connect(t, f.options(t))
		cam.now = func() time.Time { return time.Now().In(time.FixedZone("CET", 3600)) }

		test.That(t, cam.SyncTime(context.Background()), test.ShouldBeNil)
		test.That(t, f.count("SetSystemDateAndTime"), test.ShouldEqual, 3)
		test.That(t, f.body("SetSystemDateAndTime"), test.ShouldNotContainSubstring, "TimeZone")
	})
}

func TestMedia(t *testing.T) {
	t.Run("stream uri", func(t *testing.T) {
		f := newFakeCamera(t, nil)
		cam := f.connect(t, f.options(t))
		u, err := cam.StreamURI(context.Background(), "Profile_002")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, u.Scheme, test.ShouldEqual, "rtsp")
		test.That(t, u.Path, test.ShouldEqual, "/Profile_002")

		_, err = cam.StreamURI(context.Background(), "nope")
		test.That(t, errors.Is(err, ErrUnknownProfile), test.ShouldBeTrue)
	})

	t.Run("imaging", func(t *testing.T) {
		f := newFakeCamera(t, func(f *fakeCamera) { f.imaging = true })
		cam := f.connect(t, f.options(t))
		test.That(t, cam.Capabilities().Imaging, test.ShouldBeTrue)

		err := cam.SetImagingSettings(context.Background(), "", map[string]interface{}{"IrCutFilter": "AUTO"})
		test.That(t, err, test.ShouldBeNil)
		body := f.body("SetImagingSettings")
		test.That(t, body, test.ShouldContainSubstring, "VideoSource_0")
		test.That(t, body, test.ShouldContainSubstring, "AUTO")

		err = cam.SetImagingSettings(context.Background(), "", nil)
		test.That(t, errors.Is(err, ErrInvalidArgument), test.ShouldBeTrue)
	})

	t.Run("imaging unsupported", func(t *testing.T) {
		f := newFakeCamera(t, nil)
		cam := f.connect(t, f.options(t))
		err := cam.SetImagingSettings(context.Background(), "", map[string]interface{}{"Brightness": 50})
		test.That(t, errors.Is(err, ErrImagingUnsupported), test.ShouldBeTrue)
	})

	t.Run("reboot", func(t *testing.T) {
		f := newFakeCamera(t, nil)
		cam := f.connect(t, f.options(t))
		test.That(t, cam.Reboot(context.Background()), test.ShouldBeNil)
		test.That(t, f.count("SystemReboot"), test.ShouldEqual, 1)
	})
}

func TestDiagnostics(t *testing.T) {
	f := newFakeCamera(t, func(f *fakeCamera) {
		f.extrasDoc = extrasDoc
		f.relays = []string{"AlarmOut_0"}
	})
	opts := f.options(t)
	opts.ExtrasEnabled = true
	cam := f.connect(t, opts)

	d := cam.Diagnostics()
	test.That(t, d.Info.Manufacturer, test.ShouldEqual, "Thingino")
	test.That(t, d.PTZ.DeviceMode, test.ShouldBeTrue)
	test.That(t, d.PTZ.Reported, test.ShouldBeTrue)
	test.That(t, d.MaxResolution, test.ShouldEqual, 1920)
	test.That(t, len(d.Profiles), test.ShouldEqual, 2)
	test.That(t, d.Extras.Enabled, test.ShouldBeTrue)
	test.That(t, d.Extras.Source, test.ShouldEqual, "onvif")
	test.That(t, d.Extras.Toggles, test.ShouldResemble, []string{"Light"})
	test.That(t, d.Extras.Aux, test.ShouldResemble, []string{"Reboot"})
	test.That(t, len(d.Extras.Relays), test.ShouldEqual, 1)
	test.That(t, d.Services["deviceio"], test.ShouldEndWith, "/onvif/deviceio_service")
	test.That(t, d.Extras.ExecEndpoint, test.ShouldContainSubstring, "/x/exec.cgi")
	for _, s := range append([]string{d.Extras.ExecEndpoint, d.Extras.Endpoint}, servicesOf(d)...) {
		test.That(t, strings.Contains(s, "secret"), test.ShouldBeFalse)
	}
}

func servicesOf(d Diagnostics) []string {
	out := []string{}
	for _, s := range d.Services {
		out = append(out, s)
	}
	return out
}
