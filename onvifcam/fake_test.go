package onvifcam

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viam-modules/thinginoonvif/extras"
)

const (
	thinginoProfiles = `<trt:GetProfilesResponse>
	<trt:Profiles token="Profile_000" fixed="true">
		<tt:Name>Main</tt:Name>
		<tt:VideoSourceConfiguration token="VSC_0">
			<tt:Name>VSC_0</tt:Name>
			<tt:SourceToken>VideoSource_0</tt:SourceToken>
		</tt:VideoSourceConfiguration>
		<tt:VideoEncoderConfiguration token="VEC_0">
			<tt:Name>VEC_0</tt:Name>
			<tt:Encoding>H264</tt:Encoding>
			<tt:Resolution><tt:Width>1920</tt:Width><tt:Height>1080</tt:Height></tt:Resolution>
		</tt:VideoEncoderConfiguration>
		<tt:PTZConfiguration token="PTZ_0">
			<tt:Name>PTZ_0</tt:Name>
			<tt:DefaultContinuousPanTiltVelocitySpace>http://www.onvif.org/ver10/tptz/PanTiltSpaces/VelocityGenericSpace</tt:DefaultContinuousPanTiltVelocitySpace>
			<tt:DefaultRelativePanTiltTranslationSpace>http://www.onvif.org/ver10/tptz/PanTiltSpaces/TranslationGenericSpace</tt:DefaultRelativePanTiltTranslationSpace>
			<tt:DefaultAbsolutePantTiltPositionSpace>http://www.onvif.org/ver10/tptz/PanTiltSpaces/PositionGenericSpace</tt:DefaultAbsolutePantTiltPositionSpace>
			<tt:PanTiltLimits>
				<tt:Range>
					<tt:URI>http://www.onvif.org/ver10/tptz/PanTiltSpaces/PositionGenericSpace</tt:URI>
					<tt:XRange><tt:Min>0</tt:Min><tt:Max>2600</tt:Max></tt:XRange>
					<tt:YRange><tt:Min>0</tt:Min><tt:Max>700</tt:Max></tt:YRange>
				</tt:Range>
			</tt:PanTiltLimits>
			<tt:ZoomLimits>
				<tt:Range>
					<tt:URI>http://www.onvif.org/ver10/tptz/ZoomSpaces/PositionGenericSpace</tt:URI>
					<tt:XRange><tt:Min>0</tt:Min><tt:Max>0</tt:Max></tt:XRange>
				</tt:Range>
			</tt:ZoomLimits>
		</tt:PTZConfiguration>
	</trt:Profiles>
	<trt:Profiles token="Profile_001" fixed="true">
		<tt:Name>Snapshot</tt:Name>
		<tt:VideoEncoderConfiguration token="VEC_1">
			<tt:Encoding>JPEG</tt:Encoding>
			<tt:Resolution><tt:Width>640</tt:Width><tt:Height>360</tt:Height></tt:Resolution>
		</tt:VideoEncoderConfiguration>
	</trt:Profiles>
	<trt:Profiles token="Profile_002" fixed="true">
		<tt:Name>Sub</tt:Name>
		<tt:VideoSourceConfiguration token="VSC_0">
			<tt:SourceToken>VideoSource_0</tt:SourceToken>
		</tt:VideoSourceConfiguration>
		<tt:VideoEncoderConfiguration token="VEC_2">
			<tt:Encoding>H264</tt:Encoding>
			<tt:Resolution><tt:Width>640</tt:Width><tt:Height>360</tt:Height></tt:Resolution>
		</tt:VideoEncoderConfiguration>
	</trt:Profiles>
</trt:GetProfilesResponse>`

	genericProfiles = `<trt:GetProfilesResponse>
	<trt:Profiles token="main">
		<tt:Name>main</tt:Name>
		<tt:VideoEncoderConfiguration token="enc">
			<tt:Encoding>H264</tt:Encoding>
			<tt:Resolution><tt:Width>1280</tt:Width><tt:Height>720</tt:Height></tt:Resolution>
		</tt:VideoEncoderConfiguration>
		<tt:PTZConfiguration token="ptz">
			<tt:DefaultRelativePanTiltTranslationSpace>http://www.onvif.org/ver10/tptz/PanTiltSpaces/TranslationGenericSpace</tt:DefaultRelativePanTiltTranslationSpace>
			<tt:PanTiltLimits>
				<tt:Range>
					<tt:XRange><tt:Min>-1</tt:Min><tt:Max>1</tt:Max></tt:XRange>
					<tt:YRange><tt:Min>-1</tt:Min><tt:Max>1</tt:Max></tt:YRange>
				</tt:Range>
			</tt:PanTiltLimits>
		</tt:PTZConfiguration>
	</trt:Profiles>
</trt:GetProfilesResponse>`

	extrasDoc = `{
	"aux": [
		{"name": "Light On", "exec": "light on"},
		{"name": "Light Off", "exec": "light off"},
		{"name": "Reboot", "exec": "reboot"}
	],
	"relays": [
		{"name": "gate", "open": "gpio set 5", "close": "gpio clear 5"}
	]
}`
)

type fakePreset struct {
	token string
	name  string
}

// fakeCamera serves a Thingino style camera: ONVIF services under /onvif/ and the JSON and
// exec side channel under /x/ on the same port.
type fakeCamera struct {
	srv *httptest.Server

	mu           sync.Mutex
	manufacturer string
	model        string
	serial       string
	mac          string
	reportPTZ    bool
	servePTZ     bool
	imaging      bool
	relays       []string
	profiles     string
	presets      []fakePreset
	nextPreset   int
	extrasDoc    string
	dateTimeType string
	clockOffset  time.Duration
	rejectZones  map[string]bool
	docFetches   int
	failPresets  bool

	calls  []string
	bodies map[string]string
	execs  []string
}

func newFakeCamera(t *testing.T, configure func(f *fakeCamera)) *fakeCamera {
	t.Helper()
	f := &fakeCamera{
		manufacturer: "Thingino",
		model:        "Wyze Cam Pan v3",
		serial:       "SN0001",
		mac:          "00:11:22:33:44:55",
		reportPTZ:    true,
		servePTZ:     true,
		profiles:     thinginoProfiles,
		presets:      []fakePreset{{token: "1", name: "Door"}, {token: "2", name: "Yard"}},
		nextPreset:   3,
		dateTimeType: "NTP",
		bodies:       map[string]string{},
	}
	if configure != nil {
		configure(f)
	}
	f.srv = httptest.NewServer(f)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCamera) options(t *testing.T) Options {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(f.srv.URL, "http://"))
	test.That(t, err, test.ShouldBeNil)
	port, err := strconv.Atoi(portStr)
	test.That(t, err, test.ShouldBeNil)
	return Options{
		Host:               host,
		Port:               port,
		Username:           "admin",
		Password:           "secret",
		CallTimeout:        2 * time.Second,
		ExecEndpoint:       extras.DefaultExecEndpoint,
		ContinuousDuration: 10 * time.Millisecond,
	}
}

func (f *fakeCamera) connect(t *testing.T, opts Options) *Camera {
	t.Helper()
	cam, err := New(context.Background(), opts, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { cam.Close() })
	return cam
}

func (f *fakeCamera) count(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == action {
			n++
		}
	}
	return n
}

func (f *fakeCamera) body(action string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[action]
}

func (f *fakeCamera) extrasFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docFetches
}

func (f *fakeCamera) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.execs...)
}

func (f *fakeCamera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/x/json-onvif.cgi":
		f.mu.Lock()
		f.docFetches++
		doc := f.extrasDoc
		f.mu.Unlock()
		if doc == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, doc)
		return
	case "/x/exec.cgi":
		f.mu.Lock()
		f.execs = append(f.execs, r.URL.Query().Get("cmd"))
		f.mu.Unlock()
		io.WriteString(w, "ok")
		return
	}
	if !strings.HasPrefix(r.URL.Path, "/onvif/") {
		http.NotFound(w, r)
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req := doc.FindElement("./Envelope/Body/*")
	if req == nil {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	service := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/onvif/"), "_service")
	switch {
	case service == "ptz" && !f.servePTZ,
		service == "imaging" && !f.imaging,
		service == "deviceio" && len(f.relays) == 0:
		http.NotFound(w, r)
		return
	}
	f.calls = append(f.calls, req.Tag)
	f.bodies[req.Tag] = string(raw)

	body, status := f.respond(service, req)
	w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// respond is called with f.mu held.
func (f *fakeCamera) respond(service string, req *etree.Element) (string, int) {
	action := req.Tag
	switch service {
	case "device":
		switch action {
		case "GetCapabilities":
			return soapEnvelope(f.capabilities()), http.StatusOK
		case "GetSystemDateAndTime":
			return soapEnvelope(f.dateAndTime()), http.StatusOK
		case "GetDeviceInformation":
			return soapEnvelope(fmt.Sprintf(`<tds:GetDeviceInformationResponse>
				<tds:Manufacturer>%s</tds:Manufacturer>
				<tds:Model>%s</tds:Model>
				<tds:FirmwareVersion>2024.10</tds:FirmwareVersion>
				<tds:SerialNumber>%s</tds:SerialNumber>
				<tds:HardwareId>T31X</tds:HardwareId>
			</tds:GetDeviceInformationResponse>`, f.manufacturer, f.model, f.serial)), http.StatusOK
		case "GetNetworkInterfaces":
			if f.mac == "" {
				return soapFault("ter:ActionNotSupported", "Not implemented"), http.StatusBadRequest
			}
			return soapEnvelope(`<tds:GetNetworkInterfacesResponse>
				<tds:NetworkInterfaces token="eth0">
					<tt:Enabled>true</tt:Enabled>
					<tt:Info><tt:Name>eth0</tt:Name><tt:HwAddress>` + f.mac + `</tt:HwAddress></tt:Info>
				</tds:NetworkInterfaces>
			</tds:GetNetworkInterfacesResponse>`), http.StatusOK
		case "SetSystemDateAndTime":
			if tz := req.FindElement(".//TZ"); tz != nil && f.rejectZones[strings.TrimSpace(tz.Text())] {
				return soapFault("ter:InvalidArgVal", "unknown time zone"), http.StatusBadRequest
			}
			return soapEnvelope(`<tds:SetSystemDateAndTimeResponse/>`), http.StatusOK
		case "SystemReboot":
			return soapEnvelope(`<tds:SystemRebootResponse>
				<tds:Message>Rebooting in 5 seconds</tds:Message>
			</tds:SystemRebootResponse>`), http.StatusOK
		case "GetServices":
			return soapFault("ter:ActionNotSupported", "GetServices not supported"), http.StatusBadRequest
		}
	case "media":
		switch action {
		case "GetServiceCapabilities":
			return soapEnvelope(`<trt:GetServiceCapabilitiesResponse>
				<trt:Capabilities SnapshotUri="true" Rotation="false"/>
			</trt:GetServiceCapabilitiesResponse>`), http.StatusOK
		case "GetProfiles":
			return soapEnvelope(f.profiles), http.StatusOK
		case "GetStreamUri":
			token := childValue(req, "ProfileToken")
			return soapEnvelope(`<trt:GetStreamUriResponse><trt:MediaUri>
				<tt:Uri>rtsp://` + f.srv.Listener.Addr().String() + `/` + token + `</tt:Uri>
			</trt:MediaUri></trt:GetStreamUriResponse>`), http.StatusOK
		}
	case "ptz":
		switch action {
		case "GetPresets":
			if f.failPresets {
				return soapFault("ter:ActionNotSupported", "presets unavailable"), http.StatusBadRequest
			}
			return soapEnvelope(f.presetList()), http.StatusOK
		case "SetPreset":
			token := childValue(req, "PresetToken")
			name := childValue(req, "PresetName")
			if token == "" {
				token = strconv.Itoa(f.nextPreset)
				f.nextPreset++
				f.presets = append(f.presets, fakePreset{token: token, name: name})
			}
			return soapEnvelope(`<tptz:SetPresetResponse><tptz:PresetToken>` + token + `</tptz:PresetToken></tptz:SetPresetResponse>`), http.StatusOK
		case "RemovePreset":
			token := childValue(req, "PresetToken")
			kept := f.presets[:0]
			for _, p := range f.presets {
				if p.token != token {
					kept = append(kept, p)
				}
			}
			f.presets = kept
		}
		return soapEnvelope(`<tptz:` + action + `Response/>`), http.StatusOK
	case "imaging":
		return soapEnvelope(`<timg:` + action + `Response/>`), http.StatusOK
	case "deviceio":
		if action == "GetRelayOutputs" {
			var b strings.Builder
			b.WriteString(`<tmd:GetRelayOutputsResponse>`)
			for _, token := range f.relays {
				b.WriteString(`<tmd:RelayOutputs token="` + token + `"><tt:Properties>
					<tt:Mode>Bistable</tt:Mode><tt:IdleState>closed</tt:IdleState>
				</tt:Properties></tmd:RelayOutputs>`)
			}
			b.WriteString(`</tmd:GetRelayOutputsResponse>`)
			return soapEnvelope(b.String()), http.StatusOK
		}
		return soapEnvelope(`<tmd:` + action + `Response/>`), http.StatusOK
	}
	return soapFault("ter:ActionNotSupported", action+" not supported"), http.StatusBadRequest
}

func (f *fakeCamera) capabilities() string {
	base := f.srv.URL
	var b strings.Builder
	b.WriteString(`<tds:GetCapabilitiesResponse><tds:Capabilities>`)
	b.WriteString(`<tt:Device><tt:XAddr>` + base + `/onvif/device_service</tt:XAddr></tt:Device>`)
	b.WriteString(`<tt:Media><tt:XAddr>` + base + `/onvif/media_service</tt:XAddr></tt:Media>`)
	if f.reportPTZ {
		b.WriteString(`<tt:PTZ><tt:XAddr>` + base + `/onvif/ptz_service</tt:XAddr></tt:PTZ>`)
	}
	b.WriteString(`</tds:Capabilities></tds:GetCapabilitiesResponse>`)
	return b.String()
}

func (f *fakeCamera) dateAndTime() string {
	now := time.Now().UTC().Add(f.clockOffset)
	return fmt.Sprintf(`<tds:GetSystemDateAndTimeResponse><tds:SystemDateAndTime>
		<tt:DateTimeType>%s</tt:DateTimeType>
		<tt:DaylightSavings>false</tt:DaylightSavings>
		<tt:TimeZone><tt:TZ>UTC</tt:TZ></tt:TimeZone>
		<tt:UTCDateTime>
			<tt:Date><tt:Year>%d</tt:Year><tt:Month>%d</tt:Month><tt:Day>%d</tt:Day></tt:Date>
			<tt:Time><tt:Hour>%d</tt:Hour><tt:Minute>%d</tt:Minute><tt:Second>%d</tt:Second></tt:Time>
		</tt:UTCDateTime>
	</tds:SystemDateAndTime></tds:GetSystemDateAndTimeResponse>`,
		f.dateTimeType, now.Year(), int(now.Month()), now.Day(), now.Hour(), now.Minute(), now.Second())
}

func (f *fakeCamera) presetList() string {
	var b strings.Builder
	b.WriteString(`<tptz:GetPresetsResponse>`)
	for _, p := range f.presets {
		b.WriteString(`<tptz:Preset token="` + p.token + `"><tt:Name>` + p.name + `</tt:Name></tptz:Preset>`)
	}
	b.WriteString(`</tptz:GetPresetsResponse>`)
	return b.String()
}

func childValue(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

func soapEnvelope(body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope"
	xmlns:tt="http://www.onvif.org/ver10/schema"
	xmlns:tds="http://www.onvif.org/ver10/device/wsdl"
	xmlns:trt="http://www.onvif.org/ver10/media/wsdl"
	xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl"
	xmlns:timg="http://www.onvif.org/ver20/imaging/wsdl"
	xmlns:tmd="http://www.onvif.org/ver10/deviceIO/wsdl"
	xmlns:ter="http://www.onvif.org/ver10/error">
	<SOAP-ENV:Body>` + body + `</SOAP-ENV:Body>
</SOAP-ENV:Envelope>`
}

func soapFault(subcode, reason string) string {
	return soapEnvelope(`<SOAP-ENV:Fault>
		<SOAP-ENV:Code>
			<SOAP-ENV:Value>SOAP-ENV:Sender</SOAP-ENV:Value>
			<SOAP-ENV:Subcode><SOAP-ENV:Value>` + subcode + `</SOAP-ENV:Value></SOAP-ENV:Subcode>
		</SOAP-ENV:Code>
		<SOAP-ENV:Reason><SOAP-ENV:Text xml:lang="en">` + reason + `</SOAP-ENV:Text></SOAP-ENV:Reason>
	</SOAP-ENV:Fault>`)
}
