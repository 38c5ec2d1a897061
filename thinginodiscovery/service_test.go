package thinginodiscovery

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
	"go.viam.com/test"

	"github.com/viam-modules/thinginoonvif"
)

// newFakeCamera serves a camera without PTZ that only answers requests signed by admin.
func newFakeCamera(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/onvif/device_service" && r.URL.Path != "/onvif/media_service" {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		doc := etree.NewDocument()
		if err := doc.ReadFromBytes(raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		user := doc.FindElement("./Envelope/Header/Security/UsernameToken/Username")
		if user == nil || user.Text() != "admin" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		req := doc.FindElement("./Envelope/Body/*")
		if req == nil {
			http.Error(w, "empty body", http.StatusBadRequest)
			return
		}
		var body string
		switch req.Tag {
		case "GetCapabilities":
			body = `<tds:GetCapabilitiesResponse><tds:Capabilities>
				<tt:Media><tt:XAddr>` + srv.URL + `/onvif/media_service</tt:XAddr></tt:Media>
			</tds:Capabilities></tds:GetCapabilitiesResponse>`
		case "GetDeviceInformation":
			body = `<tds:GetDeviceInformationResponse>
				<tds:Manufacturer>Thingino</tds:Manufacturer><tds:Model>Cam V3</tds:Model>
				<tds:SerialNumber>SN1</tds:SerialNumber>
			</tds:GetDeviceInformationResponse>`
		case "GetProfiles":
			body = `<trt:GetProfilesResponse>
				<trt:Profiles token="Profile_000"><tt:Name>sub</tt:Name><tt:VideoEncoderConfiguration>
					<tt:Encoding>H264</tt:Encoding>
					<tt:Resolution><tt:Width>640</tt:Width><tt:Height>360</tt:Height></tt:Resolution>
				</tt:VideoEncoderConfiguration></trt:Profiles>
				<trt:Profiles token="Profile_001"><tt:Name>main</tt:Name><tt:VideoEncoderConfiguration>
					<tt:Encoding>H264</tt:Encoding>
					<tt:Resolution><tt:Width>1920</tt:Width><tt:Height>1080</tt:Height></tt:Resolution>
				</tt:VideoEncoderConfiguration></trt:Profiles>
			</trt:GetProfilesResponse>`
		default:
			w.WriteHeader(http.StatusBadRequest)
			body = `<SOAP-ENV:Fault>
				<SOAP-ENV:Code><SOAP-ENV:Value>SOAP-ENV:Sender</SOAP-ENV:Value>
					<SOAP-ENV:Subcode><SOAP-ENV:Value>ter:ActionNotSupported</SOAP-ENV:Value></SOAP-ENV:Subcode>
				</SOAP-ENV:Code>
				<SOAP-ENV:Reason><SOAP-ENV:Text xml:lang="en">not supported</SOAP-ENV:Text></SOAP-ENV:Reason>
			</SOAP-ENV:Fault>`
		}
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope"
	xmlns:tt="http://www.onvif.org/ver10/schema"
	xmlns:tds="http://www.onvif.org/ver10/device/wsdl"
	xmlns:trt="http://www.onvif.org/ver10/media/wsdl"
	xmlns:ter="http://www.onvif.org/ver10/error">
	<SOAP-ENV:Body>`+body+`</SOAP-ENV:Body>
</SOAP-ENV:Envelope>`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDiscovery(t *testing.T, cfg *Config) discovery.Service {
	t.Helper()
	resourceCfg := resource.Config{API: discovery.API, Model: Model, Name: "test", ConvertedAttributes: cfg}
	dis, err := newDiscovery(context.Background(), nil, resourceCfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dis.Name().ShortName(), test.ShouldEqual, "test")
	return dis
}

func TestDiscoverResources(t *testing.T) {
	ctx := context.Background()
	srv := newFakeCamera(t)
	addr := strings.TrimPrefix(srv.URL, "http://")

	t.Run("camera found with configured credentials", func(t *testing.T) {
		dis := newTestDiscovery(t, &Config{
			Credentials:             []Credentials{{User: "viewer", Pass: "x"}, {User: "admin", Pass: "secret"}},
			Hosts:                   []string{addr},
			DiscoveryTimeoutSeconds: -1,
		})
		cfgs, err := dis.DiscoverResources(ctx, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(cfgs), test.ShouldEqual, 1)
		test.That(t, cfgs[0].Name, test.ShouldEqual, "Thingino-Cam-V3-SN1")
		test.That(t, cfgs[0].API, test.ShouldResemble, generic.API)
		test.That(t, cfgs[0].Model, test.ShouldResemble, thinginoonvif.Model)

		conf, err := resource.NativeConfig[*thinginoonvif.Config](cfgs[0])
		test.That(t, err, test.ShouldBeNil)
		test.That(t, conf.Host, test.ShouldEqual, "127.0.0.1")
		test.That(t, conf.Port, test.ShouldEqual, srv.Listener.Addr().(*net.TCPAddr).Port)
		test.That(t, conf.Username, test.ShouldEqual, "admin")
		test.That(t, conf.Password, test.ShouldEqual, "secret")
		test.That(t, conf.Profile, test.ShouldEqual, "Profile_001")
		test.That(t, cfgs[0].Attributes["profile"], test.ShouldEqual, "Profile_001")

		resp, err := dis.DoCommand(ctx, map[string]interface{}{"command": "list-cameras"})
		test.That(t, err, test.ShouldBeNil)
		cams := resp["cameras"].([]interface{})
		test.That(t, len(cams), test.ShouldEqual, 1)
		test.That(t, cams[0].(map[string]interface{})["ptz"], test.ShouldEqual, false)
	})

	t.Run("credentials from extra", func(t *testing.T) {
		dis := newTestDiscovery(t, &Config{Hosts: []string{addr}, DiscoveryTimeoutSeconds: -1})
		_, err := dis.DiscoverResources(ctx, nil)
		test.That(t, err, test.ShouldBeError, errNoCamerasFound)

		cfgs, err := dis.DiscoverResources(ctx, map[string]any{"User": "admin", "Pass": "secret"})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(cfgs), test.ShouldEqual, 1)
	})

	t.Run("unknown command", func(t *testing.T) {
		dis := newTestDiscovery(t, &Config{DiscoveryTimeoutSeconds: -1})
		_, err := dis.DoCommand(ctx, map[string]interface{}{"command": "preview"})
		test.That(t, err, test.ShouldNotBeNil)
		_, err = dis.DoCommand(ctx, map[string]interface{}{})
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestDiscoveryConfig(t *testing.T) {
	t.Run("Test Empty Config", func(t *testing.T) {
		cfg := Config{}
		deps, err := cfg.Validate("")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, deps, test.ShouldBeEmpty)
		test.That(t, cfg.listenFor(), test.ShouldEqual, defaultListenFor)
	})
	t.Run("Test Valid config", func(t *testing.T) {
		cfg := Config{
			Credentials: []Credentials{
				{User: "user1", Pass: "pass1"},
				{User: "user3", Pass: ""},
				{User: "", Pass: ""},
			},
			Hosts:                   []string{"10.0.0.2", "cam.local:8080", "http://10.0.0.3/onvif/device_service"},
			DiscoveryTimeoutSeconds: -1,
		}
		deps, err := cfg.Validate("")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, deps, test.ShouldBeEmpty)
		test.That(t, cfg.listenFor(), test.ShouldEqual, 0)
	})
	t.Run("Test Invalid Config", func(t *testing.T) {
		cfg := Config{Credentials: []Credentials{{User: "", Pass: "pass1"}}}
		_, err := cfg.Validate("")
		test.That(t, err.Error(), test.ShouldContainSubstring, "credential missing username")
		test.That(t, err.Error(), test.ShouldNotContainSubstring, "pass1")

		cfg = Config{Hosts: []string{"http://"}}
		_, err = cfg.Validate("")
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestGetCredFromExtra(t *testing.T) {
	cred, ok := getCredFromExtra(map[string]any{"User": "user", "Pass": "pass"})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cred, test.ShouldResemble, Credentials{User: "user", Pass: "pass"})

	cred, ok = getCredFromExtra(map[string]any{"User": "user"})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cred.Pass, test.ShouldEqual, "")

	_, ok = getCredFromExtra(map[string]any{"User": 1, "Pass": true})
	test.That(t, ok, test.ShouldBeFalse)

	_, ok = getCredFromExtra(nil)
	test.That(t, ok, test.ShouldBeFalse)
}
