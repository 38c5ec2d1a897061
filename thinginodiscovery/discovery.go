package thinginodiscovery

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.viam.com/rdk/logging"

	"github.com/viam-modules/thinginoonvif/onvif/wsdiscovery"
	"github.com/viam-modules/thinginoonvif/onvifcam"
)

// connectTimeout bounds each ONVIF call while a discovered camera is being identified.
const connectTimeout = 5 * time.Second

// Credentials are tried in order against every discovered camera.
type Credentials struct {
	User string `json:"user"`
	Pass string `json:"pass"`
}

// CameraInfo is what discovery learned about one camera.
type CameraInfo struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
	MAC          string `json:"mac,omitempty"`
	// Profile is the token of the widest H264 profile.
	Profile  string `json:"profile"`
	Width    int    `json:"width"`
	PTZ      bool   `json:"ptz"`
	Profiles int    `json:"profiles"`

	creds Credentials
}

// Name is a resource name built from the camera identity.
func (c CameraInfo) Name() string {
	parts := []string{}
	for _, s := range []string{c.Manufacturer, c.Model, c.SerialNumber} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, c.Host)
	}
	return strToHostName(strings.Join(parts, "-"))
}

// strToHostName replaces every run of characters that may not appear in a host name with a single dash.
func strToHostName(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	return b.String()
}

// DiscoverCameras runs WS-Discovery, adds the manual addresses, and identifies every camera
// that answers with one of the credentials. Cameras that cannot be identified are skipped.
func DiscoverCameras(
	ctx context.Context,
	creds []Credentials,
	manualXAddrs []*url.URL,
	listenFor time.Duration,
	logger logging.Logger,
) ([]CameraInfo, error) {
	discovered := map[string]*url.URL{}
	for _, xaddr := range manualXAddrs {
		discovered[xaddr.Host] = xaddr
	}
	if listenFor > 0 {
		xaddrs, err := wsdiscovery.Discover(ctx, listenFor, logger)
		if err != nil {
			return nil, err
		}
		for _, xaddr := range xaddrs {
			discovered[xaddr.Host] = xaddr
		}
	}

	hosts := make([]string, 0, len(discovered))
	for host := range discovered {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	cams := []CameraInfo{}
	for _, host := range hosts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Debugf("Connecting to ONVIF device with URL: %s", host)
		info, err := DiscoverCameraOnXAddr(ctx, discovered[host], creds, logger)
		if err != nil {
			logger.Warnf("failed to connect to ONVIF device %v", err)
			continue
		}
		cams = append(cams, info)
	}
	return cams, nil
}

// DiscoverCameraOnXAddr identifies the camera behind one device service address, trying each
// credential until one connects.
func DiscoverCameraOnXAddr(ctx context.Context, xaddr *url.URL, creds []Credentials, logger logging.Logger) (CameraInfo, error) {
	host, port, err := hostPort(xaddr)
	if err != nil {
		return CameraInfo{}, err
	}
	if len(creds) == 0 {
		creds = []Credentials{{}}
	}
	var lastErr error
	for _, cred := range creds {
		cam, err := onvifcam.New(ctx, onvifcam.Options{
			Host:        host,
			Port:        port,
			Username:    cred.User,
			Password:    cred.Pass,
			CallTimeout: connectTimeout,
		}, logger.Sublogger("camera"))
		if err != nil {
			logger.Debugf("credentials for user %q did not work on %s: %v", cred.User, xaddr.Host, err)
			lastErr = err
			continue
		}
		info := describe(cam, host, port, cred)
		if err := cam.Close(); err != nil {
			logger.Debugf("failed to close camera %s: %v", xaddr.Host, err)
		}
		return info, nil
	}
	return CameraInfo{}, fmt.Errorf("no credentials worked for %s: %w", xaddr.Host, lastErr)
}

func describe(cam *onvifcam.Camera, host string, port int, cred Credentials) CameraInfo {
	info := cam.Info()
	out := CameraInfo{
		Host:         host,
		Port:         port,
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		SerialNumber: info.SerialNumber,
		MAC:          info.MAC,
		PTZ:          cam.Capabilities().PTZ,
		creds:        cred,
	}
	profiles := cam.Profiles()
	out.Profiles = len(profiles)
	widest := cam.MaxResolution()
	for _, p := range profiles {
		if p.Width == widest {
			out.Profile = p.Token
			out.Width = p.Width
			break
		}
	}
	return out
}

func hostPort(xaddr *url.URL) (string, int, error) {
	if xaddr == nil || xaddr.Hostname() == "" {
		return "", 0, fmt.Errorf("invalid device address %v", xaddr)
	}
	port := onvifcam.DefaultPort
	if p := xaddr.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid port in device address %s: %w", xaddr, err)
		}
		port = n
	} else if xaddr.Scheme == "https" {
		port = 443
	}
	return xaddr.Hostname(), port, nil
}

// ParseXAddr turns a host, host:port or device service URL into a device service URL.
func ParseXAddr(s string) (*url.URL, error) {
	if !strings.Contains(s, "://") {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, strconv.Itoa(onvifcam.DefaultPort))
		}
		s = "http://" + s + "/onvif/device_service"
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid camera address %q: %w", s, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid camera address %q: missing host", s)
	}
	return u, nil
}
