// Package device allows communication with an onvif device.
// inspired by https://github.com/use-go/onvif
package device

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/thinginoonvif/onvif/gosoap"
)

// Xlmns XML Schema.
var Xlmns = map[string]string{
	"tt":   "http://www.onvif.org/ver10/schema",
	"tds":  "http://www.onvif.org/ver10/device/wsdl",
	"trt":  "http://www.onvif.org/ver10/media/wsdl",
	"tptz": "http://www.onvif.org/ver20/ptz/wsdl",
	"timg": "http://www.onvif.org/ver20/imaging/wsdl",
	"tmd":  "http://www.onvif.org/ver10/deviceIO/wsdl",
	"tev":  "http://www.onvif.org/ver10/events/wsdl",
}

// Service endpoint keys, matching the lowercased GetCapabilities element names.
const (
	ServiceDevice   = "device"
	ServiceMedia    = "media"
	ServicePTZ      = "ptz"
	ServiceImaging  = "imaging"
	ServiceDeviceIO = "deviceio"
	ServiceEvents   = "events"
)

const contentType = "application/soap+xml; charset=utf-8"

// Device is one ONVIF device reachable through a fixed HTTP client.
// It holds the service endpoint table resolved from GetCapabilities.
type Device struct {
	xaddr  *url.URL
	logger logging.Logger
	params Params

	mu               sync.RWMutex
	endpoints        map[string]string
	reported         map[string]bool
	pullPointSupport bool
}

// Params configures the device connection.
type Params struct {
	Xaddr      *url.URL
	Username   string
	Password   string
	HTTPClient *http.Client
	// SkipLocalTLSVerification controls whether TLS certificate verification is skipped for local IP addresses.
	// This is necessary for cameras with self-signed certificates.
	SkipLocalTLSVerification bool
}

// GetCapabilities is a request to the GetCapabilities onvif endpoint.
type GetCapabilities struct {
	XMLName  string `xml:"tds:GetCapabilities"`
	Category string `xml:"tds:Category"`
}

// New builds a Device without talking to it. The endpoint table only knows the device service
// until UpdateEndpoints succeeds.
func New(params Params, logger logging.Logger) (*Device, error) {
	if params.Xaddr == nil {
		return nil, fmt.Errorf("device xaddr is required")
	}
	dev := &Device{
		xaddr:     params.Xaddr,
		logger:    logger,
		params:    params,
		endpoints: map[string]string{ServiceDevice: params.Xaddr.String()},
		reported:  map[string]bool{},
	}
	if dev.params.HTTPClient == nil {
		transport, err := NewTransport(params.Xaddr, params.SkipLocalTLSVerification, DefaultMaxConns, DefaultIdleTimeout)
		if err != nil {
			return nil, err
		}
		dev.params.HTTPClient = &http.Client{Transport: transport}
		if transport.TLSClientConfig != nil && transport.TLSClientConfig.InsecureSkipVerify {
			logger.Debugf("TLS certificate verification disabled for local IP address: %s.", params.Xaddr.Hostname())
		}
	}
	return dev, nil
}

// NewDevice construct an ONVIF Device entity and resolves its service endpoints.
func NewDevice(ctx context.Context, params Params, logger logging.Logger) (*Device, error) {
	dev, err := New(params, logger)
	if err != nil {
		return nil, err
	}
	if err := dev.UpdateEndpoints(ctx); err != nil {
		return nil, err
	}
	return dev, nil
}

// Connection pool defaults.
const (
	DefaultMaxConns    = 10
	DefaultIdleTimeout = 30 * time.Second
	dialTimeout        = 5 * time.Second
)

// NewTransport returns a pooled transport bounded to maxConns sockets per host.
func NewTransport(xaddr *url.URL, skipLocalTLSVerification bool, maxConns int, idleTimeout time.Duration) (*http.Transport, error) {
	var skipVerify bool
	if skipLocalTLSVerification {
		ip, err := netip.ParseAddr(xaddr.Hostname())
		if err != nil {
			return nil, fmt.Errorf("failed to parse xaddr hostname %s: %w", xaddr.Hostname(), err)
		}
		skipVerify = ip.IsPrivate() || ip.IsLoopback()
	}
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: idleTimeout,
		}).DialContext,
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		MaxConnsPerHost:     maxConns,
		IdleConnTimeout:     idleTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: skipVerify, //nolint:gosec
		},
	}, nil
}

// UpdateEndpoints calls GetCapabilities and refreshes the endpoint table from the reported XAddrs.
// Endpoints learned some other way are kept unless the device reports a new address for them.
func (dev *Device) UpdateEndpoints(ctx context.Context) error {
	data, err := dev.callDevice(ctx, GetCapabilities{Category: "All"})
	if err != nil {
		return fmt.Errorf("GetCapabilities failed: %w", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return fmt.Errorf("failed to parse GetCapabilities response: %w", err)
	}
	dev.logger.Debugf("GetCapabilitiesResponse: %s", string(data))

	found := map[string]string{}
	for _, path := range []string{
		"./Envelope/Body/GetCapabilitiesResponse/Capabilities/*/XAddr",
		"./Envelope/Body/GetCapabilitiesResponse/Capabilities/Extension/*/XAddr",
	} {
		for _, s := range doc.FindElements(path) {
			addr := strings.TrimSpace(s.Text())
			if addr == "" {
				continue
			}
			dev.logger.Debugf("%s: %s", s.Parent().Tag, addr)
			found[strings.ToLower(s.Parent().Tag)] = addr
		}
	}
	pullPoint := false
	if el := doc.FindElement("./Envelope/Body/GetCapabilitiesResponse/Capabilities/Events/WSPullPointSupport"); el != nil {
		pullPoint = strings.EqualFold(strings.TrimSpace(el.Text()), "true")
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.reported = map[string]bool{}
	for name, addr := range found {
		dev.endpoints[name] = addr
		dev.reported[name] = true
	}
	dev.pullPointSupport = pullPoint
	return nil
}

// GetEndpoint returns specific ONVIF service endpoint address.
func (dev *Device) GetEndpoint(name string) string {
	dev.mu.RLock()
	defer dev.mu.RUnlock()
	return dev.endpoints[name]
}

// SetEndpoint records an endpoint learned outside of GetCapabilities.
func (dev *Device) SetEndpoint(name, addr string) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.endpoints[name] = addr
}

// SetEndpoints merges a whole endpoint table into the device, used when a client is rebuilt.
func (dev *Device) SetEndpoints(endpoints map[string]string) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	for k, v := range endpoints {
		dev.endpoints[k] = v
	}
}

// Endpoints returns a copy of the endpoint table.
func (dev *Device) Endpoints() map[string]string {
	dev.mu.RLock()
	defer dev.mu.RUnlock()
	return maps.Clone(dev.endpoints)
}

// Reported is true when the service was advertised in the last GetCapabilities response.
func (dev *Device) Reported(name string) bool {
	dev.mu.RLock()
	defer dev.mu.RUnlock()
	return dev.reported[name]
}

// PullPointSupport returns the WSPullPointSupport flag of the events capability.
func (dev *Device) PullPointSupport() bool {
	dev.mu.RLock()
	defer dev.mu.RUnlock()
	return dev.pullPointSupport
}

// GetXaddr returns the URL of the Onvif web service.
func (dev *Device) GetXaddr() *url.URL {
	if dev.xaddr == nil {
		return nil
	}
	return &url.URL{
		Scheme: dev.xaddr.Scheme,
		Host:   dev.xaddr.Host,
		Path:   dev.xaddr.Path,
	}
}

// CallMethod sends a request to the named service and returns the raw response envelope.
func (dev *Device) CallMethod(ctx context.Context, service string, method interface{}) ([]byte, error) {
	endpoint := dev.GetEndpoint(service)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: %s", ErrServiceUnavailable, service)
	}
	return dev.callOnvifServiceMethod(ctx, endpoint, method)
}

func (dev *Device) callDevice(ctx context.Context, method interface{}) ([]byte, error) {
	return dev.CallMethod(ctx, ServiceDevice, method)
}

func (dev *Device) callOnvifServiceMethod(ctx context.Context, endpoint string, method interface{}) ([]byte, error) {
	soap := gosoap.NewEnvelope(Xlmns)

	if el, ok := method.(*etree.Element); ok {
		soap.AddBodyContent(el)
	} else {
		output, err := xml.MarshalIndent(method, "  ", "    ")
		if err != nil {
			return nil, err
		}
		if err := soap.AddBodyXML(output); err != nil {
			return nil, err
		}
	}

	if dev.params.Username != "" || dev.params.Password != "" {
		if err := soap.AddWSSecurity(dev.params.Username, dev.params.Password, time.Now()); err != nil {
			return nil, err
		}
	}

	msg, err := soap.Bytes()
	if err != nil {
		return nil, err
	}
	return dev.sendSoap(ctx, endpoint, msg)
}

func (dev *Device) sendSoap(ctx context.Context, endpoint string, message []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(message))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	// Using Do instead of POST to support context cancellation and timeout.
	resp, err := dev.params.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// Faults usually come with a 400 or 500, some firmware sends them with a 200.
	if fault, ok := gosoap.ParseFault(body); ok {
		fault.HTTPStatus = resp.StatusCode
		return nil, fault
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	return body, nil
}
