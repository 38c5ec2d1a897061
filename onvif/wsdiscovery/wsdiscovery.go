package wsdiscovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.viam.com/rdk/logging"
)

// attempts per interface; announcers sometimes miss the first probe
const attempts = 3

// Discover probes every usable interface and returns the device service URLs that answered,
// one per host.
func Discover(ctx context.Context, listenFor time.Duration, logger logging.Logger) ([]*url.URL, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}
	byHost := map[string]*url.URL{}
	for _, iface := range ifaces {
		if !ValidInterface(iface) {
			continue
		}
		xaddrs, err := DiscoverOnInterface(ctx, iface, listenFor, logger)
		if err != nil {
			logger.Debugf("WS-Discovery on %s: %v", iface.Name, err)
			continue
		}
		for _, u := range xaddrs {
			byHost[u.Host] = u
		}
		if ctx.Err() != nil {
			break
		}
	}
	out := make([]*url.URL, 0, len(byHost))
	for _, u := range byHost {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out, nil
}

// DiscoverOnInterface runs the probe on a single interface.
func DiscoverOnInterface(ctx context.Context, iface net.Interface, listenFor time.Duration, logger logging.Logger) ([]*url.URL, error) {
	logger.Debugf("WS-Discovery starting on interface: %s", iface.Name)
	defer logger.Debugf("WS-Discovery stopping on interface: %s", iface.Name)

	var responses []string
	for i := range attempts {
		if ctx.Err() != nil {
			break
		}
		resp, err := SendProbe(ctx, &iface, listenFor, logger)
		if err != nil {
			logger.Debugf("breaking at attempt %d: failed to send WS-Discovery probe on interface %s: %v", i+1, iface.Name, err)
			break
		}
		responses = append(responses, resp...)
	}
	if len(responses) == 0 {
		return nil, fmt.Errorf("no discovery responses received on interface %s", iface.Name)
	}

	byHost := map[string]*url.URL{}
	for _, r := range responses {
		for _, u := range ExtractXAddrs(r, logger) {
			byHost[u.Host] = u
		}
	}
	out := make([]*url.URL, 0, len(byHost))
	for _, u := range byHost {
		out = append(out, u)
	}
	return out, nil
}

// ValidInterface reports whether iface can carry a multicast probe.
func ValidInterface(iface net.Interface) bool {
	return iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagMulticast != 0 && iface.Flags&net.FlagLoopback == 0
}

// ExtractXAddrs returns the XAddrs of a ProbeMatches response. Malformed responses yield nothing.
func ExtractXAddrs(response string, logger logging.Logger) []*url.URL {
	type probeMatches struct {
		XMLName xml.Name `xml:"Envelope"`
		Body    struct {
			ProbeMatches struct {
				ProbeMatch []struct {
					XAddrs string `xml:"XAddrs"`
				} `xml:"ProbeMatch"`
			} `xml:"ProbeMatches"`
		} `xml:"Body"`
	}

	var pm probeMatches
	if err := xml.NewDecoder(strings.NewReader(response)).Decode(&pm); err != nil {
		logger.Debugf("error unmarshalling ONVIF discovery xml response: %v", err)
		return nil
	}

	xaddrs := []*url.URL{}
	for _, match := range pm.Body.ProbeMatches.ProbeMatch {
		for _, xaddr := range strings.Fields(match.XAddrs) {
			u, err := url.Parse(xaddr)
			if err != nil || u.Host == "" {
				logger.Debugf("failed to parse XAddr %q: %v", xaddr, err)
				continue
			}
			xaddrs = append(xaddrs, u)
		}
	}
	return xaddrs
}
