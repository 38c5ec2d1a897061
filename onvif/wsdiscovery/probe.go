// Package wsdiscovery finds ONVIF devices on the local network with a WS-Discovery probe.
package wsdiscovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"go.viam.com/rdk/logging"
	"golang.org/x/net/ipv4"
)

const (
	bufSize          = 8192
	multicastPort    = 3702
	multicastTTL     = 2
	defaultListenFor = 2 * time.Second
)

var multicastGroup = net.IPv4(239, 255, 255, 250)

const probeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<e:Envelope xmlns:e="http://www.w3.org/2003/05/soap-envelope"
            xmlns:w="http://schemas.xmlsoap.org/ws/2004/08/addressing"
            xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery"
            xmlns:dn="http://www.onvif.org/ver10/network/wsdl">
 <e:Header>
  <w:MessageID>uuid:%s</w:MessageID>
  <w:To e:mustUnderstand="true">urn:schemas-xmlsoap-org:ws:2005:04:discovery</w:To>
  <w:Action e:mustUnderstand="true">http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</w:Action>
 </e:Header>
 <e:Body>
  <d:Probe>
   <d:Types>dn:NetworkVideoTransmitter</d:Types>
  </d:Probe>
 </e:Body>
</e:Envelope>`

// ProbeMessage returns a NetworkVideoTransmitter probe with a fresh message id.
func ProbeMessage() string {
	return fmt.Sprintf(probeTemplate, uuid.NewString())
}

// SendProbe multicasts one probe on iface and collects every reply received until the listen window
// closes or ctx is done.
func SendProbe(ctx context.Context, iface *net.Interface, listenFor time.Duration, logger logging.Logger) ([]string, error) {
	if listenFor <= 0 {
		listenFor = defaultListenFor
	}
	c, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, err
	}
	defer c.Close()

	p := ipv4.NewPacketConn(c)
	if err := p.JoinGroup(iface, &net.UDPAddr{IP: multicastGroup}); err != nil {
		return nil, fmt.Errorf("failed to join multicast group on %s: %w", iface.Name, err)
	}
	if err := p.SetMulticastInterface(iface); err != nil {
		return nil, err
	}
	if err := p.SetMulticastTTL(multicastTTL); err != nil {
		logger.Debugf("failed to set multicast ttl on %s: %v", iface.Name, err)
	}

	dst := &net.UDPAddr{IP: multicastGroup, Port: multicastPort}
	if _, err := p.WriteTo([]byte(ProbeMessage()), nil, dst); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(listenFor)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := p.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	// unblock the read loop when the caller gives up early
	stop := context.AfterFunc(ctx, func() { c.SetReadDeadline(time.Now()) })
	defer stop()

	var result []string
	for {
		b := make([]byte, bufSize)
		n, _, _, err := p.ReadFrom(b)
		if err != nil {
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, err
			}
			break
		}
		result = append(result, string(b[:n]))
	}
	return result, nil
}
