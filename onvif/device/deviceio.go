package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/viam-modules/thinginoonvif/onvif/xsd"
)

// Relay logical states.
const (
	RelayActive   = "active"
	RelayInactive = "inactive"
)

// GetRelayOutputs is a request to the deviceIO GetRelayOutputs endpoint.
type GetRelayOutputs struct {
	XMLName string `xml:"tmd:GetRelayOutputs"`
}

// SetRelayOutputState is a request to drive a relay output.
type SetRelayOutputState struct {
	XMLName          string             `xml:"tmd:SetRelayOutputState"`
	RelayOutputToken xsd.ReferenceToken `xml:"tmd:RelayOutputToken"`
	LogicalState     string             `xml:"tmd:LogicalState"`
}

// RelayOutput is one relay reported by GetRelayOutputs.
type RelayOutput struct {
	Token     string
	Mode      string
	IdleState string
}

// GetRelayOutputs lists the device's relay outputs.
func (dev *Device) GetRelayOutputs(ctx context.Context) ([]RelayOutput, error) {
	b, err := dev.CallMethod(ctx, ServiceDeviceIO, GetRelayOutputs{})
	if err != nil {
		return nil, fmt.Errorf("failed to get relay outputs: %w", err)
	}
	return ParseRelayOutputs(b)
}

// ParseRelayOutputs decodes a GetRelayOutputsResponse envelope. Relays without a token are skipped.
func ParseRelayOutputs(data []byte) ([]RelayOutput, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse relay outputs response: %w", err)
	}
	var out []RelayOutput
	for _, el := range doc.FindElements("./Envelope/Body/GetRelayOutputsResponse/RelayOutputs") {
		token := strings.TrimSpace(el.SelectAttrValue("token", ""))
		if token == "" {
			continue
		}
		r := RelayOutput{Token: token}
		if props := el.SelectElement("Properties"); props != nil {
			r.Mode = childText(props, "Mode")
			r.IdleState = childText(props, "IdleState")
		}
		out = append(out, r)
	}
	return out, nil
}

// SetRelayOutputState sets a relay to active (on) or inactive (off).
func (dev *Device) SetRelayOutputState(ctx context.Context, token xsd.ReferenceToken, active bool) error {
	state := RelayInactive
	if active {
		state = RelayActive
	}
	if _, err := dev.CallMethod(ctx, ServiceDeviceIO, SetRelayOutputState{
		RelayOutputToken: token,
		LogicalState:     state,
	}); err != nil {
		return fmt.Errorf("failed to set relay %s %s: %w", token, state, err)
	}
	return nil
}
