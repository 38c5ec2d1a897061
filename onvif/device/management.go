package device

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/viam-modules/thinginoonvif/onvif/xsd"
)

// GetDeviceInformation is a request to the GetDeviceInformation onvif endpoint.
type GetDeviceInformation struct {
	XMLName string `xml:"tds:GetDeviceInformation"`
}

// GetNetworkInterfaces is a request to the GetNetworkInterfaces onvif endpoint.
type GetNetworkInterfaces struct {
	XMLName string `xml:"tds:GetNetworkInterfaces"`
}

// GetSystemDateAndTime is a request to the GetSystemDateAndTime onvif endpoint.
type GetSystemDateAndTime struct {
	XMLName string `xml:"tds:GetSystemDateAndTime"`
}

// SetSystemDateAndTime is a request to the SetSystemDateAndTime onvif endpoint.
type SetSystemDateAndTime struct {
	XMLName         string        `xml:"tds:SetSystemDateAndTime"`
	DateTimeType    string        `xml:"tds:DateTimeType"`
	DaylightSavings bool          `xml:"tds:DaylightSavings"`
	TimeZone        *xsd.TimeZone `xml:"tds:TimeZone,omitempty"`
	UTCDateTime     *xsd.DateTime `xml:"tds:UTCDateTime,omitempty"`
}

// SystemReboot is a request to the SystemReboot onvif endpoint.
type SystemReboot struct {
	XMLName string `xml:"tds:SystemReboot"`
}

// GetServices is a request to the GetServices onvif endpoint.
type GetServices struct {
	XMLName           string `xml:"tds:GetServices"`
	IncludeCapability bool   `xml:"tds:IncludeCapability"`
}

// GetDeviceInformationResponse is the response to GetDeviceInformation.
type GetDeviceInformationResponse struct {
	Manufacturer    string `xml:"Manufacturer"`
	Model           string `xml:"Model"`
	FirmwareVersion string `xml:"FirmwareVersion"`
	SerialNumber    string `xml:"SerialNumber"`
	HardwareID      string `xml:"HardwareId"`
}

// GetDeviceInformationResponseEnvelope is the envelope of the GetDeviceInformationResponse.
type GetDeviceInformationResponseEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		GetDeviceInformationResponse GetDeviceInformationResponse `xml:"GetDeviceInformationResponse"`
	} `xml:"Body"`
}

// GetDeviceInformation returns device information.
func (dev *Device) GetDeviceInformation(ctx context.Context) (GetDeviceInformationResponse, error) {
	var zero GetDeviceInformationResponse
	b, err := dev.callDevice(ctx, GetDeviceInformation{})
	if err != nil {
		return zero, fmt.Errorf("failed to get device information: %w", err)
	}
	dev.logger.Debugf("GetDeviceInformation response body: %s", string(b))

	var resp GetDeviceInformationResponseEnvelope
	if err := xml.NewDecoder(bytes.NewReader(b)).Decode(&resp); err != nil {
		return zero, fmt.Errorf("failed to decode device information response: %w", err)
	}
	return resp.Body.GetDeviceInformationResponse, nil
}

// NetworkInterface is the subset of a network interface the client uses.
type NetworkInterface struct {
	Token     string
	Enabled   bool
	Name      string
	HwAddress string
}

// GetNetworkInterfaces returns the device's network interfaces in reported order.
func (dev *Device) GetNetworkInterfaces(ctx context.Context) ([]NetworkInterface, error) {
	b, err := dev.callDevice(ctx, GetNetworkInterfaces{})
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(b); err != nil {
		return nil, fmt.Errorf("failed to parse network interfaces response: %w", err)
	}
	var out []NetworkInterface
	for _, el := range doc.FindElements("./Envelope/Body/GetNetworkInterfacesResponse/NetworkInterfaces") {
		ni := NetworkInterface{Token: el.SelectAttrValue("token", "")}
		if e := el.SelectElement("Enabled"); e != nil {
			ni.Enabled = strings.EqualFold(strings.TrimSpace(e.Text()), "true")
		}
		if e := el.FindElement("./Info/Name"); e != nil {
			ni.Name = strings.TrimSpace(e.Text())
		}
		if e := el.FindElement("./Info/HwAddress"); e != nil {
			ni.HwAddress = strings.TrimSpace(e.Text())
		}
		out = append(out, ni)
	}
	return out, nil
}

// SystemDateAndTime is the decoded GetSystemDateAndTime response.
type SystemDateAndTime struct {
	DateTimeType    string
	DaylightSavings bool
	TimeZone        string
	// UTC is set when the device reported UTCDateTime.
	UTC *time.Time
	// Local is the LocalDateTime fields, interpreted in time.UTC; callers apply TimeZone.
	Local *time.Time
}

// GetSystemDateAndTime returns the device clock.
func (dev *Device) GetSystemDateAndTime(ctx context.Context) (SystemDateAndTime, error) {
	var out SystemDateAndTime
	b, err := dev.callDevice(ctx, GetSystemDateAndTime{})
	if err != nil {
		return out, fmt.Errorf("failed to get system date and time: %w", err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(b); err != nil {
		return out, fmt.Errorf("failed to parse system date and time response: %w", err)
	}
	root := doc.FindElement("./Envelope/Body/GetSystemDateAndTimeResponse/SystemDateAndTime")
	if root == nil {
		return out, fmt.Errorf("SystemDateAndTime missing from response")
	}
	out.DateTimeType = childText(root, "DateTimeType")
	out.DaylightSavings = strings.EqualFold(childText(root, "DaylightSavings"), "true")
	if tz := root.FindElement("./TimeZone/TZ"); tz != nil {
		out.TimeZone = strings.TrimSpace(tz.Text())
	}
	if el := root.SelectElement("UTCDateTime"); el != nil {
		if t, ok := parseDateTime(el); ok {
			out.UTC = &t
		}
	}
	if el := root.SelectElement("LocalDateTime"); el != nil {
		if t, ok := parseDateTime(el); ok {
			out.Local = &t
		}
	}
	return out, nil
}

// SetSystemDateAndTime sets the device clock to a manual UTC time.
func (dev *Device) SetSystemDateAndTime(ctx context.Context, now time.Time, dst bool, tz string) error {
	now = now.UTC()
	req := SetSystemDateAndTime{
		DateTimeType:    "Manual",
		DaylightSavings: dst,
		UTCDateTime: &xsd.DateTime{
			Date: xsd.Date{Year: now.Year(), Month: int(now.Month()), Day: now.Day()},
			Time: xsd.Time{Hour: now.Hour(), Minute: now.Minute(), Second: now.Second()},
		},
	}
	if tz != "" {
		req.TimeZone = &xsd.TimeZone{TZ: tz}
	}
	if _, err := dev.callDevice(ctx, req); err != nil {
		return fmt.Errorf("failed to set system date and time: %w", err)
	}
	return nil
}

// SystemReboot asks the device to restart.
func (dev *Device) SystemReboot(ctx context.Context) error {
	if _, err := dev.callDevice(ctx, SystemReboot{}); err != nil {
		return fmt.Errorf("failed to reboot device: %w", err)
	}
	return nil
}

// GetServices returns namespace to XAddr for every service the device lists.
func (dev *Device) GetServices(ctx context.Context) (map[string]string, error) {
	b, err := dev.callDevice(ctx, GetServices{})
	if err != nil {
		return nil, fmt.Errorf("failed to get services: %w", err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(b); err != nil {
		return nil, fmt.Errorf("failed to parse services response: %w", err)
	}
	out := map[string]string{}
	for _, el := range doc.FindElements("./Envelope/Body/GetServicesResponse/Service") {
		ns := childText(el, "Namespace")
		addr := childText(el, "XAddr")
		if ns != "" && addr != "" {
			out[ns] = addr
		}
	}
	return out, nil
}

func childText(el *etree.Element, tag string) string {
	c := el.SelectElement(tag)
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Text())
}

func parseDateTime(el *etree.Element) (time.Time, bool) {
	vals := map[string]int{}
	for _, path := range []string{"Date/Year", "Date/Month", "Date/Day", "Time/Hour", "Time/Minute", "Time/Second"} {
		c := el.FindElement("./" + path)
		if c == nil {
			return time.Time{}, false
		}
		var v int
		if _, err := fmt.Sscanf(strings.TrimSpace(c.Text()), "%d", &v); err != nil {
			return time.Time{}, false
		}
		vals[path] = v
	}
	month := vals["Date/Month"]
	if month < 1 || month > 12 || vals["Date/Day"] < 1 || vals["Date/Day"] > 31 {
		return time.Time{}, false
	}
	return time.Date(vals["Date/Year"], time.Month(month), vals["Date/Day"],
		vals["Time/Hour"], vals["Time/Minute"], vals["Time/Second"], 0, time.UTC), true
}
