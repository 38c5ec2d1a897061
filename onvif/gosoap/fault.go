package gosoap

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Common ONVIF fault subcodes.
const (
	SubcodeNotAuthorized      = "ter:NotAuthorized"
	SubcodeInvalidArgVal      = "ter:InvalidArgVal"
	SubcodeActionNotSupported = "ter:ActionNotSupported"
	SubcodeNoSuchService      = "ter:NoSuchService"
	SubcodeNoProfile          = "ter:NoProfile"
)

// Fault is a SOAP fault returned by a device. It implements error.
type Fault struct {
	Code       string
	Subcode    string
	Reason     string
	Detail     string
	HTTPStatus int
}

func (f *Fault) Error() string {
	code := f.Code
	if f.Subcode != "" {
		code += "/" + f.Subcode
	}
	msg := fmt.Sprintf("SOAP fault %s: %s", code, f.Reason)
	if f.Detail != "" {
		msg += " (" + f.Detail + ")"
	}
	return msg
}

// Text returns every human readable part of the fault in lower case, for substring classification.
func (f *Fault) Text() string {
	return strings.ToLower(strings.Join([]string{f.Code, f.Subcode, f.Reason, f.Detail}, " "))
}

// ParseFault extracts a SOAP 1.2 or 1.1 fault from a response envelope.
// It returns false when data is not an envelope carrying a fault.
func ParseFault(data []byte) (*Fault, bool) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, false
	}
	el := doc.FindElement("./Envelope/Body/Fault")
	if el == nil {
		return nil, false
	}

	f := &Fault{}
	if v := el.FindElement("./Code/Value"); v != nil {
		f.Code = strings.TrimSpace(v.Text())
		// nested subcodes: keep the innermost, that is the ONVIF specific one
		for sub := el.FindElement("./Code/Subcode"); sub != nil; sub = sub.SelectElement("Subcode") {
			if sv := sub.SelectElement("Value"); sv != nil {
				f.Subcode = strings.TrimSpace(sv.Text())
			}
		}
		if t := el.FindElement("./Reason/Text"); t != nil {
			f.Reason = strings.TrimSpace(t.Text())
		}
	} else {
		// SOAP 1.1
		if c := el.SelectElement("faultcode"); c != nil {
			f.Code = strings.TrimSpace(c.Text())
		}
		if s := el.SelectElement("faultstring"); s != nil {
			f.Reason = strings.TrimSpace(s.Text())
		}
	}
	if d := el.SelectElement("Detail"); d != nil {
		f.Detail = strings.TrimSpace(innerText(d))
	} else if d := el.SelectElement("detail"); d != nil {
		f.Detail = strings.TrimSpace(innerText(d))
	}
	return f, true
}

func innerText(el *etree.Element) string {
	parts := []string{}
	if t := strings.TrimSpace(el.Text()); t != "" {
		parts = append(parts, t)
	}
	for _, child := range el.ChildElements() {
		if t := innerText(child); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
