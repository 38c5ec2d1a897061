package device

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/viam-modules/thinginoonvif/onvif/gosoap"
)

var (
	// ErrServiceUnavailable is returned when the device has no endpoint for a service.
	ErrServiceUnavailable = errors.New("onvif service not available")
	// ErrSessionClosed is returned by calls made after Close.
	ErrSessionClosed = errors.New("onvif session closed")
)

// StatusError is a non-200 HTTP response that did not carry a SOAP fault.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("SOAP request to %s failed with status code: %d (%s)",
		e.Endpoint, e.StatusCode, http.StatusText(e.StatusCode))
}

// IsDisconnect reports whether err is a dropped connection or a timeout, the only class of
// failure a Session retries.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	var fault *gosoap.Fault
	var status *StatusError
	var syntax *xml.SyntaxError
	if errors.As(err, &fault) || errors.As(err, &status) || errors.As(err, &syntax) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"eof", "connection reset", "broken pipe", "server closed idle connection", "transport connection broken"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// FaultContains reports whether err is a SOAP fault whose code, reason or detail contains any of substrs,
// compared case insensitively.
func FaultContains(err error, substrs ...string) bool {
	var fault *gosoap.Fault
	if !errors.As(err, &fault) {
		return false
	}
	text := fault.Text()
	for _, s := range substrs {
		if strings.Contains(text, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// IsInvalidPosition reports a PTZ request rejected because the target is out of the device's range.
func IsInvalidPosition(err error) bool {
	return FaultContains(err, "invalid position", "invalidposition")
}

// IsBadRequest reports a request the device refused outright, either as a fault or as an HTTP 400.
func IsBadRequest(err error) bool {
	var status *StatusError
	if errors.As(err, &status) && status.StatusCode == http.StatusBadRequest {
		return true
	}
	return FaultContains(err, "bad request")
}

// IsNotImplemented reports a fault or status meaning the operation or service does not exist on the device.
func IsNotImplemented(err error) bool {
	if errors.Is(err, ErrServiceUnavailable) {
		return true
	}
	var status *StatusError
	if errors.As(err, &status) &&
		(status.StatusCode == http.StatusNotFound || status.StatusCode == http.StatusNotImplemented) {
		return true
	}
	return FaultContains(err, "not implemented", gosoap.SubcodeActionNotSupported, gosoap.SubcodeNoSuchService)
}

// IsUnauthorized reports an authentication failure.
func IsUnauthorized(err error) bool {
	var status *StatusError
	if errors.As(err, &status) && status.StatusCode == http.StatusUnauthorized {
		return true
	}
	return FaultContains(err, gosoap.SubcodeNotAuthorized)
}
