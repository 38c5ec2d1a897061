package device

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
)

// Session defaults.
const (
	DefaultRetries     = 2
	DefaultCallTimeout = 10 * time.Second
	DefaultBackoff     = 200 * time.Millisecond
)

// SessionParams configures a Session.
type SessionParams struct {
	Xaddr                    *url.URL
	Username                 string
	Password                 string
	SkipLocalTLSVerification bool
	// Retries is how many times a dropped call is re-sent. Zero means DefaultRetries.
	Retries     int
	CallTimeout time.Duration
	Backoff     time.Duration
}

// Session owns the pooled connection to one device and rebuilds it when the device drops a request.
// All service calls go through Call.
type Session struct {
	params SessionParams
	logger logging.Logger

	mu         sync.RWMutex
	dev        *Device
	transport  *http.Transport
	generation uint64
	closed     bool

	resets  atomic.Int64
	retries atomic.Int64
}

// NewSession builds the client without contacting the device.
func NewSession(params SessionParams, logger logging.Logger) (*Session, error) {
	if params.Retries <= 0 {
		params.Retries = DefaultRetries
	}
	if params.CallTimeout <= 0 {
		params.CallTimeout = DefaultCallTimeout
	}
	if params.Backoff <= 0 {
		params.Backoff = DefaultBackoff
	}
	s := &Session{params: params, logger: logger}
	dev, transport, err := s.build()
	if err != nil {
		return nil, err
	}
	s.dev = dev
	s.transport = transport
	return s, nil
}

func (s *Session) build() (*Device, *http.Transport, error) {
	transport, err := NewTransport(s.params.Xaddr, s.params.SkipLocalTLSVerification, DefaultMaxConns, DefaultIdleTimeout)
	if err != nil {
		return nil, nil, err
	}
	dev, err := New(Params{
		Xaddr:      s.params.Xaddr,
		Username:   s.params.Username,
		Password:   s.params.Password,
		HTTPClient: &http.Client{Transport: transport},
	}, s.logger)
	if err != nil {
		return nil, nil, err
	}
	return dev, transport, nil
}

// Connect resolves the device's service address table.
func (s *Session) Connect(ctx context.Context) error {
	return s.Call(ctx, "GetCapabilities", func(ctx context.Context, dev *Device) error {
		return dev.UpdateEndpoints(ctx)
	})
}

// Device returns the current client. It changes after a reset, so callers should not hold on to it.
func (s *Session) Device() (*Device, error) {
	dev, _, err := s.current()
	return dev, err
}

func (s *Session) current() (*Device, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, 0, ErrSessionClosed
	}
	return s.dev, s.generation, nil
}

// Call runs fn against the current client with a per call timeout. When fn fails because the
// connection dropped, the client is rebuilt and fn is run again, up to the configured retries.
// Every other error is returned as is.
func (s *Session) Call(ctx context.Context, label string, fn func(context.Context, *Device) error) error {
	for attempt := 0; ; attempt++ {
		dev, gen, err := s.current()
		if err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.params.CallTimeout)
		err = fn(callCtx, dev)
		cancel()
		if err == nil {
			return nil
		}
		if !IsDisconnect(err) || ctx.Err() != nil {
			return err
		}
		if attempt >= s.params.Retries {
			s.logger.Warnf("%s: giving up after %d retries: %v", label, attempt, err)
			return err
		}

		s.retries.Add(1)
		s.logger.Debugf("%s: connection dropped (%v), resetting session (retry %d/%d)",
			label, err, attempt+1, s.params.Retries)
		if rerr := s.reset(ctx, gen); rerr != nil {
			return rerr
		}
		if !goutils.SelectContextOrWait(ctx, s.params.Backoff*time.Duration(attempt+1)) {
			return err
		}
	}
}

// CallResult is Call for operations that return a value.
func CallResult[T any](ctx context.Context, s *Session, label string, fn func(context.Context, *Device) (T, error)) (T, error) {
	var out T
	err := s.Call(ctx, label, func(ctx context.Context, dev *Device) error {
		v, err := fn(ctx, dev)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// reset replaces the client built at generation gen. Callers that saw an older client and fail
// together only rebuild once.
func (s *Session) reset(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.generation != gen {
		s.mu.Unlock()
		return nil
	}
	dev, transport, err := s.build()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	dev.SetEndpoints(s.dev.Endpoints())
	oldTransport := s.transport
	s.dev = dev
	s.transport = transport
	s.generation++
	s.mu.Unlock()

	oldTransport.CloseIdleConnections()
	s.resets.Add(1)

	updateCtx, cancel := context.WithTimeout(ctx, s.params.CallTimeout)
	defer cancel()
	if err := dev.UpdateEndpoints(updateCtx); err != nil {
		s.logger.Debugf("keeping previous service addresses, GetCapabilities after reset failed: %v", err)
	}
	return nil
}

// ResetCount is the number of times the client was rebuilt.
func (s *Session) ResetCount() int64 {
	return s.resets.Load()
}

// RetryCount is the number of calls re-sent after a dropped connection.
func (s *Session) RetryCount() int64 {
	return s.retries.Load()
}

// Close releases the client and its pooled connections. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev = nil
	if s.transport != nil {
		s.transport.CloseIdleConnections()
		s.transport = nil
	}
	return nil
}
