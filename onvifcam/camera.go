// Package onvifcam is the control plane of one ONVIF camera. It resolves what the camera can
// do once at setup, then routes PTZ, preset, imaging and extras commands through a retrying
// session, tolerating the gaps in Thingino firmware's ONVIF support.
package onvifcam

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viam-modules/thinginoonvif/extras"
	"github.com/viam-modules/thinginoonvif/onvif/device"
	"github.com/viam-modules/thinginoonvif/ptzmap"
	"github.com/viam-modules/thinginoonvif/state"
)

// Defaults.
const (
	DefaultPort               = 80
	DefaultContinuousDuration = 500 * time.Millisecond
	deviceServicePath         = "/onvif/device_service"
)

var (
	// ErrNoProfiles is returned by New when the camera reports no media profiles.
	ErrNoProfiles = errors.New("no camera profiles found")
	// ErrNoH264Profile is returned by New when none of the profiles is H264.
	ErrNoH264Profile = errors.New("no H264 camera profile found")
	// ErrNoIdentity is returned by New when the camera has neither a MAC address nor a serial number.
	ErrNoIdentity = errors.New("camera reported neither a MAC address nor a serial number")
	// ErrUnknownProfile is a profile token the camera did not report.
	ErrUnknownProfile = errors.New("unknown profile")
	// ErrPTZUnsupported is returned by PTZ operations on a camera without PTZ.
	ErrPTZUnsupported = errors.New("PTZ actions are not supported on this device")
	// ErrInvalidArgument marks a malformed command argument.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrImagingUnsupported is returned by imaging operations on a camera without an imaging service.
	ErrImagingUnsupported = errors.New("imaging is not supported on this device")
)

// Options configures a Camera.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string

	SkipLocalTLSVerification bool
	CallTimeout              time.Duration
	Retries                  int

	ExtrasEnabled  bool
	ExtrasEndpoint string
	ExtrasJSON     string
	// ExecEndpoint is used as given; empty disables command execution.
	ExecEndpoint string
	HTTPUsername string
	HTTPPassword string
	HTTPAuth     string

	// ContinuousDuration is how long a continuous move runs when the request does not say.
	ContinuousDuration time.Duration
}

// Xaddr is the device service address for the options.
func (o Options) Xaddr() *url.URL {
	port := o.Port
	if port <= 0 {
		port = DefaultPort
	}
	return &url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(o.Host, strconv.Itoa(port)),
		Path:   deviceServicePath,
	}
}

// Capabilities are the services the camera can be used for.
type Capabilities struct {
	Snapshot bool `json:"snapshot"`
	PTZ      bool `json:"ptz"`
	Imaging  bool `json:"imaging"`
	Events   bool `json:"events"`
}

// DeviceInfo identifies the camera.
type DeviceInfo struct {
	Manufacturer    string `json:"manufacturer"`
	Model           string `json:"model"`
	FirmwareVersion string `json:"firmware_version"`
	SerialNumber    string `json:"serial_number"`
	HardwareID      string `json:"hardware_id"`
	MAC             string `json:"mac"`
}

// PTZConfig is what a profile's PTZ configuration advertises.
type PTZConfig struct {
	Continuous bool `json:"continuous"`
	Relative   bool `json:"relative"`
	Absolute   bool `json:"absolute"`
	// Presets holds preset tokens; nil means the list is unknown.
	Presets     []string          `json:"presets"`
	PresetNames map[string]string `json:"preset_names,omitempty"`
}

// Profile is an H264 media profile. Index is its position among all the profiles the camera reported.
type Profile struct {
	Index            int            `json:"index"`
	Token            string         `json:"token"`
	Name             string         `json:"name"`
	Encoding         string         `json:"encoding"`
	Width            int            `json:"width"`
	Height           int            `json:"height"`
	VideoSourceToken string         `json:"video_source_token,omitempty"`
	PTZ              *PTZConfig     `json:"ptz,omitempty"`
	Limits           *ptzmap.Limits `json:"-"`
}

func (p Profile) clone() Profile {
	if p.PTZ != nil {
		cfg := *p.PTZ
		if cfg.Presets != nil {
			cfg.Presets = append([]string{}, cfg.Presets...)
		}
		if cfg.PresetNames != nil {
			names := make(map[string]string, len(cfg.PresetNames))
			for k, v := range cfg.PresetNames {
				names[k] = v
			}
			cfg.PresetNames = names
		}
		p.PTZ = &cfg
	}
	if p.Limits != nil {
		limits := *p.Limits
		p.Limits = &limits
	}
	return p
}

// Camera is one connected camera. It owns the session and is the only writer of what was
// resolved about the camera; commands read a snapshot of it under the read lock.
type Camera struct {
	opts    Options
	logger  logging.Logger
	session *device.Session
	mapper  *ptzmap.Mapper
	state   *state.Cache
	http    *extras.Client
	now     func() time.Time

	mu            sync.RWMutex
	info          DeviceInfo
	caps          Capabilities
	profiles      []Profile
	extras        extras.Set
	extrasFound   bool
	deviceMode    bool
	ptzReported   bool
	ptzAvailable  bool
	ptzRuntime    bool
	tolerant      bool
	maxResolution int
}

// New connects to the camera and resolves its identity, capabilities, profiles and extras.
// It fails when the camera cannot be identified or has nothing to stream.
func New(ctx context.Context, opts Options, logger logging.Logger) (*Camera, error) {
	if opts.Host == "" {
		return nil, errors.New("camera host is required")
	}
	if opts.ContinuousDuration <= 0 {
		opts.ContinuousDuration = DefaultContinuousDuration
	}
	session, err := device.NewSession(device.SessionParams{
		Xaddr:                    opts.Xaddr(),
		Username:                 opts.Username,
		Password:                 opts.Password,
		SkipLocalTLSVerification: opts.SkipLocalTLSVerification,
		Retries:                  opts.Retries,
		CallTimeout:              opts.CallTimeout,
	}, logger.Sublogger("session"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ONVIF session")
	}

	c := newCamera(opts, session, logger)
	if err := c.setup(ctx); err != nil {
		closeSession(session, logger)
		return nil, err
	}
	return c, nil
}

func newCamera(opts Options, session *device.Session, logger logging.Logger) *Camera {
	httpUser, httpPass := opts.HTTPUsername, opts.HTTPPassword
	if httpUser == "" {
		httpUser = opts.Username
	}
	if httpPass == "" {
		httpPass = opts.Password
	}
	c := &Camera{
		opts:    opts,
		logger:  logger,
		session: session,
		state:   state.New(),
		now:     time.Now,
		http: extras.NewClient(extras.Options{
			Host:     opts.Host,
			Port:     opts.Port,
			Username: httpUser,
			Password: httpPass,
			Auth:     opts.HTTPAuth,
		}, logger.Sublogger("extras")),
	}
	c.mapper = ptzmap.NewMapper(ptzmap.CallerFunc(c.callPTZ), logger.Sublogger("ptz"))
	return c
}

func closeSession(session *device.Session, logger logging.Logger) {
	if err := session.Close(); err != nil {
		logger.Debugf("failed to close session: %v", err)
	}
}

// setup runs the resolver. Only the steps that leave the camera unusable are fatal.
func (c *Camera) setup(ctx context.Context) error {
	if err := c.session.Connect(ctx); err != nil {
		return errors.Wrap(err, "failed to resolve ONVIF services")
	}
	c.checkDateAndTime(ctx)

	info, err := c.deviceInfo(ctx)
	if err != nil {
		return err
	}
	c.logger.Debugf("camera info = %+v", info)

	r := &resolver{cam: c}
	caps := r.capabilities(ctx)
	c.logger.Debugf("camera capabilities = %+v", caps)

	profiles, err := r.profiles(ctx, caps.PTZ)
	if err != nil {
		return err
	}

	tolerant := r.ptzAvailable && !r.ptzReported
	c.mu.Lock()
	c.info = info
	c.caps = caps
	c.profiles = profiles
	c.ptzReported = r.ptzReported
	c.ptzAvailable = r.ptzAvailable
	c.tolerant = tolerant
	c.maxResolution = maxResolution(profiles)
	c.mu.Unlock()
	if tolerant {
		c.logger.Debug("PTZ service endpoint detected without reported capabilities; enabling tolerant PTZ mode")
	}

	if c.opts.ExtrasEnabled {
		c.DiscoverExtras(ctx)
	} else {
		c.logger.Debug("Thingino extras disabled")
	}

	if caps.PTZ {
		runtime := r.probePTZ(ctx, profiles)
		c.mu.Lock()
		c.ptzRuntime = runtime
		c.mu.Unlock()
		switch {
		case runtime:
			c.logger.Debugf("PTZ runtime probe succeeded (tolerant mode=%t)", tolerant)
		case r.ptzAvailable:
			c.logger.Debug("PTZ runtime probe failed; keeping PTZ enabled based on service endpoint")
		default:
			c.logger.Debug("PTZ runtime probe skipped; keeping PTZ enabled based on reported capabilities")
		}
	}

	c.mu.Lock()
	c.deviceMode = inferDeviceMode(c.info, c.extrasFound, c.profiles)
	c.mu.Unlock()
	c.logger.Debugf("device specific PTZ mode = %t", c.DeviceMode())
	return nil
}

// Close releases the session. It is safe to call more than once.
func (c *Camera) Close() error {
	return c.session.Close()
}

// Info returns the camera identity.
func (c *Camera) Info() DeviceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Capabilities returns the resolved capabilities.
func (c *Camera) Capabilities() Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps
}

// Profiles returns copies of the H264 profiles.
func (c *Camera) Profiles() []Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p.clone())
	}
	return out
}

// Profile returns a copy of the profile with the given token. An empty token selects the first profile.
func (c *Camera) Profile(token string) (Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profileLocked(token)
}

func (c *Camera) profileLocked(token string) (Profile, error) {
	if len(c.profiles) == 0 {
		return Profile{}, ErrNoProfiles
	}
	if token == "" {
		return c.profiles[0].clone(), nil
	}
	for _, p := range c.profiles {
		if p.Token == token {
			return p.clone(), nil
		}
	}
	return Profile{}, errors.Wrapf(ErrUnknownProfile, "%q", token)
}

// Extras returns the current extras set.
func (c *Camera) Extras() extras.Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.extras
}

// DeviceMode is true when normalized PTZ values are mapped onto device step ranges.
func (c *Camera) DeviceMode() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceMode
}

// MaxResolution is the largest width among the H264 profiles.
func (c *Camera) MaxResolution() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxResolution
}

// State is the per profile motion state cache.
func (c *Camera) State() *state.Cache {
	return c.state
}

func maxResolution(profiles []Profile) int {
	best := 0
	for _, p := range profiles {
		if p.Width > best {
			best = p.Width
		}
	}
	return best
}
