// Package thinginoonvif implements a generic component that controls a Thingino camera, or any
// other ONVIF camera, through ONVIF SOAP and the Thingino HTTP side channel.
package thinginoonvif

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"github.com/viam-modules/thinginoonvif/extras"
	"github.com/viam-modules/thinginoonvif/onvifcam"
)

// Family is the model family of this module.
var Family = resource.ModelNamespace("viam").WithFamily("thingino")

// Model is the camera control model.
var Model = Family.WithModel("onvif-camera")

func init() {
	resource.RegisterComponent(
		generic.API,
		Model,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newThinginoCamera,
		},
	)
}

// Config is the camera configuration. The same struct is read from YAML by thinginoctl.
type Config struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	// Profile is the media profile commands use when they name none. Empty means the first one.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// ExtrasEnabled defaults to true.
	ExtrasEnabled  *bool  `json:"extras_enabled,omitempty" yaml:"extras_enabled,omitempty"`
	ExtrasEndpoint string `json:"extras_endpoint,omitempty" yaml:"extras_endpoint,omitempty"`
	ExtrasJSON     string `json:"extras_json,omitempty" yaml:"extras_json,omitempty"`
	// ExecEndpoint defaults to extras.DefaultExecEndpoint; an empty string disables exec.
	ExecEndpoint *string `json:"exec_endpoint,omitempty" yaml:"exec_endpoint,omitempty"`
	HTTPUsername string  `json:"http_username,omitempty" yaml:"http_username,omitempty"`
	HTTPPassword string  `json:"http_password,omitempty" yaml:"http_password,omitempty"`
	HTTPAuth     string  `json:"http_auth,omitempty" yaml:"http_auth,omitempty"`

	PTZAutoStopSeconds float64 `json:"ptz_auto_stop_seconds,omitempty" yaml:"ptz_auto_stop_seconds,omitempty"`
	CallTimeoutSeconds float64 `json:"call_timeout_seconds,omitempty" yaml:"call_timeout_seconds,omitempty"`
	Retries            int     `json:"retries,omitempty" yaml:"retries,omitempty"`

	SkipLocalTLSVerification bool `json:"skip_local_tls_verification,omitempty" yaml:"skip_local_tls_verification,omitempty"`
}

// Validate validates the configuration.
func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf(`expected "host" attribute for %s %q`, Model.String(), path)
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf(`"port" must be between 1 and 65535 for %s %q, got %d`, Model.String(), path, cfg.Port)
	}
	switch strings.ToLower(cfg.HTTPAuth) {
	case "", extras.AuthBasic, extras.AuthDigest, extras.AuthNone:
	default:
		return nil, fmt.Errorf(`"http_auth" must be one of %q, %q or %q for %s %q, got %q`,
			extras.AuthBasic, extras.AuthDigest, extras.AuthNone, Model.String(), path, cfg.HTTPAuth)
	}
	if cfg.PTZAutoStopSeconds < 0 {
		return nil, fmt.Errorf(`"ptz_auto_stop_seconds" cannot be negative for %s %q`, Model.String(), path)
	}
	if cfg.CallTimeoutSeconds < 0 {
		return nil, fmt.Errorf(`"call_timeout_seconds" cannot be negative for %s %q`, Model.String(), path)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf(`"retries" cannot be negative for %s %q`, Model.String(), path)
	}
	if cfg.ExtrasJSON != "" {
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(cfg.ExtrasJSON), &doc); err != nil {
			return nil, fmt.Errorf(`"extras_json" must be a JSON object for %s %q: %w`, Model.String(), path, err)
		}
	}
	return nil, nil
}

// Options converts the configuration into camera options.
func (cfg *Config) Options() onvifcam.Options {
	opts := onvifcam.Options{
		Host:                     cfg.Host,
		Port:                     cfg.Port,
		Username:                 cfg.Username,
		Password:                 cfg.Password,
		SkipLocalTLSVerification: cfg.SkipLocalTLSVerification,
		CallTimeout:              seconds(cfg.CallTimeoutSeconds),
		Retries:                  cfg.Retries,
		ExtrasEnabled:            cfg.ExtrasEnabled == nil || *cfg.ExtrasEnabled,
		ExtrasEndpoint:           cfg.ExtrasEndpoint,
		ExtrasJSON:               cfg.ExtrasJSON,
		ExecEndpoint:             extras.DefaultExecEndpoint,
		HTTPUsername:             cfg.HTTPUsername,
		HTTPPassword:             cfg.HTTPPassword,
		HTTPAuth:                 strings.ToLower(cfg.HTTPAuth),
		ContinuousDuration:       seconds(cfg.PTZAutoStopSeconds),
	}
	if cfg.ExecEndpoint != nil {
		opts.ExecEndpoint = *cfg.ExecEndpoint
	}
	return opts
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

type thinginoCamera struct {
	resource.AlwaysRebuild

	name    resource.Name
	logger  logging.Logger
	cam     *onvifcam.Camera
	profile string
}

func newThinginoCamera(
	ctx context.Context,
	_ resource.Dependencies,
	rawConf resource.Config,
	logger logging.Logger,
) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}
	return NewThinginoCamera(ctx, rawConf.ResourceName(), conf, logger)
}

// NewThinginoCamera connects to the camera and resolves everything it offers.
func NewThinginoCamera(ctx context.Context, name resource.Name, conf *Config, logger logging.Logger) (resource.Resource, error) {
	logger.Debugf("connecting to ONVIF camera at %s", conf.Options().Xaddr())
	cam, err := onvifcam.New(ctx, conf.Options(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up camera %s: %w", conf.Host, err)
	}
	if conf.Profile != "" {
		if _, err := cam.Profile(conf.Profile); err != nil {
			closeCamera(cam, logger)
			return nil, fmt.Errorf("configured profile: %w", err)
		}
	}
	info := cam.Info()
	logger.Infof("connected to %s %s (serial %s, mac %s)", info.Manufacturer, info.Model, info.SerialNumber, info.MAC)
	return &thinginoCamera{name: name, logger: logger, cam: cam, profile: conf.Profile}, nil
}

func closeCamera(cam *onvifcam.Camera, logger logging.Logger) {
	if err := cam.Close(); err != nil {
		logger.Debugf("failed to close camera: %v", err)
	}
}

func (t *thinginoCamera) Name() resource.Name {
	return t.name
}

func (t *thinginoCamera) Close(context.Context) error {
	return t.cam.Close()
}
