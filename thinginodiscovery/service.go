// Package thinginodiscovery provides the discovery service that finds ONVIF cameras and
// proposes a camera control component for each.
package thinginodiscovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"

	"github.com/viam-modules/thinginoonvif"
)

// defaultListenFor is how long WS-Discovery waits for answers on each interface.
const defaultListenFor = 2 * time.Second

// Model is the model for the ONVIF discovery service.
var (
	Model             = thinginoonvif.Family.WithModel("onvif-discovery")
	errNoCamerasFound = errors.New("no cameras found, ensure cameras are working or check credentials")
	emptyCred         = Credentials{}
)

func init() {
	resource.RegisterService(
		discovery.API,
		Model,
		resource.Registration[discovery.Service, *Config]{
			Constructor: newDiscovery,
		})
}

// Config is the config for the discovery service.
type Config struct {
	Credentials []Credentials `json:"credentials"`
	// Hosts are probed in addition to the cameras that answer WS-Discovery.
	Hosts []string `json:"hosts,omitempty"`
	// DiscoveryTimeoutSeconds of zero uses the default; a negative value skips WS-Discovery.
	DiscoveryTimeoutSeconds float64 `json:"discovery_timeout_seconds,omitempty"`
}

// Validate validates the discovery service.
func (cfg *Config) Validate(_ string) ([]string, error) {
	// check that all creds have usernames set. Note a credential can have both fields empty
	for _, cred := range cfg.Credentials {
		if cred.Pass != "" && cred.User == "" {
			return nil, errors.New("credential missing username")
		}
	}
	for _, host := range cfg.Hosts {
		if _, err := ParseXAddr(host); err != nil {
			return nil, err
		}
	}
	return []string{}, nil
}

func (cfg *Config) listenFor() time.Duration {
	switch {
	case cfg.DiscoveryTimeoutSeconds < 0:
		return 0
	case cfg.DiscoveryTimeoutSeconds == 0:
		return defaultListenFor
	default:
		return time.Duration(cfg.DiscoveryTimeoutSeconds * float64(time.Second))
	}
}

type onvifDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	credentials []Credentials
	hosts       []*url.URL
	listenFor   time.Duration
	logger      logging.Logger

	mu      sync.Mutex
	cameras []CameraInfo
}

func newDiscovery(_ context.Context, _ resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}
	hosts := make([]*url.URL, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		u, err := ParseXAddr(h)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, u)
	}
	return &onvifDiscovery{
		Named:       conf.ResourceName().AsNamed(),
		credentials: append([]Credentials{emptyCred}, cfg.Credentials...),
		hosts:       hosts,
		listenFor:   cfg.listenFor(),
		logger:      logger,
	}, nil
}

// DiscoverResources discovers ONVIF cameras and returns a camera control config for each.
func (dis *onvifDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	creds := dis.credentials
	if extraCred, ok := getCredFromExtra(extra); ok {
		creds = append(creds, extraCred)
	}
	found, err := DiscoverCameras(ctx, creds, dis.hosts, dis.listenFor, dis.logger)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, errNoCamerasFound
	}

	dis.mu.Lock()
	dis.cameras = found
	dis.mu.Unlock()

	cams := make([]resource.Config, 0, len(found))
	for _, camInfo := range found {
		dis.logger.Debugf("%s %s %s", camInfo.Manufacturer, camInfo.Model, camInfo.SerialNumber)
		cfg, err := createCameraConfig(camInfo)
		if err != nil {
			return nil, err
		}
		cams = append(cams, cfg)
	}
	return cams, nil
}

func (dis *onvifDiscovery) DoCommand(_ context.Context, command map[string]interface{}) (map[string]interface{}, error) {
	cmd, ok := command["command"].(string)
	if !ok {
		return nil, errors.New("invalid command type")
	}

	switch cmd {
	case "list-cameras":
		dis.mu.Lock()
		defer dis.mu.Unlock()
		cams := make([]interface{}, 0, len(dis.cameras))
		for _, c := range dis.cameras {
			cams = append(cams, map[string]interface{}{
				"name":         c.Name(),
				"host":         c.Host,
				"port":         c.Port,
				"manufacturer": c.Manufacturer,
				"model":        c.Model,
				"profile":      c.Profile,
				"ptz":          c.PTZ,
			})
		}
		return map[string]interface{}{"cameras": cams}, nil
	default:
		return nil, fmt.Errorf("unknown command: %s", cmd)
	}
}

// CameraConfig is the component configuration for a discovered camera.
func CameraConfig(info CameraInfo) thinginoonvif.Config {
	return thinginoonvif.Config{
		Host:     info.Host,
		Port:     info.Port,
		Username: info.creds.User,
		Password: info.creds.Pass,
		Profile:  info.Profile,
	}
}

func createCameraConfig(info CameraInfo) (resource.Config, error) {
	// using the component's Config struct in case a breaking change occurs
	attributes := CameraConfig(info)
	var result map[string]interface{}

	jsonBytes, err := json.Marshal(attributes)
	if err != nil {
		return resource.Config{}, err
	}
	if err = json.Unmarshal(jsonBytes, &result); err != nil {
		return resource.Config{}, err
	}

	return resource.Config{
		Name: info.Name(), API: generic.API, Model: thinginoonvif.Model,
		Attributes: result, ConvertedAttributes: &attributes,
	}, nil
}

func getCredFromExtra(extra map[string]any) (Credentials, bool) {
	// check for a username from extras
	extraUser, ok := extra["User"].(string)
	if !ok {
		return Credentials{}, false
	}
	// not requiring a password to match config
	extraPass, ok := extra["Pass"].(string)
	if !ok {
		extraPass = ""
	}

	return Credentials{User: extraUser, Pass: extraPass}, true
}
