package onvifcam

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/viam-modules/thinginoonvif/extras"
	"github.com/viam-modules/thinginoonvif/onvif/device"
	"github.com/viam-modules/thinginoonvif/onvif/xsd"
)

var (
	// ErrExecDisabled is returned when a command needs the exec endpoint and none is configured.
	ErrExecDisabled = errors.New("exec endpoint not configured")
	// ErrUnknownControl is an aux command, toggle or relay the camera did not publish.
	ErrUnknownControl = errors.New("unknown control")
)

// DiscoverExtras looks for the side channel document and ONVIF relay outputs in parallel and
// replaces the extras set. Relays reported over ONVIF take precedence over side channel relays.
// It returns whether a document was found, which also switches PTZ to device mode.
// Nothing is fetched when extras are disabled.
func (c *Camera) DiscoverExtras(ctx context.Context) bool {
	if !c.opts.ExtrasEnabled {
		c.logger.Debug("Thingino extras disabled, skipping discovery")
		return false
	}
	var (
		relays []extras.Relay
		set    extras.Set
		found  bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		relays = c.discoverONVIFRelays(gctx)
		return nil
	})
	g.Go(func() error {
		set, found = c.http.Discover(gctx, extras.DiscoverOptions{
			Endpoint:   c.opts.ExtrasEndpoint,
			ManualJSON: c.opts.ExtrasJSON,
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		c.logger.Debugf("extras discovery failed: %v", err)
	}

	if len(relays) > 0 {
		set.Relays = relays
		set.Source = extras.SourceONVIF
	}
	if !found && len(relays) == 0 {
		c.logger.Debug("Thingino extras not detected")
	} else {
		c.logger.Debugf("Thingino extras parsed (aux=%d, toggles=%d, relays=%d, source=%s, endpoint=%s)",
			len(set.Aux), len(set.Toggles), len(set.Relays), set.Source, set.Endpoint)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.extras = set
	c.extrasFound = found
	if found {
		c.deviceMode = true
	}
	return found
}

func (c *Camera) discoverONVIFRelays(ctx context.Context) []extras.Relay {
	outputs, err := device.CallResult(ctx, c.session, "GetRelayOutputs", func(ctx context.Context, dev *device.Device) ([]device.RelayOutput, error) {
		return dev.GetRelayOutputs(ctx)
	})
	if err != nil {
		c.logger.Debugf("ONVIF relay outputs unavailable: %v", err)
		return nil
	}
	var relays []extras.Relay
	for i, out := range outputs {
		name := fmt.Sprintf("Relay %d", i+1)
		if out.Token != "" {
			name = extras.FormatLabel(out.Token)
		}
		relays = append(relays, extras.Relay{
			Index:     i,
			Name:      name,
			IdleState: out.IdleState,
			Icon:      extras.IconForLabel(name),
			Token:     out.Token,
			ViaONVIF:  true,
		})
	}
	if len(relays) > 0 {
		c.logger.Debugf("ONVIF relay outputs discovered: %d", len(relays))
	}
	return relays
}

// Exec runs a shell command through the side channel.
func (c *Camera) Exec(ctx context.Context, cmd string) error {
	if cmd == "" {
		return errors.Wrap(ErrInvalidArgument, "command is required")
	}
	if c.opts.ExecEndpoint == "" {
		c.logger.Warnf("Thingino exec endpoint not configured; cannot run %q", cmd)
		return ErrExecDisabled
	}
	if err := c.http.Exec(ctx, c.opts.ExecEndpoint, cmd); err != nil {
		c.logger.Warnf("Thingino exec failed: %v", err)
		return err
	}
	return nil
}

// RunAux runs the aux command published under name.
func (c *Camera) RunAux(ctx context.Context, name string) error {
	aux, ok := c.Extras().FindAux(name)
	if !ok {
		return errors.Wrapf(ErrUnknownControl, "aux command %q", name)
	}
	return c.Exec(ctx, aux.Exec)
}

// SetToggle runs the on or off half of a toggle.
func (c *Camera) SetToggle(ctx context.Context, name string, on bool) error {
	tg, ok := c.Extras().FindToggle(name)
	if !ok {
		return errors.Wrapf(ErrUnknownControl, "toggle %q", name)
	}
	if on {
		return c.Exec(ctx, tg.OnExec)
	}
	return c.Exec(ctx, tg.OffExec)
}

// SetRelayState switches a relay found by token, name or index. ONVIF relays are driven with
// SetRelayOutputState, side channel relays with their open and close commands.
func (c *Camera) SetRelayState(ctx context.Context, key string, active bool) error {
	relay, ok := c.Extras().FindRelay(key)
	if !ok {
		return errors.Wrapf(ErrUnknownControl, "relay %q", key)
	}
	if relay.ViaONVIF {
		err := c.session.Call(ctx, "SetRelayOutputState", func(ctx context.Context, dev *device.Device) error {
			return dev.SetRelayOutputState(ctx, xsd.ReferenceToken(relay.Token), active)
		})
		if err != nil {
			c.logger.Warnf("failed to set relay output %s: %v", relay.Token, err)
		}
		return err
	}
	if active {
		return c.Exec(ctx, relay.Open)
	}
	return c.Exec(ctx, relay.Close)
}
