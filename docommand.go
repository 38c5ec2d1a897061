package thinginoonvif

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/viam-modules/thinginoonvif/onvifcam"
	"github.com/viam-modules/thinginoonvif/ptzmap"
	"github.com/viam-modules/thinginoonvif/state"
)

// DoCommand commands.
const (
	cmdPTZ               = "ptz"
	cmdPTZMove           = "ptz-move"
	cmdPTZZoom           = "ptz-zoom"
	cmdPTZStop           = "ptz-stop"
	cmdPTZContinuous     = "ptz-continuous"
	cmdPTZAbsoluteSteps  = "ptz-absolute-steps"
	cmdPTZMoveStored     = "ptz-move-stored"
	cmdPTZAbsoluteStored = "ptz-absolute-stored"
	cmdPTZAux            = "ptz-aux"
	cmdGotoHome          = "goto-home"
	cmdSetHome           = "set-home"
	cmdGotoPreset        = "goto-preset"
	cmdGotoSelected      = "goto-selected-preset"
	cmdSetPreset         = "set-preset"
	cmdRemovePreset      = "remove-preset"
	cmdRefreshPresets    = "refresh-presets"
	cmdSetRelayState     = "set-relay-state"
	cmdRunAuxExec        = "run-aux-exec"
	cmdRunAux            = "run-aux"
	cmdSetToggle         = "set-toggle"
	cmdSetImaging        = "set-imaging-settings"
	cmdSyncTime          = "sync-time"
	cmdReboot            = "reboot"
	cmdGetProfiles       = "get-profiles"
	cmdGetExtras         = "get-extras"
	cmdRefreshExtras     = "refresh-extras"
	cmdGetStreamURI      = "get-stream-uri"
	cmdDiagnostics       = "diagnostics"
	cmdGetState          = "get-state"
	cmdSetState          = "set-state"
)

// DoCommand maps incoming commands to camera actions. Errors are only returned for malformed
// arguments and unknown profiles or controls; a command the camera fails is logged and
// answered with "success": false.
func (t *thinginoCamera) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, err := getString(cmd, "command")
	if err != nil {
		return nil, errors.New("invalid command request: 'command' key missing or not a string")
	}
	profile, err := getOptionalString(cmd, "profile")
	if err != nil {
		return nil, err
	}
	if profile == "" {
		profile = t.profile
	}

	t.logger.Debugf("Received command: %s with args: %v", command, cmd)

	switch strings.ToLower(command) {
	case cmdPTZ:
		return t.handlePTZ(ctx, profile, cmd)
	case cmdPTZMove:
		return t.handlePTZMove(ctx, profile, cmd)
	case cmdPTZZoom:
		return t.handlePTZZoom(ctx, profile, cmd)
	case cmdPTZStop:
		return t.outcome(t.cam.PerformPTZ(ctx, profile, ptzmap.Request{Mode: ptzmap.Stop}))
	case cmdPTZContinuous:
		return t.handlePTZContinuous(ctx, profile, cmd)
	case cmdPTZAbsoluteSteps:
		return t.handleAbsoluteSteps(ctx, profile, cmd)
	case cmdPTZMoveStored:
		return t.handleMoveStored(ctx, profile, cmd)
	case cmdPTZAbsoluteStored:
		return t.outcome(t.cam.AbsoluteStored(ctx, profile))
	case cmdPTZAux:
		data, err := getString(cmd, "data")
		if err != nil {
			return nil, err
		}
		return t.result(t.cam.SendAuxiliary(ctx, profile, data))
	case cmdGotoHome:
		speed, err := getOptionalFloat64(cmd, "speed")
		if err != nil {
			return nil, err
		}
		return t.result(t.cam.GotoHome(ctx, profile, speed))
	case cmdSetHome:
		return t.result(t.cam.SetHome(ctx, profile))
	case cmdGotoPreset:
		return t.handleGotoPreset(ctx, profile, cmd)
	case cmdGotoSelected:
		return t.outcome(t.cam.GotoSelectedPreset(ctx, profile))
	case cmdSetPreset:
		return t.handleSetPreset(ctx, profile, cmd)
	case cmdRemovePreset:
		preset, err := getString(cmd, "preset")
		if err != nil {
			return nil, err
		}
		return t.result(t.cam.RemovePreset(ctx, profile, preset))
	case cmdRefreshPresets:
		return t.handleRefreshPresets(ctx, profile)
	case cmdSetRelayState:
		return t.handleSetRelayState(ctx, cmd)
	case cmdRunAuxExec:
		exec, err := getString(cmd, "cmd")
		if err != nil {
			return nil, err
		}
		return t.result(t.cam.Exec(ctx, exec))
	case cmdRunAux:
		name, err := getString(cmd, "name")
		if err != nil {
			return nil, err
		}
		return t.result(t.cam.RunAux(ctx, name))
	case cmdSetToggle:
		return t.handleSetToggle(ctx, cmd)
	case cmdSetImaging:
		settings, err := getMap(cmd, "settings")
		if err != nil {
			return nil, err
		}
		return t.result(t.cam.SetImagingSettings(ctx, profile, settings))
	case cmdSyncTime:
		return t.result(t.cam.SyncTime(ctx))
	case cmdReboot:
		return t.result(t.cam.Reboot(ctx))
	case cmdGetProfiles:
		return toMap(map[string]interface{}{"profiles": t.cam.Profiles()})
	case cmdGetExtras:
		return toMap(t.cam.Extras())
	case cmdRefreshExtras:
		return map[string]interface{}{"found": t.cam.DiscoverExtras(ctx)}, nil
	case cmdGetStreamURI:
		return t.handleGetStreamURI(ctx, profile)
	case cmdDiagnostics:
		return toMap(t.cam.Diagnostics())
	case cmdGetState:
		return t.handleGetState(profile)
	case cmdSetState:
		return t.handleSetState(profile, cmd)
	default:
		return nil, fmt.Errorf("unrecognized DoCommand command: %s", command)
	}
}

func (t *thinginoCamera) handlePTZ(ctx context.Context, profile string, cmd map[string]interface{}) (map[string]interface{}, error) {
	mode, err := getString(cmd, "mode")
	if err != nil {
		return nil, err
	}
	r := ptzmap.Request{Mode: ptzmap.Mode(mode)}
	if err := directions(cmd, &r); err != nil {
		return nil, err
	}
	if r.Preset, err = getOptionalString(cmd, "preset"); err != nil {
		return nil, err
	}
	if r.Speed, err = getOptionalFloat64(cmd, "speed"); err != nil {
		return nil, err
	}
	if r.Duration, err = getOptionalDuration(cmd, "duration"); err != nil {
		return nil, err
	}
	distance, err := getOptionalFloat64(cmd, "distance")
	if err != nil {
		return nil, err
	}
	if distance != nil {
		r.Distance = *distance
	} else if r.Distance, err = t.storedDistance(profile); err != nil {
		return nil, err
	}
	return t.outcome(t.cam.PerformPTZ(ctx, profile, r))
}

// handlePTZMove is a relative pan and tilt step.
func (t *thinginoCamera) handlePTZMove(ctx context.Context, profile string, cmd map[string]interface{}) (map[string]interface{}, error) {
	r := ptzmap.Request{Mode: ptzmap.Relative}
	if err := directions(cmd, &r); err != nil {
		return nil, err
	}
	r.Zoom = ""
	if r.Pan == "" && r.Tilt == "" {
		return nil, errors.New("ptz-move needs 'pan' or 'tilt'")
	}
	return t.relative(ctx, profile, cmd, r)
}

// handlePTZZoom is a relative zoom step.
func (t *thinginoCamera) handlePTZZoom(ctx context.Context, profile string, cmd map[string]interface{}) (map[string]interface{}, error) {
	zoom, err := getString(cmd, "zoom")
	if err != nil {
		return nil, err
	}
	return t.relative(ctx, profile, cmd, ptzmap.Request{Mode: ptzmap.Relative, Zoom: strings.ToUpper(zoom)})
}

func (t *thinginoCamera) relative(
	ctx context.Context,
	profile string,
	cmd map[string]interface{},
	r ptzmap.Request,
) (map[string]interface{}, error) {
	distance, err := getOptionalFloat64(cmd, "distance")
	if err != nil {
		return nil, err
	}
	speed, err := getOptionalFloat64(cmd, "speed")
	if err != nil {
		return nil, err
	}
	if distance == nil && speed == nil {
		return t.outcome(t.cam.MoveStored(ctx, profile, r.Pan, r.Tilt, r.Zoom))
	}
	if distance != nil {
		r.Distance = *distance
	} else if r.Distance, err = t.storedDistance(profile); err != nil {
		return nil, err
	}
	r.Speed = speed
	return t.outcome(t.cam.PerformPTZ(ctx, profile, r))
}

func (t *thinginoCamera) handlePTZContinuous(ctx context.Context, profile string, cmd map[string]interface{}) (map[string]interface{}, error) {
	r := ptzmap.Request{Mode: ptzmap.Continuous}
	if err := directions(cmd, &r); err != nil {
		return nil, err
	}
	if r.Pan == "" && r.Tilt == "" && r.Zoom == "" {
		return nil, errors.New("ptz-continuous needs 'pan', 'tilt' or 'zoom'")
	}
	var err error
	if r.Duration, err = getOptionalDuration(cmd, "duration"); err != nil {
		return nil, err
	}
	velocity, err := getOptionalFloat64(cmd, "velocity")
	if err != nil {
		return nil, err
	}
	if velocity != nil {
		r.Distance = *velocity
	} else if r.Distance, err = t.storedDistance(profile); err != nil {
		return nil, err
	}
	return t.outcome(t.cam.PerformPTZ(ctx, profile, r))
}

func (t *thinginoCamera) handleAbsoluteSteps(ctx context.Context, profile string, cmd map[string]interface{}) (map[string]interface{}, error) {
	var r ptzmap.StepsRequest
	var err error
	if r.Pan, err = getFloat64(cmd, "pan"); err != nil {
		return nil, err
	}
	if r.Tilt, err = getFloat64(cmd, "tilt"); err != nil {
		return nil, err
	}
	if r.Zoom, err = getOptionalFloat64(cmd, "zoom"); err != nil {
		return nil, err
	}
	if r.Speed, err = getOptionalFloat64(cmd, "speed"); err != nil {
		return nil, err
	}
	return t.outcome(t.cam.AbsoluteSteps(ctx, profile, r))
}

func (t *thinginoCamera) handleMoveStored(ctx context.Context, profile string, cmd map[string]interface{}) (map[string]interface{}, error) {
	var r ptzmap.Request
	if err := directions(cmd, &r); err != nil {
		return nil, err
	}
	return t.outcome(t.cam.MoveStored(ctx, profile, r.Pan, r.Tilt, r.Zoom))
}

func (t *thinginoCamera) handleGotoPreset(ctx context.Context, profile string, cmd map[string]interface{}) (map[string]interface{}, error) {
	preset, err := getString(cmd, "preset")
	if err != nil {
		return nil, err
	}
	speed, err := getOptionalFloat64(cmd, "speed")
	if err != nil {
		return nil, err
	}
	return t.outcome(t.cam.PerformPTZ(ctx, profile, ptzmap.Request{Mode: ptzmap.GotoPreset, Preset: preset, Speed: speed}))
}

func (t *thinginoCamera) handleSetPreset(ctx context.Context, profile string, cmd map[string]interface{}) (map[string]interface{}, error) {
	preset, err := getOptionalString(cmd, "preset")
	if err != nil {
		return nil, err
	}
	name, err := getOptionalString(cmd, "name")
	if err != nil {
		return nil, err
	}
	if preset == "" && name == "" {
		// fall back to the name drafted in the state cache
		p, err := t.cam.Profile(profile)
		if err != nil {
			return nil, err
		}
		name = t.cam.State().Get(p.Token).PresetName
	}
	token, err := t.cam.SetPreset(ctx, profile, preset, name)
	if err != nil {
		return t.result(err)
	}
	return map[string]interface{}{"success": true, "token": token}, nil
}

func (t *thinginoCamera) handleRefreshPresets(ctx context.Context, profile string) (map[string]interface{}, error) {
	if _, err := t.cam.Profile(profile); err != nil {
		return nil, err
	}
	presets := t.cam.RefreshPresets(ctx, profile)
	out := make([]interface{}, 0, len(presets))
	for _, p := range presets {
		out = append(out, map[string]interface{}{"token": p, "name": t.cam.PresetName(profile, p)})
	}
	return map[string]interface{}{"success": presets != nil, "presets": out}, nil
}

func (t *thinginoCamera) handleSetRelayState(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	relay, err := getString(cmd, "relay")
	if err != nil {
		return nil, err
	}
	active, err := getBool(cmd, "active")
	if err != nil {
		return nil, err
	}
	return t.result(t.cam.SetRelayState(ctx, relay, active))
}

func (t *thinginoCamera) handleSetToggle(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, err := getString(cmd, "name")
	if err != nil {
		return nil, err
	}
	on, err := getBool(cmd, "on")
	if err != nil {
		return nil, err
	}
	return t.result(t.cam.SetToggle(ctx, name, on))
}

func (t *thinginoCamera) handleGetStreamURI(ctx context.Context, profile string) (map[string]interface{}, error) {
	u, err := t.cam.StreamURI(ctx, profile)
	if err != nil {
		return t.result(err)
	}
	return map[string]interface{}{"success": true, "uri": u.String()}, nil
}

func (t *thinginoCamera) handleGetState(profile string) (map[string]interface{}, error) {
	p, err := t.cam.Profile(profile)
	if err != nil {
		return nil, err
	}
	return toMap(t.cam.State().Get(p.Token))
}

// handleSetState updates the fields present in the command and returns the new state.
func (t *thinginoCamera) handleSetState(profile string, cmd map[string]interface{}) (map[string]interface{}, error) {
	p, err := t.cam.Profile(profile)
	if err != nil {
		return nil, err
	}
	var (
		floats  = map[string]*float64{}
		strs    = map[string]*string{}
		setting bool
	)
	for _, key := range []string{"relative_distance", "relative_speed", "absolute_pan", "absolute_tilt", "absolute_speed"} {
		v, err := getOptionalFloat64(cmd, key)
		if err != nil {
			return nil, err
		}
		if v != nil {
			floats[key] = v
			setting = true
		}
	}
	for _, key := range []string{"selected_preset", "preset_name"} {
		if _, ok := cmd[key]; !ok {
			continue
		}
		v, err := getString(cmd, key)
		if err != nil {
			return nil, err
		}
		strs[key] = &v
		setting = true
	}
	if !setting {
		return nil, errors.New("set-state needs at least one state field")
	}
	if d := floats["relative_distance"]; d != nil && *d <= 0 {
		return nil, errors.New("relative_distance must be positive")
	}

	entry := t.cam.State().Update(p.Token, func(e *state.Entry) {
		if v := floats["relative_distance"]; v != nil {
			e.RelativeDistance = *v
		}
		if v := floats["relative_speed"]; v != nil {
			e.RelativeSpeed = v
		}
		if v := floats["absolute_pan"]; v != nil {
			e.AbsolutePan = *v
		}
		if v := floats["absolute_tilt"]; v != nil {
			e.AbsoluteTilt = *v
		}
		if v := floats["absolute_speed"]; v != nil {
			e.AbsoluteSpeed = v
		}
		if v := strs["selected_preset"]; v != nil {
			e.SelectedPreset = *v
		}
		if v := strs["preset_name"]; v != nil {
			e.PresetName = *v
		}
	})
	return toMap(entry)
}

func (t *thinginoCamera) storedDistance(profile string) (float64, error) {
	p, err := t.cam.Profile(profile)
	if err != nil {
		return 0, err
	}
	return t.cam.State().Get(p.Token).RelativeDistance, nil
}

// directions reads the pan, tilt and zoom direction arguments.
func directions(cmd map[string]interface{}, r *ptzmap.Request) error {
	for key, dst := range map[string]*string{"pan": &r.Pan, "tilt": &r.Tilt, "zoom": &r.Zoom} {
		v, err := getOptionalString(cmd, key)
		if err != nil {
			return err
		}
		*dst = strings.ToUpper(v)
	}
	return nil
}

// outcome turns a PTZ outcome into a command result.
func (t *thinginoCamera) outcome(out ptzmap.Outcome, err error) (map[string]interface{}, error) {
	if err != nil {
		return t.result(err)
	}
	return map[string]interface{}{"success": out == ptzmap.Sent, "outcome": string(out)}, nil
}

// result returns caller errors and reports everything else as a failed command.
func (t *thinginoCamera) result(err error) (map[string]interface{}, error) {
	if err == nil {
		return map[string]interface{}{"success": true}, nil
	}
	if isCallerError(err) {
		return nil, err
	}
	t.logger.Warnf("command failed: %v", err)
	return map[string]interface{}{"success": false, "error": err.Error()}, nil
}

func isCallerError(err error) bool {
	return errors.Is(err, onvifcam.ErrInvalidArgument) ||
		errors.Is(err, onvifcam.ErrUnknownProfile) ||
		errors.Is(err, onvifcam.ErrUnknownControl)
}

// toMap converts v into the plain map structure DoCommand results are made of.
func toMap(v interface{}) (map[string]interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
