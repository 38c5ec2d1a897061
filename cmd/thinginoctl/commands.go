package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/viam-modules/thinginoonvif/thinginodiscovery"
)

var (
	discoverTimeout time.Duration
	discoverUser    string
	discoverPass    string
	discoverHosts   []string

	ptzMode     string
	ptzPan      string
	ptzTilt     string
	ptzZoom     string
	ptzPreset   string
	ptzSpeed    float64
	ptzDistance float64
	ptzDuration float64

	stepsPan   float64
	stepsTilt  float64
	stepsZoom  float64
	stepsSpeed float64

	setHome      bool
	presetName   string
	refreshExtra bool
)

// changed copies the flags the user set into a DoCommand argument map.
func changed(flags *pflag.FlagSet, args map[string]interface{}, names ...string) {
	for _, name := range names {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		switch f.Value.Type() {
		case "float64":
			v, _ := flags.GetFloat64(name)
			args[name] = v
		case "bool":
			v, _ := flags.GetBool(name)
			args[name] = v
		default:
			args[name] = f.Value.String()
		}
	}
}

func onOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "active":
		return true, nil
	case "off", "false", "0", "inactive":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find ONVIF cameras with WS-Discovery and identify them",
	Long: `Probe the local networks with WS-Discovery, add any --camera addresses, and
connect to each camera to read its identity and widest H.264 profile.

A --timeout of 0 skips WS-Discovery and only checks the --camera addresses.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manual := make([]*url.URL, 0, len(discoverHosts))
		for _, h := range discoverHosts {
			u, err := thinginodiscovery.ParseXAddr(h)
			if err != nil {
				return err
			}
			manual = append(manual, u)
		}
		creds := []thinginodiscovery.Credentials{{}}
		if discoverUser != "" {
			creds = append(creds, thinginodiscovery.Credentials{User: discoverUser, Pass: discoverPass})
		}
		cams, err := thinginodiscovery.DiscoverCameras(cmd.Context(), creds, manual, discoverTimeout, logger)
		if err != nil {
			return err
		}
		return printJSON(cams)
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show how the camera was resolved: identity, services, profiles, PTZ and extras",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "diagnostics", nil)
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the H.264 media profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "get-profiles", nil)
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream-uri",
	Short: "Print the RTSP stream URI of a profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "get-stream-uri", nil)
	},
}

var ptzCmd = &cobra.Command{
	Use:   "ptz",
	Short: "Move the camera",
	Long: `Move the camera in one of the modes relative, continuous, absolute, preset or stop.

Directions are LEFT/RIGHT for --pan, UP/DOWN for --tilt and ZOOM_IN/ZOOM_OUT for --zoom.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]interface{}{"mode": ptzMode}
		changed(cmd.Flags(), req, "pan", "tilt", "zoom", "preset", "speed", "distance", "duration")
		return run(cmd, "ptz", req)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop any pan, tilt or zoom movement",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "ptz-stop", nil)
	},
}

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "Move to an absolute position given in device steps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]interface{}{}
		changed(cmd.Flags(), req, "pan", "tilt", "zoom", "speed")
		return run(cmd, "ptz-absolute-steps", req)
	},
}

var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "Go to the home position, or store the current position as home with --set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if setHome {
			return run(cmd, "set-home", nil)
		}
		req := map[string]interface{}{}
		changed(cmd.Flags(), req, "speed")
		return run(cmd, "goto-home", req)
	},
}

var presetCmd = &cobra.Command{
	Use:   "preset",
	Short: "List, go to, store or remove PTZ presets",
}

var presetListCmd = &cobra.Command{
	Use:   "list",
	Short: "Re-read the presets from the camera",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "refresh-presets", nil)
	},
}

var presetGotoCmd = &cobra.Command{
	Use:   "goto TOKEN",
	Short: "Go to a preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]interface{}{"preset": args[0]}
		changed(cmd.Flags(), req, "speed")
		return run(cmd, "goto-preset", req)
	},
}

var presetSetCmd = &cobra.Command{
	Use:   "set [TOKEN]",
	Short: "Store the current position, overwriting TOKEN when given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]interface{}{}
		if len(args) == 1 {
			req["preset"] = args[0]
		}
		changed(cmd.Flags(), req, "name")
		return run(cmd, "set-preset", req)
	},
}

var presetRemoveCmd = &cobra.Command{
	Use:   "remove TOKEN",
	Short: "Remove a preset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "remove-preset", map[string]interface{}{"preset": args[0]})
	},
}

var extrasCmd = &cobra.Command{
	Use:   "extras",
	Short: "Show the auxiliary commands, toggles and relays, re-discovering them with --refresh",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if refreshExtra {
			return run(cmd, "refresh-extras", nil)
		}
		return run(cmd, "get-extras", nil)
	},
}

var execCmd = &cobra.Command{
	Use:   "exec COMMAND",
	Short: "Run a shell command on the camera through the exec endpoint",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "run-aux-exec", map[string]interface{}{"cmd": strings.Join(args, " ")})
	},
}

var auxCmd = &cobra.Command{
	Use:   "aux NAME",
	Short: "Run an auxiliary command by its display name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "run-aux", map[string]interface{}{"name": args[0]})
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle NAME on|off",
	Short: "Switch a toggle such as the IR light",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := onOff(args[1])
		if err != nil {
			return err
		}
		return run(cmd, "set-toggle", map[string]interface{}{"name": args[0], "on": on})
	},
}

var relayCmd = &cobra.Command{
	Use:   "relay NAME on|off",
	Short: "Set a relay by token or display name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		active, err := onOff(args[1])
		if err != nil {
			return err
		}
		return run(cmd, "set-relay-state", map[string]interface{}{"relay": args[0], "active": active})
	},
}

var syncTimeCmd = &cobra.Command{
	Use:   "sync-time",
	Short: "Set the camera clock to this machine's UTC time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "sync-time", nil)
	},
}

var rebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "Reboot the camera",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, "reboot", nil)
	},
}

var doCmd = &cobra.Command{
	Use:   "do COMMAND [JSON]",
	Short: "Send any DoCommand, with its arguments as a JSON object",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]interface{}{}
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &req); err != nil {
				return fmt.Errorf("arguments must be a JSON object: %w", err)
			}
		}
		return run(cmd, args[0], req)
	},
}

func init() {
	discoverCmd.Flags().DurationVarP(&discoverTimeout, "timeout", "t", 2*time.Second, "How long to listen for answers on each interface")
	discoverCmd.Flags().StringVarP(&discoverUser, "user", "u", "", "ONVIF username to try after anonymous access")
	discoverCmd.Flags().StringVar(&discoverPass, "pass", "", "ONVIF password for --user")
	discoverCmd.Flags().StringSliceVar(&discoverHosts, "camera", nil, "Camera address to check besides the WS-Discovery answers")
	rootCmd.AddCommand(discoverCmd)

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(streamCmd)

	ptzCmd.Flags().StringVarP(&ptzMode, "mode", "m", "relative", "Move mode: relative, continuous, absolute, preset or stop")
	ptzCmd.Flags().StringVar(&ptzPan, "pan", "", "Pan direction: LEFT or RIGHT")
	ptzCmd.Flags().StringVar(&ptzTilt, "tilt", "", "Tilt direction: UP or DOWN")
	ptzCmd.Flags().StringVar(&ptzZoom, "zoom", "", "Zoom direction: ZOOM_IN or ZOOM_OUT")
	ptzCmd.Flags().StringVar(&ptzPreset, "preset", "", "Preset token for preset mode")
	ptzCmd.Flags().Float64Var(&ptzSpeed, "speed", 0.5, "Speed (Range: 0.0 to 1.0)")
	ptzCmd.Flags().Float64VarP(&ptzDistance, "distance", "d", 0.1, "Relative step or continuous velocity (Range: 0.0 to 1.0)")
	ptzCmd.Flags().Float64Var(&ptzDuration, "duration", 0, "Seconds a continuous move runs before it is stopped")
	rootCmd.AddCommand(ptzCmd)

	rootCmd.AddCommand(stopCmd)

	stepsCmd.Flags().Float64VarP(&stepsPan, "pan", "x", 0, "Pan position in device steps")
	stepsCmd.Flags().Float64VarP(&stepsTilt, "tilt", "y", 0, "Tilt position in device steps")
	stepsCmd.Flags().Float64VarP(&stepsZoom, "zoom", "z", 0, "Zoom position in device steps")
	stepsCmd.Flags().Float64Var(&stepsSpeed, "speed", 0.5, "Speed (Range: 0.0 to 1.0)")
	_ = stepsCmd.MarkFlagRequired("pan")
	_ = stepsCmd.MarkFlagRequired("tilt")
	rootCmd.AddCommand(stepsCmd)

	homeCmd.Flags().BoolVar(&setHome, "set", false, "Store the current position as home")
	homeCmd.Flags().Float64Var(&ptzSpeed, "speed", 0.5, "Speed (Range: 0.0 to 1.0)")
	rootCmd.AddCommand(homeCmd)

	presetGotoCmd.Flags().Float64Var(&ptzSpeed, "speed", 0.5, "Speed (Range: 0.0 to 1.0)")
	presetSetCmd.Flags().StringVarP(&presetName, "name", "n", "", "Preset name")
	presetCmd.AddCommand(presetListCmd, presetGotoCmd, presetSetCmd, presetRemoveCmd)
	rootCmd.AddCommand(presetCmd)

	extrasCmd.Flags().BoolVar(&refreshExtra, "refresh", false, "Re-discover the extras before listing them")
	rootCmd.AddCommand(extrasCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(auxCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(syncTimeCmd)
	rootCmd.AddCommand(rebootCmd)
	rootCmd.AddCommand(doCmd)
}
