// Package main is a command line client for Thingino and other ONVIF cameras. It drives the
// same component the module registers, so every subcommand maps onto one DoCommand.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"github.com/viam-modules/thinginoonvif"
)

var (
	configFilePath string
	hostFlag       string
	profile        string
	debug          bool

	config *thinginoonvif.Config
	logger logging.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "thinginoctl",
	Short: "A CLI tool to control Thingino and other ONVIF cameras",
	Long: `thinginoctl sends PTZ, preset, extras and maintenance commands to a camera
over ONVIF and the Thingino HTTP side channel.

Reads the camera from a YAML file (specified with --config) using the same
attributes as the module configuration, or from --host alone.

Example:
  ./thinginoctl --config camera.yaml ptz --mode relative --pan LEFT`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.NewLogger("thinginoctl")
		if debug {
			logger.SetLevel(logging.DEBUG)
		}
		if cmd.Name() == "help" || cmd.Name() == discoverCmd.Name() {
			return nil
		}
		var err error
		config, err = loadConfig(configFilePath, hostFlag)
		if err != nil {
			return fmt.Errorf("failed to load configuration for command '%s': %w", cmd.Name(), err)
		}
		return nil
	},
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// run connects to the camera, sends one command and prints the result.
func run(cmd *cobra.Command, command string, args map[string]interface{}) error {
	ctx := cmd.Context()
	res, err := thinginoonvif.NewThinginoCamera(ctx, generic.Named("thinginoctl"), config, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Close(ctx); err != nil {
			logger.Warnf("error closing camera: %v", err)
		}
	}()
	return send(ctx, res, command, args)
}

func send(ctx context.Context, res resource.Resource, command string, args map[string]interface{}) error {
	req := map[string]interface{}{"command": command}
	for k, v := range args {
		req[k] = v
	}
	if profile != "" {
		req["profile"] = profile
	}
	out, err := res.DoCommand(ctx, req)
	if err != nil {
		return err
	}
	if err := printJSON(out); err != nil {
		return err
	}
	if success, ok := out["success"].(bool); ok && !success {
		return fmt.Errorf("%s failed", command)
	}
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFilePath, "config", "c", "", "Path to camera configuration YAML file")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "Camera host, overrides the configuration file")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Media profile token (defaults to the first profile)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// Execute runs the root command until it finishes or is interrupted.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

func main() {
	Execute()
}
