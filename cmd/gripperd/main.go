// Package main runs the gripper controller: it reads sensor frames, commands and object labels
// from the relay and answers with actuator commands, status changes and telemetry.
package main

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/forcegrip/config"
	"go.viam.com/forcegrip/gripper"
	"go.viam.com/forcegrip/logging"
	"go.viam.com/forcegrip/relay"
)

var logger = logging.NewDebugLogger("gripperd")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,usage=config file"`
	URL        string `flag:"url,usage=relay websocket url; overrides the config file"`
	Mode       string `flag:"mode,usage=fixed or object; overrides the config file"`
	Debug      bool   `flag:"debug"`
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg := config.Default()
	if argsParsed.ConfigFile != "" {
		read, err := config.Read(ctx, argsParsed.ConfigFile, logger)
		if err != nil {
			return err
		}
		cfg = *read
	}
	if argsParsed.URL != "" {
		cfg.Client.URL = argsParsed.URL
	}
	if argsParsed.Mode != "" {
		cfg.Gripper.Mode = gripper.Mode(argsParsed.Mode)
	}
	if argsParsed.Debug {
		cfg.Log.Level = logging.DEBUG
	}
	if err := cfg.Ensure(); err != nil {
		return err
	}
	logFile := cfg.Log.Apply(logger)
	defer func() {
		err = multierr.Combine(err, logFile.Close())
	}()

	controller, err := gripper.NewController(cfg.Gripper, cfg.Estimation, cfg.PID, clock.New(), logger.Sublogger("controller"))
	if err != nil {
		return err
	}
	client, err := relay.NewClient(cfg.Client, logger.Sublogger("client"))
	if err != nil {
		return err
	}
	client.Start(ctx)
	defer func() {
		err = multierr.Combine(err, client.Close())
	}()

	logger.Infow("gripper controller starting", "mode", cfg.Gripper.Mode, "relay", cfg.Client.URL)
	utils.ContextMainReadyFunc(ctx)()
	err = controller.Run(ctx, client.Inbound(), client)
	stats := controller.Stats()
	logger.Infow("gripper controller stopped",
		"state", controller.Machine().State(),
		"frames", stats.Frames, "discarded", stats.Discarded, "commands", stats.Commands)
	return err
}
