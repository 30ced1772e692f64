// Package main runs the websocket relay every gripper process and operator tool connects to.
package main

import (
	"context"

	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/forcegrip/config"
	"go.viam.com/forcegrip/logging"
	"go.viam.com/forcegrip/relay"
)

var logger = logging.NewDebugLogger("relay")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"config,usage=config file"`
	Port       int    `flag:"port,usage=port to listen on; overrides the config file"`
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
	if argsParsed.Port != 0 {
		cfg.Relay.Port = argsParsed.Port
	}
	if argsParsed.Debug {
		cfg.Log.Level = logging.DEBUG
	}
	logFile := cfg.Log.Apply(logger)
	defer func() {
		err = multierr.Combine(err, logFile.Close())
	}()

	server, err := relay.NewServer(cfg.Relay, logger.Sublogger("hub"))
	if err != nil {
		return err
	}
	return server.ListenAndServe(ctx)
}
