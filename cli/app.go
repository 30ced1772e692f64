// Package cli contains the gripperctl operator commands: sending commands and object labels to
// the relay, tailing telemetry, stepping an actuator and simulating a sensor board for bench
// tests.
package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"
)

// Flags.
const (
	urlFlag     = "url"
	configFlag  = "config"
	debugFlag   = "debug"
	timeoutFlag = "timeout"

	tailFlagWindow = "window"
	tailFlagCount  = "count"

	simFlagRate      = "rate"
	simFlagCount     = "count"
	simFlagBaseline  = "baseline"
	simFlagContact   = "contact"
	simFlagStiffness = "stiffness"
	simFlagNoise     = "noise"
	simFlagSeed      = "seed"

	moveFlagChannel = "channel"
	moveFlagKind    = "kind"
	moveFlagFrom    = "from"
	moveFlagStep    = "step"
	moveFlagDelay   = "delay"
	moveFlagPause   = "pause"
)

func newApp() *cli.App {
	return &cli.App{
		Name:            "gripperctl",
		Usage:           "operate a force feedback gripper through its relay",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  urlFlag,
				Usage: "relay websocket `URL`; overrides the config file",
			},
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    debugFlag,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.DurationFlag{
				Name:  timeoutFlag,
				Value: defaultTimeout,
				Usage: "how long to wait for the relay",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "send",
				Usage:     "send a command to the gripper",
				ArgsUsage: "<grasp|release|emergency|reset>",
				Action:    SendAction,
			},
			{
				Name:      "object",
				Usage:     "announce the object in front of the gripper, or None",
				ArgsUsage: "<label|None>",
				Action:    ObjectAction,
			},
			{
				Name:  "tail",
				Usage: "print status changes and telemetry with rolling force statistics",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  tailFlagWindow,
						Value: 50,
						Usage: "number of telemetry frames in the rolling statistics",
					},
					&cli.IntFlag{
						Name:  tailFlagCount,
						Usage: "stop after this many telemetry frames; 0 runs until interrupted",
					},
				},
				Action: TailAction,
			},
			{
				Name:  "simulate",
				Usage: "publish synthetic sensor frames that respond to actuator commands",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  simFlagRate,
						Value: 20,
						Usage: "frames per second",
					},
					&cli.IntFlag{
						Name:  simFlagCount,
						Usage: "stop after this many frames; 0 runs until interrupted",
					},
					&cli.Float64Flag{
						Name:  simFlagBaseline,
						Value: 20,
						Usage: "sensor reading with nothing in the jaws",
					},
					&cli.Float64Flag{
						Name:  simFlagContact,
						Value: 60,
						Usage: "actuator position where the jaws touch the object",
					},
					&cli.Float64Flag{
						Name:  simFlagStiffness,
						Value: 40,
						Usage: "force per actuator unit past contact",
					},
					&cli.Float64Flag{
						Name:  simFlagNoise,
						Value: 15,
						Usage: "standard deviation of the sensor noise",
					},
					&cli.Int64Flag{
						Name:  simFlagSeed,
						Value: 1,
						Usage: "random seed for the sensor noise",
					},
				},
				Action: SimulateAction,
			},
			{
				Name:      "move",
				Usage:     "step an actuator through a sequence of targets",
				ArgsUsage: "[target...]",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  moveFlagChannel,
						Value: 2,
						Usage: "actuator channel",
					},
					&cli.StringFlag{
						Name:  moveFlagKind,
						Value: "pulse",
						Usage: "actuator kind, pulse or servo",
					},
					&cli.IntFlag{
						Name:  moveFlagFrom,
						Value: 1500,
						Usage: "position the actuator starts from",
					},
					&cli.IntFlag{
						Name:  moveFlagStep,
						Value: 20,
						Usage: "distance per command",
					},
					&cli.DurationFlag{
						Name:  moveFlagDelay,
						Value: 10 * time.Millisecond,
						Usage: "wait between commands",
					},
					&cli.DurationFlag{
						Name:  moveFlagPause,
						Value: time.Second,
						Usage: "wait at each target",
					},
				},
				Action: MoveAction,
			},
		},
	}
}

// NewApp returns a new app with the CLI interface.
func NewApp(out, errOut io.Writer) *cli.App {
	app := newApp()
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

// printf prints a message with a newline to the given writer.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}
