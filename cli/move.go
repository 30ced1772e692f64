package cli

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/forcegrip/protocol"
)

// defaultMoveTargets is the bench sequence run when no targets are given.
var defaultMoveTargets = []int{1200, 2000, 1600, 2300}

// Steps returns one leg per target. A leg walks from the previous target, or start, toward its
// target in increments of step and always ends exactly on the target.
func Steps(start int, targets []int, step int) [][]int {
	if step < 1 {
		step = 1
	}
	legs := make([][]int, 0, len(targets))
	current := start
	for _, target := range targets {
		dir := step
		if target < current {
			dir = -step
		}
		var leg []int
		for v := current; (dir > 0 && v < target) || (dir < 0 && v > target); v += dir {
			leg = append(leg, v)
		}
		legs = append(legs, append(leg, target))
		current = target
	}
	return legs
}

func parseTargets(args []string) ([]int, error) {
	if len(args) == 0 {
		return defaultMoveTargets, nil
	}
	targets := make([]int, 0, len(args))
	for _, arg := range args {
		v, err := strconv.Atoi(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "target %q", arg)
		}
		if v < 0 {
			return nil, errors.Errorf("target %d must be >= 0", v)
		}
		targets = append(targets, v)
	}
	return targets, nil
}

// sleep waits d, or not at all for d <= 0. It returns false once ctx is done.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	return goutils.SelectContextOrWait(ctx, d)
}

// MoveAction is the corresponding Action for 'move'.
func MoveAction(c *cli.Context) (err error) {
	kind := protocol.ActuatorKind(strings.ToUpper(c.String(moveFlagKind)))
	if kind != protocol.ActuatorPulse && kind != protocol.ActuatorServo {
		return errors.Errorf("--%s must be pulse or servo, got %q", moveFlagKind, c.String(moveFlagKind))
	}
	targets, err := parseTargets(c.Args().Slice())
	if err != nil {
		return err
	}
	legs := Steps(c.Int(moveFlagFrom), targets, c.Int(moveFlagStep))

	logger := newLogger(c)
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	client, err := connect(c, cfg.Client, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, client.Close())
	}()

	channel := c.Int(moveFlagChannel)
	var total uint64
	for i, leg := range legs {
		if i > 0 && !sleep(c.Context, c.Duration(moveFlagPause)) {
			return c.Context.Err()
		}
		for _, v := range leg {
			client.Send(protocol.FormatActuator(protocol.Actuator{Kind: kind, Channel: channel, Value: v}))
			total++
			if !sleep(c.Context, c.Duration(moveFlagDelay)) {
				return c.Context.Err()
			}
		}
		logger.Debugw("leg queued", "target", targets[i], "steps", len(leg))
		printf(c.App.Writer, "moved %s%d to %d", kind, channel, targets[i])
	}
	if err := waitFor(c.Context, c.Duration(timeoutFlag), func() bool { return client.Stats().Sent >= total }); err != nil {
		return errors.Wrap(err, "sending")
	}
	return nil
}
