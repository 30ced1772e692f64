package cli

import (
	"context"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/forcegrip/config"
	"go.viam.com/forcegrip/logging"
	"go.viam.com/forcegrip/protocol"
	"go.viam.com/forcegrip/relay"
	"go.viam.com/forcegrip/utils"
)

const defaultTimeout = 5 * time.Second

func newLogger(c *cli.Context) logging.Logger {
	if c.Bool(debugFlag) {
		return logging.NewDebugLogger("gripperctl")
	}
	return logging.NewBlankLogger("gripperctl")
}

func loadConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(configFlag); path != "" {
		read, err := config.Read(c.Context, path, logger)
		if err != nil {
			return nil, err
		}
		cfg = *read
	}
	if url := c.String(urlFlag); url != "" {
		cfg.Client.URL = url
		if err := cfg.Client.Validate("url"); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// connect starts a relay client and waits until it is connected.
func connect(c *cli.Context, cfg relay.ClientConfig, logger logging.Logger) (*relay.Client, error) {
	client, err := relay.NewClient(cfg, logger.Sublogger("client"))
	if err != nil {
		return nil, err
	}
	client.Start(c.Context)
	if err := waitFor(c.Context, c.Duration(timeoutFlag), client.Connected); err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "connecting to %s", cfg.URL), client.Close())
	}
	return client, nil
}

// waitFor polls cond until it holds, ctx is done or timeout elapses.
func waitFor(ctx context.Context, timeout time.Duration, cond func() bool) error {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for !cond() {
		if !goutils.SelectContextOrWait(ctx, 10*time.Millisecond) {
			return errors.New("timed out")
		}
	}
	return nil
}

// publish sends one frame and waits until it was written to the relay.
func publish(c *cli.Context, frame []byte) (err error) {
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

	client.Send(frame)
	if err := waitFor(c.Context, c.Duration(timeoutFlag), func() bool { return client.Stats().Sent > 0 }); err != nil {
		return errors.Wrap(err, "sending")
	}
	printf(c.App.Writer, "sent %s", frame)
	return nil
}

// SendAction is the corresponding Action for 'send'.
func SendAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one command: grasp, release, emergency or reset")
	}
	cmd, err := protocol.ParseCommand(strings.ToUpper(c.Args().First()))
	if err != nil {
		return err
	}
	return publish(c, protocol.FormatCommand(cmd))
}

// ObjectAction is the corresponding Action for 'object'.
func ObjectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one object label, or None")
	}
	label := c.Args().First()
	if strings.EqualFold(label, "none") {
		label = ""
	}
	return publish(c, protocol.FormatObject(label))
}

// summarize returns the mean and standard deviation of values.
func summarize(values []float64) (float64, float64, error) {
	mean, err := stats.Mean(values)
	if err != nil {
		return 0, 0, err
	}
	stddev, err := stats.StandardDeviation(values)
	if err != nil {
		return 0, 0, err
	}
	return mean, stddev, nil
}

// TailAction is the corresponding Action for 'tail'.
func TailAction(c *cli.Context) (err error) {
	logger := newLogger(c)
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	window := c.Int(tailFlagWindow)
	if window < 1 {
		return errors.Errorf("--%s must be at least 1", tailFlagWindow)
	}
	client, err := connect(c, cfg.Client, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, client.Close())
	}()

	overall := utils.NewRollingWindow(window)
	limit := c.Int(tailFlagCount)
	seen := 0
	for limit == 0 || seen < limit {
		var frame []byte
		select {
		case <-c.Context.Done():
			return nil
		case frame = <-client.Inbound():
		}
		msg := protocol.Parse(frame)
		switch msg.Kind {
		case protocol.KindStatus:
			printf(c.App.Writer, "status %s", msg.Status)
		case protocol.KindCommand:
			printf(c.App.Writer, "command %s", msg.Command)
		case protocol.KindObject:
			label := msg.Label
			if !msg.HasObject() {
				label = "None"
			}
			printf(c.App.Writer, "object %s", label)
		case protocol.KindTelemetry:
			seen++
			overall.Add(msg.Telemetry.Overall)
			mean, stddev, err := summarize(overall.Values())
			if err != nil {
				return err
			}
			printf(c.App.Writer, "left=%.2f/%.2f right=%.2f/%.2f overall=%.2f mean=%.2f stddev=%.2f",
				msg.Telemetry.LeftRaw, msg.Telemetry.LeftFiltered,
				msg.Telemetry.RightRaw, msg.Telemetry.RightFiltered,
				msg.Telemetry.Overall, mean, stddev)
		case protocol.KindActuator, protocol.KindSensorData, protocol.KindUnknown:
		}
	}
	return nil
}
