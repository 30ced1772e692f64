package gripper

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"go.viam.com/forcegrip/control"
	"go.viam.com/forcegrip/fusion"
	"go.viam.com/forcegrip/logging"
	"go.viam.com/forcegrip/protocol"
)

// Sink accepts outbound frames. Send must not block.
type Sink interface {
	Send(msg []byte)
}

// Stats counts the frames seen by a Controller.
type Stats struct {
	Frames    uint64
	Discarded uint64
	Commands  uint64
}

// Controller runs the estimation pipeline and the state machine over a stream of inbound frames.
type Controller struct {
	cfg      Config
	pipeline *fusion.Pipeline
	machine  *Machine
	limiter  *rate.Limiter
	clk      clock.Clock
	logger   logging.Logger

	// positioner is nil unless an auxiliary actuator is configured.
	positioner *positioner

	frames    atomic.Uint64
	discarded atomic.Uint64
	commands  atomic.Uint64
}

// NewController builds the estimators, the PID loop and the state machine. Any configuration
// error is returned before a frame is processed.
func NewController(
	cfg Config,
	fusionCfg fusion.Config,
	pidCfg control.PIDConfig,
	clk clock.Clock,
	logger logging.Logger,
) (*Controller, error) {
	if clk == nil {
		clk = clock.New()
	}
	pipeline, err := fusion.NewPipeline(fusionCfg)
	if err != nil {
		return nil, errors.Wrap(err, "estimation")
	}
	pid, err := control.NewPID(pidCfg, clk)
	if err != nil {
		return nil, errors.Wrap(err, "pid")
	}
	machine, err := NewMachine(cfg, pid, logger.Sublogger("machine"))
	if err != nil {
		return nil, errors.Wrap(err, "gripper")
	}
	c := &Controller{
		cfg:      cfg,
		pipeline: pipeline,
		machine:  machine,
		clk:      clk,
		logger:   logger,
	}
	if cfg.Positioner != nil {
		c.positioner = &positioner{cfg: *cfg.Positioner}
	}
	if cfg.TelemetryRateHz > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.TelemetryRateHz), 1)
	}
	return c, nil
}

// Machine returns the state machine. It must only be inspected from the goroutine running Run,
// or after Run returned.
func (c *Controller) Machine() *Machine {
	return c.machine
}

// Stats returns frame counters. It is safe to call concurrently with Run.
func (c *Controller) Stats() Stats {
	return Stats{Frames: c.frames.Load(), Discarded: c.discarded.Load(), Commands: c.commands.Load()}
}

// Run processes frames from in one at a time until ctx is done or in is closed. Each wait for a
// frame is bounded by the configured poll timeout so shutdown is observed without traffic.
func (c *Controller) Run(ctx context.Context, in <-chan []byte, out Sink) error {
	c.emit(out, c.machine.Start())
	stalled := false
	for {
		if ctx.Err() != nil {
			return nil
		}
		timer := c.clk.Timer(c.cfg.PollTimeout())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case frame, ok := <-in:
			timer.Stop()
			if !ok {
				return errors.New("inbound stream closed")
			}
			stalled = false
			c.HandleFrame(frame, out)
		case <-timer.C:
			if !stalled {
				c.logger.Debugw("no inbound frames", "waited", c.cfg.PollTimeout(), "state", c.machine.State())
				stalled = true
			}
		}
	}
}

// HandleFrame fully processes one inbound frame: estimate, control and emit.
func (c *Controller) HandleFrame(frame []byte, out Sink) {
	msg := protocol.Parse(frame)
	switch msg.Kind {
	case protocol.KindCommand:
		c.commands.Inc()
		c.logger.Infow("command received", "command", msg.Command, "state", c.machine.State())
		if msg.Command == protocol.CommandReset {
			c.pipeline.Reset()
			if c.positioner != nil {
				c.positioner.forget()
			}
		}
		c.emit(out, c.machine.Handle(CommandEvent{Command: msg.Command}))
	case protocol.KindObject:
		c.emit(out, c.machine.Handle(ObjectEvent{Label: msg.Label}))
	case protocol.KindSensorData:
		c.handleSensorData(msg.Values, out)
	case protocol.KindStatus, protocol.KindTelemetry, protocol.KindActuator:
		// Our own output or another controller's, echoed by the relay.
	case protocol.KindUnknown:
		c.discarded.Inc()
		c.logger.Debugw("discarding frame", "frame", msg.Raw, "error", msg.Err)
	}
}

func (c *Controller) handleSensorData(values []int, out Sink) {
	est, err := c.pipeline.Process(values)
	if err != nil {
		c.discarded.Inc()
		c.logger.Debugw("discarding sensor frame", "error", err)
		return
	}
	c.frames.Inc()

	ev := ForceEvent{Force: est.Force, Left: est.Left, Right: est.Right}
	if c.cfg.Feedback != nil && est.HasPosition {
		position := c.cfg.Feedback.MapFeedback(est.Position, c.cfg.Actuator)
		ev.Position = &position
	}
	c.emit(out, c.machine.Handle(ev))

	if c.positioner != nil && est.HasPositioner {
		if act, changed := c.positioner.next(est.Positioner); changed {
			out.Send(protocol.FormatActuator(act))
		}
	}

	if c.limiter == nil || c.limiter.AllowN(c.clk.Now(), 1) {
		out.Send(protocol.FormatTelemetry(protocol.Telemetry{
			LeftRaw:       est.Force.LeftRaw,
			LeftFiltered:  est.Force.LeftFiltered,
			RightRaw:      est.Force.RightRaw,
			RightFiltered: est.Force.RightFiltered,
			Overall:       est.Force.Overall,
		}))
	}
}

func (c *Controller) emit(out Sink, effects []Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case ActuatorEffect:
			out.Send(protocol.FormatActuator(protocol.Actuator{
				Kind:    c.cfg.Actuator.Kind,
				Channel: c.cfg.Actuator.Channel,
				Value:   e.Value,
			}))
		case StatusEffect:
			out.Send(protocol.FormatStatus(e.Status))
		case TransitionEffect:
			c.logger.Infow("state change", "from", e.From, "to", e.To, "reason", e.Reason)
		}
	}
}
