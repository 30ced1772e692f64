package cli

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/forcegrip/fusion"
	"go.viam.com/forcegrip/gripper"
	"go.viam.com/forcegrip/logging"
	"go.viam.com/forcegrip/protocol"
)

// SimulatorConfig describes a spring-like object between the jaws.
type SimulatorConfig struct {
	// Baseline is the reading of an unloaded sensor.
	Baseline float64
	// Contact is the actuator position where the jaws touch the object.
	Contact float64
	// Stiffness is the force added per actuator unit closed past Contact.
	Stiffness float64
	// Noise is the standard deviation of gaussian noise added to every sensor.
	Noise float64
}

// A Simulator stands in for the sensor board: it tracks the last actuator command and reports
// a force that grows linearly once the jaws close past the contact point.
type Simulator struct {
	cfg      SimulatorConfig
	layout   fusion.ChannelLayout
	actuator gripper.ActuatorConfig
	feedback *gripper.FeedbackConfig
	rng      *rand.Rand
	clk      clock.Clock

	position float64
}

// NewSimulator returns a simulator with the actuator at its open limit. A nil clock uses the
// wall clock.
func NewSimulator(
	cfg SimulatorConfig,
	layout fusion.ChannelLayout,
	actuator gripper.ActuatorConfig,
	feedback *gripper.FeedbackConfig,
	seed int64,
	clk clock.Clock,
) *Simulator {
	if clk == nil {
		clk = clock.New()
	}
	//nolint:gosec
	rng := rand.New(rand.NewSource(seed))
	return &Simulator{
		cfg:      cfg,
		layout:   layout,
		actuator: actuator,
		feedback: feedback,
		rng:      rng,
		clk:      clk,
		position: actuator.OpenLimit,
	}
}

// Conn is the relay connection a Simulator reads commands from and sends frames to.
type Conn interface {
	Send(msg []byte)
	Inbound() <-chan []byte
}

// Run sends a frame every interval and applies actuator commands as they arrive. It returns the
// number of frames sent once limit frames went out or ctx is done. A zero limit never stops.
func (s *Simulator) Run(ctx context.Context, conn Conn, interval time.Duration, limit int, logger logging.Logger) int {
	ticker := s.clk.Ticker(interval)
	defer ticker.Stop()
	sent := 0
	for limit == 0 || sent < limit {
		select {
		case <-ctx.Done():
			return sent
		case frame := <-conn.Inbound():
			if msg := protocol.Parse(frame); msg.Kind == protocol.KindActuator {
				s.Apply(msg.Actuator)
				logger.Debugw("actuator moved", "position", s.Position(), "force", s.Force())
			}
		case <-ticker.C:
			conn.Send(protocol.FormatSensorFrame(s.Frame()))
			sent++
		}
	}
	return sent
}

// Apply moves the simulated actuator. Commands for other actuators are ignored.
func (s *Simulator) Apply(act protocol.Actuator) {
	if act.Kind != s.actuator.Kind || act.Channel != s.actuator.Channel {
		return
	}
	s.position = float64(act.Value)
}

// Position returns the last commanded actuator position.
func (s *Simulator) Position() float64 {
	return s.position
}

// Force returns the noiseless force every sensor currently reads.
func (s *Simulator) Force() float64 {
	closedBy := s.position - s.cfg.Contact
	if s.actuator.CloseLimit < s.actuator.OpenLimit {
		closedBy = -closedBy
	}
	return s.cfg.Baseline + math.Max(0, closedBy)*s.cfg.Stiffness
}

// Frame returns the next sensor frame.
func (s *Simulator) Frame() []int {
	frame := make([]int, s.layout.FrameSize)
	force := s.Force()
	for _, idx := range append(append([]int{}, s.layout.Left...), s.layout.Right...) {
		frame[idx] = int(math.Round(math.Max(0, force+s.rng.NormFloat64()*s.cfg.Noise)))
	}
	if s.layout.Position != nil && s.feedback != nil {
		frac := (s.position - s.actuator.OpenLimit) / (s.actuator.CloseLimit - s.actuator.OpenLimit)
		frame[*s.layout.Position] = int(math.Round(s.feedback.RawOpen + frac*(s.feedback.RawClosed-s.feedback.RawOpen)))
	}
	return frame
}

// SimulateAction is the corresponding Action for 'simulate'.
func SimulateAction(c *cli.Context) (err error) {
	logger := newLogger(c)
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	rate := c.Float64(simFlagRate)
	if rate <= 0 {
		return errors.Errorf("--%s must be > 0", simFlagRate)
	}
	sim := NewSimulator(
		SimulatorConfig{
			Baseline:  c.Float64(simFlagBaseline),
			Contact:   c.Float64(simFlagContact),
			Stiffness: c.Float64(simFlagStiffness),
			Noise:     c.Float64(simFlagNoise),
		},
		cfg.Estimation.Layout,
		cfg.Gripper.Actuator,
		cfg.Gripper.Feedback,
		c.Int64(simFlagSeed),
		clock.New(),
	)

	client, err := connect(c, cfg.Client, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, client.Close())
	}()

	interval := time.Duration(float64(time.Second) / rate)
	sent := sim.Run(c.Context, client, interval, c.Int(simFlagCount), logger)
	printf(c.App.Writer, "sent %d frames", sent)
	return nil
}
