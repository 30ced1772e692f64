package gripper

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/forcegrip/protocol"
)

// PositionerConfig describes an auxiliary actuator that follows the positioner input channel.
// It moves independently of the grip state machine.
type PositionerConfig struct {
	Kind    protocol.ActuatorKind `json:"kind"`
	Channel int                   `json:"channel"`
	// RawMax is the full scale reading of the input channel.
	RawMax float64 `json:"raw_max"`
	// MaxValue is the command sent at full scale.
	MaxValue float64 `json:"max_value"`
}

// DefaultPositionerConfig maps a 12 bit potentiometer onto a hobby servo on channel 2.
func DefaultPositionerConfig() PositionerConfig {
	return PositionerConfig{
		Kind:     protocol.ActuatorServo,
		Channel:  2,
		RawMax:   4095,
		MaxValue: 180,
	}
}

// Validate ensures the positioner can be driven and does not share the grip actuator.
func (pc PositionerConfig) Validate(grip ActuatorConfig) error {
	switch pc.Kind {
	case protocol.ActuatorPulse, protocol.ActuatorServo:
	default:
		return errors.Errorf("unknown positioner kind %q", pc.Kind)
	}
	if pc.Kind == grip.Kind && pc.Channel == grip.Channel {
		return errors.Errorf("positioner must not drive the grip actuator %s%d", grip.Kind, grip.Channel)
	}
	if pc.RawMax <= 0 {
		return errors.Errorf("positioner raw_max must be > 0, got %v", pc.RawMax)
	}
	if pc.MaxValue <= 0 {
		return errors.Errorf("positioner max_value must be > 0, got %v", pc.MaxValue)
	}
	return nil
}

// Map clamps raw to [0, RawMax] and scales it onto [0, MaxValue], truncating toward zero.
func (pc PositionerConfig) Map(raw float64) int {
	return int(math.Max(0, math.Min(pc.RawMax, raw)) / pc.RawMax * pc.MaxValue)
}

// positioner remembers the last command so it is only sent on change.
type positioner struct {
	cfg  PositionerConfig
	last int
	sent bool
}

// next returns the command for raw and whether it differs from the last one sent.
func (p *positioner) next(raw float64) (protocol.Actuator, bool) {
	value := p.cfg.Map(raw)
	if p.sent && value == p.last {
		return protocol.Actuator{}, false
	}
	p.last, p.sent = value, true
	return protocol.Actuator{Kind: p.cfg.Kind, Channel: p.cfg.Channel, Value: value}, true
}

// forget makes the next reading send a command even if unchanged.
func (p *positioner) forget() {
	p.sent = false
}
