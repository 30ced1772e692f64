package gripper

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/forcegrip/protocol"
)

// Mode selects the state machine variant.
type Mode string

// Modes.
const (
	// ModeFixed grasps toward a single configured force: OPEN, CLOSING, HOLDING, RELEASING.
	ModeFixed Mode = "fixed"
	// ModeObject locks a force per object label: IDENTIFYING, READY, EXECUTING_GRASP, HOLDING,
	// RELEASING.
	ModeObject Mode = "object"
)

// SuccessPolicy decides when a grasp holds.
type SuccessPolicy string

// Success policies.
const (
	// SuccessErrorMargin holds once the overall force is within Margin of the setpoint and both
	// jaws exceed MinPerJaw.
	SuccessErrorMargin SuccessPolicy = "error_margin"
	// SuccessSensorCount holds once MinSensors channels of a single jaw exceed GrabThreshold.
	SuccessSensorCount SuccessPolicy = "sensor_count"
)

// ReleasePolicy decides how the actuator retracts.
type ReleasePolicy string

// Release policies.
const (
	// ReleaseStep moves ReleaseStep actuator units per cycle.
	ReleaseStep ReleasePolicy = "step"
	// ReleaseSnap jumps straight to the open limit.
	ReleaseSnap ReleasePolicy = "snap"
)

// ActuatorConfig describes the grip actuator and its travel.
type ActuatorConfig struct {
	Kind    protocol.ActuatorKind `json:"kind"`
	Channel int                   `json:"channel"`
	// OpenLimit and CloseLimit are the commanded values at either end of travel. CloseLimit may be
	// numerically below OpenLimit.
	OpenLimit  float64 `json:"open_limit"`
	CloseLimit float64 `json:"close_limit"`
	// StepSize scales the PID output into actuator units per cycle.
	StepSize float64 `json:"step_size"`
	// ReleaseStep is the distance retracted per cycle with the step release policy.
	ReleaseStep float64 `json:"release_step"`
	// PositionTolerance is how close to the open limit counts as open.
	PositionTolerance float64 `json:"position_tolerance"`
	// RepeatCommand resends the actuator command every cycle instead of only on change.
	RepeatCommand bool `json:"repeat_command,omitempty"`
}

// FeedbackConfig maps the raw position channel onto actuator units.
type FeedbackConfig struct {
	// RawOpen and RawClosed are the raw readings at the open and close limits.
	RawOpen   float64 `json:"raw_open"`
	RawClosed float64 `json:"raw_closed"`
}

// Config configures the state machine and the controller loop around it.
type Config struct {
	Mode     Mode           `json:"mode"`
	Actuator ActuatorConfig `json:"actuator"`

	SuccessPolicy SuccessPolicy `json:"success_policy"`
	Margin        float64       `json:"margin"`
	MinPerJaw     float64       `json:"min_per_jaw"`
	GrabThreshold float64       `json:"grab_threshold"`
	MinSensors    int           `json:"min_sensors"`

	// EmergencyThreshold trips a release when any filtered channel exceeds it.
	EmergencyThreshold float64       `json:"emergency_threshold"`
	ReleasePolicy      ReleasePolicy `json:"release_policy"`

	// DefaultTargetForce is the setpoint in fixed mode and for unknown labels.
	DefaultTargetForce float64 `json:"default_target_force"`
	// Targets maps object labels to their grasp setpoint.
	Targets map[string]float64 `json:"targets,omitempty"`

	Feedback *FeedbackConfig `json:"feedback,omitempty"`
	// Positioner, when set, drives a second actuator from the positioner input channel.
	Positioner *PositionerConfig `json:"positioner,omitempty"`

	// TelemetryRateHz limits DATA frames. Zero sends one per sensor frame.
	TelemetryRateHz float64 `json:"telemetry_rate_hz,omitempty"`
	// PollTimeoutMs bounds each wait for the next inbound frame.
	PollTimeoutMs int `json:"poll_timeout_ms,omitempty"`
}

// DefaultConfig returns settings for a hobby servo on channel 1 closing from 0 to 170 degrees.
func DefaultConfig() Config {
	return Config{
		Mode: ModeFixed,
		Actuator: ActuatorConfig{
			Kind:              protocol.ActuatorServo,
			Channel:           1,
			OpenLimit:         0,
			CloseLimit:        170,
			StepSize:          1,
			ReleaseStep:       5,
			PositionTolerance: 1,
		},
		SuccessPolicy:      SuccessErrorMargin,
		Margin:             150,
		MinPerJaw:          1000,
		GrabThreshold:      400,
		MinSensors:         2,
		EmergencyThreshold: 3500,
		ReleasePolicy:      ReleaseStep,
		DefaultTargetForce: 1500,
		PollTimeoutMs:      500,
	}
}

// PollTimeout returns the bounded wait of the processing loop.
func (cfg Config) PollTimeout() time.Duration {
	if cfg.PollTimeoutMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(cfg.PollTimeoutMs) * time.Millisecond
}

// TargetFor returns the setpoint for an object label.
func (cfg Config) TargetFor(label string) float64 {
	if target, ok := cfg.Targets[label]; ok {
		return target
	}
	return cfg.DefaultTargetForce
}

// Validate ensures the state machine can run with cfg.
func (cfg Config) Validate() error {
	switch cfg.Mode {
	case ModeFixed, ModeObject:
	default:
		return errors.Errorf("unknown mode %q, expected %q or %q", cfg.Mode, ModeFixed, ModeObject)
	}
	switch cfg.Actuator.Kind {
	case protocol.ActuatorPulse, protocol.ActuatorServo:
	default:
		return errors.Errorf("unknown actuator kind %q", cfg.Actuator.Kind)
	}
	if cfg.Actuator.OpenLimit == cfg.Actuator.CloseLimit {
		return errors.New("actuator open_limit and close_limit must differ")
	}
	if cfg.Actuator.StepSize <= 0 {
		return errors.Errorf("actuator step_size must be > 0, got %v", cfg.Actuator.StepSize)
	}
	if cfg.ReleasePolicy == ReleaseStep && cfg.Actuator.ReleaseStep <= 0 {
		return errors.Errorf("actuator release_step must be > 0 with the step release policy, got %v",
			cfg.Actuator.ReleaseStep)
	}
	if cfg.Actuator.PositionTolerance < 0 {
		return errors.New("actuator position_tolerance must be >= 0")
	}
	switch cfg.ReleasePolicy {
	case ReleaseStep, ReleaseSnap:
	default:
		return errors.Errorf("unknown release_policy %q", cfg.ReleasePolicy)
	}
	switch cfg.SuccessPolicy {
	case SuccessErrorMargin:
		if cfg.Margin <= 0 {
			return errors.Errorf("margin must be > 0 with the %s policy", cfg.SuccessPolicy)
		}
	case SuccessSensorCount:
		if cfg.MinSensors < 1 {
			return errors.Errorf("min_sensors must be >= 1 with the %s policy", cfg.SuccessPolicy)
		}
	default:
		return errors.Errorf("unknown success_policy %q", cfg.SuccessPolicy)
	}
	if cfg.EmergencyThreshold <= 0 || math.IsNaN(cfg.EmergencyThreshold) {
		return errors.Errorf("emergency_threshold must be > 0, got %v", cfg.EmergencyThreshold)
	}
	if cfg.Feedback != nil && cfg.Feedback.RawOpen == cfg.Feedback.RawClosed {
		return errors.New("feedback raw_open and raw_closed must differ")
	}
	if cfg.Positioner != nil {
		if err := cfg.Positioner.Validate(cfg.Actuator); err != nil {
			return err
		}
	}
	if cfg.TelemetryRateHz < 0 {
		return errors.New("telemetry_rate_hz must be >= 0")
	}
	return nil
}

// MapFeedback converts a raw position reading into actuator units.
func (fc FeedbackConfig) MapFeedback(raw float64, act ActuatorConfig) float64 {
	frac := (raw - fc.RawOpen) / (fc.RawClosed - fc.RawOpen)
	return act.OpenLimit + frac*(act.CloseLimit-act.OpenLimit)
}
