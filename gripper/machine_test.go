package gripper

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"go.viam.com/forcegrip/control"
	"go.viam.com/forcegrip/fusion"
	"go.viam.com/forcegrip/logging"
	"go.viam.com/forcegrip/protocol"
)

// testPIDConfig is proportional only so every correction is easy to predict:
// 0.01 * (setpoint - overall) actuator units per cycle.
func testPIDConfig() control.PIDConfig {
	return control.PIDConfig{Kp: 0.01, Setpoint: 1500, OutputMin: -180, OutputMax: 180}
}

func newTestMachine(t *testing.T, mutate func(*Config)) (*Machine, *clock.Mock) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	mockClock := clock.NewMock()
	pid, err := control.NewPID(testPIDConfig(), mockClock)
	test.That(t, err, test.ShouldBeNil)
	m, err := NewMachine(cfg, pid, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return m, mockClock
}

// forceEvent spreads left and right evenly over four channels per jaw.
func forceEvent(left, right float64) ForceEvent {
	return ForceEvent{
		Force: fusion.AggregatedForce{
			LeftRaw: left, LeftFiltered: left,
			RightRaw: right, RightFiltered: right,
			Overall: max(left, right),
		},
		Left:  []float64{left, left, left, left},
		Right: []float64{right, right, right, right},
	}
}

func tick(m *Machine, mockClock *clock.Mock, ev Event) []Effect {
	mockClock.Add(50 * time.Millisecond)
	return m.Handle(ev)
}

func statuses(effects []Effect) []string {
	var out []string
	for _, eff := range effects {
		if s, ok := eff.(StatusEffect); ok {
			out = append(out, s.Status)
		}
	}
	return out
}

func actuators(effects []Effect) []int {
	var out []int
	for _, eff := range effects {
		if a, ok := eff.(ActuatorEffect); ok {
			out = append(out, a.Value)
		}
	}
	return out
}

func command(cmd protocol.Command) Event {
	return CommandEvent{Command: cmd}
}

func TestMachineStart(t *testing.T) {
	m, _ := newTestMachine(t, nil)
	effects := m.Start()
	test.That(t, statuses(effects), test.ShouldResemble, []string{"OPEN"})
	test.That(t, actuators(effects), test.ShouldResemble, []int{0})
	test.That(t, m.Setpoint(), test.ShouldEqual, 1500.0)

	m, _ = newTestMachine(t, func(cfg *Config) { cfg.Mode = ModeObject })
	test.That(t, statuses(m.Start()), test.ShouldResemble, []string{"IDENTIFYING"})
}

func TestMachineGraspReleaseCycle(t *testing.T) {
	m, mockClock := newTestMachine(t, nil)
	m.Start()

	effects := m.Handle(command(protocol.CommandGrasp))
	test.That(t, m.State(), test.ShouldEqual, StateClosing)
	test.That(t, statuses(effects), test.ShouldResemble, []string{"CLOSING"})

	// Below target the actuator closes by kp*error per cycle.
	effects = tick(m, mockClock, forceEvent(0, 0))
	test.That(t, m.Target(), test.ShouldAlmostEqual, 15)
	test.That(t, actuators(effects), test.ShouldResemble, []int{15})
	tick(m, mockClock, forceEvent(500, 500))
	test.That(t, m.Target(), test.ShouldAlmostEqual, 25)

	// Within the margin with both jaws loaded: hold and freeze.
	effects = tick(m, mockClock, forceEvent(1450, 1480))
	test.That(t, m.State(), test.ShouldEqual, StateHolding)
	test.That(t, statuses(effects), test.ShouldResemble, []string{"HOLDING"})
	frozen := m.Target()
	for i := 0; i < 5; i++ {
		effects = tick(m, mockClock, forceEvent(900, 900))
		test.That(t, effects, test.ShouldBeEmpty)
	}
	test.That(t, m.Target(), test.ShouldEqual, frozen)

	effects = m.Handle(command(protocol.CommandRelease))
	test.That(t, m.State(), test.ShouldEqual, StateReleasing)
	test.That(t, statuses(effects), test.ShouldResemble, []string{"RELEASING"})

	prev := m.Target()
	for i := 0; i < 20 && m.State() == StateReleasing; i++ {
		tick(m, mockClock, forceEvent(0, 0))
		test.That(t, m.Target(), test.ShouldBeLessThanOrEqualTo, prev)
		prev = m.Target()
	}
	test.That(t, m.State(), test.ShouldEqual, StateOpen)
	test.That(t, m.Target(), test.ShouldEqual, 0.0)
}

func TestMachineSafetyPreemption(t *testing.T) {
	for _, mode := range []Mode{ModeFixed, ModeObject} {
		for state := range stateName {
			if state == stateUnspecified || state == StateReleasing {
				continue
			}
			t.Run(string(mode)+"/"+state.String(), func(t *testing.T) {
				m, mockClock := newTestMachine(t, func(cfg *Config) { cfg.Mode = mode })
				m.state = state
				m.target = 60

				// A pending grasp does not delay the trip.
				m.Handle(command(protocol.CommandGrasp))
				over := forceEvent(100, 100)
				over.Right[2] = 3600
				effects := tick(m, mockClock, over)

				test.That(t, m.State(), test.ShouldEqual, StateReleasing)
				test.That(t, m.Target(), test.ShouldEqual, 0.0)
				test.That(t, statuses(effects), test.ShouldResemble, []string{"RELEASING"})
				test.That(t, actuators(effects), test.ShouldResemble, []int{0})
			})
		}
	}
}

func TestMachineSafetyIgnoredWhileReleasing(t *testing.T) {
	m, mockClock := newTestMachine(t, nil)
	m.state = StateReleasing
	m.target = 60

	over := forceEvent(4000, 4000)
	tick(m, mockClock, over)
	// Still stepping, not snapped.
	test.That(t, m.Target(), test.ShouldEqual, 55.0)
	test.That(t, m.State(), test.ShouldEqual, StateReleasing)
}

func TestMachineFailedGrab(t *testing.T) {
	m, mockClock := newTestMachine(t, nil)
	m.Handle(command(protocol.CommandGrasp))

	for i := 0; i < 100 && m.State() == StateClosing; i++ {
		tick(m, mockClock, forceEvent(0, 0))
	}
	test.That(t, m.State(), test.ShouldEqual, StateFailedGrab)
	test.That(t, m.Target(), test.ShouldEqual, 170.0)

	// Retracts like a release.
	tick(m, mockClock, forceEvent(0, 0))
	test.That(t, m.Target(), test.ShouldEqual, 165.0)

	// A new grasp may be attempted straight away.
	m.Handle(command(protocol.CommandGrasp))
	test.That(t, m.State(), test.ShouldEqual, StateClosing)
}

func TestMachineIgnoredCommands(t *testing.T) {
	m, mockClock := newTestMachine(t, nil)
	test.That(t, m.Handle(command(protocol.CommandRelease)), test.ShouldBeEmpty)
	test.That(t, m.Handle(command(protocol.CommandEmergency)), test.ShouldBeEmpty)
	test.That(t, m.State(), test.ShouldEqual, StateOpen)

	m.Handle(command(protocol.CommandGrasp))
	tick(m, mockClock, forceEvent(0, 0))
	test.That(t, m.Handle(command(protocol.CommandGrasp)), test.ShouldBeEmpty)
	test.That(t, m.State(), test.ShouldEqual, StateClosing)

	// Fixed mode ignores labels.
	test.That(t, m.Handle(ObjectEvent{Label: "cup"}), test.ShouldBeEmpty)
}

func TestMachineEmergencyAndReset(t *testing.T) {
	m, mockClock := newTestMachine(t, nil)
	m.Handle(command(protocol.CommandGrasp))
	tick(m, mockClock, forceEvent(0, 0))
	tick(m, mockClock, forceEvent(0, 0))
	test.That(t, m.Target(), test.ShouldBeGreaterThan, 0)

	effects := m.Handle(command(protocol.CommandEmergency))
	test.That(t, m.State(), test.ShouldEqual, StateReleasing)
	test.That(t, m.Target(), test.ShouldEqual, 0.0)
	test.That(t, actuators(effects), test.ShouldResemble, []int{0})

	tick(m, mockClock, forceEvent(0, 0))
	test.That(t, m.State(), test.ShouldEqual, StateOpen)

	m.Handle(command(protocol.CommandGrasp))
	tick(m, mockClock, forceEvent(1450, 1450))
	test.That(t, m.State(), test.ShouldEqual, StateHolding)

	effects = m.Handle(command(protocol.CommandReset))
	test.That(t, m.State(), test.ShouldEqual, StateOpen)
	test.That(t, statuses(effects), test.ShouldResemble, []string{"OPEN"})
	test.That(t, actuators(effects), test.ShouldResemble, []int{0})
}

func TestMachineObjectMode(t *testing.T) {
	m, mockClock := newTestMachine(t, func(cfg *Config) {
		cfg.Mode = ModeObject
		cfg.Targets = map[string]float64{"cup": 800, "bottle": 1200}
		cfg.MinPerJaw = 500
	})

	test.That(t, m.Handle(command(protocol.CommandGrasp)), test.ShouldBeEmpty)
	test.That(t, m.State(), test.ShouldEqual, StateIdentifying)

	effects := m.Handle(ObjectEvent{Label: "cup"})
	test.That(t, m.State(), test.ShouldEqual, StateReady)
	test.That(t, statuses(effects), test.ShouldResemble, []string{"LOCKED:cup"})
	test.That(t, m.Setpoint(), test.ShouldEqual, 800.0)

	effects = m.Handle(ObjectEvent{Label: "bottle"})
	test.That(t, statuses(effects), test.ShouldResemble, []string{"LOCKED:bottle"})
	test.That(t, m.Setpoint(), test.ShouldEqual, 1200.0)

	effects = m.Handle(ObjectEvent{})
	test.That(t, m.State(), test.ShouldEqual, StateIdentifying)
	test.That(t, statuses(effects), test.ShouldResemble, []string{"IDENTIFYING"})
	test.That(t, m.Setpoint(), test.ShouldEqual, 1500.0)

	// Unknown labels fall back to the default target.
	m.Handle(ObjectEvent{Label: "stapler"})
	test.That(t, m.Label(), test.ShouldEqual, "stapler")
	test.That(t, m.Setpoint(), test.ShouldEqual, 1500.0)

	m, mockClock = newTestMachine(t, func(cfg *Config) {
		cfg.Mode = ModeObject
		cfg.Targets = map[string]float64{"cup": 800}
		cfg.MinPerJaw = 500
	})
	m.Handle(ObjectEvent{Label: "cup"})
	effects = m.Handle(command(protocol.CommandGrasp))
	test.That(t, m.State(), test.ShouldEqual, StateExecutingGrasp)
	test.That(t, statuses(effects), test.ShouldResemble, []string{"EXECUTING_GRASP"})

	// Labels are ignored mid-grasp.
	test.That(t, m.Handle(ObjectEvent{}), test.ShouldBeEmpty)

	tick(m, mockClock, forceEvent(700, 780))
	test.That(t, m.State(), test.ShouldEqual, StateHolding)

	m.Handle(command(protocol.CommandRelease))
	for i := 0; i < 50 && m.State() == StateReleasing; i++ {
		tick(m, mockClock, forceEvent(0, 0))
	}
	test.That(t, m.State(), test.ShouldEqual, StateIdentifying)
	test.That(t, m.Label(), test.ShouldEqual, "")
	test.That(t, m.Setpoint(), test.ShouldEqual, 1500.0)
}

func TestMachineSensorCountPolicy(t *testing.T) {
	m, mockClock := newTestMachine(t, func(cfg *Config) {
		cfg.SuccessPolicy = SuccessSensorCount
	})
	m.Handle(command(protocol.CommandGrasp))

	one := forceEvent(0, 0)
	one.Left[0] = 450
	tick(m, mockClock, one)
	test.That(t, m.State(), test.ShouldEqual, StateClosing)

	// Two sensors split across jaws do not count.
	split := forceEvent(0, 0)
	split.Left[0] = 450
	split.Right[0] = 450
	tick(m, mockClock, split)
	test.That(t, m.State(), test.ShouldEqual, StateClosing)

	two := forceEvent(0, 0)
	two.Right[1] = 401
	two.Right[3] = 600
	tick(m, mockClock, two)
	test.That(t, m.State(), test.ShouldEqual, StateHolding)
}

func TestMachineInvertedPulseActuator(t *testing.T) {
	m, mockClock := newTestMachine(t, func(cfg *Config) {
		cfg.Actuator = ActuatorConfig{
			Kind:              protocol.ActuatorPulse,
			Channel:           1,
			OpenLimit:         2000,
			CloseLimit:        1000,
			StepSize:          2,
			PositionTolerance: 5,
		}
		cfg.ReleasePolicy = ReleaseSnap
	})
	test.That(t, actuators(m.Start()), test.ShouldResemble, []int{2000})

	m.Handle(command(protocol.CommandGrasp))
	tick(m, mockClock, forceEvent(0, 0))
	test.That(t, m.Target(), test.ShouldAlmostEqual, 1970)

	m.Handle(command(protocol.CommandRelease))
	effects := tick(m, mockClock, forceEvent(0, 0))
	test.That(t, m.State(), test.ShouldEqual, StateOpen)
	test.That(t, actuators(effects), test.ShouldResemble, []int{2000})
}

func TestMachinePositionFeedback(t *testing.T) {
	m, mockClock := newTestMachine(t, func(cfg *Config) { cfg.ReleasePolicy = ReleaseSnap })
	m.state = StateHolding
	m.target = 90

	m.Handle(command(protocol.CommandRelease))
	lagging := forceEvent(0, 0)
	position := 40.0
	lagging.Position = &position
	tick(m, mockClock, lagging)
	test.That(t, m.State(), test.ShouldEqual, StateReleasing)
	test.That(t, m.Target(), test.ShouldEqual, 0.0)

	position = 0.5
	tick(m, mockClock, lagging)
	test.That(t, m.State(), test.ShouldEqual, StateOpen)
}

func TestMachineRepeatCommand(t *testing.T) {
	m, mockClock := newTestMachine(t, func(cfg *Config) { cfg.Actuator.RepeatCommand = true })
	m.Start()
	test.That(t, actuators(tick(m, mockClock, forceEvent(0, 0))), test.ShouldResemble, []int{0})

	m, mockClock = newTestMachine(t, nil)
	m.Start()
	test.That(t, tick(m, mockClock, forceEvent(0, 0)), test.ShouldBeEmpty)
}

func TestConfigValidate(t *testing.T) {
	test.That(t, DefaultConfig().Validate(), test.ShouldBeNil)
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
		err    string
	}{
		{"mode", func(c *Config) { c.Mode = "auto" }, "unknown mode"},
		{"kind", func(c *Config) { c.Actuator.Kind = "MOTOR" }, "actuator kind"},
		{"limits", func(c *Config) { c.Actuator.CloseLimit = c.Actuator.OpenLimit }, "must differ"},
		{"step", func(c *Config) { c.Actuator.StepSize = 0 }, "step_size"},
		{"release step", func(c *Config) { c.Actuator.ReleaseStep = 0 }, "release_step"},
		{"policy", func(c *Config) { c.SuccessPolicy = "vibes" }, "success_policy"},
		{"margin", func(c *Config) { c.Margin = 0 }, "margin"},
		{"min sensors", func(c *Config) { c.SuccessPolicy = SuccessSensorCount; c.MinSensors = 0 }, "min_sensors"},
		{"emergency", func(c *Config) { c.EmergencyThreshold = 0 }, "emergency_threshold"},
		{"release policy", func(c *Config) { c.ReleasePolicy = "drop" }, "release_policy"},
		{"feedback", func(c *Config) { c.Feedback = &FeedbackConfig{RawOpen: 5, RawClosed: 5} }, "feedback"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.err)
		})
	}

	fb := FeedbackConfig{RawOpen: 0, RawClosed: 4095}
	test.That(t, fb.MapFeedback(4095, DefaultConfig().Actuator), test.ShouldAlmostEqual, 170)
	test.That(t, fb.MapFeedback(0, DefaultConfig().Actuator), test.ShouldAlmostEqual, 0)
}
