// Package gripper contains the grip state machine and the processing loop that feeds it.
package gripper

import (
	"math"

	"go.viam.com/forcegrip/control"
	"go.viam.com/forcegrip/logging"
	"go.viam.com/forcegrip/protocol"
)

// Machine is the control authority of one gripper. Handle is its only mutator; it is meant to be
// owned by a single processing loop.
type Machine struct {
	cfg    Config
	pid    *control.PID
	logger logging.Logger

	state State
	// target is the commanded actuator position in actuator units.
	target float64
	// lastSent is the last actuator value emitted; sentAny is false until the first one.
	lastSent int
	sentAny  bool
	label    string
}

// NewMachine returns a machine in the initial state of its mode with the actuator target at the
// open limit. The PID setpoint is set to the default target force.
func NewMachine(cfg Config, pid *control.PID, logger logging.Logger) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Machine{
		cfg:    cfg,
		pid:    pid,
		logger: logger,
		state:  cfg.initialState(),
		target: cfg.Actuator.OpenLimit,
	}
	m.pid.SetSetpoint(cfg.DefaultTargetForce)
	return m, nil
}

func (cfg Config) initialState() State {
	if cfg.Mode == ModeObject {
		return StateIdentifying
	}
	return StateOpen
}

func (cfg Config) graspState() State {
	if cfg.Mode == ModeObject {
		return StateExecutingGrasp
	}
	return StateClosing
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Target returns the commanded actuator position.
func (m *Machine) Target() float64 {
	return m.target
}

// Label returns the locked object label, empty when none is locked.
func (m *Machine) Label() string {
	return m.label
}

// Setpoint returns the grasp target force.
func (m *Machine) Setpoint() float64 {
	return m.pid.Setpoint()
}

// Start returns the effects announcing the initial state: the actuator at the open limit and the
// current status.
func (m *Machine) Start() []Effect {
	effects := []Effect{StatusEffect{m.statusLine()}}
	return m.emitActuator(effects, true)
}

// Handle applies one event and returns its effects in order.
func (m *Machine) Handle(ev Event) []Effect {
	switch e := ev.(type) {
	case CommandEvent:
		return m.handleCommand(e)
	case ObjectEvent:
		return m.handleObject(e)
	case ForceEvent:
		return m.handleForce(e)
	default:
		m.logger.Warnw("ignoring unknown event", "event", ev)
		return nil
	}
}

func (m *Machine) handleCommand(e CommandEvent) []Effect {
	var effects []Effect
	switch e.Command {
	case protocol.CommandGrasp:
		if !(m.state == StateOpen || m.state == StateReady || m.state == StateFailedGrab) {
			m.logger.Debugw("ignoring GRASP", "state", m.state)
			return nil
		}
		m.pid.Reset()
		effects = m.transition(effects, m.cfg.graspState(), "grasp command")
	case protocol.CommandRelease:
		if !(m.state.grasping() || m.state == StateHolding || m.state == StateFailedGrab) {
			m.logger.Debugw("ignoring RELEASE", "state", m.state)
			return nil
		}
		effects = m.transition(effects, StateReleasing, "release command")
	case protocol.CommandEmergency:
		if m.state.idle() {
			m.logger.Debugw("ignoring EMERGENCY while idle", "state", m.state)
			return nil
		}
		m.target = m.cfg.Actuator.OpenLimit
		if m.state != StateReleasing {
			effects = m.transition(effects, StateReleasing, "emergency command")
		}
	case protocol.CommandReset:
		m.target = m.cfg.Actuator.OpenLimit
		m.enterInitial()
		effects = m.transition(effects, m.cfg.initialState(), "reset command")
		effects = m.emitActuator(effects, true)
		return effects
	default:
		m.logger.Warnw("ignoring unknown command", "command", e.Command)
		return nil
	}
	return m.emitActuator(effects, false)
}

func (m *Machine) handleObject(e ObjectEvent) []Effect {
	if m.cfg.Mode != ModeObject {
		return nil
	}
	var effects []Effect
	switch {
	case m.state == StateIdentifying && e.Label != "":
		m.lock(e.Label)
		effects = m.transition(effects, StateReady, "object "+e.Label)
	case m.state == StateReady && e.Label == "":
		m.enterInitial()
		effects = m.transition(effects, StateIdentifying, "object lost")
	case m.state == StateReady && e.Label != m.label:
		m.lock(e.Label)
		effects = append(effects, StatusEffect{m.statusLine()})
	}
	return effects
}

// lock sets the setpoint for label before any grasp can arm the PID.
func (m *Machine) lock(label string) {
	m.label = label
	m.pid.SetSetpoint(m.cfg.TargetFor(label))
}

// enterInitial clears the controller memory kept across a grasp.
func (m *Machine) enterInitial() {
	m.label = ""
	m.pid.SetSetpoint(m.cfg.DefaultTargetForce)
}

func (m *Machine) handleForce(e ForceEvent) []Effect {
	var effects []Effect

	if m.state != StateReleasing {
		if ch, force, tripped := m.overThreshold(e); tripped {
			m.logger.Warnw("emergency threshold exceeded", "channel", ch, "force", force,
				"threshold", m.cfg.EmergencyThreshold, "state", m.state)
			m.target = m.cfg.Actuator.OpenLimit
			effects = m.transition(effects, StateReleasing, "safety threshold")
			return m.emitActuator(effects, false)
		}
	}

	// Holding and idle states keep the actuator where it is.
	if m.state.grasping() {
		effects = m.grasp(effects, e)
	} else if m.state.retracting() {
		effects = m.retract(effects, e)
	}
	return m.emitActuator(effects, false)
}

func (m *Machine) grasp(effects []Effect, e ForceEvent) []Effect {
	if m.succeeded(e) {
		return m.transition(effects, StateHolding, "grasp succeeded")
	}
	if m.progress(m.target) >= m.span() {
		return m.transition(effects, StateFailedGrab, "closed fully without a grasp")
	}
	correction := m.pid.Update(e.Force.Overall)
	m.target = m.clamp(m.target + correction*m.cfg.Actuator.StepSize*m.direction())
	return effects
}

func (m *Machine) retract(effects []Effect, e ForceEvent) []Effect {
	if m.cfg.ReleasePolicy == ReleaseSnap {
		m.target = m.cfg.Actuator.OpenLimit
	} else {
		m.target = m.clamp(m.target - m.cfg.Actuator.ReleaseStep*m.direction())
	}

	position := m.target
	if e.Position != nil {
		position = *e.Position
	}
	if math.Abs(position-m.cfg.Actuator.OpenLimit) <= m.cfg.Actuator.PositionTolerance {
		m.pid.Reset()
		m.enterInitial()
		return m.transition(effects, m.cfg.initialState(), "open")
	}
	return effects
}

func (m *Machine) succeeded(e ForceEvent) bool {
	switch m.cfg.SuccessPolicy {
	case SuccessSensorCount:
		return countAbove(e.Left, m.cfg.GrabThreshold) >= m.cfg.MinSensors ||
			countAbove(e.Right, m.cfg.GrabThreshold) >= m.cfg.MinSensors
	default:
		return math.Abs(m.pid.Setpoint()-e.Force.Overall) < m.cfg.Margin &&
			e.Force.LeftFiltered > m.cfg.MinPerJaw &&
			e.Force.RightFiltered > m.cfg.MinPerJaw
	}
}

func countAbove(values []float64, threshold float64) int {
	n := 0
	for _, v := range values {
		if v > threshold {
			n++
		}
	}
	return n
}

func (m *Machine) overThreshold(e ForceEvent) (int, float64, bool) {
	for i, v := range append(append([]float64{}, e.Left...), e.Right...) {
		if v > m.cfg.EmergencyThreshold {
			return i, v, true
		}
	}
	return 0, 0, false
}

// direction is +1 when closing increases the actuator value and -1 otherwise.
func (m *Machine) direction() float64 {
	if m.cfg.Actuator.CloseLimit > m.cfg.Actuator.OpenLimit {
		return 1
	}
	return -1
}

// progress is the distance of v from the open limit toward the close limit.
func (m *Machine) progress(v float64) float64 {
	return (v - m.cfg.Actuator.OpenLimit) * m.direction()
}

func (m *Machine) span() float64 {
	return m.progress(m.cfg.Actuator.CloseLimit)
}

func (m *Machine) clamp(v float64) float64 {
	lo := math.Min(m.cfg.Actuator.OpenLimit, m.cfg.Actuator.CloseLimit)
	hi := math.Max(m.cfg.Actuator.OpenLimit, m.cfg.Actuator.CloseLimit)
	return math.Max(lo, math.Min(hi, v))
}

func (m *Machine) statusLine() string {
	if m.state == StateReady && m.label != "" {
		return protocol.LockedStatus(m.label)
	}
	return m.state.String()
}

func (m *Machine) transition(effects []Effect, to State, reason string) []Effect {
	from := m.state
	m.state = to
	m.logger.Debugw("state change", "from", from, "to", to, "reason", reason)
	return append(effects,
		TransitionEffect{From: from, To: to, Reason: reason},
		StatusEffect{m.statusLine()},
	)
}

// emitActuator appends an actuator command when the rounded target changed, on a transition, when
// forced, or on every call with RepeatCommand.
func (m *Machine) emitActuator(effects []Effect, force bool) []Effect {
	value := int(math.Round(m.target))
	changed := !m.sentAny || value != m.lastSent
	transitioned := false
	for _, eff := range effects {
		if _, ok := eff.(TransitionEffect); ok {
			transitioned = true
			break
		}
	}
	if !(force || changed || transitioned || m.cfg.Actuator.RepeatCommand) {
		return effects
	}
	m.lastSent = value
	m.sentAny = true
	return append(effects, ActuatorEffect{Value: value})
}
