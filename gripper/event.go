package gripper

import (
	"go.viam.com/forcegrip/fusion"
	"go.viam.com/forcegrip/protocol"
)

// Event is an input to the state machine. It is one of CommandEvent, ObjectEvent or ForceEvent.
type Event interface {
	isEvent()
}

// CommandEvent is an operator command.
type CommandEvent struct {
	Command protocol.Command
}

// ObjectEvent is a classification result. An empty Label means no object is in view.
type ObjectEvent struct {
	Label string
}

// ForceEvent is the output of one estimation cycle.
type ForceEvent struct {
	Force fusion.AggregatedForce
	// Left and Right are the per-channel filtered forces.
	Left  []float64
	Right []float64
	// Position is the measured actuator position in actuator units, nil without feedback.
	Position *float64
}

func (CommandEvent) isEvent() {}
func (ObjectEvent) isEvent()  {}
func (ForceEvent) isEvent()   {}

// Effect is an observable output of a transition. It is one of ActuatorEffect, StatusEffect or
// TransitionEffect.
type Effect interface {
	isEffect()
}

// ActuatorEffect commands the grip actuator to a position.
type ActuatorEffect struct {
	Value int
}

// StatusEffect is a status line for observers, without the "STATUS:" prefix.
type StatusEffect struct {
	Status string
}

// TransitionEffect records a state change.
type TransitionEffect struct {
	From, To State
	Reason   string
}

func (ActuatorEffect) isEffect()   {}
func (StatusEffect) isEffect()     {}
func (TransitionEffect) isEffect() {}
