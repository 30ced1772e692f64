package gripper

import "fmt"

// State describes the action the gripper is performing.
type State int32

const (
	stateUnspecified State = iota
	// StateOpen is the idle state of the fixed-setpoint mode.
	StateOpen
	// StateIdentifying is the idle state of the object-aware mode, waiting for a label.
	StateIdentifying
	// StateReady has a target force locked from an object label.
	StateReady
	// StateClosing closes under PID control toward the fixed setpoint.
	StateClosing
	// StateExecutingGrasp closes under PID control toward the locked setpoint.
	StateExecutingGrasp
	// StateHolding keeps the actuator frozen on a successful grasp.
	StateHolding
	// StateReleasing retracts to the open limit.
	StateReleasing
	// StateFailedGrab retracts after closing fully without a successful grasp.
	StateFailedGrab
)

var stateName = map[State]string{
	stateUnspecified:    "UNSPECIFIED",
	StateOpen:           "OPEN",
	StateIdentifying:    "IDENTIFYING",
	StateReady:          "READY",
	StateClosing:        "CLOSING",
	StateExecutingGrasp: "EXECUTING_GRASP",
	StateHolding:        "HOLDING",
	StateReleasing:      "RELEASING",
	StateFailedGrab:     "FAILED_GRAB",
}

func (s State) String() string {
	if name, ok := stateName[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// grasping is true while the PID loop drives the actuator.
func (s State) grasping() bool {
	return s == StateClosing || s == StateExecutingGrasp
}

// retracting is true while the actuator moves back toward the open limit.
func (s State) retracting() bool {
	return s == StateReleasing || s == StateFailedGrab
}

// idle is true for the states that wait for an operator.
func (s State) idle() bool {
	return s == StateOpen || s == StateIdentifying || s == StateReady
}
