// Package protocol defines the text frames exchanged between the controller, the relay and
// observers.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind tags the variant held by a Message.
type Kind int

// Message kinds.
const (
	KindUnknown Kind = iota
	KindSensorData
	KindCommand
	KindStatus
	KindObject
	KindTelemetry
	KindActuator
)

var kindNames = map[Kind]string{
	KindUnknown:    "unknown",
	KindSensorData: "sensor_data",
	KindCommand:    "command",
	KindStatus:     "status",
	KindObject:     "object",
	KindTelemetry:  "telemetry",
	KindActuator:   "actuator",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Command is an operator request to the gripper.
type Command int

// Commands accepted on the wire.
const (
	CommandGrasp Command = iota + 1
	CommandRelease
	CommandEmergency
	CommandReset
)

var commandNames = map[Command]string{
	CommandGrasp:     "GRASP",
	CommandRelease:   "RELEASE",
	CommandEmergency: "EMERGENCY",
	CommandReset:     "RESET",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// ParseCommand reads a command name, ignoring case and surrounding space.
func ParseCommand(s string) (Command, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for cmd, name := range commandNames {
		if name == s {
			return cmd, nil
		}
	}
	return 0, errors.Errorf("unknown command %q", s)
}

// ActuatorKind is the family of an actuator command.
type ActuatorKind string

// Actuator families.
const (
	ActuatorPulse ActuatorKind = "PULSE"
	ActuatorServo ActuatorKind = "SERVO"
)

// Telemetry is the per-frame force summary broadcast to observers.
type Telemetry struct {
	LeftRaw       float64
	LeftFiltered  float64
	RightRaw      float64
	RightFiltered float64
	Overall       float64
}

// Actuator is a named-channel integer command.
type Actuator struct {
	Kind    ActuatorKind
	Channel int
	Value   int
}

// Message is a parsed frame. Kind selects which of the other fields is meaningful.
type Message struct {
	Kind Kind
	// Raw is the frame as received.
	Raw string

	Values    []int // KindSensorData
	Command   Command
	Status    string // KindStatus, without the prefix
	Label     string // KindObject, empty for "None"
	Telemetry Telemetry
	Actuator  Actuator
	// Err holds why a frame that looked like a known kind could not be parsed.
	Err error
}

// HasObject reports whether an object message carries a label.
func (m Message) HasObject() bool {
	return m.Kind == KindObject && m.Label != ""
}

// Frame prefixes.
const (
	PrefixCommand   = "CMD:"
	PrefixStatus    = "STATUS:"
	PrefixObject    = "OBJECT:"
	PrefixTelemetry = "DATA:"
	noObject        = "None"
)

// Parse classifies a frame. It never fails: frames that cannot be understood come back as
// KindUnknown, with Err set when they were malformed versions of a known kind.
func Parse(frame []byte) Message {
	raw := strings.TrimSpace(string(frame))
	msg := Message{Raw: raw}

	switch {
	case strings.HasPrefix(raw, PrefixCommand):
		cmd, err := ParseCommand(strings.TrimPrefix(raw, PrefixCommand))
		if err != nil {
			msg.Err = err
			return msg
		}
		msg.Kind = KindCommand
		msg.Command = cmd
	case strings.HasPrefix(raw, PrefixStatus):
		msg.Kind = KindStatus
		msg.Status = strings.TrimPrefix(raw, PrefixStatus)
	case strings.HasPrefix(raw, PrefixObject):
		msg.Kind = KindObject
		label := strings.TrimSpace(strings.TrimPrefix(raw, PrefixObject))
		if label != noObject {
			msg.Label = label
		}
	case strings.HasPrefix(raw, PrefixTelemetry):
		values, err := parseFloats(strings.TrimPrefix(raw, PrefixTelemetry))
		if err == nil && len(values) != 5 {
			err = errors.Errorf("telemetry needs 5 fields, got %d", len(values))
		}
		if err != nil {
			msg.Err = err
			return msg
		}
		msg.Kind = KindTelemetry
		msg.Telemetry = Telemetry{values[0], values[1], values[2], values[3], values[4]}
	case strings.HasPrefix(raw, string(ActuatorPulse)), strings.HasPrefix(raw, string(ActuatorServo)):
		act, err := parseActuator(raw)
		if err != nil {
			msg.Err = err
			return msg
		}
		msg.Kind = KindActuator
		msg.Actuator = act
	default:
		values, err := ParseSensorFrame(raw)
		if err != nil {
			msg.Err = err
			return msg
		}
		msg.Kind = KindSensorData
		msg.Values = values
	}
	return msg
}

// ParseSensorFrame reads a comma separated list of integers.
func ParseSensorFrame(raw string) ([]int, error) {
	if raw == "" {
		return nil, errors.New("empty sensor frame")
	}
	fields := strings.Split(raw, ",")
	values := make([]int, 0, len(fields))
	for i, field := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, errors.Wrapf(err, "sensor frame field %d", i)
		}
		values = append(values, v)
	}
	return values, nil
}

func parseFloats(raw string) ([]float64, error) {
	fields := strings.Split(raw, ",")
	values := make([]float64, 0, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "field %d", i)
		}
		values = append(values, v)
	}
	return values, nil
}

func parseActuator(raw string) (Actuator, error) {
	kind := ActuatorPulse
	if strings.HasPrefix(raw, string(ActuatorServo)) {
		kind = ActuatorServo
	}
	channelStr, valueStr, found := strings.Cut(strings.TrimPrefix(raw, string(kind)), ":")
	if !found {
		return Actuator{}, errors.Errorf("actuator command %q missing ':'", raw)
	}
	channel, err := strconv.Atoi(channelStr)
	if err != nil {
		return Actuator{}, errors.Wrap(err, "actuator channel")
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return Actuator{}, errors.Wrap(err, "actuator value")
	}
	return Actuator{Kind: kind, Channel: channel, Value: value}, nil
}
