package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatActuator renders "<KIND><channel>:<value>".
func FormatActuator(act Actuator) []byte {
	return []byte(fmt.Sprintf("%s%d:%d", act.Kind, act.Channel, act.Value))
}

// FormatCommand renders "CMD:<NAME>".
func FormatCommand(cmd Command) []byte {
	return []byte(PrefixCommand + cmd.String())
}

// FormatStatus renders "STATUS:<status>".
func FormatStatus(status string) []byte {
	return []byte(PrefixStatus + status)
}

// LockedStatus is the status announcing the object a grasp is tuned for.
func LockedStatus(label string) string {
	return "LOCKED:" + label
}

// FormatObject renders "OBJECT:<label>", or "OBJECT:None" for an empty label.
func FormatObject(label string) []byte {
	if label == "" {
		label = noObject
	}
	return []byte(PrefixObject + label)
}

// FormatTelemetry renders "DATA:<lr>,<lf>,<rr>,<rf>,<overall>" with two decimals.
func FormatTelemetry(t Telemetry) []byte {
	return []byte(fmt.Sprintf("%s%.2f,%.2f,%.2f,%.2f,%.2f",
		PrefixTelemetry, t.LeftRaw, t.LeftFiltered, t.RightRaw, t.RightFiltered, t.Overall))
}

// FormatSensorFrame renders a comma separated sensor frame.
func FormatSensorFrame(values []int) []byte {
	fields := make([]string, len(values))
	for i, v := range values {
		fields[i] = strconv.Itoa(v)
	}
	return []byte(strings.Join(fields, ","))
}
