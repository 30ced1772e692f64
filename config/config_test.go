package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/forcegrip/gripper"
	"go.viam.com/forcegrip/logging"
)

func TestFromReaderEmptyUsesDefaults(t *testing.T) {
	logger := logging.NewTestLogger(t)
	for _, input := range []string{"", "{}"} {
		cfg, err := FromReader(context.Background(), "empty.json", strings.NewReader(input), logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.ConfigFilePath, test.ShouldEqual, "empty.json")
		test.That(t, cfg.Relay.Port, test.ShouldEqual, 8765)
		test.That(t, cfg.Client.URL, test.ShouldEqual, "ws://localhost:8765")
		test.That(t, cfg.Gripper.Mode, test.ShouldEqual, gripper.ModeFixed)
		test.That(t, cfg.Estimation.Layout.Left, test.ShouldResemble, []int{2, 3, 4, 5})
		test.That(t, cfg.PID.Setpoint, test.ShouldEqual, 1500.0)
		test.That(t, cfg.Log.Level, test.ShouldEqual, logging.INFO)
	}
}

func TestFromReaderOverrides(t *testing.T) {
	logger := logging.NewTestLogger(t)
	input := `{
		"relay": {"port": 9000, "echo_to_sender": false},
		"gripper": {
			"mode": "object",
			"success_policy": "sensor_count",
			"targets": {"cup": 600, "sponge": 300},
			"positioner": {"kind": "PULSE", "channel": 2, "raw_max": 4095, "max_value": 2500}
		},
		"estimation": {"layout": {
			"frame_size": 12, "left": [2, 3, 4, 5], "right": [6, 7, 8, 9], "position": 10, "positioner": 11
		}},
		"log": {"level": "debug", "file": {"path": "/tmp/forcegrip.log"}}
	}`
	cfg, err := FromReader(context.Background(), "", strings.NewReader(input), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Relay.Port, test.ShouldEqual, 9000)
	test.That(t, cfg.Relay.Echo(), test.ShouldBeFalse)
	test.That(t, cfg.Gripper.Mode, test.ShouldEqual, gripper.ModeObject)
	test.That(t, cfg.Gripper.SuccessPolicy, test.ShouldEqual, gripper.SuccessSensorCount)
	test.That(t, cfg.Gripper.TargetFor("sponge"), test.ShouldEqual, 300.0)
	// Unset fields keep their defaults.
	test.That(t, cfg.Gripper.EmergencyThreshold, test.ShouldEqual, 3500.0)
	test.That(t, *cfg.Estimation.Layout.Position, test.ShouldEqual, 10)
	test.That(t, *cfg.Estimation.Layout.Positioner, test.ShouldEqual, 11)
	test.That(t, cfg.Gripper.Positioner.Map(4095), test.ShouldEqual, 2500)
	test.That(t, cfg.Log.Level, test.ShouldEqual, logging.DEBUG)
	test.That(t, cfg.Log.File.Path, test.ShouldEqual, "/tmp/forcegrip.log")
}

func TestFromReaderErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	for _, tc := range []struct {
		name, input, contains string
	}{
		{"malformed", `{"relay": `, "decode"},
		{"bad level", `{"log": {"level": "loud"}}`, "log level"},
		{"bad port", `{"relay": {"port": -1}}`, "relay"},
		{"empty url", `{"client": {"url": ""}}`, "url"},
		{"bad layout", `{"estimation": {"layout": {"frame_size": 4}}}`, "estimation"},
		{"bad pid", `{"pid": {"kp": 0, "ki": 0, "kd": 0}}`, "pid"},
		{"bad mode", `{"gripper": {"mode": "gentle"}}`, "gripper"},
		{"feedback without position", `{"gripper": {"feedback": {"raw_open": 0, "raw_closed": 4095}}}`, "position"},
		{
			"positioner without input channel",
			`{"gripper": {"positioner": {"kind": "SERVO", "channel": 2, "raw_max": 4095, "max_value": 180}}}`,
			"positioner",
		},
		{"log file without path", `{"log": {"file": {}}}`, "path"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromReader(context.Background(), "", strings.NewReader(tc.input), logger)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.contains)
		})
	}
}

func TestReadSubstitutesEnvironment(t *testing.T) {
	t.Setenv("FORCEGRIP_RELAY_URL", "ws://gripper-relay.local:9999")
	path := filepath.Join(t.TempDir(), "forcegrip.json")
	test.That(t, os.WriteFile(path, []byte(`{"client": {"url": "${FORCEGRIP_RELAY_URL}"}}`), 0o600), test.ShouldBeNil)

	cfg, err := Read(context.Background(), path, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Client.URL, test.ShouldEqual, "ws://gripper-relay.local:9999")
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)

	_, err = Read(context.Background(), filepath.Join(t.TempDir(), "missing.json"), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLogConfigApply(t *testing.T) {
	logger := logging.NewBlankLogger("apply")
	closer := LogConfig{Level: logging.WARN}.Apply(logger)
	test.That(t, logger.GetLevel(), test.ShouldEqual, logging.WARN)
	test.That(t, closer.Close(), test.ShouldBeNil)

	path := filepath.Join(t.TempDir(), "out.log")
	logger = logging.NewBlankLogger("apply")
	closer = LogConfig{Level: logging.INFO, File: &logging.FileConfig{Path: path}}.Apply(logger)
	logger.Infow("relay connected", "url", "ws://localhost:8765")
	test.That(t, closer.Close(), test.ShouldBeNil)

	contents, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(contents), test.ShouldContainSubstring, "relay connected")
}
