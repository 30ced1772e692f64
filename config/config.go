// Package config defines the file based configuration shared by the relay, the gripper daemon
// and the operator CLI.
package config

import (
	"io"

	"go.uber.org/zap/zapcore"
	goutils "go.viam.com/utils"

	"go.viam.com/forcegrip/control"
	"go.viam.com/forcegrip/fusion"
	"go.viam.com/forcegrip/gripper"
	"go.viam.com/forcegrip/logging"
	"go.viam.com/forcegrip/relay"
)

// A Config describes one deployment. Every section has defaults, so an empty file is valid.
type Config struct {
	ConfigFilePath string `json:"-"`

	Relay      relay.ServerConfig `json:"relay"`
	Client     relay.ClientConfig `json:"client"`
	Estimation fusion.Config      `json:"estimation"`
	PID        control.PIDConfig  `json:"pid"`
	Gripper    gripper.Config     `json:"gripper"`
	Log        LogConfig          `json:"log"`
}

// LogConfig selects the log level and an optional rotating log file.
type LogConfig struct {
	Level logging.Level       `json:"level"`
	File  *logging.FileConfig `json:"file,omitempty"`
}

// Default returns the configuration used for every field a file leaves out.
func Default() Config {
	return Config{
		Relay:      relay.DefaultServerConfig(),
		Client:     relay.DefaultClientConfig(),
		Estimation: fusion.DefaultConfig(),
		PID:        control.DefaultPIDConfig(),
		Gripper:    gripper.DefaultConfig(),
		Log:        LogConfig{Level: logging.INFO},
	}
}

// Ensure validates every section and fills in defaults that depend on other fields.
func (c *Config) Ensure() error {
	if err := c.Relay.Validate("relay"); err != nil {
		return err
	}
	if err := c.Client.Validate("client"); err != nil {
		return err
	}
	if err := c.Estimation.Validate(); err != nil {
		return goutils.NewConfigValidationError("estimation", err)
	}
	if err := c.PID.Validate(); err != nil {
		return goutils.NewConfigValidationError("pid", err)
	}
	if err := c.Gripper.Validate(); err != nil {
		return goutils.NewConfigValidationError("gripper", err)
	}
	if c.Gripper.Feedback != nil && c.Estimation.Layout.Position == nil {
		return goutils.NewConfigValidationFieldRequiredError("estimation.layout", "position")
	}
	if c.Gripper.Positioner != nil && c.Estimation.Layout.Positioner == nil {
		return goutils.NewConfigValidationFieldRequiredError("estimation.layout", "positioner")
	}
	if c.Log.File != nil && c.Log.File.Path == "" {
		return goutils.NewConfigValidationFieldRequiredError("log.file", "path")
	}
	return nil
}

// Apply sets the configured level on logger and attaches the log file, if any. The returned
// closer releases the file and is never nil.
func (lc LogConfig) Apply(logger logging.Logger) io.Closer {
	logger.SetLevel(lc.Level)
	if lc.Level == logging.DEBUG {
		logging.GlobalLogLevel.SetLevel(zapcore.DebugLevel)
	}
	if lc.File == nil {
		return nopCloser{}
	}
	appender, closer := logging.NewFileAppender(*lc.File)
	logger.AddAppender(appender)
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
