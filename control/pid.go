// Package control implements the feedback controller driving the grip actuator.
package control

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// PIDConfig configures a PID controller.
type PIDConfig struct {
	Kp       float64 `json:"kp"`
	Ki       float64 `json:"ki"`
	Kd       float64 `json:"kd"`
	Setpoint float64 `json:"setpoint"`
	// OutputMin and OutputMax bound every value returned by Update.
	OutputMin float64 `json:"output_min"`
	OutputMax float64 `json:"output_max"`
	// IntegralLimit bounds the magnitude of the accumulated error integral. Zero means unbounded.
	IntegralLimit float64 `json:"integral_limit,omitempty"`
}

// DefaultPIDConfig returns gains tuned for a hobby servo closing on force sensors reading up to
// a few thousand counts.
func DefaultPIDConfig() PIDConfig {
	return PIDConfig{
		Kp:        0.001,
		Ki:        0.0005,
		Kd:        0.001,
		Setpoint:  1500,
		OutputMin: -180,
		OutputMax: 180,
	}
}

// Validate ensures the controller can produce output.
func (cfg PIDConfig) Validate() error {
	if cfg.Kp == 0 && cfg.Ki == 0 && cfg.Kd == 0 {
		return errors.New("pid should have at least one non-zero kp, ki or kd field")
	}
	if !(cfg.OutputMin < cfg.OutputMax) {
		return errors.Errorf("pid output_min (%v) must be less than output_max (%v)", cfg.OutputMin, cfg.OutputMax)
	}
	if cfg.IntegralLimit < 0 {
		return errors.Errorf("pid integral_limit must be >= 0, got %v", cfg.IntegralLimit)
	}
	return nil
}

// PID is a bounded PID controller. The time between updates is read from its clock.
type PID struct {
	mu  sync.Mutex
	cfg PIDConfig
	clk clock.Clock

	setpoint float64
	integral float64
	prevErr  float64
	// sat is the direction the output is saturated in: 1 high, -1 low, 0 not saturated.
	sat      int
	lastTime time.Time
}

// NewPID returns a controller for cfg. A nil clock uses the wall clock.
func NewPID(cfg PIDConfig, clk clock.Clock) (*PID, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &PID{
		cfg:      cfg,
		clk:      clk,
		setpoint: cfg.Setpoint,
		lastTime: clk.Now(),
	}, nil
}

// Update returns the correction for the measured value. When no time has elapsed since the last
// call or reset, or measured is not finite, it returns 0 and leaves the state untouched.
func (p *PID) Update(measured float64) float64 {
	if math.IsNaN(measured) || math.IsInf(measured, 0) {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clk.Now()
	dt := now.Sub(p.lastTime).Seconds()
	if dt <= 0 {
		return 0
	}

	e := p.setpoint - measured
	// Stop integrating while the output is pinned and the error would push it further out.
	if !((p.sat > 0 && e > 0) || (p.sat < 0 && e < 0)) {
		p.integral += e * dt
		if lim := p.cfg.IntegralLimit; lim > 0 {
			p.integral = math.Max(-lim, math.Min(lim, p.integral))
		}
	}
	deriv := (e - p.prevErr) / dt
	output := p.cfg.Kp*e + p.cfg.Ki*p.integral + p.cfg.Kd*deriv

	switch {
	case output > p.cfg.OutputMax:
		output = p.cfg.OutputMax
		p.sat = 1
	case output < p.cfg.OutputMin:
		output = p.cfg.OutputMin
		p.sat = -1
	default:
		p.sat = 0
	}

	p.prevErr = e
	p.lastTime = now
	return output
}

// SetSetpoint replaces the target and resets the controller history.
func (p *PID) SetSetpoint(setpoint float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setpoint = setpoint
	p.reset()
}

// Setpoint returns the current target.
func (p *PID) Setpoint() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setpoint
}

// Reset clears the integral and previous error and restarts the update clock.
func (p *PID) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}

func (p *PID) reset() {
	p.integral = 0
	p.prevErr = 0
	p.sat = 0
	p.lastTime = p.clk.Now()
}
