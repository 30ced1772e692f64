// Package fusion turns raw force-sensor frames into filtered per-channel and per-jaw estimates.
package fusion

import (
	"math"

	"github.com/pkg/errors"
)

// Filter is a stateful single-input filter. Next returns the filtered value and whether the
// filter had enough history to produce it.
type Filter interface {
	Reset() error
	Next(x float64) (float64, bool)
}

// ScalarConfig holds the noise model of a ScalarEstimator.
type ScalarConfig struct {
	// ProcessNoise is Q, how much the true value is expected to drift per update.
	ProcessNoise float64 `json:"process_noise"`
	// MeasurementNoise is R, the variance of a single reading. Must be > 0.
	MeasurementNoise float64 `json:"measurement_noise"`
	// InitialCovariance is P at construction. Defaults to 1.
	InitialCovariance float64 `json:"initial_covariance,omitempty"`
}

// DefaultScalarConfig returns the noise model used for individual force channels.
func DefaultScalarConfig() ScalarConfig {
	return ScalarConfig{ProcessNoise: 1e-5, MeasurementNoise: 0.1, InitialCovariance: 1}
}

// Validate ensures the noise model can be used to build an estimator.
func (cfg ScalarConfig) Validate() error {
	switch {
	case math.IsNaN(cfg.ProcessNoise) || math.IsNaN(cfg.MeasurementNoise) || math.IsNaN(cfg.InitialCovariance):
		return errors.New("noise parameters must be numbers")
	case cfg.MeasurementNoise <= 0:
		return errors.Errorf("measurement_noise must be > 0, got %v", cfg.MeasurementNoise)
	case cfg.ProcessNoise < 0:
		return errors.Errorf("process_noise must be >= 0, got %v", cfg.ProcessNoise)
	case cfg.InitialCovariance < 0:
		return errors.Errorf("initial_covariance must be >= 0, got %v", cfg.InitialCovariance)
	}
	return nil
}

// ScalarEstimator is a one-dimensional constant-value Kalman filter.
type ScalarEstimator struct {
	q, r, p0 float64

	x      float64
	p      float64
	seeded bool
}

// NewScalarEstimator returns an estimator for the given noise model.
func NewScalarEstimator(cfg ScalarConfig) (*ScalarEstimator, error) {
	if cfg.InitialCovariance == 0 {
		cfg.InitialCovariance = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ScalarEstimator{
		q:  cfg.ProcessNoise,
		r:  cfg.MeasurementNoise,
		p0: cfg.InitialCovariance,
		p:  cfg.InitialCovariance,
	}, nil
}

// Seed sets the prior estimate.
func (se *ScalarEstimator) Seed(x float64) {
	se.x = x
	se.seeded = true
}

// Seeded reports whether a prior has been set.
func (se *ScalarEstimator) Seeded() bool {
	return se.seeded
}

// Update runs one predict/correct cycle with measurement z and returns the new estimate.
func (se *ScalarEstimator) Update(z float64) float64 {
	pMinus := se.p + se.q
	k := pMinus / (pMinus + se.r)
	se.x += k * (z - se.x)
	se.p = (1 - k) * pMinus
	return se.x
}

// Estimate returns the current estimate.
func (se *ScalarEstimator) Estimate() float64 {
	return se.x
}

// Covariance returns the current estimate variance.
func (se *ScalarEstimator) Covariance() float64 {
	return se.p
}

// Reset forgets the estimate and restores the initial covariance.
func (se *ScalarEstimator) Reset() error {
	se.x = 0
	se.p = se.p0
	se.seeded = false
	return nil
}

// Next seeds from the first value it sees and filters every value after that.
func (se *ScalarEstimator) Next(x float64) (float64, bool) {
	if !se.seeded {
		se.Seed(x)
	}
	return se.Update(x), true
}
