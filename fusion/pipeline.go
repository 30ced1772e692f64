package fusion

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ErrFrameSize is returned for a frame whose field count does not match the layout.
var ErrFrameSize = errors.New("unexpected sensor frame size")

// Config describes the whole estimation stage.
type Config struct {
	Layout ChannelLayout `json:"layout"`
	// Channel is the noise model of every individual force channel.
	Channel ScalarConfig `json:"channel"`
	// Position is the noise model of the position feedback channel.
	Position ScalarConfig `json:"position"`
	// Positioner is the noise model of the positioner input channel.
	Positioner ScalarConfig `json:"positioner"`
	// Jaw is the fusion model shared by both jaws. When ChannelNoise is empty every channel gets
	// the same variance as Channel.MeasurementNoise.
	Jaw VectorConfig `json:"jaw"`
}

// DefaultConfig returns the estimation settings for the default ten field layout.
func DefaultConfig() Config {
	return Config{
		Layout:   DefaultChannelLayout(),
		Channel:  DefaultScalarConfig(),
		Position: ScalarConfig{ProcessNoise: 1e-4, MeasurementNoise: 0.05, InitialCovariance: 1},
		Jaw:      DefaultVectorConfig(),

		Positioner: ScalarConfig{ProcessNoise: 1e-3, MeasurementNoise: 0.07, InitialCovariance: 1},
	}
}

func (cfg Config) jawConfig(channels int) VectorConfig {
	jaw := cfg.Jaw
	if len(jaw.ChannelNoise) == 0 {
		jaw.ChannelNoise = lo.Times(channels, func(int) float64 { return cfg.Channel.MeasurementNoise })
	}
	return jaw
}

// Validate checks the layout and that every estimator can be built.
func (cfg Config) Validate() error {
	if err := cfg.Layout.Validate(); err != nil {
		return errors.Wrap(err, "layout")
	}
	if err := cfg.Channel.Validate(); err != nil {
		return errors.Wrap(err, "channel")
	}
	if cfg.Layout.Position != nil {
		if err := cfg.Position.Validate(); err != nil {
			return errors.Wrap(err, "position")
		}
	}
	if cfg.Layout.Positioner != nil {
		if err := cfg.Positioner.Validate(); err != nil {
			return errors.Wrap(err, "positioner")
		}
	}
	for name, channels := range map[string]int{"left": len(cfg.Layout.Left), "right": len(cfg.Layout.Right)} {
		jaw := cfg.jawConfig(channels)
		if len(jaw.ChannelNoise) != channels {
			return errors.Errorf("jaw: channel_noise has %d entries but the %s jaw has %d channels",
				len(jaw.ChannelNoise), name, channels)
		}
		if err := jaw.Validate(); err != nil {
			return errors.Wrap(err, "jaw")
		}
	}
	return nil
}

// Estimate is the output of one pipeline cycle.
type Estimate struct {
	Force AggregatedForce
	// Left and Right are the per-channel filtered values, in layout order.
	Left  []float64
	Right []float64
	// Position is the filtered raw position feedback when HasPosition is set.
	Position    float64
	HasPosition bool
	// Positioner is the filtered positioner input when HasPositioner is set.
	Positioner    float64
	HasPositioner bool
}

// Channels returns every per-channel filtered value.
func (e Estimate) Channels() []float64 {
	return append(append([]float64{}, e.Left...), e.Right...)
}

// Pipeline owns every estimator for one gripper. It is not safe for concurrent use; a single
// processing loop feeds it frames in arrival order.
type Pipeline struct {
	layout ChannelLayout

	leftChannels  []*ScalarEstimator
	rightChannels []*ScalarEstimator
	leftJaw       *VectorEstimator
	rightJaw      *VectorEstimator
	position      *ScalarEstimator
	positioner    *ScalarEstimator
}

// NewPipeline builds the estimators described by cfg.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	newChannels := func(n int) ([]*ScalarEstimator, error) {
		out := make([]*ScalarEstimator, 0, n)
		for i := 0; i < n; i++ {
			est, err := NewScalarEstimator(cfg.Channel)
			if err != nil {
				return nil, err
			}
			out = append(out, est)
		}
		return out, nil
	}

	p := &Pipeline{layout: cfg.Layout}
	var err error
	if p.leftChannels, err = newChannels(len(cfg.Layout.Left)); err != nil {
		return nil, err
	}
	if p.rightChannels, err = newChannels(len(cfg.Layout.Right)); err != nil {
		return nil, err
	}
	if p.leftJaw, err = NewVectorEstimator(cfg.jawConfig(len(cfg.Layout.Left))); err != nil {
		return nil, errors.Wrap(err, "left jaw")
	}
	if p.rightJaw, err = NewVectorEstimator(cfg.jawConfig(len(cfg.Layout.Right))); err != nil {
		return nil, errors.Wrap(err, "right jaw")
	}
	if cfg.Layout.Position != nil {
		if p.position, err = NewScalarEstimator(cfg.Position); err != nil {
			return nil, errors.Wrap(err, "position")
		}
	}
	if cfg.Layout.Positioner != nil {
		if p.positioner, err = NewScalarEstimator(cfg.Positioner); err != nil {
			return nil, errors.Wrap(err, "positioner")
		}
	}
	return p, nil
}

// Process filters one frame. Estimators are seeded from the first frame they see. A frame of the
// wrong size returns ErrFrameSize and leaves every estimator untouched.
func (p *Pipeline) Process(frame []int) (Estimate, error) {
	if len(frame) != p.layout.FrameSize {
		return Estimate{}, errors.Wrapf(ErrFrameSize, "got %d fields, want %d", len(frame), p.layout.FrameSize)
	}

	leftRaw := Pick(frame, p.layout.Left)
	rightRaw := Pick(frame, p.layout.Right)

	left, err := p.updateJaw(p.leftJaw, leftRaw)
	if err != nil {
		return Estimate{}, errors.Wrap(err, "left jaw")
	}
	right, err := p.updateJaw(p.rightJaw, rightRaw)
	if err != nil {
		return Estimate{}, errors.Wrap(err, "right jaw")
	}

	est := Estimate{
		Force: Aggregate(left, right),
		Left:  filterChannels(p.leftChannels, leftRaw),
		Right: filterChannels(p.rightChannels, rightRaw),
	}
	if p.position != nil {
		est.Position, _ = p.position.Next(float64(frame[*p.layout.Position]))
		est.HasPosition = true
	}
	if p.positioner != nil {
		est.Positioner, _ = p.positioner.Next(float64(frame[*p.layout.Positioner]))
		est.HasPositioner = true
	}
	return est, nil
}

func (p *Pipeline) updateJaw(jaw *VectorEstimator, raw []float64) (JawReading, error) {
	if !jaw.Seeded() {
		jaw.Seed(raw)
	}
	filtered, err := jaw.Update(raw)
	if err != nil {
		return JawReading{}, err
	}
	return JawReading{Raw: raw, Filtered: filtered}, nil
}

func filterChannels(estimators []*ScalarEstimator, raw []float64) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i], _ = estimators[i].Next(v)
	}
	return out
}

// Reset forgets every estimate; the next frame seeds them again.
func (p *Pipeline) Reset() {
	for _, est := range append(append([]*ScalarEstimator{}, p.leftChannels...), p.rightChannels...) {
		//nolint:errcheck
		est.Reset()
	}
	//nolint:errcheck
	p.leftJaw.Reset()
	//nolint:errcheck
	p.rightJaw.Reset()
	for _, est := range []*ScalarEstimator{p.position, p.positioner} {
		if est != nil {
			//nolint:errcheck
			est.Reset()
		}
	}
}
