package fusion

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/montanaflynn/stats"
	"go.viam.com/test"
)

func noisy(rng *rand.Rand, truth, amplitude float64) float64 {
	return truth + (rng.Float64()*2-1)*amplitude
}

func stdDev(t *testing.T, values []float64) float64 {
	t.Helper()
	sd, err := stats.StandardDeviation(values)
	test.That(t, err, test.ShouldBeNil)
	return sd
}

func TestScalarEstimatorConfig(t *testing.T) {
	_, err := NewScalarEstimator(ScalarConfig{ProcessNoise: 1e-5, MeasurementNoise: 0})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "measurement_noise")

	_, err = NewScalarEstimator(ScalarConfig{ProcessNoise: -1, MeasurementNoise: 0.1})
	test.That(t, err, test.ShouldNotBeNil)

	est, err := NewScalarEstimator(ScalarConfig{ProcessNoise: 1e-5, MeasurementNoise: 0.1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.Covariance(), test.ShouldEqual, 1.0)
}

func TestScalarEstimatorConvergence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	est, err := NewScalarEstimator(ScalarConfig{ProcessNoise: 1e-4, MeasurementNoise: 25})
	test.That(t, err, test.ShouldBeNil)

	raw := make([]float64, 0, 200)
	filtered := make([]float64, 0, 200)
	for i := 0; i < 200; i++ {
		z := noisy(rng, 500, 10)
		raw = append(raw, z)
		out, ok := est.Next(z)
		test.That(t, ok, test.ShouldBeTrue)
		filtered = append(filtered, out)
		test.That(t, est.Covariance(), test.ShouldBeGreaterThanOrEqualTo, 0)
	}

	test.That(t, stdDev(t, filtered), test.ShouldBeLessThan, stdDev(t, raw))
	test.That(t, est.Estimate(), test.ShouldAlmostEqual, 500, 5)
}

func TestScalarEstimatorSeeding(t *testing.T) {
	est, err := NewScalarEstimator(DefaultScalarConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.Seeded(), test.ShouldBeFalse)

	out := est.Update(500)
	test.That(t, out, test.ShouldBeBetweenOrEqual, 0, 500)

	est.Seed(400)
	out = est.Update(500)
	test.That(t, out, test.ShouldBeBetweenOrEqual, 400, 500)

	test.That(t, est.Reset(), test.ShouldBeNil)
	test.That(t, est.Seeded(), test.ShouldBeFalse)
	test.That(t, est.Estimate(), test.ShouldEqual, 0.0)
	out, _ = est.Next(700)
	test.That(t, out, test.ShouldEqual, 700.0)
}

func TestVectorEstimatorConfig(t *testing.T) {
	_, err := NewVectorEstimator(VectorConfig{})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewVectorEstimator(VectorConfig{ChannelNoise: []float64{0.5, 0, 0.5}, ProcessNoise: 1e-4})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "channel_noise[1]")

	_, err = NewVectorEstimator(VectorConfig{
		ChannelNoise: []float64{0.5, 0.5},
		Observation:  []float64{1},
	})
	test.That(t, err, test.ShouldNotBeNil)

	est, err := NewVectorEstimator(DefaultVectorConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.Channels(), test.ShouldEqual, 4)
	test.That(t, est.Covariance(), test.ShouldEqual, 100.0)
}

func TestVectorEstimatorConvergence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	est, err := NewVectorEstimator(VectorConfig{
		ChannelNoise: []float64{100, 25, 25, 100},
		ProcessNoise: 1e-4,
	})
	test.That(t, err, test.ShouldBeNil)

	var raw, filtered []float64
	for i := 0; i < 200; i++ {
		z := []float64{noisy(rng, 500, 10), noisy(rng, 500, 10), noisy(rng, 500, 10), noisy(rng, 500, 10)}
		if !est.Seeded() {
			est.Seed(z)
		}
		raw = append(raw, z[0])
		out, err := est.Update(z)
		test.That(t, err, test.ShouldBeNil)
		filtered = append(filtered, out)
		test.That(t, est.Covariance(), test.ShouldBeGreaterThanOrEqualTo, 0)
	}
	test.That(t, stdDev(t, filtered), test.ShouldBeLessThan, stdDev(t, raw))
	test.That(t, est.Estimate(), test.ShouldAlmostEqual, 500, 5)
}

func TestVectorEstimatorSeedingAndSize(t *testing.T) {
	est, err := NewVectorEstimator(DefaultVectorConfig())
	test.That(t, err, test.ShouldBeNil)

	first := []float64{100, 200, 300, 400}
	est.Seed(first)
	test.That(t, est.Estimate(), test.ShouldEqual, 250.0)

	out, err := est.Update([]float64{300, 300, 300, 300})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldBeBetweenOrEqual, 250, 300)

	_, err = est.Update([]float64{1, 2})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, est.Estimate(), test.ShouldEqual, out)
}

func TestChannelLayout(t *testing.T) {
	test.That(t, DefaultChannelLayout().Validate(), test.ShouldBeNil)
	test.That(t, DefaultChannelLayout().Aux(), test.ShouldResemble, []int{0, 1})

	overlap := ChannelLayout{FrameSize: 6, Left: []int{0, 1, 2}, Right: []int{2, 3, 4}}
	err := overlap.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "more than once")

	outside := ChannelLayout{FrameSize: 4, Left: []int{0, 1}, Right: []int{2, 7}}
	test.That(t, outside.Validate(), test.ShouldNotBeNil)

	pos := 0
	withPos := ChannelLayout{FrameSize: 9, Left: []int{1, 2, 3, 4}, Right: []int{5, 6, 7, 8}, Position: &pos}
	test.That(t, withPos.Validate(), test.ShouldBeNil)
	test.That(t, withPos.Aux(), test.ShouldResemble, []int{0})

	withPos.Positioner = &pos
	err = withPos.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "more than once")

	test.That(t, ChannelLayout{FrameSize: 3, Left: []int{0}}.Validate(), test.ShouldNotBeNil)
}

func TestAggregate(t *testing.T) {
	force := Aggregate(
		JawReading{Raw: []float64{10, 20, 30, 40}, Filtered: 24},
		JawReading{Raw: []float64{50, 50}, Filtered: 49},
	)
	test.That(t, force, test.ShouldResemble, AggregatedForce{
		LeftRaw:       25,
		LeftFiltered:  24,
		RightRaw:      50,
		RightFiltered: 49,
		Overall:       49,
	})
}

func TestPipeline(t *testing.T) {
	pos, positioner := 0, 1
	cfg := DefaultConfig()
	cfg.Layout.Position = &pos
	cfg.Layout.Positioner = &positioner

	p, err := NewPipeline(cfg)
	test.That(t, err, test.ShouldBeNil)

	_, err = p.Process([]int{1, 2, 3})
	test.That(t, errors.Is(err, ErrFrameSize), test.ShouldBeTrue)

	frame := []int{2048, 4095, 100, 100, 100, 100, 800, 800, 800, 800}
	est, err := p.Process(frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.Force.LeftRaw, test.ShouldEqual, 100.0)
	test.That(t, est.Force.RightRaw, test.ShouldEqual, 800.0)
	test.That(t, est.Force.LeftFiltered, test.ShouldAlmostEqual, 100, 1e-6)
	test.That(t, est.Force.RightFiltered, test.ShouldAlmostEqual, 800, 1e-6)
	test.That(t, est.Force.Overall, test.ShouldAlmostEqual, 800, 1e-6)
	test.That(t, est.Left, test.ShouldHaveLength, 4)
	test.That(t, est.Channels(), test.ShouldHaveLength, 8)
	test.That(t, est.HasPosition, test.ShouldBeTrue)
	test.That(t, est.Position, test.ShouldEqual, 2048.0)
	test.That(t, est.HasPositioner, test.ShouldBeTrue)
	test.That(t, est.Positioner, test.ShouldEqual, 4095.0)

	// A step on the right jaw moves its estimate toward the new value without overshooting.
	est, err = p.Process([]int{2048, 0, 100, 100, 100, 100, 900, 900, 900, 900})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.Force.RightFiltered, test.ShouldBeBetweenOrEqual, 800, 900)
	test.That(t, est.Positioner, test.ShouldBeBetween, 0, 4095)

	p.Reset()
	est, err = p.Process([]int{0, 0, 5, 5, 5, 5, 7, 7, 7, 7})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, est.Force.Overall, test.ShouldAlmostEqual, 7, 1e-6)
	test.That(t, est.Positioner, test.ShouldEqual, 0.0)
}

func TestPipelineConfigMismatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Layout = ChannelLayout{FrameSize: 6, Left: []int{0, 1, 2}, Right: []int{3, 4, 5}}
	_, err := NewPipeline(cfg)
	test.That(t, err, test.ShouldNotBeNil)

	cfg.Jaw.ChannelNoise = nil
	_, err = NewPipeline(cfg)
	test.That(t, err, test.ShouldBeNil)
}
