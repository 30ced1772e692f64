package fusion

import (
	"math"

	"github.com/samber/lo"
)

// JawReading is one jaw's raw channel values and its fused estimate for a cycle.
type JawReading struct {
	Raw      []float64
	Filtered float64
}

// AggregatedForce is derived fresh every cycle; it is never stored between frames.
type AggregatedForce struct {
	LeftRaw       float64
	LeftFiltered  float64
	RightRaw      float64
	RightFiltered float64
	// Overall is the more loaded jaw, the feedback signal of the grip loop.
	Overall float64
}

// Aggregate combines both jaws. Raw values are channel means.
func Aggregate(left, right JawReading) AggregatedForce {
	return AggregatedForce{
		LeftRaw:       lo.Mean(left.Raw),
		LeftFiltered:  left.Filtered,
		RightRaw:      lo.Mean(right.Raw),
		RightFiltered: right.Filtered,
		Overall:       math.Max(left.Filtered, right.Filtered),
	}
}
