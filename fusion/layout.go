package fusion

import (
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ChannelLayout names which fields of a sensor frame belong to which jaw. It is resolved once at
// startup so re-wiring sensors is a configuration change.
type ChannelLayout struct {
	// FrameSize is the number of fields in every valid frame.
	FrameSize int `json:"frame_size"`
	// Left and Right are the frame indices of each jaw's force sensors.
	Left  []int `json:"left"`
	Right []int `json:"right"`
	// Position, when set, is the auxiliary field carrying actuator position feedback.
	Position *int `json:"position,omitempty"`
	// Positioner, when set, is the auxiliary field an operator turns to steer the positioner.
	Positioner *int `json:"positioner,omitempty"`
}

// DefaultChannelLayout is a ten field frame: two potentiometer channels followed by four
// sensors per jaw.
func DefaultChannelLayout() ChannelLayout {
	return ChannelLayout{
		FrameSize: 10,
		Left:      []int{2, 3, 4, 5},
		Right:     []int{6, 7, 8, 9},
	}
}

// Validate checks every index is inside the frame and used at most once.
func (l ChannelLayout) Validate() error {
	if l.FrameSize < 1 {
		return errors.Errorf("frame_size must be positive, got %d", l.FrameSize)
	}
	if len(l.Left) == 0 || len(l.Right) == 0 {
		return errors.New("both jaws need at least one channel")
	}
	all := append(append([]int{}, l.Left...), l.Right...)
	for _, aux := range []*int{l.Position, l.Positioner} {
		if aux != nil {
			all = append(all, *aux)
		}
	}
	for _, idx := range all {
		if idx < 0 || idx >= l.FrameSize {
			return errors.Errorf("channel index %d outside frame of size %d", idx, l.FrameSize)
		}
	}
	if dups := lo.FindDuplicates(all); len(dups) > 0 {
		return errors.Errorf("channel indices used more than once: %v", dups)
	}
	return nil
}

// Aux returns the frame indices that are not force channels, in order.
func (l ChannelLayout) Aux() []int {
	return lo.Without(lo.Range(l.FrameSize), append(append([]int{}, l.Left...), l.Right...)...)
}

// Pick returns the values of frame at the given indices as floats.
func Pick(frame []int, indices []int) []float64 {
	return lo.Map(indices, func(idx, _ int) float64 { return float64(frame[idx]) })
}
