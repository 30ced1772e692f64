package utils

// RollingWindow keeps the most recent samples of a float stream.
type RollingWindow struct {
	data []float64
	pos  int
	full bool
}

// NewRollingWindow returns a window holding at most numSamples values.
func NewRollingWindow(numSamples int) *RollingWindow {
	if numSamples < 1 {
		numSamples = 1
	}
	return &RollingWindow{data: make([]float64, numSamples)}
}

// Add records a sample, overwriting the oldest once the window is full.
func (rw *RollingWindow) Add(x float64) {
	rw.data[rw.pos] = x
	rw.pos++
	if rw.pos >= len(rw.data) {
		rw.pos = 0
		rw.full = true
	}
}

// Values returns the samples currently held, oldest first.
func (rw *RollingWindow) Values() []float64 {
	if !rw.full {
		return append([]float64(nil), rw.data[:rw.pos]...)
	}
	out := make([]float64, 0, len(rw.data))
	out = append(out, rw.data[rw.pos:]...)
	return append(out, rw.data[:rw.pos]...)
}
