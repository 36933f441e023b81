package waveform

import (
	"math"
	"sync"
)

const (
	DefaultBarCount    = 32
	DefaultSensitivity = 10.0
	DefaultSmoothing   = 0.7
)

// Frame is one normalized bar series, every value in [0,1].
type Frame []float64

// Analyzer turns dB-scale frequency magnitudes into a fixed number of
// smoothed bars. The previous frame is the only state it keeps.
type Analyzer struct {
	barCount    int
	sensitivity float64
	smoothing   float64

	mu   sync.Mutex
	prev []float64
}

// NewAnalyzer creates an analyzer. Non-positive arguments fall back to the defaults.
func NewAnalyzer(barCount int, sensitivity, smoothing float64) *Analyzer {
	if barCount <= 0 {
		barCount = DefaultBarCount
	}
	if sensitivity <= 0 {
		sensitivity = DefaultSensitivity
	}
	if smoothing < 0 || smoothing >= 1 {
		smoothing = DefaultSmoothing
	}
	return &Analyzer{
		barCount:    barCount,
		sensitivity: sensitivity,
		smoothing:   smoothing,
		prev:        make([]float64, barCount),
	}
}

// BarCount returns the length of every frame produced.
func (a *Analyzer) BarCount() int {
	return a.barCount
}

// Process converts one frame of dB magnitudes into bars.
// Empty input yields an all-zero frame.
func (a *Analyzer) Process(db []float64) Frame {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(Frame, a.barCount)
	if len(db) == 0 {
		for i := range a.prev {
			a.prev[i] = 0
		}
		return out
	}

	for i := 0; i < a.barCount; i++ {
		start := i * len(db) / a.barCount
		end := (i + 1) * len(db) / a.barCount
		if end <= start {
			end = start + 1
		}
		if start >= len(db) {
			start, end = len(db)-1, len(db)
		}

		var sum float64
		for _, v := range db[start:end] {
			sum += toLinear(v)
		}
		level := clamp(sum / float64(end-start) * a.sensitivity)

		smoothed := a.prev[i]*a.smoothing + level*(1-a.smoothing)
		smoothed = clamp(smoothed)
		a.prev[i] = smoothed
		out[i] = smoothed
	}
	return out
}

// Reset clears the smoothing state.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.prev {
		a.prev[i] = 0
	}
}

func toLinear(db float64) float64 {
	if math.IsNaN(db) || math.IsInf(db, -1) {
		return 0
	}
	if math.IsInf(db, 1) {
		return 1
	}
	return math.Pow(10, db/20)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
