package waveform

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessEmptyInput(t *testing.T) {
	a := NewAnalyzer(32, 0, 0)

	frame := a.Process(nil)
	require.Len(t, frame, 32)
	for _, v := range frame {
		assert.Zero(t, v)
	}

	frame = a.Process([]float64{})
	require.Len(t, frame, 32)
}

func TestProcessBoundsForArbitraryInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := NewAnalyzer(16, 0, 0)

	for round := 0; round < 200; round++ {
		n := rng.Intn(600)
		input := make([]float64, n)
		for i := range input {
			switch rng.Intn(10) {
			case 0:
				input[i] = math.Inf(-1)
			case 1:
				input[i] = math.NaN()
			case 2:
				input[i] = 40
			default:
				input[i] = -rng.Float64() * 120
			}
		}

		frame := a.Process(input)
		require.Len(t, frame, 16)
		for _, v := range frame {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestProcessInputShorterThanBarCount(t *testing.T) {
	a := NewAnalyzer(32, 0, 0)
	frame := a.Process([]float64{0, -20, -40})
	require.Len(t, frame, 32)
}

func TestProcessSmoothing(t *testing.T) {
	a := NewAnalyzer(1, 1, 0.7)

	// 0 dB is linear amplitude 1, so the raw level is 1.
	first := a.Process([]float64{0})
	assert.InDelta(t, 0.3, first[0], 1e-9)

	second := a.Process([]float64{0})
	assert.InDelta(t, 0.3*0.7+0.3, second[0], 1e-9)

	silent := a.Process([]float64{math.Inf(-1)})
	assert.InDelta(t, second[0]*0.7, silent[0], 1e-9)
}

func TestReset(t *testing.T) {
	a := NewAnalyzer(4, 1, 0.7)
	a.Process([]float64{0, 0, 0, 0})
	a.Reset()

	frame := a.Process([]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1), math.Inf(-1)})
	for _, v := range frame {
		assert.Zero(t, v)
	}
}

func TestSpectrumDetectsTone(t *testing.T) {
	const size = 1024
	s := NewSpectrum(size)

	samples := make([]int16, size)
	// Bin 64 of a 1024-point FFT.
	for i := range samples {
		samples[i] = int16(16000 * math.Sin(2*math.Pi*64*float64(i)/size))
	}

	db := s.Decibels(samples)
	require.Len(t, db, size/2)

	peak := 0
	for i := range db {
		if db[i] > db[peak] {
			peak = i
		}
	}
	assert.InDelta(t, 64, peak, 1)
	assert.Greater(t, db[peak], -30.0)
}

func TestSpectrumSilence(t *testing.T) {
	s := NewSpectrum(256)
	db := s.Decibels(make([]int16, 100))
	require.Len(t, db, 128)
	for _, v := range db {
		assert.Equal(t, MinDecibels, v)
	}
	assert.Nil(t, s.Decibels(nil))
}
