package waveform

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// MinDecibels is the floor reported for silent bins.
const MinDecibels = -100.0

// Spectrum computes dB magnitudes of PCM windows. It is not safe for
// concurrent use; each capture session owns one.
type Spectrum struct {
	size   int
	fft    *fourier.FFT
	window []float64
	buf    []float64
	coeff  []complex128
}

// NewSpectrum prepares a Hann-windowed FFT of the given size.
func NewSpectrum(size int) *Spectrum {
	if size < 2 {
		size = 1024
	}
	window := make([]float64, size)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(size-1))
	}
	return &Spectrum{
		size:   size,
		fft:    fourier.NewFFT(size),
		window: window,
		buf:    make([]float64, size),
	}
}

// Size returns the number of samples consumed per window.
func (s *Spectrum) Size() int {
	return s.size
}

// Decibels returns size/2 magnitudes in dB for the most recent window of
// samples. Shorter input is zero-padded at the front.
func (s *Spectrum) Decibels(samples []int16) []float64 {
	if len(samples) == 0 {
		return nil
	}
	if len(samples) > s.size {
		samples = samples[len(samples)-s.size:]
	}
	offset := s.size - len(samples)
	for i := 0; i < offset; i++ {
		s.buf[i] = 0
	}
	for i, v := range samples {
		s.buf[offset+i] = float64(v) / 32768 * s.window[offset+i]
	}

	s.coeff = s.fft.Coefficients(s.coeff, s.buf)
	bins := s.size / 2
	out := make([]float64, bins)
	for i := 0; i < bins; i++ {
		mag := cmplx.Abs(s.coeff[i]) / float64(s.size)
		db := MinDecibels
		if mag > 0 {
			db = math.Max(20*math.Log10(mag), MinDecibels)
		}
		out[i] = db
	}
	return out
}
