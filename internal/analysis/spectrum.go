package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

var (
	ErrTooShort   = errors.New("analysis: series too short")
	ErrNonUniform = errors.New("analysis: series not uniformly sampled")
)

const minSamples = 4

type Spectrum struct {
	Freqs []float64
	Power []float64
}

// PowerSpectrum returns the one-sided power spectrum of data sampled at
// times. The mean is removed and a Hann window applied before the
// transform.
func PowerSpectrum(times, data []float64) (*Spectrum, error) {
	if len(times) != len(data) {
		return nil, fmt.Errorf("analysis: %d times for %d samples", len(times), len(data))
	}
	n := len(data)
	if n < minSamples {
		return nil, fmt.Errorf("%w: %d samples", ErrTooShort, n)
	}
	dt, err := sampleInterval(times)
	if err != nil {
		return nil, err
	}

	mean := 0.0
	for _, v := range data {
		mean += v
	}
	mean /= float64(n)

	windowed := make([]float64, n)
	for i, v := range data {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		windowed[i] = (v - mean) * w
	}
	coeffs := fft.FFTReal(windowed)

	half := n/2 + 1
	s := &Spectrum{Freqs: make([]float64, half), Power: make([]float64, half)}
	for k := 0; k < half; k++ {
		a := cmplx.Abs(coeffs[k])
		s.Freqs[k] = float64(k) / (float64(n) * dt)
		s.Power[k] = a * a / float64(n)
	}
	return s, nil
}

func sampleInterval(times []float64) (float64, error) {
	dt := (times[len(times)-1] - times[0]) / float64(len(times)-1)
	if !(dt > 0) {
		return 0, fmt.Errorf("%w: non-increasing times", ErrNonUniform)
	}
	for i := 1; i < len(times); i++ {
		if math.Abs(times[i]-times[i-1]-dt) > 1e-6*dt+1e-12 {
			return 0, fmt.Errorf("%w: gap %g at sample %d, want %g", ErrNonUniform, times[i]-times[i-1], i, dt)
		}
	}
	return dt, nil
}

// Dominant returns the frequency with the most power, ignoring the zero
// bin.
func (s *Spectrum) Dominant() (freq, power float64) {
	for k := 1; k < len(s.Power); k++ {
		if s.Power[k] > power {
			freq, power = s.Freqs[k], s.Power[k]
		}
	}
	return freq, power
}
