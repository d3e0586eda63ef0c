package dsp

import (
	"fmt"
	"math"
	"sync"

	"github.com/cwbudde/algo-dsp/dsp/effects/pitch"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

// SpectralShifter adapts the algo-dsp phase vocoder to the Shifter boundary.
// One processor is kept per sample rate and reset before every call, so calls
// are independent of each other.
type SpectralShifter struct {
	mu         sync.Mutex
	processors map[int]*pitch.SpectralPitchShifter
}

// NewSpectralShifter creates an empty shifter; processors are built lazily.
func NewSpectralShifter() *SpectralShifter {
	return &SpectralShifter{processors: make(map[int]*pitch.SpectralPitchShifter)}
}

func (s *SpectralShifter) Shift(in []float64, rate int, ratio float64) ([]float64, int, error) {
	if rate <= 0 {
		return nil, 0, fmt.Errorf("%w: sample rate must be positive, got %d", audio.ErrExternalDSP, rate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	proc, err := s.processor(rate)
	if err != nil {
		return nil, 0, err
	}
	if err := proc.SetPitchRatio(ratio); err != nil {
		return nil, 0, fmt.Errorf("%w: set pitch ratio %g: %v", audio.ErrExternalDSP, ratio, err)
	}
	proc.Reset()

	out, err := proc.ProcessWithError(in)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: spectral shift: %v", audio.ErrExternalDSP, err)
	}
	if len(out) == 0 && len(in) > 0 {
		return nil, 0, fmt.Errorf("%w: spectral shifter returned no samples", audio.ErrExternalDSP)
	}
	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, 0, fmt.Errorf("%w: spectral shifter produced invalid value at %d", audio.ErrExternalDSP, i)
		}
	}
	return out, len(in), nil
}

func (s *SpectralShifter) processor(rate int) (*pitch.SpectralPitchShifter, error) {
	if p, ok := s.processors[rate]; ok {
		return p, nil
	}
	p, err := pitch.NewSpectralPitchShifter(float64(rate))
	if err != nil {
		return nil, fmt.Errorf("%w: create spectral shifter at %d Hz: %v", audio.ErrExternalDSP, rate, err)
	}
	s.processors[rate] = p
	return p, nil
}
