package dsp

import (
	"fmt"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

// LowPass is a 2nd-order Butterworth low-pass applied zero-phase.
type LowPass struct {
	CutoffHz float64
}

func (l LowPass) Name() string { return KindLowPass }

// Validate requires 0 < cutoff < rate/2.
func (l LowPass) Validate(rate int) error {
	nyquist := float64(rate) / 2
	if !(l.CutoffHz > 0 && l.CutoffHz < nyquist) {
		return fmt.Errorf("%w: low_pass cutoff must be in (0, %g) Hz at rate %d, got %g",
			audio.ErrInvalidFilterParameter, nyquist, rate, l.CutoffHz)
	}
	return nil
}

func (l LowPass) Apply(buf Buffer) (Buffer, error) {
	if err := l.Validate(buf.Rate); err != nil {
		return buf, err
	}
	if len(buf.Samples) == 0 {
		return buf, nil
	}

	filter, err := ButterworthLowPass(2, l.CutoffHz/(float64(buf.Rate)/2))
	if err != nil {
		return buf, fmt.Errorf("%w: %v", audio.ErrInvalidFilterParameter, err)
	}

	out := filter.FiltFilt(audio.ToFloat(buf.Samples))
	return Buffer{Samples: audio.FromFloat(out), Rate: buf.Rate}, nil
}
