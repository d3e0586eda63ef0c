package dsp

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

// Shifter changes the pitch of a float signal in [-1, 1] by ratio without
// changing its tempo. It returns the shifted signal and the number of input
// samples it consumed, which may differ from len(out).
type Shifter interface {
	Shift(in []float64, rate int, ratio float64) (out []float64, consumed int, err error)
}

// SemitonesToFactor converts a semitone offset to a frequency ratio.
func SemitonesToFactor(semitones float64) float64 {
	return math.Pow(2, semitones/12)
}

// LinearShifter shifts pitch by reading the input on a time axis scaled by
// the ratio and interpolating linearly between neighbouring samples. Output
// length always equals input length; positions past the end read as silence.
// It has no formant preservation and is meant as the fallback beneath a
// spectral shifter.
type LinearShifter struct{}

func (LinearShifter) Shift(in []float64, _ int, ratio float64) ([]float64, int, error) {
	if !(ratio > 0) || math.IsInf(ratio, 0) {
		return nil, 0, fmt.Errorf("%w: pitch factor must be positive, got %g", audio.ErrInvalidFilterParameter, ratio)
	}

	out := make([]float64, len(in))
	last := float64(len(in) - 1)
	for i := range out {
		pos := float64(i) * ratio
		if pos > last {
			continue
		}
		lo := int(pos)
		frac := pos - float64(lo)
		v := in[lo]
		if frac > 0 && lo+1 < len(in) {
			v += (in[lo+1] - in[lo]) * frac
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out[i] = v
	}
	return out, len(in), nil
}

// FallbackShifter tries Primary and falls back to Fallback when Primary
// fails. Fallback failures are returned.
type FallbackShifter struct {
	Primary  Shifter
	Fallback Shifter
	Logger   *slog.Logger

	// OnFallback is called with the primary error before the fallback runs.
	OnFallback func(err error)
}

func (f *FallbackShifter) Shift(in []float64, rate int, ratio float64) ([]float64, int, error) {
	if f.Primary != nil {
		out, consumed, err := f.Primary.Shift(in, rate, ratio)
		if err == nil {
			return out, consumed, nil
		}
		f.fellBack(err)
	}
	return f.Fallback.Shift(in, rate, ratio)
}

func (f *FallbackShifter) fellBack(err error) {
	if f.Logger != nil {
		f.Logger.Warn("External pitch shifter failed, using linear fallback",
			slog.String("error", err.Error()),
		)
	}
	if f.OnFallback != nil {
		f.OnFallback(err)
	}
}

// PitchShift is the batch pitch stage. With External set, the external
// shifter runs first; on failure the stage falls back to LinearShifter and
// returns the fallback output together with an error wrapping
// audio.ErrExternalDSP.
type PitchShift struct {
	Factor   float64
	External Shifter
}

func (p PitchShift) Name() string { return KindPitchShift }

func (p PitchShift) Validate(int) error {
	if !(p.Factor > 0) || math.IsInf(p.Factor, 0) {
		return fmt.Errorf("%w: pitch_shift factor must be positive, got %g", audio.ErrInvalidFilterParameter, p.Factor)
	}
	return nil
}

func (p PitchShift) Apply(buf Buffer) (Buffer, error) {
	if err := p.Validate(buf.Rate); err != nil {
		return buf, err
	}
	if len(buf.Samples) == 0 {
		return buf, nil
	}

	in := audio.ToUnit(buf.Samples)
	if p.External != nil {
		var externalErr error
		shifter := &FallbackShifter{
			Primary:    p.External,
			Fallback:   LinearShifter{},
			OnFallback: func(err error) { externalErr = err },
		}
		out, _, err := shifter.Shift(in, buf.Rate, p.Factor)
		if err != nil {
			return buf, err
		}
		res := Buffer{Samples: audio.FromUnit(fitLength(out, len(in))), Rate: buf.Rate}
		if externalErr != nil {
			return res, fmt.Errorf("%w: %v (used linear fallback)", audio.ErrExternalDSP, externalErr)
		}
		return res, nil
	}

	out, _, err := LinearShifter{}.Shift(in, buf.Rate, p.Factor)
	if err != nil {
		return buf, err
	}
	return Buffer{Samples: audio.FromUnit(out), Rate: buf.Rate}, nil
}

// fitLength truncates or zero-pads v to n samples.
func fitLength(v []float64, n int) []float64 {
	if len(v) == n {
		return v
	}
	out := make([]float64, n)
	copy(out, v)
	return out
}
