package dsp

import (
	"fmt"
	"math"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

// Normalize scales the buffer so its peak reaches Target of full scale.
type Normalize struct {
	Target float64
}

func (n Normalize) Name() string { return KindNormalize }

func (n Normalize) Validate(int) error {
	if !(n.Target > 0 && n.Target <= 1) {
		return fmt.Errorf("%w: normalize target must be in (0, 1], got %g", audio.ErrInvalidFilterParameter, n.Target)
	}
	return nil
}

// Apply returns the input unchanged with an error wrapping audio.ErrNoSignal
// when every sample is zero.
func (n Normalize) Apply(buf Buffer) (Buffer, error) {
	if err := n.Validate(buf.Rate); err != nil {
		return buf, err
	}

	peak := audio.Peak(buf.Samples)
	if peak == 0 {
		return buf, fmt.Errorf("%w: peak amplitude is zero", audio.ErrNoSignal)
	}

	gain := n.Target * math.MaxInt16 / float64(peak)
	out := make([]int16, len(buf.Samples))
	for i, s := range buf.Samples {
		out[i] = audio.Clamp16(float64(s) * gain)
	}
	return Buffer{Samples: out, Rate: buf.Rate}, nil
}
