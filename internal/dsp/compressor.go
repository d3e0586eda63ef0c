package dsp

import (
	"fmt"
	"math"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

// envelopeCutoff is the normalized cutoff of the envelope follower.
const envelopeCutoff = 0.01

// Compressor reduces the level of passages whose smoothed envelope exceeds
// Threshold (fraction of full scale) by Ratio.
type Compressor struct {
	Threshold float64
	Ratio     float64
}

func (c Compressor) Name() string { return KindCompress }

func (c Compressor) Validate(int) error {
	if !(c.Threshold > 0 && c.Threshold <= 1) {
		return fmt.Errorf("%w: compress threshold must be in (0, 1], got %g", audio.ErrInvalidFilterParameter, c.Threshold)
	}
	if !(c.Ratio >= 1) || math.IsInf(c.Ratio, 0) {
		return fmt.Errorf("%w: compress ratio must be at least 1, got %g", audio.ErrInvalidFilterParameter, c.Ratio)
	}
	return nil
}

func (c Compressor) Apply(buf Buffer) (Buffer, error) {
	if err := c.Validate(buf.Rate); err != nil {
		return buf, err
	}
	if len(buf.Samples) == 0 {
		return buf, nil
	}

	x := audio.ToUnit(buf.Samples)
	envelope := make([]float64, len(x))
	for i, v := range x {
		envelope[i] = math.Abs(v)
	}

	follower, err := ButterworthLowPass(1, envelopeCutoff)
	if err != nil {
		return buf, err
	}
	smooth := follower.FiltFilt(envelope)

	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * c.gain(smooth[i])
	}
	return Buffer{Samples: audio.FromUnit(out), Rate: buf.Rate}, nil
}

// gain returns compressed/envelope, or 1 where the envelope is not positive.
func (c Compressor) gain(env float64) float64 {
	if !(env > 0) {
		return 1
	}
	compressed := env
	if env > c.Threshold {
		compressed = c.Threshold + (env-c.Threshold)/c.Ratio
	}
	return compressed / env
}
