package dsp

import (
	"fmt"
	"math"
	"sort"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

// NoiseFloor attenuates samples whose magnitude is below a low percentile of
// the buffer's absolute amplitude distribution.
//
// The threshold is computed once over the whole buffer. This is not an
// adaptive gate: there is no attack or release and quiet passages in an
// otherwise loud recording are treated the same as true background noise.
type NoiseFloor struct {
	Percentile  float64
	Attenuation float64
}

func (n NoiseFloor) Name() string { return KindNoiseSuppress }

func (n NoiseFloor) Validate(int) error {
	if n.Percentile < 0 || n.Percentile >= 100 || math.IsNaN(n.Percentile) {
		return fmt.Errorf("%w: noise_suppress percentile must be in [0, 100), got %g",
			audio.ErrInvalidFilterParameter, n.Percentile)
	}
	if n.Attenuation < 0 || n.Attenuation > 1 || math.IsNaN(n.Attenuation) {
		return fmt.Errorf("%w: noise_suppress attenuation must be in [0, 1], got %g",
			audio.ErrInvalidFilterParameter, n.Attenuation)
	}
	return nil
}

func (n NoiseFloor) Apply(buf Buffer) (Buffer, error) {
	if err := n.Validate(buf.Rate); err != nil {
		return buf, err
	}
	if len(buf.Samples) == 0 {
		return buf, nil
	}

	magnitudes := make([]float64, len(buf.Samples))
	for i, s := range buf.Samples {
		magnitudes[i] = math.Abs(float64(s))
	}
	threshold := Percentile(magnitudes, n.Percentile)

	out := make([]int16, len(buf.Samples))
	for i, s := range buf.Samples {
		if magnitudes[i] < threshold {
			out[i] = audio.Clamp16(float64(s) * n.Attenuation)
		} else {
			out[i] = s
		}
	}
	return Buffer{Samples: out, Rate: buf.Rate}, nil
}

// Percentile returns the p-th percentile of values using linear
// interpolation between the closest ranks. values is not modified.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
