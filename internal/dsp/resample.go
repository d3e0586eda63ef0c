package dsp

import (
	"fmt"

	resampler "github.com/tphakala/go-audio-resampler"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

const (
	minResampleRate = 4000
	maxResampleRate = 192000
)

// Resample converts the buffer to Rate with the soxr-style polyphase
// resampler. Placed after the rate-sensitive stages it turns a measured,
// odd source rate into a standard container rate.
type Resample struct {
	Rate int
}

func (r Resample) Name() string { return KindResample }

func (r Resample) Validate(int) error {
	if r.Rate < minResampleRate || r.Rate > maxResampleRate {
		return fmt.Errorf("%w: resample rate must be in [%d, %d], got %d",
			audio.ErrInvalidFilterParameter, minResampleRate, maxResampleRate, r.Rate)
	}
	return nil
}

// OutputRate returns the target rate.
func (r Resample) OutputRate(int) int {
	return r.Rate
}

func (r Resample) Apply(buf Buffer) (Buffer, error) {
	if err := r.Validate(buf.Rate); err != nil {
		return buf, err
	}
	if buf.Rate == r.Rate || len(buf.Samples) == 0 {
		return Buffer{Samples: buf.Samples, Rate: r.Rate}, nil
	}

	out, err := resampler.ResampleMono(audio.ToUnit(buf.Samples), float64(buf.Rate), float64(r.Rate), resampler.QualityHigh)
	if err != nil {
		return buf, fmt.Errorf("resample %d Hz to %d Hz: %w", buf.Rate, r.Rate, err)
	}
	return Buffer{Samples: audio.FromUnit(out), Rate: r.Rate}, nil
}
