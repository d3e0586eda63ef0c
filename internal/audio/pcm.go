package audio

import (
	"fmt"
	"math"
)

const (
	// BytesPerSample is the width of one mono 16-bit frame.
	BytesPerSample = 2

	// FullScale is the divisor used to map int16 into [-1, 1).
	FullScale = 32768.0
)

// DecodePCM16 decodes a packet of little-endian signed 16-bit samples.
// Odd-length packets are rejected as a whole and yield no samples.
func DecodePCM16(packet []byte) ([]int16, error) {
	if len(packet)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: audio data length must be even (got %d bytes)", ErrMalformedPacket, len(packet))
	}

	samples := make([]int16, len(packet)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(packet[2*i]) | int16(packet[2*i+1])<<8
	}
	return samples, nil
}

// EncodePCM16 is the inverse of DecodePCM16.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

// Clamp16 rounds v to the nearest integer and saturates it to the int16
// range. NaN maps to 0.
func Clamp16(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// ToFloat converts samples to float64 without rescaling.
func ToFloat(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s)
	}
	return out
}

// FromFloat re-quantizes float samples with saturation.
func FromFloat(values []float64) []int16 {
	out := make([]int16, len(values))
	for i, v := range values {
		out[i] = Clamp16(v)
	}
	return out
}

// ToUnit converts samples to the [-1, 1) range.
func ToUnit(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s) / FullScale
	}
	return out
}

// FromUnit converts [-1, 1] floats back to samples with saturation.
func FromUnit(values []float64) []int16 {
	out := make([]int16, len(values))
	for i, v := range values {
		out[i] = Clamp16(v * FullScale)
	}
	return out
}

// Peak returns the largest absolute sample value.
func Peak(samples []int16) int {
	peak := 0
	for _, s := range samples {
		a := int(s)
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	return peak
}
