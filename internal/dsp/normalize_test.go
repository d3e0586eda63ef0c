package dsp

import (
	"errors"
	"math"
	"testing"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

func TestNormalizeReachesTarget(t *testing.T) {
	tests := []struct {
		name   string
		in     []int16
		target float64
	}{
		{"quiet sine", sine(1600, 16000, 440, 1000), 0.85},
		{"loud sine", sine(1600, 16000, 440, 32000), 0.8},
		{"negative peak", []int16{100, -400, 200}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Normalize{Target: tt.target}.Apply(Buffer{Samples: tt.in, Rate: 16000})
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			want := int(math.Round(tt.target * 32767))
			if got := audio.Peak(out.Samples); math.Abs(float64(got-want)) > 1 {
				t.Errorf("Expected peak %d, got %d", want, got)
			}
		})
	}
}

func TestNormalizeAllZero(t *testing.T) {
	in := make([]int16, 64)
	out, err := Normalize{Target: 0.85}.Apply(Buffer{Samples: in, Rate: 16000})
	if !errors.Is(err, audio.ErrNoSignal) {
		t.Fatalf("Expected ErrNoSignal, got %v", err)
	}
	assertSameSamples(t, in, out.Samples)
}

func TestNormalizeValidate(t *testing.T) {
	for _, target := range []float64{0, -0.5, 1.2} {
		if err := (Normalize{Target: target}).Validate(16000); !errors.Is(err, audio.ErrInvalidFilterParameter) {
			t.Errorf("target %g: expected ErrInvalidFilterParameter, got %v", target, err)
		}
	}
}
