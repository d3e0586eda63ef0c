package dsp

import (
	"errors"
	"math"
	"testing"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

func TestPercentile(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{10, 1.4},
		{50, 3},
		{100, 5},
	}
	for _, tt := range tests {
		if got := Percentile(values, tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentile(%g) = %g, want %g", tt.p, got, tt.want)
		}
	}
	if values[0] != 5 {
		t.Error("Percentile modified its input")
	}
	if got := Percentile(nil, 50); got != 0 {
		t.Errorf("Percentile(nil) = %g, want 0", got)
	}
}

func TestNoiseFloorAttenuatesQuietSamples(t *testing.T) {
	in := []int16{10, -10, 20, 1000, -1000, 2000, -2000, 3000, -3000, 4000}
	// |x| sorted: 10 10 20 1000 1000 2000 2000 3000 3000 4000; 20th percentile = 10 + 0.8*10 = 18.
	stage := NoiseFloor{Percentile: 20, Attenuation: 0.3}

	out, err := stage.Apply(Buffer{Samples: in, Rate: 16000})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	want := []int16{3, -3, 20, 1000, -1000, 2000, -2000, 3000, -3000, 4000}
	assertSameSamples(t, want, out.Samples)
}

func TestNoiseFloorKeepsLength(t *testing.T) {
	in := sine(16000, 16000, 440, 10000)
	out, err := NoiseFloor{Percentile: 10, Attenuation: 0.2}.Apply(Buffer{Samples: in, Rate: 16000})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(out.Samples) != len(in) {
		t.Fatalf("Expected %d samples, got %d", len(in), len(out.Samples))
	}
	changed := 0
	for i := range in {
		if in[i] != out.Samples[i] {
			changed++
			if math.Abs(float64(out.Samples[i])) > math.Abs(float64(in[i])) {
				t.Fatalf("sample %d grew from %d to %d", i, in[i], out.Samples[i])
			}
		}
	}
	if changed == 0 || changed > len(in)/5 {
		t.Errorf("Expected roughly 10%% of samples attenuated, got %d of %d", changed, len(in))
	}
}

func TestNoiseFloorValidate(t *testing.T) {
	bad := []NoiseFloor{
		{Percentile: -1, Attenuation: 0.3},
		{Percentile: 100, Attenuation: 0.3},
		{Percentile: 10, Attenuation: -0.1},
		{Percentile: 10, Attenuation: 1.5},
	}
	for _, n := range bad {
		if err := n.Validate(16000); !errors.Is(err, audio.ErrInvalidFilterParameter) {
			t.Errorf("%+v: expected ErrInvalidFilterParameter, got %v", n, err)
		}
	}
}
