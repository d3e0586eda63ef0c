package dsp

import (
	"errors"
	"testing"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

func TestCompressorBelowThresholdIsIdentity(t *testing.T) {
	// 0.2 of full scale stays below the 0.3 threshold everywhere.
	in := sine(16000, 16000, 440, 0.2*32768)

	out, err := Compressor{Threshold: 0.3, Ratio: 2.5}.Apply(Buffer{Samples: in, Rate: 16000})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	assertSameSamples(t, in, out.Samples)
}

func TestCompressorReducesLoudPassages(t *testing.T) {
	rate := 16000
	quiet := sine(8000, rate, 440, 0.1*32768)
	loud := sine(8000, rate, 440, 0.9*32768)
	in := append(append([]int16{}, quiet...), loud...)

	out, err := Compressor{Threshold: 0.3, Ratio: 2.5}.Apply(Buffer{Samples: in, Rate: rate})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(out.Samples) != len(in) {
		t.Fatalf("Expected %d samples, got %d", len(in), len(out.Samples))
	}

	loudPeakIn := audio.Peak(in[12000:])
	loudPeakOut := audio.Peak(out.Samples[12000:])
	if loudPeakOut >= loudPeakIn {
		t.Errorf("Expected loud section peak to drop, in %d out %d", loudPeakIn, loudPeakOut)
	}

	quietPeakIn := audio.Peak(in[:4000])
	quietPeakOut := audio.Peak(out.Samples[:4000])
	if quietPeakOut != quietPeakIn {
		t.Errorf("Expected quiet section untouched, in %d out %d", quietPeakIn, quietPeakOut)
	}

	// Dynamic range between the sections shrinks.
	before := float64(loudPeakIn) / float64(quietPeakIn)
	after := float64(loudPeakOut) / float64(quietPeakOut)
	if after >= before {
		t.Errorf("Expected loud/quiet ratio to shrink, before %g after %g", before, after)
	}
}

func TestCompressorSilence(t *testing.T) {
	in := make([]int16, 100)
	out, err := Compressor{Threshold: 0.3, Ratio: 2}.Apply(Buffer{Samples: in, Rate: 16000})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	assertSameSamples(t, in, out.Samples)
}

func TestCompressorValidate(t *testing.T) {
	bad := []Compressor{
		{Threshold: 0, Ratio: 2},
		{Threshold: 1.5, Ratio: 2},
		{Threshold: 0.3, Ratio: 0.5},
	}
	for _, c := range bad {
		if err := c.Validate(16000); !errors.Is(err, audio.ErrInvalidFilterParameter) {
			t.Errorf("%+v: expected ErrInvalidFilterParameter, got %v", c, err)
		}
	}
}
