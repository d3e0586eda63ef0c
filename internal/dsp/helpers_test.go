package dsp

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/mjibson/go-dsp/fft"
)

func sine(n, rate int, freq, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

// zeroCrossingHz estimates the fundamental of a clean tone.
func zeroCrossingHz(samples []int16, rate int) float64 {
	crossings := 0
	for i := 1; i < len(samples); i++ {
		a, b := samples[i-1], samples[i]
		if (a < 0 && b >= 0) || (a >= 0 && b < 0) {
			crossings++
		}
	}
	seconds := float64(len(samples)) / float64(rate)
	return float64(crossings) / 2 / seconds
}

func spectrum(samples []int16) []float64 {
	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s)
	}
	bins := fft.FFTReal(x)
	mags := make([]float64, len(bins)/2)
	for i := range mags {
		mags[i] = cmplx.Abs(bins[i])
	}
	return mags
}

func dominantHz(samples []int16, rate int) float64 {
	mags := spectrum(samples)
	best := 1
	for i := 2; i < len(mags); i++ {
		if mags[i] > mags[best] {
			best = i
		}
	}
	return float64(best) * float64(rate) / float64(len(samples))
}

// energyAbove sums spectral power at and above fromHz.
func energyAbove(samples []int16, rate int, fromHz float64) float64 {
	mags := spectrum(samples)
	start := int(math.Ceil(fromHz * float64(len(samples)) / float64(rate)))
	var total float64
	for i := start; i < len(mags); i++ {
		total += mags[i] * mags[i]
	}
	return total
}

func mix(a, b []int16) []int16 {
	out := make([]int16, len(a))
	for i := range a {
		out[i] = int16(int(a[i]) + int(b[i]))
	}
	return out
}

func assertSameSamples(t *testing.T, want, got []int16) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}
