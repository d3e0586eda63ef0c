// Package analysis computes descriptive statistics of a recording: level,
// clipping, silence, spectral peak and voice activity.
package analysis

import (
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"github.com/mjibson/go-dsp/fft"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
	"github.com/skypro1111/ble-audio-recorder/internal/vad"
)

// Thresholds on the raw int16 scale
const (
	SilenceThreshold  = 100
	ClippingThreshold = 30000
)

// MinDBFS is reported for silent signals.
const MinDBFS = -120.0

// maxSpectrumSamples bounds the FFT input; longer signals are analyzed on
// their loudest window of this size.
const maxSpectrumSamples = 1 << 16

// Report describes one signal
type Report struct {
	Samples    int           `json:"samples"`
	SampleRate int           `json:"sample_rate"`
	Duration   time.Duration `json:"duration"`

	Min        int16   `json:"min"`
	Max        int16   `json:"max"`
	MinCount   int     `json:"min_count"`
	MaxCount   int     `json:"max_count"`
	Peak       int     `json:"peak"`
	PeakDBFS   float64 `json:"peak_dbfs"`
	RMS        float64 `json:"rms"` // full scale = 1
	RMSDBFS    float64 `json:"rms_dbfs"`
	Mean       float64 `json:"mean"` // DC offset in raw units
	Zeros      int     `json:"zeros"`
	Silence    float64 `json:"silence_ratio"`
	Clipped    int     `json:"clipped"`
	Unique     int     `json:"unique_values"`
	DominantHz float64 `json:"dominant_hz"`

	Voice *vad.Summary `json:"voice,omitempty"`
}

// Analyze computes a report for samples at rate. Voice activity is included
// when rate allows a detector window.
func Analyze(samples []int16, rate int) (Report, error) {
	if len(samples) == 0 {
		return Report{}, fmt.Errorf("%w: no samples to analyze", audio.ErrInsufficientData)
	}
	if rate <= 0 {
		return Report{}, fmt.Errorf("%w: sample rate must be positive, got %d", audio.ErrInsufficientData, rate)
	}

	r := Report{
		Samples:    len(samples),
		SampleRate: rate,
		Duration:   time.Duration(float64(len(samples)) / float64(rate) * float64(time.Second)),
		Min:        samples[0],
		Max:        samples[0],
	}

	var (
		sum, sumSquares float64
		silent          int
		seen            = make(map[int16]struct{})
	)
	for _, s := range samples {
		if s < r.Min {
			r.Min = s
		}
		if s > r.Max {
			r.Max = s
		}
		if s == 0 {
			r.Zeros++
		}
		a := abs(s)
		if a < SilenceThreshold {
			silent++
		}
		if a > ClippingThreshold {
			r.Clipped++
		}
		sum += float64(s)
		sumSquares += float64(s) * float64(s)
		seen[s] = struct{}{}
	}
	for _, s := range samples {
		if s == r.Min {
			r.MinCount++
		}
		if s == r.Max {
			r.MaxCount++
		}
	}

	n := float64(len(samples))
	r.Peak = audio.Peak(samples)
	r.PeakDBFS = dbfs(float64(r.Peak) / audio.FullScale)
	r.RMS = math.Sqrt(sumSquares/n) / audio.FullScale
	r.RMSDBFS = dbfs(r.RMS)
	r.Mean = sum / n
	r.Silence = float64(silent) / n
	r.Unique = len(seen)
	r.DominantHz = DominantFrequency(samples, rate)

	if detector, err := vad.NewDefaultProcessor(rate); err == nil {
		summary := detector.Detect(samples)
		r.Voice = &summary
	}

	return r, nil
}

// DominantFrequency returns the frequency of the strongest FFT bin, ignoring
// DC. It returns 0 for fewer than two samples.
func DominantFrequency(samples []int16, rate int) float64 {
	window := loudestWindow(samples, maxSpectrumSamples)
	if len(window) < 2 || rate <= 0 {
		return 0
	}

	x := audio.ToUnit(window)
	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	for i := range x {
		// Hann window after removing the DC offset
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(len(x)-1))
		x[i] = (x[i] - mean) * w
	}

	spectrum := fft.FFTReal(x)
	best, bestMag := 0, 0.0
	for k := 1; k <= len(spectrum)/2; k++ {
		if m := cmplx.Abs(spectrum[k]); m > bestMag {
			best, bestMag = k, m
		}
	}
	if best == 0 {
		return 0
	}
	return float64(best) * float64(rate) / float64(len(x))
}

// loudestWindow returns the size-sample window with the most energy, scanning
// in half-window steps.
func loudestWindow(samples []int16, size int) []int16 {
	if len(samples) <= size {
		return samples
	}
	hop := size / 2
	bestStart, bestEnergy := 0, -1.0
	for start := 0; start+size <= len(samples); start += hop {
		var e float64
		for _, s := range samples[start : start+size] {
			e += float64(s) * float64(s)
		}
		if e > bestEnergy {
			bestStart, bestEnergy = start, e
		}
	}
	return samples[bestStart : bestStart+size]
}

func abs(s int16) int {
	if s < 0 {
		return -int(s)
	}
	return int(s)
}

func dbfs(v float64) float64 {
	if v <= 0 {
		return MinDBFS
	}
	return math.Max(20*math.Log10(v), MinDBFS)
}
