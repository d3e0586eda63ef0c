package dsp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

type recordingObserver struct {
	mu       sync.Mutex
	observed []string
}

func (r *recordingObserver) ObserveStage(stage, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, stage+":"+status)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChainEndToEndSine(t *testing.T) {
	rate := 16000
	in := sine(rate, rate, 440, 12000)

	chain, err := NewChain([]StageSpec{
		{Kind: KindLowPass, Params: map[string]float64{"cutoff_hz": 4000}},
		{Kind: KindNoiseSuppress, Params: map[string]float64{"percentile": 10}},
		{Kind: KindPitchShift, Params: map[string]float64{"factor": 1.0}},
		{Kind: KindNormalize, Params: map[string]float64{"target": 0.85}},
	}, ChainOptions{Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}

	out, reports, err := chain.Apply(context.Background(), Buffer{Samples: in, Rate: rate})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(out.Samples) != rate {
		t.Fatalf("Expected %d samples, got %d", rate, len(out.Samples))
	}
	if out.Rate != rate {
		t.Errorf("Expected rate %d, got %d", rate, out.Rate)
	}

	target := 0.85 * 32767
	if peak := float64(audio.Peak(out.Samples)); math.Abs(peak-target)/target > 0.01 {
		t.Errorf("Expected peak within 1%% of %g, got %g", target, peak)
	}
	if hz := dominantHz(out.Samples, rate); math.Abs(hz-440) > 3 {
		t.Errorf("Expected dominant frequency near 440 Hz, got %g", hz)
	}

	if len(reports) != 4 {
		t.Fatalf("Expected 4 stage reports, got %d", len(reports))
	}
	for _, r := range reports {
		if r.Status != StatusOK || !r.OK() {
			t.Errorf("stage %s: expected ok, got %s (%s)", r.Stage, r.Status, r.Reason)
		}
	}
}

func TestNewChainRejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name  string
		specs []StageSpec
	}{
		{"unknown kind", []StageSpec{{Kind: "reverb"}}},
		{"unknown param", []StageSpec{{Kind: KindNormalize, Params: map[string]float64{"level": 0.5}}}},
		{"bad ratio", []StageSpec{{Kind: KindCompress, Params: map[string]float64{"ratio": 0.5}}}},
		{"bad factor", []StageSpec{{Kind: KindPitchShift, Params: map[string]float64{"factor": -2}}}},
		{"factor and semitones", []StageSpec{{Kind: KindPitchShift, Params: map[string]float64{"factor": 2, "semitones": 3}}}},
		{"resample without rate", []StageSpec{{Kind: KindResample}}},
		{"bad stage after good ones", append(DefaultChain(), StageSpec{Kind: KindNormalize, Params: map[string]float64{"target": 2}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewChain(tt.specs, ChainOptions{}); !errors.Is(err, audio.ErrInvalidFilterParameter) {
				t.Errorf("Expected ErrInvalidFilterParameter, got %v", err)
			}
		})
	}
}

func TestChainRejectsCutoffAboveNyquistBeforeProcessing(t *testing.T) {
	observer := &recordingObserver{}
	chain, err := NewChain([]StageSpec{
		{Kind: KindNormalize},
		{Kind: KindLowPass, Params: map[string]float64{"cutoff_hz": 9000}},
	}, ChainOptions{Logger: testLogger(), Observer: observer})
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}

	in := sine(1000, 16000, 440, 1000)
	out, reports, err := chain.Apply(context.Background(), Buffer{Samples: in, Rate: 16000})
	if !errors.Is(err, audio.ErrInvalidFilterParameter) {
		t.Fatalf("Expected ErrInvalidFilterParameter, got %v", err)
	}
	if len(reports) != 0 || len(observer.observed) != 0 {
		t.Errorf("Expected no stage to run, got reports %v", reports)
	}
	assertSameSamples(t, in, out.Samples)
}

func TestChainValidateFollowsRateChanges(t *testing.T) {
	chain, err := NewChain([]StageSpec{
		{Kind: KindResample, Params: map[string]float64{"rate": 8000}},
		{Kind: KindLowPass, Params: map[string]float64{"cutoff_hz": 5000}},
	}, ChainOptions{})
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}
	// 5 kHz is valid at 16 kHz but not after resampling to 8 kHz.
	if _, err := chain.Validate(16000); !errors.Is(err, audio.ErrInvalidFilterParameter) {
		t.Errorf("Expected ErrInvalidFilterParameter, got %v", err)
	}

	chain, err = NewChain([]StageSpec{{Kind: KindResample, Params: map[string]float64{"rate": 22050}}}, ChainOptions{})
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}
	if rate, err := chain.Validate(16000); err != nil || rate != 22050 {
		t.Errorf("Validate = %d, %v; want 22050, nil", rate, err)
	}
}

func TestChainNoSignalIsSkipped(t *testing.T) {
	observer := &recordingObserver{}
	chain, err := NewChain([]StageSpec{
		{Kind: KindNormalize},
		{Kind: KindCompress},
	}, ChainOptions{Logger: testLogger(), Observer: observer})
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}

	in := make([]int16, 500)
	out, reports, err := chain.Apply(context.Background(), Buffer{Samples: in, Rate: 16000})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	assertSameSamples(t, in, out.Samples)
	if reports[0].Status != StatusSkipped || reports[0].Reason == "" {
		t.Errorf("Expected normalize to be skipped with a reason, got %+v", reports[0])
	}
	if reports[1].Status != StatusOK {
		t.Errorf("Expected compress ok, got %+v", reports[1])
	}
	want := []string{"normalize:skipped", "compress:ok"}
	if len(observer.observed) != 2 || observer.observed[0] != want[0] || observer.observed[1] != want[1] {
		t.Errorf("Expected observations %v, got %v", want, observer.observed)
	}
}

func TestChainExternalFailureIsDegraded(t *testing.T) {
	chain, err := NewChain([]StageSpec{
		{Kind: KindPitchShift, Params: map[string]float64{"semitones": 12}},
		{Kind: KindNormalize},
	}, ChainOptions{External: &failingShifter{}, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}

	out, reports, err := chain.Apply(context.Background(), Buffer{Samples: sine(1000, 16000, 400, 8000), Rate: 16000})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(out.Samples) != 1000 {
		t.Errorf("Expected 1000 samples, got %d", len(out.Samples))
	}
	if reports[0].Status != StatusDegraded || !reports[0].OK() {
		t.Errorf("Expected degraded pitch stage, got %+v", reports[0])
	}
	if reports[1].Status != StatusOK {
		t.Errorf("Expected normalize ok, got %+v", reports[1])
	}
}

func TestChainStopsOnCancelledContext(t *testing.T) {
	chain, err := NewChain(DefaultChain(), ChainOptions{Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := chain.Apply(ctx, Buffer{Samples: sine(100, 16000, 440, 1000), Rate: 16000}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestDefaultChainStages(t *testing.T) {
	chain, err := NewChain(DefaultChain(), ChainOptions{})
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}
	want := []string{KindLowPass, KindNoiseSuppress, KindPitchShift, KindCompress, KindNormalize}
	got := chain.Stages()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if len(Kinds()) != 6 {
		t.Errorf("Expected 6 stage kinds, got %v", Kinds())
	}
}
