package dsp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
	"github.com/skypro1111/ble-audio-recorder/internal/observe"
)

// Stage kinds accepted in a chain configuration.
const (
	KindLowPass       = "low_pass"
	KindNoiseSuppress = "noise_suppress"
	KindPitchShift    = "pitch_shift"
	KindCompress      = "compress"
	KindNormalize     = "normalize"
	KindResample      = "resample"
)

// Default stage parameters.
const (
	DefaultCutoffHz    = 4000
	DefaultPercentile  = 10
	DefaultAttenuation = 0.3
	DefaultThreshold   = 0.3
	DefaultRatio       = 2.5
	DefaultTarget      = 0.85
)

// StageSpec describes one stage of a chain: its kind and parameters.
type StageSpec struct {
	Kind   string             `yaml:"kind" json:"kind"`
	Params map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
}

// DefaultChain returns the standard enhancement chain.
func DefaultChain() []StageSpec {
	return []StageSpec{
		{Kind: KindLowPass, Params: map[string]float64{"cutoff_hz": DefaultCutoffHz}},
		{Kind: KindNoiseSuppress, Params: map[string]float64{"percentile": DefaultPercentile, "attenuation": DefaultAttenuation}},
		{Kind: KindPitchShift, Params: map[string]float64{"factor": 1.0}},
		{Kind: KindCompress, Params: map[string]float64{"threshold": DefaultThreshold, "ratio": DefaultRatio}},
		{Kind: KindNormalize, Params: map[string]float64{"target": DefaultTarget}},
	}
}

var stageParams = map[string][]string{
	KindLowPass:       {"cutoff_hz"},
	KindNoiseSuppress: {"percentile", "attenuation"},
	KindPitchShift:    {"factor", "semitones"},
	KindCompress:      {"threshold", "ratio"},
	KindNormalize:     {"target"},
	KindResample:      {"rate"},
}

// NewStage builds the stage described by spec. external, when non-nil, is
// used by pitch_shift stages before the linear fallback.
func NewStage(spec StageSpec, external Shifter) (Stage, error) {
	allowed, ok := stageParams[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown stage kind %q", audio.ErrInvalidFilterParameter, spec.Kind)
	}
	for name := range spec.Params {
		if !contains(allowed, name) {
			return nil, fmt.Errorf("%w: %s does not accept parameter %q (allowed: %s)",
				audio.ErrInvalidFilterParameter, spec.Kind, name, strings.Join(allowed, ", "))
		}
	}

	param := func(name string, def float64) float64 {
		if v, ok := spec.Params[name]; ok {
			return v
		}
		return def
	}

	var stage Stage
	switch spec.Kind {
	case KindLowPass:
		stage = LowPass{CutoffHz: param("cutoff_hz", DefaultCutoffHz)}
	case KindNoiseSuppress:
		stage = NoiseFloor{
			Percentile:  param("percentile", DefaultPercentile),
			Attenuation: param("attenuation", DefaultAttenuation),
		}
	case KindPitchShift:
		_, hasFactor := spec.Params["factor"]
		semitones, hasSemitones := spec.Params["semitones"]
		if hasFactor && hasSemitones {
			return nil, fmt.Errorf("%w: pitch_shift takes either factor or semitones, not both", audio.ErrInvalidFilterParameter)
		}
		factor := param("factor", 1)
		if hasSemitones {
			factor = SemitonesToFactor(semitones)
		}
		stage = PitchShift{Factor: factor, External: external}
	case KindCompress:
		stage = Compressor{
			Threshold: param("threshold", DefaultThreshold),
			Ratio:     param("ratio", DefaultRatio),
		}
	case KindNormalize:
		stage = Normalize{Target: param("target", DefaultTarget)}
	case KindResample:
		rate, ok := spec.Params["rate"]
		if !ok {
			return nil, fmt.Errorf("%w: resample requires a rate", audio.ErrInvalidFilterParameter)
		}
		stage = Resample{Rate: int(rate)}
	}

	// Rate-independent checks run now; rate-dependent ones run in Chain.Validate.
	if _, dependsOnRate := stage.(LowPass); !dependsOnRate {
		if err := stage.Validate(0); err != nil {
			return nil, err
		}
	}
	return stage, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// StageObserver receives the outcome of every stage run.
type StageObserver interface {
	ObserveStage(stage, status string, d time.Duration)
}

// Chain runs stages in order on a full recording.
type Chain struct {
	stages   []Stage
	logger   *slog.Logger
	observer StageObserver
}

// ChainOptions configures NewChain.
type ChainOptions struct {
	// External is the optional external pitch shifter.
	External Shifter
	Logger   *slog.Logger
	Observer StageObserver
}

// NewChain builds a chain from specs. Every spec is checked before the chain
// is returned, so a bad parameter anywhere rejects the whole chain.
func NewChain(specs []StageSpec, opts ChainOptions) (*Chain, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	stages := make([]Stage, 0, len(specs))
	for i, spec := range specs {
		stage, err := NewStage(spec, opts.External)
		if err != nil {
			return nil, fmt.Errorf("stage %d (%s): %w", i, spec.Kind, err)
		}
		stages = append(stages, stage)
	}

	return &Chain{stages: stages, logger: opts.Logger, observer: opts.Observer}, nil
}

// Stages returns the stage names in order.
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// Validate checks every stage against the rate it will see, following rate
// changes made by earlier stages. It returns the final output rate.
func (c *Chain) Validate(rate int) (int, error) {
	if rate <= 0 {
		return 0, fmt.Errorf("%w: sample rate must be positive, got %d", audio.ErrInvalidFilterParameter, rate)
	}
	for i, stage := range c.stages {
		if err := stage.Validate(rate); err != nil {
			return 0, fmt.Errorf("stage %d (%s): %w", i, stage.Name(), err)
		}
		if rc, ok := stage.(rateChanger); ok {
			rate = rc.OutputRate(rate)
		}
	}
	return rate, nil
}

// Apply validates the chain for buf.Rate and then runs every stage in order.
// Stages that return audio.ErrNoSignal or audio.ErrExternalDSP are reported
// as skipped or degraded and the chain continues. Any other stage error stops
// the chain and is returned with the reports gathered so far.
func (c *Chain) Apply(ctx context.Context, buf Buffer) (Buffer, []StageReport, error) {
	if _, err := c.Validate(buf.Rate); err != nil {
		return buf, nil, err
	}

	reports := make([]StageReport, 0, len(c.stages))
	for _, stage := range c.stages {
		if err := ctx.Err(); err != nil {
			return buf, reports, err
		}

		_, span := observe.StartSpan(ctx, "dsp."+stage.Name())
		started := time.Now()
		out, err := stage.Apply(buf)
		report := StageReport{Stage: stage.Name(), Status: StatusOK, Duration: time.Since(started)}

		switch {
		case err == nil:
			buf = out
		case errors.Is(err, audio.ErrNoSignal):
			report.Status = StatusSkipped
			report.Reason = err.Error()
			buf = out
			c.logger.Info("Stage skipped", slog.String("stage", stage.Name()), slog.String("reason", err.Error()))
		case errors.Is(err, audio.ErrExternalDSP):
			report.Status = StatusDegraded
			report.Reason = err.Error()
			buf = out
			c.logger.Warn("Stage degraded", slog.String("stage", stage.Name()), slog.String("reason", err.Error()))
		default:
			report.Status = StatusFailed
			report.Reason = err.Error()
		}

		report.Samples = len(buf.Samples)
		report.Rate = buf.Rate
		span.SetAttributes(
			attribute.String("dsp.status", report.Status),
			attribute.Int("dsp.samples", report.Samples),
			attribute.Int("dsp.rate", report.Rate),
		)
		if report.Status == StatusFailed {
			observe.RecordError(span, err)
		}
		span.End()

		reports = append(reports, report)
		if c.observer != nil {
			c.observer.ObserveStage(report.Stage, report.Status, report.Duration)
		}
		if report.Status == StatusFailed {
			return buf, reports, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
	}
	return buf, reports, nil
}

// Kinds returns the supported stage kinds in sorted order.
func Kinds() []string {
	kinds := make([]string, 0, len(stageParams))
	for k := range stageParams {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
