package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/ble-audio-recorder/internal/analysis"
	"github.com/skypro1111/ble-audio-recorder/internal/audio"
	"github.com/skypro1111/ble-audio-recorder/internal/catalog"
	"github.com/skypro1111/ble-audio-recorder/internal/config"
	"github.com/skypro1111/ble-audio-recorder/internal/dsp"
	"github.com/skypro1111/ble-audio-recorder/internal/metrics"
	"github.com/skypro1111/ble-audio-recorder/internal/observe"
)

// File kinds used in metrics and results
const (
	KindRaw      = "raw"
	KindEnhanced = "enhanced"
)

// Options configures a Pipeline
type Options struct {
	Rate          audio.RatePolicy
	Stages        []dsp.StageSpec
	ExternalPitch bool
	Output        config.OutputConfig

	// Catalog is optional; results are indexed when set.
	Catalog *catalog.Catalog
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Pipeline processes finished recordings
type Pipeline struct {
	opts     Options
	logger   *slog.Logger
	external dsp.Shifter

	chain     *dsp.Chain
	liveChain *dsp.Chain // chain without pitch stages, for live-shifted input

	pitchFactor float64
	hasPitch    bool
}

// Result describes one processed recording
type Result struct {
	SessionID     string             `json:"session_id"`
	StartedAt     time.Time          `json:"started_at"`
	Elapsed       time.Duration      `json:"elapsed"`
	MeasuredRate  int                `json:"measured_rate"`
	EffectiveRate int                `json:"effective_rate"`
	OutputRate    int                `json:"output_rate"`
	LiveInput     bool               `json:"live_input"`
	RawPath       string             `json:"raw_path,omitempty"`
	EnhancedPath  string             `json:"enhanced_path"`
	Stages        []dsp.StageReport  `json:"stages"`
	Degraded      bool               `json:"degraded"`
	Session       audio.SessionStats `json:"session"`
	Report        analysis.Report    `json:"report"`
	CatalogID     int64              `json:"catalog_id,omitempty"`
}

// New builds the filter chain. Invalid stage parameters are rejected here,
// before anything is recorded.
func New(opts Options) (*Pipeline, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Rate.Mode == "" {
		opts.Rate = audio.DefaultRatePolicy()
	}
	if err := opts.Output.Validate(); err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}

	p := &Pipeline{opts: opts, logger: opts.Logger}
	if opts.ExternalPitch {
		p.external = dsp.NewSpectralShifter()
	}

	chainOpts := dsp.ChainOptions{External: p.external, Logger: opts.Logger}
	if opts.Metrics != nil {
		chainOpts.Observer = opts.Metrics
	}

	var err error
	if p.chain, err = dsp.NewChain(opts.Stages, chainOpts); err != nil {
		return nil, err
	}

	var withoutPitch []dsp.StageSpec
	for _, spec := range opts.Stages {
		if spec.Kind != dsp.KindPitchShift {
			withoutPitch = append(withoutPitch, spec)
			continue
		}
		if !p.hasPitch {
			stage, err := dsp.NewStage(spec, nil)
			if err != nil {
				return nil, err
			}
			p.pitchFactor = stage.(dsp.PitchShift).Factor
			p.hasPitch = true
		}
	}
	if p.liveChain, err = dsp.NewChain(withoutPitch, chainOpts); err != nil {
		return nil, err
	}

	// Rate-dependent parameters such as a low-pass cutoff are checked against
	// the nominal rate now; the effective rate is checked again per recording.
	// The live chain is the same chain minus rate-neutral pitch stages.
	if nominal := opts.Rate.Nominal; nominal > 0 {
		if _, err := p.chain.Validate(nominal); err != nil {
			return nil, fmt.Errorf("at nominal rate %d Hz: %w", nominal, err)
		}
	}

	return p, nil
}

// PitchFactor returns the factor of the first pitch stage, if any
func (p *Pipeline) PitchFactor() (float64, bool) {
	return p.pitchFactor, p.hasPitch
}

// Stages returns the configured stage names
func (p *Pipeline) Stages() []string {
	return p.chain.Stages()
}

// Run resolves the effective rate of rec, runs the chain and writes the
// output files. A recording without samples or elapsed time fails with
// audio.ErrInsufficientData and nothing is written.
func (p *Pipeline) Run(ctx context.Context, rec audio.Recording) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer span.End()

	measured, effective, err := p.opts.Rate.Effective(len(rec.Samples), rec.Elapsed)
	if err != nil {
		observe.RecordError(span, err)
		return nil, fmt.Errorf("session %s: %w", rec.ID, err)
	}
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordRate(measured, effective, p.opts.Rate.Nominal)
	}

	observe.Logger(ctx, p.logger).Info("Sample rate resolved",
		slog.String("session_id", rec.ID),
		slog.Int("samples", len(rec.Samples)),
		slog.Duration("elapsed", rec.Elapsed),
		slog.Int("measured_rate", measured),
		slog.Int("effective_rate", effective),
		slog.String("policy", p.opts.Rate.Mode),
	)

	res, err := p.process(ctx, job{
		id:        rec.ID,
		startedAt: rec.StartedAt,
		elapsed:   rec.Elapsed,
		raw:       rec.Samples,
		live:      rec.Live,
		measured:  measured,
		effective: effective,
		session:   rec.Stats,
		saveRaw:   p.opts.Output.SaveRaw,
	})
	if err != nil {
		observe.RecordError(span, err)
		return nil, err
	}
	return res, nil
}

// Enhance runs the chain on samples that already have a known rate, like a
// previously written raw file. Only the enhanced file is written.
func (p *Pipeline) Enhance(ctx context.Context, id string, samples []int16, rate int) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.enhance")
	defer span.End()

	if len(samples) == 0 || rate <= 0 {
		err := fmt.Errorf("%w: %d samples at %d Hz", audio.ErrInsufficientData, len(samples), rate)
		observe.RecordError(span, err)
		return nil, err
	}

	now := time.Now()
	res, err := p.process(ctx, job{
		id:        id,
		startedAt: now,
		elapsed:   time.Duration(float64(len(samples)) / float64(rate) * float64(time.Second)),
		raw:       samples,
		measured:  rate,
		effective: rate,
		session:   audio.SessionStats{ID: id, StartedAt: now, Samples: len(samples)},
	})
	if err != nil {
		observe.RecordError(span, err)
		return nil, err
	}
	return res, nil
}

// job is the input of process
type job struct {
	id        string
	startedAt time.Time
	elapsed   time.Duration
	raw       []int16
	live      []int16
	measured  int
	effective int
	session   audio.SessionStats
	saveRaw   bool
}

func (p *Pipeline) process(ctx context.Context, j job) (*Result, error) {
	logger := observe.Logger(ctx, p.logger)

	chain, input := p.chain, j.raw
	if j.live != nil {
		chain, input = p.liveChain, j.live
	}
	if len(input) == 0 {
		return nil, fmt.Errorf("%w: session %s has no samples to process", audio.ErrInsufficientData, j.id)
	}

	res := &Result{
		SessionID:     j.id,
		StartedAt:     j.startedAt,
		Elapsed:       j.elapsed,
		MeasuredRate:  j.measured,
		EffectiveRate: j.effective,
		LiveInput:     j.live != nil,
		Session:       j.session,
	}

	// The raw write does not depend on the chain, so a chain failure still
	// leaves the raw recording on disk.
	var (
		g      errgroup.Group
		out    dsp.Buffer
		rawErr error
	)
	if j.saveRaw {
		g.Go(func() error {
			path := p.opts.Output.GetPath(audio.RecordingFilename(p.opts.Output.RawPrefix, j.startedAt))
			res.RawPath, rawErr = p.write(ctx, KindRaw, path, j.raw, j.effective)
			return rawErr
		})
	}
	g.Go(func() error {
		var err error
		out, res.Stages, err = chain.Apply(ctx, dsp.Buffer{Samples: input, Rate: j.effective})
		if err != nil {
			return fmt.Errorf("session %s: filter chain: %w", j.id, err)
		}
		path := p.opts.Output.GetPath(audio.RecordingFilename(p.opts.Output.EnhancedPrefix, j.startedAt))
		res.EnhancedPath, err = p.write(ctx, KindEnhanced, path, out.Samples, out.Rate)
		return err
	})
	if err := g.Wait(); err != nil {
		if j.saveRaw && rawErr == nil {
			logger.Warn("Processing failed, raw recording kept",
				slog.String("session_id", j.id),
				slog.String("raw_path", res.RawPath),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	res.OutputRate = out.Rate
	for _, r := range res.Stages {
		if r.Status == dsp.StatusDegraded {
			res.Degraded = true
			if p.opts.Metrics != nil {
				p.opts.Metrics.RecordExternalFallback(nil)
			}
		}
	}

	if report, err := analysis.Analyze(out.Samples, out.Rate); err == nil {
		res.Report = report
	} else {
		logger.Warn("Failed to analyze enhanced output", slog.String("error", err.Error()))
	}

	if p.opts.Catalog != nil {
		id, err := p.opts.Catalog.Add(ctx, catalogEntry(res))
		if err != nil {
			// The files are on disk; a catalog failure does not fail the run.
			logger.Warn("Failed to catalog recording",
				slog.String("session_id", res.SessionID),
				slog.String("error", err.Error()),
			)
		} else {
			res.CatalogID = id
		}
	}

	logger.Info("Recording processed",
		slog.String("session_id", res.SessionID),
		slog.String("enhanced_path", res.EnhancedPath),
		slog.String("raw_path", res.RawPath),
		slog.Int("output_rate", res.OutputRate),
		slog.Bool("degraded", res.Degraded),
	)
	return res, nil
}

// write stores samples under path, or under the next free suffixed name when
// path is taken, and returns the path written.
func (p *Pipeline) write(ctx context.Context, kind, path string, samples []int16, rate int) (string, error) {
	_, span := observe.StartSpan(ctx, "wav.write")
	defer span.End()
	span.SetAttributes(
		attribute.String("wav.kind", kind),
		attribute.Int("wav.samples", len(samples)),
		attribute.Int("wav.rate", rate),
	)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	written, err := audio.CreateWAVFile(path, samples, rate)
	if err != nil {
		if p.opts.Metrics != nil {
			p.opts.Metrics.RecordWriteError()
		}
		observe.RecordError(span, err)
		return "", fmt.Errorf("write %s file: %w", kind, err)
	}
	span.SetAttributes(attribute.String("wav.path", written))
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordFileWritten(kind)
	}
	return written, nil
}

func catalogEntry(r *Result) catalog.Entry {
	return catalog.Entry{
		SessionID:     r.SessionID,
		StartedAt:     r.StartedAt,
		Elapsed:       r.Elapsed,
		Samples:       r.Session.Samples,
		MeasuredRate:  r.MeasuredRate,
		EffectiveRate: r.EffectiveRate,
		OutputRate:    r.OutputRate,
		RawPath:       r.RawPath,
		EnhancedPath:  r.EnhancedPath,
		Peak:          r.Report.Peak,
		RMS:           r.Report.RMS,
		DominantHz:    r.Report.DominantHz,
		Packets:       r.Session.Packets,
		Dropped:       r.Session.DroppedPackets,
		Malformed:     r.Session.MalformedPackets,
		Degraded:      r.Degraded,
	}
}
