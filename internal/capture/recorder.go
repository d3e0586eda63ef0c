package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
	"github.com/skypro1111/ble-audio-recorder/internal/dsp"
	"github.com/skypro1111/ble-audio-recorder/internal/metrics"
	"github.com/skypro1111/ble-audio-recorder/internal/observe"
	"github.com/skypro1111/ble-audio-recorder/internal/source"
)

// DefaultQueueSize is the number of packets buffered between the source
// callback and the session writer.
const DefaultQueueSize = 1024

// Recorder states
const (
	StateIdle      = "idle"
	StateRecording = "recording"
)

// ErrBusy is returned when Record is called while a recording is running.
var ErrBusy = errors.New("capture: recording already in progress")

// Options configures a Recorder
type Options struct {
	QueueSize int

	// Live enables the streaming pitch buffer. Its output is stored next to
	// the raw samples as Recording.Live.
	Live      bool
	Streaming dsp.StreamingConfig

	// SampleHint preallocates the session for this many samples.
	SampleHint int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Recorder runs one recording at a time
type Recorder struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	state    string
	current  *intake
	started  time.Time
	deadline time.Time
	last     *audio.SessionStats
	live     *dsp.StreamingStats
}

// intake connects one recording's source callback to its queue. A callback
// that arrives after close is ignored, even if a newer recording is running.
type intake struct {
	mu        sync.RWMutex
	closed    bool
	queue     chan packet
	session   *audio.Session
	startedAt time.Time
	metrics   *metrics.Metrics
}

// packet is one callback delivery waiting for the writer
type packet struct {
	sender string
	data   []byte
	at     time.Duration
}

// Status is a snapshot of the recorder for monitoring
type Status struct {
	State         string              `json:"state"`
	StartedAt     time.Time           `json:"started_at,omitempty"`
	Deadline      time.Time           `json:"deadline,omitempty"`
	QueueSize     int                 `json:"queue_size"`
	QueueCapacity int                 `json:"queue_capacity"`
	Session       *audio.SessionStats `json:"session,omitempty"`
	LastSession   *audio.SessionStats `json:"last_session,omitempty"`
	Live          *dsp.StreamingStats `json:"live,omitempty"`
}

// NewRecorder creates a recorder
func NewRecorder(opts Options) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Recorder{
		opts:   opts,
		logger: opts.Logger,
		state:  StateIdle,
	}
}

// Record registers with src, collects packets until duration elapses, ctx is
// cancelled or a finite source ends, then deregisters and finalizes the
// session. Packets arriving after the stop are ignored.
func (r *Recorder) Record(ctx context.Context, src source.Source, duration time.Duration) (audio.Recording, error) {
	ctx, span := observe.StartSpan(ctx, "capture.record")
	defer span.End()
	logger := observe.Logger(ctx, r.logger)

	if duration <= 0 {
		err := fmt.Errorf("recording duration must be positive, got %v", duration)
		observe.RecordError(span, err)
		return audio.Recording{}, err
	}

	var live *dsp.StreamingPitchBuffer
	if r.opts.Live {
		cfg := r.opts.Streaming
		if cfg.Logger == nil {
			cfg.Logger = logger
		}
		var err error
		live, err = dsp.NewStreamingPitchBuffer(cfg)
		if err != nil {
			observe.RecordError(span, err)
			return audio.Recording{}, fmt.Errorf("failed to create streaming pitch buffer: %w", err)
		}
	}

	startedAt := time.Now()
	session := audio.NewSession(sessionID(startedAt), startedAt, r.opts.SampleHint)
	in := &intake{
		queue:     make(chan packet, r.opts.QueueSize),
		session:   session,
		startedAt: startedAt,
		metrics:   r.opts.Metrics,
	}

	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		observe.RecordError(span, ErrBusy)
		return audio.Recording{}, ErrBusy
	}
	r.state = StateRecording
	r.current = in
	r.started = startedAt
	r.deadline = startedAt.Add(duration)
	r.live = nil
	r.mu.Unlock()

	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordingStarted()
	}

	span.SetAttributes(
		attribute.String("session.id", session.ID()),
		attribute.Int64("recording.duration_ms", duration.Milliseconds()),
		attribute.Bool("recording.live", live != nil),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.writeLoop(session, in.queue, live, logger)
	}()

	if err := src.Register(in.handle); err != nil {
		in.close()
		wg.Wait()
		r.reset(nil, nil)
		if r.opts.Metrics != nil {
			r.opts.Metrics.RecordingFinished("failed", time.Since(startedAt))
		}
		observe.RecordError(span, err)
		return audio.Recording{}, fmt.Errorf("failed to register packet source: %w", err)
	}

	logger.Info("Recording started",
		slog.String("session_id", session.ID()),
		slog.Duration("duration", duration),
		slog.Bool("live_pitch", live != nil),
	)

	var finished <-chan struct{}
	if f, ok := src.(source.Finite); ok {
		finished = f.Done()
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	reason := "duration"
	select {
	case <-timer.C:
	case <-ctx.Done():
		reason = "cancelled"
	case <-finished:
		reason = "source_finished"
	}
	stoppedAt := time.Now()

	if err := src.Deregister(); err != nil {
		logger.Warn("Failed to deregister packet source", slog.String("error", err.Error()))
	}

	// Late callbacks see a closed intake and are ignored.
	in.close()
	wg.Wait()

	var liveStats *dsp.StreamingStats
	if live != nil {
		session.AppendLive(live.Flush())
		s := live.Stats()
		liveStats = &s
		if r.opts.Metrics != nil {
			r.opts.Metrics.RecordStreaming(s.Blocks, s.Failures)
		}
	}

	rec, err := session.Finalize(stoppedAt)
	if err != nil {
		r.reset(nil, liveStats)
		observe.RecordError(span, err)
		return audio.Recording{}, fmt.Errorf("failed to finalize session: %w", err)
	}
	r.reset(&rec.Stats, liveStats)

	outcome := "ok"
	if len(rec.Samples) == 0 {
		outcome = "empty"
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordingFinished(outcome, rec.Elapsed)
	}

	span.SetAttributes(
		attribute.String("recording.stop_reason", reason),
		attribute.Int("recording.samples", len(rec.Samples)),
		attribute.Int64("recording.packets", int64(rec.Stats.Packets)),
		attribute.Int64("recording.dropped", int64(rec.Stats.DroppedPackets)),
	)

	logger.Info("Recording stopped",
		slog.String("session_id", rec.ID),
		slog.String("reason", reason),
		slog.Duration("elapsed", rec.Elapsed),
		slog.Uint64("packets", rec.Stats.Packets),
		slog.Uint64("malformed_packets", rec.Stats.MalformedPackets),
		slog.Uint64("dropped_packets", rec.Stats.DroppedPackets),
		slog.Int("samples", len(rec.Samples)),
	)

	return rec, nil
}

// handle is the source callback. It never blocks: a full queue drops the packet.
func (in *intake) handle(sender string, data []byte) {
	at := time.Since(in.startedAt)

	in.mu.RLock()
	defer in.mu.RUnlock()

	if in.closed {
		return
	}

	select {
	case in.queue <- packet{sender: sender, data: data, at: at}:
		if in.metrics != nil {
			in.metrics.SetQueueSize(len(in.queue))
		}
	default:
		in.session.RecordDrop()
		if in.metrics != nil {
			in.metrics.RecordDroppedPacket()
		}
	}
}

func (in *intake) close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.closed {
		in.closed = true
		close(in.queue)
	}
}

func (in *intake) pending() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.closed {
		return 0
	}
	return len(in.queue)
}

// writeLoop is the single consumer of the queue and the only session writer
func (r *Recorder) writeLoop(session *audio.Session, queue <-chan packet, live *dsp.StreamingPitchBuffer, logger *slog.Logger) {
	for p := range queue {
		samples, err := session.Append(p.sender, p.data, p.at)
		if err != nil {
			if r.opts.Metrics != nil && errors.Is(err, audio.ErrMalformedPacket) {
				r.opts.Metrics.RecordMalformedPacket()
			}
			logger.Debug("Skipping packet",
				slog.String("sender", p.sender),
				slog.Int("packet_size", len(p.data)),
				slog.String("error", err.Error()),
			)
			continue
		}

		if r.opts.Metrics != nil {
			r.opts.Metrics.RecordPacket(len(p.data))
			r.opts.Metrics.SetQueueSize(len(queue))
		}

		if live != nil {
			if out := live.Process(samples); len(out) > 0 {
				session.AppendLive(out)
			}
		}
	}
}

func (r *Recorder) reset(last *audio.SessionStats, live *dsp.StreamingStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateIdle
	r.current = nil
	if last != nil {
		r.last = last
	}
	r.live = live
	if r.opts.Metrics != nil {
		r.opts.Metrics.SetQueueSize(0)
	}
}

// Status returns a snapshot of the recorder
func (r *Recorder) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{
		State:         r.state,
		QueueCapacity: r.opts.QueueSize,
		LastSession:   r.last,
		Live:          r.live,
	}
	if r.state == StateRecording {
		st.StartedAt = r.started
		st.Deadline = r.deadline
		st.QueueSize = r.current.pending()
		stats := r.current.session.Stats()
		st.Session = &stats
	}
	return st
}

func sessionID(t time.Time) string {
	return t.Format("20060102_150405")
}
