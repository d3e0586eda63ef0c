package dsp

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

// DefaultBlockSize is the minimum number of buffered samples shifted as a unit.
const DefaultBlockSize = 1024

// DefaultDelayWindow is the tap sweep length of a DelayLineShifter in samples.
const DefaultDelayWindow = 1024

// DelayLineShifter shifts pitch with two read taps sweeping a delay line at
// 1-ratio samples per output sample. The taps sit half a window apart and are
// weighted sin² and cos² of their phase, so their gains always sum to one and
// each tap is silent at the moment it wraps.
//
// The history and the tap phase persist across calls: consecutive calls
// continue one signal, and block boundaries are as smooth as the inside of a
// block. The output lags the input by up to one window plus one sample. A
// DelayLineShifter belongs to one stream and is not safe for concurrent use.
type DelayLineShifter struct {
	window  int
	history []float64
	written int
	phase   float64
}

// NewDelayLineShifter creates a shifter; window < 2 selects DefaultDelayWindow.
func NewDelayLineShifter(window int) *DelayLineShifter {
	if window < 2 {
		window = DefaultDelayWindow
	}
	return &DelayLineShifter{window: window, history: make([]float64, window+2)}
}

func (d *DelayLineShifter) Shift(in []float64, _ int, ratio float64) ([]float64, int, error) {
	if !(ratio > 0) || math.IsInf(ratio, 0) {
		return nil, 0, fmt.Errorf("%w: pitch factor must be positive, got %g", audio.ErrInvalidFilterParameter, ratio)
	}

	identity := math.Abs(ratio-1) <= 1e-9
	w := float64(d.window)
	step := (1 - ratio) / w

	out := make([]float64, len(in))
	for i, x := range in {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = 0
		}
		d.history[d.written%len(d.history)] = x
		d.written++

		if identity {
			out[i] = x
			continue
		}

		var v float64
		for _, offset := range [2]float64{0, 0.5} {
			ph := d.phase + offset
			if ph >= 1 {
				ph--
			}
			g := math.Sin(math.Pi * ph)
			v += g * g * d.tap(1+ph*w)
		}
		out[i] = v

		d.phase += step
		d.phase -= math.Floor(d.phase)
	}
	return out, len(in), nil
}

// tap reads the history delay samples behind the newest sample, delay >= 1.
func (d *DelayLineShifter) tap(delay float64) float64 {
	pos := float64(d.written-1) - delay
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	v := d.sample(lo)
	if frac > 0 {
		v += (d.sample(lo+1) - v) * frac
	}
	return v
}

func (d *DelayLineShifter) sample(idx int) float64 {
	if idx < 0 {
		return 0
	}
	return d.history[idx%len(d.history)]
}

// StreamingConfig configures a StreamingPitchBuffer.
type StreamingConfig struct {
	// Shifter defaults to a DelayLineShifter owned by the buffer. A stateful
	// Shifter passed here must not be shared between buffers.
	Shifter   Shifter
	Factor    float64
	Rate      int
	BlockSize int

	// WarmupPassthrough emits the first BlockSize samples of the stream
	// unshifted instead of holding them back. Those samples are consumed and
	// never shifted later, so the start of a live recording keeps its
	// original pitch.
	WarmupPassthrough bool

	Logger *slog.Logger
}

// StreamingStats represents the counters of a streaming pitch buffer
type StreamingStats struct {
	Blocks      int `json:"blocks"`
	Failures    int `json:"failures"`
	Passthrough int `json:"passthrough_samples"`
	Emitted     int `json:"emitted_samples"`
	Buffered    int `json:"buffered_samples"`
}

// StreamingPitchBuffer applies a Shifter chunk by chunk during capture.
// Incoming samples are collected in a carry-over buffer; whenever it holds at
// least BlockSize samples the first BlockSize are shifted as one unit and the
// number of samples the shifter reports as consumed is removed.
//
// Boundary continuity comes from the shifter. The default DelayLineShifter
// keeps its read position across blocks, so block edges are continuous. A
// stateless Shifter such as LinearShifter sees each block on its own: it
// leaves a silent tail in every block for factors above 1 and drops input for
// factors below 1.
//
// A StreamingPitchBuffer belongs to one recording and is not safe for
// concurrent use.
type StreamingPitchBuffer struct {
	shifter     Shifter
	factor      float64
	rate        int
	blockSize   int
	passthrough bool
	logger      *slog.Logger

	carry  []int16
	warmed bool
	seen   int
	stats  StreamingStats
}

// NewStreamingPitchBuffer validates cfg and creates a buffer.
func NewStreamingPitchBuffer(cfg StreamingConfig) (*StreamingPitchBuffer, error) {
	if cfg.Shifter == nil {
		cfg.Shifter = NewDelayLineShifter(DefaultDelayWindow)
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.BlockSize < 1 {
		return nil, fmt.Errorf("%w: block size must be positive, got %d", audio.ErrInvalidFilterParameter, cfg.BlockSize)
	}
	if err := (PitchShift{Factor: cfg.Factor}).Validate(cfg.Rate); err != nil {
		return nil, err
	}
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", audio.ErrInvalidFilterParameter, cfg.Rate)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &StreamingPitchBuffer{
		shifter:     cfg.Shifter,
		factor:      cfg.Factor,
		rate:        cfg.Rate,
		blockSize:   cfg.BlockSize,
		passthrough: cfg.WarmupPassthrough,
		logger:      cfg.Logger,
		carry:       make([]int16, 0, 2*cfg.BlockSize),
	}, nil
}

// Process adds chunk and returns whatever output is ready. The result is
// empty while fewer than BlockSize samples are buffered.
func (b *StreamingPitchBuffer) Process(chunk []int16) []int16 {
	if b.passthrough && !b.warmed {
		b.seen += len(chunk)
		if b.seen >= b.blockSize {
			b.warmed = true
		}
		out := append([]int16(nil), chunk...)
		b.stats.Passthrough += len(out)
		b.stats.Emitted += len(out)
		return out
	}

	b.carry = append(b.carry, chunk...)

	var out []int16
	for len(b.carry) >= b.blockSize {
		shifted, consumed, err := b.shiftBlock(b.carry[:b.blockSize])
		if err != nil {
			b.stats.Failures++
			b.logger.Warn("Streaming pitch shift failed, emitting carry-over unshifted",
				slog.Int("samples", len(b.carry)),
				slog.String("error", err.Error()),
			)
			out = append(out, b.carry...)
			b.carry = b.carry[:0]
			break
		}

		b.stats.Blocks++
		out = append(out, shifted...)
		remaining := copy(b.carry, b.carry[consumed:])
		b.carry = b.carry[:remaining]
	}

	b.stats.Emitted += len(out)
	return out
}

func (b *StreamingPitchBuffer) shiftBlock(block []int16) ([]int16, int, error) {
	out, consumed, err := b.shifter.Shift(audio.ToUnit(block), b.rate, b.factor)
	if err != nil {
		return nil, 0, err
	}
	if consumed <= 0 || consumed > len(block) {
		return nil, 0, fmt.Errorf("shifter consumed %d of %d samples", consumed, len(block))
	}
	return audio.FromUnit(out), consumed, nil
}

// Flush emits the carry-over unshifted and empties it. It is safe to call at
// any time, including repeatedly.
func (b *StreamingPitchBuffer) Flush() []int16 {
	if len(b.carry) == 0 {
		return nil
	}
	out := append([]int16(nil), b.carry...)
	b.carry = b.carry[:0]
	b.stats.Emitted += len(out)
	return out
}

// Buffered returns the number of samples waiting in the carry-over buffer.
func (b *StreamingPitchBuffer) Buffered() int {
	return len(b.carry)
}

// Stats returns the buffer counters.
func (b *StreamingPitchBuffer) Stats() StreamingStats {
	s := b.stats
	s.Buffered = len(b.carry)
	return s
}
