package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Defaults for the recorder's speech band
const (
	DefaultThreshold          = 0.5
	DefaultReferenceRMS       = 3000.0 // RMS that maps to probability 1
	DefaultMinSpeechDuration  = 100 * time.Millisecond
	DefaultMinSilenceDuration = 200 * time.Millisecond
)

// Processor detects voice activity from the RMS energy of fixed windows
type Processor struct {
	threshold    float32
	windowSize   int // Samples per window
	overlapSize  int // Overlap samples (50% overlap)
	sampleRate   int
	referenceRMS float64

	minSpeech  time.Duration
	minSilence time.Duration

	// VAD state
	lastResult float32
	smoothing  float32 // Weight of the newest window

	// Statistics
	totalWindows uint64
	voiceWindows uint64

	mu sync.RWMutex
}

// VADResult represents the result of voice activity detection
type VADResult struct {
	Probability float32 `json:"probability"` // Voice probability (0.0 - 1.0)
	HasVoice    bool    `json:"has_voice"`   // Whether voice was detected
	Confidence  float32 `json:"confidence"`  // Confidence in the result
	WindowIndex int     `json:"window_index"`
	RMS         float64 `json:"rms"`
}

// VoiceSegment represents a continuous segment of voice activity. Times are
// offsets from the start of the analyzed signal.
type VoiceSegment struct {
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Duration   time.Duration `json:"duration"`
	Confidence float32       `json:"confidence"` // Average confidence for the segment
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalWindows    uint64  `json:"total_windows"`
	VoiceWindows    uint64  `json:"voice_windows"`
	VoicePercentage float64 `json:"voice_percentage"`
	Threshold       float32 `json:"threshold"`
}

// Summary is the result of Detect
type Summary struct {
	Windows      int             `json:"windows"`
	VoiceWindows int             `json:"voice_windows"`
	VoiceRatio   float64         `json:"voice_ratio"`
	Segments     []*VoiceSegment `json:"segments"`
}

// NewProcessor creates a new VAD processor instance
func NewProcessor(threshold float32, windowSize int, sampleRate int) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Processor{
		threshold:    threshold,
		windowSize:   windowSize,
		overlapSize:  windowSize / 2,
		sampleRate:   sampleRate,
		referenceRMS: DefaultReferenceRMS,
		minSpeech:    DefaultMinSpeechDuration,
		minSilence:   DefaultMinSilenceDuration,
		smoothing:    0.5,
	}, nil
}

// NewDefaultProcessor creates a processor with 32 ms windows at sampleRate
func NewDefaultProcessor(sampleRate int) (*Processor, error) {
	window := sampleRate * 32 / 1000
	if window < 1 {
		window = 1
	}
	return NewProcessor(DefaultThreshold, window, sampleRate)
}

// SetDurations sets the minimum speech and silence durations used by Detect
func (p *Processor) SetDurations(minSpeech, minSilence time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minSpeech = minSpeech
	p.minSilence = minSilence
}

// Process processes a window of audio samples and returns voice activity probability
func (p *Processor) Process(samples []int16) (*VADResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(samples) != p.windowSize {
		return nil, fmt.Errorf("expected %d samples, got %d", p.windowSize, len(samples))
	}

	return p.processLocked(samples, p.totalWindows > 0), nil
}

func (p *Processor) processLocked(samples []int16, smooth bool) *VADResult {
	rms := windowRMS(samples)
	probability := float32(math.Min(rms/p.referenceRMS, 1))

	if smooth {
		probability = p.smoothing*probability + (1-p.smoothing)*p.lastResult
	}
	p.lastResult = probability

	hasVoice := probability >= p.threshold

	p.totalWindows++
	if hasVoice {
		p.voiceWindows++
	}

	// Confidence is higher when the probability is far from the threshold
	confidence := float32(math.Abs(float64(probability - p.threshold)))
	if confidence > 0.5 {
		confidence = 0.5
	}
	confidence = confidence * 2

	return &VADResult{
		Probability: probability,
		HasVoice:    hasVoice,
		Confidence:  confidence,
		WindowIndex: int(p.totalWindows - 1),
		RMS:         rms,
	}
}

func windowRMS(samples []int16) float64 {
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	return math.Sqrt(energy / float64(len(samples)))
}

// Detect runs overlapping windows over samples and returns voice segments.
// Segments separated by less than the minimum silence are merged and
// segments shorter than the minimum speech duration are dropped. A trailing
// partial window is ignored.
func (p *Processor) Detect(samples []int16) Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	hop := p.windowSize - p.overlapSize
	if hop < 1 {
		hop = 1
	}

	var (
		summary Summary
		current *VoiceSegment
		count   int
	)
	for start := 0; start+p.windowSize <= len(samples); start += hop {
		result := p.processLocked(samples[start:start+p.windowSize], summary.Windows > 0)
		summary.Windows++
		at := p.offset(start)

		if result.HasVoice {
			summary.VoiceWindows++
			if current == nil {
				current = &VoiceSegment{Start: at}
				count = 0
			}
			current.End = p.offset(start + p.windowSize)
			current.Confidence += result.Confidence
			count++
			continue
		}

		if current != nil {
			current.Confidence /= float32(count)
			summary.Segments = append(summary.Segments, current)
			current = nil
		}
	}
	if current != nil {
		current.Confidence /= float32(count)
		summary.Segments = append(summary.Segments, current)
	}

	summary.Segments = p.mergeSegments(summary.Segments)
	if summary.Windows > 0 {
		summary.VoiceRatio = float64(summary.VoiceWindows) / float64(summary.Windows)
	}
	return summary
}

func (p *Processor) mergeSegments(segments []*VoiceSegment) []*VoiceSegment {
	merged := make([]*VoiceSegment, 0, len(segments))
	for _, s := range segments {
		if n := len(merged); n > 0 && s.Start-merged[n-1].End < p.minSilence {
			prev := merged[n-1]
			prev.Confidence = (prev.Confidence + s.Confidence) / 2
			prev.End = s.End
			continue
		}
		merged = append(merged, s)
	}

	out := merged[:0]
	for _, s := range merged {
		s.Duration = s.End - s.Start
		if s.Duration >= p.minSpeech {
			out = append(out, s)
		}
	}
	return out
}

func (p *Processor) offset(sample int) time.Duration {
	return time.Duration(float64(sample) / float64(p.sampleRate) * float64(time.Second))
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		Threshold:       p.threshold,
	}
}

// UpdateThreshold updates the voice detection threshold
func (p *Processor) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.threshold = threshold
	return nil
}

// Reset resets the processor state and statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalWindows = 0
	p.voiceWindows = 0
	p.lastResult = 0
}

// GetThreshold returns the current voice detection threshold
func (p *Processor) GetThreshold() float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}

// GetWindowSize returns the window size in samples
func (p *Processor) GetWindowSize() int {
	return p.windowSize
}

// GetOverlapSize returns the overlap size in samples
func (p *Processor) GetOverlapSize() int {
	return p.overlapSize
}
