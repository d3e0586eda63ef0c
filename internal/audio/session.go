package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Session accumulates the decoded samples of one recording.
// Append is the only mutation point. The mutex makes it safe for a stats
// reader to run next to the single writer.
type Session struct {
	id        string
	startedAt time.Time

	samples []int16
	live    []int16
	liveOn  bool

	packets      uint64
	malformed    uint64
	dropped      uint64
	bytes        uint64
	firstArrival time.Duration
	lastArrival  time.Duration
	senders      map[string]uint64

	finalized bool
	mu        sync.RWMutex
}

// Recording is the immutable result of a finalized Session.
type Recording struct {
	ID        string
	StartedAt time.Time
	Elapsed   time.Duration
	Samples   []int16

	// Live holds the stream emitted by the streaming pitch buffer when the
	// recording ran in live-processed mode. It is nil otherwise.
	Live []int16

	Stats SessionStats
}

// SessionStats represents session counters for monitoring
type SessionStats struct {
	ID               string            `json:"id"`
	StartedAt        time.Time         `json:"started_at"`
	Packets          uint64            `json:"packets"`
	MalformedPackets uint64            `json:"malformed_packets"`
	DroppedPackets   uint64            `json:"dropped_packets"`
	Bytes            uint64            `json:"bytes"`
	Samples          int               `json:"samples"`
	LiveSamples      int               `json:"live_samples"`
	FirstArrival     time.Duration     `json:"first_arrival"`
	LastArrival      time.Duration     `json:"last_arrival"`
	Senders          map[string]uint64 `json:"senders"`
}

// NewSession starts a session. sampleHint preallocates room for that many samples.
func NewSession(id string, startedAt time.Time, sampleHint int) *Session {
	if sampleHint < 0 {
		sampleHint = 0
	}
	return &Session{
		id:        id,
		startedAt: startedAt,
		samples:   make([]int16, 0, sampleHint),
		senders:   make(map[string]uint64),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// StartedAt returns the wall-clock start of the session.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Append decodes packet and appends its samples. at is the arrival time
// relative to the session start. Malformed packets are counted and their
// samples discarded; the returned error wraps ErrMalformedPacket.
func (s *Session) Append(sender string, packet []byte, at time.Duration) ([]int16, error) {
	decoded, decodeErr := DecodePCM16(packet)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil, fmt.Errorf("session %s is finalized", s.id)
	}

	s.packets++
	s.bytes += uint64(len(packet))
	s.senders[sender]++
	if s.packets == 1 {
		s.firstArrival = at
	}
	s.lastArrival = at

	if decodeErr != nil {
		s.malformed++
		return nil, decodeErr
	}

	s.samples = append(s.samples, decoded...)
	return decoded, nil
}

// AppendLive appends samples emitted by the live processing path.
func (s *Session) AppendLive(samples []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveOn = true
	s.live = append(s.live, samples...)
}

// RecordDrop counts a packet dropped before it reached the session.
func (s *Session) RecordDrop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped++
}

// SampleCount returns the number of samples appended so far.
func (s *Session) SampleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked()
}

func (s *Session) statsLocked() SessionStats {
	senders := make(map[string]uint64, len(s.senders))
	for k, v := range s.senders {
		senders[k] = v
	}
	return SessionStats{
		ID:               s.id,
		StartedAt:        s.startedAt,
		Packets:          s.packets,
		MalformedPackets: s.malformed,
		DroppedPackets:   s.dropped,
		Bytes:            s.bytes,
		Samples:          len(s.samples),
		LiveSamples:      len(s.live),
		FirstArrival:     s.firstArrival,
		LastArrival:      s.lastArrival,
		Senders:          senders,
	}
}

// Finalize closes the session and hands its samples off as a Recording.
// Later Append calls fail. Calling Finalize twice is an error.
func (s *Session) Finalize(stoppedAt time.Time) (Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return Recording{}, errors.New("session already finalized")
	}
	s.finalized = true

	rec := Recording{
		ID:        s.id,
		StartedAt: s.startedAt,
		Elapsed:   stoppedAt.Sub(s.startedAt),
		Samples:   s.samples,
		Stats:     s.statsLocked(),
	}
	if s.liveOn {
		rec.Live = s.live
	}
	s.samples = nil
	s.live = nil
	return rec, nil
}

// Duration returns the nominal audio duration of the recording at rate.
func (r Recording) Duration(rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(len(r.Samples)) / float64(rate) * float64(time.Second))
}
