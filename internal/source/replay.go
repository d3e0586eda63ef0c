package source

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

// ReplaySender is the sender name used for replayed packets.
const ReplaySender = "replay"

// Replay re-sends a recorded PCM stream as fixed-size packets, paced like a
// BLE link. A zero Interval delivers packets as fast as the handler accepts them.
type Replay struct {
	samples     []int16
	rate        int
	packetBytes int
	interval    time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	handler Handler
	started bool
	stop    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewReplay creates a replay of samples split into packets of packetBytes.
func NewReplay(samples []int16, rate, packetBytes int, interval time.Duration, logger *slog.Logger) (*Replay, error) {
	if packetBytes < audio.BytesPerSample || packetBytes%audio.BytesPerSample != 0 {
		return nil, fmt.Errorf("packet size must be a positive even number of bytes, got %d", packetBytes)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Replay{
		samples:     samples,
		rate:        rate,
		packetBytes: packetBytes,
		interval:    interval,
		logger:      logger,
		done:        make(chan struct{}),
	}, nil
}

// OpenReplay loads a WAV file for replay.
func OpenReplay(path string, packetBytes int, interval time.Duration, logger *slog.Logger) (*Replay, error) {
	samples, rate, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, err
	}
	return NewReplay(samples, rate, packetBytes, interval, logger)
}

// Rate returns the sample rate stored in the replayed file.
func (r *Replay) Rate() int { return r.rate }

// Packets returns the number of packets the replay will deliver.
func (r *Replay) Packets() int {
	perPacket := r.packetBytes / audio.BytesPerSample
	return (len(r.samples) + perPacket - 1) / perPacket
}

// Register starts delivering packets to h.
func (r *Replay) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A replay runs once; done is closed when it ends.
	if r.started {
		return ErrAlreadyRegistered
	}
	r.started = true
	r.handler = h
	r.stop = make(chan struct{})

	r.wg.Add(1)
	go r.run(h, r.stop)

	r.logger.Info("Replay source started",
		slog.Int("packets", r.Packets()),
		slog.Int("packet_bytes", r.packetBytes),
		slog.Duration("interval", r.interval),
	)
	return nil
}

// Deregister stops the replay and waits for the delivery goroutine.
func (r *Replay) Deregister() error {
	r.mu.Lock()
	if r.handler == nil {
		r.mu.Unlock()
		return ErrNotRegistered
	}
	close(r.stop)
	r.handler = nil
	r.mu.Unlock()

	r.wg.Wait()
	return nil
}

// Done is closed once every packet was delivered or the replay was stopped.
func (r *Replay) Done() <-chan struct{} {
	return r.done
}

func (r *Replay) run(h Handler, stop <-chan struct{}) {
	defer r.wg.Done()
	defer close(r.done)

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	perPacket := r.packetBytes / audio.BytesPerSample
	sent := 0
	for off := 0; off < len(r.samples); off += perPacket {
		if tick != nil {
			select {
			case <-stop:
				r.logger.Debug("Replay stopped early", slog.Int("packets_sent", sent))
				return
			case <-tick:
			}
		} else {
			select {
			case <-stop:
				r.logger.Debug("Replay stopped early", slog.Int("packets_sent", sent))
				return
			default:
			}
		}

		end := off + perPacket
		if end > len(r.samples) {
			end = len(r.samples)
		}
		h(ReplaySender, audio.EncodePCM16(r.samples[off:end]))
		sent++
	}

	r.logger.Debug("Replay finished", slog.Int("packets_sent", sent))
}
