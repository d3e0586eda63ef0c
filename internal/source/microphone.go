package source

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

// MicrophoneSender is the sender name used for microphone packets.
const MicrophoneSender = "microphone"

// Microphone reads the default input device and delivers each buffer of
// FramesPerBuffer samples as one packet, standing in for a BLE recorder.
type Microphone struct {
	rate            int
	framesPerBuffer int
	logger          *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	buffer  []int16
	handler Handler
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewMicrophone creates a microphone source. The device is opened on Register.
func NewMicrophone(rate, framesPerBuffer int, logger *slog.Logger) *Microphone {
	if logger == nil {
		logger = slog.Default()
	}
	return &Microphone{
		rate:            rate,
		framesPerBuffer: framesPerBuffer,
		logger:          logger,
	}
}

// Register opens the default input stream and starts reading from it.
func (m *Microphone) Register(h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handler != nil {
		return ErrAlreadyRegistered
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	m.buffer = make([]int16, m.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.rate), m.framesPerBuffer, m.buffer)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	m.stream = stream
	m.handler = h
	m.stop = make(chan struct{})

	m.wg.Add(1)
	go m.readLoop(h, m.stop)

	m.logger.Info("Microphone source started",
		slog.Int("sample_rate", m.rate),
		slog.Int("frames_per_buffer", m.framesPerBuffer),
	)
	return nil
}

// Deregister stops reading and releases the device.
func (m *Microphone) Deregister() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handler == nil {
		return ErrNotRegistered
	}
	close(m.stop)

	// Stop unblocks a pending Read.
	stopErr := m.stream.Stop()
	m.wg.Wait()

	if err := m.stream.Close(); err != nil && stopErr == nil {
		stopErr = err
	}
	m.stream = nil
	m.handler = nil

	if err := portaudio.Terminate(); err != nil && stopErr == nil {
		stopErr = err
	}
	if stopErr != nil {
		return fmt.Errorf("failed to close audio stream: %w", stopErr)
	}
	return nil
}

func (m *Microphone) readLoop(h Handler, stop <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := m.stream.Read(); err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if err == portaudio.InputOverflowed {
				m.logger.Warn("Microphone input overflowed")
				continue
			}
			m.logger.Error("Failed to read microphone", slog.String("error", err.Error()))
			return
		}

		h(MicrophoneSender, audio.EncodePCM16(m.buffer))
	}
}
