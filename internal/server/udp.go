package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/skypro1111/ble-audio-recorder/internal/config"
	"github.com/skypro1111/ble-audio-recorder/internal/metrics"
	"github.com/skypro1111/ble-audio-recorder/internal/protocol"
	"github.com/skypro1111/ble-audio-recorder/internal/source"
)

// UDPServer receives bridge datagrams and acts as a packet source. Audio
// payloads are handed to the registered handler in arrival order from a
// single receive loop.
type UDPServer struct {
	conn    *net.UDPConn
	config  *config.SourceConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	handler source.Handler
	devices map[uint32]*device

	// Basic counters
	datagramsReceived uint64
	packetsDelivered  uint64
	parseErrors       uint64
	sequenceGaps      uint64
	mu                sync.RWMutex
}

// device tracks one bridge-announced recorder
type device struct {
	id          uint32
	name        string
	nominalRate uint32
	remoteAddr  string
	packets     uint64
	gaps        uint64
	lastSeq     uint32
	hasSeq      bool
	lastSeen    time.Time
}

// NewUDPServer creates a new UDP bridge source. m may be nil.
func NewUDPServer(cfg *config.SourceConfig, logger *slog.Logger, m *metrics.Metrics) *UDPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPServer{
		config:  cfg,
		logger:  logger,
		metrics: m,
		devices: make(map[uint32]*device),
	}
}

// Register starts listening for datagrams and delivers audio payloads to h
func (s *UDPServer) Register(h source.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handler != nil {
		return source.ErrAlreadyRegistered
	}

	addr, err := net.ResolveUDPAddr("udp", s.config.GetAddress())
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	if err := conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.conn = conn
	s.handler = h
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.logger.Info("UDP bridge listener started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
	)

	s.wg.Add(1)
	go s.receiveLoop(conn)

	return nil
}

// Deregister stops the listener and waits for the receive loop
func (s *UDPServer) Deregister() error {
	s.mu.Lock()
	if s.handler == nil {
		s.mu.Unlock()
		return source.ErrNotRegistered
	}
	s.logger.Info("Stopping UDP bridge listener...")

	s.cancel()
	var closeErr error
	if err := s.conn.Close(); err != nil {
		closeErr = fmt.Errorf("failed to close UDP connection: %w", err)
	}
	s.handler = nil
	s.mu.Unlock()

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP bridge listener stopped",
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("packets_delivered", stats.PacketsDelivered),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("sequence_gaps", stats.SequenceGaps),
	)

	return closeErr
}

// LocalAddr returns the bound address, or nil before Register
func (s *UDPServer) LocalAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// receiveLoop is the main datagram receiving loop
func (s *UDPServer) receiveLoop(conn *net.UDPConn) {
	defer s.wg.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
				continue
			}
		}

		s.handleDatagram(buffer[:n], remoteAddr)
	}
}

// handleDatagram parses one datagram and routes its payload
func (s *UDPServer) handleDatagram(data []byte, remoteAddr *net.UDPAddr) {
	packet, err := protocol.ParsePacket(data)

	s.mu.Lock()
	s.datagramsReceived++
	if err != nil {
		s.parseErrors++
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordDatagram(err == nil)
	}

	if err != nil {
		s.logger.Warn("Failed to parse datagram",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("datagram_size", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}

	switch packet.Header.PacketType {
	case protocol.PacketTypeHello:
		s.processHello(packet.Header, packet.Hello, remoteAddr)
	case protocol.PacketTypeAudio:
		s.processAudio(packet.Header, packet.Audio, remoteAddr)
	}
}

// processHello records the device name announced by the bridge
func (s *UDPServer) processHello(header *protocol.Header, payload *protocol.HelloPayload, remoteAddr *net.UDPAddr) {
	s.mu.Lock()
	d := s.deviceLocked(header.DeviceID)
	d.name = payload.GetName()
	d.nominalRate = payload.NominalRate
	d.remoteAddr = remoteAddr.String()
	d.lastSeen = time.Now()
	s.mu.Unlock()

	s.logger.Info("Device announced",
		slog.Uint64("device_id", uint64(header.DeviceID)),
		slog.String("name", payload.GetName()),
		slog.Uint64("nominal_rate", uint64(payload.NominalRate)),
		slog.String("remote_addr", remoteAddr.String()),
	)
}

// processAudio delivers one notification payload to the handler
func (s *UDPServer) processAudio(header *protocol.Header, payload *protocol.AudioPayload, remoteAddr *net.UDPAddr) {
	s.mu.Lock()
	d := s.deviceLocked(header.DeviceID)
	d.remoteAddr = remoteAddr.String()
	d.lastSeen = time.Now()
	d.packets++

	var missing uint32
	if d.hasSeq {
		// Sequence numbers wrap; only forward jumps count as gaps.
		if diff := payload.Sequence - d.lastSeq; diff > 1 && diff < 1<<31 {
			missing = diff - 1
		}
	}
	if !d.hasSeq || payload.Sequence-d.lastSeq < 1<<31 {
		d.lastSeq = payload.Sequence
		d.hasSeq = true
	}
	d.gaps += uint64(missing)
	s.sequenceGaps += uint64(missing)
	s.packetsDelivered++

	sender := d.senderName()
	h := s.handler
	s.mu.Unlock()

	if missing > 0 {
		if s.metrics != nil {
			s.metrics.RecordSequenceGap(missing)
		}
		s.logger.Debug("Sequence gap",
			slog.String("sender", sender),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.Uint64("missing", uint64(missing)),
		)
	}

	if header.EndOfStream() {
		s.logger.Info("Bridge reported end of stream", slog.String("sender", sender))
	}

	if h != nil {
		h(sender, payload.PCM)
	}
}

func (s *UDPServer) deviceLocked(id uint32) *device {
	d, ok := s.devices[id]
	if !ok {
		d = &device{id: id}
		s.devices[id] = d
	}
	return d
}

func (d *device) senderName() string {
	if d.name != "" {
		return d.name
	}
	return fmt.Sprintf("dev-%d", d.id)
}

// GetStatistics returns current listener statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]DeviceInfo, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, DeviceInfo{
			DeviceID:     d.id,
			Sender:       d.senderName(),
			NominalRate:  d.nominalRate,
			RemoteAddr:   d.remoteAddr,
			Packets:      d.packets,
			SequenceGaps: d.gaps,
			LastSeen:     d.lastSeen,
		})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].DeviceID < devices[j].DeviceID })

	return ServerStatistics{
		DatagramsReceived: s.datagramsReceived,
		PacketsDelivered:  s.packetsDelivered,
		ParseErrors:       s.parseErrors,
		SequenceGaps:      s.sequenceGaps,
		Devices:           devices,
	}
}

// ServerStatistics represents listener counters
type ServerStatistics struct {
	DatagramsReceived uint64       `json:"datagrams_received"`
	PacketsDelivered  uint64       `json:"packets_delivered"`
	ParseErrors       uint64       `json:"parse_errors"`
	SequenceGaps      uint64       `json:"sequence_gaps"`
	Devices           []DeviceInfo `json:"devices"`
}

// DeviceInfo describes one device seen by the listener
type DeviceInfo struct {
	DeviceID     uint32    `json:"device_id"`
	Sender       string    `json:"sender"`
	NominalRate  uint32    `json:"nominal_rate,omitempty"`
	RemoteAddr   string    `json:"remote_addr"`
	Packets      uint64    `json:"packets"`
	SequenceGaps uint64    `json:"sequence_gaps"`
	LastSeen     time.Time `json:"last_seen"`
}
