package server

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/ble-audio-recorder/internal/config"
	"github.com/skypro1111/ble-audio-recorder/internal/metrics"
	"github.com/skypro1111/ble-audio-recorder/internal/protocol"
	"github.com/skypro1111/ble-audio-recorder/internal/source"
)

type delivery struct {
	sender string
	pcm    []byte
}

func testSourceConfig() *config.SourceConfig {
	return &config.SourceConfig{
		Kind:        config.SourceUDP,
		BindAddress: "127.0.0.1",
		UDPPort:     0,
		BufferSize:  65536,
	}
}

func startUDP(t *testing.T, m *metrics.Metrics) (*UDPServer, *net.UDPConn, <-chan delivery) {
	t.Helper()

	s := NewUDPServer(testSourceConfig(), nil, m)
	out := make(chan delivery, 64)
	if err := s.Register(func(sender string, pcm []byte) {
		out <- delivery{sender: sender, pcm: append([]byte(nil), pcm...)}
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	t.Cleanup(func() { _ = s.Deregister() })

	conn, err := net.DialUDP("udp", nil, s.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return s, conn, out
}

func send(t *testing.T, conn *net.UDPConn, datagram []byte) {
	t.Helper()
	if _, err := conn.Write(datagram); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func audioPacket(t *testing.T, id, seq uint32, pcm []byte) []byte {
	t.Helper()
	b, err := protocol.BuildAudio(id, seq, protocol.FlagNone, pcm)
	if err != nil {
		t.Fatalf("BuildAudio: %v", err)
	}
	return b
}

func receive(t *testing.T, out <-chan delivery) delivery {
	t.Helper()
	select {
	case d := <-out:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a payload")
		return delivery{}
	}
}

func TestUDPServerDeliversInOrder(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	s, conn, out := startUDP(t, m)

	send(t, conn, protocol.BuildHello(7, "mic-left", 16000))
	send(t, conn, audioPacket(t, 7, 0, []byte{1, 0}))
	send(t, conn, audioPacket(t, 7, 1, []byte{2, 0}))
	send(t, conn, []byte{0xff, 0x00})
	send(t, conn, audioPacket(t, 7, 4, []byte{3, 0}))

	for i := byte(1); i <= 3; i++ {
		d := receive(t, out)
		if d.sender != "mic-left" {
			t.Errorf("payload %d: sender %q, want mic-left", i, d.sender)
		}
		if len(d.pcm) != 2 || d.pcm[0] != i {
			t.Errorf("payload %d arrived out of order: %v", i, d.pcm)
		}
	}

	stats := s.GetStatistics()
	if stats.DatagramsReceived != 5 {
		t.Errorf("DatagramsReceived = %d, want 5", stats.DatagramsReceived)
	}
	if stats.PacketsDelivered != 3 {
		t.Errorf("PacketsDelivered = %d, want 3", stats.PacketsDelivered)
	}
	if stats.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", stats.ParseErrors)
	}
	if stats.SequenceGaps != 2 {
		t.Errorf("SequenceGaps = %d, want 2", stats.SequenceGaps)
	}
	if len(stats.Devices) != 1 || stats.Devices[0].NominalRate != 16000 {
		t.Errorf("unexpected devices %+v", stats.Devices)
	}

	if got := testutil.ToFloat64(m.SequenceGaps); got != 2 {
		t.Errorf("sequence gap metric = %v, want 2", got)
	}
}

func TestUDPServerUnnamedDevice(t *testing.T) {
	_, conn, out := startUDP(t, nil)

	send(t, conn, audioPacket(t, 42, 0, []byte{1, 0, 2, 0}))

	d := receive(t, out)
	if d.sender != "dev-42" {
		t.Errorf("sender = %q, want dev-42", d.sender)
	}
}

func TestUDPServerRegistration(t *testing.T) {
	s := NewUDPServer(testSourceConfig(), nil, nil)

	if err := s.Deregister(); !errors.Is(err, source.ErrNotRegistered) {
		t.Errorf("Deregister before Register = %v", err)
	}

	handler := func(string, []byte) {}

	if err := s.Register(handler); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(handler); !errors.Is(err, source.ErrAlreadyRegistered) {
		t.Errorf("second Register = %v", err)
	}
	if err := s.Deregister(); err != nil {
		t.Errorf("Deregister: %v", err)
	}

	// The listener can be registered again after a stop.
	if err := s.Register(handler); err != nil {
		t.Fatalf("Register after Deregister: %v", err)
	}
	if err := s.Deregister(); err != nil {
		t.Errorf("second Deregister: %v", err)
	}
}

func TestUDPServerAsSource(t *testing.T) {
	var _ source.Source = NewUDPServer(testSourceConfig(), nil, nil)
}
