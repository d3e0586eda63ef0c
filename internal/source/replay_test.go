package source

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
)

type collector struct {
	mu      sync.Mutex
	senders []string
	packets [][]byte
}

func (c *collector) handle(sender string, packet []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.senders = append(c.senders, sender)
	c.packets = append(c.packets, packet)
}

func (c *collector) samples(t *testing.T) []int16 {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int16
	for _, p := range c.packets {
		s, err := audio.DecodePCM16(p)
		if err != nil {
			t.Fatalf("DecodePCM16: %v", err)
		}
		out = append(out, s...)
	}
	return out
}

func ramp(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(i)
	}
	return s
}

func TestReplayDeliversAllPackets(t *testing.T) {
	samples := ramp(1000)
	r, err := NewReplay(samples, 16000, 320, 0, nil)
	if err != nil {
		t.Fatalf("NewReplay: %v", err)
	}
	if r.Packets() != 7 {
		t.Fatalf("Packets() = %d, want 7", r.Packets())
	}

	var c collector
	if err := r.Register(c.handle); err != nil {
		t.Fatalf("Register: %v", err)
	}
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("replay did not finish")
	}
	if err := r.Deregister(); err != nil {
		t.Fatalf("Deregister: %v", err)
	}

	if len(c.packets) != 7 {
		t.Fatalf("got %d packets, want 7", len(c.packets))
	}
	if len(c.packets[6]) != 2*(1000-6*160) {
		t.Errorf("last packet has %d bytes, want %d", len(c.packets[6]), 2*(1000-6*160))
	}
	if c.senders[0] != ReplaySender {
		t.Errorf("sender = %q, want %q", c.senders[0], ReplaySender)
	}
	got := c.samples(t)
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestReplayPacing(t *testing.T) {
	r, err := NewReplay(ramp(160*5), 16000, 320, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewReplay: %v", err)
	}

	var c collector
	start := time.Now()
	if err := r.Register(c.handle); err != nil {
		t.Fatalf("Register: %v", err)
	}
	<-r.Done()
	elapsed := time.Since(start)
	_ = r.Deregister()

	if elapsed < 40*time.Millisecond {
		t.Errorf("5 paced packets took %v, want at least 40ms", elapsed)
	}
}

func TestReplayStopEarly(t *testing.T) {
	r, err := NewReplay(ramp(160*1000), 16000, 320, 5*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewReplay: %v", err)
	}

	var c collector
	if err := r.Register(c.handle); err != nil {
		t.Fatalf("Register: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := r.Deregister(); err != nil {
		t.Fatalf("Deregister: %v", err)
	}

	select {
	case <-r.Done():
	default:
		t.Fatal("Done should be closed after Deregister")
	}

	c.mu.Lock()
	n := len(c.packets)
	c.mu.Unlock()
	if n >= 1000 {
		t.Errorf("expected replay to stop early, got all %d packets", n)
	}
}

func TestReplayRegistration(t *testing.T) {
	r, err := NewReplay(ramp(10), 16000, 2, 0, nil)
	if err != nil {
		t.Fatalf("NewReplay: %v", err)
	}
	if err := r.Deregister(); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Deregister before Register = %v, want ErrNotRegistered", err)
	}
	if err := r.Register(func(string, []byte) {}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(func(string, []byte) {}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("second Register = %v, want ErrAlreadyRegistered", err)
	}
	<-r.Done()
	if err := r.Deregister(); err != nil {
		t.Errorf("Deregister: %v", err)
	}
}

func TestNewReplayRejectsOddPacketSize(t *testing.T) {
	if _, err := NewReplay(ramp(10), 16000, 3, 0, nil); err == nil {
		t.Error("expected error for odd packet size")
	}
}

func TestOpenReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	if err := audio.WriteWAVFile(path, ramp(480), 8000); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	r, err := OpenReplay(path, 320, 0, nil)
	if err != nil {
		t.Fatalf("OpenReplay: %v", err)
	}
	if r.Rate() != 8000 {
		t.Errorf("Rate() = %d, want 8000", r.Rate())
	}
	if r.Packets() != 3 {
		t.Errorf("Packets() = %d, want 3", r.Packets())
	}

	if _, err := OpenReplay(filepath.Join(t.TempDir(), "missing.wav"), 320, 0, nil); err == nil {
		t.Error("expected error for missing file")
	}
}
