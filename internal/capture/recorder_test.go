package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
	"github.com/skypro1111/ble-audio-recorder/internal/dsp"
	"github.com/skypro1111/ble-audio-recorder/internal/metrics"
	"github.com/skypro1111/ble-audio-recorder/internal/source"
)

// scriptedSource delivers its packets synchronously from Register.
type scriptedSource struct {
	packets      [][]byte
	registerErr  error
	onDeregister func()

	mu      sync.Mutex
	handler source.Handler
}

func (s *scriptedSource) Register(h source.Handler) error {
	if s.registerErr != nil {
		return s.registerErr
	}
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
	for _, p := range s.packets {
		h("dev-1", p)
	}
	return nil
}

func (s *scriptedSource) Deregister() error {
	if s.onDeregister != nil {
		s.onDeregister()
	}
	return nil
}

// send delivers a packet through the registered handler, as a late callback would.
func (s *scriptedSource) send(p []byte) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h("dev-1", p)
}

// finiteSource ends right after delivering its packets.
type finiteSource struct {
	*scriptedSource
	done chan struct{}
}

func newFinite(packets [][]byte) *finiteSource {
	return &finiteSource{scriptedSource: &scriptedSource{packets: packets}, done: make(chan struct{})}
}

func (f *finiteSource) Register(h source.Handler) error {
	if err := f.scriptedSource.Register(h); err != nil {
		return err
	}
	close(f.done)
	return nil
}

func (f *finiteSource) Done() <-chan struct{} { return f.done }

// blockingShifter holds the writer inside the live path until release is closed.
type blockingShifter struct {
	release chan struct{}
}

func (b blockingShifter) Shift(in []float64, _ int, _ float64) ([]float64, int, error) {
	<-b.release
	return append([]float64(nil), in...), len(in), nil
}

func packets(n, samplesPerPacket int) ([][]byte, []int16) {
	var all []int16
	out := make([][]byte, n)
	for i := range out {
		s := make([]int16, samplesPerPacket)
		for j := range s {
			s[j] = int16(i*samplesPerPacket + j)
		}
		all = append(all, s...)
		out[i] = audio.EncodePCM16(s)
	}
	return out, all
}

func TestRecordKeepsArrivalOrder(t *testing.T) {
	pkts, want := packets(25, 160)
	r := NewRecorder(Options{})

	rec, err := r.Record(context.Background(), newFinite(pkts), time.Minute)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if len(rec.Samples) != len(want) {
		t.Fatalf("got %d samples, want %d", len(rec.Samples), len(want))
	}
	for i := range want {
		if rec.Samples[i] != want[i] {
			t.Fatalf("sample %d = %d, want %d", i, rec.Samples[i], want[i])
		}
	}
	if rec.Stats.Packets != 25 {
		t.Errorf("packets = %d, want 25", rec.Stats.Packets)
	}
	if rec.Stats.Senders["dev-1"] != 25 {
		t.Errorf("senders = %v", rec.Stats.Senders)
	}
	if rec.Elapsed <= 0 {
		t.Errorf("elapsed = %v, want positive", rec.Elapsed)
	}
	if rec.Live != nil {
		t.Errorf("live stream should be nil without live mode")
	}
	if st := r.Status(); st.State != StateIdle || st.LastSession == nil || st.LastSession.Packets != 25 {
		t.Errorf("unexpected status after recording: %+v", st)
	}
}

func TestRecordSkipsMalformedPackets(t *testing.T) {
	good := audio.EncodePCM16([]int16{1, 2, 3})
	pkts := [][]byte{good, {0x01, 0x02, 0x03}, good}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	r := NewRecorder(Options{Metrics: m})

	rec, err := r.Record(context.Background(), newFinite(pkts), time.Minute)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(rec.Samples) != 6 {
		t.Errorf("got %d samples, want 6", len(rec.Samples))
	}
	if rec.Stats.MalformedPackets != 1 || rec.Stats.Packets != 3 {
		t.Errorf("stats = %+v", rec.Stats)
	}
	if got := testutil.ToFloat64(m.PacketsMalformed); got != 1 {
		t.Errorf("malformed metric = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PacketsReceived); got != 2 {
		t.Errorf("received metric = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Recordings.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok recordings = %v, want 1", got)
	}
}

func TestRecordDropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	pkts, _ := packets(11, 4)
	src := newFinite(pkts)
	src.onDeregister = func() { close(release) }

	r := NewRecorder(Options{
		QueueSize: 2,
		Live:      true,
		Streaming: dsp.StreamingConfig{
			Shifter:   blockingShifter{release: release},
			Factor:    1,
			Rate:      16000,
			BlockSize: 1,
		},
	})

	rec, err := r.Record(context.Background(), src, time.Minute)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	// The writer holds at most one packet while blocked and the queue two.
	if rec.Stats.DroppedPackets < 8 {
		t.Errorf("dropped = %d, want at least 8", rec.Stats.DroppedPackets)
	}
	if rec.Stats.Packets+rec.Stats.DroppedPackets != 11 {
		t.Errorf("packets %d + dropped %d != 11", rec.Stats.Packets, rec.Stats.DroppedPackets)
	}
}

func TestRecordIgnoresLateCallbacks(t *testing.T) {
	pkts, _ := packets(3, 10)
	src := newFinite(pkts)
	r := NewRecorder(Options{})

	rec, err := r.Record(context.Background(), src, time.Minute)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	src.send(audio.EncodePCM16([]int16{9, 9, 9}))

	if len(rec.Samples) != 30 {
		t.Errorf("got %d samples, want 30", len(rec.Samples))
	}
	if st := r.Status(); st.State != StateIdle {
		t.Errorf("state = %q, want idle", st.State)
	}
}

func TestRecordLiveMode(t *testing.T) {
	pkts, want := packets(20, 160)
	r := NewRecorder(Options{
		Live: true,
		Streaming: dsp.StreamingConfig{
			Factor:    1,
			Rate:      16000,
			BlockSize: 1024,
		},
	})

	rec, err := r.Record(context.Background(), newFinite(pkts), time.Minute)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(rec.Samples) != len(want) {
		t.Fatalf("raw samples = %d, want %d", len(rec.Samples), len(want))
	}
	if len(rec.Live) != len(want) {
		t.Fatalf("live samples = %d, want %d", len(rec.Live), len(want))
	}
	for i := range want {
		if rec.Live[i] != want[i] {
			t.Fatalf("live sample %d = %d, want %d", i, rec.Live[i], want[i])
		}
	}
	if st := r.Status(); st.Live == nil || st.Live.Blocks != 3 {
		t.Errorf("live stats = %+v, want 3 blocks", st.Live)
	}
}

func TestRecordStopsOnCancel(t *testing.T) {
	pkts, _ := packets(2, 10)
	src := &scriptedSource{packets: pkts}
	r := NewRecorder(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	rec, err := r.Record(ctx, src, time.Hour)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Record did not stop on cancel")
	}
	if len(rec.Samples) != 20 {
		t.Errorf("got %d samples, want 20", len(rec.Samples))
	}
}

func TestRecordStopsAfterDuration(t *testing.T) {
	r := NewRecorder(Options{})
	rec, err := r.Record(context.Background(), &scriptedSource{}, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 30ms", rec.Elapsed)
	}
	if len(rec.Samples) != 0 {
		t.Errorf("expected an empty recording")
	}
}

func TestRecordBusy(t *testing.T) {
	r := NewRecorder(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := r.Record(ctx, &scriptedSource{}, time.Hour)
		errc <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for r.Status().State != StateRecording {
		if time.Now().After(deadline) {
			t.Fatal("recorder never entered the recording state")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := r.Record(context.Background(), &scriptedSource{}, time.Second); !errors.Is(err, ErrBusy) {
		t.Errorf("second Record = %v, want ErrBusy", err)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("first Record: %v", err)
	}
}

func TestRecordRegisterError(t *testing.T) {
	boom := errors.New("no device")
	r := NewRecorder(Options{})

	_, err := r.Record(context.Background(), &scriptedSource{registerErr: boom}, time.Second)
	if !errors.Is(err, boom) {
		t.Fatalf("Record = %v, want wrapped register error", err)
	}
	if st := r.Status(); st.State != StateIdle {
		t.Errorf("state = %q, want idle", st.State)
	}
}

func TestRecordRejectsBadOptions(t *testing.T) {
	r := NewRecorder(Options{})
	if _, err := r.Record(context.Background(), &scriptedSource{}, 0); err == nil {
		t.Error("expected error for zero duration")
	}

	r = NewRecorder(Options{Live: true, Streaming: dsp.StreamingConfig{Factor: -1, Rate: 16000}})
	if _, err := r.Record(context.Background(), &scriptedSource{}, time.Second); !errors.Is(err, audio.ErrInvalidFilterParameter) {
		t.Errorf("Record = %v, want ErrInvalidFilterParameter", err)
	}
}
