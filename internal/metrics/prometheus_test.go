package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegistersOnOwnRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordPacket(320)
	m.RecordPacket(320)
	m.RecordMalformedPacket()
	m.RecordDroppedPacket()
	m.SetQueueSize(7)

	if got := testutil.ToFloat64(m.PacketsReceived); got != 2 {
		t.Errorf("packets received = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BytesReceived); got != 640 {
		t.Errorf("bytes received = %v, want 640", got)
	}
	if got := testutil.ToFloat64(m.PacketsMalformed); got != 1 {
		t.Errorf("malformed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PacketsDropped); got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.QueueSize); got != 7 {
		t.Errorf("queue size = %v, want 7", got)
	}

	// A second set on a fresh registry must not panic on duplicate registration.
	NewMetrics(prometheus.NewRegistry())
}

func TestObserveStage(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveStage("low_pass", "ok", 5*time.Millisecond)
	m.ObserveStage("normalize", "skipped", time.Millisecond)
	m.ObserveStage("low_pass", "ok", 2*time.Millisecond)

	if got := testutil.ToFloat64(m.StageOutcomes.WithLabelValues("low_pass", "ok")); got != 2 {
		t.Errorf("low_pass ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StageOutcomes.WithLabelValues("normalize", "skipped")); got != 1 {
		t.Errorf("normalize skipped = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.StageDuration); got != 2 {
		t.Errorf("stage duration series = %d, want 2", got)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordingStarted()
	if got := testutil.ToFloat64(m.ActiveRecordings); got != 1 {
		t.Fatalf("active = %v, want 1", got)
	}
	m.RecordingFinished("ok", 10*time.Second)
	if got := testutil.ToFloat64(m.ActiveRecordings); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.Recordings.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok recordings = %v, want 1", got)
	}

	m.RecordRate(15200, 16000, 16000)
	if got := testutil.ToFloat64(m.EffectiveRate); got != 16000 {
		t.Errorf("effective rate = %v, want 16000", got)
	}
}

func TestBridgeAndOutputCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDatagram(true)
	m.RecordDatagram(false)
	m.RecordSequenceGap(3)
	m.RecordExternalFallback(nil)
	m.RecordStreaming(4, 1)
	m.RecordFileWritten("raw")
	m.RecordFileWritten("enhanced")
	m.RecordWriteError()

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"datagrams", m.DatagramsReceived, 2},
		{"datagram errors", m.DatagramErrors, 1},
		{"sequence gaps", m.SequenceGaps, 3},
		{"fallbacks", m.ExternalFallbacks, 1},
		{"streaming blocks", m.StreamingBlocks, 4},
		{"streaming failures", m.StreamingFailures, 1},
		{"raw files", m.FilesWritten.WithLabelValues("raw"), 1},
		{"write errors", m.WriteErrors, 1},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}
}
