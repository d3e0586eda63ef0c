package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the recorder
type Metrics struct {
	// Packet intake metrics
	PacketsReceived  prometheus.Counter
	PacketsMalformed prometheus.Counter
	PacketsDropped   prometheus.Counter
	BytesReceived    prometheus.Counter
	QueueSize        prometheus.Gauge

	// Bridge transport metrics
	DatagramsReceived prometheus.Counter
	DatagramErrors    prometheus.Counter
	SequenceGaps      prometheus.Counter

	// Recording metrics
	ActiveRecordings  prometheus.Gauge
	Recordings        *prometheus.CounterVec
	RecordingDuration prometheus.Histogram
	EffectiveRate     prometheus.Gauge
	RateDeviation     prometheus.Histogram

	// Filter chain metrics
	StageDuration     *prometheus.HistogramVec
	StageOutcomes     *prometheus.CounterVec
	ExternalFallbacks prometheus.Counter
	StreamingBlocks   prometheus.Counter
	StreamingFailures prometheus.Counter

	// Output metrics
	FilesWritten *prometheus.CounterVec
	WriteErrors  prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg uses
// the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		PacketsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "ble_packets_received_total",
			Help: "Total number of audio packets delivered by the packet source",
		}),
		PacketsMalformed: f.NewCounter(prometheus.CounterOpts{
			Name: "ble_packets_malformed_total",
			Help: "Total number of odd-length packets skipped",
		}),
		PacketsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "ble_packets_dropped_total",
			Help: "Total number of packets dropped because the intake queue was full",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "ble_bytes_received_total",
			Help: "Total number of payload bytes received",
		}),
		QueueSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "ble_packet_queue_size",
			Help: "Current number of packets waiting for the session writer",
		}),

		DatagramsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "ble_bridge_datagrams_received_total",
			Help: "Total number of UDP bridge datagrams received",
		}),
		DatagramErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "ble_bridge_datagram_errors_total",
			Help: "Total number of UDP bridge datagrams that failed to parse",
		}),
		SequenceGaps: f.NewCounter(prometheus.CounterOpts{
			Name: "ble_bridge_sequence_gaps_total",
			Help: "Total number of packets missing according to bridge sequence numbers",
		}),

		ActiveRecordings: f.NewGauge(prometheus.GaugeOpts{
			Name: "ble_active_recordings",
			Help: "Current number of recordings in progress",
		}),
		Recordings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ble_recordings_total",
			Help: "Total number of recordings by outcome",
		}, []string{"outcome"}),
		RecordingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ble_recording_duration_seconds",
			Help:    "Wall-clock duration of recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		EffectiveRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "ble_effective_sample_rate_hz",
			Help: "Effective sample rate of the last finished recording",
		}),
		RateDeviation: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ble_rate_deviation_ratio",
			Help:    "Relative deviation of the measured rate from the nominal rate",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5},
		}),

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ble_stage_duration_seconds",
			Help:    "Time spent in filter chain stages",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"stage"}),
		StageOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ble_stage_outcomes_total",
			Help: "Total number of stage runs by outcome",
		}, []string{"stage", "status"}),
		ExternalFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "ble_external_dsp_fallbacks_total",
			Help: "Total number of times the external pitch shifter failed and the linear fallback ran",
		}),
		StreamingBlocks: f.NewCounter(prometheus.CounterOpts{
			Name: "ble_streaming_blocks_total",
			Help: "Total number of blocks shifted by the streaming pitch buffer",
		}),
		StreamingFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ble_streaming_failures_total",
			Help: "Total number of streaming blocks emitted unshifted after a failure",
		}),

		FilesWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ble_files_written_total",
			Help: "Total number of WAV files written by kind",
		}, []string{"kind"}),
		WriteErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "ble_write_errors_total",
			Help: "Total number of failed WAV writes",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ble_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ble_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ble_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacket records a packet handed to the session writer
func (m *Metrics) RecordPacket(bytes int) {
	m.PacketsReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
}

// RecordMalformedPacket increments the malformed packet counter
func (m *Metrics) RecordMalformedPacket() {
	m.PacketsMalformed.Inc()
}

// RecordDroppedPacket increments the dropped packet counter
func (m *Metrics) RecordDroppedPacket() {
	m.PacketsDropped.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordDatagram records a bridge datagram and whether it parsed
func (m *Metrics) RecordDatagram(ok bool) {
	m.DatagramsReceived.Inc()
	if !ok {
		m.DatagramErrors.Inc()
	}
}

// RecordSequenceGap adds missing packets reported by the bridge
func (m *Metrics) RecordSequenceGap(missing uint32) {
	m.SequenceGaps.Add(float64(missing))
}

// RecordingStarted marks a recording as active
func (m *Metrics) RecordingStarted() {
	m.ActiveRecordings.Inc()
}

// RecordingFinished records the outcome of a recording and its duration
func (m *Metrics) RecordingFinished(outcome string, duration time.Duration) {
	m.ActiveRecordings.Dec()
	m.Recordings.WithLabelValues(outcome).Inc()
	m.RecordingDuration.Observe(duration.Seconds())
}

// RecordRate records the effective rate and its deviation from nominal
func (m *Metrics) RecordRate(measured, effective, nominal int) {
	m.EffectiveRate.Set(float64(effective))
	if nominal > 0 {
		d := float64(measured-nominal) / float64(nominal)
		if d < 0 {
			d = -d
		}
		m.RateDeviation.Observe(d)
	}
}

// ObserveStage records a filter chain stage run
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	m.StageOutcomes.WithLabelValues(stage, status).Inc()
}

// RecordExternalFallback increments the external DSP fallback counter
func (m *Metrics) RecordExternalFallback(error) {
	m.ExternalFallbacks.Inc()
}

// RecordStreaming adds streaming pitch buffer counters
func (m *Metrics) RecordStreaming(blocks, failures int) {
	m.StreamingBlocks.Add(float64(blocks))
	m.StreamingFailures.Add(float64(failures))
}

// RecordFileWritten records a written WAV file of the given kind
func (m *Metrics) RecordFileWritten(kind string) {
	m.FilesWritten.WithLabelValues(kind).Inc()
}

// RecordWriteError increments the write error counter
func (m *Metrics) RecordWriteError() {
	m.WriteErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
