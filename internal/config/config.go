package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/ble-audio-recorder/internal/audio"
	"github.com/skypro1111/ble-audio-recorder/internal/dsp"
)

// Source kinds
const (
	SourceUDP        = "udp"
	SourceReplay     = "replay"
	SourceMicrophone = "microphone"
)

// Config represents the complete recorder configuration
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Recording RecordingConfig `yaml:"recording"`
	Rate      RateConfig      `yaml:"rate"`
	Chain     ChainConfig     `yaml:"chain"`
	Output    OutputConfig    `yaml:"output"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// SourceConfig selects and configures the packet source
type SourceConfig struct {
	Kind        string `yaml:"kind"`
	BindAddress string `yaml:"bind_address"`
	UDPPort     int    `yaml:"udp_port"`
	BufferSize  int    `yaml:"buffer_size"`

	ReplayFile  string  `yaml:"replay_file"`
	PacketBytes int     `yaml:"packet_bytes"`
	ReplaySpeed float64 `yaml:"replay_speed"` // 1.0 is real time, 0 is as fast as possible

	FramesPerBuffer int `yaml:"frames_per_buffer"`
	MicrophoneRate  int `yaml:"microphone_rate"`
}

// RecordingConfig contains capture session parameters
type RecordingConfig struct {
	Duration          float64 `yaml:"duration"` // seconds
	QueueSize         int     `yaml:"queue_size"`
	LivePitch         bool    `yaml:"live_pitch"`
	BlockSize         int     `yaml:"block_size"`
	WarmupPassthrough bool    `yaml:"warmup_passthrough"`
}

// RateConfig configures the sample rate policy
type RateConfig struct {
	Policy    string  `yaml:"policy"`
	Nominal   int     `yaml:"nominal"`
	Tolerance float64 `yaml:"tolerance"`
}

// ChainConfig is the ordered filter chain
type ChainConfig struct {
	Stages        []dsp.StageSpec `yaml:"stages"`
	ExternalPitch bool            `yaml:"external_pitch"`
}

// OutputConfig controls where WAV files are written
type OutputConfig struct {
	Directory      string `yaml:"directory"`
	RawPrefix      string `yaml:"raw_prefix"`
	EnhancedPrefix string `yaml:"enhanced_prefix"`
	SaveRaw        bool   `yaml:"save_raw"`
}

// CatalogConfig contains the recordings index configuration
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracingConfig enables span export
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Kind:            SourceUDP,
			BindAddress:     "0.0.0.0",
			UDPPort:         4444,
			BufferSize:      65536,
			PacketBytes:     320,
			ReplaySpeed:     1.0,
			FramesPerBuffer: 160,
			MicrophoneRate:  audio.DefaultNominalRate,
		},
		Recording: RecordingConfig{
			Duration:  10,
			QueueSize: 1024,
			BlockSize: dsp.DefaultBlockSize,
		},
		Rate: RateConfig{
			Policy:    audio.RateSnapped,
			Nominal:   audio.DefaultNominalRate,
			Tolerance: audio.DefaultSnapTolerance,
		},
		Chain: ChainConfig{
			Stages: dsp.DefaultChain(),
		},
		Output: OutputConfig{
			Directory:      ".",
			RawPrefix:      "ble_raw",
			EnhancedPrefix: "ble_enhanced",
			SaveRaw:        true,
		},
		Catalog: CatalogConfig{
			Path: "recordings.db",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			ServiceName: "ble-audio-recorder",
		},
	}
}

// Load reads and parses the configuration file. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.Rate.Validate(); err != nil {
		return fmt.Errorf("rate config: %w", err)
	}

	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("chain config: %w", err)
	}

	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output config: %w", err)
	}

	if err := c.Catalog.Validate(); err != nil {
		return fmt.Errorf("catalog config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates source configuration
func (s *SourceConfig) Validate() error {
	switch s.Kind {
	case SourceUDP:
		if s.UDPPort < 1 || s.UDPPort > 65535 {
			return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
		}
		if s.BindAddress == "" {
			return fmt.Errorf("bind_address cannot be empty")
		}
		if s.BufferSize < 1024 {
			return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
		}
	case SourceReplay:
		if s.ReplayFile == "" {
			return fmt.Errorf("replay_file cannot be empty for replay source")
		}
		if s.PacketBytes < audio.BytesPerSample || s.PacketBytes%audio.BytesPerSample != 0 {
			return fmt.Errorf("packet_bytes must be a positive even number, got %d", s.PacketBytes)
		}
		if s.ReplaySpeed < 0 {
			return fmt.Errorf("replay_speed cannot be negative, got %f", s.ReplaySpeed)
		}
	case SourceMicrophone:
		if s.FramesPerBuffer < 1 {
			return fmt.Errorf("frames_per_buffer must be at least 1, got %d", s.FramesPerBuffer)
		}
		if s.MicrophoneRate < 1000 {
			return fmt.Errorf("microphone_rate must be at least 1000 Hz, got %d", s.MicrophoneRate)
		}
	default:
		return fmt.Errorf("kind must be one of [udp, replay, microphone], got '%s'", s.Kind)
	}

	return nil
}

// Validate validates recording configuration
func (r *RecordingConfig) Validate() error {
	if r.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %f", r.Duration)
	}

	if r.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", r.QueueSize)
	}

	if r.BlockSize < 1 {
		return fmt.Errorf("block_size must be at least 1 sample, got %d", r.BlockSize)
	}

	return nil
}

// Validate validates the rate policy
func (r *RateConfig) Validate() error {
	if r.Policy != audio.RateMeasured && r.Policy != audio.RateSnapped {
		return fmt.Errorf("policy must be 'measured' or 'snapped', got '%s'", r.Policy)
	}

	if r.Nominal < 1 {
		return fmt.Errorf("nominal must be positive, got %d", r.Nominal)
	}

	if r.Tolerance < 0 || r.Tolerance >= 1 {
		return fmt.Errorf("tolerance must be between 0 and 1, got %f", r.Tolerance)
	}

	return nil
}

// Validate checks every stage's parameters without building the chain
func (c *ChainConfig) Validate() error {
	for i, spec := range c.Stages {
		if _, err := dsp.NewStage(spec, nil); err != nil {
			return fmt.Errorf("stage %d: %w", i, err)
		}
	}

	return nil
}

// Validate validates output configuration
func (o *OutputConfig) Validate() error {
	if o.Directory == "" {
		return fmt.Errorf("directory cannot be empty")
	}

	if o.EnhancedPrefix == "" {
		return fmt.Errorf("enhanced_prefix cannot be empty")
	}

	if o.SaveRaw && o.RawPrefix == "" {
		return fmt.Errorf("raw_prefix cannot be empty when save_raw is set")
	}

	if o.SaveRaw && o.RawPrefix == o.EnhancedPrefix {
		return fmt.Errorf("raw_prefix and enhanced_prefix must differ, both are '%s'", o.RawPrefix)
	}

	return nil
}

// Validate validates catalog configuration
func (c *CatalogConfig) Validate() error {
	if c.Enabled && c.Path == "" {
		return fmt.Errorf("path cannot be empty when the catalog is enabled")
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetDuration returns the recording duration as a time.Duration
func (r *RecordingConfig) GetDuration() time.Duration {
	return time.Duration(r.Duration * float64(time.Second))
}

// GetPacketInterval returns how long one replay packet lasts at the nominal rate
func (s *SourceConfig) GetPacketInterval(rate int) time.Duration {
	if s.ReplaySpeed == 0 || rate <= 0 {
		return 0
	}
	samples := float64(s.PacketBytes / audio.BytesPerSample)
	return time.Duration(samples / float64(rate) / s.ReplaySpeed * float64(time.Second))
}

// GetRatePolicy converts the rate section into an audio.RatePolicy
func (r *RateConfig) GetRatePolicy() audio.RatePolicy {
	return audio.RatePolicy{
		Mode:      r.Policy,
		Nominal:   r.Nominal,
		Tolerance: r.Tolerance,
	}
}

// GetAddress returns the UDP listen address
func (s *SourceConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.UDPPort)
}

// GetAddress returns the HTTP listen address
func (h *HTTPConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

// GetPath resolves a file name inside the output directory
func (o *OutputConfig) GetPath(name string) string {
	return filepath.Join(o.Directory, name)
}
