package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	wavHeaderSize = 44
	channels      = 1
	bitsPerSample = 16

	filenameLayout = "20060102_150405"
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo describes a mono PCM-16 WAV payload
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// EncodeWAV encodes PCM-16 samples into a mono WAV container.
// The frame count is exactly len(samples), so the container duration is
// len(samples)/sampleRate by construction.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * BytesPerSample)
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * channels * bitsPerSample / 8,
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(samples)*BytesPerSample))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes a mono PCM-16 WAV payload. Chunks other than "fmt " and
// "data" (LIST, fact, ...) are skipped.
func DecodeWAV(data []byte) ([]int16, int, error) {
	format, pcm, err := parseChunks(data)
	if err != nil {
		return nil, 0, err
	}

	if format.AudioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format.AudioFormat)
	}
	if format.BitsPerSample != bitsPerSample {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", format.BitsPerSample)
	}
	if format.NumChannels != channels {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", format.NumChannels)
	}
	if len(pcm) < BytesPerSample {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	samples, err := DecodePCM16(pcm[:len(pcm)-len(pcm)%BytesPerSample])
	if err != nil {
		return nil, 0, err
	}
	return samples, int(format.SampleRate), nil
}

type fmtChunk struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

func parseChunks(data []byte) (fmtChunk, []byte, error) {
	var format fmtChunk
	if len(data) < 12 {
		return format, nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return format, nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return format, nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		haveFmt bool
		pcm     []byte
	)
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if end > len(data) || end < body {
			// Truncated trailing chunk; keep what is present for data.
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return format, nil, fmt.Errorf("invalid WAV file: fmt chunk too short (%d bytes)", end-body)
			}
			if err := binary.Read(bytes.NewReader(data[body:body+16]), binary.LittleEndian, &format); err != nil {
				return format, nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			haveFmt = true
		case "data":
			pcm = data[body:end]
		}

		offset = end + size%2
	}

	if !haveFmt {
		return format, nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if pcm == nil {
		return format, nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	return format, pcm, nil
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	format, pcm, err := parseChunks(data)
	if err != nil {
		return nil, err
	}
	if format.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}
	if format.BitsPerSample == 0 || format.NumChannels == 0 {
		return nil, fmt.Errorf("invalid WAV format: %d channels, %d bits", format.NumChannels, format.BitsPerSample)
	}

	frameSize := uint32(format.BitsPerSample) / 8 * uint32(format.NumChannels)
	numSamples := uint32(len(pcm)) / frameSize
	return &WAVInfo{
		SampleRate:    format.SampleRate,
		Channels:      format.NumChannels,
		BitsPerSample: format.BitsPerSample,
		Duration:      float64(numSamples) / float64(format.SampleRate),
		DataSize:      uint32(len(pcm)),
		NumSamples:    numSamples,
	}, nil
}

// RecordingFilename returns "<prefix>_<YYYYMMDD_HHMMSS>.wav".
func RecordingFilename(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_%s.wav", prefix, t.Format(filenameLayout))
}

// WriteWAVFile writes samples to path as a mono PCM-16 WAV file, replacing
// any existing file. The payload goes to a temporary sibling first and is
// renamed into place, so a failed write never leaves a truncated or empty file
// at path. Every failure wraps ErrIO.
func WriteWAVFile(path string, samples []int16, sampleRate int) error {
	tmpName, err := writeTempWAV(path, samples, sampleRate)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: rename to %s: %v", ErrIO, path, err)
	}
	return nil
}

// maxNameAttempts bounds the suffixes CreateWAVFile tries.
const maxNameAttempts = 1000

// CreateWAVFile writes like WriteWAVFile but never replaces an existing file.
// When path is taken, "_1", "_2", ... is inserted before the extension and the
// first free name wins. Names are claimed with a hard link, so concurrent
// writers never end up on the same file. It returns the path written.
func CreateWAVFile(path string, samples []int16, sampleRate int) (string, error) {
	tmpName, err := writeTempWAV(path, samples, sampleRate)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmpName)

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 0; n < maxNameAttempts; n++ {
		candidate := path
		if n > 0 {
			candidate = fmt.Sprintf("%s_%d%s", base, n, ext)
		}
		err := os.Link(tmpName, candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: link %s: %v", ErrIO, candidate, err)
		}
	}
	return "", fmt.Errorf("%w: no free name for %s after %d attempts", ErrIO, path, maxNameAttempts)
}

// writeTempWAV encodes samples into a synced temporary file next to path and
// returns its name. The temporary file is removed on failure.
func writeTempWAV(path string, samples []int16, sampleRate int) (name string, err error) {
	data, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrIO, path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create directory %s: %v", ErrIO, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %v", ErrIO, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("%w: write %s: %v", ErrIO, tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("%w: sync %s: %v", ErrIO, tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close %s: %v", ErrIO, tmpName, err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return "", fmt.Errorf("%w: chmod %s: %v", ErrIO, tmpName, err)
	}
	return tmpName, nil
}

// ReadWAVFile loads a mono PCM-16 WAV file.
func ReadWAVFile(path string) ([]int16, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("wav file %s does not exist", path)
		}
		return nil, 0, fmt.Errorf("%w: read %s: %v", ErrIO, path, err)
	}
	samples, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", path, err)
	}
	return samples, rate, nil
}
