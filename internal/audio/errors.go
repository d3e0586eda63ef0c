package audio

import "errors"

// Error taxonomy shared by the capture path, the filter chain and the writer.
// Callers wrap these with context and test for them with errors.Is.
var (
	// ErrMalformedPacket marks a packet that cannot be decoded (odd length).
	// The packet is skipped and the session continues.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrInsufficientData is returned when a session has no samples or no
	// elapsed time. Nothing is filtered or written.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidFilterParameter rejects a filter chain before processing.
	ErrInvalidFilterParameter = errors.New("invalid filter parameter")

	// ErrExternalDSP reports a failure of an external DSP routine. The chain
	// recovers by falling back to the internal implementation.
	ErrExternalDSP = errors.New("external dsp failure")

	// ErrNoSignal is returned by normalization of an all-zero buffer.
	ErrNoSignal = errors.New("no signal")

	// ErrIO is returned when a container file cannot be written.
	ErrIO = errors.New("io failure")
)
