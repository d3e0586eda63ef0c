// Package audio holds the PCM primitives of the recorder: packet decoding,
// the per-recording sample session, effective sample rate estimation and the
// WAV container writer.
package audio
