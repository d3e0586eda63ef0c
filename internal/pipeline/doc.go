// Package pipeline turns a finished recording into files: it resolves the
// effective sample rate, runs the filter chain, writes the raw and enhanced
// WAV files and indexes the result.
package pipeline
