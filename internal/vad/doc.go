// Package vad provides energy-based Voice Activity Detection.
// It implements sliding window processing with a configurable threshold and
// returns voice activity segments with confidence scores.
package vad
