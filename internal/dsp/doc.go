// Package dsp implements the enhancement filter chain: zero-phase Butterworth
// smoothing, noise floor suppression, pitch shifting (batch and streaming),
// dynamic range compression, peak normalization and resampling. Stages work
// on whole int16 buffers and re-quantize with saturation at every boundary.
package dsp
