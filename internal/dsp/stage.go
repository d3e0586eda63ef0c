package dsp

import (
	"time"
)

// Buffer is a mono int16 signal together with its sample rate.
type Buffer struct {
	Samples []int16
	Rate    int
}

// Stage is one step of the filter chain.
//
// Apply returns the processed buffer. A stage may return a usable buffer
// together with an error wrapping audio.ErrNoSignal or audio.ErrExternalDSP;
// the chain treats those as recoverable and continues with the returned
// buffer. Any other error aborts the chain.
type Stage interface {
	Name() string
	Validate(rate int) error
	Apply(buf Buffer) (Buffer, error)
}

// rateChanger is implemented by stages whose output rate differs from their
// input rate.
type rateChanger interface {
	OutputRate(in int) int
}

// Stage outcome values reported in StageReport.Status.
const (
	StatusOK       = "ok"
	StatusSkipped  = "skipped"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

// StageReport represents the outcome of one stage for reporting
type StageReport struct {
	Stage    string        `json:"stage"`
	Status   string        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
	Samples  int           `json:"samples"`
	Rate     int           `json:"rate"`
}

// OK reports whether the stage produced usable output.
func (r StageReport) OK() bool {
	return r.Status != StatusFailed
}
