package audio

import (
	"fmt"
	"math"
	"time"
)

// Rate policy modes.
const (
	RateMeasured = "measured"
	RateSnapped  = "snapped"

	DefaultNominalRate   = 16000
	DefaultSnapTolerance = 0.1
)

// EstimateRate derives the effective sample rate of an unclocked source:
// n samples received over elapsed wall-clock time, rounded to an integer.
func EstimateRate(n int, elapsed time.Duration) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: no samples recorded", ErrInsufficientData)
	}
	if elapsed <= 0 {
		return 0, fmt.Errorf("%w: elapsed time must be positive, got %s", ErrInsufficientData, elapsed)
	}

	rate := int(math.Round(float64(n) / elapsed.Seconds()))
	if rate <= 0 {
		return 0, fmt.Errorf("%w: %d samples over %s rounds to rate 0", ErrInsufficientData, n, elapsed)
	}
	return rate, nil
}

// RatePolicy chooses the rate written to the container.
type RatePolicy struct {
	Mode      string
	Nominal   int
	Tolerance float64
}

// DefaultRatePolicy snaps to 16 kHz within 10%.
func DefaultRatePolicy() RatePolicy {
	return RatePolicy{Mode: RateSnapped, Nominal: DefaultNominalRate, Tolerance: DefaultSnapTolerance}
}

// Resolve applies the policy to a measured rate. In snapped mode a rate
// within Tolerance (relative) of Nominal is replaced by Nominal.
func (p RatePolicy) Resolve(measured int) int {
	if p.Mode != RateSnapped || p.Nominal <= 0 {
		return measured
	}
	deviation := math.Abs(float64(measured-p.Nominal)) / float64(p.Nominal)
	if deviation < p.Tolerance {
		return p.Nominal
	}
	return measured
}

// Effective estimates the rate for n samples over elapsed and applies the policy.
// It returns both the measured and the resolved rate.
func (p RatePolicy) Effective(n int, elapsed time.Duration) (measured, effective int, err error) {
	measured, err = EstimateRate(n, elapsed)
	if err != nil {
		return 0, 0, err
	}
	return measured, p.Resolve(measured), nil
}
