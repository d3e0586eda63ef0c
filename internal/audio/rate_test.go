package audio

import (
	"errors"
	"testing"
	"time"
)

func TestEstimateRate(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		elapsed time.Duration
		want    int
		wantErr error
	}{
		{name: "exact", n: 16000, elapsed: time.Second, want: 16000},
		{name: "rounded", n: 15999, elapsed: 999 * time.Millisecond, want: 16015},
		{name: "slow source", n: 12000, elapsed: time.Second, want: 12000},
		{name: "zero samples", n: 0, elapsed: time.Second, wantErr: ErrInsufficientData},
		{name: "zero elapsed", n: 16000, elapsed: 0, wantErr: ErrInsufficientData},
		{name: "negative elapsed", n: 16000, elapsed: -time.Second, wantErr: ErrInsufficientData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EstimateRate(tt.n, tt.elapsed)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("EstimateRate(%d, %s) error = %v, want %v", tt.n, tt.elapsed, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("EstimateRate(%d, %s) unexpected error: %v", tt.n, tt.elapsed, err)
			}
			if got != tt.want {
				t.Errorf("EstimateRate(%d, %s) = %d, want %d", tt.n, tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestRatePolicyResolve(t *testing.T) {
	snapped := DefaultRatePolicy()
	measured := RatePolicy{Mode: RateMeasured, Nominal: 16000, Tolerance: 0.1}

	tests := []struct {
		name   string
		policy RatePolicy
		in     int
		want   int
	}{
		{"snap within tolerance below", snapped, 15200, 16000},
		{"snap within tolerance above", snapped, 17500, 16000},
		{"outside tolerance", snapped, 12000, 12000},
		{"boundary is not snapped", snapped, 17600, 17600},
		{"measured keeps value", measured, 15200, 15200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Resolve(tt.in); got != tt.want {
				t.Errorf("Resolve(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestRatePolicyEffective(t *testing.T) {
	measured, effective, err := DefaultRatePolicy().Effective(15500, time.Second)
	if err != nil {
		t.Fatalf("Effective failed: %v", err)
	}
	if measured != 15500 {
		t.Errorf("Expected measured rate 15500, got %d", measured)
	}
	if effective != 16000 {
		t.Errorf("Expected effective rate 16000, got %d", effective)
	}

	if _, _, err := DefaultRatePolicy().Effective(0, time.Second); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Expected ErrInsufficientData, got %v", err)
	}
}
