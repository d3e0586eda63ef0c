package dsp

import (
	"fmt"
	"math"
)

// IIR holds transfer function coefficients normalized so that A[0] == 1.
type IIR struct {
	B []float64
	A []float64
}

// ButterworthLowPass designs a digital Butterworth low-pass filter of order 1
// or 2 by bilinear transform with frequency prewarping. wn is the cutoff as a
// fraction of the Nyquist frequency and must lie in (0, 1).
func ButterworthLowPass(order int, wn float64) (IIR, error) {
	if !(wn > 0 && wn < 1) {
		return IIR{}, fmt.Errorf("normalized cutoff must be in (0, 1), got %g", wn)
	}

	k := math.Tan(math.Pi * wn / 2)
	switch order {
	case 1:
		norm := 1 / (1 + k)
		return IIR{
			B: []float64{k * norm, k * norm},
			A: []float64{1, (k - 1) * norm},
		}, nil
	case 2:
		k2 := k * k
		norm := 1 / (1 + math.Sqrt2*k + k2)
		b0 := k2 * norm
		return IIR{
			B: []float64{b0, 2 * b0, b0},
			A: []float64{1, 2 * (k2 - 1) * norm, (1 - math.Sqrt2*k + k2) * norm},
		}, nil
	default:
		return IIR{}, fmt.Errorf("unsupported butterworth order %d", order)
	}
}

func (f IIR) order() int {
	if len(f.A) > len(f.B) {
		return len(f.A) - 1
	}
	return len(f.B) - 1
}

// coeffs returns b and a padded to the same length.
func (f IIR) coeffs() ([]float64, []float64) {
	n := f.order() + 1
	b := make([]float64, n)
	a := make([]float64, n)
	copy(b, f.B)
	copy(a, f.A)
	return b, a
}

// Filter runs the filter over x in transposed direct form II starting from
// state zi (nil means zero state).
func (f IIR) Filter(x, zi []float64) []float64 {
	b, a := f.coeffs()
	n := len(b) - 1
	z := make([]float64, n)
	copy(z, zi)

	y := make([]float64, len(x))
	for i, xi := range x {
		yi := b[0]*xi + z0(z)
		for k := 0; k < n-1; k++ {
			z[k] = b[k+1]*xi + z[k+1] - a[k+1]*yi
		}
		if n > 0 {
			z[n-1] = b[n]*xi - a[n]*yi
		}
		y[i] = yi
	}
	return y
}

func z0(z []float64) float64 {
	if len(z) == 0 {
		return 0
	}
	return z[0]
}

// SteadyState returns the initial state that corresponds to the step
// response steady state, so a constant input produces a constant output.
func (f IIR) SteadyState() []float64 {
	b, a := f.coeffs()
	n := len(b) - 1
	if n == 0 {
		return nil
	}

	// Solve (I - companion(a)^T) zi = b[1:] - a[1:]*b[0].
	m := make([][]float64, n)
	rhs := make([]float64, n)
	for i := 0; i < n; i++ {
		m[i] = make([]float64, n)
		m[i][i] = 1
		rhs[i] = b[i+1] - a[i+1]*b[0]
	}
	for i := 0; i < n; i++ {
		m[i][0] += a[i+1]
		if i+1 < n {
			m[i][i+1] -= 1
		}
	}
	return solve(m, rhs)
}

// solve performs Gaussian elimination with partial pivoting on a small system.
func solve(m [][]float64, rhs []float64) []float64 {
	n := len(rhs)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		m[col], m[pivot] = m[pivot], m[col]
		rhs[col], rhs[pivot] = rhs[pivot], rhs[col]
		if m[col][col] == 0 {
			return make([]float64, n)
		}
		for r := col + 1; r < n; r++ {
			factor := m[r][col] / m[col][col]
			for c := col; c < n; c++ {
				m[r][c] -= factor * m[col][c]
			}
			rhs[r] -= factor * rhs[col]
		}
	}

	x := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := rhs[r]
		for c := r + 1; c < n; c++ {
			sum -= m[r][c] * x[c]
		}
		x[r] = sum / m[r][r]
	}
	return x
}

// FiltFilt applies the filter forward and backward for zero phase response.
// The signal is extended at both ends by odd reflection and both passes start
// from the steady state scaled by the first sample, which keeps the edges
// free of start-up transients.
func (f IIR) FiltFilt(x []float64) []float64 {
	if len(x) == 0 {
		return nil
	}

	padLen := 3 * (f.order() + 1)
	if padLen > len(x)-1 {
		padLen = len(x) - 1
	}

	ext := oddExtend(x, padLen)
	zi := f.SteadyState()

	forward := f.Filter(ext, scaled(zi, ext[0]))
	reverse(forward)
	backward := f.Filter(forward, scaled(zi, forward[0]))
	reverse(backward)

	out := make([]float64, len(x))
	copy(out, backward[padLen:padLen+len(x)])
	return out
}

func oddExtend(x []float64, n int) []float64 {
	ext := make([]float64, 0, len(x)+2*n)
	first, last := x[0], x[len(x)-1]
	for i := n; i >= 1; i-- {
		ext = append(ext, 2*first-x[i])
	}
	ext = append(ext, x...)
	for i := 1; i <= n; i++ {
		ext = append(ext, 2*last-x[len(x)-1-i])
	}
	return ext
}

func scaled(v []float64, k float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] * k
	}
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
