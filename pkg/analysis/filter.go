package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"pwscube/pkg/cube"
)

// spectralFilter is a zero-phase (forward-backward) low-pass Butterworth
// filter applied independently along the spectral axis of every pixel.
// Coefficients are designed once per cube and reused for all pixels.
type spectralFilter struct {
	b, a   []float64
	zi     []float64 // steady-state initial conditions for a unit step
	padLen int
}

// newSpectralFilter designs the digital Butterworth low-pass. The cutoff is
// in 1/nm and is normalized against the Nyquist rate of the nominal
// wavelength spacing (max-min)/(n-1). Using the nominal rather than the
// measured spacing reproduces the behavior historical results were computed
// with.
func newSpectralFilter(order int, cutoff float64, wavelengths []float64) (*spectralFilter, error) {
	n := len(wavelengths)
	interval := (wavelengths[n-1] - wavelengths[0]) / float64(n-1)
	nyquist := 1 / interval / 2
	wn := cutoff / nyquist
	if wn <= 0 || wn >= 1 {
		return nil, fmt.Errorf("analysis: normalized filter cutoff %.4f outside (0, 1); cutoff %.4f 1/nm vs Nyquist %.4f 1/nm",
			wn, cutoff, nyquist)
	}
	b, a := butterLowpass(order, wn)
	zi, err := stepInitialConditions(b, a)
	if err != nil {
		return nil, err
	}
	// Edge pad of 3 * max(len(a), len(b)) samples, the conventional
	// forward-backward default.
	return &spectralFilter{b: b, a: a, zi: zi, padLen: 3 * (order + 1)}, nil
}

// apply runs the forward-backward filter over every pixel spectrum of the
// cube, in place.
func (f *spectralFilter) apply(c *cube.ImageCube) error {
	n := c.Bands()
	if n <= f.padLen {
		return fmt.Errorf("analysis: %d spectral samples too short for filter pad length %d", n, f.padLen)
	}
	scratch := make([]float64, n+2*f.padLen)
	for p := 0; p < c.Pixels(); p++ {
		spec := c.Data[p*n : (p+1)*n]
		f.filtfilt(spec, scratch)
	}
	return nil
}

// filtfilt filters x forward and backward, writing the zero-phase result
// back into x. The signal is extended at both ends by odd reflection so the
// filter is warmed up before it reaches real data.
func (f *spectralFilter) filtfilt(x []float64, ext []float64) {
	n := len(x)
	pad := f.padLen
	// Odd extension about the first and last samples.
	for i := 0; i < pad; i++ {
		ext[i] = 2*x[0] - x[pad-i]
		ext[pad+n+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[pad:pad+n], x)

	f.lfilterInPlace(ext, ext[0])
	reverse(ext)
	f.lfilterInPlace(ext, ext[0])
	reverse(ext)

	copy(x, ext[pad:pad+n])
}

// lfilterInPlace applies the direct-form II transposed IIR filter to x with
// initial state scaled to x0, overwriting x with the output.
func (f *spectralFilter) lfilterInPlace(x []float64, x0 float64) {
	order := len(f.a) - 1
	z := make([]float64, order)
	for i := range z {
		z[i] = f.zi[i] * x0
	}
	for i, v := range x {
		y := f.b[0]*v + z[0]
		for j := 0; j < order-1; j++ {
			z[j] = f.b[j+1]*v + z[j+1] - f.a[j+1]*y
		}
		z[order-1] = f.b[order]*v - f.a[order]*y
		x[i] = y
	}
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// butterLowpass designs an order-n digital Butterworth low-pass via the
// analog prototype and the bilinear transform. wn is the cutoff as a
// fraction of the Nyquist rate, in (0, 1). Returns transfer-function
// coefficients with a[0] == 1.
func butterLowpass(order int, wn float64) (b, a []float64) {
	// Prewarp the cutoff for the bilinear transform (internal fs = 2).
	const fs2 = 4.0 // 2*fs
	warped := fs2 * math.Tan(math.Pi*wn/2)

	// Analog prototype poles on the unit circle, left half plane, scaled to
	// the warped cutoff. Gain is warped^order.
	poles := make([]complex128, order)
	for k := 0; k < order; k++ {
		theta := math.Pi * float64(2*k+order+1) / float64(2*order)
		poles[k] = complex(warped*math.Cos(theta), warped*math.Sin(theta))
	}
	gain := complex(math.Pow(warped, float64(order)), 0)

	// Bilinear transform: poles map to (fs2+p)/(fs2-p), the n analog zeros
	// at infinity map to z = -1, and the gain picks up 1/prod(fs2 - p).
	zPoles := make([]complex128, order)
	for i, p := range poles {
		zPoles[i] = (complex(fs2, 0) + p) / (complex(fs2, 0) - p)
		gain /= complex(fs2, 0) - p
	}

	// Numerator: gain * (z+1)^order. Denominator: poly(zPoles).
	zZeros := make([]complex128, order)
	for i := range zZeros {
		zZeros[i] = -1
	}
	b = realPoly(zZeros, gain)
	a = realPoly(zPoles, 1)
	return b, a
}

// realPoly expands prod(z - roots[i]) scaled by gain and returns the real
// coefficients, highest order first. Roots come in conjugate pairs so the
// imaginary parts cancel.
func realPoly(roots []complex128, gain complex128) []float64 {
	coeffs := make([]complex128, 1, len(roots)+1)
	coeffs[0] = 1
	for _, r := range roots {
		next := make([]complex128, len(coeffs)+1)
		for i, c := range coeffs {
			next[i] += c
			next[i+1] -= c * r
		}
		coeffs = next
	}
	out := make([]float64, len(coeffs))
	for i, c := range coeffs {
		out[i] = real(c * gain)
	}
	return out
}

// stepInitialConditions computes the filter state that makes the step
// response start at steady state, so filtfilt has no startup transient.
// This solves (I - A^T) zi = B with A the companion matrix of the
// denominator and B[j] = b[j+1] - a[j+1]*b[0].
func stepInitialConditions(b, a []float64) ([]float64, error) {
	n := len(a) - 1
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			// companion(a)^T element (i, j).
			var comp float64
			if j == 0 {
				comp = -a[i+1] / a[0]
			} else if j == i+1 {
				comp = 1
			}
			v := -comp
			if i == j {
				v++
			}
			m.Set(i, j, v)
		}
	}
	rhs := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		rhs.SetVec(i, b[i+1]-a[i+1]*b[0])
	}
	var zi mat.VecDense
	if err := zi.SolveVec(m, rhs); err != nil {
		return nil, fmt.Errorf("analysis: filter initial conditions are singular: %w", err)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = zi.AtVec(i)
	}
	return out, nil
}
