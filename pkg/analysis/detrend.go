package analysis

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"pwscube/pkg/cube"
)

// detrendPolynomial removes a per-pixel polynomial background of the given
// order from the k-spectra. The fit is ordinary least squares against the
// centered wavenumber axis, vectorized across all pixels by projecting every
// spectrum through a single precomputed hat matrix M = V (V'V)^-1 V'.
// Order 0 reduces to pixelwise mean subtraction.
//
// It returns the detrended cube and the fitted-polynomial cube; the input is
// left untouched.
func detrendPolynomial(k *cube.KCube, order int) (detrended, poly *cube.KCube, err error) {
	n := k.Bands()
	if order+1 > n {
		return nil, nil, fmt.Errorf("analysis: polynomial order %d needs more than %d spectral samples", order, n)
	}

	// Centered wavenumber axis keeps the Vandermonde matrix well
	// conditioned for the axis magnitudes involved (k ~ 10 rad/um).
	kMean := stat.Mean(k.Wavenumbers, nil)
	v := mat.NewDense(n, order+1, nil)
	for i := 0; i < n; i++ {
		x := k.Wavenumbers[i] - kMean
		pow := 1.0
		for j := 0; j <= order; j++ {
			v.Set(i, j, pow)
			pow *= x
		}
	}

	// Hat matrix M = V (V'V)^-1 V', n x n. Applying M to a spectrum yields
	// the fitted polynomial evaluated on the axis.
	var vtv mat.Dense
	vtv.Mul(v.T(), v)
	var x mat.Dense
	if err := x.Solve(&vtv, v.T()); err != nil {
		return nil, nil, fmt.Errorf("analysis: polynomial fit is singular at order %d: %w", order, err)
	}
	var hat mat.Dense
	hat.Mul(v, &x)
	m := hat.RawMatrix().Data // n*n, row-major

	detrended = k.Clone()
	poly = k.Clone()
	for p := 0; p < k.Pixels(); p++ {
		spec := k.Data[p*n : (p+1)*n]
		polySpec := poly.Data[p*n : (p+1)*n]
		detSpec := detrended.Data[p*n : (p+1)*n]
		for i := 0; i < n; i++ {
			row := m[i*n : (i+1)*n]
			fit := 0.0
			for j, w := range row {
				fit += w * spec[j]
			}
			polySpec[i] = fit
			detSpec[i] = spec[i] - fit
		}
	}
	return detrended, poly, nil
}
