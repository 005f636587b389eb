package analysis

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"pwscube/pkg/cube"
)

// nextPow2 returns the smallest power of two >= v. FFTs on power-of-two
// lengths are fastest and the zero padding interpolates the spectrum.
func nextPow2(v int) int {
	n := 1
	for n < v {
		n <<= 1
	}
	return n
}

// stdMap computes the per-pixel population standard deviation along the
// spectral axis.
func stdMap(k *cube.KCube) []float64 {
	n := k.Bands()
	out := make([]float64, k.Pixels())
	for p := range out {
		spec := k.Data[p*n : (p+1)*n]
		mean := 0.0
		for _, v := range spec {
			mean += v
		}
		mean /= float64(n)
		ss := 0.0
		for _, v := range spec {
			d := v - mean
			ss += d * d
		}
		out[p] = math.Sqrt(ss / float64(n))
	}
	return out
}

// autocorrDecay fits the log-autocorrelation decay of every pixel's
// detrended k-spectrum.
//
// The normalized circular autocorrelation is computed through the FFT: the
// power spectrum of the zero-padded signal is inverse transformed, the first
// Bands lags retained and scaled so the zero lag equals 1. When minSub is
// set the global minimum over all pixels and all Bands lags, including lags
// beyond the fit window, is subtracted first; this is mathematically nonsense
// but is required when the autocorrelation dips negative, and is kept for
// compatibility with historical results.
//
// A line is then fit to the natural log of the first stopIndex lags against
// lag index. Non-positive autocorrelation values have no logarithm and are
// dropped from the fit; pixels left with fewer than two usable lags get NaN
// slope and R^2. The returned counts let the caller attach a warning when
// too much data was excluded.
func autocorrDecay(detrended *cube.KCube, minSub bool, stopIndex int) (slope, rSquared []float64, excluded, total int) {
	n := detrended.Bands()
	pixels := detrended.Pixels()
	if stopIndex > n {
		stopIndex = n
	}

	fftSize := nextPow2(2*n - 1)
	fft := fourier.NewFFT(fftSize)
	padded := make([]float64, fftSize)
	coeffs := make([]complex128, fftSize/2+1)
	power := make([]float64, fftSize)

	// First pass: normalized autocorrelation lags for every pixel, all n of
	// them even though only stopIndex enter the fit, because the minSub
	// minimum ranges over every retained lag.
	acf := make([]float64, pixels*n)
	for p := 0; p < pixels; p++ {
		spec := detrended.Data[p*n : (p+1)*n]
		copy(padded, spec)
		for i := n; i < fftSize; i++ {
			padded[i] = 0
		}
		fft.Coefficients(coeffs, padded)
		// The power spectrum is real and even, so feeding it back through
		// the inverse transform yields the circular autocovariance.
		for i, c := range coeffs {
			m := cmplx.Abs(c)
			power[i] = m * m
		}
		autocov := fft.Sequence(nil, realToComplex(power[:len(coeffs)]))
		zero := autocov[0]
		dst := acf[p*n : (p+1)*n]
		for i := range dst {
			dst[i] = autocov[i] / zero
		}
	}

	if minSub {
		min := math.Inf(1)
		for _, v := range acf {
			if v < min {
				min = v
			}
		}
		if !math.IsInf(min, 1) {
			for i := range acf {
				acf[i] -= min
			}
		}
	}

	// Second pass: per-pixel log-linear fit against lag index.
	slope = make([]float64, pixels)
	rSquared = make([]float64, pixels)
	total = pixels * stopIndex
	for p := 0; p < pixels; p++ {
		lags := acf[p*n : p*n+stopIndex]
		var sx, sy, sxx, sxy, syy float64
		count := 0
		for i, v := range lags {
			if !(v > 0) { // non-positive or NaN: log undefined
				excluded++
				continue
			}
			x := float64(i)
			y := math.Log(v)
			sx += x
			sy += y
			sxx += x * x
			sxy += x * y
			syy += y * y
			count++
		}
		if count < 2 {
			slope[p] = math.NaN()
			rSquared[p] = math.NaN()
			continue
		}
		fn := float64(count)
		covXY := sxy - sx*sy/fn
		varX := sxx - sx*sx/fn
		varY := syy - sy*sy/fn
		slope[p] = covXY / varX
		if varY == 0 {
			// A perfectly flat log-autocorrelation is a perfect fit to a
			// zero-slope line.
			rSquared[p] = 1
		} else {
			rSquared[p] = covXY * covXY / (varX * varY)
		}
	}
	return slope, rSquared, excluded, total
}

// realToComplex widens a real half-spectrum into Fourier coefficients with
// zero imaginary parts.
func realToComplex(x []float64) []complex128 {
	out := make([]complex128, len(x))
	for i, v := range x {
		out[i] = complex(v, 0)
	}
	return out
}

// opdSpectrum computes the optical path depth spectrum of every pixel: the
// magnitude of the Fourier transform of the (optionally Hann-windowed)
// detrended k-spectrum, truncated to the first stopIndex depth bins.
//
// The FFT size is four times the next power of two above the signal length,
// which interpolates the depth spectrum; the magnitude is divided by the
// signal length and power-normalized for the window so Parseval's theorem
// holds. The depth axis derives from the uniform wavenumber spacing: the
// maximum resolvable OPD is 2*pi/dk and the bin spacing follows the legacy
// MATLAB bookkeeping, preserved exactly because it sets the physical depth
// scale reported to the user.
func opdSpectrum(detrended *cube.KCube, useHann bool, stopIndex int) (opd []float64, opdValues []float64) {
	n := detrended.Bands()
	pixels := detrended.Pixels()

	fftSize := 2 * nextPow2(2*n-1)
	rfftLen := fftSize/2 + 1
	if stopIndex <= 0 || stopIndex > rfftLen {
		stopIndex = rfftLen
	}

	window := make([]float64, n)
	windowPower := 0.0
	for i := range window {
		if useHann {
			window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		} else {
			window[i] = 1
		}
		windowPower += window[i] * window[i]
	}
	// Correct for the power removed by the window so the area under the OPD
	// curve stays comparable across window choices.
	powerNorm := math.Sqrt(float64(n) / windowPower)

	fft := fourier.NewFFT(fftSize)
	padded := make([]float64, fftSize)
	coeffs := make([]complex128, rfftLen)

	opd = make([]float64, pixels*stopIndex)
	for p := 0; p < pixels; p++ {
		spec := detrended.Data[p*n : (p+1)*n]
		for i := 0; i < n; i++ {
			padded[i] = spec[i] * window[i]
		}
		for i := n; i < fftSize; i++ {
			padded[i] = 0
		}
		fft.Coefficients(coeffs, padded)
		dst := opd[p*stopIndex : (p+1)*stopIndex]
		for i := range dst {
			dst[i] = cmplx.Abs(coeffs[i]) / float64(n) * powerNorm
		}
	}

	dk := detrended.Wavenumbers[1] - detrended.Wavenumbers[0]
	maxOpd := 2 * math.Pi / dk
	dOpd := maxOpd / float64(n)
	opdValues = make([]float64, stopIndex)
	for i := range opdValues {
		opdValues[i] = float64(n) / 2 * float64(i) * dOpd / float64(rfftLen)
	}
	return opd, opdValues
}
