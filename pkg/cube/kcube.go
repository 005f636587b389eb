package cube

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// KCube is an ImageCube resampled onto a uniformly spaced wavenumber axis.
// Wavenumbers are in radians/micron and strictly increasing; the uniform
// spacing is what makes Fourier-domain work downstream meaningful.
//
// A KCube is owned by the pipeline invocation that created it and is never
// mutated after the detrending stage hands it to the results bundle.
type KCube struct {
	Data        []float64 // same (y, x, k) layout as ImageCube
	Width       int
	Height      int
	Wavenumbers []float64 // rad/um, uniform, strictly increasing
}

// FromImageCube converts a wavelength-indexed cube to k-space. Each retained
// wavelength lambda maps to k = 2*pi/lambda (lambda in microns). Because k is
// a nonlinear function of lambda the per-pixel spectra are resampled onto a
// uniform k axis spanning [k(stop), k(start)] with monotone piecewise-linear
// interpolation. The source wavelength order flips: the longest wavelength
// becomes the smallest wavenumber.
func FromImageCube(c *ImageCube) (*KCube, error) {
	n := c.Bands()
	if n < 2 {
		return nil, fmt.Errorf("cube: cannot convert %d-band cube to k-space", n)
	}

	// Wavenumbers for the reversed wavelength axis, ascending. Wavelengths
	// are nm so divide by 1e3 for rad/um.
	wn := make([]float64, n)
	for i, wl := range c.Wavelengths {
		wn[n-1-i] = 2 * math.Pi / (wl * 1e-3)
	}

	// Uniform target axis over the same span.
	even := make([]float64, n)
	dk := (wn[n-1] - wn[0]) / float64(n-1)
	for i := range even {
		even[i] = wn[0] + float64(i)*dk
	}
	even[n-1] = wn[n-1] // avoid accumulation drift at the endpoint

	data := make([]float64, len(c.Data))
	rev := make([]float64, n)
	var pl interp.PiecewiseLinear
	for p := 0; p < c.Pixels(); p++ {
		spec := c.Data[p*n : (p+1)*n]
		for i := range rev {
			rev[i] = spec[n-1-i]
		}
		if err := pl.Fit(wn, rev); err != nil {
			return nil, fmt.Errorf("cube: k-space interpolation failed: %w", err)
		}
		out := data[p*n : (p+1)*n]
		for i, k := range even {
			out[i] = pl.Predict(k)
		}
	}
	return &KCube{Data: data, Width: c.Width, Height: c.Height, Wavenumbers: even}, nil
}

// Bands returns the length of the wavenumber axis.
func (k *KCube) Bands() int { return len(k.Wavenumbers) }

// Pixels returns the number of spatial pixels.
func (k *KCube) Pixels() int { return k.Width * k.Height }

// Spectrum returns the k-spectrum of pixel (y, x) as a view into the cube's
// storage.
func (k *KCube) Spectrum(y, x int) []float64 {
	n := k.Bands()
	off := (y*k.Width + x) * n
	return k.Data[off : off+n]
}

// Clone returns a deep copy of the cube.
func (k *KCube) Clone() *KCube {
	data := make([]float64, len(k.Data))
	copy(data, k.Data)
	wn := make([]float64, len(k.Wavenumbers))
	copy(wn, k.Wavenumbers)
	return &KCube{Data: data, Width: k.Width, Height: k.Height, Wavenumbers: wn}
}

// MeanSpectrum averages the spectra of all pixels selected by mask. A nil
// mask selects every pixel. Fails on mask shape mismatch or an empty
// selection.
func (k *KCube) MeanSpectrum(mask []bool) ([]float64, error) {
	if mask != nil && len(mask) != k.Pixels() {
		return nil, fmt.Errorf("cube: mask length %d does not match %d pixels", len(mask), k.Pixels())
	}
	n := k.Bands()
	sum := make([]float64, n)
	count := 0
	for p := 0; p < k.Pixels(); p++ {
		if mask != nil && !mask[p] {
			continue
		}
		spec := k.Data[p*n : (p+1)*n]
		for i, v := range spec {
			sum[i] += v
		}
		count++
	}
	if count == 0 {
		return nil, fmt.Errorf("cube: mean spectrum of empty selection")
	}
	for i := range sum {
		sum[i] /= float64(count)
	}
	return sum, nil
}
