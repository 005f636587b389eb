package analysis

import "math"

// Empirical constants of the structural length-scale model. The refractive
// index is that of the intracellular medium, the center wavelength is the
// fixed reference for k0, and A1/A2 were fit against simulated media.
const (
	ldMediumIndex      = 1.38
	ldCenterWavelength = 0.55 // um
	ldA1               = 0.008
	ldA2               = 4.0
)

// calculateLd maps per-pixel RMS and autocorrelation decay slope to the
// structural length scale Ld:
//
//	Ld = (A2/A1) * (n^2 / (2*k0^2)) * (sigma / -m)
//
// The model is only defined for decaying autocorrelations; pixels with
// slope >= 0 (or NaN inputs) yield NaN rather than an error.
func calculateLd(rms, slope []float64) []float64 {
	k0 := 2 * math.Pi / ldCenterWavelength
	fact := ldMediumIndex * ldMediumIndex / (2 * k0 * k0)
	scale := ldA2 / ldA1 * fact

	ld := make([]float64, len(rms))
	for i := range ld {
		m := slope[i]
		if !(m < 0) {
			ld[i] = math.NaN()
			continue
		}
		ld[i] = scale * rms[i] / -m
	}
	return ld
}
