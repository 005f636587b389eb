package analysis

import (
	"fmt"
	"math"

	"pwscube/pkg/cube"
)

// ExtraReflectance pairs a stray-reflectance calibration cube with the
// identifier it was measured under. The cube is in absolute reflectance
// units (0..1) on the same wavelength axis as the reference.
type ExtraReflectance struct {
	ID   string
	Cube *cube.ImageCube
}

// subtractDarkAndNormalizeExposure applies the first two normalization
// steps in place: the camera baseline comes off every sample (negative
// values are permitted and propagate) and the cube is scaled to counts/ms.
func subtractDarkAndNormalizeExposure(c *cube.ImageCube) error {
	if c.Meta.ExposureMs <= 0 {
		return fmt.Errorf("analysis: cube has non-positive exposure %g ms", c.Meta.ExposureMs)
	}
	dark := c.Meta.DarkCounts
	exp := c.Meta.ExposureMs
	for i, v := range c.Data {
		c.Data[i] = (v - dark) / exp
	}
	return nil
}

// strayContribution solves for the stray-reflection signal in the same
// counts/ms units as the prepared reference. The illumination intensity is
// reconstructed from the assumption ref = I0*(theoryR + strayR):
//
//	I0 = refData / (theoryR + strayR)
//	strayContribution = strayR * I0
//
// The returned cube is subtracted from both the reference and every sample.
func strayContribution(ref *cube.ImageCube, theoryR []float64, strayR *cube.ImageCube) (*cube.ImageCube, error) {
	if !ref.ShapeMatches(strayR) {
		return nil, fmt.Errorf("analysis: stray-reflectance cube shape %dx%dx%d does not match reference %dx%dx%d",
			strayR.Width, strayR.Height, strayR.Bands(), ref.Width, ref.Height, ref.Bands())
	}
	out := ref.Clone()
	n := ref.Bands()
	for p := 0; p < ref.Pixels(); p++ {
		refSpec := ref.Data[p*n : (p+1)*n]
		straySpec := strayR.Data[p*n : (p+1)*n]
		outSpec := out.Data[p*n : (p+1)*n]
		for i := 0; i < n; i++ {
			i0 := refSpec[i] / (theoryR[i] + straySpec[i])
			outSpec[i] = straySpec[i] * i0
		}
	}
	return out, nil
}

// subtractCube subtracts b from a elementwise, in place on a.
func subtractCube(a, b *cube.ImageCube) {
	for i := range a.Data {
		a.Data[i] -= b.Data[i]
	}
}

// divideByTheory divides every pixel's spectrum by the theoretical
// reference reflectance, in place. After this the reference is in units of
// counts/ms per unit reflectance, so normalizing a sample by it yields
// physical reflectance.
func divideByTheory(c *cube.ImageCube, theoryR []float64) {
	n := c.Bands()
	for p := 0; p < c.Pixels(); p++ {
		spec := c.Data[p*n : (p+1)*n]
		for i := 0; i < n; i++ {
			spec[i] /= theoryR[i]
		}
	}
}

// normalizeByReference divides the sample by the prepared reference
// wavelength-by-wavelength, in place on the sample. Non-positive reference
// values deliberately produce NaN/Inf in the affected pixels rather than an
// error; downstream masking deals with them.
func normalizeByReference(sample, ref *cube.ImageCube) {
	for i := range sample.Data {
		sample.Data[i] /= ref.Data[i]
	}
}

// countNonFinite reports how many values in the cube are NaN or Inf.
// The normalization stage uses it to attach a warning when a reference with
// non-positive pixels poisoned part of the result.
func countNonFinite(c *cube.ImageCube) int {
	bad := 0
	for _, v := range c.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			bad++
		}
	}
	return bad
}
