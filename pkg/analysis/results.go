package analysis

import (
	"crypto/sha256"
	"fmt"
	"time"

	"pwscube/pkg/cube"
)

// Results is the immutable bundle of everything one pipeline run derives
// from a (cube, reference, settings) triple. It is created once, never
// mutated, and persisted keyed by its identity tag so identical triples are
// never recomputed.
type Results struct {
	// MeanReflectance is the per-pixel mean of the normalized reflectance
	// over the analyzed wavelength window.
	MeanReflectance []float64

	// RMS is the per-pixel standard deviation of the detrended k-spectrum.
	RMS []float64

	// PolynomialRMS is the per-pixel standard deviation of the fitted
	// background polynomial, capturing slow-trend magnitude.
	PolynomialRMS []float64

	// AutoCorrelationSlope and RSquared are the per-pixel decay slope of
	// the log-autocorrelation and the quality of its linear fit.
	AutoCorrelationSlope []float64
	RSquared             []float64

	// Ld is the derived structural length scale.
	Ld []float64

	// Opd is the per-pixel optical path depth spectrum, OpdStop bins per
	// pixel, with OpdValues as the shared depth axis in microns.
	Opd       []float64
	OpdValues []float64
	OpdStop   int

	// Reflectance is the detrended k-space reflectance cube the statistics
	// were extracted from; the compiler needs its spectra for the
	// mean-spectra consistency check.
	Reflectance *cube.KCube

	Width  int
	Height int

	// Settings the run was configured with.
	Settings Settings

	// CubeIDTag, ReferenceIDTag and ExtraReflectanceIDTag identify the
	// inputs; IDTag identifies the whole triple.
	CubeIDTag             string
	ReferenceIDTag        string
	ExtraReflectanceIDTag string
	IDTag                 string

	// Warnings carries every non-fatal abnormality seen during the run.
	Warnings []Warning

	// CreatedAt is the time the analysis completed.
	CreatedAt time.Time
}

// ResultsIdentityTag combines the sample identity, reference identity and
// canonical settings serialization into the content hash that keys result
// caching. Two runs share a tag exactly when recomputation would be
// redundant.
func ResultsIdentityTag(cubeTag, referenceTag string, settings Settings) (string, error) {
	canonical, err := settings.ToJSON()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(cubeTag))
	h.Write([]byte{0})
	h.Write([]byte(referenceTag))
	h.Write([]byte{0})
	h.Write(canonical)
	return fmt.Sprintf("analysis-%x", h.Sum(nil)), nil
}

// HasAdvanced reports whether the slope-derived statistics were computed.
func (r *Results) HasAdvanced() bool {
	return r.AutoCorrelationSlope != nil && r.RSquared != nil && r.Ld != nil
}
