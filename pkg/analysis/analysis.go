package analysis

import (
	"fmt"
	"time"

	"pwscube/pkg/cube"
	"pwscube/pkg/refdata"
)

// defaultOpdStopIndex truncates the OPD spectrum to the depth range that is
// physically meaningful for cell imaging. A holdover from the original
// instrument software; depth bins beyond it are pure leakage.
const defaultOpdStopIndex = 100

// Analysis holds a prepared reference and settings so that many sample
// cubes can be run against the same (reference, settings) pair. Reference
// preparation is done once in New; Run is purely functional over its input
// and safe to call concurrently from multiple workers.
type Analysis struct {
	settings Settings

	// ref is the reference cube after dark subtraction, exposure
	// normalization, stray-reflectance subtraction and division by the
	// theoretical material reflectance. Read-only after New.
	ref    *cube.ImageCube
	refTag string

	// stray is the stray-reflection contribution in counts/ms, subtracted
	// from every sample before normalization. Nil when no calibration was
	// supplied.
	stray    *cube.ImageCube
	strayTag string

	initWarnings []Warning
}

// New prepares an analysis for the given settings and raw reference cube.
// The reference is not mutated. refSvc supplies the theoretical reflectance
// of the configured reference material; extra optionally carries the
// stray-reflectance calibration named by the settings.
func New(settings Settings, ref *cube.ImageCube, refSvc *refdata.Service, extra *ExtraReflectance) (*Analysis, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	a := &Analysis{settings: settings, refTag: ref.IdentityTag()}

	prepared := ref.Clone()
	if err := subtractDarkAndNormalizeExposure(prepared); err != nil {
		return nil, fmt.Errorf("analysis: preparing reference: %w", err)
	}

	theoryR := make([]float64, ref.Bands())
	if settings.ReferenceMaterial == "" {
		// Without a material the theoretical reflectance is taken as unity,
		// which leaves results in relative rather than physical units.
		for i := range theoryR {
			theoryR[i] = 1
		}
		a.initWarnings = append(a.initWarnings, Warning{
			Short: "No reference material",
			Long:  "Analysis is ignoring the reference material correction; results are in relative units.",
		})
		if extra != nil {
			return nil, fmt.Errorf("analysis: stray-reflectance calibration requires the theoretical reflectance of a reference material")
		}
	} else {
		var err error
		theoryR, err = refSvc.Reflectance(settings.ReferenceMaterial, refdata.Glass, ref.Wavelengths)
		if err != nil {
			return nil, fmt.Errorf("analysis: reference material reflectance: %w", err)
		}
	}

	switch {
	case extra != nil:
		if settings.ExtraReflectanceID != "" && extra.ID != settings.ExtraReflectanceID {
			return nil, fmt.Errorf("analysis: stray-reflectance calibration %q does not match settings id %q",
				extra.ID, settings.ExtraReflectanceID)
		}
		stray, err := strayContribution(prepared, theoryR, extra.Cube)
		if err != nil {
			return nil, err
		}
		subtractCube(prepared, stray)
		a.stray = stray
		a.strayTag = extra.ID
	case settings.ExtraReflectanceID != "":
		a.initWarnings = append(a.initWarnings, Warning{
			Short: "Stray reflectance not applied",
			Long:  fmt.Sprintf("Settings name stray-reflectance calibration %q but no calibration cube was supplied.", settings.ExtraReflectanceID),
		})
	}

	divideByTheory(prepared, theoryR)
	a.ref = prepared
	return a, nil
}

// Settings returns the configuration this analysis runs with.
func (a *Analysis) Settings() Settings { return a.settings }

// ReferenceIDTag returns the identity tag of the raw reference cube.
func (a *Analysis) ReferenceIDTag() string { return a.refTag }

// Run executes the full pipeline on one sample cube and returns the
// immutable results bundle. Numeric edge cases (non-positive reference
// pixels, undefined logarithms, non-decaying autocorrelations) propagate as
// NaN/Inf and come back as warnings; only input-validation problems return
// an error.
func (a *Analysis) Run(sample *cube.ImageCube) (*Results, error) {
	if !sample.ShapeMatches(a.ref) {
		return nil, fmt.Errorf("analysis: sample shape %dx%dx%d does not match reference %dx%dx%d",
			sample.Width, sample.Height, sample.Bands(), a.ref.Width, a.ref.Height, a.ref.Bands())
	}
	for i, wl := range sample.Wavelengths {
		if wl != a.ref.Wavelengths[i] {
			return nil, fmt.Errorf("analysis: sample wavelength axis diverges from reference at band %d (%.3f vs %.3f)",
				i, wl, a.ref.Wavelengths[i])
		}
	}

	cubeTag := sample.IdentityTag()
	idTag, err := ResultsIdentityTag(cubeTag, a.refTag, a.settings)
	if err != nil {
		return nil, err
	}

	warns := append([]Warning{}, a.initWarnings...)

	// Normalization: dark counts, exposure, stray reflection, reference.
	norm := sample.Clone()
	if err := subtractDarkAndNormalizeExposure(norm); err != nil {
		return nil, err
	}
	if a.stray != nil {
		subtractCube(norm, a.stray)
	}
	normalizeByReference(norm, a.ref)
	if bad := countNonFinite(norm); bad > 0 {
		warns = append(warns, Warning{
			Short: "Non-finite reflectance",
			Long:  fmt.Sprintf("%d of %d reflectance samples are NaN/Inf after reference normalization, likely from non-positive reference pixels.", bad, len(norm.Data)),
		})
	}

	// Zero-phase spectral smoothing over the full measured axis.
	filt, err := newSpectralFilter(a.settings.FilterOrder, a.settings.FilterCutoff, norm.Wavelengths)
	if err != nil {
		return nil, err
	}
	if err := filt.apply(norm); err != nil {
		return nil, err
	}

	// Everything below operates on the configured spectral window.
	sel, err := norm.SelectWavelengthRange(a.settings.WavelengthStart, a.settings.WavelengthStop)
	if err != nil {
		return nil, err
	}
	meanReflectance := sel.MeanMap()

	k, err := cube.FromImageCube(sel)
	if err != nil {
		return nil, err
	}
	detrended, poly, err := detrendPolynomial(k, a.settings.PolynomialOrder)
	if err != nil {
		return nil, err
	}

	rms := stdMap(detrended)
	rmsPoly := stdMap(poly)

	slope, rSquared, excluded, totalLags := autocorrDecay(detrended, a.settings.AutoCorrMinSub, a.settings.AutoCorrStopIndex)
	if w := CheckAutoCorrExclusions(excluded, totalLags); w != nil {
		warns = append(warns, *w)
	}
	if w := CheckRSquared(rSquared); w != nil {
		warns = append(warns, *w)
	}

	opd, opdValues := opdSpectrum(detrended, a.settings.UseHannWindow, defaultOpdStopIndex)
	ld := calculateLd(rms, slope)

	return &Results{
		MeanReflectance:       meanReflectance,
		RMS:                   rms,
		PolynomialRMS:         rmsPoly,
		AutoCorrelationSlope:  slope,
		RSquared:              rSquared,
		Ld:                    ld,
		Opd:                   opd,
		OpdValues:             opdValues,
		OpdStop:               len(opdValues),
		Reflectance:           detrended,
		Width:                 sample.Width,
		Height:                sample.Height,
		Settings:              a.settings,
		CubeIDTag:             cubeTag,
		ReferenceIDTag:        a.refTag,
		ExtraReflectanceIDTag: a.strayTag,
		IDTag:                 idTag,
		Warnings:              warns,
		CreatedAt:             time.Now(),
	}, nil
}
