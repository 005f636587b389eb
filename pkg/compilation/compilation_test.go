package compilation

import (
	"math"
	"testing"

	"pwscube/pkg/analysis"
	"pwscube/pkg/cube"
)

// fakeResults builds a 2x2 results bundle with hand-picked per-pixel maps.
func fakeResults() *analysis.Results {
	return &analysis.Results{
		MeanReflectance:      []float64{1, 2, 3, 4},
		RMS:                  []float64{0.1, 0.2, 0.3, 0.4},
		PolynomialRMS:        []float64{0.01, 0.02, 0.03, 0.04},
		AutoCorrelationSlope: []float64{-0.5, -0.6, 0.2, -0.7},
		RSquared:             []float64{0.95, 0.99, 0.97, 0.5},
		Ld:                   []float64{1.0, 2.0, math.NaN(), 3.0},
		Opd:                  []float64{1, 2, 3, 4, 5, 6, 7, 8},
		OpdValues:            []float64{0, 0.5},
		OpdStop:              2,
		Reflectance: &cube.KCube{
			Data:        []float64{1, 2, 3, 4, 5, 6, 7, 8},
			Width:       2,
			Height:      2,
			Wavenumbers: []float64{9.0, 9.1},
		},
		Width:  2,
		Height: 2,
		IDTag:  "analysis-123",
	}
}

func roiFromMask(t *testing.T, mask []bool) *cube.Roi {
	t.Helper()
	roi, err := cube.NewRoi("nucleus", 1, mask, 2, 2)
	if err != nil {
		t.Fatalf("NewRoi failed: %v", err)
	}
	return roi
}

func TestCompileMaskedMeans(t *testing.T) {
	res := fakeResults()
	c := New(All())

	// Top-left pixel only.
	topLeft, err := c.Run(res, roiFromMask(t, []bool{true, false, false, false}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := topLeft.Values[StatMeanReflectance]; got != 1.0 {
		t.Errorf("single-pixel mean reflectance = %g, want 1.0", got)
	}
	if topLeft.ResultsIDTag != "analysis-123" {
		t.Errorf("ResultsIDTag = %q, want %q", topLeft.ResultsIDTag, "analysis-123")
	}

	// The full mask reduces to the plain mean of each map.
	full, err := c.Run(res, roiFromMask(t, []bool{true, true, true, true}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := full.Values[StatMeanReflectance]; math.Abs(got-2.5) > 1e-12 {
		t.Errorf("full-mask mean reflectance = %g, want 2.5", got)
	}
	if got := full.Values[StatRMS]; math.Abs(got-0.25) > 1e-12 {
		t.Errorf("full-mask RMS = %g, want 0.25", got)
	}
	// NaN pixels are skipped, not propagated.
	if got := full.Values[StatLd]; math.Abs(got-2.0) > 1e-12 {
		t.Errorf("full-mask Ld = %g, want 2.0 (mean of the finite pixels)", got)
	}
}

func TestCompileSlopeCondition(t *testing.T) {
	res := fakeResults()
	c := New(Settings{AutoCorrelationSlope: true})

	// Pixel 2 has a positive slope and pixel 3 a poor fit; only pixels 0 and
	// 1 qualify for the average.
	out, err := c.Run(res, roiFromMask(t, []bool{true, true, true, true}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := out.Values[StatAutoCorrelationSlope]; math.Abs(got-(-0.55)) > 1e-12 {
		t.Errorf("conditioned slope mean = %g, want -0.55", got)
	}

	// A region with no qualifying pixels yields NaN plus a warning.
	out, err = c.Run(res, roiFromMask(t, []bool{false, false, true, false}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := out.Values[StatAutoCorrelationSlope]; !math.IsNaN(got) {
		t.Errorf("slope mean = %g for a region with no valid pixels, want NaN", got)
	}
	if !hasWarning(out.Warnings, "No valid slope pixels") {
		t.Error("expected a warning for a region with no valid slope pixels")
	}
}

func TestCompileEmptyRegion(t *testing.T) {
	res := fakeResults()
	c := New(Settings{MeanReflectance: true, RMS: true})

	out, err := c.Run(res, roiFromMask(t, []bool{false, false, false, false}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !hasWarning(out.Warnings, "Empty region") {
		t.Error("expected an empty-region warning")
	}
	for name, v := range out.Values {
		if !math.IsNaN(v) {
			t.Errorf("%s = %g for an empty region, want NaN", name, v)
		}
	}
}

func TestCompileShapeMismatch(t *testing.T) {
	res := fakeResults()
	roi, err := cube.NewRoi("nucleus", 1, make([]bool, 6), 3, 2)
	if err != nil {
		t.Fatalf("NewRoi failed: %v", err)
	}
	if _, err := New(All()).Run(res, roi); err == nil {
		t.Fatal("expected error for region shape mismatch, got nil")
	}
}

func TestCompileMissingStatisticErrors(t *testing.T) {
	res := fakeResults()
	res.Ld = nil
	_, err := New(Settings{Ld: true}).Run(res, roiFromMask(t, []bool{true, true, true, true}))
	if err == nil {
		t.Fatal("expected error for a statistic the analysis never computed, got nil")
	}
}

func TestCompileMeanSigmaRatioCorrelatedSpectra(t *testing.T) {
	// Two pixels with identical oscillating spectra: averaging them cancels
	// nothing, so the variance of the mean spectrum equals the mean squared
	// RMS, the ratio is 1 and far outside the expected band, which must
	// raise a warning.
	const bands = 32
	axis := make([]float64, bands)
	data := make([]float64, 2*bands)
	rms := 0.0
	for i := 0; i < bands; i++ {
		axis[i] = 9.0 + 0.1*float64(i)
		v := math.Sin(float64(i) / 2)
		data[i] = v
		data[bands+i] = v
	}
	mean := 0.0
	for i := 0; i < bands; i++ {
		mean += data[i]
	}
	mean /= bands
	for i := 0; i < bands; i++ {
		d := data[i] - mean
		rms += d * d
	}
	rms = math.Sqrt(rms / bands)

	res := &analysis.Results{
		RMS:         []float64{rms, rms},
		Reflectance: &cube.KCube{Data: data, Width: 2, Height: 1, Wavenumbers: axis},
		Width:       2,
		Height:      1,
	}
	roi, err := cube.NewRoi("cell", 1, []bool{true, true}, 2, 1)
	if err != nil {
		t.Fatalf("NewRoi failed: %v", err)
	}
	out, err := New(Settings{MeanSigmaRatio: true}).Run(res, roi)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	ratio := out.Values[StatMeanSigmaRatio]
	if math.Abs(ratio-1) > 1e-9 {
		t.Errorf("mean sigma ratio = %g for identical spectra, want 1", ratio)
	}
	if !hasWarning(out.Warnings, "Mean spectra ratio too high") {
		t.Error("expected a mean-spectra-ratio warning for fully correlated spectra")
	}
}

func TestCompileMeanSigmaRatioInBand(t *testing.T) {
	// Two hand-picked pixel spectra whose mean-spectrum variance over mean
	// squared RMS lands inside the expected [0.3, 0.4] band: the compiled
	// value is the variance ratio exactly and no ratio warning fires.
	//
	// Pixel spectra (1, -1) and (-0.15, 0.15) have population stds 1 and
	// 0.15; the mean spectrum (0.425, -0.425) has variance 0.180625 against
	// a mean squared RMS of (1 + 0.0225)/2 = 0.51125.
	res := &analysis.Results{
		RMS:         []float64{1, 0.15},
		Reflectance: &cube.KCube{Data: []float64{1, -1, -0.15, 0.15}, Width: 2, Height: 1, Wavenumbers: []float64{9.0, 9.1}},
		Width:       2,
		Height:      1,
	}
	roi, err := cube.NewRoi("cell", 1, []bool{true, true}, 2, 1)
	if err != nil {
		t.Fatalf("NewRoi failed: %v", err)
	}
	out, err := New(Settings{MeanSigmaRatio: true}).Run(res, roi)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := 0.180625 / 0.51125
	if got := out.Values[StatMeanSigmaRatio]; math.Abs(got-want) > 1e-12 {
		t.Errorf("mean sigma ratio = %g, want %g", got, want)
	}
	if len(out.Warnings) != 0 {
		t.Errorf("unexpected warnings for an in-band ratio: %v", out.Warnings)
	}
}

func TestCompileOpdSpectrum(t *testing.T) {
	res := fakeResults()
	c := New(Settings{Opd: true})

	// Top row: per-bin means of pixels 0 and 1.
	out, err := c.Run(res, roiFromMask(t, []bool{true, true, false, false}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []float64{2, 3}
	if len(out.Opd) != len(want) {
		t.Fatalf("region OPD spectrum has %d bins, want %d", len(out.Opd), len(want))
	}
	for i, v := range want {
		if math.Abs(out.Opd[i]-v) > 1e-12 {
			t.Errorf("OPD bin %d = %g, want %g", i, out.Opd[i], v)
		}
	}
	if len(out.OpdValues) != 2 || out.OpdValues[1] != 0.5 {
		t.Errorf("OPD depth axis = %v, want %v", out.OpdValues, res.OpdValues)
	}

	// An empty region yields NaN bins, consistent with the scalar statistics.
	out, err = c.Run(res, roiFromMask(t, []bool{false, false, false, false}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for i, v := range out.Opd {
		if !math.IsNaN(v) {
			t.Errorf("OPD bin %d = %g for an empty region, want NaN", i, v)
		}
	}

	// Requesting the spectrum from an analysis that never produced one is a
	// structural error.
	res.Opd = nil
	if _, err := c.Run(res, roiFromMask(t, []bool{true, true, true, true})); err == nil {
		t.Fatal("expected error when the analysis carries no OPD spectra, got nil")
	}
}

func hasWarning(warns []analysis.Warning, short string) bool {
	for _, w := range warns {
		if w.Short == short {
			return true
		}
	}
	return false
}
