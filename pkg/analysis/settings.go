// Package analysis implements the numeric pipeline that turns a raw
// spectroscopic reflectance cube plus a reference cube into per-pixel
// physical quantities: reflectance, spectral RMS, autocorrelation decay
// slope, the optical path depth (OPD) spectrum and the derived structural
// length scale Ld.
//
// The pipeline is strictly linear and purely functional per cube:
// normalization -> zero-phase spectral filter -> k-space conversion ->
// polynomial detrending -> statistics extraction -> Ld estimation. Each
// stage consumes immutable inputs and produces new outputs; numeric edge
// cases propagate as NaN/Inf in the affected pixels and are surfaced as
// warnings, never as errors.
package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"pwscube/pkg/refdata"
)

// Settings is the immutable configuration record for one analysis. It
// round-trips losslessly through JSON with a fixed, validated field set:
// unknown or missing fields are rejected at load time.
type Settings struct {
	// FilterOrder and FilterCutoff configure the zero-phase Butterworth
	// low-pass applied along the spectral axis. The cutoff is in units of
	// 1/nm and is normalized against the Nyquist rate of the nominal
	// wavelength spacing (max-min)/(n-1), matching the legacy convention.
	FilterOrder  int     `json:"filterOrder"`
	FilterCutoff float64 `json:"filterCutoff"`

	// PolynomialOrder is the order of the per-pixel background polynomial
	// removed in k-space. Order 0 is plain mean subtraction.
	PolynomialOrder int `json:"polynomialOrder"`

	// ReferenceMaterial names the material imaged in the reference cube.
	// Empty means no material correction (theoretical reflectance of 1),
	// which also rules out stray-reflectance calibration.
	ReferenceMaterial refdata.Material `json:"referenceMaterial"`

	// WavelengthStart and WavelengthStop bound the spectral window (nm)
	// retained for k-space analysis.
	WavelengthStart float64 `json:"wavelengthStart"`
	WavelengthStop  float64 `json:"wavelengthStop"`

	// UseHannWindow applies a Hann window before the OPD transform to
	// suppress spectral leakage.
	UseHannWindow bool `json:"useHannWindow"`

	// AutoCorrStopIndex is the number of autocorrelation lags included in
	// the log-linear decay fit.
	AutoCorrStopIndex int `json:"autoCorrStopIndex"`

	// AutoCorrMinSub subtracts the global minimum from the autocorrelation
	// before taking the log. Mathematically dubious but needed when the
	// autocorrelation has negative values; kept for compatibility.
	AutoCorrMinSub bool `json:"autoCorrMinSub"`

	// ExtraReflectanceID identifies the stray-reflectance calibration cube
	// to subtract, or is empty to skip the correction.
	ExtraReflectanceID string `json:"extraReflectanceId"`
}

// settingsFields is the exact JSON field set a settings file must carry.
var settingsFields = []string{
	"filterOrder", "filterCutoff", "polynomialOrder", "referenceMaterial",
	"wavelengthStart", "wavelengthStop", "useHannWindow",
	"autoCorrStopIndex", "autoCorrMinSub", "extraReflectanceId",
}

// optionalSettingsFields may be absent from a settings file. autoCorrMinSub
// arrived after settings files were already in circulation, so older files
// lack it; absent means off.
var optionalSettingsFields = map[string]bool{"autoCorrMinSub": true}

// Validate checks the internal consistency of the settings. It returns the
// first violation found.
func (s Settings) Validate() error {
	switch {
	case s.FilterOrder < 1:
		return fmt.Errorf("analysis: filterOrder must be >= 1, got %d", s.FilterOrder)
	case s.FilterCutoff <= 0:
		return fmt.Errorf("analysis: filterCutoff must be positive, got %g", s.FilterCutoff)
	case s.PolynomialOrder < 0:
		return fmt.Errorf("analysis: polynomialOrder must be >= 0, got %d", s.PolynomialOrder)
	case s.WavelengthStart >= s.WavelengthStop:
		return fmt.Errorf("analysis: wavelength window [%g, %g] is empty", s.WavelengthStart, s.WavelengthStop)
	case s.AutoCorrStopIndex < 2:
		return fmt.Errorf("analysis: autoCorrStopIndex must be >= 2, got %d", s.AutoCorrStopIndex)
	case s.ExtraReflectanceID != "" && s.ReferenceMaterial == "":
		return fmt.Errorf("analysis: stray-reflectance correction requires a reference material")
	}
	return nil
}

// ToJSON returns the canonical serialized form of the settings. The same
// bytes feed both settings files and the results identity tag.
func (s Settings) ToJSON() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return json.MarshalIndent(s, "", "  ")
}

// SettingsFromJSON parses and validates a settings record. The field set is
// fixed: missing or unrecognized fields are errors so that stale or
// hand-mangled settings files fail loudly instead of silently defaulting.
// The one exception is autoCorrMinSub, which defaults to false when absent
// so that files written before the flag existed still load.
func SettingsFromJSON(data []byte) (Settings, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Settings{}, fmt.Errorf("analysis: malformed settings: %w", err)
	}
	want := make(map[string]bool, len(settingsFields))
	for _, f := range settingsFields {
		want[f] = true
	}
	var missing, unknown []string
	for _, f := range settingsFields {
		if _, ok := raw[f]; !ok && !optionalSettingsFields[f] {
			missing = append(missing, f)
		}
	}
	for f := range raw {
		if !want[f] {
			unknown = append(unknown, f)
		}
	}
	sort.Strings(unknown)
	if len(missing) > 0 {
		return Settings{}, fmt.Errorf("analysis: settings missing required fields %v", missing)
	}
	if len(unknown) > 0 {
		return Settings{}, fmt.Errorf("analysis: settings contain unrecognized fields %v", unknown)
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("analysis: malformed settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettings reads a settings file from disk.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("analysis: reading settings file: %w", err)
	}
	return SettingsFromJSON(data)
}

// SaveSettings writes the canonical serialized settings to disk.
func (s Settings) SaveSettings(path string) error {
	data, err := s.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("analysis: writing settings file: %w", err)
	}
	return nil
}
