package storage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"pwscube/pkg/analysis"
	"pwscube/pkg/cube"
	"pwscube/pkg/refdata"
)

func storedSettings() analysis.Settings {
	return analysis.Settings{
		FilterOrder:       2,
		FilterCutoff:      0.1,
		PolynomialOrder:   2,
		ReferenceMaterial: refdata.Water,
		WavelengthStart:   510,
		WavelengthStop:    690,
		UseHannWindow:     true,
		AutoCorrStopIndex: 8,
	}
}

// fakeResults builds a fully populated 2x2 results bundle, including NaN
// pixels, so round-trips exercise every payload array.
func fakeResults() *analysis.Results {
	const bands = 5
	refData := make([]float64, 4*bands)
	axis := make([]float64, bands)
	for i := range axis {
		axis[i] = 9.0 + 0.1*float64(i)
	}
	for i := range refData {
		refData[i] = float64(i) * 0.01
	}
	return &analysis.Results{
		MeanReflectance:      []float64{1, 2, 3, 4},
		RMS:                  []float64{0.1, 0.2, 0.3, 0.4},
		PolynomialRMS:        []float64{0.01, 0.02, 0.03, 0.04},
		AutoCorrelationSlope: []float64{-0.5, -0.6, math.NaN(), -0.7},
		RSquared:             []float64{0.95, 0.99, math.NaN(), 0.5},
		Ld:                   []float64{1, 2, math.NaN(), 3},
		Opd:                  []float64{1, 2, 3, 4, 5, 6, 7, 8},
		OpdValues:            []float64{0, 0.25},
		OpdStop:              2,
		Reflectance:          &cube.KCube{Data: refData, Width: 2, Height: 2, Wavenumbers: axis},
		Width:                2,
		Height:               2,
		Settings:             storedSettings(),
		CubeIDTag:            "cube-abc",
		ReferenceIDTag:       "cube-def",
		IDTag:                "analysis-123",
		Warnings:             []analysis.Warning{{Short: "R^2 too low", Long: "details"}},
		CreatedAt:            time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAnalysisStoreRoundTrip(t *testing.T) {
	store := NewAnalysisStore(t.TempDir())
	orig := fakeResults()

	if err := store.Save("p0", orig, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Load("p0")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(orig, got, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("results did not round-trip (-want +got):\n%s", diff)
	}
}

func TestAnalysisStoreRefusesOverwrite(t *testing.T) {
	store := NewAnalysisStore(t.TempDir())
	orig := fakeResults()
	if err := store.Save("p0", orig, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	err := store.Save("p0", orig, false)
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second Save error = %v, want ErrAlreadyExists", err)
	}

	changed := fakeResults()
	changed.MeanReflectance = []float64{9, 9, 9, 9}
	if err := store.Save("p0", changed, true); err != nil {
		t.Fatalf("overwriting Save failed: %v", err)
	}
	got, err := store.Load("p0")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(changed.MeanReflectance, got.MeanReflectance); diff != "" {
		t.Errorf("overwrite did not replace contents (-want +got):\n%s", diff)
	}
}

func TestAnalysisStoreMissing(t *testing.T) {
	store := NewAnalysisStore(t.TempDir())
	if _, err := store.Load("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load error = %v, want ErrNotFound", err)
	}
	if err := store.Delete("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete error = %v, want ErrNotFound", err)
	}
}

func TestAnalysisStoreList(t *testing.T) {
	store := NewAnalysisStore(t.TempDir())
	res := fakeResults()
	for _, name := range []string{"p0", "fine", "coarse"} {
		if err := store.Save(name, res, false); err != nil {
			t.Fatalf("Save %q failed: %v", name, err)
		}
	}
	names, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Strings(names)
	want := []string{"coarse", "fine", "p0"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("List (-want +got):\n%s", diff)
	}
}

func TestAnalysisStoreRejectsUnsafeNames(t *testing.T) {
	store := NewAnalysisStore(t.TempDir())
	res := fakeResults()
	for _, name := range []string{"", "a_b", "a/b", "a b"} {
		if err := store.Save(name, res, false); err == nil {
			t.Errorf("Save accepted unsafe name %q", name)
		}
	}
}

func TestImageCubeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	wl := []float64{500, 502, 504}
	data := make([]float64, 2*2*3)
	for i := range data {
		data[i] = float64(i) * 1.5
	}
	orig, err := cube.New(data, 2, 2, wl, cube.Metadata{
		ExposureMs: 100,
		AcquiredAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		SystemID:   "sys-2",
		DarkCounts: 2000,
	})
	if err != nil {
		t.Fatalf("building cube: %v", err)
	}

	path := filepath.Join(dir, CubeFileName)
	if err := SaveImageCube(path, orig); err != nil {
		t.Fatalf("SaveImageCube failed: %v", err)
	}
	got, err := DirLoader{}.LoadCube(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadCube failed: %v", err)
	}
	if diff := cmp.Diff(orig, got); diff != "" {
		t.Errorf("cube did not round-trip (-want +got):\n%s", diff)
	}
	if got.IdentityTag() != orig.IdentityTag() {
		t.Error("identity tag changed across a round-trip")
	}

	if _, err := (DirLoader{}).LoadCube(context.Background(), t.TempDir()); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadCube from empty directory = %v, want ErrNotFound", err)
	}
}

func rectRoi(t *testing.T, name string, number int) *cube.Roi {
	t.Helper()
	mask := make([]bool, 5*4)
	for y := 1; y < 3; y++ {
		for x := 1; x < 4; x++ {
			mask[y*5+x] = true
		}
	}
	roi, err := cube.NewRoi(name, number, mask, 5, 4)
	if err != nil {
		t.Fatalf("NewRoi failed: %v", err)
	}
	return roi
}

func TestRoiStoreRoundTrip(t *testing.T) {
	store := NewRoiStore(t.TempDir())
	orig := rectRoi(t, "nucleus", 1)
	orig.Verts = orig.TraceOutline()

	if err := store.Save(orig, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Load("nucleus", 1)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(orig, got); diff != "" {
		t.Errorf("region did not round-trip (-want +got):\n%s", diff)
	}
}

func TestRoiStoreTracesMissingOutline(t *testing.T) {
	store := NewRoiStore(t.TempDir())
	orig := rectRoi(t, "nucleus", 2) // saved without an outline
	if err := store.Save(orig, false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Load("nucleus", 2)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(orig.TraceOutline(), got.Verts); diff != "" {
		t.Errorf("outline was not traced on load (-want +got):\n%s", diff)
	}
}

func TestRoiStoreListAndDelete(t *testing.T) {
	store := NewRoiStore(t.TempDir())
	if err := store.Save(rectRoi(t, "nucleus", 1), false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(rectRoi(t, "cell", 7), false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	refs, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	want := []RoiRef{{Name: "cell", Number: 7}, {Name: "nucleus", Number: 1}}
	if diff := cmp.Diff(want, refs); diff != "" {
		t.Errorf("List (-want +got):\n%s", diff)
	}

	if err := store.Delete("cell", 7); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load("cell", 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after delete = %v, want ErrNotFound", err)
	}

	if err := store.Save(rectRoi(t, "nucleus", 1), false); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate Save error = %v, want ErrAlreadyExists", err)
	}
}
