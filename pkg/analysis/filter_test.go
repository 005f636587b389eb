package analysis

import (
	"math"
	"testing"

	"pwscube/pkg/cube"
)

// makeImageCube builds an ImageCube on a uniform wavelength axis with every
// pixel's spectrum generated by fn(pixel, band).
func makeImageCube(t *testing.T, width, height int, wavelengths []float64, fn func(p, i int) float64) *cube.ImageCube {
	t.Helper()
	data := make([]float64, width*height*len(wavelengths))
	for p := 0; p < width*height; p++ {
		for i := range wavelengths {
			data[p*len(wavelengths)+i] = fn(p, i)
		}
	}
	c, err := cube.New(data, width, height, wavelengths, cube.Metadata{ExposureMs: 100})
	if err != nil {
		t.Fatalf("building test cube: %v", err)
	}
	return c
}

func uniformWavelengths(start, step float64, n int) []float64 {
	wl := make([]float64, n)
	for i := range wl {
		wl[i] = start + float64(i)*step
	}
	return wl
}

func TestSpectralFilterPreservesConstant(t *testing.T) {
	wl := uniformWavelengths(500, 2, 101)
	c := makeImageCube(t, 2, 2, wl, func(p, i int) float64 { return 3.5 })

	f, err := newSpectralFilter(2, 0.1, wl)
	if err != nil {
		t.Fatalf("newSpectralFilter failed: %v", err)
	}
	if err := f.apply(c); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	for i, v := range c.Data {
		if math.Abs(v-3.5) > 1e-9 {
			t.Fatalf("Data[%d] = %g after filtering a constant, want 3.5", i, v)
		}
	}
}

func TestSpectralFilterPassbandAndStopband(t *testing.T) {
	// Nominal spacing 2 nm puts the Nyquist rate at 0.25 /nm, so a cutoff of
	// 0.1 /nm passes a 0.01 /nm oscillation nearly unchanged and crushes one
	// at 0.2 /nm.
	wl := uniformWavelengths(500, 2, 151)
	slow := makeImageCube(t, 1, 1, wl, func(p, i int) float64 {
		return math.Sin(2 * math.Pi * 0.01 * wl[i])
	})
	fast := makeImageCube(t, 1, 1, wl, func(p, i int) float64 {
		return math.Sin(2 * math.Pi * 0.2 * wl[i])
	})

	f, err := newSpectralFilter(4, 0.1, wl)
	if err != nil {
		t.Fatalf("newSpectralFilter failed: %v", err)
	}
	slowIn := append([]float64(nil), slow.Data...)
	if err := f.apply(slow); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if err := f.apply(fast); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	// Zero phase: the passband signal must line up with the input sample by
	// sample, not just in amplitude.
	for i := range slowIn {
		if math.Abs(slow.Data[i]-slowIn[i]) > 0.05 {
			t.Fatalf("passband sample %d moved from %g to %g", i, slowIn[i], slow.Data[i])
		}
	}
	var maxFast float64
	for _, v := range fast.Data {
		if a := math.Abs(v); a > maxFast {
			maxFast = a
		}
	}
	if maxFast > 0.05 {
		t.Errorf("stopband amplitude %g after filtering, want < 0.05", maxFast)
	}
}

func TestSpectralFilterRejectsCutoffAboveNyquist(t *testing.T) {
	wl := uniformWavelengths(500, 2, 51)
	if _, err := newSpectralFilter(2, 0.3, wl); err == nil {
		t.Fatal("expected error for cutoff above the Nyquist rate, got nil")
	}
}

func TestSpectralFilterRejectsShortSpectrum(t *testing.T) {
	wl := uniformWavelengths(500, 2, 10)
	c := makeImageCube(t, 1, 1, wl, func(p, i int) float64 { return 1 })
	f, err := newSpectralFilter(4, 0.1, wl)
	if err != nil {
		t.Fatalf("newSpectralFilter failed: %v", err)
	}
	if err := f.apply(c); err == nil {
		t.Fatal("expected error for spectrum shorter than the reflection pad, got nil")
	}
}

func TestSpectralFilterPadLength(t *testing.T) {
	// The reflection pad is 3 * max(len(a), len(b)) = 3 * (order + 1)
	// samples; an order-1 filter pads by 6, so 6 samples are too few and 7
	// are enough.
	short := uniformWavelengths(500, 2, 6)
	c := makeImageCube(t, 1, 1, short, func(p, i int) float64 { return 1 })
	f, err := newSpectralFilter(1, 0.1, short)
	if err != nil {
		t.Fatalf("newSpectralFilter failed: %v", err)
	}
	if f.padLen != 6 {
		t.Fatalf("padLen = %d for order 1, want 6", f.padLen)
	}
	if err := f.apply(c); err == nil {
		t.Fatal("expected error for a 6-sample spectrum against a 6-sample pad, got nil")
	}

	ok := uniformWavelengths(500, 2, 7)
	c = makeImageCube(t, 1, 1, ok, func(p, i int) float64 { return 1 })
	f, err = newSpectralFilter(1, 0.1, ok)
	if err != nil {
		t.Fatalf("newSpectralFilter failed: %v", err)
	}
	if err := f.apply(c); err != nil {
		t.Fatalf("apply failed on a 7-sample spectrum: %v", err)
	}
}
