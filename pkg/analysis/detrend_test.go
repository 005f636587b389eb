package analysis

import (
	"math"
	"testing"
)

func TestDetrendOrderZeroIsMeanSubtraction(t *testing.T) {
	k := makeKCube(2, 2, 16, 9.0, 0.1, func(p, i int) float64 {
		return float64(p+1) + 0.5*float64(i)
	})

	detrended, poly, err := detrendPolynomial(k, 0)
	if err != nil {
		t.Fatalf("detrendPolynomial failed: %v", err)
	}

	n := k.Bands()
	for p := 0; p < k.Pixels(); p++ {
		spec := k.Data[p*n : (p+1)*n]
		mean := 0.0
		for _, v := range spec {
			mean += v
		}
		mean /= float64(n)
		for i := 0; i < n; i++ {
			if math.Abs(poly.Data[p*n+i]-mean) > 1e-10 {
				t.Fatalf("pixel %d band %d: order-0 fit = %g, want mean %g", p, i, poly.Data[p*n+i], mean)
			}
			if math.Abs(detrended.Data[p*n+i]-(spec[i]-mean)) > 1e-10 {
				t.Fatalf("pixel %d band %d: detrended = %g, want %g", p, i, detrended.Data[p*n+i], spec[i]-mean)
			}
		}
	}
}

func TestDetrendRemovesExactPolynomial(t *testing.T) {
	// A spectrum that is itself a quadratic in k must detrend to zero at
	// order 2 and reappear unchanged in the fitted-polynomial cube.
	k := makeKCube(3, 1, 32, 9.0, 0.1, func(p, i int) float64 {
		x := 9.0 + float64(i)*0.1
		return 2.0 + 0.3*x - 0.05*x*x + float64(p)
	})

	detrended, poly, err := detrendPolynomial(k, 2)
	if err != nil {
		t.Fatalf("detrendPolynomial failed: %v", err)
	}
	for i, v := range detrended.Data {
		if math.Abs(v) > 1e-9 {
			t.Fatalf("detrended[%d] = %g, want 0 for an exactly quadratic spectrum", i, v)
		}
	}
	for i, v := range poly.Data {
		if math.Abs(v-k.Data[i]) > 1e-9 {
			t.Fatalf("poly[%d] = %g, want %g", i, v, k.Data[i])
		}
	}
}

func TestDetrendLeavesInputUntouched(t *testing.T) {
	k := makeKCube(2, 1, 16, 9.0, 0.1, func(p, i int) float64 { return float64(i * i) })
	before := append([]float64(nil), k.Data...)
	if _, _, err := detrendPolynomial(k, 1); err != nil {
		t.Fatalf("detrendPolynomial failed: %v", err)
	}
	for i := range before {
		if k.Data[i] != before[i] {
			t.Fatalf("input mutated at index %d", i)
		}
	}
}

func TestDetrendRejectsUnderdeterminedFit(t *testing.T) {
	k := makeKCube(1, 1, 4, 9.0, 0.1, func(p, i int) float64 { return 1 })
	if _, _, err := detrendPolynomial(k, 4); err == nil {
		t.Fatal("expected error for order 4 fit on 4 spectral samples, got nil")
	}
}
