// Package refdata supplies tabulated complex refractive indices and
// theoretical interface reflectance curves for the materials commonly used
// as normalization references in spectroscopic reflectance microscopy.
//
// The tables are static and read-only. A Service is constructed once at
// process start and passed by reference to every consumer, so there is no
// hidden package-level state and the data can be swapped out in tests.
package refdata

import (
	"fmt"
	"math/cmplx"
	"sort"
)

// Material identifies one of the tabulated reference materials.
type Material string

const (
	Glass   Material = "Glass"
	Water   Material = "Water"
	Air     Material = "Air"
	Silicon Material = "Silicon"
	ITO     Material = "ITO"
)

// dispersionPoint is a single row of a material table: the real and imaginary
// parts of the refractive index at one wavelength.
type dispersionPoint struct {
	wavelength float64 // nm
	n          float64
	k          float64
}

// Service provides interpolated refractive-index and reflectance lookups.
type Service struct {
	tables map[Material][]dispersionPoint
}

// NewService returns a Service backed by the built-in dispersion tables.
func NewService() *Service {
	return &Service{tables: builtinTables()}
}

// Materials returns the names of all tabulated materials in a stable order.
func (s *Service) Materials() []Material {
	mats := make([]Material, 0, len(s.tables))
	for m := range s.tables {
		mats = append(mats, m)
	}
	sort.Slice(mats, func(i, j int) bool { return mats[i] < mats[j] })
	return mats
}

// RefractiveIndex returns the complex refractive index of the material
// linearly interpolated to each of the requested wavelengths (nm).
// Wavelengths outside the tabulated range are an error since extrapolated
// dispersion data is not trustworthy.
func (s *Service) RefractiveIndex(m Material, wavelengths []float64) ([]complex128, error) {
	table, ok := s.tables[m]
	if !ok {
		return nil, fmt.Errorf("refdata: unknown material %q", m)
	}
	out := make([]complex128, len(wavelengths))
	lo, hi := table[0].wavelength, table[len(table)-1].wavelength
	for i, wl := range wavelengths {
		if wl < lo || wl > hi {
			return nil, fmt.Errorf("refdata: wavelength %.1f nm outside tabulated range [%.1f, %.1f] for %q", wl, lo, hi, m)
		}
		// Find the bracketing table rows.
		j := sort.Search(len(table), func(j int) bool { return table[j].wavelength >= wl })
		if table[j].wavelength == wl {
			out[i] = complex(table[j].n, table[j].k)
			continue
		}
		a, b := table[j-1], table[j]
		t := (wl - a.wavelength) / (b.wavelength - a.wavelength)
		out[i] = complex(a.n+t*(b.n-a.n), a.k+t*(b.k-a.k))
	}
	return out, nil
}

// Reflectance returns the theoretical normal-incidence reflectance of a
// mat1/mat2 interface at each of the requested wavelengths (nm). This is the
// Fresnel intensity reflection coefficient |n1-n2|^2 / |n1+n2|^2, in
// absolute units between 0 and 1.
func (s *Service) Reflectance(mat1, mat2 Material, wavelengths []float64) ([]float64, error) {
	n1, err := s.RefractiveIndex(mat1, wavelengths)
	if err != nil {
		return nil, err
	}
	n2, err := s.RefractiveIndex(mat2, wavelengths)
	if err != nil {
		return nil, err
	}
	r := make([]float64, len(wavelengths))
	for i := range r {
		amp := (n1[i] - n2[i]) / (n1[i] + n2[i])
		mag := cmplx.Abs(amp)
		r[i] = mag * mag
	}
	return r, nil
}

// builtinTables holds coarse dispersion tables over the visible/NIR window
// used by this instrument class (400-1000 nm). Values are from the standard
// published datasets for each material (N-BK7 for glass, Daimon for water,
// Ciddor for air, Aspnes for silicon, Koenig for ITO), decimated to the
// density needed for linear interpolation at the instrument's spectral
// resolution.
func builtinTables() map[Material][]dispersionPoint {
	return map[Material][]dispersionPoint{
		Glass: {
			{400, 1.5308, 0}, {450, 1.5253, 0}, {500, 1.5214, 0},
			{550, 1.5185, 0}, {600, 1.5163, 0}, {650, 1.5145, 0},
			{700, 1.5131, 0}, {750, 1.5119, 0}, {800, 1.5108, 0},
			{850, 1.5099, 0}, {900, 1.5090, 0}, {950, 1.5082, 0},
			{1000, 1.5075, 0},
		},
		Water: {
			{400, 1.3390, 0}, {450, 1.3369, 0}, {500, 1.3350, 0},
			{550, 1.3333, 0}, {600, 1.3320, 0}, {650, 1.3310, 0},
			{700, 1.3300, 0}, {750, 1.3289, 0}, {800, 1.3280, 0},
			{850, 1.3270, 0}, {900, 1.3260, 0}, {950, 1.3255, 0},
			{1000, 1.3250, 0},
		},
		Air: {
			{400, 1.000283, 0}, {550, 1.000278, 0}, {700, 1.000276, 0},
			{850, 1.000275, 0}, {1000, 1.000274, 0},
		},
		Silicon: {
			{400, 5.570, 0.387}, {450, 4.670, 0.148}, {500, 4.293, 0.045},
			{550, 4.080, 0.028}, {600, 3.940, 0.017}, {650, 3.844, 0.012},
			{700, 3.774, 0.008}, {750, 3.726, 0.006}, {800, 3.689, 0.005},
			{850, 3.660, 0.004}, {900, 3.635, 0.003}, {950, 3.614, 0.002},
			{1000, 3.575, 0.002},
		},
		ITO: {
			{400, 2.100, 0.006}, {500, 1.980, 0.008}, {600, 1.890, 0.010},
			{700, 1.810, 0.020}, {800, 1.740, 0.040}, {900, 1.660, 0.060},
			{1000, 1.580, 0.090},
		},
	}
}
