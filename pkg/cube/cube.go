// Package cube defines the spectral image-cube data types shared by the
// analysis pipeline: the raw wavelength-indexed ImageCube, the resampled
// wavenumber-indexed KCube, and the Roi region mask.
//
// A cube is a 3-D array indexed (row, column, spectralIndex). Data is stored
// in a flat float64 slice with each pixel's spectrum contiguous:
// index = (y*Width + x)*Bands + i. This keeps every per-pixel spectral
// operation, which is where the pipeline spends its time, on contiguous
// memory.
package cube

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Metadata carries the acquisition information needed by the analysis
// pipeline. It is a subset of what acquisition software records; anything
// hardware specific (linearization tables, stage positions) stays outside
// this package.
type Metadata struct {
	// ExposureMs is the camera exposure time in milliseconds.
	ExposureMs float64

	// AcquiredAt is the acquisition timestamp.
	AcquiredAt time.Time

	// SystemID identifies the instrument that acquired the cube.
	SystemID string

	// DarkCounts is the per-pixel camera baseline to subtract before any
	// other processing.
	DarkCounts float64
}

// ImageCube is a wavelength-indexed reflectance measurement cube.
//
// Invariants: len(Wavelengths) == Bands, Wavelengths strictly increasing,
// len(Data) == Width*Height*Bands.
type ImageCube struct {
	Data        []float64
	Width       int
	Height      int
	Wavelengths []float64 // nm, strictly increasing
	Meta        Metadata
}

// New validates the cube invariants and wraps the provided storage.
// The data slice is not copied; the caller hands over ownership.
func New(data []float64, width, height int, wavelengths []float64, meta Metadata) (*ImageCube, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("cube: invalid spatial shape %dx%d", width, height)
	}
	if len(wavelengths) < 2 {
		return nil, fmt.Errorf("cube: need at least 2 wavelengths, got %d", len(wavelengths))
	}
	for i := 1; i < len(wavelengths); i++ {
		if wavelengths[i] <= wavelengths[i-1] {
			return nil, fmt.Errorf("cube: wavelength axis not strictly increasing at index %d (%.3f -> %.3f)",
				i, wavelengths[i-1], wavelengths[i])
		}
	}
	if want := width * height * len(wavelengths); len(data) != want {
		return nil, fmt.Errorf("cube: data length %d does not match %dx%dx%d", len(data), width, height, len(wavelengths))
	}
	return &ImageCube{Data: data, Width: width, Height: height, Wavelengths: wavelengths, Meta: meta}, nil
}

// Bands returns the length of the spectral axis.
func (c *ImageCube) Bands() int { return len(c.Wavelengths) }

// Pixels returns the number of spatial pixels.
func (c *ImageCube) Pixels() int { return c.Width * c.Height }

// Spectrum returns the spectrum of pixel (y, x) as a view into the cube's
// storage. Mutating the returned slice mutates the cube.
func (c *ImageCube) Spectrum(y, x int) []float64 {
	n := c.Bands()
	off := (y*c.Width + x) * n
	return c.Data[off : off+n]
}

// Clone returns a deep copy of the cube.
func (c *ImageCube) Clone() *ImageCube {
	data := make([]float64, len(c.Data))
	copy(data, c.Data)
	wl := make([]float64, len(c.Wavelengths))
	copy(wl, c.Wavelengths)
	return &ImageCube{Data: data, Width: c.Width, Height: c.Height, Wavelengths: wl, Meta: c.Meta}
}

// ShapeMatches reports whether the other cube has the same spatial and
// spectral shape.
func (c *ImageCube) ShapeMatches(other *ImageCube) bool {
	return c.Width == other.Width && c.Height == other.Height && c.Bands() == other.Bands()
}

// SelectWavelengthRange returns a copy of the cube restricted to bands with
// start <= wavelength <= stop. It fails if fewer than two bands survive.
func (c *ImageCube) SelectWavelengthRange(start, stop float64) (*ImageCube, error) {
	lo, hi := -1, -1
	for i, wl := range c.Wavelengths {
		if wl >= start && lo == -1 {
			lo = i
		}
		if wl <= stop {
			hi = i
		}
	}
	if lo == -1 || hi == -1 || hi-lo+1 < 2 {
		return nil, fmt.Errorf("cube: wavelength range [%.1f, %.1f] selects fewer than 2 of %d bands", start, stop, c.Bands())
	}
	nSel := hi - lo + 1
	wl := make([]float64, nSel)
	copy(wl, c.Wavelengths[lo:hi+1])
	data := make([]float64, c.Pixels()*nSel)
	n := c.Bands()
	for p := 0; p < c.Pixels(); p++ {
		copy(data[p*nSel:(p+1)*nSel], c.Data[p*n+lo:p*n+hi+1])
	}
	return &ImageCube{Data: data, Width: c.Width, Height: c.Height, Wavelengths: wl, Meta: c.Meta}, nil
}

// MeanMap returns the per-pixel mean over the spectral axis as a 2-D map in
// row-major order.
func (c *ImageCube) MeanMap() []float64 {
	n := c.Bands()
	out := make([]float64, c.Pixels())
	for p := range out {
		sum := 0.0
		for _, v := range c.Data[p*n : (p+1)*n] {
			sum += v
		}
		out[p] = sum / float64(n)
	}
	return out
}

// IdentityTag returns a stable content hash of the cube: dimensions,
// wavelength axis, metadata and raw sample values all contribute. Two cubes
// with the same tag hold identical measurements.
func (c *ImageCube) IdentityTag() string {
	h := sha256.New()
	var buf [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	writeU64(uint64(c.Width))
	writeU64(uint64(c.Height))
	writeU64(uint64(c.Bands()))
	for _, wl := range c.Wavelengths {
		writeU64(math.Float64bits(wl))
	}
	writeU64(math.Float64bits(c.Meta.ExposureMs))
	writeU64(math.Float64bits(c.Meta.DarkCounts))
	writeU64(uint64(c.Meta.AcquiredAt.UnixNano()))
	h.Write([]byte(c.Meta.SystemID))
	for _, v := range c.Data {
		writeU64(math.Float64bits(v))
	}
	return fmt.Sprintf("cube-%x", h.Sum(nil))
}
