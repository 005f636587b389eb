package cube

import (
	"fmt"
)

// Roi is a named region of interest over a cube's spatial extent: a boolean
// mask plus an optional polygon outline consistent with it. The Number field
// disambiguates multiple ROIs sharing one name. An Roi is immutable once
// saved to a store.
type Roi struct {
	Name   string
	Number int
	Mask   []bool // row-major, Width*Height
	Width  int
	Height int

	// Verts is the polygon outline of the mask as (x, y) pixel coordinates.
	// It may be nil for ROIs created programmatically from a mask alone;
	// TraceOutline recovers it.
	Verts [][2]float64
}

// NewRoi validates the mask shape and wraps it in an Roi.
func NewRoi(name string, number int, mask []bool, width, height int) (*Roi, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("cube: invalid roi shape %dx%d", width, height)
	}
	if len(mask) != width*height {
		return nil, fmt.Errorf("cube: roi mask length %d does not match %dx%d", len(mask), width, height)
	}
	return &Roi{Name: name, Number: number, Mask: mask, Width: width, Height: height}, nil
}

// PixelCount returns the number of selected pixels.
func (r *Roi) PixelCount() int {
	count := 0
	for _, m := range r.Mask {
		if m {
			count++
		}
	}
	return count
}

// TraceOutline computes the polygon outline of the mask by Moore-neighbor
// boundary following and stores it in Verts. Vertices are the centers of the
// boundary pixels in traversal order. An empty mask yields nil; an isolated
// pixel yields a single vertex.
func (r *Roi) TraceOutline() [][2]float64 {
	at := func(x, y int) bool {
		if x < 0 || y < 0 || x >= r.Width || y >= r.Height {
			return false
		}
		return r.Mask[y*r.Width+x]
	}

	// First foreground pixel in scan order is the trace start.
	startX, startY := -1, -1
	for y := 0; y < r.Height && startX == -1; y++ {
		for x := 0; x < r.Width; x++ {
			if at(x, y) {
				startX, startY = x, y
				break
			}
		}
	}
	if startX == -1 {
		r.Verts = nil
		return nil
	}

	// Clockwise Moore neighborhood starting due west.
	dirs := [8][2]int{{-1, 0}, {-1, -1}, {0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}}

	verts := [][2]float64{{float64(startX), float64(startY)}}
	cx, cy := startX, startY
	// The backtrack starts west of the start pixel, which is background by
	// construction of the scan order.
	prev := 0
	maxSteps := 4 * r.Width * r.Height
	for step := 0; step < maxSteps; step++ {
		found := -1
		for i := 0; i < 8; i++ {
			d := (prev + 1 + i) % 8
			nx, ny := cx+dirs[d][0], cy+dirs[d][1]
			if at(nx, ny) {
				found = d
				break
			}
		}
		if found == -1 {
			// Isolated pixel.
			break
		}
		cx, cy = cx+dirs[found][0], cy+dirs[found][1]
		if cx == startX && cy == startY {
			break
		}
		verts = append(verts, [2]float64{float64(cx), float64(cy)})
		// Re-enter the neighborhood from the pixel we came from.
		prev = (found + 4) % 8
	}
	r.Verts = verts
	return verts
}
