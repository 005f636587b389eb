// Package storage persists analysis results and region masks as files inside
// an acquisition directory. Results and regions are addressed by name; names
// become part of the file name, so they are restricted to a safe character
// set. All numeric payloads are written little-endian behind a versioned
// JSON header so files stay readable across releases.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

var (
	// ErrNotFound reports that no stored item has the requested name.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyExists reports a save that would clobber an existing item
	// without the overwrite flag.
	ErrAlreadyExists = errors.New("storage: already exists")
)

// validateName rejects names that would escape the acquisition directory or
// collide with the file-name pattern.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("storage: empty name")
	}
	if strings.ContainsAny(name, "/\\_ ") {
		return fmt.Errorf("storage: name %q may not contain path separators, underscores or spaces", name)
	}
	return nil
}

// writeFloat64s writes a float64 slice as little-endian IEEE 754 words.
func writeFloat64s(w io.Writer, vals []float64) error {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	_, err := w.Write(buf)
	return err
}

// readFloat64s reads exactly n little-endian float64 words.
func readFloat64s(r io.Reader, n int) ([]float64, error) {
	buf := make([]byte, 8*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}
