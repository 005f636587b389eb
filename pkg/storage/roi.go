package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pwscube/pkg/cube"
)

const (
	roiMagic   = "PWSM"
	roiVersion = 1

	roiPrefix = "roi_"
	roiSuffix = ".bin"
)

// RoiRef identifies one stored region without loading it.
type RoiRef struct {
	Name   string
	Number int
}

// RoiStore reads and writes region masks inside one acquisition directory.
// Each region is keyed by (name, number): the name groups regions drawn for
// the same structure and the number distinguishes instances.
type RoiStore struct {
	dir string
}

func NewRoiStore(dir string) *RoiStore {
	return &RoiStore{dir: dir}
}

func (s *RoiStore) path(name string, number int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%s_%d%s", roiPrefix, name, number, roiSuffix))
}

type roiHeader struct {
	Name      string `json:"name"`
	Number    int    `json:"number"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	VertCount int    `json:"vertCount"`
}

// Exists reports whether a region with the given key is stored.
func (s *RoiStore) Exists(name string, number int) bool {
	_, err := os.Stat(s.path(name, number))
	return err == nil
}

// List returns references to every stored region.
func (s *RoiStore) List() ([]RoiRef, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, roiPrefix+"*"+roiSuffix))
	if err != nil {
		return nil, fmt.Errorf("storage: listing regions: %w", err)
	}
	var refs []RoiRef
	for _, m := range matches {
		base := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), roiPrefix), roiSuffix)
		idx := strings.LastIndex(base, "_")
		if idx <= 0 {
			continue
		}
		number, err := strconv.Atoi(base[idx+1:])
		if err != nil {
			continue
		}
		refs = append(refs, RoiRef{Name: base[:idx], Number: number})
	}
	return refs, nil
}

// Save persists the region. Saving over an existing (name, number) fails
// with ErrAlreadyExists unless overwrite is set.
func (s *RoiStore) Save(roi *cube.Roi, overwrite bool) error {
	if err := validateName(roi.Name); err != nil {
		return err
	}
	if roi.Number < 0 {
		return fmt.Errorf("storage: region number %d must be >= 0", roi.Number)
	}
	if !overwrite && s.Exists(roi.Name, roi.Number) {
		return fmt.Errorf("storage: region %q #%d: %w", roi.Name, roi.Number, ErrAlreadyExists)
	}

	header, err := json.Marshal(roiHeader{
		Name:      roi.Name,
		Number:    roi.Number,
		Width:     roi.Width,
		Height:    roi.Height,
		VertCount: len(roi.Verts),
	})
	if err != nil {
		return fmt.Errorf("storage: encoding region header: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+roiPrefix+roi.Name+".tmp*")
	if err != nil {
		return fmt.Errorf("storage: creating region file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := writeRoiBody(w, header, roi); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: writing region %q #%d: %w", roi.Name, roi.Number, err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: writing region %q #%d: %w", roi.Name, roi.Number, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: writing region %q #%d: %w", roi.Name, roi.Number, err)
	}
	if err := os.Rename(tmp.Name(), s.path(roi.Name, roi.Number)); err != nil {
		return fmt.Errorf("storage: saving region %q #%d: %w", roi.Name, roi.Number, err)
	}
	return nil
}

func writeRoiBody(w *bufio.Writer, header []byte, roi *cube.Roi) error {
	if _, err := w.WriteString(roiMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(roiVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(header))); err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	maskBytes := make([]byte, len(roi.Mask))
	for i, in := range roi.Mask {
		if in {
			maskBytes[i] = 1
		}
	}
	if _, err := w.Write(maskBytes); err != nil {
		return err
	}
	verts := make([]float64, 0, 2*len(roi.Verts))
	for _, v := range roi.Verts {
		verts = append(verts, v[0], v[1])
	}
	return writeFloat64s(w, verts)
}

// Load reads a region by key. Files saved without an outline get one traced
// from the mask on the way in.
func (s *RoiStore) Load(name string, number int) (*cube.Roi, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(name, number))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage: region %q #%d: %w", name, number, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: opening region %q #%d: %w", name, number, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(roiMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("storage: reading region %q #%d: %w", name, number, err)
	}
	if !bytes.Equal(magic, []byte(roiMagic)) {
		return nil, fmt.Errorf("storage: %q is not a region file", s.path(name, number))
	}
	var version, headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("storage: reading region %q #%d: %w", name, number, err)
	}
	if version != roiVersion {
		return nil, fmt.Errorf("storage: region %q #%d has unsupported version %d", name, number, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("storage: reading region %q #%d: %w", name, number, err)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("storage: reading region %q #%d: %w", name, number, err)
	}
	var h roiHeader
	if err := json.Unmarshal(headerBytes, &h); err != nil {
		return nil, fmt.Errorf("storage: decoding region header: %w", err)
	}
	if h.Width <= 0 || h.Height <= 0 || h.VertCount < 0 {
		return nil, fmt.Errorf("storage: region %q #%d header has invalid dimensions", name, number)
	}

	maskBytes := make([]byte, h.Width*h.Height)
	if _, err := io.ReadFull(r, maskBytes); err != nil {
		return nil, fmt.Errorf("storage: reading region %q #%d mask: %w", name, number, err)
	}
	mask := make([]bool, len(maskBytes))
	for i, b := range maskBytes {
		mask[i] = b != 0
	}

	roi, err := cube.NewRoi(h.Name, h.Number, mask, h.Width, h.Height)
	if err != nil {
		return nil, fmt.Errorf("storage: region %q #%d: %w", name, number, err)
	}
	if h.VertCount > 0 {
		flat, err := readFloat64s(r, 2*h.VertCount)
		if err != nil {
			return nil, fmt.Errorf("storage: reading region %q #%d outline: %w", name, number, err)
		}
		verts := make([][2]float64, h.VertCount)
		for i := range verts {
			verts[i] = [2]float64{flat[2*i], flat[2*i+1]}
		}
		roi.Verts = verts
	} else {
		roi.Verts = roi.TraceOutline()
	}
	return roi, nil
}

// Delete removes a stored region by key.
func (s *RoiStore) Delete(name string, number int) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.path(name, number)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("storage: region %q #%d: %w", name, number, ErrNotFound)
		}
		return fmt.Errorf("storage: deleting region %q #%d: %w", name, number, err)
	}
	return nil
}
