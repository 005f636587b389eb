package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"pwscube/pkg/cube"
)

const (
	cubeMagic   = "PWSC"
	cubeVersion = 1

	// CubeFileName is the file an acquisition directory stores its raw
	// cube under.
	CubeFileName = "imageCube.pws"
)

type cubeHeader struct {
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Wavelengths []float64 `json:"wavelengths"`

	ExposureMs float64   `json:"exposureMs"`
	AcquiredAt time.Time `json:"acquiredAt"`
	SystemID   string    `json:"systemId,omitempty"`
	DarkCounts float64   `json:"darkCounts"`
}

// SaveImageCube writes a raw cube to the given file path.
func SaveImageCube(path string, c *cube.ImageCube) error {
	header, err := json.Marshal(cubeHeader{
		Width:       c.Width,
		Height:      c.Height,
		Wavelengths: c.Wavelengths,
		ExposureMs:  c.Meta.ExposureMs,
		AcquiredAt:  c.Meta.AcquiredAt,
		SystemID:    c.Meta.SystemID,
		DarkCounts:  c.Meta.DarkCounts,
	})
	if err != nil {
		return fmt.Errorf("storage: encoding cube header: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".cube.tmp*")
	if err != nil {
		return fmt.Errorf("storage: creating cube file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := writeCubeBody(w, header, c.Data); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: writing cube file: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: writing cube file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: writing cube file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("storage: saving cube file: %w", err)
	}
	return nil
}

func writeCubeBody(w *bufio.Writer, header []byte, data []float64) error {
	if _, err := w.WriteString(cubeMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(cubeVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(header))); err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	return writeFloat64s(w, data)
}

// LoadImageCube reads a raw cube from the given file path.
func LoadImageCube(path string) (*cube.ImageCube, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage: cube file %q: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: opening cube file %q: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(cubeMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("storage: reading cube file %q: %w", path, err)
	}
	if !bytes.Equal(magic, []byte(cubeMagic)) {
		return nil, fmt.Errorf("storage: %q is not a cube file", path)
	}
	var version, headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("storage: reading cube file %q: %w", path, err)
	}
	if version != cubeVersion {
		return nil, fmt.Errorf("storage: cube file %q has unsupported version %d", path, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("storage: reading cube file %q: %w", path, err)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("storage: reading cube file %q: %w", path, err)
	}
	var h cubeHeader
	if err := json.Unmarshal(headerBytes, &h); err != nil {
		return nil, fmt.Errorf("storage: decoding cube header: %w", err)
	}
	if h.Width <= 0 || h.Height <= 0 || len(h.Wavelengths) < 2 {
		return nil, fmt.Errorf("storage: cube file %q header has invalid dimensions", path)
	}

	data, err := readFloat64s(r, h.Width*h.Height*len(h.Wavelengths))
	if err != nil {
		return nil, fmt.Errorf("storage: reading cube file %q payload: %w", path, err)
	}
	c, err := cube.New(data, h.Width, h.Height, h.Wavelengths, cube.Metadata{
		ExposureMs: h.ExposureMs,
		AcquiredAt: h.AcquiredAt,
		SystemID:   h.SystemID,
		DarkCounts: h.DarkCounts,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: cube file %q: %w", path, err)
	}
	return c, nil
}

// DirLoader loads raw cubes from acquisition directories, each holding its
// cube under CubeFileName.
type DirLoader struct{}

func (DirLoader) LoadCube(_ context.Context, dir string) (*cube.ImageCube, error) {
	return LoadImageCube(filepath.Join(dir, CubeFileName))
}
