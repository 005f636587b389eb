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
	"strings"
	"time"

	"pwscube/pkg/analysis"
	"pwscube/pkg/cube"
)

const (
	resultsMagic   = "PWSR"
	resultsVersion = 1

	resultsPrefix = "analysisResults_"
	resultsSuffix = ".pws"
)

// AnalysisStore reads and writes named analysis results inside one
// acquisition directory.
type AnalysisStore struct {
	dir string
}

func NewAnalysisStore(dir string) *AnalysisStore {
	return &AnalysisStore{dir: dir}
}

func (s *AnalysisStore) path(name string) string {
	return filepath.Join(s.dir, resultsPrefix+name+resultsSuffix)
}

// resultsHeader is the JSON header preceding the numeric payload. The array
// lengths in the payload derive from Width, Height, Bands and OpdStop.
type resultsHeader struct {
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Bands       int       `json:"bands"`
	OpdStop     int       `json:"opdStop"`
	Wavenumbers []float64 `json:"wavenumbers"`
	OpdValues   []float64 `json:"opdValues"`

	Settings analysis.Settings `json:"settings"`

	CubeIDTag             string `json:"cubeIdTag"`
	ReferenceIDTag        string `json:"referenceIdTag"`
	ExtraReflectanceIDTag string `json:"extraReflectanceIdTag,omitempty"`
	IDTag                 string `json:"idTag"`

	Warnings  []analysis.Warning `json:"warnings,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Exists reports whether results with the given name are stored.
func (s *AnalysisStore) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// List returns the names of all stored results, in directory order.
func (s *AnalysisStore) List() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, resultsPrefix+"*"+resultsSuffix))
	if err != nil {
		return nil, fmt.Errorf("storage: listing results: %w", err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(base, resultsPrefix), resultsSuffix))
	}
	return names, nil
}

// Save persists the results under the given name. Saving over an existing
// name fails with ErrAlreadyExists unless overwrite is set. The file is
// written to a temporary name and renamed into place so a crash never leaves
// a half-written results file behind.
func (s *AnalysisStore) Save(name string, res *analysis.Results, overwrite bool) error {
	if err := validateName(name); err != nil {
		return err
	}
	if !overwrite && s.Exists(name) {
		return fmt.Errorf("storage: results %q: %w", name, ErrAlreadyExists)
	}
	if res.Reflectance == nil {
		return fmt.Errorf("storage: results %q have no reflectance cube", name)
	}

	header, err := json.Marshal(resultsHeader{
		Width:                 res.Width,
		Height:                res.Height,
		Bands:                 res.Reflectance.Bands(),
		OpdStop:               res.OpdStop,
		Wavenumbers:           res.Reflectance.Wavenumbers,
		OpdValues:             res.OpdValues,
		Settings:              res.Settings,
		CubeIDTag:             res.CubeIDTag,
		ReferenceIDTag:        res.ReferenceIDTag,
		ExtraReflectanceIDTag: res.ExtraReflectanceIDTag,
		IDTag:                 res.IDTag,
		Warnings:              res.Warnings,
		CreatedAt:             res.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("storage: encoding results header: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+resultsPrefix+name+".tmp*")
	if err != nil {
		return fmt.Errorf("storage: creating results file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := writeResultsBody(w, header, res); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: writing results %q: %w", name, err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: writing results %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: writing results %q: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return fmt.Errorf("storage: saving results %q: %w", name, err)
	}
	return nil
}

func writeResultsBody(w *bufio.Writer, header []byte, res *analysis.Results) error {
	if _, err := w.WriteString(resultsMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(resultsVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(header))); err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	for _, arr := range [][]float64{
		res.MeanReflectance,
		res.RMS,
		res.PolynomialRMS,
		res.AutoCorrelationSlope,
		res.RSquared,
		res.Ld,
		res.Opd,
		res.Reflectance.Data,
	} {
		if err := writeFloat64s(w, arr); err != nil {
			return err
		}
	}
	return nil
}

// Load reads results previously saved under the given name.
func (s *AnalysisStore) Load(name string) (*analysis.Results, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage: results %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: opening results %q: %w", name, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(resultsMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("storage: reading results %q: %w", name, err)
	}
	if !bytes.Equal(magic, []byte(resultsMagic)) {
		return nil, fmt.Errorf("storage: %q is not a results file", s.path(name))
	}
	var version, headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("storage: reading results %q: %w", name, err)
	}
	if version != resultsVersion {
		return nil, fmt.Errorf("storage: results %q have unsupported version %d", name, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("storage: reading results %q: %w", name, err)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("storage: reading results %q: %w", name, err)
	}
	var h resultsHeader
	if err := json.Unmarshal(headerBytes, &h); err != nil {
		return nil, fmt.Errorf("storage: decoding results header: %w", err)
	}
	if h.Width <= 0 || h.Height <= 0 || h.Bands <= 0 || h.OpdStop < 0 {
		return nil, fmt.Errorf("storage: results %q header has invalid dimensions", name)
	}

	pixels := h.Width * h.Height
	res := &analysis.Results{
		Width:                 h.Width,
		Height:                h.Height,
		OpdStop:               h.OpdStop,
		OpdValues:             h.OpdValues,
		Settings:              h.Settings,
		CubeIDTag:             h.CubeIDTag,
		ReferenceIDTag:        h.ReferenceIDTag,
		ExtraReflectanceIDTag: h.ExtraReflectanceIDTag,
		IDTag:                 h.IDTag,
		Warnings:              h.Warnings,
		CreatedAt:             h.CreatedAt,
	}
	for _, dst := range []struct {
		arr *[]float64
		n   int
	}{
		{&res.MeanReflectance, pixels},
		{&res.RMS, pixels},
		{&res.PolynomialRMS, pixels},
		{&res.AutoCorrelationSlope, pixels},
		{&res.RSquared, pixels},
		{&res.Ld, pixels},
		{&res.Opd, pixels * h.OpdStop},
	} {
		vals, err := readFloat64s(r, dst.n)
		if err != nil {
			return nil, fmt.Errorf("storage: reading results %q payload: %w", name, err)
		}
		*dst.arr = vals
	}
	refData, err := readFloat64s(r, pixels*h.Bands)
	if err != nil {
		return nil, fmt.Errorf("storage: reading results %q payload: %w", name, err)
	}
	res.Reflectance = &cube.KCube{
		Data:        refData,
		Width:       h.Width,
		Height:      h.Height,
		Wavenumbers: h.Wavenumbers,
	}
	return res, nil
}

// Delete removes stored results by name.
func (s *AnalysisStore) Delete(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("storage: results %q: %w", name, ErrNotFound)
		}
		return fmt.Errorf("storage: deleting results %q: %w", name, err)
	}
	return nil
}
