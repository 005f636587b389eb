// Package compilation reduces per-pixel analysis maps to per-region summary
// statistics. A compiler is configured once with the set of statistics to
// produce and then run against any number of (results, region) pairs.
package compilation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"pwscube/pkg/analysis"
	"pwscube/pkg/cube"
)

// Settings selects which statistics a compiler produces. Each scalar flag
// maps to one named value in the compiled output; Opd is the one
// spectrum-valued reduction.
type Settings struct {
	MeanReflectance      bool `json:"meanReflectance"`
	RMS                  bool `json:"rms"`
	PolynomialRMS        bool `json:"polynomialRms"`
	AutoCorrelationSlope bool `json:"autoCorrelationSlope"`
	RSquared             bool `json:"rSquared"`
	Ld                   bool `json:"ld"`
	MeanSigmaRatio       bool `json:"meanSigmaRatio"`

	// Opd selects the region-mean optical path depth spectrum, the one
	// spectrum-valued output. It lands in RoiCompilation.Opd rather than
	// Values.
	Opd bool `json:"opd"`
}

// All returns settings with every statistic enabled.
func All() Settings {
	return Settings{
		MeanReflectance:      true,
		RMS:                  true,
		PolynomialRMS:        true,
		AutoCorrelationSlope: true,
		RSquared:             true,
		Ld:                   true,
		MeanSigmaRatio:       true,
		Opd:                  true,
	}
}

// Statistic names as they appear in compiled output and exported tables.
const (
	StatMeanReflectance      = "meanReflectance"
	StatRMS                  = "rms"
	StatPolynomialRMS        = "polynomialRms"
	StatAutoCorrelationSlope = "autoCorrelationSlope"
	StatRSquared             = "rSquared"
	StatLd                   = "ld"
	StatMeanSigmaRatio       = "meanSigmaRatio"
	StatOpd                  = "opd"
)

// RoiCompilation is the summary of one analysis over one region: the region
// itself, the named statistic values, and any abnormalities found while
// reducing. ResultsIDTag records which analysis the values came from. Opd and
// OpdValues carry the region-mean depth spectrum when it was requested.
type RoiCompilation struct {
	Roi          *cube.Roi
	ResultsIDTag string
	Values       map[string]float64
	Opd          []float64
	OpdValues    []float64
	Warnings     []analysis.Warning
}

// statistic binds a name to its reduction. Every statistic receives the full
// results and the region mask and returns one value plus an optional
// warning; adding a statistic means adding an entry here.
type statistic struct {
	name    string
	enabled func(Settings) bool
	compute func(*analysis.Results, *cube.Roi) (float64, *analysis.Warning, error)
}

var statistics = []statistic{
	{
		name:    StatMeanReflectance,
		enabled: func(s Settings) bool { return s.MeanReflectance },
		compute: func(r *analysis.Results, roi *cube.Roi) (float64, *analysis.Warning, error) {
			if r.MeanReflectance == nil {
				return 0, nil, errNotComputed(StatMeanReflectance)
			}
			v, _ := maskedMean(r.MeanReflectance, roi.Mask)
			return v, nil, nil
		},
	},
	{
		name:    StatRMS,
		enabled: func(s Settings) bool { return s.RMS },
		compute: func(r *analysis.Results, roi *cube.Roi) (float64, *analysis.Warning, error) {
			if r.RMS == nil {
				return 0, nil, errNotComputed(StatRMS)
			}
			v, _ := maskedMean(r.RMS, roi.Mask)
			return v, nil, nil
		},
	},
	{
		name:    StatPolynomialRMS,
		enabled: func(s Settings) bool { return s.PolynomialRMS },
		compute: func(r *analysis.Results, roi *cube.Roi) (float64, *analysis.Warning, error) {
			if r.PolynomialRMS == nil {
				return 0, nil, errNotComputed(StatPolynomialRMS)
			}
			v, _ := maskedMean(r.PolynomialRMS, roi.Mask)
			return v, nil, nil
		},
	},
	{
		name:    StatAutoCorrelationSlope,
		enabled: func(s Settings) bool { return s.AutoCorrelationSlope },
		compute: compileSlope,
	},
	{
		name:    StatRSquared,
		enabled: func(s Settings) bool { return s.RSquared },
		compute: func(r *analysis.Results, roi *cube.Roi) (float64, *analysis.Warning, error) {
			if r.RSquared == nil {
				return 0, nil, errNotComputed(StatRSquared)
			}
			w := analysis.CheckRSquared(maskedValues(r.RSquared, roi.Mask))
			v, _ := maskedMean(r.RSquared, roi.Mask)
			return v, w, nil
		},
	},
	{
		name:    StatLd,
		enabled: func(s Settings) bool { return s.Ld },
		compute: func(r *analysis.Results, roi *cube.Roi) (float64, *analysis.Warning, error) {
			if r.Ld == nil {
				return 0, nil, errNotComputed(StatLd)
			}
			v, _ := maskedMean(r.Ld, roi.Mask)
			return v, nil, nil
		},
	},
	{
		name:    StatMeanSigmaRatio,
		enabled: func(s Settings) bool { return s.MeanSigmaRatio },
		compute: compileMeanSigmaRatio,
	},
}

func errNotComputed(name string) error {
	return fmt.Errorf("compilation: statistic %q requested but the analysis never computed it", name)
}

// Compiler reduces analysis results over regions according to its settings.
type Compiler struct {
	settings Settings
}

func New(settings Settings) *Compiler {
	return &Compiler{settings: settings}
}

// Run produces the configured statistics for one region of one analysis.
// An empty region yields NaN values with a warning rather than an error;
// errors are reserved for structural problems like a mask of the wrong shape
// or a statistic the analysis never produced.
func (c *Compiler) Run(res *analysis.Results, roi *cube.Roi) (*RoiCompilation, error) {
	if roi.Width != res.Width || roi.Height != res.Height {
		return nil, fmt.Errorf("compilation: region shape %dx%d does not match results %dx%d",
			roi.Width, roi.Height, res.Width, res.Height)
	}

	out := &RoiCompilation{Roi: roi, ResultsIDTag: res.IDTag, Values: make(map[string]float64)}
	if roi.PixelCount() == 0 {
		out.Warnings = append(out.Warnings, analysis.Warning{
			Short: "Empty region",
			Long:  fmt.Sprintf("Region %q #%d selects no pixels; all statistics are NaN.", roi.Name, roi.Number),
		})
	}

	for _, s := range statistics {
		if !s.enabled(c.settings) {
			continue
		}
		v, w, err := s.compute(res, roi)
		if err != nil {
			return nil, err
		}
		out.Values[s.name] = v
		if w != nil {
			out.Warnings = append(out.Warnings, *w)
		}
	}

	if c.settings.Opd {
		spec, err := compileOpd(res, roi)
		if err != nil {
			return nil, err
		}
		out.Opd = spec
		out.OpdValues = res.OpdValues
	}
	return out, nil
}

// maskedValues gathers the selected pixels of a map into a dense slice.
func maskedValues(values []float64, mask []bool) []float64 {
	var out []float64
	for i, in := range mask {
		if in {
			out = append(out, values[i])
		}
	}
	return out
}

// maskedMean averages the selected, finite pixels of a map. NaN pixels are
// skipped the way a masked nanmean would; when nothing usable remains the
// mean is NaN.
func maskedMean(values []float64, mask []bool) (mean float64, n int) {
	sum := 0.0
	for i, in := range mask {
		if !in || math.IsNaN(values[i]) {
			continue
		}
		sum += values[i]
		n++
	}
	if n == 0 {
		return math.NaN(), 0
	}
	return sum / float64(n), n
}

// compileSlope averages the autocorrelation decay slope over the region,
// restricted to pixels whose fit is trustworthy: R^2 above 0.9 and an actual
// decay (negative slope). Pixels failing the condition carry no physical
// slope and would bias the average.
func compileSlope(r *analysis.Results, roi *cube.Roi) (float64, *analysis.Warning, error) {
	if r.AutoCorrelationSlope == nil || r.RSquared == nil {
		return 0, nil, errNotComputed(StatAutoCorrelationSlope)
	}
	sum, n := 0.0, 0
	selected := 0
	for i, in := range roi.Mask {
		if !in {
			continue
		}
		selected++
		m, r2 := r.AutoCorrelationSlope[i], r.RSquared[i]
		if !(r2 > 0.9) || !(m < 0) {
			continue
		}
		sum += m
		n++
	}
	if n == 0 {
		var w *analysis.Warning
		if selected > 0 {
			w = &analysis.Warning{
				Short: "No valid slope pixels",
				Long:  fmt.Sprintf("Region %q #%d has no pixels with R^2 > 0.9 and a decaying autocorrelation.", roi.Name, roi.Number),
			}
		}
		return math.NaN(), w, nil
	}
	return sum / float64(n), nil, nil
}

// compileMeanSigmaRatio compares the spectral variance of the region's mean
// spectrum against the region's mean squared per-pixel RMS. For spatially
// uncorrelated spectra the region average suppresses the oscillation, so the
// variance ratio sits in a narrow band; values outside it indicate absorption
// or an instrument drift and come back as a warning.
func compileMeanSigmaRatio(r *analysis.Results, roi *cube.Roi) (float64, *analysis.Warning, error) {
	if r.Reflectance == nil || r.RMS == nil {
		return 0, nil, errNotComputed(StatMeanSigmaRatio)
	}
	if roi.PixelCount() == 0 {
		return math.NaN(), nil, nil
	}
	meanSpectrum, err := r.Reflectance.MeanSpectrum(roi.Mask)
	if err != nil {
		return 0, nil, fmt.Errorf("compilation: %s: %w", StatMeanSigmaRatio, err)
	}
	mean := stat.Mean(meanSpectrum, nil)
	varMean := 0.0
	for _, v := range meanSpectrum {
		d := v - mean
		varMean += d * d
	}
	varMean /= float64(len(meanSpectrum))

	sumSq, n := 0.0, 0
	for i, in := range roi.Mask {
		if !in || math.IsNaN(r.RMS[i]) {
			continue
		}
		sumSq += r.RMS[i] * r.RMS[i]
		n++
	}
	if n == 0 || sumSq == 0 {
		return math.NaN(), nil, nil
	}
	ratio := varMean / (sumSq / float64(n))
	return ratio, analysis.CheckMeanSpectraRatio(ratio), nil
}

// compileOpd averages the per-pixel optical path depth spectra over the
// region, one mean value per depth bin. An empty region yields NaN bins.
func compileOpd(r *analysis.Results, roi *cube.Roi) ([]float64, error) {
	if r.Opd == nil || r.OpdStop == 0 {
		return nil, errNotComputed(StatOpd)
	}
	bins := r.OpdStop
	out := make([]float64, bins)
	n := 0
	for i, in := range roi.Mask {
		if !in {
			continue
		}
		spec := r.Opd[i*bins : (i+1)*bins]
		for j, v := range spec {
			out[j] += v
		}
		n++
	}
	if n == 0 {
		for j := range out {
			out[j] = math.NaN()
		}
		return out, nil
	}
	for j := range out {
		out[j] /= float64(n)
	}
	return out, nil
}
