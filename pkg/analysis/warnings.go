package analysis

import "fmt"

// Warning flags an abnormal but non-fatal condition found while analyzing or
// compiling. Warnings attach to results and are never silently dropped; a
// run that produces only warnings is a successful run.
type Warning struct {
	// Short is a brief label suitable for a log line or list entry.
	Short string
	// Long explains the condition and its likely cause.
	Long string
}

func (w Warning) String() string { return w.Short }

// CheckRSquared flags a region whose autocorrelation-decay fits are too poor
// to trust. The 0.7 threshold follows the historical convention.
func CheckRSquared(rSquared []float64) *Warning {
	bad := 0
	for _, r := range rSquared {
		if r < 0.7 {
			bad++
		}
	}
	if bad == 0 {
		return nil
	}
	return &Warning{
		Short: "R^2 too low",
		Long: fmt.Sprintf("%d of %d pixels have an autocorrelation fit with R^2 < 0.7; the slope and Ld values may not be valid.",
			bad, len(rSquared)),
	}
}

// CheckMeanSpectraRatio flags a region whose mean-spectrum variance is out
// of proportion with the per-pixel spectral variance. Nearby pixels are not
// expected to have correlated spectra; a ratio outside [0.3, 0.4] suggests
// absorption, fluorescence or a systematic change in the instrument.
func CheckMeanSpectraRatio(ratio float64) *Warning {
	switch {
	case ratio > 0.4:
		return &Warning{
			Short: "Mean spectra ratio too high",
			Long:  fmt.Sprintf("Ratio of mean-spectrum variance to mean spectral variance is %.3f (> 0.4).", ratio),
		}
	case ratio < 0.3:
		return &Warning{
			Short: "Mean spectra ratio too low",
			Long:  fmt.Sprintf("Ratio of mean-spectrum variance to mean spectral variance is %.3f (< 0.3).", ratio),
		}
	}
	return nil
}

// CheckAutoCorrExclusions flags fits where too many non-positive
// autocorrelation lags had to be dropped before taking the log.
func CheckAutoCorrExclusions(excluded, total int) *Warning {
	if total == 0 || float64(excluded)/float64(total) <= 0.25 {
		return nil
	}
	return &Warning{
		Short: "Autocorrelation lags excluded",
		Long: fmt.Sprintf("%d of %d log-autocorrelation samples were non-positive and excluded from the decay fit; the affected pixels will show low R^2.",
			excluded, total),
	}
}
