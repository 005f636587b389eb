package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"pwscube/internal/batch"
	"pwscube/pkg/analysis"
	"pwscube/pkg/config"
	"pwscube/pkg/refdata"
	"pwscube/pkg/storage"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "", "Batch configuration YAML file")
	settingsPath := flag.String("settings", "", "Analysis settings JSON file (overrides config)")
	refPath := flag.String("ref", "", "Reference acquisition directory (overrides config)")
	extraPath := flag.String("extra", "", "Stray-reflectance calibration directory (overrides config)")
	name := flag.String("name", "", "Name to store results under (overrides config)")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: all available)")
	overwrite := flag.Bool("overwrite", false, "Replace results already stored under the same name")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Fatal().Err(err).Msg("loading configuration")
	}
	if *settingsPath != "" {
		cfg.Paths.SettingsFile = *settingsPath
	}
	if *refPath != "" {
		cfg.Paths.ReferencePath = *refPath
	}
	if *extraPath != "" {
		cfg.Paths.ExtraReflectancePath = *extraPath
	}
	if *name != "" {
		cfg.Batch.AnalysisName = *name
	}
	if *numCores > 0 {
		cfg.Batch.NumCores = *numCores
	}
	if *overwrite {
		cfg.Batch.Overwrite = true
	}
	if *verbose {
		cfg.Output.Verbose = true
	}
	if args := flag.Args(); len(args) > 0 {
		cfg.Paths.CubePaths = args
	}

	level := zerolog.InfoLevel
	if cfg.Output.Verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	if cfg.Paths.SettingsFile == "" || cfg.Paths.ReferencePath == "" {
		flag.Usage()
		log.Fatal().Msg("a settings file and a reference directory are required")
	}
	if len(cfg.Paths.CubePaths) == 0 {
		flag.Usage()
		log.Fatal().Msg("no acquisition directories to analyze")
	}
	if cfg.Batch.NumCores < 1 {
		cfg.Batch.NumCores = runtime.NumCPU()
	}

	settings, err := analysis.LoadSettings(cfg.Paths.SettingsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("loading analysis settings")
	}

	loader := storage.DirLoader{}
	ref, err := loader.LoadCube(context.Background(), cfg.Paths.ReferencePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Paths.ReferencePath).Msg("loading reference cube")
	}
	log.Info().
		Str("reference", cfg.Paths.ReferencePath).
		Int("bands", ref.Bands()).
		Int("pixels", ref.Pixels()).
		Msg("reference cube loaded")

	var extra *analysis.ExtraReflectance
	if cfg.Paths.ExtraReflectancePath != "" {
		erCube, err := loader.LoadCube(context.Background(), cfg.Paths.ExtraReflectancePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Paths.ExtraReflectancePath).Msg("loading stray-reflectance calibration")
		}
		extra = &analysis.ExtraReflectance{ID: settings.ExtraReflectanceID, Cube: erCube}
	}

	a, err := analysis.New(settings, ref, refdata.NewService(), extra)
	if err != nil {
		log.Fatal().Err(err).Msg("preparing analysis")
	}

	runner := &batch.Runner{
		Loader:    loader,
		Analysis:  a,
		Name:      cfg.Batch.AnalysisName,
		Overwrite: cfg.Batch.Overwrite,
		Workers:   cfg.Batch.NumCores,
		Log:       log,
	}

	start := time.Now()
	results, err := runner.Run(context.Background(), cfg.Paths.CubePaths)
	if err != nil {
		log.Fatal().Err(err).Msg("batch aborted")
	}

	var analyzed, skipped, failed int
	for _, res := range results {
		switch {
		case res.Err != nil:
			failed++
		case res.Skipped:
			skipped++
		default:
			analyzed++
		}
	}
	log.Info().
		Int("analyzed", analyzed).
		Int("skipped", skipped).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("batch finished")
	if failed > 0 {
		os.Exit(1)
	}
}
