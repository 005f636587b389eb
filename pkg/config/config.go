// Package config provides configuration loading and management for pwscube.
// It handles loading batch configuration from YAML files and provides
// default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the batch configuration loaded from YAML
type Config struct {
	// Batch parameters
	Batch struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// AnalysisName is the name results are stored under in each
		// acquisition directory
		AnalysisName string `yaml:"analysisName"`

		// Overwrite allows replacing results already stored under AnalysisName
		Overwrite bool `yaml:"overwrite"`
	} `yaml:"batch"`

	// Paths to the inputs of a batch run
	Paths struct {
		// SettingsFile is the JSON analysis settings file shared by every cube
		SettingsFile string `yaml:"settingsFile"`

		// ReferencePath is the acquisition directory of the reference cube
		ReferencePath string `yaml:"referencePath"`

		// ExtraReflectancePath is the stray-reflectance calibration cube
		// directory, empty to skip the correction
		ExtraReflectancePath string `yaml:"extraReflectancePath"`

		// CubePaths lists the acquisition directories to analyze
		CubePaths []string `yaml:"cubePaths"`
	} `yaml:"paths"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Batch.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Batch.AnalysisName = "default"
	cfg.Batch.Overwrite = false

	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
