// Package config provides configuration loading and management for boneseg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"boneseg/pkg/segmentation"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use when decoding the input series
		NumCores int `yaml:"numCores"`

		// DepthAxis is the through-plane axis index of the input volume;
		// -1 lets the pipeline detect it from the spine extent
		DepthAxis int `yaml:"depthAxis"`
	} `yaml:"processing"`

	// Segmentation parameters
	Segmentation struct {
		// SkeletonBand is the broad density band separating bone from soft tissue
		SkeletonBand segmentation.Band `yaml:"skeletonBand"`

		// DenseBand is the high-density band isolating compact bone
		DenseBand segmentation.Band `yaml:"denseBand"`

		// ThresholdMethod selects the binarization policy: "isodata" or "otsu"
		ThresholdMethod string `yaml:"thresholdMethod"`

		// StructuringElement selects the erosion element: "cross" or "box"
		StructuringElement string `yaml:"structuringElement"`

		// MinSize is the minimum connected component size in voxels
		MinSize int `yaml:"minSize"`

		// HoleSize is the largest enclosed background pocket filled, in voxels
		HoleSize int `yaml:"holeSize"`

		// FemurPadding expands each femur candidate's bounding box
		FemurPadding int `yaml:"femurPadding"`

		// CombinedPadding expands the combined femur region
		CombinedPadding int `yaml:"combinedPadding"`

		// DilationRadius is the pelvis footprint dilation radius in voxels
		DilationRadius int `yaml:"dilationRadius"`
	} `yaml:"segmentation"`

	// Output parameters
	Output struct {
		// SaveIntermediates determines whether pelvis and spine masks are
		// written alongside the femur masks
		SaveIntermediates bool `yaml:"saveIntermediates"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// WindowLevel is the CT window center used for slice exports
		WindowLevel float64 `yaml:"windowLevel"`

		// WindowWidth is the CT window width used for slice exports
		WindowWidth float64 `yaml:"windowWidth"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.DepthAxis = -1

	// Set default segmentation parameters
	cfg.Segmentation.SkeletonBand = segmentation.BandFrom(180)
	cfg.Segmentation.DenseBand = segmentation.BandFrom(450)
	cfg.Segmentation.ThresholdMethod = segmentation.ThresholdIsodata.String()
	cfg.Segmentation.StructuringElement = segmentation.ElemCross.String()
	cfg.Segmentation.MinSize = 1000
	cfg.Segmentation.HoleSize = 256
	cfg.Segmentation.FemurPadding = 10
	cfg.Segmentation.CombinedPadding = 20
	cfg.Segmentation.DilationRadius = 20

	// Set default output parameters
	cfg.Output.SaveIntermediates = false
	cfg.Output.Verbose = true
	cfg.Output.WindowLevel = 300
	cfg.Output.WindowWidth = 1500

	return cfg
}

// Params maps the configuration onto the pipeline processing constants
func (c *Config) Params() (segmentation.Params, error) {
	method, err := segmentation.ParseThresholdMethod(c.Segmentation.ThresholdMethod)
	if err != nil {
		return segmentation.Params{}, fmt.Errorf("invalid threshold method: %w", err)
	}

	elem, err := segmentation.ParseStructElem(c.Segmentation.StructuringElement)
	if err != nil {
		return segmentation.Params{}, fmt.Errorf("invalid structuring element: %w", err)
	}

	if c.Processing.DepthAxis > 2 {
		return segmentation.Params{}, fmt.Errorf("depth axis %d out of range", c.Processing.DepthAxis)
	}

	return segmentation.Params{
		SkeletonBand:    c.Segmentation.SkeletonBand,
		DenseBand:       c.Segmentation.DenseBand,
		Method:          method,
		Elem:            elem,
		MinSize:         c.Segmentation.MinSize,
		HoleSize:        c.Segmentation.HoleSize,
		FemurPadding:    c.Segmentation.FemurPadding,
		CombinedPadding: c.Segmentation.CombinedPadding,
		DilationRadius:  c.Segmentation.DilationRadius,
		DepthAxis:       c.Processing.DepthAxis,
	}, nil
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
