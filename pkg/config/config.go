// Package config provides configuration loading and management for dicom2glb.
// It handles loading configuration from YAML, JSON or TOML files and provides
// default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Segmentation tool parameters
	Segmentation struct {
		// Command is the segmentation tool command line prefix
		Command string `yaml:"command" toml:"command"`

		// Device is passed to the tool when set (gpu, cpu, mps)
		Device string `yaml:"device" toml:"device"`

		// Multilabel requests one label map per task instead of per-structure masks
		Multilabel bool `yaml:"multilabel" toml:"multilabel"`

		// ExtraArgs are appended to every tool invocation
		ExtraArgs []string `yaml:"extraArgs,omitempty" toml:"extraArgs,omitempty"`
	} `yaml:"segmentation" toml:"segmentation"`

	// Mesh extraction parameters
	Mesh struct {
		// IsoValue is the marching cubes threshold on the binary label mask
		IsoValue float64 `yaml:"isoValue" toml:"isoValue"`

		// SmoothIterations is the number of Laplacian relaxation passes
		SmoothIterations int `yaml:"smoothIterations" toml:"smoothIterations"`

		// RelaxationFactor is the step size of each smoothing pass
		RelaxationFactor float64 `yaml:"relaxationFactor" toml:"relaxationFactor"`

		// MergeTolerance is the distance in mm under which points are merged
		MergeTolerance float64 `yaml:"mergeTolerance" toml:"mergeTolerance"`

		// Decimate enables quadric error simplification
		Decimate bool `yaml:"decimate" toml:"decimate"`

		// TargetReduction is the fraction of triangles removed by decimation
		TargetReduction float64 `yaml:"targetReduction" toml:"targetReduction"`

		// ApplyAffine maps vertices through the full NIfTI affine instead of spacing only
		ApplyAffine bool `yaml:"applyAffine" toml:"applyAffine"`
	} `yaml:"mesh" toml:"mesh"`

	// Scene assembly parameters
	Scene struct {
		// Recursive imports STL files from subdirectories too
		Recursive bool `yaml:"recursive" toml:"recursive"`

		// Rotate applies the Z then Y half turn to every object
		Rotate bool `yaml:"rotate" toml:"rotate"`

		// Grouping reparents objects under the group tree
		Grouping bool `yaml:"grouping" toml:"grouping"`

		// GroupsFile overrides the built-in group tree
		GroupsFile string `yaml:"groupsFile" toml:"groupsFile"`
	} `yaml:"scene" toml:"scene"`

	// External resource paths
	Paths struct {
		// ClassMapFile is layered on top of the built-in class map
		ClassMapFile string `yaml:"classMapFile" toml:"classMapFile"`
	} `yaml:"paths" toml:"paths"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose" toml:"verbose"`

		// Previews saves label map slices next to the meshes
		Previews bool `yaml:"previews" toml:"previews"`
	} `yaml:"output" toml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default segmentation parameters
	cfg.Segmentation.Command = "TotalSegmentator"
	cfg.Segmentation.Multilabel = true

	// Set default mesh parameters
	cfg.Mesh.IsoValue = 0.5
	cfg.Mesh.SmoothIterations = 70
	cfg.Mesh.RelaxationFactor = 0.1
	cfg.Mesh.MergeTolerance = 1e-4
	cfg.Mesh.Decimate = false
	cfg.Mesh.TargetReduction = 0.5

	// Set default scene parameters
	cfg.Scene.Recursive = true
	cfg.Scene.Rotate = true
	cfg.Scene.Grouping = false

	// Set default output parameters
	cfg.Output.Verbose = false
	cfg.Output.Previews = false

	return cfg
}

// format returns the serialization used for a config path
func format(configPath string) string {
	if strings.EqualFold(filepath.Ext(configPath), ".toml") {
		return "toml"
	}
	return "yaml"
}

// LoadConfig loads configuration from a YAML, JSON or TOML file.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	configPath, err := homedir.Expand(configPath)
	if err != nil {
		return nil, fmt.Errorf("error expanding config path: %w", err)
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse, JSON goes through the YAML decoder
	if format(configPath) == "toml" {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// expandPaths resolves ~ in the configured file paths
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Scene.GroupsFile, &c.Paths.ClassMapFile} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("error expanding %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Mesh.SmoothIterations < 0 {
		return fmt.Errorf("mesh.smoothIterations must not be negative")
	}
	if c.Mesh.RelaxationFactor < 0 || c.Mesh.RelaxationFactor > 1 {
		return fmt.Errorf("mesh.relaxationFactor must be within [0, 1]")
	}
	if c.Mesh.MergeTolerance < 0 {
		return fmt.Errorf("mesh.mergeTolerance must not be negative")
	}
	if c.Mesh.TargetReduction < 0 || c.Mesh.TargetReduction >= 1 {
		return fmt.Errorf("mesh.targetReduction must be within [0, 1)")
	}
	return nil
}

// SaveConfig saves the configuration to a YAML or TOML file
func SaveConfig(cfg *Config, configPath string) error {
	configPath, err := homedir.Expand(configPath)
	if err != nil {
		return fmt.Errorf("error expanding config path: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config
	var data []byte
	if format(configPath) == "toml" {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
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
