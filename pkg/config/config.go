// Package config loads the runtime's YAML configuration file: data
// directory, default workload mix, and logging level.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig is the top-level configuration a block-engine host
// process reads at startup.
type RuntimeConfig struct {
	DataDir  string         `yaml:"dataDir"`
	LogLevel string         `yaml:"logLevel"`
	Workload WorkloadConfig `yaml:"workload"`
}

// WorkloadConfig is the default operation mix used when a caller
// Executes without supplying its own workload request.
type WorkloadConfig struct {
	Operations   []OperationWeight `yaml:"operations"`
	Distribution string            `yaml:"distribution"`
	TotalOps     int               `yaml:"totalOps"`
	Seed         uint64            `yaml:"seed"`
}

// OperationWeight pairs an operation type name with its relative
// weight.
type OperationWeight struct {
	Type   string `yaml:"type"`
	Weight int    `yaml:"weight"`
}

// Default returns the configuration a fresh install runs with absent a
// config file on disk.
func Default() RuntimeConfig {
	return RuntimeConfig{
		DataDir:  "./data",
		LogLevel: "info",
		Workload: WorkloadConfig{
			Operations: []OperationWeight{
				{Type: "INSERT", Weight: 50},
				{Type: "SELECT", Weight: 30},
				{Type: "UPDATE", Weight: 15},
				{Type: "DELETE", Weight: 5},
			},
			Distribution: "uniform",
			TotalOps:     1000,
		},
	}
}

// Load reads and parses a RuntimeConfig from path.
func Load(path string) (RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating or truncating the file.
func Save(path string, cfg RuntimeConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
