package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Overlay is the optional per-repository configuration file checked in
// at the workspace root. It tunes how stages run but can never change
// which stages run or in what order.
type Overlay struct {
	// ImageTag overrides the toolchain image tag.
	ImageTag string `yaml:"image_tag"`

	// EVMOnly overrides the super-circuit verifier target restriction.
	EVMOnly *bool `yaml:"evm_only"`

	// StageEnv adds KEY=VALUE entries to the environment of named stages.
	StageEnv map[string][]string `yaml:"stage_env"`
}

// LoadOverlay reads the overlay file from the workspace. A missing file
// is not an error; the overlay is optional.
func LoadOverlay(workspaceDir, file string) (Overlay, error) {
	var overlay Overlay

	data, err := os.ReadFile(filepath.Join(workspaceDir, file))
	if os.IsNotExist(err) {
		return overlay, nil
	}
	if err != nil {
		return overlay, fmt.Errorf("read overlay: %w", err)
	}

	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return overlay, fmt.Errorf("parse overlay %s: %w", file, err)
	}
	return overlay, nil
}

// Apply merges the overlay into the loaded configuration.
func (o Overlay) Apply(cfg Config) Config {
	if o.ImageTag != "" {
		cfg.ImageTag = o.ImageTag
	}
	if o.EVMOnly != nil {
		cfg.EVMOnly = *o.EVMOnly
	}
	return cfg
}
