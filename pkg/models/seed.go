package models

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default_seed.yaml
var defaultSeed []byte

// Seed is the initial content of a mock device
type Seed struct {
	State  DeviceState
	Images []SeedImage
}

// SeedImage is an image preloaded into a mock device
type SeedImage struct {
	Name string `yaml:"name"`
	Size int64  `yaml:"size"`
	// File is an optional GIF, relative to the seed file
	File string `yaml:"file"`

	// Runtime fields (not in the seed file)
	Data []byte `yaml:"-"`
}

type seedFile struct {
	State  map[string]interface{} `yaml:"state"`
	Images []SeedImage            `yaml:"images"`
}

// LoadSeed loads a seed.yaml file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data, filepath.Dir(path))
}

// DefaultSeed returns the built-in mock device content
func DefaultSeed() *Seed {
	seed, err := ParseSeed(defaultSeed, "")
	if err != nil {
		panic(fmt.Sprintf("invalid built-in seed: %v", err))
	}
	return seed
}

// ParseSeed parses seed YAML. Image files are resolved against baseDir.
func ParseSeed(data []byte, baseDir string) (*Seed, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	// The state block uses the device's JSON field names
	var state DeviceState
	if file.State != nil {
		raw, err := json.Marshal(file.State)
		if err != nil {
			return nil, fmt.Errorf("failed to convert seed state: %w", err)
		}
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, fmt.Errorf("invalid seed state: %w", err)
		}
	}

	for i := range file.Images {
		img := &file.Images[i]
		if img.Name == "" {
			return nil, fmt.Errorf("seed image %d has no name", i)
		}
		if img.File == "" {
			continue
		}
		imgPath := img.File
		if !filepath.IsAbs(imgPath) {
			imgPath = filepath.Join(baseDir, imgPath)
		}
		content, err := os.ReadFile(imgPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read seed image %s: %w", img.Name, err)
		}
		img.Data = content
		img.Size = int64(len(content))
	}

	return &Seed{State: state, Images: file.Images}, nil
}
