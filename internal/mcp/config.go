package mcp

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fentz26/switchboard/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultRegistry []byte

// RegistryFile is the on-disk registry layout.
type RegistryFile struct {
	Workers []models.WorkerDescriptor `yaml:"workers"`
}

// DefaultDescriptors returns the built-in worker catalog.
func DefaultDescriptors() ([]models.WorkerDescriptor, error) {
	ds, err := ParseRegistry(defaultRegistry)
	if err != nil {
		return nil, fmt.Errorf("parsing built-in registry: %w", err)
	}
	return ds, nil
}

// ParseRegistry decodes and validates a registry document.
func ParseRegistry(data []byte) ([]models.WorkerDescriptor, error) {
	var file RegistryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}

	// Validate against a scratch registry so errors name the bad entry.
	if err := NewRegistry().Replace(file.Workers); err != nil {
		return nil, fmt.Errorf("invalid registry: %w", err)
	}
	return file.Workers, nil
}

// LoadRegistryFile reads descriptors from path. A missing file yields the
// built-in catalog.
func LoadRegistryFile(path string) ([]models.WorkerDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultDescriptors()
		}
		return nil, fmt.Errorf("reading registry file: %w", err)
	}
	return ParseRegistry(data)
}

// LoadRegistry builds a Registry from path, falling back to the built-in
// catalog when path is empty or missing.
func LoadRegistry(path string) (*Registry, error) {
	var (
		ds  []models.WorkerDescriptor
		err error
	)
	if path == "" {
		ds, err = DefaultDescriptors()
	} else {
		ds, err = LoadRegistryFile(path)
	}
	if err != nil {
		return nil, err
	}

	reg := NewRegistry()
	if err := reg.Replace(ds); err != nil {
		return nil, err
	}
	return reg, nil
}

// SaveRegistryFile writes descriptors to path, creating parent directories if needed.
func SaveRegistryFile(path string, ds []models.WorkerDescriptor) error {
	if err := NewRegistry().Replace(ds); err != nil {
		return fmt.Errorf("invalid registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating registry dir: %w", err)
	}

	data, err := yaml.Marshal(RegistryFile{Workers: ds})
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing registry file: %w", err)
	}
	return nil
}
