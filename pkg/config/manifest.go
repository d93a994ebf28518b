package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stewardai/steward-oss/pkg/domain"
)

// Manifest is the on-disk worker catalogue.
type Manifest struct {
	Workers []WorkerSpec `yaml:"workers"`
}

// WorkerSpec is the YAML shape of one worker descriptor.
type WorkerSpec struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	Capabilities   []string      `yaml:"capabilities"`
	Keywords       []string      `yaml:"keywords"`
	TriggerPhrases []string      `yaml:"trigger_phrases"`
	Priority       int           `yaml:"priority"`
	Resources      ResourceSpec  `yaml:"resources"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	Timeout        time.Duration `yaml:"timeout"`
	Fallback       bool          `yaml:"fallback"`
}

// ResourceSpec is the YAML shape of a descriptor's resource requirements.
type ResourceSpec struct {
	Required     bool     `yaml:"required"`
	AllowedTypes []string `yaml:"allowed_types"`
}

// LoadManifest reads and validates a worker manifest file.
func LoadManifest(path string) ([]domain.WorkerDescriptor, error) {
	// #nosec G304 -- File path is configured at startup
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worker manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest converts manifest bytes into worker descriptors.
func ParseManifest(data []byte) ([]domain.WorkerDescriptor, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse worker manifest: %w", err)
	}

	seen := make(map[string]struct{}, len(manifest.Workers))
	fallbacks := 0
	out := make([]domain.WorkerDescriptor, 0, len(manifest.Workers))
	for i, spec := range manifest.Workers {
		if spec.ID == "" {
			return nil, fmt.Errorf("%w: worker %d is missing an id", domain.ErrConfigInvalid, i)
		}
		if _, dup := seen[spec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate worker id %q", domain.ErrConfigInvalid, spec.ID)
		}
		seen[spec.ID] = struct{}{}

		if spec.Priority < 1 || spec.Priority > 10 {
			return nil, fmt.Errorf("%w: worker %q priority must be in [1, 10], got %d", domain.ErrConfigInvalid, spec.ID, spec.Priority)
		}
		if spec.Fallback {
			fallbacks++
		}

		out = append(out, domain.WorkerDescriptor{
			ID:             spec.ID,
			Name:           spec.Name,
			Capabilities:   spec.Capabilities,
			Keywords:       spec.Keywords,
			TriggerPhrases: spec.TriggerPhrases,
			Priority:       spec.Priority,
			Resources: domain.ResourceRequirements{
				RequiresResource: spec.Resources.Required,
				AllowedTypes:     spec.Resources.AllowedTypes,
			},
			MaxConcurrent: spec.MaxConcurrent,
			Timeout:       spec.Timeout,
			Fallback:      spec.Fallback,
		})
	}

	if fallbacks > 1 {
		return nil, fmt.Errorf("%w: at most one fallback worker is allowed, got %d", domain.ErrConfigInvalid, fallbacks)
	}
	return out, nil
}
