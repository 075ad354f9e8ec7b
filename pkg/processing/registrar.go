package processing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/systemstart/cellpipe/pkg/reconcile"
)

// ManifestFile is written into the work directory by ManifestRegistrar.
const ManifestFile = "outputs.yaml"

// Registration is a completed job's reconciled outputs.
type Registration struct {
	JobID        string             `yaml:"jobId"`
	Name         string             `yaml:"name"`
	OutputPrefix string             `yaml:"outputPrefix"`
	WorkDir      string             `yaml:"workDir"`
	Steps        []string           `yaml:"steps"`
	Completed    time.Time          `yaml:"completed"`
	Outputs      []reconcile.Output `yaml:"outputs"`
}

// Registrar records a job's outputs. Intermediate files are deleted only
// after Register returns nil.
type Registrar interface {
	Register(ctx context.Context, reg *Registration) error
}

// ManifestRegistrar writes the registration as YAML into the work directory.
type ManifestRegistrar struct{}

func (ManifestRegistrar) Register(_ context.Context, reg *Registration) error {
	data, err := yaml.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}

	filename := filepath.Join(reg.WorkDir, ManifestFile)
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest written by ManifestRegistrar.
func LoadManifest(filename string) (*Registration, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var reg Registration
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &reg, nil
}
