package processing

import (
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/systemstart/cellpipe/pkg/api"
)

// Defaults maps a step name to parameter values applied to every job that
// uses the step. Job-level values win.
type Defaults map[string]map[string]any

// LoadDefaultsFile reads a YAML mapping of step names to parameter values.
func LoadDefaultsFile(filename string) (Defaults, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading defaults file: %w", err)
	}

	var defaults Defaults
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return nil, fmt.Errorf("parsing defaults file: %w", err)
	}

	if defaults == nil {
		defaults = make(Defaults)
	}

	return defaults, nil
}

// MergeParams performs a shallow merge of local parameters over global ones.
func MergeParams(global, local map[string]any) map[string]any {
	merged := make(map[string]any, len(global)+len(local))
	maps.Copy(merged, global)
	maps.Copy(merged, local)
	return merged
}

// Apply returns copies of configs with the defaults merged under each step's
// own parameters.
func (d Defaults) Apply(configs []api.StepConfig) []api.StepConfig {
	out := make([]api.StepConfig, len(configs))
	for i, c := range configs {
		out[i] = api.StepConfig{Name: c.Name, Params: MergeParams(d[c.Name], c.Params)}
	}
	return out
}
