package api

import (
	"fmt"
	"strings"
)

// Validate checks the job configuration for errors. Step names are resolved
// against the step catalog later, when the chain is built.
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("name is required")
	}
	if j.OutputPrefix == "" {
		return fmt.Errorf("outputPrefix is required")
	}
	if strings.ContainsAny(j.OutputPrefix, `/\ `) {
		return fmt.Errorf("outputPrefix %q must not contain path separators or spaces", j.OutputPrefix)
	}
	if j.MaxThreads < 0 {
		return fmt.Errorf("maxThreads must not be negative")
	}
	if _, err := j.TimeoutDuration(); err != nil {
		return fmt.Errorf("timeout %q: %w", j.Timeout, err)
	}

	if err := j.validateInputs(); err != nil {
		return err
	}

	if len(j.Steps) == 0 {
		return fmt.Errorf("job has no steps")
	}
	for i, s := range j.Steps {
		if s.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
	}

	return nil
}

func (j *Job) validateInputs() error {
	if len(j.Inputs) == 0 {
		return fmt.Errorf("job has no inputs")
	}

	ids := make(map[string]int)
	for i, in := range j.Inputs {
		if in.DatasetID == "" {
			return fmt.Errorf("input %d: datasetId is required", i)
		}
		if strings.ContainsAny(in.DatasetID, `/\ '"`) {
			return fmt.Errorf("input %d: datasetId %q contains invalid characters", i, in.DatasetID)
		}
		if prev, exists := ids[in.DatasetID]; exists {
			return fmt.Errorf("input %d: duplicate datasetId %q (first defined at input %d)", i, in.DatasetID, prev)
		}
		ids[in.DatasetID] = i

		if in.File == "" {
			return fmt.Errorf("input %q: file is required", in.DatasetID)
		}
	}
	return nil
}

// Validate checks the batch configuration for errors.
func (b *Batch) Validate() error {
	if len(b.Jobs) == 0 {
		return fmt.Errorf("jobs list is empty")
	}
	if b.Parallel < 0 {
		return fmt.Errorf("parallel must not be negative")
	}

	seen := make(map[string]bool)
	for i, p := range b.Jobs {
		if p == "" {
			return fmt.Errorf("job %d: path is required", i)
		}
		if seen[p] {
			return fmt.Errorf("job %d: duplicate path %q", i, p)
		}
		seen[p] = true
	}
	return nil
}
