package api

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadJob reads a .job.yaml file, sets Dir/FilePath, resolves relative paths
// against the file's directory, and validates it.
func LoadJob(filename string) (*Job, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading job file: %w", err)
	}

	var j Job
	if err := yaml.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parsing job file: %w", err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	j.FilePath = absPath
	j.Dir = filepath.Dir(absPath)

	if j.Name == "" {
		j.Name = strings.TrimSuffix(filepath.Base(absPath), JobFileSuffix)
	}
	j.resolvePaths()

	if err := j.Validate(); err != nil {
		return nil, fmt.Errorf("validating job %s: %w", filename, err)
	}

	return &j, nil
}

func (j *Job) resolvePaths() {
	if j.WorkDir == "" {
		j.WorkDir = filepath.Join(DefaultWorkDirName, j.Name)
	}
	j.WorkDir = j.resolve(j.WorkDir)

	for i := range j.Inputs {
		in := &j.Inputs[i]
		in.File = j.resolve(in.File)
		in.HashingCalls = j.resolve(in.HashingCalls)
		in.CiteSeqCounts = j.resolve(in.CiteSeqCounts)
		in.NimbleCounts = j.resolve(in.NimbleCounts)
	}
}

func (j *Job) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(j.Dir, p)
}

// LoadBatch reads a batch YAML file and resolves its job paths.
func LoadBatch(filename string) (*Batch, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading batch file: %w", err)
	}

	var b Batch
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing batch file: %w", err)
	}

	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	b.Dir = filepath.Dir(absPath)

	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("validating batch file: %w", err)
	}

	for i, p := range b.Jobs {
		if !filepath.IsAbs(p) {
			b.Jobs[i] = filepath.Join(b.Dir, p)
		}
	}
	if b.Defaults != "" && !filepath.IsAbs(b.Defaults) {
		b.Defaults = filepath.Join(b.Dir, b.Defaults)
	}

	return &b, nil
}
