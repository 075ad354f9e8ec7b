package api

import (
	"path"
	"path/filepath"
	"time"
)

const (
	JobFileSuffix      = ".job.yaml"
	DefaultWorkDirName = "work"
	// InputsDirName is the work directory subdirectory inputs are staged in.
	InputsDirName      = "inputs"
)

// Job is the .job.yaml configuration format: one ordered step chain applied
// to a set of input Seurat objects.
type Job struct {
	Name         string         `yaml:"name"`
	OutputPrefix string         `yaml:"outputPrefix"`
	WorkDir      string         `yaml:"workDir"`
	MaxThreads   int            `yaml:"maxThreads"`
	Timeout      string         `yaml:"timeout"`
	GenomeID     *int           `yaml:"genomeId,omitempty"`
	Inputs       []SeuratObject `yaml:"inputs"`
	Steps        []StepConfig   `yaml:"steps"`

	// Set by the loader, not from YAML.
	Dir      string `yaml:"-"`
	FilePath string `yaml:"-"`
}

// StepConfig names one step of the chain and its submitted parameter values.
type StepConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// SeuratObject correlates one input artifact with the dataset and readset it
// came from.
type SeuratObject struct {
	DatasetID    string `yaml:"datasetId"`
	DatasetName  string `yaml:"datasetName"`
	ReadsetID    *int   `yaml:"readsetId,omitempty"`
	OutputFileID int    `yaml:"outputFileId"`
	File         string `yaml:"file"`
	GenomeID     *int   `yaml:"genomeId,omitempty"`

	HashingCalls  string `yaml:"hashingCalls,omitempty"`
	CiteSeqCounts string `yaml:"citeSeqCounts,omitempty"`
	NimbleCounts  string `yaml:"nimbleCounts,omitempty"`
}

// ObjectKey is the identity of a SeuratObject.
type ObjectKey struct {
	DatasetID    string
	OutputFileID int
}

func (o SeuratObject) Key() ObjectKey {
	return ObjectKey{DatasetID: o.DatasetID, OutputFileID: o.OutputFileID}
}

func (o SeuratObject) HasReadset() bool { return o.ReadsetID != nil }

// Name returns the dataset name, falling back to the dataset id.
func (o SeuratObject) Name() string {
	if o.DatasetName != "" {
		return o.DatasetName
	}
	return o.DatasetID
}

// StagedFile is the slash separated path of the object's file relative to the
// job working directory once inputs are staged.
func (o SeuratObject) StagedFile() string { return o.staged(o.File) }

func (o SeuratObject) StagedHashingCalls() string { return o.staged(o.HashingCalls) }

func (o SeuratObject) StagedCiteSeqCounts() string { return o.staged(o.CiteSeqCounts) }

func (o SeuratObject) StagedNimbleCounts() string { return o.staged(o.NimbleCounts) }

func (o SeuratObject) staged(file string) string {
	if file == "" {
		return ""
	}
	return path.Join(InputsDirName, o.DatasetID, filepath.Base(file))
}

// TimeoutDuration parses Timeout; an empty value means no job-level limit.
func (j *Job) TimeoutDuration() (time.Duration, error) {
	if j.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(j.Timeout)
}

// StepNames returns the chain's step names in declared order.
func (j *Job) StepNames() []string {
	names := make([]string, 0, len(j.Steps))
	for _, s := range j.Steps {
		names = append(names, s.Name)
	}
	return names
}

// Batch lists job files run together by one invocation.
type Batch struct {
	Jobs     []string `yaml:"jobs"`
	Parallel int      `yaml:"parallel"`
	Defaults string   `yaml:"defaults"`

	Dir string `yaml:"-"`
}
