package api

import (
	"strings"
	"testing"
)

func validJobConfig() *Job {
	return &Job{
		Name:         "pbmc",
		OutputPrefix: "pbmc",
		Inputs: []SeuratObject{
			{DatasetID: "101", OutputFileID: 1, File: "/data/s1.rds"},
			{DatasetID: "102", OutputFileID: 2, File: "/data/s2.rds"},
		},
		Steps: []StepConfig{{Name: "NormalizeAndScale"}},
	}
}

func TestValidate_ValidJob(t *testing.T) {
	if err := validJobConfig().Validate(); err != nil {
		t.Fatalf("expected valid job, got error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(j *Job)
		wantErr string
	}{
		{"missing name", func(j *Job) { j.Name = "" }, "name is required"},
		{"missing prefix", func(j *Job) { j.OutputPrefix = "" }, "outputPrefix is required"},
		{"prefix with slash", func(j *Job) { j.OutputPrefix = "a/b" }, "path separators"},
		{"negative threads", func(j *Job) { j.MaxThreads = -1 }, "maxThreads"},
		{"bad timeout", func(j *Job) { j.Timeout = "soon" }, "timeout"},
		{"no inputs", func(j *Job) { j.Inputs = nil }, "no inputs"},
		{"no steps", func(j *Job) { j.Steps = nil }, "no steps"},
		{"unnamed step", func(j *Job) { j.Steps = []StepConfig{{}} }, "name is required"},
		{"missing datasetId", func(j *Job) { j.Inputs[0].DatasetID = "" }, "datasetId is required"},
		{"quoted datasetId", func(j *Job) { j.Inputs[0].DatasetID = "a'b" }, "invalid characters"},
		{"duplicate datasetId", func(j *Job) { j.Inputs[1].DatasetID = "101" }, "duplicate datasetId"},
		{"missing file", func(j *Job) { j.Inputs[1].File = "" }, "file is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := validJobConfig()
			tt.mutate(j)
			err := j.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestBatchValidate(t *testing.T) {
	tests := []struct {
		name    string
		batch   Batch
		wantErr bool
	}{
		{"valid", Batch{Jobs: []string{"a", "b"}, Parallel: 2}, false},
		{"empty", Batch{}, true},
		{"negative parallel", Batch{Jobs: []string{"a"}, Parallel: -1}, true},
		{"blank path", Batch{Jobs: []string{""}}, true},
		{"duplicate", Batch{Jobs: []string{"a", "a"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.batch.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
