package processing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/systemstart/cellpipe/pkg/api"
	"github.com/systemstart/cellpipe/pkg/execute"
	"github.com/systemstart/cellpipe/pkg/steps"
)

// fakeExecutor stands in for the container: it records requests and writes
// the given files into the work directory.
type fakeExecutor struct {
	mu       sync.Mutex
	requests []execute.Request
	files    map[string]string
	err      error
}

func (f *fakeExecutor) Run(_ context.Context, req execute.Request) (*execute.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	for name, content := range f.files {
		if err := os.WriteFile(filepath.Join(req.WorkDir, name), []byte(content), 0o600); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &execute.Result{Threads: req.Threads}, nil
}

type registrarFunc func(ctx context.Context, reg *Registration) error

func (f registrarFunc) Register(ctx context.Context, reg *Registration) error { return f(ctx, reg) }

func intPtr(i int) *int { return &i }

func testJob(t *testing.T, stepConfigs ...api.StepConfig) *api.Job {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"s1.rds", "s2.rds"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("rds"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return &api.Job{
		Name:         "pbmc-job",
		OutputPrefix: "pbmc",
		WorkDir:      filepath.Join(dir, "work"),
		MaxThreads:   2,
		Dir:          dir,
		Inputs: []api.SeuratObject{
			{DatasetID: "s1", DatasetName: "Sample 1", ReadsetID: intPtr(11), File: filepath.Join(dir, "s1.rds")},
			{DatasetID: "s2", DatasetName: "Sample 2", ReadsetID: intPtr(12), File: filepath.Join(dir, "s2.rds")},
		},
		Steps: stepConfigs,
	}
}

func savedObjectFiles() map[string]string {
	return map[string]string{
		"s1.seurat.rds":          "rds",
		"s2.seurat.rds":          "rds",
		"s1.intermediate.rds":    "rds",
		"s2.intermediate.rds":    "rds",
		"pbmc.report.html":       "<html>",
		"savedSeuratObjects.txt": "s1\tSample 1\ts1.seurat.rds\t11\ns2\tSample 2\ts2.seurat.rds\t12\n",
	}
}

func testEngine(t *testing.T, exec Executor) *Engine {
	t.Helper()
	c, err := steps.Default()
	if err != nil {
		t.Fatal(err)
	}
	return &Engine{Catalog: c, Executor: exec, Registrar: ManifestRegistrar{}}
}

func exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func TestRunJob_Completed(t *testing.T) {
	files := savedObjectFiles()
	files["s1.lda.rds"] = "lda"
	files["s2.lda.rds"] = "lda"
	exec := &fakeExecutor{files: files}

	job := testJob(t, api.StepConfig{Name: "NormalizeAndScale"}, api.StepConfig{Name: "RunLDA"})
	res, err := testEngine(t, exec).RunJob(context.Background(), job)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if res.State != StateCompleted {
		t.Errorf("State = %s", res.State)
	}

	if len(exec.requests) != 1 {
		t.Fatalf("expected one execution, got %d", len(exec.requests))
	}
	req := exec.requests[0]
	if req.Script != "pbmc.rmd" || req.Report != "pbmc.report.html" || req.Threads != 2 {
		t.Errorf("unexpected request %+v", req)
	}
	if req.Image != steps.DefaultImage.DockerImage() || !strings.HasPrefix(req.Name, "cellpipe-") {
		t.Errorf("unexpected request %+v", req)
	}

	var got []string
	for _, o := range res.Outputs {
		got = append(got, o.Step+":"+o.File)
	}
	want := []string{"RunLDA:s1.lda.rds", "RunLDA:s2.lda.rds", "Report:pbmc.report.html", "SavedObjects:s1.seurat.rds", "SavedObjects:s2.seurat.rds"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("outputs = %v, want %v", got, want)
	}

	reg, err := LoadManifest(filepath.Join(res.WorkDir, ManifestFile))
	if err != nil {
		t.Fatal(err)
	}
	if reg.JobID != res.JobID || len(reg.Outputs) != 5 {
		t.Errorf("unexpected manifest %+v", reg)
	}

	if !exists(filepath.Join(res.WorkDir, "pbmc.rmd")) {
		t.Error("script should be kept")
	}
	for _, name := range []string{"s1.intermediate.rds", "inputs"} {
		if exists(filepath.Join(res.WorkDir, name)) {
			t.Errorf("%s should have been removed", name)
		}
	}
	if !exists(filepath.Join(res.WorkDir, "s1.seurat.rds")) {
		t.Error("registered output was removed")
	}
}

func TestRunJob_StagesInputs(t *testing.T) {
	var staged bool
	exec := &fakeExecutor{files: savedObjectFiles()}
	e := testEngine(t, exec)
	e.Registrar = registrarFunc(func(_ context.Context, reg *Registration) error {
		staged = exists(filepath.Join(reg.WorkDir, "inputs", "s1", "s1.rds"))
		return nil
	})

	if _, err := e.RunJob(context.Background(), testJob(t, api.StepConfig{Name: "RunPCA"})); err != nil {
		t.Fatal(err)
	}
	if !staged {
		t.Error("input was not staged below inputs/<datasetId>")
	}
}

func TestRunJob_FailsBeforeSideEffects(t *testing.T) {
	tests := []struct {
		name  string
		steps []api.StepConfig
		kind  Kind
	}{
		{"unknown step", []api.StepConfig{{Name: "Nope"}}, KindConfiguration},
		{"missing parameter", []api.StepConfig{{Name: "DimPlots"}}, KindConfiguration},
		{"cardinality", []api.StepConfig{{Name: "SeuratPrototype"}}, KindPrecondition},
		{"missing hashing data", []api.StepConfig{{Name: "AppendCellHashing"}}, KindPrecondition},
		{"too many threads", []api.StepConfig{{Name: "RunCelltypist", Params: map[string]any{"threads": 8}}}, KindPrecondition},
		{"mixed images", []api.StepConfig{{Name: "RunPCA"}, {Name: "RunConga"}}, KindConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{}
			job := testJob(t, tt.steps...)

			res, err := testEngine(t, exec).RunJob(context.Background(), job)
			if KindOf(err) != tt.kind {
				t.Fatalf("expected %s failure, got %v", tt.kind, err)
			}
			if res.State != StateFailed {
				t.Errorf("State = %s", res.State)
			}
			if len(exec.requests) != 0 {
				t.Error("executor should not run")
			}
			if exists(job.WorkDir) {
				t.Error("work directory should not be created")
			}
		})
	}
}

func TestRunJob_MissingInputFile(t *testing.T) {
	job := testJob(t, api.StepConfig{Name: "RunPCA"})
	job.Inputs[1].File = filepath.Join(job.Dir, "missing.rds")

	_, err := testEngine(t, &fakeExecutor{}).RunJob(context.Background(), job)
	if KindOf(err) != KindPrecondition {
		t.Fatalf("expected precondition failure, got %v", err)
	}
}

func TestRunJob_ExecutionFailures(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		kind  Kind
		state State
	}{
		{"exit code", &execute.ExecutionError{ExitCode: 1, Stderr: "Error in library(Foo)"}, KindExecution, StateFailed},
		{"timeout", execute.ErrTimedOut, KindTimeout, StateTimedOut},
		{"cancelled", execute.ErrCancelled, KindExecution, StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{files: map[string]string{"s1.intermediate.rds": "rds"}, err: tt.err}
			res, err := testEngine(t, exec).RunJob(context.Background(), testJob(t, api.StepConfig{Name: "RunPCA"}))

			var je *JobError
			if !errors.As(err, &je) || je.Kind != tt.kind {
				t.Fatalf("expected %s failure, got %v", tt.kind, err)
			}
			if je.State != StateExecuting {
				t.Errorf("failed during %s", je.State)
			}
			if res.State != tt.state {
				t.Errorf("State = %s, want %s", res.State, tt.state)
			}
			if !errors.Is(err, tt.err) {
				t.Error("executor error not wrapped")
			}
			if !exists(filepath.Join(res.WorkDir, "s1.intermediate.rds")) {
				t.Error("intermediates of a failed job must be kept")
			}
		})
	}
}

func TestRunJob_ReconciliationFailure(t *testing.T) {
	exec := &fakeExecutor{files: savedObjectFiles()}

	res, err := testEngine(t, exec).RunJob(context.Background(), testJob(t, api.StepConfig{Name: "RunLDA"}))
	if KindOf(err) != KindReconciliation {
		t.Fatalf("expected reconciliation failure, got %v", err)
	}
	if exists(filepath.Join(res.WorkDir, ManifestFile)) {
		t.Error("nothing should be registered")
	}
	if !exists(filepath.Join(res.WorkDir, "s1.intermediate.rds")) {
		t.Error("intermediates of a failed job must be kept")
	}
}

func TestRunJob_CleanupAfterRegistration(t *testing.T) {
	exec := &fakeExecutor{files: savedObjectFiles()}

	var sawIntermediate bool
	e := testEngine(t, exec)
	e.Registrar = registrarFunc(func(_ context.Context, reg *Registration) error {
		sawIntermediate = exists(filepath.Join(reg.WorkDir, "s1.intermediate.rds"))
		return errors.New("database unavailable")
	})

	res, err := e.RunJob(context.Background(), testJob(t, api.StepConfig{Name: "RunPCA"}))
	if KindOf(err) != KindRegistration {
		t.Fatalf("expected registration failure, got %v", err)
	}
	if !sawIntermediate {
		t.Error("intermediates removed before registration")
	}
	if !exists(filepath.Join(res.WorkDir, "s1.intermediate.rds")) {
		t.Error("intermediates must be kept when registration fails")
	}
	if res.State != StateFailed {
		t.Errorf("State = %s", res.State)
	}
}

func TestRunJob_KeepIntermediates(t *testing.T) {
	exec := &fakeExecutor{files: savedObjectFiles()}
	e := testEngine(t, exec)
	e.KeepIntermediates = true

	res, err := e.RunJob(context.Background(), testJob(t, api.StepConfig{Name: "RunPCA"}))
	if err != nil {
		t.Fatal(err)
	}
	if !exists(filepath.Join(res.WorkDir, "s1.intermediate.rds")) {
		t.Error("intermediates should be kept")
	}
}

func TestRunJob_MergedDatasets(t *testing.T) {
	exec := &fakeExecutor{files: map[string]string{
		"pbmc-merged.merged.rds": "rds",
		"pbmc-merged.lda.rds":    "lda",
		"pbmc.report.html":       "<html>",
		"savedSeuratObjects.txt": "pbmc-merged\tMerged\tpbmc-merged.merged.rds\t11\n",
	}}

	job := testJob(t, api.StepConfig{Name: "MergeSeurat"}, api.StepConfig{Name: "RunLDA"})
	job.Inputs[1].ReadsetID = intPtr(11)
	res, err := testEngine(t, exec).RunJob(context.Background(), job)
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}

	var merged, lda bool
	for _, o := range res.Outputs {
		if o.File == "pbmc-merged.merged.rds" && o.Category == "Seurat Object" && o.ReadsetID != nil && *o.ReadsetID == 11 {
			merged = true
		}
		if o.File == "pbmc-merged.lda.rds" && o.DatasetID == "pbmc-merged" {
			lda = true
		}
	}
	if !merged || !lda {
		t.Errorf("unexpected outputs %+v", res.Outputs)
	}

	script, err := os.ReadFile(filepath.Join(res.WorkDir, "pbmc.rmd"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(script), "'pbmc-merged' = 'pbmc-merged.lda.rds'") {
		t.Error("script does not write the LDA output of the merged dataset")
	}
}

func TestRunJob_MergedChainPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		steps   []api.StepConfig
		readset int
		genome  *int
		kind    Kind
	}{
		{"readsets differ", []api.StepConfig{{Name: "MergeSeurat"}}, 12, nil, KindPrecondition},
		{"hashing after merge", []api.StepConfig{{Name: "MergeSeurat"}, {Name: "AppendCellHashing"}}, 11, nil, KindPrecondition},
		{"prototype of the merged dataset", []api.StepConfig{{Name: "MergeSeurat"}, {Name: "SeuratPrototype"}}, 11, intPtr(3), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{err: errors.New("stop after init")}
			job := testJob(t, tt.steps...)
			job.GenomeID = tt.genome
			job.Inputs[1].ReadsetID = intPtr(tt.readset)
			for i := range job.Inputs {
				job.Inputs[i].HashingCalls = job.Inputs[i].File
			}

			_, err := testEngine(t, exec).RunJob(context.Background(), job)
			if tt.kind == "" {
				if KindOf(err) != KindExecution {
					t.Fatalf("expected the chain to pass init and reach execution, got %v", err)
				}
				return
			}
			if KindOf(err) != tt.kind {
				t.Fatalf("expected %s failure, got %v", tt.kind, err)
			}
			if len(exec.requests) != 0 {
				t.Error("executor should not run")
			}
		})
	}
}

func TestEngine_Threads(t *testing.T) {
	tests := []struct {
		name   string
		engine int
		job    int
		want   int
	}{
		{"job decides", 0, 4, 4},
		{"engine caps", 2, 4, 2},
		{"engine default", 8, 0, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Engine{MaxThreads: tt.engine}
			if got := e.threads(&api.Job{MaxThreads: tt.job}); got != tt.want {
				t.Errorf("threads() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRunAll(t *testing.T) {
	exec := &fakeExecutor{files: savedObjectFiles()}
	e := testEngine(t, exec)

	jobs := []*api.Job{
		testJob(t, api.StepConfig{Name: "RunPCA"}),
		testJob(t, api.StepConfig{Name: "RemoveCellCycle"}),
		testJob(t, api.StepConfig{Name: "Unknown"}),
	}

	results, err := e.RunAll(context.Background(), jobs, 2)
	if err == nil {
		t.Fatal("expected error for the failing job")
	}
	if KindOf(err) != KindConfiguration {
		t.Errorf("joined error should expose the job failure, got %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].State != StateCompleted || results[1].State != StateCompleted || results[2].State != StateFailed {
		t.Errorf("unexpected states %s, %s, %s", results[0].State, results[1].State, results[2].State)
	}
	if len(exec.requests) != 2 {
		t.Errorf("expected 2 executions, got %d", len(exec.requests))
	}
}

func TestRunAll_SharedWorkDir(t *testing.T) {
	a := testJob(t, api.StepConfig{Name: "RunPCA"})
	b := testJob(t, api.StepConfig{Name: "RunPCA"})
	b.WorkDir = a.WorkDir

	_, err := testEngine(t, &fakeExecutor{}).RunAll(context.Background(), []*api.Job{a, b}, 2)
	if !errors.Is(err, ErrSharedWorkDir) {
		t.Fatalf("expected ErrSharedWorkDir, got %v", err)
	}
}
