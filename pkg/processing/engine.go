package processing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/systemstart/cellpipe/pkg/api"
	"github.com/systemstart/cellpipe/pkg/compose"
	"github.com/systemstart/cellpipe/pkg/execute"
	"github.com/systemstart/cellpipe/pkg/logging"
	"github.com/systemstart/cellpipe/pkg/reconcile"
	"github.com/systemstart/cellpipe/pkg/steps"
)

const (
	containerPrefix       = "cellpipe-"
	reportSuffix          = "report"
	reportCategory        = "Seurat Report"
	defaultObjectCategory = "Seurat Object"
)

// Executor runs a composed script. *execute.Runner implements it.
type Executor interface {
	Run(ctx context.Context, req execute.Request) (*execute.Result, error)
}

// Engine runs jobs: it builds the step chain, composes the script, executes
// it and reconciles and registers the outputs.
type Engine struct {
	Catalog   *steps.Catalog
	Executor  Executor
	Registrar Registrar
	Defaults  Defaults
	// MaxThreads caps every job's allocation. 0 means the job decides.
	MaxThreads int
	// KeepIntermediates skips the cleanup after registration.
	KeepIntermediates bool
}

// Result describes a finished run.
type Result struct {
	JobID    string
	Name     string
	WorkDir  string
	State    State
	Outputs  []reconcile.Output
	Duration time.Duration
}

type run struct {
	*stateMachine
	id      string
	job     *api.Job
	log     *slog.Logger
	workDir string
	threads int
}

func (r *run) fail(kind Kind, err error) error {
	je := &JobError{JobID: r.id, Name: r.job.Name, Kind: kind, State: r.State(), Err: err}
	next := StateFailed
	if kind == KindTimeout {
		next = StateTimedOut
	}
	if tErr := r.transition(next); tErr != nil {
		r.log.Warn("recording failure", "error", tErr)
	}
	r.log.Error("job failed", "kind", kind, "state", je.State, "error", err)
	return je
}

func (r *run) result(start time.Time, outputs []reconcile.Output) *Result {
	return &Result{
		JobID:    r.id,
		Name:     r.job.Name,
		WorkDir:  r.workDir,
		State:    r.State(),
		Outputs:  outputs,
		Duration: time.Since(start),
	}
}

// RunJob runs job to completion. Every failure is returned as *JobError;
// the Result is returned in both cases and carries the final state.
func (e *Engine) RunJob(ctx context.Context, job *api.Job) (*Result, error) {
	start := time.Now()
	id := uuid.NewString()
	r := &run{
		stateMachine: newStateMachine(),
		id:           id,
		job:          job,
		log:          logging.ForJob(id, job.Name),
	}

	outputs, err := e.runJob(ctx, r)
	res := r.result(start, outputs)
	if err != nil {
		return res, err
	}
	r.log.Info("job completed", "outputs", len(outputs), "duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

func (e *Engine) runJob(ctx context.Context, r *run) ([]reconcile.Output, error) {
	job := r.job
	if e.Catalog == nil || e.Executor == nil {
		return nil, r.fail(KindConfiguration, fmt.Errorf("engine requires a catalog and an executor"))
	}
	if err := job.Validate(); err != nil {
		return nil, r.fail(KindConfiguration, err)
	}
	timeout, _ := job.TimeoutDuration()

	workDir, err := filepath.Abs(job.WorkDir)
	if err != nil {
		return nil, r.fail(KindConfiguration, fmt.Errorf("resolving work directory: %w", err))
	}
	r.workDir = workDir
	r.threads = e.threads(job)

	jc := &steps.JobContext{
		JobID:        r.id,
		OutputPrefix: job.OutputPrefix,
		WorkDir:      workDir,
		MaxThreads:   r.threads,
		GenomeID:     job.GenomeID,
		Logger:       r.log,
	}

	r.log.Info("building step chain", "steps", job.StepNames(), "inputs", len(job.Inputs), "threads", r.threads)
	chain, err := e.Catalog.Chain(jc, e.Defaults.Apply(job.Steps))
	if err != nil {
		return nil, r.fail(KindConfiguration, err)
	}

	if err := initChain(chain, job.Inputs); err != nil {
		return nil, r.fail(KindPrecondition, err)
	}
	if err := r.transition(StateInitialized); err != nil {
		return nil, r.fail(KindConfiguration, err)
	}

	image, err := compose.Image(chain)
	if err != nil {
		return nil, r.fail(KindConfiguration, err)
	}
	doc, err := compose.Compose(chain, job.Inputs, compose.Options{
		OutputPrefix: job.OutputPrefix,
		Title:        job.Name,
		Threads:      r.threads,
	})
	if err != nil {
		return nil, r.fail(KindConfiguration, err)
	}
	if err := r.transition(StateComposed); err != nil {
		return nil, r.fail(KindConfiguration, err)
	}

	if err := stageInputs(workDir, job.Inputs, r.log); err != nil {
		return nil, r.fail(KindExecution, err)
	}
	script := job.OutputPrefix + ".rmd"
	if err := doc.WriteFile(filepath.Join(workDir, script)); err != nil {
		return nil, r.fail(KindExecution, err)
	}

	if err := r.transition(StateExecuting); err != nil {
		return nil, r.fail(KindExecution, err)
	}
	_, err = e.Executor.Run(ctx, execute.Request{
		WorkDir: workDir,
		Script:  script,
		Report:  reportSpec(len(chain)).FileName(job.OutputPrefix),
		Image:   image,
		Name:    containerPrefix + r.id,
		Threads: r.threads,
		Timeout: timeout,
	})
	if err != nil {
		if errors.Is(err, execute.ErrTimedOut) {
			return nil, r.fail(KindTimeout, err)
		}
		return nil, r.fail(KindExecution, err)
	}
	if err := r.transition(StateSucceeded); err != nil {
		return nil, r.fail(KindExecution, err)
	}

	if err := r.transition(StateReconciling); err != nil {
		return nil, r.fail(KindReconciliation, err)
	}
	outputs, err := reconcileOutputs(workDir, job, chain)
	if err != nil {
		return nil, r.fail(KindReconciliation, err)
	}

	reg := &Registration{
		JobID:        r.id,
		Name:         job.Name,
		OutputPrefix: job.OutputPrefix,
		WorkDir:      workDir,
		Steps:        job.StepNames(),
		Completed:    time.Now().UTC(),
		Outputs:      outputs,
	}
	if err := e.registrar().Register(ctx, reg); err != nil {
		return outputs, r.fail(KindRegistration, err)
	}

	if !e.KeepIntermediates {
		e.removeIntermediates(workDir, chain, outputs, r.log)
	}

	if err := r.transition(StateCompleted); err != nil {
		return outputs, r.fail(KindReconciliation, err)
	}
	return outputs, nil
}

func (e *Engine) registrar() Registrar {
	if e.Registrar == nil {
		return ManifestRegistrar{}
	}
	return e.Registrar
}

// threads is the job's allocation: its own maxThreads capped by the engine,
// or every CPU when neither sets one.
func (e *Engine) threads(job *api.Job) int {
	n := job.MaxThreads
	if e.MaxThreads > 0 && (n == 0 || n > e.MaxThreads) {
		n = e.MaxThreads
	}
	if n == 0 {
		n = runtime.NumCPU()
	}
	return n
}

func initChain(chain []steps.Step, inputs []api.SeuratObject) error {
	for _, in := range inputs {
		for _, f := range inputFiles(in) {
			if _, err := os.Stat(f); err != nil {
				return fmt.Errorf("input %s: %w", in.DatasetID, err)
			}
		}
	}
	sets := steps.ObjectSets(chain, inputs)
	for i, s := range chain {
		if err := s.Init(sets[i]); err != nil {
			return err
		}
	}
	return nil
}

func inputFiles(in api.SeuratObject) []string {
	var files []string
	for _, f := range []string{in.File, in.HashingCalls, in.CiteSeqCounts, in.NimbleCounts} {
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

func reportSpec(position int) reconcile.Spec {
	return reconcile.Spec{
		Step:     "Report",
		Position: position,
		OutputSpec: steps.OutputSpec{
			Suffix:   reportSuffix,
			Ext:      "html",
			Category: reportCategory,
			Label:    "Report",
		},
	}
}

// reconcileOutputs collects the report, the saved objects and every declared
// step output. Per-dataset outputs are matched against the objects the
// declaring step received; the saved objects against those left after the
// last step.
func reconcileOutputs(workDir string, job *api.Job, chain []steps.Step) ([]reconcile.Output, error) {
	category := defaultObjectCategory
	for _, s := range chain {
		if s.CreatesDatasets() {
			category = s.DatasetCategory()
		}
	}

	sets := steps.ObjectSets(chain, job.Inputs)
	_, outputs, err := reconcile.SavedObjects(workDir, category, len(chain), sets[len(chain)])
	if err != nil {
		return nil, err
	}

	for _, spec := range append(reconcile.Specs(chain), reportSpec(len(chain))) {
		found, err := reconcile.Reconcile(workDir, job.OutputPrefix, []reconcile.Spec{spec}, sets[spec.Position])
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, found...)
	}

	for i := range outputs {
		if outputs[i].GenomeID == nil {
			outputs[i].GenomeID = job.GenomeID
		}
	}

	reconcile.SortOutputs(outputs)
	return outputs, nil
}

// stageInputs copies every input file to inputs/<datasetId>/ below workDir,
// where the composed script expects it.
func stageInputs(workDir string, inputs []api.SeuratObject, log *slog.Logger) error {
	for _, in := range inputs {
		dir := filepath.Join(workDir, api.InputsDirName, in.DatasetID)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
		for _, f := range inputFiles(in) {
			if err := copyFile(f, filepath.Join(dir, filepath.Base(f))); err != nil {
				return err
			}
		}
		log.Debug("staged input", "datasetId", in.DatasetID, "dir", dir)
	}
	return nil
}

func copyFile(srcPath, target string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", srcPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", srcPath, err)
	}

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return nil
}

// removeIntermediates deletes objects saved between steps, files matching
// the chain's intermediate patterns and the staged inputs. Registered outputs
// are never removed.
func (e *Engine) removeIntermediates(workDir string, chain []steps.Step, outputs []reconcile.Output, log *slog.Logger) {
	patterns := []string{compose.IntermediatePattern}
	for _, s := range chain {
		patterns = append(patterns, s.Intermediates()...)
	}
	patterns = slices.Compact(patterns)

	files, err := reconcile.Intermediates(workDir, patterns, outputs)
	if err != nil {
		log.Warn("listing intermediate files", "error", err)
		return
	}
	removeBuildArtifacts(workDir, append(files, api.InputsDirName), log)
}

func removeBuildArtifacts(dir string, relativePaths []string, log *slog.Logger) {
	for _, rel := range relativePaths {
		p := filepath.Join(dir, rel)
		log.Debug("removing intermediate", "path", p)
		if err := os.RemoveAll(p); err != nil {
			log.Warn("failed to remove intermediate", "path", p, "error", err)
		}
	}
}
