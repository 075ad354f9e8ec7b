package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/systemstart/cellpipe/pkg/api"
)

// RunAll runs independent jobs with at most parallel running at once. A
// failed job does not stop the others. Jobs must not share a work directory.
func (e *Engine) RunAll(ctx context.Context, jobs []*api.Job, parallel int) ([]*Result, error) {
	if err := checkWorkDirs(jobs); err != nil {
		return nil, err
	}

	results := make([]*Result, len(jobs))
	errs := make([]error, len(jobs))

	var g errgroup.Group
	g.SetLimit(max(parallel, 1))
	for i, job := range jobs {
		g.Go(func() error {
			results[i], errs[i] = e.RunJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for i, err := range errs {
		if err != nil {
			failed = append(failed, jobs[i].Name)
		}
	}

	slog.Info("jobs finished", "total", len(jobs), "failed", len(failed))
	if len(failed) > 0 {
		return results, fmt.Errorf("%d job(s) failed: %v: %w", len(failed), failed, errors.Join(errs...))
	}
	return results, nil
}

func checkWorkDirs(jobs []*api.Job) error {
	owners := make(map[string]string, len(jobs))
	for _, job := range jobs {
		dir, err := filepath.Abs(job.WorkDir)
		if err != nil {
			return fmt.Errorf("job %s: resolving work directory: %w", job.Name, err)
		}
		if other, ok := owners[dir]; ok {
			return fmt.Errorf("%w: %s and %s use %s", ErrSharedWorkDir, other, job.Name, dir)
		}
		owners[dir] = job.Name
	}
	return nil
}
