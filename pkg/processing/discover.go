package processing

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/systemstart/cellpipe/pkg/api"
)

const jobFilePattern = "**/*" + api.JobFileSuffix

// DiscoverJobs finds *.job.yaml files below root, at most maxDepth directories
// deep. A maxDepth of -1 means unlimited. 0 means only root itself.
//
// Default work directories, staged input directories and hidden directories
// are never searched: they hold job results, not job definitions. Jobs are
// returned parents first, then by path.
func DiscoverJobs(root string, maxDepth int) ([]*api.Job, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}

	var rels []string
	err = doublestar.GlobWalk(os.DirFS(absRoot), jobFilePattern, func(p string, _ fs.DirEntry) error {
		dir := path.Dir(p)
		if maxDepth >= 0 && pathDepth(dir) > maxDepth {
			return nil
		}
		if skipJobDir(dir) {
			return nil
		}
		rels = append(rels, p)
		return nil
	}, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
	if err != nil {
		return nil, fmt.Errorf("searching %s for job files: %w", absRoot, err)
	}

	slices.SortFunc(rels, func(a, b string) int {
		if d := pathDepth(path.Dir(a)) - pathDepth(path.Dir(b)); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})

	paths := make([]string, len(rels))
	for i, rel := range rels {
		paths[i] = filepath.Join(absRoot, filepath.FromSlash(rel))
	}
	return LoadJobs(paths)
}

func skipJobDir(dir string) bool {
	if dir == "." {
		return false
	}
	for _, part := range strings.Split(dir, "/") {
		if part == api.DefaultWorkDirName || part == api.InputsDirName || strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// LoadJobs loads the given job files in order.
func LoadJobs(paths []string) ([]*api.Job, error) {
	jobs := make([]*api.Job, 0, len(paths))
	for _, p := range paths {
		job, err := api.LoadJob(p)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", p, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func pathDepth(p string) int {
	if p == "." {
		return 0
	}
	return strings.Count(filepath.ToSlash(p), "/") + 1
}
