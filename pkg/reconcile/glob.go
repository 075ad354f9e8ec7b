package reconcile

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Partial file suffixes. A file still being written is never an output.
var partialSuffixes = []string{".tmp", ".partial"}

func globFS(fsys fs.FS, patterns []string) ([]string, error) {
	var result []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		result = append(result, matches...)
	}
	slices.Sort(result)
	result = slices.Compact(result)
	return result, nil
}

// filterFiles returns the files matching include that are not matched by
// exclude and not listed in keep.
func filterFiles(fsys fs.FS, include, exclude, keep []string) ([]string, error) {
	included, err := globFS(fsys, include)
	if err != nil {
		return nil, fmt.Errorf("include filter: %w", err)
	}

	excluded, err := globFS(fsys, exclude)
	if err != nil {
		return nil, fmt.Errorf("exclude filter: %w", err)
	}

	var result []string
	for _, f := range included {
		if slices.Contains(excluded, f) || slices.Contains(keep, f) {
			continue
		}
		result = append(result, f)
	}
	return result, nil
}

// complete reports whether name is a finished, non-empty file.
func complete(fsys fs.FS, name string) (bool, error) {
	for _, s := range partialSuffixes {
		if strings.HasSuffix(name, s) {
			return false, nil
		}
		if _, err := fs.Stat(fsys, name+s); err == nil {
			return false, nil
		}
	}

	info, err := fs.Stat(fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", name, err)
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}
