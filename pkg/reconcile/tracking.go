package reconcile

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/systemstart/cellpipe/pkg/api"
)

// TrackingFile is written by the script's final chunk, one saved object per
// line: datasetId, datasetName, file and readsetId separated by tabs.
const TrackingFile = "savedSeuratObjects.txt"

// SavedObjectsStep names the outputs produced from the tracking file.
const SavedObjectsStep = "SavedObjects"

// ReadTracking parses the tracking file in workDir. Files are relative to
// workDir; an empty or NA readsetId means no readset.
func ReadTracking(workDir string) ([]api.SeuratObject, error) {
	f, err := os.Open(filepath.Join(workDir, TrackingFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingOutput, TrackingFile)
		}
		return nil, fmt.Errorf("opening tracking file: %w", err)
	}
	defer f.Close()

	var objects []api.SeuratObject
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		fields := strings.Split(text, "\t")
		if len(fields) < 3 || len(fields) > 4 {
			return nil, fmt.Errorf("tracking file line %d: expected 3 or 4 fields, got %d", line, len(fields))
		}
		obj := api.SeuratObject{
			DatasetID:   fields[0],
			DatasetName: fields[1],
			File:        fields[2],
		}
		if obj.DatasetID == "" || obj.File == "" {
			return nil, fmt.Errorf("tracking file line %d: datasetId and file are required", line)
		}
		if len(fields) == 4 {
			if raw := strings.TrimSpace(fields[3]); raw != "" && raw != "NA" {
				id, err := strconv.Atoi(raw)
				if err != nil {
					return nil, fmt.Errorf("tracking file line %d: invalid readsetId %q", line, raw)
				}
				obj.ReadsetID = &id
			}
		}
		objects = append(objects, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading tracking file: %w", err)
	}
	return objects, nil
}

// SavedObjects reads the tracking file and returns the saved objects as
// outputs of the given category. expected is the object set the script ends
// with: every expected dataset must be saved exactly once to an existing file,
// keep its readset and no other dataset may appear. Saved objects take the
// genome of their expected object.
func SavedObjects(workDir, category string, position int, expected []api.SeuratObject) ([]api.SeuratObject, []Output, error) {
	objects, err := ReadTracking(workDir)
	if err != nil {
		return nil, nil, err
	}

	fsys := os.DirFS(workDir)
	seen := make(map[string]bool, len(objects))
	outputs := make([]Output, 0, len(objects))
	for i := range objects {
		obj := &objects[i]
		if seen[obj.DatasetID] {
			return nil, nil, fmt.Errorf("%w: dataset %s is listed twice in %s", ErrAmbiguousOutput, obj.DatasetID, TrackingFile)
		}
		seen[obj.DatasetID] = true

		idx := slices.IndexFunc(expected, func(e api.SeuratObject) bool { return e.DatasetID == obj.DatasetID })
		if idx < 0 {
			return nil, nil, fmt.Errorf("%w: saved object %s", ErrUnmatchedOutput, obj.DatasetID)
		}
		want := expected[idx]
		if want.HasReadset() && (!obj.HasReadset() || *obj.ReadsetID != *want.ReadsetID) {
			return nil, nil, fmt.Errorf("%w: dataset %s was linked to readset %d", ErrReadsetLost, obj.DatasetID, *want.ReadsetID)
		}
		obj.GenomeID = want.GenomeID

		ok, err := complete(fsys, obj.File)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, fmt.Errorf("%w: saved object %s: %s", ErrMissingOutput, obj.DatasetID, obj.File)
		}

		outputs = append(outputs, Output{
			Step:      SavedObjectsStep,
			Position:  position,
			File:      obj.File,
			Category:  category,
			Label:     obj.Name(),
			DatasetID: obj.DatasetID,
			ReadsetID: obj.ReadsetID,
			GenomeID:  obj.GenomeID,
		})
	}

	for _, e := range expected {
		if !seen[e.DatasetID] {
			return nil, nil, fmt.Errorf("%w: dataset %s was not saved", ErrMissingOutput, e.DatasetID)
		}
	}

	SortOutputs(outputs)
	return objects, outputs, nil
}

// Intermediates lists files in workDir matching patterns, excluding every
// registered output.
func Intermediates(workDir string, patterns []string, outputs []Output) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	keep := make([]string, 0, len(outputs))
	for _, o := range outputs {
		keep = append(keep, o.File)
	}
	return filterFiles(os.DirFS(workDir), patterns, nil, keep)
}
