// Package reconcile maps the files a finished job left in its work directory
// back to the steps and datasets that declared them.
package reconcile

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/systemstart/cellpipe/pkg/api"
	"github.com/systemstart/cellpipe/pkg/steps"
)

var (
	ErrUnmatchedOutput = errors.New("output matches no dataset")
	ErrAmbiguousOutput = errors.New("output matches more than one dataset")
	ErrMissingOutput   = errors.New("declared output not found")
	ErrReadsetLost     = errors.New("saved object lost its readset")
)

// Spec is an output declared by the step at Position in the chain.
type Spec struct {
	Step     string
	Position int
	steps.OutputSpec
}

// Specs collects the declared outputs of chain in order.
func Specs(chain []steps.Step) []Spec {
	var specs []Spec
	for i, s := range chain {
		for _, o := range s.Outputs() {
			specs = append(specs, Spec{Step: s.Name(), Position: i, OutputSpec: o})
		}
	}
	return specs
}

// Output is one produced file, relative to the work directory.
type Output struct {
	Step      string `yaml:"step"`
	Position  int    `yaml:"-"`
	File      string `yaml:"file"`
	Category  string `yaml:"category"`
	Label     string `yaml:"label,omitempty"`
	DatasetID string `yaml:"datasetId,omitempty"`
	ReadsetID *int   `yaml:"readsetId,omitempty"`
	GenomeID  *int   `yaml:"genomeId,omitempty"`
}

// Reconcile matches the declared specs against the files in workDir.
//
// Per-dataset specs are matched by scanning for <datasetId>.<suffix>.<ext>
// and attributing each file to the object whose datasetId equals the leading
// token. Every object must have its file. Other specs require exactly
// <outputPrefix>.<suffix>.<ext>. Partial files count as absent.
func Reconcile(workDir, outputPrefix string, specs []Spec, objects []api.SeuratObject) ([]Output, error) {
	fsys := os.DirFS(workDir)

	var outputs []Output
	for _, spec := range specs {
		var (
			found []Output
			err   error
		)
		if spec.PerDataset {
			found, err = matchPerDataset(fsys, spec, objects)
		} else {
			found, err = matchSingle(fsys, spec, outputPrefix)
		}
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, found...)
	}

	SortOutputs(outputs)
	return outputs, nil
}

func matchSingle(fsys fs.FS, spec Spec, outputPrefix string) ([]Output, error) {
	name := spec.FileName(outputPrefix)
	ok, err := complete(fsys, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: step %s: %s", ErrMissingOutput, spec.Step, name)
	}
	return []Output{spec.output(name, "", nil, nil)}, nil
}

func matchPerDataset(fsys fs.FS, spec Spec, objects []api.SeuratObject) ([]Output, error) {
	tail := "." + spec.Suffix + "." + spec.Ext

	files, err := globFS(fsys, []string{"*" + tail})
	if err != nil {
		return nil, err
	}

	byDataset := make(map[string]string, len(files))
	for _, f := range files {
		ok, err := complete(fsys, f)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		id := strings.TrimSuffix(path.Base(f), tail)
		var owners int
		for _, o := range objects {
			if o.DatasetID == id {
				owners++
			}
		}
		switch owners {
		case 0:
			return nil, fmt.Errorf("%w: step %s: %s", ErrUnmatchedOutput, spec.Step, f)
		case 1:
			byDataset[id] = f
		default:
			return nil, fmt.Errorf("%w: step %s: %s matches %d datasets", ErrAmbiguousOutput, spec.Step, f, owners)
		}
	}

	found := make([]Output, 0, len(objects))
	for _, o := range objects {
		f, ok := byDataset[o.DatasetID]
		if !ok {
			return nil, fmt.Errorf("%w: step %s: %s for dataset %s", ErrMissingOutput, spec.Step, spec.FileName(o.DatasetID), o.DatasetID)
		}
		found = append(found, spec.output(f, o.DatasetID, o.ReadsetID, o.GenomeID))
	}
	return found, nil
}

func (s Spec) output(file, datasetID string, readsetID, genomeID *int) Output {
	return Output{
		Step:      s.Step,
		Position:  s.Position,
		File:      file,
		Category:  s.Category,
		Label:     s.Label,
		DatasetID: datasetID,
		ReadsetID: readsetID,
		GenomeID:  genomeID,
	}
}

// SortOutputs orders outputs by step position, then datasetId, then file.
func SortOutputs(outputs []Output) {
	slices.SortStableFunc(outputs, func(a, b Output) int {
		return cmp.Or(
			cmp.Compare(a.Position, b.Position),
			cmp.Compare(a.DatasetID, b.DatasetID),
			cmp.Compare(a.File, b.File),
		)
	})
}
