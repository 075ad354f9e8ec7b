package steps

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/systemstart/cellpipe/pkg/api"
	"github.com/systemstart/cellpipe/pkg/params"
	"github.com/systemstart/cellpipe/pkg/rmd"
)

// JobContext provides the runtime context a step instance is bound to.
type JobContext struct {
	JobID        string
	OutputPrefix string
	WorkDir      string
	MaxThreads   int
	GenomeID     *int
	Logger       *slog.Logger
}

func (jc *JobContext) logger() *slog.Logger {
	if jc == nil || jc.Logger == nil {
		return slog.Default()
	}
	return jc.Logger
}

// Step is one analysis step bound to a job and its resolved parameters.
type Step interface {
	Name() string
	Provider() *Provider
	Values() params.Values

	Libraries() []string
	DockerImage() string

	RequiresHashing() bool
	RequiresCiteSeq() bool
	CreatesDatasets() bool
	// DatasetCategory is the output category of datasets the step creates.
	DatasetCategory() string
	FileSuffix() string
	Outputs() []OutputSpec
	Intermediates() []string

	// Init validates the object set the step receives before any script is
	// composed.
	Init(inputs []api.SeuratObject) error

	// Objects returns the object set present after the step ran on inputs.
	Objects(inputs []api.SeuratObject) []api.SeuratObject

	// Chunks renders the step's data chunks followed by its body chunks.
	// position is the step's index in the chain and keeps chunk names unique.
	Chunks(position int, inputs []api.SeuratObject) ([]rmd.Chunk, error)
}

// ObjectSets returns the object set every step of chain receives, followed by
// the set left after the last step. Steps that create datasets may rename or
// merge objects, so later steps see their results instead of the job inputs.
func ObjectSets(chain []Step, inputs []api.SeuratObject) [][]api.SeuratObject {
	sets := make([][]api.SeuratObject, 0, len(chain)+1)
	objects := inputs
	for _, s := range chain {
		sets = append(sets, objects)
		objects = s.Objects(objects)
	}
	return append(sets, objects)
}

// RLibraries lists R packages a step loads. The container image is expected
// to provide them.
type RLibraries []string

func (l RLibraries) Libraries() []string { return slices.Clone(l) }

// ContainerImage is the docker image a step runs in.
type ContainerImage string

func (c ContainerImage) DockerImage() string { return string(c) }

// Cardinality bounds the number of input objects a step accepts. Max 0 means
// unbounded.
type Cardinality struct {
	Min int
	Max int
}

// ExactlyOne accepts a single input object.
var ExactlyOne = Cardinality{Min: 1, Max: 1}

func (c Cardinality) check(n int) error {
	if n < c.Min {
		return fmt.Errorf("requires at least %d input(s), got %d", c.Min, n)
	}
	if c.Max > 0 && n > c.Max {
		if c.Max == 1 {
			return fmt.Errorf("requires exactly one input, got %d", n)
		}
		return fmt.Errorf("accepts at most %d inputs, got %d", c.Max, n)
	}
	return nil
}

// OutputSpec declares a file a step writes, by naming convention.
//
// PerDataset outputs are named <datasetId>.<suffix>.<ext>; otherwise the
// single file <outputPrefix>.<suffix>.<ext> is expected.
type OutputSpec struct {
	Suffix     string
	Ext        string
	Category   string
	Label      string
	PerDataset bool
}

// FileName returns the expected file name for the given prefix.
func (o OutputSpec) FileName(prefix string) string {
	return prefix + "." + o.Suffix + "." + o.Ext
}

// PreconditionError reports an input set a step cannot process.
type PreconditionError struct {
	Step   string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("step %s: %s", e.Step, e.Reason)
}
