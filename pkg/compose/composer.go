// Package compose assembles an ordered step chain into one R Markdown
// document.
//
// Chunks are emitted in a fixed order: setup, the input parameter chunk,
// then for each step its params chunk, data chunks and body chunks, and
// finally the chunk that saves every object and writes the tracking file.
// Composition is a pure function of the chain, the inputs and the options.
package compose

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/systemstart/cellpipe/pkg/api"
	"github.com/systemstart/cellpipe/pkg/reconcile"
	"github.com/systemstart/cellpipe/pkg/rmd"
	"github.com/systemstart/cellpipe/pkg/steps"
)

const (
	// IntermediateSuffix names the objects saved between steps.
	IntermediateSuffix = "intermediate"
	// IntermediatePattern matches the objects saved between steps.
	IntermediatePattern = "*." + IntermediateSuffix + ".rds"
	// DefaultObjectSuffix names final objects when no step creates datasets.
	DefaultObjectSuffix = "seurat"
)

var (
	ErrEmptyChain  = errors.New("step chain is empty")
	ErrNoInputs    = errors.New("no input objects")
	ErrMixedImages = errors.New("steps declare different container images")
)

// Options configures a composition.
type Options struct {
	OutputPrefix string
	Title        string
	Threads      int
}

// Image returns the single container image shared by every step in chain.
func Image(chain []steps.Step) (string, error) {
	if len(chain) == 0 {
		return "", ErrEmptyChain
	}
	image := chain[0].DockerImage()
	for _, s := range chain[1:] {
		if s.DockerImage() != image {
			return "", fmt.Errorf("%w: %s uses %s, %s uses %s", ErrMixedImages, chain[0].Name(), image, s.Name(), s.DockerImage())
		}
	}
	return image, nil
}

// Libraries returns the union of the chain's libraries in first-seen order.
// Names are compared case-sensitively.
func Libraries(chain []steps.Step) []string {
	var libs []string
	for _, s := range chain {
		for _, l := range s.Libraries() {
			if !slices.Contains(libs, l) {
				libs = append(libs, l)
			}
		}
	}
	return libs
}

// ObjectSuffix returns the file suffix of the final saved objects: the suffix
// of the last step that creates datasets, or DefaultObjectSuffix.
func ObjectSuffix(chain []steps.Step) string {
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].CreatesDatasets() {
			return chain[i].FileSuffix()
		}
	}
	return DefaultObjectSuffix
}

// Compose builds the document for chain applied to inputs. Each step renders
// its chunks against the objects it receives, which differ from inputs once a
// step has merged or renamed datasets.
func Compose(chain []steps.Step, inputs []api.SeuratObject, opts Options) (*rmd.Document, error) {
	if len(chain) == 0 {
		return nil, ErrEmptyChain
	}
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	if opts.OutputPrefix == "" {
		return nil, fmt.Errorf("output prefix is required")
	}
	if _, err := Image(chain); err != nil {
		return nil, err
	}

	title := opts.Title
	if title == "" {
		title = opts.OutputPrefix
	}

	doc := &rmd.Document{
		FrontMatter: rmd.FrontMatter{
			Title: title,
			Output: rmd.Output{HTMLDocument: rmd.HTMLDocument{
				TOC:           true,
				TOCFloat:      true,
				CodeFolding:   "hide",
				SelfContained: true,
			}},
		},
	}

	doc.Append(setupChunk(Libraries(chain), opts))
	doc.Append(parameterChunk(inputs))

	sets := steps.ObjectSets(chain, inputs)
	for i, s := range chain {
		if c, ok := stepParamsChunk(i, s); ok {
			doc.Append(c)
		}
		chunks, err := s.Chunks(i, sets[i])
		if err != nil {
			return nil, err
		}
		doc.Append(chunks...)
	}

	doc.Append(finalChunk(ObjectSuffix(chain)))
	return doc, nil
}

func setupChunk(libs []string, opts Options) rmd.Chunk {
	var sb strings.Builder
	for _, l := range libs {
		fmt.Fprintf(&sb, "library(%s)\n", l)
	}
	sb.WriteString("\n")

	threads := opts.Threads
	if threads < 1 {
		threads = 1
	}
	fmt.Fprintf(&sb, "outputPrefix <- %s\n", rmd.Quote(opts.OutputPrefix))
	fmt.Fprintf(&sb, "nCores <- %d\n", threads)
	sb.WriteString("options(future.globals.maxSize = Inf)\n\n")

	sb.WriteString(`printName <- function(datasetId) {
	print(paste0('Processing: ', datasetIdToName[[datasetId]], ' (', datasetId, ')'))
}

readSeuratRDS <- function(fn) {
	readRDS(fn)
}

saveData <- function(seuratObj, datasetId) {
`)
	fmt.Fprintf(&sb, "\tfn <- paste0(datasetId, %s)\n", rmd.Quote("."+IntermediateSuffix+".rds"))
	sb.WriteString(`	saveRDS(seuratObj, file = fn)
	seuratObjects[[datasetId]] <<- fn
}
`)
	return rmd.HiddenChunk("setup", sb.String())
}

func parameterChunk(inputs []api.SeuratObject) rmd.Chunk {
	var sb strings.Builder
	sb.WriteString("seuratObjects <- list()\n")
	sb.WriteString("datasetIdToName <- list()\n")
	sb.WriteString("datasetIdToReadset <- list()\n")

	for _, in := range inputs {
		id := rmd.Quote(in.DatasetID)
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "seuratObjects[[%s]] <- %s\n", id, rmd.Quote(in.StagedFile()))
		fmt.Fprintf(&sb, "datasetIdToName[[%s]] <- %s\n", id, rmd.Quote(in.Name()))
		if in.HasReadset() {
			fmt.Fprintf(&sb, "datasetIdToReadset[[%s]] <- %dL\n", id, *in.ReadsetID)
		}
	}
	return rmd.HiddenChunk("parameters", sb.String())
}

func stepParamsChunk(position int, s steps.Step) (rmd.Chunk, bool) {
	descs := s.Provider().Parameters()
	if len(descs) == 0 {
		return rmd.Chunk{}, false
	}

	values := s.Values()
	var sb strings.Builder
	for _, d := range descs {
		fmt.Fprintf(&sb, "%s <- %s\n", d.Name, rmd.Literal(values[d.Name]))
	}
	return rmd.HiddenChunk(fmt.Sprintf("%02d_%s_params", position+1, s.Name()), sb.String()), true
}

func finalChunk(suffix string) rmd.Chunk {
	var sb strings.Builder
	sb.WriteString("savedFiles <- data.frame(datasetId = character(), datasetName = character(), file = character(), readsetId = character())\n")
	sb.WriteString("for (datasetId in names(seuratObjects)) {\n")
	fmt.Fprintf(&sb, "\tfn <- paste0(datasetId, %s)\n", rmd.Quote("."+suffix+".rds"))
	sb.WriteString(`	if (seuratObjects[[datasetId]] != fn) {
		file.copy(seuratObjects[[datasetId]], fn, overwrite = TRUE)
	}
	readsetId <- ifelse(is.null(datasetIdToReadset[[datasetId]]), '', format(datasetIdToReadset[[datasetId]], scientific = FALSE))
	savedFiles <- rbind(savedFiles, data.frame(datasetId = datasetId, datasetName = datasetIdToName[[datasetId]], file = fn, readsetId = readsetId))
}
`)
	fmt.Fprintf(&sb, "write.table(savedFiles, file = %s, quote = FALSE, sep = '\\t', row.names = FALSE, col.names = FALSE)\n\n", rmd.Quote(reconcile.TrackingFile))
	sb.WriteString("sessionInfo()\n")
	return rmd.NewChunk("final", sb.String())
}
