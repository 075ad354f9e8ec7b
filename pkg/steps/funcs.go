package steps

import (
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/systemstart/cellpipe/pkg/api"
	"github.com/systemstart/cellpipe/pkg/rmd"
)

// Staged file kinds accepted by the fileMap template function.
const (
	FileSeurat  = "seurat"
	FileHashing = "hashing"
	FileCiteSeq = "citeseq"
	FileNimble  = "nimble"
)

func templateFuncs() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	funcs["rQuote"] = rmd.Quote
	funcs["rLiteral"] = rmd.Literal
	funcs["rVector"] = rmd.Vector
	funcs["fileMap"] = fileMap
	funcs["outputMap"] = outputMap
	return funcs
}

// fileMap renders an R list mapping each datasetId to one of its staged files.
func fileMap(kind string, inputs []api.SeuratObject) (string, error) {
	keys := make([]string, 0, len(inputs))
	values := make([]string, 0, len(inputs))
	for _, in := range inputs {
		f, err := stagedFile(kind, in)
		if err != nil {
			return "", err
		}
		if f == "" {
			continue
		}
		keys = append(keys, in.DatasetID)
		values = append(values, rmd.Quote(f))
	}
	return rmd.NamedList(keys, values), nil
}

// outputMap renders an R list mapping each datasetId to <datasetId>.<suffix>.<ext>.
func outputMap(suffix, ext string, inputs []api.SeuratObject) string {
	keys := make([]string, 0, len(inputs))
	values := make([]string, 0, len(inputs))
	for _, in := range inputs {
		keys = append(keys, in.DatasetID)
		values = append(values, rmd.Quote(OutputSpec{Suffix: suffix, Ext: ext}.FileName(in.DatasetID)))
	}
	return rmd.NamedList(keys, values)
}

func stagedFile(kind string, in api.SeuratObject) (string, error) {
	switch kind {
	case FileSeurat:
		return in.StagedFile(), nil
	case FileHashing:
		return in.StagedHashingCalls(), nil
	case FileCiteSeq:
		return in.StagedCiteSeqCounts(), nil
	case FileNimble:
		return in.StagedNimbleCounts(), nil
	default:
		return "", fmt.Errorf("unknown file kind %q", kind)
	}
}
