package compose

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/systemstart/cellpipe/pkg/api"
	"github.com/systemstart/cellpipe/pkg/steps"
)

func intPtr(i int) *int { return &i }

func testInputs() []api.SeuratObject {
	return []api.SeuratObject{
		{DatasetID: "s1", DatasetName: "Sample 1", ReadsetID: intPtr(11), File: "/data/s1.rds", NimbleCounts: "/data/s1.nimble.tsv"},
		{DatasetID: "s2", DatasetName: "Sample 2", File: "/data/s2.rds", NimbleCounts: "/data/s2.nimble.tsv"},
	}
}

func testChain(t *testing.T, configs ...api.StepConfig) []steps.Step {
	t.Helper()
	c, err := steps.Default()
	if err != nil {
		t.Fatal(err)
	}
	chain, err := c.Chain(&steps.JobContext{OutputPrefix: "pbmc", MaxThreads: 4}, configs)
	if err != nil {
		t.Fatalf("Chain() error = %v", err)
	}
	return chain
}

func TestCompose_ChunkOrder(t *testing.T) {
	chain := testChain(t,
		api.StepConfig{Name: "NormalizeAndScale"},
		api.StepConfig{Name: "AppendNimble"},
		api.StepConfig{Name: "DimPlots", Params: map[string]any{"fields": "Phase"}},
		api.StepConfig{Name: "RemoveCellCycle"},
	)

	doc, err := Compose(chain, testInputs(), Options{OutputPrefix: "pbmc", Threads: 4})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	want := []string{
		"setup",
		"parameters",
		"01_NormalizeAndScale_params",
		"01_NormalizeAndScale_normalize",
		"02_AppendNimble_params",
		"02_AppendNimble_files",
		"02_AppendNimble_nimble",
		"03_DimPlots_params",
		"03_DimPlots_plots",
		"04_RemoveCellCycle_cellcycle",
		"final",
	}
	if got := doc.ChunkNames(); !slices.Equal(got, want) {
		t.Errorf("ChunkNames() =\n%v\nwant\n%v", got, want)
	}
}

func TestCompose_LibrariesLoadedOnce(t *testing.T) {
	chain := testChain(t,
		api.StepConfig{Name: "NormalizeAndScale"},
		api.StepConfig{Name: "RunPCA"},
		api.StepConfig{Name: "DimPlots", Params: map[string]any{"fields": "Phase"}},
	)

	if got, want := Libraries(chain), []string{"Seurat", "CellMembrane", "ggplot2"}; !slices.Equal(got, want) {
		t.Errorf("Libraries() = %v, want %v", got, want)
	}

	doc, err := Compose(chain, testInputs(), Options{OutputPrefix: "pbmc"})
	if err != nil {
		t.Fatal(err)
	}
	text, err := doc.Render()
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(text, "library(Seurat)\n"); n != 1 {
		t.Errorf("library(Seurat) appears %d times", n)
	}
}

func TestCompose_Deterministic(t *testing.T) {
	render := func() string {
		chain := testChain(t,
			api.StepConfig{Name: "FilterRawCounts", Params: map[string]any{"nCount_RNA_High": "15000"}},
			api.StepConfig{Name: "RunLDA"},
		)
		doc, err := Compose(chain, testInputs(), Options{OutputPrefix: "pbmc", Threads: 2})
		if err != nil {
			t.Fatal(err)
		}
		text, err := doc.Render()
		if err != nil {
			t.Fatal(err)
		}
		return text
	}

	first := render()
	for range 5 {
		if render() != first {
			t.Fatal("rendering is not deterministic")
		}
	}
}

func TestCompose_Content(t *testing.T) {
	chain := testChain(t, api.StepConfig{Name: "NormalizeAndScale", Params: map[string]any{"nVariableFeatures": 3000}})

	doc, err := Compose(chain, testInputs(), Options{OutputPrefix: "pbmc", Title: "PBMC", Threads: 3})
	if err != nil {
		t.Fatal(err)
	}
	text, err := doc.Render()
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		"---\ntitle: PBMC\n",
		"```{r setup, include=FALSE}\n",
		"outputPrefix <- 'pbmc'\n",
		"nCores <- 3\n",
		"seuratObjects[['s1']] <- 'inputs/s1/s1.rds'\n",
		"datasetIdToName[['s2']] <- 'Sample 2'\n",
		"datasetIdToReadset[['s1']] <- 11L\n",
		"format(datasetIdToReadset[[datasetId]], scientific = FALSE)",
		"```{r 01_NormalizeAndScale_params, include=FALSE}\nnVariableFeatures <- 3000\nscaleVariableFeaturesOnly <- FALSE\nblockSize <- 1000\n```\n",
		"fn <- paste0(datasetId, '.seurat.rds')",
		"file = 'savedSeuratObjects.txt'",
		"sessionInfo()\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("document missing %q", want)
		}
	}
	if strings.Contains(text, "datasetIdToReadset[['s2']]") {
		t.Error("s2 has no readset and should not be linked")
	}
}

func TestCompose_ReadsetsAreIntegers(t *testing.T) {
	inputs := testInputs()
	inputs[1].ReadsetID = intPtr(100000)

	doc, err := Compose(testChain(t, api.StepConfig{Name: "RunPCA"}), inputs, Options{OutputPrefix: "pbmc"})
	if err != nil {
		t.Fatal(err)
	}
	text, err := doc.Render()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "datasetIdToReadset[['s2']] <- 100000L\n") {
		t.Error("readset ids must be written as R integers")
	}
}

func TestCompose_MergedObjectsReachLaterSteps(t *testing.T) {
	chain := testChain(t, api.StepConfig{Name: "MergeSeurat"}, api.StepConfig{Name: "RunLDA"})

	doc, err := Compose(chain, testInputs(), Options{OutputPrefix: "pbmc"})
	if err != nil {
		t.Fatal(err)
	}

	var merge, files string
	for _, c := range doc.Chunks {
		switch c.Name {
		case "01_MergeSeurat_merge":
			merge = c.Body
		case "02_RunLDA_files":
			files = c.Body
		}
	}
	if !strings.Contains(merge, "mergedId <- paste0(outputPrefix, '"+steps.MergedSuffix+"')") {
		t.Errorf("merge chunk names the merged dataset differently:\n%s", merge)
	}
	want := "ldaFiles <- list(\n\t'pbmc-merged' = 'pbmc-merged.lda.rds'\n)\n"
	if files != want {
		t.Errorf("files chunk = %q, want %q", files, want)
	}
}

func TestObjectSuffix(t *testing.T) {
	plain := testChain(t, api.StepConfig{Name: "RunPCA"})
	if got := ObjectSuffix(plain); got != DefaultObjectSuffix {
		t.Errorf("ObjectSuffix() = %q", got)
	}

	merged := testChain(t, api.StepConfig{Name: "RunPCA"}, api.StepConfig{Name: "MergeSeurat"})
	if got := ObjectSuffix(merged); got != "merged" {
		t.Errorf("ObjectSuffix() = %q, want merged", got)
	}
}

func TestCompose_Errors(t *testing.T) {
	if _, err := Compose(nil, testInputs(), Options{OutputPrefix: "pbmc"}); !errors.Is(err, ErrEmptyChain) {
		t.Errorf("expected ErrEmptyChain, got %v", err)
	}

	chain := testChain(t, api.StepConfig{Name: "RunPCA"})
	if _, err := Compose(chain, nil, Options{OutputPrefix: "pbmc"}); !errors.Is(err, ErrNoInputs) {
		t.Errorf("expected ErrNoInputs, got %v", err)
	}

	mixed := testChain(t, api.StepConfig{Name: "RunPCA"}, api.StepConfig{Name: "RunConga"})
	if _, err := Compose(mixed, testInputs(), Options{OutputPrefix: "pbmc"}); !errors.Is(err, ErrMixedImages) {
		t.Errorf("expected ErrMixedImages, got %v", err)
	}

	image, err := Image(chain)
	if err != nil || image != steps.DefaultImage.DockerImage() {
		t.Errorf("Image() = %q, %v", image, err)
	}
}
