package steps

import "slices"

// Container images used by the built-in steps.
const (
	DefaultImage = ContainerImage("ghcr.io/bimberlabinternal/discvr-seurat:latest")
	CongaImage   = ContainerImage("ghcr.io/bimberlabinternal/conga:latest")
)

// Step categories.
const (
	CategoryProcessing     = "Processing"
	CategoryFilter         = "Filtering"
	CategoryVisualization  = "Visualization"
	CategoryClassification = "Cell Type Classification"
	CategoryIntegration    = "Data Integration"
	CategoryModeling       = "Modeling"
	CategoryDatasets       = "Datasets"
)

// Client-side resources used by list parameter widgets.
const (
	resourceTextArea  = "sequenceanalysis/field/TrimmingTextArea.js"
	resourceGeneField = "singlecell/field/GeneField.js"
)

const (
	libSeurat       = "Seurat"
	libCellMembrane = "CellMembrane"
	libRIRA         = "RIRA"
	libDplyr        = "dplyr"
	libGgplot2      = "ggplot2"
)

// Builtin returns the definitions of every built-in step.
func Builtin() []Definition {
	return slices.Concat(seuratDefinitions(), integrationDefinitions())
}
