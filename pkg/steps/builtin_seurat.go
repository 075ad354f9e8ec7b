package steps

import (
	"fmt"
	"strings"

	"github.com/systemstart/cellpipe/pkg/api"
	"github.com/systemstart/cellpipe/pkg/params"
)

func seuratDefinitions() []Definition {
	return []Definition{
		{
			Name:        "NormalizeAndScale",
			Label:       "Normalize/Scale",
			Category:    CategoryProcessing,
			Description: "Runs log normalization, selects variable features and scales the data.",
			Parameters: []params.Descriptor{
				params.Int("nVariableFeatures", "# Variable Features", "The number of variable features to select.", params.Default(2000), params.Range(100, 10000)),
				params.Bool("scaleVariableFeaturesOnly", "Scale Variable Features Only", "If checked, only variable features are scaled."),
				params.Int("blockSize", "Block Size", "Passed to ScaleData; larger values use more memory.", params.Default(1000), params.Min(1)),
			},
			RLibraries:     RLibraries{libSeurat, libCellMembrane},
			ContainerImage: DefaultImage,
			Body: []ChunkTemplate{{
				Name:      "normalize",
				PerObject: true,
				Text: `seuratObj <- CellMembrane::NormalizeAndScale(seuratObj, nVariableFeatures = nVariableFeatures, scaleVariableFeaturesOnly = scaleVariableFeaturesOnly, blockSize = blockSize)
`,
			}},
		},
		{
			Name:        "RunPCA",
			Label:       "Run PCA",
			Category:    CategoryProcessing,
			Description: "Runs PCA on the scaled data.",
			Parameters: []params.Descriptor{
				params.Int("npcs", "# PCs", "The number of principal components to compute.", params.Default(50), params.Range(5, 200)),
			},
			RLibraries:     RLibraries{libSeurat, libCellMembrane},
			ContainerImage: DefaultImage,
			Body: []ChunkTemplate{{
				Name:      "pca",
				PerObject: true,
				Text:      "seuratObj <- CellMembrane::RunPcaSteps(seuratObj, npcs = npcs)\n",
			}},
		},
		{
			Name:        "FindClustersAndDimRedux",
			Label:       "Find Clusters And Dim Redux",
			Category:    CategoryProcessing,
			Description: "Finds neighbors and clusters at several resolutions, then runs tSNE and UMAP.",
			Parameters: []params.Descriptor{
				params.Int("minDimsToUse", "Min. PCs To Use", "The minimum number of PCs to use.", params.Default(15), params.Range(1, 100)),
				params.List("clusterResolutions", "Cluster Resolutions", "Comma separated cluster resolutions.", ",", params.Default("0.2,0.4,0.6,0.8,1.2")),
			},
			Resources:      []string{resourceTextArea},
			RLibraries:     RLibraries{libSeurat, libCellMembrane},
			ContainerImage: DefaultImage,
			Body: []ChunkTemplate{{
				Name:      "clusters",
				PerObject: true,
				Text:      "seuratObj <- CellMembrane::FindClustersAndDimRedux(seuratObj, minDimsToUse = minDimsToUse, clusterResolutions = as.numeric(clusterResolutions))\n",
			}},
		},
		{
			Name:        "FilterRawCounts",
			Label:       "Filter Raw Counts",
			Category:    CategoryFilter,
			Description: "Removes cells outside the given UMI, feature and mitochondrial thresholds.",
			Parameters: []params.Descriptor{
				params.Int("nCount_RNA_Low", "Min UMI Count", "Cells with fewer UMIs are removed.", params.Default(0), params.Min(0)),
				params.Int("nCount_RNA_High", "Max UMI Count", "Cells with more UMIs are removed.", params.Default(20000), params.Min(0)),
				params.Int("nFeature_RNA_Low", "Min Feature Count", "Cells with fewer features are removed.", params.Default(200), params.Min(0)),
				params.Int("nFeature_RNA_High", "Max Feature Count", "Cells with more features are removed.", params.Default(5000), params.Min(0)),
				params.Float("pMito_Low", "Min Percent Mito", "Cells below this mitochondrial fraction are removed.", params.Default(0.0), params.Range(0, 1)),
				params.Float("pMito_High", "Max Percent Mito", "Cells above this mitochondrial fraction are removed.", params.Default(0.15), params.Range(0, 1)),
			},
			RLibraries:     RLibraries{libSeurat, libCellMembrane},
			ContainerImage: DefaultImage,
			Validate: func(v params.Values, _ []api.SeuratObject) error {
				if v.Int("nCount_RNA_Low") > v.Int("nCount_RNA_High") {
					return fmt.Errorf("nCount_RNA_Low is greater than nCount_RNA_High")
				}
				if v.Int("nFeature_RNA_Low") > v.Int("nFeature_RNA_High") {
					return fmt.Errorf("nFeature_RNA_Low is greater than nFeature_RNA_High")
				}
				if v.Float("pMito_Low") > v.Float("pMito_High") {
					return fmt.Errorf("pMito_Low is greater than pMito_High")
				}
				return nil
			},
			Body: []ChunkTemplate{{
				Name:      "filter",
				PerObject: true,
				Text: `seuratObj <- CellMembrane::FilterRawCounts(seuratObj, nCount_RNA_Low = nCount_RNA_Low, nCount_RNA_High = nCount_RNA_High, nFeature_RNA_Low = nFeature_RNA_Low, nFeature_RNA_High = nFeature_RNA_High, pMito_Low = pMito_Low, pMito_High = pMito_High)
if (ncol(seuratObj) == 0) {
	stop(paste0('No cells remain after filtering: ', datasetId))
}
`,
			}},
		},
		{
			Name:           "RemoveCellCycle",
			Label:          "Remove Cell Cycle",
			Category:       CategoryProcessing,
			Description:    "Scores cell cycle phase and regresses it out.",
			RLibraries:     RLibraries{libSeurat, libCellMembrane},
			ContainerImage: DefaultImage,
			Body: []ChunkTemplate{{
				Name:      "cellcycle",
				PerObject: true,
				Text:      "seuratObj <- CellMembrane::RemoveCellCycle(seuratObj)\n",
			}},
		},
		{
			Name:        "DimPlots",
			Label:       "DimPlots",
			Category:    CategoryVisualization,
			Description: "Produces UMAP DimPlots grouped by each field.",
			Parameters: []params.Descriptor{
				params.List("fields", "Fields To Plot", "Metadata fields, one per line.", "\n", params.Required(), params.Strip(`["']`)),
			},
			Resources:      []string{resourceTextArea},
			RLibraries:     RLibraries{libSeurat, libGgplot2},
			ContainerImage: DefaultImage,
			Body: []ChunkTemplate{{
				Name:      "plots",
				PerObject: true,
				ReadOnly:  true,
				Text: `for (field in fields) {
	if (!field %in% names(seuratObj@meta.data)) {
		print(paste0('Field missing, skipping: ', field))
		next
	}
	print(Seurat::DimPlot(seuratObj, group.by = field) + ggplot2::ggtitle(paste0(datasetIdToName[[datasetId]], ': ', field)))
}
`,
			}},
		},
		{
			Name:        "FeaturePlots",
			Label:       "FeaturePlots",
			Category:    CategoryVisualization,
			Description: "Produces FeaturePlots for each gene.",
			Parameters: []params.Descriptor{
				params.List("genes", "Genes", "Comma separated gene names.", ",", params.Required(), params.Strip(`["']`)),
				params.String("assayName", "Assay Name", "The assay holding the features.", params.Default("RNA")),
			},
			Resources:      []string{resourceGeneField},
			RLibraries:     RLibraries{libSeurat},
			ContainerImage: DefaultImage,
			Body: []ChunkTemplate{{
				Name:      "plots",
				PerObject: true,
				ReadOnly:  true,
				Text: `Seurat::DefaultAssay(seuratObj) <- assayName
toPlot <- intersect(genes, rownames(seuratObj))
if (length(toPlot) > 0) {
	print(Seurat::FeaturePlot(seuratObj, features = toPlot))
}
`,
			}},
		},
		{
			Name:        "SubsetSeurat",
			Label:       "Subset",
			Category:    CategoryFilter,
			Description: "Keeps cells matching every expression, evaluated against the cell metadata.",
			Parameters: []params.Descriptor{
				params.List("expressions", "Expressions", "One R expression per line, for example: nCount_RNA > 500", "\n", params.Required()),
			},
			Resources:      []string{resourceTextArea},
			RLibraries:     RLibraries{libSeurat},
			ContainerImage: DefaultImage,
			Validate:       validateSubsetExpressions,
			Body: []ChunkTemplate{{
				Name:      "subset",
				PerObject: true,
				Text: `for (expr in expressions) {
	toKeep <- with(seuratObj@meta.data, eval(parse(text = expr)))
	seuratObj <- subset(seuratObj, cells = colnames(seuratObj)[!is.na(toKeep) & toKeep])
	print(paste0('Cells remaining after ', expr, ': ', ncol(seuratObj)))
}
`,
			}},
		},
		{
			Name:            "SeuratPrototype",
			Label:           "Create Seurat Prototype",
			Category:        CategoryDatasets,
			Description:     "Validates a single processed object and saves it as the readset's prototype dataset.",
			Cardinality:     ExactlyOne,
			RequiresReadset: true,
			RequiresGenome:  true,
			CreatesDatasets: true,
			DatasetCategory: "Seurat Object Prototype",
			FileSuffix:      "prototype",
			Parameters: []params.Descriptor{
				params.Int("minCellsToKeep", "Min Cells To Keep", "The job fails if the object has fewer cells.", params.Default(500), params.Min(0)),
				params.Bool("dietSeurat", "Run DietSeurat", "If checked, scale data and graphs are removed before saving.", params.Default(true)),
			},
			RLibraries:     RLibraries{libSeurat, libCellMembrane},
			ContainerImage: DefaultImage,
			Body: []ChunkTemplate{{
				Name:      "prototype",
				PerObject: true,
				Text: `if (ncol(seuratObj) < minCellsToKeep) {
	stop(paste0('Too few cells in ', datasetId, ': ', ncol(seuratObj)))
}
if (dietSeurat) {
	seuratObj <- Seurat::DietSeurat(seuratObj)
}
seuratObj@misc$datasetRole <- 'prototype'
`,
			}},
		},
		{
			Name:            "MergeSeurat",
			Label:           "Merge Seurat Objects",
			Category:        CategoryDatasets,
			Description:     "Merges every input object into one dataset.",
			Cardinality:     Cardinality{Min: 2},
			RequiresReadset: true,
			CreatesDatasets: true,
			DatasetCategory: "Seurat Object",
			FileSuffix:      "merged",
			Validate:        requireSharedReadset,
			Objects:         mergeObjects,
			Parameters: []params.Descriptor{
				params.String("projectName", "Project Name", "The name of the merged dataset.", params.Default("Merged")),
			},
			RLibraries:     RLibraries{libSeurat, libCellMembrane},
			ContainerImage: DefaultImage,
			Body: []ChunkTemplate{{
				Name: "merge",
				Text: `toMerge <- lapply(names(seuratObjects), function(x) readSeuratRDS(seuratObjects[[x]]))
names(toMerge) <- names(seuratObjects)
mergedObj <- CellMembrane::MergeSeuratObjs(toMerge, projectName = projectName)
rm(toMerge)

readsets <- unique(unlist(datasetIdToReadset))
mergedId <- paste0(outputPrefix, '{{ .MergedSuffix }}')
seuratObjects <- list()
datasetIdToName <- list()
datasetIdToName[[mergedId]] <- projectName
datasetIdToReadset <- list()
if (length(readsets) == 1) {
	datasetIdToReadset[[mergedId]] <- readsets[1]
}
saveData(mergedObj, mergedId)
rm(mergedObj)
gc()
`,
			}},
		},
	}
}

// MergedSuffix is appended to the output prefix to name the merged dataset.
const MergedSuffix = "-merged"

func requireSharedReadset(_ params.Values, inputs []api.SeuratObject) error {
	for _, in := range inputs[1:] {
		if *in.ReadsetID != *inputs[0].ReadsetID {
			return fmt.Errorf("datasets %s and %s belong to readsets %d and %d; merged datasets must link to one readset",
				inputs[0].DatasetID, in.DatasetID, *inputs[0].ReadsetID, *in.ReadsetID)
		}
	}
	return nil
}

// mergeObjects replaces the inputs by the single merged dataset. It keeps the
// readset and the genome the inputs share.
func mergeObjects(jc *JobContext, values params.Values, inputs []api.SeuratObject) []api.SeuratObject {
	merged := api.SeuratObject{DatasetName: values.String("projectName")}
	if jc != nil {
		merged.DatasetID = jc.OutputPrefix + MergedSuffix
	}
	if len(inputs) > 0 {
		merged.ReadsetID = inputs[0].ReadsetID
		merged.GenomeID = inputs[0].GenomeID
	}
	for _, in := range inputs[1:] {
		if !sameID(in.ReadsetID, merged.ReadsetID) {
			merged.ReadsetID = nil
		}
		if !sameID(in.GenomeID, merged.GenomeID) {
			merged.GenomeID = nil
		}
	}
	return []api.SeuratObject{merged}
}

func sameID(a, b *int) bool {
	return a != nil && b != nil && *a == *b
}

var subsetOperators = []string{"==", "!=", ">", "<", "%in%", "is.na("}

func validateSubsetExpressions(v params.Values, _ []api.SeuratObject) error {
	for _, expr := range v.List("expressions") {
		if strings.Contains(expr, "`") {
			return fmt.Errorf("expression %q must not contain backticks", expr)
		}
		ok := false
		for _, op := range subsetOperators {
			if strings.Contains(expr, op) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("expression %q has no comparison", expr)
		}
	}
	return nil
}
