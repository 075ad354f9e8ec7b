package steps

import (
	"fmt"

	"github.com/systemstart/cellpipe/pkg/api"
	"github.com/systemstart/cellpipe/pkg/params"
)

func threadsParameter() params.Descriptor {
	return params.Int(ThreadsParameter, "Threads", "The number of threads passed to the tool. Must not exceed the job's allocation.", params.Default(1), params.Min(1))
}

func integrationDefinitions() []Definition {
	return []Definition{
		{
			Name:            "AppendCellHashing",
			Label:           "Append Cell Hashing Calls",
			Category:        CategoryIntegration,
			Description:     "Adds the readset's cell hashing calls to the object metadata.",
			RequiresHashing: true,
			Parameters: []params.Descriptor{
				params.Bool("retainUnknown", "Retain Unknown Cells", "If unchecked, cells without a confident hashing call are dropped."),
			},
			RLibraries:     RLibraries{libSeurat, libCellMembrane, "cellhashR"},
			ContainerImage: DefaultImage,
			Data: []ChunkTemplate{{
				Name:   "files",
				Hidden: true,
				Text:   "hashingFiles <- {{ fileMap \"hashing\" .Inputs }}\n",
			}},
			Body: []ChunkTemplate{{
				Name:      "hashing",
				PerObject: true,
				Text: `seuratObj <- CellMembrane::AppendCellHashing(seuratObj, barcodeCallFile = hashingFiles[[datasetId]])
if (!retainUnknown) {
	seuratObj <- subset(seuratObj, cells = colnames(seuratObj)[!seuratObj$HTO.Classification %in% c('Negative', 'ND', 'Discordant')])
}
`,
			}},
		},
		{
			Name:            "AppendCiteSeq",
			Label:           "Append CITE-seq",
			Category:        CategoryIntegration,
			Description:     "Adds the readset's ADT counts as a new assay.",
			RequiresCiteSeq: true,
			Parameters: []params.Descriptor{
				params.String("normalizeMethod", "Normalization Method", "Either dsb or clr.", params.Default("dsb")),
				params.Bool("runCiteSeqPCA", "Run PCA On ADT", "If checked, PCA is run on the ADT assay."),
			},
			RLibraries:     RLibraries{libSeurat, libCellMembrane},
			ContainerImage: DefaultImage,
			Validate: func(v params.Values, _ []api.SeuratObject) error {
				switch v.String("normalizeMethod") {
				case "dsb", "clr":
					return nil
				default:
					return fmt.Errorf("unknown normalizeMethod %q", v.String("normalizeMethod"))
				}
			},
			Data: []ChunkTemplate{{
				Name:   "files",
				Hidden: true,
				Text:   "citeSeqFiles <- {{ fileMap \"citeseq\" .Inputs }}\n",
			}},
			Body: []ChunkTemplate{{
				Name:      "citeseq",
				PerObject: true,
				Text:      "seuratObj <- CellMembrane::AppendCiteSeq(seuratObj, unfilteredMatrixDir = citeSeqFiles[[datasetId]], normalizeMethod = normalizeMethod, runPCA = runCiteSeqPCA)\n",
			}},
		},
		{
			Name:            "PlotAverageCiteSeqCounts",
			Label:           "Plot Average ADT Counts",
			Category:        CategoryVisualization,
			Description:     "Plots average ADT counts grouped by each field.",
			RequiresCiteSeq: true,
			Parameters: []params.Descriptor{
				params.List("fieldNames", "Fields", "Comma separated metadata fields.", ",", params.Default("ClusterNames_0.2"), params.Strip(`["']`)),
			},
			RLibraries:     RLibraries{libSeurat, libCellMembrane, libGgplot2},
			ContainerImage: DefaultImage,
			Body: []ChunkTemplate{{
				Name:      "plots",
				PerObject: true,
				ReadOnly:  true,
				Text: `if (!'ADT' %in% names(seuratObj@assays)) {
	print(paste0('No ADT assay, skipping: ', datasetId))
} else {
	for (field in fieldNames) {
		CellMembrane::PlotAverageAdtCounts(seuratObj, groupField = field)
	}
}
`,
			}},
		},
		{
			Name:           "AppendNimble",
			Label:          "Append Nimble Data",
			Category:       CategoryIntegration,
			Description:    "Adds nimble alignment counts as a separate assay.",
			RequiresNimble: true,
			Parameters: []params.Descriptor{
				params.String("targetAssay", "Target Assay", "The assay that receives the nimble features.", params.Default("Nimble")),
				params.Bool("retainAmbiguousFeatures", "Retain Ambiguous Features", "If checked, features with ambiguous calls are kept."),
				params.Bool("renameConflictingFeatures", "Rename Conflicting Features", "If checked, features already present in the object are renamed.", params.Default(true)),
			},
			RLibraries:     RLibraries{libSeurat, libCellMembrane},
			ContainerImage: DefaultImage,
			Data: []ChunkTemplate{{
				Name:   "files",
				Hidden: true,
				Text:   "nimbleFiles <- {{ fileMap \"nimble\" .Inputs }}\n",
			}},
			Body: []ChunkTemplate{{
				Name:      "nimble",
				PerObject: true,
				Text:      "seuratObj <- CellMembrane::AppendNimbleCounts(seuratObj, nimbleFile = nimbleFiles[[datasetId]], targetAssayName = targetAssay, retainAmbiguousFeatures = retainAmbiguousFeatures, renameConflictingFeatures = renameConflictingFeatures)\n",
			}},
		},
		{
			Name:        "RunCelltypist",
			Label:       "Run celltypist",
			Category:    CategoryClassification,
			Description: "Classifies cells with one or more celltypist models.",
			Parameters: []params.Descriptor{
				params.List("modelNames", "Models", "Comma separated celltypist model names.", ",", params.Default("Immune_All_Low.pkl"), params.Strip(`["']`)),
				params.Float("pThreshold", "Probability Threshold", "Calls below this probability are reported as unassigned.", params.Default(0.5), params.Range(0, 1)),
				threadsParameter(),
			},
			RLibraries:     RLibraries{libSeurat, libRIRA},
			ContainerImage: DefaultImage,
			Body: []ChunkTemplate{{
				Name:      "celltypist",
				PerObject: true,
				Text: `for (modelName in modelNames) {
	seuratObj <- RIRA::RunCellTypist(seuratObj, modelName = modelName, pThreshold = pThreshold, maxThreads = threads)
}
`,
			}},
		},
		{
			Name:        "RunScTour",
			Label:       "Train scTour Model",
			Category:    CategoryModeling,
			Description: "Trains a scTour pseudotime model and adds the predicted pseudotime.",
			FileSuffix:  "sctour",
			Parameters: []params.Descriptor{
				params.Int("nTopGenes", "# Top Genes", "The number of highly variable genes used for training.", params.Default(2000), params.Range(100, 10000)),
				params.Int("randomSeed", "Random Seed", "The seed used for model training.", params.Default(1234)),
				threadsParameter(),
			},
			Outputs: []OutputSpec{
				{Suffix: "sctour", Ext: "pt", Category: "scTour Model", Label: "scTour Model", PerDataset: true},
			},
			Intermediates:  []string{"**/*.sctour.h5ad"},
			RLibraries:     RLibraries{libSeurat, libCellMembrane},
			ContainerImage: DefaultImage,
			Data: []ChunkTemplate{{
				Name:   "files",
				Hidden: true,
				Text:   "scTourModels <- {{ outputMap .Suffix \"pt\" .Inputs }}\n",
			}},
			Body: []ChunkTemplate{{
				Name:      "sctour",
				PerObject: true,
				Text:      "seuratObj <- CellMembrane::TrainSctourModel(seuratObj, modelFile = scTourModels[[datasetId]], ptimeOutputField = 'scTourPseudotime', nTopGenes = nTopGenes, randomSeed = randomSeed, threads = threads)\n",
			}},
		},
		{
			Name:        "RunLDA",
			Label:       "Run LDA",
			Category:    CategoryModeling,
			Description: "Fits a latent Dirichlet allocation topic model and saves it next to the object.",
			FileSuffix:  "lda",
			Parameters: []params.Descriptor{
				params.Int("nTopics", "# Topics", "The number of topics.", params.Default(20), params.Range(2, 200)),
				params.Int("maxAllowableCells", "Max Cells", "Objects with more cells are downsampled before fitting.", params.Default(150000), params.Min(1)),
			},
			Outputs: []OutputSpec{
				{Suffix: "lda", Ext: "rds", Category: "LDA Model", Label: "LDA Model", PerDataset: true},
			},
			RLibraries:     RLibraries{libSeurat, libCellMembrane, libDplyr},
			ContainerImage: DefaultImage,
			Data: []ChunkTemplate{{
				Name:   "files",
				Hidden: true,
				Text:   "ldaFiles <- {{ outputMap .Suffix \"rds\" .Inputs }}\n",
			}},
			Body: []ChunkTemplate{{
				Name:      "lda",
				PerObject: true,
				Text: `ldaResults <- CellMembrane::RunLDA(seuratObj, ntopics = nTopics, maxAllowableCells = maxAllowableCells)
saveRDS(ldaResults, file = ldaFiles[[datasetId]])
rm(ldaResults)
`,
			}},
		},
		{
			Name:        "CalculateUCellScores",
			Label:       "Calculate UCell Scores",
			Category:    CategoryClassification,
			Description: "Scores the standard RIRA gene sets with UCell.",
			Parameters: []params.Descriptor{
				params.Bool("storeRanks", "Store Ranks", "If checked, UCell ranks are kept on the object."),
				params.String("assayName", "Assay Name", "The assay used for scoring.", params.Default("RNA")),
			},
			RLibraries:     RLibraries{libSeurat, libRIRA, "UCell"},
			ContainerImage: DefaultImage,
			Body: []ChunkTemplate{{
				Name:      "ucell",
				PerObject: true,
				Text:      "seuratObj <- RIRA::CalculateUCellScores(seuratObj, storeRanks = storeRanks, assayName = assayName)\n",
			}},
		},
		{
			Name:           "ClassifyTNKByExpression",
			Label:          "Classify T/NK By Expression",
			Category:       CategoryClassification,
			Description:    "Assigns T and NK cell subsets from marker expression.",
			RLibraries:     RLibraries{libSeurat, libRIRA},
			ContainerImage: DefaultImage,
			Body: []ChunkTemplate{{
				Name:      "tnk",
				PerObject: true,
				Text:      "seuratObj <- RIRA::ClassifyTNKByExpression(seuratObj)\n",
			}},
		},
		{
			Name:        "RunSingleR",
			Label:       "Run SingleR",
			Category:    CategoryClassification,
			Description: "Classifies cells against celldex reference datasets.",
			Parameters: []params.Descriptor{
				params.List("datasets", "Reference Datasets", "Comma separated celldex datasets.", ",", params.Default("hpca,blueprint")),
				params.Bool("showHeatmap", "Show Heatmap", "If checked, score heatmaps are printed."),
				threadsParameter(),
			},
			RLibraries:     RLibraries{libSeurat, libCellMembrane, "SingleR", "celldex"},
			ContainerImage: DefaultImage,
			Body: []ChunkTemplate{{
				Name:      "singler",
				PerObject: true,
				Text:      "seuratObj <- CellMembrane::RunSingleR(seuratObj, datasets = datasets, showHeatmap = showHeatmap, nThreads = threads)\n",
			}},
		},
		{
			Name:        "RunConga",
			Label:       "Run CoNGA",
			Category:    CategoryModeling,
			Description: "Runs CoNGA on paired TCR and gene expression data.",
			FileSuffix:  "conga",
			Parameters: []params.Descriptor{
				params.String("organism", "Organism", "The CoNGA organism name.", params.Default("human")),
				params.String("fieldToIterate", "Field To Iterate", "If provided, CoNGA runs once per value of this field."),
			},
			Outputs: []OutputSpec{
				{Suffix: "conga", Ext: "zip", Category: "CoNGA Results", Label: "CoNGA Results", PerDataset: true},
			},
			RLibraries:     RLibraries{libSeurat, libCellMembrane, "reticulate"},
			ContainerImage: CongaImage,
			Body: []ChunkTemplate{{
				Name:      "conga",
				PerObject: true,
				ReadOnly:  true,
				Text: `CellMembrane::RunCoNGA(seuratObj, organism = organism, fieldToIterate = fieldToIterate, outputZip = paste0(datasetId, '.{{ .Suffix }}.zip'))
`,
			}},
		},
	}
}
