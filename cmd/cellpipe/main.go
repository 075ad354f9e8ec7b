package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/systemstart/cellpipe/pkg/api"
	"github.com/systemstart/cellpipe/pkg/execute"
	"github.com/systemstart/cellpipe/pkg/logging"
	"github.com/systemstart/cellpipe/pkg/processing"
	"github.com/systemstart/cellpipe/pkg/steps"
)

var version = "dev"

const (
	_ = iota
	exitNoJobParameter
	exitDotenvError
	exitLoadJobFailed
	exitJobErrors
	exitLoadDefaultsFailed
	exitCatalogFailed
	exitInvalidEnvironment
)

const (
	envDocker     = "CELLPIPE_DOCKER"
	envMaxThreads = "CELLPIPE_MAX_THREADS"
)

var (
	jobFile           string
	batchFile         string
	jobsDirectory     string
	maxDepth          int
	defaultsFile      string
	maxThreads        int
	dockerBinary      string
	parallel          int
	keepIntermediates bool
	listSteps         bool
	loggingType       string
	logLevel          string
	showVersion       bool
)

func init() {
	flag.StringVar(
		&jobFile,
		"job",
		"",
		"single .job.yaml to run")
	flag.StringVar(
		&batchFile,
		"batch",
		"",
		"batch YAML file listing job files")
	flag.StringVar(
		&jobsDirectory,
		"jobs-directory",
		"",
		"directory searched for *.job.yaml files")
	flag.IntVar(
		&maxDepth,
		"max-depth",
		-1,
		"max directory recursion depth (-1 = unlimited, 0 = root only)")
	flag.StringVar(
		&defaultsFile,
		"defaults",
		"",
		"YAML file with per-step parameter defaults")
	flag.IntVar(
		&maxThreads,
		"max-threads",
		0,
		"thread cap for every job (0 = "+envMaxThreads+" or all CPUs)")
	flag.StringVar(
		&dockerBinary,
		"docker",
		"",
		"docker binary (default "+envDocker+" or docker on PATH)")
	flag.IntVar(
		&parallel,
		"parallel",
		1,
		"number of jobs run at once")
	flag.BoolVar(
		&keepIntermediates,
		"keep-intermediates",
		false,
		"keep intermediate files after registration")
	flag.BoolVar(
		&listSteps,
		"list-steps",
		false,
		"print the step catalog and exit")
	flag.StringVar(
		&loggingType,
		"logging-type",
		"tint",
		"logging type: json, text or tint")
	flag.StringVar(
		&logLevel,
		"log-level",
		"info",
		"logging level: debug, info, warn, error")
	flag.BoolVar(
		&showVersion,
		"version",
		false,
		"print version and exit")
}

func main() {
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	_ = logging.Initialize(loggingType, logLevel)

	includeEnv()
	applyEnv()

	catalog, err := steps.Default()
	if err != nil {
		slog.Error("failed to build step catalog", "error", err)
		os.Exit(exitCatalogFailed)
	}

	if listSteps {
		printCatalog(catalog)
		os.Exit(0)
	}

	jobs, batchParallel := loadJobs()
	if batchParallel > 0 && !isFlagSet("parallel") {
		parallel = batchParallel
	}

	engine := &processing.Engine{
		Catalog: catalog,
		Executor: &execute.Runner{
			Docker:     dockerBinary,
			MaxThreads: maxThreads,
		},
		Registrar:         processing.ManifestRegistrar{},
		Defaults:          loadDefaults(),
		MaxThreads:        maxThreads,
		KeepIntermediates: keepIntermediates,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("running jobs", "count", len(jobs), "parallel", parallel, "maxThreads", maxThreads)
	results, err := engine.RunAll(ctx, jobs, parallel)
	for _, res := range results {
		if res != nil {
			slog.Info("job result", "job", res.Name, "jobId", res.JobID, "state", res.State, "outputs", len(res.Outputs), "workDir", res.WorkDir)
		}
	}
	if err != nil {
		slog.Error("processing failed", "error", err)
		stop()
		os.Exit(exitJobErrors)
	}

	slog.Info("done")
}

func loadJobs() ([]*api.Job, int) {
	switch {
	case jobFile != "":
		job, err := api.LoadJob(jobFile)
		if err != nil {
			slog.Error("failed to load job", "filename", jobFile, "error", err)
			os.Exit(exitLoadJobFailed)
		}
		return []*api.Job{job}, 0

	case batchFile != "":
		batch, err := api.LoadBatch(batchFile)
		if err != nil {
			slog.Error("failed to load batch", "filename", batchFile, "error", err)
			os.Exit(exitLoadJobFailed)
		}
		if defaultsFile == "" {
			defaultsFile = batch.Defaults
		}
		jobs, err := processing.LoadJobs(batch.Jobs)
		if err != nil {
			slog.Error("failed to load batch jobs", "filename", batchFile, "error", err)
			os.Exit(exitLoadJobFailed)
		}
		return jobs, batch.Parallel

	case jobsDirectory != "":
		jobs, err := processing.DiscoverJobs(jobsDirectory, maxDepth)
		if err != nil {
			slog.Error("failed to discover jobs", "directory", jobsDirectory, "error", err)
			os.Exit(exitLoadJobFailed)
		}
		if len(jobs) == 0 {
			slog.Warn("no job files found", "directory", jobsDirectory)
			os.Exit(0)
		}
		return jobs, 0

	default:
		slog.Error("one of -job, -batch or -jobs-directory is required")
		os.Exit(exitNoJobParameter)
		return nil, 0
	}
}

func loadDefaults() processing.Defaults {
	if defaultsFile == "" {
		return nil
	}

	defaults, err := processing.LoadDefaultsFile(defaultsFile)
	if err != nil {
		slog.Error("failed to load defaults file", "filename", defaultsFile, "error", err)
		os.Exit(exitLoadDefaultsFailed)
	}
	return defaults
}

func printCatalog(catalog *steps.Catalog) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tCATEGORY\tIMAGE\tPARAMETERS")
	for _, p := range catalog.Providers() {
		var names []string
		for _, d := range p.Parameters() {
			names = append(names, d.Name)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name(), p.Category(), p.DockerImage(), strings.Join(names, ","))
	}
	_ = w.Flush()
}

func includeEnv() {
	err := godotenv.Load()
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("failed to load .env", "error", err)
			os.Exit(exitDotenvError)
		}
		slog.Debug("no .env file found")
	} else {
		slog.Info("using .env file")
	}
}

// applyEnv fills settings not given as flags from the environment.
func applyEnv() {
	if dockerBinary == "" {
		dockerBinary = os.Getenv(envDocker)
	}

	if maxThreads == 0 {
		if raw := os.Getenv(envMaxThreads); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				slog.Error("invalid thread count", "variable", envMaxThreads, "value", raw)
				os.Exit(exitInvalidEnvironment)
			}
			maxThreads = n
		}
	}
	if maxThreads == 0 {
		maxThreads = runtime.NumCPU()
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
