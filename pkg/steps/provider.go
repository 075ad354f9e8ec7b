package steps

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"text/template"

	"github.com/systemstart/cellpipe/pkg/api"
	"github.com/systemstart/cellpipe/pkg/params"
	"github.com/systemstart/cellpipe/pkg/rmd"
)

// ThreadsParameter is the conventional name of a step's thread count.
const ThreadsParameter = "threads"

// ChunkTemplate is a text/template rendered into one chunk. PerObject bodies
// run once for every object in seuratObjects and save the modified object
// unless ReadOnly is set.
type ChunkTemplate struct {
	Name      string
	Hidden    bool
	PerObject bool
	ReadOnly  bool
	Text      string
}

// Definition is the declarative description of a step.
type Definition struct {
	Name        string
	Label       string
	Category    string
	Description string
	Parameters  []params.Descriptor
	Resources   []string

	RLibraries
	ContainerImage

	Cardinality     Cardinality
	RequiresHashing bool
	RequiresCiteSeq bool
	RequiresNimble  bool
	RequiresReadset bool
	RequiresGenome  bool
	CreatesDatasets bool
	DatasetCategory string
	FileSuffix      string
	Outputs         []OutputSpec
	Intermediates   []string

	Data []ChunkTemplate
	Body []ChunkTemplate

	// Validate runs extra step-specific checks during Init.
	Validate func(values params.Values, inputs []api.SeuratObject) error

	// Objects maps the received object set to the set the step leaves behind.
	// nil keeps the received objects.
	Objects func(jc *JobContext, values params.Values, inputs []api.SeuratObject) []api.SeuratObject
}

type compiledChunk struct {
	ChunkTemplate
	tmpl *template.Template
}

// Provider constructs step instances for one definition. It is immutable
// after NewProvider returns and safe to share between concurrent jobs.
type Provider struct {
	def    Definition
	chunks []compiledChunk
}

// NewProvider validates a definition and compiles its chunk templates.
func NewProvider(def Definition) (*Provider, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("step name is required")
	}
	if def.ContainerImage == "" {
		return nil, fmt.Errorf("step %s: container image is required", def.Name)
	}
	if def.Label == "" {
		def.Label = def.Name
	}
	if def.CreatesDatasets && def.FileSuffix == "" {
		return nil, fmt.Errorf("step %s: steps creating datasets require a file suffix", def.Name)
	}
	if def.Cardinality.Min == 0 {
		def.Cardinality.Min = 1
	}

	def.Parameters = slices.Clone(def.Parameters)
	seen := make(map[string]bool, len(def.Parameters))
	for i := range def.Parameters {
		d := &def.Parameters[i]
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("step %s: %w", def.Name, err)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("step %s: duplicate parameter %q", def.Name, d.Name)
		}
		seen[d.Name] = true
	}

	for _, o := range def.Outputs {
		if o.Suffix == "" || o.Ext == "" {
			return nil, fmt.Errorf("step %s: outputs require a suffix and extension", def.Name)
		}
	}

	p := &Provider{def: def}
	for _, ct := range append(slices.Clone(def.Data), def.Body...) {
		if ct.Name == "" {
			return nil, fmt.Errorf("step %s: chunk name is required", def.Name)
		}
		tmpl, err := template.New(def.Name + "/" + ct.Name).
			Funcs(templateFuncs()).
			Option("missingkey=error").
			Parse(ct.Text)
		if err != nil {
			return nil, fmt.Errorf("step %s: parsing chunk %s: %w", def.Name, ct.Name, err)
		}
		p.chunks = append(p.chunks, compiledChunk{ChunkTemplate: ct, tmpl: tmpl})
	}

	return p, nil
}

func (p *Provider) Name() string { return p.def.Name }
func (p *Provider) Label() string { return p.def.Label }
func (p *Provider) Category() string { return p.def.Category }
func (p *Provider) Description() string { return p.def.Description }
func (p *Provider) Resources() []string { return slices.Clone(p.def.Resources) }
func (p *Provider) Libraries() []string { return p.def.Libraries() }
func (p *Provider) DockerImage() string { return p.def.DockerImage() }

// Parameters returns a copy of the ordered parameter descriptors.
func (p *Provider) Parameters() []params.Descriptor {
	return slices.Clone(p.def.Parameters)
}

// Create binds a step instance to a job, extracting its parameters from cfg.
func (p *Provider) Create(jc *JobContext, cfg map[string]any) (Step, error) {
	values, err := params.ExtractAll(cfg, p.def.Parameters)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", p.def.Name, err)
	}
	for name := range cfg {
		if !slices.ContainsFunc(p.def.Parameters, func(d params.Descriptor) bool { return d.Name == name }) {
			jc.logger().Warn("ignoring unknown parameter", "step", p.def.Name, "parameter", name)
		}
	}
	return &scriptStep{provider: p, jc: jc, values: values}, nil
}

type scriptStep struct {
	provider *Provider
	jc       *JobContext
	values   params.Values
}

func (s *scriptStep) Name() string { return s.provider.def.Name }
func (s *scriptStep) Provider() *Provider { return s.provider }
func (s *scriptStep) Values() params.Values { return s.values }
func (s *scriptStep) Libraries() []string { return s.provider.def.Libraries() }
func (s *scriptStep) DockerImage() string { return s.provider.def.DockerImage() }
func (s *scriptStep) RequiresHashing() bool { return s.provider.def.RequiresHashing }
func (s *scriptStep) RequiresCiteSeq() bool { return s.provider.def.RequiresCiteSeq }
func (s *scriptStep) CreatesDatasets() bool { return s.provider.def.CreatesDatasets }
func (s *scriptStep) DatasetCategory() string { return s.provider.def.DatasetCategory }
func (s *scriptStep) FileSuffix() string { return s.provider.def.FileSuffix }
func (s *scriptStep) Outputs() []OutputSpec { return slices.Clone(s.provider.def.Outputs) }
func (s *scriptStep) Intermediates() []string { return slices.Clone(s.provider.def.Intermediates) }

func (s *scriptStep) Objects(inputs []api.SeuratObject) []api.SeuratObject {
	if s.provider.def.Objects == nil {
		return inputs
	}
	return s.provider.def.Objects(s.jc, s.values, inputs)
}

func (s *scriptStep) fail(format string, args ...any) error {
	return &PreconditionError{Step: s.Name(), Reason: fmt.Sprintf(format, args...)}
}

func (s *scriptStep) Init(inputs []api.SeuratObject) error {
	def := s.provider.def

	if err := def.Cardinality.check(len(inputs)); err != nil {
		return s.fail("%s", err.Error())
	}

	for _, in := range inputs {
		if def.RequiresHashing && in.HashingCalls == "" {
			return s.fail("missing hashing data for dataset %s: cell hashing was requested but the readset has no hashing calls", in.DatasetID)
		}
		if def.RequiresCiteSeq && in.CiteSeqCounts == "" {
			return s.fail("missing CITE-seq data for dataset %s", in.DatasetID)
		}
		if def.RequiresNimble && in.NimbleCounts == "" {
			return s.fail("missing nimble data for dataset %s", in.DatasetID)
		}
		if def.RequiresReadset && !in.HasReadset() {
			return s.fail("dataset %s has no readset; this step creates datasets that must link to a readset", in.DatasetID)
		}
		if def.RequiresGenome && in.GenomeID == nil && (s.jc == nil || s.jc.GenomeID == nil) {
			return s.fail("dataset %s has no genome and the job sets none", in.DatasetID)
		}
	}

	if s.jc != nil && s.jc.MaxThreads > 0 && s.values.Has(ThreadsParameter) {
		if n := s.values.Int(ThreadsParameter); n > s.jc.MaxThreads {
			return s.fail("requested %d threads but the job is allocated %d", n, s.jc.MaxThreads)
		}
	}

	if def.Validate != nil {
		if err := def.Validate(s.values, inputs); err != nil {
			return s.fail("%s", err.Error())
		}
	}

	return nil
}

// ChunkData is the data passed to chunk templates.
type ChunkData struct {
	Step         string
	Position     int
	OutputPrefix string
	Suffix       string
	Threads      int
	MergedSuffix string
	Params       map[string]string
	Values       params.Values
	Inputs       []api.SeuratObject
}

func (s *scriptStep) chunkData(position int, inputs []api.SeuratObject) ChunkData {
	literals := make(map[string]string, len(s.values))
	for name, v := range s.values {
		literals[name] = rmd.Literal(v)
	}

	data := ChunkData{
		Step:         s.Name(),
		Position:     position,
		Suffix:       s.provider.def.FileSuffix,
		MergedSuffix: MergedSuffix,
		Params:       literals,
		Values:       s.values,
		Inputs:       inputs,
	}
	if s.jc != nil {
		data.OutputPrefix = s.jc.OutputPrefix
		data.Threads = s.jc.MaxThreads
	}
	return data
}

func (s *scriptStep) Chunks(position int, inputs []api.SeuratObject) ([]rmd.Chunk, error) {
	data := s.chunkData(position, inputs)
	prefix := fmt.Sprintf("%02d_%s", position+1, s.Name())

	chunks := make([]rmd.Chunk, 0, len(s.provider.chunks))
	for _, cc := range s.provider.chunks {
		var buf bytes.Buffer
		if err := cc.tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("step %s: rendering chunk %s: %w", s.Name(), cc.Name, err)
		}

		body := buf.String()
		if cc.PerObject {
			body = wrapPerObject(body, !cc.ReadOnly)
		}

		name := prefix + "_" + cc.Name
		if cc.Hidden {
			chunks = append(chunks, rmd.HiddenChunk(name, body))
		} else {
			chunks = append(chunks, rmd.NewChunk(name, body))
		}
	}
	return chunks, nil
}

func wrapPerObject(body string, save bool) string {
	var sb strings.Builder
	sb.WriteString("for (datasetId in names(seuratObjects)) {\n")
	sb.WriteString("\tprintName(datasetId)\n")
	sb.WriteString("\tseuratObj <- readSeuratRDS(seuratObjects[[datasetId]])\n\n")
	for _, line := range strings.Split(strings.Trim(body, "\n"), "\n") {
		if line == "" {
			sb.WriteString("\n")
			continue
		}
		sb.WriteString("\t")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if save {
		sb.WriteString("\n\tsaveData(seuratObj, datasetId)\n")
	}
	sb.WriteString("\n\trm(seuratObj)\n")
	sb.WriteString("\tgc()\n")
	sb.WriteString("}")
	return sb.String()
}
