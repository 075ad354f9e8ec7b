// Package rmd models the generated R Markdown document: YAML front matter
// followed by ordered, named code chunks.
package rmd

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const EngineR = "r"

// Chunk is one named fragment of generated script text.
type Chunk struct {
	Name   string
	Engine string
	// Include=false renders the chunk with include=FALSE: it still executes
	// but neither code nor output appears in the report.
	Include bool
	Body    string
}

// NewChunk returns an R chunk shown in the rendered report.
func NewChunk(name, body string) Chunk {
	return Chunk{Name: name, Engine: EngineR, Include: true, Body: body}
}

// HiddenChunk returns an R chunk executed with include=FALSE.
func HiddenChunk(name, body string) Chunk {
	return Chunk{Name: name, Engine: EngineR, Include: false, Body: body}
}

// Options returns the chunk header options, e.g. "include=FALSE".
func (c Chunk) Options() []string {
	if c.Include {
		return nil
	}
	return []string{"include=FALSE"}
}

func (c Chunk) render(sb *strings.Builder) {
	engine := c.Engine
	if engine == "" {
		engine = EngineR
	}

	sb.WriteString("```{")
	sb.WriteString(engine)
	if c.Name != "" {
		sb.WriteString(" ")
		sb.WriteString(ChunkName(c.Name))
	}
	for _, opt := range c.Options() {
		sb.WriteString(", ")
		sb.WriteString(opt)
	}
	sb.WriteString("}\n")

	body := strings.Trim(c.Body, "\n")
	if body != "" {
		sb.WriteString(body)
		sb.WriteString("\n")
	}
	sb.WriteString("```\n\n")
}

var chunkNameInvalid = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ChunkName replaces characters knitr does not accept in chunk labels.
func ChunkName(name string) string {
	return chunkNameInvalid.ReplaceAllString(name, "_")
}

// FrontMatter is the YAML header of the document.
type FrontMatter struct {
	Title  string `yaml:"title"`
	Output Output `yaml:"output"`
}

type Output struct {
	HTMLDocument HTMLDocument `yaml:"html_document"`
}

type HTMLDocument struct {
	TOC           bool   `yaml:"toc"`
	TOCFloat      bool   `yaml:"toc_float"`
	CodeFolding   string `yaml:"code_folding,omitempty"`
	SelfContained bool   `yaml:"self_contained"`
}

// Document is the complete generated script.
type Document struct {
	FrontMatter FrontMatter
	Chunks      []Chunk
}

// Append adds chunks to the end of the document.
func (d *Document) Append(chunks ...Chunk) {
	d.Chunks = append(d.Chunks, chunks...)
}

// Render returns the document text. The output depends only on the
// document's contents.
func (d *Document) Render() (string, error) {
	header, err := yaml.Marshal(d.FrontMatter)
	if err != nil {
		return "", fmt.Errorf("marshaling front matter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(header)
	sb.WriteString("---\n\n")

	for _, c := range d.Chunks {
		c.render(&sb)
	}
	return sb.String(), nil
}

// WriteFile renders the document to filename.
func (d *Document) WriteFile(filename string) error {
	text, err := d.Render()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, []byte(text), 0o600); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}
	return nil
}

// ChunkNames lists the chunk names in document order.
func (d *Document) ChunkNames() []string {
	names := make([]string, 0, len(d.Chunks))
	for _, c := range d.Chunks {
		names = append(names, c.Name)
	}
	return names
}
