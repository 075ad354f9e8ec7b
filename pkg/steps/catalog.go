package steps

import (
	"errors"
	"fmt"
	"slices"

	"github.com/systemstart/cellpipe/pkg/api"
)

var (
	ErrDuplicateStep = errors.New("duplicate step registration")
	ErrUnknownStep   = errors.New("unknown step")
)

// Catalog maps step names to providers. It is built once at startup and
// never modified afterwards.
type Catalog struct {
	providers map[string]*Provider
	names     []string
}

// NewCatalog registers providers, failing on duplicate names.
func NewCatalog(providers ...*Provider) (*Catalog, error) {
	c := &Catalog{providers: make(map[string]*Provider, len(providers))}
	for _, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("nil provider")
		}
		if _, exists := c.providers[p.Name()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, p.Name())
		}
		c.providers[p.Name()] = p
		c.names = append(c.names, p.Name())
	}
	slices.Sort(c.names)
	return c, nil
}

// NewCatalogFromDefinitions builds a provider for every definition.
func NewCatalogFromDefinitions(defs []Definition) (*Catalog, error) {
	providers := make([]*Provider, 0, len(defs))
	for _, def := range defs {
		p, err := NewProvider(def)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return NewCatalog(providers...)
}

// Default returns a catalog holding every built-in step.
func Default() (*Catalog, error) {
	return NewCatalogFromDefinitions(Builtin())
}

// Get returns the provider registered under name.
func (c *Catalog) Get(name string) (*Provider, error) {
	p, ok := c.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
	}
	return p, nil
}

// Names returns the registered step names, sorted.
func (c *Catalog) Names() []string {
	return slices.Clone(c.names)
}

// Providers returns the registered providers sorted by name.
func (c *Catalog) Providers() []*Provider {
	list := make([]*Provider, 0, len(c.names))
	for _, n := range c.names {
		list = append(list, c.providers[n])
	}
	return list
}

// Chain creates one step instance per configured step, in declared order.
func (c *Catalog) Chain(jc *JobContext, configs []api.StepConfig) ([]Step, error) {
	chain := make([]Step, 0, len(configs))
	for i, cfg := range configs {
		p, err := c.Get(cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		s, err := p.Create(jc, cfg.Params)
		if err != nil {
			return nil, err
		}
		chain = append(chain, s)
	}
	return chain, nil
}
