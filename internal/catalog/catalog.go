// Package catalog is the declarative description of every supported search
// parameter: its type, extraction paths, reference targets, and allowed
// modifiers. The catalog is the single source of truth for both the index
// extractor and the query compiler; supporting a new parameter means adding
// one entry here and nothing else.
//
// The catalog is immutable once built. New panics on malformed entries,
// following the database/sql.Register convention: a bad entry is a programmer
// error caught at startup, not a runtime condition.
package catalog

import (
	"fmt"
	"sort"

	"github.com/jpl-au/fhird/internal/fhirpath"
)

// ParamType is the search parameter type from the FHIR search grammar.
type ParamType string

const (
	Token     ParamType = "token"
	String    ParamType = "string"
	Date      ParamType = "date"
	Reference ParamType = "reference"
	Quantity  ParamType = "quantity"
	Number    ParamType = "number"
	URI       ParamType = "uri"
	Composite ParamType = "composite"
	Special   ParamType = "special"
)

// Parameter is one catalog entry.
type Parameter struct {
	Name string
	Type ParamType

	// Paths are the extraction expressions, applied in order; every path
	// contributes values. Virtual parameters (_id, _lastUpdated) have none.
	Paths []string

	// Exprs are the compiled Paths, populated by New.
	Exprs []*fhirpath.Expr

	// Targets lists allowed target resource types for reference parameters.
	// Empty means unconstrained.
	Targets []string

	// Modifiers overrides the per-type default modifier set when non-nil.
	Modifiers []string

	// Components names the sub-parameters of a composite, joined by $ in
	// query values. Correlated composites additionally require the matched
	// index rows to come from the same occurrence (same repeating element).
	Components []string
	Correlated bool
}

// Virtual reports whether the parameter resolves to resource-table columns
// rather than index rows.
func (p *Parameter) Virtual() bool {
	return len(p.Paths) == 0 && p.Type != Composite
}

// AllowsModifier reports whether a modifier may be used with this parameter.
func (p *Parameter) AllowsModifier(mod string) bool {
	if mod == "" {
		return true
	}
	set := p.Modifiers
	if set == nil {
		set = defaultModifiers(p.Type)
	}
	for _, m := range set {
		if m == mod {
			return true
		}
	}
	return false
}

// defaultModifiers is the engine-wide allowed set per parameter type.
func defaultModifiers(t ParamType) []string {
	switch t {
	case Token:
		return []string{"missing", "text", "not"}
	case String:
		return []string{"missing", "exact", "contains"}
	case Reference:
		return []string{"missing", "type", "identifier"}
	case URI:
		return []string{"missing", "below", "above"}
	case Date, Quantity, Number, Special:
		return []string{"missing"}
	default:
		return []string{"missing"}
	}
}

// Catalog holds the parameters for every supported resource type.
type Catalog struct {
	byType map[string]map[string]*Parameter
	types  []string
}

// New builds a catalog from per-type entries, adding the common parameters
// every type supports and compiling all paths. Panics on duplicate or
// malformed entries.
func New(entries map[string][]Parameter) *Catalog {
	c := &Catalog{byType: make(map[string]map[string]*Parameter, len(entries))}

	for resType, params := range entries {
		byName := make(map[string]*Parameter, len(params)+8)
		for _, common := range commonParameters() {
			p := common
			compile(&p, resType)
			byName[p.Name] = &p
		}
		for _, param := range params {
			p := param
			if _, dup := byName[p.Name]; dup && p.Name[0] != '_' {
				panic(fmt.Sprintf("catalog: duplicate parameter %s.%s", resType, p.Name))
			}
			compile(&p, resType)
			byName[p.Name] = &p
		}
		c.byType[resType] = byName
		c.types = append(c.types, resType)
	}
	sort.Strings(c.types)

	// Composite components must refer to concrete parameters of the same type.
	for resType, byName := range c.byType {
		for _, p := range byName {
			if p.Type != Composite {
				continue
			}
			if len(p.Components) < 2 {
				panic(fmt.Sprintf("catalog: composite %s.%s needs >=2 components", resType, p.Name))
			}
			for _, comp := range p.Components {
				sub, ok := byName[comp]
				if !ok {
					panic(fmt.Sprintf("catalog: composite %s.%s references unknown %q", resType, p.Name, comp))
				}
				if sub.Type == Composite {
					panic(fmt.Sprintf("catalog: composite %s.%s nests composite %q", resType, p.Name, comp))
				}
			}
		}
	}
	return c
}

func compile(p *Parameter, resType string) {
	if len(p.Paths) > 0 && p.Type == Composite {
		panic(fmt.Sprintf("catalog: composite %s.%s must not carry paths", resType, p.Name))
	}
	p.Exprs = make([]*fhirpath.Expr, 0, len(p.Paths))
	for _, path := range p.Paths {
		e, err := fhirpath.Compile(path)
		if err != nil {
			panic(fmt.Sprintf("catalog: %s.%s: %v", resType, p.Name, err))
		}
		p.Exprs = append(p.Exprs, e)
	}
}

// commonParameters are registered for every resource type.
func commonParameters() []Parameter {
	return []Parameter{
		{Name: "_id", Type: Token},
		{Name: "_lastUpdated", Type: Date},
		{Name: "_tag", Type: Token, Paths: []string{"meta.tag"}},
		{Name: "_profile", Type: URI, Paths: []string{"meta.profile"}},
		{Name: "_security", Type: Token, Paths: []string{"meta.security"}},
	}
}

// Supports reports whether the resource type is in the catalog.
func (c *Catalog) Supports(resourceType string) bool {
	_, ok := c.byType[resourceType]
	return ok
}

// Lookup returns the parameter entry for (resourceType, name).
func (c *Catalog) Lookup(resourceType, name string) (*Parameter, bool) {
	byName, ok := c.byType[resourceType]
	if !ok {
		return nil, false
	}
	p, ok := byName[name]
	return p, ok
}

// Parameters returns the entries for a type, sorted by name.
func (c *Catalog) Parameters(resourceType string) []*Parameter {
	byName, ok := c.byType[resourceType]
	if !ok {
		return nil
	}
	out := make([]*Parameter, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Types returns the supported resource types, sorted.
func (c *Catalog) Types() []string {
	out := make([]string, len(c.types))
	copy(out, c.types)
	return out
}

// ReferenceParams returns the reference-typed entries for a type, sorted by
// name. The compartment walker and _revinclude expansion iterate these.
func (c *Catalog) ReferenceParams(resourceType string) []*Parameter {
	var out []*Parameter
	for _, p := range c.Parameters(resourceType) {
		if p.Type == Reference {
			out = append(out, p)
		}
	}
	return out
}
