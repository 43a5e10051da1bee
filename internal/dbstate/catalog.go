package dbstate

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type StateName string

const (
	StateEmpty      StateName = "empty"
	StateSchemaOnly StateName = "schema-only"
	StateFramework  StateName = "framework"
	StateFull       StateName = "full"
)

// Descriptor is one recognized database state. Script is empty for states
// that can only be detected, never applied.
type Descriptor struct {
	Name        StateName
	Description string
	Script      string
}

func (d Descriptor) Applicable() bool { return strings.TrimSpace(d.Script) != "" }

// Catalog is the fixed set of recognized states. It is built once at startup
// and never mutated.
type Catalog struct {
	byName map[StateName]Descriptor
	order  []StateName
}

var recognized = []StateName{StateEmpty, StateSchemaOnly, StateFramework, StateFull}

func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Descriptor{Name: StateEmpty, Description: "Database with no tables"},
		Descriptor{Name: StateSchemaOnly, Description: "Empty database with schema only", Script: "schema-only.sql"},
		Descriptor{Name: StateFramework, Description: "Basic framework data (users, roles, settings)", Script: "framework-data.sql"},
		Descriptor{Name: StateFull, Description: "Complete test data set", Script: "full-test-data.sql"},
	)
	if err != nil {
		panic(err)
	}
	return c
}

func NewCatalog(descriptors ...Descriptor) (*Catalog, error) {
	byName := make(map[StateName]Descriptor, len(descriptors))
	for _, d := range descriptors {
		if !isRecognized(d.Name) {
			return nil, fmt.Errorf("unrecognized state %q", d.Name)
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate state %q", d.Name)
		}
		if d.Name == StateEmpty && d.Applicable() {
			return nil, errors.New("state empty is detection-only and cannot bind a script")
		}
		byName[d.Name] = d
	}
	for _, name := range recognized {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("state %q is missing", name)
		}
	}
	for _, name := range []StateName{StateSchemaOnly, StateFramework, StateFull} {
		if !byName[name].Applicable() {
			return nil, fmt.Errorf("state %q requires a script", name)
		}
	}
	return &Catalog{byName: byName, order: append([]StateName(nil), recognized...)}, nil
}

func isRecognized(name StateName) bool {
	for _, n := range recognized {
		if n == name {
			return true
		}
	}
	return false
}

// Get returns the descriptor for any recognized state.
func (c *Catalog) Get(name StateName) (Descriptor, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Applicable returns the descriptor for name only if it can be applied.
func (c *Catalog) Applicable(name string) (Descriptor, bool) {
	d, ok := c.byName[StateName(strings.TrimSpace(name))]
	if !ok || !d.Applicable() {
		return Descriptor{}, false
	}
	return d, true
}

// Available lists the applicable state names in catalog order.
func (c *Catalog) Available() []string {
	out := make([]string, 0, len(c.order))
	for _, name := range c.order {
		if c.byName[name].Applicable() {
			out = append(out, string(name))
		}
	}
	return out
}

// Descriptions maps applicable state names to their descriptions.
func (c *Catalog) Descriptions() map[string]string {
	out := make(map[string]string, len(c.order))
	for _, name := range c.order {
		d := c.byName[name]
		if d.Applicable() {
			out[string(name)] = d.Description
		}
	}
	return out
}

type catalogFile struct {
	States map[string]struct {
		Description string `yaml:"description"`
		Script      string `yaml:"script"`
	} `yaml:"states"`
}

// LoadCatalogFile overlays descriptions and script bindings from a YAML file
// onto base. The set of states itself cannot be changed.
//
//	states:
//	  full:
//	    description: Complete test data set
//	    script: full-test-data.sql
func LoadCatalogFile(path string, base *Catalog) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var parsed catalogFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	merged := make([]Descriptor, 0, len(base.order))
	for _, name := range base.order {
		merged = append(merged, base.byName[name])
	}
	for key, override := range parsed.States {
		name := StateName(strings.TrimSpace(key))
		idx := -1
		for i, d := range merged {
			if d.Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("catalog: unrecognized state %q", key)
		}
		if v := strings.TrimSpace(override.Description); v != "" {
			merged[idx].Description = v
		}
		if v := strings.TrimSpace(override.Script); v != "" {
			merged[idx].Script = v
		}
	}
	return NewCatalog(merged...)
}
