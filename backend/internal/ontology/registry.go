// Package ontology exposes the allowlists of node labels and relationship types the merge
// engine may touch. Labels and types are interpolated into Cypher text, so nothing reaches a
// query without passing a Registry first.
package ontology

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// Registry answers schema membership questions.
type Registry interface {
	IsValidLabel(label string) bool
	IsValidRelationshipType(relType string) bool
}

// identifierPattern is the subset of Cypher identifiers accepted without escaping.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Static is an immutable in-memory registry.
type Static struct {
	labels   map[string]struct{}
	relTypes map[string]struct{}
}

// File is the YAML shape of an ontology file.
type File struct {
	Labels            []string `yaml:"labels"`
	RelationshipTypes []string `yaml:"relationship_types"`
}

// NewStatic builds a registry; every name must be a plain identifier.
func NewStatic(labels, relTypes []string) (*Static, error) {
	s := &Static{
		labels:   make(map[string]struct{}, len(labels)),
		relTypes: make(map[string]struct{}, len(relTypes)),
	}
	for _, l := range labels {
		if !identifierPattern.MatchString(l) {
			return nil, fmt.Errorf("ontology: label %q is not a valid identifier", l)
		}
		s.labels[l] = struct{}{}
	}
	for _, t := range relTypes {
		if !identifierPattern.MatchString(t) {
			return nil, fmt.Errorf("ontology: relationship type %q is not a valid identifier", t)
		}
		s.relTypes[t] = struct{}{}
	}
	if len(s.labels) == 0 {
		return nil, fmt.Errorf("ontology: at least one label is required")
	}
	return s, nil
}

// Default is the built-in business ontology.
func Default() *Static {
	s, err := NewStatic(
		[]string{"Person", "Company", "Organization", "Account", "Location", "Product"},
		[]string{
			"OWNS", "DIRECTOR_OF", "EMPLOYED_BY", "SHAREHOLDER_OF", "SUBSIDIARY_OF",
			"LOCATED_AT", "SUPPLIES", "CUSTOMER_OF", "HAS_ACCOUNT", "RELATED_TO", "TRANSACTED_WITH",
		},
	)
	if err != nil {
		panic(err)
	}
	return s
}

// LoadFile reads a YAML ontology; an empty path returns Default().
func LoadFile(path string) (*Static, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ontology file '%s': %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML ontology document.
func Parse(data []byte) (*Static, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse ontology YAML: %w", err)
	}
	return NewStatic(f.Labels, f.RelationshipTypes)
}

func (s *Static) IsValidLabel(label string) bool {
	_, ok := s.labels[label]
	return ok
}

func (s *Static) IsValidRelationshipType(relType string) bool {
	_, ok := s.relTypes[relType]
	return ok
}

// Labels returns the allowed labels in sorted order.
func (s *Static) Labels() []string {
	return sortedKeys(s.labels)
}

// RelationshipTypes returns the allowed relationship types in sorted order.
func (s *Static) RelationshipTypes() []string {
	return sortedKeys(s.relTypes)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
