package ontology

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Root is a term whose hierarchical descendants are loaded for a type.
type Root struct {
	URL   string `yaml:"url" json:"url"`
	Label string `yaml:"label" json:"label"`
}

// Catalog lists crawl roots per record type.
type Catalog struct {
	Roots map[string][]Root `yaml:"roots" json:"roots"`
}

// LoadCatalog reads a roots file. An empty path yields DefaultCatalog.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Catalog{}, err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, fmt.Errorf("failed to parse ontology roots: %w", err)
	}
	if len(cat.Roots) == 0 {
		return Catalog{}, fmt.Errorf("ontology roots file %s is empty", path)
	}
	normalized := make(map[string][]Root, len(cat.Roots))
	for t, roots := range cat.Roots {
		normalized[strings.ToLower(strings.TrimSpace(t))] = roots
	}
	cat.Roots = normalized
	return cat, nil
}

func (c Catalog) RootsFor(recordType string) []Root {
	return c.Roots[strings.ToLower(recordType)]
}

// DefaultCatalog crawls diagnosis terms below NCIt "Cancer". Treatments have
// no default root.
func DefaultCatalog() Catalog {
	return Catalog{Roots: map[string][]Root{
		"diagnosis": {
			{URL: "http://purl.obolibrary.org/obo/NCIT_C9305", Label: "Cancer"},
		},
		"treatment": nil,
	}}
}
