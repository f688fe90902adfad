package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DivisionCatalog is the set of division identifiers the extractor looks for,
// plus optional extra pre-filter regular expressions.
//
// Example file:
//
//	divisions:
//	  - "4"
//	  - "5"
//	  - "Gallipoli Group"
//	patterns:
//	  - '(?i)\bdördüncü\s+tümen'
type DivisionCatalog struct {
	Divisions []string `yaml:"divisions"`
	Patterns  []string `yaml:"patterns"`
}

// LoadDivisionCatalog reads a YAML catalog file.
func LoadDivisionCatalog(path string) (DivisionCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DivisionCatalog{}, fmt.Errorf("reading division catalog: %w", err)
	}
	var cat DivisionCatalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return DivisionCatalog{}, fmt.Errorf("parsing division catalog %s: %w", path, err)
	}
	cat.Divisions = cleanList(cat.Divisions)
	cat.Patterns = cleanList(cat.Patterns)
	if len(cat.Divisions) == 0 {
		return DivisionCatalog{}, fmt.Errorf("division catalog %s lists no divisions", path)
	}
	return cat, nil
}

// Catalog returns the division catalog from Extraction.DivisionsFile when set,
// otherwise from the comma-separated Extraction.Divisions key.
func (c Config) Catalog() (DivisionCatalog, error) {
	if c.Extraction.DivisionsFile != "" {
		return LoadDivisionCatalog(c.Extraction.DivisionsFile)
	}
	divs := c.DivisionList()
	if len(divs) == 0 {
		return DivisionCatalog{}, fmt.Errorf("no divisions configured; set extraction.divisions or extraction.divisions_file")
	}
	return DivisionCatalog{Divisions: divs}, nil
}

func cleanList(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
