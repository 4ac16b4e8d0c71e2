// Package importer loads seed files of knowledge entries and products into
// the corpus engines.
package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kiku/internal/models"
)

// DefaultExtensions are the seed file formats Parse understands.
var DefaultExtensions = []string{".json", ".yaml", ".yml", ".xlsx"}

// Seed is the content of one seed file.
type Seed struct {
	Knowledge []models.KnowledgeInput `json:"knowledge" yaml:"knowledge"`
	Products  []models.ProductInput   `json:"products" yaml:"products"`
}

// Len returns the number of entries in the seed.
func (s *Seed) Len() int {
	return len(s.Knowledge) + len(s.Products)
}

// ParseFile reads and parses the seed file at path.
func ParseFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes seed content by file extension (with leading dot).
func Parse(data []byte, ext string) (*Seed, error) {
	var seed Seed
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &seed); err != nil {
			return nil, fmt.Errorf("parse JSON seed: %w", err)
		}
	case ".yaml", ".yml":
		s, err := parseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("parse YAML seed: %w", err)
		}
		seed = *s
	case ".xlsx":
		s, err := parseWorkbook(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		seed = *s
	default:
		return nil, fmt.Errorf("unsupported seed format %q", ext)
	}
	return &seed, nil
}

// yamlSeed mirrors Seed, keeping specifications as a raw node so that their
// document order survives decoding.
type yamlSeed struct {
	Knowledge []models.KnowledgeInput `yaml:"knowledge"`
	Products  []yamlProduct           `yaml:"products"`
}

type yamlProduct struct {
	models.ProductInput `yaml:",inline"`
	Specifications      yaml.Node `yaml:"specifications"`
}

func parseYAML(data []byte) (*Seed, error) {
	var raw yamlSeed
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	seed := &Seed{Knowledge: raw.Knowledge}
	for i, p := range raw.Products {
		in := p.ProductInput
		switch p.Specifications.Kind {
		case 0:
		case yaml.MappingNode:
			specs := models.NewSpecifications()
			content := p.Specifications.Content
			for j := 0; j+1 < len(content); j += 2 {
				specs.Set(content[j].Value, content[j+1].Value)
			}
			in.Specifications = specs
		default:
			return nil, fmt.Errorf("product %d: specifications must be a mapping", i)
		}
		seed.Products = append(seed.Products, in)
	}
	return seed, nil
}
