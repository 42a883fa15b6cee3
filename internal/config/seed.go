package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the YAML file that seeds feeds and the keyword taxonomy.
type Seed struct {
	Feeds    []SeedFeed    `yaml:"feeds"`
	Keywords []SeedKeyword `yaml:"keywords"`
}

// SeedFeed is one news feed entry.
type SeedFeed struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// SeedKeyword is one keyword taxonomy entry.
type SeedKeyword struct {
	Keyword     string   `yaml:"keyword"`
	Category    string   `yaml:"category"`
	Weight      int      `yaml:"weight"`
	ProductTags []string `yaml:"product_tags"`
}

var seedCategories = map[string]bool{
	"pain_signal": true,
	"regulatory":  true,
	"cost":        true,
	"competitor":  true,
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	for i, f := range seed.Feeds {
		if f.Name == "" || f.URL == "" {
			return nil, fmt.Errorf("seed feed %d: name and url are required", i)
		}
	}
	for i, k := range seed.Keywords {
		if k.Keyword == "" {
			return nil, fmt.Errorf("seed keyword %d: keyword is required", i)
		}
		if !seedCategories[k.Category] {
			return nil, fmt.Errorf("seed keyword %q: unknown category %q", k.Keyword, k.Category)
		}
		if k.Weight < 1 {
			return nil, fmt.Errorf("seed keyword %q: weight must be >= 1", k.Keyword)
		}
	}
	return &seed, nil
}
