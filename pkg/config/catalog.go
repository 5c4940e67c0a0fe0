package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogStand is a merchant stand as written in the catalog file
type CatalogStand struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// CatalogProduct is a product as written in the catalog file
type CatalogProduct struct {
	ID      string `yaml:"id"`
	StandID string `yaml:"stand_id"`
	Name    string `yaml:"name"`
	Price   string `yaml:"price"`
}

// CatalogFile holds the stands and products served to devices
type CatalogFile struct {
	Stands   []CatalogStand   `yaml:"stands"`
	Products []CatalogProduct `yaml:"products"`
}

// LoadCatalogFile loads the catalog from a YAML file
func LoadCatalogFile(path string) (*CatalogFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var catalog CatalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	if err := catalog.Validate(); err != nil {
		return nil, err
	}

	return &catalog, nil
}

// Validate validates the catalog file
func (c *CatalogFile) Validate() error {
	stands := make(map[string]bool, len(c.Stands))
	for _, s := range c.Stands {
		if s.ID == "" {
			return fmt.Errorf("stand id is required (stand %q)", s.Name)
		}
		if stands[s.ID] {
			return fmt.Errorf("duplicate stand id %s", s.ID)
		}
		stands[s.ID] = true
	}

	seen := make(map[string]bool, len(c.Products))
	for _, p := range c.Products {
		if p.ID == "" {
			return fmt.Errorf("product id is required (product %q)", p.Name)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate product id %s", p.ID)
		}
		if p.StandID != "" && !stands[p.StandID] {
			return fmt.Errorf("product %s references unknown stand %s", p.ID, p.StandID)
		}
		if p.Price == "" {
			return fmt.Errorf("price is required for product %s", p.ID)
		}
		seen[p.ID] = true
	}

	return nil
}
