package payment

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pack is a purchasable bundle of points
type Pack struct {
	ID     string `yaml:"id" json:"id"`
	Points int    `yaml:"points" json:"points"`
	Price  Amount `yaml:"price" json:"price"`
}

// Catalog holds the packs on sale and the promo codes that can be redeemed
type Catalog struct {
	Packs      []Pack         `yaml:"packs"`
	PromoCodes map[string]int `yaml:"promo_codes"`
}

// DefaultCatalog is used when no catalog file is configured
func DefaultCatalog() *Catalog {
	return &Catalog{
		Packs: []Pack{
			{ID: "basic", Points: 50, Price: 500},
			{ID: "standard", Points: 120, Price: 1000},
			{ID: "pro", Points: 300, Price: 2000},
		},
		PromoCodes: map[string]int{},
	}
}

// LoadCatalog reads a YAML catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.PromoCodes == nil {
		c.PromoCodes = map[string]int{}
	}
	return &c, nil
}

// Validate rejects empty, duplicate or non-positive packs
func (c *Catalog) Validate() error {
	if len(c.Packs) == 0 {
		return fmt.Errorf("catalog has no packs")
	}
	seen := make(map[string]bool, len(c.Packs))
	for _, p := range c.Packs {
		if p.ID == "" {
			return fmt.Errorf("catalog pack without id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate pack %q", p.ID)
		}
		seen[p.ID] = true
		if p.Points <= 0 || p.Price <= 0 {
			return fmt.Errorf("pack %q must have positive points and price", p.ID)
		}
	}
	return nil
}

// Pack looks up a pack by id
func (c *Catalog) Pack(id string) (Pack, bool) {
	for _, p := range c.Packs {
		if p.ID == id {
			return p, true
		}
	}
	return Pack{}, false
}
