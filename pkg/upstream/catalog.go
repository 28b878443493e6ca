package upstream

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderSpec describes one bridge-backed provider.
type ProviderSpec struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token,omitempty"`
	Timeout string `yaml:"timeout,omitempty"`
}

// Catalog is a YAML file listing the providers to register.
type Catalog struct {
	Default   string         `yaml:"default"`
	Providers []ProviderSpec `yaml:"providers"`
}

// LoadCatalog reads a YAML provider catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider catalog %s: %w", path, err)
	}

	cat, err := LoadCatalogFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("provider catalog %s: %w", path, err)
	}
	return cat, nil
}

// LoadCatalogFromBytes parses and validates YAML catalog data.
func LoadCatalogFromBytes(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse provider catalog: %w", err)
	}
	if len(cat.Providers) == 0 {
		return nil, fmt.Errorf("no providers defined")
	}
	for i, p := range cat.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("provider %d: missing name", i)
		}
		if p.BaseURL == "" {
			return nil, fmt.Errorf("provider %q: missing base_url", p.Name)
		}
		if p.Timeout != "" {
			if _, err := time.ParseDuration(p.Timeout); err != nil {
				return nil, fmt.Errorf("provider %q: invalid timeout: %w", p.Name, err)
			}
		}
	}
	return &cat, nil
}

// Register adds an HTTPProvider for every catalog entry and applies the
// catalog default.
func (c *Catalog) Register(r *Registry, defaultTimeout time.Duration) error {
	for _, p := range c.Providers {
		timeout := defaultTimeout
		if p.Timeout != "" {
			timeout, _ = time.ParseDuration(p.Timeout)
		}
		if err := r.Register(NewHTTPProvider(p.Name, p.BaseURL, p.Token, timeout)); err != nil {
			return err
		}
	}
	if c.Default != "" {
		return r.SetFallback(c.Default)
	}
	return nil
}
