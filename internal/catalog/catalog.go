// Package catalog loads servers, commands, plans, variables and keys from
// YAML files into the store.
package catalog

import (
	"fmt"
	"os"

	"flightplan/internal/types"

	"gopkg.in/yaml.v3"
)

// Catalog is the content of one or more catalog files.
type Catalog struct {
	Keys      []types.Key       `yaml:"keys,omitempty"`
	Servers   []types.Server    `yaml:"servers,omitempty"`
	Variables map[string]string `yaml:"variables,omitempty"` // global values
	Commands  []types.Command   `yaml:"commands,omitempty"`
	Plans     []types.Plan      `yaml:"plans,omitempty"`
}

// Parse decodes catalog YAML. The content may be wrapped in a top-level
// "catalog:" key.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %v", err)
	}

	body, ok := raw["catalog"]
	if !ok {
		body = raw
	}

	bodyBytes, err := yaml.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal catalog data: %v", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(bodyBytes, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog struct: %v", err)
	}
	return &c, nil
}

// ParseFile reads and decodes one catalog file.
func ParseFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %v", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// LoadFiles parses every file and merges them in order.
func LoadFiles(paths ...string) (*Catalog, error) {
	merged := &Catalog{}
	for _, p := range paths {
		c, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		merged.Merge(c)
	}
	return merged, nil
}

// Merge appends other's records to c. Global variables in other win.
func (c *Catalog) Merge(other *Catalog) {
	c.Keys = append(c.Keys, other.Keys...)
	c.Servers = append(c.Servers, other.Servers...)
	c.Commands = append(c.Commands, other.Commands...)
	c.Plans = append(c.Plans, other.Plans...)
	if len(other.Variables) > 0 && c.Variables == nil {
		c.Variables = map[string]string{}
	}
	for k, v := range other.Variables {
		c.Variables[k] = v
	}
}
