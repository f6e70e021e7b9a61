package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBlueprintID = "checkMarxProject"
)

// Property is the YAML representation of a blueprint property definition.
type Property struct {
	Type        string `yaml:"type"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// Relation is the YAML representation of a blueprint relation definition.
type Relation struct {
	Title    string `yaml:"title"`
	Target   string `yaml:"target"`
	Required bool   `yaml:"required"`
	Many     bool   `yaml:"many"`
}

// BlueprintConfig describes the blueprint that synchronized projects are stored under.
type BlueprintConfig struct {
	Identifier  string               `yaml:"identifier"`
	Title       string               `yaml:"title"`
	Description string               `yaml:"description"`
	Properties  map[string]*Property `yaml:"properties"`
	Relations   map[string]*Relation `yaml:"relations"`
}

// Bundle is the umbrella struct for the serialized configuration YAML.
type Bundle struct {
	Blueprint BlueprintConfig `yaml:"blueprint"`
}

// Default returns the configuration used if no configuration file is given.
func Default() *Bundle {
	return &Bundle{
		Blueprint: BlueprintConfig{
			Identifier:  DefaultBlueprintID,
			Title:       "Checkmarx Project",
			Description: "Represents a Checkmarx project",
			Properties: map[string]*Property{
				"description": {
					Type:        "string",
					Title:       "Description",
					Description: "Project description",
				},
				"projectId": {
					Type:        "string",
					Title:       "Project ID",
					Description: "Unique identifier for the project",
				},
				"lastScanDate": {
					Type:        "string",
					Title:       "Last Scan Date",
					Description: "Date of the last scan",
				},
			},
			Relations: map[string]*Relation{},
		},
	}
}

// Load reads the configuration at path and merges it over Default().
// Properties given in the file replace default properties of the same name
// or add new ones. Default properties cannot be removed.
func Load(path string) (*Bundle, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config %q: %v", path, err)
	}
	bundle, err := Parse(bs)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration YAML in %q: %v", path, err)
	}
	return bundle, nil
}

// Parse decodes configuration YAML and merges it over Default().
func Parse(data []byte) (*Bundle, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var override Bundle
	if err := dec.Decode(&override); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	bundle := Default()
	bp := &bundle.Blueprint
	if o := override.Blueprint; o.Identifier != "" {
		bp.Identifier = o.Identifier
	}
	if o := override.Blueprint; o.Title != "" {
		bp.Title = o.Title
	}
	if o := override.Blueprint; o.Description != "" {
		bp.Description = o.Description
	}
	maps.Copy(bp.Properties, override.Blueprint.Properties)
	maps.Copy(bp.Relations, override.Blueprint.Relations)

	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	return bundle, nil
}

func (b *Bundle) Validate() error {
	bp := &b.Blueprint
	if bp.Identifier == "" {
		return fmt.Errorf("blueprint identifier must not be empty")
	}
	for _, name := range slices.Sorted(maps.Keys(bp.Properties)) {
		p := bp.Properties[name]
		if p == nil || p.Type == "" {
			return fmt.Errorf("property %q of blueprint %s has no type", name, bp.Identifier)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(bp.Relations)) {
		r := bp.Relations[name]
		if r == nil || r.Target == "" {
			return fmt.Errorf("relation %q of blueprint %s has no target", name, bp.Identifier)
		}
	}
	return nil
}
