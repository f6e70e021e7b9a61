package syncer

import (
	"github.com/dnswlt/cxsync/internal/checkmarx"
	"github.com/dnswlt/cxsync/internal/config"
	"github.com/dnswlt/cxsync/internal/port"
)

// EntityIdentifier returns the project id, or the project name if the
// project has no id. A project without either yields "".
func EntityIdentifier(p checkmarx.Project) string {
	if p.HasID {
		return p.ID
	}
	return p.Name
}

// ProjectEntity maps a Checkmarx project to a catalog entity.
// The property keys are a subset of those of the default blueprint.
func ProjectEntity(p checkmarx.Project) port.Entity {
	id := EntityIdentifier(p)
	return port.Entity{
		Identifier: id,
		Title:      p.Name,
		Properties: map[string]any{
			"description":  p.Description,
			"projectId":    id,
			"lastScanDate": p.LastScanDate,
		},
		Relations: map[string]any{},
	}
}

// ProjectBlueprint builds the blueprint definition from its configuration.
func ProjectBlueprint(cfg config.BlueprintConfig) port.Blueprint {
	props := make(map[string]port.Property, len(cfg.Properties))
	for name, p := range cfg.Properties {
		props[name] = port.Property{
			Type:        p.Type,
			Title:       p.Title,
			Description: p.Description,
		}
	}
	relations := make(map[string]port.Relation, len(cfg.Relations))
	for name, r := range cfg.Relations {
		relations[name] = port.Relation{
			Title:    r.Title,
			Target:   r.Target,
			Required: r.Required,
			Many:     r.Many,
		}
	}
	return port.Blueprint{
		Identifier:  cfg.Identifier,
		Title:       cfg.Title,
		Description: cfg.Description,
		Schema: port.Schema{
			Properties: props,
			Required:   []string{},
		},
		Relations: relations,
	}
}
