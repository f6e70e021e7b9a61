// Package syncer synchronizes Checkmarx projects into the Port catalog.
//
// A run has three phases that are executed in order:
//
//  1. Ensure the blueprint exists, creating it if it cannot be read.
//  2. Fetch all projects from Checkmarx.
//  3. Create one entity per project.
//
// Failures in phases 1 and 2 abort the run. Failures in phase 3 are
// recorded per project and do not affect the other projects.
package syncer

import (
	"context"
	"fmt"
	"log"

	"github.com/dnswlt/cxsync/internal/authclient"
	"github.com/dnswlt/cxsync/internal/checkmarx"
	"github.com/dnswlt/cxsync/internal/port"
)

// Catalog is the part of the Port client used by the syncer.
type Catalog interface {
	GetBlueprint(ctx context.Context, identifier string) (*port.Blueprint, bool, error)
	CreateBlueprint(ctx context.Context, bp port.Blueprint) (*port.Blueprint, error)
	CreateEntity(ctx context.Context, blueprintID string, e port.Entity) (*port.Entity, error)
}

// Source is the part of the Checkmarx client used by the syncer.
type Source interface {
	ListProjects(ctx context.Context) ([]checkmarx.Project, error)
}

// Failure records a project whose entity could not be created.
type Failure struct {
	Identifier string
	Name       string
	Err        error
}

// Report summarizes a completed run.
type Report struct {
	BlueprintCreated bool
	Projects         int
	Synced           int
	Failures         []Failure
}

type Syncer struct {
	catalog   Catalog
	source    Source
	blueprint port.Blueprint
}

func New(catalog Catalog, source Source, blueprint port.Blueprint) *Syncer {
	return &Syncer{
		catalog:   catalog,
		source:    source,
		blueprint: blueprint,
	}
}

// Run performs a full sync. The returned error is non-nil only if the
// blueprint could not be ensured or the projects could not be fetched.
func (s *Syncer) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	created, err := s.ensureBlueprint(ctx)
	if err != nil {
		return nil, err
	}
	report.BlueprintCreated = created

	log.Printf("Fetching projects from Checkmarx...")
	projects, err := s.source.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch projects: %w", err)
	}
	report.Projects = len(projects)
	if len(projects) == 0 {
		log.Printf("No projects found in Checkmarx")
		return report, nil
	}

	for _, p := range projects {
		if err := s.syncProject(ctx, p); err != nil {
			log.Printf("Error creating entity for project %s: %v", p.Name, err)
			if body := authclient.ErrorBody(err); body != "" {
				log.Printf("Response content: %s", body)
			}
			report.Failures = append(report.Failures, Failure{
				Identifier: EntityIdentifier(p),
				Name:       p.Name,
				Err:        err,
			})
			continue
		}
		report.Synced++
		log.Printf("Created entity for project: %s", p.Name)
	}
	return report, nil
}

func (s *Syncer) ensureBlueprint(ctx context.Context) (bool, error) {
	id := s.blueprint.Identifier
	_, ok, err := s.catalog.GetBlueprint(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to read blueprint %s: %w", id, err)
	}
	if ok {
		log.Printf("%s blueprint already exists", id)
		return false, nil
	}
	log.Printf("Creating %s blueprint...", id)
	if _, err := s.catalog.CreateBlueprint(ctx, s.blueprint); err != nil {
		return false, fmt.Errorf("failed to create blueprint %s: %w", id, err)
	}
	log.Printf("%s blueprint created successfully", id)
	return true, nil
}

func (s *Syncer) syncProject(ctx context.Context, p checkmarx.Project) error {
	_, err := s.catalog.CreateEntity(ctx, s.blueprint.Identifier, ProjectEntity(p))
	return err
}
