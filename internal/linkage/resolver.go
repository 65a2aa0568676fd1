// Package linkage finds the projects connected to the entities running notes are filed against.
package linkage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"runningnotes/internal/notes"
)

// Collections names the collections backing each entity type.
type Collections struct {
	Projects     string
	XFlowcells   string
	Worksets     string
	NanoporeRuns string
}

type projectDoc struct {
	ProjectID   string `bson:"project_id"`
	ProjectName string `bson:"project_name"`
	Details     struct {
		ProjectCoordinator string `bson:"project_coordinator"`
	} `bson:"details"`
}

// runDoc is the linkage row of a sequencing run or workset.
type runDoc struct {
	Name       string   `bson:"name"`
	ProjectIDs []string `bson:"project_ids"`
}

// Resolver reads project and run linkage from Mongo.
type Resolver struct {
	projects     *mongo.Collection
	xFlowcells   *mongo.Collection
	worksets     *mongo.Collection
	nanoporeRuns *mongo.Collection
}

func NewResolver(db *mongo.Database, c Collections) *Resolver {
	return &Resolver{
		projects:     db.Collection(c.Projects),
		xFlowcells:   db.Collection(c.XFlowcells),
		worksets:     db.Collection(c.Worksets),
		nanoporeRuns: db.Collection(c.NanoporeRuns),
	}
}

// Project returns the project record for id.
func (r *Resolver) Project(ctx context.Context, id string) (*notes.Project, error) {
	var doc projectDoc
	opts := options.FindOne().SetProjection(bson.M{
		"project_id":                  1,
		"project_name":                1,
		"details.project_coordinator": 1,
	})
	err := r.projects.FindOne(ctx, bson.M{"project_id": id}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("project %s: %w", id, notes.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find project %s: %w", id, err)
	}
	return &notes.Project{
		ID:          doc.ProjectID,
		Name:        doc.ProjectName,
		Coordinator: doc.Details.ProjectCoordinator,
	}, nil
}

// ProjectIDs returns the projects linked to a run or workset, in stored order.
func (r *Resolver) ProjectIDs(ctx context.Context, parentID string, t notes.NoteType) ([]string, error) {
	var coll *mongo.Collection
	switch t {
	case notes.TypeFlowcell:
		coll = r.xFlowcells
	case notes.TypeWorkset:
		coll = r.worksets
	case notes.TypeFlowcellONT:
		coll = r.nanoporeRuns
	case notes.TypeProject:
		return []string{parentID}, nil
	default:
		return nil, fmt.Errorf("no linkage for note type %q", t)
	}

	var doc runDoc
	opts := options.FindOne().SetProjection(bson.M{"name": 1, "project_ids": 1})
	err := coll.FindOne(ctx, bson.M{"name": parentID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s %s: %w", t, parentID, notes.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s %s: %w", t, parentID, err)
	}
	return doc.ProjectIDs, nil
}
