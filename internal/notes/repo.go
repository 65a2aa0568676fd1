package notes

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Repo struct {
	coll *mongo.Collection
}

func NewRepo(db *mongo.Database, collection string) *Repo {
	return &Repo{coll: db.Collection(collection)}
}

// EnsureIndexes creates the partition indexes for the running notes collection
func (r *Repo) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "parent", Value: 1},
				{Key: "created_at_utc", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "projects", Value: 1},
				{Key: "created_at_utc", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "note_type", Value: 1}},
		},
	}

	_, err := r.coll.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// Insert writes a note as a single document. Ids are never reused.
func (r *Repo) Insert(ctx context.Context, n *RunningNote) error {
	_, err := r.coll.InsertOne(ctx, n)
	if err != nil {
		return fmt.Errorf("insert running note %s: %w", n.ID, err)
	}
	return nil
}

// FindByID retrieves a note by its id
func (r *Repo) FindByID(ctx context.Context, id string) (*RunningNote, error) {
	var note RunningNote
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&note)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("running note %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find running note %s: %w", id, err)
	}
	return &note, nil
}

// ListByPartition returns every note filed against partition, newest first
func (r *Repo) ListByPartition(ctx context.Context, partition string) ([]*RunningNote, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at_utc", Value: -1}})

	cursor, err := r.coll.Find(ctx, bson.M{"parent": partition}, opts)
	if err != nil {
		return nil, fmt.Errorf("list running notes: %w", err)
	}
	defer cursor.Close(ctx)

	var notes []*RunningNote
	if err := cursor.All(ctx, &notes); err != nil {
		return nil, fmt.Errorf("decode running notes: %w", err)
	}
	return notes, nil
}

// LatestSticky returns the newest sticky note in partition, or nil if there is none
func (r *Repo) LatestSticky(ctx context.Context, partition string) (*RunningNote, error) {
	filter := bson.M{
		"parent": partition,
		"categories": primitive.Regex{
			Pattern: "^" + regexp.QuoteMeta(StickyCategory) + "$",
			Options: "i",
		},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at_utc", Value: -1}})

	var note RunningNote
	err := r.coll.FindOne(ctx, filter, opts).Decode(&note)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find sticky note: %w", err)
	}
	return &note, nil
}
