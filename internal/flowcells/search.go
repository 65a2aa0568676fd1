package flowcells

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoLoader reads run names from the run collections.
type MongoLoader struct {
	colls map[Source]*mongo.Collection
}

// NewMongoLoader maps each source to the collection holding its runs.
func NewMongoLoader(db *mongo.Database, collections map[Source]string) *MongoLoader {
	colls := make(map[Source]*mongo.Collection, len(collections))
	for src, name := range collections {
		colls[src] = db.Collection(name)
	}
	return &MongoLoader{colls: colls}
}

// Names returns every run name of src, newest first
func (l *MongoLoader) Names(ctx context.Context, src Source) ([]string, error) {
	coll, ok := l.colls[src]
	if !ok {
		return nil, fmt.Errorf("unknown flowcell source %q", src)
	}

	opts := options.Find().
		SetProjection(bson.M{"name": 1}).
		SetSort(bson.D{{Key: "name", Value: -1}})
	cursor, err := coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", src, err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		Name string `bson:"name"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", src, err)
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Name != "" {
			names = append(names, d.Name)
		}
	}
	return names, nil
}

// Result is a search hit linking to a run page.
type Result struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

type Searcher struct {
	cache *NameCache
	log   *slog.Logger
}

func NewSearcher(cache *NameCache, log *slog.Logger) *Searcher {
	return &Searcher{cache: cache, log: log}
}

// Search returns runs whose name contains query, case-insensitively. Illumina runs link to
// /flowcells/{date}_{flowcell id}, nanopore runs to /flowcells_ont/{name}.
func (s *Searcher) Search(ctx context.Context, query string) ([]Result, error) {
	results := []Result{}
	if query == "" {
		return results, nil
	}
	query = strings.ToLower(query)

	for _, src := range []Source{SourceXFlowcells, SourceNanoporeRuns, SourceFlowcells} {
		names, err := s.cache.Names(ctx, src)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if !strings.Contains(strings.ToLower(name), query) {
				continue
			}
			results = append(results, Result{URL: runURL(src, name), Name: name})
		}
	}
	return results, nil
}

func runURL(src Source, name string) string {
	if src == SourceNanoporeRuns {
		return "/flowcells_ont/" + name
	}
	parts := strings.Split(name, "_")
	return fmt.Sprintf("/flowcells/%s_%s", parts[0], parts[len(parts)-1])
}

// Register mounts the search endpoint on mux.
func (s *Searcher) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/flowcell_search/{query}", s.HandleSearch)
}

// HandleSearch handles GET /api/v1/flowcell_search/{query}
func (s *Searcher) HandleSearch(w http.ResponseWriter, r *http.Request) {
	results, err := s.Search(r.Context(), r.PathValue("query"))
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		s.log.Error("failed to search flowcells", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
		return
	}
	json.NewEncoder(w).Encode(results)
}
