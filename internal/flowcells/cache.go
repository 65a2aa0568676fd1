// Package flowcells implements flowcell name search for the dashboard search box.
package flowcells

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultTTL is how long a name list is served before it is reloaded.
const DefaultTTL = 3 * time.Minute

// Source is a collection of sequencing runs whose names are searchable.
type Source string

const (
	SourceFlowcells    Source = "flowcells"
	SourceXFlowcells   Source = "x_flowcells"
	SourceNanoporeRuns Source = "nanopore_runs"
)

// Loader reads the full name list of a source.
type Loader interface {
	Names(ctx context.Context, src Source) ([]string, error)
}

type cached struct {
	names   []string
	fetched time.Time
}

// NameCache serves name lists and reloads them once they are older than the TTL.
// Lists are shared through redis when a client is given, otherwise held in memory.
type NameCache struct {
	loader Loader
	rdb    *redis.Client
	ttl    time.Duration
	log    *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	mem map[Source]cached
}

// NewNameCache creates a cache. rdb may be nil.
func NewNameCache(loader Loader, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *NameCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &NameCache{
		loader: loader,
		rdb:    rdb,
		ttl:    ttl,
		log:    log,
		now:    time.Now,
		mem:    make(map[Source]cached),
	}
}

func redisKey(src Source) string {
	return "flowcells:names:" + string(src)
}

// Names returns the cached name list of src, loading it when missing or stale.
func (c *NameCache) Names(ctx context.Context, src Source) ([]string, error) {
	if c.rdb != nil {
		names, err := c.fromRedis(ctx, src)
		switch {
		case err == nil:
			return names, nil
		case errors.Is(err, redis.Nil):
			names, err = c.loader.Names(ctx, src)
			if err != nil {
				return nil, fmt.Errorf("load %s names: %w", src, err)
			}
			c.toRedis(ctx, src, names)
			return names, nil
		default:
			c.log.Warn("flowcell name cache unavailable, using memory", "source", src, "error", err)
		}
	}
	return c.fromMemory(ctx, src)
}

func (c *NameCache) fromRedis(ctx context.Context, src Source) ([]string, error) {
	data, err := c.rdb.Get(ctx, redisKey(src)).Bytes()
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decode cached %s names: %w", src, err)
	}
	return names, nil
}

func (c *NameCache) toRedis(ctx context.Context, src Source, names []string) {
	data, err := json.Marshal(names)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKey(src), data, c.ttl).Err(); err != nil {
		c.log.Warn("failed to cache flowcell names", "source", src, "error", err)
	}
}

func (c *NameCache) fromMemory(ctx context.Context, src Source) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.mem[src]; ok && c.now().Sub(e.fetched) < c.ttl {
		return e.names, nil
	}
	names, err := c.loader.Names(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("load %s names: %w", src, err)
	}
	c.mem[src] = cached{names: names, fetched: c.now()}
	return names, nil
}
