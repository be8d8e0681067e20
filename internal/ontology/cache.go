package ontology

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/envutil"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
)

// Entry is one resolved canonical name, keyed by the normalized surface
// form that resolved to it. Entries are advisory: losing one costs an
// external call, serving a poisoned one costs correctness, so writes are
// validated and reads are not.
type Entry struct {
	TenantID      string   `json:"tenant_id"`
	CanonicalName string   `json:"canonical_name"`
	ConceptType   string   `json:"concept_type,omitempty"`
	Aliases       []string `json:"aliases,omitempty"`
	Confidence    float64  `json:"confidence"`
	UsageCount    int64    `json:"usage_count"`
	Source        string   `json:"source"` // "cache" | "resolved"
}

/*
Cache is the tenant-scoped adaptive ontology cache.

Two layers: a process-local go-cache for the hot path, and a Redis layer
shared by all workers so a name resolved by one process is a hit for every
other. The entry is stored under its own normalized key and under each
alias key, so alias mentions hit without resolution.

All store failures are logged and swallowed; the cache never fails a run.
Concurrent writers may race on the same key; last-writer-wins is
acceptable because both writers hold a validated resolution.
*/
type Cache struct {
	log   *logger.Logger
	local *gocache.Cache
	rdb   *goredis.Client
	ttl   time.Duration
}

func NewCache(log *logger.Logger, rdb *goredis.Client) *Cache {
	ttl := envutil.Duration("ONTOLOGY_CACHE_TTL_SECONDS", 14*24*time.Hour)
	localTTL := envutil.Duration("ONTOLOGY_LOCAL_TTL_SECONDS", 10*time.Minute)
	return &Cache{
		log:   log.With("component", "OntologyCache"),
		local: gocache.New(localTTL, 2*localTTL),
		rdb:   rdb,
		ttl:   ttl,
	}
}

// Lookup returns the cached resolution for a raw mention, matching the
// normalized form or any stored alias. A hit bumps the usage counter.
func (c *Cache) Lookup(ctx context.Context, tenantID, rawName string) (domain.Resolution, bool) {
	key := c.key(tenantID, rawName)
	if key == "" {
		return domain.Resolution{}, false
	}

	if v, ok := c.local.Get(key); ok {
		if e, ok := v.(Entry); ok {
			e.UsageCount = c.bumpUsage(ctx, key, e.UsageCount)
			c.local.SetDefault(key, e)
			return resolutionFrom(e), true
		}
	}
	if c.rdb == nil {
		return domain.Resolution{}, false
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return domain.Resolution{}, false
	}
	if err != nil {
		c.log.Warn("cache read failed, treating as miss", "tenant_id", tenantID, "error", err)
		return domain.Resolution{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.log.Warn("cache entry corrupt, treating as miss", "tenant_id", tenantID, "error", err)
		return domain.Resolution{}, false
	}
	e.UsageCount = c.bumpUsage(ctx, key, e.UsageCount)
	c.local.SetDefault(key, e)
	return resolutionFrom(e), true
}

// Usage reports how many hits the entry for name has served, from the
// local layer. Zero means the entry is cold or absent.
func (c *Cache) Usage(tenantID, name string) int64 {
	key := c.key(tenantID, name)
	if key == "" {
		return 0
	}
	if v, ok := c.local.Get(key); ok {
		if e, ok := v.(Entry); ok {
			return e.UsageCount
		}
	}
	return 0
}

// Put stores a validated resolution under its normalized key and every
// alias key. Callers must run ValidateForCache first; Put re-checks the
// cheap invariants as a second line of defense.
func (c *Cache) Put(ctx context.Context, tenantID, rawName string, res domain.Resolution) {
	if res.Source == "fallback" || res.NeedsReprocess {
		c.log.Warn("refusing to cache fallback resolution", "tenant_id", tenantID, "raw_name", rawName)
		return
	}
	e := Entry{
		TenantID:      tenantID,
		CanonicalName: res.CanonicalName,
		ConceptType:   res.ConceptType,
		Aliases:       capAliases(res.Aliases),
		Confidence:    res.Confidence,
		Source:        "resolved",
	}

	keys := []string{c.key(tenantID, rawName), c.key(tenantID, res.CanonicalName)}
	for _, a := range e.Aliases {
		keys = append(keys, c.key(tenantID, a))
	}
	seen := map[string]bool{}
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		c.local.SetDefault(k, e)
		if c.rdb == nil {
			continue
		}
		raw, _ := json.Marshal(e)
		if err := c.rdb.Set(ctx, k, raw, c.ttl).Err(); err != nil {
			c.log.Warn("cache write failed", "tenant_id", tenantID, "error", err)
			return
		}
	}
}

// bumpUsage advances the hit counter and returns the new count. The
// shared counter lives beside the entry blob so increments stay atomic
// across workers; without Redis the local count advances alone.
func (c *Cache) bumpUsage(ctx context.Context, key string, local int64) int64 {
	if c.rdb == nil {
		return local + 1
	}
	n, err := c.rdb.Incr(ctx, key+":uses").Result()
	if err != nil {
		c.log.Debug("usage bump failed", "error", err)
		return local + 1
	}
	return n
}

func (c *Cache) key(tenantID, name string) string {
	norm := NormalizeKey(name)
	if norm == "" || strings.TrimSpace(tenantID) == "" {
		return ""
	}
	return fmt.Sprintf("ontology:%s:%s", tenantID, norm)
}

func resolutionFrom(e Entry) domain.Resolution {
	return domain.Resolution{
		CanonicalName: e.CanonicalName,
		ConceptType:   e.ConceptType,
		Confidence:    e.Confidence,
		Aliases:       e.Aliases,
		Source:        "cache",
	}
}

// NormalizeKey lowercases and collapses whitespace so surface variants of
// the same mention share a cache slot.
func NormalizeKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), " ")
}
