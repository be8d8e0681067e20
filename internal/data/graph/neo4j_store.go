package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/neo4jdb"
)

// similarCandidateLimit bounds how many tenant concepts FindSimilar pulls
// back for in-process scoring.
const similarCandidateLimit = 2000

type neo4jStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

/*
NewNeo4jStore wraps a connected Neo4j client as a Store. It installs the
uniqueness constraint and tenant index up front; schema statements are
best-effort because restricted users may not hold schema privileges.
*/
func NewNeo4jStore(ctx context.Context, client *neo4jdb.Client, log *logger.Logger) (Store, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("graph: neo4j client required")
	}
	if log == nil {
		return nil, fmt.Errorf("graph: logger required")
	}

	s := &neo4jStore{client: client, log: log.With("service", "Neo4jConceptStore")}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	for _, stmt := range []string{
		`CREATE CONSTRAINT concept_canonical_id IF NOT EXISTS FOR (c:Concept) REQUIRE c.canonical_id IS UNIQUE`,
		`CREATE INDEX concept_tenant_name IF NOT EXISTS FOR (c:Concept) ON (c.tenant_id, c.canonical_name)`,
	} {
		if res, err := session.Run(ctx, stmt, nil); err != nil {
			s.log.Warn("neo4j schema init failed (continuing)", "error", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}
	return s, nil
}

func (s *neo4jStore) CreateOrMergeConcept(ctx context.Context, c domain.CanonicalConcept) error {
	if c.CanonicalID == uuid.Nil {
		return fmt.Errorf("graph: concept missing canonical_id")
	}
	if strings.TrimSpace(c.CanonicalName) == "" {
		return fmt.Errorf("graph: concept missing canonical_name")
	}

	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	params := map[string]any{
		"canonical_id":   c.CanonicalID.String(),
		"canonical_name": c.CanonicalName,
		"aliases":        c.Aliases,
		"languages":      c.Languages,
		"concept_type":   c.ConceptType,
		"confidence":     c.Confidence,
		"quality_score":  c.QualityScore,
		"tenant_id":      c.TenantID,
		"synced_at":      now,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MERGE (c:Concept {canonical_id: $canonical_id})
ON CREATE SET c.created_at = $synced_at
SET c.canonical_name = $canonical_name,
    c.aliases = $aliases,
    c.languages = $languages,
    c.concept_type = $concept_type,
    c.confidence = $confidence,
    c.quality_score = $quality_score,
    c.tenant_id = $tenant_id,
    c.synced_at = $synced_at
`, params)
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph: merge concept %q: %w", c.CanonicalName, err)
	}
	return nil
}

func (s *neo4jStore) CreateRelationship(ctx context.Context, tenantID string, rel domain.TypedRelation) error {
	if rel.SubjectConceptID == uuid.Nil || rel.ObjectConceptID == uuid.Nil {
		return fmt.Errorf("graph: relation endpoints must be promoted concepts")
	}
	if rel.PredicateType == "" {
		return fmt.Errorf("graph: relation missing predicate type")
	}

	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	params := map[string]any{
		"subject_id":       rel.SubjectConceptID.String(),
		"object_id":        rel.ObjectConceptID.String(),
		"predicate":        rel.PredicateType,
		"confidence":       rel.Confidence,
		"evidence_context": rel.EvidenceContext,
		"strategy_source":  rel.StrategySource,
		"tenant_id":        tenantID,
		"synced_at":        time.Now().UTC().Format(time.RFC3339Nano),
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (a:Concept {canonical_id: $subject_id, tenant_id: $tenant_id})
MATCH (b:Concept {canonical_id: $object_id, tenant_id: $tenant_id})
MERGE (a)-[r:RELATES {predicate_type: $predicate}]->(b)
SET r.confidence = $confidence,
    r.evidence_context = $evidence_context,
    r.strategy_source = $strategy_source,
    r.synced_at = $synced_at
RETURN count(r) AS created
`, params)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		if n, _ := rec.Get("created"); n == int64(0) {
			return nil, fmt.Errorf("endpoint concepts not found")
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph: merge relation %s-[%s]->%s: %w",
			rel.SubjectConceptID, rel.PredicateType, rel.ObjectConceptID, err)
	}
	return nil
}

/*
FindSimilar pulls the tenant's concepts and scores canonical names
in-process with normalized Levenshtein similarity. Aliases count too so a
concept merged under a different surface form is still found.
*/
func (s *neo4jStore) FindSimilar(ctx context.Context, tenantID, name string, threshold float64) ([]domain.CanonicalConcept, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, nil
	}

	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (c:Concept {tenant_id: $tenant_id})
RETURN c.canonical_id AS canonical_id,
       c.canonical_name AS canonical_name,
       c.aliases AS aliases,
       c.languages AS languages,
       c.concept_type AS concept_type,
       c.confidence AS confidence,
       c.quality_score AS quality_score
LIMIT $limit
`, map[string]any{"tenant_id": tenantID, "limit": similarCandidateLimit})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("graph: find similar to %q: %w", name, err)
	}

	records, _ := rows.([]*neo4j.Record)
	var out []domain.CanonicalConcept
	for _, rec := range records {
		c, ok := conceptFromRecord(rec, tenantID)
		if !ok {
			continue
		}
		if bestSimilarity(name, c) >= threshold {
			out = append(out, c)
		}
	}
	return out, nil
}

func bestSimilarity(name string, c domain.CanonicalConcept) float64 {
	best := levenshtein.Similarity(name, strings.ToLower(c.CanonicalName), nil)
	for _, a := range c.Aliases {
		if sim := levenshtein.Similarity(name, strings.ToLower(a), nil); sim > best {
			best = sim
		}
	}
	return best
}

func conceptFromRecord(rec *neo4j.Record, tenantID string) (domain.CanonicalConcept, bool) {
	var c domain.CanonicalConcept

	rawID, _ := rec.Get("canonical_id")
	idStr, _ := rawID.(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		return c, false
	}
	c.CanonicalID = id
	c.TenantID = tenantID

	if v, _ := rec.Get("canonical_name"); v != nil {
		c.CanonicalName, _ = v.(string)
	}
	if v, _ := rec.Get("concept_type"); v != nil {
		c.ConceptType, _ = v.(string)
	}
	if v, _ := rec.Get("confidence"); v != nil {
		c.Confidence, _ = v.(float64)
	}
	if v, _ := rec.Get("quality_score"); v != nil {
		c.QualityScore, _ = v.(float64)
	}
	c.Aliases = stringSlice(rec, "aliases")
	c.Languages = stringSlice(rec, "languages")
	return c, true
}

func stringSlice(rec *neo4j.Record, key string) []string {
	raw, _ := rec.Get(key)
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
