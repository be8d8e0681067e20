package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
)

// MemoryStore is an in-process Store used in tests and in runs without a
// Neo4j endpoint configured.
type MemoryStore struct {
	mu        sync.Mutex
	concepts  map[string]map[uuid.UUID]domain.CanonicalConcept
	relations map[string][]domain.TypedRelation

	// FailWrites makes every write return an error, for degradation tests.
	FailWrites bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		concepts:  make(map[string]map[uuid.UUID]domain.CanonicalConcept),
		relations: make(map[string][]domain.TypedRelation),
	}
}

func (m *MemoryStore) CreateOrMergeConcept(_ context.Context, c domain.CanonicalConcept) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("memory graph: writes disabled")
	}
	if c.CanonicalID == uuid.Nil {
		return fmt.Errorf("memory graph: concept missing canonical_id")
	}
	byID := m.concepts[c.TenantID]
	if byID == nil {
		byID = make(map[uuid.UUID]domain.CanonicalConcept)
		m.concepts[c.TenantID] = byID
	}
	byID[c.CanonicalID] = c
	return nil
}

func (m *MemoryStore) CreateRelationship(_ context.Context, tenantID string, rel domain.TypedRelation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("memory graph: writes disabled")
	}
	byID := m.concepts[tenantID]
	if byID == nil {
		return fmt.Errorf("memory graph: endpoint concepts not found")
	}
	if _, ok := byID[rel.SubjectConceptID]; !ok {
		return fmt.Errorf("memory graph: subject %s not promoted", rel.SubjectConceptID)
	}
	if _, ok := byID[rel.ObjectConceptID]; !ok {
		return fmt.Errorf("memory graph: object %s not promoted", rel.ObjectConceptID)
	}
	m.relations[tenantID] = append(m.relations[tenantID], rel)
	return nil
}

func (m *MemoryStore) FindSimilar(_ context.Context, tenantID, name string, threshold float64) ([]domain.CanonicalConcept, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = strings.ToLower(strings.TrimSpace(name))
	var out []domain.CanonicalConcept
	for _, c := range m.concepts[tenantID] {
		if bestSimilarity(name, c) >= threshold {
			out = append(out, c)
		}
	}
	return out, nil
}

// Concepts returns a snapshot of the tenant's stored concepts.
func (m *MemoryStore) Concepts(tenantID string) []domain.CanonicalConcept {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CanonicalConcept, 0, len(m.concepts[tenantID]))
	for _, c := range m.concepts[tenantID] {
		out = append(out, c)
	}
	return out
}

// Relations returns a snapshot of the tenant's stored relations.
func (m *MemoryStore) Relations(tenantID string) []domain.TypedRelation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TypedRelation, len(m.relations[tenantID]))
	copy(out, m.relations[tenantID])
	return out
}
