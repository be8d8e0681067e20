package graph

import (
	"context"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
)

/*
Store is the persistence surface for promoted concepts and their typed
relationships. Implementations must be safe for concurrent use.

FindSimilar returns existing concepts whose canonical name is within the
given lexical similarity of the query name, scoped to a tenant. Callers
use it to merge near-duplicate concepts instead of creating new nodes.
*/
type Store interface {
	CreateOrMergeConcept(ctx context.Context, c domain.CanonicalConcept) error
	CreateRelationship(ctx context.Context, tenantID string, rel domain.TypedRelation) error
	FindSimilar(ctx context.Context, tenantID, name string, threshold float64) ([]domain.CanonicalConcept, error)
}
