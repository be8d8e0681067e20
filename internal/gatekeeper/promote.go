package gatekeeper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yarrowlabs/conceptforge-backend/internal/data/graph"
	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	"github.com/yarrowlabs/conceptforge-backend/internal/ontology"
	apperrors "github.com/yarrowlabs/conceptforge-backend/internal/pkg/errors"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/envutil"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
)

type Config struct {
	MinQuality      float64
	MinConfidence   float64
	MaxGraphNodes   int
	DedupSimilarity float64
	LockTTL         time.Duration
	LockRetryAfter  time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		MinQuality:      envutil.Float("GATE_MIN_QUALITY", 0.5),
		MinConfidence:   envutil.Float("GATE_MIN_CONFIDENCE", 0.5),
		MaxGraphNodes:   envutil.Int("GATE_CENTRALITY_MAX_NODES", 200),
		DedupSimilarity: envutil.Float("GATE_DEDUP_SIMILARITY", 0.85),
		LockTTL:         envutil.Duration("GATE_LOCK_TTL_SECONDS", 10*time.Second),
		LockRetryAfter:  150 * time.Millisecond,
	}
}

/*
Gatekeeper guards the boundary between ephemeral mentions and durable
CanonicalConcept records. Nothing below the quality and confidence
thresholds crosses, and near-duplicate names merge into the existing
concept instead of forking the ontology.
*/
type Gatekeeper struct {
	log   *logger.Logger
	graph graph.Store
	locks LockStore
	cfg   Config
}

func New(log *logger.Logger, store graph.Store, locks LockStore, cfg Config) *Gatekeeper {
	return &Gatekeeper{
		log:   log.With("service", "Gatekeeper"),
		graph: store,
		locks: locks,
		cfg:   cfg,
	}
}

// Assess scores candidates and splits out the subset that passes the
// promotion gate.
func (g *Gatekeeper) Assess(cands []Candidate) (scored, eligible []Scored) {
	scored = Score(cands, g.cfg.MaxGraphNodes)
	return scored, g.Eligible(scored)
}

// Eligible filters scored candidates down to the set that passes the
// promotion gate. Fallback resolutions never pass regardless of score.
func (g *Gatekeeper) Eligible(scored []Scored) []Scored {
	var out []Scored
	for _, s := range scored {
		if s.NeedsReprocess {
			continue
		}
		if s.Confidence < g.cfg.MinConfidence {
			continue
		}
		if s.Combined < g.cfg.MinQuality {
			continue
		}
		out = append(out, s)
	}
	return out
}

/*
Promote writes each eligible candidate to the graph, deduplicating
against existing tenant concepts first. Failures are absorbed per
candidate: one bad write or lost lock never aborts the batch. The
returned error slice holds what was absorbed, for run bookkeeping.
*/
func (g *Gatekeeper) Promote(ctx context.Context, tenantID string, eligible []Scored) ([]domain.CanonicalConcept, []error) {
	var (
		promoted []domain.CanonicalConcept
		absorbed []error
	)
	for _, s := range eligible {
		concept, err := g.promoteOne(ctx, tenantID, s)
		if err != nil {
			absorbed = append(absorbed, err)
			continue
		}
		promoted = append(promoted, concept)
	}
	return promoted, absorbed
}

func (g *Gatekeeper) promoteOne(ctx context.Context, tenantID string, s Scored) (domain.CanonicalConcept, error) {
	var zero domain.CanonicalConcept

	lockKey := fmt.Sprintf("lock:promote:%s:%s", tenantID, ontology.NormalizeKey(s.CanonicalName))
	acquired, err := g.locks.Acquire(ctx, lockKey, g.cfg.LockTTL)
	if err == nil && !acquired {
		// One bounded retry; the holder is another run promoting the
		// same name and usually finishes within the backoff.
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(g.cfg.LockRetryAfter):
		}
		acquired, err = g.locks.Acquire(ctx, lockKey, g.cfg.LockTTL)
	}
	if err != nil {
		return zero, fmt.Errorf("promote %q: lock store: %w", s.CanonicalName, err)
	}
	if !acquired {
		return zero, fmt.Errorf("promote %q: %w", s.CanonicalName, apperrors.ErrDedupRace)
	}
	defer func() {
		if rerr := g.locks.Release(ctx, lockKey); rerr != nil {
			g.log.Warn("promotion lock release failed", "key", lockKey, "error", rerr)
		}
	}()

	concept := g.conceptFrom(tenantID, s)

	existing, err := g.graph.FindSimilar(ctx, tenantID, s.CanonicalName, g.cfg.DedupSimilarity)
	if err != nil {
		return zero, fmt.Errorf("promote %q: find similar: %w", s.CanonicalName, err)
	}
	if len(existing) > 0 {
		concept = mergeInto(bestMatch(existing), concept)
		g.log.Info("merged into existing concept",
			"canonical_name", concept.CanonicalName,
			"canonical_id", concept.CanonicalID,
			"incoming_name", s.CanonicalName,
		)
	}

	if err := g.graph.CreateOrMergeConcept(ctx, concept); err != nil {
		return zero, fmt.Errorf("promote %q: %w", concept.CanonicalName, err)
	}
	return concept, nil
}

func (g *Gatekeeper) conceptFrom(tenantID string, s Scored) domain.CanonicalConcept {
	aliases := make([]string, 0, len(s.Aliases)+len(s.RawNames))
	for _, a := range append(append([]string{}, s.Aliases...), s.RawNames...) {
		if !strings.EqualFold(a, s.CanonicalName) {
			aliases = append(aliases, a)
		}
	}
	return domain.CanonicalConcept{
		CanonicalID:   uuid.New(),
		CanonicalName: s.CanonicalName,
		Aliases:       dedupeFold(aliases),
		Languages:     dedupeFold(s.Languages),
		ConceptType:   s.ConceptType,
		Confidence:    s.Confidence,
		QualityScore:  s.Combined,
		TenantID:      tenantID,
	}
}

// mergeInto folds the incoming concept into an existing one. Identity
// (id and canonical name) stays with the existing record; aliases and
// languages union, confidence and quality keep the higher value.
func mergeInto(existing, incoming domain.CanonicalConcept) domain.CanonicalConcept {
	merged := existing

	aliases := append([]string{}, existing.Aliases...)
	if !strings.EqualFold(incoming.CanonicalName, existing.CanonicalName) {
		aliases = append(aliases, incoming.CanonicalName)
	}
	aliases = append(aliases, incoming.Aliases...)
	merged.Aliases = dedupeFold(aliases)

	merged.Languages = dedupeFold(append(append([]string{}, existing.Languages...), incoming.Languages...))

	if incoming.Confidence > merged.Confidence {
		merged.Confidence = incoming.Confidence
	}
	if incoming.QualityScore > merged.QualityScore {
		merged.QualityScore = incoming.QualityScore
	}
	if merged.ConceptType == "" {
		merged.ConceptType = incoming.ConceptType
	}
	return merged
}

func bestMatch(matches []domain.CanonicalConcept) domain.CanonicalConcept {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].CanonicalName < matches[j].CanonicalName
	})
	return matches[0]
}

func dedupeFold(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
