package relations

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yarrowlabs/conceptforge-backend/internal/budget"
	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	"github.com/yarrowlabs/conceptforge-backend/internal/gateway"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/envutil"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
)

type Config struct {
	WindowChars   int
	MaxCandidates int
}

func ConfigFromEnv() Config {
	return Config{
		WindowChars:   envutil.Int("RELATION_WINDOW_CHARS", 300),
		MaxCandidates: envutil.Int("RELATION_MAX_CANDIDATES", 64),
	}
}

type Extractor struct {
	log    *logger.Logger
	gw     *gateway.Gateway
	ledger *budget.Ledger
	cfg    Config
}

func NewExtractor(log *logger.Logger, gw *gateway.Gateway, ledger *budget.Ledger, cfg Config) *Extractor {
	return &Extractor{
		log:    log.With("service", "RelationExtractor"),
		gw:     gw,
		ledger: ledger,
		cfg:    cfg,
	}
}

// Result carries validated relations plus what was held back or absorbed
// along the way. Held counts candidates never submitted because the
// budget ran out; they are not failures.
type Result struct {
	Relations []domain.TypedRelation
	Held      int
	Absorbed  []error
}

/*
Extract proposes candidates with all three strategies, merges them, and
submits each merged candidate for validation. Both endpoints of every
returned relation are promoted concepts by construction: candidates are
generated from the promoted set only.
*/
func (e *Extractor) Extract(ctx context.Context, tenantID, documentID string, concepts []domain.CanonicalConcept, text string, connectives []string) Result {
	var res Result
	if len(concepts) < 2 {
		return res
	}

	candidates := mergeCandidates(
		CooccurrenceCandidates(concepts, text, e.cfg.WindowChars),
		PredicateCandidates(concepts, text),
		ConnectiveCandidates(concepts, text, connectives),
	)
	if len(candidates) > e.cfg.MaxCandidates {
		res.Held += len(candidates) - e.cfg.MaxCandidates
		candidates = candidates[:e.cfg.MaxCandidates]
	}

	byName := endpointIndex(concepts)

	for i, cand := range candidates {
		if !e.ledger.CheckAndIncrement(ctx, tenantID, documentID, domain.CallClassLightweight) {
			res.Held += len(candidates) - i
			e.log.Info("relation validation budget exhausted",
				"document_id", documentID,
				"held", res.Held,
			)
			break
		}

		decision, err := e.gw.ValidateRelation(ctx, cand)
		if err != nil {
			e.ledger.Refund(ctx, tenantID, documentID, domain.CallClassLightweight)
			res.Absorbed = append(res.Absorbed, fmt.Errorf("validate %q/%q: %w", cand.Subject, cand.Object, err))
			continue
		}
		if !decision.Exists {
			continue
		}
		if !Vocabulary[decision.Predicate] {
			res.Absorbed = append(res.Absorbed, fmt.Errorf("validate %q/%q: predicate %q outside vocabulary", cand.Subject, cand.Object, decision.Predicate))
			continue
		}

		subject, object := cand.Subject, cand.Object
		if !decision.SubjectFirst {
			subject, object = object, subject
		}
		subjID, okS := byName[strings.ToLower(subject)]
		objID, okO := byName[strings.ToLower(object)]
		if !okS || !okO || subjID == objID {
			res.Absorbed = append(res.Absorbed, fmt.Errorf("validate %q/%q: endpoints did not map to distinct promoted concepts", subject, object))
			continue
		}

		res.Relations = append(res.Relations, domain.TypedRelation{
			SubjectConceptID: subjID,
			PredicateType:    decision.Predicate,
			ObjectConceptID:  objID,
			Confidence:       decision.Confidence,
			EvidenceContext:  cand.Evidence,
			StrategySource:   cand.Strategy,
		})
	}
	return res
}

// mergeCandidates concatenates strategy outputs and collapses duplicate
// unordered pairs, joining the strategy labels of the collapsed entries.
func mergeCandidates(groups ...[]gateway.RelationCandidate) []gateway.RelationCandidate {
	var out []gateway.RelationCandidate
	index := make(map[string]int)
	for _, group := range groups {
		for _, cand := range group {
			key := pairKey(cand.Subject, cand.Object)
			if at, ok := index[key]; ok {
				if !strings.Contains(out[at].Strategy, cand.Strategy) {
					out[at].Strategy += "+" + cand.Strategy
				}
				continue
			}
			index[key] = len(out)
			out = append(out, cand)
		}
	}
	return out
}

func pairKey(a, b string) string {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func endpointIndex(concepts []domain.CanonicalConcept) map[string]uuid.UUID {
	idx := make(map[string]uuid.UUID, len(concepts))
	for _, c := range concepts {
		idx[strings.ToLower(c.CanonicalName)] = c.CanonicalID
		for _, a := range c.Aliases {
			idx[strings.ToLower(a)] = c.CanonicalID
		}
	}
	return idx
}
