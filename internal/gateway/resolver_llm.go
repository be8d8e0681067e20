package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/openai"
)

const resolveSystem = `You canonicalize technical and business concept names across languages.
Given a raw mention and its surrounding context, reply with JSON:
{"canonical_name": string, "concept_type": string, "aliases": [string], "confidence": number}
canonical_name is the single widely recognized English or dominant-language form.
aliases lists other surface forms including the raw mention when it differs.
confidence is 0..1. Do not invent concepts that the mention does not denote.`

const validateSystem = `You decide whether a directed relation holds between two already known concepts,
based only on the evidence text. Reply with JSON:
{"exists": bool, "predicate": "USES"|"REQUIRES"|"PART_OF"|"REPLACES"|"ENABLES", "subject_first": bool, "confidence": number}
subject_first is true when the relation runs from the first concept to the second.
If no relation of these types is supported by the evidence, set exists to false.`

// llmResolver is the production Resolver: structured-JSON calls against
// the LLM client. One instance is shared by all concurrent topic workers.
type llmResolver struct {
	log *logger.Logger
	ai  openai.Client
}

func NewLLMResolver(log *logger.Logger, ai openai.Client) Resolver {
	return &llmResolver{log: log.With("component", "LLMResolver"), ai: ai}
}

type resolvePayload struct {
	CanonicalName string   `json:"canonical_name"`
	ConceptType   string   `json:"concept_type"`
	Aliases       []string `json:"aliases"`
	Confidence    float64  `json:"confidence"`
}

func (r *llmResolver) ResolveConcept(ctx context.Context, req ResolveRequest) (ResolveResult, error) {
	user := fmt.Sprintf("Mention: %q\nContext: %q", req.RawName, req.Context)
	var p resolvePayload
	if err := r.ai.GenerateJSON(ctx, resolveSystem, user, &p); err != nil {
		return ResolveResult{}, err
	}
	if strings.TrimSpace(p.CanonicalName) == "" {
		return ResolveResult{}, fmt.Errorf("resolver returned empty canonical name")
	}
	return ResolveResult{
		CanonicalName: strings.TrimSpace(p.CanonicalName),
		ConceptType:   strings.TrimSpace(p.ConceptType),
		Aliases:       p.Aliases,
		Confidence:    clamp01(p.Confidence),
	}, nil
}

type validatePayload struct {
	Exists       bool    `json:"exists"`
	Predicate    string  `json:"predicate"`
	SubjectFirst bool    `json:"subject_first"`
	Confidence   float64 `json:"confidence"`
}

func (r *llmResolver) ValidateRelation(ctx context.Context, cand RelationCandidate) (RelationDecision, error) {
	user := fmt.Sprintf("First concept: %q\nSecond concept: %q\nEvidence: %q", cand.Subject, cand.Object, cand.Evidence)
	var p validatePayload
	if err := r.ai.GenerateJSON(ctx, validateSystem, user, &p); err != nil {
		return RelationDecision{}, err
	}
	return RelationDecision{
		Exists:       p.Exists,
		Predicate:    strings.ToUpper(strings.TrimSpace(p.Predicate)),
		SubjectFirst: p.SubjectFirst,
		Confidence:   clamp01(p.Confidence),
	}, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
