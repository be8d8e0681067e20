package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallClass buckets billable external calls for the Budget Ledger.
type CallClass string

const (
	CallClassLightweight CallClass = "lightweight"
	CallClassHeavyweight CallClass = "heavyweight"
	CallClassVision      CallClass = "vision"
)

// Topic is one cohesive unit of the document as produced by the segmenter.
// CohesionScore is a routing feature only; the core never recomputes it.
type Topic struct {
	ID            string   `json:"topic_id"`
	AnchorTerms   []string `json:"anchor_terms"`
	TextWindow    string   `json:"text_window"`
	CohesionScore float64  `json:"cohesion_score"`
	// FromVision marks text that arrived via image summarization upstream;
	// resolving mentions from such topics debits the vision call class.
	FromVision bool `json:"from_vision,omitempty"`
}

// RawConceptMention is the ephemeral pre-canonicalization shape. It is
// discarded once a canonical name has been assigned.
type RawConceptMention struct {
	RawName            string  `json:"raw_name"`
	SourceTopicID      string  `json:"source_topic_id"`
	SurroundingContext string  `json:"surrounding_context"`
	ExtractionMethod   string  `json:"extraction_method"`
	Language           string  `json:"language,omitempty"`
	Confidence         float64 `json:"confidence"`
}

// Resolution is the (canonical name, confidence) pair returned by the
// canonicalizer. Source distinguishes cache hits, gateway resolutions and
// the deterministic fallback; NeedsReprocess is set only on fallback so a
// degraded result is never mistaken for a genuine one.
type Resolution struct {
	CanonicalName  string   `json:"canonical_name"`
	ConceptType    string   `json:"concept_type,omitempty"`
	Confidence     float64  `json:"confidence"`
	Aliases        []string `json:"aliases,omitempty"`
	Source         string   `json:"source"` // "cache" | "resolved" | "fallback"
	NeedsReprocess bool     `json:"needs_reprocess,omitempty"`
}

// CanonicalConcept is the published, durable concept record. Identity is
// immutable once promoted; aliases, languages and quality may be extended
// by later merges.
type CanonicalConcept struct {
	CanonicalID   uuid.UUID `json:"canonical_id"`
	CanonicalName string    `json:"canonical_name"`
	Aliases       []string  `json:"aliases"`
	Languages     []string  `json:"languages"`
	ConceptType   string    `json:"concept_type"`
	Confidence    float64   `json:"confidence"`
	QualityScore  float64   `json:"quality_score"`
	TenantID      string    `json:"tenant_id"`
}

// TypedRelation links two already-promoted concepts. PredicateType comes
// from the closed vocabulary in internal/relations; direction and type are
// assigned by validation, never defaulted.
type TypedRelation struct {
	SubjectConceptID uuid.UUID `json:"subject_concept_id"`
	PredicateType    string    `json:"predicate_type"`
	ObjectConceptID  uuid.UUID `json:"object_concept_id"`
	Confidence       float64   `json:"confidence"`
	EvidenceContext  string    `json:"evidence_context"`
	StrategySource   string    `json:"strategy_source"`
}

// State is a Supervisor FSM state.
type State string

const (
	StateInit             State = "INIT"
	StateBudgetCheck      State = "BUDGET_CHECK"
	StateSegment          State = "SEGMENT"
	StateExtract          State = "EXTRACT"
	StateMinePatterns     State = "MINE_PATTERNS"
	StateGateCheck        State = "GATE_CHECK"
	StatePromote          State = "PROMOTE"
	StateExtractRelations State = "EXTRACT_RELATIONS"
	StateIndexConcepts    State = "INDEX_CONCEPTS"
	StateFinalize         State = "FINALIZE"
	StateDone             State = "DONE"
	StateError            State = "ERROR"
)

// Terminal reports whether s is one of the two terminal states.
func (s State) Terminal() bool { return s == StateDone || s == StateError }

// RunState is the terminal record of one Supervisor run. DONE/ERROR are
// immutable once reached. Errors holds every absorbed failure with enough
// context to reprocess just the affected items.
type RunState struct {
	DocumentID      string        `json:"document_id"`
	TenantID        string        `json:"tenant_id"`
	CurrentState    State         `json:"current_state"`
	StepCount       int           `json:"step_count"`
	StartedAt       time.Time     `json:"started_at"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
	AccumulatedCost float64       `json:"accumulated_cost"`
	Errors          []string      `json:"errors,omitempty"`

	TopicCount        int `json:"topic_count"`
	MentionCount      int `json:"mention_count"`
	CacheHits         int `json:"cache_hits"`
	ConceptsPromoted  int `json:"concepts_promoted"`
	RelationsWritten  int `json:"relations_written"`
	RelationsHeld     int `json:"relations_held"`
	FallbacksReturned int `json:"fallbacks_returned"`
}
