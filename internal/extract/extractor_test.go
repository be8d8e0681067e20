package extract

import (
	"strings"
	"testing"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
)

func TestExtractDedupesAndBoundsCandidates(t *testing.T) {
	ex := NewExtractor(logger.NewNop())
	topic := domain.Topic{
		ID: "t-1",
		TextWindow: "The payment gateway forwards requests to the payment gateway cluster. " +
			"The payment gateway validates card numbers before the settlement service " +
			"records the transaction. The settlement service retries failed batches.",
	}
	mentions := ex.ExtractTopic(topic, Profile{MinConfidence: 0.1, MaxCandidates: 5})
	if len(mentions) == 0 {
		t.Fatalf("expected candidates from dense prose")
	}
	if len(mentions) > 5 {
		t.Fatalf("candidate cap ignored, got %d", len(mentions))
	}
	seen := map[string]bool{}
	for _, m := range mentions {
		key := strings.ToLower(m.RawName)
		if seen[key] {
			t.Fatalf("duplicate mention %q", m.RawName)
		}
		seen[key] = true
		if m.SourceTopicID != "t-1" {
			t.Fatalf("mention missing topic id: %+v", m)
		}
		if m.SurroundingContext == "" {
			t.Fatalf("mention missing context: %+v", m)
		}
	}
}

func TestStrictProfileFiltersLowConfidence(t *testing.T) {
	ex := NewExtractor(logger.NewNop())
	topic := domain.Topic{
		ID:          "t-2",
		AnchorTerms: []string{"gateway"},
		TextWindow: "The payment gateway forwards requests downstream. The gateway retries " +
			"on transient failures and the audit log records every gateway decision.",
	}
	loose := ex.ExtractTopic(topic, Profile{MinConfidence: 0.1, MaxCandidates: 50})
	strict := ex.ExtractTopic(topic, Profile{MinConfidence: 0.99, MaxCandidates: 50})
	if len(strict) >= len(loose) && len(loose) > 0 {
		t.Fatalf("strict profile should drop candidates: loose=%d strict=%d", len(loose), len(strict))
	}
}

func TestAnchorOverlapFilter(t *testing.T) {
	mentions := []domain.RawConceptMention{
		{RawName: "payment gateway", Confidence: 0.9},
		{RawName: "audit log", Confidence: 0.9},
	}
	topic := domain.Topic{AnchorTerms: []string{"gateway"}}
	out := applyProfile(topic, mentions, Profile{MinConfidence: 0.1, MaxCandidates: 10, RequireAnchorOverlap: true})
	if len(out) != 1 || out[0].RawName != "payment gateway" {
		t.Fatalf("anchor filter broken: %+v", out)
	}
}

func TestEmptyTopicYieldsNothing(t *testing.T) {
	ex := NewExtractor(logger.NewNop())
	if got := ex.ExtractTopic(domain.Topic{ID: "t-3", TextWindow: "   "}, StandardProfile()); len(got) != 0 {
		t.Fatalf("expected no mentions, got %d", len(got))
	}
}

func TestContextAroundIsWordBounded(t *testing.T) {
	text := strings.Repeat("alpha beta gamma ", 40)
	snippet := contextAround(text, "gamma")
	if snippet == "" || len(snippet) > 300 {
		t.Fatalf("context window out of bounds: %d chars", len(snippet))
	}
	if strings.HasPrefix(snippet, " ") || strings.HasSuffix(snippet, " ") {
		t.Fatalf("context not trimmed: %q", snippet)
	}
}
