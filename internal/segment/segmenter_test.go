package segment

import (
	"context"
	"strings"
	"testing"
)

func TestSegmentProducesOrderedTopics(t *testing.T) {
	text := strings.Join([]string{
		strings.Repeat("The billing service issues invoices for every tenant account. ", 10),
		strings.Repeat("Invoices reference the billing ledger and the tenant account state. ", 10),
		strings.Repeat("The deployment pipeline ships container images to the cluster. ", 10),
	}, "\n\n")

	topics, err := NewLexicalSegmenter().Segment(context.Background(), "doc1", text)
	if err != nil {
		t.Fatalf("segment failed: %v", err)
	}
	if len(topics) < 2 {
		t.Fatalf("expected multiple windows, got %d", len(topics))
	}
	for i, tp := range topics {
		if tp.ID == "" || !strings.HasPrefix(tp.ID, "doc1-t") {
			t.Fatalf("topic %d has bad id %q", i, tp.ID)
		}
		if tp.TextWindow == "" {
			t.Fatalf("topic %d empty window", i)
		}
		if len(tp.AnchorTerms) == 0 {
			t.Fatalf("topic %d missing anchor terms", i)
		}
		if tp.CohesionScore < 0 || tp.CohesionScore > 1 {
			t.Fatalf("topic %d cohesion out of range: %f", i, tp.CohesionScore)
		}
	}
}

func TestSegmentEmptyText(t *testing.T) {
	topics, err := NewLexicalSegmenter().Segment(context.Background(), "doc1", "  \n\n  ")
	if err != nil {
		t.Fatalf("segment failed: %v", err)
	}
	if len(topics) != 0 {
		t.Fatalf("expected no topics, got %d", len(topics))
	}
}
