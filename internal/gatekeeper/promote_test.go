package gatekeeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yarrowlabs/conceptforge-backend/internal/data/graph"
	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	apperrors "github.com/yarrowlabs/conceptforge-backend/internal/pkg/errors"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
)

func testConfig() Config {
	return Config{
		MinQuality:      0.5,
		MinConfidence:   0.5,
		MaxGraphNodes:   200,
		DedupSimilarity: 0.85,
		LockTTL:         10 * time.Second,
		LockRetryAfter:  time.Millisecond,
	}
}

func candidate(name string, conf float64) Candidate {
	return Candidate{
		CanonicalName: name,
		Confidence:    conf,
		RawNames:      []string{name},
		Languages:     []string{"en"},
		ConceptType:   "technology",
		TopicIDs:      []string{"doc-t001"},
		MentionCount:  2,
	}
}

func scoredAt(c Candidate, combined float64) Scored {
	return Scored{Candidate: c, Combined: combined}
}

func TestEligibleFiltersLowQualityAndFallbacks(t *testing.T) {
	gk := New(logger.NewNop(), graph.NewMemoryStore(), NewMemoryLockStore(), testConfig())

	fallback := candidate("Kafka Streams", 0.30)
	fallback.NeedsReprocess = true

	scored := []Scored{
		scoredAt(candidate("Apache Kafka", 0.9), 0.8),
		scoredAt(candidate("Obscure Thing", 0.9), 0.3),  // combined below gate
		scoredAt(candidate("Shaky Concept", 0.4), 0.75), // confidence below gate
		scoredAt(fallback, 0.9),                         // fallback never promotes
	}

	got := gk.Eligible(scored)
	if len(got) != 1 {
		t.Fatalf("eligible = %d, want 1", len(got))
	}
	if got[0].CanonicalName != "Apache Kafka" {
		t.Fatalf("eligible[0] = %q, want Apache Kafka", got[0].CanonicalName)
	}
}

func TestPromoteCreatesConcept(t *testing.T) {
	store := graph.NewMemoryStore()
	gk := New(logger.NewNop(), store, NewMemoryLockStore(), testConfig())

	promoted, absorbed := gk.Promote(context.Background(), "acme", []Scored{
		scoredAt(candidate("Apache Kafka", 0.9), 0.8),
	})
	if len(absorbed) != 0 {
		t.Fatalf("absorbed errors: %v", absorbed)
	}
	if len(promoted) != 1 {
		t.Fatalf("promoted = %d, want 1", len(promoted))
	}
	if promoted[0].CanonicalID == uuid.Nil {
		t.Fatal("promoted concept has nil id")
	}
	if got := store.Concepts("acme"); len(got) != 1 {
		t.Fatalf("stored concepts = %d, want 1", len(got))
	}
}

func TestPromoteMergesNearDuplicate(t *testing.T) {
	store := graph.NewMemoryStore()
	gk := New(logger.NewNop(), store, NewMemoryLockStore(), testConfig())
	ctx := context.Background()

	existing := domain.CanonicalConcept{
		CanonicalID:   uuid.New(),
		CanonicalName: "Kubernetes",
		Aliases:       []string{"k8s"},
		Languages:     []string{"en"},
		ConceptType:   "technology",
		Confidence:    0.92,
		QualityScore:  0.7,
		TenantID:      "acme",
	}
	if err := store.CreateOrMergeConcept(ctx, existing); err != nil {
		t.Fatal(err)
	}

	// A one-edit misspelling should merge into the existing node, not fork.
	cand := candidate("Kubernets", 0.8)
	cand.Aliases = []string{"kube"}
	cand.Languages = []string{"de"}

	promoted, absorbed := gk.Promote(ctx, "acme", []Scored{scoredAt(cand, 0.75)})
	if len(absorbed) != 0 {
		t.Fatalf("absorbed errors: %v", absorbed)
	}
	if len(promoted) != 1 {
		t.Fatalf("promoted = %d, want 1", len(promoted))
	}

	got := promoted[0]
	if got.CanonicalID != existing.CanonicalID {
		t.Fatalf("merge forked a new concept: id %s != %s", got.CanonicalID, existing.CanonicalID)
	}
	if got.CanonicalName != "Kubernetes" {
		t.Fatalf("merge replaced canonical name: %q", got.CanonicalName)
	}
	if got.Confidence != 0.92 {
		t.Fatalf("merge lowered confidence: %v", got.Confidence)
	}
	aliases := make(map[string]bool, len(got.Aliases))
	for _, a := range got.Aliases {
		aliases[a] = true
	}
	for _, want := range []string{"k8s", "kube", "Kubernets"} {
		if !aliases[want] {
			t.Fatalf("alias %q missing after merge: %v", want, got.Aliases)
		}
	}
	if len(store.Concepts("acme")) != 1 {
		t.Fatalf("tenant has %d concepts, want 1 after merge", len(store.Concepts("acme")))
	}
}

func TestPromoteMergesTwoNearDuplicatesIntoOne(t *testing.T) {
	store := graph.NewMemoryStore()
	gk := New(logger.NewNop(), store, NewMemoryLockStore(), testConfig())
	ctx := context.Background()

	existing := domain.CanonicalConcept{
		CanonicalID:   uuid.New(),
		CanonicalName: "Kubernetes",
		Aliases:       []string{"k8s"},
		Languages:     []string{"en"},
		ConceptType:   "technology",
		Confidence:    0.92,
		QualityScore:  0.7,
		TenantID:      "acme",
	}
	if err := store.CreateOrMergeConcept(ctx, existing); err != nil {
		t.Fatal(err)
	}

	first := candidate("Kubernets", 0.8)
	first.Aliases = []string{"kube"}
	second := candidate("Kuberneters", 0.8)
	second.Aliases = []string{"k8s cluster"}

	promoted, absorbed := gk.Promote(ctx, "acme", []Scored{
		scoredAt(first, 0.75),
		scoredAt(second, 0.75),
	})
	if len(absorbed) != 0 {
		t.Fatalf("absorbed errors: %v", absorbed)
	}
	if len(promoted) != 2 {
		t.Fatalf("promoted = %d, want 2", len(promoted))
	}
	for _, p := range promoted {
		if p.CanonicalID != existing.CanonicalID {
			t.Fatalf("candidate %q forked a new concept: id %s != %s", p.CanonicalName, p.CanonicalID, existing.CanonicalID)
		}
	}

	stored := store.Concepts("acme")
	if len(stored) != 1 {
		t.Fatalf("tenant has %d concepts, want exactly 1 after both merges", len(stored))
	}
	aliases := make(map[string]bool, len(stored[0].Aliases))
	for _, a := range stored[0].Aliases {
		aliases[a] = true
	}
	for _, want := range []string{"k8s", "kube", "Kubernets", "k8s cluster", "Kuberneters"} {
		if !aliases[want] {
			t.Fatalf("alias %q missing after merges: %v", want, stored[0].Aliases)
		}
	}
}

func TestPromoteLockContentionReturnsDedupRace(t *testing.T) {
	store := graph.NewMemoryStore()
	locks := NewMemoryLockStore()
	gk := New(logger.NewNop(), store, locks, testConfig())
	ctx := context.Background()

	key := "lock:promote:acme:apache kafka"
	if ok, _ := locks.Acquire(ctx, key, time.Minute); !ok {
		t.Fatal("setup: could not pre-acquire lock")
	}

	promoted, absorbed := gk.Promote(ctx, "acme", []Scored{
		scoredAt(candidate("Apache Kafka", 0.9), 0.8),
	})
	if len(promoted) != 0 {
		t.Fatalf("promoted = %d, want 0 under contention", len(promoted))
	}
	if len(absorbed) != 1 || !errors.Is(absorbed[0], apperrors.ErrDedupRace) {
		t.Fatalf("absorbed = %v, want ErrDedupRace", absorbed)
	}
}

func TestPromoteAbsorbsGraphFailurePerCandidate(t *testing.T) {
	store := graph.NewMemoryStore()
	store.FailWrites = true
	gk := New(logger.NewNop(), store, NewMemoryLockStore(), testConfig())

	promoted, absorbed := gk.Promote(context.Background(), "acme", []Scored{
		scoredAt(candidate("Apache Kafka", 0.9), 0.8),
		scoredAt(candidate("PostgreSQL", 0.9), 0.8),
	})
	if len(promoted) != 0 {
		t.Fatalf("promoted = %d, want 0", len(promoted))
	}
	if len(absorbed) != 2 {
		t.Fatalf("absorbed = %d, want one error per candidate", len(absorbed))
	}
}

func TestScoreCentralityFavorsCooccurringConcepts(t *testing.T) {
	hub := candidate("Apache Kafka", 0.9)
	hub.TopicIDs = []string{"t1", "t2", "t3"}
	peer := candidate("Kafka Connect", 0.9)
	peer.TopicIDs = []string{"t1", "t2"}
	isolate := candidate("Lone Concept", 0.9)
	isolate.TopicIDs = []string{"t9"}

	scored := Score([]Candidate{hub, peer, isolate}, 200)
	if scored[0].Centrality <= scored[2].Centrality {
		t.Fatalf("hub centrality %v should exceed isolate %v", scored[0].Centrality, scored[2].Centrality)
	}
	if scored[0].Centrality != 1 {
		t.Fatalf("max centrality should normalize to 1, got %v", scored[0].Centrality)
	}
}

func TestCentralityWeighsContextProximity(t *testing.T) {
	near := candidate("Apache Kafka", 0.9)
	near.TopicIDs = []string{"t1"}
	near.Contexts = []string{"apache kafka streams events into postgresql"}
	peer := candidate("PostgreSQL", 0.9)
	peer.TopicIDs = []string{"t1"}
	peer.Contexts = []string{"postgresql persists the stream"}
	far := candidate("Monitoring", 0.9)
	far.TopicIDs = []string{"t1"}
	far.Contexts = []string{"monitoring dashboards sit elsewhere"}

	scored := Score([]Candidate{near, peer, far}, 200)
	if scored[0].Centrality <= scored[2].Centrality {
		t.Fatalf("co-mentioned pair %v should outweigh topic-only neighbor %v", scored[0].Centrality, scored[2].Centrality)
	}
	if scored[1].Centrality <= scored[2].Centrality {
		t.Fatalf("co-mentioned pair %v should outweigh topic-only neighbor %v", scored[1].Centrality, scored[2].Centrality)
	}
}

func TestScoreFallsBackToFrequencyPastNodeBudget(t *testing.T) {
	frequent := candidate("Frequent", 0.9)
	frequent.MentionCount = 10
	rare := candidate("Rare", 0.9)
	rare.MentionCount = 1

	scored := Score([]Candidate{frequent, rare}, 1) // budget of one node forces fallback
	if scored[0].Centrality != 1 {
		t.Fatalf("frequent centrality = %v, want 1", scored[0].Centrality)
	}
	if scored[1].Centrality >= scored[0].Centrality {
		t.Fatalf("rare centrality %v should be below frequent %v", scored[1].Centrality, scored[0].Centrality)
	}
}

func TestRelevanceCountsCoMentions(t *testing.T) {
	a := candidate("Apache Kafka", 0.9)
	a.Contexts = []string{
		"apache kafka feeds postgresql downstream",
		"kafka in isolation here",
	}
	b := candidate("PostgreSQL", 0.9)
	b.Contexts = []string{"postgresql stores events from apache kafka"}

	scored := Score([]Candidate{a, b}, 200)
	if scored[0].Relevance != 0.5 {
		t.Fatalf("relevance = %v, want 0.5", scored[0].Relevance)
	}
	if scored[1].Relevance != 1 {
		t.Fatalf("relevance = %v, want 1", scored[1].Relevance)
	}
}
