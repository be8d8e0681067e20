package supervisor

import (
	"context"
	"hash/fnv"
	"strings"
	"testing"
	"time"

	"github.com/yarrowlabs/conceptforge-backend/internal/budget"
	"github.com/yarrowlabs/conceptforge-backend/internal/canonical"
	"github.com/yarrowlabs/conceptforge-backend/internal/data/graph"
	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	"github.com/yarrowlabs/conceptforge-backend/internal/extract"
	"github.com/yarrowlabs/conceptforge-backend/internal/gatekeeper"
	"github.com/yarrowlabs/conceptforge-backend/internal/gateway"
	"github.com/yarrowlabs/conceptforge-backend/internal/ontology"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
	"github.com/yarrowlabs/conceptforge-backend/internal/relations"
	"github.com/yarrowlabs/conceptforge-backend/internal/segment"
)

// identityResolver echoes the raw name back with high confidence and
// accepts every relation as USES.
type identityResolver struct{}

func (identityResolver) ResolveConcept(_ context.Context, req gateway.ResolveRequest) (gateway.ResolveResult, error) {
	return gateway.ResolveResult{
		CanonicalName: req.RawName,
		ConceptType:   "technology",
		Confidence:    0.9,
	}, nil
}

func (identityResolver) ValidateRelation(_ context.Context, _ gateway.RelationCandidate) (gateway.RelationDecision, error) {
	return gateway.RelationDecision{Exists: true, Predicate: "USES", SubjectFirst: true, Confidence: 0.8}, nil
}

// hashEmbedder one-hot encodes each input by hash so case variants of a
// form cluster together while distinct forms stay orthogonal.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(in))))
		vec := make([]float32, 128)
		vec[h.Sum32()%128] = 1
		out[i] = vec
	}
	return out, nil
}

func testConfig() Config {
	return Config{
		BaseTimeout:     time.Minute,
		PerKBAllow:      time.Second,
		MaxTimeout:      2 * time.Minute,
		MaxSteps:        64,
		MinDocChars:     100,
		TopicWorkers:    4,
		LargeDocChars:   200_000,
		LargeDocWorkers: 2,
		CostLightweight: 0.2,
		CostHeavyweight: 1.0,
		CostVision:      2.0,
	}
}

func newTestSupervisor(t *testing.T, res gateway.Resolver, cfg Config) (*Supervisor, *graph.MemoryStore) {
	t.Helper()
	log := logger.NewNop()

	led := budget.NewLedger(budget.NewMemoryCounterStore(), log, budget.Config{
		CapLightweight: 100,
		CapHeavyweight: 100,
		CapVision:      100,
		TenantDailyCap: 10_000,
		DocWindowTTL:   time.Hour,
		DayWindowTTL:   time.Hour,
	})
	gw := gateway.New(log, res, gateway.Config{
		CallTimeout:      time.Second,
		BreakerThreshold: 5,
		RecoveryWindow:   30 * time.Second,
		RatePerSec:       1000,
		RateBurst:        1000,
	})
	store := graph.NewMemoryStore()

	deps := Deps{
		Log:           log,
		Segmenter:     segment.NewLexicalSegmenter(),
		Extractor:     extract.NewExtractor(log),
		Canonicalizer: canonical.New(log, ontology.NewCache(log, nil), gw, led),
		Embedder:      hashEmbedder{},
		Gatekeeper: gatekeeper.New(log, store, gatekeeper.NewMemoryLockStore(), gatekeeper.Config{
			MinQuality:      0.2,
			MinConfidence:   0.5,
			MaxGraphNodes:   200,
			DedupSimilarity: 0.85,
			LockTTL:         10 * time.Second,
			LockRetryAfter:  time.Millisecond,
		}),
		Relations: relations.NewExtractor(log, gw, led, relations.Config{WindowChars: 300, MaxCandidates: 64}),
		Graph:     store,
		Ledger:    led,
	}
	return New(deps, cfg), store
}

const sampleDoc = `Apache Kafka is a distributed event streaming platform used across modern data stacks.
Apache Kafka depends on ZooKeeper for cluster coordination in classic deployments.
ZooKeeper keeps configuration state consistent across brokers.

PostgreSQL stores the processed events downstream. Many teams pair Apache Kafka with PostgreSQL
for durable analytical storage. PostgreSQL replication keeps replicas in sync.

Schema Registry uses Apache Kafka to distribute schema updates to every consumer.
Schema Registry validation prevents incompatible producers from publishing.`

func TestRunReachesDoneAndPromotesConcepts(t *testing.T) {
	sup, store := newTestSupervisor(t, identityResolver{}, testConfig())

	run := sup.Run(context.Background(), "acme", "doc1", sampleDoc)
	if run.CurrentState != domain.StateDone {
		t.Fatalf("final state = %s, want DONE (errors: %v)", run.CurrentState, run.Errors)
	}
	if run.TopicCount == 0 || run.MentionCount == 0 {
		t.Fatalf("no work recorded: %+v", run)
	}
	if run.ConceptsPromoted == 0 {
		t.Fatalf("nothing promoted (errors: %v)", run.Errors)
	}
	if got := len(store.Concepts("acme")); got != run.ConceptsPromoted {
		t.Fatalf("store has %d concepts, run reports %d", got, run.ConceptsPromoted)
	}
	for _, c := range store.Concepts("acme") {
		if c.ConceptType != "technology" {
			t.Fatalf("concept %q has concept_type %q, want the resolver's %q", c.CanonicalName, c.ConceptType, "technology")
		}
	}
	if run.ElapsedTime <= 0 {
		t.Fatal("elapsed time not recorded")
	}
}

func TestRunRejectsTinyDocument(t *testing.T) {
	sup, _ := newTestSupervisor(t, identityResolver{}, testConfig())

	run := sup.Run(context.Background(), "acme", "doc1", "too short")
	if run.CurrentState != domain.StateError {
		t.Fatalf("final state = %s, want ERROR", run.CurrentState)
	}
	if len(run.Errors) == 0 {
		t.Fatal("rejection reason missing from run record")
	}
}

func TestRunRejectsBadTenant(t *testing.T) {
	sup, _ := newTestSupervisor(t, identityResolver{}, testConfig())

	run := sup.Run(context.Background(), "../../etc", "doc1", sampleDoc)
	if run.CurrentState != domain.StateError {
		t.Fatalf("final state = %s, want ERROR", run.CurrentState)
	}
}

func TestStepCeilingTerminatesRun(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSteps = 2
	sup, _ := newTestSupervisor(t, identityResolver{}, cfg)

	run := sup.Run(context.Background(), "acme", "doc1", sampleDoc)
	if run.CurrentState != domain.StateError {
		t.Fatalf("final state = %s, want ERROR at step ceiling", run.CurrentState)
	}
	if run.StepCount > cfg.MaxSteps {
		t.Fatalf("step count %d exceeded ceiling %d", run.StepCount, cfg.MaxSteps)
	}
}

func TestTimeoutScalesWithInputSize(t *testing.T) {
	sup, _ := newTestSupervisor(t, identityResolver{}, testConfig())

	small := sup.timeoutFor(1024)
	large := sup.timeoutFor(100 * 1024)
	if large <= small {
		t.Fatalf("timeout did not scale: small=%s large=%s", small, large)
	}
	if got := sup.timeoutFor(1 << 30); got != sup.cfg.MaxTimeout {
		t.Fatalf("timeout cap not applied: %s", got)
	}
}

// rejectingResolver returns resolutions too weak to pass the gate, which
// must trigger exactly one strict-profile retry before proceeding.
type rejectingResolver struct {
	identityResolver
	calls int
}

func (r *rejectingResolver) ResolveConcept(_ context.Context, req gateway.ResolveRequest) (gateway.ResolveResult, error) {
	r.calls++
	return gateway.ResolveResult{CanonicalName: req.RawName, Confidence: 0.2}, nil
}

func TestGateFailureRetriesExtractionOnce(t *testing.T) {
	res := &rejectingResolver{}
	sup, store := newTestSupervisor(t, res, testConfig())

	run := sup.Run(context.Background(), "acme", "doc1", sampleDoc)
	if run.CurrentState != domain.StateDone {
		t.Fatalf("final state = %s, want DONE (errors: %v)", run.CurrentState, run.Errors)
	}
	if run.ConceptsPromoted != 0 {
		t.Fatalf("low-confidence resolutions were promoted: %d", run.ConceptsPromoted)
	}
	if len(store.Concepts("acme")) != 0 {
		t.Fatal("graph received unpromotable concepts")
	}

	var retries int
	for _, e := range run.Errors {
		if strings.Contains(e, "retrying extraction") {
			retries++
		}
	}
	if retries != 1 {
		t.Fatalf("strict retry count = %d, want exactly 1", retries)
	}
}

func TestRelationEndpointsAreAlwaysPromoted(t *testing.T) {
	sup, store := newTestSupervisor(t, identityResolver{}, testConfig())

	run := sup.Run(context.Background(), "acme", "doc1", sampleDoc)
	if run.CurrentState != domain.StateDone {
		t.Fatalf("final state = %s (errors: %v)", run.CurrentState, run.Errors)
	}

	ids := make(map[string]bool)
	for _, c := range store.Concepts("acme") {
		ids[c.CanonicalID.String()] = true
	}
	for _, rel := range store.Relations("acme") {
		if !ids[rel.SubjectConceptID.String()] || !ids[rel.ObjectConceptID.String()] {
			t.Fatalf("relation references unpromoted endpoint: %+v", rel)
		}
	}
	if run.RelationsWritten != len(store.Relations("acme")) {
		t.Fatalf("run reports %d relations, store has %d", run.RelationsWritten, len(store.Relations("acme")))
	}
}

func TestGraphOutageAbsorbedIntoRunRecord(t *testing.T) {
	sup, store := newTestSupervisor(t, identityResolver{}, testConfig())
	store.FailWrites = true

	run := sup.Run(context.Background(), "acme", "doc1", sampleDoc)
	if run.CurrentState != domain.StateDone {
		t.Fatalf("graph outage should degrade, not abort: %s", run.CurrentState)
	}
	if run.ConceptsPromoted != 0 {
		t.Fatalf("promotions reported despite failing store: %d", run.ConceptsPromoted)
	}
	if len(run.Errors) == 0 {
		t.Fatal("absorbed graph errors missing from run record")
	}
}

type panickingSegmenter struct{}

func (panickingSegmenter) Segment(context.Context, string, string) ([]domain.Topic, error) {
	panic("segmenter exploded")
}

func TestPanicBecomesTerminalErrorState(t *testing.T) {
	sup, _ := newTestSupervisor(t, identityResolver{}, testConfig())
	sup.deps.Segmenter = panickingSegmenter{}

	run := sup.Run(context.Background(), "acme", "doc1", sampleDoc)
	if run.CurrentState != domain.StateError {
		t.Fatalf("final state = %s, want ERROR after panic", run.CurrentState)
	}
	found := false
	for _, e := range run.Errors {
		if strings.Contains(e, "panic") {
			found = true
		}
	}
	if !found {
		t.Fatalf("panic not recorded: %v", run.Errors)
	}
}

func TestAccumulatedCostReflectsSpentClasses(t *testing.T) {
	sup, _ := newTestSupervisor(t, identityResolver{}, testConfig())

	run := sup.Run(context.Background(), "acme", "doc1", sampleDoc)
	if run.CurrentState != domain.StateDone {
		t.Fatalf("final state = %s (errors: %v)", run.CurrentState, run.Errors)
	}
	if run.ConceptsPromoted > 0 && run.AccumulatedCost <= 0 {
		t.Fatalf("cost = %v after funded resolutions", run.AccumulatedCost)
	}
}
