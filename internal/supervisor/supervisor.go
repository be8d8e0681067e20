package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yarrowlabs/conceptforge-backend/internal/budget"
	"github.com/yarrowlabs/conceptforge-backend/internal/canonical"
	"github.com/yarrowlabs/conceptforge-backend/internal/data/graph"
	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	"github.com/yarrowlabs/conceptforge-backend/internal/extract"
	"github.com/yarrowlabs/conceptforge-backend/internal/gatekeeper"
	apperrors "github.com/yarrowlabs/conceptforge-backend/internal/pkg/errors"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/envutil"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/qdrant"
	"github.com/yarrowlabs/conceptforge-backend/internal/relations"
	"github.com/yarrowlabs/conceptforge-backend/internal/runlog"
	"github.com/yarrowlabs/conceptforge-backend/internal/segment"
)

var tracer = otel.Tracer("conceptforge/supervisor")

const maxRecordedErrors = 50

type Config struct {
	BaseTimeout  time.Duration
	PerKBAllow   time.Duration
	MaxTimeout   time.Duration
	MaxSteps     int
	MinDocChars  int
	TopicWorkers int

	LargeDocChars   int
	LargeDocWorkers int

	CostLightweight float64
	CostHeavyweight float64
	CostVision      float64
}

func ConfigFromEnv() Config {
	return Config{
		BaseTimeout:  envutil.Duration("FSM_BASE_TIMEOUT_SECONDS", 30*time.Second),
		PerKBAllow:   time.Duration(envutil.Int("FSM_PER_KB_MS", 500)) * time.Millisecond,
		MaxTimeout:   envutil.Duration("FSM_MAX_TIMEOUT_SECONDS", 10*time.Minute),
		MaxSteps:     envutil.Int("FSM_MAX_STEPS", 64),
		MinDocChars:  envutil.Int("FSM_MIN_DOC_CHARS", 100),
		TopicWorkers: envutil.Int("FSM_TOPIC_CONCURRENCY", 8),

		LargeDocChars:   envutil.Int("FSM_LARGE_DOC_CHARS", 200_000),
		LargeDocWorkers: envutil.Int("FSM_LARGE_DOC_CONCURRENCY", 2),

		CostLightweight: envutil.Float("BUDGET_COST_LIGHTWEIGHT", 0.2),
		CostHeavyweight: envutil.Float("BUDGET_COST_HEAVYWEIGHT", 1.0),
		CostVision:      envutil.Float("BUDGET_COST_VISION", 2.0),
	}
}

// Deps bundles everything one run touches. Vectors and RunLog may be nil;
// everything else is required.
type Deps struct {
	Log           *logger.Logger
	Segmenter     segment.Segmenter
	Extractor     *extract.Extractor
	Canonicalizer *canonical.Canonicalizer
	Embedder      canonical.Embedder
	Gatekeeper    *gatekeeper.Gatekeeper
	Relations     *relations.Extractor
	Graph         graph.Store
	Vectors       qdrant.VectorStore
	Ledger        *budget.Ledger
	RunLog        *runlog.Repo
}

/*
Supervisor drives one document through the canonicalization state
machine. Run always returns a terminal RunState: external failures are
absorbed into the run record and the machine keeps moving, only timeout,
step-ceiling and unrecoverable internal errors reach ERROR.
*/
type Supervisor struct {
	deps Deps
	cfg  Config
	log  *logger.Logger
}

func New(deps Deps, cfg Config) *Supervisor {
	return &Supervisor{
		deps: deps,
		cfg:  cfg,
		log:  deps.Log.With("service", "Supervisor"),
	}
}

// runCtx is the in-flight working set. It never outlives the run.
type runCtx struct {
	text        string
	topics      []domain.Topic
	fromVision  map[string]bool
	mentions    []domain.RawConceptMention
	connectives []string
	candidates  []gatekeeper.Candidate
	eligible    []gatekeeper.Scored
	promoted    []domain.CanonicalConcept
	retried     bool
}

func (s *Supervisor) Run(ctx context.Context, tenantID, documentID, text string) (run domain.RunState) {
	run = domain.RunState{
		DocumentID:   documentID,
		TenantID:     tenantID,
		CurrentState: domain.StateInit,
		StartedAt:    time.Now(),
	}
	rc := &runCtx{text: text}

	ctx, span := tracer.Start(ctx, "supervisor.run")
	span.SetAttributes(
		attribute.String("document_id", documentID),
		attribute.Int("document_chars", len(text)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.record(&run, fmt.Errorf("panic in state %s: %v", run.CurrentState, r))
			run.CurrentState = domain.StateError
		}
		run.ElapsedTime = time.Since(run.StartedAt)
		run.AccumulatedCost = s.accumulatedCost(ctx, tenantID, documentID)
		if err := s.deps.RunLog.Save(ctx, run); err != nil {
			s.log.Warn("run log save failed", "document_id", documentID, "error", err)
		}
		s.log.Info("run finished",
			"document_id", documentID,
			"final_state", run.CurrentState,
			"steps", run.StepCount,
			"elapsed", run.ElapsedTime,
			"promoted", run.ConceptsPromoted,
			"relations", run.RelationsWritten,
			"errors", len(run.Errors),
		)
	}()

	deadline := run.StartedAt.Add(s.timeoutFor(len(text)))

	for !run.CurrentState.Terminal() {
		if run.StepCount >= s.cfg.MaxSteps {
			s.record(&run, fmt.Errorf("state %s: %w", run.CurrentState, apperrors.ErrStepLimit))
			run.CurrentState = domain.StateError
			break
		}
		// Ceilings are checked between transitions; an in-flight call is
		// always allowed to finish.
		if time.Now().After(deadline) {
			s.record(&run, fmt.Errorf("state %s after %s: %w", run.CurrentState, time.Since(run.StartedAt).Round(time.Millisecond), apperrors.ErrRunTimeout))
			run.CurrentState = domain.StateError
			break
		}
		run.CurrentState = s.step(ctx, &run, rc)
		run.StepCount++
	}
	return run
}

// timeoutFor scales the run deadline with input size so a large document
// is not killed for being large, within a hard cap.
func (s *Supervisor) timeoutFor(chars int) time.Duration {
	d := s.cfg.BaseTimeout + time.Duration(chars/1024)*s.cfg.PerKBAllow
	if d > s.cfg.MaxTimeout {
		d = s.cfg.MaxTimeout
	}
	return d
}

func (s *Supervisor) step(ctx context.Context, run *domain.RunState, rc *runCtx) domain.State {
	ctx, span := tracer.Start(ctx, "supervisor.state."+strings.ToLower(string(run.CurrentState)))
	defer span.End()

	switch run.CurrentState {
	case domain.StateInit:
		return s.stepInit(run, rc)
	case domain.StateBudgetCheck:
		return s.stepBudgetCheck(ctx, run)
	case domain.StateSegment:
		return s.stepSegment(ctx, run, rc)
	case domain.StateExtract:
		return s.stepExtract(run, rc)
	case domain.StateMinePatterns:
		return s.stepMinePatterns(ctx, run, rc)
	case domain.StateGateCheck:
		return s.stepGateCheck(run, rc)
	case domain.StatePromote:
		return s.stepPromote(ctx, run, rc)
	case domain.StateExtractRelations:
		return s.stepExtractRelations(ctx, run, rc)
	case domain.StateIndexConcepts:
		return s.stepIndexConcepts(ctx, run, rc)
	case domain.StateFinalize:
		return domain.StateDone
	default:
		s.record(run, fmt.Errorf("unknown state %q", run.CurrentState))
		return domain.StateError
	}
}

func (s *Supervisor) stepInit(run *domain.RunState, rc *runCtx) domain.State {
	if err := canonical.ValidateTenantID(run.TenantID); err != nil {
		s.record(run, err)
		return domain.StateError
	}
	if strings.TrimSpace(run.DocumentID) == "" {
		s.record(run, fmt.Errorf("document id is required: %w", apperrors.ErrValidation))
		return domain.StateError
	}
	if len(rc.text) < s.cfg.MinDocChars {
		s.record(run, fmt.Errorf("document below %d chars: %w", s.cfg.MinDocChars, apperrors.ErrValidation))
		return domain.StateError
	}
	return domain.StateBudgetCheck
}

// stepBudgetCheck probes the ledger with a refunded increment. A denied
// probe does not abort the run; it flags that everything downstream will
// resolve through fallbacks.
func (s *Supervisor) stepBudgetCheck(ctx context.Context, run *domain.RunState) domain.State {
	if s.deps.Ledger.CheckAndIncrement(ctx, run.TenantID, run.DocumentID, domain.CallClassLightweight) {
		s.deps.Ledger.Refund(ctx, run.TenantID, run.DocumentID, domain.CallClassLightweight)
	} else {
		s.record(run, fmt.Errorf("budget exhausted before first call, run degrades to fallbacks: %w", apperrors.ErrBudgetExceeded))
	}
	return domain.StateSegment
}

func (s *Supervisor) stepSegment(ctx context.Context, run *domain.RunState, rc *runCtx) domain.State {
	topics, err := s.deps.Segmenter.Segment(ctx, run.DocumentID, rc.text)
	if err != nil {
		s.record(run, fmt.Errorf("segment: %w", err))
		return domain.StateError
	}
	rc.topics = topics
	rc.fromVision = make(map[string]bool, len(topics))
	for _, t := range topics {
		rc.fromVision[t.ID] = t.FromVision
	}
	run.TopicCount = len(topics)
	if len(topics) == 0 {
		s.record(run, fmt.Errorf("no topics segmented from document"))
		return domain.StateFinalize
	}
	return domain.StateExtract
}

func (s *Supervisor) stepExtract(run *domain.RunState, rc *runCtx) domain.State {
	profile := extract.StandardProfile()
	if rc.retried {
		profile = extract.StrictProfile()
	}

	var mu sync.Mutex
	perTopic := make([][]domain.RawConceptMention, len(rc.topics))
	g := new(errgroup.Group)
	g.SetLimit(s.workersFor(len(rc.text)))
	for i, topic := range rc.topics {
		i, topic := i, topic
		g.Go(func() error {
			ms := s.deps.Extractor.ExtractTopic(topic, profile)
			mu.Lock()
			perTopic[i] = ms
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	rc.mentions = rc.mentions[:0]
	for _, ms := range perTopic {
		rc.mentions = append(rc.mentions, ms...)
	}
	run.MentionCount = len(rc.mentions)
	return domain.StateMinePatterns
}

/*
stepMinePatterns turns raw mentions into promotion candidates: connective
phrases are mined from the full text, cross-lingual clusters are formed
over the mentions, and each cluster's representative goes through the
canonicalizer. Resolution failures degrade per cluster, never per run.
*/
func (s *Supervisor) stepMinePatterns(ctx context.Context, run *domain.RunState, rc *runCtx) domain.State {
	rc.connectives = relations.MineConnectives(rc.text)

	clusters, err := canonical.ClusterMentions(ctx, s.deps.Embedder, rc.mentions)
	if err != nil {
		s.record(run, fmt.Errorf("clustering degraded: %w", err))
	}
	if len(clusters) == 0 {
		return domain.StateGateCheck
	}

	type resolved struct {
		cand gatekeeper.Candidate
		res  domain.Resolution
		err  error
	}
	out := make([]resolved, len(clusters))

	g := new(errgroup.Group)
	g.SetLimit(s.workersFor(len(rc.text)))
	for i, cl := range clusters {
		i, cl := i, cl
		g.Go(func() error {
			cand, res, err := s.resolveCluster(ctx, run.TenantID, run.DocumentID, rc, cl)
			out[i] = resolved{cand: cand, res: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	rc.candidates = rc.candidates[:0]
	for _, r := range out {
		if r.err != nil {
			s.record(run, r.err)
		}
		if r.res.Source == "cache" {
			run.CacheHits++
		}
		if r.res.NeedsReprocess {
			run.FallbacksReturned++
		}
		if r.cand.CanonicalName != "" {
			rc.candidates = append(rc.candidates, r.cand)
		}
	}
	return domain.StateGateCheck
}

func (s *Supervisor) resolveCluster(ctx context.Context, tenantID, documentID string, rc *runCtx, cl canonical.Cluster) (gatekeeper.Candidate, domain.Resolution, error) {
	if len(cl.Members) == 0 {
		return gatekeeper.Candidate{}, domain.Resolution{}, nil
	}

	rep := cl.Members[0]
	for _, m := range cl.Members {
		if strings.EqualFold(m.RawName, cl.Representative) {
			rep = m
			break
		}
	}

	class := domain.CallClassHeavyweight
	fromVision := false
	topicIDs := make([]string, 0, len(cl.Members))
	contexts := make([]string, 0, len(cl.Members))
	rawNames := make([]string, 0, len(cl.Members))
	seenTopics := make(map[string]bool)
	for _, m := range cl.Members {
		if !seenTopics[m.SourceTopicID] {
			seenTopics[m.SourceTopicID] = true
			topicIDs = append(topicIDs, m.SourceTopicID)
		}
		if m.SurroundingContext != "" {
			contexts = append(contexts, m.SurroundingContext)
		}
		rawNames = append(rawNames, m.RawName)
		if rc.fromVision[m.SourceTopicID] {
			fromVision = true
		}
	}
	if fromVision {
		class = domain.CallClassVision
	}

	res, err := s.deps.Canonicalizer.Canonicalize(ctx, tenantID, documentID, rep, class)

	conceptType := res.ConceptType
	if conceptType == "" {
		conceptType = "concept"
	}
	cand := gatekeeper.Candidate{
		CanonicalName:  res.CanonicalName,
		Confidence:     res.Confidence,
		NeedsReprocess: res.NeedsReprocess,
		Aliases:        append(append([]string{}, res.Aliases...), cl.Aliases...),
		RawNames:       rawNames,
		Languages:      cl.Languages,
		ConceptType:    conceptType,
		TopicIDs:       topicIDs,
		Contexts:       contexts,
		MentionCount:   len(cl.Members),
		FromVision:     fromVision,
	}
	if err != nil {
		return cand, res, fmt.Errorf("canonicalize %q: %w", rep.RawName, err)
	}
	return cand, res, nil
}

// stepGateCheck scores candidates and, when none pass on the first
// attempt, grants exactly one retry through extraction with the strict
// profile. A second empty gate proceeds with nothing to promote.
func (s *Supervisor) stepGateCheck(run *domain.RunState, rc *runCtx) domain.State {
	_, eligible := s.deps.Gatekeeper.Assess(rc.candidates)
	rc.eligible = eligible

	if len(eligible) == 0 && !rc.retried && len(rc.mentions) > 0 {
		rc.retried = true
		s.record(run, fmt.Errorf("no candidates passed the gate, retrying extraction with strict profile"))
		return domain.StateExtract
	}
	return domain.StatePromote
}

func (s *Supervisor) stepPromote(ctx context.Context, run *domain.RunState, rc *runCtx) domain.State {
	promoted, absorbed := s.deps.Gatekeeper.Promote(ctx, run.TenantID, rc.eligible)
	for _, err := range absorbed {
		s.record(run, err)
	}
	rc.promoted = promoted
	run.ConceptsPromoted = len(promoted)
	return domain.StateExtractRelations
}

func (s *Supervisor) stepExtractRelations(ctx context.Context, run *domain.RunState, rc *runCtx) domain.State {
	if len(rc.promoted) < 2 {
		return domain.StateIndexConcepts
	}
	res := s.deps.Relations.Extract(ctx, run.TenantID, run.DocumentID, rc.promoted, rc.text, rc.connectives)
	for _, err := range res.Absorbed {
		s.record(run, err)
	}
	run.RelationsHeld += res.Held

	for _, rel := range res.Relations {
		if err := s.deps.Graph.CreateRelationship(ctx, run.TenantID, rel); err != nil {
			s.record(run, err)
			continue
		}
		run.RelationsWritten++
	}
	return domain.StateIndexConcepts
}

func (s *Supervisor) stepIndexConcepts(ctx context.Context, run *domain.RunState, rc *runCtx) domain.State {
	if s.deps.Vectors == nil || len(rc.promoted) == 0 {
		return domain.StateFinalize
	}

	names := make([]string, len(rc.promoted))
	for i, c := range rc.promoted {
		names[i] = c.CanonicalName
	}
	vecs, err := s.deps.Embedder.Embed(ctx, names)
	if err != nil || len(vecs) != len(rc.promoted) {
		s.record(run, fmt.Errorf("concept index embedding skipped: %v", err))
		return domain.StateFinalize
	}

	points := make([]qdrant.Point, len(rc.promoted))
	for i, c := range rc.promoted {
		points[i] = qdrant.Point{
			ID:     c.CanonicalID.String(),
			Values: vecs[i],
			Payload: map[string]any{
				"canonical_name": c.CanonicalName,
				"tenant_id":      c.TenantID,
				"concept_type":   c.ConceptType,
			},
		}
	}
	if err := s.deps.Vectors.Upsert(ctx, points); err != nil {
		s.record(run, fmt.Errorf("concept index upsert skipped: %w", err))
	}
	return domain.StateFinalize
}

func (s *Supervisor) accumulatedCost(ctx context.Context, tenantID, documentID string) float64 {
	light := s.deps.Ledger.Spent(ctx, tenantID, documentID, domain.CallClassLightweight)
	heavy := s.deps.Ledger.Spent(ctx, tenantID, documentID, domain.CallClassHeavyweight)
	vision := s.deps.Ledger.Spent(ctx, tenantID, documentID, domain.CallClassVision)
	return float64(light)*s.cfg.CostLightweight +
		float64(heavy)*s.cfg.CostHeavyweight +
		float64(vision)*s.cfg.CostVision
}

func (s *Supervisor) workersFor(chars int) int {
	if chars > s.cfg.LargeDocChars {
		return max(1, s.cfg.LargeDocWorkers)
	}
	return max(1, s.cfg.TopicWorkers)
}

func (s *Supervisor) record(run *domain.RunState, err error) {
	if err == nil {
		return
	}
	if len(run.Errors) < maxRecordedErrors {
		run.Errors = append(run.Errors, err.Error())
	}
	s.log.Warn("run event absorbed", "document_id", run.DocumentID, "state", run.CurrentState, "error", err)
}
