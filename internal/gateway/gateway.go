package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	pkgerr "github.com/yarrowlabs/conceptforge-backend/internal/pkg/errors"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/envutil"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
)

var tracer = otel.Tracer("conceptforge/gateway")

// ResolveRequest asks the external resolver to canonicalize one raw
// mention. Context is a bounded snippet, already truncated on a word
// boundary by the canonicalizer.
type ResolveRequest struct {
	TenantID string
	RawName  string
	Context  string
}

// ResolveResult is the resolver's answer before the canonicalizer's own
// validation pass.
type ResolveResult struct {
	CanonicalName string
	ConceptType   string
	Aliases       []string
	Confidence    float64
}

// RelationCandidate is one merged (subject, object, evidence) triple
// submitted for validation.
type RelationCandidate struct {
	Subject  string
	Object   string
	Evidence string
	Strategy string
}

// RelationDecision is the validator's verdict. When Exists is false the
// candidate is discarded; a predicate is never defaulted.
type RelationDecision struct {
	Exists       bool
	Predicate    string
	SubjectFirst bool
	Confidence   float64
}

// Resolver is the external scoring/canonicalization capability behind the
// gateway. Production wires the LLM-backed implementation; tests use fakes.
type Resolver interface {
	ResolveConcept(ctx context.Context, req ResolveRequest) (ResolveResult, error)
	ValidateRelation(ctx context.Context, cand RelationCandidate) (RelationDecision, error)
}

/*
Gateway is the single chokepoint for external calls. It layers, in order:
rate limiting (token bucket), the circuit breaker, and a per-call timeout.
A timeout counts as a breaker failure like any other error.

Degradation contract: ResolveConcept always returns a usable Resolution.
When the returned error is non-nil it names the degradation cause
(ErrCircuitOpen / ErrGatewayTimeout / ErrGatewayFailure) and the Resolution
is the deterministic fallback. ValidateRelation has no fallback; on error
the candidate is discarded or held by the caller.
*/
type Gateway struct {
	log      *logger.Logger
	resolver Resolver
	breaker  *Breaker
	limiter  *rate.Limiter
	timeout  time.Duration
}

type Config struct {
	CallTimeout      time.Duration
	BreakerThreshold int
	RecoveryWindow   time.Duration
	RatePerSec       float64
	RateBurst        int
}

func ConfigFromEnv() Config {
	return Config{
		CallTimeout:      envutil.Duration("GATEWAY_CALL_TIMEOUT_SECONDS", 5*time.Second),
		BreakerThreshold: envutil.Int("GATEWAY_BREAKER_THRESHOLD", 5),
		RecoveryWindow:   envutil.Duration("GATEWAY_RECOVERY_SECONDS", 45*time.Second),
		RatePerSec:       envutil.Float("GATEWAY_RATE_PER_SEC", 8),
		RateBurst:        envutil.Int("GATEWAY_RATE_BURST", 4),
	}
}

func New(log *logger.Logger, resolver Resolver, cfg Config) *Gateway {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 8
	}
	if cfg.RateBurst < 1 {
		cfg.RateBurst = 1
	}
	return &Gateway{
		log:      log.With("component", "Gateway"),
		resolver: resolver,
		breaker:  NewBreaker(cfg.BreakerThreshold, cfg.RecoveryWindow),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
		timeout:  cfg.CallTimeout,
	}
}

func (g *Gateway) BreakerState() BreakerState { return g.breaker.State() }

func (g *Gateway) ResolveConcept(ctx context.Context, req ResolveRequest) (domain.Resolution, error) {
	ctx, span := tracer.Start(ctx, "gateway.resolve_concept")
	defer span.End()
	span.SetAttributes(attribute.String("breaker.state", string(g.breaker.State())))

	if !g.breaker.Allow() {
		g.log.Debug("breaker open, returning fallback", "raw_name", req.RawName)
		return FallbackResolution(req.RawName), pkgerr.ErrCircuitOpen
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.breaker.OnFailure()
		return FallbackResolution(req.RawName), fmt.Errorf("rate wait: %w", pkgerr.ErrGatewayFailure)
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	res, err := g.resolver.ResolveConcept(cctx, req)
	if err != nil {
		g.breaker.OnFailure()
		if errors.Is(err, context.DeadlineExceeded) {
			g.log.Warn("resolve timed out", "raw_name", req.RawName, "timeout", g.timeout)
			return FallbackResolution(req.RawName), pkgerr.ErrGatewayTimeout
		}
		g.log.Warn("resolve failed", "raw_name", req.RawName, "error", err)
		return FallbackResolution(req.RawName), fmt.Errorf("%v: %w", err, pkgerr.ErrGatewayFailure)
	}
	g.breaker.OnSuccess()
	return domain.Resolution{
		CanonicalName: res.CanonicalName,
		ConceptType:   res.ConceptType,
		Confidence:    res.Confidence,
		Aliases:       res.Aliases,
		Source:        "resolved",
	}, nil
}

func (g *Gateway) ValidateRelation(ctx context.Context, cand RelationCandidate) (RelationDecision, error) {
	ctx, span := tracer.Start(ctx, "gateway.validate_relation")
	defer span.End()

	if !g.breaker.Allow() {
		return RelationDecision{}, pkgerr.ErrCircuitOpen
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.breaker.OnFailure()
		return RelationDecision{}, fmt.Errorf("rate wait: %w", pkgerr.ErrGatewayFailure)
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	dec, err := g.resolver.ValidateRelation(cctx, cand)
	if err != nil {
		g.breaker.OnFailure()
		if errors.Is(err, context.DeadlineExceeded) {
			return RelationDecision{}, pkgerr.ErrGatewayTimeout
		}
		return RelationDecision{}, fmt.Errorf("%v: %w", err, pkgerr.ErrGatewayFailure)
	}
	g.breaker.OnSuccess()
	return dec, nil
}
