package canonical

import (
	"context"
	"fmt"

	"github.com/yarrowlabs/conceptforge-backend/internal/budget"
	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	"github.com/yarrowlabs/conceptforge-backend/internal/gateway"
	"github.com/yarrowlabs/conceptforge-backend/internal/ontology"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/envutil"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
)

/*
Canonicalizer maps a raw mention to a (canonical name, confidence) pair.

Resolution order: strict input validation, cache (free), then one budgeted
gateway call. A denied budget or a degraded gateway call still yields a
usable fallback pair; only resolutions that pass cache validation are
stored, so a bad answer can never poison later lookups.

The returned error, when non-nil, names the degradation or rejection
cause. The Resolution is usable in every case except validation failure.
*/
type Canonicalizer struct {
	log    *logger.Logger
	cache  *ontology.Cache
	gw     *gateway.Gateway
	ledger *budget.Ledger
}

func New(log *logger.Logger, cache *ontology.Cache, gw *gateway.Gateway, ledger *budget.Ledger) *Canonicalizer {
	return &Canonicalizer{
		log:    log.With("component", "Canonicalizer"),
		cache:  cache,
		gw:     gw,
		ledger: ledger,
	}
}

func (c *Canonicalizer) Canonicalize(ctx context.Context, tenantID, documentID string, mention domain.RawConceptMention, class domain.CallClass) (domain.Resolution, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return domain.Resolution{}, err
	}
	if err := ValidateRawName(mention.RawName); err != nil {
		return domain.Resolution{}, err
	}

	if res, ok := c.cache.Lookup(ctx, tenantID, mention.RawName); ok {
		return res, nil
	}

	if !c.ledger.CheckAndIncrement(ctx, tenantID, documentID, class) {
		c.log.Info("budget denied resolution, using fallback",
			"tenant_id", tenantID, "document_id", documentID,
			"call_class", string(class), "raw_name", mention.RawName)
		return gateway.FallbackResolution(mention.RawName), budget.ErrExceeded(class)
	}

	snippet := TruncateContext(mention.SurroundingContext, envutil.Int("CANONICAL_CONTEXT_MAX_CHARS", maxContextLen))
	res, err := c.gw.ResolveConcept(ctx, gateway.ResolveRequest{
		TenantID: tenantID,
		RawName:  mention.RawName,
		Context:  snippet,
	})
	if err != nil {
		// The call produced no billable result; give the unit back.
		c.ledger.Refund(ctx, tenantID, documentID, class)
		return res, err
	}

	if verr := ontology.ValidateForCache(mention.RawName, res); verr != nil {
		c.log.Warn("resolution failed cache validation, returning uncached",
			"tenant_id", tenantID, "raw_name", mention.RawName, "error", verr)
		return res, fmt.Errorf("uncacheable resolution: %w", verr)
	}
	c.cache.Put(ctx, tenantID, mention.RawName, res)
	return res, nil
}
