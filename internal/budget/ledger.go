package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	pkgerr "github.com/yarrowlabs/conceptforge-backend/internal/pkg/errors"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/envutil"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
)

/*
Ledger enforces hard caps on billable external calls.

Two layers of counters share one CounterStore:
  - per (tenant, document, class): the hard per-run cap,
  - per (tenant, day): a larger rolling cap bounding aggregate spend
    across documents.

CheckAndIncrement is increment-then-compare: the counter is bumped
atomically and compared against the cap; on overflow the bump is rolled
back and the call denied, so the stored count never settles above the cap.
If the counter store is unreachable the ledger fails open (allows, logs)
rather than halting the run.
*/
type Ledger struct {
	store CounterStore
	log   *logger.Logger

	caps     map[domain.CallClass]int64
	dailyCap int64
	docTTL   time.Duration
	dayTTL   time.Duration
}

type Config struct {
	CapLightweight int64
	CapHeavyweight int64
	CapVision      int64
	TenantDailyCap int64
	DocWindowTTL   time.Duration
	DayWindowTTL   time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		CapLightweight: int64(envutil.IntAllowZero("BUDGET_CAP_LIGHTWEIGHT", 40)),
		CapHeavyweight: int64(envutil.IntAllowZero("BUDGET_CAP_HEAVYWEIGHT", 12)),
		CapVision:      int64(envutil.IntAllowZero("BUDGET_CAP_VISION", 6)),
		TenantDailyCap: int64(envutil.IntAllowZero("BUDGET_TENANT_DAILY_CAP", 2000)),
		DocWindowTTL:   envutil.Duration("BUDGET_DOC_WINDOW_TTL_SECONDS", 6*time.Hour),
		DayWindowTTL:   envutil.Duration("BUDGET_DAY_WINDOW_TTL_SECONDS", 48*time.Hour),
	}
}

func NewLedger(store CounterStore, log *logger.Logger, cfg Config) *Ledger {
	if cfg.DocWindowTTL <= 0 {
		cfg.DocWindowTTL = 6 * time.Hour
	}
	if cfg.DayWindowTTL <= 0 {
		cfg.DayWindowTTL = 48 * time.Hour
	}
	return &Ledger{
		store: store,
		log:   log.With("component", "BudgetLedger"),
		caps: map[domain.CallClass]int64{
			domain.CallClassLightweight: cfg.CapLightweight,
			domain.CallClassHeavyweight: cfg.CapHeavyweight,
			domain.CallClassVision:      cfg.CapVision,
		},
		dailyCap: cfg.TenantDailyCap,
		docTTL:   cfg.DocWindowTTL,
		dayTTL:   cfg.DayWindowTTL,
	}
}

// CheckAndIncrement reports whether one more call of the given class may be
// dispatched for this document. true means the call has been counted.
func (l *Ledger) CheckAndIncrement(ctx context.Context, tenantID, documentID string, class domain.CallClass) bool {
	cap, ok := l.caps[class]
	if !ok {
		l.log.Warn("unknown call class, denying", "call_class", string(class))
		return false
	}

	if l.dailyCap > 0 {
		n, err := l.store.IncrWithTTL(ctx, l.dayKey(tenantID), l.dayTTL)
		if err != nil {
			l.log.Warn("counter store unreachable on daily cap, failing open", "tenant_id", tenantID, "error", err)
		} else if n > l.dailyCap {
			_ = l.store.DecrFloor(ctx, l.dayKey(tenantID))
			return false
		}
	}

	n, err := l.store.IncrWithTTL(ctx, l.docKey(tenantID, documentID, class), l.docTTL)
	if err != nil {
		l.log.Warn("counter store unreachable, failing open", "tenant_id", tenantID, "document_id", documentID, "error", err)
		return true
	}
	if n > cap {
		_ = l.store.DecrFloor(ctx, l.docKey(tenantID, documentID, class))
		_ = l.store.DecrFloor(ctx, l.dayKey(tenantID))
		return false
	}
	return true
}

// Refund returns one unit of the class after a dispatched call failed
// before producing a billable result. Best-effort.
func (l *Ledger) Refund(ctx context.Context, tenantID, documentID string, class domain.CallClass) {
	if err := l.store.DecrFloor(ctx, l.docKey(tenantID, documentID, class)); err != nil {
		l.log.Warn("refund failed", "tenant_id", tenantID, "document_id", documentID, "call_class", string(class), "error", err)
		return
	}
	_ = l.store.DecrFloor(ctx, l.dayKey(tenantID))
}

// Spent returns the current count for a (document, class) pair. Used for
// the run record; zero on store errors.
func (l *Ledger) Spent(ctx context.Context, tenantID, documentID string, class domain.CallClass) int64 {
	n, err := l.store.Get(ctx, l.docKey(tenantID, documentID, class))
	if err != nil {
		return 0
	}
	return n
}

// ErrExceeded wraps the sentinel with the denied class for run records.
func ErrExceeded(class domain.CallClass) error {
	return fmt.Errorf("call class %s: %w", class, pkgerr.ErrBudgetExceeded)
}

func (l *Ledger) docKey(tenantID, documentID string, class domain.CallClass) string {
	return fmt.Sprintf("budget:doc:%s:%s:%s", tenantID, documentID, class)
}

func (l *Ledger) dayKey(tenantID string) string {
	return fmt.Sprintf("budget:day:%s:%s", tenantID, time.Now().UTC().Format("20060102"))
}
