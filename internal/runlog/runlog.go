package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/envutil"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
)

// RunRecord is the persisted form of a terminal RunState. One row per
// run; reruns of the same document append new rows rather than update.
type RunRecord struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey"`
	DocumentID      string         `gorm:"index"`
	TenantID        string         `gorm:"index"`
	FinalState      string         `gorm:"index"`
	StepCount       int
	StartedAt       time.Time
	ElapsedMS       int64
	AccumulatedCost float64
	Errors          datatypes.JSON

	TopicCount        int
	MentionCount      int
	CacheHits         int
	ConceptsPromoted  int
	RelationsWritten  int
	RelationsHeld     int
	FallbacksReturned int

	CreatedAt time.Time
}

type Repo struct {
	db  *gorm.DB
	log *logger.Logger
}

/*
Open opens (or creates) the sqlite run log at RUNLOG_SQLITE_PATH and
migrates the schema. Returns (nil, nil) when the path is unset; callers
treat a nil repo as "run logging disabled".
*/
func Open(log *logger.Logger) (*Repo, error) {
	if log == nil {
		return nil, fmt.Errorf("runlog: logger required")
	}
	path := envutil.Str("RUNLOG_SQLITE_PATH", "")
	if path == "" {
		return nil, nil
	}
	return OpenPath(log, path)
}

func OpenPath(log *logger.Logger, path string) (*Repo, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("runlog: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("runlog: migrate: %w", err)
	}
	return &Repo{db: db, log: log.With("service", "RunLog")}, nil
}

// Save persists a terminal run state. A nil repo is a no-op so callers
// never branch on whether logging is enabled.
func (r *Repo) Save(ctx context.Context, run domain.RunState) error {
	if r == nil {
		return nil
	}
	if !run.CurrentState.Terminal() {
		return fmt.Errorf("runlog: refusing to persist non-terminal state %s", run.CurrentState)
	}

	var errsJSON datatypes.JSON
	if len(run.Errors) > 0 {
		raw, err := json.Marshal(run.Errors)
		if err != nil {
			return fmt.Errorf("runlog: encode errors: %w", err)
		}
		errsJSON = raw
	}

	rec := RunRecord{
		ID:              uuid.New(),
		DocumentID:      run.DocumentID,
		TenantID:        run.TenantID,
		FinalState:      string(run.CurrentState),
		StepCount:       run.StepCount,
		StartedAt:       run.StartedAt,
		ElapsedMS:       run.ElapsedTime.Milliseconds(),
		AccumulatedCost: run.AccumulatedCost,
		Errors:          errsJSON,

		TopicCount:        run.TopicCount,
		MentionCount:      run.MentionCount,
		CacheHits:         run.CacheHits,
		ConceptsPromoted:  run.ConceptsPromoted,
		RelationsWritten:  run.RelationsWritten,
		RelationsHeld:     run.RelationsHeld,
		FallbacksReturned: run.FallbacksReturned,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("runlog: save run for %s: %w", run.DocumentID, err)
	}
	return nil
}

// Recent returns the latest runs for a tenant, newest first.
func (r *Repo) Recent(ctx context.Context, tenantID string, limit int) ([]RunRecord, error) {
	if r == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	var out []RunRecord
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("runlog: recent runs for %s: %w", tenantID, err)
	}
	return out, nil
}
