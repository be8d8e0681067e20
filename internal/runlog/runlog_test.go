package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/yarrowlabs/conceptforge-backend/internal/domain"
	"github.com/yarrowlabs/conceptforge-backend/internal/platform/logger"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := OpenPath(logger.NewNop(), filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open runlog: %v", err)
	}
	return repo
}

func terminalRun(state domain.State) domain.RunState {
	return domain.RunState{
		DocumentID:       "doc1",
		TenantID:         "acme",
		CurrentState:     state,
		StepCount:        12,
		StartedAt:        time.Now().Add(-3 * time.Second),
		ElapsedTime:      3 * time.Second,
		AccumulatedCost:  4.2,
		Errors:           []string{"validate \"a\"/\"b\": circuit open"},
		TopicCount:       5,
		ConceptsPromoted: 3,
	}
}

func TestSaveAndRecent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, terminalRun(domain.StateDone)); err != nil {
		t.Fatalf("save: %v", err)
	}

	runs, err := repo.Recent(ctx, "acme", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("recent = %d, want 1", len(runs))
	}
	got := runs[0]
	if got.FinalState != string(domain.StateDone) {
		t.Fatalf("final state = %q", got.FinalState)
	}
	if got.ElapsedMS != 3000 {
		t.Fatalf("elapsed_ms = %d, want 3000", got.ElapsedMS)
	}
	if len(got.Errors) == 0 {
		t.Fatal("absorbed errors not persisted")
	}
}

func TestSaveRejectsNonTerminalState(t *testing.T) {
	repo := openTestRepo(t)
	run := terminalRun(domain.StateSegment)
	if err := repo.Save(context.Background(), run); err == nil {
		t.Fatal("expected error for non-terminal state")
	}
}

func TestNilRepoIsNoop(t *testing.T) {
	var repo *Repo
	if err := repo.Save(context.Background(), terminalRun(domain.StateError)); err != nil {
		t.Fatalf("nil repo save: %v", err)
	}
}
