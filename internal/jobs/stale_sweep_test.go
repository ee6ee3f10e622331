package jobs

import (
	"context"
	"testing"
	"time"

	"flowsync/internal/models"
	"flowsync/internal/store"
)

func seedUncommitted(t *testing.T, st store.ContextStore, contextID string, loggedAt time.Time) {
	t.Helper()
	la := loggedAt
	rec := &models.ContextRecord{
		ContextID:      contextID,
		ProjectID:      "proj-1",
		Branch:         "feature/auth",
		Author:         "alice",
		AgentReasoning: &models.AgentReasoning{Reasoning: "waiting"},
		Status:         models.StatusUncommitted,
		LoggedAt:       &la,
		CreatedAt:      loggedAt,
		UpdatedAt:      loggedAt,
	}
	if err := st.Insert(context.Background(), rec); err != nil {
		t.Fatalf("seed insert %s failed: %v", contextID, err)
	}
}

func TestStaleSweepExpiresOldUncommitted(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now().UTC()

	seedUncommitted(t, st, "c-old", now.Add(-8*24*time.Hour))
	seedUncommitted(t, st, "c-fresh", now.Add(-6*24*time.Hour))

	job := NewStaleSweepJob(st, nil, 7*24*time.Hour, time.Hour)
	if job.Name() != "stale_sweep" {
		t.Errorf("Unexpected job name %q", job.Name())
	}
	if job.Interval() != time.Hour {
		t.Errorf("Unexpected interval %v", job.Interval())
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	old, _ := st.FindByContextID(context.Background(), "proj-1", "c-old")
	if old.Status != models.StatusStale {
		t.Errorf("Expected c-old stale, got %s", old.Status)
	}
	fresh, _ := st.FindByContextID(context.Background(), "proj-1", "c-fresh")
	if fresh.Status != models.StatusUncommitted {
		t.Errorf("Expected c-fresh untouched, got %s", fresh.Status)
	}
}

func TestStaleSweepIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now().UTC()
	seedUncommitted(t, st, "c-old", now.Add(-10*24*time.Hour))

	job := NewStaleSweepJob(st, nil, 7*24*time.Hour, time.Hour)
	for i := 0; i < 3; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
	}

	counts, _ := st.CountByStatus(context.Background(), "proj-1")
	if counts[models.StatusStale] != 1 {
		t.Errorf("Repeated sweeps must not duplicate work: %+v", counts)
	}
}
