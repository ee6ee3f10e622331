package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"flowsync/internal/models"
	"flowsync/internal/store"
)

func seedRecord(t *testing.T, st store.ContextStore, contextID, branch, parentBranch, feature string, extractedAt time.Time) {
	t.Helper()
	ea := extractedAt
	rec := &models.ContextRecord{
		ContextID:     contextID,
		ProjectID:     "proj-1",
		Branch:        branch,
		Author:        "alice",
		ParentBranch:  parentBranch,
		CommitHash:    testCommitHash,
		SourceEventID: "ev-" + contextID,
		Extracted: &models.ExtractedFields{
			Feature:      feature,
			Stage:        models.StageFeatureDevelopment,
			Confidence:   0.8,
			ModelVersion: "v1",
		},
		Embedding:      []float64{1, 0, 0},
		Status:         models.StatusComplete,
		EventTimestamp: extractedAt,
		ExtractedAt:    &ea,
		CreatedAt:      extractedAt,
		UpdatedAt:      extractedAt,
	}
	if err := st.Insert(context.Background(), rec); err != nil {
		t.Fatalf("seed insert %s failed: %v", contextID, err)
	}
}

// P8: a branch without its own records still sees its parent's history,
// annotated as inherited.
func TestResolveInheritsFromParent(t *testing.T) {
	st := store.NewMemoryStore()
	resolver := NewBranchResolverService(st, nil, nil)
	base := time.Now().UTC()

	seedRecord(t, st, "c-main", "main", "", "Payments", base.Add(-3*time.Hour))
	seedRecord(t, st, "c-child", "feature/auth", "main", "Auth", base.Add(-1*time.Hour))

	result, err := resolver.Resolve(context.Background(), "proj-1", "feature/auth", DefaultResolveLimit, false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if result.ParentBranch != "main" {
		t.Errorf("Expected parent main, got %q", result.ParentBranch)
	}
	if len(result.Records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(result.Records))
	}

	byID := make(map[string]ResolvedRecord)
	for _, rec := range result.Records {
		byID[rec.ContextID] = rec
	}
	if byID["c-child"].Inherited {
		t.Error("Native record must not be marked inherited")
	}
	if !byID["c-main"].Inherited || byID["c-main"].OriginBranch != "main" {
		t.Errorf("Parent record must be marked inherited from main: %+v", byID["c-main"])
	}
	if !strings.Contains(result.InheritedNote, "main") {
		t.Errorf("Inherited note must name the parent, got %q", result.InheritedNote)
	}
}

// Inheritance is one level deep: the grandparent's records never surface.
func TestResolveStopsAtOneLevel(t *testing.T) {
	st := store.NewMemoryStore()
	resolver := NewBranchResolverService(st, nil, nil)
	base := time.Now().UTC()

	seedRecord(t, st, "c-root", "main", "", "Infra", base.Add(-5*time.Hour))
	seedRecord(t, st, "c-mid", "develop", "main", "Payments", base.Add(-3*time.Hour))
	seedRecord(t, st, "c-leaf", "feature/auth", "develop", "Auth", base.Add(-1*time.Hour))

	result, err := resolver.Resolve(context.Background(), "proj-1", "feature/auth", DefaultResolveLimit, false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	for _, rec := range result.Records {
		if rec.ContextID == "c-root" {
			t.Error("Grandparent records must not be resolved")
		}
	}
	if len(result.Records) != 2 {
		t.Errorf("Expected leaf + parent records only, got %d", len(result.Records))
	}
}

func TestResolveBranchWithoutRecords(t *testing.T) {
	st := store.NewMemoryStore()
	resolver := NewBranchResolverService(st, nil, nil)

	result, err := resolver.Resolve(context.Background(), "proj-1", "feature/ghost", DefaultResolveLimit, false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(result.Records) != 0 || result.ParentBranch != "" || result.InheritedNote != "" {
		t.Errorf("Unknown branch must resolve empty, got %+v", result)
	}
}

// P9: after a merge, the source branch's records resolve as native history
// of the target while staying readable under the source branch.
func TestMergeTaggedRecordsResolveOnTarget(t *testing.T) {
	st := store.NewMemoryStore()
	resolver := NewBranchResolverService(st, nil, nil)
	base := time.Now().UTC()

	seedRecord(t, st, "c-feat", "feature/auth", "main", "Auth", base.Add(-2*time.Hour))

	tagged, err := resolver.OnBranchMerged(context.Background(), "proj-1", "feature/auth", "main", base)
	if err != nil {
		t.Fatalf("OnBranchMerged failed: %v", err)
	}
	if tagged != 1 {
		t.Errorf("Expected 1 record tagged, got %d", tagged)
	}

	onTarget, err := resolver.Resolve(context.Background(), "proj-1", "main", DefaultResolveLimit, false)
	if err != nil {
		t.Fatalf("Resolve target failed: %v", err)
	}
	if len(onTarget.Records) != 1 || onTarget.Records[0].ContextID != "c-feat" {
		t.Fatalf("Merged record must resolve on target, got %+v", onTarget.Records)
	}
	if onTarget.Records[0].Inherited {
		t.Error("Merged records count as native on the target, not inherited")
	}
	if onTarget.Records[0].OriginBranch != "feature/auth" {
		t.Errorf("Origin branch must be preserved, got %q", onTarget.Records[0].OriginBranch)
	}

	onSource, err := resolver.Resolve(context.Background(), "proj-1", "feature/auth", DefaultResolveLimit, false)
	if err != nil {
		t.Fatalf("Resolve source failed: %v", err)
	}
	if len(onSource.Records) != 1 {
		t.Error("Merged records must remain retrievable under the source branch")
	}
}

func TestFeatureStateSupersession(t *testing.T) {
	st := store.NewMemoryStore()
	resolver := NewBranchResolverService(st, nil, nil)
	base := time.Now().UTC()

	// Parent worked on Auth recently; the branch has an older native Auth
	// record plus its own Search work.
	seedRecord(t, st, "c-parent-auth", "main", "", "Auth", base.Add(-1*time.Hour))
	seedRecord(t, st, "c-native-auth", "feature/auth", "main", "Auth", base.Add(-6*time.Hour))
	seedRecord(t, st, "c-native-search", "feature/auth", "main", "Search", base.Add(-4*time.Hour))

	result, err := resolver.Resolve(context.Background(), "proj-1", "feature/auth", DefaultResolveLimit, false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	state := resolver.FeatureState(result)
	if len(state) != 2 {
		t.Fatalf("Expected 2 features, got %d", len(state))
	}
	if state["Auth"].ContextID != "c-native-auth" {
		t.Errorf("Native record must supersede a newer inherited one, got %s", state["Auth"].ContextID)
	}
	if state["Search"].ContextID != "c-native-search" {
		t.Errorf("Unexpected Search winner: %s", state["Search"].ContextID)
	}
}

func TestMergeMessageEnvelope(t *testing.T) {
	msg := mergeMessage("proj-1", "feature/auth", "main", 3)

	if msg.Type != "branch_merged" {
		t.Errorf("Expected branch_merged type, got %q", msg.Type)
	}
	if msg.ProjectID != "proj-1" || msg.Branch != "feature/auth" {
		t.Errorf("Envelope must carry project and source branch: %+v", msg)
	}
	if msg.Payload["target_branch"] != "main" {
		t.Errorf("Payload missing target branch: %+v", msg.Payload)
	}
	if msg.Payload["tagged_records"] != int64(3) {
		t.Errorf("Payload missing tagged count: %+v", msg.Payload)
	}
}

func TestFeatureStateLatestNativeWins(t *testing.T) {
	st := store.NewMemoryStore()
	resolver := NewBranchResolverService(st, nil, nil)
	base := time.Now().UTC()

	seedRecord(t, st, "c-old", "feature/auth", "", "Auth", base.Add(-5*time.Hour))
	seedRecord(t, st, "c-new", "feature/auth", "", "Auth", base.Add(-1*time.Hour))

	result, err := resolver.Resolve(context.Background(), "proj-1", "feature/auth", DefaultResolveLimit, false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	state := resolver.FeatureState(result)
	if state["Auth"].ContextID != "c-new" {
		t.Errorf("Later extraction must win within the branch, got %s", state["Auth"].ContextID)
	}
}
