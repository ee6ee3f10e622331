package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"flowsync/internal/models"
	"flowsync/internal/store"
)

type fakeGeneration struct {
	calls    int
	fail     error
	answer   Answer
	passages []string
}

func (f *fakeGeneration) Answer(_ context.Context, _ string, passages []string) (*Answer, error) {
	f.calls++
	f.passages = passages
	if f.fail != nil {
		return nil, f.fail
	}
	a := f.answer
	if a.Text == "" {
		a = Answer{Text: "grounded answer", Grounded: true}
	}
	return &a, nil
}

func seedEmbedded(t *testing.T, st store.ContextStore, contextID, feature string, embedding []float64, confidence float64, extractedAt time.Time) {
	t.Helper()
	ea := extractedAt
	rec := &models.ContextRecord{
		ContextID:     contextID,
		ProjectID:     "proj-1",
		Branch:        "feature/auth",
		Author:        "alice",
		CommitHash:    testCommitHash,
		SourceEventID: "ev-" + contextID,
		Extracted: &models.ExtractedFields{
			Feature:      feature,
			Stage:        models.StageFeatureDevelopment,
			Confidence:   confidence,
			ModelVersion: "v1",
		},
		Embedding:      embedding,
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

func newTestSearch(st store.ContextStore, queryVector []float64) (*SearchService, *fakeGeneration, *fakeEmbedding) {
	resolver := NewBranchResolverService(st, nil, nil)
	embedding := &fakeEmbedding{vectors: map[string][]float64{"query": queryVector}}
	generation := &fakeGeneration{}
	return NewSearchService(resolver, embedding, generation, nil), generation, embedding
}

func TestSearchRanksBySimilarity(t *testing.T) {
	st := store.NewMemoryStore()
	base := time.Now().UTC()

	seedEmbedded(t, st, "c-close", "Auth", []float64{1, 0, 0}, 0.8, base.Add(-1*time.Hour))
	seedEmbedded(t, st, "c-mid", "Search", []float64{0.7, 0.7, 0}, 0.8, base.Add(-2*time.Hour))
	seedEmbedded(t, st, "c-far", "Payments", []float64{0, 0, 1}, 0.8, base.Add(-3*time.Hour))

	svc, generation, _ := newTestSearch(st, []float64{1, 0, 0})
	result, err := svc.Search(context.Background(), "proj-1", "feature/auth", "query", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if result.InsufficientInfo {
		t.Fatal("Expected an answered search")
	}
	if len(result.Hits) != 3 {
		t.Fatalf("Expected 3 hits, got %d", len(result.Hits))
	}
	wantOrder := []string{"c-close", "c-mid", "c-far"}
	for i, want := range wantOrder {
		if result.Hits[i].ContextID != want {
			t.Errorf("Position %d: expected %s, got %s (score %f)", i, want, result.Hits[i].ContextID, result.Hits[i].Score)
		}
	}
	if result.Hits[0].Score <= result.Hits[1].Score {
		t.Error("Scores must be descending")
	}
	if result.Answer != "grounded answer" || !result.Grounded {
		t.Errorf("Answer not propagated: %+v", result)
	}
	if generation.calls != 1 || len(generation.passages) != 3 {
		t.Errorf("Generation must run once over the ranked passages, calls=%d passages=%d", generation.calls, len(generation.passages))
	}
}

func TestSearchTieBreaks(t *testing.T) {
	st := store.NewMemoryStore()
	base := time.Now().UTC()

	// Identical vectors: confidence decides.
	seedEmbedded(t, st, "c-low-conf", "Auth", []float64{1, 0, 0}, 0.5, base.Add(-1*time.Hour))
	seedEmbedded(t, st, "c-high-conf", "Search", []float64{1, 0, 0}, 0.9, base.Add(-3*time.Hour))
	// Same vector and confidence as c-low-conf: recency decides.
	seedEmbedded(t, st, "c-low-conf-newer", "Cache", []float64{1, 0, 0}, 0.5, base.Add(-30*time.Minute))

	svc, _, _ := newTestSearch(st, []float64{1, 0, 0})
	result, err := svc.Search(context.Background(), "proj-1", "feature/auth", "query", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	wantOrder := []string{"c-high-conf", "c-low-conf-newer", "c-low-conf"}
	for i, want := range wantOrder {
		if result.Hits[i].ContextID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, result.Hits[i].ContextID)
		}
	}
}

func TestSearchLimitsHits(t *testing.T) {
	st := store.NewMemoryStore()
	base := time.Now().UTC()
	for i := 0; i < 8; i++ {
		seedEmbedded(t, st, fmt.Sprintf("c-%d", i), fmt.Sprintf("F%d", i), []float64{1, float64(i) / 10, 0}, 0.8, base.Add(-time.Duration(i)*time.Hour))
	}

	svc, generation, _ := newTestSearch(st, []float64{1, 0, 0})
	result, err := svc.Search(context.Background(), "proj-1", "feature/auth", "query", 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.Hits) != 3 {
		t.Errorf("Expected limit of 3 hits, got %d", len(result.Hits))
	}
	if len(generation.passages) != 3 {
		t.Errorf("Generation must see only the top hits, got %d passages", len(generation.passages))
	}
}

// P10: no complete records means an explicit insufficient-information
// result, with neither embedding nor generation called.
func TestSearchInsufficientInformation(t *testing.T) {
	st := store.NewMemoryStore()

	// An uncommitted record exists but carries no embedding; it never ranks.
	la := time.Now().UTC()
	rec := &models.ContextRecord{
		ContextID:      "c-parked",
		ProjectID:      "proj-1",
		Branch:         "feature/auth",
		Author:         "alice",
		AgentReasoning: &models.AgentReasoning{Reasoning: "waiting"},
		Status:         models.StatusUncommitted,
		LoggedAt:       &la,
		CreatedAt:      la,
		UpdatedAt:      la,
	}
	if err := st.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	svc, generation, embedding := newTestSearch(st, []float64{1, 0, 0})
	result, err := svc.Search(context.Background(), "proj-1", "feature/auth", "query", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if !result.InsufficientInfo {
		t.Fatal("Expected insufficient-information result")
	}
	if result.Answer != "" || result.Grounded || len(result.Hits) != 0 {
		t.Errorf("Insufficient result must carry no answer or hits: %+v", result)
	}
	if generation.calls != 0 {
		t.Error("Generation must not run without candidates")
	}
	if embedding.calls != 0 {
		t.Error("Query embedding is pointless without candidates")
	}
}

func TestSearchExcludesStaleRecords(t *testing.T) {
	st := store.NewMemoryStore()
	base := time.Now().UTC()

	seedEmbedded(t, st, "c-live", "Auth", []float64{1, 0, 0}, 0.8, base)

	ea := base.Add(-10 * 24 * time.Hour)
	stale := &models.ContextRecord{
		ContextID:      "c-stale",
		ProjectID:      "proj-1",
		Branch:         "feature/auth",
		Author:         "alice",
		Extracted:      &models.ExtractedFields{Feature: "Old", Stage: models.StageTesting, Confidence: 0.9, ModelVersion: "v1"},
		Embedding:      []float64{1, 0, 0},
		Status:         models.StatusStale,
		EventTimestamp: ea,
		ExtractedAt:    &ea,
		CreatedAt:      ea,
		UpdatedAt:      ea,
	}
	if err := st.Insert(context.Background(), stale); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	svc, _, _ := newTestSearch(st, []float64{1, 0, 0})
	result, err := svc.Search(context.Background(), "proj-1", "feature/auth", "query", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.Hits) != 1 || result.Hits[0].ContextID != "c-live" {
		t.Errorf("Stale records must never rank, got %+v", result.Hits)
	}
}

func TestSearchIncludesInheritedRecords(t *testing.T) {
	st := store.NewMemoryStore()
	base := time.Now().UTC()

	seedRecord(t, st, "c-child", "feature/auth", "main", "Auth", base.Add(-1*time.Hour))
	seedEmbeddedOnBranch(t, st, "c-parent", "main", "Payments", []float64{1, 0, 0}, base.Add(-2*time.Hour))

	svc, _, _ := newTestSearch(st, []float64{1, 0, 0})
	result, err := svc.Search(context.Background(), "proj-1", "feature/auth", "query", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	var foundInherited bool
	for _, hit := range result.Hits {
		if hit.ContextID == "c-parent" {
			foundInherited = true
			if !hit.Inherited || hit.OriginBranch != "main" {
				t.Errorf("Parent hit must be annotated inherited from main: %+v", hit)
			}
		}
	}
	if !foundInherited {
		t.Error("Inherited records must be searchable")
	}
}

func seedEmbeddedOnBranch(t *testing.T, st store.ContextStore, contextID, branch, feature string, embedding []float64, extractedAt time.Time) {
	t.Helper()
	ea := extractedAt
	rec := &models.ContextRecord{
		ContextID:     contextID,
		ProjectID:     "proj-1",
		Branch:        branch,
		Author:        "alice",
		CommitHash:    testCommitHash,
		SourceEventID: "ev-" + contextID,
		Extracted: &models.ExtractedFields{
			Feature:      feature,
			Stage:        models.StageFeatureDevelopment,
			Confidence:   0.8,
			ModelVersion: "v1",
		},
		Embedding:      embedding,
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

func TestExcerptTruncation(t *testing.T) {
	short := "a brief summary"
	if got := excerpt(short); got != short {
		t.Errorf("Short text must pass through untouched, got %q", got)
	}

	long := strings.Repeat("x", excerptLength+50)
	got := excerpt(long)
	if len(got) > excerptLength+len("…") {
		t.Errorf("Excerpt too long: %d bytes", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("Truncated excerpt must carry the ellipsis")
	}

	// A multi-byte rune straddling the cut must not be split.
	multibyte := strings.Repeat("x", excerptLength-1) + "日本語テスト"
	got = excerpt(multibyte)
	if !utf8.ValidString(got) {
		t.Errorf("Excerpt must stay valid UTF-8, got %q", got)
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("Truncated excerpt must carry the ellipsis")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
		{"dimension mismatch", []float64{1, 0}, []float64{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
