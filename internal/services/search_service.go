package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"
	"unicode/utf8"
)

// DefaultSearchLimit bounds the ranked result set when the caller does not
// ask for more.
const DefaultSearchLimit = 5

const excerptLength = 240

// SearchHit is one ranked result: the record reference, its similarity
// score and a short excerpt of its extraction summary.
type SearchHit struct {
	ContextID    string  `json:"context_id"`
	OriginBranch string  `json:"origin_branch"`
	Inherited    bool    `json:"inherited"`
	Feature      string  `json:"feature"`
	Score        float64 `json:"score"`
	Excerpt      string  `json:"excerpt"`
}

// SearchResult is the full answer to a semantic query.
type SearchResult struct {
	Query    string      `json:"query"`
	Hits     []SearchHit `json:"hits"`
	Answer   string      `json:"answer"`
	Grounded bool        `json:"grounded"`

	// InsufficientInfo is true when no complete records were available to
	// rank: no generation ran and no answer was fabricated.
	InsufficientInfo bool `json:"insufficient_info"`
}

// SearchService ranks a branch's resolved context by similarity to a query
// and produces a grounded answer over the top results.
type SearchService struct {
	resolver   *BranchResolverService
	embedding  EmbeddingPort
	generation GenerationPort
	metrics    *Metrics

	now func() time.Time
}

// NewSearchService creates a search service.
func NewSearchService(resolver *BranchResolverService, embedding EmbeddingPort, generation GenerationPort, metrics *Metrics) *SearchService {
	return &SearchService{
		resolver:   resolver,
		embedding:  embedding,
		generation: generation,
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Search resolves the branch's context (unbounded, complete records only),
// ranks by cosine similarity, and answers over the top hits. An empty
// candidate set short-circuits to an explicit insufficient-information
// result with no generation call.
func (s *SearchService) Search(ctx context.Context, projectID, branch, query string, limit int) (*SearchResult, error) {
	started := s.now()
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	resolved, err := s.resolver.Resolve(ctx, projectID, branch, 0, false)
	if err != nil {
		s.countSearch("failed")
		return nil, err
	}

	// Only complete records carry an embedding; uncommitted and stale
	// records never rank.
	var candidates []ResolvedRecord
	for _, rec := range resolved.Records {
		if rec.Extracted != nil && len(rec.Embedding) > 0 {
			candidates = append(candidates, rec)
		}
	}

	if len(candidates) == 0 {
		log.Printf("🔍 [SEARCH] No rankable context for %s/%s, returning insufficient-information", projectID, branch)
		s.countSearch("insufficient")
		return &SearchResult{
			Query:            query,
			InsufficientInfo: true,
		}, nil
	}

	queryVector, err := s.embedding.Embed(ctx, query)
	if err != nil {
		s.countSearch("failed")
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	ranked := rankBySimilarity(candidates, queryVector)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	hits := make([]SearchHit, 0, len(ranked))
	passages := make([]string, 0, len(ranked))
	for _, rc := range ranked {
		summary := rc.record.Extracted.Summary()
		hits = append(hits, SearchHit{
			ContextID:    rc.record.ContextID,
			OriginBranch: rc.record.OriginBranch,
			Inherited:    rc.record.Inherited,
			Feature:      rc.record.Extracted.Feature,
			Score:        rc.score,
			Excerpt:      excerpt(summary),
		})
		passages = append(passages, summary)
	}

	answer, err := s.generation.Answer(ctx, query, passages)
	if err != nil {
		s.countSearch("failed")
		return nil, fmt.Errorf("generation port failed: %w", err)
	}

	if s.metrics != nil {
		s.metrics.SearchLatency.Observe(s.now().Sub(started).Seconds())
	}
	s.countSearch("answered")

	return &SearchResult{
		Query:    query,
		Hits:     hits,
		Answer:   answer.Text,
		Grounded: answer.Grounded,
	}, nil
}

func (s *SearchService) countSearch(outcome string) {
	if s.metrics != nil {
		s.metrics.SearchRequests.WithLabelValues(outcome).Inc()
	}
}

type scoredRecord struct {
	record ResolvedRecord
	score  float64
}

// rankBySimilarity sorts candidates by cosine similarity descending, with
// extraction confidence and then recency as tie-breaks.
func rankBySimilarity(candidates []ResolvedRecord, queryVector []float64) []scoredRecord {
	scored := make([]scoredRecord, 0, len(candidates))
	for _, rec := range candidates {
		scored = append(scored, scoredRecord{
			record: rec,
			score:  CosineSimilarity(rec.Embedding, queryVector),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return ranksAbove(scored[i], scored[j])
	})
	return scored
}

func ranksAbove(a, b scoredRecord) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.record.Extracted.Confidence != b.record.Extracted.Confidence {
		return a.record.Extracted.Confidence > b.record.Extracted.Confidence
	}
	if a.record.ExtractedAt == nil || b.record.ExtractedAt == nil {
		return a.record.ExtractedAt != nil
	}
	return a.record.ExtractedAt.After(*b.record.ExtractedAt)
}

// CosineSimilarity computes dot(a,b) / (|a|*|b|), defined as 0 when either
// vector has zero magnitude or the dimensions disagree.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func excerpt(s string) string {
	if len(s) <= excerptLength {
		return s
	}
	// Back off to a rune boundary so the cut never splits a multi-byte rune.
	cut := excerptLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
