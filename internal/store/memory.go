package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"flowsync/internal/models"
)

// MemoryStore is an in-process ContextStore with the same conditional-write
// semantics as the Mongo implementation. It backs the service tests and
// single-node deployments without a database.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.ContextRecord // contextId -> record
	byEvent map[string]string                // sourceEventId -> contextId
	failed  []models.FailedEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.ContextRecord),
		byEvent: make(map[string]string),
	}
}

func (s *MemoryStore) Insert(_ context.Context, rec *models.ContextRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.SourceEventID != "" {
		if _, exists := s.byEvent[rec.SourceEventID]; exists {
			return ErrDuplicateEvent
		}
	}

	clone := cloneRecord(rec)
	s.records[rec.ContextID] = clone
	if rec.SourceEventID != "" {
		s.byEvent[rec.SourceEventID] = rec.ContextID
	}
	return nil
}

func (s *MemoryStore) FindByContextID(_ context.Context, projectID, contextID string) (*models.ContextRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[contextID]
	if !ok || rec.ProjectID != projectID {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) FindBySourceEventID(_ context.Context, eventID string) (*models.ContextRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contextID, ok := s.byEvent[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(s.records[contextID]), nil
}

func (s *MemoryStore) FindClaimableUncommitted(_ context.Context, projectID, branch, author string, around time.Time, window time.Duration) ([]models.ContextRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ContextRecord
	for _, rec := range s.records {
		if rec.ProjectID != projectID || rec.Branch != branch || rec.Author != author {
			continue
		}
		if rec.Status != models.StatusUncommitted || rec.LoggedAt == nil {
			continue
		}
		if inWindow(*rec.LoggedAt, around, window) {
			out = append(out, *cloneRecord(rec))
		}
	}
	return out, nil
}

func (s *MemoryStore) CompleteUncommitted(_ context.Context, contextID string, upd CompletionUpdate) (*models.ContextRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[contextID]
	if !ok || rec.Status != models.StatusUncommitted {
		return nil, ErrClaimConflict
	}
	if upd.SourceEventID != "" {
		if _, exists := s.byEvent[upd.SourceEventID]; exists {
			return nil, ErrDuplicateEvent
		}
	}

	now := time.Now().UTC()
	rec.Status = models.StatusComplete
	rec.CommitHash = upd.CommitHash
	rec.SourceEventID = upd.SourceEventID
	rec.Extracted = upd.Extracted
	rec.Embedding = upd.Embedding
	rec.EventTimestamp = upd.EventTimestamp
	extractedAt := upd.ExtractedAt
	rec.ExtractedAt = &extractedAt
	rec.ProcessingDurationMs = upd.ProcessingDurationMs
	if upd.ParentBranch != "" {
		rec.ParentBranch = upd.ParentBranch
	}
	rec.UpdatedAt = now

	if upd.SourceEventID != "" {
		s.byEvent[upd.SourceEventID] = contextID
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) FindAwaitingReasoning(_ context.Context, projectID, branch, author string, around time.Time, window time.Duration) ([]models.ContextRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ContextRecord
	for _, rec := range s.records {
		if rec.ProjectID != projectID || rec.Branch != branch || rec.Author != author {
			continue
		}
		if rec.Status != models.StatusComplete || rec.AgentReasoning != nil {
			continue
		}
		if inWindow(rec.EventTimestamp, around, window) {
			out = append(out, *cloneRecord(rec))
		}
	}
	return out, nil
}

func (s *MemoryStore) AttachReasoning(_ context.Context, contextID string, bundle *models.AgentReasoning, at time.Time) (*models.ContextRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[contextID]
	if !ok || rec.AgentReasoning != nil {
		return nil, ErrClaimConflict
	}

	b := *bundle
	rec.AgentReasoning = &b
	loggedAt := at
	rec.LoggedAt = &loggedAt
	rec.UpdatedAt = time.Now().UTC()
	return cloneRecord(rec), nil
}

func (s *MemoryStore) ListBranch(_ context.Context, projectID, branch string, includeStale bool, limit int64) ([]models.ContextRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ContextRecord
	for _, rec := range s.records {
		if rec.ProjectID != projectID {
			continue
		}
		if rec.Branch != branch && rec.MergedInto != branch {
			continue
		}
		if !includeStale && rec.Status == models.StatusStale {
			continue
		}
		out = append(out, *cloneRecord(rec))
	}

	// extractedAt descending; records without one (uncommitted) sort last
	// by loggedAt descending.
	sort.Slice(out, func(i, j int) bool {
		return recordSortKey(&out[i]).After(recordSortKey(&out[j]))
	})

	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkMerged(_ context.Context, projectID, sourceBranch, targetBranch string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tagged int64
	for _, rec := range s.records {
		if rec.ProjectID != projectID || rec.Branch != sourceBranch || rec.MergedInto != "" {
			continue
		}
		rec.MergedInto = targetBranch
		mergedAt := at
		rec.MergedAt = &mergedAt
		rec.UpdatedAt = time.Now().UTC()
		tagged++
	}
	return tagged, nil
}

func (s *MemoryStore) MarkStale(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flipped int64
	for _, rec := range s.records {
		if rec.Status != models.StatusUncommitted || rec.LoggedAt == nil {
			continue
		}
		if rec.LoggedAt.Before(olderThan) {
			rec.Status = models.StatusStale
			rec.UpdatedAt = time.Now().UTC()
			flipped++
		}
	}
	return flipped, nil
}

func (s *MemoryStore) InsertFailedEvent(_ context.Context, fe *models.FailedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, *fe)
	return nil
}

func (s *MemoryStore) ListFailedEvents(_ context.Context, projectID string, limit int64) ([]models.FailedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.FailedEvent
	for i := len(s.failed) - 1; i >= 0; i-- {
		if s.failed[i].ProjectID == projectID {
			out = append(out, s.failed[i])
			if limit > 0 && int64(len(out)) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context, projectID string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64)
	for _, rec := range s.records {
		if rec.ProjectID == projectID {
			counts[rec.Status]++
		}
	}
	return counts, nil
}

func inWindow(t, around time.Time, window time.Duration) bool {
	d := t.Sub(around)
	if d < 0 {
		d = -d
	}
	return d <= window
}

func recordSortKey(rec *models.ContextRecord) time.Time {
	if rec.ExtractedAt != nil {
		return *rec.ExtractedAt
	}
	if rec.LoggedAt != nil {
		// Push far into the past so reasoning-only records list after
		// every extracted record, matching the Mongo sort.
		return rec.LoggedAt.AddDate(-1000, 0, 0)
	}
	return time.Time{}
}

func cloneRecord(rec *models.ContextRecord) *models.ContextRecord {
	clone := *rec
	if rec.Extracted != nil {
		e := *rec.Extracted
		e.Tasks = append([]string(nil), rec.Extracted.Tasks...)
		e.Entities = append([]string(nil), rec.Extracted.Entities...)
		clone.Extracted = &e
	}
	if rec.AgentReasoning != nil {
		a := *rec.AgentReasoning
		a.Tasks = append([]string(nil), rec.AgentReasoning.Tasks...)
		clone.AgentReasoning = &a
	}
	clone.Embedding = append([]float64(nil), rec.Embedding...)
	if rec.ExtractedAt != nil {
		t := *rec.ExtractedAt
		clone.ExtractedAt = &t
	}
	if rec.LoggedAt != nil {
		t := *rec.LoggedAt
		clone.LoggedAt = &t
	}
	if rec.MergedAt != nil {
		t := *rec.MergedAt
		clone.MergedAt = &t
	}
	return &clone
}
