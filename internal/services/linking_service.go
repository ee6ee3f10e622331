package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"flowsync/internal/logging"
	"flowsync/internal/models"
	"flowsync/internal/store"

	"github.com/google/uuid"
)

// ErrValidation marks local, non-retryable input or extraction-schema
// failures. The triggering event is parked for inspection and never
// produces a partial record.
var ErrValidation = errors.New("validation failed")

// Push handling outcomes
const (
	PushOutcomeCreated   = "created"   // direction A: no reasoning waiting, new complete record
	PushOutcomeMerged    = "merged"    // direction B: bound to a waiting uncommitted record
	PushOutcomeDuplicate = "duplicate" // eventId already processed, no-op
)

// Reasoning handling outcomes
const (
	ReasoningOutcomeAttached    = "attached"    // direction A: enriched an existing complete record
	ReasoningOutcomeUncommitted = "uncommitted" // direction B: created a reasoning-only record
)

// A lost conditional write re-runs the lookup; the bound keeps a pathological
// interleaving from looping forever before falling through to record creation.
const maxClaimAttempts = 4

// PushResult is the outcome of handling one push event.
type PushResult struct {
	Record  *models.ContextRecord `json:"record"`
	Outcome string                `json:"outcome"`
}

// ReasoningResult is the outcome of handling one reasoning submission.
type ReasoningResult struct {
	Record *models.ContextRecord `json:"record"`
	Status string                `json:"status"` // record's resulting lifecycle status
}

// LinkingService implements the bidirectional linking protocol: a push and
// an independently submitted reasoning for the same unit of work converge
// into exactly one record regardless of arrival order. Matching is fuzzy
// (project, branch, author, ±window) and claiming is race-safe through the
// store's conditional writes; there is no lock above the store.
type LinkingService struct {
	store       store.ContextStore
	extraction  ExtractionPort
	embedding   EmbeddingPort
	pubsub      *PubSubService
	metrics     *Metrics
	matchWindow time.Duration

	now func() time.Time
}

// NewLinkingService creates a linking service. pubsub and metrics may be
// nil; both are best-effort observability.
func NewLinkingService(st store.ContextStore, extraction ExtractionPort, embedding EmbeddingPort, pubsub *PubSubService, metrics *Metrics, matchWindow time.Duration) *LinkingService {
	return &LinkingService{
		store:       st,
		extraction:  extraction,
		embedding:   embedding,
		pubsub:      pubsub,
		metrics:     metrics,
		matchWindow: matchWindow,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HandlePush processes one push event. Idempotent on the event id:
// re-delivery returns the already-linked record as a no-op.
func (s *LinkingService) HandlePush(ctx context.Context, event *models.PushEvent) (*PushResult, error) {
	started := s.now()

	if err := event.Validate(); err != nil {
		s.countPush("failed")
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Idempotency: one record per sourceEventId, ever.
	if existing, err := s.store.FindBySourceEventID(ctx, event.EventID); err == nil {
		log.Printf("🔁 [LINKING] Push %s already processed (context %s), skipping", event.EventID, existing.ContextID)
		s.countPush(PushOutcomeDuplicate)
		return &PushResult{Record: existing, Outcome: PushOutcomeDuplicate}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check event idempotency: %w", err)
	}

	// Both port calls happen before any store write: a port failure leaves
	// no partial state, and retries by the caller are safe.
	fields, err := s.extraction.Extract(ctx, ExtractionFacts{
		Message:      event.Message,
		Diff:         event.Diff,
		ChangedFiles: event.ChangedFiles,
		Branch:       event.Branch,
		CommitHash:   event.CommitHash,
	})
	if err != nil {
		s.countPush("failed")
		return nil, fmt.Errorf("extraction port failed: %w", err)
	}

	if err := fields.Validate(); err != nil {
		s.parkFailedEvent(ctx, event, err)
		s.countPush("failed")
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	embedding, err := s.embedding.Embed(ctx, fields.Summary())
	if err != nil {
		s.countPush("failed")
		return nil, fmt.Errorf("embedding port failed: %w", err)
	}

	upd := store.CompletionUpdate{
		CommitHash:     event.CommitHash,
		SourceEventID:  event.EventID,
		ParentBranch:   event.ParentBranch,
		Extracted:      fields,
		Embedding:      embedding,
		EventTimestamp: event.Timestamp,
		ExtractedAt:    s.now(),
	}

	// Direction B: a reasoning-only record may be waiting for this push.
	// Claim the closest candidate; on a lost race, look again.
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		candidates, err := s.store.FindClaimableUncommitted(ctx, event.ProjectID, event.Branch, event.Author, event.Timestamp, s.matchWindow)
		if err != nil {
			return nil, fmt.Errorf("failed to look up claimable records: %w", err)
		}

		candidate := closestByLoggedAt(candidates, event.Timestamp)
		if candidate == nil {
			break
		}

		upd.ExtractedAt = s.now()
		upd.ProcessingDurationMs = s.now().Sub(started).Milliseconds()
		rec, err := s.store.CompleteUncommitted(ctx, candidate.ContextID, upd)
		if err != nil {
			if errors.Is(err, store.ErrClaimConflict) {
				s.countConflict()
				continue
			}
			if errors.Is(err, store.ErrDuplicateEvent) {
				return s.resolveDuplicate(ctx, event.EventID)
			}
			return nil, fmt.Errorf("failed to promote uncommitted record: %w", err)
		}

		logging.WithEvent(logging.WithRecord(rec.ContextID, rec.ProjectID, rec.Branch), event.EventID, event.CommitHash).
			Info("push bound to waiting reasoning", "direction", "log-first")
		s.countPush(PushOutcomeMerged)
		s.observeLinkLatency(started)
		s.notify(ctx, "record_promoted", rec)
		return &PushResult{Record: rec, Outcome: PushOutcomeMerged}, nil
	}

	// Direction A: nothing waiting, create the record complete.
	now := s.now()
	extractedAt := now
	rec := &models.ContextRecord{
		ContextID:            uuid.New().String(),
		ProjectID:            event.ProjectID,
		Branch:               event.Branch,
		Author:               event.Author,
		ParentBranch:         event.ParentBranch,
		CommitHash:           event.CommitHash,
		SourceEventID:        event.EventID,
		Extracted:            fields,
		Embedding:            embedding,
		Status:               models.StatusComplete,
		EventTimestamp:       event.Timestamp,
		ExtractedAt:          &extractedAt,
		ProcessingDurationMs: now.Sub(started).Milliseconds(),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			return s.resolveDuplicate(ctx, event.EventID)
		}
		return nil, fmt.Errorf("failed to insert context record: %w", err)
	}

	logging.WithEvent(logging.WithRecord(rec.ContextID, rec.ProjectID, rec.Branch), event.EventID, event.CommitHash).
		Info("context record created from push", "feature", fields.Feature, "stage", fields.Stage)
	s.countPush(PushOutcomeCreated)
	s.observeLinkLatency(started)
	s.notify(ctx, "record_created", rec)
	return &PushResult{Record: rec, Outcome: PushOutcomeCreated}, nil
}

// HandleReasoning processes one reasoning submission: attach to a matching
// complete record, or create an uncommitted record awaiting its push.
func (s *LinkingService) HandleReasoning(ctx context.Context, sub *models.ReasoningSubmission) (*ReasoningResult, error) {
	if err := sub.Validate(); err != nil {
		s.countReasoning("failed")
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Direction A: a complete record from a recent push may be awaiting
	// reasoning. Attach to the closest one; on a lost race, look again.
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		candidates, err := s.store.FindAwaitingReasoning(ctx, sub.ProjectID, sub.Branch, sub.Author, sub.SubmittedAt, s.matchWindow)
		if err != nil {
			return nil, fmt.Errorf("failed to look up records awaiting reasoning: %w", err)
		}

		candidate := closestByEventTimestamp(candidates, sub.SubmittedAt)
		if candidate == nil {
			break
		}

		rec, err := s.store.AttachReasoning(ctx, candidate.ContextID, sub.Bundle(), sub.SubmittedAt)
		if err != nil {
			if errors.Is(err, store.ErrClaimConflict) {
				s.countConflict()
				continue
			}
			return nil, fmt.Errorf("failed to attach reasoning: %w", err)
		}

		logging.WithRecord(rec.ContextID, rec.ProjectID, rec.Branch).Info("reasoning attached to push record",
			"direction", "push-first")
		s.countReasoning(ReasoningOutcomeAttached)
		s.notify(ctx, "reasoning_attached", rec)
		return &ReasoningResult{Record: rec, Status: models.StatusComplete}, nil
	}

	// Direction B: no push yet, park the reasoning as an uncommitted
	// record. No embedding: search ranks extraction content only, so the
	// vector is generated at promotion time.
	now := s.now()
	loggedAt := sub.SubmittedAt
	rec := &models.ContextRecord{
		ContextID:      uuid.New().String(),
		ProjectID:      sub.ProjectID,
		Branch:         sub.Branch,
		Author:         sub.Author,
		AgentReasoning: sub.Bundle(),
		Status:         models.StatusUncommitted,
		LoggedAt:       &loggedAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to insert uncommitted record: %w", err)
	}

	logging.WithRecord(rec.ContextID, rec.ProjectID, rec.Branch).Info("reasoning parked awaiting push")
	s.countReasoning(ReasoningOutcomeUncommitted)
	s.notify(ctx, "record_created", rec)
	return &ReasoningResult{Record: rec, Status: models.StatusUncommitted}, nil
}

// parkFailedEvent records a push whose extraction output failed schema
// validation. Best-effort: the validation error is what propagates.
func (s *LinkingService) parkFailedEvent(ctx context.Context, event *models.PushEvent, cause error) {
	fe := &models.FailedEvent{
		EventID:   event.EventID,
		ProjectID: event.ProjectID,
		Branch:    event.Branch,
		Author:    event.Author,
		Reason:    cause.Error(),
		FailedAt:  s.now(),
	}
	if err := s.store.InsertFailedEvent(ctx, fe); err != nil {
		log.Printf("⚠️ [LINKING] Failed to park failed event %s: %v", event.EventID, err)
	} else {
		log.Printf("❌ [LINKING] Extraction output rejected for event %s: %v", event.EventID, cause)
	}
}

// resolveDuplicate handles the race where another worker processed the
// same event between our idempotency check and our write.
func (s *LinkingService) resolveDuplicate(ctx context.Context, eventID string) (*PushResult, error) {
	existing, err := s.store.FindBySourceEventID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("event %s already processed but record not found: %w", eventID, err)
	}
	s.countPush(PushOutcomeDuplicate)
	return &PushResult{Record: existing, Outcome: PushOutcomeDuplicate}, nil
}

func (s *LinkingService) notify(ctx context.Context, msgType string, rec *models.ContextRecord) {
	if s.pubsub == nil {
		return
	}
	s.pubsub.Publish(ctx, ChannelContextLinked, &PubSubMessage{
		Type:      msgType,
		ProjectID: rec.ProjectID,
		Branch:    rec.Branch,
		ContextID: rec.ContextID,
	})
}

func (s *LinkingService) countPush(outcome string) {
	if s.metrics != nil {
		s.metrics.PushEvents.WithLabelValues(outcome).Inc()
	}
}

func (s *LinkingService) countReasoning(outcome string) {
	if s.metrics != nil {
		s.metrics.ReasoningSubmissions.WithLabelValues(outcome).Inc()
	}
}

func (s *LinkingService) countConflict() {
	if s.metrics != nil {
		s.metrics.ClaimConflicts.Inc()
	}
}

func (s *LinkingService) observeLinkLatency(started time.Time) {
	if s.metrics != nil {
		s.metrics.LinkLatency.Observe(s.now().Sub(started).Seconds())
	}
}

// closestByLoggedAt picks the candidate whose loggedAt is nearest the
// anchor (the tie-break when several uncommitted records fall in the window).
func closestByLoggedAt(records []models.ContextRecord, anchor time.Time) *models.ContextRecord {
	var best *models.ContextRecord
	var bestDelta time.Duration
	for i := range records {
		if records[i].LoggedAt == nil {
			continue
		}
		delta := absDuration(records[i].LoggedAt.Sub(anchor))
		if best == nil || delta < bestDelta {
			best = &records[i]
			bestDelta = delta
		}
	}
	return best
}

// closestByEventTimestamp picks the candidate whose push timestamp is
// nearest the anchor.
func closestByEventTimestamp(records []models.ContextRecord, anchor time.Time) *models.ContextRecord {
	var best *models.ContextRecord
	var bestDelta time.Duration
	for i := range records {
		delta := absDuration(records[i].EventTimestamp.Sub(anchor))
		if best == nil || delta < bestDelta {
			best = &records[i]
			bestDelta = delta
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
