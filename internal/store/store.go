// Package store defines the durable storage contract the linking and
// resolution algorithms depend on: keyed reads, the two secondary access
// patterns, and conditional writes that make record claiming race-safe.
package store

import (
	"context"
	"errors"
	"time"

	"flowsync/internal/models"
)

var (
	// ErrNotFound is returned when no record matches the lookup key.
	ErrNotFound = errors.New("context record not found")

	// ErrDuplicateEvent is returned by Insert when a record already holds
	// the same sourceEventId. Callers treat this as an idempotent no-op.
	ErrDuplicateEvent = errors.New("push event already processed")

	// ErrClaimConflict is returned by a conditional update whose
	// claimability predicate no longer holds: another operation won the
	// race. Callers re-run their lookup rather than surfacing this.
	ErrClaimConflict = errors.New("record was claimed concurrently")
)

// CompletionUpdate carries everything a push binds onto an uncommitted
// record when promoting it to complete. Derived fields and commitHash are
// immutable once written, so this is applied at most once per record.
type CompletionUpdate struct {
	CommitHash           string
	SourceEventID        string
	ParentBranch         string
	Extracted            *models.ExtractedFields
	Embedding            []float64
	EventTimestamp       time.Time
	ExtractedAt          time.Time
	ProcessingDurationMs int64
}

// ContextStore is the persistence boundary for context records.
//
// All conditional methods (CompleteUncommitted, AttachReasoning) enforce
// their claimability predicate atomically at the store and report
// ErrClaimConflict when it no longer holds; there is no lock above them.
type ContextStore interface {
	// Insert persists a new record. Returns ErrDuplicateEvent if another
	// record already carries the same non-empty SourceEventID.
	Insert(ctx context.Context, rec *models.ContextRecord) error

	FindByContextID(ctx context.Context, projectID, contextID string) (*models.ContextRecord, error)
	FindBySourceEventID(ctx context.Context, eventID string) (*models.ContextRecord, error)

	// FindClaimableUncommitted returns uncommitted records for the scoping
	// key whose loggedAt lies within the window around the given instant,
	// for direction-B promotion. Order is unspecified; the caller picks
	// the closest candidate.
	FindClaimableUncommitted(ctx context.Context, projectID, branch, author string, around time.Time, window time.Duration) ([]models.ContextRecord, error)

	// CompleteUncommitted promotes an uncommitted record to complete,
	// conditional on it still being uncommitted.
	CompleteUncommitted(ctx context.Context, contextID string, upd CompletionUpdate) (*models.ContextRecord, error)

	// FindAwaitingReasoning returns complete records for the scoping key
	// with no agent reasoning yet whose push timestamp lies within the
	// window around the given instant, for direction-A enrichment.
	FindAwaitingReasoning(ctx context.Context, projectID, branch, author string, around time.Time, window time.Duration) ([]models.ContextRecord, error)

	// AttachReasoning attaches the reasoning bundle, conditional on the
	// record not having one yet.
	AttachReasoning(ctx context.Context, contextID string, bundle *models.AgentReasoning, at time.Time) (*models.ContextRecord, error)

	// ListBranch returns records native to the branch or merged into it,
	// ordered by extractedAt descending (uncommitted records, which have
	// no extractedAt, sort last by loggedAt descending). limit <= 0 means
	// unbounded.
	ListBranch(ctx context.Context, projectID, branch string, includeStale bool, limit int64) ([]models.ContextRecord, error)

	// MarkMerged tags every untagged record of sourceBranch with the merge
	// target. Returns the number of records tagged.
	MarkMerged(ctx context.Context, projectID, sourceBranch, targetBranch string, at time.Time) (int64, error)

	// MarkStale flips uncommitted records logged before the cutoff to
	// stale. Idempotent. Returns the number flipped.
	MarkStale(ctx context.Context, olderThan time.Time) (int64, error)

	InsertFailedEvent(ctx context.Context, fe *models.FailedEvent) error
	ListFailedEvents(ctx context.Context, projectID string, limit int64) ([]models.FailedEvent, error)

	// CountByStatus returns record counts per lifecycle status for a project.
	CountByStatus(ctx context.Context, projectID string) (map[string]int64, error)
}
