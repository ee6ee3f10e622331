package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"flowsync/internal/models"
	"flowsync/internal/store"
)

// DefaultResolveLimit bounds the per-branch history fetch when the caller
// does not ask for more.
const DefaultResolveLimit = 10

// ResolvedRecord is a context record annotated with where resolution found
// it: the asked-about branch itself, a branch merged into it, or its parent.
type ResolvedRecord struct {
	models.ContextRecord

	// OriginBranch is the branch the record was written on.
	OriginBranch string `json:"origin_branch"`

	// Inherited is true when the record came from the parent branch rather
	// than the branch asked about (or a branch merged into it).
	Inherited bool `json:"inherited"`
}

// ResolveResult is the effective context set for a branch.
type ResolveResult struct {
	Branch       string           `json:"branch"`
	ParentBranch string           `json:"parent_branch,omitempty"`
	Records      []ResolvedRecord `json:"records"`

	// InheritedNote explains that some results originate from a branch
	// other than the one asked about. Empty when nothing was inherited.
	InheritedNote string `json:"inherited_note,omitempty"`
}

// BranchResolverService answers "what does this branch know": native
// records, records merged into the branch, and one level of parent-branch
// inheritance. Read-only over the store, safe under arbitrary concurrency.
type BranchResolverService struct {
	store   store.ContextStore
	pubsub  *PubSubService
	metrics *Metrics
}

// NewBranchResolverService creates a branch resolver. pubsub may be nil;
// merge notifications are best-effort.
func NewBranchResolverService(st store.ContextStore, pubsub *PubSubService, metrics *Metrics) *BranchResolverService {
	return &BranchResolverService{store: st, pubsub: pubsub, metrics: metrics}
}

// Resolve assembles the effective context set for a branch, newest first.
// limit <= 0 fetches unbounded history (the search path does this).
// Records carry parentBranch from creation time, so inheritance is exactly
// one level deep here; deeper ancestry is the caller's loop over each
// parent's own Resolve.
func (s *BranchResolverService) Resolve(ctx context.Context, projectID, branch string, limit int64, includeStale bool) (*ResolveResult, error) {
	if s.metrics != nil {
		s.metrics.ResolveRequests.Inc()
	}

	native, err := s.store.ListBranch(ctx, projectID, branch, includeStale, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list branch records: %w", err)
	}

	result := &ResolveResult{Branch: branch}
	for _, rec := range native {
		result.Records = append(result.Records, ResolvedRecord{
			ContextRecord: rec,
			OriginBranch:  rec.Branch,
			Inherited:     false,
		})
	}

	// The branch's parent is whatever the most recent native record
	// captured at creation time; there is no live branch tree.
	parent := parentBranchOf(native, branch)
	if parent != "" {
		result.ParentBranch = parent

		inherited, err := s.store.ListBranch(ctx, projectID, parent, includeStale, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list parent branch records: %w", err)
		}
		for _, rec := range inherited {
			result.Records = append(result.Records, ResolvedRecord{
				ContextRecord: rec,
				OriginBranch:  rec.Branch,
				Inherited:     true,
			})
		}
		if len(inherited) > 0 {
			result.InheritedNote = fmt.Sprintf("includes %d records inherited from parent branch %q", len(inherited), parent)
		}
	}

	return result, nil
}

// FeatureState collapses a resolved set into one record per feature name:
// the combined "current feature state" view. A branch-native record with a
// later extractedAt supersedes an inherited one for the same feature.
func (s *BranchResolverService) FeatureState(result *ResolveResult) map[string]ResolvedRecord {
	state := make(map[string]ResolvedRecord)
	for _, rec := range result.Records {
		if rec.Extracted == nil {
			continue
		}
		feature := rec.Extracted.Feature
		current, exists := state[feature]
		if !exists || supersedes(rec, current) {
			state[feature] = rec
		}
	}
	return state
}

// supersedes decides whether a wins over b in the combined view: native
// beats inherited; within the same origin class, later extraction wins.
func supersedes(a, b ResolvedRecord) bool {
	if a.Inherited != b.Inherited {
		return !a.Inherited
	}
	if a.ExtractedAt == nil {
		return false
	}
	if b.ExtractedAt == nil {
		return true
	}
	return a.ExtractedAt.After(*b.ExtractedAt)
}

// OnBranchMerged tags every untagged record of the source branch with the
// merge target. Afterwards Resolve(target) treats them as native; they
// remain retrievable under their original branch for traceability.
func (s *BranchResolverService) OnBranchMerged(ctx context.Context, projectID, sourceBranch, targetBranch string, mergedAt time.Time) (int64, error) {
	tagged, err := s.store.MarkMerged(ctx, projectID, sourceBranch, targetBranch, mergedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to tag merge of %s into %s: %w", sourceBranch, targetBranch, err)
	}

	log.Printf("🔀 [RESOLVER] Tagged %d records of %s as merged into %s", tagged, sourceBranch, targetBranch)

	if tagged > 0 && s.pubsub != nil {
		s.pubsub.Publish(ctx, ChannelBranchMerged, mergeMessage(projectID, sourceBranch, targetBranch, tagged))
	}
	return tagged, nil
}

// mergeMessage builds the fan-out envelope for a branch merge.
func mergeMessage(projectID, sourceBranch, targetBranch string, tagged int64) *PubSubMessage {
	return &PubSubMessage{
		Type:      "branch_merged",
		ProjectID: projectID,
		Branch:    sourceBranch,
		Payload: map[string]interface{}{
			"target_branch":  targetBranch,
			"tagged_records": tagged,
		},
	}
}

// parentBranchOf extracts the parent recorded on the most recent native
// record, skipping records that arrived via a merge from elsewhere.
func parentBranchOf(records []models.ContextRecord, branch string) string {
	for _, rec := range records {
		if rec.Branch != branch {
			continue
		}
		if rec.ParentBranch != "" && rec.ParentBranch != branch {
			return rec.ParentBranch
		}
	}
	return ""
}
