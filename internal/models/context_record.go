package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ContextRecord ties a push's automated code extraction to optional
// agent-authored reasoning for the same unit of work. It is the central
// entity of the linking protocol: exactly one record exists per processed
// push, and a record that started life as reasoning-only is promoted in
// place when its push arrives.
type ContextRecord struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ContextID string             `bson:"contextId" json:"context_id"`

	// Scoping keys
	ProjectID    string `bson:"projectId" json:"project_id"`
	Branch       string `bson:"branch" json:"branch"`
	Author       string `bson:"author" json:"author"`
	ParentBranch string `bson:"parentBranch,omitempty" json:"parent_branch,omitempty"`

	// Linkage to the triggering push (empty until a push binds this record)
	CommitHash    string `bson:"commitHash,omitempty" json:"commit_hash,omitempty"`
	SourceEventID string `bson:"sourceEventId,omitempty" json:"source_event_id,omitempty"`

	// Derived fields produced by the extraction model from push facts.
	// Never overwritten once set; never populated for uncommitted records.
	Extracted *ExtractedFields `bson:"extracted,omitempty" json:"extracted,omitempty"`

	// Agent-authored reasoning, retained side by side with the derived
	// fields. Never removed once attached.
	AgentReasoning *AgentReasoning `bson:"agentReasoning,omitempty" json:"agent_reasoning,omitempty"`

	// Embedding over the canonical summary of the derived fields. Present
	// only on complete records; dimensionality is constant per deployment.
	Embedding []float64 `bson:"embedding,omitempty" json:"-"`

	Status string `bson:"status" json:"status"`

	// EventTimestamp is the push event's own timestamp, used as the anchor
	// for the reasoning time-window match. Zero for uncommitted records.
	EventTimestamp       time.Time  `bson:"eventTimestamp,omitempty" json:"event_timestamp,omitempty"`
	ExtractedAt          *time.Time `bson:"extractedAt,omitempty" json:"extracted_at,omitempty"`
	LoggedAt             *time.Time `bson:"loggedAt,omitempty" json:"logged_at,omitempty"`
	ProcessingDurationMs int64      `bson:"processingDurationMs,omitempty" json:"processing_duration_ms,omitempty"`

	// Merge bookkeeping: set once the owning branch is merged. Resolution
	// treats mergedInto == target as equivalent to nativity on the target.
	MergedInto string     `bson:"mergedInto,omitempty" json:"merged_into,omitempty"`
	MergedAt   *time.Time `bson:"mergedAt,omitempty" json:"merged_at,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// ExtractedFields is the structured output of the extraction model over
// push facts (message, diff, changed files).
type ExtractedFields struct {
	Feature      string   `bson:"feature" json:"feature"`
	Decision     string   `bson:"decision,omitempty" json:"decision,omitempty"`
	Tasks        []string `bson:"tasks,omitempty" json:"tasks,omitempty"`
	Stage        string   `bson:"stage" json:"stage"`
	Risk         string   `bson:"risk,omitempty" json:"risk,omitempty"`
	Confidence   float64  `bson:"confidence" json:"confidence"`
	Entities     []string `bson:"entities,omitempty" json:"entities,omitempty"`
	ModelVersion string   `bson:"modelVersion" json:"model_version"`
}

// AgentReasoning is the agent-authored half of a record. Distinct from the
// extracted fields and never merged into them.
type AgentReasoning struct {
	Reasoning string   `bson:"reasoning" json:"reasoning"`
	Decision  string   `bson:"decision,omitempty" json:"decision,omitempty"`
	Tasks     []string `bson:"tasks,omitempty" json:"tasks,omitempty"`
	Risk      string   `bson:"risk,omitempty" json:"risk,omitempty"`
}

// Record status constants
const (
	StatusComplete    = "complete"
	StatusUncommitted = "uncommitted"
	StatusStale       = "stale"
)

// Development stage constants
const (
	StageSetup              = "setup"
	StageFeatureDevelopment = "feature_development"
	StageRefactoring        = "refactoring"
	StageBugFix             = "bug_fix"
	StageTesting            = "testing"
	StageDocumentation      = "documentation"
)

var validStages = map[string]bool{
	StageSetup:              true,
	StageFeatureDevelopment: true,
	StageRefactoring:        true,
	StageBugFix:             true,
	StageTesting:            true,
	StageDocumentation:      true,
}

// ValidStage reports whether s is one of the known development stages.
func ValidStage(s string) bool {
	return validStages[s]
}

// Validate checks the extraction output against the schema the linking
// engine requires before it will persist derived fields.
func (f *ExtractedFields) Validate() error {
	if f == nil {
		return fmt.Errorf("extraction output is empty")
	}
	if f.Feature == "" {
		return fmt.Errorf("extraction output missing feature")
	}
	if !ValidStage(f.Stage) {
		return fmt.Errorf("extraction output has unknown stage %q", f.Stage)
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return fmt.Errorf("extraction confidence %.3f outside [0,1]", f.Confidence)
	}
	if f.ModelVersion == "" {
		return fmt.Errorf("extraction output missing model version")
	}
	return nil
}

// Summary renders the canonical textual summary of the derived fields.
// This is the exact text the embedding is computed over, so it must be
// deterministic for identical fields.
func (f *ExtractedFields) Summary() string {
	s := "Feature: " + f.Feature + "\nStage: " + f.Stage
	if f.Decision != "" {
		s += "\nDecision: " + f.Decision
	}
	if len(f.Tasks) > 0 {
		s += "\nTasks:"
		for _, t := range f.Tasks {
			s += "\n- " + t
		}
	}
	if f.Risk != "" {
		s += "\nRisk: " + f.Risk
	}
	if len(f.Entities) > 0 {
		s += "\nEntities:"
		for _, e := range f.Entities {
			s += " " + e
		}
	}
	return s
}

// IsClaimable reports whether a push may still bind this record
// (direction B promotion).
func (r *ContextRecord) IsClaimable() bool {
	return r.Status == StatusUncommitted
}
