package models

import (
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var commitHashPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// PushEvent carries the facts of a single developer push as delivered by
// the ingestion transport. EventID is client-generated and unique; the
// linking engine is idempotent on it.
type PushEvent struct {
	EventID      string    `json:"event_id"`
	ProjectID    string    `json:"project_id"`
	Branch       string    `json:"branch"`
	ParentBranch string    `json:"parent_branch,omitempty"`
	Author       string    `json:"author"`
	CommitHash   string    `json:"commit_hash"`
	Timestamp    time.Time `json:"timestamp"`

	// Raw content forwarded to the extraction model.
	Message      string   `json:"message"`
	Diff         string   `json:"diff,omitempty"`
	ChangedFiles []string `json:"changed_files,omitempty"`
}

// Validate enforces the ingestion contract before any matching runs.
func (e *PushEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("push event missing event_id")
	}
	if e.ProjectID == "" {
		return fmt.Errorf("push event missing project_id")
	}
	if e.Branch == "" {
		return fmt.Errorf("push event missing branch")
	}
	if e.Author == "" {
		return fmt.Errorf("push event missing author")
	}
	if !commitHashPattern.MatchString(e.CommitHash) {
		return fmt.Errorf("commit hash %q is not a 40-char hex string", e.CommitHash)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("push event missing timestamp")
	}
	return nil
}

// ReasoningSubmission is an agent- or human-authored explanation for a
// unit of work, submitted independently of the push it describes.
type ReasoningSubmission struct {
	ProjectID   string    `json:"project_id"`
	Branch      string    `json:"branch"`
	Author      string    `json:"author"`
	Reasoning   string    `json:"reasoning"`
	Decision    string    `json:"decision,omitempty"`
	Tasks       []string  `json:"tasks,omitempty"`
	Risk        string    `json:"risk,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Validate enforces the submission contract.
func (s *ReasoningSubmission) Validate() error {
	if s.ProjectID == "" {
		return fmt.Errorf("reasoning submission missing project_id")
	}
	if s.Branch == "" {
		return fmt.Errorf("reasoning submission missing branch")
	}
	if s.Author == "" {
		return fmt.Errorf("reasoning submission missing author")
	}
	if s.Reasoning == "" {
		return fmt.Errorf("reasoning submission missing reasoning text")
	}
	if s.SubmittedAt.IsZero() {
		return fmt.Errorf("reasoning submission missing submitted_at")
	}
	return nil
}

// Bundle converts the submission into the reasoning sub-object stored on a
// record.
func (s *ReasoningSubmission) Bundle() *AgentReasoning {
	return &AgentReasoning{
		Reasoning: s.Reasoning,
		Decision:  s.Decision,
		Tasks:     s.Tasks,
		Risk:      s.Risk,
	}
}

// FailedEvent is a push whose extraction output failed schema validation.
// The push is parked here for inspection instead of producing a partial
// record; a TTL index expires entries after the retention window.
type FailedEvent struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EventID   string             `bson:"eventId" json:"event_id"`
	ProjectID string             `bson:"projectId" json:"project_id"`
	Branch    string             `bson:"branch" json:"branch"`
	Author    string             `bson:"author" json:"author"`
	Reason    string             `bson:"reason" json:"reason"`
	FailedAt  time.Time          `bson:"failedAt" json:"failed_at"`
}
