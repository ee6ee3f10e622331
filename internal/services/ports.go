package services

import (
	"context"

	"flowsync/internal/models"
)

// ExtractionFacts is the raw push content handed to the extraction model.
type ExtractionFacts struct {
	Message      string
	Diff         string
	ChangedFiles []string
	Branch       string
	CommitHash   string
}

// ExtractionPort produces structured fields from push facts. Implementations
// must be deterministic for identical facts and model version: the linking
// engine validates the output but adds no nondeterminism of its own.
type ExtractionPort interface {
	Extract(ctx context.Context, facts ExtractionFacts) (*models.ExtractedFields, error)
}

// EmbeddingPort maps text to a fixed-dimension vector. Dimensionality is
// constant for the lifetime of a deployment.
type EmbeddingPort interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimensions() int
}

// Answer is the generation output for a search query: free text plus a
// groundedness signal the generation capability itself asserts.
type Answer struct {
	Text     string `json:"text"`
	Grounded bool   `json:"grounded"`
}

// GenerationPort turns a query and retrieved passages into a grounded
// answer. It is never invoked with an empty passage set.
type GenerationPort interface {
	Answer(ctx context.Context, query string, passages []string) (*Answer, error)
}
