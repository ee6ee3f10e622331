package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const generationSystemPrompt = `You are the answer generator for FlowSync, a development-context search system. Answer the user's question using ONLY the provided context passages.

RULES:
- Base the answer strictly on the passages; never invent details
- Cite which passage(s) support the answer by their number
- Set "grounded" to true ONLY if the answer is attributable to at least one passage
- If the passages do not answer the question, say so plainly and set "grounded" to false

Return JSON matching the schema.`

var generationSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"text": map[string]interface{}{
			"type":        "string",
			"description": "The answer text",
		},
		"grounded": map[string]interface{}{
			"type":        "boolean",
			"description": "True only if the answer is attributable to at least one passage",
		},
	},
	"required":             []string{"text", "grounded"},
	"additionalProperties": false,
}

// GenerationClient implements GenerationPort against an OpenAI-compatible
// chat-completions endpoint. It reuses the extraction client's HTTP shape.
type GenerationClient struct {
	registry *ProviderRegistry
	inner    *ExtractionClient
}

// NewGenerationClient creates a generation client over the given providers.
func NewGenerationClient(registry *ProviderRegistry) *GenerationClient {
	return &GenerationClient{
		registry: registry,
		inner: &ExtractionClient{
			registry: registry,
			client:   &http.Client{Timeout: 60 * time.Second},
		},
	}
}

// Answer produces a grounded answer for the query over the passages.
func (c *GenerationClient) Answer(ctx context.Context, query string, passages []string) (*Answer, error) {
	if len(passages) == 0 {
		return nil, fmt.Errorf("generation requires at least one passage")
	}

	provider := c.registry.Generation()

	var sb strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, p)
	}

	userPrompt := fmt.Sprintf("CONTEXT PASSAGES:\n%sQUESTION: %s\n\nAnswer using only the passages. Return JSON.", sb.String(), query)

	requestBody := map[string]interface{}{
		"model": provider.Model,
		"messages": []map[string]interface{}{
			{"role": "system", "content": generationSystemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"stream":      false,
		"temperature": 0.2,
		"response_format": map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   "grounded_answer",
				"strict": true,
				"schema": generationSchema,
			},
		},
	}

	content, err := c.inner.chatCompletion(ctx, provider.BaseURL, provider.APIKey, requestBody)
	if err != nil {
		return nil, err
	}

	var answer Answer
	if err := json.Unmarshal([]byte(content), &answer); err != nil {
		log.Printf("⚠️ [GENERATION] Failed to parse answer: %v (response length: %d bytes)", err, len(content))
		return nil, fmt.Errorf("failed to parse generated answer: %w", err)
	}

	return &answer, nil
}
