package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"flowsync/internal/models"
)

// Extraction system prompt
const extractionSystemPrompt = `You are a code-context extraction system for FlowSync. Analyze a developer push (commit message, diff, changed files) and extract structured project intelligence.

WHAT TO EXTRACT:
1. **Feature**: The feature or area of the codebase this push works on (short name)
2. **Decision**: Any technical decision evident from the change (or omit)
3. **Tasks**: Concrete work items this push completes or advances
4. **Stage**: The development stage of this push
5. **Risk**: Any risk the change introduces (or omit)
6. **Confidence**: How confident you are in this extraction (0.0-1.0)
7. **Entities**: Code entities touched (packages, types, functions, files)

RULES:
- Base every field strictly on the supplied push facts
- Be concise; feature and tasks are short phrases, not sentences
- Do not invent decisions or risks that are not evident from the change

STAGES:
- "setup": Project scaffolding, dependencies, configuration
- "feature_development": New functionality
- "refactoring": Restructuring without behavior change
- "bug_fix": Fixing defects
- "testing": Test additions or changes
- "documentation": Docs, comments, READMEs

Return JSON matching the schema.`

// extractionSchema defines structured output for push extraction
var extractionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"feature": map[string]interface{}{
			"type":        "string",
			"description": "Feature or codebase area this push works on",
		},
		"decision": map[string]interface{}{
			"type":        "string",
			"description": "Technical decision evident from the change, empty if none",
		},
		"tasks": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
		"stage": map[string]interface{}{
			"type": "string",
			"enum": []string{
				models.StageSetup,
				models.StageFeatureDevelopment,
				models.StageRefactoring,
				models.StageBugFix,
				models.StageTesting,
				models.StageDocumentation,
			},
		},
		"risk": map[string]interface{}{
			"type":        "string",
			"description": "Risk the change introduces, empty if none",
		},
		"confidence": map[string]interface{}{
			"type": "number",
		},
		"entities": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
	},
	"required":             []string{"feature", "stage", "confidence"},
	"additionalProperties": false,
}

// Diffs beyond this are truncated before being sent to the model.
const maxDiffBytes = 32 * 1024

// ExtractionClient implements ExtractionPort against an OpenAI-compatible
// chat-completions endpoint with structured output. Temperature is pinned
// to 0 so identical facts and model version yield identical fields.
type ExtractionClient struct {
	registry *ProviderRegistry
	client   *http.Client
}

// NewExtractionClient creates an extraction client over the given providers.
func NewExtractionClient(registry *ProviderRegistry) *ExtractionClient {
	return &ExtractionClient{
		registry: registry,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Extract calls the extraction model over the push facts.
func (c *ExtractionClient) Extract(ctx context.Context, facts ExtractionFacts) (*models.ExtractedFields, error) {
	provider := c.registry.Extraction()

	diff := facts.Diff
	if len(diff) > maxDiffBytes {
		diff = diff[:maxDiffBytes] + "\n... (diff truncated)"
	}

	userPrompt := fmt.Sprintf(`BRANCH: %s
COMMIT: %s
MESSAGE: %s
CHANGED FILES:
%s

DIFF:
%s

Extract the structured context for this push. Return JSON.`,
		facts.Branch, facts.CommitHash, facts.Message,
		strings.Join(facts.ChangedFiles, "\n"), diff)

	requestBody := map[string]interface{}{
		"model": provider.Model,
		"messages": []map[string]interface{}{
			{"role": "system", "content": extractionSystemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"stream":      false,
		"temperature": 0, // determinism: identical facts must extract identically
		"response_format": map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   "push_extraction",
				"strict": true,
				"schema": extractionSchema,
			},
		},
	}

	content, err := c.chatCompletion(ctx, provider.BaseURL, provider.APIKey, requestBody)
	if err != nil {
		return nil, err
	}

	var fields models.ExtractedFields
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		log.Printf("⚠️ [EXTRACTION] Failed to parse extraction output: %v (response length: %d bytes)", err, len(content))
		return nil, fmt.Errorf("failed to parse extraction output: %w", err)
	}

	fields.ModelVersion = provider.Model
	return &fields, nil
}

func (c *ExtractionClient) chatCompletion(ctx context.Context, baseURL, apiKey string, requestBody map[string]interface{}) (string, error) {
	reqBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("⚠️ [EXTRACTION] API error: %s", string(body))
		return "", fmt.Errorf("API error (status %d)", resp.StatusCode)
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to parse API response: %w", err)
	}

	if len(apiResponse.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}

	return apiResponse.Choices[0].Message.Content, nil
}
