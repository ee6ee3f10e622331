package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// EmbeddingClient implements EmbeddingPort against an OpenAI-compatible
// /embeddings endpoint. Embeddings are deterministic per text, so repeated
// texts (search queries in particular) are served from a short-lived cache.
type EmbeddingClient struct {
	registry   *ProviderRegistry
	client     *http.Client
	cache      *gocache.Cache
	dimensions int
}

// NewEmbeddingClient creates an embedding client with the deployment's
// fixed dimensionality.
func NewEmbeddingClient(registry *ProviderRegistry, dimensions int) *EmbeddingClient {
	return &EmbeddingClient{
		registry:   registry,
		client:     &http.Client{Timeout: 30 * time.Second},
		cache:      gocache.New(15*time.Minute, 30*time.Minute),
		dimensions: dimensions,
	}
}

// Dimensions returns the fixed vector dimensionality.
func (c *EmbeddingClient) Dimensions() int {
	return c.dimensions
}

// Embed returns the embedding vector for the given text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	cacheKey := hashText(text)
	if cached, found := c.cache.Get(cacheKey); found {
		return cached.([]float64), nil
	}

	provider := c.registry.Embedding()

	requestBody := map[string]interface{}{
		"model": provider.Model,
		"input": text,
	}

	reqBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", provider.BaseURL+"/embeddings", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+provider.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("⚠️ [EMBEDDING] API error: %s", string(body))
		return nil, fmt.Errorf("embedding API error (status %d)", resp.StatusCode)
	}

	var apiResponse struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}

	if len(apiResponse.Data) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}

	vector := apiResponse.Data[0].Embedding
	if len(vector) != c.dimensions {
		return nil, fmt.Errorf("embedding dimensionality %d does not match configured %d", len(vector), c.dimensions)
	}

	c.cache.Set(cacheKey, vector, gocache.DefaultExpiration)
	return vector, nil
}

func hashText(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}
