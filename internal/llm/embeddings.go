package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

const (
	// MaxEmbedBatch is the largest input slice sent in one upstream call.
	// Larger text sets are split into sequential batches.
	MaxEmbedBatch = 64

	embeddingTimeout = 60 * time.Second
)

// EmbeddingUsage accumulates token counts across batches.
type EmbeddingUsage struct {
	PromptTokens int
	TotalTokens  int
}

// EmbeddingClient calls an OpenAI-compatible embeddings endpoint.
type EmbeddingClient struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// NewEmbeddingClient creates an embedding client. baseURL carries no
// path; the client appends /v1/embeddings.
func NewEmbeddingClient(baseURL, defaultModel string) *EmbeddingClient {
	return &EmbeddingClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: embeddingTimeout},
	}
}

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// EmbedAll embeds every text, batching upstream calls at MaxEmbedBatch
// inputs each. The result is index-aligned with texts: vector i embeds
// text i. A batch whose response vector count does not match its input
// count fails the whole call; partial results are never returned.
func (c *EmbeddingClient) EmbedAll(ctx context.Context, apiKey, model string, texts []string) ([]pgvector.Vector, EmbeddingUsage, error) {
	if model == "" {
		model = c.defaultModel
	}

	vecs := make([]pgvector.Vector, 0, len(texts))
	var usage EmbeddingUsage

	for start := 0; start < len(texts); start += MaxEmbedBatch {
		end := start + MaxEmbedBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		batchVecs, batchUsage, err := c.embedBatch(ctx, apiKey, model, batch)
		if err != nil {
			return nil, EmbeddingUsage{}, err
		}
		vecs = append(vecs, batchVecs...)
		usage.PromptTokens += batchUsage.PromptTokens
		usage.TotalTokens += batchUsage.TotalTokens
	}

	if len(vecs) != len(texts) {
		return nil, EmbeddingUsage{}, fmt.Errorf("llm: embedding count mismatch: got %d vectors for %d inputs", len(vecs), len(texts))
	}
	return vecs, usage, nil
}

func (c *EmbeddingClient) embedBatch(ctx context.Context, apiKey, model string, texts []string) ([]pgvector.Vector, EmbeddingUsage, error) {
	body, err := json.Marshal(embeddingsRequest{Input: texts, Model: model})
	if err != nil {
		return nil, EmbeddingUsage{}, fmt.Errorf("llm: marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, EmbeddingUsage{}, fmt.Errorf("llm: create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, EmbeddingUsage{}, fmt.Errorf("llm: send embedding request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, EmbeddingUsage{}, fmt.Errorf("llm: read embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, EmbeddingUsage{}, &UpstreamError{Provider: "embedding", Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, EmbeddingUsage{}, fmt.Errorf("llm: unmarshal embedding response: %w", err)
	}
	if parsed.Error != nil {
		return nil, EmbeddingUsage{}, fmt.Errorf("llm: embedding error: %s: %s", parsed.Error.Type, parsed.Error.Message)
	}
	if len(parsed.Data) != len(texts) {
		return nil, EmbeddingUsage{}, fmt.Errorf("llm: embedding count mismatch: got %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	// Reorder by index; providers may return data out of order.
	vecs := make([]pgvector.Vector, len(texts))
	seen := make([]bool, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) || seen[d.Index] {
			return nil, EmbeddingUsage{}, fmt.Errorf("llm: invalid embedding index %d", d.Index)
		}
		seen[d.Index] = true
		vecs[d.Index] = pgvector.NewVector(d.Embedding)
	}

	return vecs, EmbeddingUsage{
		PromptTokens: parsed.Usage.PromptTokens,
		TotalTokens:  parsed.Usage.TotalTokens,
	}, nil
}
