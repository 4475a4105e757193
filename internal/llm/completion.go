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
)

const (
	defaultMaxOutputTokens = 1024
	completionTimeout      = 120 * time.Second
	anthropicVersion       = "2023-06-01"
)

// CompletionInput is one upstream chat completion call.
type CompletionInput struct {
	Model       string
	System      string
	User        string
	Temperature *float64
	MaxTokens   int
}

// CompletionResult is the parsed upstream response.
type CompletionResult struct {
	Model            string
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// CompletionClient calls an Anthropic-compatible messages endpoint.
type CompletionClient struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// NewCompletionClient creates a completion client. baseURL carries no
// path; the client appends /v1/messages.
func NewCompletionClient(baseURL, defaultModel string) *CompletionClient {
	return &CompletionClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: completionTimeout},
	}
}

type messagesRequest struct {
	Model       string            `json:"model"`
	MaxTokens   int               `json:"max_tokens"`
	System      string            `json:"system,omitempty"`
	Messages    []messagesMessage `json:"messages"`
	Temperature *float64          `json:"temperature,omitempty"`
}

type messagesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse tolerates both content shapes providers send: a plain
// string and a list of typed blocks.
type messagesResponse struct {
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Complete sends one chat completion request. apiKey is the tenant's
// provider credential. Temperature is clamped to the provider's [0, 1]
// range; a zero MaxTokens falls back to a conservative default.
func (c *CompletionClient) Complete(ctx context.Context, apiKey string, in CompletionInput) (*CompletionResult, error) {
	model := in.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}

	var temp *float64
	if in.Temperature != nil {
		t := *in.Temperature
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
		temp = &t
	}

	body, err := json.Marshal(messagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      in.System,
		Messages:    []messagesMessage{{Role: "user", Content: in.User}},
		Temperature: temp,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: send completion request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Provider: "completion", Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("llm: unmarshal completion response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("llm: completion error: %s: %s", parsed.Error.Type, parsed.Error.Message)
	}

	text, err := parseContent(parsed.Content)
	if err != nil {
		return nil, err
	}

	return &CompletionResult{
		Model:            parsed.Model,
		Text:             text,
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
	}, nil
}

// parseContent accepts either a flat string or a block list, joining the
// text blocks in order and ignoring non-text blocks.
func parseContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("llm: completion response has no content")
	}

	var flat string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("llm: unrecognized content shape: %w", err)
	}

	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}
