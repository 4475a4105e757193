package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteBlockContent(t *testing.T) {
	var captured messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "claude-sonnet-4-5",
			"content": [
				{"type": "text", "text": "Hello "},
				{"type": "tool_use", "id": "x"},
				{"type": "text", "text": "world"}
			],
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	c := NewCompletionClient(srv.URL, "claude-sonnet-4-5")
	out, err := c.Complete(context.Background(), "test-key", CompletionInput{
		System:    "be brief",
		User:      "say hello",
		MaxTokens: 256,
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello world", out.Text)
	assert.Equal(t, 12, out.PromptTokens)
	assert.Equal(t, 4, out.CompletionTokens)
	assert.Equal(t, "claude-sonnet-4-5", captured.Model)
	assert.Equal(t, "be brief", captured.System)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
}

func TestCompleteFlatStringContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"model": "m", "content": "plain answer", "usage": {"input_tokens": 1, "output_tokens": 2}}`))
	}))
	defer srv.Close()

	c := NewCompletionClient(srv.URL, "m")
	out, err := c.Complete(context.Background(), "k", CompletionInput{User: "q"})
	require.NoError(t, err)
	assert.Equal(t, "plain answer", out.Text)
}

func TestCompleteTemperatureClamp(t *testing.T) {
	var captured messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"content": "ok", "usage": {}}`))
	}))
	defer srv.Close()

	c := NewCompletionClient(srv.URL, "m")

	hot := 1.8
	_, err := c.Complete(context.Background(), "k", CompletionInput{User: "q", Temperature: &hot})
	require.NoError(t, err)
	require.NotNil(t, captured.Temperature)
	assert.Equal(t, 1.0, *captured.Temperature)

	cold := -0.5
	_, err = c.Complete(context.Background(), "k", CompletionInput{User: "q", Temperature: &cold})
	require.NoError(t, err)
	require.NotNil(t, captured.Temperature)
	assert.Equal(t, 0.0, *captured.Temperature)
}

func TestCompleteDefaults(t *testing.T) {
	var captured messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"content": "ok", "usage": {}}`))
	}))
	defer srv.Close()

	c := NewCompletionClient(srv.URL, "default-model")
	_, err := c.Complete(context.Background(), "k", CompletionInput{User: "q"})
	require.NoError(t, err)

	assert.Equal(t, "default-model", captured.Model)
	assert.Equal(t, defaultMaxOutputTokens, captured.MaxTokens)
	assert.Nil(t, captured.Temperature)
}

func TestCompleteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "slow down"}}`))
	}))
	defer srv.Close()

	c := NewCompletionClient(srv.URL, "m")
	_, err := c.Complete(context.Background(), "k", CompletionInput{User: "q"})

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusTooManyRequests, upstream.Status)
	assert.True(t, upstream.RateLimited())
	assert.Contains(t, upstream.Body, "slow down")
}

func TestCompleteMalformedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content": 42, "usage": {}}`))
	}))
	defer srv.Close()

	c := NewCompletionClient(srv.URL, "m")
	_, err := c.Complete(context.Background(), "k", CompletionInput{User: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content shape")
}
