package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embedServer answers each batch with per-index vectors [i, i] relative to
// the overall call sequence, so tests can verify ordering across batches.
func embedServer(t *testing.T, batchSizes *[]int) *httptest.Server {
	t.Helper()
	total := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*batchSizes = append(*batchSizes, len(req.Input))

		data := make([]map[string]any, len(req.Input))
		// Return out of order to exercise index-based reassembly.
		for i := len(req.Input) - 1; i >= 0; i-- {
			data[len(req.Input)-1-i] = map[string]any{
				"index":     i,
				"embedding": []float32{float32(total + i), float32(total + i)},
			}
		}
		total += len(req.Input)

		resp := map[string]any{
			"data":  data,
			"usage": map[string]int{"prompt_tokens": len(req.Input), "total_tokens": len(req.Input)},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestEmbedAllSingleBatch(t *testing.T) {
	var batches []int
	srv := embedServer(t, &batches)
	defer srv.Close()

	c := NewEmbeddingClient(srv.URL, "text-embedding-3-small")
	texts := []string{"a", "b", "c"}

	vecs, usage, err := c.EmbedAll(context.Background(), "k", "", texts)
	require.NoError(t, err)

	require.Len(t, vecs, 3)
	assert.Equal(t, []int{3}, batches)
	assert.Equal(t, 3, usage.PromptTokens)
	for i, v := range vecs {
		assert.Equal(t, []float32{float32(i), float32(i)}, v.Slice())
	}
}

func TestEmbedAllSplitsBatches(t *testing.T) {
	var batches []int
	srv := embedServer(t, &batches)
	defer srv.Close()

	c := NewEmbeddingClient(srv.URL, "m")
	texts := make([]string, 150)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d", i)
	}

	vecs, usage, err := c.EmbedAll(context.Background(), "k", "m", texts)
	require.NoError(t, err)

	assert.Equal(t, []int{64, 64, 22}, batches)
	require.Len(t, vecs, 150)
	assert.Equal(t, 150, usage.TotalTokens)
	// Vector i must embed text i even across batch boundaries.
	assert.Equal(t, []float32{149, 149}, vecs[149].Slice())
	assert.Equal(t, []float32{64, 64}, vecs[64].Slice())
}

func TestEmbedAllEmptyInput(t *testing.T) {
	var batches []int
	srv := embedServer(t, &batches)
	defer srv.Close()

	c := NewEmbeddingClient(srv.URL, "m")
	vecs, usage, err := c.EmbedAll(context.Background(), "k", "m", nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
	assert.Zero(t, usage.TotalTokens)
	assert.Empty(t, batches, "no upstream call for empty input")
}

func TestEmbedAllCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Two inputs, one vector back.
		_, _ = w.Write([]byte(`{"data": [{"index": 0, "embedding": [1]}], "usage": {}}`))
	}))
	defer srv.Close()

	c := NewEmbeddingClient(srv.URL, "m")
	_, _, err := c.EmbedAll(context.Background(), "k", "m", []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count mismatch")
}

func TestEmbedAllDuplicateIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": [{"index": 0, "embedding": [1]}, {"index": 0, "embedding": [2]}], "usage": {}}`))
	}))
	defer srv.Close()

	c := NewEmbeddingClient(srv.URL, "m")
	_, _, err := c.EmbedAll(context.Background(), "k", "m", []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid embedding index")
}

func TestEmbedAllUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`overloaded`))
	}))
	defer srv.Close()

	c := NewEmbeddingClient(srv.URL, "m")
	_, _, err := c.EmbedAll(context.Background(), "k", "m", []string{"a"})

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusServiceUnavailable, upstream.Status)
	assert.False(t, upstream.RateLimited())
}
