// Package llm holds the outbound clients for AI providers: chat
// completions and text embeddings. Both authenticate with per-tenant keys
// resolved from the vault, never from process environment.
package llm

import (
	"fmt"
	"net/http"
)

// UpstreamError is a non-2xx response from a provider. The transport
// layer maps it onto the API error taxonomy; Status 429 stays a 429 for
// the caller, everything else becomes a bad-gateway.
type UpstreamError struct {
	Provider string
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llm: %s returned status %d", e.Provider, e.Status)
}

// RateLimited reports whether the provider throttled the request.
func (e *UpstreamError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}
