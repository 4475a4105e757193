package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// DocumentChunk is one vectorized window of a source document.
// Uniqueness: (company_id, source_table, source_id, chunk_index).
// Re-ingestion replaces a source's chunks wholesale unless the caller
// opts into incremental mode.
type DocumentChunk struct {
	CompanyID      uuid.UUID       `json:"company_id"`
	SourceTable    string          `json:"source_table"`
	SourceID       string          `json:"source_id"`
	SourceVersion  *string         `json:"source_version,omitempty"`
	ChunkIndex     int             `json:"chunk_index"`
	Content        string          `json:"content"`
	TokenCount     int             `json:"token_count"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	Embedding      pgvector.Vector `json:"-"`
	EmbeddingModel string          `json:"embedding_model"`
	EmbeddedAt     time.Time       `json:"embedded_at"`
}
