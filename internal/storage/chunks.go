package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/strataops/strata/internal/model"
)

// ReplaceSourceChunks deletes a source's existing chunks and inserts the
// new set in one transaction. A crash between delete and insert rolls both
// back, so the source is never half-replaced.
func (db *DB) ReplaceSourceChunks(ctx context.Context, companyID uuid.UUID, sourceTable, sourceID string, chunks []model.DocumentChunk) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin replace chunks: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM document_chunks
		 WHERE company_id = $1 AND source_table = $2 AND source_id = $3`,
		companyID, sourceTable, sourceID,
	); err != nil {
		return fmt.Errorf("storage: delete source chunks: %w", err)
	}

	if err := insertChunks(ctx, tx, chunks); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpsertChunks inserts chunks without removing existing rows, overwriting
// on index collision. Used when the caller opts out of wholesale replace.
func (db *DB) UpsertChunks(ctx context.Context, chunks []model.DocumentChunk) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin upsert chunks: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertChunks(ctx, tx, chunks); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertChunks(ctx context.Context, tx pgx.Tx, chunks []model.DocumentChunk) error {
	now := time.Now().UTC()
	for _, c := range chunks {
		embeddedAt := c.EmbeddedAt
		if embeddedAt.IsZero() {
			embeddedAt = now
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO document_chunks (company_id, source_table, source_id, source_version,
			 chunk_index, content, token_count, metadata, embedding, embedding_model, embedded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (company_id, source_table, source_id, chunk_index)
			 DO UPDATE SET source_version = $4, content = $6, token_count = $7,
			 metadata = $8, embedding = $9, embedding_model = $10, embedded_at = $11`,
			c.CompanyID, c.SourceTable, c.SourceID, c.SourceVersion,
			c.ChunkIndex, c.Content, c.TokenCount, c.Metadata, c.Embedding,
			c.EmbeddingModel, embeddedAt,
		); err != nil {
			return fmt.Errorf("storage: insert chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return nil
}

// DeleteSourceChunks removes all chunks for one source. Returns the number
// of rows removed.
func (db *DB) DeleteSourceChunks(ctx context.Context, companyID uuid.UUID, sourceTable, sourceID string) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM document_chunks
		 WHERE company_id = $1 AND source_table = $2 AND source_id = $3`,
		companyID, sourceTable, sourceID,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: delete source chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountSourceChunks returns the chunk count for one source.
func (db *DB) CountSourceChunks(ctx context.Context, companyID uuid.UUID, sourceTable, sourceID string) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM document_chunks
		 WHERE company_id = $1 AND source_table = $2 AND source_id = $3`,
		companyID, sourceTable, sourceID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count source chunks: %w", err)
	}
	return n, nil
}
