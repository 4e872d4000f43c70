// Package postgres provides a PostgreSQL-backed implementation of the lesson
// memory (transcript log + vocabulary vector index).
//
// Both layers share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 768)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Transcripts().WriteEntry(ctx, sessionID, entry)
//	_ = store.Vocabulary().IndexNote(ctx, note)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Transcript entries use the 'simple' text search configuration rather than a
// per-language one: sessions mix English and French, and stemming with the
// wrong language dictionary hurts more than not stemming at all.
const ddlTranscriptEntries = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    speaker     TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    language    TEXT         NOT NULL DEFAULT '',
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_session_timestamp
    ON transcript_entries (session_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_transcript_entries_fts
    ON transcript_entries USING GIN (to_tsvector('simple', text));
`

// ddlVocabNotes returns the vocabulary DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlVocabNotes(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS vocab_notes (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    term        TEXT         NOT NULL,
    translation TEXT         NOT NULL DEFAULT '',
    note        TEXT         NOT NULL DEFAULT '',
    language    TEXT         NOT NULL DEFAULT '',
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_vocab_notes_session_id
    ON vocab_notes (session_id);

CREATE INDEX IF NOT EXISTS idx_vocab_notes_language
    ON vocab_notes (language);

CREATE INDEX IF NOT EXISTS idx_vocab_notes_embedding
    ON vocab_notes USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every application start.
//
// embeddingDimensions must match the embedding model configured for the
// deployment (e.g. 768 for nomic-embed-text, 1536 for text-embedding-3-small).
// Changing it after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlTranscriptEntries,
		ddlVocabNotes(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
