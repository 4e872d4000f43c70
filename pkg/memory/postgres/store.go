package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/parleur/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.TranscriptStore = (*TranscriptStoreImpl)(nil)
	_ memory.VocabIndex      = (*VocabIndexImpl)(nil)
)

// Store is the PostgreSQL-backed lesson memory. It holds a single
// [pgxpool.Pool] and exposes the two layers:
//
//   - [Store.Transcripts] returns a [TranscriptStoreImpl] implementing
//     [memory.TranscriptStore]
//   - [Store.Vocabulary] returns a [VocabIndexImpl] implementing
//     [memory.VocabIndex]
//
// All operations are safe for concurrent use.
type Store struct {
	pool        *pgxpool.Pool
	transcripts *TranscriptStoreImpl
	vocabulary  *VocabIndexImpl
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [memory.VocabNote.Embedding] values.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:        pool,
		transcripts: &TranscriptStoreImpl{pool: pool},
		vocabulary:  &VocabIndexImpl{pool: pool},
	}, nil
}

// Transcripts returns the transcript log implementation.
func (s *Store) Transcripts() *TranscriptStoreImpl { return s.transcripts }

// Vocabulary returns the vocabulary index implementation.
func (s *Store) Vocabulary() *VocabIndexImpl { return s.vocabulary }

// Ping verifies database connectivity. Used by health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool. Call when the
// Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
