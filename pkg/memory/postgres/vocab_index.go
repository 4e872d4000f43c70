package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/parleur/pkg/memory"
)

// VocabIndexImpl is the vocabulary index backed by a PostgreSQL vocab_notes
// table with a pgvector HNSW index for fast approximate nearest-neighbour
// search.
//
// Obtain one via [Store.Vocabulary] rather than constructing directly.
// All methods are safe for concurrent use.
type VocabIndexImpl struct {
	pool *pgxpool.Pool
}

// IndexNote implements [memory.VocabIndex]. A note with an existing ID is
// completely replaced.
func (s *VocabIndexImpl) IndexNote(ctx context.Context, note memory.VocabNote) error {
	const q = `
		INSERT INTO vocab_notes
		    (id, session_id, term, translation, note, language, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    session_id  = EXCLUDED.session_id,
		    term        = EXCLUDED.term,
		    translation = EXCLUDED.translation,
		    note        = EXCLUDED.note,
		    language    = EXCLUDED.language,
		    embedding   = EXCLUDED.embedding,
		    created_at  = EXCLUDED.created_at`

	vec := pgvector.NewVector(note.Embedding)
	_, err := s.pool.Exec(ctx, q,
		note.ID,
		note.SessionID,
		note.Term,
		note.Translation,
		note.Note,
		note.Language,
		vec,
		note.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("vocab index: index note: %w", err)
	}
	return nil
}

// Search implements [memory.VocabIndex]. Results are ordered by ascending
// cosine distance (most similar first).
func (s *VocabIndexImpl) Search(ctx context.Context, embedding []float32, topK int, filter memory.NoteFilter) ([]memory.NoteResult, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(filter.SessionID))
	}
	if filter.Language != "" {
		conditions = append(conditions, "language = "+next(filter.Language))
	}
	if !filter.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(filter.After))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, session_id, term, translation, note, language, embedding, created_at,
		       embedding <=> $1 AS distance
		FROM   vocab_notes
		%s
		ORDER  BY distance
		LIMIT  %s`, whereClause, limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vocab index: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.NoteResult, error) {
		var (
			nr  memory.NoteResult
			vec pgvector.Vector
		)
		if err := row.Scan(
			&nr.Note.ID,
			&nr.Note.SessionID,
			&nr.Note.Term,
			&nr.Note.Translation,
			&nr.Note.Note,
			&nr.Note.Language,
			&vec,
			&nr.Note.CreatedAt,
			&nr.Distance,
		); err != nil {
			return memory.NoteResult{}, err
		}
		nr.Note.Embedding = vec.Slice()
		return nr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vocab index: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.NoteResult{}
	}
	return results, nil
}

// Terms implements [memory.VocabIndex]. Distinct terms are returned most
// recent first.
func (s *VocabIndexImpl) Terms(ctx context.Context, language string, limit int) ([]string, error) {
	q := `
		SELECT term
		FROM   vocab_notes
		WHERE  ($1 = '' OR language = $1)
		GROUP  BY term
		ORDER  BY max(created_at) DESC`

	args := []any{language}
	if limit > 0 {
		args = append(args, limit)
		q += "\nLIMIT $2"
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vocab index: terms: %w", err)
	}

	terms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var t string
		err := row.Scan(&t)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("vocab index: scan rows: %w", err)
	}
	if terms == nil {
		terms = []string{}
	}
	return terms, nil
}
